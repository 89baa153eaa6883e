package streams

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/streamkit/nicesync/pkg/incontact"
	"github.com/streamkit/nicesync/pkg/logger"
)

// extractIncremental pages through the endpoint with an offset cursor,
// ordered ascending by the replication key. Extraction stops on a 204
// or an empty page.
func extractIncremental(ctx context.Context, session Session, def Definition, opts ExtractOptions, deliver sink) error {
	start := opts.Start
	if def.LookbackDays > 0 {
		clamped := incontact.CheckStartDate(start, def.LookbackDays)
		if !clamped.Equal(start) {
			logger.Info("clamping start to the lookback limit",
				zap.String("stream", def.ID),
				zap.Int("lookback_days", def.LookbackDays),
				zap.Time("requested", start),
				zap.Time("clamped", clamped))
			start = clamped
		}
	}

	skip := 0
	for {
		params := map[string]string{
			"updatedSince": incontact.FormatTimestamp(start),
			"orderBy":      def.ReplicationKey + " asc",
			"skip":         strconv.Itoa(skip),
		}

		data, err := session.Get(ctx, def.Path, incontact.WithParams(params))
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}

		page := recordsFromPayload(data, def.DataKey)
		if len(page) == 0 {
			return nil
		}

		for _, rec := range page {
			if err := deliver(rec); err != nil {
				return err
			}
		}
		skip += len(page)
	}
}
