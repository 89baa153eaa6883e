package streams

import (
	"context"

	"go.uber.org/zap"

	"github.com/streamkit/nicesync/pkg/incontact"
	"github.com/streamkit/nicesync/pkg/logger"
	"github.com/streamkit/nicesync/pkg/metrics"
	"github.com/streamkit/nicesync/pkg/transform"
)

// extractWindowed issues one request per date window, stamping the
// window bounds onto every record. Windows that come back 204 are
// skipped; streams flagged FollowNextLink chase the server-issued
// next links until a window is exhausted.
func extractWindowed(ctx context.Context, session Session, def Definition, opts ExtractOptions, deliver sink) error {
	for _, win := range incontact.DateRange(opts.Start, opts.End, opts.Period) {
		if err := extractWindow(ctx, session, def, win, deliver); err != nil {
			return err
		}
		metrics.WindowsProcessed.WithLabelValues(def.ID).Inc()
	}
	return nil
}

func extractWindow(ctx context.Context, session Session, def Definition, win incontact.Window, deliver sink) error {
	data, err := session.Get(ctx, def.Path, incontact.WithParams(map[string]string{
		"startDate": win.StartString(),
		"endDate":   win.EndString(),
	}))
	if err != nil {
		return err
	}

	for {
		if data == nil {
			logger.Debug("window returned no content",
				zap.String("stream", def.ID),
				zap.String("window_start", win.StartString()))
			return nil
		}

		if total, ok := data["totalRecords"].(float64); ok {
			logger.Info("API call returned records",
				zap.String("stream", def.ID),
				zap.Int("total_records", int(total)))
		}

		for _, rec := range recordsFromPayload(data, def.DataKey) {
			if def.TransformDurations {
				rec = transform.ISO8601Durations(rec)
			}
			stampWindow(rec, def, win)
			if err := deliver(rec); err != nil {
				return err
			}
		}

		if !def.FollowNextLink {
			return nil
		}
		next := nextLink(data)
		if next == "" {
			return nil
		}

		data, err = session.Get(ctx, next, incontact.WithPagination())
		if err != nil {
			return err
		}
	}
}

func nextLink(data map[string]interface{}) string {
	links, ok := data["_links"].(map[string]interface{})
	if !ok {
		return ""
	}
	next, _ := links["next"].(string)
	return next
}
