package streams

import (
	"context"

	"go.uber.org/zap"

	"github.com/streamkit/nicesync/pkg/errors"
	"github.com/streamkit/nicesync/pkg/incontact"
	"github.com/streamkit/nicesync/pkg/logger"
	"github.com/streamkit/nicesync/pkg/metrics"
)

// extractExportJob runs one export job per window. A window that fails
// with an abandonable error stops the remaining windows for this run
// without surfacing an error: records from earlier windows stand, and
// the next run picks up from the advanced watermark.
func extractExportJob(ctx context.Context, session Session, def Definition, opts ExtractOptions, deliver sink) error {
	for _, win := range incontact.DateRange(opts.Start, opts.End, opts.Period) {
		records, err := session.RunExportJob(ctx, def.Entity, def.EntityVersion, win)
		if err != nil {
			if errors.AbandonsWindow(err) {
				metrics.WindowsAbandoned.WithLabelValues(def.ID, string(errors.GetType(err))).Inc()
				logger.Info("abandoning export window and the rest of the range",
					zap.String("stream", def.ID),
					zap.String("window_start", win.StartString()),
					zap.String("window_end", win.EndString()),
					zap.Error(err))
				return nil
			}
			return err
		}

		for _, rec := range records {
			stampWindow(rec, def, win)
			if err := deliver(rec); err != nil {
				return err
			}
		}
		metrics.WindowsProcessed.WithLabelValues(def.ID).Inc()
	}
	return nil
}
