// Package pipeline orchestrates a sync run: for each selected stream it
// drives the extractor, shapes and validates records, filters them
// against the stream's watermark, emits the message sequence, and
// advances bookmarks.
//
// # Flow
//
// Streams run strictly sequentially in registry order. Per stream:
//  1. Mark the stream as currently syncing and flush state.
//  2. Emit the schema message.
//  3. Resolve the starting watermark (bookmark, falling back to the
//     configured start date).
//  4. Consume the extractor's record stream: coerce types where the
//     stream asks for it, project to schema-declared fields, drop
//     records older than the run-start watermark, emit the rest, and
//     track the maximum replication value seen.
//  5. Write the maximum back as the new bookmark and flush state.
//
// Full-table streams skip the watermark logic. After the last stream
// the currently-syncing marker is cleared and a final state message
// flushed.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/streamkit/nicesync/pkg/config"
	"github.com/streamkit/nicesync/pkg/emit"
	"github.com/streamkit/nicesync/pkg/errors"
	"github.com/streamkit/nicesync/pkg/incontact"
	"github.com/streamkit/nicesync/pkg/logger"
	"github.com/streamkit/nicesync/pkg/metrics"
	"github.com/streamkit/nicesync/pkg/observability"
	"github.com/streamkit/nicesync/pkg/schema"
	"github.com/streamkit/nicesync/pkg/state"
	"github.com/streamkit/nicesync/pkg/streams"
	"github.com/streamkit/nicesync/pkg/transform"
)

// EngineConfig wires an Engine's collaborators.
type EngineConfig struct {
	Config  *config.Config
	Session streams.Session
	Emitter *emit.Emitter
	State   *state.State

	// StatePath, when set, persists state to disk at every checkpoint
	// in addition to the emitted state messages.
	StatePath string
}

// Engine runs a complete one-pass sync over the selected streams.
type Engine struct {
	cfg       *config.Config
	session   streams.Session
	emitter   *emit.Emitter
	state     *state.State
	statePath string

	now     func() time.Time
	monitor *metrics.RuntimeMonitor
}

// NewEngine creates a sync engine. The configuration must already be
// validated.
func NewEngine(ec EngineConfig) *Engine {
	return &Engine{
		cfg:       ec.Config,
		session:   ec.Session,
		emitter:   ec.Emitter,
		state:     ec.State,
		statePath: ec.StatePath,
		now:       time.Now,
		monitor:   metrics.NewRuntimeMonitor(),
	}
}

type streamResult struct {
	id      string
	records int64
}

// Run syncs every selected stream once. The first fatal error aborts
// the run; window abandonment inside an extractor is not fatal and the
// run proceeds to the next stream.
func (e *Engine) Run(ctx context.Context) error {
	runStart := e.now()

	selected, err := e.selectStreams()
	if err != nil {
		return err
	}

	logger.Info("starting sync run",
		zap.Int("streams", len(selected)),
		zap.String("start_date", e.cfg.StartDate))

	results := make([]streamResult, 0, len(selected))
	for _, def := range selected {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "sync run cancelled")
		}

		count, err := e.syncStream(ctx, def)
		if err != nil {
			logger.Error("stream sync failed",
				zap.String("stream", def.ID),
				zap.Error(err))
			return err
		}
		results = append(results, streamResult{id: def.ID, records: count})
	}

	e.state.SetCurrentlySyncing("")
	if err := e.checkpoint(); err != nil {
		return err
	}

	e.logSummary(runStart, results)
	return nil
}

// selectStreams validates the configured selection and returns the
// matching definitions in registry order. An empty selection means
// every stream.
func (e *Engine) selectStreams() ([]streams.Definition, error) {
	for _, id := range e.cfg.Streams {
		if _, ok := streams.Lookup(id); !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown stream %q in selection", id)
		}
	}

	var selected []streams.Definition
	for _, def := range streams.All() {
		if e.cfg.SelectedStreams(def.ID) {
			selected = append(selected, def)
		}
	}
	return selected, nil
}

func (e *Engine) syncStream(ctx context.Context, def streams.Definition) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := observability.NewSpan(ctx, "sync_stream")
	defer span.End()
	span.SetAttribute("stream", def.ID)

	timer := metrics.NewTimer(def.ID)
	defer func() {
		metrics.StreamSyncDuration.WithLabelValues(def.ID).Observe(timer.Stop().Seconds())
	}()

	logger.Info("syncing stream", zap.String("stream", def.ID))

	e.state.SetCurrentlySyncing(def.ID)
	if err := e.checkpoint(); err != nil {
		return 0, err
	}

	s, err := schema.Load(def.ID)
	if err != nil {
		return 0, err
	}
	if err := e.emitter.WriteSchema(def.ID, s, def.KeyProperties, def.ReplicationKey); err != nil {
		return 0, err
	}

	var watermark time.Time
	if !def.FullTable() {
		raw := e.state.GetBookmark(def.ID, def.ReplicationKey, e.cfg.StartDate)
		watermark, err = parseTimestamp(raw)
		if err != nil {
			return 0, errors.Wrapf(err, errors.ErrorTypeState,
				"stream %s has an unparseable watermark %q", def.ID, raw)
		}
	}

	period, err := streams.ResolvePeriod(def, e.cfg.Period(def.ID, ""))
	if err != nil {
		return 0, err
	}

	stream := streams.Extract(ctx, e.session, def, streams.ExtractOptions{
		Start:  watermark,
		End:    e.now().UTC(),
		Period: period,
	})

	var count int64
	maxSeen := watermark

	for rec := range stream.Records {
		metrics.RecordsExtracted.WithLabelValues(def.ID).Inc()

		if def.ConvertTypes {
			rec, err = transform.ConvertDataTypes(rec, s)
			if err != nil {
				span.RecordError(err)
				return count, err
			}
		}
		rec = projectToSchema(rec, s)

		if !def.FullTable() {
			value, err := replicationValue(rec, def.ReplicationKey)
			if err != nil {
				logger.Warn("skipping record without a usable replication value",
					zap.String("stream", def.ID),
					zap.Error(err))
				metrics.RecordsFiltered.WithLabelValues(def.ID).Inc()
				continue
			}
			if value.Before(watermark) {
				metrics.RecordsFiltered.WithLabelValues(def.ID).Inc()
				continue
			}
			if value.After(maxSeen) {
				maxSeen = value
			}
		}

		if err := e.emitter.WriteRecord(def.ID, rec); err != nil {
			return count, err
		}
		metrics.RecordsEmitted.WithLabelValues(def.ID).Inc()
		count++
	}
	if err := <-stream.Errors; err != nil {
		span.RecordError(err)
		return count, err
	}

	if !def.FullTable() && maxSeen.After(watermark) {
		e.state.WriteBookmark(def.ID, def.ReplicationKey, incontact.FormatTimestamp(maxSeen))
	}
	if err := e.checkpoint(); err != nil {
		return count, err
	}

	span.SetAttribute("records", count)
	logger.Info("stream synced",
		zap.String("stream", def.ID),
		zap.Int64("records", count))
	return count, nil
}

// checkpoint persists state when a path is configured and always emits
// a state message.
func (e *Engine) checkpoint() error {
	if e.statePath != "" {
		if err := e.state.Save(e.statePath); err != nil {
			return err
		}
	}
	return e.emitter.WriteState(e.state)
}

func (e *Engine) logSummary(runStart time.Time, results []streamResult) {
	var total int64
	for _, r := range results {
		total += r.records
		logger.Info("stream totals",
			zap.String("stream", r.id),
			zap.Int64("records", r.records))
	}

	snap := e.monitor.Snapshot()
	logger.Info("sync run finished",
		zap.Int("streams", len(results)),
		zap.Int64("records", total),
		zap.Duration("duration", e.now().Sub(runStart)),
		zap.Float64("cpu_percent", snap.CPUPercent),
		zap.Uint64("memory_rss_bytes", snap.MemoryRSSBytes))
}

// projectToSchema keeps only the fields the schema declares. The API
// ships more fields than the schemas commit to, and stamped window
// bounds must not leak into streams whose schemas omit them.
func projectToSchema(rec map[string]interface{}, s *schema.Schema) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for field, value := range rec {
		if s.HasField(field) {
			out[field] = value
		}
	}
	return out
}

// replicationValue parses the record's replication field as a
// timestamp.
func replicationValue(rec map[string]interface{}, key string) (time.Time, error) {
	raw, ok := rec[key].(string)
	if !ok {
		return time.Time{}, errors.Newf(errors.ErrorTypeState, "replication field %s missing or not a string", key)
	}
	return parseTimestamp(raw)
}

// parseTimestamp accepts the timestamp shapes the API emits: RFC 3339
// with or without fractional seconds, and bare date-times without a
// zone (interpreted as UTC).
func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeState, "unparseable timestamp %q", value)
}
