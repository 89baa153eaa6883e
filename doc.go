// Package nicesync is a batch extraction engine for the NICE inContact
// contact-center platform. It pulls reporting and workforce-management
// data from the inContact REST APIs and emits it as a line-delimited
// JSON message stream of schemas, records, and resumable state.
//
// # Architecture
//
// nicesync is organized around four cooperating layers:
//
// 1. Session (pkg/incontact): an authenticated HTTP client that owns the
// token lifecycle, classifies API failures into typed errors, and retries
// transient ones with exponential backoff.
//
// 2. Streams (pkg/streams): a registry of extractable datasets and the
// extraction strategies behind them. Incremental streams page on a
// server-side filter, windowed streams sweep fixed date ranges, and
// export streams drive asynchronous extraction jobs to completion.
//
// 3. Engine (internal/pipeline): the sequential sync loop. It resolves
// each stream's watermark, runs its extractor, filters and projects
// records against the stream schema, and checkpoints state.
//
// 4. Emission (pkg/emit, pkg/schema, pkg/state): the output contract.
// Records, schemas, and bookmarks are written to stdout as JSON lines
// that a downstream loader can consume and replay.
//
// # Quick Start
//
// Run a sync from the command line:
//
//	nicesync discover > catalog.json
//	nicesync sync --config config.yaml --state state.json
//
// Or drive the engine directly:
//
//	import (
//	    "context"
//	    "os"
//
//	    "github.com/streamkit/nicesync/internal/pipeline"
//	    "github.com/streamkit/nicesync/pkg/config"
//	    "github.com/streamkit/nicesync/pkg/emit"
//	    "github.com/streamkit/nicesync/pkg/incontact"
//	    "github.com/streamkit/nicesync/pkg/state"
//	)
//
//	cfg, _ := config.Load("config.yaml")
//	client := incontact.NewClient(incontact.Config{
//	    APIKey:    cfg.APIKey,
//	    APISecret: cfg.APISecret,
//	    Cluster:   cfg.APICluster,
//	})
//	engine := pipeline.NewEngine(pipeline.EngineConfig{
//	    Config:  cfg,
//	    Session: client,
//	    Emitter: emit.NewEmitter(os.Stdout),
//	    State:   state.New(),
//	})
//	err := engine.Run(context.Background())
//
// # Key Packages
//
//	pkg/incontact     - Authenticated API client, retry, date windows, export jobs
//	pkg/streams       - Stream registry and extraction strategies
//	internal/pipeline - Sync engine, watermark tracking, schema projection
//	pkg/emit          - JSON message stream writer
//	pkg/schema        - Stream schemas and catalog discovery
//	pkg/state         - Persisted bookmarks for resumable syncs
//	pkg/config        - YAML/JSON configuration with validation
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics and runtime monitoring
//	pkg/observability - OpenTelemetry tracing
//
// # Replication
//
// Streams resume from per-stream bookmarks. Incremental and windowed
// streams track a replication key and re-emit the boundary record on the
// next run, so downstream consumers must tolerate at-least-once
// delivery. Full-table streams are re-extracted completely each run.
package nicesync
