package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/streamkit/nicesync/internal/pipeline"
	"github.com/streamkit/nicesync/pkg/config"
	"github.com/streamkit/nicesync/pkg/emit"
	"github.com/streamkit/nicesync/pkg/incontact"
	jsonutil "github.com/streamkit/nicesync/pkg/json"
	"github.com/streamkit/nicesync/pkg/logger"
	"github.com/streamkit/nicesync/pkg/metrics"
	"github.com/streamkit/nicesync/pkg/observability"
	"github.com/streamkit/nicesync/pkg/schema"
	"github.com/streamkit/nicesync/pkg/state"
	"github.com/streamkit/nicesync/pkg/streams"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "nicesync",
		Short: "nicesync - NICE inContact batch extraction engine",
		Long: `nicesync extracts contact-center reporting and WFM data from the NICE
inContact REST APIs and emits it as a line-delimited JSON message stream:
schemas, records, and resumable state.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nicesync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "streams",
		Short: "List extractable streams",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available streams:")
			for _, def := range streams.All() {
				replication := "FULL_TABLE"
				if !def.FullTable() {
					replication = "INCREMENTAL on " + def.ReplicationKey
				}
				fmt.Printf("  - %-30s %-12s %s\n", def.ID, def.Kind, replication)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "Print the stream catalog as JSON",
		Long: `Print a catalog describing every stream: its JSON schema, key
properties, replication method, and field metadata.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover()
		},
	})

	var configFile, stateFile string
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a one-pass sync of the selected streams",
		Long: `Run a one-pass batch sync. Messages are written to stdout; logs go to
stderr. With --state, bookmarks are read from and checkpointed to the
given file so the next run resumes where this one ended.

Example:
  nicesync sync --config config.yaml --state state.json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(configFile, stateFile)
		},
	}
	syncCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML or JSON configuration file (required)")
	syncCmd.Flags().StringVarP(&stateFile, "state", "s", "", "Path to state file for resumable bookmarks (optional)")
	_ = syncCmd.MarkFlagRequired("config")
	root.AddCommand(syncCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDiscover() error {
	var catalog schema.Catalog
	for _, def := range streams.All() {
		method := schema.ReplicationIncremental
		if def.FullTable() {
			method = schema.ReplicationFullTable
		}
		entry, err := schema.BuildEntry(def.ID, def.KeyProperties, method, def.ReplicationKey)
		if err != nil {
			return fmt.Errorf("failed to build catalog entry for %s: %w", def.ID, err)
		}
		catalog.Streams = append(catalog.Streams, entry)
	}

	data, err := jsonutil.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runSync(configFile, stateFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdown, err := observability.Init(observability.TracingConfig{
		ServiceName:    "nicesync",
		ServiceVersion: version,
		Enabled:        cfg.Observability.TracingEnabled,
		SamplingRate:   cfg.Observability.TracingSampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		errc := metrics.Serve(addr)
		go func() {
			if err := <-errc; err != nil {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
		logger.Info("metrics listener started", zap.String("addr", addr))
	}

	var st *state.State
	if stateFile != "" {
		st, err = state.Load(stateFile)
		if err != nil {
			return fmt.Errorf("state error: %w", err)
		}
	} else {
		st = state.New()
	}

	retry := incontact.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.InitialDelay = cfg.Retry.InitialDelay()
	retry.MaxDelay = cfg.Retry.MaxDelay()
	retry.Multiplier = cfg.Retry.Multiplier

	client := incontact.NewClient(incontact.Config{
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		Cluster:        cfg.APICluster,
		APIVersion:     cfg.APIVersion,
		AuthDomain:     cfg.AuthDomain,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.HTTP.RequestTimeout(),
		ConnectTimeout: cfg.HTTP.ConnectTimeout(),
		IdleTimeout:    cfg.HTTP.IdleTimeout(),
		MaxIdleConns:   cfg.HTTP.MaxIdleConns,
		PollDelay:      cfg.Poll.Delay(),
		PollTimeout:    cfg.Poll.Timeout(),
		Retry:          retry,
	})

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Config:    cfg,
		Session:   client,
		Emitter:   emit.NewEmitter(os.Stdout),
		State:     st,
		StatePath: stateFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", zap.Error(err))
		return err
	}
	return nil
}
