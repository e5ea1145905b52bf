// Command buildindex runs the offline indexing core end to end: lexicon
// construction, forward-index construction, barrel build, postings
// aggregation, and heavy-token extraction.
//
// Usage:
//
//	go run ./cmd/buildindex [-config configs/development.yaml] [-monitor-addr :9400]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cord19index/index-core/internal/pipeline/driver"
	"github.com/cord19index/index-core/internal/pipeline/runlog"
	"github.com/cord19index/index-core/pkg/config"
	pkgerrors "github.com/cord19index/index-core/pkg/errors"
	"github.com/cord19index/index-core/pkg/health"
	"github.com/cord19index/index-core/pkg/kafka"
	"github.com/cord19index/index-core/pkg/logger"
	"github.com/cord19index/index-core/pkg/metrics"
	"github.com/cord19index/index-core/pkg/middleware"
	"github.com/cord19index/index-core/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	inputDir := flag.String("input", "", "override pipeline.inputDir")
	outputDir := flag.String("output", "", "override pipeline.outputDir")
	monitorAddr := flag.String("monitor-addr", "", "if set, serve /healthz and /metrics on this address while the run is in flight")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(pkgerrors.ExitInvalidConfig)
	}
	if *inputDir != "" {
		cfg.Pipeline.InputDir = *inputDir
	}
	if *outputDir != "" {
		cfg.Pipeline.OutputDir = *outputDir
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting index build",
		"input_dir", cfg.Pipeline.InputDir,
		"output_dir", cfg.Pipeline.OutputDir,
		"num_barrels", cfg.Pipeline.NumBarrels,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	checker := health.NewChecker()
	runState := &runStateCheck{}
	checker.Register("pipeline", runState.Check)

	var shutdownMonitor func(context.Context) error
	if *monitorAddr != "" {
		shutdownMonitor = startMonitor(*monitorAddr, m, checker)
	}

	var runStore *runlog.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres, continuing without run ledger", "error", err)
		} else {
			defer db.Close()
			runStore = runlog.NewStore(db)
		}
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runState.setRunning(true)
	started := time.Now()
	result, runErr := driver.Run(ctx, cfg.Pipeline, m)
	finished := time.Now()
	runState.setRunning(false)

	exitCode := pkgerrors.ExitCode(runErr)
	if runErr != nil {
		slog.Error("index build failed", "error", runErr, "exit_code", exitCode)
	} else {
		slog.Info("index build succeeded",
			"doc_count", result.DocCount,
			"vocab_size", result.VocabSize,
			"docs_skipped", result.DocsSkipped,
			"heavy_tokens", result.HeavyTokenCount,
			"duration", finished.Sub(started),
		)
	}
	if m != nil {
		status := "success"
		if runErr != nil {
			status = "failure"
		}
		m.RunsCompletedTotal.WithLabelValues(status).Inc()
	}

	if producer != nil && runErr == nil {
		event := kafka.Event{
			Key: cfg.Pipeline.OutputDir,
			Value: map[string]any{
				"output_dir":   cfg.Pipeline.OutputDir,
				"doc_count":    result.DocCount,
				"vocab_size":   result.VocabSize,
				"heavy_tokens": result.HeavyTokenCount,
				"completed_at": finished.UTC(),
			},
		}
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := producer.Publish(pubCtx, event); err != nil {
			slog.Error("failed to publish index.complete event", "error", err)
		}
		cancel()
	}

	if runStore != nil {
		durations := make(map[string]int64, len(result.StageDurations))
		for stage, d := range result.StageDurations {
			durations[stage] = d.Milliseconds()
		}
		run := runlog.Run{
			InputDir:        cfg.Pipeline.InputDir,
			OutputDir:       cfg.Pipeline.OutputDir,
			DocCount:        result.DocCount,
			VocabSize:       result.VocabSize,
			DocsSkipped:     result.DocsSkipped,
			StageDurationMs: durations,
			ExitCode:        exitCode,
			StartedAt:       started,
			FinishedAt:      finished,
		}
		if runErr != nil {
			run.Error = runErr.Error()
		}
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := runStore.Record(logCtx, run); err != nil {
			slog.Error("failed to record run ledger entry", "error", err)
		}
		cancel()
	}

	if shutdownMonitor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = shutdownMonitor(shutdownCtx)
		cancel()
	}

	os.Exit(exitCode)
}

// runStateCheck reports whether a build is currently in flight, for the
// monitor server's readiness probe.
type runStateCheck struct {
	running bool
}

func (r *runStateCheck) setRunning(v bool) { r.running = v }

func (r *runStateCheck) Check(ctx context.Context) health.ComponentHealth {
	if r.running {
		return health.ComponentHealth{Status: health.StatusUp, Message: "build in progress"}
	}
	return health.ComponentHealth{Status: health.StatusUp, Message: "idle"}
}

func startMonitor(addr string, m *metrics.Metrics, checker *health.Checker) func(context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LiveHandler())
	mux.HandleFunc("/readyz", checker.ReadyHandler())
	if m != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	var handler http.Handler = mux
	if m != nil {
		handler = middleware.Metrics(m)(handler)
	}
	handler = middleware.Timeout(5 * time.Second)(handler)

	server := &http.Server{Addr: addr, Handler: handler}
	go func() {
		slog.Info("monitor server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("monitor server error", "error", err)
		}
	}()
	return server.Shutdown
}
