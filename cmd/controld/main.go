// Command controld exposes the indexing pipeline over the JSON-over-TCP
// control plane (pkg/grpc) so an external orchestrator — cron, CI, a
// downstream query service's reload hook — can trigger and poll a build
// run over the network instead of shelling out to cmd/buildindex.
//
// Usage:
//
//	go run ./cmd/controld [-config configs/development.yaml] [-addr :9400]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cord19index/index-core/internal/pipeline/driver"
	"github.com/cord19index/index-core/pkg/config"
	pkgerrors "github.com/cord19index/index-core/pkg/errors"
	"github.com/cord19index/index-core/pkg/grpc"
	"github.com/cord19index/index-core/pkg/logger"
	"github.com/cord19index/index-core/pkg/metrics"
	"github.com/cord19index/index-core/pkg/proto"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	addr := flag.String("addr", "", "override control.addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(pkgerrors.ExitInvalidConfig)
	}
	if *addr != "" {
		cfg.Control.Addr = *addr
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	control := driver.NewControl(m)

	server := grpc.NewServer()
	server.Register("PipelineControl.Run", handleRun(cfg, control))
	server.Register("PipelineControl.Status", handleStatus(control))
	server.Register("PipelineControl.Cancel", handleCancel(control))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		server.Stop()
	}()

	slog.Info("control plane listening", "addr", cfg.Control.Addr)
	if err := server.Serve(cfg.Control.Addr); err != nil {
		slog.Error("control plane server error", "error", err)
		os.Exit(pkgerrors.ExitIOFailure)
	}
}

func handleRun(cfg *config.Config, control *driver.Control) grpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.RunRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding RunRequest: %w", err)
		}

		runCfg := cfg.Pipeline
		if req.InputDir != "" {
			runCfg.InputDir = req.InputDir
		}
		if req.OutputDir != "" {
			runCfg.OutputDir = req.OutputDir
		}

		if req.Async {
			id := control.StartAsync(runCfg)
			return proto.RunResponse{RunID: id, Message: "accepted"}, nil
		}

		tr := control.RunSync(ctx, runCfg)
		resp := proto.RunResponse{RunID: tr.ID, ExitCode: tr.ExitCode, Message: "completed"}
		if tr.Err != "" {
			resp.Message = tr.Err
		}
		return resp, nil
	}
}

func handleStatus(control *driver.Control) grpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.StatusRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding StatusRequest: %w", err)
		}

		tr, ok := control.Get(req.RunID)
		if !ok {
			return nil, fmt.Errorf("unknown run id %q", req.RunID)
		}

		resp := proto.StatusResponse{
			RunID:      tr.ID,
			State:      string(tr.State),
			ExitCode:   tr.ExitCode,
			StartedAt:  tr.StartedAt.Unix(),
			FinishedAt: tr.FinishedAt.Unix(),
			Stages:     stageProgress(tr),
		}
		return resp, nil
	}
}

func handleCancel(control *driver.Control) grpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.CancelRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding CancelRequest: %w", err)
		}

		accepted, err := control.Cancel(req.RunID)
		if err != nil {
			return nil, err
		}
		resp := proto.CancelResponse{Accepted: accepted, Message: "cancellation requested"}
		if !accepted {
			resp.Message = "run already finished"
		}
		return resp, nil
	}
}

func stageProgress(tr driver.TrackedRun) []proto.StageProgress {
	var stages []proto.StageProgress
	for name, d := range tr.Result.StageDurations {
		stages = append(stages, proto.StageProgress{
			Name:       name,
			Done:       tr.State == driver.RunSucceeded || tr.State == driver.RunFailed,
			DurationMs: d.Milliseconds(),
		})
	}
	return stages
}
