package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cord19index/index-core/pkg/config"
	"github.com/cord19index/index-core/pkg/errors"
	"github.com/cord19index/index-core/pkg/metrics"
)

// RunState is the lifecycle of a run tracked by Control.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// TrackedRun is one run's control-plane-visible state, polled by
// PipelineControl.Status.
type TrackedRun struct {
	ID         string
	State      RunState
	ExitCode   int
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
	Result     Result
}

// Control tracks asynchronous runs started through PipelineControl.Run,
// the in-process backing store for the JSON-over-TCP control plane.
type Control struct {
	metrics *metrics.Metrics

	mu      sync.Mutex
	runs    map[string]*TrackedRun
	cancels map[string]context.CancelFunc
	next    int64
}

// NewControl creates an empty run tracker.
func NewControl(m *metrics.Metrics) *Control {
	return &Control{
		metrics: m,
		runs:    make(map[string]*TrackedRun),
		cancels: make(map[string]context.CancelFunc),
	}
}

// StartAsync begins a run in a background goroutine and returns its run id
// immediately. Status can be polled with Get; the run can be cancelled with
// Cancel while it is pending or running.
func (c *Control) StartAsync(cfg config.PipelineConfig) string {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.next++
	id := fmt.Sprintf("run-%d", c.next)
	tr := &TrackedRun{ID: id, State: RunPending, StartedAt: time.Now()}
	c.runs[id] = tr
	c.cancels[id] = cancel
	c.mu.Unlock()

	go func() {
		c.mu.Lock()
		tr.State = RunRunning
		c.mu.Unlock()

		result, err := Run(ctx, cfg, c.metrics)

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.cancels, id)
		tr.FinishedAt = time.Now()
		tr.Result = result
		tr.ExitCode = errors.ExitCode(err)
		if err != nil {
			tr.State = RunFailed
			tr.Err = err.Error()
		} else {
			tr.State = RunSucceeded
		}
	}()
	return id
}

// Cancel requests cancellation of a pending or running run's context. It
// reports whether a cancellation was actually issued: false for an unknown
// run id or a run that has already finished.
func (c *Control) Cancel(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tr, ok := c.runs[id]
	if !ok {
		return false, fmt.Errorf("unknown run id %q", id)
	}
	cancel, ok := c.cancels[id]
	if !ok || (tr.State != RunPending && tr.State != RunRunning) {
		return false, nil
	}
	cancel()
	return true, nil
}

// RunSync runs synchronously and returns the completed TrackedRun.
func (c *Control) RunSync(ctx context.Context, cfg config.PipelineConfig) TrackedRun {
	c.mu.Lock()
	c.next++
	id := fmt.Sprintf("run-%d", c.next)
	c.mu.Unlock()

	started := time.Now()
	result, err := Run(ctx, cfg, c.metrics)
	tr := TrackedRun{
		ID: id, StartedAt: started, FinishedAt: time.Now(),
		Result: result, ExitCode: errors.ExitCode(err), State: RunSucceeded,
	}
	if err != nil {
		tr.State = RunFailed
		tr.Err = err.Error()
	}

	c.mu.Lock()
	cp := tr
	c.runs[id] = &cp
	c.mu.Unlock()
	return tr
}

// Get returns the tracked state for a run id.
func (c *Control) Get(id string) (TrackedRun, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.runs[id]
	if !ok {
		return TrackedRun{}, false
	}
	return *tr, true
}
