// Package proto defines the message types exchanged with the pipeline
// control plane (pkg/grpc). These are hand-written JSON types, not compiled
// from .proto files — the transport is a lightweight JSON-over-TCP RPC layer,
// not real gRPC.
package proto

// RunRequest triggers a pipeline run over the PipelineControl.Run method.
type RunRequest struct {
	InputDir  string `json:"input_dir"`
	OutputDir string `json:"output_dir"`
	// Async, if true, returns immediately with a RunID the caller polls via
	// PipelineControl.Status; otherwise Run blocks until the pipeline exits.
	Async bool `json:"async"`
}

// RunResponse is the result of PipelineControl.Run.
type RunResponse struct {
	RunID    string `json:"run_id"`
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// StatusRequest polls the state of a previously started run.
type StatusRequest struct {
	RunID string `json:"run_id"`
}

// StatusResponse reports a run's lifecycle state and, once the run has
// finished, the duration of each stage it ran.
type StatusResponse struct {
	RunID      string          `json:"run_id"`
	State      string          `json:"state"` // pending, running, succeeded, failed
	ExitCode   int             `json:"exit_code,omitempty"`
	Stages     []StageProgress `json:"stages"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at,omitempty"`
}

// StageProgress reports one pipeline stage's completion state.
type StageProgress struct {
	Name          string `json:"name"` // s2_lexicon, s3_forward, s4_barrel, s5_postings, s6_heavy
	Done          bool   `json:"done"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	DocsProcessed int64  `json:"docs_processed,omitempty"`
}

// CancelRequest requests cancellation of an in-flight run.
type CancelRequest struct {
	RunID string `json:"run_id"`
}

// CancelResponse confirms whether cancellation was accepted.
type CancelResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}
