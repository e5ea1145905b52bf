// Package runlog persists one row per pipeline run to PostgreSQL: the
// batch-job analogue of the teacher's analytics snapshot store, recording
// corpus path, doc/vocab counts, per-stage duration, and exit status instead
// of periodic in-service stats.
//
// It requires a `pipeline_runs` table:
//
//	CREATE TABLE pipeline_runs (
//	    id           BIGSERIAL PRIMARY KEY,
//	    input_dir    TEXT NOT NULL,
//	    output_dir   TEXT NOT NULL,
//	    doc_count    INTEGER NOT NULL,
//	    vocab_size   INTEGER NOT NULL,
//	    docs_skipped INTEGER NOT NULL,
//	    stage_durations_ms JSONB NOT NULL,
//	    exit_code    INTEGER NOT NULL,
//	    error        TEXT,
//	    started_at   TIMESTAMPTZ NOT NULL,
//	    finished_at  TIMESTAMPTZ NOT NULL
//	);
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cord19index/index-core/pkg/postgres"
)

// Run summarizes a single pipeline execution.
type Run struct {
	InputDir        string
	OutputDir       string
	DocCount        int
	VocabSize       int
	DocsSkipped     int
	StageDurationMs map[string]int64
	ExitCode        int
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Store persists Run records in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a run-ledger Store backed by db.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "runlog"),
	}
}

// Record inserts a completed Run as one row.
func (s *Store) Record(ctx context.Context, run Run) error {
	durations, err := json.Marshal(run.StageDurationMs)
	if err != nil {
		return fmt.Errorf("marshaling stage durations: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO pipeline_runs
			(input_dir, output_dir, doc_count, vocab_size, docs_skipped,
			 stage_durations_ms, exit_code, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.InputDir, run.OutputDir, run.DocCount, run.VocabSize, run.DocsSkipped,
		durations, run.ExitCode, run.Error, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	s.logger.Info("run recorded",
		"doc_count", run.DocCount,
		"vocab_size", run.VocabSize,
		"exit_code", run.ExitCode,
	)
	return nil
}

// Recent loads the last limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT input_dir, output_dir, doc_count, vocab_size, docs_skipped,
		        stage_durations_ms, exit_code, error, started_at, finished_at
		 FROM pipeline_runs ORDER BY finished_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var durations []byte
		var errMsg *string
		if err := rows.Scan(
			&run.InputDir, &run.OutputDir, &run.DocCount, &run.VocabSize, &run.DocsSkipped,
			&durations, &run.ExitCode, &errMsg, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if errMsg != nil {
			run.Error = *errMsg
		}
		if err := json.Unmarshal(durations, &run.StageDurationMs); err != nil {
			s.logger.Warn("skipping run with corrupt stage durations", "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
