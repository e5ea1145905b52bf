// Package driver orchestrates the indexing core's six stages end to end:
// tokenization is implicit in S2/S3, lexicon construction (S2), forward-index
// construction (S3), barrel build (S4), postings aggregation (S5), and
// heavy-token extraction (S6). It is the batch-job equivalent of the
// teacher's per-request handler: it wires config, logging, tracing, and
// metrics around a sequence of otherwise-standalone package calls.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cord19index/index-core/internal/pipeline/barrel"
	"github.com/cord19index/index-core/internal/pipeline/corpus"
	"github.com/cord19index/index-core/internal/pipeline/forward"
	"github.com/cord19index/index-core/internal/pipeline/heavy"
	"github.com/cord19index/index-core/internal/pipeline/lexicon"
	"github.com/cord19index/index-core/internal/pipeline/postings"
	"github.com/cord19index/index-core/internal/pipeline/stopwords"
	"github.com/cord19index/index-core/internal/pipeline/tokenizer"
	"github.com/cord19index/index-core/pkg/config"
	pkgerrors "github.com/cord19index/index-core/pkg/errors"
	"github.com/cord19index/index-core/pkg/metrics"
	"github.com/cord19index/index-core/pkg/resilience"
	"github.com/cord19index/index-core/pkg/tracing"
)

// publishRetry wraps an atomic artifact publication (write-tmp, fsync,
// rename) with a deadline and a retry budget, so a transient EINTR/EAGAIN or
// a hung disk does not fail an otherwise-successful run.
func publishRetry(ctx context.Context, name string, timeout time.Duration, fn func() error) error {
	return resilience.Retry(ctx, name, resilience.RetryConfig{}, func() error {
		return resilience.WithTimeout(ctx, timeout, name, func(context.Context) error { return fn() })
	})
}

// checkCancelled is polled between stages so a run cancelled through the
// control plane (driver.Control.Cancel) stops at the next stage boundary
// instead of running every remaining stage to completion.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Newf(pkgerrors.ErrInternal, pkgerrors.ExitIOFailure, "run cancelled: %v", err)
	}
	return nil
}

// Result summarizes one completed run, the fields a caller reports in the
// §7 single summary line and persists to the run ledger.
type Result struct {
	DocCount        int
	VocabSize       int
	DocsSkipped     int
	HeavyTokenCount int
	PDFSkippedAsDup int
	StageDurations  map[string]time.Duration
}

// Run executes S1 through S6 against cfg.InputDir, publishing every artifact
// under cfg.OutputDir. m may be nil; when non-nil, per-stage gauges and
// counters are updated as the run progresses.
func Run(ctx context.Context, cfg config.PipelineConfig, m *metrics.Metrics) (Result, error) {
	ctx, root := tracing.StartSpan(ctx, "pipeline.run", traceIDFromContext(ctx))
	defer root.End()
	logger := slog.Default().With("component", "driver")

	if err := validate(cfg); err != nil {
		return Result{}, err
	}
	if _, err := os.Stat(cfg.InputDir); err != nil {
		if os.IsNotExist(err) {
			return Result{}, pkgerrors.Newf(pkgerrors.ErrInputNotFound, pkgerrors.ExitInputNotFound, "input dir %s does not exist", cfg.InputDir)
		}
		return Result{}, pkgerrors.Newf(pkgerrors.ErrInputNotFound, pkgerrors.ExitIOFailure, "stat %s: %v", cfg.InputDir, err)
	}

	tempDir := filepath.Join(cfg.OutputDir, "tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return Result{}, pkgerrors.Newf(pkgerrors.ErrInternal, pkgerrors.ExitIOFailure, "creating temp dir: %v", err)
	}
	if err := postings.SweepTemp(tempDir); err != nil {
		return Result{}, pkgerrors.Newf(pkgerrors.ErrInternal, pkgerrors.ExitIOFailure, "sweeping stale temp files: %v", err)
	}

	result := Result{StageDurations: make(map[string]time.Duration)}

	stopwordSet, err := stopwords.LoadFile(cfg.StopwordsPath)
	if err != nil {
		return result, pkgerrors.Newf(pkgerrors.ErrInternal, pkgerrors.ExitIOFailure, "loading stopwords: %v", err)
	}
	tokOpts := tokenizer.Options{MinLen: cfg.MinTokenLen, Stopwords: stopwordSet}

	// S2: lexicon.
	_, s2End := tracing.StartChildSpan(ctx, "s2.lexicon")
	src1 := corpus.NewFSSource(cfg.InputDir)
	t0 := time.Now()
	lex, lexResult, err := lexicon.Build(src1, tokOpts, cfg.LogEvery, func(n int) {
		logger.Info("lexicon build progress", "docs_processed", n)
	})
	result.StageDurations["s2_lexicon"] = time.Since(t0)
	s2End.End()
	if err != nil {
		return result, fmt.Errorf("s2 lexicon build: %w", err)
	}
	result.VocabSize = lexResult.VocabSize
	result.DocsSkipped += lexResult.DocsSkipped
	lexiconPath := filepath.Join(cfg.OutputDir, "lexicon.bin")
	if err := publishRetry(ctx, "publish lexicon.bin", cfg.ArtifactSyncTimeout, func() error { return lexicon.WriteFile(lex, lexiconPath) }); err != nil {
		return result, pkgerrors.Newf(pkgerrors.ErrInternal, pkgerrors.ExitIOFailure, "writing lexicon.bin: %v", err)
	}
	if m != nil {
		m.VocabularySize.Set(float64(lexResult.VocabSize))
		m.DocumentsProcessedTotal.WithLabelValues("lexicon").Add(float64(lexResult.DocsProcessed))
	}

	// S2 is fail-closed: S3 reads the lexicon back from disk instead of
	// trusting the in-memory builder.
	diskLex, err := lexicon.ReadFile(filepath.Join(cfg.OutputDir, "lexicon.bin"))
	if err != nil {
		return result, fmt.Errorf("%w: reading back lexicon.bin: %v", pkgerrors.ErrArtifactCorruption, err)
	}

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	// S3: forward index.
	_, s3End := tracing.StartChildSpan(ctx, "s3.forward")
	src2 := corpus.NewFSSource(cfg.InputDir)
	t0 = time.Now()
	fwdResult, err := forward.Build(src2, diskLex, tokOpts, cfg.OutputDir, cfg.LogEvery, func(n int) {
		logger.Info("forward index build progress", "docs_processed", n)
	})
	result.StageDurations["s3_forward"] = time.Since(t0)
	s3End.End()
	if err != nil {
		return result, fmt.Errorf("s3 forward index build: %w", err)
	}
	result.DocCount = int(fwdResult.DocCount)
	result.DocsSkipped += fwdResult.DocsSkipped
	result.PDFSkippedAsDup = src2.Stats().PDFSkippedAsDup
	if m != nil {
		m.DocumentsProcessedTotal.WithLabelValues("forward_index").Add(float64(fwdResult.DocCount))
		m.DocumentsSkippedTotal.Add(float64(fwdResult.DocsSkipped))
	}

	records, err := forward.ReadForwardIndex(filepath.Join(cfg.OutputDir, "forward_index.bin"))
	if err != nil {
		return result, fmt.Errorf("rereading forward_index.bin: %w", err)
	}

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	// S4: barrel build.
	_, s4End := tracing.StartChildSpan(ctx, "s4.barrel")
	t0 = time.Now()
	barrelOpts := barrel.Options{
		NumBarrels:          uint32(cfg.NumBarrels),
		FreqBarrelThreshold: cfg.FreqBarrelThreshold,
		BarrelExponent:      cfg.BarrelExponent,
	}
	mapping := barrel.Assign(records, uint32(diskLex.Size()), barrelOpts)
	mappingPath := filepath.Join(cfg.OutputDir, "barrel_mapping.bin")
	if err := publishRetry(ctx, "publish barrel_mapping.bin", cfg.ArtifactSyncTimeout, func() error { return barrel.WriteMapping(mapping, mappingPath) }); err != nil {
		return result, pkgerrors.Newf(pkgerrors.ErrInternal, pkgerrors.ExitIOFailure, "writing barrel_mapping.bin: %v", err)
	}
	barrelsDir := filepath.Join(cfg.OutputDir, "barrels")
	if err := publishRetry(ctx, "publish barrel postings", cfg.ArtifactSyncTimeout, func() error { return barrel.WritePostings(records, mapping, barrelsDir) }); err != nil {
		return result, pkgerrors.Newf(pkgerrors.ErrInternal, pkgerrors.ExitIOFailure, "writing barrel postings: %v", err)
	}
	result.StageDurations["s4_barrel"] = time.Since(t0)
	s4End.End()
	logBarrelSizes(logger, barrelsDir, m)

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	// S5: postings aggregation.
	_, s5End := tracing.StartChildSpan(ctx, "s5.postings")
	t0 = time.Now()
	agg := postings.NewAggregator(postings.Options{SpillThreshold: cfg.SpillThreshold, TempDir: tempDir})
	if err := agg.ScanBarrelDir(barrelsDir, func(n int) {
		logger.Info("postings scan progress", "records_scanned", n)
	}); err != nil {
		return result, fmt.Errorf("s5 phase a scan: %w", err)
	}
	finishErr := publishRetry(ctx, "publish postings_index.bin", cfg.ArtifactSyncTimeout, func() error {
		return agg.Finish(cfg.OutputDir, func(n int) {
			logger.Info("postings emit progress", "tokens_written", n)
		})
	})
	if finishErr != nil {
		return result, fmt.Errorf("s5 phase b emit: %w", finishErr)
	}
	result.StageDurations["s5_postings"] = time.Since(t0)
	s5End.End()

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	// S6: heavy-token extraction.
	_, s6End := tracing.StartChildSpan(ctx, "s6.heavy")
	t0 = time.Now()
	offsets, err := postings.ReadOffsets(filepath.Join(cfg.OutputDir, "postings_offsets.bin"))
	if err != nil {
		return result, fmt.Errorf("rereading postings_offsets.bin: %w", err)
	}
	var manifest heavy.Manifest
	extractErr := publishRetry(ctx, "publish heavy-token files", cfg.ArtifactSyncTimeout, func() error {
		var extractErr error
		manifest, extractErr = heavy.Extract(filepath.Join(cfg.OutputDir, "postings_index.bin"), offsets, mapping, cfg.OutputDir)
		return extractErr
	})
	if extractErr != nil {
		return result, fmt.Errorf("s6 heavy extraction: %w", extractErr)
	}
	result.HeavyTokenCount = len(manifest.Tokens)
	result.StageDurations["s6_heavy"] = time.Since(t0)
	s6End.End()
	if m != nil {
		m.HeavyTokensExtracted.Set(float64(result.HeavyTokenCount))
	}

	logger.Info("pipeline run complete",
		"doc_count", result.DocCount,
		"vocab_size", result.VocabSize,
		"docs_skipped", result.DocsSkipped,
		"pdf_skipped_as_dup", result.PDFSkippedAsDup,
		"heavy_tokens", result.HeavyTokenCount,
	)
	root.Log()
	return result, nil
}

func validate(cfg config.PipelineConfig) error {
	if err := cfg.Validate(); err != nil {
		return pkgerrors.Newf(pkgerrors.ErrConfigOutOfRange, pkgerrors.ExitInvalidConfig, "%v", err)
	}
	return nil
}

func logBarrelSizes(logger *slog.Logger, dir string, m *metrics.Metrics) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		logger.Info("barrel written", "file", e.Name(), "bytes", info.Size())
		if m != nil {
			m.BarrelBytesWritten.WithLabelValues(e.Name()).Set(float64(info.Size()))
		}
	}
}

type traceIDKey struct{}

func traceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("run-%d", time.Now().UnixNano())
}
