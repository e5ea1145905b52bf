// Package errors defines the sentinel errors and exit-code taxonomy for the
// indexing pipeline.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInputNotFound      = errors.New("input path not found")
	ErrConfigOutOfRange   = errors.New("configuration value out of range")
	ErrVocabularyMiss     = errors.New("token not present in lexicon")
	ErrArtifactCorruption = errors.New("on-disk artifact is corrupt or truncated")
	ErrBarrelCorruption   = errors.New("barrel mapping is corrupt or inconsistent")
	ErrUnsortedPositions  = errors.New("posting positions are not strictly ascending")
	ErrDuplicateDocID     = errors.New("duplicate document id in postings block")
	ErrInternal           = errors.New("internal error")
)

// Exit codes, per the on-disk contract: 0 success, 2 invalid configuration,
// 3 input not found, 4 artifact corruption, 5 I/O failure.
const (
	ExitSuccess           = 0
	ExitInvalidConfig     = 2
	ExitInputNotFound     = 3
	ExitArtifactCorrupted = 4
	ExitIOFailure         = 5
)

// AppError wraps a sentinel error with a human-readable message and its
// resulting process exit code.
type AppError struct {
	Err      error
	Message  string
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, exitCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, ExitCode: exitCode}
}

func Newf(sentinel error, exitCode int, format string, args ...any) *AppError {
	return &AppError{Err: sentinel, Message: fmt.Sprintf(format, args...), ExitCode: exitCode}
}

// ExitCode maps an error to the process exit code a CLI entrypoint should
// return. Unrecognized errors map to ExitIOFailure, treating them as an
// unexpected failure rather than a silent success.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode
	}
	switch {
	case errors.Is(err, ErrConfigOutOfRange):
		return ExitInvalidConfig
	case errors.Is(err, ErrInputNotFound):
		return ExitInputNotFound
	case errors.Is(err, ErrArtifactCorruption),
		errors.Is(err, ErrBarrelCorruption),
		errors.Is(err, ErrUnsortedPositions),
		errors.Is(err, ErrDuplicateDocID),
		errors.Is(err, ErrVocabularyMiss):
		return ExitArtifactCorrupted
	default:
		return ExitIOFailure
	}
}
