package workflow

import (
	"errors"

	"github.com/archlens/archlens/internal/store"
	"github.com/archlens/archlens/pkg/llm"
	"github.com/archlens/archlens/pkg/source"
)

// ErrorKind is the three-way taxonomy from spec.md §7.
type ErrorKind int

const (
	// KindFatal stops the run: fetch failure, scanner failure,
	// persistence failure, or total quota exhaustion during a required
	// stage.
	KindFatal ErrorKind = iota
	// KindDegrading produces an empty or best-effort output for one
	// optional artifact while the run still completes.
	KindDegrading
	// KindRecoverable was already handled locally (gateway retry,
	// diagram repair loop, per-file extractor drop) and never reaches
	// this classifier in practice; kept for completeness of the
	// taxonomy.
	KindRecoverable
)

// StageError wraps an error with the stage that produced it and the
// reason code surfaced to the persistence layer on a fatal outcome.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Classify categorizes an error by its sentinel type, never by message
// content (spec.md §7 "Propagation policy"). required indicates whether
// the stage that produced err is one whose failure is fatal to the run
// (the static prelude) versus optional (the components and per-mode
// diagram stages). The runner does not call it for the narrative stage,
// where only quota exhaustion is fatal.
func Classify(err error, required bool) ErrorKind {
	if err == nil {
		return KindRecoverable
	}

	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return KindFatal
	}

	var fetchErr *source.FetchError
	if errors.As(err, &fetchErr) {
		return KindFatal
	}

	var quota *llm.QuotaExhausted
	if errors.As(err, &quota) {
		if required {
			return KindFatal
		}
		return KindDegrading
	}

	if required {
		return KindFatal
	}
	return KindDegrading
}

// ReasonFor derives the machine-readable failure reason for a fatal
// error, used as store.Run.FailureReason.
func ReasonFor(err error) string {
	var quota *llm.QuotaExhausted
	if errors.As(err, &quota) {
		return "quota_exhausted"
	}
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return "persistence_failed"
	}
	var fetchErr *source.FetchError
	if errors.As(err, &fetchErr) {
		return "fetch_failed"
	}
	return "run_failed"
}
