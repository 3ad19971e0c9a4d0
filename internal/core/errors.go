package core

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/tableload/internal/sink"
)

var (
	// ErrEmptySource means the file produced no rows at all, not even a header.
	ErrEmptySource = errors.New("empty file: no rows found")

	// ErrMalformedFile means the container or encoding could not be decoded.
	// The underlying parser error is joined to it.
	ErrMalformedFile = errors.New("malformed file")

	// ErrCancelled is returned when an upload stops on a cancellation signal.
	// Rows from batches that already committed stay committed.
	ErrCancelled = errors.New("upload cancelled")

	// ErrUploadTimeout is returned when a whole upload outlives its deadline.
	// Like cancellation it stops between batches.
	ErrUploadTimeout = errors.New("upload timed out")

	// ErrBatchTimeout matches a SinkRejectedError whose write exceeded the
	// batch timeout.
	ErrBatchTimeout = errors.New("batch write timed out")

	// ErrSinkRejected matches every *SinkRejectedError.
	ErrSinkRejected = errors.New("sink rejected batch")

	ErrUploadNotFound  = errors.New("upload not found")
	ErrColumnMismatch  = errors.New("column count does not match header")
	ErrInvalidSchema   = errors.New("invalid column definition")
	ErrInvalidBatchCfg = errors.New("invalid batch configuration")
)

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedFile, err)
}

// SinkRejectedError reports the first batch write that failed. Result holds
// the counters accumulated up to and including the failed batch.
type SinkRejectedError struct {
	Kind   sink.FailureKind
	Batch  int // 1-based
	Table  sink.TableRef
	Result IngestResult
	Err    error
}

func (e *SinkRejectedError) Error() string {
	return fmt.Sprintf("sink rejected batch %d for %s (%s, %d rows processed): %v",
		e.Batch, e.Table, e.Kind, e.Result.RowsProcessed, e.Err)
}

func (e *SinkRejectedError) Unwrap() error { return e.Err }

func (e *SinkRejectedError) Is(target error) bool {
	switch target {
	case ErrSinkRejected:
		return true
	case ErrBatchTimeout:
		return e.Kind == sink.FailureTimeout
	}
	return false
}
