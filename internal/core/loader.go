package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/JonMunkholm/tableload/internal/metrics"
	"github.com/JonMunkholm/tableload/internal/sink"
)

const (
	DefaultBatchSize    = 1000
	MaxBatchSize        = 5000
	DefaultBatchTimeout = 10 * time.Minute
)

// Loader streams rows from a RowStream into a sink one batch at a time.
// The zero value uses the defaults and the ignore policy.
type Loader struct {
	BatchSize    int
	BatchTimeout time.Duration
	Policy       sink.ConflictPolicy

	// Reporter, when set, receives phase changes and counters.
	Reporter *Reporter
	Logger   *slog.Logger
}

func (l *Loader) settings() (int, time.Duration, sink.ConflictPolicy, error) {
	size := l.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}
	if size < 1 || size > MaxBatchSize {
		return 0, 0, "", fmt.Errorf("%w: batch size %d outside 1..%d", ErrInvalidBatchCfg, l.BatchSize, MaxBatchSize)
	}
	timeout := l.BatchTimeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	policy := l.Policy
	if policy == "" {
		policy = sink.ConflictIgnore
	}
	return size, timeout, policy, nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// stopped reports why ctx ended. An expired upload deadline is a timeout,
// anything else is a cancellation.
func stopped(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUploadTimeout, cause)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// Load pulls every row from stream and writes it to target in batches.
//
// The next batch is not read until the previous write has returned. The first
// rejected batch stops the load with a *SinkRejectedError; earlier batches
// stay committed. When ctx is cancelled the in-flight batch still finishes,
// then Load returns ErrCancelled with the counters so far, or ErrUploadTimeout
// if ctx's deadline expired. Conflict keys always come from the table's own
// primary key.
func (l *Loader) Load(ctx context.Context, stream RowStream, target sink.TableRef, columns []ColumnDefinition, s sink.Sink) (IngestResult, error) {
	var res IngestResult

	size, timeout, policy, err := l.settings()
	if err != nil {
		return res, err
	}
	if err := target.Validate(); err != nil {
		return res, err
	}

	names, err := insertColumns(stream.Headers(), columns)
	if err != nil {
		return res, err
	}
	var keys []string
	if policy != sink.ConflictError {
		keys = conflictKeys(l.lookupKeys(ctx, s, target), names)
	}

	log := l.logger().With("table", target.String())
	batch := make([][]any, 0, size)
	batchNo := 0

	for {
		if err := stopped(ctx); err != nil {
			return res, err
		}
		l.transition(PhaseReading)

		batch = batch[:0]
		eof := false
		for len(batch) < size {
			row, err := stream.Next()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return res, err
			}
			res.RowsProcessed++
			batch = append(batch, NormalizeRow(row))
		}

		if len(batch) > 0 {
			batchNo++
			l.transition(PhaseWriting)

			written, kind, err := l.writeBatch(ctx, s, timeout, sink.InsertRequest{
				Table:      target,
				Columns:    names,
				Rows:       batch,
				KeyColumns: keys,
				Policy:     policy,
			})
			metrics.IncCounter(metrics.IngestRowsTotal, float64(len(batch)), metrics.Labels{"kind": "processed"})
			if err != nil {
				log.Error("batch rejected", "batch", batchNo, "rows", len(batch), "kind", string(kind), "error", err)
				return res, &SinkRejectedError{
					Kind:   kind,
					Batch:  batchNo,
					Table:  target,
					Result: res,
					Err:    err,
				}
			}

			res.RowsWritten += written
			res.Batches++
			metrics.IncCounter(metrics.IngestRowsTotal, float64(written), metrics.Labels{"kind": "written"})
			log.Debug("batch written", "batch", batchNo, "rows", len(batch), "written", written)

			if l.Reporter != nil {
				read, total := stream.Progress()
				_ = l.Reporter.Advance(res, read, total)
			}
		}

		if eof {
			return res, nil
		}
	}
}

// writeBatch runs one insert detached from ctx's cancellation so a batch that
// has started always finishes or times out on its own.
func (l *Loader) writeBatch(ctx context.Context, s sink.Sink, timeout time.Duration, req sink.InsertRequest) (int64, sink.FailureKind, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	n, err := s.InsertRows(wctx, req)
	status := "ok"
	var kind sink.FailureKind
	if err != nil {
		status = "error"
		kind = s.Classify(err)
		if errors.Is(wctx.Err(), context.DeadlineExceeded) {
			kind = sink.FailureTimeout
		}
	}
	metrics.IncCounter(metrics.IngestBatchesTotal, 1, metrics.Labels{"status": status})
	metrics.ObserveHistogram(metrics.IngestBatchDuration, time.Since(start).Seconds(), metrics.Labels{"status": status})
	return n, kind, err
}

// lookupKeys asks the sink for the table's primary key. A failed lookup is
// not fatal: the insert itself will surface a missing table.
func (l *Loader) lookupKeys(ctx context.Context, s sink.Sink, target sink.TableRef) []string {
	keys, err := s.PrimaryKey(ctx, target)
	if err != nil {
		l.logger().Warn("primary key lookup failed", "table", target.String(), "error", err)
		return nil
	}
	return keys
}

func (l *Loader) transition(phase UploadPhase) {
	if l.Reporter != nil {
		_ = l.Reporter.Transition(phase)
	}
}

// insertColumns resolves the insert column list. Without caller columns the
// header names are normalized; with them, the count must match the header.
// Primary-key flags on caller columns only matter to CreateTable.
func insertColumns(headers []string, columns []ColumnDefinition) ([]string, error) {
	if len(columns) == 0 {
		return NormalizeColumnNames(headers), nil
	}
	if len(columns) != len(headers) {
		return nil, fmt.Errorf("%w: %d columns for %d headers", ErrColumnMismatch, len(columns), len(headers))
	}

	names := make([]string, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrInvalidSchema, i+1)
		}
		names[i] = c.Name
	}
	return names, nil
}

// conflictKeys maps the table's primary key onto the insert columns. If any
// key column is not being inserted no row can collide on it, so no keys are
// returned.
func conflictKeys(primaryKey, names []string) []string {
	if len(primaryKey) == 0 {
		return nil
	}
	keys := make([]string, 0, len(primaryKey))
	for _, pk := range primaryKey {
		idx := slices.IndexFunc(names, func(n string) bool { return strings.EqualFold(n, pk) })
		if idx < 0 {
			return nil
		}
		keys = append(keys, names[idx])
	}
	return keys
}
