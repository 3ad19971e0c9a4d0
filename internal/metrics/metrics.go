// Package metrics is a small facade that keeps the ingestion pipeline
// independent of any particular metrics vendor.
//
// Code records through the package-level helpers; main picks the backend once
// at startup with SetBackend. The default backend discards everything.
package metrics

import "sync"

// Labels are dimension key/value pairs attached to a sample.
type Labels map[string]string

// Backend receives samples.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer samples.
type Flusher interface {
	Flush() error
}

// Metric names recorded by the pipeline.
const (
	IngestRowsTotal      = "ingest_rows_total"
	IngestBatchesTotal   = "ingest_batches_total"
	IngestBatchDuration  = "ingest_batch_duration_seconds"
	IngestUploadsTotal   = "ingest_uploads_total"
	IngestUploadDuration = "ingest_upload_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend replaces the process-wide backend. A nil backend restores the
// no-op default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}
