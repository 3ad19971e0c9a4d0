package core

// streaming.go provides memory-efficient streaming readers for delimited text.
//
// The file is never loaded whole:
//
//   - StreamingCountingReader tracks raw bytes consumed for progress reporting
//   - NewDecodingReader strips a UTF-8 BOM, transcodes UTF-16 files that carry
//     a BOM, and replaces invalid UTF-8 with U+FFFD
//
// Use WrapForStreaming to apply both in the correct order.

import (
	"io"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// StreamingCountingReader wraps an io.Reader and tracks bytes read.
// Counters are safe to read from another goroutine.
type StreamingCountingReader struct {
	reader    io.Reader
	bytesRead atomic.Int64
	total     int64
}

// NewStreamingCountingReader counts bytes read from r. total is the expected
// size, or <= 0 if unknown.
func NewStreamingCountingReader(r io.Reader, total int64) *StreamingCountingReader {
	return &StreamingCountingReader{reader: r, total: total}
}

func (r *StreamingCountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead.Add(int64(n))
	return n, err
}

// BytesRead returns the raw bytes consumed so far.
func (r *StreamingCountingReader) BytesRead() int64 { return r.bytesRead.Load() }

// Total returns the expected size passed to the constructor.
func (r *StreamingCountingReader) Total() int64 { return r.total }

// Progress returns percentage complete (0-100), or 0 if the total is unknown.
func (r *StreamingCountingReader) Progress() int {
	if r.total <= 0 {
		return 0
	}
	pct := int(r.bytesRead.Load() * 100 / r.total)
	return min(pct, 100)
}

// NewDecodingReader yields UTF-8 text from r. A UTF-8 or UTF-16 BOM selects
// the encoding and is removed; without one the input is treated as UTF-8.
// Invalid sequences become U+FFFD in every case, so the UTF-8 pass runs after
// the BOM step rather than as its fallback.
func NewDecodingReader(r io.Reader) io.Reader {
	return transform.NewReader(r, transform.Chain(
		unicode.BOMOverride(transform.Nop),
		unicode.UTF8.NewDecoder(),
	))
}

// WrapForStreaming counts raw bytes first, then decodes. The counter reports
// file offsets, not decoded text length.
func WrapForStreaming(r io.Reader, totalSize int64) (*StreamingCountingReader, io.Reader) {
	counter := NewStreamingCountingReader(r, totalSize)
	return counter, NewDecodingReader(counter)
}
