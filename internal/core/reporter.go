package core

import (
	"errors"
	"fmt"
	"sync"
)

// UploadPhase indicates the current stage of upload processing.
type UploadPhase string

const (
	PhaseIdle      UploadPhase = "idle"
	PhaseReading   UploadPhase = "reading"
	PhaseWriting   UploadPhase = "writing"
	PhaseSuccess   UploadPhase = "success"
	PhaseError     UploadPhase = "error"
	PhaseCancelled UploadPhase = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (p UploadPhase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseError || p == PhaseCancelled
}

// ErrTerminalState is returned for any transition out of a terminal phase.
var ErrTerminalState = errors.New("upload already finished")

// listenerBuffer is the per-subscriber channel capacity. A full listener
// misses intermediate updates but always receives the final one unless it
// is still full at that point.
const listenerBuffer = 10

// UploadProgress represents the current state of an upload operation.
type UploadProgress struct {
	UploadID      string      `json:"uploadId"`
	Table         string      `json:"table"`
	FileName      string      `json:"fileName"`
	Phase         UploadPhase `json:"phase"`
	RowsProcessed int64       `json:"rowsProcessed"`
	RowsWritten   int64       `json:"rowsWritten"`
	Batches       int         `json:"batches"`

	// Source position: bytes for delimited text, rows for spreadsheets.
	SourceRead  int64 `json:"sourceRead"`
	SourceTotal int64 `json:"sourceTotal"`

	// Set when Phase is PhaseError or PhaseCancelled.
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Percent returns progress as 0-100. It stays at 99 or below until the
// upload succeeds, since the last batch may still be writing.
func (p UploadProgress) Percent() int {
	if p.Phase == PhaseSuccess {
		return 100
	}
	if p.SourceTotal <= 0 {
		return 0
	}
	return min(int(p.SourceRead*100/p.SourceTotal), 99)
}

// Reporter holds the progress of one upload and fans updates out to
// subscribers.
type Reporter struct {
	mu        sync.Mutex
	progress  UploadProgress
	listeners []chan UploadProgress
	done      chan struct{}
}

// NewReporter starts in PhaseIdle.
func NewReporter(uploadID, table, fileName string) *Reporter {
	return &Reporter{
		progress: UploadProgress{
			UploadID: uploadID,
			Table:    table,
			FileName: fileName,
			Phase:    PhaseIdle,
		},
		done: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current progress.
func (r *Reporter) Snapshot() UploadProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Done is closed once a terminal phase is reached.
func (r *Reporter) Done() <-chan struct{} { return r.done }

// Subscribe returns a channel that receives the current state immediately and
// every later update. It is closed after the terminal update.
func (r *Reporter) Subscribe() <-chan UploadProgress {
	ch := make(chan UploadProgress, listenerBuffer)

	r.mu.Lock()
	defer r.mu.Unlock()

	ch <- r.progress
	if r.progress.Phase.Terminal() {
		close(ch)
		return ch
	}
	r.listeners = append(r.listeners, ch)
	return ch
}

// Transition moves to a non-terminal phase. Reading and writing may alternate.
func (r *Reporter) Transition(phase UploadPhase) error {
	if phase.Terminal() || phase == PhaseIdle {
		return fmt.Errorf("invalid transition to %q", phase)
	}
	return r.update(func(p *UploadProgress) { p.Phase = phase })
}

// Advance records counters without changing phase.
func (r *Reporter) Advance(res IngestResult, read, total int64) error {
	return r.update(func(p *UploadProgress) {
		p.RowsProcessed = res.RowsProcessed
		p.RowsWritten = res.RowsWritten
		p.Batches = res.Batches
		p.SourceRead = read
		p.SourceTotal = total
	})
}

// Succeed records the final counters and closes all subscriptions.
func (r *Reporter) Succeed(res IngestResult) error {
	return r.finish(PhaseSuccess, res, nil)
}

// Fail records err with its user-facing message. Cancellation ends in
// PhaseCancelled, anything else in PhaseError.
func (r *Reporter) Fail(res IngestResult, err error) error {
	phase := PhaseError
	if errors.Is(err, ErrCancelled) {
		phase = PhaseCancelled
	}
	return r.finish(phase, res, err)
}

func (r *Reporter) finish(phase UploadPhase, res IngestResult, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress.Phase.Terminal() {
		return ErrTerminalState
	}
	r.progress.Phase = phase
	r.progress.RowsProcessed = res.RowsProcessed
	r.progress.RowsWritten = res.RowsWritten
	r.progress.Batches = res.Batches
	if cause != nil {
		msg := MapError(cause)
		r.progress.Message = fmt.Sprintf("%s (Code: %s). %s. %d rows processed before the failure.",
			msg.Message, msg.Code, msg.Action, res.RowsProcessed)
		r.progress.Code = msg.Code
	}

	r.notifyLocked()
	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	close(r.done)
	return nil
}

func (r *Reporter) update(fn func(*UploadProgress)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress.Phase.Terminal() {
		return ErrTerminalState
	}
	fn(&r.progress)
	r.notifyLocked()
	return nil
}

// notifyLocked sends without blocking; a full listener drops the update.
func (r *Reporter) notifyLocked() {
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
		}
	}
}
