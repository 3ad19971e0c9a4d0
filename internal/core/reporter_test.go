package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/tableload/internal/sink"
)

func TestReporter_Lifecycle(t *testing.T) {
	r := NewReporter("u1", "items", "f.csv")
	if got := r.Snapshot().Phase; got != PhaseIdle {
		t.Fatalf("initial phase = %s, want idle", got)
	}

	steps := []UploadPhase{PhaseReading, PhaseWriting, PhaseReading, PhaseWriting}
	for _, p := range steps {
		if err := r.Transition(p); err != nil {
			t.Fatalf("Transition(%s) error = %v", p, err)
		}
	}
	if err := r.Advance(IngestResult{RowsProcessed: 5, RowsWritten: 4, Batches: 1}, 50, 100); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if got := r.Snapshot().Percent(); got != 50 {
		t.Errorf("Percent = %d, want 50", got)
	}

	if err := r.Succeed(IngestResult{RowsProcessed: 10, RowsWritten: 8, Batches: 2}); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}
	snap := r.Snapshot()
	if snap.Phase != PhaseSuccess || snap.RowsWritten != 8 || snap.Percent() != 100 {
		t.Errorf("final = %+v", snap)
	}

	select {
	case <-r.Done():
	default:
		t.Error("Done not closed after success")
	}
}

func TestReporter_TerminalIsFinal(t *testing.T) {
	r := NewReporter("u1", "items", "f.csv")
	if err := r.Fail(IngestResult{}, errors.New("boom")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	if err := r.Transition(PhaseReading); !errors.Is(err, ErrTerminalState) {
		t.Errorf("Transition after error = %v, want ErrTerminalState", err)
	}
	if err := r.Advance(IngestResult{RowsProcessed: 1}, 0, 0); !errors.Is(err, ErrTerminalState) {
		t.Errorf("Advance after error = %v, want ErrTerminalState", err)
	}
	if err := r.Succeed(IngestResult{}); !errors.Is(err, ErrTerminalState) {
		t.Errorf("Succeed after error = %v, want ErrTerminalState", err)
	}
	if got := r.Snapshot().Phase; got != PhaseError {
		t.Errorf("phase = %s, want error", got)
	}
}

func TestReporter_InvalidTransition(t *testing.T) {
	r := NewReporter("u1", "items", "f.csv")
	for _, p := range []UploadPhase{PhaseIdle, PhaseSuccess, PhaseError, PhaseCancelled} {
		if err := r.Transition(p); err == nil {
			t.Errorf("Transition(%s) succeeded, want error", p)
		}
	}
}

func TestReporter_FailMessages(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantPhase UploadPhase
		wantCode  string
		wantText  string
	}{
		{
			name:      "cancelled",
			err:       fmt.Errorf("%w: context canceled", ErrCancelled),
			wantPhase: PhaseCancelled,
			wantCode:  "UPL001",
		},
		{
			name: "missing table",
			err: &SinkRejectedError{
				Kind:  sink.FailureNoSuchTable,
				Batch: 1,
				Table: sink.TableRef{Namespace: "sales", Name: "orders"},
				Err:   errors.New("Table 'sales.orders' doesn't exist"),
			},
			wantPhase: PhaseError,
			wantCode:  "SNK003",
			wantText:  "Table sales.orders does not exist",
		},
		{
			name:      "empty source",
			err:       ErrEmptySource,
			wantPhase: PhaseError,
			wantCode:  "SRC001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReporter("u1", "items", "f.csv")
			if err := r.Fail(IngestResult{RowsProcessed: 1500}, tt.err); err != nil {
				t.Fatalf("Fail() error = %v", err)
			}
			snap := r.Snapshot()
			if snap.Phase != tt.wantPhase || snap.Code != tt.wantCode {
				t.Errorf("phase = %s code = %s, want %s %s", snap.Phase, snap.Code, tt.wantPhase, tt.wantCode)
			}
			if !strings.Contains(snap.Message, "1500 rows processed") {
				t.Errorf("Message %q lacks rows processed", snap.Message)
			}
			if tt.wantText != "" && !strings.Contains(snap.Message, tt.wantText) {
				t.Errorf("Message %q lacks %q", snap.Message, tt.wantText)
			}
		})
	}
}

func TestReporter_Subscribe(t *testing.T) {
	r := NewReporter("u1", "items", "f.csv")
	ch := r.Subscribe()

	if first := <-ch; first.Phase != PhaseIdle {
		t.Errorf("first update = %s, want idle", first.Phase)
	}

	// Overflow the buffer; the reporter must not block.
	for i := 0; i < 3*listenerBuffer; i++ {
		_ = r.Advance(IngestResult{RowsProcessed: int64(i)}, 0, 0)
	}
	_ = r.Succeed(IngestResult{RowsProcessed: 99})

	n := 0
	for range ch {
		n++
	}
	if n != listenerBuffer {
		t.Errorf("received %d buffered updates, want %d", n, listenerBuffer)
	}

	late := r.Subscribe()
	final, ok := <-late
	if !ok || final.Phase != PhaseSuccess {
		t.Errorf("late subscriber got %+v, %v", final, ok)
	}
	if _, ok := <-late; ok {
		t.Error("late subscriber channel not closed")
	}
}

func TestUploadProgress_Percent(t *testing.T) {
	tests := []struct {
		p    UploadProgress
		want int
	}{
		{UploadProgress{}, 0},
		{UploadProgress{SourceRead: 1, SourceTotal: 4}, 25},
		{UploadProgress{SourceRead: 4, SourceTotal: 4}, 99},
		{UploadProgress{SourceRead: 4, SourceTotal: 4, Phase: PhaseSuccess}, 100},
		{UploadProgress{Phase: PhaseSuccess}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Errorf("Percent(%+v) = %d, want %d", tt.p, got, tt.want)
		}
	}
}
