package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/tableload/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()
	t.Setenv("ENV", "test")

	b, err := NewBackend(context.Background(), Options{
		Tags:       []string{"team:data"},
		FlushEvery: time.Hour,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Errorf("resolveEnvTag() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFlush_Counters(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.IngestRowsTotal, 1000, metrics.Labels{"kind": "processed"})
	b.IncCounter(metrics.IngestRowsTotal, 500, metrics.Labels{"kind": "processed"})
	b.IncCounter(metrics.IngestRowsTotal, 0, metrics.Labels{"kind": "written"})
	b.IncCounter("unknown_metric", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.count())
	}

	series := sub.last().Series
	if len(series) != 1 {
		t.Fatalf("len(series) = %d, want 1: %+v", len(series), series)
	}
	s := series[0]
	if s.Metric != "tableload.ingest.rows.total" {
		t.Errorf("Metric = %q", s.Metric)
	}
	if got := *s.Points[0].Value; got != 1500 {
		t.Errorf("value = %v, want 1500", got)
	}
	if got := *s.Points[0].Timestamp; got != 1700000000 {
		t.Errorf("timestamp = %d", got)
	}
	wantTags := []string{"env:test", "service:tableload", "team:data", "kind:processed"}
	if !reflect.DeepEqual(s.Tags, wantTags) {
		t.Errorf("Tags = %v, want %v", s.Tags, wantTags)
	}
}

func TestFlush_HistogramPercentiles(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	for _, v := range []float64{0.4, 0.1, 0.3, 0.2} {
		b.ObserveHistogram(metrics.IngestBatchDuration, v, metrics.Labels{"status": "ok"})
	}
	b.ObserveHistogram(metrics.IngestBatchDuration, -1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got := map[string]float64{}
	for _, s := range sub.last().Series {
		got[s.Metric] = *s.Points[0].Value
	}
	prefix := "tableload.ingest.batch.duration_seconds"
	if got[prefix+".max"] != 0.4 {
		t.Errorf("max = %v, want 0.4", got[prefix+".max"])
	}
	if got[prefix+".samples"] != 4 {
		t.Errorf("samples = %v, want 4", got[prefix+".samples"])
	}
	if got[prefix+".p50"] != 0.3 {
		t.Errorf("p50 = %v, want 0.3", got[prefix+".p50"])
	}
}

func TestFlush_EmptyAndReset(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("intake down")}
	b := newTestBackend(t, sub)

	if err := b.Flush(); err != nil {
		t.Errorf("Flush() on empty buffer = %v, want nil", err)
	}
	if sub.count() != 0 {
		t.Errorf("empty Flush submitted %d payloads", sub.count())
	}

	b.IncCounter(metrics.IngestBatchesTotal, 1, nil)
	if err := b.Flush(); err == nil {
		t.Error("Flush() expected submitter error")
	}

	// Buffers are reset even on failure.
	if err := b.Flush(); err != nil {
		t.Errorf("second Flush() = %v, want nil", err)
	}
	if sub.count() != 1 {
		t.Errorf("submissions = %d, want 1", sub.count())
	}
}

func TestClose_FinalFlush(t *testing.T) {
	sub := &fakeSubmitter{}
	t.Setenv("ENV", "")
	b, err := NewBackend(context.Background(), Options{FlushEvery: time.Hour, submitter: sub})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.IngestUploadsTotal, 1, metrics.Labels{"status": "success"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if sub.count() != 1 {
		t.Errorf("submissions after Close = %d, want 1", sub.count())
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1}, {0.5, 3}, {0.9, 5}, {1, 5},
	}
	for _, tt := range tests {
		if got := percentileNearestRank(s, tt.p); got != tt.want {
			t.Errorf("percentileNearestRank(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Errorf("percentileNearestRank(nil) = %v, want 0", got)
	}
}
