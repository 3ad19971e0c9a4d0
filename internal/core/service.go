package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tableload/internal/metrics"
	"github.com/JonMunkholm/tableload/internal/sink"
)

// DefaultUploadTimeout bounds one whole upload.
const DefaultUploadTimeout = 30 * time.Minute

// DefaultResultRetention is how long a finished async upload stays queryable.
const DefaultResultRetention = 10 * time.Minute

// ServiceConfig tunes the pipeline. Zero values select the defaults.
type ServiceConfig struct {
	BatchSize       int
	BatchTimeout    time.Duration
	UploadTimeout   time.Duration
	Policy          sink.ConflictPolicy
	SampleSize      int
	HeaderScanRows  int
	MaxConcurrent   int
	MaxWait         time.Duration
	ResultRetention time.Duration
	Logger          *slog.Logger
}

// Service is the entry point for analyzing and loading files.
type Service struct {
	sink    sink.Sink
	cfg     ServiceConfig
	limiter *UploadLimiter
	logger  *slog.Logger

	mu      sync.RWMutex
	uploads map[string]*activeUpload
}

type activeUpload struct {
	ID       string
	Table    sink.TableRef
	FileName string
	Cancel   context.CancelFunc
	Reporter *Reporter
	Started  time.Time
	Done     chan struct{}

	// Written before Done is closed.
	Result   IngestResult
	Err      error
	Duration time.Duration
}

// NewService validates cfg and wires the pipeline to s.
func NewService(s sink.Sink, cfg ServiceConfig) (*Service, error) {
	if s == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d outside 1..%d", ErrInvalidBatchCfg, cfg.BatchSize, MaxBatchSize)
	}
	if cfg.Policy == "" {
		cfg.Policy = sink.ConflictIgnore
	}
	if _, err := sink.ParseConflictPolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = DefaultResultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		sink:    s,
		cfg:     cfg,
		limiter: NewUploadLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		logger:  logger,
		uploads: make(map[string]*activeUpload),
	}, nil
}

func (s *Service) sourceOptions() SourceOptions {
	return SourceOptions{HeaderScanRows: s.cfg.HeaderScanRows}
}

func (s *Service) loader(rep *Reporter, log *slog.Logger) *Loader {
	return &Loader{
		BatchSize:    s.cfg.BatchSize,
		BatchTimeout: s.cfg.BatchTimeout,
		Policy:       s.cfg.Policy,
		Reporter:     rep,
		Logger:       log,
	}
}

// removeFile deletes a spooled upload. Missing files are fine.
func (s *Service) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove upload file", "path", path, "error", err)
	}
}

// Analyze reads the header and a small sample and proposes a column set.
// It never touches the sink. file.Path is always deleted.
func (s *Service) Analyze(ctx context.Context, file UploadedFile) (*AnalysisResult, error) {
	defer s.removeFile(file.Path)

	stream, err := OpenSource(file.Path, file.Name, file.Format, s.sourceOptions())
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	headers := stream.Headers()
	if len(headers) == 0 {
		return nil, ErrEmptySource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sample, err := drain(stream, s.cfg.SampleSize)
	if err != nil {
		return nil, err
	}

	format := file.Format
	if format == FormatAuto {
		format, _ = DetectFormat(file.Name)
	}
	if sample == nil {
		sample = []RawRow{}
	}
	return &AnalysisResult{
		Format:      format,
		Headers:     headers,
		Columns:     InferSchema(headers, sample),
		PreviewRows: sample,
	}, nil
}

// Upload loads file into target and blocks until done. columns may be nil,
// in which case header names are used. file.Path is always deleted.
func (s *Service) Upload(ctx context.Context, file UploadedFile, target sink.TableRef, columns []ColumnDefinition) (IngestResult, error) {
	if err := target.Validate(); err != nil {
		s.removeFile(file.Path)
		return IngestResult{}, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		s.removeFile(file.Path)
		return IngestResult{}, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	rep := NewReporter("", target.String(), file.Name)
	return s.run(ctx, file, target, columns, rep, s.logger)
}

// StartUpload begins an asynchronous upload and returns its id immediately.
// The upload runs detached from ctx; ctx only bounds the wait for a slot.
func (s *Service) StartUpload(ctx context.Context, file UploadedFile, target sink.TableRef, columns []ColumnDefinition) (string, error) {
	if err := target.Validate(); err != nil {
		s.removeFile(file.Path)
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		s.removeFile(file.Path)
		return "", err
	}

	uploadID := uuid.New().String()
	uploadCtx, cancel := context.WithTimeout(context.Background(), s.cfg.UploadTimeout)

	upload := &activeUpload{
		ID:       uploadID,
		Table:    target,
		FileName: file.Name,
		Cancel:   cancel,
		Reporter: NewReporter(uploadID, target.String(), file.Name),
		Started:  time.Now(),
		Done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.uploads[uploadID] = upload
	s.mu.Unlock()

	log := s.logger.With("upload_id", uploadID)

	go func() {
		defer s.limiter.Release()
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in upload", "panic", r)
				upload.Err = fmt.Errorf("internal error: %v", r)
				_ = upload.Reporter.Fail(upload.Result, upload.Err)
			}
			upload.Duration = time.Since(upload.Started)
			cancel()
			close(upload.Done)
			s.scheduleCleanup(uploadID)
		}()

		upload.Result, upload.Err = s.run(uploadCtx, file, target, columns, upload.Reporter, log)
	}()

	return uploadID, nil
}

// run is the shared pipeline body. It owns file.Path and finishes rep.
func (s *Service) run(ctx context.Context, file UploadedFile, target sink.TableRef, columns []ColumnDefinition, rep *Reporter, log *slog.Logger) (IngestResult, error) {
	defer s.removeFile(file.Path)

	start := time.Now()
	log = log.With("table", target.String(), "file", file.Name)
	log.Info("upload started", "size", file.Size)

	res, err := s.load(ctx, file, target, columns, rep, log)

	status := "success"
	switch {
	case err == nil:
		_ = rep.Succeed(res)
		log.Info("upload complete", "rows", res.RowsProcessed, "written", res.RowsWritten, "batches", res.Batches,
			"duration", time.Since(start))
	case errors.Is(err, ErrUploadTimeout):
		status = "timeout"
		_ = rep.Fail(res, err)
		log.Error("upload timed out", "rows", res.RowsProcessed, "written", res.RowsWritten, "timeout", s.cfg.UploadTimeout)
	case errors.Is(err, ErrCancelled):
		status = "cancelled"
		_ = rep.Fail(res, err)
		log.Warn("upload cancelled", "rows", res.RowsProcessed, "written", res.RowsWritten)
	default:
		status = "error"
		_ = rep.Fail(res, err)
		log.Error("upload failed", "rows", res.RowsProcessed, "written", res.RowsWritten, "error", err)
	}

	metrics.IncCounter(metrics.IngestUploadsTotal, 1, metrics.Labels{"status": status})
	metrics.ObserveHistogram(metrics.IngestUploadDuration, time.Since(start).Seconds(), metrics.Labels{"status": status})
	return res, err
}

func (s *Service) load(ctx context.Context, file UploadedFile, target sink.TableRef, columns []ColumnDefinition, rep *Reporter, log *slog.Logger) (IngestResult, error) {
	_ = rep.Transition(PhaseReading)

	stream, err := OpenSource(file.Path, file.Name, file.Format, s.sourceOptions())
	if err != nil {
		return IngestResult{}, err
	}
	defer stream.Close()

	return s.loader(rep, log).Load(ctx, stream, target, columns, s.sink)
}

// scheduleCleanup forgets a finished upload after the retention period.
func (s *Service) scheduleCleanup(uploadID string) {
	time.AfterFunc(s.cfg.ResultRetention, func() {
		s.mu.Lock()
		delete(s.uploads, uploadID)
		s.mu.Unlock()
	})
}

func (s *Service) get(uploadID string) (*activeUpload, error) {
	s.mu.RLock()
	upload, ok := s.uploads[uploadID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, uploadID)
	}
	return upload, nil
}

// SubscribeProgress returns a channel of progress updates. It receives the
// current state first and is closed when the upload finishes.
func (s *Service) SubscribeProgress(uploadID string) (<-chan UploadProgress, error) {
	upload, err := s.get(uploadID)
	if err != nil {
		return nil, err
	}
	return upload.Reporter.Subscribe(), nil
}

// GetUploadProgress returns the current progress without subscribing.
func (s *Service) GetUploadProgress(uploadID string) (UploadProgress, error) {
	upload, err := s.get(uploadID)
	if err != nil {
		return UploadProgress{}, err
	}
	return upload.Reporter.Snapshot(), nil
}

// GetUploadResult blocks until the upload finishes or ctx ends.
func (s *Service) GetUploadResult(ctx context.Context, uploadID string) (*UploadResult, error) {
	upload, err := s.get(uploadID)
	if err != nil {
		return nil, err
	}

	select {
	case <-upload.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	snap := upload.Reporter.Snapshot()
	return &UploadResult{
		UploadID: upload.ID,
		Table:    upload.Table.String(),
		FileName: upload.FileName,
		Phase:    snap.Phase,
		Result:   upload.Result,
		Error:    snap.Message,
		Code:     snap.Code,
		Duration: upload.Duration,
	}, nil
}

// CancelUpload signals an in-progress upload to stop after its current batch.
func (s *Service) CancelUpload(uploadID string) error {
	upload, err := s.get(uploadID)
	if err != nil {
		return err
	}
	upload.Cancel()
	return nil
}

// UploadQueueStatus reports limiter occupancy.
func (s *Service) UploadQueueStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until running uploads finish or ctx ends.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CreateTable creates target from a column set, typically an edited Analyze
// result. Primary-key flags form one table-level key.
func (s *Service) CreateTable(ctx context.Context, target sink.TableRef, columns []ColumnDefinition) error {
	if err := target.Validate(); err != nil {
		return err
	}
	cols := make([]sink.Column, len(columns))
	for i, c := range columns {
		cols[i] = sink.Column{Name: c.Name, Type: c.SQLType, PrimaryKey: c.IsPrimaryKey}
	}
	if err := sink.ValidateColumns(cols); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	if err := s.sink.CreateTable(ctx, target, cols); err != nil {
		return err
	}
	s.logger.Info("table created", "table", target.String(), "columns", len(cols))
	return nil
}

// ListTables lists tables in namespace; empty means the connection default.
func (s *Service) ListTables(ctx context.Context, namespace string) ([]string, error) {
	return s.sink.ListTables(ctx, namespace)
}

// Ping checks that the sink is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.sink.Ping(ctx)
}
