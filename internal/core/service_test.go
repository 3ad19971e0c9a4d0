package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/tableload/internal/sink"
	sinksqlite "github.com/JonMunkholm/tableload/internal/sink/sqlite"
)

const productsCSV = "id,name,price\n1,Widget,2.50\n2,Gadget,3\n"

func newTestService(t *testing.T) (*Service, sink.Sink) {
	t.Helper()
	s, err := sinksqlite.Open(context.Background(), sink.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "svc.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, ServiceConfig{BatchSize: 1, MaxConcurrent: 2, MaxWait: time.Second})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, s
}

// spool writes content the way the transport would and returns the handle.
func spool(t *testing.T, name, content string) UploadedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload-"+name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return UploadedFile{Path: path, Name: name, Size: int64(len(content))}
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file %s still exists (stat err = %v)", path, err)
	}
}

func createProducts(t *testing.T, svc *Service) sink.TableRef {
	t.Helper()
	table := sink.TableRef{Name: "products"}
	err := svc.CreateTable(context.Background(), table, []ColumnDefinition{
		{Name: "id", SQLType: "INTEGER", IsPrimaryKey: true},
		{Name: "name", SQLType: "VARCHAR(255)"},
		{Name: "price", SQLType: "DECIMAL(10,2)"},
	})
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return table
}

func TestService_Analyze(t *testing.T) {
	svc, _ := newTestService(t)
	file := spool(t, "products.csv", productsCSV)

	got, err := svc.Analyze(context.Background(), file)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	assertRemoved(t, file.Path)

	if got.Format != FormatCSV {
		t.Errorf("Format = %q, want csv", got.Format)
	}
	if len(got.Columns) != len(got.Headers) {
		t.Fatalf("columns = %d, headers = %d", len(got.Columns), len(got.Headers))
	}
	var types []string
	for _, c := range got.Columns {
		types = append(types, c.SQLType)
	}
	want := []string{"INTEGER", "VARCHAR(255)", "DECIMAL(10,2)"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("types = %v, want %v", types, want)
	}
	if len(got.PreviewRows) != 2 {
		t.Errorf("preview rows = %d, want 2", len(got.PreviewRows))
	}
}

func TestService_Analyze_EmptyFile(t *testing.T) {
	svc, _ := newTestService(t)
	file := spool(t, "empty.csv", "")

	_, err := svc.Analyze(context.Background(), file)
	if !errors.Is(err, ErrEmptySource) {
		t.Errorf("Analyze() error = %v, want ErrEmptySource", err)
	}
	assertRemoved(t, file.Path)
}

func TestService_Upload_IgnoreIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	table := createProducts(t, svc)
	ctx := context.Background()

	first, err := svc.Upload(ctx, spool(t, "products.csv", productsCSV), table, nil)
	if err != nil {
		t.Fatalf("first Upload() error = %v", err)
	}
	if first.RowsProcessed != 2 || first.RowsWritten != 2 || first.Batches != 2 {
		t.Errorf("first = %+v, want 2/2/2", first)
	}

	file := spool(t, "products.csv", productsCSV)
	second, err := svc.Upload(ctx, file, table, nil)
	if err != nil {
		t.Fatalf("second Upload() error = %v", err)
	}
	if second.RowsProcessed != 2 || second.RowsWritten != 0 {
		t.Errorf("second = %+v, want 2 processed, 0 written", second)
	}
	assertRemoved(t, file.Path)
}

func TestService_Upload_MissingTable(t *testing.T) {
	svc, _ := newTestService(t)
	file := spool(t, "products.csv", productsCSV)

	res, err := svc.Upload(context.Background(), file, sink.TableRef{Name: "nope"}, nil)
	assertRemoved(t, file.Path)

	var rejected *SinkRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Upload() error = %v, want *SinkRejectedError", err)
	}
	if rejected.Kind != sink.FailureNoSuchTable || rejected.Batch != 1 {
		t.Errorf("kind = %s batch = %d, want no_such_table 1", rejected.Kind, rejected.Batch)
	}
	if res.RowsWritten != 0 {
		t.Errorf("RowsWritten = %d, want 0", res.RowsWritten)
	}
	if msg := FormatUserError(err); !strings.Contains(msg, "Table nope does not exist") {
		t.Errorf("FormatUserError() = %q", msg)
	}
}

func TestService_Upload_InvalidTarget(t *testing.T) {
	svc, _ := newTestService(t)
	file := spool(t, "products.csv", productsCSV)

	if _, err := svc.Upload(context.Background(), file, sink.TableRef{}, nil); err == nil {
		t.Error("Upload() with empty table succeeded")
	}
	assertRemoved(t, file.Path)
}

func TestService_StartUpload(t *testing.T) {
	svc, _ := newTestService(t)
	table := createProducts(t, svc)
	file := spool(t, "products.csv", productsCSV)

	id, err := svc.StartUpload(context.Background(), file, table, nil)
	if err != nil {
		t.Fatalf("StartUpload() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := svc.GetUploadResult(ctx, id)
	if err != nil {
		t.Fatalf("GetUploadResult() error = %v", err)
	}
	if got.Phase != PhaseSuccess || got.Result.RowsWritten != 2 || got.Error != "" {
		t.Errorf("result = %+v", got)
	}
	assertRemoved(t, file.Path)

	progress, err := svc.GetUploadProgress(id)
	if err != nil {
		t.Fatalf("GetUploadProgress() error = %v", err)
	}
	if progress.Percent() != 100 {
		t.Errorf("Percent = %d, want 100", progress.Percent())
	}

	ch, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	if last := <-ch; last.Phase != PhaseSuccess {
		t.Errorf("late subscriber phase = %s", last.Phase)
	}

	if err := svc.WaitForUploads(ctx); err != nil {
		t.Errorf("WaitForUploads() error = %v", err)
	}
	if st := svc.UploadQueueStatus(); st.Active != 0 {
		t.Errorf("active = %d after completion", st.Active)
	}
}

func TestService_UnknownUpload(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.GetUploadResult(context.Background(), "missing"); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("GetUploadResult() error = %v, want ErrUploadNotFound", err)
	}
	if err := svc.CancelUpload("missing"); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("CancelUpload() error = %v, want ErrUploadNotFound", err)
	}
	if _, err := svc.SubscribeProgress("missing"); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("SubscribeProgress() error = %v, want ErrUploadNotFound", err)
	}
}

func TestService_CreateAndListTables(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createProducts(t, svc)

	err := svc.CreateTable(ctx, sink.TableRef{Name: "bad"}, []ColumnDefinition{{Name: "x", SQLType: "BLOB"}})
	if !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("CreateTable(BLOB) error = %v, want ErrInvalidSchema", err)
	}

	names, err := svc.ListTables(ctx, "")
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"products"}) {
		t.Errorf("ListTables() = %v, want [products]", names)
	}
	if err := svc.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(nil, ServiceConfig{}); err == nil {
		t.Error("NewService(nil) succeeded")
	}
	s := &fakeSink{}
	if _, err := NewService(s, ServiceConfig{BatchSize: MaxBatchSize + 1}); !errors.Is(err, ErrInvalidBatchCfg) {
		t.Errorf("oversized batch error = %v, want ErrInvalidBatchCfg", err)
	}
	if _, err := NewService(s, ServiceConfig{Policy: "merge"}); err == nil {
		t.Error("unknown policy accepted")
	}
}
