package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/logging"
	"github.com/JonMunkholm/tableload/internal/sink"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before the standard library spills to its own temp files.
const multipartMemory = 8 << 20

var (
	errNoFile      = errors.New("no file provided")
	errFileTooBig  = errors.New("file too large")
	errInvalidForm = errors.New("invalid multipart form")
)

// spoolUpload parses the multipart request and copies the "file" part to
// UPLOAD_TEMP_DIR. Ownership of the returned path passes to the caller.
func (s *Server) spoolUpload(w http.ResponseWriter, r *http.Request) (core.UploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
			return core.UploadedFile{}, fmt.Errorf("%w: %w", errFileTooBig, err)
		}
		return core.UploadedFile{}, fmt.Errorf("%w: %w", errInvalidForm, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.UploadedFile{}, errNoFile
	}
	defer file.Close()

	format := core.Format(strings.ToLower(r.FormValue("format")))
	switch format {
	case core.FormatAuto, core.FormatCSV, core.FormatSpreadsheet:
	default:
		return core.UploadedFile{}, fmt.Errorf("%w: unknown format %q", errInvalidForm, format)
	}

	name := filepath.Base(header.Filename)
	dst, err := os.CreateTemp(s.cfg.Upload.TempDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return core.UploadedFile{}, fmt.Errorf("spool upload: %w", err)
	}

	n, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return core.UploadedFile{}, fmt.Errorf("spool upload: %w", err)
	}

	return core.UploadedFile{Path: dst.Name(), Name: name, Size: n, Format: format}, nil
}

// uploadTarget reads the destination and optional column set from the form.
func uploadTarget(r *http.Request) (sink.TableRef, []core.ColumnDefinition, error) {
	target := sink.TableRef{
		Namespace: strings.TrimSpace(r.FormValue("namespace")),
		Name:      strings.TrimSpace(r.FormValue("table")),
	}
	if err := target.Validate(); err != nil {
		return target, nil, err
	}

	var columns []core.ColumnDefinition
	if raw := r.FormValue("columns"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &columns); err != nil {
			return target, nil, fmt.Errorf("%w: columns: %w", core.ErrInvalidSchema, err)
		}
	}
	return target, columns, nil
}

// handleAnalyze proposes a column set and preview for an uploaded file.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	file, err := s.spoolUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	result, err := s.service.Analyze(r.Context(), file)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleUpload starts an asynchronous upload and returns its id.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, target, columns, ok := s.prepareUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if !ok {
		return
	}

	uploadID, err := s.service.StartUpload(r.Context(), file, target, columns)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	logging.WithFields(r.Context(), "table", target.String()).Info("upload accepted",
		"upload_id", uploadID, "file", file.Name, "size", file.Size)
	writeJSON(w, http.StatusAccepted, map[string]string{"uploadId": uploadID})
}

// handleUploadSync runs the whole upload inside the request.
func (s *Server) handleUploadSync(w http.ResponseWriter, r *http.Request) {
	file, target, columns, ok := s.prepareUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if !ok {
		return
	}

	result, err := s.service.Upload(r.Context(), file, target, columns)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// prepareUpload spools the file and parses the target. On failure it has
// already responded and removed any spooled file.
func (s *Server) prepareUpload(w http.ResponseWriter, r *http.Request) (core.UploadedFile, sink.TableRef, []core.ColumnDefinition, bool) {
	file, err := s.spoolUpload(w, r)
	if err != nil {
		respondError(w, r, err, 0)
		return file, sink.TableRef{}, nil, false
	}

	target, columns, err := uploadTarget(r)
	if err != nil {
		_ = os.Remove(file.Path)
		respondError(w, r, err, 0)
		return file, target, nil, false
	}
	return file, target, columns, true
}

// handleUploadProgress streams upload progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter.
func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	// The event id is the progress percentage, so a reconnecting client can
	// skip what it has already seen.
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(uploadID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			percent := progress.Percent()
			if percent <= lastEventID && !progress.Phase.Terminal() {
				continue
			}
			lastEventID = percent

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleUploadResult returns the final result of an upload. Unless wait=true
// is given, a running upload answers 202 with its current progress.
func (s *Server) handleUploadResult(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	if r.URL.Query().Get("wait") != "true" {
		progress, err := s.service.GetUploadProgress(uploadID)
		if err != nil {
			respondError(w, r, err, 0)
			return
		}
		if !progress.Phase.Terminal() {
			writeJSON(w, http.StatusAccepted, progress)
			return
		}
	}

	result, err := s.service.GetUploadResult(r.Context(), uploadID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCancelUpload asks an in-progress upload to stop after its current batch.
func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	if err := s.service.CancelUpload(uploadID); err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleUploadQueueStatus returns the current state of the upload limiter.
func (s *Server) handleUploadQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.UploadQueueStatus())
}
