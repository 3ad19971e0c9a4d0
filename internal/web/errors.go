package web

// errors.go turns errors into JSON responses. The technical error is logged
// with the request id; the client gets the mapped message, action and code
// from core.MapError.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/logging"
	"github.com/JonMunkholm/tableload/internal/sink"
)

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error  string             `json:"error"`
	Action string             `json:"action,omitempty"`
	Code   string             `json:"code"`
	Result *core.IngestResult `json:"result,omitempty"`
}

// respondError logs err and writes its user-facing form. A zero status
// derives one from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	if status == 0 {
		status = statusFor(err)
	}

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	resp := ErrorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code}
	var rejected *core.SinkRejectedError
	if errors.As(err, &rejected) {
		resp.Result = &rejected.Result
	}
	writeJSON(w, status, resp)
}

// statusFor picks an HTTP status for err.
func statusFor(err error) int {
	var rejected *core.SinkRejectedError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, errFileTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFile), errors.Is(err, errInvalidForm):
		return http.StatusBadRequest
	case errors.As(err, &rejected):
		switch rejected.Kind {
		case sink.FailureConnection:
			return http.StatusBadGateway
		case sink.FailureTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrUploadNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrEmptySource),
		errors.Is(err, core.ErrMalformedFile),
		errors.Is(err, core.ErrInvalidSchema),
		errors.Is(err, core.ErrColumnMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrUploadTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if core.IsUserFacing(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
