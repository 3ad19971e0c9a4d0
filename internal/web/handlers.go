package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/sink"
)

// healthPingTimeout bounds the database check in the health endpoint.
const healthPingTimeout = 2 * time.Second

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status   string    `json:"status"`
	Database string    `json:"database"`
	Time     time.Time `json:"time"`
}

// handleHealth reports liveness, sink reachability and server time.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok", Time: time.Now().UTC()}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleListTables lists tables in ?namespace= (default: connection default).
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	namespace := strings.TrimSpace(r.URL.Query().Get("namespace"))

	tables, err := s.service.ListTables(r.Context(), namespace)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespace": namespace, "tables": tables})
}

// CreateTableRequest is the body of POST /api/tables.
type CreateTableRequest struct {
	Namespace string                  `json:"namespace"`
	Table     string                  `json:"table"`
	Columns   []core.ColumnDefinition `json:"columns"`
}

// handleCreateTable creates a table from a column set, usually an edited
// analysis result.
func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", errInvalidForm, err), 0)
		return
	}

	target := sink.TableRef{Namespace: strings.TrimSpace(req.Namespace), Name: strings.TrimSpace(req.Table)}
	if err := s.service.CreateTable(r.Context(), target, req.Columns); err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"table": target.String()})
}
