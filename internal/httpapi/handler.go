// Package httpapi is the thin HTTP surface of spec §4.8/§4.9: it adapts
// net/http requests to the Orchestrator and Streaming Dispatch APIs and
// carries no orchestration logic of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cih1996/AI-intelligent-agent-system/internal/memory"
	"github.com/cih1996/AI-intelligent-agent-system/internal/observability"
	"github.com/cih1996/AI-intelligent-agent-system/internal/orchestrator"
	"github.com/cih1996/AI-intelligent-agent-system/internal/session"
	"github.com/cih1996/AI-intelligent-agent-system/internal/streaming"
)

// plannerAgentName is the session agent whose .session file is used for
// conversation listing/mtime sort and history retrieval (spec §4.9).
const plannerAgentName = "planner"

// maxRequestBody bounds decoded request bodies against a misbehaving or
// hostile client, mirroring the teacher's decodeJSONRequest idiom.
const maxRequestBody = 1 << 20

// Handler registers the orchestrator's HTTP surface on a ServeMux.
type Handler struct {
	mux          *http.ServeMux
	orchestrator *orchestrator.Orchestrator
	sessions     session.Store
	memory       *memory.Store
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (h *Handler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

// New builds a Handler and registers its routes.
func New(orc *orchestrator.Orchestrator, sessions session.Store, memStore *memory.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		mux:          http.NewServeMux(),
		orchestrator: orc,
		sessions:     sessions,
		memory:       memStore,
		logger:       logger.With("component", "httpapi.Handler"),
	}
	h.routes()
	return h
}

// ServeHTTP satisfies http.Handler, recording one HTTP request metric per
// call.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
}

// statusRecorder captures the status code written by the wrapped
// handler so ServeHTTP can label its metric after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush satisfies http.Flusher by delegating to the wrapped writer, so
// handleChat's SSE stream keeps flushing through the metrics wrapper
// (spec §4.8 requires events delivered without buffering).
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *Handler) routes() {
	h.mux.HandleFunc("POST /api/chat", h.handleChat)
	h.mux.HandleFunc("POST /api/conversations", h.handleCreateConversation)
	h.mux.HandleFunc("GET /api/conversations", h.handleListConversations)
	h.mux.HandleFunc("GET /api/conversations/{cid}/history", h.handleHistory)
	h.mux.HandleFunc("DELETE /api/conversations/{cid}", h.handleDeleteConversation)
	h.mux.HandleFunc("GET /api/health", h.handleHealth)
}

type chatRequest struct {
	HistoryFile string `json:"history_file"`
	Message     string `json:"message"`
}

// handleChat spawns the orchestrator on a worker and streams its events
// back as text/event-stream (spec §4.8).
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSONRequest(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" || req.HistoryFile == "" {
		http.Error(w, "history_file and message are required", http.StatusBadRequest)
		return
	}

	worker := streaming.Run(context.WithoutCancel(r.Context()), func(ctx context.Context, emit orchestrator.Emitter) error {
		return h.orchestrator.RunTurn(ctx, req.HistoryFile, req.Message, emit)
	})

	if err := streaming.WriteSSE(w, worker); err != nil {
		h.logger.Warn("sse write failed", "error", err)
	}
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	cid, err := h.sessions.Create()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cid": cid})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	infos, err := h.sessions.List(plannerAgentName)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	history, err := h.sessions.LoadHistory(cid, plannerAgentName)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")

	if err := h.sessions.Delete(cid); err != nil && !errors.Is(err, session.ErrNotFound) {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.memory.DeleteConversation(cid); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	h.orchestrator.EvictConversation(cid)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSONRequest(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
