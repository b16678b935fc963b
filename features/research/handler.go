package research

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/anasrobo/research-agent/internal/pipeline"
)

// Service is the pipeline surface the transport layer consumes.
type Service interface {
	Submit(query string) (string, error)
	GetStatus(id string) (pipeline.Task, error)
	RunOnce(ctx context.Context, query string) (map[string]pipeline.StageOutput, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Submit starts a background research task and returns its id immediately.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	taskID, err := h.service.Submit(req.Query)
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"task_id": taskID}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Get returns a snapshot of a task's progress.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.GetStatus(r.PathValue("task_id"))
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Task not found", http.StatusNotFound)
			return
		}
		slog.Error("get task failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(task); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// RunOnce blocks until the pipeline finishes and returns the stage map.
func (h *Handler) RunOnce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.RunOnce(r.Context(), req.Query)
	if err != nil && result == nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	// A failed pipeline still returns its recorded stages, with the task
	// error alongside them rather than swallowed. Stage keys are capitalized,
	// so the lowercase error key cannot collide.
	resp := make(map[string]any, len(result)+1)
	for stage, out := range result {
		resp[stage] = out
	}
	if err != nil {
		resp["error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": code, "message": msg},
	}); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
