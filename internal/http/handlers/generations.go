package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
)

type generationStartRequest struct {
	Prompt      string `json:"prompt"`
	Kind        string `json:"kind"`
	AspectRatio string `json:"aspect_ratio"`
	Model       string `json:"model"`
	Seed        int    `json:"seed"`
	Quantity    int    `json:"quantity"`
}

type generationStartResponse struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

type generationExtendRequest struct {
	Prompt string `json:"prompt"`
}

// GenerationsStart accepts a generation request and returns the correlation
// id immediately; the workflow continues over the bus.
func (a *App) GenerationsStart(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generationStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	kind := domain.TaskKind(req.Kind)
	if req.Kind == "" {
		kind = domain.TaskKindImage
	}
	params := domain.TaskParams{
		AspectRatio: req.AspectRatio,
		Model:       req.Model,
		Seed:        req.Seed,
		Quantity:    req.Quantity,
	}
	correlationID, err := a.Service.Start(r.Context(), userID, req.Prompt, kind, params)
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, generationStartResponse{
		CorrelationID: correlationID.String(),
		Status:        string(domain.TaskStatusSubmitted),
	})
}

// GenerationStatus returns the task record snapshot for a correlation id.
func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	correlationID, ok := a.correlationParam(w, r)
	if !ok {
		return
	}
	task, err := a.Service.GetStatus(r.Context(), correlationID)
	if err != nil {
		a.serviceError(w, err)
		return
	}
	if task.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	a.json(w, http.StatusOK, taskResponse(task))
}

// GenerationRefresh re-polls the provider synchronously and returns the
// refreshed record.
func (a *App) GenerationRefresh(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	correlationID, ok := a.correlationParam(w, r)
	if !ok {
		return
	}
	task, err := a.Service.Refresh(r.Context(), userID, correlationID)
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusOK, taskResponse(task))
}

// GenerationExtend starts a new workflow continuing an earlier job.
func (a *App) GenerationExtend(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	correlationID, ok := a.correlationParam(w, r)
	if !ok {
		return
	}
	var req generationExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	newID, err := a.Service.Extend(r.Context(), userID, correlationID, req.Prompt)
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, generationStartResponse{
		CorrelationID: newID.String(),
		Status:        string(domain.TaskStatusSubmitted),
	})
}

func (a *App) correlationParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "correlation_id")
	correlationID, err := uuid.Parse(raw)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid correlation id")
		return uuid.Nil, false
	}
	return correlationID, true
}

func (a *App) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusForbidden, "forbidden", "task belongs to another user")
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
	case errors.Is(err, domain.ErrInvalidKind):
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported task kind")
	case errors.Is(err, domain.ErrTaskNotReady):
		a.error(w, http.StatusConflict, "task_not_ready", "task has no provider job yet")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "request failed")
	}
}

func taskResponse(task *domain.TaskRecord) map[string]any {
	resp := map[string]any{
		"correlation_id":  task.CorrelationID,
		"user_id":         task.UserID,
		"prompt":          task.Prompt,
		"kind":            task.Kind,
		"status":          task.Status,
		"aspect_ratio":    task.Params.AspectRatio,
		"model":           task.Params.Model,
		"quantity":        task.Params.Quantity,
		"provider_job_id": task.ProviderJobID,
		"result_urls":     task.ResultURLs,
		"resolution":      task.Resolution,
		"created_at":      task.CreatedAt.Format(time.RFC3339),
	}
	if task.Status == domain.TaskStatusFailed {
		resp["error_code"] = task.ErrorCode
		resp["error_message"] = task.ErrorMessage
	}
	if task.CompletedAt != nil {
		resp["completed_at"] = task.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
