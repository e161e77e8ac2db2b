// Package api implements the task REST endpoints on top of the lifecycle
// service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/helpdesk/comms"
	"github.com/GoCodeAlone/helpdesk/task"
)

// TaskService is the lifecycle surface the handlers drive.
type TaskService interface {
	CreateTask(ctx context.Context, in task.CreateInput, actor string) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, f task.Filter) ([]*task.Task, error)
	UpdateStatus(ctx context.Context, id string, next task.Status, actor string) (*task.Task, error)
	AssignTask(ctx context.Context, id, assignee, actor string) (*task.Task, error)
	RateTask(ctx context.Context, id string, rating int, comment, actor string) (*task.Rating, error)
	History(ctx context.Context, id string) ([]*task.Record, error)
}

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Tasks   TaskService
	Bus     comms.Bus
	Logger  *slog.Logger
	Version string
	StartAt int64 // unix timestamp of server start

	// Actor returns the authenticated caller of a request.
	Actor func(context.Context) string
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.createTask)
	mux.HandleFunc("GET /api/v1/tasks", h.listTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}/status", h.updateStatus)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}/assign", h.assignTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/rating", h.rateTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}/history", h.taskHistory)

	mux.HandleFunc("GET /api/v1/messages", h.listMessages)

	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// errorStatus maps a lifecycle error to its HTTP status and code.
func errorStatus(err error) (int, string) {
	switch task.KindOf(err) {
	case task.ErrValidation:
		return http.StatusBadRequest, "VALIDATION"
	case task.ErrInvalidStatus:
		return http.StatusBadRequest, "INVALID_STATUS"
	case task.ErrIllegalTransition:
		return http.StatusBadRequest, "ILLEGAL_TRANSITION"
	case task.ErrInvalidState:
		return http.StatusBadRequest, "INVALID_STATE"
	case task.ErrNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case task.ErrConflict:
		return http.StatusConflict, "CONFLICT"
	}
	if errors.Is(err, task.ErrAuditIncomplete) {
		return http.StatusInternalServerError, "AUDIT_INCOMPLETE"
	}
	return http.StatusInternalServerError, "STORE"
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("err", err),
		)
	}
	writeError(w, status, code, err.Error())
}

func (h *Handlers) actor(r *http.Request) string {
	if h.Actor == nil {
		return ""
	}
	return h.Actor(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// --- Task handlers ---

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var in task.CreateInput
	if !decode(w, r, &in) {
		return
	}
	t, err := h.Tasks.CreateTask(r.Context(), in, h.actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{Query: q.Get("filter")}

	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		filter.Status = &st
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	tasks, err := h.Tasks.ListTasks(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type statusRequest struct {
	Status task.Status `json:"status"`
}

func (h *Handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Tasks.UpdateStatus(r.Context(), r.PathValue("id"), req.Status, h.actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type assignRequest struct {
	AssignedTo string `json:"assigned_to"`
}

func (h *Handlers) assignTask(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Tasks.AssignTask(r.Context(), r.PathValue("id"), req.AssignedTo, h.actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type ratingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handlers) rateTask(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if !decode(w, r, &req) {
		return
	}
	rating, err := h.Tasks.RateTask(r.Context(), r.PathValue("id"), req.Rating, req.Comment, h.actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

// historyResponse wraps a task's history records.
type historyResponse struct {
	TaskID  string         `json:"task_id"`
	History []*task.Record `json:"history"`
}

func (h *Handlers) taskHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	recs, err := h.Tasks.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{TaskID: id, History: recs})
}

// --- Message handlers ---

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeJSON(w, http.StatusOK, []*comms.Message{})
		return
	}
	taskID := r.URL.Query().Get("task_id")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	msgs, err := h.Bus.History(taskID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE", err.Error())
		return
	}
	if msgs == nil {
		msgs = []*comms.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if h.StartAt > 0 {
		resp["uptime_seconds"] = int64(time.Since(time.Unix(h.StartAt, 0)).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
