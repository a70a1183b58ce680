// Package api exposes the orchestrator over HTTP: task submission, worker
// event ingestion and read-only monitoring endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvoland/orq/internal/dashboard"
	"github.com/mvoland/orq/internal/httputil"
	"github.com/mvoland/orq/internal/orchestrator"
	"github.com/mvoland/orq/internal/progress"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

type API struct {
	orc *orchestrator.Orchestrator
	mux *http.ServeMux
	log zerolog.Logger
}

type SubmitTaskRequest struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	AssignedWorkers   []string          `json:"assigned_workers"`
	Complexity        string            `json:"complexity"`
	EstimatedDuration *int64            `json:"estimated_duration_ms"`
	Subtasks          []string          `json:"subtasks"`
	Metadata          map[string]string `json:"metadata"`
}

type WorkerEventRequest struct {
	Worker   string `json:"worker"`
	Progress *int   `json:"progress"`
	Failure  string `json:"failure"`
}

func NewAPI(orc *orchestrator.Orchestrator, log zerolog.Logger) *API {
	api := &API{
		orc: orc,
		mux: http.NewServeMux(),
		log: log,
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)
	a.mux.HandleFunc("/api/workers", a.listWorkers)
	a.mux.HandleFunc("/api/workers/", a.handleWorkerByKind)
	a.mux.HandleFunc("/api/health", a.getHealth)

	dash := dashboard.NewDashboard(a.orc)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetHistory)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitTask(w, r)
	case http.MethodGet:
		a.listTasks(w)
	default:
		httputil.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) submitTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSONError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close request body")
		}
	}()

	var req SubmitTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	kinds := make([]registry.Kind, 0, len(req.AssignedWorkers))
	for _, k := range req.AssignedWorkers {
		kinds = append(kinds, registry.Kind(k))
	}

	def := task.NewDefinition(req.Name, kinds, task.Complexity(req.Complexity))
	if req.ID != "" {
		def.ID = req.ID
	}
	if req.EstimatedDuration != nil {
		def.EstimatedDuration = task.DurationMS(time.Duration(*req.EstimatedDuration) * time.Millisecond)
	}
	def.Subtasks = req.Subtasks
	def.Metadata = req.Metadata

	id, err := a.orc.SubmitTask(r.Context(), def)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), submitStatus(err))
		return
	}

	p, err := a.orc.TaskProgress(id)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, p)
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrWorkerBusy),
		errors.Is(err, progress.ErrDuplicateTask):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidTask),
		errors.Is(err, progress.ErrEmptyAssignment),
		errors.Is(err, progress.ErrUnknownWorkerReference):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) listTasks(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusOK, a.orc.Tasks())
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		httputil.WriteJSONError(w, "task ID is required", http.StatusBadRequest)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		a.getTask(w, id)
	case sub == "events" && r.Method == http.MethodPost:
		a.ingestEvent(w, r, id)
	case sub == "" || sub == "events":
		httputil.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	default:
		httputil.WriteJSONError(w, "not found", http.StatusNotFound)
	}
}

func (a *API) getTask(w http.ResponseWriter, id string) {
	p, err := a.orc.TaskProgress(id)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, p)
}

func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request, id string) {
	var req WorkerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close request body")
		}
	}()

	sig := orchestrator.Signal{Progress: req.Progress, Failure: req.Failure}
	if err := a.orc.IngestWorkerEvent(r.Context(), id, registry.Kind(req.Worker), sig); err != nil {
		httputil.WriteJSONError(w, err.Error(), ingestStatus(err))
		return
	}

	p, err := a.orc.TaskProgress(id)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, p)
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, progress.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrTaskFinished):
		return http.StatusGone
	case errors.Is(err, progress.ErrProgressRegression):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidSignal),
		errors.Is(err, progress.ErrInvalidPercent),
		errors.Is(err, progress.ErrUnknownWorkerReference),
		errors.Is(err, registry.ErrUnknownWorker):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, a.orc.Workers())
}

func (a *API) handleWorkerByKind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	kind := strings.TrimPrefix(r.URL.Path, "/api/workers/")
	status, err := a.orc.WorkerStatus(registry.Kind(kind))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, status)
}

func (a *API) getHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report := a.orc.SystemHealth()

	status := http.StatusOK
	if report.Status == orchestrator.SystemUnhealthy {
		status = http.StatusServiceUnavailable
	}

	httputil.WriteJSON(w, status, report)
}
