// Package httpapi exposes the thin REST + WebSocket surface described
// by spec.md §6: createRun, cancelRun, getRunDetail, and streamEvents.
//
// Grounded on internal/apiserver/run/handler.go's route-registration
// and writeJSON/writeError helpers, internal/apiserver/server/handler.go's
// Router/corsMiddleware composition, and internal/apiserver/server/events.go's
// event-surface shape, with the teacher's Redis-Streams scheduler queue
// and OpenAPI-generated request types dropped in favor of a direct
// orchestrator.Orchestrator call and hand-written request structs, since
// this module has no generated client surface to keep in sync with.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"docseval/internal/config"
	"docseval/internal/eventlog"
	"docseval/internal/metrics"
	"docseval/internal/model"
	"docseval/internal/orchestrator"
	"docseval/internal/storage"
	"docseval/pkg/logging"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Store        storage.Store
	Events       *eventlog.Log
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Metrics
	Defaults     config.OrchestratorConfig
	Logger       *logging.Logger
}

// Handler serves every HTTP and WebSocket route.
type Handler struct {
	deps     Deps
	log      *logging.Logger
	upgrader websocket.Upgrader
}

// New constructs a Handler.
func New(deps Deps) *Handler {
	l := deps.Logger
	if l == nil {
		l = logging.Default("httpapi")
	}
	return &Handler{
		deps: deps,
		log:  l,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router assembles the full route table. WebSocket routes are mounted
// on a top-level mux outside the metrics middleware, mirroring the
// teacher's reason for doing so: wrapping a hijacked connection in the
// response-writer wrapper used for status-code capture breaks
// http.Hijacker.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/runs", h.createRun)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRunDetail)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", h.cancelRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", h.getEvents)

	apiHandler := h.deps.Metrics.Middleware(mux)
	corsHandler := corsMiddleware(apiHandler)

	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/runs/{id}/events", h.streamEvents)
	topMux.Handle("/", corsHandler)
	return topMux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// assignmentRequest is one entry of a createRun request's worker table.
type assignmentRequest struct {
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Quantity  int             `json:"quantity"`
	Overrides json.RawMessage `json:"overrides,omitempty"`
}

type workersRequest struct {
	WorkerCount *int                `json:"workerCount,omitempty"`
	Assignments []assignmentRequest `json:"assignments,omitempty"`
}

type taskRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Category        string   `json:"category,omitempty"`
	Difficulty      string   `json:"difficulty,omitempty"`
	ExpectedSignals []string `json:"expectedSignals,omitempty"`
}

// createRunRequest is the request body §6 names, all fields but
// docsUrl optional and defaulted from configuration.
type createRunRequest struct {
	DocsURL                 string          `json:"docsUrl"`
	TaskCount               *int            `json:"taskCount,omitempty"`
	ExecutionConcurrency    *int            `json:"executionConcurrency,omitempty"`
	JudgeConcurrency        *int            `json:"judgeConcurrency,omitempty"`
	MaxStepsPerTask         *int            `json:"maxStepsPerTask,omitempty"`
	MaxTokensPerTask        *int            `json:"maxTokensPerTask,omitempty"`
	HardCostCapUSD          *float64        `json:"hardCostCapUsd,omitempty"`
	TieBreakEnabled         *bool           `json:"tieBreakEnabled,omitempty"`
	EnableSkillOptimization *bool           `json:"enableSkillOptimization,omitempty"`
	RunModel                *string         `json:"runModel,omitempty"`
	JudgeModel              *string         `json:"judgeModel,omitempty"`
	Workers                 *workersRequest `json:"workers,omitempty"`
	Tasks                   []taskRequest   `json:"tasks,omitempty"`
}

// createRun builds a RunConfig from defaults overlaid with the request
// body, rescaling worker assignments to sum to workerCount per §4, then
// persists the run queued and starts it in the background.
//
// POST /api/v1/runs
func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocsURL == "" {
		writeError(w, http.StatusBadRequest, "docsUrl is required")
		return
	}

	cfg := h.resolveRunConfig(req)

	run := &model.Run{
		ID:        storage.NewID("run"),
		DocsURL:   req.DocsURL,
		Status:    model.RunStatusQueued,
		Config:    cfg,
		StartedAt: time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.deps.Store.CreateRun(r.Context(), run); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("create run")
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.deps.Orchestrator.StartRunInBackground(run.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"runId": run.ID})
}

func (h *Handler) resolveRunConfig(req createRunRequest) model.RunConfig {
	d := h.deps.Defaults
	cfg := model.RunConfig{
		MaxTasks:                d.MaxTasks,
		MaxStepsPerTask:         d.MaxStepsPerTask,
		MaxTokensPerTask:        d.MaxTokensPerTask,
		HardCostCapUSD:          d.HardCostCapUSD,
		ExecutionConcurrency:    d.ExecutionConcurrency,
		JudgeConcurrency:        d.JudgeConcurrency,
		TieBreakEnabled:         d.TieBreakEnabled,
		EnableSkillOptimization: d.EnableSkillOptimization,
		RunModel:                d.RunModel,
		JudgeModel:              d.JudgeModel,
		TimeoutMs:               int(d.ModelTimeout.Milliseconds()),
		Retries:                 2,
		WorkerCount:             d.WorkerCount,
	}

	if req.TaskCount != nil {
		cfg.MaxTasks = *req.TaskCount
	}
	if req.ExecutionConcurrency != nil {
		cfg.ExecutionConcurrency = *req.ExecutionConcurrency
	}
	if req.JudgeConcurrency != nil {
		cfg.JudgeConcurrency = *req.JudgeConcurrency
	}
	if req.MaxStepsPerTask != nil {
		cfg.MaxStepsPerTask = *req.MaxStepsPerTask
	}
	if req.MaxTokensPerTask != nil {
		cfg.MaxTokensPerTask = *req.MaxTokensPerTask
	}
	if req.HardCostCapUSD != nil {
		cfg.HardCostCapUSD = *req.HardCostCapUSD
	}
	if req.TieBreakEnabled != nil {
		cfg.TieBreakEnabled = *req.TieBreakEnabled
	}
	if req.EnableSkillOptimization != nil {
		cfg.EnableSkillOptimization = *req.EnableSkillOptimization
	}
	if req.RunModel != nil {
		cfg.RunModel = *req.RunModel
	}
	if req.JudgeModel != nil {
		cfg.JudgeModel = *req.JudgeModel
	}

	if req.Workers != nil && req.Workers.WorkerCount != nil {
		cfg.WorkerCount = *req.Workers.WorkerCount
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	cfg.Assignments = rescaleAssignments(req, cfg.WorkerCount, cfg.RunModel)

	for _, t := range req.Tasks {
		cfg.UserTasks = append(cfg.UserTasks, model.UserTask{
			Name:            t.Name,
			Description:     t.Description,
			Category:        t.Category,
			Difficulty:      t.Difficulty,
			ExpectedSignals: t.ExpectedSignals,
		})
	}

	return cfg
}

// rescaleAssignments implements §4's "assignments rescaled to sum to
// workerCount": proportionally scale the requested quantities so they
// sum exactly to workerCount, distributing any rounding remainder to
// the earliest entries. A request with no assignment table gets one
// entry using the resolved default model.
func rescaleAssignments(req createRunRequest, workerCount int, defaultModel string) []model.WorkerAssignment {
	var raw []assignmentRequest
	if req.Workers != nil {
		raw = req.Workers.Assignments
	}
	if len(raw) == 0 {
		return []model.WorkerAssignment{{Provider: "default", Model: defaultModel, Quantity: workerCount}}
	}

	requestedTotal := 0
	for _, a := range raw {
		requestedTotal += a.Quantity
	}
	if requestedTotal <= 0 {
		return []model.WorkerAssignment{{Provider: "default", Model: defaultModel, Quantity: workerCount}}
	}

	out := make([]model.WorkerAssignment, len(raw))
	assigned := 0
	for i, a := range raw {
		q := a.Quantity * workerCount / requestedTotal
		out[i] = model.WorkerAssignment{Provider: a.Provider, Model: a.Model, Quantity: q, Overrides: a.Overrides}
		assigned += q
	}
	for i := 0; assigned < workerCount; i = (i + 1) % len(out) {
		out[i].Quantity++
		assigned++
	}
	return out
}

// getRunDetail returns a snapshot of the run, its tasks, its workers,
// and its skill-optimization session if any.
//
// GET /api/v1/runs/{id}
func (h *Handler) getRunDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	run, err := h.deps.Store.GetRun(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	tasks, err := h.deps.Store.ListTasks(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	workers, err := h.deps.Store.ListWorkers(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}
	session, err := h.deps.Store.GetSkillSession(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to get skill session")
		return
	}
	runErrors, err := h.deps.Store.ListRunErrors(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list run errors")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":           run,
		"tasks":         tasks,
		"workers":       workers,
		"skillSession":  session,
		"errors":        runErrors,
	})
}

// cancelRun marks a non-terminal run canceled. Terminal runs are left
// untouched, per §4.8.
//
// POST /api/v1/runs/{id}/cancel
func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err := h.deps.Orchestrator.CancelRun(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// getEvents is the polling fallback alongside streamEvents: a plain
// cursor-by-id read, per §9.
//
// GET /api/v1/runs/{id}/events
func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	afterID, _ := strconv.ParseInt(r.URL.Query().Get("after_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	events, err := h.deps.Events.ReadAfter(r.Context(), id, afterID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// streamEvents upgrades to a WebSocket and pushes every event after
// afterId, including ones produced after the connection opens, closing
// once a run.{completed|failed|canceled} event is delivered or the
// client disconnects.
//
// GET /ws/runs/{id}/events?after_id=N
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	afterID, _ := strconv.ParseInt(r.URL.Query().Get("after_id"), 10, 64)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithRunID(id).WithError(err).Warn("websocket upgrade")
		return
	}
	defer conn.Close()
	h.deps.Metrics.WSConnectionOpened()
	defer h.deps.Metrics.WSConnectionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainClient(conn, cancel)

	events := h.deps.Events.Stream(ctx, id, afterID)
	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		h.deps.Metrics.RecordWSMessage("outbound")
		if isTerminalEvent(ev.EventType) {
			return
		}
	}
}

// drainClient discards inbound frames so the connection's read
// deadline / control-frame handling keeps working, and cancels ctx
// once the client goes away.
func drainClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func isTerminalEvent(eventType string) bool {
	switch eventType {
	case eventlog.EventRunCompleted, eventlog.EventRunFailed, eventlog.EventRunCanceled:
		return true
	default:
		return false
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
