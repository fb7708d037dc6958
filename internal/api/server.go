// Package api serves run status, job listings, manual corrections and run
// control over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/monitoring"
	"github.com/sells-group/jobsync/internal/pipeline"
	"github.com/sells-group/jobsync/internal/status"
	"github.com/sells-group/jobsync/internal/store"
	"github.com/sells-group/jobsync/internal/sweep"
)

const (
	maxRequestBodySize = 1 << 16
	defaultJobLimit    = 100
	maxJobLimit        = 1000
)

// Runner executes one ingestion run. *pipeline.Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, mode model.Mode) (*pipeline.Summary, error)
	Stop()
}

// Server owns the HTTP handlers and at most one background run at a time.
// Sweeps share the run slot so they never interleave with ingestion.
type Server struct {
	store     store.Store
	collector *monitoring.Collector
	runner    Runner
	sweeper   *sweep.Sweeper

	// runCtx outlives individual requests; cancelling it stops a run.
	runCtx context.Context
	slot   *semaphore.Weighted
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  model.Mode
	lastErr string
}

// New creates a Server. Background runs inherit ctx.
func New(ctx context.Context, st store.Store, collector *monitoring.Collector, runner Runner, sweeper *sweep.Sweeper) *Server {
	return &Server{
		store:     st,
		collector: collector,
		runner:    runner,
		sweeper:   sweeper,
		runCtx:    ctx,
		slot:      semaphore.NewWeighted(1),
	}
}

// Handler returns the routed handler with CORS for allowedOrigins.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Patch("/jobs/{id}", s.handlePatchJob)
	r.Get("/messages", s.handleListMessages)
	r.Patch("/messages/{id}", s.handlePatchMessage)
	r.Post("/runs", s.handleStartRun)
	r.Post("/runs/stop", s.handleStopRun)
	r.Post("/sweeps/{pass}", s.handleSweep)
	return r
}

// Wait blocks until a background run started by the server returns.
func (s *Server) Wait() { s.wg.Wait() }

// StopRun asks an in-flight run to halt. It reports whether one was running.
func (s *Server) StopRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return false
	}
	s.runner.Stop()
	return true
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	*monitoring.MetricsSnapshot
	ActiveRun model.Mode `json:"active_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}

	s.mu.Lock()
	resp := statusResponse{MetricsSnapshot: snap, ActiveRun: s.active, LastError: s.lastErr}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.StatusCounts(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "by_status": counts})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.JobFilter{Limit: defaultJobLimit}

	if v := q.Get("status"); v != "" {
		st := model.Category(strings.ToUpper(v))
		if !st.IsJobStatus() {
			writeError(w, http.StatusBadRequest, "unknown status %q", v)
			return
		}
		filter.Status = st
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit", defaultJobLimit); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset", 0); !ok {
		return
	}
	filter.Limit = min(max(filter.Limit, 1), maxJobLimit)

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": filter.Limit, "offset": filter.Offset})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type patchJobRequest struct {
	Status *model.Category `json:"status"`
	Notes  *string         `json:"notes"`
}

// handlePatchJob applies a manual status or notes edit. A manual status is
// taken as is, even when it ranks below the current one.
func (s *Server) handlePatchJob(w http.ResponseWriter, r *http.Request) {
	var req patchJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status == nil && req.Notes == nil {
		writeError(w, http.StatusBadRequest, "status or notes is required")
		return
	}
	if req.Status != nil {
		st := model.Category(strings.ToUpper(string(*req.Status)))
		if !st.IsJobStatus() {
			writeError(w, http.StatusBadRequest, "unknown status %q", *req.Status)
			return
		}
		req.Status = &st
	}

	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if req.Status != nil {
		job.Status = *req.Status
	}
	if req.Notes != nil {
		job.Notes = *req.Notes
	}
	if err := s.store.UpdateJob(r.Context(), job); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.MessageFilter{JobID: q.Get("job_id")}

	if v := q.Get("category"); v != "" {
		c := model.Category(strings.ToUpper(v))
		if !c.IsMessageCategory() {
			writeError(w, http.StatusBadRequest, "unknown category %q", v)
			return
		}
		filter.Category = c
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit", defaultJobLimit); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset", 0); !ok {
		return
	}
	filter.Limit = min(max(filter.Limit, 1), maxJobLimit)

	msgs, err := s.store.ListMessages(r.Context(), filter)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "limit": filter.Limit, "offset": filter.Offset})
}

type patchMessageRequest struct {
	Category model.Category `json:"category"`
}

// handlePatchMessage records a manual verdict for a message, then raises
// the owning job's status when the new category outranks it.
func (s *Server) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	var req patchMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cat, ok := model.ParseCategory(string(req.Category))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown category %q", req.Category)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := s.store.OverrideMessage(ctx, id, cat); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		internalError(w, r, err)
		return
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	resp := map[string]any{"message": msg}
	if msg.JobID != "" {
		job, err := s.store.GetJob(ctx, msg.JobID)
		if err != nil {
			internalError(w, r, err)
			return
		}
		if job != nil {
			if status.ShouldUpdate(job.Status, cat) {
				from := job.Status
				job.Status = cat
				if err := s.store.UpdateJob(ctx, job); err != nil {
					internalError(w, r, err)
					return
				}
				zap.L().Info("api: job status raised by manual verdict",
					zap.String("job_id", job.ID),
					zap.String("message_id", id),
					zap.String("from", string(from)),
					zap.String("to", string(cat)),
				)
			}
			resp["job"] = job
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type startRunRequest struct {
	Mode model.Mode `json:"mode"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Mode != model.ModeBackfill && req.Mode != model.ModeSync {
		writeError(w, http.StatusBadRequest, "mode must be backfill or sync")
		return
	}

	if !s.slot.TryAcquire(1) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	s.mu.Lock()
	s.active = req.Mode
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(req.Mode)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": string(req.Mode)})
}

func (s *Server) run(mode model.Mode) {
	defer s.wg.Done()
	defer s.slot.Release(1)

	log := zap.L().With(zap.String("component", "api"), zap.String("mode", string(mode)))
	start := time.Now()
	sum, err := s.runner.Run(s.runCtx, mode)

	s.mu.Lock()
	s.active = ""
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("api: run failed", zap.Error(err))
		return
	}
	log.Info("api: run finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("stored", sum.Stored),
		zap.String("halted", sum.Halted),
	)
}

func (s *Server) handleStopRun(w http.ResponseWriter, _ *http.Request) {
	if !s.StopRun() {
		writeError(w, http.StatusConflict, "no run in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusNotFound, "sweeps are not enabled")
		return
	}
	if !s.slot.TryAcquire(1) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.slot.Release(1)

	pass := chi.URLParam(r, "pass")
	var (
		reports []sweep.Report
		err     error
	)
	if pass == "all" {
		reports, err = s.sweeper.RunAll(r.Context())
	} else {
		var rep *sweep.Report
		if rep, err = s.sweeper.Run(r.Context(), pass); rep != nil {
			reports = append(reports, *rep)
		}
	}
	if errors.Is(err, sweep.ErrUnknownPass) {
		writeError(w, http.StatusBadRequest, "unknown sweep pass %q", pass)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, raw, name string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "%s must be a non-negative integer", name)
		return 0, false
	}
	return n, true
}
