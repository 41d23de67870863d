package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/cwbudde/dfsolve/internal/problem"
	"github.com/cwbudde/dfsolve/internal/solver"
	"github.com/cwbudde/dfsolve/internal/store"
)

// Server is the HTTP job server. Jobs run through a bounded worker pool;
// submissions beyond the pool size stay pending until a slot frees.
type Server struct {
	jobManager *JobManager
	store      *store.FSStore
	addr       string
	pool       *pool.Pool
	submitters sync.WaitGroup
	server     *http.Server
}

// NewServer creates a new HTTP server. st may be nil, in which case runs are
// neither traced nor archived. maxConcurrent bounds how many jobs solve at
// once; values below 1 select the default of 4.
func NewServer(addr string, st *store.FSStore, maxConcurrent int) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		addr:       addr,
		pool:       pool.New().WithMaxGoroutines(maxConcurrent),
	}
}

// routes builds the handler tree with middleware applied.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/problems", s.handleListProblems)
	mux.HandleFunc("/api/v1/solvers", s.handleListSolvers)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for in-flight jobs to drain
// until ctx expires. Jobs still running at the deadline are abandoned.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.submitters.Wait()
		s.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("Abandoning unfinished jobs", "running", len(s.jobManager.RunningJobs()))
		return ctx.Err()
	}
}

// submit hands a job to the worker pool without blocking the caller. The
// submitter goroutine waits for a pool slot; the job stays pending until one
// frees.
func (s *Server) submit(jobID string) {
	s.submitters.Add(1)
	go func() {
		defer s.submitters.Done()
		s.pool.Go(func() {
			runJob(s.jobManager, s.store, jobID)
		})
	}()
}

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "dfsolve",
		"api":     "/api/v1",
	})
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	// Parse job ID from path
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetJobStatus(w, r, jobID)
		case http.MethodDelete:
			s.handleCancelJob(w, r, jobID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Route based on subpath
	switch parts[1] {
	case "status":
		s.handleGetJobStatus(w, r, jobID)
	case "trace":
		s.handleGetTrace(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config RunConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Engines accept no cancellation signal, so an unbudgeted job would hold
	// its pool slot forever.
	if !config.HasBudget() {
		http.Error(w, "at least one of settings.maxEvaluations, settings.maxSeconds or settings.maxIterations must be set", http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)
	s.submit(job.ID)

	slog.Info("Job created", "jobID", job.ID, "problem", config.Problem, "solver", config.Solver)
	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id and :id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.Started != nil {
		if job.Finished != nil {
			elapsed = job.Finished.Sub(*job.Started)
		} else {
			elapsed = time.Since(*job.Started)
		}
	}

	response := map[string]interface{}{
		"id":          job.ID,
		"state":       job.State,
		"config":      job.Config,
		"iterations":  job.Iterations,
		"evaluations": job.Evaluations,
		"bestF":       job.BestF,
		"violation":   job.Violation,
		"result":      job.Result,
		"created":     job.Created,
		"started":     job.Started,
		"finished":    job.Finished,
		"error":       job.Error,
		"elapsed":     elapsed.Seconds(),
		"evalsPerSec": evalsPerSec(job.Evaluations, elapsed),
	}

	writeJSON(w, http.StatusOK, response)
}

// handleCancelJob handles DELETE /api/v1/jobs/:id. Cancelling a pending job
// prevents it from ever starting; a running job is detached and its result
// discarded. Finished jobs conflict.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	var conflict bool
	err := s.jobManager.UpdateJob(jobID, func(j *Job) {
		if j.State.Terminal() {
			conflict = true
			return
		}
		finished := time.Now()
		j.State = StateCancelled
		j.Finished = &finished
	})
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if conflict {
		http.Error(w, "Job already finished", http.StatusConflict)
		return
	}

	job, _ := s.jobManager.GetJob(jobID)
	slog.Info("Job cancelled", "jobID", jobID)

	s.jobManager.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCancelled,
		Iterations:  job.Iterations,
		Evaluations: job.Evaluations,
		BestF:       job.BestF,
		Timestamp:   time.Now(),
	})

	writeJSON(w, http.StatusOK, job)
}

// handleGetTrace handles GET /api/v1/jobs/:id/trace, returning the archived
// iteration trace as a JSON array.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.store == nil {
		http.Error(w, "Tracing is not enabled on this server", http.StatusNotFound)
		return
	}

	reader, err := store.NewTraceReader(s.store.BaseDir(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trace not found", http.StatusNotFound)
		} else {
			http.Error(w, fmt.Sprintf("Failed to open trace: %v", err), http.StatusInternalServerError)
		}
		return
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read trace: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// handleListProblems handles GET /api/v1/problems
func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, problem.Names())
}

// handleListSolvers handles GET /api/v1/solvers
func (s *Server) handleListSolvers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, solver.Names())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
