// Package server exposes the pipeline over HTTP. Every mutating endpoint
// creates its jobs, hands them to the background worker and answers with
// the job ids right away; clients poll GET /jobs/{id} for progress.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/orchestrator"
	"github.com/programme-lv/probpipe/internal/stages"
)

// Submitter queues an orchestration.
type Submitter interface {
	Submit(tasks []orchestrator.Task) error
}

type Server struct {
	router       chi.Router
	store        *jobstore.Store
	pipeline     *orchestrator.Pipeline
	worker       Submitter
	problemsRoot string
	log          *slog.Logger

	metrics        HTTPRecorder
	metricsHandler http.Handler
}

type Option func(*Server)

// WithMetrics records request metrics and serves handler on /metrics.
func WithMetrics(rec HTTPRecorder, handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = rec
		s.metricsHandler = handler
	}
}

func New(store *jobstore.Store, pipeline *orchestrator.Pipeline, worker Submitter, problemsRoot string, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		store:        store,
		pipeline:     pipeline,
		worker:       worker,
		problemsRoot: problemsRoot,
		log:          log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logging)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	r.Get("/jobs/*", s.handleGetJob)
	r.Post("/jobs/purge", s.handlePurge)

	r.Route("/problems/{slug}", func(r chi.Router) {
		r.Use(s.requireProblem)
		r.Post("/run", s.handleRunPipeline)
		r.Post("/solutions/run", s.handleRunSolutions)
		r.Get("/solutions/merged-results", s.handleMergedResults)
		r.Post("/validators/run", s.handleRunValidators)
		r.Post("/tests/generate", s.handleGenerateTests)
		r.Post("/review", s.handleReview)
		r.Get("/review/latest", s.handleLatestReview)
	})
}

// requireProblem answers 404 for slugs without a problem directory.
func (s *Server) requireProblem(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		if slug == "" || strings.ContainsAny(slug, `/\`) || slug == "." || slug == ".." {
			writeError(w, http.StatusNotFound, "problem not found")
			return
		}
		if _, err := os.Stat(filepath.Join(s.problemsRoot, slug, "config.yaml")); err != nil {
			writeError(w, http.StatusNotFound, "problem not found: "+slug)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	job, err := s.store.Read(id)
	if errors.Is(err, jobstore.ErrJobNotFound) || errors.Is(err, jobstore.ErrInvalidJobID) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internal(w, "failed to read job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.PurgeStale()
	if err != nil {
		s.internal(w, "failed to purge jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req api.PipelineRequest
	if !decode(w, r, &req) {
		return
	}
	s.submit(w, func(slug string) ([]orchestrator.Task, error) {
		return s.pipeline.Full(slug, req)
	}, chi.URLParam(r, "slug"))
}

func (s *Server) handleRunSolutions(w http.ResponseWriter, r *http.Request) {
	var req api.RunSolutionsRequest
	if !decode(w, r, &req) {
		return
	}
	s.submit(w, func(slug string) ([]orchestrator.Task, error) {
		return s.pipeline.RunSolutions(slug, req)
	}, chi.URLParam(r, "slug"))
}

func (s *Server) handleRunValidators(w http.ResponseWriter, r *http.Request) {
	var req api.RunValidatorsRequest
	if !decode(w, r, &req) {
		return
	}
	s.submit(w, func(slug string) ([]orchestrator.Task, error) {
		return s.pipeline.RunValidators(slug, req)
	}, chi.URLParam(r, "slug"))
}

func (s *Server) handleGenerateTests(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateTestsRequest
	if !decode(w, r, &req) {
		return
	}
	s.submit(w, func(slug string) ([]orchestrator.Task, error) {
		return s.pipeline.GenerateTests(slug, req)
	}, chi.URLParam(r, "slug"))
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	s.submit(w, s.pipeline.Review, chi.URLParam(r, "slug"))
}

func (s *Server) handleMergedResults(w http.ResponseWriter, r *http.Request) {
	res, err := stages.MergedResults(s.store, chi.URLParam(r, "slug"))
	if err != nil {
		s.internal(w, "failed to merge results", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLatestReview(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	id, err := s.store.Latest(slug, api.JobReview)
	if err != nil {
		s.internal(w, "failed to find review", err)
		return
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "no review for "+slug)
		return
	}
	job, err := s.store.Read(id)
	if err != nil {
		s.internal(w, "failed to read review", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// submit creates the jobs with build and queues them. The ids are returned
// even when the queue is full, since those jobs are already marked failed.
func (s *Server) submit(w http.ResponseWriter, build func(slug string) ([]orchestrator.Task, error), slug string) {
	tasks, err := build(slug)
	if err != nil {
		s.internal(w, "failed to create jobs", err)
		return
	}
	resp := api.JobsResponse{JobIDs: orchestrator.JobIDs(tasks)}
	if err := s.worker.Submit(tasks); err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		s.internal(w, "failed to submit jobs", err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) internal(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg+": "+err.Error())
}

// decode accepts an empty body as the zero request.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
