// Package api exposes the HTTP interface for the contact crawler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/govern"
	"github.com/scrapex/contact-crawler/internal/scrape"
	"github.com/scrapex/contact-crawler/internal/storage"
)

// Scraper runs one site through the fetch ladder synchronously.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string) scrape.ExtractionResult
}

// JobRunner executes a registered job in the background.
type JobRunner interface {
	Run(ctx context.Context, job scrape.Job) error
}

// IDGenerator mints job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Config controls server behaviour.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the scraper, orchestrator, and stores.
type Server struct {
	router   chi.Router
	scraper  Scraper
	runner   JobRunner
	governor *govern.Governor
	jobs     storage.JobStore
	sink     storage.ResultSink
	idGen    IDGenerator
	clock    Clock
	logger   *zap.Logger

	// baseCtx parents background job runs so they survive the request
	// but stop on shutdown.
	baseCtx context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	baseCtx context.Context,
	scraper Scraper,
	runner JobRunner,
	governor *govern.Governor,
	jobs storage.JobStore,
	sink storage.ResultSink,
	idGen IDGenerator,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		scraper:  scraper,
		runner:   runner,
		governor: governor,
		jobs:     jobs,
		sink:     sink,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
		baseCtx:  baseCtx,
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scrape", s.scrapeSingle)
		r.Post("/bulk-scrape", s.submitBulkScrape)
		r.Post("/scrape-directory", s.submitDirectoryScrape)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/result", s.getJobResult)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	URL string `json:"url"`
}

// scrapeSingle runs the fetch ladder for one site and returns the
// extraction result in the response. Blocked sites still return 200:
// the outcome tag, not the transport, carries the verdict.
func (s *Server) scrapeSingle(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	result := s.scraper.Scrape(r.Context(), req.URL)
	writeJSON(w, http.StatusOK, result)
}

type bulkScrapeRequest struct {
	URLs        []string `json:"urls"`
	BatchSize   int      `json:"batch_size"`
	WorkerCount int      `json:"worker_count"`
}

func (s *Server) submitBulkScrape(w http.ResponseWriter, r *http.Request) {
	var req bulkScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one url is required")
		return
	}
	s.submitJob(w, r, scrape.TargetSingleURL, scrape.JobParams{
		URLs:        req.URLs,
		BatchSize:   req.BatchSize,
		WorkerCount: req.WorkerCount,
	})
}

type directoryScrapeRequest struct {
	DirectoryURL  string `json:"directory_url"`
	MaxBusinesses int    `json:"max_businesses"`
	MaxPages      int    `json:"max_pages"`
	BatchSize     int    `json:"batch_size"`
	WorkerCount   int    `json:"worker_count"`
}

func (s *Server) submitDirectoryScrape(w http.ResponseWriter, r *http.Request) {
	var req directoryScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DirectoryURL == "" {
		writeError(w, http.StatusBadRequest, "directory_url is required")
		return
	}
	s.submitJob(w, r, scrape.TargetDirectoryURL, scrape.JobParams{
		DirectoryURL:  req.DirectoryURL,
		MaxBusinesses: req.MaxBusinesses,
		MaxPages:      req.MaxPages,
		BatchSize:     req.BatchSize,
		WorkerCount:   req.WorkerCount,
	})
}

// submitJob admits, persists, and launches a job, answering 202 with
// the job ID. Resource exhaustion maps to 429.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request, target scrape.JobTarget, params scrape.JobParams) {
	callerID := callerID(r)
	if err := s.governor.Admit(callerID); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	job := scrape.Job{
		ID:        jobID,
		CallerID:  callerID,
		Target:    target,
		Params:    params,
		Status:    scrape.JobStatusPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}
	if err := s.governor.Register(jobID, callerID); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	go func() {
		if err := s.runner.Run(s.baseCtx, job); err != nil {
			s.logger.Warn("background job finished with error",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(scrape.JobStatusPending),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "fetch job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	doc, err := s.sink.Load(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no results yet")
			return
		}
		writeError(w, http.StatusInternalServerError, "load result document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func callerID(r *http.Request) string {
	if id := r.Header.Get("X-Caller-ID"); id != "" {
		return id
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
