// Package api exposes the operator HTTP interface for the coordinator.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/reconcile"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/submitter"
)

// Config controls the HTTP surface.
type Config struct {
	APIKey string
	// Timeout bounds a single request.
	Timeout time.Duration
	// LogPrefix is the blob prefix run logs flush under.
	LogPrefix string
}

// Server wires HTTP handlers to the stores, submitter and engine.
type Server struct {
	router chi.Router
	jobs   collection.JobStore
	posts  collection.PostStore
	blobs  collection.BlobStore
	sub    *submitter.Submitter
	engine *reconcile.Engine
	ids    collection.IDGenerator
	clock  collection.Clock
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs collection.JobStore,
	posts collection.PostStore,
	blobs collection.BlobStore,
	sub *submitter.Submitter,
	engine *reconcile.Engine,
	ids collection.IDGenerator,
	clock collection.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	s := &Server{
		jobs:   jobs,
		posts:  posts,
		blobs:  blobs,
		sub:    sub,
		engine: engine,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.Timeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Get("/{doc_id}", s.getJob)
			r.Post("/{doc_id}/verify", s.verifyJob)
		})
		r.Route("/posts", func(r chi.Router) {
			r.Get("/{doc_id}", s.getPost)
			r.Post("/{doc_id}/submit", s.submitPost)
		})
		r.Route("/reconcile", func(r chi.Router) {
			r.Post("/", s.runPass)
			r.Post("/{op}", s.runOp)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The stores back every endpoint; a cheap query proves the connection.
	if _, err := s.jobs.FindJobs(r.Context(), collection.JobFilter{Limit: 1}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	job, found, err := s.jobs.GetJob(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := collection.JobFilter{
		PostID:      r.URL.Query().Get("post_id"),
		CandidateID: r.URL.Query().Get("candidate_id"),
	}
	if st := r.URL.Query().Get("status"); st != "" {
		filter.Statuses = []collection.JobStatus{collection.JobStatus(st)}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	jobs, err := s.jobs.FindJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	post, found, err := s.posts.GetPost(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post})
}

// verifyJob is the manual confirmation path: an operator promotes a done
// job to verified after checking its results.
func (s *Server) verifyJob(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	job, found, err := s.jobs.GetJob(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := collection.ValidateJobTransition(job.Status, collection.JobStatusVerified); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	applied, err := s.jobs.UpdateJobStatus(r.Context(), docID, job.Status, collection.JobStatusVerified)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		writeError(w, http.StatusConflict, "job status changed, re-read and retry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_doc_id": docID,
		"status":     string(collection.JobStatusVerified),
	})
}

func (s *Server) submitPost(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	post, found, err := s.posts.GetPost(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	log, err := s.newRunLog("api_submit")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.flushRunLog(r.Context(), log)
	res, err := s.sub.Submit(r.Context(), post, log)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusAccepted
	if res.Outcome != submitter.OutcomeCreated {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"outcome":    res.Outcome,
		"job_doc_id": res.JobDocID,
		"reason":     res.Reason,
	})
}

func (s *Server) runOp(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "op")
	op, ok := s.engine.Op(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown reconcile operation")
		return
	}
	apply := r.URL.Query().Get("apply") == "1"
	log, err := s.newRunLog("api_reconcile_" + name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.flushRunLog(r.Context(), log)
	sink := s.newSink(apply)
	summary, err := op(r.Context(), sink, log)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apply":     apply,
		"summary":   summary,
		"decisions": sink.Decisions(),
	})
}

func (s *Server) runPass(w http.ResponseWriter, r *http.Request) {
	apply := r.URL.Query().Get("apply") == "1"
	log, err := s.newRunLog("api_reconcile_pass")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.flushRunLog(r.Context(), log)
	sink := s.newSink(apply)
	results, err := s.engine.Pass(r.Context(), sink, log)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apply":     apply,
		"summaries": results,
		"decisions": sink.Decisions(),
	})
}

func (s *Server) newSink(apply bool) reconcile.Sink {
	if apply {
		return reconcile.NewApplySink(s.jobs, s.posts, s.logger)
	}
	return reconcile.NewRecordSink()
}

func (s *Server) newRunLog(executionType string) (*runlog.RunLog, error) {
	runID, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	return runlog.New(runID, executionType, s.clock.Now()), nil
}

// flushRunLog writes the run log out regardless of how the request ended; a
// flush failure is logged, never surfaced to the caller.
func (s *Server) flushRunLog(ctx context.Context, log *runlog.RunLog) {
	if _, err := log.Flush(ctx, s.blobs, s.cfg.LogPrefix); err != nil {
		s.logger.Error("run log flush failed",
			zap.String("run_id", log.RunID()),
			zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
