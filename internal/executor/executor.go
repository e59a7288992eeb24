// Package executor drives pending jobs through collector polling to a
// terminal outcome and writes the result back.
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/metrics"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

// Execution outcomes reported in summaries.
const (
	OutcomeDone          = "done"
	OutcomeEmptyResult   = "empty_result"
	OutcomeFailed        = "failed"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeTimeout       = "poll_timeout"
	OutcomeSkipped       = "skipped_not_pending"
	OutcomeHandoffError  = "handoff_error"
	OutcomeStoreError    = "store_error"
)

// Config controls Executor behavior.
type Config struct {
	Topic       string
	ContentType string
}

// CompletionEvent is published for every job that reaches a terminal status.
type CompletionEvent struct {
	JobDocID string               `json:"job_doc_id"`
	JobID    string               `json:"job_id"`
	PostID   string               `json:"post_id"`
	Platform collection.Platform  `json:"platform"`
	Country  string               `json:"country"`
	Status   collection.JobStatus `json:"status"`
	BlobURI  string               `json:"blob_uri,omitempty"`
	Records  int                  `json:"records"`
}

// Executor drives a single job to a terminal outcome.
type Executor struct {
	jobs      collection.JobStore
	posts     collection.PostStore
	collector collection.Collector
	blobs     collection.BlobStore
	publisher collection.Publisher
	clock     collection.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Executor.
func New(
	jobs collection.JobStore,
	posts collection.PostStore,
	coll collection.Collector,
	blobs collection.BlobStore,
	publisher collection.Publisher,
	clock collection.Clock,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Executor{
		jobs:      jobs,
		posts:     posts,
		collector: coll,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Result reports one execution attempt.
type Result struct {
	Outcome string
	BlobURI string
	Reason  string
}

// ExecuteJob takes a pending job, polls the collector until it resolves,
// and writes the terminal status plus any result artifact. A poll timeout
// leaves the job in processing: the remote run may still finish, and the
// reconciliation pass will re-check it.
func (e *Executor) ExecuteJob(ctx context.Context, job collection.Job, log *runlog.RunLog) (Result, error) {
	claimed, err := e.jobs.UpdateJobStatus(ctx, job.DocID, collection.JobStatusPending, collection.JobStatusProcessing)
	if err != nil {
		return Result{}, fmt.Errorf("claim job %s: %w", job.DocID, err)
	}
	if !claimed {
		return Result{Outcome: OutcomeSkipped, Reason: "job is not pending"}, nil
	}

	start := e.clock.Now()
	if log != nil {
		log.CountAPICall("status")
	}
	outcome, rounds, err := e.collector.PollStatus(ctx, job.JobID)
	if err != nil {
		// Transport exhaustion, not a remote verdict. Leave processing.
		e.recordError(log, job, "poll_error", err.Error())
		metrics.RecordCollectorCall("status", "error")
		return Result{Outcome: OutcomeTimeout, Reason: err.Error()}, nil
	}
	metrics.RecordCollectorCall("status", string(outcome))
	metrics.RecordPoll(rounds, e.clock.Now().Sub(start))

	switch outcome {
	case collection.PollFinished:
		return e.finish(ctx, job, log)
	case collection.PollFailed:
		return e.terminal(ctx, job, collection.JobStatusFailed, OutcomeFailed, log)
	case collection.PollQuotaExceeded:
		return e.terminal(ctx, job, collection.JobStatusQuotaExceeded, OutcomeQuotaExceeded, log)
	case collection.PollTimeout:
		e.recordError(log, job, "poll_timeout", "polling budget exhausted, job left in processing")
		return Result{Outcome: OutcomeTimeout, Reason: "polling budget exhausted"}, nil
	default:
		return Result{}, fmt.Errorf("unknown poll outcome %q for job %s", outcome, job.DocID)
	}
}

// ExecutePending claims up to limit pending jobs and drives each to a
// terminal outcome, isolating per-job failures.
func (e *Executor) ExecutePending(ctx context.Context, limit int, log *runlog.RunLog) (*collection.RunSummary, error) {
	pending, err := e.jobs.FindJobs(ctx, collection.JobFilter{
		Statuses: []collection.JobStatus{collection.JobStatusPending},
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}

	runID := ""
	if log != nil {
		runID = log.RunID()
	}
	summary := collection.NewRunSummary(runID)
	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := e.ExecuteJob(ctx, job, log)
		if err != nil {
			summary.Add(job.DocID, OutcomeStoreError, err.Error())
			e.recordError(log, job, OutcomeStoreError, err.Error())
			continue
		}
		summary.Add(job.DocID, res.Outcome, res.Reason)
	}
	return summary, nil
}

func (e *Executor) finish(ctx context.Context, job collection.Job, log *runlog.RunLog) (Result, error) {
	if log != nil {
		log.CountAPICall("rawdata")
	}
	records, err := e.collector.FetchResult(ctx, job.JobID, job.Platform)
	if err != nil {
		metrics.RecordCollectorCall("rawdata", "error")
		e.recordError(log, job, "fetch_error", err.Error())
		// The run finished remotely; leave processing so a later pass can
		// retry the download instead of resubmitting.
		return Result{Outcome: OutcomeHandoffError, Reason: err.Error()}, nil
	}
	metrics.RecordCollectorCall("rawdata", "ok")

	if len(records) == 0 {
		// Zero matches is a valid result, not an error.
		return e.terminal(ctx, job, collection.JobStatusEmptyResult, OutcomeEmptyResult, log)
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return Result{}, fmt.Errorf("marshal records for job %s: %w", job.DocID, err)
	}
	uri, err := e.blobs.PutObject(ctx, job.ResultPath(), e.cfg.ContentType, payload)
	if err != nil {
		e.recordError(log, job, "handoff_error", err.Error())
		return Result{Outcome: OutcomeHandoffError, Reason: err.Error()}, nil
	}

	res, err := e.terminal(ctx, job, collection.JobStatusDone, OutcomeDone, log)
	if err != nil {
		return res, err
	}
	res.BlobURI = uri

	e.publish(ctx, job, collection.JobStatusDone, uri, len(records))
	e.markPostDone(ctx, job, log)
	return res, nil
}

func (e *Executor) terminal(ctx context.Context, job collection.Job, status collection.JobStatus, outcome string, log *runlog.RunLog) (Result, error) {
	applied, err := e.jobs.UpdateJobStatus(ctx, job.DocID, collection.JobStatusProcessing, status)
	if err != nil {
		return Result{}, fmt.Errorf("write %s for job %s: %w", status, job.DocID, err)
	}
	if !applied {
		e.logger.Warn("job status moved during execution",
			zap.String("job_doc_id", job.DocID),
			zap.String("target_status", string(status)))
		return Result{Outcome: OutcomeSkipped, Reason: "job left processing underneath the executor"}, nil
	}
	metrics.RecordJobOutcome(string(job.Platform), string(status))
	if status == collection.JobStatusFailed || status == collection.JobStatusQuotaExceeded {
		e.recordError(log, job, string(status), "collector reported "+string(status))
		e.publish(ctx, job, status, "", 0)
	}
	e.logger.Info("job reached terminal status",
		zap.String("job_doc_id", job.DocID),
		zap.String("job_id", job.JobID),
		zap.String("status", string(status)))
	return Result{Outcome: outcome}, nil
}

func (e *Executor) markPostDone(ctx context.Context, job collection.Job, log *runlog.RunLog) {
	post, found, err := e.posts.GetPost(ctx, job.PostDocID)
	if err != nil {
		e.recordError(log, job, "store_error", fmt.Sprintf("load post %s: %v", job.PostDocID, err))
		return
	}
	if !found {
		e.recordError(log, job, "orphan_job", fmt.Sprintf("post %s not found for finished job", job.PostDocID))
		return
	}
	if post.Status != collection.PostStatusProcessing {
		return
	}
	if _, err := e.posts.UpdatePostStatus(ctx, post.PostDocID, collection.PostStatusProcessing, collection.PostStatusDone); err != nil {
		e.recordError(log, job, "store_error", fmt.Sprintf("mark post %s done: %v", post.PostDocID, err))
	}
}

func (e *Executor) publish(ctx context.Context, job collection.Job, status collection.JobStatus, uri string, records int) {
	if e.publisher == nil {
		return
	}
	event := CompletionEvent{
		JobDocID: job.DocID,
		JobID:    job.JobID,
		PostID:   job.PostID,
		Platform: job.Platform,
		Country:  job.Country,
		Status:   status,
		BlobURI:  uri,
		Records:  records,
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, event); err != nil {
		// Publishing is advisory; the store remains the source of truth.
		e.logger.Warn("publish completion event failed",
			zap.String("job_doc_id", job.DocID),
			zap.Error(err))
	}
}

func (e *Executor) recordError(log *runlog.RunLog, job collection.Job, errType, msg string) {
	if log == nil {
		return
	}
	log.RecordError(runlog.ErrorEntry{
		ErrorType:    errType,
		ErrorMessage: msg,
		JobID:        job.JobID,
		PostID:       job.PostID,
		Platform:     job.Platform,
		Country:      job.Country,
		CandidateID:  job.CandidateID,
		Timestamp:    e.clock.Now(),
	})
}
