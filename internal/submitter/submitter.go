// Package submitter decides whether a post needs a new collection job and
// creates it through the collector.
package submitter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/metrics"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

// Submission outcomes reported in summaries.
const (
	OutcomeCreated    = "created"
	OutcomeSkipped    = "skipped_active_job"
	OutcomeFailed     = "submission_failed"
	OutcomeStoreError = "store_error"

	// OutcomeSkippedFromLog marks log-driven entries that needed no
	// resubmission.
	OutcomeSkippedFromLog = "skipped_from_log"
)

// Config controls Submitter behavior.
type Config struct {
	// DefaultMaxReplies is the last tier of the max_posts_replies fallback.
	DefaultMaxReplies int
	SortBy            string
	// MarkPostProcessing moves the post to processing when a submission is
	// attempted. The move is independent of collector success so a failed
	// submission still leaves an auditable trail instead of a silently
	// untouched post.
	MarkPostProcessing bool
	// ForceReplace deletes an existing active job instead of skipping.
	ForceReplace bool
}

// Result reports one submission attempt.
type Result struct {
	Outcome  string
	JobDocID string
	Reason   string
}

// Submitter creates collection jobs for posts.
type Submitter struct {
	jobs      collection.JobStore
	posts     collection.PostStore
	collector collection.Collector
	clock     collection.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Submitter.
func New(
	jobs collection.JobStore,
	posts collection.PostStore,
	coll collection.Collector,
	clock collection.Clock,
	cfg Config,
	logger *zap.Logger,
) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxReplies <= 0 {
		cfg.DefaultMaxReplies = 100
	}
	if cfg.SortBy == "" {
		cfg.SortBy = "latest"
	}
	return &Submitter{
		jobs:      jobs,
		posts:     posts,
		collector: coll,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Submit creates a job for one post. An existing pending/processing job for
// the same post_id yields a skip result, not an error, unless ForceReplace
// is set. A collector submission failure creates no job record.
func (s *Submitter) Submit(ctx context.Context, post collection.Post, log *runlog.RunLog) (Result, error) {
	active, err := s.jobs.FindJobs(ctx, collection.JobFilter{
		PostID:   post.PostID,
		Statuses: []collection.JobStatus{collection.JobStatusPending, collection.JobStatusProcessing},
	})
	if err != nil {
		return Result{}, fmt.Errorf("query active jobs for post %s: %w", post.PostID, err)
	}
	if len(active) > 0 {
		if !s.cfg.ForceReplace {
			return Result{
				Outcome: OutcomeSkipped,
				Reason:  fmt.Sprintf("active job %s exists with status %s", active[0].DocID, active[0].Status),
			}, nil
		}
		for _, job := range active {
			if err := s.jobs.DeleteJob(ctx, job.DocID); err != nil {
				return Result{}, fmt.Errorf("force-replace: delete job %s: %w", job.DocID, err)
			}
			s.logger.Info("deleted active job for replacement",
				zap.String("job_doc_id", job.DocID),
				zap.String("post_id", post.PostID))
		}
	}

	maxReplies, err := s.resolveMaxReplies(ctx, post)
	if err != nil {
		return Result{}, err
	}

	if s.cfg.MarkPostProcessing && post.Status != collection.PostStatusProcessing {
		applied, err := s.posts.UpdatePostStatus(ctx, post.PostDocID, post.Status, collection.PostStatusProcessing)
		if err != nil {
			return Result{}, fmt.Errorf("mark post %s processing: %w", post.PostDocID, err)
		}
		if !applied {
			s.logger.Warn("post status moved underneath submission",
				zap.String("post_doc_id", post.PostDocID),
				zap.String("expected_status", string(post.Status)))
		}
	}

	if log != nil {
		log.CountAPICall("submit")
	}
	jobID, err := s.collector.Submit(ctx, collection.SubmitRequest{
		Query:    collection.ReplyQuery(post.PostID),
		Platform: post.Platform,
		MaxPosts: maxReplies,
		SortBy:   s.cfg.SortBy,
	})
	if err != nil {
		outcome := OutcomeFailed
		var subErr *collection.SubmissionError
		if !errors.As(err, &subErr) {
			outcome = "transport_error"
		}
		if log != nil {
			log.RecordError(runlog.ErrorEntry{
				ErrorType:    outcome,
				ErrorMessage: err.Error(),
				PostID:       post.PostID,
				Platform:     post.Platform,
				Country:      post.Country,
				CandidateID:  post.CandidateID,
				Timestamp:    s.clock.Now(),
			})
		}
		metrics.RecordCollectorCall("submit", "error")
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}, nil
	}
	metrics.RecordCollectorCall("submit", "ok")

	docID, err := s.jobs.CreateJob(ctx, collection.Job{
		JobID:           jobID,
		PostID:          post.PostID,
		PostDocID:       post.PostDocID,
		Platform:        post.Platform,
		Country:         post.Country,
		CandidateID:     post.CandidateID,
		Status:          collection.JobStatusPending,
		MaxPostsReplies: maxReplies,
		SortBy:          s.cfg.SortBy,
		CreatedAt:       s.clock.Now(),
	})
	if err != nil {
		// The remote run exists but the record write failed; surface the
		// job id so the run can be reconciled instead of resubmitted.
		if log != nil {
			log.RecordError(runlog.ErrorEntry{
				ErrorType:    OutcomeStoreError,
				ErrorMessage: err.Error(),
				JobID:        jobID,
				PostID:       post.PostID,
				Platform:     post.Platform,
				Country:      post.Country,
				CandidateID:  post.CandidateID,
				Timestamp:    s.clock.Now(),
			})
		}
		return Result{Outcome: OutcomeStoreError, Reason: fmt.Sprintf("job %s submitted but not persisted: %v", jobID, err)}, nil
	}

	s.logger.Info("job submitted",
		zap.String("job_doc_id", docID),
		zap.String("job_id", jobID),
		zap.String("post_id", post.PostID),
		zap.String("platform", string(post.Platform)))
	return Result{Outcome: OutcomeCreated, JobDocID: docID}, nil
}

// SubmitBatch submits every post, isolating per-post failures: one post's
// failure never aborts the rest of the batch.
func (s *Submitter) SubmitBatch(ctx context.Context, posts []collection.Post, log *runlog.RunLog) (*collection.RunSummary, error) {
	runID := ""
	if log != nil {
		runID = log.RunID()
	}
	summary := collection.NewRunSummary(runID)
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := s.Submit(ctx, post, log)
		if err != nil {
			summary.Add(post.PostID, OutcomeStoreError, err.Error())
			if log != nil {
				log.RecordError(runlog.ErrorEntry{
					ErrorType:    OutcomeStoreError,
					ErrorMessage: err.Error(),
					PostID:       post.PostID,
					Platform:     post.Platform,
					Country:      post.Country,
					CandidateID:  post.CandidateID,
					Timestamp:    s.clock.Now(),
				})
			}
			continue
		}
		summary.Add(post.PostID, res.Outcome, res.Reason)
	}
	return summary, nil
}

func (s *Submitter) resolveMaxReplies(ctx context.Context, post collection.Post) (int, error) {
	// Three tiers: the post's own cap, then the most recent prior job for
	// the same post, then the configured default. The value must survive
	// retries and resubmissions even when the post record is incomplete.
	if post.MaxPostsReplies > 0 {
		return post.MaxPostsReplies, nil
	}
	prior, err := s.jobs.FindJobs(ctx, collection.JobFilter{PostID: post.PostID, Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("query prior jobs for post %s: %w", post.PostID, err)
	}
	if len(prior) > 0 && prior[0].MaxPostsReplies > 0 {
		return prior[0].MaxPostsReplies, nil
	}
	return s.cfg.DefaultMaxReplies, nil
}
