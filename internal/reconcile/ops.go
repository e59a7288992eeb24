package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/metrics"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

// Per-item outcomes shared across operations.
const (
	OutcomeCorrected  = "corrected"
	OutcomeDeleted    = "deleted"
	OutcomeRetried    = "retried"
	OutcomeRequeued   = "requeued"
	OutcomeReported   = "reported"
	OutcomeSkipped    = "skipped"
	OutcomeSinkError  = "sink_error"
	OutcomeStoreError = "store_error"
)

func (e *Engine) newSummary(log *runlog.RunLog) *collection.RunSummary {
	runID := ""
	if log != nil {
		runID = log.RunID()
	}
	return collection.NewRunSummary(runID)
}

func (e *Engine) emit(ctx context.Context, sink Sink, d Decision, summary *collection.RunSummary, key, outcome string) {
	metrics.RecordReconcileDecision(d.Op, string(d.Action))
	if err := sink.Apply(ctx, d); err != nil {
		e.logger.Error("sink apply failed",
			zap.String("op", d.Op),
			zap.String("key", key),
			zap.Error(err))
		summary.Add(key, OutcomeSinkError, err.Error())
		return
	}
	summary.Add(key, outcome, d.Reason)
}

func (e *Engine) recordError(log *runlog.RunLog, errType, msg string, job collection.Job) {
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

// StalledProcessingJobs re-checks processing jobs whose executor went quiet:
// a crashed poll loop, an exhausted polling budget or a failed result
// download leaves the job in processing while the remote run reaches its
// verdict alone. A finished run is requeued to pending so the executor
// re-claims it and resumes the result handoff; a failed or quota verdict is
// written directly. Jobs younger than the stall threshold are left alone,
// their executor may still be polling.
func (e *Engine) StalledProcessingJobs(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{
		Statuses: []collection.JobStatus{collection.JobStatusProcessing},
	})
	if err != nil {
		return summary, fmt.Errorf("find processing jobs: %w", err)
	}

	cutoff := e.clock.Now().Add(-e.params.StalledProcessingAge)
	for _, job := range jobs {
		if job.UpdatedAt.After(cutoff) {
			summary.Add(job.DocID, OutcomeSkipped, "still inside the stall threshold")
			continue
		}
		if job.JobID == "" {
			e.recordError(log, "stalled_job_no_id", "stalled job has no collector id to re-check", job)
			e.emit(ctx, sink, Decision{
				Op:       OpStalledProcessingJobs,
				Action:   ActionReport,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusProcessing,
				Reason:   "stalled job has no collector id to re-check",
			}, summary, job.DocID, OutcomeReported)
			continue
		}

		if log != nil {
			log.CountAPICall("status")
		}
		remote, err := e.collector.Status(ctx, job.JobID)
		if err != nil {
			e.recordError(log, "stalled_job_api_error", err.Error(), job)
			e.emit(ctx, sink, Decision{
				Op:       OpStalledProcessingJobs,
				Action:   ActionReport,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusProcessing,
				Reason:   fmt.Sprintf("inconclusive, status check failed: %v", err),
			}, summary, job.DocID, OutcomeReported)
			continue
		}

		switch remote {
		case "finished":
			e.emit(ctx, sink, Decision{
				Op:       OpStalledProcessingJobs,
				Action:   ActionUpdateJob,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusProcessing,
				ToJob:    collection.JobStatusPending,
				Reason:   "remote run finished while the poll loop was down, requeued for result fetch",
			}, summary, job.DocID, OutcomeRequeued)
		case "failed":
			e.emit(ctx, sink, Decision{
				Op:       OpStalledProcessingJobs,
				Action:   ActionUpdateJob,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusProcessing,
				ToJob:    collection.JobStatusFailed,
				Reason:   "remote run failed while the poll loop was down",
			}, summary, job.DocID, OutcomeCorrected)
		case "quota_exceeded":
			e.emit(ctx, sink, Decision{
				Op:       OpStalledProcessingJobs,
				Action:   ActionUpdateJob,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusProcessing,
				ToJob:    collection.JobStatusQuotaExceeded,
				Reason:   "collector reported quota exhaustion while the poll loop was down",
			}, summary, job.DocID, OutcomeCorrected)
		default:
			summary.Add(job.DocID, OutcomeSkipped,
				fmt.Sprintf("collector reports %q, run still in progress", remote))
		}
	}
	return summary, nil
}

// StuckProcessingPosts finds posts stuck in processing with no active job
// and derives their corrective status from the aggregate of their jobs.
// When the aggregate is ambiguous the post is reported, never guessed at.
func (e *Engine) StuckProcessingPosts(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	posts, err := e.posts.FindPosts(ctx, collection.PostFilter{
		Statuses: []collection.PostStatus{collection.PostStatusProcessing},
	})
	if err != nil {
		return summary, fmt.Errorf("find processing posts: %w", err)
	}

	for _, post := range posts {
		jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{PostID: post.PostID})
		if err != nil {
			e.logger.Error("job lookup failed", zap.String("post_id", post.PostID), zap.Error(err))
			summary.Add(post.PostID, OutcomeStoreError, err.Error())
			continue
		}

		if anyJobWithStatus(jobs, collection.JobStatusPending, collection.JobStatusProcessing) {
			summary.Add(post.PostID, OutcomeSkipped, "a job is still in flight")
			continue
		}

		target, reason, ok := deriveStalePostStatus(jobs)
		if !ok {
			e.emit(ctx, sink, Decision{
				Op:        OpStuckProcessingPosts,
				Action:    ActionReport,
				PostDocID: post.PostDocID,
				FromPost:  post.Status,
				Reason:    reason,
			}, summary, post.PostID, OutcomeReported)
			continue
		}

		e.emit(ctx, sink, Decision{
			Op:        OpStuckProcessingPosts,
			Action:    ActionUpdatePost,
			PostDocID: post.PostDocID,
			FromPost:  post.Status,
			ToPost:    target,
			Reason:    reason,
		}, summary, post.PostID, OutcomeCorrected)
	}
	return summary, nil
}

// deriveStalePostStatus picks the corrective status for a post whose jobs
// are all terminal. Priority order matters: a single successful job makes
// the post done regardless of how many siblings failed.
func deriveStalePostStatus(jobs []collection.Job) (collection.PostStatus, string, bool) {
	switch {
	case anyJobWithStatus(jobs, collection.JobStatusVerified, collection.JobStatusDone):
		return collection.PostStatusDone, "a job completed successfully", true
	case anyJobWithStatus(jobs, collection.JobStatusEmptyResult):
		return collection.PostStatusDone, "a job finished with an empty result", true
	case anyJobWithStatus(jobs, collection.JobStatusProcessing):
		// Unreachable when the caller already screened active jobs; kept
		// as a guard so a caller bug surfaces as a visible state, not a
		// bogus noreplies.
		return collection.PostStatusFinished, "a job is unexpectedly still processing", true
	case len(jobs) > 0 && allJobsWithStatus(jobs, collection.JobStatusFailed, collection.JobStatusQuotaExceeded):
		return collection.PostStatusNoReplies, "every job failed or hit quota", true
	case len(jobs) == 0:
		return "", "no jobs exist for this post", false
	default:
		return "", "job statuses do not determine a post status", false
	}
}

// VerifyEmptyResults promotes empty_result twitter jobs whose post expects
// near-zero replies to verified. A tiny expected reply count makes a true
// negative far more likely than a collector bug, so re-collection is
// skipped. Everything else is left for manual handling.
func (e *Engine) VerifyEmptyResults(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{
		Statuses: []collection.JobStatus{collection.JobStatusEmptyResult},
	})
	if err != nil {
		return summary, fmt.Errorf("find empty_result jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Platform != collection.PlatformTwitter {
			summary.Add(job.DocID, OutcomeSkipped, "left for manual handling: platform is not twitter")
			continue
		}
		post, found, err := e.lookupPost(ctx, job)
		if err != nil {
			summary.Add(job.DocID, OutcomeStoreError, err.Error())
			continue
		}
		if !found {
			summary.Add(job.DocID, OutcomeSkipped, "post record not found")
			continue
		}
		if post.RepliesCount > e.params.TwitterVerifyMaxReplies {
			summary.Add(job.DocID, OutcomeSkipped,
				fmt.Sprintf("left for manual handling: replies_count %d exceeds %d",
					post.RepliesCount, e.params.TwitterVerifyMaxReplies))
			continue
		}

		e.emit(ctx, sink, Decision{
			Op:       OpVerifyEmptyResults,
			Action:   ActionUpdateJob,
			JobDocID: job.DocID,
			FromJob:  collection.JobStatusEmptyResult,
			ToJob:    collection.JobStatusVerified,
			Reason: fmt.Sprintf("twitter post expects %d replies (threshold %d), empty result is plausible",
				post.RepliesCount, e.params.TwitterVerifyMaxReplies),
		}, summary, job.DocID, OutcomeCorrected)
	}
	return summary, nil
}

// CleanupFailedJobs deletes failed jobs whose post has since been collected
// successfully by another job. A job that failed inside a suspected quota
// window keeps an annotation in the audit reason but stays eligible for
// deletion; quota suspicion explains the failure, it does not change
// whether the record is still needed.
func (e *Engine) CleanupFailedJobs(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{
		Statuses: []collection.JobStatus{collection.JobStatusFailed},
	})
	if err != nil {
		return summary, fmt.Errorf("find failed jobs: %w", err)
	}

	for _, job := range jobs {
		post, found, err := e.lookupPost(ctx, job)
		if err != nil {
			summary.Add(job.DocID, OutcomeStoreError, err.Error())
			continue
		}
		if !found {
			summary.Add(job.DocID, OutcomeSkipped, "post record not found")
			continue
		}
		if post.Status != collection.PostStatusDone {
			summary.Add(job.DocID, OutcomeSkipped,
				fmt.Sprintf("post is %s, not done", post.Status))
			continue
		}

		siblings, err := e.jobs.FindJobs(ctx, collection.JobFilter{
			PostID:   job.PostID,
			Statuses: []collection.JobStatus{collection.JobStatusPending, collection.JobStatusProcessing},
		})
		if err != nil {
			summary.Add(job.DocID, OutcomeStoreError, err.Error())
			continue
		}
		if len(siblings) > 0 {
			summary.Add(job.DocID, OutcomeSkipped, "another job for this post is pending or processing")
			continue
		}

		reason := "post already collected by another job"
		if e.inQuotaWindow(job.UpdatedAt) {
			reason += "; failure fell inside a suspected quota exhaustion window"
		}
		e.emit(ctx, sink, Decision{
			Op:       OpCleanupFailedJobs,
			Action:   ActionDeleteJob,
			JobDocID: job.DocID,
			FromJob:  collection.JobStatusFailed,
			Reason:   reason,
		}, summary, job.DocID, OutcomeDeleted)
	}
	return summary, nil
}

// VerifyFailedJobs re-checks a sample of failed jobs against the collector
// and classifies the drift. A remote run that actually finished is the
// serious case: the store recorded a failure that never happened, and the
// job is corrected to done. This is the only operation that may override a
// terminal failed status.
func (e *Engine) VerifyFailedJobs(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{
		Statuses: []collection.JobStatus{collection.JobStatusFailed},
		Limit:    e.params.FailedVerifySampleSize,
	})
	if err != nil {
		return summary, fmt.Errorf("find failed jobs: %w", err)
	}

	for _, job := range jobs {
		if job.JobID == "" {
			summary.Add(job.DocID, OutcomeSkipped, "job has no collector id")
			continue
		}

		if log != nil {
			log.CountAPICall("status")
		}
		remote, err := e.collector.Status(ctx, job.JobID)
		if err != nil {
			e.recordError(log, "failed_verification_api_error", err.Error(), job)
			e.emit(ctx, sink, Decision{
				Op:       OpVerifyFailedJobs,
				Action:   ActionReport,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusFailed,
				Reason:   fmt.Sprintf("inconclusive, status check failed: %v", err),
			}, summary, job.DocID, OutcomeReported)
			continue
		}

		switch remote {
		case "finished":
			e.recordError(log, "stale_failed_status", "collector reports the run finished", job)
			e.emit(ctx, sink, Decision{
				Op:       OpVerifyFailedJobs,
				Action:   ActionUpdateJob,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusFailed,
				ToJob:    collection.JobStatusDone,
				Reason:   "collector reports the run finished; stored failure is stale",
			}, summary, job.DocID, OutcomeCorrected)
		case "failed", "quota_exceeded":
			summary.Add(job.DocID, OutcomeSkipped, "failure confirmed by collector")
		default:
			e.emit(ctx, sink, Decision{
				Op:       OpVerifyFailedJobs,
				Action:   ActionReport,
				JobDocID: job.DocID,
				FromJob:  collection.JobStatusFailed,
				Reason:   fmt.Sprintf("collector reports %q, run may still complete", remote),
			}, summary, job.DocID, OutcomeReported)
		}
	}
	return summary, nil
}

// RetryEmptyResults resubmits empty_result jobs by moving them back to
// pending with a retry_count increment. A job that is already pending is a
// no-op, never a double increment.
func (e *Engine) RetryEmptyResults(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{
		Statuses: []collection.JobStatus{collection.JobStatusEmptyResult},
	})
	if err != nil {
		return summary, fmt.Errorf("find empty_result jobs: %w", err)
	}

	for _, job := range jobs {
		current, found, err := e.jobs.GetJob(ctx, job.DocID)
		if err != nil {
			summary.Add(job.DocID, OutcomeStoreError, err.Error())
			continue
		}
		if !found {
			summary.Add(job.DocID, OutcomeSkipped, "job disappeared since the scan")
			continue
		}
		if current.Status == collection.JobStatusPending {
			summary.Add(job.DocID, OutcomeSkipped, "already pending")
			continue
		}
		if current.Status != collection.JobStatusEmptyResult {
			summary.Add(job.DocID, OutcomeSkipped,
				fmt.Sprintf("job moved to %s since the scan", current.Status))
			continue
		}

		e.emit(ctx, sink, Decision{
			Op:       OpRetryEmptyResults,
			Action:   ActionRetryJob,
			JobDocID: job.DocID,
			FromJob:  collection.JobStatusEmptyResult,
			ToJob:    collection.JobStatusPending,
			Reason:   fmt.Sprintf("resubmitting empty result, retry %d", current.RetryCount+1),
		}, summary, job.DocID, OutcomeRetried)
	}
	return summary, nil
}

// DuplicateActiveJobs reports posts holding more than one pending or
// processing job. Duplicates are surfaced for correction, never resolved
// automatically: picking a survivor requires knowing which remote run is
// real.
func (e *Engine) DuplicateActiveJobs(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{
		Statuses: []collection.JobStatus{collection.JobStatusPending, collection.JobStatusProcessing},
	})
	if err != nil {
		return summary, fmt.Errorf("find active jobs: %w", err)
	}

	byPost := make(map[string][]collection.Job)
	for _, job := range jobs {
		byPost[job.PostID] = append(byPost[job.PostID], job)
	}
	for postID, group := range byPost {
		if len(group) <= 1 {
			continue
		}
		for _, job := range group {
			e.recordError(log, "duplicate_active_job",
				fmt.Sprintf("%d active jobs share post %s", len(group), postID), job)
			e.emit(ctx, sink, Decision{
				Op:       OpDuplicateActiveJobs,
				Action:   ActionReport,
				JobDocID: job.DocID,
				FromJob:  job.Status,
				Reason:   fmt.Sprintf("%d active jobs share post %s", len(group), postID),
			}, summary, job.DocID, OutcomeReported)
		}
	}
	return summary, nil
}

// OrphanJobs reports jobs whose post record no longer exists.
func (e *Engine) OrphanJobs(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error) {
	summary := e.newSummary(log)

	jobs, err := e.jobs.FindJobs(ctx, collection.JobFilter{})
	if err != nil {
		return summary, fmt.Errorf("find jobs: %w", err)
	}

	for _, job := range jobs {
		_, found, err := e.lookupPost(ctx, job)
		if err != nil {
			summary.Add(job.DocID, OutcomeStoreError, err.Error())
			continue
		}
		if found {
			summary.Add(job.DocID, OutcomeSkipped, "")
			continue
		}
		e.recordError(log, "orphan_job", "no post record matches this job", job)
		e.emit(ctx, sink, Decision{
			Op:       OpOrphanJobs,
			Action:   ActionReport,
			JobDocID: job.DocID,
			FromJob:  job.Status,
			Reason:   "no post record matches this job",
		}, summary, job.DocID, OutcomeReported)
	}
	return summary, nil
}

func (e *Engine) lookupPost(ctx context.Context, job collection.Job) (collection.Post, bool, error) {
	if job.PostDocID != "" {
		post, found, err := e.posts.GetPost(ctx, job.PostDocID)
		if err != nil || found {
			return post, found, err
		}
	}
	if job.PostID != "" {
		return e.posts.GetPostByPostID(ctx, job.PostID)
	}
	return collection.Post{}, false, nil
}
