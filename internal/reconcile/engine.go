package reconcile

import (
	"time"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

// Operation names, used in decisions, summaries and metrics.
const (
	OpStalledProcessingJobs = "stalled_processing_jobs"
	OpStuckProcessingPosts  = "stuck_processing_posts"
	OpVerifyEmptyResults    = "verify_empty_results"
	OpCleanupFailedJobs     = "cleanup_failed_jobs"
	OpVerifyFailedJobs      = "verify_failed_jobs"
	OpRetryEmptyResults     = "retry_empty_results"
	OpDuplicateActiveJobs   = "duplicate_active_jobs"
	OpOrphanJobs            = "orphan_jobs"
)

// TimeRange is a closed interval of suspected quota exhaustion. Jobs that
// failed inside a range get the quota-suspect audit annotation; the
// deletion safety condition is unchanged by it.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Params tunes engine heuristics.
type Params struct {
	// TwitterVerifyMaxReplies is the replies_count ceiling under which an
	// empty twitter result is promoted to verified: a near-zero expected
	// reply count makes a true negative far more likely than a collector
	// bug, so expensive re-verification is skipped.
	TwitterVerifyMaxReplies int
	// FailedVerifySampleSize bounds how many failed jobs a verification
	// pass re-checks against the collector.
	FailedVerifySampleSize int
	// StalledProcessingAge is how long a job may sit in processing before
	// the stalled-job sweep re-checks it against the collector. It must
	// exceed the polling ceiling, or the sweep would race live executors.
	StalledProcessingAge time.Duration
	// QuotaWindows are the suspected quota-exhaustion periods.
	QuotaWindows []TimeRange
}

// Engine hosts the reconciliation operations. Each operation scans a store
// snapshot, emits decisions to the provided sink, and returns a structured
// summary; it never aborts the batch on a per-item problem.
type Engine struct {
	jobs      collection.JobStore
	posts     collection.PostStore
	collector collection.Collector
	clock     collection.Clock
	params    Params
	logger    *zap.Logger
}

// New constructs an Engine.
func New(
	jobs collection.JobStore,
	posts collection.PostStore,
	coll collection.Collector,
	clock collection.Clock,
	params Params,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.TwitterVerifyMaxReplies <= 0 {
		params.TwitterVerifyMaxReplies = 2
	}
	if params.FailedVerifySampleSize <= 0 {
		params.FailedVerifySampleSize = 20
	}
	if params.StalledProcessingAge <= 0 {
		params.StalledProcessingAge = 2 * time.Hour
	}
	return &Engine{
		jobs:      jobs,
		posts:     posts,
		collector: coll,
		clock:     clock,
		params:    params,
		logger:    logger,
	}
}

func (e *Engine) inQuotaWindow(t time.Time) bool {
	for _, w := range e.params.QuotaWindows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

func anyJobWithStatus(jobs []collection.Job, statuses ...collection.JobStatus) bool {
	for _, job := range jobs {
		for _, st := range statuses {
			if job.Status == st {
				return true
			}
		}
	}
	return false
}

func allJobsWithStatus(jobs []collection.Job, statuses ...collection.JobStatus) bool {
	for _, job := range jobs {
		matched := false
		for _, st := range statuses {
			if job.Status == st {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
