package collection

import (
	"context"
	"encoding/json"
	"time"
)

// JobFilter narrows job queries. Zero-valued fields are ignored.
type JobFilter struct {
	PostID      string
	PostDocID   string
	CandidateID string
	Statuses    []JobStatus
	Limit       int
}

// PostFilter narrows post queries. Zero-valued fields are ignored.
type PostFilter struct {
	PostID      string
	CandidateID string
	Statuses    []PostStatus
	Limit       int
}

// JobStore persists job records in the pending_jobs collection.
//
// Status writes are conditional on the previously observed status so that
// concurrent reconciliation passes lose races detectably instead of
// double-applying: a false return means the guard did not match and the
// caller must re-read before deciding again.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) (string, error)
	GetJob(ctx context.Context, docID string) (Job, bool, error)
	// FindJobs returns matches most-recent-first by created_at.
	FindJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	UpdateJobStatus(ctx context.Context, docID string, from, to JobStatus) (bool, error)
	// MarkJobRetried applies empty_result -> pending and increments
	// retry_count in the same conditional write. It is the only path that
	// may touch retry_count.
	MarkJobRetried(ctx context.Context, docID string) (bool, error)
	DeleteJob(ctx context.Context, docID string) error
}

// PostStore persists post records in the posts collection.
type PostStore interface {
	GetPost(ctx context.Context, postDocID string) (Post, bool, error)
	GetPostByPostID(ctx context.Context, postID string) (Post, bool, error)
	FindPosts(ctx context.Context, filter PostFilter) ([]Post, error)
	UpdatePostStatus(ctx context.Context, postDocID string, from, to PostStatus) (bool, error)
}

// Collector is the external third-party collection service.
type Collector interface {
	// Submit starts a remote run and returns its opaque job id. A response
	// with no id is reported as *SubmissionError.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// Status performs a single status check, returning the remote status
	// string verbatim. A response without a status key reads as "failed".
	Status(ctx context.Context, jobID string) (string, error)
	// PollStatus blocks across repeated status checks until the remote job
	// finishes, fails, or the polling budget runs out. It also reports how
	// many status rounds the poll consumed.
	PollStatus(ctx context.Context, jobID string) (PollOutcome, int, error)
	// FetchResult downloads the raw records for a finished job. An empty
	// slice is a valid result (zero matches), not an error.
	FetchResult(ctx context.Context, jobID string, platform Platform) ([]json.RawMessage, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes terminal-outcome events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids for batch executions.
type IDGenerator interface {
	NewID() (string, error)
}
