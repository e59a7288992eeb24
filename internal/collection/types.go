// Package collection defines the core types shared across subsystems.
package collection

import (
	"fmt"
	"time"
)

// Platform identifies the social network a post belongs to.
type Platform string

// Platforms the collector knows how to scrape.
const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformReddit    Platform = "reddit"
	PlatformYouTube   Platform = "youtube"
	PlatformThreads   Platform = "threads"
)

// KnownPlatform reports whether p is one of the supported platforms.
func KnownPlatform(p Platform) bool {
	switch p {
	case PlatformTwitter, PlatformInstagram, PlatformFacebook,
		PlatformReddit, PlatformYouTube, PlatformThreads:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a collection job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending       JobStatus = "pending"
	JobStatusProcessing    JobStatus = "processing"
	JobStatusDone          JobStatus = "done"
	JobStatusVerified      JobStatus = "verified"
	JobStatusEmptyResult   JobStatus = "empty_result"
	JobStatusFailed        JobStatus = "failed"
	JobStatusQuotaExceeded JobStatus = "quota_exceeded"
)

// Active reports whether the status counts against the
// at-most-one-active-job rule for a post.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Terminal reports whether no further executor transition applies.
// quota_exceeded is terminal but ambiguous: it must be re-checked against
// the collector before being treated as a confirmed failure.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusVerified, JobStatusEmptyResult,
		JobStatusFailed, JobStatusQuotaExceeded:
		return true
	default:
		return false
	}
}

// PostStatus represents the lifecycle state of a post record.
type PostStatus string

// Post status values persisted in the post store.
const (
	PostStatusNoReplies  PostStatus = "noreplies"
	PostStatusProcessing PostStatus = "processing"
	PostStatusDone       PostStatus = "done"
	PostStatusFinished   PostStatus = "finished"
	PostStatusSkipped    PostStatus = "skipped"
)

// Job is the metadata persisted for each request submitted to the collector.
type Job struct {
	DocID           string    `json:"doc_id"`
	JobID           string    `json:"job_id"`
	PostID          string    `json:"post_id"`
	PostDocID       string    `json:"post_doc_id"`
	Platform        Platform  `json:"platform"`
	Country         string    `json:"country"`
	CandidateID     string    `json:"candidate_id"`
	Status          JobStatus `json:"status"`
	RetryCount      int       `json:"retry_count"`
	MaxPostsReplies int       `json:"max_posts_replies"`
	SortBy          string    `json:"sort_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Post is the target content item replies are being collected for. Posts
// are created by the upstream ingestion pipeline; this service only moves
// them through their status lifecycle.
type Post struct {
	PostDocID       string     `json:"post_doc_id"`
	PostID          string     `json:"post_id"`
	Platform        Platform   `json:"platform"`
	Country         string     `json:"country"`
	CandidateID     string     `json:"candidate_id"`
	Status          PostStatus `json:"status"`
	RepliesCount    int        `json:"replies_count"`
	MaxPostsReplies int        `json:"max_posts_replies"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ResultPath returns the blob path a job's raw results are handed off to.
func (j Job) ResultPath() string {
	return fmt.Sprintf("%s/%s/%s/%s.json", j.Country, j.Platform, j.CandidateID, j.PostID)
}

// PollOutcome is the terminal result of polling the collector for a job.
type PollOutcome string

// Poll outcomes. Timeout means the polling budget was exhausted while the
// remote job was still running; it does not prove the job will never finish
// and must never be conflated with Failed. QuotaExceeded is a rejection the
// collector reports distinctly from failure; it becomes retryable once the
// quota resets.
const (
	PollFinished      PollOutcome = "finished"
	PollFailed        PollOutcome = "failed"
	PollTimeout       PollOutcome = "timeout"
	PollQuotaExceeded PollOutcome = "quota_exceeded"
)

// SubmitRequest carries everything the collector needs to start a run.
type SubmitRequest struct {
	Query        string
	Platform     Platform
	MaxPosts     int
	SortBy       string
	StartDate    string
	EndDate      string
	TimelineOnly bool
	EnableAI     bool
}

// ReplyQuery builds the collector query that gathers replies for a post.
// The collector also understands bare handles (account timeline) and
// "from:@handle" (keyword search); this service only submits reply queries.
func ReplyQuery(postID string) string {
	return "reply:" + postID
}

// SubmissionError reports that the collector accepted the request transport
// but returned no job id. It is distinct from a network error: the remote
// rejected the submission, so there is nothing to poll for.
type SubmissionError struct {
	Reason string
}

func (e *SubmissionError) Error() string {
	return "collector submission rejected: " + e.Reason
}
