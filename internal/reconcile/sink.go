// Package reconcile detects and corrects job/post state that has drifted
// from ground truth. Every operation is a pure decision pass over a store
// snapshot; mutations flow through a Sink so the decision logic is
// identical whether a run applies writes or only records them.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

// Action describes the corrective write a decision calls for.
type Action string

// Supported corrective actions. ActionReport carries no write: it flags a
// state that must be surfaced but never auto-resolved.
const (
	ActionUpdateJob  Action = "update_job_status"
	ActionUpdatePost Action = "update_post_status"
	ActionRetryJob   Action = "retry_job"
	ActionDeleteJob  Action = "delete_job"
	ActionReport     Action = "report"
)

// Decision is one corrective conclusion reached by an engine operation.
// The reason string is part of the contract: it is identical between
// dry-run and apply runs.
type Decision struct {
	Op        string                `json:"op"`
	Action    Action                `json:"action"`
	JobDocID  string                `json:"job_doc_id,omitempty"`
	PostDocID string                `json:"post_doc_id,omitempty"`
	FromJob   collection.JobStatus  `json:"from_job_status,omitempty"`
	ToJob     collection.JobStatus  `json:"to_job_status,omitempty"`
	FromPost  collection.PostStatus `json:"from_post_status,omitempty"`
	ToPost    collection.PostStatus `json:"to_post_status,omitempty"`
	Reason    string                `json:"reason"`
}

// Sink consumes decisions. ApplySink writes them through the stores;
// RecordSink only records them, which is the dry-run mode.
type Sink interface {
	Apply(ctx context.Context, d Decision) error
	// Decisions returns everything consumed so far, in order.
	Decisions() []Decision
}

// RecordSink records decisions without writing. It is the default sink:
// production runs opt in to writes explicitly.
type RecordSink struct {
	mu        sync.Mutex
	decisions []Decision
}

// NewRecordSink creates a RecordSink.
func NewRecordSink() *RecordSink {
	return &RecordSink{}
}

// Apply records the decision and performs no write.
func (s *RecordSink) Apply(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

// Decisions returns the recorded decisions.
func (s *RecordSink) Decisions() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// ApplySink writes decisions through the stores with guarded updates, so a
// raced decision is lost safely instead of double-applied.
type ApplySink struct {
	jobs   collection.JobStore
	posts  collection.PostStore
	logger *zap.Logger

	mu        sync.Mutex
	decisions []Decision
	raced     int
}

// NewApplySink creates an ApplySink.
func NewApplySink(jobs collection.JobStore, posts collection.PostStore, logger *zap.Logger) *ApplySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplySink{jobs: jobs, posts: posts, logger: logger}
}

// Apply records the decision and performs the corresponding guarded write.
// A guard miss (the record moved since the snapshot) is logged and counted,
// not escalated: the next pass re-evaluates from fresh state.
func (s *ApplySink) Apply(ctx context.Context, d Decision) error {
	s.mu.Lock()
	s.decisions = append(s.decisions, d)
	s.mu.Unlock()

	switch d.Action {
	case ActionReport:
		return nil
	case ActionUpdateJob:
		if err := collection.ValidateJobTransition(d.FromJob, d.ToJob); err != nil {
			return fmt.Errorf("apply %s on job %s: %w", d.Op, d.JobDocID, err)
		}
		applied, err := s.jobs.UpdateJobStatus(ctx, d.JobDocID, d.FromJob, d.ToJob)
		if err != nil {
			return fmt.Errorf("apply %s on job %s: %w", d.Op, d.JobDocID, err)
		}
		if !applied {
			s.noteRace(d)
		}
		return nil
	case ActionUpdatePost:
		applied, err := s.posts.UpdatePostStatus(ctx, d.PostDocID, d.FromPost, d.ToPost)
		if err != nil {
			return fmt.Errorf("apply %s on post %s: %w", d.Op, d.PostDocID, err)
		}
		if !applied {
			s.noteRace(d)
		}
		return nil
	case ActionRetryJob:
		applied, err := s.jobs.MarkJobRetried(ctx, d.JobDocID)
		if err != nil {
			return fmt.Errorf("apply %s on job %s: %w", d.Op, d.JobDocID, err)
		}
		if !applied {
			s.noteRace(d)
		}
		return nil
	case ActionDeleteJob:
		if err := s.jobs.DeleteJob(ctx, d.JobDocID); err != nil {
			return fmt.Errorf("apply %s on job %s: %w", d.Op, d.JobDocID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
}

// Decisions returns the consumed decisions.
func (s *ApplySink) Decisions() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Raced returns how many guarded writes lost their race.
func (s *ApplySink) Raced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raced
}

func (s *ApplySink) noteRace(d Decision) {
	s.mu.Lock()
	s.raced++
	s.mu.Unlock()
	s.logger.Warn("reconcile write lost its race",
		zap.String("op", d.Op),
		zap.String("action", string(d.Action)),
		zap.String("job_doc_id", d.JobDocID),
		zap.String("post_doc_id", d.PostDocID))
}
