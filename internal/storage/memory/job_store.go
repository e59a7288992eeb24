// Package memory provides in-memory store implementations for development
// and testing. Conditional-write semantics mirror the mongo stores so tests
// exercise the same race-detection contract.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

// JobStore keeps job records in a mutex-guarded map.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]collection.Job
	seq  int
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]collection.Job)}
}

// CreateJob stores a new job and returns its assigned doc id.
func (s *JobStore) CreateJob(_ context.Context, job collection.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.DocID == "" {
		s.seq++
		job.DocID = fmt.Sprintf("job-%d", s.seq)
	}
	if _, exists := s.jobs[job.DocID]; exists {
		return "", fmt.Errorf("job %s already exists", job.DocID)
	}
	// Seeded timestamps survive; fixtures rely on controlled clocks.
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	s.jobs[job.DocID] = job
	return job.DocID, nil
}

// GetJob fetches a job by doc id.
func (s *JobStore) GetJob(_ context.Context, docID string) (collection.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[docID]
	return job, ok, nil
}

// FindJobs returns jobs matching the filter, most-recent-first.
func (s *JobStore) FindJobs(_ context.Context, filter collection.JobFilter) ([]collection.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []collection.Job
	for _, job := range s.jobs {
		if matchJob(job, filter) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateJobStatus applies from -> to only if the stored status still equals
// from. A false return means the guard did not match.
func (s *JobStore) UpdateJobStatus(_ context.Context, docID string, from, to collection.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[docID]
	if !ok {
		return false, fmt.Errorf("job %s not found", docID)
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	s.jobs[docID] = job
	return true, nil
}

// MarkJobRetried applies empty_result -> pending and increments retry_count
// in the same guarded write.
func (s *JobStore) MarkJobRetried(_ context.Context, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[docID]
	if !ok {
		return false, fmt.Errorf("job %s not found", docID)
	}
	if job.Status != collection.JobStatusEmptyResult {
		return false, nil
	}
	job.Status = collection.JobStatusPending
	job.RetryCount++
	job.UpdatedAt = time.Now().UTC()
	s.jobs[docID] = job
	return true, nil
}

// DeleteJob removes a job record.
func (s *JobStore) DeleteJob(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[docID]; !ok {
		return fmt.Errorf("job %s not found", docID)
	}
	delete(s.jobs, docID)
	return nil
}

func matchJob(job collection.Job, filter collection.JobFilter) bool {
	if filter.PostID != "" && job.PostID != filter.PostID {
		return false
	}
	if filter.PostDocID != "" && job.PostDocID != filter.PostDocID {
		return false
	}
	if filter.CandidateID != "" && job.CandidateID != filter.CandidateID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if job.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
