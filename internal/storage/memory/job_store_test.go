package memory

import (
	"context"
	"testing"
	"time"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

func TestJobStoreCreateAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()

	docID, err := store.CreateJob(ctx, collection.Job{
		JobID:       "hash-1",
		PostID:      "p1",
		CandidateID: "c1",
		Platform:    collection.PlatformTwitter,
		Status:      collection.JobStatusPending,
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if docID == "" {
		t.Fatalf("expected assigned doc id")
	}

	jobs, err := store.FindJobs(ctx, collection.JobFilter{
		PostID:   "p1",
		Statuses: []collection.JobStatus{collection.JobStatusPending, collection.JobStatusProcessing},
	})
	if err != nil {
		t.Fatalf("FindJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].DocID != docID {
		t.Fatalf("expected the created job, got %+v", jobs)
	}

	jobs, err = store.FindJobs(ctx, collection.JobFilter{CandidateID: "other"})
	if err != nil {
		t.Fatalf("FindJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs for other candidate, got %+v", jobs)
	}
}

func TestJobStoreUpdateStatusGuards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	docID, _ := store.CreateJob(ctx, collection.Job{Status: collection.JobStatusPending})

	ok, err := store.UpdateJobStatus(ctx, docID, collection.JobStatusPending, collection.JobStatusProcessing)
	if err != nil || !ok {
		t.Fatalf("expected guarded update to apply, ok=%v err=%v", ok, err)
	}

	// Stale guard must lose the race detectably.
	ok, err = store.UpdateJobStatus(ctx, docID, collection.JobStatusPending, collection.JobStatusProcessing)
	if err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	if ok {
		t.Fatalf("expected stale guard to be rejected")
	}

	job, found, _ := store.GetJob(ctx, docID)
	if !found || job.Status != collection.JobStatusProcessing {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestJobStoreMarkRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	docID, _ := store.CreateJob(ctx, collection.Job{Status: collection.JobStatusEmptyResult, RetryCount: 1})

	ok, err := store.MarkJobRetried(ctx, docID)
	if err != nil || !ok {
		t.Fatalf("expected retry to apply, ok=%v err=%v", ok, err)
	}
	job, _, _ := store.GetJob(ctx, docID)
	if job.Status != collection.JobStatusPending || job.RetryCount != 2 {
		t.Fatalf("unexpected job after retry: %+v", job)
	}

	// Second call is a no-op: the job is already pending.
	ok, err = store.MarkJobRetried(ctx, docID)
	if err != nil {
		t.Fatalf("MarkJobRetried() error = %v", err)
	}
	if ok {
		t.Fatalf("expected retry of pending job to be rejected")
	}
	job, _, _ = store.GetJob(ctx, docID)
	if job.RetryCount != 2 {
		t.Fatalf("retry_count must not double-increment, got %d", job.RetryCount)
	}
}

func TestJobStoreDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	docID, _ := store.CreateJob(ctx, collection.Job{Status: collection.JobStatusFailed})

	if err := store.DeleteJob(ctx, docID); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, found, _ := store.GetJob(ctx, docID); found {
		t.Fatalf("expected job to be gone")
	}
	if err := store.DeleteJob(ctx, docID); err == nil {
		t.Fatalf("expected error deleting missing job")
	}
}

func TestJobStoreKeepsSeededTimestamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	seeded := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	docID, err := store.CreateJob(ctx, collection.Job{
		Status:    collection.JobStatusFailed,
		CreatedAt: seeded,
		UpdatedAt: seeded,
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job, _, err := store.GetJob(ctx, docID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if !job.CreatedAt.Equal(seeded) || !job.UpdatedAt.Equal(seeded) {
		t.Fatalf("expected seeded timestamps to survive, got %+v", job)
	}

	blank, err := store.CreateJob(ctx, collection.Job{Status: collection.JobStatusPending})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	job, _, _ = store.GetJob(ctx, blank)
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatalf("expected zero timestamps to be filled, got %+v", job)
	}
}
