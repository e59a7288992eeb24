package sched

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/reconcile"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
	storemem "github.com/timmd-9216/trust-engine-v2-sub000/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDs struct{ n int }

func (f *fakeIDs) NewID() (string, error) {
	f.n++
	return "run-1", nil
}

type stubCollector struct{}

func (stubCollector) Submit(context.Context, collection.SubmitRequest) (string, error) {
	return "", errors.New("not implemented")
}
func (stubCollector) Status(context.Context, string) (string, error) { return "failed", nil }
func (stubCollector) PollStatus(context.Context, string) (collection.PollOutcome, int, error) {
	return collection.PollFailed, 1, nil
}
func (stubCollector) FetchResult(context.Context, string, collection.Platform) ([]json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func newScheduler(t *testing.T, apply bool) (*Scheduler, *storemem.JobStore, *storemem.PostStore, *storemem.BlobStore) {
	t.Helper()
	jobs := storemem.NewJobStore()
	posts := storemem.NewPostStore()
	blobs := storemem.NewBlobStore()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	engine := reconcile.New(jobs, posts, stubCollector{}, clock, reconcile.Params{}, zap.NewNop())
	s := New(engine, jobs, posts, blobs, &fakeIDs{}, clock, Config{
		Schedule:  "0 */6 * * *",
		Apply:     apply,
		LogPrefix: "logs/errors",
	}, zap.NewNop())
	return s, jobs, posts, blobs
}

func TestRunOnceFlushesRunLog(t *testing.T) {
	s, _, posts, blobs := newScheduler(t, false)
	posts.SeedPost(collection.Post{
		PostID:   "p1",
		Platform: collection.PlatformTwitter,
		Status:   collection.PostStatusProcessing,
	})

	results := s.RunOnce(context.Background())
	require.NotNil(t, results)
	require.Contains(t, results, reconcile.OpStuckProcessingPosts)

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	require.Equal(t, "logs/errors/2026-03-10/scheduled_reconcile_run-1.json", paths[0])

	data, ok := blobs.Object(paths[0])
	require.True(t, ok)
	doc, err := runlog.ParseDocument(data)
	require.NoError(t, err)
	require.Equal(t, "scheduled_reconcile", doc.ExecutionType)
}

func TestRunOnceDryRunLeavesStoresUntouched(t *testing.T) {
	s, jobs, posts, _ := newScheduler(t, false)
	postDocID := posts.SeedPost(collection.Post{
		PostID:   "p1",
		Platform: collection.PlatformTwitter,
		Status:   collection.PostStatusProcessing,
	})
	_, err := jobs.CreateJob(context.Background(), collection.Job{
		PostID:    "p1",
		PostDocID: postDocID,
		Platform:  collection.PlatformTwitter,
		Status:    collection.JobStatusDone,
	})
	require.NoError(t, err)

	s.RunOnce(context.Background())

	post, _, err := posts.GetPost(context.Background(), postDocID)
	require.NoError(t, err)
	require.Equal(t, collection.PostStatusProcessing, post.Status)
}

func TestRunOnceApplyCorrectsState(t *testing.T) {
	s, jobs, posts, _ := newScheduler(t, true)
	postDocID := posts.SeedPost(collection.Post{
		PostID:   "p1",
		Platform: collection.PlatformTwitter,
		Status:   collection.PostStatusProcessing,
	})
	_, err := jobs.CreateJob(context.Background(), collection.Job{
		PostID:    "p1",
		PostDocID: postDocID,
		Platform:  collection.PlatformTwitter,
		Status:    collection.JobStatusDone,
	})
	require.NoError(t, err)

	s.RunOnce(context.Background())

	post, _, err := posts.GetPost(context.Background(), postDocID)
	require.NoError(t, err)
	require.Equal(t, collection.PostStatusDone, post.Status)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s, _, _, _ := newScheduler(t, false)
	s.cfg.Schedule = "every once in a while"
	require.Error(t, s.Start(context.Background()))
}
