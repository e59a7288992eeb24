package submitter

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
	storemem "github.com/timmd-9216/trust-engine-v2-sub000/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeCollector struct {
	submitErr error
	nextID    int
	submitted []collection.SubmitRequest
}

func (f *fakeCollector) Submit(_ context.Context, req collection.SubmitRequest) (string, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	return fmt.Sprintf("hash-%d", f.nextID), nil
}

func (f *fakeCollector) Status(context.Context, string) (string, error) {
	return "finished", nil
}

func (f *fakeCollector) PollStatus(context.Context, string) (collection.PollOutcome, int, error) {
	return collection.PollFinished, 1, nil
}

func (f *fakeCollector) FetchResult(context.Context, string, collection.Platform) ([]json.RawMessage, error) {
	return nil, nil
}

func newEnv(t *testing.T, cfg Config) (*Submitter, *storemem.JobStore, *storemem.PostStore, *fakeCollector) {
	t.Helper()
	jobs := storemem.NewJobStore()
	posts := storemem.NewPostStore()
	coll := &fakeCollector{}
	clk := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(jobs, posts, coll, clk, cfg, zap.NewNop()), jobs, posts, coll
}

func seedPost(posts *storemem.PostStore, postID string, status collection.PostStatus, maxReplies int) collection.Post {
	docID := posts.SeedPost(collection.Post{
		PostID:          postID,
		Platform:        collection.PlatformTwitter,
		Country:         "uy",
		CandidateID:     "c1",
		Status:          status,
		MaxPostsReplies: maxReplies,
	})
	return collection.Post{
		PostDocID:       docID,
		PostID:          postID,
		Platform:        collection.PlatformTwitter,
		Country:         "uy",
		CandidateID:     "c1",
		Status:          status,
		MaxPostsReplies: maxReplies,
	}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	t.Parallel()

	sub, jobs, posts, coll := newEnv(t, Config{MarkPostProcessing: true, DefaultMaxReplies: 100})
	post := seedPost(posts, "p1", collection.PostStatusNoReplies, 40)

	res, err := sub.Submit(context.Background(), post, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)
	require.NotEmpty(t, res.JobDocID)

	job, found, err := jobs.GetJob(context.Background(), res.JobDocID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, collection.JobStatusPending, job.Status)
	require.Equal(t, "p1", job.PostID)
	require.Equal(t, 40, job.MaxPostsReplies)
	require.Equal(t, "reply:p1", coll.submitted[0].Query)

	stored, _, _ := posts.GetPostByPostID(context.Background(), "p1")
	require.Equal(t, collection.PostStatusProcessing, stored.Status)
}

func TestSubmitSkipsWhenActiveJobExists(t *testing.T) {
	t.Parallel()

	sub, jobs, posts, _ := newEnv(t, Config{})
	post := seedPost(posts, "p1", collection.PostStatusNoReplies, 0)

	first, err := sub.Submit(context.Background(), post, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Outcome)

	second, err := sub.Submit(context.Background(), post, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, second.Outcome)
	require.Contains(t, second.Reason, "active job")

	all, err := jobs.FindJobs(context.Background(), collection.JobFilter{PostID: "p1"})
	require.NoError(t, err)
	require.Len(t, all, 1, "second submit must create zero additional job documents")
}

func TestSubmitForceReplaceDeletesActiveJob(t *testing.T) {
	t.Parallel()

	sub, jobs, posts, _ := newEnv(t, Config{ForceReplace: true})
	post := seedPost(posts, "p1", collection.PostStatusNoReplies, 0)

	first, err := sub.Submit(context.Background(), post, nil)
	require.NoError(t, err)
	second, err := sub.Submit(context.Background(), post, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, second.Outcome)

	if _, found, _ := jobs.GetJob(context.Background(), first.JobDocID); found {
		t.Fatalf("expected first job to be deleted by force-replace")
	}
	all, _ := jobs.FindJobs(context.Background(), collection.JobFilter{PostID: "p1"})
	require.Len(t, all, 1)
}

func TestSubmissionFailureCreatesNoJobAndBatchContinues(t *testing.T) {
	t.Parallel()

	sub, jobs, posts, coll := newEnv(t, Config{})
	failing := seedPost(posts, "p1", collection.PostStatusNoReplies, 0)
	healthy := seedPost(posts, "p2", collection.PostStatusNoReplies, 0)

	coll.submitErr = &collection.SubmissionError{Reason: "quota exhausted"}
	log := runlog.New("run-1", "submit_batch", time.Now().UTC())

	res, err := sub.Submit(context.Background(), failing, log)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)

	all, _ := jobs.FindJobs(context.Background(), collection.JobFilter{PostID: "p1"})
	require.Empty(t, all, "submission failure must not create a job record")
	require.Len(t, log.Errors(), 1)

	coll.submitErr = nil
	summary, err := sub.SubmitBatch(context.Background(), []collection.Post{failing, healthy}, log)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, summary.Count(OutcomeCreated))
}

func TestResolveMaxRepliesFallsBackToPriorJobThenDefault(t *testing.T) {
	t.Parallel()

	sub, jobs, posts, coll := newEnv(t, Config{DefaultMaxReplies: 77})
	post := seedPost(posts, "p1", collection.PostStatusNoReplies, 0)

	// No post cap and no prior job: default applies.
	_, err := sub.Submit(context.Background(), post, nil)
	require.NoError(t, err)
	require.Equal(t, 77, coll.submitted[0].MaxPosts)

	// With a prior terminal job carrying a cap, that cap wins over the
	// default even though the post record still has none.
	other := seedPost(posts, "p2", collection.PostStatusNoReplies, 0)
	_, err = jobs.CreateJob(context.Background(), collection.Job{
		PostID:          "p2",
		Status:          collection.JobStatusEmptyResult,
		MaxPostsReplies: 55,
	})
	require.NoError(t, err)

	_, err = sub.Submit(context.Background(), other, nil)
	require.NoError(t, err)
	require.Equal(t, 55, coll.submitted[1].MaxPosts)
}
