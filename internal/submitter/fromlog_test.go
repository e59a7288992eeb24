package submitter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

func logDoc(entries ...runlog.ErrorEntry) runlog.Document {
	return runlog.Document{
		ExecutionType:      "submit_batch",
		ExecutionTimestamp: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		APIUsage:           map[string]int{"submit": len(entries)},
		Errors:             entries,
	}
}

func TestSubmitFromLogResubmitsFailedPosts(t *testing.T) {
	t.Parallel()

	sub, jobs, posts, coll := newEnv(t, Config{DefaultMaxReplies: 100})
	seedPost(posts, "p1", collection.PostStatusNoReplies, 30)

	doc := logDoc(runlog.ErrorEntry{
		ErrorType:    "transport_error",
		ErrorMessage: "gateway timeout",
		PostID:       "p1",
		Platform:     collection.PlatformTwitter,
		Timestamp:    time.Now(),
	})

	summary, err := sub.SubmitFromLog(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count(OutcomeCreated))
	require.Len(t, coll.submitted, 1)

	created, err := jobs.FindJobs(context.Background(), collection.JobFilter{PostID: "p1"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, collection.JobStatusPending, created[0].Status)
}

func TestSubmitFromLogDeduplicatesEntries(t *testing.T) {
	t.Parallel()

	sub, _, posts, coll := newEnv(t, Config{DefaultMaxReplies: 100})
	seedPost(posts, "p1", collection.PostStatusNoReplies, 0)

	entry := runlog.ErrorEntry{
		ErrorType:    "submission_failed",
		ErrorMessage: "no id in response",
		PostID:       "p1",
		Timestamp:    time.Now(),
	}
	summary, err := sub.SubmitFromLog(context.Background(), logDoc(entry, entry, entry), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Len(t, coll.submitted, 1)
}

func TestSubmitFromLogSkipsRecoveredAndMissingPosts(t *testing.T) {
	t.Parallel()

	sub, _, posts, coll := newEnv(t, Config{DefaultMaxReplies: 100})
	seedPost(posts, "done-post", collection.PostStatusDone, 0)

	doc := logDoc(
		runlog.ErrorEntry{ErrorType: "submission_failed", ErrorMessage: "x", PostID: "done-post", Timestamp: time.Now()},
		runlog.ErrorEntry{ErrorType: "submission_failed", ErrorMessage: "x", PostID: "gone-post", Timestamp: time.Now()},
		runlog.ErrorEntry{ErrorType: "transport_error", ErrorMessage: "x", Timestamp: time.Now()},
	)

	summary, err := sub.SubmitFromLog(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Count(OutcomeSkippedFromLog))
	require.Empty(t, coll.submitted)
}
