package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	blobmem "github.com/timmd-9216/trust-engine-v2-sub000/internal/storage/memory"
)

func TestRunLogAccumulatesAndFlushes(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	rl := New("run-1", "submit_batch", started)
	rl.CountAPICall("submit")
	rl.CountAPICall("submit")
	rl.CountAPICall("status")
	rl.RecordError(ErrorEntry{
		ErrorType:    "submission_error",
		ErrorMessage: "no id_hash256",
		PostID:       "p1",
		Platform:     collection.PlatformTwitter,
		Timestamp:    started,
	})

	store := blobmem.NewBlobStore()
	uri, err := rl.Flush(context.Background(), store, "logs/errors")
	require.NoError(t, err)
	require.Equal(t, "memory://logs/errors/2025-03-14/submit_batch_run-1.json", uri)

	data, ok := store.Object("logs/errors/2025-03-14/submit_batch_run-1.json")
	require.True(t, ok)

	doc, err := ParseDocument(data)
	require.NoError(t, err)
	require.Equal(t, "submit_batch", doc.ExecutionType)
	require.Equal(t, 2, doc.APIUsage["submit"])
	require.Equal(t, 1, doc.APIUsage["status"])
	require.Len(t, doc.Errors, 1)
	require.Equal(t, "p1", doc.Errors[0].PostID)
}

func TestRecordErrorNormalizesMissingFields(t *testing.T) {
	t.Parallel()

	rl := New("run-2", "reconcile", time.Now().UTC())
	rl.RecordError(ErrorEntry{ErrorMessage: "boom"})

	errs := rl.Errors()
	require.Len(t, errs, 1)
	require.Equal(t, "unclassified", errs[0].ErrorType)
	require.False(t, errs[0].Timestamp.IsZero())
}

func TestErrorEntryValidate(t *testing.T) {
	t.Parallel()

	valid := ErrorEntry{ErrorType: "x", ErrorMessage: "y", Timestamp: time.Now()}
	require.NoError(t, valid.Validate())
	require.Error(t, ErrorEntry{ErrorMessage: "y", Timestamp: time.Now()}.Validate())
	require.Error(t, ErrorEntry{ErrorType: "x", Timestamp: time.Now()}.Validate())
	require.Error(t, ErrorEntry{ErrorType: "x", ErrorMessage: "y"}.Validate())
}
