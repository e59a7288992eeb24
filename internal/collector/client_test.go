package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:        srv.URL,
		Token:          "test-token",
		PollInterval:   5 * time.Millisecond,
		PollRounds:     5,
		MaxRetries:     1,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	return c, srv
}

func TestSubmitReturnsJobID(t *testing.T) {
	t.Parallel()

	var gotBody submitBody
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/submit", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"id_hash256": "abc123"})
	}))

	id, err := c.Submit(context.Background(), collection.SubmitRequest{
		Query:    collection.ReplyQuery("999"),
		Platform: collection.PlatformTwitter,
		MaxPosts: 50,
		SortBy:   "latest",
	})
	require.NoError(t, err)
	require.Equal(t, "abc123", id)
	require.Equal(t, "reply:999", gotBody.Query)
	require.Equal(t, "test-token", gotBody.Token)
	require.Equal(t, []string{"twitter"}, gotBody.PlatformToCollect)
	require.Equal(t, 50, gotBody.MaxPost)
}

func TestSubmitWithoutIDIsSubmissionError(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "quota exhausted"})
	}))

	_, err := c.Submit(context.Background(), collection.SubmitRequest{Query: "x", Platform: collection.PlatformTwitter})
	var subErr *collection.SubmissionError
	require.ErrorAs(t, err, &subErr)
}

func TestStatusMissingKeyReadsAsFailed(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abc", r.URL.Query().Get("id_hash256"))
		require.Equal(t, "0", r.URL.Query().Get("include_partial_results"))
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "no such job"})
	}))

	status, err := c.Status(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status)
}

func TestPollStatusFinishesAfterRunningRounds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": StatusRunning})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": StatusFinished})
	}))

	outcome, rounds, err := c.PollStatus(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, collection.PollFinished, outcome)
	require.Equal(t, 3, rounds)
	require.EqualValues(t, 3, calls.Load())
}

func TestPollStatusExhaustsRoundsAsTimeout(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": StatusRunning})
	}))

	outcome, rounds, err := c.PollStatus(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, collection.PollTimeout, outcome)
	require.Equal(t, 5, rounds)
}

func TestPollStatusHonorsCancellation(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": StatusRunning})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.PollStatus(ctx, "abc")
	require.True(t, errors.Is(err, context.Canceled))
}

func TestFetchResultEmptyArrayIsValid(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rawdata", r.URL.Path)
		require.Equal(t, "twitter", r.URL.Query().Get("source"))
		_, _ = w.Write([]byte("[]"))
	}))

	records, err := c.FetchResult(context.Background(), "abc", collection.PlatformTwitter)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestFetchResultObjectNormalizedToSingleRecord(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"reply_id":"1"}`))
	}))

	records, err := c.FetchResult(context.Background(), "abc", collection.PlatformReddit)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestTransportErrorsAreRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": StatusFinished})
	}))

	status, err := c.Status(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, StatusFinished, status)
	require.EqualValues(t, 2, calls.Load())
}
