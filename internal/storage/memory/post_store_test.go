package memory

import (
	"context"
	"testing"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

func TestPostStoreLookupAndGuardedUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPostStore()
	docID := store.SeedPost(collection.Post{
		PostID:      "p1",
		CandidateID: "c1",
		Platform:    collection.PlatformTwitter,
		Status:      collection.PostStatusProcessing,
	})

	post, found, err := store.GetPostByPostID(ctx, "p1")
	if err != nil || !found {
		t.Fatalf("expected post by post id, found=%v err=%v", found, err)
	}
	if post.PostDocID != docID {
		t.Fatalf("unexpected doc id %s", post.PostDocID)
	}

	ok, err := store.UpdatePostStatus(ctx, docID, collection.PostStatusProcessing, collection.PostStatusDone)
	if err != nil || !ok {
		t.Fatalf("expected update to apply, ok=%v err=%v", ok, err)
	}
	ok, _ = store.UpdatePostStatus(ctx, docID, collection.PostStatusProcessing, collection.PostStatusDone)
	if ok {
		t.Fatalf("expected stale guard to be rejected")
	}

	posts, err := store.FindPosts(ctx, collection.PostFilter{
		Statuses: []collection.PostStatus{collection.PostStatusDone},
	})
	if err != nil || len(posts) != 1 {
		t.Fatalf("expected one done post, got %v err=%v", posts, err)
	}

	if _, found, _ := store.GetPostByPostID(ctx, "missing"); found {
		t.Fatalf("expected missing post to report not found")
	}
}
