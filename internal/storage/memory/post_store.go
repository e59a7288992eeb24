package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

// PostStore keeps post records in a mutex-guarded map.
type PostStore struct {
	mu    sync.RWMutex
	posts map[string]collection.Post
	seq   int
}

// NewPostStore constructs a PostStore.
func NewPostStore() *PostStore {
	return &PostStore{posts: make(map[string]collection.Post)}
}

// SeedPost inserts a post directly, for tests and local development. Posts
// are normally created by the upstream ingestion pipeline.
func (s *PostStore) SeedPost(post collection.Post) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if post.PostDocID == "" {
		s.seq++
		post.PostDocID = fmt.Sprintf("post-%d", s.seq)
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = time.Now().UTC()
	}
	s.posts[post.PostDocID] = post
	return post.PostDocID
}

// GetPost fetches a post by doc id.
func (s *PostStore) GetPost(_ context.Context, postDocID string) (collection.Post, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[postDocID]
	return post, ok, nil
}

// GetPostByPostID fetches a post by its external post id.
func (s *PostStore) GetPostByPostID(_ context.Context, postID string) (collection.Post, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, post := range s.posts {
		if post.PostID == postID {
			return post, true, nil
		}
	}
	return collection.Post{}, false, nil
}

// FindPosts returns posts matching the filter.
func (s *PostStore) FindPosts(_ context.Context, filter collection.PostFilter) ([]collection.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []collection.Post
	for _, post := range s.posts {
		if !matchPost(post, filter) {
			continue
		}
		out = append(out, post)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// UpdatePostStatus applies from -> to only if the stored status still equals
// from.
func (s *PostStore) UpdatePostStatus(_ context.Context, postDocID string, from, to collection.PostStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[postDocID]
	if !ok {
		return false, fmt.Errorf("post %s not found", postDocID)
	}
	if post.Status != from {
		return false, nil
	}
	post.Status = to
	post.UpdatedAt = time.Now().UTC()
	s.posts[postDocID] = post
	return true, nil
}

func matchPost(post collection.Post, filter collection.PostFilter) bool {
	if filter.PostID != "" && post.PostID != filter.PostID {
		return false
	}
	if filter.CandidateID != "" && post.CandidateID != filter.CandidateID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if post.Status == st {
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
