package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

// PostStore persists posts in the posts collection. Posts are created by
// the upstream ingestion pipeline; this store only reads and moves status.
type PostStore struct {
	col *mongo.Collection
}

// NewPostStore constructs a PostStore for the configured collection.
func NewPostStore(client *mongo.Client, cfg Config) *PostStore {
	return &PostStore{col: cfg.posts(client)}
}

type postDoc struct {
	ID              primitive.ObjectID    `bson:"_id,omitempty"`
	PostID          string                `bson:"post_id"`
	Platform        collection.Platform   `bson:"platform"`
	Country         string                `bson:"country"`
	CandidateID     string                `bson:"candidate_id"`
	Status          collection.PostStatus `bson:"status"`
	RepliesCount    int                   `bson:"replies_count"`
	MaxPostsReplies int                   `bson:"max_posts_replies"`
	CreatedAt       time.Time             `bson:"created_at"`
	UpdatedAt       time.Time             `bson:"updated_at"`
}

func (d postDoc) toPost() collection.Post {
	return collection.Post{
		PostDocID:       d.ID.Hex(),
		PostID:          d.PostID,
		Platform:        d.Platform,
		Country:         d.Country,
		CandidateID:     d.CandidateID,
		Status:          d.Status,
		RepliesCount:    d.RepliesCount,
		MaxPostsReplies: d.MaxPostsReplies,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// GetPost fetches a post by doc id.
func (s *PostStore) GetPost(ctx context.Context, postDocID string) (collection.Post, bool, error) {
	oid, err := primitive.ObjectIDFromHex(postDocID)
	if err != nil {
		return collection.Post{}, false, fmt.Errorf("invalid post doc id %q: %w", postDocID, err)
	}
	var doc postDoc
	err = s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return collection.Post{}, false, nil
	}
	if err != nil {
		return collection.Post{}, false, fmt.Errorf("find post %s: %w", postDocID, err)
	}
	return doc.toPost(), true, nil
}

// GetPostByPostID fetches a post by its external post id.
func (s *PostStore) GetPostByPostID(ctx context.Context, postID string) (collection.Post, bool, error) {
	var doc postDoc
	err := s.col.FindOne(ctx, bson.M{"post_id": postID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return collection.Post{}, false, nil
	}
	if err != nil {
		return collection.Post{}, false, fmt.Errorf("find post by post_id %s: %w", postID, err)
	}
	return doc.toPost(), true, nil
}

// FindPosts returns posts matching the filter.
func (s *PostStore) FindPosts(ctx context.Context, filter collection.PostFilter) ([]collection.Post, error) {
	query := bson.M{}
	if filter.PostID != "" {
		query["post_id"] = filter.PostID
	}
	if filter.CandidateID != "" {
		query["candidate_id"] = filter.CandidateID
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.col.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	defer cursor.Close(ctx)

	var out []collection.Post
	for cursor.Next(ctx) {
		var doc postDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		out = append(out, doc.toPost())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// UpdatePostStatus applies from -> to conditionally on the stored status
// still being from.
func (s *PostStore) UpdatePostStatus(ctx context.Context, postDocID string, from, to collection.PostStatus) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(postDocID)
	if err != nil {
		return false, fmt.Errorf("invalid post doc id %q: %w", postDocID, err)
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": oid, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("update post %s: %w", postDocID, err)
	}
	return res.ModifiedCount == 1, nil
}
