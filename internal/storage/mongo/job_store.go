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

// JobStore persists jobs in the pending_jobs collection.
type JobStore struct {
	col *mongo.Collection
}

// NewJobStore constructs a JobStore for the configured collection.
func NewJobStore(client *mongo.Client, cfg Config) *JobStore {
	return &JobStore{col: cfg.jobs(client)}
}

type jobDoc struct {
	ID              primitive.ObjectID   `bson:"_id,omitempty"`
	JobID           string               `bson:"job_id"`
	PostID          string               `bson:"post_id"`
	PostDocID       string               `bson:"post_doc_id"`
	Platform        collection.Platform  `bson:"platform"`
	Country         string               `bson:"country"`
	CandidateID     string               `bson:"candidate_id"`
	Status          collection.JobStatus `bson:"status"`
	RetryCount      int                  `bson:"retry_count"`
	MaxPostsReplies int                  `bson:"max_posts_replies"`
	SortBy          string               `bson:"sort_by"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func toJobDoc(job collection.Job) (jobDoc, error) {
	doc := jobDoc{
		JobID:           job.JobID,
		PostID:          job.PostID,
		PostDocID:       job.PostDocID,
		Platform:        job.Platform,
		Country:         job.Country,
		CandidateID:     job.CandidateID,
		Status:          job.Status,
		RetryCount:      job.RetryCount,
		MaxPostsReplies: job.MaxPostsReplies,
		SortBy:          job.SortBy,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.DocID != "" {
		oid, err := primitive.ObjectIDFromHex(job.DocID)
		if err != nil {
			return jobDoc{}, fmt.Errorf("invalid job doc id %q: %w", job.DocID, err)
		}
		doc.ID = oid
	}
	return doc, nil
}

func (d jobDoc) toJob() collection.Job {
	return collection.Job{
		DocID:           d.ID.Hex(),
		JobID:           d.JobID,
		PostID:          d.PostID,
		PostDocID:       d.PostDocID,
		Platform:        d.Platform,
		Country:         d.Country,
		CandidateID:     d.CandidateID,
		Status:          d.Status,
		RetryCount:      d.RetryCount,
		MaxPostsReplies: d.MaxPostsReplies,
		SortBy:          d.SortBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// CreateJob inserts a new job and returns the store-assigned doc id.
func (s *JobStore) CreateJob(ctx context.Context, job collection.Job) (string, error) {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	doc, err := toJobDoc(job)
	if err != nil {
		return "", err
	}
	res, err := s.col.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// GetJob fetches a job by doc id. A missing document is reported via the
// bool, not an error.
func (s *JobStore) GetJob(ctx context.Context, docID string) (collection.Job, bool, error) {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return collection.Job{}, false, fmt.Errorf("invalid job doc id %q: %w", docID, err)
	}
	var doc jobDoc
	err = s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return collection.Job{}, false, nil
	}
	if err != nil {
		return collection.Job{}, false, fmt.Errorf("find job %s: %w", docID, err)
	}
	return doc.toJob(), true, nil
}

// FindJobs returns jobs matching the filter.
func (s *JobStore) FindJobs(ctx context.Context, filter collection.JobFilter) ([]collection.Job, error) {
	query := bson.M{}
	if filter.PostID != "" {
		query["post_id"] = filter.PostID
	}
	if filter.PostDocID != "" {
		query["post_doc_id"] = filter.PostDocID
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
		return nil, fmt.Errorf("find jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var out []collection.Job
	for cursor.Next(ctx) {
		var doc jobDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		out = append(out, doc.toJob())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// UpdateJobStatus applies from -> to conditionally on the stored status
// still being from. A false return means the guard did not match and the
// caller lost the race.
func (s *JobStore) UpdateJobStatus(ctx context.Context, docID string, from, to collection.JobStatus) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return false, fmt.Errorf("invalid job doc id %q: %w", docID, err)
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": oid, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("update job %s: %w", docID, err)
	}
	return res.ModifiedCount == 1, nil
}

// MarkJobRetried applies empty_result -> pending and increments retry_count
// in a single conditional write, so a raced retry can never double-increment.
func (s *JobStore) MarkJobRetried(ctx context.Context, docID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return false, fmt.Errorf("invalid job doc id %q: %w", docID, err)
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": oid, "status": collection.JobStatusEmptyResult},
		bson.M{
			"$set": bson.M{"status": collection.JobStatusPending, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"retry_count": 1},
		},
	)
	if err != nil {
		return false, fmt.Errorf("retry job %s: %w", docID, err)
	}
	return res.ModifiedCount == 1, nil
}

// DeleteJob removes a job record.
func (s *JobStore) DeleteJob(ctx context.Context, docID string) error {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return fmt.Errorf("invalid job doc id %q: %w", docID, err)
	}
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", docID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("job %s not found", docID)
	}
	return nil
}
