// Package mongo implements the job and post stores on the MongoDB document
// store. Collection names follow the shared deployment: pending_jobs and
// posts.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config captures the parameters required to connect to the document store.
type Config struct {
	URI             string
	Database        string
	JobsCollection  string
	PostsCollection string
	Timeout         time.Duration
}

// Connect establishes and verifies a MongoDB connection.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Disconnect closes the MongoDB connection.
func Disconnect(ctx context.Context, client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}

func (c Config) jobs(client *mongo.Client) *mongo.Collection {
	name := c.JobsCollection
	if name == "" {
		name = "pending_jobs"
	}
	return client.Database(c.database()).Collection(name)
}

func (c Config) posts(client *mongo.Client) *mongo.Collection {
	name := c.PostsCollection
	if name == "" {
		name = "posts"
	}
	return client.Database(c.database()).Collection(name)
}

func (c Config) database() string {
	if c.Database == "" {
		return "trust_engine"
	}
	return c.Database
}
