// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/clock/system"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collector"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/config"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/executor"
	iduuid "github.com/timmd-9216/trust-engine-v2-sub000/internal/id/uuid"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/metrics"
	pub "github.com/timmd-9216/trust-engine-v2-sub000/internal/publisher/pubsub"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/reconcile"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/storage/gcs"
	mongostore "github.com/timmd-9216/trust-engine-v2-sub000/internal/storage/mongo"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/submitter"
)

// App holds the shared, long-lived services. It is initialized once at
// startup and handed to the components that need it; Close releases every
// client it opened.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	Jobs      collection.JobStore
	Posts     collection.PostStore
	Collector collection.Collector
	Blobs     collection.BlobStore
	Publisher collection.Publisher
	Clock     collection.Clock
	IDs       collection.IDGenerator

	Submitter *submitter.Submitter
	Executor  *executor.Executor
	Engine    *reconcile.Engine

	mongoClient  *mongodrv.Client
	gcsClient    *gstorage.Client
	pubsubClient *pubsub.Client
}

// New builds the container from configuration, failing fast when a critical
// service cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{
		Cfg:    cfg,
		Logger: logger,
		Clock:  system.Clock{},
		IDs:    iduuid.New(),
	}

	mongoCfg := mongostore.Config{
		URI:             cfg.Mongo.URI,
		Database:        cfg.Mongo.Database,
		JobsCollection:  cfg.Mongo.JobsCollection,
		PostsCollection: cfg.Mongo.PostsCollection,
		Timeout:         time.Duration(cfg.Mongo.TimeoutSeconds) * time.Second,
	}
	mongoClient, err := mongostore.Connect(ctx, mongoCfg)
	if err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}
	a.mongoClient = mongoClient
	a.Jobs = mongostore.NewJobStore(mongoClient, mongoCfg)
	a.Posts = mongostore.NewPostStore(mongoClient, mongoCfg)

	httpClient := &http.Client{Timeout: time.Duration(cfg.Collector.TimeoutSeconds) * time.Second}
	client, err := collector.New(collector.Config{
		BaseURL:        cfg.Collector.BaseURL,
		Token:          cfg.Collector.Token,
		PollInterval:   cfg.Collector.PollInterval(),
		PollRounds:     cfg.Collector.PollRounds,
		MaxRetries:     cfg.Collector.MaxRetries,
		BackoffInitial: time.Duration(cfg.Collector.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Collector.BackoffMaxMs) * time.Millisecond,
	}, httpClient, logger)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("init collector client: %w", err)
	}
	a.Collector = client

	gcsClient, err := gstorage.NewClient(ctx)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	a.gcsClient = gcsClient
	blobs, err := gcs.New(gcsClient, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	a.Blobs = blobs

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubClient = pubsubClient
	a.Publisher = pub.New(pubsubClient)

	a.Submitter = submitter.New(a.Jobs, a.Posts, a.Collector, a.Clock, submitter.Config{
		DefaultMaxReplies:  cfg.Submit.DefaultMaxPostsReplies,
		SortBy:             cfg.Submit.SortBy,
		MarkPostProcessing: cfg.Submit.MarkPostProcessing,
	}, logger)

	a.Executor = executor.New(a.Jobs, a.Posts, a.Collector, a.Blobs, a.Publisher, a.Clock, executor.Config{
		Topic:       cfg.PubSub.TopicName,
		ContentType: cfg.Storage.ContentType,
	}, logger)

	windows := make([]reconcile.TimeRange, 0, len(cfg.Reconcile.QuotaWindows))
	for _, w := range cfg.Reconcile.QuotaWindows {
		windows = append(windows, reconcile.TimeRange{Start: w.Start, End: w.End})
	}
	a.Engine = reconcile.New(a.Jobs, a.Posts, a.Collector, a.Clock, reconcile.Params{
		TwitterVerifyMaxReplies: cfg.Reconcile.TwitterVerifyMaxReplies,
		FailedVerifySampleSize:  cfg.Reconcile.FailedVerifySampleSize,
		StalledProcessingAge:    time.Duration(cfg.Reconcile.StalledProcessingAgeMinutes) * time.Minute,
		QuotaWindows:            windows,
	}, logger)

	logger.Info("application services initialized",
		zap.String("mongo_database", cfg.Mongo.Database),
		zap.String("gcs_bucket", cfg.Storage.GCSBucket),
		zap.String("pubsub_topic", cfg.PubSub.TopicName))
	return a, nil
}

// Close releases every client the container opened.
func (a *App) Close(ctx context.Context) {
	a.close(ctx)
}

func (a *App) close(ctx context.Context) {
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("storage close failed", zap.Error(err))
		}
	}
	if a.mongoClient != nil {
		if err := mongostore.Disconnect(ctx, a.mongoClient); err != nil {
			a.Logger.Warn("document store disconnect failed", zap.Error(err))
		}
	}
}
