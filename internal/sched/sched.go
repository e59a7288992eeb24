// Package sched runs reconciliation passes on a cron schedule.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/logging"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/reconcile"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

// Config controls the scheduler.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// Apply enables writes. When false every pass records its decisions
	// and touches nothing, which is the default posture.
	Apply bool
	// LogPrefix is the blob prefix run logs flush under.
	LogPrefix string
	// PassTimeout bounds a single pass.
	PassTimeout time.Duration
}

// Scheduler triggers engine passes periodically. Each pass gets its own run
// id and run log, flushed to the blob store when the pass ends.
type Scheduler struct {
	engine *reconcile.Engine
	jobs   collection.JobStore
	posts  collection.PostStore
	blobs  collection.BlobStore
	ids    collection.IDGenerator
	clock  collection.Clock
	cfg    Config
	logger *zap.Logger

	cron *cron.Cron
}

// New constructs a Scheduler.
func New(
	engine *reconcile.Engine,
	jobs collection.JobStore,
	posts collection.PostStore,
	blobs collection.BlobStore,
	ids collection.IDGenerator,
	clock collection.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 30 * time.Minute
	}
	return &Scheduler{
		engine: engine,
		jobs:   jobs,
		posts:  posts,
		blobs:  blobs,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the schedule and begins running passes. It returns once
// the schedule is registered; passes run on the cron's goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(s.cfg.Schedule); err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron = cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		passCtx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
		defer cancel()
		s.RunOnce(passCtx)
	}); err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	s.cron.Start()
	s.logger.Info("reconcile schedule started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Bool("apply", s.cfg.Apply))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce executes a single pass and flushes its run log. Pass errors are
// logged, not returned: the next scheduled pass re-evaluates from fresh
// state.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]*collection.RunSummary {
	runID, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("run id generation failed", zap.Error(err))
		return nil
	}
	log := runlog.New(runID, "scheduled_reconcile", s.clock.Now())
	logger := logging.ForRun(s.logger, runID)

	var sink reconcile.Sink
	if s.cfg.Apply {
		sink = reconcile.NewApplySink(s.jobs, s.posts, logger)
	} else {
		sink = reconcile.NewRecordSink()
	}

	results, err := s.engine.Pass(ctx, sink, log)
	if err != nil {
		logger.Error("reconcile pass failed", zap.Error(err))
	}

	if uri, flushErr := log.Flush(ctx, s.blobs, s.cfg.LogPrefix); flushErr != nil {
		logger.Error("run log flush failed", zap.Error(flushErr))
	} else {
		logger.Info("reconcile pass finished",
			zap.Bool("apply", s.cfg.Apply),
			zap.Int("decisions", len(sink.Decisions())),
			zap.String("run_log", uri))
	}
	return results
}
