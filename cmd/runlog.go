package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/app"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

func newCommandRunLog(a *app.App, executionType string) (*runlog.RunLog, error) {
	runID, err := a.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	return runlog.New(runID, executionType, a.Clock.Now()), nil
}

// flushRunLog writes the run log out even when the batch itself failed; a
// flush failure is logged, not escalated, so it never masks the batch error.
func flushRunLog(ctx context.Context, a *app.App, log *runlog.RunLog) {
	uri, err := log.Flush(ctx, a.Blobs, a.Cfg.Storage.LogPrefix)
	if err != nil {
		a.Logger.Error("run log flush failed", zap.String("run_id", log.RunID()), zap.Error(err))
		return
	}
	a.Logger.Info("run log flushed", zap.String("run_id", log.RunID()), zap.String("uri", uri))
}
