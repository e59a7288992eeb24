package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

// OpFunc is the shape every engine operation shares.
type OpFunc func(ctx context.Context, sink Sink, log *runlog.RunLog) (*collection.RunSummary, error)

// Op resolves an operation by name.
func (e *Engine) Op(name string) (OpFunc, bool) {
	switch name {
	case OpStalledProcessingJobs:
		return e.StalledProcessingJobs, true
	case OpStuckProcessingPosts:
		return e.StuckProcessingPosts, true
	case OpVerifyEmptyResults:
		return e.VerifyEmptyResults, true
	case OpCleanupFailedJobs:
		return e.CleanupFailedJobs, true
	case OpVerifyFailedJobs:
		return e.VerifyFailedJobs, true
	case OpRetryEmptyResults:
		return e.RetryEmptyResults, true
	case OpDuplicateActiveJobs:
		return e.DuplicateActiveJobs, true
	case OpOrphanJobs:
		return e.OrphanJobs, true
	default:
		return nil, false
	}
}

// passOrder is the sequence a full pass runs. The stalled-job sweep goes
// first so its verdicts feed everything after it; verification runs before
// the stuck-post sweep so freshly verified jobs resolve their posts in the
// same pass; cleanup runs last, after every correction that could create
// its safety conditions. RetryEmptyResults is operator-invoked only and is
// not part of a scheduled pass.
var passOrder = []string{
	OpStalledProcessingJobs,
	OpVerifyEmptyResults,
	OpVerifyFailedJobs,
	OpStuckProcessingPosts,
	OpDuplicateActiveJobs,
	OpOrphanJobs,
	OpCleanupFailedJobs,
}

// Pass runs every operation in order against the same sink and returns the
// per-operation summaries. A failing operation ends the pass; per-item
// problems never do.
func (e *Engine) Pass(ctx context.Context, sink Sink, log *runlog.RunLog) (map[string]*collection.RunSummary, error) {
	results := make(map[string]*collection.RunSummary, len(passOrder))
	for _, name := range passOrder {
		op, _ := e.Op(name)
		summary, err := op(ctx, sink, log)
		results[name] = summary
		if err != nil {
			return results, fmt.Errorf("reconcile pass, %s: %w", name, err)
		}
		e.logger.Info("reconcile operation finished",
			zap.String("op", name),
			zap.Int("total", summary.Total),
			zap.Any("outcomes", summary.Outcomes))
	}
	return results, nil
}
