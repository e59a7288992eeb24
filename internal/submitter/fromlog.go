package submitter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

// SubmitFromLog resubmits the posts recorded as failures in a previously
// flushed run log. Each post is re-read from the store first so a post
// that recovered since the logged run is skipped instead of resubmitted.
// Entries without a post id (pure transport noise) are skipped, and each
// post is attempted once no matter how many log entries name it.
func (s *Submitter) SubmitFromLog(ctx context.Context, doc runlog.Document, log *runlog.RunLog) (*collection.RunSummary, error) {
	runID := ""
	if log != nil {
		runID = log.RunID()
	}
	summary := collection.NewRunSummary(runID)

	seen := make(map[string]bool)
	for _, entry := range doc.Errors {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if entry.PostID == "" {
			summary.Add(entry.ErrorType, OutcomeSkippedFromLog, "log entry names no post")
			continue
		}
		if seen[entry.PostID] {
			continue
		}
		seen[entry.PostID] = true

		post, found, err := s.posts.GetPostByPostID(ctx, entry.PostID)
		if err != nil {
			summary.Add(entry.PostID, OutcomeStoreError, err.Error())
			continue
		}
		if !found {
			summary.Add(entry.PostID, OutcomeSkippedFromLog, "post record not found")
			continue
		}
		if post.Status == collection.PostStatusDone || post.Status == collection.PostStatusFinished {
			summary.Add(entry.PostID, OutcomeSkippedFromLog,
				fmt.Sprintf("post recovered since the logged run, status is %s", post.Status))
			continue
		}

		res, err := s.Submit(ctx, post, log)
		if err != nil {
			summary.Add(entry.PostID, OutcomeStoreError, err.Error())
			continue
		}
		summary.Add(entry.PostID, res.Outcome, res.Reason)
	}

	s.logger.Info("log-driven resubmission finished",
		zap.String("execution_type", doc.ExecutionType),
		zap.Int("total", summary.Total),
		zap.Any("outcomes", summary.Outcomes))
	return summary, nil
}
