package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/runlog"
)

func newRetryLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-log <run-log.json>",
		Short: "Resubmits the posts recorded as failures in a flushed run log",
		Long: `Reads a previously flushed run log document and resubmits every post
it names as a failure, skipping posts that recovered in the meantime.`,
		Args: cobra.ExactArgs(1),
		RunE: runRetryLogCommand,
	}
	return cmd
}

func runRetryLogCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read run log file: %w", err)
	}
	doc, err := runlog.ParseDocument(data)
	if err != nil {
		return err
	}

	log, err := newCommandRunLog(a, "retry_from_log")
	if err != nil {
		return err
	}
	summary, err := a.Submitter.SubmitFromLog(ctx, doc, log)
	flushRunLog(ctx, a, log)
	if err != nil {
		return fmt.Errorf("resubmit from log: %w", err)
	}

	a.Logger.Info("log-driven retry finished",
		zap.String("source_execution_type", doc.ExecutionType),
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.Total),
		zap.Any("outcomes", summary.Outcomes))
	return nil
}
