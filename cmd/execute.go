package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExecuteCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Drives pending jobs to a terminal status",
		Long: `Claims pending jobs one at a time, polls the collector until each
remote run finishes or the polling budget runs out, and hands results off
to the blob store. Polling blocks for up to the full round budget per job.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExecuteCommand(cmd, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of jobs executed (0 = no cap)")
	return cmd
}

func runExecuteCommand(cmd *cobra.Command, limit int) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	log, err := newCommandRunLog(a, "execute_pending")
	if err != nil {
		return err
	}
	summary, err := a.Executor.ExecutePending(ctx, limit, log)
	flushRunLog(ctx, a, log)
	if err != nil {
		return fmt.Errorf("execute pending: %w", err)
	}

	a.Logger.Info("execution batch finished",
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.Total),
		zap.Any("outcomes", summary.Outcomes))
	return nil
}
