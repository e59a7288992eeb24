package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/app"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "reconcile [operation]",
		Short: "Runs reconciliation operations over the job and post stores",
		Long: `Runs a single reconciliation operation, or the full ordered pass when
no operation is named. Without --apply every decision is computed and
printed but nothing is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := ""
			if len(args) == 1 {
				op = args[0]
			}
			return runReconcileCommand(cmd, op, apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "apply corrective writes instead of recording them")
	return cmd
}

func runReconcileCommand(cmd *cobra.Command, opName string, apply bool) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	executionType := "reconcile_pass"
	if opName != "" {
		executionType = "reconcile_" + opName
	}
	log, err := newCommandRunLog(a, executionType)
	if err != nil {
		return err
	}

	var sink reconcile.Sink
	if apply {
		sink = reconcile.NewApplySink(a.Jobs, a.Posts, a.Logger)
	} else {
		sink = reconcile.NewRecordSink()
	}

	if opName == "" {
		results, err := a.Engine.Pass(ctx, sink, log)
		flushRunLog(ctx, a, log)
		if err != nil {
			return err
		}
		for name, summary := range results {
			logSummary(a, name, apply, summary.Total, summary.Outcomes)
		}
	} else {
		op, ok := a.Engine.Op(opName)
		if !ok {
			return fmt.Errorf("unknown reconcile operation %q", opName)
		}
		summary, err := op(ctx, sink, log)
		flushRunLog(ctx, a, log)
		if err != nil {
			return fmt.Errorf("%s: %w", opName, err)
		}
		logSummary(a, opName, apply, summary.Total, summary.Outcomes)
	}

	for _, d := range sink.Decisions() {
		a.Logger.Info("decision",
			zap.String("op", d.Op),
			zap.String("action", string(d.Action)),
			zap.String("job_doc_id", d.JobDocID),
			zap.String("post_doc_id", d.PostDocID),
			zap.String("reason", d.Reason))
	}
	return nil
}

func logSummary(a *app.App, op string, apply bool, total int, outcomes map[string]int) {
	a.Logger.Info("reconcile operation finished",
		zap.String("op", op),
		zap.Bool("apply", apply),
		zap.Int("total", total),
		zap.Any("outcomes", outcomes))
}
