package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/api"
	"github.com/timmd-9216/trust-engine-v2-sub000/internal/sched"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the ops HTTP server and the scheduled reconciliation passes",
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := sched.New(a.Engine, a.Jobs, a.Posts, a.Blobs, a.IDs, a.Clock, sched.Config{
		Schedule:  a.Cfg.Reconcile.Schedule,
		Apply:     a.Cfg.Reconcile.Apply,
		LogPrefix: a.Cfg.Storage.LogPrefix,
	}, a.Logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	server := api.NewServer(a.Jobs, a.Posts, a.Blobs, a.Submitter, a.Engine, a.IDs, a.Clock, api.Config{
		APIKey:    a.Cfg.Server.APIKey,
		Timeout:   time.Duration(a.Cfg.Server.TimeoutSeconds) * time.Second,
		LogPrefix: a.Cfg.Storage.LogPrefix,
	}, a.Logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", zap.Int("port", a.Cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	a.Logger.Info("server stopped")
	return nil
}
