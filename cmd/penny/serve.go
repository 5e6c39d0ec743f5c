package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/config"
	ihttp "github.com/skribblez2718/penny-sub000/internal/http"
	"github.com/skribblez2718/penny-sub000/internal/inbox"
	"github.com/skribblez2718/penny-sub000/internal/mcp"
)

func newServeCmd(opts *appOptions) *cobra.Command {
	var withInbox bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the answer inbox",
		Long: `Serve the task API over HTTP until SIGINT or SIGTERM.

When the inbox is enabled (inbox.enabled or --inbox), answer files dropped
into the inbox directory are applied to waiting tasks. When events are
enabled (events.enabled or --events), lifecycle events are published to NATS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *opts)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.Close() // Best-effort cleanup
			}()
			return serve(ctx, a, withInbox || a.cfg.Inbox.Enabled)
		},
	}
	cmd.Flags().BoolVar(&withInbox, "inbox", false, "apply answer files from the inbox directory")
	cmd.Flags().BoolVar(&opts.events, "events", false, "publish task events to NATS")
	return cmd
}

// serve runs the HTTP server, and the inbox watcher when enabled, until ctx
// is cancelled or the listener fails.
func serve(ctx context.Context, a *app, withInbox bool) error {
	srv, err := ihttp.NewServer(a.engine, a.logger.Underlying(), &ihttp.Config{
		Host:    a.cfg.Server.Host,
		Port:    a.cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	if withInbox {
		dir, err := config.ExpandPath(a.cfg.Inbox.Dir)
		if err != nil {
			return err
		}
		w, err := inbox.New(dir, a.engine, inbox.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("failed to create inbox watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start inbox watcher: %w", err)
		}
		defer w.Stop()
		go drainInbox(ctx, a, w)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.logger.Info(ctx, "penny serving",
		zap.String("host", a.cfg.Server.Host),
		zap.Int("port", a.cfg.Server.Port),
		zap.Bool("inbox", withInbox),
		zap.Bool("events", a.publisher != nil))

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout.Duration()
	a.logger.Info(context.Background(), "shutting down", zap.Duration("shutdown_timeout", timeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// drainInbox logs applied answer files. Rejections are logged by the watcher.
func drainInbox(ctx context.Context, a *app, w *inbox.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-w.Results():
			if r.Err == nil && r.Outcome != nil && r.Outcome.Task != nil {
				a.logger.Info(ctx, "inbox answers applied",
					zap.String("task_id", r.TaskID),
					zap.String("status", string(r.Outcome.Task.Status)))
			}
		}
	}
}

func newMCPCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve task tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *opts)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.Close() // Best-effort cleanup
			}()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "penny",
				Version: version,
				Logger:  a.logger.Underlying(),
			}, a.engine)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

