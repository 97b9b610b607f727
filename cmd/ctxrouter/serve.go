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

	httpserver "github.com/fyrsmithlabs/ctxrouter/internal/http"
	"github.com/fyrsmithlabs/ctxrouter/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP routing API",
		Long: `Serve the HTTP routing API until interrupted.

Endpoints:
  POST   /api/v1/route          route an operation (and compress its context)
  POST   /api/v1/compress       compress a payload
  POST   /api/v1/outcome        report an operation outcome
  GET    /api/v1/effectiveness  read learned effectiveness
  DELETE /api/v1/sessions/:id   forget a session's history
  GET    /health                liveness and registry version
  GET    /metrics               Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, daemon)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			sc := a.cfg.Server
			if cmd.Flags().Changed("host") {
				sc.Host = host
			}
			if cmd.Flags().Changed("port") {
				sc.Port = port
			}
			return serveHTTP(ctx, a, sc.Host, sc.Port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// serveHTTP runs the HTTP server until ctx is cancelled, then shuts it down
// within the configured timeout.
func serveHTTP(ctx context.Context, a *app, host string, port int) error {
	logger := a.logger.Underlying()
	server, err := httpserver.NewServer(a.pipeline, logger, &httpserver.Config{
		Host:      host,
		Port:      port,
		RateLimit: a.cfg.Server.RateLimit,
		RateBurst: a.cfg.Server.RateBurst,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	a.logger.Info(ctx, "ctxrouter serving",
		zap.String("version", version),
		zap.String("registry_version", a.pipeline.Registry().Version()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(ctx, "http shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools on stdio",
		Long: `Serve route_request, compress_content, record_outcome and
get_effectiveness as MCP tools over stdio. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, daemon)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "ctxrouter",
				Version: version,
				Logger:  a.logger.Underlying(),
			}, a.pipeline)
			if err != nil {
				return err
			}
			a.logger.Info(ctx, "ctxrouter mcp serving on stdio", zap.String("version", version))
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error(ctx, "mcp server stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
