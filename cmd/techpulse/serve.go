// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/httpapi"
	"github.com/jllopis/techpulse/pkg/manager"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

const shutdownGrace = 10 * time.Second

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address. Overrides server.addr." placeholder:"HOST:PORT"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := cli.load(os.Stderr)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	rt, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}
	return serve(ctx, ln, rt, cfg, logger)
}

// app holds the long-lived pieces shared by serve and query.
type app struct {
	telemetry *telemetry.Provider
	metrics   *telemetry.Metrics
	mgr       *manager.Manager
}

func start(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...manager.Option) (*app, error) {
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      buildVersion(),
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	opts = append([]manager.Option{manager.WithLogger(logger), manager.WithMetrics(metrics)}, opts...)
	mgr := manager.New(opts...)
	if err := mgr.Initialize(ctx, cfg); err != nil {
		logger.Error("initialization failed", "error", err)
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return &app{telemetry: tp, metrics: metrics, mgr: mgr}, nil
}

func (rt *app) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.mgr.Shutdown(ctx); err != nil {
		logger.Warn("manager shutdown", "error", err)
	}
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
}

// serve answers on ln until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, ln net.Listener, rt *app, cfg *config.Config, logger *slog.Logger) error {
	api := httpapi.New(rt.mgr,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(rt.metrics),
		httpapi.WithMetricsHandler(rt.telemetry.MetricsHandler()),
		httpapi.WithVersion(buildVersion()),
		httpapi.WithPublicURL(cfg.A2A.PublicURL),
	)
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("techpulse listening", "addr", ln.Addr().String(), "version", buildVersion())

	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
