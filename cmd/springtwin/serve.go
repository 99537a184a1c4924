package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Lezhik/SpringTwin/internal/api"
	"github.com/Lezhik/SpringTwin/internal/config"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, SSE event stream and tool gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tracer, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "springtwin",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}

	// Write tools need the token unless anonymous writes are switched on.
	a, err := newApp(ctx, cfg, logger, appOptions{Privileged: cfg.Gateway.AllowAnonymousWrite})
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return err
	}

	gs := server.NewGracefulServer(
		&server.HealthConfig{Version: version},
		&server.ShutdownConfig{Timeout: cfg.Server.ShutdownTimeout, Logger: logger},
	)
	a.registerChecks(gs.Health)

	srv, err := api.NewServer(api.Options{
		Projects:            a.projects,
		Jobs:                a.jobs,
		Query:               a.query,
		Gateway:             a.gateway,
		Store:               a.store,
		Hub:                 a.hub,
		Health:              gs.Health.Handler(),
		Metrics:             a.metrics.Handler(),
		Audit:               a.audit,
		PrivilegedToken:     cfg.Gateway.PrivilegedToken,
		AllowAnonymousWrite: cfg.Gateway.AllowAnonymousWrite,
		KeepAlive:           cfg.Server.KeepAlive,
		Logger:              logger,
	})
	if err != nil {
		a.Close(context.Background())
		_ = tracer.Shutdown(context.Background())
		return err
	}

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}
	gs.Register(server.HTTPServerHook("api", httpServer.Shutdown))
	a.registerHooks(gs.Shutdown)
	gs.Register(server.TracingHook(tracer.Shutdown))

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	gs.Start()

	select {
	case err, ok := <-listenErr:
		if ok {
			gs.Shutdown.Shutdown()
			return errors.Join(fmt.Errorf("listen %s: %w", cfg.Server.Addr, err), gs.Wait())
		}
		gs.Shutdown.Shutdown()
	case <-ctx.Done():
		gs.Shutdown.Shutdown()
	case <-gs.Shutdown.ShutdownCh():
	}
	return gs.Wait()
}
