package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/supermarket-backend/api/routes"
	"github.com/angelmondragon/supermarket-backend/pkg/auth/session"
	"github.com/angelmondragon/supermarket-backend/pkg/bootstrap"
	"github.com/angelmondragon/supermarket-backend/pkg/env"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfg, logg, err := bootstrap.Configure("api")
	if err != nil {
		logg.Error(context.Background(), "api failed to start", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "api failed to start", err)
		os.Exit(1)
	}
	defer func() {
		if err := p.Close(); err != nil {
			logg.Error(ctx, "api shutdown left connections open", err)
		}
	}()

	if err := serve(p.Tag(ctx), p); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// serve blocks until ctx ends, then drains in-flight requests.
func serve(ctx context.Context, p *bootstrap.Process) error {
	sessions, err := session.NewKeeper(p.Redis, p.Config.JWT)
	if err != nil {
		return fmt.Errorf("session keeper: %w", err)
	}
	deps, err := buildRouterDeps(p.Config, p.Logger, p.DB, p.Redis, sessions, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	// Hosting platforms hand the port over in PORT.
	addr := ":" + env.Get("PORT", p.Config.App.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx = p.Logger.WithField(ctx, "addr", addr)
	failed := make(chan error, 1)
	go func() {
		p.Logger.Info(ctx, "api listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	p.Logger.Info(ctx, "api draining")
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(drainCtx)
}
