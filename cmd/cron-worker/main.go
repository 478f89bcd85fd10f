package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/supermarket-backend/internal/cron"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/pkg/bootstrap"
	"github.com/angelmondragon/supermarket-backend/pkg/lock"
	"github.com/angelmondragon/supermarket-backend/pkg/metrics"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	cfg, logg, err := bootstrap.Configure("cron-worker")
	if err != nil {
		logg.Error(context.Background(), "cron worker failed to start", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "cron worker failed to start", err)
		os.Exit(1)
	}
	ctx = p.Tag(ctx)

	err = multierr.Append(run(ctx, p, *once), p.Close())
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, p *bootstrap.Process, once bool) error {
	cfg, logg := p.Config, p.Logger

	// One lease per environment, so staging and prod workers sharing a Redis
	// do not starve each other.
	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lease, err := lock.NewRedisFactory(p.Redis, cfg.Cron.LockTTL).New("cron-worker:" + env)
	if err != nil {
		return fmt.Errorf("cron lease: %w", err)
	}

	report, err := cron.NewPartialOrderReportJob(cron.PartialOrderReportJobParams{
		Logger:  logg,
		Orders:  orders.NewRepository(p.DB.DB()),
		Metrics: metrics.NewCommerceMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(p.DB.DB()),
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return err
	}

	scheduler, err := cron.NewScheduler(logg, lease, cron.Options{
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	}, report, retention)
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "jobs", scheduler.JobNames()), "cron worker starting")
	if once {
		return scheduler.RunOnce(ctx)
	}
	return scheduler.Run(ctx)
}
