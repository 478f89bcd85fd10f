package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/supermarket-backend/pkg/bootstrap"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/registry"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

// deliveredTTL bounds how long a relay remembers an appended event id.
const deliveredTTL = 24 * time.Hour

func main() {
	cfg, logg, err := bootstrap.Configure(relayName)
	if err != nil {
		logg.Error(context.Background(), "outbox publisher failed to start", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "outbox publisher failed to start", err)
		os.Exit(1)
	}
	ctx = p.Tag(ctx)

	err = publish(ctx, p)
	err = multierr.Append(err, p.Close())
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

func publish(ctx context.Context, p *bootstrap.Process) error {
	events, err := registry.New(redis.StreamKey(p.Config.Outbox.Stream))
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	ledger, err := idempotency.NewLedger(p.Redis, relayName, deliveredTTL)
	if err != nil {
		return fmt.Errorf("delivery ledger: %w", err)
	}
	relay, err := NewRelay(RelayParams{
		Config:      p.Config,
		Logger:      p.Logger,
		DB:          p.DB,
		Streams:     p.Redis,
		Outbox:      outbox.NewRepository(p.DB.DB()),
		Registry:    events,
		DeadLetters: outbox.NewDLQRepository(p.DB.DB()),
		Ledger:      ledger,
	})
	if err != nil {
		return err
	}
	p.Logger.Info(ctx, "outbox publisher starting")
	return relay.Run(ctx)
}
