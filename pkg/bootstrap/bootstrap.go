// Package bootstrap opens what every storefront binary needs before it can do
// work: config, the configured logger, Postgres (migrated when auto-migrate
// is on) and Redis.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/instance"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/migrate"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

// Process is one running binary's shared dependencies. Close releases
// whatever Open managed to acquire.
type Process struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client
}

// Configure loads .env (when present) and config for kind, and returns a
// logger built from that config. The returned logger is usable even when
// config fails to load.
func Configure(kind string) (*config.Config, *logger.Logger, error) {
	logg := logger.Bootstrap(kind)
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind
	logg = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}

// Open connects Postgres and Redis in that order. On failure the handles
// already opened are closed before returning.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Process, error) {
	p := &Process{Config: cfg, Logger: logg}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	p.DB = client
	if err := migrate.MaybeRun(ctx, cfg, logg, client); err != nil {
		return nil, multierr.Append(fmt.Errorf("run migrations: %w", err), p.Close())
	}

	rdb, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("bootstrap redis: %w", err), p.Close())
	}
	p.Redis = rdb
	return p, nil
}

// Tag stamps the fields every log line of the process carries.
func (p *Process) Tag(ctx context.Context) context.Context {
	return p.Logger.WithFields(ctx, map[string]any{
		"env":         p.Config.App.Env,
		"serviceKind": p.Config.Service.Kind,
		"instance":    instance.GetID(),
	})
}

// Close shuts Redis then Postgres and reports every failure.
func (p *Process) Close() error {
	if p == nil {
		return nil
	}
	var err error
	if p.Redis != nil {
		err = multierr.Append(err, p.Redis.Close())
	}
	if p.DB != nil {
		err = multierr.Append(err, p.DB.Close())
	}
	return err
}
