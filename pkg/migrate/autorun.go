package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// MaybeRun brings the schema up to date at process start when
// SUPERMARKET_AUTO_MIGRATE is set. Request handling never alters the schema.
func MaybeRun(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if client == nil {
		return errors.New("db client is required")
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	m, err := New(sqlDB, DialectFor(cfg.DB), Embedded())
	if err != nil {
		return err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	if logg != nil {
		for _, res := range applied {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"version":     res.Source.Version,
				"duration_ms": res.Duration.Milliseconds(),
			}), "migrate.applied")
		}
	}
	return nil
}
