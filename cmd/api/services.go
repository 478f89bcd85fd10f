package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/api/routes"
	"github.com/angelmondragon/supermarket-backend/internal/auth"
	"github.com/angelmondragon/supermarket-backend/internal/cart"
	"github.com/angelmondragon/supermarket-backend/internal/catalog"
	"github.com/angelmondragon/supermarket-backend/internal/checkout"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/internal/users"
	"github.com/angelmondragon/supermarket-backend/pkg/auth/session"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/lock"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/metrics"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

// A checkout never holds the per-user lease longer than this.
const checkoutLeaseTTL = 30 * time.Second

func buildRouterDeps(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	sessions *session.Keeper,
	reg prometheus.Registerer,
) (routes.Deps, error) {
	gdb := dbClient.DB()
	events := outbox.NewWriter(outbox.NewRepository(gdb), logg)
	commerce := metrics.NewCommerceMetrics(reg)

	userRepo := users.NewRepository(gdb)
	authService, err := auth.NewService(auth.ServiceParams{
		Accounts: userRepo,
		Sessions: sessions,
		JWT:      cfg.JWT,
		Password: cfg.Password,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("auth service: %w", err)
	}
	registerParams := auth.RegisterServiceParams{
		TxRunner:       dbClient,
		PasswordConfig: cfg.Password,
		RepoFactory:    func(tx *gorm.DB) auth.UserStore { return users.NewRepository(tx) },
	}
	registerService, err := auth.NewRegisterService(registerParams)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("register service: %w", err)
	}
	var adminRegister auth.RegisterService
	if !cfg.App.IsProd() {
		if adminRegister, err = auth.NewAdminRegisterService(registerParams); err != nil {
			return routes.Deps{}, fmt.Errorf("admin register service: %w", err)
		}
	}
	adminUsers, err := users.NewAdminService(userRepo, dbClient, events, logg)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("admin users service: %w", err)
	}

	catalogRepo := catalog.NewRepository(gdb)
	catalogCache := catalog.NewCache(redisClient, cfg.Catalog.CacheTTL, cfg.Catalog.CacheJitter)
	catalogService, err := catalog.NewService(catalogRepo, dbClient, catalogCache, events, logg)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("catalog service: %w", err)
	}

	cartRepo := cart.NewRepository(gdb)
	cartService, err := cart.NewService(cart.Deps{
		Repo:     cartRepo,
		Stock:    cart.NewCatalogStock(catalogRepo),
		Products: catalogRepo,
		Tx:       dbClient,
		Observer: catalogCache,
		Metrics:  commerce,
		Logger:   logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("cart service: %w", err)
	}

	ordersRepo := orders.NewRepository(gdb)
	ordersService, err := orders.NewService(ordersRepo, dbClient, events, logg)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("orders service: %w", err)
	}

	checkoutService, err := checkout.NewService(checkout.Deps{
		Carts:    cartRepo,
		Clearer:  cartService,
		Orders:   ordersRepo,
		Products: catalogRepo,
		Tx:       dbClient,
		Events:   events,
		Locks:    lock.NewRedisFactory(redisClient, checkoutLeaseTTL),
		Metrics:  commerce,
		Logger:   logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("checkout service: %w", err)
	}

	return routes.Deps{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		Sessions:      sessions,
		Accounts:      userRepo,
		Auth:          authService,
		Register:      registerService,
		AdminRegister: adminRegister,
		Catalog:       catalogService,
		Cart:          cartService,
		Checkout:      checkoutService,
		Orders:        ordersService,
		Users:         adminUsers,
	}, nil
}
