package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/supermarket-backend/api/controllers"
	"github.com/angelmondragon/supermarket-backend/api/middleware"
	"github.com/angelmondragon/supermarket-backend/internal/auth"
	"github.com/angelmondragon/supermarket-backend/internal/cart"
	"github.com/angelmondragon/supermarket-backend/internal/catalog"
	"github.com/angelmondragon/supermarket-backend/internal/checkout"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/internal/users"
	"github.com/angelmondragon/supermarket-backend/pkg/auth/session"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

// Deps holds everything the HTTP surface is built from.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    *redis.Client
	Sessions sessionManager
	Accounts middleware.AccountStatusChecker

	Auth          auth.Service
	Register      auth.RegisterService
	AdminRegister auth.RegisterService
	Catalog       catalog.Service
	Cart          cart.Service
	Checkout      checkout.Service
	Orders        orders.Service
	Users         users.AdminService

	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	var (
		replays  middleware.ReplayStore
		counters middleware.WindowCounter
	)
	if deps.Redis != nil {
		replays, counters = deps.Redis, deps.Redis
	}
	loginThrottle := middleware.LoginThrottle(cfg.AuthRateLimit).Middleware(counters, logg)
	registerThrottle := middleware.RegisterThrottle(cfg.AuthRateLimit).Middleware(counters, logg)
	replaySafe := func(policy middleware.ReplayPolicy) func(http.Handler) http.Handler {
		return middleware.Idempotent(policy, replays, logg)
	}

	readiness := map[string]controllers.Pinger{"database": deps.DB}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(loginThrottle).Post("/login", controllers.AuthLogin(deps.Auth, logg))
			r.With(registerThrottle).Post("/register", controllers.AuthRegister(deps.Register, deps.Auth, logg))
			r.Post("/logout", controllers.AuthLogout(deps.Sessions, cfg.JWT, logg))
			r.Post("/refresh", controllers.AuthRefresh(deps.Sessions, cfg.JWT, logg))
		})

		r.Get("/products", controllers.ProductsList(deps.Catalog, logg))
		r.Get("/products/{productId}", controllers.ProductDetail(deps.Catalog, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, deps.Sessions, deps.Accounts, logg))

			r.Get("/ping", controllers.PrivatePing())
			r.Get("/me", controllers.Me(deps.Users, logg))

			r.Get("/cart", controllers.CartFetch(deps.Cart, logg))
			r.Delete("/cart", controllers.CartClear(deps.Cart, logg))
			r.Post("/cart/items", controllers.CartAddItem(deps.Cart, logg))
			r.Patch("/cart/items/{productId}", controllers.CartUpdateItem(deps.Cart, logg))
			r.Delete("/cart/items/{productId}", controllers.CartRemoveItem(deps.Cart, logg))
			r.With(replaySafe(middleware.CheckoutReplay)).Post("/checkout", controllers.Checkout(deps.Checkout, logg))
			r.Get("/orders", controllers.OrdersList(deps.Orders, logg))
			r.Get("/orders/{orderId}", controllers.OrderDetail(deps.Orders, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		if !cfg.App.IsProd() && deps.AdminRegister != nil {
			r.Post("/auth/register", controllers.AuthRegister(deps.AdminRegister, deps.Auth, logg))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, deps.Sessions, deps.Accounts, logg))
			r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))

			r.Get("/products", controllers.AdminProductsList(deps.Catalog, logg))
			r.With(replaySafe(middleware.ProductReplay)).Post("/products", controllers.AdminProductCreate(deps.Catalog, logg))
			r.Patch("/products/{productId}", controllers.AdminProductUpdate(deps.Catalog, logg))
			r.With(replaySafe(middleware.RestockReplay)).Post("/products/{productId}/restock", controllers.AdminProductRestock(deps.Catalog, logg))
			r.Post("/products/{productId}/archive", controllers.AdminProductArchive(deps.Catalog, logg))

			r.Get("/orders", controllers.AdminOrdersList(deps.Orders, logg))
			r.Get("/orders/{orderId}", controllers.AdminOrderDetail(deps.Orders, logg))
			r.With(replaySafe(middleware.ReconcileReplay)).Post("/orders/{orderId}/reconcile", controllers.AdminOrderReconcile(deps.Orders, logg))

			r.Get("/users", controllers.AdminUsersList(deps.Users, logg))
			r.Get("/users/{userId}", controllers.AdminUserDetail(deps.Users, logg))
			r.Post("/users/{userId}/disable", controllers.AdminUserSetDisabled(deps.Users, true, logg))
			r.Post("/users/{userId}/enable", controllers.AdminUserSetDisabled(deps.Users, false, logg))
			r.Patch("/users/{userId}/role", controllers.AdminUserChangeRole(deps.Users, logg))
		})
	})

	return r
}
