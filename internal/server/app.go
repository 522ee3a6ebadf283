package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"lan-registration-platform/internal/config"
	"lan-registration-platform/internal/database"
	"lan-registration-platform/internal/handlers"
	"lan-registration-platform/internal/metrics"
	"lan-registration-platform/internal/middleware"
	"lan-registration-platform/internal/repositories"
	"lan-registration-platform/internal/services"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App is the wired component graph shared by the server and cartctl
type App struct {
	Config *config.Config
	DB     *database.DB

	Items *repositories.ItemRepository
	Users *repositories.UserRepository
	Carts *repositories.CartRepository
	Audit *repositories.AuditLogRepository

	Metrics     *metrics.CartMetrics
	Gateways    *services.GatewaySet
	Storage     services.StorageService
	Catalog     *services.CatalogService
	Assembler   *services.CartAssembler
	Dispatcher  *services.FulfillmentDispatcher
	Machine     *services.TransactionStateMachine
	Janitor     *services.Janitor
	RateLimiter *middleware.CheckoutRateLimiter

	redis     *redis.Client
	publisher services.EventPublisher
}

// New connects to the database and the optional backends and wires every
// service. reg receives the metric collectors.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	db, err := database.NewConnection(ctx, database.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	log.Println("Database connection established successfully")

	app := &App{
		Config:  cfg,
		DB:      db,
		Items:   repositories.NewItemRepository(db.DB),
		Users:   repositories.NewUserRepository(db.DB),
		Carts:   repositories.NewCartRepository(db.DB),
		Audit:   repositories.NewAuditLogRepository(db.DB),
		Metrics: metrics.NewCartMetrics(reg),
	}

	app.Gateways, err = services.NewGatewaySet(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	app.redis, err = services.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Stock cache: %v, reading reservations from the database", err)
		app.redis = nil
	}
	reservations := services.NewCachedReservationCounter(app.Items, app.redis, cfg.Redis.StockTTL)

	app.publisher = services.LogEventPublisher{}
	if cfg.RabbitMQ.URL != "" {
		amqpPublisher, err := services.NewAMQPEventPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Printf("Event publisher: %v, logging events instead", err)
		} else {
			app.publisher = amqpPublisher
		}
	}

	app.Storage = services.NewStorageFactory(cfg).CreateStorageService(ctx)
	mailer := services.NewMockEmailService(&cfg.Resend)

	app.Catalog = services.NewCatalogService(app.Items, reservations, app.Users, app.Carts)
	app.Dispatcher = services.NewFulfillmentDispatcher(
		app.Carts, app.Users, app.Items,
		services.NewPDFService(), app.Storage, mailer,
		app.Metrics, cfg.Cart.EventName, cfg.Payment.Currency,
	)
	app.Machine = services.NewTransactionStateMachine(app.Carts, app.Users, app.Gateways, app.Dispatcher, reservations, app.publisher, app.Metrics)
	app.Assembler = services.NewCartAssembler(
		app.Catalog, app.Items, reservations, app.Users, app.Carts,
		app.Gateways.Active(), app.publisher, app.Metrics,
		services.AssemblerConfig{
			Currency:       cfg.Payment.Currency,
			GatewayTimeout: cfg.Payment.Timeout,
			PartnerDomains: cfg.Cart.PartnerDomains,
			EventName:      cfg.Cart.EventName,
		},
	)
	app.Assembler.SetSettler(app.Machine)
	app.Janitor = services.NewJanitor(app.Carts, app.Machine, cfg.Cart.PendingCreationTimeout, cfg.Cart.PendingTimeout)
	app.RateLimiter = middleware.NewCheckoutRateLimiter(cfg.Cart.CreateLimit, cfg.Cart.CreateWindow)

	return app, nil
}

// SessionStore returns the cookie store shared with the auth service
func (a *App) SessionStore() sessions.Store {
	store := sessions.NewCookieStore([]byte(a.Config.Session.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30, // 30 days
		HttpOnly: true,
		Secure:   a.Config.Server.Env == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Router builds the HTTP surface
func (a *App) Router() http.Handler {
	return handlers.NewRouter(handlers.RouterConfig{
		Cart:           handlers.NewCartHandler(a.Assembler, a.Catalog, a.Users, a.Carts),
		Webhooks:       handlers.NewWebhookHandler(a.Gateways, a.Machine, a.Metrics),
		Admin:          handlers.NewAdminHandler(a.Machine, a.Dispatcher, a.Carts, a.Audit),
		Auth:           middleware.NewAuthMiddleware(a.Users, a.SessionStore(), a.Config.Session.Name),
		AdminKey:       a.Config.Admin.APIKey,
		RateLimiter:    a.RateLimiter,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		Metrics:        a.Metrics,
		Health:         a.DB.PingContext,
	})
}

// Close releases the connections opened by New
func (a *App) Close() error {
	if closer, ok := a.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Printf("Event publisher: failed to close: %v", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("Stock cache: failed to close: %v", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
