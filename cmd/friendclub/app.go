package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"friendclub/api"
	"friendclub/internal/cache"
	"friendclub/internal/config"
	"friendclub/internal/domain"
	"friendclub/internal/firehose"
	"friendclub/internal/handler"
	"friendclub/internal/identity"
	"friendclub/internal/ingest"
	"friendclub/internal/messaging"
	"friendclub/internal/middleware"
	"friendclub/internal/observability"
	"friendclub/internal/reconcile"
	"friendclub/internal/repository/memory"
	"friendclub/internal/repository/postgres"
	"friendclub/internal/repository/sqlite"
	"friendclub/internal/security"
	"friendclub/internal/service"
	"friendclub/internal/session"
	"friendclub/internal/supervisor"
	"friendclub/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app is the wired server: background services under tree, HTTP routes
// in router.
type app struct {
	tree     *supervisor.Tree
	router   http.Handler
	messages *cache.Cache
	hub      *websocket.Hub
	sessions *session.Registry
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.closers = append(a.closers, repo.Close)
	if db != nil {
		a.closers = append(a.closers, db.Close)
	}

	messages, err := cache.New(ctx, repo, cfg.CacheSize)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}
	a.messages = messages

	resolver := identity.NewResolver(cfg.PLCDirectoryURL, cfg.DefaultPDSURL)
	sessions := session.NewRegistry()
	hub := websocket.NewHub(messages)
	tokens := security.NewTokenManager()
	a.sessions = sessions
	a.hub = hub

	reconciler := reconcile.New(messages, sessions, hub, cfg.Collection, cfg.ReconcileInterval)
	postService := service.NewPostService(sessions, messages, hub, cfg.Collection, cfg.BaseURL)
	authService := service.NewAuthService(sessions, resolver,
		service.ATProtoConnector(&http.Client{Timeout: 30 * time.Second}), tokens, reconciler)

	mapper := ingest.NewMapper(cfg.Collection, resolver, resolver)
	pipeline := ingest.NewPipeline(mapper, messages, hub, ingest.DefaultMaxInFlight)
	stream := firehose.NewClient(cfg.JetstreamURL)

	a.tree = supervisor.NewTree(observability.Logger(), supervisor.DefaultTreeConfig())
	a.tree.AddFanoutService(hub)
	a.tree.AddIngestService(supervisor.NewFuncService("firehose", func(ctx context.Context) error {
		err := stream.Run(ctx, cfg.Collection, pipeline.Sink(ctx))
		pipeline.Wait()
		return err
	}))
	a.tree.AddIngestService(reconciler)

	checks := map[string]handler.Check{
		"firehose": handler.StreamCheck(stream.Connected, stream.Cursor),
	}
	if db != nil {
		checks["database"] = handler.DatabaseCheck(db)
	}

	if cfg.RelayEnabled() {
		rmq, err := messaging.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		a.closers = append(a.closers, rmq.Close)

		hub.SetRelay(rmq)
		a.tree.AddIngestService(messaging.NewRelayConsumer(rmq, messages, hub))
		checks["rabbitmq"] = handler.PingCheck(rmq)
		slog.Info("cross-instance relay enabled", slog.String("origin", rmq.Origin()))
	}

	origins := middleware.ParseOrigins(cfg.AllowedOrigins)
	authLimiter := middleware.NewRateLimiter(1, 5)
	apiLimiter := middleware.NewRateLimiter(20, 50)
	a.tree.AddAPIService(authLimiter)
	a.tree.AddAPIService(apiLimiter)

	messageHandler := handler.NewMessageHandler(messages, postService)
	authHandler := handler.NewAuthHandler(authService, cfg.IsProduction())
	wsHandler := handler.NewWebSocketHandler(hub, origins)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(origins))
	r.Use(middleware.Metrics())
	r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig(api.OpenAPI, cfg.OpenAPIValidation)))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(checks))
	r.Handle("/metrics", promhttp.Handler())

	// viewers are anonymous
	r.Get("/ws", wsHandler.HandleConnection)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiLimiter.Middleware())
			r.Get("/feed", messageHandler.Feed)
			r.Get("/messages/export", messageHandler.Export)
		})

		r.Group(func(r chi.Router) {
			r.Use(authLimiter.Middleware())
			r.Post("/auth/login", authHandler.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(apiLimiter.Middleware())
			r.Use(middleware.Auth(sessions))
			r.Use(middleware.CSRF(tokens))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)
			r.Post("/message", messageHandler.Post)
			r.Delete("/message/{rkey}", messageHandler.Delete)
			r.Get("/my-posts", messageHandler.MyPosts)
		})
	})

	a.router = r
	return a, nil
}

// Close releases storage and the relay connection in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// openRepository selects the storage adapter. db is nil for the memory
// adapter.
func openRepository(ctx context.Context, cfg *config.Config) (domain.MessageRepository, *sql.DB, error) {
	switch cfg.StorageAdapter {
	case config.StorageSQLite:
		db, err := config.NewSQLiteConnection(cfg.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		repo, err := sqlite.NewMessageRepository(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("using sqlite storage", slog.String("path", cfg.SQLitePath()))
		return repo, db, nil

	case config.StoragePostgres:
		db, err := config.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		repo, err := postgres.NewMessageRepository(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("connected to postgresql")
		return repo, db, nil

	default:
		slog.Warn("using in-memory storage; the cache starts empty on every restart")
		return memory.NewMessageRepository(), nil, nil
	}
}
