package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/vadim/dealroom/internal/auth"
	"github.com/vadim/dealroom/internal/config"
	httpcontroller "github.com/vadim/dealroom/internal/controller/http"
	"github.com/vadim/dealroom/internal/database"
	"github.com/vadim/dealroom/internal/domain/deal/dao"
	"github.com/vadim/dealroom/internal/domain/deal/dispatcher"
	"github.com/vadim/dealroom/internal/domain/deal/policy"
	"github.com/vadim/dealroom/internal/domain/deal/scheduler"
	"github.com/vadim/dealroom/internal/domain/deal/seed"
	"github.com/vadim/dealroom/internal/events"
	authmw "github.com/vadim/dealroom/internal/httpx/middleware"
	"github.com/vadim/dealroom/internal/httpx/response"
	"github.com/vadim/dealroom/internal/presence"
	"github.com/vadim/dealroom/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure (nil when not configured)
	pg         *pgxpool.Pool
	nc         *nats.Conn
	presence   *presence.Tracker
	documents  *storage.DocumentStorage
	subscriber *events.Subscriber

	auth       *auth.Service
	dealPolicy *policy.Policy

	// Scheduler for closing idle sessions
	scheduler *scheduler.Scheduler
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := NewLogger(cfg.Log.Level)

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	if cfg.Auth.InsecureSecret() {
		logger.Warn("AUTH_JWT_SECRET is not set, tokens are signed with the public development secret")
	}

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
		auth:   auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
	}

	if err := app.initInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	if err := app.initDomains(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	app.scheduler = scheduler.New(app.dealPolicy, scheduler.Config{
		Interval: cfg.Session.SweepInterval,
		IdleFor:  cfg.Session.IdleTTL,
	}, logger)

	return app, nil
}

// NewLogger creates the JSON logger used across the service
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// initInfrastructure initializes infrastructure components (DB, Redis, NATS, S3)
func (a *App) initInfrastructure(ctx context.Context) error {
	if a.cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, a.cfg.Database.Pool())
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pg = pool

		if a.cfg.Database.AutoMigrate {
			applied, err := database.Migrate(ctx, pool)
			if err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			a.logger.Info("database migrated", "applied", len(applied))
		}
	}

	if a.cfg.Redis.Enabled() {
		a.presence = presence.NewTracker(presence.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			PoolSize: a.cfg.Redis.PoolSize,
			TTL:      a.cfg.Redis.PresenceTTL,
		})
		if err := a.presence.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	}

	if a.cfg.NATS.Enabled() {
		nc, err := events.Connect(events.Config{
			URL:           a.cfg.NATS.URL,
			MaxReconnects: a.cfg.NATS.MaxReconnects,
			ReconnectWait: a.cfg.NATS.ReconnectWait,
		})
		if err != nil {
			return err
		}
		a.nc = nc
	}

	if a.cfg.S3.Enabled {
		a.documents = storage.NewDocumentStorage(storage.S3Config{
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			PublicURL:       a.cfg.S3.PublicURL,
		})
	}

	return nil
}

// initDomains initializes domain layers (DAO, Policy)
func (a *App) initDomains(ctx context.Context) error {
	deps := policy.Deps{
		Logger:       a.logger,
		WriteTimeout: a.cfg.Session.WriteTimeout,
	}

	if a.pg != nil {
		deps.Conversations = dao.NewConversationPostgres(a.pg)
		deps.Messages = dao.NewMessagePostgres(a.pg)
	}
	if a.presence != nil {
		deps.Presence = a.presence
	}
	if a.documents != nil {
		deps.Uploader = &documentUploaderAdapter{a.documents}
	}
	if a.nc != nil {
		deps.Events = &eventPublisherAdapter{events.NewPublisher(a.nc)}
	}

	if a.cfg.Seed.Enabled {
		fixture, err := loadSeed(a.cfg.Seed.Path)
		if err != nil {
			return err
		}
		deps.Seed = fixture
	}

	a.dealPolicy = policy.New(deps)

	if a.nc != nil {
		a.subscriber = events.NewSubscriber(a.nc, func(ctx context.Context, ev events.Envelope) {
			a.dealPolicy.HandleEvent(ctx, fromEnvelope(ev))
		}, events.SubscriberConfig{
			WorkerCount: a.cfg.NATS.Workers,
			BufferSize:  a.cfg.NATS.BufferSize,
		})
		if err := a.subscriber.Start(ctx); err != nil {
			return fmt.Errorf("starting event subscriber: %w", err)
		}
	}

	return nil
}

func loadSeed(path string) (*seed.Fixture, error) {
	if path == "" {
		fixture, err := seed.Default()
		if err != nil {
			return nil, fmt.Errorf("loading built-in seed: %w", err)
		}
		return fixture, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed: %w", err)
	}
	defer f.Close()

	fixture, err := seed.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("loading seed %s: %w", path, err)
	}
	return fixture, nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	swaggerHandler := httpcontroller.NewSwaggerHandler("Dealroom API", OpenAPISpec)
	swaggerHandler.RegisterRoutes(a.router)

	a.router.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.Authenticate(a.auth))

		dealHandler := httpcontroller.NewDealHandler(a.dealPolicy, a.cfg.Server.MaxUploadBytes)
		dealHandler.RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler reports ready once every configured backend answers
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	if a.pg != nil {
		checks["postgres"] = status(a.pg.Ping(ctx))
	}
	if a.presence != nil {
		checks["redis"] = status(a.presence.Ping(ctx))
	}
	if a.documents != nil {
		checks["s3"] = status(a.documents.Ping(ctx))
	}
	if a.nc != nil {
		if a.nc.IsConnected() {
			checks["nats"] = "ok"
		} else {
			checks["nats"] = "disconnected"
		}
	}
	for _, v := range checks {
		if v != "ok" {
			ready = false
		}
	}

	code := http.StatusOK
	state := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		state = "not ready"
	}
	response.JSON(w, code, map[string]interface{}{"status": state, "checks": checks})
}

func status(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	a.closeInfrastructure()

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.subscriber != nil {
		a.subscriber.Stop()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.presence != nil {
		if err := a.presence.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

// documentUploaderAdapter adapts storage.DocumentStorage to dispatcher.DocumentUploader
type documentUploaderAdapter struct {
	storage *storage.DocumentStorage
}

func (a *documentUploaderAdapter) Upload(ctx context.Context, in dispatcher.UploadInput) (*dispatcher.UploadOutput, error) {
	out, err := a.storage.Upload(ctx, storage.UploadInput{
		Reader:      in.Reader,
		ContentType: in.ContentType,
		Size:        in.Size,
		Filename:    in.Filename,
	})
	if err != nil {
		return nil, err
	}
	return &dispatcher.UploadOutput{Key: out.Key, URL: out.URL}, nil
}

func (a *documentUploaderAdapter) Delete(ctx context.Context, key string) error {
	return a.storage.Delete(ctx, key)
}

// eventPublisherAdapter adapts events.Publisher to policy.EventPublisher
type eventPublisherAdapter struct {
	publisher *events.Publisher
}

func (a *eventPublisherAdapter) Publish(ctx context.Context, ev policy.Event) error {
	return a.publisher.Publish(ctx, events.Envelope{
		Kind:           string(ev.Kind),
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		RecipientID:    ev.RecipientID,
		Message:        ev.Message,
		State:          ev.State,
		OccurredAt:     ev.OccurredAt,
	})
}

func fromEnvelope(ev events.Envelope) policy.Event {
	return policy.Event{
		Kind:           policy.EventKind(ev.Kind),
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		RecipientID:    ev.RecipientID,
		Message:        ev.Message,
		State:          ev.State,
		OccurredAt:     ev.OccurredAt,
	}
}
