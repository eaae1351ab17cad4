package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/relaychat/internal/api"
	"github.com/lalith-99/relaychat/internal/config"
	"github.com/lalith-99/relaychat/internal/db"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/observ"
	"github.com/lalith-99/relaychat/internal/presence"
	"github.com/lalith-99/relaychat/internal/pubsub"
	"github.com/lalith-99/relaychat/internal/repository"
	"github.com/lalith-99/relaychat/internal/repository/memory"
	"github.com/lalith-99/relaychat/internal/repository/postgres"
	"github.com/lalith-99/relaychat/internal/service"
	"github.com/lalith-99/relaychat/internal/subscription"
	"github.com/lalith-99/relaychat/internal/ws"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// The root context is cancelled on SIGINT/SIGTERM. Everything
	// long-lived (the HTTP server, websocket connections) winds down from it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Domain Store
	//
	// Postgres in every real deployment. The memory driver exists for
	// local runs and demos; it forgets everything on restart.
	// ---------------------------------------------------------------
	var (
		store  repository.Store
		health func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		// Acquire resource, immediately defer its release.
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		store = postgres.NewStore(database.Pool())
		health = database.Health
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store = memory.New()
	}

	// ---------------------------------------------------------------
	// 4. Presence
	// ---------------------------------------------------------------
	var tracker presence.Tracker
	if cfg.RedisURL != "" {
		client, err := presence.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
		tracker = presence.NewRedis(client, cfg.PresenceTTL)
		logger.Info("presence backed by redis")
	} else {
		tracker = presence.NewLocal()
		logger.Info("presence kept in process")
	}

	// ---------------------------------------------------------------
	// 5. Event bus, services, subscriptions
	//
	// One bus per process, handed to every publisher and to the
	// resolver. Nothing reaches it through a global.
	// ---------------------------------------------------------------
	bus := pubsub.New[events.Event](logger.Named("bus"), cfg.SubscriberBuffer)
	defer bus.Close()

	users := service.NewUserService(store.Users(), cfg.JWTSecret, cfg.TokenTTL, logger)
	conversations := service.NewConversationService(store, bus, logger)
	messages := service.NewMessageService(store, bus, logger, cfg.MaxMessageLength)

	resolver := subscription.NewResolver(bus, store.Participants(), logger.Named("subscription"))
	wsHandler := ws.NewHandler(resolver, cfg.JWTSecret, tracker, cfg.AllowedOrigins, logger.Named("ws"))

	// ---------------------------------------------------------------
	// 6. HTTP server
	// ---------------------------------------------------------------
	router := api.NewRouter(api.Deps{
		JWTSecret:     cfg.JWTSecret,
		Logger:        logger,
		Users:         users,
		Conversations: conversations,
		Messages:      messages,
		Presence:      tracker,
		Subscriptions: wsHandler.Subscribe,
		Health:        health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Handlers and websocket connections inherit the root context, so
		// a shutdown signal reaches open subscriptions too.
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	logger.Info("starting relaychat",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreDriver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	// Shutdown does not wait for hijacked (websocket) connections. Those
	// end through the root context cancelled above.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
