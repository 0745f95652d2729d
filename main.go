package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/handlers"
	"github.com/CrowderSoup/kanban-sync/services"
)

func main() {
	cfg, err := loadConfig(".env")
	if err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	// Initialize database
	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.SMTP, logger)
	dataService := database.NewDataService(db)
	bus, err := newBus(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}

	// Initialize WebSocket hub
	hub := services.NewHub(logger)
	hub.Publish = bus.Publish

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, dataService, logger)
	boardHandler := handlers.NewBoardHandler(dataService, authService, hub, bus, logger)
	hub.Authorize = boardHandler.Authorize

	go hub.Run(ctx)
	go func() {
		if err := bus.Run(ctx, hub.Deliver); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Event bus stopped")
		}
	}()

	r := handlers.NewRouter(authHandler, boardHandler, handlers.NewAuthMiddleware(authService))

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Origin-Id"},
		AllowCredentials: true,
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Infof("Server starting on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

// newBus fans events out through redis when REDIS_URL is set, so several
// server instances can share rooms; otherwise events stay in process.
func newBus(cfg Config, logger log.FieldLogger) (services.Bus, error) {
	if cfg.RedisURL == "" {
		return services.NewLocalBus(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	logger.WithField("addr", opts.Addr).Info("Publishing board events through redis")
	return services.NewRedisBus(rc, services.DefaultChannel, logger), nil
}
