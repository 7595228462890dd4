package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mangrove/internal/config"
	"mangrove/internal/database"
	"mangrove/internal/engine"
	"mangrove/internal/handlers"
	"mangrove/internal/middleware"
	"mangrove/internal/utils"
	"mangrove/internal/websocket"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	metrics := utils.NewMetricsCollector()

	store, err := database.NewPostgresStore(cfg.Database.URI, logger, metrics)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	if err := store.InitializeTables(context.Background()); err != nil {
		logger.Error("failed to initialize tables", "error", err)
		os.Exit(1)
	}

	// The inbox defaults to the same Postgres instance; NOTIFICATION_STORE
	// can move it to Mongo without touching content or ledger storage.
	var inbox database.NotificationInbox = store
	if cfg.Notifications.Store == "mongo" {
		mongoInbox, err := database.NewMongoInbox(context.Background(), cfg.Notifications.MongoURI, "mangrove", logger)
		if err != nil {
			logger.Error("failed to connect to MongoDB inbox", "error", err)
			os.Exit(1)
		}
		defer mongoInbox.Close(context.Background())
		inbox = mongoInbox
	}

	hub := websocket.NewHub(logger, metrics)
	hub.UnreadCount = func(ctx context.Context, userID uuid.UUID) (int, error) {
		return inbox.UnreadCount(ctx, userID)
	}
	go hub.Run()

	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, store, inbox, hub, metrics, logger)

	auth := middleware.NewAuthenticator(cfg.JWTSecret)
	handlers.AllowedOrigins = cfg.AllowedOrigins

	server := handlers.NewServer(system, eng, store, hub, auth, metrics, logger)

	mux := server.Routes()
	if cfg.Server.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	cors := middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.AllowedOrigins))
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	logger.Info("engine listening", "addr", addr, "notification_store", cfg.Notifications.Store)
	if err := http.ListenAndServe(addr, cors(mux)); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
