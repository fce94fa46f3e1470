package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blakv.app/support/common/id"
	"blakv.app/support/common/logger"
	"blakv.app/support/common/otel"
	"blakv.app/support/core/config"
	"blakv.app/support/core/db"
	"blakv.app/support/internal/http/middleware"
	httprouter "blakv.app/support/internal/http/router"
	"blakv.app/support/internal/notify"
	"blakv.app/support/internal/realtime"
	"blakv.app/support/internal/service"
	"blakv.app/support/internal/store"
	"blakv.app/support/internal/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider when enabled)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "support server starting", "env", cfg.Env, "store", cfg.Store, "node_id", cfg.NodeID)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	stores, txRunner, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	hub := realtime.NewHub(realtime.HubConfig{
		SendBuffer: cfg.Realtime.SendBuffer,
		Authorizer: service.NewTicketAuthorizer(stores),
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	var deliverer realtime.Deliverer = hub
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "redis connected", "channel", cfg.Redis.Channel)

		bus := realtime.NewRedisBus(redisClient, cfg.Redis.Channel, cfg.NodeID, hub)
		go func() {
			if err := bus.Run(runCtx); err != nil {
				slog.ErrorContext(runCtx, "realtime bus stopped", "error", err)
			}
		}()
		deliverer = bus
	}

	notifier, err := notify.NewEmailNotifier(cfg.SMTP)
	if err != nil {
		slog.ErrorContext(ctx, "failed to configure email notifier", "error", err)
		os.Exit(1)
	}
	if !cfg.SMTP.Enabled() {
		slog.InfoContext(ctx, "email fallback disabled (no SMTP credentials)")
	}

	services := service.NewServices(stores, txRunner, deliverer, notifier)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, hub)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Realtime sessions are long-lived; writes carry their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stopRun()
	// Shutdown does not wait for hijacked websocket connections.
	hub.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (service.StoreProvider, service.TxRunner, func(), error) {
	if cfg.Store == config.StoreDriverMemory {
		slog.WarnContext(ctx, "using in-memory store, data is lost on restart")
		mem := memory.New()
		return mem, service.NewMemoryTxRunner(mem), func() {}, nil
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	slog.InfoContext(ctx, "database connected")

	return store.NewStores(database.Queries()), service.NewTxRunner(database), database.Close, nil
}

func setupRouter(cfg config.Config, services *service.Services, hub *realtime.Hub) http.Handler {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	return httprouter.SetupRoutes(router, services, hub, httprouter.RouterConfig{
		SigningKey: cfg.Identity.SigningKey,
		Realtime:   cfg.Realtime,
		RateLimit:  cfg.RateLimit,
	})
}

const banner = `
███████╗██╗   ██╗██████╗ ██████╗  ██████╗ ██████╗ ████████╗
██╔════╝██║   ██║██╔══██╗██╔══██╗██╔═══██╗██╔══██╗╚══██╔══╝
███████╗██║   ██║██████╔╝██████╔╝██║   ██║██████╔╝   ██║
╚════██║██║   ██║██╔═══╝ ██╔═══╝ ██║   ██║██╔══██╗   ██║
███████║╚██████╔╝██║     ██║     ╚██████╔╝██║  ██║   ██║
╚══════╝ ╚═════╝ ╚═╝     ╚═╝      ╚═════╝ ╚═╝  ╚═╝   ╚═╝
`
