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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/integrations/common/id"
	"basegraph.app/integrations/common/logger"
	"basegraph.app/integrations/common/otel"
	"basegraph.app/integrations/core/config"
	"basegraph.app/integrations/core/db"
	"basegraph.app/integrations/internal/credential"
	"basegraph.app/integrations/internal/http/middleware"
	httprouter "basegraph.app/integrations/internal/http/router"
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/queue"
	"basegraph.app/integrations/internal/service"
	"basegraph.app/integrations/internal/store"
	"basegraph.app/integrations/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
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

	slog.InfoContext(ctx, "integrations starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RepoTaskStream)

	taskProducer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RepoTaskStream, slog.Default())
	defer taskProducer.Close()

	var deliveries store.DeliveryStore
	if cfg.Pipeline.DedupEnabled() {
		deliveries = store.NewRedisDeliveryStore(redisClient)
		slog.InfoContext(ctx, "webhook de-duplication enabled", "ttl", cfg.Pipeline.WebhookDedupTTL)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to configure providers", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Pool())
	dispatcher := worker.NewDispatcher(worker.Config{MaxConcurrency: cfg.Dispatch.MaxConcurrency})
	creds := credential.NewManager(stores.Apps(), stores.Integrations(), providers, cfg.AdjustTime)

	services := service.NewServices(
		stores,
		providers,
		creds,
		queue.NewRepositoryManager(taskProducer),
		dispatcher,
		cfg.CookieSecret,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, providers, stores, deliveries)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port, "providers", providers.Kinds())
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

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.Dispatch.DrainTimeout)
	defer drainCancel()
	if abandoned, err := dispatcher.Drain(drainCtx); err != nil {
		slog.WarnContext(ctx, "dispatcher drain timed out", "abandoned", abandoned)
	} else {
		slog.InfoContext(ctx, "dispatcher drained")
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func buildProviders(cfg config.Config) (*provider.Registry, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var providers []provider.Provider
	if cfg.GitHub.Enabled() {
		github, err := provider.NewGitHub(cfg.GitHub.APIURL, httpClient)
		if err != nil {
			return nil, err
		}
		providers = append(providers, github)
	}
	if cfg.GitLab.Enabled() {
		providers = append(providers, provider.NewGitLab(cfg.GitLab.URL, cfg.GitLab.RedirectURI, httpClient))
	}
	if cfg.Bitbucket.Enabled() {
		providers = append(providers, provider.NewBitbucket(cfg.Bitbucket.APIURL, httpClient))
	}
	return provider.NewRegistry(providers...), nil
}

func setupRouter(cfg config.Config, services *service.Services, providers *provider.Registry, stores *store.Stores, deliveries store.DeliveryStore) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, providers, stores.Apps(), deliveries, httprouter.RouterConfig{
		UIURL:         cfg.UI.URL,
		LoginURL:      cfg.UI.LoginURL,
		SessionCookie: cfg.UI.SessionCookie,
		DedupTTL:      cfg.Pipeline.WebhookDedupTTL,
	})

	return router
}

const banner = `
 _       _                       _   _
(_)_ __ | |_ ___  __ _ _ __ __ _| |_(_) ___  _ __  ___
| | '_ \| __/ _ \/ _` + "`" + ` | '__/ _` + "`" + ` | __| |/ _ \| '_ \/ __|
| | | | | ||  __/ (_| | | | (_| | |_| | (_) | | | \__ \
|_|_| |_|\__\___|\__, |_|  \__,_|\__|_|\___/|_| |_|___/
                 |___/
`
