package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ads-console/internal/ads"
	"ads-console/internal/audit"
	"ads-console/internal/auth"
	"ads-console/internal/config"
	"ads-console/internal/httpapi"
	"ads-console/internal/mutation"
	"ads-console/internal/query"
	"ads-console/internal/ratelimit"
	"ads-console/pkg/logger"
	"ads-console/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := audit.NewPostgresStore(db)
	if err := store.EnsureSchema(rootCtx); err != nil {
		log.Error("audit schema init failed", "err", err)
		os.Exit(1)
	}

	// Shared bucket when Redis is configured; single-process bucket otherwise.
	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisBucket(rdb, cfg.Rate)
		log.Info("rate limiter: shared redis bucket")
	} else {
		limiter = ratelimit.NewBucket(cfg.Rate)
		log.Info("rate limiter: in-process bucket")
	}

	adsClient, err := buildAdsClient(cfg, log)
	if err != nil {
		log.Error("ads client init failed", "err", err)
		os.Exit(1)
	}

	actors := auth.NewContextProvider(cfg.Ads)
	coordinator := mutation.NewCoordinator(
		adsClient, store, limiter,
		actors.Credentials(),
		cfg.Retry, cfg.Rate,
		mutation.WithLogger(log),
	)
	engine := query.NewEngine(store)

	handlers := httpapi.Handlers{
		Auth:      authManager,
		Actors:    actors,
		Mutations: coordinator,
		Audit:     engine,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// buildAdsClient picks the gateway client when configured. Local and dev runs
// without a gateway fall back to the in-memory fake so the console is usable
// end to end against nothing.
func buildAdsClient(cfg config.Config, log *slog.Logger) (ads.Client, error) {
	if cfg.Ads.GatewayURL != "" {
		return ads.NewHTTPClient(ads.HTTPClientConfig{
			BaseURL:         cfg.Ads.GatewayURL,
			DeveloperToken:  cfg.Ads.DeveloperToken,
			LoginCustomerID: cfg.Ads.LoginCustomerID,
		})
	}
	if cfg.IsProduction() {
		return nil, errors.New("production requires ADS_GATEWAY_URL")
	}
	log.Warn("no ads gateway configured, using in-memory fake client")
	return ads.NewFake(), nil
}
