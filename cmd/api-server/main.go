package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/booking-escrow/internal/api"
	"github.com/hackgods/booking-escrow/internal/booking"
	"github.com/hackgods/booking-escrow/internal/config"
	"github.com/hackgods/booking-escrow/internal/db"
	"github.com/hackgods/booking-escrow/internal/escrow"
	"github.com/hackgods/booking-escrow/internal/logger"
	"github.com/hackgods/booking-escrow/internal/metrics"
	redisclient "github.com/hackgods/booking-escrow/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Infow("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatalw("postgres connection error", "error", err)
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Fatalw("redis connection error", "error", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Errorw("error closing redis", "error", err)
		}
	}()
	zlog.Info("connected to Redis")

	m := metrics.NewEngineMetrics(nil)

	escrowRepo := escrow.NewPgRepository(pgPool)
	escrowSvc := escrow.NewService(escrowRepo, cfg.PlatformFeeBps, cfg.ReleaseDelay, zlog, m)

	bookingRepo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	bookingSvc := booking.NewService(bookingRepo, locker, escrowSvc, cfg, zlog, m)

	router := api.NewRouter(api.RouterConfig{
		Booking:        bookingSvc,
		Escrow:         escrowSvc,
		PgPool:         pgPool,
		Redis:          rdb,
		Logger:         zlog,
		Metrics:        m,
		Env:            cfg.Env,
		Version:        version,
		WebhookSecret:  cfg.PaymentWebhookKey,
		OperatorAPIKey: cfg.OperatorAPIKey,
		RateLimit:      cfg.RateLimitPerSecond,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatalw("http server error", "error", err)
		}
	}()

	<-rootCtx.Done()

	zlog.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Errorw("graceful shutdown failed", "error", err)
	}
}
