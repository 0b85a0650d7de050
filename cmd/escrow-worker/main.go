package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/booking-escrow/internal/booking"
	"github.com/hackgods/booking-escrow/internal/config"
	"github.com/hackgods/booking-escrow/internal/db"
	"github.com/hackgods/booking-escrow/internal/escrow"
	"github.com/hackgods/booking-escrow/internal/logger"
	"github.com/hackgods/booking-escrow/internal/metrics"
	redisclient "github.com/hackgods/booking-escrow/internal/redis"
)

// The worker owns the two time-driven pieces of the engine: expiring
// unanswered booking requests and paying out escrow whose hold window
// has elapsed. Both go through the same transition paths as the API, so
// a concurrent doctor/patient action just wins or loses the row CAS.
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

	zlog.Infow("escrow-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval)

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

	// Run once at startup
	runOnce(rootCtx, bookingSvc, escrowSvc, m, zlog)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping escrow worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, bookingSvc, escrowSvc, m, zlog)
		}
	}
}

func runOnce(ctx context.Context, bookingSvc *booking.Service, escrowSvc *escrow.Service, m *metrics.EngineMetrics, zlog *zap.SugaredLogger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()

	expired, err := bookingSvc.ExpireStaleRequests(runCtx)
	if err != nil {
		m.ObserveSchedulerRun("expiry", "error")
		zlog.Errorw("expiry run error", "error", err)
	} else {
		m.ObserveSchedulerRun("expiry", "ok")
	}

	released, err := escrowSvc.ReleaseDue(runCtx)
	if err != nil {
		m.ObserveSchedulerRun("auto_release", "error")
		zlog.Errorw("auto-release run error", "error", err)
	} else {
		m.ObserveSchedulerRun("auto_release", "ok")
	}

	zlog.Infow("worker pass complete",
		"expired", expired, "released", released, "duration", time.Since(start))
}
