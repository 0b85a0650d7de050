package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/booking-escrow/internal/booking"
	"github.com/hackgods/booking-escrow/internal/escrow"
	"github.com/hackgods/booking-escrow/internal/metrics"
)

type RouterConfig struct {
	Booking        *booking.Service
	Escrow         *escrow.Service
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	Logger         *zap.SugaredLogger
	Metrics        *metrics.EngineMetrics
	Env            string
	Version        string
	WebhookSecret  string
	OperatorAPIKey string
	RateLimit      int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-Operator-Key", "X-Payment-Signature"},
		MaxAge:         300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Second))
	}
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	// Health and observability
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Booking intake and appointment lifecycle
	r.Post("/appointments", createAppointmentHandler(cfg.Booking))
	r.Get("/appointments", listAppointmentsHandler(cfg.Booking))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Booking))
	r.Post("/appointments/{id}/respond", respondHandler(cfg.Booking))
	r.Post("/appointments/{id}/schedule", transitionHandler(func(req *http.Request, id uuid.UUID) (*booking.Appointment, error) {
		return cfg.Booking.Schedule(req.Context(), id)
	}))
	r.Post("/appointments/{id}/complete", transitionHandler(func(req *http.Request, id uuid.UUID) (*booking.Appointment, error) {
		return cfg.Booking.Complete(req.Context(), id)
	}))
	r.Post("/appointments/{id}/cancel", transitionHandler(func(req *http.Request, id uuid.UUID) (*booking.Appointment, error) {
		return cfg.Booking.Cancel(req.Context(), id)
	}))

	// Escrow queries and disputes
	r.Get("/escrow/{id}", getEscrowHandler(cfg.Escrow))
	r.Get("/appointments/{id}/escrow", getEscrowByAppointmentHandler(cfg.Escrow))
	r.Post("/appointments/{id}/dispute", raiseDisputeHandler(cfg.Booking, cfg.Escrow))
	r.With(OperatorOnly(cfg.OperatorAPIKey)).
		Post("/escrow/{id}/resolve", resolveDisputeHandler(cfg.Escrow))

	// Payment gateway callback
	webhook := NewPaymentWebhookHandler(cfg.WebhookSecret, cfg.Booking, cfg.Logger)
	r.Post("/webhooks/payment", webhook.Handle)

	return r
}
