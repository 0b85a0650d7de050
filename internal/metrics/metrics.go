package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the booking and escrow flows.
type EngineMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	escrowTotal       *prometheus.CounterVec
	schedulerRuns     *prometheus.CounterVec
	schedulerExpired  prometheus.Counter
	schedulerReleased prometheus.Counter
	httpLatency       *prometheus.HistogramVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "engine",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome (created, slot_unavailable, error)",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "engine",
			Name:      "appointment_transitions_total",
			Help:      "Appointment status transitions by (from, to, outcome)",
		}, []string{"from", "to", "outcome"}),
		escrowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Escrow ledger operations by (op, outcome)",
		}, []string{"op", "outcome"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Background scheduler passes by (task, outcome)",
		}, []string{"task", "outcome"}),
		schedulerExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "scheduler",
			Name:      "requests_expired_total",
			Help:      "Stale booking requests auto-cancelled",
		}),
		schedulerReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "scheduler",
			Name:      "escrows_released_total",
			Help:      "Escrow transactions auto-released after the hold window",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.transitionsTotal,
		m.escrowTotal,
		m.schedulerRuns,
		m.schedulerExpired,
		m.schedulerReleased,
		m.httpLatency,
	)
	return m
}

func (m *EngineMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, outcome).Inc()
}

func (m *EngineMetrics) ObserveEscrowOp(op, outcome string) {
	if m == nil {
		return
	}
	m.escrowTotal.WithLabelValues(op, outcome).Inc()
}

func (m *EngineMetrics) ObserveSchedulerRun(task, outcome string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(task, outcome).Inc()
}

func (m *EngineMetrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.schedulerExpired.Add(float64(n))
}

func (m *EngineMetrics) AddAutoReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.schedulerReleased.Add(float64(n))
}

func (m *EngineMetrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, path, status).Observe(seconds)
}
