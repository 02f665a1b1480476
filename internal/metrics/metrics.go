// Package metrics exposes checkout activity as Prometheus series. Metrics hooks
// into the ledger, hold manager, order engine, ticket scanner and sweeper through
// their observer interfaces.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ms-checkout/internal/models"
)

type Metrics struct {
	availability    *prometheus.GaugeVec
	seats           *prometheus.GaugeVec
	ledgerOps       *prometheus.CounterVec
	holdTransitions *prometheus.CounterVec
	sweepExpired    prometheus.Counter
	sweepDuration   prometheus.Histogram
	orderTrans      *prometheus.CounterVec
	reconciliations prometheus.Counter
	scans           *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		availability: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkout_ticket_type_units",
			Help: "Units per ticket type by ledger state",
		}, []string{"event_id", "ticket_type_id", "state"}),
		seats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkout_seat_last_status",
			Help: "1 for the status a seat last moved to",
		}, []string{"event_id", "seat_id", "status"}),
		ledgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_ledger_operations_total",
			Help: "Committed ledger mutations",
		}, []string{"operation"}),
		holdTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_hold_transitions_total",
			Help: "Holds entering each status",
		}, []string{"status"}),
		sweepExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "checkout_sweep_expired_total",
			Help: "Holds expired by the sweeper",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_sweep_duration_seconds",
			Help:    "Duration of sweep passes",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		orderTrans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_order_transitions_total",
			Help: "Order state machine transitions",
		}, []string{"from", "to"}),
		reconciliations: f.NewCounter(prometheus.CounterOpts{
			Name: "checkout_reconciliation_cases_total",
			Help: "Payments that arrived after their hold expired",
		}),
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_ticket_scans_total",
			Help: "Ticket scans by outcome",
		}, []string{"reason"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkout_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) AvailabilityChanged(_ context.Context, evt models.AvailabilityChanged) {
	m.ledgerOps.WithLabelValues(evt.Operation).Inc()
	for _, tt := range evt.TicketTypes {
		m.availability.WithLabelValues(evt.EventID, tt.TicketTypeID, "available").Set(float64(tt.Available))
		m.availability.WithLabelValues(evt.EventID, tt.TicketTypeID, "held").Set(float64(tt.Held))
		m.availability.WithLabelValues(evt.EventID, tt.TicketTypeID, "sold").Set(float64(tt.Sold))
	}
	for _, s := range evt.Seats {
		for _, status := range []models.SeatStatus{models.SeatAvailable, models.SeatHeld, models.SeatSold, models.SeatBlocked} {
			v := 0.0
			if status == s.Status {
				v = 1
			}
			m.seats.WithLabelValues(evt.EventID, s.SeatID, string(status)).Set(v)
		}
	}
}

func (m *Metrics) HoldTransitioned(_ context.Context, _ *models.Hold, to models.HoldStatus) {
	m.holdTransitions.WithLabelValues(string(to)).Inc()
}

// SweepPass matches the sweeper's OnPass callback.
func (m *Metrics) SweepPass(expired int, took time.Duration) {
	m.sweepExpired.Add(float64(expired))
	m.sweepDuration.Observe(took.Seconds())
}

func (m *Metrics) OrderTransitioned(from, to models.OrderStatus) {
	if from == "" {
		from = "new"
	}
	m.orderTrans.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ReconciliationOpened() {
	m.reconciliations.Inc()
}

func (m *Metrics) TicketScanned(reason models.ScanReason) {
	m.scans.WithLabelValues(string(reason)).Inc()
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
