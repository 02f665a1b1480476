package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
)

func TestObserversFeedSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ctx := context.Background()

	m.AvailabilityChanged(ctx, models.AvailabilityChanged{
		EventID:     "ev-1",
		Operation:   "reserve",
		TicketTypes: []models.TicketTypeCounts{{TicketTypeID: "ga", Capacity: 10, Available: 8, Held: 2}},
		Seats:       []models.SeatStatusSnapshot{{SeatID: "A1", Status: models.SeatHeld}},
	})
	m.HoldTransitioned(ctx, &models.Hold{}, models.HoldExpired)
	m.SweepPass(3, 20*time.Millisecond)
	m.OrderTransitioned("", models.OrderPending)
	m.OrderTransitioned(models.OrderPending, models.OrderPaid)
	m.ReconciliationOpened()
	m.TicketScanned(models.ScanAccepted)
	m.TicketScanned(models.ScanAlreadyUsed)
	m.TicketScanned(models.ScanAlreadyUsed)

	expected := `
# HELP checkout_ticket_scans_total Ticket scans by outcome
# TYPE checkout_ticket_scans_total counter
checkout_ticket_scans_total{reason="accepted"} 1
checkout_ticket_scans_total{reason="already used"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "checkout_ticket_scans_total"))

	count, err := testutil.GatherAndCount(reg, "checkout_ticket_type_units")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(reg, "checkout_order_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "checkout_seat_last_status")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	expected := `
# HELP checkout_http_requests_total HTTP requests by route and status
# TYPE checkout_http_requests_total counter
checkout_http_requests_total{method="GET",route="/orders/{orderID}",status="418"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "checkout_http_requests_total"))
}
