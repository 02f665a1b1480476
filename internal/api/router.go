// Package api is the HTTP surface of the checkout engine.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/categories"
	"ms-checkout/internal/holds"
	invdb "ms-checkout/internal/inventory/db"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/order"
	"ms-checkout/internal/sse"
	tickets "ms-checkout/internal/tickets/service"
)

type Handler struct {
	Ledger  *invdb.Ledger
	Holds   *holds.Manager
	Mapper  *categories.Mapper
	Orders  *order.OrderService
	Tickets *tickets.TicketService
	Logger  *logger.Logger
}

// RouterOptions carries the optional pieces of the router.
type RouterOptions struct {
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Stream         *sse.Handler
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ok(w, http.StatusOK, "ok", nil)
	})
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Identity())

		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/availability", h.GetAvailability)
			if opts.Stream != nil {
				r.Get("/availability/stream", opts.Stream.StreamAvailability)
			}
			r.Get("/ticket-types", h.ListTicketTypes)
			r.Put("/ticket-types", h.SaveTicketType)
			r.Post("/seats", h.AddSeats)
			r.Put("/seats/{seatID}/block", h.BlockSeat)
			r.Delete("/seats/{seatID}/block", h.UnblockSeat)
			r.Get("/categories", h.ListCategories)
			r.Put("/categories", h.MapCategories)
			r.Get("/categories/missing", h.MissingCategories)
			r.Get("/tickets/summary", h.TicketSummary)
		})
		r.Post("/charts", h.RegisterChart)

		r.Route("/holds", func(r chi.Router) {
			r.Post("/", h.CreateHold)
			r.Get("/{holdID}", h.GetHold)
			r.Post("/{holdID}/renew", h.RenewHold)
			r.Delete("/{holdID}", h.ReleaseHold)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Post("/{orderID}/cancel", h.CancelOrder)
			r.Post("/{orderID}/payment", h.PaymentSignal)
			r.Post("/{orderID}/refund", h.RefundOrder)
			r.Post("/{orderID}/restock", h.RestockOrder)
			r.Get("/{orderID}/tickets", h.OrderTickets)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/scan", h.ScanTicket)
			r.Get("/{ticketID}", h.GetTicket)
			r.Get("/{ticketID}/qr", h.TicketQR)
			r.Post("/{ticketID}/transfer", h.TransferTicket)
		})

		r.Put("/promos", h.SavePromo)
		r.Put("/fees", h.SaveFee)
		r.Get("/reconciliation", h.ListReconciliation)
		r.Post("/reconciliation/{caseID}/resolve", h.ResolveReconciliation)
	})

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("%d", ww.Status()), time.Since(start).String())
		})
	}
}
