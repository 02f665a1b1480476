package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/auth"
	tickets "ms-checkout/internal/tickets/service"
)

// ScanTicket answers 200 for every scan the gate can act on; Accepted and Reason
// tell the scanner what to show.
func (h *Handler) ScanTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Input string `json:"input"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "scan", err)
		return
	}
	scanner := auth.UserID(r.Context())
	if scanner == "" {
		unauthorized(w)
		return
	}
	res, err := h.Tickets.ValidateScan(r.Context(), body.Input, scanner)
	if err != nil {
		fail(w, h.Logger, "scan", err)
		return
	}
	ok(w, http.StatusOK, string(res.Reason), res)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		fail(w, h.Logger, "get ticket", err)
		return
	}
	ok(w, http.StatusOK, "ticket", t)
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.Tickets.RenderQR(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		fail(w, h.Logger, "ticket qr", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) TransferTicket(w http.ResponseWriter, r *http.Request) {
	var to tickets.Attendee
	if err := decode(r, &to); err != nil {
		fail(w, h.Logger, "transfer ticket", err)
		return
	}
	fresh, err := h.Tickets.TransferTicket(r.Context(), chi.URLParam(r, "ticketID"), to)
	if err != nil {
		fail(w, h.Logger, "transfer ticket", err)
		return
	}
	ok(w, http.StatusOK, "ticket transferred", fresh)
}

func (h *Handler) OrderTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.Tickets.TicketsByOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, h.Logger, "order tickets", err)
		return
	}
	ok(w, http.StatusOK, "tickets", list)
}

func (h *Handler) TicketSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Tickets.CountsByEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, h.Logger, "ticket summary", err)
		return
	}
	ok(w, http.StatusOK, "ticket counts", counts)
}
