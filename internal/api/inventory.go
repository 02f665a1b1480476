package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/categories"
	"ms-checkout/internal/models"
)

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Ledger.Availability(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, h.Logger, "availability", err)
		return
	}
	ok(w, http.StatusOK, "availability", summary)
}

func (h *Handler) ListTicketTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Ledger.TicketTypes(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, h.Logger, "list ticket types", err)
		return
	}
	ok(w, http.StatusOK, "ticket types", types)
}

func (h *Handler) SaveTicketType(w http.ResponseWriter, r *http.Request) {
	var tt models.TicketType
	if err := decode(r, &tt); err != nil {
		fail(w, h.Logger, "save ticket type", err)
		return
	}
	tt.EventID = chi.URLParam(r, "eventID")
	if err := h.Ledger.SaveTicketType(r.Context(), &tt); err != nil {
		fail(w, h.Logger, "save ticket type", err)
		return
	}
	ok(w, http.StatusOK, "ticket type saved", tt)
}

func (h *Handler) AddSeats(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seats []models.Seat `json:"seats"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "add seats", err)
		return
	}
	if err := h.Ledger.AddSeats(r.Context(), chi.URLParam(r, "eventID"), body.Seats); err != nil {
		fail(w, h.Logger, "add seats", err)
		return
	}
	ok(w, http.StatusCreated, "seats added", map[string]int{"added": len(body.Seats)})
}

func (h *Handler) BlockSeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			fail(w, h.Logger, "block seat", err)
			return
		}
	}
	if err := h.Ledger.Block(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "seatID"), body.Reason); err != nil {
		fail(w, h.Logger, "block seat", err)
		return
	}
	ok(w, http.StatusOK, "seat blocked", nil)
}

func (h *Handler) UnblockSeat(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Unblock(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "seatID")); err != nil {
		fail(w, h.Logger, "unblock seat", err)
		return
	}
	ok(w, http.StatusOK, "seat unblocked", nil)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.Mapper.Mappings(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, h.Logger, "list categories", err)
		return
	}
	ok(w, http.StatusOK, "category mappings", mappings)
}

func (h *Handler) MapCategories(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mappings []categories.Mapping `json:"mappings"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "map categories", err)
		return
	}
	if err := h.Mapper.MapCategories(r.Context(), chi.URLParam(r, "eventID"), body.Mappings); err != nil {
		fail(w, h.Logger, "map categories", err)
		return
	}
	ok(w, http.StatusOK, "categories mapped", body.Mappings)
}

func (h *Handler) MissingCategories(w http.ResponseWriter, r *http.Request) {
	missing, err := h.Mapper.MissingCategories(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, h.Logger, "missing categories", err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	ok(w, http.StatusOK, "unmapped chart categories", missing)
}

func (h *Handler) RegisterChart(w http.ResponseWriter, r *http.Request) {
	var signal models.ChartPublished
	if err := decode(r, &signal); err != nil {
		fail(w, h.Logger, "register chart", err)
		return
	}
	if err := h.Mapper.RegisterChart(r.Context(), signal); err != nil {
		fail(w, h.Logger, "register chart", err)
		return
	}
	ok(w, http.StatusCreated, "chart registered", signal)
}
