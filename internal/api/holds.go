package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/holds"
	"ms-checkout/internal/models"
)

type createHoldRequest struct {
	EventID    string              `json:"event_id"`
	Items      []holds.ItemRequest `json:"items"`
	TTLSeconds int                 `json:"ttl_seconds,omitempty"`
}

func (h *Handler) CreateHold(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserID(r.Context())
	if caller == "" {
		unauthorized(w)
		return
	}
	var body createHoldRequest
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "create hold", err)
		return
	}

	hold, err := h.Holds.CreateHold(r.Context(), holds.CreateHoldRequest{
		RequesterID: caller,
		EventID:     body.EventID,
		Items:       body.Items,
	}, time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		fail(w, h.Logger, "create hold", err)
		return
	}
	ok(w, http.StatusCreated, "hold created", hold)
}

// ownHold loads the hold and hides it from anyone but its requester.
func (h *Handler) ownHold(r *http.Request) (*models.Hold, error) {
	id := chi.URLParam(r, "holdID")
	hold, err := h.Holds.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if hold.RequesterID != auth.UserID(r.Context()) {
		return nil, fmt.Errorf("hold %s: %w", id, models.ErrHoldNotFound)
	}
	return hold, nil
}

func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.ownHold(r)
	if err != nil {
		fail(w, h.Logger, "get hold", err)
		return
	}
	ok(w, http.StatusOK, "hold", hold)
}

func (h *Handler) RenewHold(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExtensionSeconds int `json:"extension_seconds"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "renew hold", err)
		return
	}
	hold, err := h.ownHold(r)
	if err != nil {
		fail(w, h.Logger, "renew hold", err)
		return
	}
	renewed, err := h.Holds.RenewHold(r.Context(), hold.ID, time.Duration(body.ExtensionSeconds)*time.Second)
	if err != nil {
		fail(w, h.Logger, "renew hold", err)
		return
	}
	ok(w, http.StatusOK, "hold renewed", renewed)
}

func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.ownHold(r)
	if err != nil {
		fail(w, h.Logger, "release hold", err)
		return
	}
	if err := h.Holds.ReleaseHold(r.Context(), hold.ID); err != nil {
		fail(w, h.Logger, "release hold", err)
		return
	}
	ok(w, http.StatusOK, "hold released", nil)
}
