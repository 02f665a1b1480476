package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

// response is the envelope of every JSON reply. Reason is a stable machine readable
// code on failures (sold_out, hold_expired, ...).
type response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func refusal(message, reason, detail string) response {
	return response{Message: message, Reason: reason, Error: detail, Timestamp: time.Now()}
}

type failure struct {
	err    error
	status int
	reason string
}

// Order matters: RenewHold wraps both ErrHoldNotActive and ErrHoldExpired.
var failures = []failure{
	{models.ErrHoldExpired, http.StatusGone, "hold_expired"},
	{models.ErrHoldNotActive, http.StatusConflict, "hold_not_active"},
	{models.ErrHoldNotFound, http.StatusNotFound, "hold_not_found"},
	{models.ErrInsufficientCapacity, http.StatusConflict, "sold_out"},
	{models.ErrSeatNotAvailable, http.StatusConflict, "seat_not_available"},
	{models.ErrOutOfWindow, http.StatusUnprocessableEntity, "not_on_sale"},
	{models.ErrLimitExceeded, http.StatusUnprocessableEntity, "limit_exceeded"},
	{models.ErrUnmappedCategory, http.StatusUnprocessableEntity, "unmapped_category"},
	{models.ErrPromoInvalid, http.StatusUnprocessableEntity, "promo_invalid"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrNotTransferable, http.StatusConflict, "not_transferable"},
	{models.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

// ErrorStatus maps a service error to its HTTP status and stable reason string.
func ErrorStatus(err error) (int, string) {
	for _, f := range failures {
		if errors.Is(err, f.err) {
			return f.status, f.reason
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, response{Success: true, Message: message, Data: data, Timestamp: time.Now()})
}

func fail(w http.ResponseWriter, log *logger.Logger, action string, err error) {
	status, reason := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("API", fmt.Sprintf("%s failed: %v", action, err))
		writeJSON(w, status, refusal(action+" failed", reason, "internal error"))
		return
	}
	log.Debug("API", fmt.Sprintf("%s refused: %v", action, err))
	writeJSON(w, status, refusal(action+" refused", reason, err.Error()))
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON body: %v: %w", err, models.ErrInvalidInput)
	}
	return nil
}

var errNoCaller = fmt.Errorf("caller identity required: %w", models.ErrInvalidInput)

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, refusal("caller identity required", "unauthenticated", errNoCaller.Error()))
}
