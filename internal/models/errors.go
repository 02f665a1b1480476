package models

import "errors"

// Business outcomes. These are returned to callers so a cart can be re-negotiated.
var (
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrOutOfWindow          = errors.New("ticket type is not on sale")
	ErrLimitExceeded        = errors.New("quantity outside per-order limits")
	ErrHoldNotFound         = errors.New("hold not found")
	ErrHoldNotActive        = errors.New("hold is not active")
	ErrHoldExpired          = errors.New("hold expired")
	ErrUnmappedCategory     = errors.New("seat category has no ticket type mapping")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrSeatNotAvailable     = errors.New("seat not available")
	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotTransferable      = errors.New("ticket is not transferable")
)

// ErrInvalidState means a ledger invariant was about to be broken. It signals a bug in
// hold/commit pairing and is never a legitimate business outcome.
var ErrInvalidState = errors.New("ledger invariant violation")
