// Package holds manages time-bounded reservations against the inventory ledger.
package holds

import (
	"context"
	"time"

	"ms-checkout/internal/models"
)

// Guard narrows a status transition by the hold's expiry.
type Guard string

const (
	GuardAny        Guard = "any"
	GuardNotExpired Guard = "not_expired"
	GuardExpired    Guard = "expired"
)

// Store persists holds. Transition is the only way a hold leaves active: it is an
// atomic compare-and-set from active to the target status, and it reports whether
// this caller won. Missing holds yield models.ErrHoldNotFound.
type Store interface {
	Create(ctx context.Context, h *models.Hold) error
	Get(ctx context.Context, id string) (*models.Hold, error)
	Transition(ctx context.Context, id string, to models.HoldStatus, guard Guard, now time.Time) (*models.Hold, bool, error)
	// Restore moves a hold back from `from` to active. Used to compensate a
	// transition whose ledger work was rolled back.
	Restore(ctx context.Context, id string, from models.HoldStatus, now time.Time) error
	// Extend moves expires_at while the hold is active and unexpired.
	Extend(ctx context.Context, id string, expiresAt, now time.Time) (*models.Hold, bool, error)
	Delete(ctx context.Context, id string) error
	// DueForExpiry lists active holds whose expiry is at or before now.
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error)
	// Purge drops terminal holds last touched before the cutoff.
	Purge(ctx context.Context, before time.Time) (int, error)
}

// Catalog is the read side of ticket types the manager validates against.
type Catalog interface {
	TicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error)
	// SeatedTicketTypes reports which ids have seats mapped to them for the event.
	SeatedTicketTypes(ctx context.Context, eventID string, ids []string) (map[string]bool, error)
}

// Resolver maps a selected seat to its ticket type.
type Resolver interface {
	ResolveSeat(ctx context.Context, eventID, seatID string) (string, error)
}

// Observer is told about every won transition, after the fact.
type Observer interface {
	HoldTransitioned(ctx context.Context, h *models.Hold, to models.HoldStatus)
}
