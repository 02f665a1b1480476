// Package inventory owns the capacity counters for ticket types and seats.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ms-checkout/internal/models"
)

// Key addresses one ledger bucket. SeatID is empty for general admission.
type Key struct {
	EventID      string
	TicketTypeID string
	SeatID       string
}

func (k Key) String() string {
	if k.SeatID == "" {
		return fmt.Sprintf("%s/%s", k.EventID, k.TicketTypeID)
	}
	return fmt.Sprintf("%s/%s/%s", k.EventID, k.TicketTypeID, k.SeatID)
}

// Line is one ledger movement. Seat lines always move a single unit.
type Line struct {
	Key
	Quantity int
	// HolderRef ties held units to their hold. Reserve journals them under it.
	HolderRef     string
	HoldExpiresAt time.Time
}

// Ledger is the only way capacity counters change. Every call is all-or-nothing
// across its lines.
type Ledger interface {
	// Reserve moves units available -> held.
	Reserve(ctx context.Context, lines []Line) error
	// Commit moves units held -> sold.
	Commit(ctx context.Context, lines []Line) error
	// Release moves units held -> available.
	Release(ctx context.Context, lines []Line) error
	// Restock moves units sold -> available after a refund.
	Restock(ctx context.Context, lines []Line) error
	// ExtendSeatHolds moves the recorded expiry of everything held by holderRef.
	ExtendSeatHolds(ctx context.Context, holderRef string, expiresAt time.Time) error
	// StaleHolders lists holders with units still held past the cutoff.
	StaleHolders(ctx context.Context, before time.Time, limit int) ([]string, error)
	// ReleaseHolder moves every unit still held by holderRef back to available.
	ReleaseHolder(ctx context.Context, holderRef string) (int, error)
	Block(ctx context.Context, eventID, seatID, reason string) error
	Unblock(ctx context.Context, eventID, seatID string) error
	Availability(ctx context.Context, eventID string) (*models.AvailabilitySummary, error)
}

// Notifier receives availability changes once the mutation is committed.
type Notifier interface {
	AvailabilityChanged(ctx context.Context, evt models.AvailabilityChanged)
}

type NotifierFunc func(ctx context.Context, evt models.AvailabilityChanged)

func (f NotifierFunc) AvailabilityChanged(ctx context.Context, evt models.AvailabilityChanged) {
	f(ctx, evt)
}

type multiNotifier []Notifier

func (m multiNotifier) AvailabilityChanged(ctx context.Context, evt models.AvailabilityChanged) {
	for _, n := range m {
		n.AvailabilityChanged(ctx, evt)
	}
}

// Fanout delivers each change to every non-nil notifier in order.
func Fanout(notifiers ...Notifier) Notifier {
	var out multiNotifier
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Normalize validates lines and returns a copy in the fixed lock order.
func Normalize(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("no ledger lines: %w", models.ErrInvalidInput)
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	for _, l := range out {
		if l.EventID == "" || l.TicketTypeID == "" {
			return nil, fmt.Errorf("line %s missing event or ticket type: %w", l.Key, models.ErrInvalidInput)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("line %s quantity %d: %w", l.Key, l.Quantity, models.ErrInvalidInput)
		}
		if l.SeatID != "" && l.Quantity != 1 {
			return nil, fmt.Errorf("seat line %s quantity %d: %w", l.Key, l.Quantity, models.ErrInvalidInput)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		if a.TicketTypeID != b.TicketTypeID {
			return a.TicketTypeID < b.TicketTypeID
		}
		return a.SeatID < b.SeatID
	})
	return out, nil
}
