package models

import (
	"time"

	"github.com/uptrace/bun"
)

type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldConverted HoldStatus = "converted"
	HoldReleased  HoldStatus = "released"
	HoldExpired   HoldStatus = "expired"
)

// Terminal holds never transition again.
func (s HoldStatus) Terminal() bool {
	return s != HoldActive
}

// Hold is a time-bounded reservation of inventory against a cart.
type Hold struct {
	bun.BaseModel `bun:"table:holds"`

	ID          string     `bun:"id,pk" json:"id"`
	RequesterID string     `bun:"requester_id,notnull" json:"requester_id"`
	EventID     string     `bun:"event_id,notnull" json:"event_id"`
	Status      HoldStatus `bun:"status,notnull" json:"status"`
	Items       []HoldItem `bun:"items,notnull" json:"items"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt   time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// HoldItem snapshots the price at reservation time. SeatID is empty for general admission.
type HoldItem struct {
	TicketTypeID string `json:"ticket_type_id"`
	SeatID       string `json:"seat_id,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	Currency     string `json:"currency"`
}

// ExpiredAt reports whether the hold's TTL has elapsed at now.
func (h Hold) ExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Subtotal of the hold at the snapshotted prices.
func (h Hold) Subtotal() int64 {
	var total int64
	for _, it := range h.Items {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}

// HoldAllocation journals the units a hold has taken from the ledger. It is written
// in the ledger's own transactions, so it always agrees with the held counters even
// when the hold itself lives in another store.
type HoldAllocation struct {
	bun.BaseModel `bun:"table:hold_allocations"`

	ID           string    `bun:"id,pk" json:"id"`
	HolderRef    string    `bun:"holder_ref,notnull" json:"holder_ref"`
	EventID      string    `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID string    `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	SeatID       string    `bun:"seat_id,notnull" json:"seat_id,omitempty"`
	Quantity     int       `bun:"quantity,notnull" json:"quantity"`
	ExpiresAt    time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}
