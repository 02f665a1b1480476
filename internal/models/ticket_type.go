package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketType is a named, priced category of admission for one event.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID           string    `bun:"id,pk" json:"id"`
	EventID      string    `bun:"event_id,notnull" json:"event_id"`
	Name         string    `bun:"name,notnull" json:"name"`
	SKU          string    `bun:"sku" json:"sku"`
	UnitPrice    int64     `bun:"unit_price,notnull" json:"unit_price"`
	Currency     string    `bun:"currency,notnull" json:"currency"`
	Capacity     int       `bun:"capacity,notnull" json:"capacity"`
	Sold         int       `bun:"sold,notnull,default:0" json:"sold"`
	Held         int       `bun:"held,notnull,default:0" json:"held"`
	MinPerOrder  int       `bun:"min_per_order,notnull,default:0" json:"min_per_order"`
	MaxPerOrder  int       `bun:"max_per_order,notnull,default:0" json:"max_per_order"`
	SaleStartsAt time.Time `bun:"sale_starts_at,nullzero" json:"sale_starts_at,omitempty"`
	SaleEndsAt   time.Time `bun:"sale_ends_at,nullzero" json:"sale_ends_at,omitempty"`
	Visible      bool      `bun:"visible,notnull" json:"visible"`
	Refundable   bool      `bun:"refundable,notnull" json:"refundable"`
	Transferable bool      `bun:"transferable,notnull" json:"transferable"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// Available is derived, never stored.
func (t TicketType) Available() int {
	return t.Capacity - t.Sold - t.Held
}

// OnSale reports whether the sale window includes now. Zero bounds are open.
func (t TicketType) OnSale(now time.Time) bool {
	if !t.Visible {
		return false
	}
	if !t.SaleStartsAt.IsZero() && now.Before(t.SaleStartsAt) {
		return false
	}
	if !t.SaleEndsAt.IsZero() && !now.Before(t.SaleEndsAt) {
		return false
	}
	return true
}
