package models

import "github.com/uptrace/bun"

type FeeType string

const (
	FeeFixed     FeeType = "fixed"
	FeePercent   FeeType = "percent"
	FeePerTicket FeeType = "per-ticket"
	FeePerOrder  FeeType = "per-order"
)

type FeePayer string

const (
	PayerBuyer     FeePayer = "buyer"
	PayerOrganizer FeePayer = "organizer"
)

// Fee amounts: basis points for percent, minor units otherwise. Cap 0 means uncapped.
// An empty EventID or TicketTypeID widens the scope.
type Fee struct {
	bun.BaseModel `bun:"table:fees"`

	ID           string   `bun:"id,pk" json:"id"`
	Name         string   `bun:"name,notnull" json:"name"`
	Type         FeeType  `bun:"type,notnull" json:"type"`
	Amount       int64    `bun:"amount,notnull" json:"amount"`
	Payer        FeePayer `bun:"payer,notnull" json:"payer"`
	Cap          int64    `bun:"cap,notnull,default:0" json:"cap"`
	EventID      string   `bun:"event_id,nullzero" json:"event_id,omitempty"`
	TicketTypeID string   `bun:"ticket_type_id,nullzero" json:"ticket_type_id,omitempty"`
	Active       bool     `bun:"active,notnull" json:"active"`
}

// FeeLine is the per-fee snapshot stored on an order.
type FeeLine struct {
	FeeID  string   `json:"fee_id"`
	Name   string   `json:"name"`
	Type   FeeType  `json:"type"`
	Payer  FeePayer `json:"payer"`
	Amount int64    `json:"amount"`
}
