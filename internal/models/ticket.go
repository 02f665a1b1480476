package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketValid       TicketStatus = "valid"
	TicketUsed        TicketStatus = "used"
	TicketCancelled   TicketStatus = "cancelled"
	TicketTransferred TicketStatus = "transferred"
)

// Ticket is one admission minted for a paid order item.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID            string       `bun:"id,pk" json:"id"`
	OrderID       string       `bun:"order_id,notnull" json:"order_id"`
	OrderItemID   string       `bun:"order_item_id,notnull" json:"order_item_id"`
	EventID       string       `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID  string       `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	SeatID        string       `bun:"seat_id,nullzero" json:"seat_id,omitempty"`
	Code          string       `bun:"code,notnull,unique" json:"code"`
	Payload       string       `bun:"payload,notnull" json:"payload"`
	Status        TicketStatus `bun:"status,notnull" json:"status"`
	AttendeeName  string       `bun:"attendee_name" json:"attendee_name"`
	AttendeeEmail string       `bun:"attendee_email" json:"attendee_email"`
	IssuedAt      time.Time    `bun:"issued_at,notnull" json:"issued_at"`
	UsedAt        time.Time    `bun:"used_at,nullzero" json:"used_at,omitempty"`
	UsedBy        string       `bun:"used_by,nullzero" json:"used_by,omitempty"`
	TransferredTo string       `bun:"transferred_to,nullzero" json:"transferred_to,omitempty"`
}

type ScanReason string

const (
	ScanAccepted         ScanReason = "accepted"
	ScanAlreadyUsed      ScanReason = "already used"
	ScanCancelled        ScanReason = "ticket cancelled"
	ScanTransferred      ScanReason = "ticket transferred"
	ScanInvalidSignature ScanReason = "invalid signature"
	ScanUnknownTicket    ScanReason = "unknown ticket"
)

// ScanResult is what the gate scanner shows.
type ScanResult struct {
	Accepted bool       `json:"accepted"`
	Reason   ScanReason `json:"reason"`
	Ticket   *Ticket    `json:"ticket,omitempty"`
}
