package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

// Order is the durable record created from a held cart.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID             string       `bun:"id,pk" json:"id"`
	OrderNumber    string       `bun:"order_number,notnull,unique" json:"order_number"`
	BuyerID        string       `bun:"buyer_id,notnull" json:"buyer_id"`
	EventID        string       `bun:"event_id,notnull" json:"event_id"`
	HoldID         string       `bun:"hold_id,notnull" json:"hold_id"`
	Status         OrderStatus  `bun:"status,notnull" json:"status"`
	Subtotal       int64        `bun:"subtotal,notnull" json:"subtotal"`
	Discount       int64        `bun:"discount,notnull" json:"discount"`
	Fees           int64        `bun:"fees,notnull" json:"fees"`
	OrganizerFees  int64        `bun:"organizer_fees,notnull" json:"organizer_fees"`
	Total          int64        `bun:"total,notnull" json:"total"`
	Currency       string       `bun:"currency,notnull" json:"currency"`
	PromoCodeID    string       `bun:"promo_code_id,nullzero" json:"promo_code_id,omitempty"`
	PromoCode      string       `bun:"promo_code,nullzero" json:"promo_code,omitempty"`
	PaymentRef     string       `bun:"payment_ref,nullzero" json:"payment_ref,omitempty"`
	BuyerName      string       `bun:"buyer_name" json:"buyer_name"`
	BuyerEmail     string       `bun:"buyer_email" json:"buyer_email"`
	BuyerPhone     string       `bun:"buyer_phone,nullzero" json:"buyer_phone,omitempty"`
	FeeBreakdown   []FeeLine    `bun:"fee_breakdown" json:"fee_breakdown"`
	RefundedAmount int64        `bun:"refunded_amount,notnull,default:0" json:"refunded_amount"`
	CreatedAt      time.Time    `bun:"created_at,notnull" json:"created_at"`
	PaidAt         time.Time    `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	CancelledAt    time.Time    `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
	RefundedAt     time.Time    `bun:"refunded_at,nullzero" json:"refunded_at,omitempty"`
	RestockedAt    time.Time    `bun:"restocked_at,nullzero" json:"restocked_at,omitempty"`
	Items          []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

// OrderItem snapshots price and discount so later price changes never rewrite history.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string `bun:"id,pk" json:"id"`
	OrderID      string `bun:"order_id,notnull" json:"order_id"`
	TicketTypeID string `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	SeatID       string `bun:"seat_id,nullzero" json:"seat_id,omitempty"`
	Quantity     int    `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    int64  `bun:"unit_price,notnull" json:"unit_price"`
	Discount     int64  `bun:"discount,notnull" json:"discount"`
	Subtotal     int64  `bun:"subtotal,notnull" json:"subtotal"`
}

// BuyerInfo is the contact data captured at checkout.
type BuyerInfo struct {
	BuyerID string `json:"buyer_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
}

// OrderTransition is the audit trail of the order state machine.
type OrderTransition struct {
	bun.BaseModel `bun:"table:order_transitions"`

	ID        int64       `bun:"id,pk,autoincrement" json:"id"`
	OrderID   string      `bun:"order_id,notnull" json:"order_id"`
	From      OrderStatus `bun:"from_status,notnull" json:"from"`
	To        OrderStatus `bun:"to_status,notnull" json:"to"`
	Reason    string      `bun:"reason" json:"reason,omitempty"`
	CreatedAt time.Time   `bun:"created_at,notnull" json:"created_at"`
}

type SettlementKind string

const (
	SettlementPayment SettlementKind = "payment"
	SettlementRefund  SettlementKind = "refund"
)

// Settlement records money movement for an order.
type Settlement struct {
	bun.BaseModel `bun:"table:settlements"`

	ID        string         `bun:"id,pk" json:"id"`
	OrderID   string         `bun:"order_id,notnull" json:"order_id"`
	Kind      SettlementKind `bun:"kind,notnull" json:"kind"`
	Amount    int64          `bun:"amount,notnull" json:"amount"`
	Currency  string         `bun:"currency,notnull" json:"currency"`
	Reference string         `bun:"reference" json:"reference,omitempty"`
	CreatedAt time.Time      `bun:"created_at,notnull" json:"created_at"`
}

type ReconciliationStatus string

const (
	ReconciliationOpen     ReconciliationStatus = "open"
	ReconciliationResolved ReconciliationStatus = "resolved"
)

// ReconciliationCase is raised when money arrived for inventory the system no longer holds.
type ReconciliationCase struct {
	bun.BaseModel `bun:"table:reconciliation_cases"`

	ID         string               `bun:"id,pk" json:"id"`
	OrderID    string               `bun:"order_id,notnull" json:"order_id"`
	HoldID     string               `bun:"hold_id,notnull" json:"hold_id"`
	PaymentRef string               `bun:"payment_ref" json:"payment_ref"`
	Reason     string               `bun:"reason,notnull" json:"reason"`
	Status     ReconciliationStatus `bun:"status,notnull" json:"status"`
	Resolution string               `bun:"resolution,nullzero" json:"resolution,omitempty"`
	CreatedAt  time.Time            `bun:"created_at,notnull" json:"created_at"`
	ResolvedAt time.Time            `bun:"resolved_at,nullzero" json:"resolved_at,omitempty"`
}
