package models

import "time"

// AvailabilityChanged is emitted after every committed ledger mutation.
type AvailabilityChanged struct {
	EventID     string               `json:"event_id"`
	Operation   string               `json:"operation"`
	TicketTypes []TicketTypeCounts   `json:"ticket_types,omitempty"`
	Seats       []SeatStatusSnapshot `json:"seats,omitempty"`
	At          time.Time            `json:"at"`
}

type TicketTypeCounts struct {
	TicketTypeID string `json:"ticket_type_id"`
	Capacity     int    `json:"capacity"`
	Available    int    `json:"available"`
	Held         int    `json:"held"`
	Sold         int    `json:"sold"`
}

type SeatStatusSnapshot struct {
	SeatID string     `json:"seat_id"`
	Status SeatStatus `json:"status"`
}

// AvailabilitySummary is the operator's available/booked/held/blocked breakdown.
type AvailabilitySummary struct {
	EventID     string             `json:"event_id"`
	TicketTypes []TicketTypeCounts `json:"ticket_types"`
	Seats       SeatCounts         `json:"seats"`
}

type SeatCounts struct {
	Available int `json:"available"`
	Held      int `json:"held"`
	Sold      int `json:"sold"`
	Blocked   int `json:"blocked"`
}

// TicketsIssued is consumed by the delivery collaborator.
type TicketsIssued struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	EventID     string    `json:"event_id"`
	BuyerEmail  string    `json:"buyer_email"`
	TicketIDs   []string  `json:"ticket_ids"`
	At          time.Time `json:"at"`
}

// OrderStatusChanged is published for every order transition.
type OrderStatusChanged struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	EventID     string      `json:"event_id"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Total       int64       `json:"total"`
	Currency    string      `json:"currency"`
	At          time.Time   `json:"at"`
}

// PaymentSignal is the abstract "payment succeeded/failed" message.
type PaymentSignal struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Succeeded bool   `json:"succeeded"`
}

// ChartPublished is the designer widget's signal.
type ChartPublished struct {
	ChartKey     string   `json:"chart_key"`
	VenueID      string   `json:"venue_id"`
	EventID      string   `json:"event_id,omitempty"`
	CategoryKeys []string `json:"category_keys"`
}
