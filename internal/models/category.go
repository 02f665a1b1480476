package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CategoryMapping binds a seating-chart zone to a ticket type of one event.
type CategoryMapping struct {
	bun.BaseModel `bun:"table:category_mappings"`

	EventID      string `bun:"event_id,pk" json:"event_id"`
	CategoryKey  string `bun:"category_key,pk" json:"category_key"`
	TicketTypeID string `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
}

// Chart is what the external designer publishes; only the category keys matter here.
type Chart struct {
	bun.BaseModel `bun:"table:charts"`

	ChartKey     string    `bun:"chart_key,pk" json:"chart_key"`
	VenueID      string    `bun:"venue_id" json:"venue_id"`
	EventID      string    `bun:"event_id,nullzero" json:"event_id,omitempty"`
	CategoryKeys []string  `bun:"category_keys" json:"category_keys"`
	PublishedAt  time.Time `bun:"published_at,notnull" json:"published_at"`
}
