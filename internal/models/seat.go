package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatHeld      SeatStatus = "held"
	SeatSold      SeatStatus = "sold"
	SeatBlocked   SeatStatus = "blocked"
)

// Seat is a physical, chart-positioned unit of inventory.
type Seat struct {
	bun.BaseModel `bun:"table:seats"`

	ID            string     `bun:"id,pk" json:"id"`
	EventID       string     `bun:"event_id,notnull" json:"event_id"`
	ChartKey      string     `bun:"chart_key" json:"chart_key"`
	Section       string     `bun:"section" json:"section"`
	Row           string     `bun:"row_label" json:"row"`
	Label         string     `bun:"label,notnull" json:"label"`
	CategoryKey   string     `bun:"category_key,notnull" json:"category_key"`
	Status        SeatStatus `bun:"status,notnull" json:"status"`
	HolderRef     string     `bun:"holder_ref,nullzero" json:"holder_ref,omitempty"`
	HoldExpiresAt time.Time  `bun:"hold_expires_at,nullzero" json:"hold_expires_at,omitempty"`
	BlockReason   string     `bun:"block_reason,nullzero" json:"block_reason,omitempty"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}
