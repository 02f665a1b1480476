package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoCode amounts: basis points for percentage (1000 = 10%), minor units for fixed.
type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	ID             string       `bun:"id,pk" json:"id"`
	Code           string       `bun:"code,notnull,unique" json:"code"`
	EventID        string       `bun:"event_id,nullzero" json:"event_id,omitempty"`
	Type           DiscountType `bun:"type,notnull" json:"type"`
	Amount         int64        `bun:"amount,notnull" json:"amount"`
	MaxDiscount    int64        `bun:"max_discount,notnull,default:0" json:"max_discount"`
	MinOrderValue  int64        `bun:"min_order_value,notnull,default:0" json:"min_order_value"`
	ValidFrom      time.Time    `bun:"valid_from,nullzero" json:"valid_from,omitempty"`
	ValidUntil     time.Time    `bun:"valid_until,nullzero" json:"valid_until,omitempty"`
	MaxUses        int          `bun:"max_uses,notnull,default:0" json:"max_uses"`
	MaxUsesPerUser int          `bun:"max_uses_per_user,notnull,default:0" json:"max_uses_per_user"`
	TicketTypeIDs  []string     `bun:"ticket_type_ids" json:"ticket_type_ids,omitempty"`
	Active         bool         `bun:"active,notnull" json:"active"`
	CurrentUses    int          `bun:"current_uses,notnull,default:0" json:"current_uses"`
	CreatedAt      time.Time    `bun:"created_at,notnull" json:"created_at"`
}

// AppliesTo reports whether the code is restricted away from the ticket type.
func (p PromoCode) AppliesTo(ticketTypeID string) bool {
	if len(p.TicketTypeIDs) == 0 {
		return true
	}
	for _, id := range p.TicketTypeIDs {
		if id == ticketTypeID {
			return true
		}
	}
	return false
}
