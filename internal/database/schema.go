package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-checkout/internal/models"
)

// Models lists every table the engine owns, in creation order.
func Models() []interface{} {
	return []interface{}{
		(*models.TicketType)(nil),
		(*models.Seat)(nil),
		(*models.CategoryMapping)(nil),
		(*models.Chart)(nil),
		(*models.Hold)(nil),
		(*models.HoldAllocation)(nil),
		(*models.PromoCode)(nil),
		(*models.Fee)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.OrderTransition)(nil),
		(*models.Settlement)(nil),
		(*models.ReconciliationCase)(nil),
		(*models.Ticket)(nil),
	}
}

// CreateSchema builds tables straight from the bun models. Postgres deployments use
// the versioned migrations instead; this serves sqlite and tests.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, m := range Models() {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*models.Seat)(nil), "idx_seats_event_status", []string{"event_id", "status"}},
		{(*models.Hold)(nil), "idx_holds_status_expires", []string{"status", "expires_at"}},
		{(*models.HoldAllocation)(nil), "idx_hold_allocations_holder", []string{"holder_ref"}},
		{(*models.HoldAllocation)(nil), "idx_hold_allocations_expires", []string{"expires_at"}},
		{(*models.Order)(nil), "idx_orders_hold", []string{"hold_id"}},
		{(*models.OrderItem)(nil), "idx_order_items_order", []string{"order_id"}},
		{(*models.Ticket)(nil), "idx_tickets_order", []string{"order_id"}},
		{(*models.TicketType)(nil), "idx_ticket_types_event", []string{"event_id"}},
	}
	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
