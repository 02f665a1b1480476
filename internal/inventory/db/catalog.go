package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-checkout/internal/database"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/models"
)

const opCapacity = "capacity"

// SaveTicketType creates a ticket type or edits its descriptive fields and capacity.
// The sold and held counters are never written here; a capacity below what is
// already sold or held is refused.
func (l *Ledger) SaveTicketType(ctx context.Context, tt *models.TicketType) error {
	switch {
	case tt.EventID == "" || tt.Name == "" || tt.Currency == "":
		return fmt.Errorf("ticket type needs event, name and currency: %w", models.ErrInvalidInput)
	case tt.Capacity < 0 || tt.UnitPrice < 0:
		return fmt.Errorf("ticket type %s: negative capacity or price: %w", tt.Name, models.ErrInvalidInput)
	case tt.MaxPerOrder > 0 && tt.MinPerOrder > tt.MaxPerOrder:
		return fmt.Errorf("ticket type %s: min per order above max: %w", tt.Name, models.ErrInvalidInput)
	}
	if tt.ID == "" {
		tt.ID = uuid.NewString()
	}
	now := l.clock.Now()

	return database.WithTx(ctx, l.db, func(ctx context.Context) error {
		idb := database.IDB(ctx, l.db)

		exists, err := idb.NewSelect().Model((*models.TicketType)(nil)).Where("id = ?", tt.ID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("lookup ticket type %s: %w", tt.ID, err)
		}

		if !exists {
			tt.Sold, tt.Held = 0, 0
			tt.CreatedAt = now
			if _, err := idb.NewInsert().Model(tt).Exec(ctx); err != nil {
				return fmt.Errorf("insert ticket type %s: %w", tt.ID, err)
			}
		} else {
			n, err := affected(idb.NewUpdate().Model(tt).
				Column("name", "sku", "unit_price", "currency", "capacity", "min_per_order", "max_per_order",
					"sale_starts_at", "sale_ends_at", "visible", "refundable", "transferable").
				Set("updated_at = ?", now).
				Where("id = ?", tt.ID).
				Where("event_id = ?", tt.EventID).
				Where("sold + held <= ?", tt.Capacity).
				Exec(ctx))
			if err != nil {
				return fmt.Errorf("update ticket type %s: %w", tt.ID, err)
			}
			if n == 0 {
				if err := l.ticketTypeExists(ctx, idb, tt.EventID, tt.ID); err != nil {
					return err
				}
				return fmt.Errorf("capacity %d of %s is below units sold or held: %w", tt.Capacity, tt.ID, models.ErrInvalidInput)
			}
			if err := seatOverflow(ctx, idb, tt.EventID); err != nil {
				return err
			}
		}

		l.log.LogLedger(opCapacity, tt.EventID+"/"+tt.ID, fmt.Sprintf("capacity=%d", tt.Capacity))
		return l.emit(ctx, idb, opCapacity, []inventory.Line{{Key: inventory.Key{EventID: tt.EventID, TicketTypeID: tt.ID}}})
	})
}

// TicketTypes lists an event's ticket types, hidden ones included.
func (l *Ledger) TicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error) {
	var out []models.TicketType
	err := database.IDB(ctx, l.db).NewSelect().Model(&out).
		Where("event_id = ?", eventID).
		Order("id ASC").
		Scan(ctx)
	return out, err
}

// AddSeats registers chart seats for an event. New seats start available.
func (l *Ledger) AddSeats(ctx context.Context, eventID string, seats []models.Seat) error {
	if eventID == "" || len(seats) == 0 {
		return fmt.Errorf("event and seats are required: %w", models.ErrInvalidInput)
	}
	now := l.clock.Now()
	for i := range seats {
		s := &seats[i]
		if s.ID == "" || s.CategoryKey == "" {
			return fmt.Errorf("seat %q needs an id and a category: %w", s.Label, models.ErrInvalidInput)
		}
		if s.Label == "" {
			s.Label = s.ID
		}
		s.EventID = eventID
		s.Status = models.SeatAvailable
		s.HolderRef, s.BlockReason = "", ""
		s.UpdatedAt = now
	}

	err := database.WithTx(ctx, l.db, func(ctx context.Context) error {
		idb := database.IDB(ctx, l.db)
		_, err := idb.NewInsert().Model(&seats).Exec(ctx)
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("seat already registered: %w", models.ErrInvalidInput)
		}
		if err != nil {
			return fmt.Errorf("insert seats: %w", err)
		}
		return seatOverflow(ctx, idb, eventID)
	})
	if err != nil {
		return err
	}
	l.log.LogLedger("seats", eventID, fmt.Sprintf("added=%d", len(seats)))
	return nil
}

// seatOverflow fails when more seats of the event map to a ticket type than the
// type has capacity. Seat sales move the type's counters, so the seats must fit.
func seatOverflow(ctx context.Context, idb bun.IDB, eventID string) error {
	var over []struct {
		TicketTypeID string `bun:"ticket_type_id"`
		Capacity     int    `bun:"capacity"`
		Seats        int    `bun:"seats"`
	}
	err := idb.NewSelect().
		TableExpr("seats AS s").
		ColumnExpr("cm.ticket_type_id, tt.capacity, COUNT(*) AS seats").
		Join("JOIN category_mappings AS cm ON cm.event_id = s.event_id AND cm.category_key = s.category_key").
		Join("JOIN ticket_types AS tt ON tt.id = cm.ticket_type_id").
		Where("s.event_id = ?", eventID).
		GroupExpr("cm.ticket_type_id, tt.capacity").
		Having("COUNT(*) > tt.capacity").
		Scan(ctx, &over)
	if err != nil {
		return fmt.Errorf("count mapped seats: %w", err)
	}
	if len(over) > 0 {
		o := over[0]
		return fmt.Errorf("ticket type %s has %d seats but capacity %d: %w", o.TicketTypeID, o.Seats, o.Capacity, models.ErrInvalidInput)
	}
	return nil
}
