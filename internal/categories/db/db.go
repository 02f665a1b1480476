package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) idb(ctx context.Context) bun.IDB {
	return database.IDB(ctx, d.Bun)
}

func (d *DB) ReplaceMappings(ctx context.Context, eventID string, mappings []models.CategoryMapping) error {
	return database.WithTx(ctx, d.Bun, func(ctx context.Context) error {
		idb := d.idb(ctx)
		if _, err := idb.NewDelete().Model((*models.CategoryMapping)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear mappings: %w", err)
		}
		if len(mappings) == 0 {
			return nil
		}
		if _, err := idb.NewInsert().Model(&mappings).Exec(ctx); err != nil {
			return fmt.Errorf("insert mappings: %w", err)
		}
		return seatsWithinCapacity(ctx, idb, eventID)
	})
}

// seatsWithinCapacity refuses a mapping that routes more seats to a ticket type
// than its capacity.
func seatsWithinCapacity(ctx context.Context, idb bun.IDB, eventID string) error {
	var over []struct {
		TicketTypeID string `bun:"ticket_type_id"`
		Capacity     int    `bun:"capacity"`
		Seats        int    `bun:"seats"`
	}
	err := idb.NewSelect().
		TableExpr("category_mappings AS cm").
		ColumnExpr("cm.ticket_type_id, tt.capacity, COUNT(*) AS seats").
		Join("JOIN seats AS s ON s.event_id = cm.event_id AND s.category_key = cm.category_key").
		Join("JOIN ticket_types AS tt ON tt.id = cm.ticket_type_id").
		Where("cm.event_id = ?", eventID).
		GroupExpr("cm.ticket_type_id, tt.capacity").
		Having("COUNT(*) > tt.capacity").
		Scan(ctx, &over)
	if err != nil {
		return fmt.Errorf("count mapped seats: %w", err)
	}
	if len(over) > 0 {
		return fmt.Errorf("ticket type %s would sell %d seats with capacity %d: %w",
			over[0].TicketTypeID, over[0].Seats, over[0].Capacity, models.ErrInvalidInput)
	}
	return nil
}

func (d *DB) Mapping(ctx context.Context, eventID, categoryKey string) (*models.CategoryMapping, error) {
	mp := new(models.CategoryMapping)
	err := d.idb(ctx).NewSelect().Model(mp).
		Where("event_id = ?", eventID).
		Where("category_key = ?", categoryKey).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return mp, err
}

func (d *DB) Mappings(ctx context.Context, eventID string) ([]models.CategoryMapping, error) {
	var out []models.CategoryMapping
	err := d.idb(ctx).NewSelect().Model(&out).
		Where("event_id = ?", eventID).
		Order("category_key ASC").
		Scan(ctx)
	return out, err
}

func (d *DB) TicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error) {
	var out []models.TicketType
	if len(ids) == 0 {
		return out, nil
	}
	err := d.idb(ctx).NewSelect().Model(&out).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	return out, err
}

func (d *DB) SeatedTicketTypes(ctx context.Context, eventID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var seated []string
	err := d.idb(ctx).NewSelect().
		TableExpr("category_mappings AS cm").
		ColumnExpr("DISTINCT cm.ticket_type_id").
		Join("JOIN seats AS s ON s.event_id = cm.event_id AND s.category_key = cm.category_key").
		Where("cm.event_id = ?", eventID).
		Where("cm.ticket_type_id IN (?)", bun.In(ids)).
		Scan(ctx, &seated)
	if err != nil {
		return nil, err
	}
	for _, id := range seated {
		out[id] = true
	}
	return out, nil
}

// ChartForEvent returns the latest chart published for the event, or nil.
func (d *DB) ChartForEvent(ctx context.Context, eventID string) (*models.Chart, error) {
	chart := new(models.Chart)
	err := d.idb(ctx).NewSelect().Model(chart).
		Where("event_id = ?", eventID).
		Order("published_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chart, nil
}

func (d *DB) SaveChart(ctx context.Context, chart *models.Chart) error {
	_, err := d.idb(ctx).NewInsert().Model(chart).
		On("CONFLICT (chart_key) DO UPDATE").
		Set("venue_id = EXCLUDED.venue_id").
		Set("event_id = EXCLUDED.event_id").
		Set("category_keys = EXCLUDED.category_keys").
		Set("published_at = EXCLUDED.published_at").
		Exec(ctx)
	return err
}

func (d *DB) Seat(ctx context.Context, eventID, seatID string) (*models.Seat, error) {
	seat := new(models.Seat)
	err := d.idb(ctx).NewSelect().Model(seat).
		Where("id = ?", seatID).
		Where("event_id = ?", eventID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("seat %s: %w", seatID, models.ErrNotFound)
	}
	return seat, err
}
