package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (d *DB) CreateTickets(ctx context.Context, tickets []*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.idb(ctx).NewInsert().Model(&tickets).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	return d.getTicket(ctx, "id = ?", id)
}

func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	return d.getTicket(ctx, "code = ?", code)
}

func (d *DB) getTicket(ctx context.Context, where string, arg string) (*models.Ticket, error) {
	t := new(models.Ticket)
	err := d.idb(ctx).NewSelect().Model(t).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", arg, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", arg, err)
	}
	return t, nil
}

func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var out []models.Ticket
	err := d.idb(ctx).NewSelect().Model(&out).
		Where("order_id = ?", orderID).
		Order("issued_at ASC", "code ASC").
		Scan(ctx)
	return out, err
}

// MarkUsed is the gate's check-then-set: it succeeds for exactly one scanner.
func (d *DB) MarkUsed(ctx context.Context, id, scannerID string, at time.Time) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("used_at = ?", at).
		Set("used_by = ?", scannerID).
		Where("id = ?", id).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark ticket %s used: %w", id, err)
	}
	return affected(res)
}

// MarkTransferred retires a valid ticket in favour of its replacement.
func (d *DB) MarkTransferred(ctx context.Context, id, replacementID string) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketTransferred).
		Set("transferred_to = ?", replacementID).
		Where("id = ?", id).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("transfer ticket %s: %w", id, err)
	}
	return affected(res)
}

// CancelTicketsByOrder voids every ticket of the order that could still be used.
func (d *DB) CancelTicketsByOrder(ctx context.Context, orderID string) (int, error) {
	res, err := d.idb(ctx).NewUpdate().Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketCancelled).
		Where("order_id = ?", orderID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("cancel tickets of order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (d *DB) TicketType(ctx context.Context, id string) (*models.TicketType, error) {
	tt := new(models.TicketType)
	err := d.idb(ctx).NewSelect().Model(tt).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket type %s: %w", id, models.ErrNotFound)
	}
	return tt, err
}

// StatusCount is one row of the per-event ticket tally.
type StatusCount struct {
	Status models.TicketStatus `bun:"status" json:"status"`
	Count  int                 `bun:"count" json:"count"`
}

// CountsByEvent tallies the event's tickets by status.
func (d *DB) CountsByEvent(ctx context.Context, eventID string) ([]StatusCount, error) {
	var out []StatusCount
	err := d.idb(ctx).NewSelect().Model((*models.Ticket)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("status").
		Order("status ASC").
		Scan(ctx, &out)
	return out, err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
