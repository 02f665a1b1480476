package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-checkout/internal/clock"
	"ms-checkout/internal/database"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

const (
	opReserve = "reserve"
	opCommit  = "commit"
	opRelease = "release"
	opRestock = "restock"
	opBlock   = "block"
	opUnblock = "unblock"
)

// Ledger keeps the counters in SQL. Each movement is one conditional UPDATE whose
// WHERE clause carries the precondition, so concurrent callers never lose updates.
type Ledger struct {
	db       *bun.DB
	clock    clock.Clock
	log      *logger.Logger
	notifier inventory.Notifier
}

func NewLedger(db *bun.DB, clk clock.Clock, log *logger.Logger, notifier inventory.Notifier) *Ledger {
	if notifier == nil {
		notifier = inventory.Fanout()
	}
	return &Ledger{db: db, clock: clk, log: log, notifier: notifier}
}

var _ inventory.Ledger = (*Ledger)(nil)

func (l *Ledger) Reserve(ctx context.Context, lines []inventory.Line) error {
	return l.apply(ctx, opReserve, lines, l.reserveLine)
}

func (l *Ledger) Commit(ctx context.Context, lines []inventory.Line) error {
	return l.apply(ctx, opCommit, lines, l.commitLine)
}

func (l *Ledger) Release(ctx context.Context, lines []inventory.Line) error {
	return l.apply(ctx, opRelease, lines, l.releaseLine)
}

func (l *Ledger) Restock(ctx context.Context, lines []inventory.Line) error {
	return l.apply(ctx, opRestock, lines, l.restockLine)
}

func (l *Ledger) apply(ctx context.Context, op string, lines []inventory.Line, fn func(context.Context, bun.IDB, inventory.Line) error) error {
	sorted, err := inventory.Normalize(lines)
	if err != nil {
		return err
	}

	return database.WithTx(ctx, l.db, func(ctx context.Context) error {
		idb := database.IDB(ctx, l.db)
		for _, line := range sorted {
			if err := fn(ctx, idb, line); err != nil {
				if errors.Is(err, models.ErrInvalidState) {
					l.log.Invariant(fmt.Sprintf("%s %s x%d: %v", op, line.Key, line.Quantity, err))
				}
				return err
			}
			l.log.LogLedger(op, line.Key.String(), fmt.Sprintf("qty=%d", line.Quantity))
		}
		return l.emit(ctx, idb, op, sorted)
	})
}

func (l *Ledger) reserveLine(ctx context.Context, idb bun.IDB, line inventory.Line) error {
	now := l.clock.Now()

	if line.SeatID != "" {
		q := idb.NewUpdate().Model((*models.Seat)(nil)).
			Set("status = ?", models.SeatHeld).
			Set("holder_ref = ?", line.HolderRef).
			Set("updated_at = ?", now).
			Where("id = ?", line.SeatID).
			Where("event_id = ?", line.EventID).
			Where("status = ?", models.SeatAvailable)
		if !line.HoldExpiresAt.IsZero() {
			q = q.Set("hold_expires_at = ?", line.HoldExpiresAt)
		}
		n, err := affected(q.Exec(ctx))
		if err != nil {
			return fmt.Errorf("reserve seat %s: %w", line.SeatID, err)
		}
		if n == 0 {
			if err := l.seatExists(ctx, idb, line.EventID, line.SeatID); err != nil {
				return err
			}
			return fmt.Errorf("seat %s is taken: %w", line.SeatID, models.ErrInsufficientCapacity)
		}
	}

	n, err := affected(idb.NewUpdate().Model((*models.TicketType)(nil)).
		Set("held = held + ?", line.Quantity).
		Set("updated_at = ?", now).
		Where("id = ?", line.TicketTypeID).
		Where("event_id = ?", line.EventID).
		Where("capacity - sold - held >= ?", line.Quantity).
		Exec(ctx))
	if err != nil {
		return fmt.Errorf("reserve %s: %w", line.Key, err)
	}
	if n == 0 {
		if err := l.ticketTypeExists(ctx, idb, line.EventID, line.TicketTypeID); err != nil {
			return err
		}
		return fmt.Errorf("reserve %s x%d: %w", line.Key, line.Quantity, models.ErrInsufficientCapacity)
	}
	return l.journal(ctx, idb, line)
}

// journal records units taken on behalf of a holder. Lines without a holder are
// administrative and leave no trace.
func (l *Ledger) journal(ctx context.Context, idb bun.IDB, line inventory.Line) error {
	if line.HolderRef == "" {
		return nil
	}
	now := l.clock.Now()
	expires := line.HoldExpiresAt
	if expires.IsZero() {
		expires = now
	}
	_, err := idb.NewInsert().Model(&models.HoldAllocation{
		ID:           uuid.NewString(),
		HolderRef:    line.HolderRef,
		EventID:      line.EventID,
		TicketTypeID: line.TicketTypeID,
		SeatID:       line.SeatID,
		Quantity:     line.Quantity,
		ExpiresAt:    expires,
		CreatedAt:    now,
	}).Exec(ctx)
	if err != nil {
		return fmt.Errorf("journal %s for %s: %w", line.Key, line.HolderRef, err)
	}
	return nil
}

func unjournal(ctx context.Context, idb bun.IDB, line inventory.Line) error {
	if line.HolderRef == "" {
		return nil
	}
	_, err := idb.NewDelete().Model((*models.HoldAllocation)(nil)).
		Where("holder_ref = ?", line.HolderRef).
		Where("event_id = ?", line.EventID).
		Where("ticket_type_id = ?", line.TicketTypeID).
		Where("seat_id = ?", line.SeatID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear journal %s for %s: %w", line.Key, line.HolderRef, err)
	}
	return nil
}

func (l *Ledger) commitLine(ctx context.Context, idb bun.IDB, line inventory.Line) error {
	now := l.clock.Now()

	if line.SeatID != "" {
		q := idb.NewUpdate().Model((*models.Seat)(nil)).
			Set("status = ?", models.SeatSold).
			Set("hold_expires_at = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", line.SeatID).
			Where("event_id = ?", line.EventID).
			Where("status = ?", models.SeatHeld)
		if line.HolderRef != "" {
			q = q.Where("holder_ref = ?", line.HolderRef)
		}
		n, err := affected(q.Exec(ctx))
		if err != nil {
			return fmt.Errorf("commit seat %s: %w", line.SeatID, err)
		}
		if n == 0 {
			return fmt.Errorf("commit seat %s not held by %q: %w", line.SeatID, line.HolderRef, models.ErrInvalidState)
		}
	}

	n, err := affected(idb.NewUpdate().Model((*models.TicketType)(nil)).
		Set("held = held - ?", line.Quantity).
		Set("sold = sold + ?", line.Quantity).
		Set("updated_at = ?", now).
		Where("id = ?", line.TicketTypeID).
		Where("event_id = ?", line.EventID).
		Where("held >= ?", line.Quantity).
		Exec(ctx))
	if err != nil {
		return fmt.Errorf("commit %s: %w", line.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("commit %s x%d exceeds held: %w", line.Key, line.Quantity, models.ErrInvalidState)
	}
	return unjournal(ctx, idb, line)
}

func (l *Ledger) releaseLine(ctx context.Context, idb bun.IDB, line inventory.Line) error {
	now := l.clock.Now()

	if line.SeatID != "" {
		q := idb.NewUpdate().Model((*models.Seat)(nil)).
			Set("status = ?", models.SeatAvailable).
			Set("holder_ref = NULL").
			Set("hold_expires_at = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", line.SeatID).
			Where("event_id = ?", line.EventID).
			Where("status = ?", models.SeatHeld)
		if line.HolderRef != "" {
			q = q.Where("holder_ref = ?", line.HolderRef)
		}
		n, err := affected(q.Exec(ctx))
		if err != nil {
			return fmt.Errorf("release seat %s: %w", line.SeatID, err)
		}
		if n == 0 {
			return fmt.Errorf("release seat %s not held by %q: %w", line.SeatID, line.HolderRef, models.ErrInvalidState)
		}
	}

	n, err := affected(idb.NewUpdate().Model((*models.TicketType)(nil)).
		Set("held = held - ?", line.Quantity).
		Set("updated_at = ?", now).
		Where("id = ?", line.TicketTypeID).
		Where("event_id = ?", line.EventID).
		Where("held >= ?", line.Quantity).
		Exec(ctx))
	if err != nil {
		return fmt.Errorf("release %s: %w", line.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s x%d exceeds held: %w", line.Key, line.Quantity, models.ErrInvalidState)
	}
	return unjournal(ctx, idb, line)
}

func (l *Ledger) restockLine(ctx context.Context, idb bun.IDB, line inventory.Line) error {
	now := l.clock.Now()

	if line.SeatID != "" {
		n, err := affected(idb.NewUpdate().Model((*models.Seat)(nil)).
			Set("status = ?", models.SeatAvailable).
			Set("holder_ref = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", line.SeatID).
			Where("event_id = ?", line.EventID).
			Where("status = ?", models.SeatSold).
			Exec(ctx))
		if err != nil {
			return fmt.Errorf("restock seat %s: %w", line.SeatID, err)
		}
		if n == 0 {
			return fmt.Errorf("restock seat %s is not sold: %w", line.SeatID, models.ErrInvalidState)
		}
	}

	n, err := affected(idb.NewUpdate().Model((*models.TicketType)(nil)).
		Set("sold = sold - ?", line.Quantity).
		Set("updated_at = ?", now).
		Where("id = ?", line.TicketTypeID).
		Where("event_id = ?", line.EventID).
		Where("sold >= ?", line.Quantity).
		Exec(ctx))
	if err != nil {
		return fmt.Errorf("restock %s: %w", line.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("restock %s x%d exceeds sold: %w", line.Key, line.Quantity, models.ErrInvalidState)
	}
	return nil
}

func (l *Ledger) ExtendSeatHolds(ctx context.Context, holderRef string, expiresAt time.Time) error {
	return database.WithTx(ctx, l.db, func(ctx context.Context) error {
		idb := database.IDB(ctx, l.db)
		_, err := idb.NewUpdate().Model((*models.Seat)(nil)).
			Set("hold_expires_at = ?", expiresAt).
			Set("updated_at = ?", l.clock.Now()).
			Where("holder_ref = ?", holderRef).
			Where("status = ?", models.SeatHeld).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("extend seat holds of %s: %w", holderRef, err)
		}
		_, err = idb.NewUpdate().Model((*models.HoldAllocation)(nil)).
			Set("expires_at = ?", expiresAt).
			Where("holder_ref = ?", holderRef).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("extend journal of %s: %w", holderRef, err)
		}
		return nil
	})
}

// StaleHolders lists holders that still have journaled units although their hold
// lapsed at or before the cutoff.
func (l *Ledger) StaleHolders(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var refs []string
	err := database.IDB(ctx, l.db).NewSelect().Model((*models.HoldAllocation)(nil)).
		ColumnExpr("DISTINCT holder_ref").
		Where("expires_at <= ?", before).
		OrderExpr("holder_ref ASC").
		Limit(limit).
		Scan(ctx, &refs)
	if err != nil {
		return nil, fmt.Errorf("list stale holders: %w", err)
	}
	return refs, nil
}

var errJournalMoved = errors.New("journal changed concurrently")

// ReleaseHolder returns every unit journaled for holderRef to available and reports
// how many units moved. The journal rows are claimed before the counters move, so a
// holder whose own transition commits meanwhile is left alone.
func (l *Ledger) ReleaseHolder(ctx context.Context, holderRef string) (int, error) {
	released := 0
	err := database.WithTx(ctx, l.db, func(ctx context.Context) error {
		idb := database.IDB(ctx, l.db)

		var rows []models.HoldAllocation
		if err := idb.NewSelect().Model(&rows).Where("holder_ref = ?", holderRef).Scan(ctx); err != nil {
			return fmt.Errorf("load journal of %s: %w", holderRef, err)
		}
		if len(rows) == 0 {
			return nil
		}
		n, err := affected(idb.NewDelete().Model((*models.HoldAllocation)(nil)).
			Where("holder_ref = ?", holderRef).
			Exec(ctx))
		if err != nil {
			return fmt.Errorf("claim journal of %s: %w", holderRef, err)
		}
		if n != int64(len(rows)) {
			return errJournalMoved
		}

		lines := make([]inventory.Line, 0, len(rows))
		for _, r := range rows {
			lines = append(lines, inventory.Line{
				Key:       inventory.Key{EventID: r.EventID, TicketTypeID: r.TicketTypeID, SeatID: r.SeatID},
				Quantity:  r.Quantity,
				HolderRef: holderRef,
			})
			released += r.Quantity
		}
		return l.apply(ctx, opRelease, lines, l.releaseLine)
	})
	if errors.Is(err, errJournalMoved) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return released, nil
}

// Block takes an available seat out of sale. Blocking a blocked seat is a no-op.
func (l *Ledger) Block(ctx context.Context, eventID, seatID, reason string) error {
	return l.toggleBlock(ctx, opBlock, eventID, seatID, reason)
}

// Unblock returns a blocked seat to sale. Unblocking an available seat is a no-op.
func (l *Ledger) Unblock(ctx context.Context, eventID, seatID string) error {
	return l.toggleBlock(ctx, opUnblock, eventID, seatID, "")
}

func (l *Ledger) toggleBlock(ctx context.Context, op, eventID, seatID, reason string) error {
	from, to := models.SeatAvailable, models.SeatBlocked
	if op == opUnblock {
		from, to = models.SeatBlocked, models.SeatAvailable
	}

	return database.WithTx(ctx, l.db, func(ctx context.Context) error {
		idb := database.IDB(ctx, l.db)

		q := idb.NewUpdate().Model((*models.Seat)(nil)).
			Set("status = ?", to).
			Set("updated_at = ?", l.clock.Now()).
			Where("id = ?", seatID).
			Where("event_id = ?", eventID).
			Where("status = ?", from)
		if op == opBlock {
			q = q.Set("block_reason = ?", reason)
		} else {
			q = q.Set("block_reason = NULL")
		}

		n, err := affected(q.Exec(ctx))
		if err != nil {
			return fmt.Errorf("%s seat %s: %w", op, seatID, err)
		}
		if n == 0 {
			seat, err := l.loadSeat(ctx, idb, eventID, seatID)
			if err != nil {
				return err
			}
			if seat.Status == to {
				return nil
			}
			return fmt.Errorf("%s seat %s in status %s: %w", op, seatID, seat.Status, models.ErrSeatNotAvailable)
		}

		l.log.LogLedger(op, eventID+"/"+seatID, reason)
		evt := models.AvailabilityChanged{
			EventID:   eventID,
			Operation: op,
			Seats:     []models.SeatStatusSnapshot{{SeatID: seatID, Status: to}},
			At:        l.clock.Now(),
		}
		database.AfterCommit(ctx, func(ctx context.Context) {
			l.notifier.AvailabilityChanged(ctx, evt)
		})
		return nil
	})
}

// Availability is the read-side breakdown for one event.
func (l *Ledger) Availability(ctx context.Context, eventID string) (*models.AvailabilitySummary, error) {
	idb := database.IDB(ctx, l.db)

	var types []models.TicketType
	if err := idb.NewSelect().Model(&types).
		Where("event_id = ?", eventID).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("load ticket types: %w", err)
	}

	summary := &models.AvailabilitySummary{EventID: eventID, TicketTypes: make([]models.TicketTypeCounts, 0, len(types))}
	for _, t := range types {
		summary.TicketTypes = append(summary.TicketTypes, counts(t))
	}

	var rows []struct {
		Status models.SeatStatus `bun:"status"`
		Count  int               `bun:"count"`
	}
	if err := idb.NewSelect().Model((*models.Seat)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("count seats: %w", err)
	}
	for _, r := range rows {
		switch r.Status {
		case models.SeatAvailable:
			summary.Seats.Available = r.Count
		case models.SeatHeld:
			summary.Seats.Held = r.Count
		case models.SeatSold:
			summary.Seats.Sold = r.Count
		case models.SeatBlocked:
			summary.Seats.Blocked = r.Count
		}
	}
	return summary, nil
}

// emit snapshots the touched buckets inside the transaction and publishes after commit.
func (l *Ledger) emit(ctx context.Context, idb bun.IDB, op string, lines []inventory.Line) error {
	byEvent := map[string]*models.AvailabilityChanged{}
	typeIDs := map[string]map[string]struct{}{}

	for _, line := range lines {
		evt, ok := byEvent[line.EventID]
		if !ok {
			evt = &models.AvailabilityChanged{EventID: line.EventID, Operation: op, At: l.clock.Now()}
			byEvent[line.EventID] = evt
			typeIDs[line.EventID] = map[string]struct{}{}
		}
		typeIDs[line.EventID][line.TicketTypeID] = struct{}{}
		if line.SeatID != "" {
			evt.Seats = append(evt.Seats, models.SeatStatusSnapshot{SeatID: line.SeatID, Status: seatStatusAfter(op)})
		}
	}

	eventIDs := make([]string, 0, len(byEvent))
	for id := range byEvent {
		eventIDs = append(eventIDs, id)
	}
	sort.Strings(eventIDs)

	for _, eventID := range eventIDs {
		ids := make([]string, 0, len(typeIDs[eventID]))
		for id := range typeIDs[eventID] {
			ids = append(ids, id)
		}
		var types []models.TicketType
		if err := idb.NewSelect().Model(&types).
			Where("event_id = ?", eventID).
			Where("id IN (?)", bun.In(ids)).
			Order("id ASC").
			Scan(ctx); err != nil {
			return fmt.Errorf("snapshot ticket types: %w", err)
		}
		evt := byEvent[eventID]
		for _, t := range types {
			if t.Available() < 0 {
				l.log.Invariant(fmt.Sprintf("ticket type %s available=%d after %s", t.ID, t.Available(), op))
				return fmt.Errorf("ticket type %s: %w", t.ID, models.ErrInvalidState)
			}
			evt.TicketTypes = append(evt.TicketTypes, counts(t))
		}

		snapshot := *evt
		database.AfterCommit(ctx, func(ctx context.Context) {
			l.notifier.AvailabilityChanged(ctx, snapshot)
		})
	}
	return nil
}

func seatStatusAfter(op string) models.SeatStatus {
	switch op {
	case opReserve:
		return models.SeatHeld
	case opCommit:
		return models.SeatSold
	default:
		return models.SeatAvailable
	}
}

func counts(t models.TicketType) models.TicketTypeCounts {
	return models.TicketTypeCounts{
		TicketTypeID: t.ID,
		Capacity:     t.Capacity,
		Available:    t.Available(),
		Held:         t.Held,
		Sold:         t.Sold,
	}
}

func (l *Ledger) ticketTypeExists(ctx context.Context, idb bun.IDB, eventID, id string) error {
	exists, err := idb.NewSelect().Model((*models.TicketType)(nil)).
		Where("id = ?", id).
		Where("event_id = ?", eventID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("lookup ticket type %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("ticket type %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (l *Ledger) seatExists(ctx context.Context, idb bun.IDB, eventID, seatID string) error {
	_, err := l.loadSeat(ctx, idb, eventID, seatID)
	return err
}

func (l *Ledger) loadSeat(ctx context.Context, idb bun.IDB, eventID, seatID string) (*models.Seat, error) {
	seat := new(models.Seat)
	err := idb.NewSelect().Model(seat).
		Where("id = ?", seatID).
		Where("event_id = ?", eventID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("seat %s: %w", seatID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load seat %s: %w", seatID, err)
	}
	return seat, nil
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
