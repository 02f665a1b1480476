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

// DB persists orders, their audit trail and the promo/fee tables read at checkout.
// Every method joins the transaction carried by ctx.
type DB struct {
	Bun *bun.DB
}

func (d *DB) idb(ctx context.Context) bun.IDB {
	return database.IDB(ctx, d.Bun)
}

// ---------------- ORDERS ----------------

// CreateOrder inserts the order and its items.
func (d *DB) CreateOrder(ctx context.Context, o *models.Order) error {
	return database.WithTx(ctx, d.Bun, func(ctx context.Context) error {
		idb := d.idb(ctx)
		if _, err := idb.NewInsert().Model(o).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(o.Items) == 0 {
			return nil
		}
		if _, err := idb.NewInsert().Model(&o.Items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

// GetOrder loads an order with its items.
func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o := new(models.Order)
	err := d.idb(ctx).NewSelect().Model(o).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("ticket_type_id ASC", "seat_id ASC", "id ASC")
		}).
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	return o, nil
}

// OrderByHold returns the live (pending or paid) order backed by the hold, or nil.
func (d *DB) OrderByHold(ctx context.Context, holdID string) (*models.Order, error) {
	o := new(models.Order)
	err := d.idb(ctx).NewSelect().Model(o).
		Where("hold_id = ?", holdID).
		Where("status IN (?)", bun.In([]models.OrderStatus{models.OrderPending, models.OrderPaid})).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// ListOrders returns a buyer's orders, newest first.
func (d *DB) ListOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	var out []models.Order
	err := d.idb(ctx).NewSelect().Model(&out).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Scan(ctx)
	return out, err
}

// UpdateStatus writes the given columns only while the stored status is still
// from. It reports whether this call won the transition.
func (d *DB) UpdateStatus(ctx context.Context, o *models.Order, from models.OrderStatus, columns ...string) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().Model(o).
		Column(append([]string{"status"}, columns...)...).
		Where("id = ?", o.ID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update order %s: %w", o.ID, err)
	}
	return affected(res)
}

// MarkRestocked stamps a refunded order once.
func (d *DB) MarkRestocked(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().Model((*models.Order)(nil)).
		Set("restocked_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.OrderRefunded).
		Where("restocked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("restock order %s: %w", id, err)
	}
	return affected(res)
}

func (d *DB) InsertTransition(ctx context.Context, tr *models.OrderTransition) error {
	_, err := d.idb(ctx).NewInsert().Model(tr).Exec(ctx)
	return err
}

func (d *DB) Transitions(ctx context.Context, orderID string) ([]models.OrderTransition, error) {
	var out []models.OrderTransition
	err := d.idb(ctx).NewSelect().Model(&out).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Scan(ctx)
	return out, err
}

func (d *DB) InsertSettlement(ctx context.Context, s *models.Settlement) error {
	_, err := d.idb(ctx).NewInsert().Model(s).Exec(ctx)
	return err
}

func (d *DB) Settlements(ctx context.Context, orderID string) ([]models.Settlement, error) {
	var out []models.Settlement
	err := d.idb(ctx).NewSelect().Model(&out).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Scan(ctx)
	return out, err
}

// ---------------- PROMOS & FEES ----------------

func (d *DB) PromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	p := new(models.PromoCode)
	err := d.idb(ctx).NewSelect().Model(p).Where("code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("promo %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load promo %s: %w", code, err)
	}
	return p, nil
}

func (d *DB) GetPromo(ctx context.Context, id string) (*models.PromoCode, error) {
	p := new(models.PromoCode)
	err := d.idb(ctx).NewSelect().Model(p).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("promo %s: %w", id, models.ErrNotFound)
	}
	return p, err
}

// PromoUsesByBuyer counts the buyer's paid or refunded orders that redeemed the code.
func (d *DB) PromoUsesByBuyer(ctx context.Context, promoID, buyerID string) (int, error) {
	return d.idb(ctx).NewSelect().Model((*models.Order)(nil)).
		Where("promo_code_id = ?", promoID).
		Where("buyer_id = ?", buyerID).
		Where("status IN (?)", bun.In([]models.OrderStatus{models.OrderPaid, models.OrderRefunded})).
		Count(ctx)
}

// RedeemPromo counts one use, refusing when the global cap is already reached.
func (d *DB) RedeemPromo(ctx context.Context, promoID string) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().Model((*models.PromoCode)(nil)).
		Set("current_uses = current_uses + 1").
		Where("id = ?", promoID).
		Where("active = ?", true).
		Where("(max_uses = 0 OR current_uses < max_uses)").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("redeem promo %s: %w", promoID, err)
	}
	return affected(res)
}

func (d *DB) UpsertPromo(ctx context.Context, p *models.PromoCode) error {
	_, err := d.idb(ctx).NewInsert().Model(p).
		On("CONFLICT (id) DO UPDATE").
		Set("code = EXCLUDED.code").
		Set("event_id = EXCLUDED.event_id").
		Set("type = EXCLUDED.type").
		Set("amount = EXCLUDED.amount").
		Set("max_discount = EXCLUDED.max_discount").
		Set("min_order_value = EXCLUDED.min_order_value").
		Set("valid_from = EXCLUDED.valid_from").
		Set("valid_until = EXCLUDED.valid_until").
		Set("max_uses = EXCLUDED.max_uses").
		Set("max_uses_per_user = EXCLUDED.max_uses_per_user").
		Set("ticket_type_ids = EXCLUDED.ticket_type_ids").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return err
}

// ActiveFees returns the fees that may apply to the event: global ones and its own.
func (d *DB) ActiveFees(ctx context.Context, eventID string) ([]models.Fee, error) {
	var out []models.Fee
	err := d.idb(ctx).NewSelect().Model(&out).
		Where("active = ?", true).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("event_id IS NULL").WhereOr("event_id = ?", eventID)
		}).
		Order("id ASC").
		Scan(ctx)
	return out, err
}

func (d *DB) UpsertFee(ctx context.Context, f *models.Fee) error {
	_, err := d.idb(ctx).NewInsert().Model(f).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("type = EXCLUDED.type").
		Set("amount = EXCLUDED.amount").
		Set("payer = EXCLUDED.payer").
		Set("cap = EXCLUDED.cap").
		Set("event_id = EXCLUDED.event_id").
		Set("ticket_type_id = EXCLUDED.ticket_type_id").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return err
}

// ---------------- RECONCILIATION ----------------

func (d *DB) InsertReconciliationCase(ctx context.Context, c *models.ReconciliationCase) error {
	_, err := d.idb(ctx).NewInsert().Model(c).Exec(ctx)
	return err
}

// OpenCase returns the open case for the order and payment reference, or nil.
func (d *DB) OpenCase(ctx context.Context, orderID, paymentRef string) (*models.ReconciliationCase, error) {
	c := new(models.ReconciliationCase)
	err := d.idb(ctx).NewSelect().Model(c).
		Where("order_id = ?", orderID).
		Where("payment_ref = ?", paymentRef).
		Where("status = ?", models.ReconciliationOpen).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ReconciliationCases lists cases, optionally filtered by status, oldest first.
func (d *DB) ReconciliationCases(ctx context.Context, status models.ReconciliationStatus) ([]models.ReconciliationCase, error) {
	var out []models.ReconciliationCase
	q := d.idb(ctx).NewSelect().Model(&out).Order("created_at ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Scan(ctx)
	return out, err
}

// ResolveCase closes an open case. It reports false when the case is already resolved.
func (d *DB) ResolveCase(ctx context.Context, id, resolution string, at time.Time) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().Model((*models.ReconciliationCase)(nil)).
		Set("status = ?", models.ReconciliationResolved).
		Set("resolution = ?", resolution).
		Set("resolved_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.ReconciliationOpen).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve case %s: %w", id, err)
	}
	ok, err := affected(res)
	if err != nil || ok {
		return ok, err
	}

	exists, err := d.idb(ctx).NewSelect().Model((*models.ReconciliationCase)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("reconciliation case %s: %w", id, models.ErrNotFound)
	}
	return false, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
