// Package dbstore keeps holds in the relational database next to the ledger, so a
// hold transition and its ledger movement commit together.
package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-checkout/internal/database"
	"ms-checkout/internal/holds"
	"ms-checkout/internal/models"
)

type Store struct {
	db *bun.DB
}

func New(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ holds.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, h *models.Hold) error {
	_, err := database.IDB(ctx, s.db).NewInsert().Model(h).Exec(ctx)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.Hold, error) {
	h := new(models.Hold)
	err := database.IDB(ctx, s.db).NewSelect().Model(h).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hold %s: %w", id, models.ErrHoldNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load hold %s: %w", id, err)
	}
	return h, nil
}

func (s *Store) Transition(ctx context.Context, id string, to models.HoldStatus, guard holds.Guard, now time.Time) (*models.Hold, bool, error) {
	q := database.IDB(ctx, s.db).NewUpdate().Model((*models.Hold)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.HoldActive)
	switch guard {
	case holds.GuardNotExpired:
		q = q.Where("expires_at > ?", now)
	case holds.GuardExpired:
		q = q.Where("expires_at <= ?", now)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("transition hold %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return h, n == 1, nil
}

func (s *Store) Restore(ctx context.Context, id string, from models.HoldStatus, now time.Time) error {
	_, err := database.IDB(ctx, s.db).NewUpdate().Model((*models.Hold)(nil)).
		Set("status = ?", models.HoldActive).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	return err
}

func (s *Store) Extend(ctx context.Context, id string, expiresAt, now time.Time) (*models.Hold, bool, error) {
	res, err := database.IDB(ctx, s.db).NewUpdate().Model((*models.Hold)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.HoldActive).
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("extend hold %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return h, n == 1, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := database.IDB(ctx, s.db).NewDelete().Model((*models.Hold)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

func (s *Store) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := database.IDB(ctx, s.db).NewSelect().Model((*models.Hold)(nil)).
		Column("id").
		Where("status = ?", models.HoldActive).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, err
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := database.IDB(ctx, s.db).NewDelete().Model((*models.Hold)(nil)).
		Where("status != ?", models.HoldActive).
		Where("updated_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
