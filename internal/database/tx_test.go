package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
	"ms-checkout/internal/testutil"
)

func TestWithTxCommitRunsHooks(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	var fired []string
	err := database.WithTx(ctx, db, func(ctx context.Context) error {
		assert.True(t, database.InTx(ctx))
		database.AfterCommit(ctx, func(context.Context) { fired = append(fired, "outer") })

		// nested call joins the outer transaction
		return database.WithTx(ctx, db, func(ctx context.Context) error {
			database.AfterCommit(ctx, func(context.Context) { fired = append(fired, "inner") })
			_, err := database.IDB(ctx, db).NewInsert().Model(&models.TicketType{
				ID: "tt-1", EventID: "ev-1", Name: "GA", UnitPrice: 1000, Currency: "USD",
				Capacity: 10, Visible: true, CreatedAt: time.Now(),
			}).Exec(ctx)
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, fired)

	count, err := db.NewSelect().Model((*models.TicketType)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWithTxRollbackDropsHooks(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	fired := false
	err := database.WithTx(ctx, db, func(ctx context.Context) error {
		database.AfterCommit(ctx, func(context.Context) { fired = true })
		_, err := database.IDB(ctx, db).NewInsert().Model(&models.TicketType{
			ID: "tt-1", EventID: "ev-1", Name: "GA", Currency: "USD", CreatedAt: time.Now(),
		}).Exec(ctx)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, fired)

	count, err := db.NewSelect().Model((*models.TicketType)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAfterCommitOutsideTxRunsNow(t *testing.T) {
	fired := false
	database.AfterCommit(context.Background(), func(context.Context) { fired = true })
	assert.True(t, fired)
}

func TestIsUniqueViolation(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	tk := &models.Ticket{ID: "t1", OrderID: "o", OrderItemID: "i", EventID: "e", TicketTypeID: "tt",
		Code: "ABC", Payload: "p", Status: models.TicketValid, IssuedAt: time.Now()}
	_, err := db.NewInsert().Model(tk).Exec(ctx)
	require.NoError(t, err)

	tk.ID = "t2"
	_, err = db.NewInsert().Model(tk).Exec(ctx)
	assert.True(t, database.IsUniqueViolation(err))
	assert.False(t, database.IsUniqueViolation(errors.New("other")))
}

func TestOnRollbackRunsInReverseOrder(t *testing.T) {
	db := testutil.NewDB(t)
	var order []string

	err := database.WithTx(context.Background(), db, func(ctx context.Context) error {
		database.OnRollback(ctx, func(context.Context) { order = append(order, "first") })
		database.OnRollback(ctx, func(context.Context) { order = append(order, "second") })
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, []string{"second", "first"}, order)

	order = nil
	require.NoError(t, database.WithTx(context.Background(), db, func(ctx context.Context) error {
		database.OnRollback(ctx, func(context.Context) { order = append(order, "never") })
		return nil
	}))
	assert.Empty(t, order)
}
