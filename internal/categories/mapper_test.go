package categories_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-checkout/internal/categories"
	catdb "ms-checkout/internal/categories/db"
	"ms-checkout/internal/clock"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/testutil"
)

func setupMapper(t *testing.T) (*categories.Mapper, *bun.DB) {
	t.Helper()
	bunDB := testutil.NewDB(t)
	ctx := context.Background()
	for _, tt := range []models.TicketType{
		{ID: "floor", EventID: "ev-1", Name: "Floor", Currency: "USD", Capacity: 10, Visible: true, CreatedAt: time.Now()},
		{ID: "balcony", EventID: "ev-1", Name: "Balcony", Currency: "USD", Capacity: 10, Visible: true, CreatedAt: time.Now()},
		{ID: "other", EventID: "ev-2", Name: "Other", Currency: "USD", Capacity: 10, Visible: true, CreatedAt: time.Now()},
	} {
		tt := tt
		_, err := bunDB.NewInsert().Model(&tt).Exec(ctx)
		require.NoError(t, err)
	}
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	return categories.NewMapper(&catdb.DB{Bun: bunDB}, clk, logger.Nop()), bunDB
}

func TestMapAndResolve(t *testing.T) {
	m, _ := setupMapper(t)
	ctx := context.Background()

	require.NoError(t, m.MapCategories(ctx, "ev-1", []categories.Mapping{
		{CategoryKey: "red", TicketTypeID: "floor"},
		{CategoryKey: "blue", TicketTypeID: "balcony"},
	}))

	id, err := m.Resolve(ctx, "ev-1", "red")
	require.NoError(t, err)
	assert.Equal(t, "floor", id)

	_, err = m.Resolve(ctx, "ev-1", "green")
	assert.ErrorIs(t, err, models.ErrUnmappedCategory)
}

func TestMapCategoriesReplacesWholeSet(t *testing.T) {
	m, _ := setupMapper(t)
	ctx := context.Background()

	require.NoError(t, m.MapCategories(ctx, "ev-1", []categories.Mapping{
		{CategoryKey: "red", TicketTypeID: "floor"},
		{CategoryKey: "blue", TicketTypeID: "balcony"},
	}))
	require.NoError(t, m.MapCategories(ctx, "ev-1", []categories.Mapping{
		{CategoryKey: "green", TicketTypeID: "floor"},
	}))

	_, err := m.Resolve(ctx, "ev-1", "red")
	assert.ErrorIs(t, err, models.ErrUnmappedCategory)
	all, err := m.Mappings(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "green", all[0].CategoryKey)
}

func TestMapCategoriesRejectsInvalidSetAtomically(t *testing.T) {
	m, _ := setupMapper(t)
	ctx := context.Background()
	require.NoError(t, m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "red", TicketTypeID: "floor"}}))

	err := m.MapCategories(ctx, "ev-1", []categories.Mapping{
		{CategoryKey: "blue", TicketTypeID: "balcony"},
		{CategoryKey: "blue", TicketTypeID: "floor"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	err = m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "blue", TicketTypeID: "other"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	err = m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "blue", TicketTypeID: "ghost"}})
	assert.ErrorIs(t, err, models.ErrNotFound)

	// previous set survives
	id, err := m.Resolve(ctx, "ev-1", "red")
	require.NoError(t, err)
	assert.Equal(t, "floor", id)
}

func TestChartConstrainsMappings(t *testing.T) {
	m, _ := setupMapper(t)
	ctx := context.Background()

	require.NoError(t, m.RegisterChart(ctx, models.ChartPublished{
		ChartKey: "chart-1", VenueID: "venue-9", EventID: "ev-1", CategoryKeys: []string{"red", "blue", "red"},
	}))

	err := m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "purple", TicketTypeID: "floor"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	require.NoError(t, m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "red", TicketTypeID: "floor"}}))
	missing, err := m.MissingCategories(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"blue"}, missing)
}

func TestResolveSeat(t *testing.T) {
	m, bunDB := setupMapper(t)
	ctx := context.Background()
	_, err := bunDB.NewInsert().Model(&models.Seat{
		ID: "A1", EventID: "ev-1", Label: "A1", CategoryKey: "red", Status: models.SeatAvailable,
	}).Exec(ctx)
	require.NoError(t, err)

	_, err = m.ResolveSeat(ctx, "ev-1", "A1")
	assert.ErrorIs(t, err, models.ErrUnmappedCategory)

	require.NoError(t, m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "red", TicketTypeID: "floor"}}))
	id, err := m.ResolveSeat(ctx, "ev-1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "floor", id)

	_, err = m.ResolveSeat(ctx, "ev-1", "Z9")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMappingMustFitCapacity(t *testing.T) {
	m, bunDB := setupMapper(t)
	ctx := context.Background()
	_, err := bunDB.NewUpdate().Model((*models.TicketType)(nil)).Set("capacity = 1").Where("id = ?", "balcony").Exec(ctx)
	require.NoError(t, err)
	for _, id := range []string{"B1", "B2"} {
		_, err := bunDB.NewInsert().Model(&models.Seat{
			ID: id, EventID: "ev-1", Label: id, CategoryKey: "blue", Status: models.SeatAvailable,
		}).Exec(ctx)
		require.NoError(t, err)
	}

	err = m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "blue", TicketTypeID: "balcony"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = m.Resolve(ctx, "ev-1", "blue")
	assert.ErrorIs(t, err, models.ErrUnmappedCategory)

	require.NoError(t, m.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "blue", TicketTypeID: "floor"}}))
}
