package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/inventory"
	"ms-checkout/internal/models"
)

func TestSaveTicketTypeKeepsCounters(t *testing.T) {
	ledger, bunDB, rec := setupLedger(t)
	ctx := context.Background()

	tt := &models.TicketType{EventID: "ev-1", Name: "General", UnitPrice: 2500, Currency: "USD", Capacity: 5, Visible: true}
	require.NoError(t, ledger.SaveTicketType(ctx, tt))
	require.NotEmpty(t, tt.ID)

	line := inventory.Line{Key: inventory.Key{EventID: "ev-1", TicketTypeID: tt.ID}, Quantity: 3}
	require.NoError(t, ledger.Reserve(ctx, []inventory.Line{line}))

	edit := *tt
	edit.Capacity = 2
	err := ledger.SaveTicketType(ctx, &edit)
	assert.ErrorIs(t, err, models.ErrInvalidInput, "capacity below held units")

	edit.Capacity = 8
	edit.Name = "General Admission"
	edit.Held = 0
	require.NoError(t, ledger.SaveTicketType(ctx, &edit))

	got := loadType(t, bunDB, tt.ID)
	assert.Equal(t, "General Admission", got.Name)
	assert.Equal(t, 8, got.Capacity)
	assert.Equal(t, 3, got.Held)
	assert.Equal(t, 5, got.Available())

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, "capacity", last.Operation)
	require.Len(t, last.TicketTypes, 1)
	assert.Equal(t, 5, last.TicketTypes[0].Available)

	list, err := ledger.TicketTypes(ctx, "ev-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = ledger.SaveTicketType(ctx, &models.TicketType{EventID: "ev-1", Name: "x", Currency: "USD", Capacity: -1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestAddSeats(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.AddSeats(ctx, "ev-1", []models.Seat{
		{ID: "A1", CategoryKey: "floor", Status: models.SeatSold},
		{ID: "A2", CategoryKey: "floor", Label: "Row A 2"},
	}))

	summary, err := ledger.Availability(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Seats.Available, "new seats always start available")

	err = ledger.AddSeats(ctx, "ev-1", []models.Seat{{ID: "A1", CategoryKey: "floor"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	err = ledger.AddSeats(ctx, "ev-1", []models.Seat{{ID: "B1"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSeatsMustFitMappedCapacity(t *testing.T) {
	ledger, bunDB, _ := setupLedger(t)
	ctx := context.Background()

	tt := &models.TicketType{ID: "floor", EventID: "ev-1", Name: "Floor", Currency: "USD", Capacity: 2, Visible: true}
	require.NoError(t, ledger.SaveTicketType(ctx, tt))
	_, err := bunDB.NewInsert().Model(&models.CategoryMapping{EventID: "ev-1", CategoryKey: "red", TicketTypeID: "floor"}).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, ledger.AddSeats(ctx, "ev-1", []models.Seat{
		{ID: "A1", CategoryKey: "red"},
		{ID: "A2", CategoryKey: "red"},
	}))

	err = ledger.AddSeats(ctx, "ev-1", []models.Seat{{ID: "A3", CategoryKey: "red"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	// unmapped categories are not counted yet
	require.NoError(t, ledger.AddSeats(ctx, "ev-1", []models.Seat{{ID: "Z1", CategoryKey: "green"}}))

	summary, err := ledger.Availability(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Seats.Available, "the refused batch left nothing behind")

	edit := *tt
	edit.Capacity = 1
	err = ledger.SaveTicketType(ctx, &edit)
	assert.ErrorIs(t, err, models.ErrInvalidInput, "capacity below mapped seats")
	assert.Equal(t, 2, loadType(t, bunDB, "floor").Capacity)
}
