package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/models"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func cart() []Line {
	return []Line{
		{TicketTypeID: "ga", Quantity: 2, UnitPrice: 2500},
		{TicketTypeID: "vip", SeatID: "A1", Quantity: 1, UnitPrice: 9999},
	}
}

func fees() []models.Fee {
	return []models.Fee{
		{ID: "f1", Name: "Service", Type: models.FeePerTicket, Amount: 150, Payer: models.PayerBuyer, Active: true},
		{ID: "f2", Name: "Processing", Type: models.FeePercent, Amount: 250, Payer: models.PayerBuyer, Active: true},
		{ID: "f3", Name: "Platform", Type: models.FeePerOrder, Amount: 99, Payer: models.PayerOrganizer, Active: true},
		{ID: "f4", Name: "VIP handling", Type: models.FeeFixed, Amount: 50, Payer: models.PayerBuyer, TicketTypeID: "vip", Active: true},
		{ID: "f5", Name: "Other event", Type: models.FeePerOrder, Amount: 1000, Payer: models.PayerBuyer, EventID: "ev-2", Active: true},
		{ID: "f6", Name: "Retired", Type: models.FeePerOrder, Amount: 1000, Payer: models.PayerBuyer},
	}
}

func tenPercent() *models.PromoCode {
	return &models.PromoCode{ID: "p1", Code: "SAVE10", Type: models.DiscountPercentage, Amount: 1000, Active: true}
}

func TestPriceFullCart(t *testing.T) {
	q, err := Price(Input{EventID: "ev-1", Lines: cart(), Promo: tenPercent(), Fees: fees(), Now: now})
	require.NoError(t, err)

	assert.Equal(t, int64(14999), q.Subtotal)
	assert.Equal(t, int64(1500), q.Discount) // 1499.9 rounds up
	assert.Equal(t, []int64{500, 1000}, q.LineDiscounts)
	// 450 per-ticket + 337 (2.5% of 13499) + 50 fixed on the VIP line
	assert.Equal(t, int64(837), q.BuyerFees)
	assert.Equal(t, int64(99), q.OrganizerFees)
	assert.Equal(t, q.Subtotal-q.Discount+q.BuyerFees, q.Total)
	assert.Equal(t, int64(14336), q.Total)

	require.Len(t, q.FeeLines, 4)
	assert.Equal(t, "f1", q.FeeLines[0].FeeID)
	assert.Equal(t, int64(337), q.FeeLines[1].Amount)
}

func TestPriceIsDeterministic(t *testing.T) {
	in := Input{EventID: "ev-1", Lines: cart(), Promo: tenPercent(), Fees: fees(), Now: now}
	first, err := Price(in)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Price(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPercentRoundsHalfUpOnce(t *testing.T) {
	promo := &models.PromoCode{Code: "HALF", Type: models.DiscountPercentage, Amount: 5000, Active: true}
	q, err := Price(Input{Lines: []Line{{TicketTypeID: "ga", Quantity: 1, UnitPrice: 1005}}, Promo: promo, Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(503), q.Discount)
	assert.Equal(t, int64(502), q.Total)

	// three lines of 333 at 50%: per-line rounding would give 501, once gives 500
	lines := []Line{
		{TicketTypeID: "a", Quantity: 1, UnitPrice: 333},
		{TicketTypeID: "b", Quantity: 1, UnitPrice: 333},
		{TicketTypeID: "c", Quantity: 1, UnitPrice: 333},
	}
	q, err = Price(Input{Lines: lines, Promo: promo, Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.Discount)
	var sum int64
	for _, d := range q.LineDiscounts {
		sum += d
	}
	assert.Equal(t, q.Discount, sum)
}

func TestFixedDiscountAndCaps(t *testing.T) {
	fixed := &models.PromoCode{Code: "FIVER", Type: models.DiscountFixed, Amount: 500, Active: true, TicketTypeIDs: []string{"ga"}}
	q, err := Price(Input{Lines: cart(), Promo: fixed, Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.Discount)
	assert.Equal(t, []int64{500, 0}, q.LineDiscounts)

	big := &models.PromoCode{Code: "BIG", Type: models.DiscountFixed, Amount: 100000, Active: true, TicketTypeIDs: []string{"ga"}}
	q, err = Price(Input{Lines: cart(), Promo: big, Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), q.Discount, "capped at the applicable subtotal")

	capped := &models.PromoCode{Code: "CAP", Type: models.DiscountPercentage, Amount: 5000, MaxDiscount: 1000, Active: true}
	q, err = Price(Input{Lines: cart(), Promo: capped, Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), q.Discount)

	feeCap := []models.Fee{{ID: "f", Type: models.FeePercent, Amount: 1000, Cap: 300, Payer: models.PayerBuyer, Active: true}}
	q, err = Price(Input{Lines: cart(), Fees: feeCap, Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(300), q.BuyerFees)
}

func TestPromoValidation(t *testing.T) {
	cases := map[string]struct {
		mutate func(p *models.PromoCode, in *Input)
	}{
		"inactive":      {func(p *models.PromoCode, _ *Input) { p.Active = false }},
		"not started":   {func(p *models.PromoCode, _ *Input) { p.ValidFrom = now.Add(time.Hour) }},
		"expired":       {func(p *models.PromoCode, _ *Input) { p.ValidUntil = now }},
		"other event":   {func(p *models.PromoCode, _ *Input) { p.EventID = "ev-9" }},
		"global cap":    {func(p *models.PromoCode, _ *Input) { p.MaxUses, p.CurrentUses = 1, 1 }},
		"per buyer cap": {func(p *models.PromoCode, in *Input) { p.MaxUsesPerUser, in.PromoUsesByBuyer = 1, 1 }},
		"min order":     {func(p *models.PromoCode, _ *Input) { p.MinOrderValue = 20000 }},
		"no match":      {func(p *models.PromoCode, _ *Input) { p.TicketTypeIDs = []string{"balcony"} }},
		"unknown type":  {func(p *models.PromoCode, _ *Input) { p.Type = "bogo" }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := tenPercent()
			in := Input{EventID: "ev-1", Lines: cart(), Now: now}
			tc.mutate(p, &in)
			in.Promo = p
			_, err := Price(in)
			assert.ErrorIs(t, err, models.ErrPromoInvalid)
		})
	}
}

func TestNoPromoNoFees(t *testing.T) {
	q, err := Price(Input{Lines: cart(), Now: now})
	require.NoError(t, err)
	assert.Equal(t, q.Subtotal, q.Total)
	assert.Empty(t, q.FeeLines)
	assert.Equal(t, []int64{0, 0}, q.LineDiscounts)
}
