package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-checkout/internal/categories"
	catdb "ms-checkout/internal/categories/db"
	"ms-checkout/internal/clock"
	"ms-checkout/internal/holds"
	"ms-checkout/internal/holds/dbstore"
	invdb "ms-checkout/internal/inventory/db"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	orderdb "ms-checkout/internal/order/db"
	"ms-checkout/internal/testutil"
	ticketdb "ms-checkout/internal/tickets/db"
	"ms-checkout/internal/tickets/qr"
	tickets "ms-checkout/internal/tickets/service"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishOrderStatus(ctx context.Context, evt models.OrderStatusChanged) error {
	return m.Called(evt).Error(0)
}

func (m *MockPublisher) PublishTicketsIssued(ctx context.Context, evt models.TicketsIssued) error {
	return m.Called(evt).Error(0)
}

func (m *MockPublisher) PublishReconciliation(ctx context.Context, c models.ReconciliationCase) error {
	return m.Called(c).Error(0)
}

type MockRefunder struct {
	mock.Mock
}

func (m *MockRefunder) Refund(ctx context.Context, paymentRef string, amount int64, currency string) (string, error) {
	args := m.Called(paymentRef, amount, currency)
	return args.String(0), args.Error(1)
}

type fixture struct {
	db        *bun.DB
	clock     *clock.Manual
	holds     *holds.Manager
	mapper    *categories.Mapper
	store     *orderdb.DB
	tickets   *tickets.TicketService
	svc       *order.OrderService
	publisher *MockPublisher
	refunder  *MockRefunder

	mu     sync.Mutex
	alerts []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bunDB := testutil.NewDB(t)
	clk := clock.NewManual(time.Now().Truncate(time.Second))
	log := logger.Nop()

	f := &fixture{db: bunDB, clock: clk, store: &orderdb.DB{Bun: bunDB}}
	log.OnAlert(func(category, message string) {
		f.mu.Lock()
		f.alerts = append(f.alerts, category+": "+message)
		f.mu.Unlock()
	})

	ledger := invdb.NewLedger(bunDB, clk, log, nil)
	cat := &catdb.DB{Bun: bunDB}
	f.mapper = categories.NewMapper(cat, clk, log)
	f.holds = holds.NewManager(bunDB, dbstore.New(bunDB), ledger, cat, f.mapper, clk, log,
		holds.WithTTL(10*time.Minute, 30*time.Minute))
	f.tickets = tickets.NewTicketService(bunDB, &ticketdb.DB{Bun: bunDB}, qr.NewQRGenerator("secret", 128), clk, log)

	f.publisher = new(MockPublisher)
	f.publisher.On("PublishOrderStatus", mock.Anything).Return(nil).Maybe()
	f.publisher.On("PublishTicketsIssued", mock.Anything).Return(nil).Maybe()
	f.publisher.On("PublishReconciliation", mock.Anything).Return(nil).Maybe()
	f.refunder = new(MockRefunder)

	f.svc = order.NewOrderService(bunDB, f.store, f.holds, f.tickets, ledger, clk, log,
		order.WithPublisher(f.publisher),
		order.WithRefunder(f.refunder),
	)

	ctx := context.Background()
	for _, tt := range []*models.TicketType{
		{ID: "ga", EventID: "ev-1", Name: "General", UnitPrice: 2500, Currency: "USD", Capacity: 10, Visible: true, Refundable: true, CreatedAt: clk.Now()},
		{ID: "vip", EventID: "ev-1", Name: "VIP", UnitPrice: 9000, Currency: "USD", Capacity: 5, Visible: true, CreatedAt: clk.Now()},
	} {
		_, err := bunDB.NewInsert().Model(tt).Exec(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.UpsertFee(ctx, &models.Fee{
		ID: "svc", Name: "Service", Type: models.FeePerTicket, Amount: 150, Payer: models.PayerBuyer, Active: true,
	}))
	require.NoError(t, f.store.UpsertFee(ctx, &models.Fee{
		ID: "platform", Name: "Platform", Type: models.FeePerOrder, Amount: 99, Payer: models.PayerOrganizer, Active: true,
	}))
	return f
}

func (f *fixture) promo(t *testing.T, p models.PromoCode) {
	t.Helper()
	p.Active = true
	p.CreatedAt = f.clock.Now()
	require.NoError(t, f.store.UpsertPromo(context.Background(), &p))
}

func (f *fixture) hold(t *testing.T, requester string, items ...holds.ItemRequest) *models.Hold {
	t.Helper()
	h, err := f.holds.CreateHold(context.Background(), holds.CreateHoldRequest{
		RequesterID: requester,
		EventID:     "ev-1",
		Items:       items,
	}, 0)
	require.NoError(t, err)
	return h
}

func (f *fixture) pending(t *testing.T, requester string, promo string, items ...holds.ItemRequest) *models.Order {
	t.Helper()
	h := f.hold(t, requester, items...)
	o, err := f.svc.CreateOrder(context.Background(), order.CreateOrderRequest{
		HoldID:    h.ID,
		Buyer:     models.BuyerInfo{Name: "Ada", Email: requester + "@example.com"},
		PromoCode: promo,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) counts(t *testing.T, id string) models.TicketType {
	t.Helper()
	var tt models.TicketType
	require.NoError(t, f.db.NewSelect().Model(&tt).Where("id = ?", id).Scan(context.Background()))
	return tt
}

func (f *fixture) promoUses(t *testing.T, code string) int {
	t.Helper()
	p, err := f.store.PromoByCode(context.Background(), code)
	require.NoError(t, err)
	return p.CurrentUses
}

func ga(n int) holds.ItemRequest {
	return holds.ItemRequest{TicketTypeID: "ga", Quantity: n}
}

func TestCreateOrderPricesHold(t *testing.T) {
	f := newFixture(t)
	f.promo(t, models.PromoCode{ID: "p1", Code: "SAVE10", Type: models.DiscountPercentage, Amount: 1000})

	o := f.pending(t, "buyer-1", "SAVE10", ga(2))

	assert.Equal(t, models.OrderPending, o.Status)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-Z]{6}$`, o.OrderNumber)
	assert.Equal(t, "buyer-1", o.BuyerID)
	assert.Equal(t, int64(5000), o.Subtotal)
	assert.Equal(t, int64(500), o.Discount)
	assert.Equal(t, int64(300), o.Fees)
	assert.Equal(t, int64(99), o.OrganizerFees)
	assert.Equal(t, int64(4800), o.Total)
	assert.Equal(t, "USD", o.Currency)
	assert.Equal(t, "p1", o.PromoCodeID)
	require.Len(t, o.FeeBreakdown, 2)

	stored, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, int64(2500), stored.Items[0].UnitPrice)
	assert.Equal(t, int64(500), stored.Items[0].Discount)
	assert.Equal(t, int64(4500), stored.Items[0].Subtotal)
	assert.Equal(t, o.FeeBreakdown, stored.FeeBreakdown)

	assert.Equal(t, 0, f.promoUses(t, "SAVE10"), "codes are counted at payment")
	f.publisher.AssertCalled(t, "PublishOrderStatus", mock.MatchedBy(func(e models.OrderStatusChanged) bool {
		return e.OrderID == o.ID && e.To == models.OrderPending
	}))
}

func TestCreateOrderRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promo(t, models.PromoCode{ID: "old", Code: "OLD", Type: models.DiscountFixed, Amount: 100, ValidUntil: f.clock.Now().Add(-time.Hour)})

	h := f.hold(t, "buyer-1", ga(1))

	_, err := f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: h.ID, PromoCode: "NOPE"})
	assert.ErrorIs(t, err, models.ErrPromoInvalid)

	_, err = f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: h.ID, PromoCode: "OLD"})
	assert.ErrorIs(t, err, models.ErrPromoInvalid)

	_, err = f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: h.ID, Buyer: models.BuyerInfo{BuyerID: "someone-else"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: h.ID})
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: h.ID})
	assert.ErrorIs(t, err, models.ErrInvalidInput, "one live order per hold")

	_, err = f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: "missing"})
	assert.ErrorIs(t, err, models.ErrHoldNotFound)

	released := f.hold(t, "buyer-2", ga(1))
	require.NoError(t, f.holds.ReleaseHold(ctx, released.ID))
	_, err = f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: released.ID})
	assert.ErrorIs(t, err, models.ErrHoldNotActive)

	lapsed := f.hold(t, "buyer-3", ga(1))
	f.clock.Advance(11 * time.Minute)
	_, err = f.svc.CreateOrder(ctx, order.CreateOrderRequest{HoldID: lapsed.ID})
	assert.ErrorIs(t, err, models.ErrHoldExpired)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promo(t, models.PromoCode{ID: "p1", Code: "SAVE10", Type: models.DiscountPercentage, Amount: 1000})
	o := f.pending(t, "buyer-1", "SAVE10", ga(2))

	paid, err := f.svc.ConfirmPayment(ctx, o.ID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, paid.Status)
	assert.Equal(t, "pi_123", paid.PaymentRef)
	assert.False(t, paid.PaidAt.IsZero())

	tt := f.counts(t, "ga")
	assert.Equal(t, 0, tt.Held)
	assert.Equal(t, 2, tt.Sold)
	assert.Equal(t, 1, f.promoUses(t, "SAVE10"))

	h, err := f.holds.Get(ctx, o.HoldID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldConverted, h.Status)

	issued, err := f.tickets.TicketsByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, issued, 2)

	settlements, err := f.store.Settlements(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, models.SettlementPayment, settlements[0].Kind)
	assert.Equal(t, o.Total, settlements[0].Amount)

	transitions, err := f.store.Transitions(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.OrderPaid, transitions[1].To)

	f.publisher.AssertCalled(t, "PublishTicketsIssued", mock.MatchedBy(func(e models.TicketsIssued) bool {
		return e.OrderID == o.ID && len(e.TicketIDs) == 2 && e.BuyerEmail == "buyer-1@example.com"
	}))

	again, err := f.svc.ConfirmPayment(ctx, o.ID, "pi_123")
	require.NoError(t, err, "same reference is a no-op")
	assert.Equal(t, models.OrderPaid, again.Status)
	issued, err = f.tickets.TicketsByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, issued, 2)
	assert.Equal(t, 1, f.promoUses(t, "SAVE10"))

	_, err = f.svc.ConfirmPayment(ctx, o.ID, "pi_other")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	cases, err := f.svc.ListReconciliationCases(ctx, models.ReconciliationOpen)
	require.NoError(t, err)
	require.Len(t, cases, 1, "a second payment for a paid order is flagged")
	assert.Equal(t, "pi_other", cases[0].PaymentRef)

	_, err = f.svc.ConfirmPayment(ctx, o.ID, "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

// Two buyers race to redeem a single-use code; exactly one payment lands.
func TestConcurrentPromoRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promo(t, models.PromoCode{ID: "once", Code: "ONCE", Type: models.DiscountFixed, Amount: 1000, MaxUses: 1})

	first := f.pending(t, "buyer-1", "ONCE", ga(1))
	second := f.pending(t, "buyer-2", "ONCE", ga(1))

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, o := range []*models.Order{first, second} {
		wg.Add(1)
		go func(i int, o *models.Order) {
			defer wg.Done()
			_, errs[i] = f.svc.ConfirmPayment(ctx, o.ID, "pi_"+o.ID)
		}(i, o)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrPromoInvalid):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)
	assert.Equal(t, 1, f.promoUses(t, "ONCE"))

	tt := f.counts(t, "ga")
	assert.Equal(t, 1, tt.Sold)
	assert.Equal(t, 1, tt.Held, "the refused order keeps its hold")

	cases, err := f.svc.ListReconciliationCases(ctx, models.ReconciliationOpen)
	require.NoError(t, err)
	require.Len(t, cases, 1, "the refused payment is flagged for an operator")
	loser := cases[0]
	assert.Contains(t, []string{first.ID, second.ID}, loser.OrderID)
	assert.Equal(t, "pi_"+loser.OrderID, loser.PaymentRef)
	assert.Equal(t, "payment received but promo code no longer redeemable", loser.Reason)

	stored, err := f.svc.GetOrder(ctx, loser.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, stored.Status)
	assert.Empty(t, stored.PaymentRef)

	f.mu.Lock()
	assert.Len(t, f.alerts, 1)
	f.mu.Unlock()
	f.publisher.AssertCalled(t, "PublishReconciliation", mock.MatchedBy(func(c models.ReconciliationCase) bool {
		return c.OrderID == loser.OrderID
	}))
}

func TestPerBuyerPromoCapAtPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promo(t, models.PromoCode{ID: "mine", Code: "MINE", Type: models.DiscountFixed, Amount: 100, MaxUsesPerUser: 1})

	a := f.pending(t, "buyer-1", "MINE", ga(1))
	b := f.pending(t, "buyer-1", "MINE", ga(1))

	_, err := f.svc.ConfirmPayment(ctx, a.ID, "pi_a")
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, b.ID, "pi_b")
	assert.ErrorIs(t, err, models.ErrPromoInvalid)
	assert.Equal(t, 1, f.promoUses(t, "MINE"))
}

// Payment arrives after the hold lapsed: the hold wins, an operator is alerted.
func TestConfirmAfterHoldExpiredOpensCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "buyer-1", "", ga(3))

	f.clock.Advance(10*time.Minute + time.Second)

	_, err := f.svc.ConfirmPayment(ctx, o.ID, "pi_late")
	require.ErrorIs(t, err, models.ErrHoldExpired)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, stored.Status)

	h, err := f.holds.Get(ctx, o.HoldID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldExpired, h.Status)

	tt := f.counts(t, "ga")
	assert.Equal(t, 0, tt.Held)
	assert.Equal(t, 0, tt.Sold)

	issued, err := f.tickets.TicketsByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, issued)

	cases, err := f.svc.ListReconciliationCases(ctx, models.ReconciliationOpen)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, o.ID, cases[0].OrderID)
	assert.Equal(t, "pi_late", cases[0].PaymentRef)
	assert.Equal(t, "payment received but hold expired", cases[0].Reason)

	f.mu.Lock()
	require.Len(t, f.alerts, 1)
	assert.Contains(t, f.alerts[0], "RECONCILIATION")
	f.mu.Unlock()
	f.publisher.AssertCalled(t, "PublishReconciliation", mock.Anything)

	_, err = f.svc.ConfirmPayment(ctx, o.ID, "pi_late")
	require.ErrorIs(t, err, models.ErrHoldExpired)
	cases, err = f.svc.ListReconciliationCases(ctx, "")
	require.NoError(t, err)
	assert.Len(t, cases, 1, "a repeated signal reuses the open case")

	require.NoError(t, f.svc.ResolveReconciliationCase(ctx, cases[0].ID, "refunded manually"))
	err = f.svc.ResolveReconciliationCase(ctx, cases[0].ID, "again")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	err = f.svc.ResolveReconciliationCase(ctx, "missing", "note")
	assert.ErrorIs(t, err, models.ErrNotFound)
	err = f.svc.ResolveReconciliationCase(ctx, cases[0].ID, "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	open, err := f.svc.ListReconciliationCases(ctx, models.ReconciliationOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCancelAndFailPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.pending(t, "buyer-1", "", ga(2))
	cancelled, err := f.svc.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	assert.False(t, cancelled.CancelledAt.IsZero())
	assert.Equal(t, 0, f.counts(t, "ga").Held)

	h, err := f.holds.Get(ctx, o.HoldID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldReleased, h.Status)

	_, err = f.svc.CancelOrder(ctx, o.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.svc.ConfirmPayment(ctx, o.ID, "pi_1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	cases, err := f.svc.ListReconciliationCases(ctx, models.ReconciliationOpen)
	require.NoError(t, err)
	require.Len(t, cases, 1, "money taken for a cancelled order is flagged")
	assert.Equal(t, o.ID, cases[0].OrderID)
	assert.Equal(t, "pi_1", cases[0].PaymentRef)
	assert.Equal(t, "payment received for order that cannot be paid", cases[0].Reason)

	failed := f.pending(t, "buyer-2", "", ga(1))
	require.NoError(t, f.svc.HandlePaymentSignal(ctx, models.PaymentSignal{OrderID: failed.ID, Reference: "pi_x", Succeeded: false}))
	got, err := f.svc.GetOrder(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)

	again, err := f.svc.FailPayment(ctx, failed.ID, "pi_x")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, again.Status)

	_, err = f.svc.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.svc.HandlePaymentSignal(ctx, models.PaymentSignal{}), models.ErrInvalidInput)
}

func TestRefundAndRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "buyer-1", "", ga(2))

	_, err := f.svc.RefundOrder(ctx, o.ID, 100)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "pending orders are cancelled, not refunded")

	require.NoError(t, f.svc.HandlePaymentSignal(ctx, models.PaymentSignal{OrderID: o.ID, Reference: "pi_1", Succeeded: true}))
	f.clock.Advance(time.Hour)

	_, err = f.svc.RefundOrder(ctx, o.ID, o.Total+1)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = f.svc.RefundOrder(ctx, o.ID, 0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	f.refunder.On("Refund", "pi_1", int64(4000), "USD").Return("re_1", nil).Once()
	refunded, err := f.svc.RefundOrder(ctx, o.ID, 4000)
	require.NoError(t, err)
	assert.Equal(t, models.OrderRefunded, refunded.Status)
	assert.Equal(t, int64(4000), refunded.RefundedAmount)
	f.refunder.AssertExpectations(t)

	issued, err := f.tickets.TicketsByOrder(ctx, o.ID)
	require.NoError(t, err)
	for _, tk := range issued {
		assert.Equal(t, models.TicketCancelled, tk.Status)
	}
	assert.Equal(t, 2, f.counts(t, "ga").Sold, "refunds do not return capacity")

	settlements, err := f.store.Settlements(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, settlements, 2)
	assert.Equal(t, models.SettlementRefund, settlements[1].Kind)
	assert.Equal(t, "re_1", settlements[1].Reference)

	_, err = f.svc.RefundOrder(ctx, o.ID, 100)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	restocked, err := f.svc.RestockOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, restocked.RestockedAt.IsZero())
	assert.Equal(t, 0, f.counts(t, "ga").Sold)

	_, err = f.svc.RestockOrder(ctx, o.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestRefundGatewayFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "buyer-1", "", ga(1))
	_, err := f.svc.ConfirmPayment(ctx, o.ID, "pi_9")
	require.NoError(t, err)

	f.refunder.On("Refund", "pi_9", o.Total, "USD").Return("", errors.New("card network down")).Once()
	_, err = f.svc.RefundOrder(ctx, o.ID, o.Total)
	require.Error(t, err)

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
	issued, err := f.tickets.TicketsByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, models.TicketValid, issued[0].Status)

	_, err = f.svc.RestockOrder(ctx, o.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestSeatOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, s := range []models.Seat{
		{ID: "A1", EventID: "ev-1", Label: "A1", CategoryKey: "front", Status: models.SeatAvailable},
		{ID: "A2", EventID: "ev-1", Label: "A2", CategoryKey: "front", Status: models.SeatAvailable},
	} {
		s := s
		_, err := f.db.NewInsert().Model(&s).Exec(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, f.mapper.MapCategories(ctx, "ev-1", []categories.Mapping{{CategoryKey: "front", TicketTypeID: "vip"}}))

	o := f.pending(t, "buyer-1", "", holds.ItemRequest{SeatID: "A1"}, holds.ItemRequest{SeatID: "A2"})
	assert.Equal(t, int64(18000), o.Subtotal)

	_, err := f.svc.ConfirmPayment(ctx, o.ID, "ch_1")
	require.NoError(t, err)

	seat := func(id string) models.Seat {
		var s models.Seat
		require.NoError(t, f.db.NewSelect().Model(&s).Where("id = ?", id).Scan(ctx))
		return s
	}
	assert.Equal(t, models.SeatSold, seat("A1").Status)

	issued, err := f.tickets.TicketsByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, issued, 2)
	seats := []string{issued[0].SeatID, issued[1].SeatID}
	assert.ElementsMatch(t, []string{"A1", "A2"}, seats)

	f.refunder.On("Refund", "ch_1", o.Total, "USD").Return("re_2", nil).Once()
	_, err = f.svc.RefundOrder(ctx, o.ID, o.Total)
	require.NoError(t, err)
	assert.Equal(t, models.SeatSold, seat("A1").Status)

	_, err = f.svc.RestockOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, seat("A1").Status)
	assert.Equal(t, models.SeatAvailable, seat("A2").Status)
}
