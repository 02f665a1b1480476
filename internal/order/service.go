package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-checkout/internal/clock"
	"ms-checkout/internal/database"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order/pricing"
	"ms-checkout/internal/utils"
)

type DBLayer interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	OrderByHold(ctx context.Context, holdID string) (*models.Order, error)
	ListOrders(ctx context.Context, buyerID string) ([]models.Order, error)
	UpdateStatus(ctx context.Context, o *models.Order, from models.OrderStatus, columns ...string) (bool, error)
	MarkRestocked(ctx context.Context, id string, at time.Time) (bool, error)
	InsertTransition(ctx context.Context, tr *models.OrderTransition) error
	InsertSettlement(ctx context.Context, s *models.Settlement) error

	PromoByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetPromo(ctx context.Context, id string) (*models.PromoCode, error)
	PromoUsesByBuyer(ctx context.Context, promoID, buyerID string) (int, error)
	RedeemPromo(ctx context.Context, promoID string) (bool, error)
	ActiveFees(ctx context.Context, eventID string) ([]models.Fee, error)
	UpsertPromo(ctx context.Context, p *models.PromoCode) error
	UpsertFee(ctx context.Context, f *models.Fee) error

	InsertReconciliationCase(ctx context.Context, c *models.ReconciliationCase) error
	OpenCase(ctx context.Context, orderID, paymentRef string) (*models.ReconciliationCase, error)
	ReconciliationCases(ctx context.Context, status models.ReconciliationStatus) ([]models.ReconciliationCase, error)
	ResolveCase(ctx context.Context, id, resolution string, at time.Time) (bool, error)
}

// Holds is the slice of the hold manager the engine drives.
type Holds interface {
	Get(ctx context.Context, id string) (*models.Hold, error)
	ConvertHold(ctx context.Context, id string) (*models.Hold, error)
	ReleaseHold(ctx context.Context, id string) error
	Expire(ctx context.Context, id string) (bool, error)
}

type Issuer interface {
	IssueTickets(ctx context.Context, o *models.Order) ([]*models.Ticket, error)
	CancelOrderTickets(ctx context.Context, orderID string) (int, error)
}

// Restocker returns refunded inventory to sale.
type Restocker interface {
	Restock(ctx context.Context, lines []inventory.Line) error
}

// Refunder moves money back through the payment gateway and returns its reference.
type Refunder interface {
	Refund(ctx context.Context, paymentRef string, amount int64, currency string) (string, error)
}

type Publisher interface {
	PublishOrderStatus(ctx context.Context, evt models.OrderStatusChanged) error
	PublishTicketsIssued(ctx context.Context, evt models.TicketsIssued) error
	PublishReconciliation(ctx context.Context, c models.ReconciliationCase) error
}

// Observer sees committed order transitions and opened reconciliation cases.
type Observer interface {
	OrderTransitioned(from, to models.OrderStatus)
	ReconciliationOpened()
}

type OrderService struct {
	conn      *bun.DB
	DB        DBLayer
	holds     Holds
	issuer    Issuer
	restocker Restocker
	refunder  Refunder
	publisher Publisher
	observer  Observer
	clock     clock.Clock
	logger    *logger.Logger
}

type Option func(*OrderService)

func WithRefunder(r Refunder) Option {
	return func(s *OrderService) { s.refunder = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *OrderService) { s.publisher = p }
}

func WithObserver(o Observer) Option {
	return func(s *OrderService) { s.observer = o }
}

func NewOrderService(db *bun.DB, store DBLayer, holds Holds, issuer Issuer, restocker Restocker, clk clock.Clock, log *logger.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		conn:      db,
		DB:        store,
		holds:     holds,
		issuer:    issuer,
		restocker: restocker,
		clock:     clk,
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateOrderRequest struct {
	HoldID    string           `json:"hold_id"`
	Buyer     models.BuyerInfo `json:"buyer"`
	PromoCode string           `json:"promo_code,omitempty"`
}

// ---------------- ORDERS ----------------

// CreateOrder prices an active hold and persists it as a pending order. The promo
// code is validated here but only counted when payment is confirmed.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if req.HoldID == "" {
		return nil, fmt.Errorf("hold id is required: %w", models.ErrInvalidInput)
	}

	hold, err := s.holds.Get(ctx, req.HoldID)
	if err != nil {
		return nil, err
	}
	switch hold.Status {
	case models.HoldActive:
	case models.HoldExpired:
		return nil, fmt.Errorf("hold %s: %w", hold.ID, models.ErrHoldExpired)
	default:
		return nil, fmt.Errorf("hold %s is %s: %w", hold.ID, hold.Status, models.ErrHoldNotActive)
	}

	buyer := req.Buyer
	if buyer.BuyerID == "" {
		buyer.BuyerID = hold.RequesterID
	}
	if buyer.BuyerID != hold.RequesterID {
		return nil, fmt.Errorf("hold %s belongs to another requester: %w", hold.ID, models.ErrInvalidInput)
	}

	existing, err := s.DB.OrderByHold(ctx, hold.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing order: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("hold %s already backs order %s: %w", hold.ID, existing.OrderNumber, models.ErrInvalidInput)
	}

	now := s.clock.Now()
	in := pricing.Input{
		EventID: hold.EventID,
		BuyerID: buyer.BuyerID,
		Lines:   pricingLines(hold),
		Now:     now,
	}

	if req.PromoCode != "" {
		promo, err := s.DB.PromoByCode(ctx, req.PromoCode)
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("promo %s does not exist: %w", req.PromoCode, models.ErrPromoInvalid)
		}
		if err != nil {
			return nil, err
		}
		uses, err := s.DB.PromoUsesByBuyer(ctx, promo.ID, buyer.BuyerID)
		if err != nil {
			return nil, fmt.Errorf("count promo uses: %w", err)
		}
		in.Promo = promo
		in.PromoUsesByBuyer = uses
	}

	fees, err := s.DB.ActiveFees(ctx, hold.EventID)
	if err != nil {
		return nil, fmt.Errorf("load fees: %w", err)
	}
	in.Fees = fees

	quote, err := pricing.Price(in)
	if err != nil {
		s.logger.Warn("ORDER", fmt.Sprintf("Pricing hold %s failed: %v", hold.ID, err))
		return nil, err
	}

	order := &models.Order{
		ID:            uuid.NewString(),
		OrderNumber:   utils.GenerateOrderNumber(now),
		BuyerID:       buyer.BuyerID,
		EventID:       hold.EventID,
		HoldID:        hold.ID,
		Status:        models.OrderPending,
		Subtotal:      quote.Subtotal,
		Discount:      quote.Discount,
		Fees:          quote.BuyerFees,
		OrganizerFees: quote.OrganizerFees,
		Total:         quote.Total,
		Currency:      hold.Items[0].Currency,
		BuyerName:     buyer.Name,
		BuyerEmail:    buyer.Email,
		BuyerPhone:    buyer.Phone,
		FeeBreakdown:  quote.FeeLines,
		CreatedAt:     now,
	}
	if in.Promo != nil {
		order.PromoCodeID = in.Promo.ID
		order.PromoCode = in.Promo.Code
	}
	for i, it := range hold.Items {
		line := in.Lines[i]
		order.Items = append(order.Items, &models.OrderItem{
			ID:           uuid.NewString(),
			OrderID:      order.ID,
			TicketTypeID: it.TicketTypeID,
			SeatID:       it.SeatID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			Discount:     quote.LineDiscounts[i],
			Subtotal:     line.Subtotal() - quote.LineDiscounts[i],
		})
	}

	err = database.WithTx(ctx, s.conn, func(ctx context.Context) error {
		if err := s.DB.CreateOrder(ctx, order); err != nil {
			return err
		}
		return s.recordTransition(ctx, order, "", "created from hold "+hold.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.LogOrder("create", order.ID, fmt.Sprintf("number=%s total=%d %s promo=%q", order.OrderNumber, order.Total, order.Currency, order.PromoCode))
	return order, nil
}

func pricingLines(h *models.Hold) []pricing.Line {
	lines := make([]pricing.Line, 0, len(h.Items))
	for _, it := range h.Items {
		lines = append(lines, pricing.Line{
			TicketTypeID: it.TicketTypeID,
			SeatID:       it.SeatID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
		})
	}
	return lines
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.DB.GetOrder(ctx, id)
}

func (s *OrderService) ListOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	return s.DB.ListOrders(ctx, buyerID)
}

// CancelOrder abandons a pending order and gives its inventory back.
func (s *OrderService) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.cancel(ctx, id, "cancelled by buyer")
}

func (s *OrderService) cancel(ctx context.Context, id, reason string) (*models.Order, error) {
	var order *models.Order
	err := database.WithTx(ctx, s.conn, func(ctx context.Context) error {
		o, err := s.DB.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(o, models.OrderCancelled); err != nil {
			return err
		}

		from := o.Status
		o.Status = models.OrderCancelled
		o.CancelledAt = s.clock.Now()
		won, err := s.DB.UpdateStatus(ctx, o, from, "cancelled_at")
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("order %s changed concurrently: %w", id, models.ErrInvalidTransition)
		}
		if err := s.holds.ReleaseHold(ctx, o.HoldID); err != nil && !errors.Is(err, models.ErrHoldNotFound) {
			return fmt.Errorf("release hold %s: %w", o.HoldID, err)
		}
		if err := s.recordTransition(ctx, o, from, reason); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogOrder("cancel", id, reason)
	return order, nil
}

// recordTransition writes the audit row and schedules the status event for after commit.
func (s *OrderService) recordTransition(ctx context.Context, o *models.Order, from models.OrderStatus, reason string) error {
	now := s.clock.Now()
	err := s.DB.InsertTransition(ctx, &models.OrderTransition{
		OrderID:   o.ID,
		From:      from,
		To:        o.Status,
		Reason:    reason,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}

	evt := models.OrderStatusChanged{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		EventID:     o.EventID,
		From:        from,
		To:          o.Status,
		Total:       o.Total,
		Currency:    o.Currency,
		At:          now,
	}
	database.AfterCommit(ctx, func(ctx context.Context) {
		if s.observer != nil {
			s.observer.OrderTransitioned(evt.From, evt.To)
		}
		if s.publisher == nil {
			return
		}
		if err := s.publisher.PublishOrderStatus(ctx, evt); err != nil {
			s.logger.Error("KAFKA", fmt.Sprintf("Publish status of order %s failed: %v", evt.OrderID, err))
		}
	})
	return nil
}

func (s *OrderService) orderLines(o *models.Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{
			Key:       inventory.Key{EventID: o.EventID, TicketTypeID: it.TicketTypeID, SeatID: it.SeatID},
			Quantity:  it.Quantity,
			HolderRef: o.HoldID,
		})
	}
	return lines
}
