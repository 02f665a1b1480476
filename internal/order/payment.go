package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"
)

// ConfirmPayment turns a pending order into a paid one. Promo redemption, hold
// conversion, the status change, ticket issuance and the settlement row commit
// together or not at all. Confirming a paid order again with the same reference
// returns it unchanged.
//
// Any refusal after the gateway took the money leaves the order as it was and opens
// a reconciliation case for an operator: a lapsed hold (the hold is expired and
// models.ErrHoldExpired returned), an exhausted promo code, or an order that can no
// longer be paid, such as a cancelled one.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID, paymentRef string) (*models.Order, error) {
	if paymentRef == "" {
		return nil, fmt.Errorf("payment reference is required: %w", models.ErrInvalidInput)
	}

	var (
		order  *models.Order
		issued []*models.Ticket
		replay bool
	)
	err := database.WithTx(ctx, s.conn, func(ctx context.Context) error {
		o, err := s.DB.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == models.OrderPaid && o.PaymentRef == paymentRef {
			order, replay = o, true
			return nil
		}
		if err := checkTransition(o, models.OrderPaid); err != nil {
			return err
		}

		if o.PromoCodeID != "" {
			if err := s.redeemPromo(ctx, o); err != nil {
				return err
			}
		}

		if _, err := s.holds.ConvertHold(ctx, o.HoldID); err != nil {
			return err
		}

		now := s.clock.Now()
		from := o.Status
		o.Status = models.OrderPaid
		o.PaymentRef = paymentRef
		o.PaidAt = now
		won, err := s.DB.UpdateStatus(ctx, o, from, "payment_ref", "paid_at")
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("order %s changed concurrently: %w", orderID, models.ErrInvalidTransition)
		}
		if err := s.recordTransition(ctx, o, from, "payment "+paymentRef); err != nil {
			return err
		}

		if err := s.DB.InsertSettlement(ctx, &models.Settlement{
			ID:        utils.GenerateSettlementID(now),
			OrderID:   o.ID,
			Kind:      models.SettlementPayment,
			Amount:    o.Total,
			Currency:  o.Currency,
			Reference: paymentRef,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("record settlement: %w", err)
		}

		issued, err = s.issuer.IssueTickets(ctx, o)
		if err != nil {
			return fmt.Errorf("issue tickets: %w", err)
		}
		order = o
		return nil
	})

	switch {
	case err != nil && reconcileReason(err) != "":
		s.reconcile(ctx, orderID, paymentRef, reconcileReason(err), err)
		return nil, err
	case err != nil:
		s.logger.Warn("ORDER", fmt.Sprintf("Payment %s for order %s not applied: %v", paymentRef, orderID, err))
		return nil, err
	case replay:
		s.logger.LogOrder("confirm", orderID, "duplicate confirmation "+paymentRef+" ignored")
		return order, nil
	}

	s.logger.LogOrder("confirm", orderID, fmt.Sprintf("paid ref=%s tickets=%d", paymentRef, len(issued)))
	s.publishIssued(ctx, order, issued)
	return order, nil
}

// redeemPromo counts the use against both caps. The global cap is enforced by the
// conditional increment itself, so concurrent confirmations cannot overrun it.
func (s *OrderService) redeemPromo(ctx context.Context, o *models.Order) error {
	promo, err := s.DB.GetPromo(ctx, o.PromoCodeID)
	if err != nil {
		return fmt.Errorf("load promo %s: %w", o.PromoCode, err)
	}
	if promo.MaxUsesPerUser > 0 {
		uses, err := s.DB.PromoUsesByBuyer(ctx, promo.ID, o.BuyerID)
		if err != nil {
			return fmt.Errorf("count promo uses: %w", err)
		}
		if uses >= promo.MaxUsesPerUser {
			return fmt.Errorf("promo %s per-buyer limit reached: %w", promo.Code, models.ErrPromoInvalid)
		}
	}

	ok, err := s.DB.RedeemPromo(ctx, promo.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("promo %s usage limit reached: %w", promo.Code, models.ErrPromoInvalid)
	}
	return nil
}

func (s *OrderService) publishIssued(ctx context.Context, o *models.Order, tickets []*models.Ticket) {
	if s.publisher == nil || len(tickets) == 0 {
		return
	}
	ids := make([]string, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	evt := models.TicketsIssued{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		EventID:     o.EventID,
		BuyerEmail:  o.BuyerEmail,
		TicketIDs:   ids,
		At:          o.PaidAt,
	}
	if err := s.publisher.PublishTicketsIssued(ctx, evt); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("Publish tickets for order %s failed: %v", o.ID, err))
	}
}

// reconcileReason names why a confirmed payment could not be applied. Empty means
// the failure happened before any money is known to have moved.
func reconcileReason(err error) string {
	switch {
	case errors.Is(err, models.ErrHoldExpired):
		return "payment received but hold expired"
	case errors.Is(err, models.ErrPromoInvalid):
		return "payment received but promo code no longer redeemable"
	case errors.Is(err, models.ErrHoldNotActive):
		return "payment received but hold no longer active"
	case errors.Is(err, models.ErrInvalidTransition):
		return "payment received for order that cannot be paid"
	}
	return ""
}

// reconcile runs after the confirmation rolled back: a lapsed hold is expired through
// the normal path and the money is flagged for an operator. A repeated signal for
// the same payment reuses the open case.
func (s *OrderService) reconcile(ctx context.Context, orderID, paymentRef, reason string, cause error) {
	o, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("RECONCILIATION", fmt.Sprintf("Order %s unreadable while reconciling: %v", orderID, err))
		return
	}
	if _, err := s.holds.Expire(ctx, o.HoldID); err != nil {
		s.logger.Error("RECONCILIATION", fmt.Sprintf("Expiring hold %s failed: %v", o.HoldID, err))
	}

	existing, err := s.DB.OpenCase(ctx, orderID, paymentRef)
	if err != nil {
		s.logger.Error("RECONCILIATION", fmt.Sprintf("Lookup of open case for %s failed: %v", orderID, err))
		return
	}
	if existing != nil {
		s.logger.Warn("RECONCILIATION", fmt.Sprintf("Case %s already open for order %s", existing.ID, orderID))
		return
	}

	c := &models.ReconciliationCase{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		HoldID:     o.HoldID,
		PaymentRef: paymentRef,
		Reason:     reason,
		Status:     models.ReconciliationOpen,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.DB.InsertReconciliationCase(ctx, c); err != nil {
		s.logger.Error("RECONCILIATION", fmt.Sprintf("Persisting case for order %s failed: %v", orderID, err))
	}

	s.logger.Alert("RECONCILIATION", fmt.Sprintf("%s: ref=%s hold=%s order=%s status=%s amount=%d %s: %v", reason, paymentRef, o.HoldID, o.OrderNumber, o.Status, o.Total, o.Currency, cause))
	if s.observer != nil {
		s.observer.ReconciliationOpened()
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReconciliation(ctx, *c); err != nil {
			s.logger.Error("KAFKA", fmt.Sprintf("Publish reconciliation case %s failed: %v", c.ID, err))
		}
	}
}

// FailPayment handles the gateway's failure signal by cancelling the pending order.
// Orders that are already cancelled are left alone.
func (s *OrderService) FailPayment(ctx context.Context, orderID, paymentRef string) (*models.Order, error) {
	o, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderCancelled {
		return o, nil
	}
	return s.cancel(ctx, orderID, "payment failed "+paymentRef)
}

// HandlePaymentSignal dispatches the abstract payment outcome message.
func (s *OrderService) HandlePaymentSignal(ctx context.Context, sig models.PaymentSignal) error {
	if sig.OrderID == "" {
		return fmt.Errorf("payment signal without order id: %w", models.ErrInvalidInput)
	}
	s.logger.Info("PAYMENT", fmt.Sprintf("Signal for order %s ref=%s succeeded=%t", sig.OrderID, sig.Reference, sig.Succeeded))
	var err error
	if sig.Succeeded {
		_, err = s.ConfirmPayment(ctx, sig.OrderID, sig.Reference)
	} else {
		_, err = s.FailPayment(ctx, sig.OrderID, sig.Reference)
	}
	return err
}

// ListReconciliationCases returns cases with the given status, or all when empty.
func (s *OrderService) ListReconciliationCases(ctx context.Context, status models.ReconciliationStatus) ([]models.ReconciliationCase, error) {
	return s.DB.ReconciliationCases(ctx, status)
}

// ResolveReconciliationCase closes an open case with the operator's note.
func (s *OrderService) ResolveReconciliationCase(ctx context.Context, id, resolution string) error {
	if resolution == "" {
		return fmt.Errorf("resolution note is required: %w", models.ErrInvalidInput)
	}
	ok, err := s.DB.ResolveCase(ctx, id, resolution, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("case %s already resolved: %w", id, models.ErrInvalidTransition)
	}
	s.logger.Info("RECONCILIATION", fmt.Sprintf("Case %s resolved: %s", id, resolution))
	return nil
}
