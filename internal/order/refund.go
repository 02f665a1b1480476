package order

import (
	"context"
	"fmt"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"
)

// RefundOrder refunds up to the order total and voids every ticket. Inventory is
// not returned; that is RestockOrder's job.
func (s *OrderService) RefundOrder(ctx context.Context, id string, amount int64) (*models.Order, error) {
	var (
		order     *models.Order
		cancelled int
	)
	err := database.WithTx(ctx, s.conn, func(ctx context.Context) error {
		o, err := s.DB.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(o, models.OrderRefunded); err != nil {
			return err
		}
		if amount <= 0 || amount > o.Total {
			return fmt.Errorf("refund %d of order total %d: %w", amount, o.Total, models.ErrInvalidInput)
		}

		now := s.clock.Now()
		from := o.Status
		o.Status = models.OrderRefunded
		o.RefundedAmount = amount
		o.RefundedAt = now
		won, err := s.DB.UpdateStatus(ctx, o, from, "refunded_amount", "refunded_at")
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("order %s changed concurrently: %w", id, models.ErrInvalidTransition)
		}

		cancelled, err = s.issuer.CancelOrderTickets(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("cancel tickets: %w", err)
		}
		if err := s.recordTransition(ctx, o, from, fmt.Sprintf("refund %d", amount)); err != nil {
			return err
		}

		// Money moves only after every local write above succeeded.
		reference := o.PaymentRef
		if s.refunder != nil && o.PaymentRef != "" {
			reference, err = s.refunder.Refund(ctx, o.PaymentRef, amount, o.Currency)
			if err != nil {
				return fmt.Errorf("gateway refund: %w", err)
			}
		}
		if err := s.DB.InsertSettlement(ctx, &models.Settlement{
			ID:        utils.GenerateSettlementID(now),
			OrderID:   o.ID,
			Kind:      models.SettlementRefund,
			Amount:    amount,
			Currency:  o.Currency,
			Reference: reference,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("record settlement: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		s.logger.Warn("ORDER", fmt.Sprintf("Refund of order %s failed: %v", id, err))
		return nil, err
	}

	s.logger.LogOrder("refund", id, fmt.Sprintf("amount=%d %s tickets_cancelled=%d", amount, order.Currency, cancelled))
	return order, nil
}

// RestockOrder puts a refunded order's units back on sale. It can run once per order.
func (s *OrderService) RestockOrder(ctx context.Context, id string) (*models.Order, error) {
	var order *models.Order
	err := database.WithTx(ctx, s.conn, func(ctx context.Context) error {
		o, err := s.DB.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != models.OrderRefunded {
			return fmt.Errorf("order %s is %s, only refunded orders restock: %w", id, o.Status, models.ErrInvalidTransition)
		}

		now := s.clock.Now()
		ok, err := s.DB.MarkRestocked(ctx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s already restocked: %w", id, models.ErrInvalidTransition)
		}
		if err := s.restocker.Restock(ctx, s.orderLines(o)); err != nil {
			return fmt.Errorf("restock: %w", err)
		}
		o.RestockedAt = now
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogOrder("restock", id, fmt.Sprintf("lines=%d", len(order.Items)))
	return order, nil
}
