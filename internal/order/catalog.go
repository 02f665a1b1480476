package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
)

// SavePromo creates or edits a promo code. Usage counters are never overwritten.
func (s *OrderService) SavePromo(ctx context.Context, p *models.PromoCode) error {
	p.Code = strings.TrimSpace(p.Code)
	switch {
	case p.Code == "":
		return fmt.Errorf("promo code is required: %w", models.ErrInvalidInput)
	case p.Amount <= 0:
		return fmt.Errorf("promo %s amount %d: %w", p.Code, p.Amount, models.ErrInvalidInput)
	case p.Type == models.DiscountPercentage && p.Amount > 10000:
		return fmt.Errorf("promo %s exceeds 100%%: %w", p.Code, models.ErrInvalidInput)
	case p.Type != models.DiscountPercentage && p.Type != models.DiscountFixed:
		return fmt.Errorf("promo %s type %q: %w", p.Code, p.Type, models.ErrInvalidInput)
	case p.MaxUses < 0 || p.MaxUsesPerUser < 0 || p.MaxDiscount < 0 || p.MinOrderValue < 0:
		return fmt.Errorf("promo %s limits must not be negative: %w", p.Code, models.ErrInvalidInput)
	case !p.ValidFrom.IsZero() && !p.ValidUntil.IsZero() && !p.ValidFrom.Before(p.ValidUntil):
		return fmt.Errorf("promo %s window is empty: %w", p.Code, models.ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock.Now()
	}
	if err := s.DB.UpsertPromo(ctx, p); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("promo code %s already exists: %w", p.Code, models.ErrInvalidInput)
		}
		return err
	}
	s.logger.Info("PROMO", fmt.Sprintf("Promo %s saved (%s %d, max uses %d)", p.Code, p.Type, p.Amount, p.MaxUses))
	return nil
}

// SaveFee creates or edits a fee rule. Orders keep the breakdown they were priced with.
func (s *OrderService) SaveFee(ctx context.Context, f *models.Fee) error {
	switch f.Type {
	case models.FeeFixed, models.FeePercent, models.FeePerTicket, models.FeePerOrder:
	default:
		return fmt.Errorf("fee type %q: %w", f.Type, models.ErrInvalidInput)
	}
	if f.Payer != models.PayerBuyer && f.Payer != models.PayerOrganizer {
		return fmt.Errorf("fee payer %q: %w", f.Payer, models.ErrInvalidInput)
	}
	if f.Name == "" || f.Amount < 0 || f.Cap < 0 {
		return fmt.Errorf("fee %q needs a name and non-negative amounts: %w", f.Name, models.ErrInvalidInput)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if err := s.DB.UpsertFee(ctx, f); err != nil {
		return err
	}
	s.logger.Info("FEE", fmt.Sprintf("Fee %s saved (%s %d paid by %s)", f.Name, f.Type, f.Amount, f.Payer))
	return nil
}
