package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ms-checkout/internal/logger"
)

// StripeRefunder refunds through Stripe. The payment reference is either a
// PaymentIntent (pi_...) or a Charge (ch_...).
type StripeRefunder struct {
	client *client.API
	logger *logger.Logger
}

func NewStripeRefunder(secretKey string, log *logger.Logger) *StripeRefunder {
	return &StripeRefunder{client: client.New(secretKey, nil), logger: log}
}

func (r *StripeRefunder) Refund(ctx context.Context, paymentRef string, amount int64, currency string) (string, error) {
	params, err := refundParams(paymentRef, amount)
	if err != nil {
		return "", err
	}
	params.Context = ctx

	r.logger.Info("PAYMENT", fmt.Sprintf("Refunding %d %s on %s", amount, strings.ToUpper(currency), paymentRef))
	refund, err := r.client.Refunds.New(params)
	if err != nil {
		r.logger.Error("PAYMENT", fmt.Sprintf("Stripe refund on %s failed: %v", paymentRef, err))
		return "", fmt.Errorf("stripe refund: %w", err)
	}
	r.logger.Info("PAYMENT", fmt.Sprintf("Refund %s status=%s", refund.ID, refund.Status))
	return refund.ID, nil
}

func refundParams(paymentRef string, amount int64) (*stripe.RefundParams, error) {
	params := &stripe.RefundParams{Amount: stripe.Int64(amount)}
	switch {
	case strings.HasPrefix(paymentRef, "pi_"):
		params.PaymentIntent = stripe.String(paymentRef)
	case strings.HasPrefix(paymentRef, "ch_"):
		params.Charge = stripe.String(paymentRef)
	default:
		return nil, fmt.Errorf("payment reference %q is not a stripe payment", paymentRef)
	}
	params.AddMetadata("source", "ms-checkout")
	return params, nil
}
