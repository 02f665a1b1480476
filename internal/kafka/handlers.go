package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

type PaymentSignalProcessor interface {
	HandlePaymentSignal(ctx context.Context, sig models.PaymentSignal) error
}

type ChartRegistrar interface {
	RegisterChart(ctx context.Context, signal models.ChartPublished) error
}

// PaymentSignalHandler feeds gateway outcomes to the order engine. Business refusals
// are final and only logged; infrastructure failures are retried.
func PaymentSignalHandler(svc PaymentSignalProcessor, log *logger.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var sig models.PaymentSignal
		if err := json.Unmarshal(msg.Value, &sig); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Malformed payment signal at offset %d: %v", msg.Offset, err))
			return nil
		}
		log.LogKafka("consume", msg.Topic, fmt.Sprintf("payment signal order=%s ref=%s", sig.OrderID, sig.Reference))

		err := svc.HandlePaymentSignal(ctx, sig)
		if err != nil && isBusinessError(err) {
			log.Warn("PAYMENT", fmt.Sprintf("Payment signal for order %s refused: %v", sig.OrderID, err))
			return nil
		}
		return err
	}
}

// ChartPublishedHandler records charts published by the seat designer.
func ChartPublishedHandler(reg ChartRegistrar, log *logger.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var signal models.ChartPublished
		if err := json.Unmarshal(msg.Value, &signal); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Malformed chart signal at offset %d: %v", msg.Offset, err))
			return nil
		}
		log.LogKafka("consume", msg.Topic, "chart "+signal.ChartKey)

		err := reg.RegisterChart(ctx, signal)
		if err != nil && isBusinessError(err) {
			log.Warn("CATEGORY", fmt.Sprintf("Chart %s rejected: %v", signal.ChartKey, err))
			return nil
		}
		return err
	}
}

var businessErrors = []error{
	models.ErrHoldExpired,
	models.ErrHoldNotActive,
	models.ErrHoldNotFound,
	models.ErrInvalidTransition,
	models.ErrInvalidInput,
	models.ErrNotFound,
	models.ErrPromoInvalid,
	models.ErrInsufficientCapacity,
}

func isBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
