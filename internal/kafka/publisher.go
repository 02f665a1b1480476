package kafka

import (
	"context"
	"fmt"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

// Publisher maps domain events onto their topics. It satisfies the order engine's
// publisher and the ledger's availability notifier.
type Publisher struct {
	producer *Producer
	topics   config.TopicConfig
	logger   *logger.Logger
}

func NewPublisher(producer *Producer, topics config.TopicConfig, log *logger.Logger) *Publisher {
	return &Publisher{producer: producer, topics: topics, logger: log}
}

func (p *Publisher) PublishOrderStatus(ctx context.Context, evt models.OrderStatusChanged) error {
	return p.publish(ctx, p.topics.OrderStatus, evt.OrderID, evt)
}

func (p *Publisher) PublishTicketsIssued(ctx context.Context, evt models.TicketsIssued) error {
	return p.publish(ctx, p.topics.TicketsIssued, evt.OrderID, evt)
}

func (p *Publisher) PublishReconciliation(ctx context.Context, c models.ReconciliationCase) error {
	return p.publish(ctx, p.topics.Reconciliation, c.OrderID, c)
}

// AvailabilityChanged is fire-and-forget: the ledger mutation already committed.
func (p *Publisher) AvailabilityChanged(ctx context.Context, evt models.AvailabilityChanged) {
	if err := p.publish(ctx, p.topics.AvailabilityChanged, evt.EventID, evt); err != nil {
		p.logger.Error("KAFKA", fmt.Sprintf("Availability change for event %s not published: %v", evt.EventID, err))
	}
}

func (p *Publisher) publish(ctx context.Context, topic, key string, value any) error {
	if err := p.producer.Publish(ctx, topic, key, value); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.LogKafka("publish", topic, "key="+key)
	return nil
}
