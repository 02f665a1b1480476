package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-checkout/internal/logger"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Returning an error asks for a retry.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader      MessageReader
	topic       string
	logger      *logger.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer creates a consumer-group reader for the given topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, topic, log)
}

func NewConsumerWithReader(reader MessageReader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:      reader,
		topic:       topic,
		logger:      log,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
}

// Start consumes until ctx is cancelled. A message is committed once the handler
// accepts it or after the last failed attempt, so one poison message cannot stall
// the partition.
func (c *Consumer) Start(ctx context.Context, handler Handler) {
	c.logger.LogKafka("start", c.topic, "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.LogKafka("stop", c.topic, "consumer stopped")
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading from %s: %v", c.topic, err))
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.handle(ctx, handler, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("KAFKA", fmt.Sprintf("Commit of %s offset %d failed: %v", c.topic, msg.Offset, err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler Handler, msg kafka.Message) {
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return
		}
		if attempt >= c.maxAttempts {
			c.logger.Error("KAFKA", fmt.Sprintf("Dropping %s offset %d after %d attempts: %v", c.topic, msg.Offset, attempt, err))
			return
		}
		c.logger.Warn("KAFKA", fmt.Sprintf("Attempt %d for %s offset %d failed: %v", attempt, c.topic, msg.Offset, err))
		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
