package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const defaultSubmittedVia = "queue"

// Reprocessor submits a stored content item for processing
type Reprocessor interface {
	Reprocess(ctx context.Context, contentID, submittedVia string) (*domain.Job, bool, error)
}

// ConsumerConfig holds reprocess consumer configuration
type ConsumerConfig struct {
	Logger      *slog.Logger
	Reprocessor Reprocessor
}

// Consumer turns queued reprocess requests into pipeline jobs
type Consumer struct {
	logger      *slog.Logger
	reprocessor Reprocessor
}

// NewConsumer creates a new reprocess consumer
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	return &Consumer{
		logger:      cfg.Logger.With(slog.String("component", "reprocess-consumer")),
		reprocessor: cfg.Reprocessor,
	}
}

// Run handles deliveries until ctx is done or the delivery channel closes.
// A closed channel while ctx is still live is reported as an error.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	c.logger.Info("Reprocess consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Reprocess consumer stopped")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	logger := c.logger.With(slog.Uint64("delivery_tag", delivery.DeliveryTag))

	var msg domain.ReprocessMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil || msg.ContentID == "" {
		logger.Error("Discarding malformed reprocess message",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		c.nack(logger, delivery, false)
		return
	}

	via := msg.SubmittedVia
	if via == "" {
		via = defaultSubmittedVia
	}

	logger = logger.With(slog.String("content_id", msg.ContentID))

	job, created, err := c.reprocessor.Reprocess(ctx, msg.ContentID, via)
	switch {
	case err == nil:
		if job == nil {
			logger.Info("Pipeline disabled, reprocess request dropped")
		} else {
			logger.Info("Reprocess request accepted",
				slog.String("job_id", job.ID),
				slog.Bool("created", created),
			)
		}
		if ackErr := delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}

	case errors.Is(err, domain.ErrContentNotFound), errors.Is(err, domain.ErrInvalidInput):
		logger.Warn("Rejecting reprocess request",
			slog.Any("error", err),
		)
		c.nack(logger, delivery, false)

	default:
		logger.Error("Failed to reprocess content, requeueing",
			slog.Any("error", err),
		)
		c.nack(logger, delivery, true)
	}
}

func (c *Consumer) nack(logger *slog.Logger, delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		logger.Error("Failed to NACK message",
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
	}
}
