// Package events consumes application approval messages from RabbitMQ and
// turns them into print jobs.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ravaka/cardline/internal/config"
	"github.com/ravaka/cardline/internal/core"
)

// ApprovalMessage is the payload published by the licensing service when an
// application is approved for card production.
type ApprovalMessage struct {
	ApplicationID            string          `json:"application_id"`
	PersonID                 string          `json:"person_id"`
	LocationID               string          `json:"location_id"`
	LocationCode             string          `json:"location_code"`
	AdditionalApplicationIDs []string        `json:"additional_application_ids"`
	CardTemplate             string          `json:"card_template"`
	Priority                 string          `json:"priority"`
	LicenseData              json.RawMessage `json:"license_data"`
	PersonData               json.RawMessage `json:"person_data"`
}

type Consumer struct {
	cfg      config.EventsConfig
	workflow *core.Workflow
	conn     *amqp.Connection
	channel  *amqp.Channel
	log      *slog.Logger
}

func NewConsumer(cfg config.EventsConfig, workflow *core.Workflow, log *slog.Logger) *Consumer {
	return &Consumer{
		cfg:      cfg,
		workflow: workflow,
		log:      log.With("component", "events"),
	}
}

// Connect dials the broker with retries and declares the exchange, queue and
// binding this consumer reads from.
func (c *Consumer) Connect() error {
	var err error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		c.conn, err = amqp.Dial(c.cfg.URL)
		if err == nil {
			break
		}
		c.log.Warn("broker connection failed",
			"attempt", attempt, "max_attempts", c.cfg.RetryAttempts, "error", err)
		if attempt < c.cfg.RetryAttempts {
			time.Sleep(c.cfg.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to broker after %d attempts: %w", c.cfg.RetryAttempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declare(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	c.log.Info("connected to broker", "exchange", c.cfg.Exchange, "queue", c.cfg.Queue)
	return nil
}

func (c *Consumer) declare() error {
	if err := c.channel.ExchangeDeclare(
		c.cfg.Exchange, "topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := c.channel.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Run consumes until the context is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.channel.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.cfg.Queue,
		"cardline", // consumer tag
		false,      // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.Info("consuming approval events", "queue", c.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("event consumer stopping")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var msg ApprovalMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.log.Error("malformed approval message", "error", err, "body", string(delivery.Body))
		c.nack(delivery, false)
		return
	}

	job, err := c.workflow.CreateJob(ctx, core.CreateJobRequest{
		PersonID:                 msg.PersonID,
		LocationID:               msg.LocationID,
		LocationCode:             msg.LocationCode,
		ApplicationID:            msg.ApplicationID,
		AdditionalApplicationIDs: msg.AdditionalApplicationIDs,
		CardTemplate:             msg.CardTemplate,
		Priority:                 msg.Priority,
		LicenseData:              msg.LicenseData,
		PersonData:               msg.PersonData,
		Actor:                    "event-consumer",
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrActiveJobExists):
			// Redelivery of an approval already turned into a job.
			c.log.Info("approval already has an active job",
				"person_id", msg.PersonID, "application_id", msg.ApplicationID)
			c.ack(delivery)
		case isValidationError(err):
			c.log.Error("approval message rejected", "error", err, "application_id", msg.ApplicationID)
			c.nack(delivery, false)
		default:
			c.log.Error("failed to create print job from approval",
				"error", err, "application_id", msg.ApplicationID)
			c.nack(delivery, true)
		}
		return
	}

	c.log.Info("print job created from approval event",
		"job_id", job.ID, "job_number", job.JobNumber, "application_id", msg.ApplicationID)
	c.ack(delivery)
}

func isValidationError(err error) bool {
	var ve *core.ValidationError
	return errors.As(err, &ve)
}

func (c *Consumer) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.log.Error("failed to ack message", "error", err)
	}
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.log.Error("failed to nack message", "error", err)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
