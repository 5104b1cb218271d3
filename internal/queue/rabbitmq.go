// Package queue carries dispatch commands from the API to background workers
// over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/models"
)

// DispatchCommand asks a worker to run one bulk send
type DispatchCommand struct {
	JobID            string             `json:"job_id"`
	List             models.ContactList `json:"list"`
	TemplateID       string             `json:"template_id"`
	Provider         string             `json:"provider"`
	ContactIDs       []string           `json:"contact_ids,omitempty"`
	Link             string             `json:"link,omitempty"`
	NotificationType string             `json:"notification_type,omitempty"`
}

// Handler processes one command. A returned error rejects the message.
type Handler func(ctx context.Context, cmd DispatchCommand) error

type Publisher interface {
	PublishDispatch(ctx context.Context, cmd DispatchCommand) error
}

type RabbitMqClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     zerolog.Logger
}

func NewRabbitMqClient(cfg config.RabbitMQConfig, log zerolog.Logger) (*RabbitMqClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	client := &RabbitMqClient{
		conn:    conn,
		channel: channel,
		queue:   cfg.Queue,
		log:     log.With().Str("component", "queue").Logger(),
	}
	if err := client.setUpQueue(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RabbitMqClient) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	return r.conn.Close()
}

func (r *RabbitMqClient) setUpQueue() error {
	if _, err := r.channel.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", r.queue, err)
	}
	// one bulk send at a time per worker; sends are already paced per provider
	if err := r.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	return nil
}

func (r *RabbitMqClient) PublishDispatch(ctx context.Context, cmd DispatchCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := r.channel.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    cmd.JobID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to publish dispatch command: %w", err)
	}
	return nil
}

// Consume runs h for every command until ctx is cancelled or the channel closes.
func (r *RabbitMqClient) Consume(ctx context.Context, h Handler) error {
	deliveries, err := r.channel.ConsumeWithContext(ctx, r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			r.handle(ctx, d, h)
		}
	}
}

// handle acks processed commands and drops malformed or failed ones.
// Redelivering a half-sent batch would message guests twice.
func (r *RabbitMqClient) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	var cmd DispatchCommand
	if err := json.Unmarshal(d.Body, &cmd); err != nil {
		r.log.Error().Err(err).Msg("dropping malformed dispatch command")
		d.Reject(false)
		return
	}
	if err := h(ctx, cmd); err != nil {
		r.log.Error().Err(err).Str("job_id", cmd.JobID).Msg("dispatch command failed")
		d.Nack(false, false)
		return
	}
	d.Ack(false)
}
