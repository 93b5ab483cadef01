package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип события.
type MessageType string

// Типы событий.
const (
	MessageTypePostPublished MessageType = "post.published"
	MessageTypeJobDead       MessageType = "job.dead"
)

// Message — конверт события.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// PostPublishedPayload — запись опубликована (webhook вернул 2xx).
type PostPublishedPayload struct {
	RecordID    uuid.UUID `json:"record_id"`
	JobID       string    `json:"job_id"`
	UserID      string    `json:"user_id"`
	AccountID   string    `json:"account_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	FiredAt     time.Time `json:"fired_at"`
	Attempt     int       `json:"attempt"`
}

// JobDeadPayload — job исчерпал попытки, запись осталась pending.
type JobDeadPayload struct {
	RecordID  uuid.UUID `json:"record_id"`
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	AccountID string    `json:"account_id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
}

// Publisher публикует события в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published event",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishPostPublished публикует post.published.
func (p *Publisher) PublishPostPublished(ctx context.Context, payload PostPublishedPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyPublished, NewMessage(MessageTypePostPublished, payload))
}

// PublishJobDead публикует job.dead.
func (p *Publisher) PublishJobDead(ctx context.Context, payload JobDeadPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyDead, NewMessage(MessageTypeJobDead, payload))
}

// NewMessage оборачивает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
