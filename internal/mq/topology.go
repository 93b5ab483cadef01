package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeEvents Exchange = "postflow.events"
	ExchangeDLQ    Exchange = "postflow.dlq"
)

// Queues.
const (
	QueuePostsPublished Queue = "posts.published"
	QueueJobsDead       Queue = "jobs.dead"
	QueueDLQEvents      Queue = "dlq.events"
)

// Routing keys.
const (
	RoutingKeyPublished RoutingKey = "post.published"
	RoutingKeyDead      RoutingKey = "job.dead"
	RoutingKeyDLQEvents RoutingKey = "events"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// topology — всё, что объявляет SetupTopology.
// Сообщения, отклонённые потребителем без requeue, уходят в dlq.events.
func topology() ([]exchangeDecl, []queueDecl, []bindingDecl) {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQEvents),
	}

	exchanges := []exchangeDecl{
		{ExchangeEvents, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}
	queues := []queueDecl{
		{QueuePostsPublished, dlqArgs},
		{QueueJobsDead, dlqArgs},
		{QueueDLQEvents, nil},
	}
	bindings := []bindingDecl{
		{QueuePostsPublished, RoutingKeyPublished, ExchangeEvents},
		{QueueJobsDead, RoutingKeyDead, ExchangeEvents},
		{QueueDLQEvents, RoutingKeyDLQEvents, ExchangeDLQ},
	}
	return exchanges, queues, bindings
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	exchanges, queues, bindings := topology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Postflow RabbitMQ Topology:

    postflow.events (direct)
    ├── posts.published [routing: post.published]
    │       Consumers: external subscribers (notifications)
    │       DLQ: dlq.events
    └── jobs.dead [routing: job.dead]
            Consumer: postflow-api (operator alerts)
            DLQ: dlq.events

    postflow.dlq (direct)
    └── dlq.events [routing: events]
            Manual processing
  `
}
