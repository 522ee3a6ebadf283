package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPEventPublisher publishes cart events on a topic exchange with the
// routing key cart.<state>
type AMQPEventPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	mu       sync.Mutex
}

// NewAMQPEventPublisher connects to RabbitMQ and declares the exchange
func NewAMQPEventPublisher(url, exchange string) (*AMQPEventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Printf("Event publisher: connected to RabbitMQ exchange %s", exchange)
	return &AMQPEventPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// RoutingKey returns the routing key of an event
func RoutingKey(event *CartEvent) string {
	return "cart." + string(event.To)
}

// Publish sends the event as a persistent JSON message
func (p *AMQPEventPublisher) Publish(ctx context.Context, event *CartEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal cart event: %w", err)
	}

	// amqp.Channel is not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%s", event.CartID, event.To),
		Timestamp:    event.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish cart event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection
func (p *AMQPEventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// LogEventPublisher writes events to the log when no broker is configured
type LogEventPublisher struct{}

// Publish logs the event
func (LogEventPublisher) Publish(ctx context.Context, event *CartEvent) error {
	log.Printf("Event: cart %s %s -> %s (%s)", event.CartID, event.From, event.To, event.Source)
	return nil
}
