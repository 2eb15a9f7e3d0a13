// Package queue provides the RabbitMQ publishing side of the legacy
// event bridge. Document lifecycle events consumed off the shared log
// are re-published onto a durable topic exchange for consumers that
// predate the log.
package queue

import (
	"fmt"

	"github.com/streadway/amqp"

	"scribe.evalgo.org/common"
)

// Config carries the RabbitMQ connection and exchange settings.
type Config struct {
	// URL is the AMQP connection URL
	URL string

	// Exchange is the durable topic exchange events are published to
	Exchange string
}

// EventPublisher defines the interface for publishing bridged events.
// This interface allows for easy mocking and testing of publishing
// functionality.
type EventPublisher interface {
	// PublishEvent publishes one event body under a routing key.
	PublishEvent(routingKey string, body []byte) error

	// Close closes the connection to the message queue.
	Close() error
}

// RabbitMQService publishes bridged events to RabbitMQ. It manages one
// connection and one channel; the exchange is declared durable on
// startup so it survives broker restarts.
type RabbitMQService struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     Config
}

// NewRabbitMQService connects to RabbitMQ and declares the exchange.
func NewRabbitMQService(config Config) (*RabbitMQService, error) {
	return NewRabbitMQServiceWithDialer(config, &RealAMQPDialer{})
}

// NewRabbitMQServiceWithDialer creates the service with an injected
// dialer for testing. If any setup step fails, resources created so far
// are cleaned up before the error is returned.
func NewRabbitMQServiceWithDialer(config Config, dialer AMQPDialer) (*RabbitMQService, error) {
	if config.Exchange == "" {
		return nil, fmt.Errorf("exchange name is required")
	}

	conn, err := dialer.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		config.Exchange, // name
		"topic",         // kind
		true,            // durable
		false,           // auto-delete
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitMQService{
		connection: conn,
		channel:    ch,
		config:     config,
	}, nil
}

// PublishEvent publishes one event body to the exchange under the given
// routing key. The message is persistent so it survives a broker
// restart while queued.
func (r *RabbitMQService) PublishEvent(routingKey string, body []byte) error {
	err := r.channel.Publish(
		r.config.Exchange, // exchange
		routingKey,        // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	common.Logger.WithField("routing_key", routingKey).Debug("bridged event published")
	return nil
}

// Close closes the RabbitMQ channel and connection. Safe on partially
// constructed services.
func (r *RabbitMQService) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
	return nil
}
