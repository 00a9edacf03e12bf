package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const publishTimeout = 5 * time.Second

// AMQPGateway publishes envelopes to a topic exchange with publisher
// confirms. Routing keys are "stockwatch.<kind>".
type AMQPGateway struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

// NewAMQPGateway dials the broker and declares the exchange.
func NewAMQPGateway(url, exchange string, logger *slog.Logger) (*AMQPGateway, error) {
	g := &AMQPGateway{url: url, exchange: exchange, logger: logger}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.connect(); err != nil {
		return nil, err
	}
	return g, nil
}

// connect opens a connection and a confirm-mode channel. Caller holds mu.
func (g *AMQPGateway) connect() error {
	conn, err := amqp.Dial(g.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	err = ch.ExchangeDeclare(
		g.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", g.exchange, err)
	}

	g.conn = conn
	g.ch = ch
	g.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	g.logger.Info("AMQP gateway connected", "exchange", g.exchange)
	return nil
}

// Deliver publishes env and waits for the broker to confirm it. A lost
// connection is re-dialed on the next delivery.
func (g *AMQPGateway) Deliver(ctx context.Context, env Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil || g.conn.IsClosed() {
		if err := g.connect(); err != nil {
			return err
		}
	}

	err := g.ch.Publish(
		g.exchange,
		"stockwatch."+string(env.Kind),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{"key": env.Key},
			Body:         env.Payload,
		},
	)
	if err != nil {
		g.conn.Close()
		return fmt.Errorf("publish %s: %w", env.ID, err)
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-g.confirms:
		if !ok {
			return errors.New("confirm channel closed")
		}
		if !confirm.Ack {
			return fmt.Errorf("broker nacked %s", env.ID)
		}
		return nil
	case <-timer.C:
		// The channel may still deliver a stale confirm; start fresh.
		g.conn.Close()
		return fmt.Errorf("publish confirmation timeout for %s", env.ID)
	case <-ctx.Done():
		g.conn.Close()
		return ctx.Err()
	}
}

// Close shuts down the connection.
func (g *AMQPGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil || g.conn.IsClosed() {
		return nil
	}
	return g.conn.Close()
}
