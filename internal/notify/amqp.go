package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a connection and a channel with the exchange declared.
type dialFunc func() (amqpChannel, func() error, error)

// AMQPConfig configures the broker publisher.
type AMQPConfig struct {
	URL       string
	Exchange  string
	Heartbeat time.Duration
}

// AMQPPublisher publishes every market event to a topic exchange with routing
// key "market.<kind>". It implements domain.EventSink. A closed channel is
// redialled on the next Emit.
type AMQPPublisher struct {
	exchange string
	dial     dialFunc
	logger   *slog.Logger

	mu        sync.Mutex
	ch        amqpChannel
	closeConn func() error
}

// DialAMQP connects to the broker and declares a durable topic exchange.
func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQPPublisher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "secretmarket"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 60 * time.Second
	}
	dial := func() (amqpChannel, func() error, error) {
		conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
			Heartbeat: cfg.Heartbeat,
			Locale:    "en_US",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		if err := ch.ExchangeDeclare(
			cfg.Exchange,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
		}
		return ch, conn.Close, nil
	}

	p := newAMQPPublisher(cfg.Exchange, dial, logger)
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func newAMQPPublisher(exchange string, dial dialFunc, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		exchange: exchange,
		dial:     dial,
		logger:   logger.With(slog.String("component", "amqp_publisher")),
	}
}

// connect must be called with mu held or before the publisher is shared.
func (p *AMQPPublisher) connect() error {
	ch, closeConn, err := p.dial()
	if err != nil {
		return fmt.Errorf("amqp: %w", err)
	}
	p.ch, p.closeConn = ch, closeConn
	p.logger.Info("connected", slog.String("exchange", p.exchange))
	return nil
}

// Name implements domain.EventSink.
func (p *AMQPPublisher) Name() string { return "amqp" }

// RoutingKey returns the topic an event of kind k is published under.
func RoutingKey(k domain.EventKind) string { return "market." + string(k) }

// Emit implements domain.EventSink.
func (p *AMQPPublisher) Emit(_ context.Context, evt domain.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("amqp: encode event %s: %w", evt.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	err = p.ch.Publish(p.exchange, RoutingKey(evt.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.At,
		Type:         string(evt.Kind),
		Body:         body,
	})
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			p.logger.Warn("channel closed, will redial", slog.String("error", err.Error()))
			p.reset()
		}
		return fmt.Errorf("amqp: publish %s: %w", evt.Kind, err)
	}
	return nil
}

// reset drops the current channel and connection; mu must be held.
func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch, p.closeConn = nil, nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

var _ domain.EventSink = (*AMQPPublisher)(nil)
