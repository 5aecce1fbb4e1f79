package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPublisher adapts an amqp connection and channel in confirm mode.
type ChannelPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to url, declares a durable topic exchange and enables
// publisher confirms.
func Dial(url, exchange string) (*ChannelPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &ChannelPublisher{conn: conn, ch: ch}, nil
}

func (p *ChannelPublisher) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error) {
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	return conf, nil
}

// Ping reports whether the connection is still open.
func (p *ChannelPublisher) Ping(ctx context.Context) error {
	if p.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (p *ChannelPublisher) Close() error {
	if err := p.ch.Close(); err != nil && err != amqp.ErrClosed {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
