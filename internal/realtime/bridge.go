package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/channel"
)

const channelHeader = "x-channel"

// Bridge relays publishes between service instances through a fanout
// exchange. Every instance publishes to the exchange and delivers what it
// consumes into its own hub, so a client connected anywhere sees every event.
type Bridge struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	publish  publishFunc
	exchange string
	local    *Hub
	retry    time.Duration
}

// confirmation is the broker's answer for exactly one publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishFunc func(ctx context.Context, msg amqp.Publishing) (confirmation, error)

func DialBridge(url, exchange string, local *Hub) (*Bridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("realtime: failed to dial rabbitmq: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("realtime: failed to open channel: %w", err)
	}
	if err := pub.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("realtime: failed to declare exchange %s: %w", exchange, err)
	}
	if err := pub.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("realtime: failed to enable confirms: %w", err)
	}

	return &Bridge{
		conn: conn,
		pub:  pub,
		publish: func(ctx context.Context, msg amqp.Publishing) (confirmation, error) {
			return pub.PublishWithDeferredConfirmWithContext(ctx, exchange, "", false, false, msg)
		},
		exchange: exchange,
		local:    local,
		retry:    time.Second,
	}, nil
}

// Publish waits for the broker to confirm this message. A confirm that shows
// up after ctx expired belongs to its own publish and is never read by a
// later one.
func (b *Bridge) Publish(ctx context.Context, key channel.Key, payload []byte) error {
	conf, err := b.publish(ctx, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{channelHeader: string(key)},
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("realtime: publish to %s failed: %w", key, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("realtime: no confirm for %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("realtime: publish to %s NACKed by broker", key)
	}
	return nil
}

// Run consumes this instance's exclusive queue until ctx is done. A broken
// consumer channel is reopened; a lost connection ends Run with an error.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		err := b.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if b.conn.IsClosed() {
			return fmt.Errorf("realtime: rabbitmq connection lost: %w", err)
		}
		log.Warn().Err(err).Dur("retry_in", b.retry).Msg("realtime: bridge consumer stopped, reopening")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.retry):
		}
	}
}

func (b *Bridge) consume(ctx context.Context) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("realtime: failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("realtime: failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("realtime: failed to bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("realtime: failed to consume: %w", err)
	}

	log.Info().Str("exchange", b.exchange).Str("queue", q.Name).Msg("realtime: bridge consuming")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("realtime: delivery channel closed")
			}
			key, ok := channelFromHeaders(d.Headers)
			if !ok {
				log.Warn().Str("message_id", d.MessageId).Msg("realtime: delivery without channel header")
				continue
			}
			_ = b.local.Publish(ctx, key, d.Body)
		}
	}
}

func channelFromHeaders(headers amqp.Table) (channel.Key, bool) {
	raw, ok := headers[channelHeader].(string)
	if !ok || raw == "" {
		return "", false
	}
	return channel.Key(raw), true
}

func (b *Bridge) Close() {
	if b.pub != nil {
		_ = b.pub.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
