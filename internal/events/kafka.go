// Package events mirrors order events to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/vasiliy-maslov/food-delivery/internal/notify"
)

var ErrDisabled = errors.New("events: kafka disabled")

// ParseBrokers splits a comma separated broker list, skipping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink returns ErrDisabled when no brokers are configured.
func NewKafkaSink(brokersCSV, topic string) (*KafkaSink, error) {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil, ErrDisabled
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

// Consume writes the event keyed by order id, so one order's events land on
// one partition in commit order.
func (s *KafkaSink) Consume(ctx context.Context, ev notify.Event) error {
	msg, err := message(ev)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: failed to write %s for order %s: %w", ev.Type, ev.Order.ID, err)
	}
	return nil
}

func message(ev notify.Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Order.ID.String()),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
