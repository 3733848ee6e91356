package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a single topic.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates an async writer; delivery errors surface through
// the completion callback and are only logged.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write otp events",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}

	logger.Info("kafka event publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)
	return newKafkaPublisher(writer, topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.partitionKey),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s to %s: %w", ev.Type, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("failed to close kafka event publisher", zap.Error(err))
		return err
	}
	p.logger.Info("kafka event publisher closed")
	return nil
}
