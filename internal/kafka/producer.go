package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ticket-ledger/internal/logger"
)

// Producer streams ledger lifecycle events to kafka. In mock mode messages
// are logged and dropped, which keeps local development broker-free.
type Producer struct {
	Writer   *kafka.Writer
	Logger   *logger.Logger
	MockMode bool
}

func NewProducer(brokers []string, log *logger.Logger, mockMode bool) *Producer {
	if mockMode {
		return &Producer{Logger: log, MockMode: true}
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer, Logger: log}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal kafka payload: %w", err)
	}

	if p.MockMode {
		p.Logger.LogKafka("MOCK", topic, string(value))
		return nil
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	p.Logger.LogKafka("PUBLISH", topic, key)
	return nil
}

func (p *Producer) Close() error {
	if p.Writer != nil {
		return p.Writer.Close()
	}
	return nil
}
