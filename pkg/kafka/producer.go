package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is one record on a topic. Key picks the partition, so every record
// of a subscription lands on the same partition in order.
type Message struct {
	Key   string
	Value interface{}
	At    time.Time
}

// Producer writes JSON records to a single topic.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("kafka brokers are not configured")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is not configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, topic: topic}, nil
}

func (p *Producer) Topic() string {
	return p.topic
}

// Publish marshals every message and writes them in one batch.
func (p *Producer) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	records := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		value, err := json.Marshal(m.Value)
		if err != nil {
			return fmt.Errorf("kafka: failed to marshal message %s: %w", m.Key, err)
		}
		at := m.At
		if at.IsZero() {
			at = time.Now()
		}
		records = append(records, kafka.Message{Key: []byte(m.Key), Value: value, Time: at})
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, records...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("kafka: write timeout on %s: %w", p.topic, err)
		}
		return fmt.Errorf("kafka: failed to write to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}
