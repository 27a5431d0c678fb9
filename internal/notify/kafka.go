package notify

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages as JSON to a Kafka topic; cmd/worker consumes and delivers them.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier creates a notifier that writes to topic. Returns nil when brokers or topic are empty.
// Call Close when shutting down.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaNotifier{writer: writer, topic: topic}
}

// Send serializes msg and writes it keyed by user id, so one user's notices stay ordered within a partition.
func (k *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	if k == nil || k.writer == nil {
		return nil
	}
	if msg.Recipient == "" {
		return ErrNoRecipient
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(msg.UserID),
		Value: payload,
	})
}

// Close closes the Kafka writer. Safe to call on nil.
func (k *KafkaNotifier) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message written by KafkaNotifier.
func Decode(value []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(value, &msg)
	return msg, err
}
