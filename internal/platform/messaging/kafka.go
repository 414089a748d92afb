package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"agora/contexts/community-governance/proposal-engine/ports"

	"github.com/segmentio/kafka-go"
)

// Kafka is the event bus adapter used by the outbox relay and the
// membership consumer. One writer serves every topic; each subscription
// gets its own consumer-group reader running in a goroutine.
type Kafka struct {
	brokers []string
	writer  *kafka.Writer
	logger  *slog.Logger
}

func NewKafka(brokers []string, logger *slog.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &Kafka{
		brokers: brokers,
		writer:  writer,
		logger:  logger,
	}, nil
}

func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Publish writes the envelope keyed by its partition key so all events for
// one proposal land on the same partition in order.
func (k *Kafka) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := event.PartitionKey
	if key == "" {
		key = event.EventID
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}); err != nil {
		k.logger.Error("event publish failed",
			"event", "kafka_publish_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	k.logger.Info("event published",
		"event", "kafka_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
	)
	return nil
}

// Subscribe starts a consumer-group reader for the topic. Handler errors are
// logged and the message is committed anyway: consumers dedupe by event id,
// so redelivery adds nothing while an unskippable poison message would wedge
// the partition.
func (k *Kafka) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.brokers,
		Topic:   topic,
		GroupID: consumerGroup,
	})

	go func() {
		defer func() { _ = reader.Close() }()
		for {
			message, err := reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				k.logger.Error("consumer read failed",
					"event", "kafka_consume_read_failed",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"topic", topic,
					"consumer_group", consumerGroup,
					"error", err.Error(),
				)
				return
			}

			var envelope ports.EventEnvelope
			if err := json.Unmarshal(message.Value, &envelope); err != nil {
				k.logger.Error("consumer envelope decode failed",
					"event", "kafka_consume_decode_failed",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"topic", topic,
					"consumer_group", consumerGroup,
					"error", err.Error(),
				)
				continue
			}
			if err := handler(ctx, envelope); err != nil {
				k.logger.Error("consumer handler failed",
					"event", "kafka_consume_failed",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"topic", topic,
					"consumer_group", consumerGroup,
					"event_id", envelope.EventID,
					"event_type", envelope.EventType,
					"error", err.Error(),
				)
			}
		}
	}()
	return nil
}

var _ ports.EventPublisher = (*Kafka)(nil)
var _ ports.EventSubscriber = (*Kafka)(nil)
