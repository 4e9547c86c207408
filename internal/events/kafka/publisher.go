// Package kafka publishes lifecycle events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/procflow/procflow/internal/events"
	"github.com/procflow/procflow/internal/platform/config"
	"github.com/procflow/procflow/internal/platform/logger"
)

// Publisher implements events.Publisher on a sarama async producer.
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	log      logger.Logger
}

// NewPublisher creates a Kafka publisher and starts its feedback loops.
func NewPublisher(cfg config.KafkaConfig, log logger.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Version = sarama.V3_3_1_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	p := &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		log:      log,
	}

	go p.handleErrors()
	go p.handleSuccesses()

	return p, nil
}

// Publish serializes and enqueues a lifecycle event. Delivery is
// asynchronous; failures surface through the error loop.
func (p *Publisher) Publish(ctx context.Context, event *events.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.ExecutionID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("eventType"), Value: []byte(event.Type)},
			{Key: []byte("workflowId"), Value: []byte(event.WorkflowID)},
		},
		Timestamp: event.Timestamp,
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

func (p *Publisher) handleErrors() {
	for err := range p.producer.Errors() {
		p.log.Error("failed to publish event",
			"topic", err.Msg.Topic,
			"error", err.Err,
		)
	}
}

func (p *Publisher) handleSuccesses() {
	for msg := range p.producer.Successes() {
		p.log.Debug("event published",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}
