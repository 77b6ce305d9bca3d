// Package events publishes reconcile summaries to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"ml-feature-reconciler/internal/metrics"
	"ml-feature-reconciler/internal/reconciler"
	"ml-feature-reconciler/pkg/logger"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "ml-features.reconciled"

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SymbolReconciled is the event value, keyed by symbol.
type SymbolReconciled struct {
	RunID string `json:"run_id"`
	reconciler.SymbolResult
	PublishedAt time.Time `json:"published_at"`
}

type Publisher struct {
	writer messageWriter
	topic  string
	log    *logger.Logger
}

// NewPublisher returns nil when no brokers are configured so callers can
// leave publishing disabled.
func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
		log:   logger.Get().With("component", "kafka_publisher"),
	}
}

// PublishSymbolResult writes one event. The symbol key keeps a symbol's events
// on one partition.
func (p *Publisher) PublishSymbolResult(ctx context.Context, runID string, result reconciler.SymbolResult) (err error) {
	defer func() { metrics.RecordEvent(err) }()

	data, err := json.Marshal(SymbolReconciled{RunID: runID, SymbolResult: result, PublishedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	msg := kafka.Message{Key: []byte(result.Symbol), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Errorf("Failed to publish to %s: %v", p.topic, err)
		return err
	}
	p.log.Debugf("Published to %s: %s", p.topic, result.Symbol)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
