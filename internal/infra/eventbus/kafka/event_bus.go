// Package kafka provides a Kafka-based implementation of the event bus for
// asynchronous distribution of scan lifecycle and progress events.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/events"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/internal/infra/eventbus/serialization"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

// EventBusMetrics defines metrics operations needed to monitor Kafka message handling.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// Config contains settings for connecting to and interacting with Kafka brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// ScanEventsTopic carries scan terminal events (completed, failed, cancelled).
	ScanEventsTopic string
	// ProgressTopic carries scan progress updates.
	ProgressTopic string

	// GroupID identifies the consumer group for this bus instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus on Kafka. Messages are keyed by scan ID
// so per-scan ordering survives partitioning.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to their Kafka topics.
	topicMap map[events.EventType]string

	subsMu   sync.RWMutex
	handlers map[events.EventType][]events.HandlerFunc
	consume  sync.Once

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBusFromConfig creates a Kafka-backed event bus from the provided
// configuration, establishing both producer and consumer group connections.
func NewEventBusFromConfig(
	cfg *Config,
	log *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka event bus")
	}

	log = log.With(
		"component", "kafka_event_bus",
		"client_id", cfg.ClientID,
		"group_id", cfg.GroupID,
	)

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	topicMap := map[events.EventType]string{
		scanning.EventTypeScanProgressed: cfg.ProgressTopic,
		scanning.EventTypeScanCompleted:  cfg.ScanEventsTopic,
		scanning.EventTypeScanFailed:     cfg.ScanEventsTopic,
		scanning.EventTypeScanCancelled:  cfg.ScanEventsTopic,
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topicMap:      topicMap,
		handlers:      make(map[events.EventType][]events.HandlerFunc),
		logger:        log,
		tracer:        tracer,
		metrics:       metrics,
	}, nil
}

// Publish serializes the envelope and sends it to the topic mapped to its
// event type, using the envelope key for partitioning.
func (b *EventBus) Publish(ctx context.Context, evt events.EventEnvelope, _ ...events.PublishOption) error {
	topic, ok := b.topicMap[evt.Type]
	if !ok {
		return fmt.Errorf("no topic mapped for event type %s", evt.Type)
	}

	ctx, span := b.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.String("event_type", string(evt.Type)),
		),
	)
	defer span.End()

	data, err := serialization.Serialize(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialization failed")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("serialize event %s: %w", evt.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if evt.Key != "" {
		msg.Key = sarama.StringEncoder(evt.Key)
	}

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	span.SetAttributes(
		attribute.Int64("messaging.kafka.partition", int64(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	b.metrics.IncMessagePublished(ctx, topic)
	return nil
}

// Subscribe registers a handler for the given event types and starts the
// consumer loop on first use. The loop runs until ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	b.subsMu.Lock()
	for _, t := range eventTypes {
		if _, ok := b.topicMap[t]; !ok {
			b.subsMu.Unlock()
			return fmt.Errorf("no topic mapped for event type %s", t)
		}
		b.handlers[t] = append(b.handlers[t], handler)
	}
	b.subsMu.Unlock()

	b.consume.Do(func() {
		topics := b.allTopics()
		go func() {
			for {
				if err := b.consumerGroup.Consume(ctx, topics, &consumerHandler{bus: b}); err != nil {
					b.logger.Error(ctx, "Consumer group session ended", "error", err)
				}
				if ctx.Err() != nil {
					return
				}
			}
		}()
	})
	return nil
}

// Close shuts down the producer and consumer group.
func (b *EventBus) Close() error {
	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	if err := b.consumerGroup.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close consumer group: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing kafka event bus: %v", errs)
	}
	return nil
}

func (b *EventBus) allTopics() []string {
	seen := make(map[string]struct{}, len(b.topicMap))
	var topics []string
	for _, topic := range b.topicMap {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}

// consumerHandler adapts sarama's consumer group callbacks to handler dispatch.
type consumerHandler struct {
	bus *EventBus
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.bus.dispatch(session.Context(), msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

func (b *EventBus) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) {
	ctx, span := b.tracer.Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.source", msg.Topic),
		),
	)
	defer span.End()

	evt, err := serialization.Deserialize(msg.Value)
	if err != nil {
		span.RecordError(err)
		b.metrics.IncConsumeError(ctx, msg.Topic)
		b.logger.Error(ctx, "Failed to deserialize message",
			"error", err, "topic", msg.Topic, "offset", msg.Offset)
		return
	}
	span.SetAttributes(attribute.String("event_type", string(evt.Type)))

	b.subsMu.RLock()
	handlers := make([]events.HandlerFunc, len(b.handlers[evt.Type]))
	copy(handlers, b.handlers[evt.Type])
	b.subsMu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, evt); err != nil {
			span.RecordError(err)
			b.metrics.IncConsumeError(ctx, msg.Topic)
			b.logger.Error(ctx, "Event handler failed",
				"error", err, "event_type", evt.Type, "topic", msg.Topic)
		}
	}
	b.metrics.IncMessageConsumed(ctx, msg.Topic)
}
