// Package events provides transcript event publishing to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-relay-service/internal/observability/metrics"
)

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerMessage *kafka.Writer
	writerSaved   *kafka.Writer
	principal     string
	topicMessage  string
	topicSaved    string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicMessage string
	TopicSaved   string
	Principal    string
	Enabled      bool
}

// New creates a new Kafka event publisher with separate topics for
// finalized-message and conversation-saved events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicMessage: cfg.TopicMessage,
			topicSaved:   cfg.TopicSaved,
			enabled:      false,
			metrics:      m,
		}
	}

	// Custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerMessage := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicMessage,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerSaved := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSaved,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicMessage", cfg.TopicMessage).
		Str("topicSaved", cfg.TopicSaved).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerMessage: writerMessage,
		writerSaved:   writerSaved,
		principal:     cfg.Principal,
		topicMessage:  cfg.TopicMessage,
		topicSaved:    cfg.TopicSaved,
		enabled:       true,
		metrics:       m,
	}
}

// PublishMessage publishes a finalized-message event keyed by conversation id.
func (p *Publisher) PublishMessage(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerMessage, p.topicMessage, key, event)
}

// PublishSaved publishes a conversation-saved event keyed by conversation id.
func (p *Publisher) PublishSaved(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerSaved, p.topicSaved, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, err)
		return err
	}

	p.metrics.RecordKafkaPublish(topic, nil)
	return nil
}

// Close closes the Kafka writers.
func (p *Publisher) Close() error {
	if !p.enabled {
		return nil
	}
	if p.writerMessage != nil {
		if err := p.writerMessage.Close(); err != nil {
			return err
		}
	}
	if p.writerSaved != nil {
		return p.writerSaved.Close()
	}
	return nil
}
