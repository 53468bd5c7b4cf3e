// Package events publishes conversation events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"virtual-avatar-service/internal/models"
	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/schema"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes state changes and transcripts to separate Kafka topics.
type Publisher struct {
	writerState      messageWriter
	writerTranscript messageWriter
	principal        string
	topicState       string
	topicTranscript  string
	enabled          bool
	validator        *schema.Validator
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicState      string
	TopicTranscript string
	Principal       string
	Enabled         bool
	// Async makes writes return immediately; delivery errors are logged and
	// counted from the writer's completion callback.
	Async bool

	// Validator checks events before they are written. Nil uses schema.New.
	Validator *schema.Validator
	Metrics   *metrics.Metrics
}

// New creates a Kafka publisher with separate topics for state changes and
// transcripts. A nil or disabled config yields a log-only publisher.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			validator: schema.New(),
			metrics:   metrics.DefaultMetrics,
		}
	}

	p := &Publisher{
		principal:       cfg.Principal,
		topicState:      cfg.TopicState,
		topicTranscript: cfg.TopicTranscript,
		validator:       cfg.Validator,
		metrics:         cfg.Metrics,
	}
	if p.validator == nil {
		p.validator = schema.New()
	}
	if p.metrics == nil {
		p.metrics = metrics.DefaultMetrics
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerState = p.newWriter(cfg, cfg.TopicState, models.EventStateChanged, transport)
	p.writerTranscript = p.newWriter(cfg, cfg.TopicTranscript, models.EventTranscriptRecorded, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicState", cfg.TopicState).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("principal", cfg.Principal).
		Bool("async", cfg.Async).
		Msg("Kafka publisher initialized")

	return p
}

func (p *Publisher) newWriter(cfg *Config, topic, eventType string, transport *kafka.Transport) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
		Async:        cfg.Async,
	}
	if cfg.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Int("messages", len(msgs)).Msg("Async Kafka delivery failed")
			for range msgs {
				p.metrics.RecordKafkaPublish(topic, eventType, err, 0)
			}
		}
	}
	return w
}

// PublishState publishes a StateChanged event keyed by session.
func (p *Publisher) PublishState(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerState, p.topicState, models.EventStateChanged, key, event)
}

// PublishTranscript publishes a TranscriptRecorded event keyed by session.
func (p *Publisher) PublishTranscript(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, models.EventTranscriptRecorded, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Event failed schema validation")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return fmt.Errorf("validate %s: %w", eventType, err)
	}

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

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerState != nil {
		if e := p.writerState.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing state writer")
			err = multierr.Append(err, e)
		}
	}
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = multierr.Append(err, e)
		}
	}
	return err
}
