// Package redpanda publishes and consumes generation jobs over the Kafka
// protocol.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

// DefaultTopic carries generation jobs when no topic is configured.
const DefaultTopic = "generation-jobs"

type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Producer implements domain.Queue.
type Producer struct {
	client syncProducer
	topic  string
}

// NewProducer connects to brokers and makes sure topic exists.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(tracingHooks()...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, topic, 3, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	return &Producer{client: client, topic: topic}, nil
}

func tracingHooks() []kgo.Hook {
	k := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))))
	return k.Hooks()
}

func newRecord(topic string, task domain.GenerationTask) (*kgo.Record, error) {
	if task.JobID == "" {
		return nil, fmt.Errorf("%w: job id required", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(task.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "job_id", Value: []byte(task.JobID)},
			{Key: "kind", Value: []byte(task.Kind)},
		},
	}, nil
}

// EnqueueGeneration publishes task keyed by its job id and waits for the
// broker acknowledgement.
func (p *Producer) EnqueueGeneration(ctx domain.Context, task domain.GenerationTask) error {
	rec, err := newRecord(p.topic, task)
	if err != nil {
		return fmt.Errorf("op=redpanda.EnqueueGeneration: %w", err)
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		obsctx.LoggerFromContext(ctx).Error("failed to produce generation task",
			slog.String("job_id", task.JobID), slog.String("topic", p.topic), slog.Any("error", err))
		return fmt.Errorf("op=redpanda.EnqueueGeneration: %w", err)
	}
	observability.EnqueueJob(string(task.Kind))
	return nil
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close releases the client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
