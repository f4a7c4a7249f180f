package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

// Handler runs one generation task to completion.
type Handler interface {
	Process(ctx context.Context, task domain.GenerationTask) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task domain.GenerationTask) error

func (f HandlerFunc) Process(ctx context.Context, task domain.GenerationTask) error { return f(ctx, task) }

type groupFetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// ConsumerOptions tunes a Consumer.
type ConsumerOptions struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
	JobTimeout  time.Duration
}

// Consumer reads generation tasks from a consumer group and hands each to
// the Handler on a bounded set of goroutines. Offsets are marked once the
// handler returns, whatever the outcome: failures live on in the job row.
type Consumer struct {
	client      groupFetcher
	handler     Handler
	topic       string
	groupID     string
	concurrency int
	jobTimeout  time.Duration
}

// NewConsumer joins opts.GroupID on opts.Topic.
func NewConsumer(ctx context.Context, opts ConsumerOptions, h Handler) (*Consumer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: no seed brokers provided")
	}
	if opts.GroupID == "" {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: missing required group ID")
	}
	if h == nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: nil handler")
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	slog.Info("creating redpanda consumer",
		slog.Any("brokers", opts.Brokers),
		slog.String("group_id", opts.GroupID),
		slog.String("topic", opts.Topic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ConsumerGroup(opts.GroupID),
		kgo.ConsumeTopics(opts.Topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(tracingHooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, opts.Topic, 3, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist", slog.String("topic", opts.Topic), slog.Any("error", err))
	}
	return newConsumer(client, h, opts), nil
}

func newConsumer(client groupFetcher, h Handler, opts ConsumerOptions) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	return &Consumer{
		client:      client,
		handler:     h,
		topic:       opts.Topic,
		groupID:     opts.GroupID,
		concurrency: opts.Concurrency,
		jobTimeout:  opts.JobTimeout,
	}
}

// Start polls until ctx is done. Each fetched batch is processed before
// the next poll so in-flight work stays bounded by the concurrency.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting redpanda consumer",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("concurrency", c.concurrency))

	sem := make(chan struct{}, c.concurrency)
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			c.flush()
			slog.Info("redpanda consumer stopping")
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})

		var wg sync.WaitGroup
		fetches.EachRecord(func(rec *kgo.Record) {
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				_ = c.processRecord(ctx, rec)
				c.client.MarkCommitRecords(rec)
			}()
		})
		wg.Wait()
	}
}

func (c *Consumer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		slog.Warn("final offset commit failed", slog.Any("error", err))
	}
}

func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) error {
	ctx, span := otel.Tracer("queue.consumer").Start(ctx, "ProcessGenerationJob")
	defer span.End()

	task, err := decodeTask(rec)
	if err != nil {
		span.RecordError(err)
		slog.Error("dropping undecodable record",
			slog.String("topic", rec.Topic),
			slog.Int64("offset", rec.Offset),
			slog.Any("error", err))
		return err
	}
	span.SetAttributes(attribute.String("job.id", task.JobID), attribute.String("job.kind", string(task.Kind)))

	ctx = obsctx.ContextWithJobID(ctx, task.JobID)
	ctx = obsctx.WithAttrs(ctx, slog.String("job_id", task.JobID), slog.String("kind", string(task.Kind)))
	lg := obsctx.LoggerFromContext(ctx)

	jobCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()
	start := time.Now()
	if err := c.handler.Process(jobCtx, task); err != nil {
		span.RecordError(err)
		lg.Error("generation task failed",
			slog.String("failure_code", failureCode(err)),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return err
	}
	lg.Info("generation task completed", slog.Duration("duration", time.Since(start)))
	return nil
}

func decodeTask(rec *kgo.Record) (domain.GenerationTask, error) {
	var task domain.GenerationTask
	if err := json.Unmarshal(rec.Value, &task); err != nil {
		return task, fmt.Errorf("%w: unmarshal task: %v", domain.ErrInvalidArgument, err)
	}
	if task.JobID == "" {
		task.JobID = string(rec.Key)
	}
	if task.JobID == "" {
		return task, fmt.Errorf("%w: record without job id", domain.ErrInvalidArgument)
	}
	return task, nil
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
