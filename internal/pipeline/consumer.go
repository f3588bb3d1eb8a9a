package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fiscus/internal/domain"
	"fiscus/internal/normalize"
	"fiscus/internal/pipeline/metrics"
)

// Submission sources stamped by the ingest edges.
const (
	SourceAPI   = "api"
	SourceKafka = "kafka"
)

const defaultRetryDelay = 2 * time.Second

// Consumer drains extracted-invoice submissions from Kafka through the
// pipeline. Delivery is at-least-once: offsets are marked only after a
// record is finalized or identified as poison, and the idempotent store
// absorbs the replays a crash produces.
type Consumer struct {
	client     *kgo.Client
	service    *Service
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger attaches a structured logger.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// WithConsumerMetrics attaches pipeline metrics.
func WithConsumerMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// WithRetryDelay overrides the pause before reprocessing a record after an
// infrastructure failure.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.retryDelay = d }
}

func NewConsumer(client *kgo.Client, service *Service, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		client:     client,
		service:    service,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled or the client is closed. Records are
// processed in fetch order; a record is marked for commit once it has been
// finalized, absorbed as a duplicate, or skipped as poison.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.metrics.IncrementConsumerError()
			if c.logger != nil {
				c.logger.ErrorContext(ctx, "ingest fetch error",
					"topic", topic, "partition", partition, "error", err)
			}
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := iter.Next()
			if err := c.consume(ctx, rec); err != nil {
				return err
			}
			c.client.MarkCommitRecords(rec)
		}
	}
}

// consume finalizes one record. Poison records (undecodable payloads,
// keyless malformed submissions) are logged and skipped so they never wedge
// the partition; infrastructure failures are retried in place without
// marking, which stalls the partition instead of losing the record. The
// returned error is non-nil only when ctx ends the retry wait.
func (c *Consumer) consume(ctx context.Context, rec *kgo.Record) error {
	var sub domain.Submission
	if err := json.Unmarshal(rec.Value, &sub); err != nil {
		c.metrics.IncrementConsumerError()
		if c.logger != nil {
			c.logger.WarnContext(ctx, "skipping undecodable ingest record",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
		}
		return nil
	}
	if sub.Source == "" {
		sub.Source = SourceKafka
	}
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = rec.Timestamp
	}

	for {
		res, err := c.service.Process(ctx, sub)
		switch {
		case err == nil:
			if c.logger != nil && !sub.ReceivedAt.IsZero() {
				c.logger.DebugContext(ctx, "ingest record finalized",
					"document_id", res.Record.DocumentID,
					"duplicate", res.Duplicate,
					"lag", time.Since(sub.ReceivedAt).String(),
				)
			}
			return nil

		case normalize.IsMalformed(err):
			c.metrics.IncrementConsumerError()
			if c.logger != nil {
				c.logger.WarnContext(ctx, "skipping malformed ingest record",
					"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			}
			return nil

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			c.metrics.IncrementConsumerError()
			if c.logger != nil {
				c.logger.ErrorContext(ctx, "ingest processing failed, retrying",
					"document_id", sub.DocumentID, "offset", rec.Offset, "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
}
