// Package kafka builds franz-go clients from configuration. Empty broker
// lists yield nil clients so deployments without Kafka run untouched.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"fiscus/internal/platform/config"
)

// NewProducer creates a produce-only client.
func NewProducer(cfg config.Kafka) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return cl, nil
}

// NewGroupConsumer creates a consumer-group client over the given topics.
// Offsets are committed only for records the consumer marks, so a crash
// replays unprocessed records.
func NewGroupConsumer(cfg config.Kafka, topics ...string) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(topics...),
		kgo.AutoCommitMarks(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return cl, nil
}

// EnsureTopics creates the topics that do not exist yet. Single partition,
// replication factor one; production clusters pre-provision their own.
func EnsureTopics(ctx context.Context, cl *kgo.Client, topics ...string) error {
	adm := kadm.NewClient(cl)
	for _, topic := range topics {
		resp, err := adm.CreateTopic(ctx, 1, 1, nil, topic)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic, resp.Err)
		}
	}
	return nil
}

// Health checks broker reachability.
func Health(ctx context.Context, cl *kgo.Client) error {
	if cl == nil {
		return nil
	}
	return cl.Ping(ctx)
}
