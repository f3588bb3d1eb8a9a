package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"fiscus/internal/domain"
)

// KafkaSender publishes events to a topic, keyed by document id so one
// document's notifications stay ordered within their partition.
type KafkaSender struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSender creates a sender producing to topic.
func NewKafkaSender(client *kgo.Client, topic string) *KafkaSender {
	return &KafkaSender{client: client, topic: topic}
}

// Name identifies this sender in logs and metrics.
func (s *KafkaSender) Name() string { return "kafka" }

// Send produces one event and waits for the broker ack.
func (s *KafkaSender) Send(ctx context.Context, event domain.NotificationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.DocumentID),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}
