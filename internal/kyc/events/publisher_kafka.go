package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"kyc-engine/internal/kyc/models"
)

// KafkaPublisher publishes case events to a Kafka topic. Events are keyed by
// case ref so per-case ordering is preserved.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher connects to the brokers and ensures the topic exists.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(client, topic); err != nil {
		client.Close()
		return nil, err
	}

	return &KafkaPublisher{client: client, topic: topic}, nil
}

func ensureTopic(client *kgo.Client, topic string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 3, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic, res.Err)
		}
	}
	return nil
}

type eventPayload struct {
	ID         string           `json:"id"`
	CaseRef    string           `json:"caseRef"`
	Action     string           `json:"action"`
	FromStatus models.KycStatus `json:"fromStatus,omitempty"`
	ToStatus   models.KycStatus `json:"toStatus,omitempty"`
	ActorID    string           `json:"actorId,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
	Detail     string           `json:"detail,omitempty"`
}

// Publish produces the batch synchronously and returns the first error.
func (p *KafkaPublisher) Publish(ctx context.Context, batch []CaseEvent) error {
	if len(batch) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(batch))
	for _, event := range batch {
		value, err := json.Marshal(eventPayload{
			ID:         event.ID,
			CaseRef:    event.CaseRef,
			Action:     event.Action,
			FromStatus: event.From,
			ToStatus:   event.To,
			ActorID:    event.ActorID,
			OccurredAt: event.Timestamp,
			Detail:     event.Detail,
		})
		if err != nil {
			return fmt.Errorf("marshal case event %s: %w", event.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(event.CaseRef),
			Value: value,
		})
	}

	results := p.client.ProduceSync(ctx, records...)
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes the underlying client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
