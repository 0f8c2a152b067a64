package recorder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// KafkaRecorder publishes every event as a JSON message keyed by pool/asset.
type KafkaRecorder struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaRecorder publishes to topic through producer. The recorder owns the producer.
func NewKafkaRecorder(producer sarama.SyncProducer, topic string) *KafkaRecorder {
	return &KafkaRecorder{producer: producer, topic: topic}
}

type envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func (k *KafkaRecorder) publish(key, kind string, payload any) error {
	data, err := json.Marshal(envelope{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	return nil
}

func (k *KafkaRecorder) RecordCycle(evt *CycleEvent) error {
	return k.publish(evt.Pool+"/"+evt.Asset, "cycle", evt)
}

func (k *KafkaRecorder) RecordStep(evt *StepEvent) error {
	return k.publish(evt.Pool+"/"+evt.Asset, "step", evt)
}

func (k *KafkaRecorder) RecordDistribution(evt *DistributionEvent) error {
	return k.publish(evt.Asset, "distribution", evt)
}

func (k *KafkaRecorder) RecordIncome(evt *IncomeEvent) error {
	return k.publish(evt.Pool+"/"+evt.Asset, "income", evt)
}

func (k *KafkaRecorder) Close() error {
	return k.producer.Close()
}
