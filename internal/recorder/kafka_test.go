package recorder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestKafkaRecorder_PublishesEnvelope(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env struct {
			ID      string    `json:"id"`
			Type    string    `json:"type"`
			Payload StepEvent `json:"payload"`
		}
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.ID == "" {
			return errors.New("missing event id")
		}
		if env.Type != "step" {
			return errors.New("unexpected type " + env.Type)
		}
		if env.Payload.Amount != 42 || env.Payload.Destination != 2 {
			return errors.New("payload mismatch")
		}
		return nil
	})

	r := NewKafkaRecorder(producer, "rebalancing")
	err := r.RecordStep(&StepEvent{CycleID: "c-1", Pool: "p", Asset: "a", Destination: 2, Operation: "DEPOSIT", Amount: 42})
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestKafkaRecorder_SendFailure(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	r := NewKafkaRecorder(producer, "rebalancing")
	err := r.RecordCycle(&CycleEvent{CycleID: "c-1", Action: ActionStart})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, r.Close())
}

type failingRecorder struct {
	NoopRecorder
	err error
}

func (f *failingRecorder) RecordIncome(_ *IncomeEvent) error { return f.err }

func TestMultiRecorder_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := NewMultiRecorder(NewNoopRecorder(), &failingRecorder{err: boom})

	assert.NoError(t, m.RecordCycle(&CycleEvent{}))
	assert.ErrorIs(t, m.RecordIncome(&IncomeEvent{}), boom)
	assert.NoError(t, m.Close())
}
