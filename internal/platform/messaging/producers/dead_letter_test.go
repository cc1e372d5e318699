package producers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestDLQProducer(writer KafkaWriter) *DLQProducer {
	return &DLQProducer{
		logger:      newTestLogger(),
		writer:      writer,
		dlqTopic:    "test-dlq-topic",
		sourceTopic: "job_outcomes",
		now:         func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestDLQProducer_PublishToDLQ(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessfulPublishToDLQ", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := newTestDLQProducer(mockWriter)

		key := "job-1"
		original := []byte(`{"job_id":"job-1","success":true}`)
		reason := "status_conflict"

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != key {
				return false
			}
			var letter DeadLetter
			if err := json.Unmarshal(msgs[0].Value, &letter); err != nil {
				return false
			}
			return letter == DeadLetter{
				SourceTopic:   "job_outcomes",
				OriginalKey:   key,
				OriginalValue: string(original),
				DLQReason:     reason,
				Timestamp:     "2026-03-01T12:00:00Z",
			} && len(msgs[0].Headers) == 2
		})).Return(nil).Once()

		require.NoError(t, producer.PublishToDLQ(ctx, key, original, reason))
		mockWriter.AssertExpectations(t)
	})

	t.Run("PublishToDLQReturnsErrorOnWriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := newTestDLQProducer(mockWriter)
		writerError := errors.New("kafka DLQ write error")
		mockWriter.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerError).Once()

		err := producer.PublishToDLQ(ctx, "job-2", []byte("payload"), "malformed")
		assert.ErrorIs(t, err, writerError)
		mockWriter.AssertExpectations(t)
	})

	t.Run("DisabledProducer", func(t *testing.T) {
		var producer *DLQProducer
		err := producer.PublishToDLQ(ctx, "job-3", []byte("payload"), "malformed")
		assert.ErrorIs(t, err, ErrDLQDisabled)

		err = newTestDLQProducer(nil).PublishToDLQ(ctx, "job-3", []byte("payload"), "malformed")
		assert.ErrorIs(t, err, ErrDLQDisabled)
	})
}

func TestDLQProducer_Close(t *testing.T) {
	t.Run("SuccessfulClose", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		mockWriter.On("Close").Return(nil).Once()

		require.NoError(t, newTestDLQProducer(mockWriter).Close())
		mockWriter.AssertExpectations(t)
	})

	t.Run("CloseReturnsErrorOnWriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		closeError := errors.New("kafka DLQ close error")
		mockWriter.On("Close").Return(closeError).Once()

		assert.ErrorIs(t, newTestDLQProducer(mockWriter).Close(), closeError)
	})

	t.Run("CloseWhenDisabled", func(t *testing.T) {
		var producer *DLQProducer
		assert.NoError(t, producer.Close())
	})
}
