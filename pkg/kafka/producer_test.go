package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestPublishContactEvents(t *testing.T) {
	writer := &fakeWriter{}
	producer := NewProducerWithWriter(writer, "contact-events", testLogger())

	email := "a@x.io"
	err := producer.PublishContactEvents(context.Background(), []*ContactEvent{{
		EventType:        "contact.linked",
		ContactID:        9,
		PrimaryContactID: 3,
		Email:            &email,
		LinkPrecedence:   models.LinkPrecedenceSecondary,
	}})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "contact-events", msg.Topic)
	assert.Equal(t, "3", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte("contact.linked")})
	assert.Contains(t, msg.Headers, kafka.Header{Key: "schema_version", Value: []byte(SchemaVersion)})

	var decoded ContactEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(9), decoded.ContactID)
	assert.Equal(t, "a@x.io", *decoded.Email)
	assert.Nil(t, decoded.PhoneNumber)
	assert.False(t, decoded.Timestamp.IsZero())

	require.NoError(t, producer.Close())
	assert.True(t, writer.closed)
}

func TestPublishContactEvents_Errors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("no brokers")}
	producer := NewProducerWithWriter(writer, "contact-events", testLogger())

	assert.NoError(t, producer.PublishContactEvents(context.Background(), nil))
	assert.Error(t, producer.PublishContactEvents(context.Background(), []*ContactEvent{{EventType: "contact.created"}}))
}
