package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSendsKeyedMessageWithHeaders(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "chat.events.v1", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "k1", string(key))
		require.Len(t, msg.Headers, 2)
		assert.Equal(t, "content-type", string(msg.Headers[0].Key))
		assert.Equal(t, "x-request-id", string(msg.Headers[1].Key))
		return nil
	})
	p := newWithSyncProducer(mock)
	defer func() { require.NoError(t, p.Close()) }()

	err := p.Publish(context.Background(), "chat.events.v1", "k1", []byte(`{}`), map[string]string{
		"x-request-id": "r1",
		"content-type": "application/cloudevents+json",
	})
	require.NoError(t, err)
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	p := newWithSyncProducer(mocks.NewSyncProducer(t, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil, nil), context.Canceled)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(Config{Brokers: []string{" ", ""}})
	assert.ErrorIs(t, err, ErrNoBrokers)
}
