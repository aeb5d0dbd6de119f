package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	routingKey string
	message    contracts.AmqpMessage
	err        error
}

func (b *fakeBroker) PublishMessage(_ context.Context, routingKey string, message contracts.AmqpMessage) error {
	b.routingKey = routingKey
	b.message = message
	return b.err
}

func TestMessagePublisher_Publish(t *testing.T) {
	broker := &fakeBroker{}
	event := ws.MessageEvent{
		V: ws.ProtocolVersion, Type: ws.MessageCreated,
		ID: 3, ChatID: 7, SenderID: 1, Sender: "alice", Content: "hi",
		Timestamp: "2025-03-01T09:00:00Z",
	}

	require.NoError(t, NewMessagePublisher(broker).Publish(context.Background(), event))

	assert.Equal(t, contracts.EventMessageCreated, broker.routingKey)
	assert.Equal(t, int64(7), broker.message.ChatID)

	var decoded ws.MessageEvent
	require.NoError(t, json.Unmarshal(broker.message.Data, &decoded))
	assert.Equal(t, event, decoded)
}

func TestMessagePublisher_PropagatesBrokerError(t *testing.T) {
	broker := &fakeBroker{err: errors.New("channel closed")}

	err := NewMessagePublisher(broker).Publish(context.Background(), ws.MessageEvent{ChatID: 1})
	assert.EqualError(t, err, "channel closed")
}
