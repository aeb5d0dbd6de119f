package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
)

// Broker is the publishing half of messaging.RabbitMQ.
type Broker interface {
	PublishMessage(ctx context.Context, routingKey string, message contracts.AmqpMessage) error
}

// MessagePublisher mirrors broadcast messages onto the chat exchange.
type MessagePublisher struct {
	broker Broker
}

var _ ws.EventPublisher = (*MessagePublisher)(nil)

func NewMessagePublisher(broker Broker) *MessagePublisher {
	return &MessagePublisher{broker: broker}
}

func (p *MessagePublisher) Publish(ctx context.Context, event ws.MessageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}

	return p.broker.PublishMessage(ctx, contracts.EventMessageCreated, contracts.AmqpMessage{
		ChatID: event.ChatID,
		Data:   data,
	})
}
