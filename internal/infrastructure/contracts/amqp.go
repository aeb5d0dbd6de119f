package contracts

// AmqpMessage is the envelope published to the chat exchange.
type AmqpMessage struct {
	ChatID int64  `json:"chatId"`
	Data   []byte `json:"data"`
}

// Routing keys
const (
	EventMessageCreated = "message.created"
)
