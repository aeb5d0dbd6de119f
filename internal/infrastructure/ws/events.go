package ws

const ProtocolVersion = 1

// Event types
const (
	MessageCreated = "message.created"
	ErrorEvent     = "error"
)

// Error codes carried by ErrorEvent
const (
	CodeInvalidContent   = "invalid_content"
	CodePersistence      = "persistence_failed"
	CodeUnsupportedFrame = "unsupported_frame"
)
