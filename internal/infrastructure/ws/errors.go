package ws

import (
	"errors"

	"github.com/gorilla/websocket"
)

// Handshake failures. All of them end the connection attempt.
var (
	ErrUnauthenticated   = errors.New("no token provided")
	ErrInvalidCredential = errors.New("invalid token")
	ErrIdentityMismatch  = errors.New("token username doesn't match client id")
	ErrMissingTarget     = errors.New("no chat_id provided")
	ErrMalformedTarget   = errors.New("invalid chat_id")
	ErrChatNotFound      = errors.New("chat not found")
	ErrNotAParticipant   = errors.New("user is not a participant of this chat")

	// ErrHandshakeUnavailable wraps store failures during admission.
	ErrHandshakeUnavailable = errors.New("membership store unavailable")
)

// Message failures. The connection stays open.
var (
	ErrPersistence    = errors.New("message could not be persisted")
	ErrInvalidContent = errors.New("invalid message content")
)

type rejection struct {
	err    error
	label  string
	reason string
}

var rejections = []rejection{
	{ErrUnauthenticated, "unauthenticated", "No token provided"},
	{ErrInvalidCredential, "invalid_credential", "Invalid token"},
	{ErrIdentityMismatch, "identity_mismatch", "Token username doesn't match client_id"},
	{ErrMissingTarget, "missing_target", "No chat_id provided"},
	{ErrMalformedTarget, "malformed_target", "Invalid chat_id"},
	{ErrChatNotFound, "chat_not_found", "Chat not found"},
	{ErrNotAParticipant, "not_a_participant", "User is not a participant of this chat"},
	{ErrHandshakeUnavailable, "unavailable", "Service unavailable, try again later"},
}

func lookupRejection(err error) (rejection, bool) {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return r, true
		}
	}
	return rejection{}, false
}

// CloseCode is the WebSocket close code sent for a rejected handshake.
func CloseCode(err error) int {
	if errors.Is(err, ErrHandshakeUnavailable) {
		return websocket.CloseInternalServerErr
	}
	if _, ok := lookupRejection(err); ok {
		return websocket.ClosePolicyViolation
	}
	return websocket.CloseInternalServerErr
}

// CloseReason is the close frame text for a rejected handshake. It never
// carries wrapped store errors.
func CloseReason(err error) string {
	if r, ok := lookupRejection(err); ok {
		return r.reason
	}
	return "Internal error"
}

// Reason is a stable label for logs and metrics.
func Reason(err error) string {
	if r, ok := lookupRejection(err); ok {
		return r.label
	}
	return "unknown"
}
