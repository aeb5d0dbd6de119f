//go:generate go run go.uber.org/mock/mockgen -source=channel.go -destination=mocks/mock_channel.go -package=mocks
package ws

import "errors"

var ErrDeliveryFailed = errors.New("channel delivery failed")

// Channel pushes one serialized message to a single remote connection.
// Send must not block on a slow peer; it fails with ErrDeliveryFailed
// instead.
type Channel interface {
	Send(payload []byte) error
}

// closeChannel closes channels that own a transport.
func closeChannel(ch Channel) {
	if c, ok := ch.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
