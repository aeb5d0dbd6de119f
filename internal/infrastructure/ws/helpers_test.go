package ws_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/stretchr/testify/require"
)

// recordingChannel keeps every payload it accepts.
type recordingChannel struct {
	mu     sync.Mutex
	got    [][]byte
	fail   bool
	closed bool
}

func (c *recordingChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return ws.ErrDeliveryFailed
	}
	c.got = append(c.got, payload)
	return nil
}

func (c *recordingChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingChannel) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.got...)
}

func (c *recordingChannel) events(t *testing.T) []ws.MessageEvent {
	t.Helper()
	var out []ws.MessageEvent
	for _, p := range c.payloads() {
		var ev ws.MessageEvent
		require.NoError(t, json.Unmarshal(p, &ev))
		out = append(out, ev)
	}
	return out
}
