package ws

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com/", " http://localhost:3000"})

	for origin, want := range map[string]bool{
		"":                        true,
		"https://app.example.com": true,
		"HTTPS://APP.EXAMPLE.COM": true,
		"http://localhost:3000":   true,
		"http://app.example.com":  false,
		"https://evil.example":    false,
		"not a url":               false,
	} {
		r := httptest.NewRequest("GET", "/ws/alice", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, check(r), origin)
	}
}

func TestOriginChecker_Wildcard(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/alice", nil)
	r.Header.Set("Origin", "https://anything.example")

	assert.True(t, originChecker([]string{"*"})(r))
	assert.True(t, originChecker(nil)(r))
}

func TestClientConfigDefaults(t *testing.T) {
	cfg := ClientConfig{PongWait: 10e9, PingPeriod: 20e9}.withDefaults()

	assert.Equal(t, 64, cfg.SendQueueSize)
	assert.EqualValues(t, DefaultMaxContentLength, cfg.MaxMessageSize)
	assert.Greater(t, cfg.ReadLimit, cfg.MaxMessageSize)
	assert.Less(t, cfg.PingPeriod, cfg.PongWait)
}

func TestClientConfigReadLimitStaysAboveContentCap(t *testing.T) {
	cfg := ClientConfig{MaxMessageSize: 1024, ReadLimit: 512}.withDefaults()
	assert.EqualValues(t, 2*1024+frameHeadroom, cfg.ReadLimit)

	cfg = ClientConfig{MaxMessageSize: 1024, ReadLimit: 1 << 20}.withDefaults()
	assert.EqualValues(t, 1<<20, cfg.ReadLimit)
}
