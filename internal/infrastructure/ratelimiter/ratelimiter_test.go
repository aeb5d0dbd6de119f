package ratelimiter

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, rate, burst int) (*RateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := NewInMemory()
	t.Cleanup(func() { _ = cache.Close() })

	rl := newRateLimiter(Options{
		MaxRatePerSecond: rate,
		MaxBurst:         burst,
		Cache:            cache,
		CacheTTL:         time.Hour,
	}, clock.now)
	return rl, clock
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 3)

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.Equal(t, 0, rl.Remaining("10.0.0.1"))
}

func TestAllow_SourcesAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 1)

	require.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestAllow_RefillsAtConfiguredRate(t *testing.T) {
	rl, clock := newTestLimiter(t, 2, 2)

	require.True(t, rl.Allow("k"))
	require.True(t, rl.Allow("k"))
	require.False(t, rl.Allow("k"))

	// 2 tokens per second: 400ms is not enough for one token.
	clock.advance(400 * time.Millisecond)
	assert.False(t, rl.Allow("k"))

	// The earlier 400ms still count toward the next token.
	clock.advance(100 * time.Millisecond)
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
}

func TestAllow_RefillCapsAtBurst(t *testing.T) {
	rl, clock := newTestLimiter(t, 10, 3)

	require.True(t, rl.Allow("k"))
	clock.advance(time.Hour)

	assert.Equal(t, 3, rl.Remaining("k"))
}

type failingCache struct{}

func (failingCache) Get(string) (int, error)                            { return 0, errors.New("down") }
func (failingCache) Set(string, int) error                              { return errors.New("down") }
func (failingCache) SetWithExpiration(string, int, time.Duration) error { return errors.New("down") }
func (failingCache) Close() error                                       { return nil }

func TestAllow_FailsOpenOnCacheError(t *testing.T) {
	rl := newRateLimiter(Options{MaxRatePerSecond: 1, MaxBurst: 1, Cache: failingCache{}}, time.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("k"))
	}
}

func TestGetSourceKey(t *testing.T) {
	rl := newRateLimiter(Options{MaxRatePerSecond: 1, SourceHeaderKey: "X-Forwarded-For"}, time.Now)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:4242"
	assert.Equal(t, "192.0.2.1", rl.GetSourceKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", rl.GetSourceKey(r))
}

func TestInMemory_Expiration(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	im := &InMemory{cache: map[string]inMemoryEntry{}, now: clock.now, stopClean: make(chan struct{})}

	require.NoError(t, im.SetWithExpiration("a", 1, time.Second))
	require.NoError(t, im.Set("b", 2))

	v, err := im.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.advance(2 * time.Second)
	_, err = im.Get("a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	im.removeExpired()
	assert.Equal(t, 1, im.Len())

	_, err = im.Get("missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
