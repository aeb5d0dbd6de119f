package ws_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/hilthontt/parley/internal/infrastructure/ws/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	req := require.New(t)
	m := metrics.New()
	r := ws.NewRegistry(nil, m)
	ch := &recordingChannel{}

	req.Nil(r.Register(1, 7, ch))
	req.True(r.Has(1, 7))
	req.Equal(1, r.Len())
	req.Equal(1, r.ChatSize(7))
	req.Equal(1.0, testutil.ToFloat64(m.ActiveConnections))

	req.Equal(ch, r.Unregister(1, 7))
	req.False(r.Has(1, 7))
	req.Equal(0, r.Len())
	req.Equal(0.0, testutil.ToFloat64(m.ActiveConnections))

	// absent key is a no-op
	req.Nil(r.Unregister(1, 7))
	req.Equal(0, r.Len())
}

func TestRegistry_RegisterReplacesExistingEntry(t *testing.T) {
	req := require.New(t)
	r := ws.NewRegistry(nil, nil)
	first := &recordingChannel{}
	second := &recordingChannel{}

	req.Nil(r.Register(1, 7, first))
	req.Same(first, r.Register(1, 7, second))
	req.Equal(1, r.Len(), "exactly one entry per key")

	current, ok := r.Lookup(1, 7)
	req.True(ok)
	req.Same(second, current)

	// The superseded connection's teardown must not evict its replacement.
	req.False(r.Release(1, 7, first))
	req.True(r.Has(1, 7))
	req.True(r.Release(1, 7, second))
	req.False(r.Has(1, 7))
}

func TestRegistry_BroadcastIsScopedToChat(t *testing.T) {
	r := ws.NewRegistry(nil, nil)

	inChat := map[domain.UserID]*recordingChannel{}
	for _, u := range []domain.UserID{5, 1, 9, 3} {
		inChat[u] = &recordingChannel{}
	}
	outside := &recordingChannel{}

	// interleave registrations across chats
	r.Register(5, 7, inChat[5])
	r.Register(2, 8, outside)
	r.Register(1, 7, inChat[1])
	r.Register(9, 7, inChat[9])
	r.Register(3, 7, inChat[3])

	delivered := r.Broadcast(7, []byte(`{"content":"hi"}`))

	assert.Equal(t, 4, delivered)
	for u, ch := range inChat {
		assert.Len(t, ch.payloads(), 1, "user %d", u)
	}
	assert.Empty(t, outside.payloads())
}

func TestRegistry_BroadcastToEmptyChat(t *testing.T) {
	r := ws.NewRegistry(nil, nil)
	assert.Equal(t, 0, r.Broadcast(42, []byte("x")))
}

func TestRegistry_FailedChannelIsRemoved(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	m := metrics.New()
	r := ws.NewRegistry(nil, m)

	broken := mocks.NewMockChannel(ctrl)
	broken.EXPECT().Send(gomock.Any()).Return(ws.ErrDeliveryFailed).Times(1)

	healthy := []*recordingChannel{{}, {}, {}}
	r.Register(1, 7, healthy[0])
	r.Register(2, 7, broken)
	r.Register(3, 7, healthy[1])
	r.Register(4, 7, healthy[2])

	delivered := r.Broadcast(7, []byte("payload"))

	req.Equal(3, delivered)
	for _, ch := range healthy {
		req.Len(ch.payloads(), 1)
	}
	req.False(r.Has(2, 7))
	req.Equal(3, r.Len())
	req.Equal(1.0, testutil.ToFloat64(m.DeliveryFailures))

	// The removed channel is not tried again.
	req.Equal(3, r.Broadcast(7, []byte("again")))
}

func TestRegistry_FailedChannelIsClosed(t *testing.T) {
	r := ws.NewRegistry(nil, nil)
	ch := &recordingChannel{fail: true}
	r.Register(1, 7, ch)

	r.Broadcast(7, []byte("x"))

	assert.True(t, ch.isClosed())
	assert.False(t, r.Has(1, 7))
}

func TestRegistry_CloseAll(t *testing.T) {
	r := ws.NewRegistry(nil, nil)
	chans := []*recordingChannel{{}, {}, {}}
	r.Register(1, 7, chans[0])
	r.Register(2, 7, chans[1])
	r.Register(1, 8, chans[2])

	assert.Equal(t, 3, r.CloseAll())
	assert.Equal(t, 0, r.Len())
	for _, ch := range chans {
		assert.True(t, ch.isClosed())
	}
}

func TestRegistry_PerChannelOrderFollowsBroadcastOrder(t *testing.T) {
	r := ws.NewRegistry(nil, nil)
	a, b := &recordingChannel{}, &recordingChannel{}
	r.Register(1, 7, a)
	r.Register(2, 7, b)

	for i := 0; i < 20; i++ {
		r.Broadcast(7, []byte(fmt.Sprint(i)))
	}

	for _, ch := range []*recordingChannel{a, b} {
		got := ch.payloads()
		require.Len(t, got, 20)
		for i, p := range got {
			assert.Equal(t, fmt.Sprint(i), string(p))
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := ws.NewRegistry(nil, nil)
	var wg sync.WaitGroup

	for u := 1; u <= 20; u++ {
		wg.Add(2)
		go func(u domain.UserID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ch := &recordingChannel{}
				r.Register(u, 7, ch)
				r.Release(u, 7, ch)
			}
		}(domain.UserID(u))
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Broadcast(7, []byte("tick"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.ChatSize(7))
}
