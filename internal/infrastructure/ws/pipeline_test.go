package ws_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/hilthontt/parley/internal/infrastructure/ws/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func aliceSession() *ws.Session {
	return &ws.Session{ID: "s-alice", User: alice, Chat: chat7}
}

// persistInOrder makes the store assign sequential ids and timestamps.
func persistInOrder(store *mocks.MockMembershipStore) {
	var next int64
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store.EXPECT().
		PersistMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sender domain.UserID, chat domain.ChatID, content string) (*domain.Message, error) {
			next++
			return &domain.Message{
				ID:        domain.MessageID(next),
				ChatID:    chat,
				SenderID:  sender,
				Content:   content,
				CreatedAt: base.Add(time.Duration(next) * time.Millisecond),
			}, nil
		}).
		AnyTimes()
}

func TestPipeline_PersistsThenBroadcasts(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMembershipStore(ctrl)
	persistInOrder(store)

	m := metrics.New()
	registry := ws.NewRegistry(nil, m)
	a, b, outsider := &recordingChannel{}, &recordingChannel{}, &recordingChannel{}
	registry.Register(alice.ID, chat7.ID, a)
	registry.Register(bob.ID, chat7.ID, b)
	registry.Register(carol.ID, 8, outsider)

	p := ws.NewPipeline(store, registry, nil, m)
	event, err := p.Handle(context.Background(), aliceSession(), []byte("hi"))
	req.NoError(err)
	req.Equal("hi", event.Content)
	req.Equal("alice", event.Sender)
	req.Equal(ws.MessageCreated, event.Type)
	req.Equal(int64(chat7.ID), event.ChatID)

	for _, ch := range []*recordingChannel{a, b} {
		got := ch.events(t)
		req.Len(got, 1)
		req.Equal(*event, got[0])
	}
	req.Empty(outsider.payloads())
	req.Equal(1.0, testutil.ToFloat64(m.MessagesPersisted))
}

func TestPipeline_PersistFailureSuppressesBroadcast(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMembershipStore(ctrl)

	gomock.InOrder(
		store.EXPECT().
			PersistMessage(gomock.Any(), alice.ID, chat7.ID, "lost").
			Return(nil, errors.New("disk full")),
		store.EXPECT().
			PersistMessage(gomock.Any(), alice.ID, chat7.ID, "kept").
			Return(&domain.Message{ID: 1, ChatID: chat7.ID, SenderID: alice.ID, Content: "kept", CreatedAt: time.Now()}, nil),
	)

	m := metrics.New()
	registry := ws.NewRegistry(nil, nil)
	b := &recordingChannel{}
	registry.Register(bob.ID, chat7.ID, b)

	p := ws.NewPipeline(store, registry, nil, m)

	_, err := p.Handle(context.Background(), aliceSession(), []byte("lost"))
	req.ErrorIs(err, ws.ErrPersistence)
	req.Empty(b.payloads())
	req.Equal(1.0, testutil.ToFloat64(m.PersistFailures))

	// The pipeline keeps working after a failed persist.
	_, err = p.Handle(context.Background(), aliceSession(), []byte("kept"))
	req.NoError(err)
	got := b.events(t)
	req.Len(got, 1)
	req.Equal("kept", got[0].Content)
}

func TestPipeline_RejectsInvalidContent(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMembershipStore(ctrl)
	registry := ws.NewRegistry(nil, nil)
	b := &recordingChannel{}
	registry.Register(bob.ID, chat7.ID, b)

	p := ws.NewPipeline(store, registry, nil, nil, ws.WithMaxContentLength(16))

	for name, raw := range map[string][]byte{
		"empty":      {},
		"whitespace": []byte(" \n\t "),
		"too long":   []byte(strings.Repeat("x", 17)),
		"not utf-8":  {0xff, 0xfe, 0xfd},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Handle(context.Background(), aliceSession(), raw)
			assert.ErrorIs(t, err, ws.ErrInvalidContent)
		})
	}
	assert.Empty(t, b.payloads())
}

func TestPipeline_SequentialMessagesKeepOrder(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMembershipStore(ctrl)
	persistInOrder(store)

	registry := ws.NewRegistry(nil, nil)
	b := &recordingChannel{}
	registry.Register(bob.ID, chat7.ID, b)

	p := ws.NewPipeline(store, registry, nil, nil)
	for _, content := range []string{"one", "two", "three"} {
		_, err := p.Handle(context.Background(), aliceSession(), []byte(content))
		req.NoError(err)
	}

	got := b.events(t)
	req.Len(got, 3)
	for i, content := range []string{"one", "two", "three"} {
		req.Equal(content, got[i].Content)
		if i > 0 {
			req.Greater(got[i].ID, got[i-1].ID)
			prev, err := time.Parse(time.RFC3339Nano, got[i-1].Timestamp)
			req.NoError(err)
			cur, err := time.Parse(time.RFC3339Nano, got[i].Timestamp)
			req.NoError(err)
			req.True(cur.After(prev))
		}
	}
}

func TestPipeline_PublishesBroadcastEvents(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMembershipStore(ctrl)
	persistInOrder(store)

	published := make(chan ws.MessageEvent, 1)
	publisher := mocks.NewMockEventPublisher(ctrl)
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, ev ws.MessageEvent) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			published <- ev
			return errors.New("broker down")
		})

	p := ws.NewPipeline(store, ws.NewRegistry(nil, nil), nil, nil, ws.WithPublisher(publisher))

	ctx, cancel := context.WithCancel(context.Background())
	event, err := p.Handle(ctx, aliceSession(), []byte("hello"))
	cancel()
	req.NoError(err, "publisher failures do not affect the sender")

	select {
	case ev := <-published:
		req.Equal(*event, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}
