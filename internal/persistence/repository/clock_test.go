package repository

import (
	"testing"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestChatClock_StrictlyIncreasingPerChat(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 12, 0, 0, 123456789, time.UTC)
	clock := newChatClock(func() time.Time { return frozen })

	first := clock.next(1)
	second := clock.next(1)
	other := clock.next(2)

	assert.Equal(t, frozen.Truncate(time.Microsecond), first)
	assert.Equal(t, first.Add(time.Microsecond), second)
	assert.Equal(t, first, other, "chats do not share a sequence")
}

func TestChatClock_WallClockGoesBackwards(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newChatClock(func() time.Time { return now })

	first := clock.next(1)
	now = now.Add(-time.Minute)

	assert.True(t, clock.next(1).After(first))
}

func TestChatClock_ObserveSeedsFromHistory(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newChatClock(func() time.Time { return now })

	var chat domain.ChatID = 7
	assert.False(t, clock.known(chat))

	persisted := now.Add(time.Hour)
	clock.observe(chat, persisted)

	assert.True(t, clock.known(chat))
	assert.Equal(t, persisted.Add(time.Microsecond), clock.next(chat))
}
