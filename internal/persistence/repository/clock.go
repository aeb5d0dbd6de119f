package repository

import (
	"sync"
	"time"

	"github.com/hilthontt/parley/internal/domain"
)

// chatClock hands out message timestamps that strictly increase per chat,
// even when the wall clock stalls or steps backwards. Timestamps are
// truncated to microseconds so they survive a round trip through postgres.
type chatClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[domain.ChatID]time.Time
}

func newChatClock(now func() time.Time) *chatClock {
	if now == nil {
		now = time.Now
	}
	return &chatClock{now: now, last: make(map[domain.ChatID]time.Time)}
}

func (c *chatClock) known(chatID domain.ChatID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.last[chatID]
	return ok
}

// observe records a timestamp already persisted for the chat.
func (c *chatClock) observe(chatID domain.ChatID, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last[chatID]) {
		c.last[chatID] = t
	}
}

func (c *chatClock) next(chatID domain.ChatID) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if last, ok := c.last[chatID]; ok && !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	c.last[chatID] = t
	return t
}
