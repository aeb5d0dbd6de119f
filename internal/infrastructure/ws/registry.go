package ws

import (
	"sync"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// Registry maps live (user, chat) connections to their channels.
//
// A second Register for the same key replaces the entry and hands back the
// previous channel; the caller decides how to retire it. Broadcast delivers
// outside the lock, so a slow Send never stalls registration.
type Registry struct {
	mu    sync.RWMutex
	chats map[domain.ChatID]map[domain.UserID]Channel
	size  int

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewRegistry(logger *zap.SugaredLogger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		chats:   make(map[domain.ChatID]map[domain.UserID]Channel),
		logger:  logger,
		metrics: m,
	}
}

// Register inserts ch for (userID, chatID) and returns the channel it
// replaced, or nil.
func (r *Registry) Register(userID domain.UserID, chatID domain.ChatID, ch Channel) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.chats[chatID]
	if !ok {
		members = make(map[domain.UserID]Channel)
		r.chats[chatID] = members
	}

	previous, replaced := members[userID]
	members[userID] = ch
	if !replaced {
		r.size++
		r.metrics.ConnectionOpened()
	}

	return previous
}

// Unregister removes the entry for (userID, chatID). Absent keys are a no-op.
func (r *Registry) Unregister(userID domain.UserID, chatID domain.ChatID) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.chats[chatID][userID]
	if !ok {
		return nil
	}
	r.removeLocked(userID, chatID)
	return ch
}

// Release removes the entry only while it still holds ch, so a superseded
// connection cannot evict the one that replaced it.
func (r *Registry) Release(userID domain.UserID, chatID domain.ChatID, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.chats[chatID][userID]
	if !ok || current != ch {
		return false
	}
	r.removeLocked(userID, chatID)
	return true
}

func (r *Registry) removeLocked(userID domain.UserID, chatID domain.ChatID) {
	members := r.chats[chatID]
	delete(members, userID)
	if len(members) == 0 {
		delete(r.chats, chatID)
	}
	r.size--
	r.metrics.ConnectionClosed()
}

type target struct {
	userID domain.UserID
	ch     Channel
}

// Broadcast sends payload to every channel registered for chatID and
// returns how many accepted it. A channel whose Send fails is removed and
// closed; the others are unaffected.
func (r *Registry) Broadcast(chatID domain.ChatID, payload []byte) int {
	r.mu.RLock()
	targets := make([]target, 0, len(r.chats[chatID]))
	for userID, ch := range r.chats[chatID] {
		targets = append(targets, target{userID: userID, ch: ch})
	}
	r.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if err := t.ch.Send(payload); err != nil {
			r.metrics.DeliveryFailed()
			if r.Release(t.userID, chatID, t.ch) {
				closeChannel(t.ch)
			}
			r.logger.Infow("dropped channel after failed delivery",
				"userId", t.userID, "chatId", chatID, "error", err)
			continue
		}
		delivered++
	}

	r.metrics.Delivered(delivered)
	return delivered
}

// CloseAll empties the registry and closes every channel. Used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	var channels []Channel
	for chatID, members := range r.chats {
		for userID, ch := range members {
			channels = append(channels, ch)
			r.removeLocked(userID, chatID)
		}
	}
	r.mu.Unlock()

	for _, ch := range channels {
		closeChannel(ch)
	}
	return len(channels)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *Registry) ChatSize(chatID domain.ChatID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats[chatID])
}

func (r *Registry) Has(userID domain.UserID, chatID domain.ChatID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chats[chatID][userID]
	return ok
}

func (r *Registry) Lookup(userID domain.UserID, chatID domain.ChatID) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.chats[chatID][userID]
	return ch, ok
}
