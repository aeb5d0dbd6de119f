package ratelimiter

import (
	"sync"
	"time"
)

const inMemorySweepInterval = time.Minute

type inMemoryEntry struct {
	value     int
	expiresAt time.Time
}

// InMemory is the single-instance GetterSetter. Expired entries are swept
// periodically until Close.
type InMemory struct {
	cache     map[string]inMemoryEntry
	mu        sync.RWMutex
	now       func() time.Time
	stopClean chan struct{}
	cleanOnce sync.Once
}

func NewInMemory() GetterSetter {
	im := &InMemory{
		cache:     make(map[string]inMemoryEntry),
		now:       time.Now,
		stopClean: make(chan struct{}),
	}

	go im.sweep(inMemorySweepInterval)

	return im
}

func (i *InMemory) Get(key string) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entry, ok := i.cache[key]
	if !ok || entry.expired(i.now()) {
		return 0, ErrCacheMiss
	}

	return entry.value, nil
}

func (i *InMemory) Set(key string, value int) error {
	return i.SetWithExpiration(key, value, 0)
}

func (i *InMemory) SetWithExpiration(key string, value int, expiration time.Duration) error {
	var expiresAt time.Time
	if expiration > 0 {
		expiresAt = i.now().Add(expiration)
	}

	i.mu.Lock()
	i.cache[key] = inMemoryEntry{value: value, expiresAt: expiresAt}
	i.mu.Unlock()

	return nil
}

func (e inMemoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (i *InMemory) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			i.removeExpired()
		case <-i.stopClean:
			return
		}
	}
}

func (i *InMemory) removeExpired() {
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()

	for key, entry := range i.cache {
		if entry.expired(now) {
			delete(i.cache, key)
		}
	}
}

func (i *InMemory) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.cache)
}

func (i *InMemory) Close() error {
	i.cleanOnce.Do(func() {
		close(i.stopClean)
	})
	return nil
}
