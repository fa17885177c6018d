package bridge

import (
	"encoding/json"
	"sync"
	"time"
)

// CacheEntry is the last known scene state for one session. The payload is
// opaque: it is stored and served exactly as the viewer reported it.
type CacheEntry struct {
	State      json.RawMessage
	CapturedAt time.Time
}

// StateCache holds the last known scene state per session. Populated by
// unsolicited stateUpdate pushes and by fresh query responses; entries for
// a session are discarded when its viewer disconnects, so a dead session
// is never served stale state.
type StateCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	now     func() time.Time
}

// NewStateCache creates an empty state cache.
func NewStateCache() *StateCache {
	return &StateCache{
		entries: make(map[string]CacheEntry),
		now:     time.Now,
	}
}

// Put records the state payload verbatim with the current capture time,
// overwriting any prior entry for the session.
func (c *StateCache) Put(sessionID string, state json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = CacheEntry{State: state, CapturedAt: c.now()}
}

// Get returns the cached entry for the session, if any.
func (c *StateCache) Get(sessionID string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[sessionID]
	return entry, ok
}

// Delete removes the session's entry. Idempotent if absent.
func (c *StateCache) Delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// Age returns how old the session's entry is, or false if absent.
func (c *StateCache) Age(sessionID string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[sessionID]
	if !ok {
		return 0, false
	}
	return c.now().Sub(entry.CapturedAt), true
}

// Len returns the number of cached sessions.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
