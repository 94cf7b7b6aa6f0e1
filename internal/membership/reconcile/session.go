// internal/membership/reconcile/session.go
package reconcile

import (
	"sort"
	"strings"
	"sync"
	"time"

	"member-portal/internal/models"
)

// Session owns one user's reconciliation state across refreshes. Refreshes
// are tagged with a monotonically increasing sequence number; a result from
// a refresh that is no longer the latest is discarded, so the last writer
// wins by request age rather than completion order.
type Session struct {
	mu     sync.Mutex
	engine *Engine
	state  ClientState
	seq    uint64
	cache  *LocalCache
}

func NewSession(engine *Engine, cache *LocalCache) *Session {
	return &Session{engine: engine, cache: cache}
}

// Seed installs the initial state (from session data or the local cache)
// on first render.
func (s *Session) Seed(state ClientState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// SeedFromCache seeds from the local cache when a fresh entry exists for
// the exact address set. Returns whether anything was loaded.
func (s *Session) SeedFromCache(addresses []string, now time.Time) bool {
	if s.cache == nil {
		return false
	}
	state, ok := s.cache.Load(addresses, now)
	if !ok {
		return false
	}
	s.Seed(state)
	return true
}

// BeginRefresh issues the sequence number for a new refresh. Every result
// must be handed back with this number.
func (s *Session) BeginRefresh() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// ApplyResult reconciles a completed refresh. Returns the current state and
// whether the result was applied; a superseded result leaves the state
// untouched and reports false.
func (s *Session) ApplyResult(seq uint64, incoming *models.MembershipSummary, addresses []string, now time.Time) (ClientState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq {
		return s.state, false
	}

	s.state = s.engine.Advance(s.state, incoming, now)
	if s.cache != nil {
		s.cache.Store(addresses, s.state, now)
	}
	return s.state, true
}

// ApplyFailure records a refresh that errored entirely. Superseded failures
// are discarded like superseded results.
func (s *Session) ApplyFailure(seq uint64) (ClientState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq {
		return s.state, false
	}
	s.state = s.engine.AdvanceFailed(s.state)
	return s.state, true
}

// State returns the current reconciled view.
func (s *Session) State() ClientState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalCache is the short-TTL reconciled-state cache consulted on page load
// to avoid a foreground fetch when data is fresh enough. Keyed by the exact
// (sorted) address set.
type LocalCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]localEntry
}

type localEntry struct {
	state    ClientState
	storedAt time.Time
}

const defaultLocalTTL = 5 * time.Minute

func NewLocalCache(ttl time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = defaultLocalTTL
	}
	return &LocalCache{ttl: ttl, entries: make(map[string]localEntry)}
}

func (c *LocalCache) key(addresses []string) string {
	sorted := make([]string, len(addresses))
	for i, a := range addresses {
		sorted[i] = strings.ToLower(a)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func (c *LocalCache) Store(addresses []string, state ClientState, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(addresses)] = localEntry{state: state, storedAt: now}
}

func (c *LocalCache) Load(addresses []string, now time.Time) (ClientState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.key(addresses)]
	if !ok || now.Sub(e.storedAt) > c.ttl {
		return ClientState{}, false
	}
	return e.state, true
}
