// Package rain holds the per-guild ambience preference: whether queued
// tracks should be blended with the looping rain bed.
//
// The store is process-wide, in-memory only, and intentionally tiny — a
// single lock over a map is plenty at this contention level. The durable
// audio cache on disk is the only state that survives a restart.
package rain

import "sync"

// Store keeps the per-guild rain on/off preference. Guilds default to
// enabled until explicitly toggled.
//
// Store is safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	on  map[string]bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{on: make(map[string]bool)}
}

// Enabled reports whether rain is enabled for the guild. Guilds never seen
// before report true.
func (s *Store) Enabled(guildID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	on, ok := s.on[guildID]
	if !ok {
		return true
	}
	return on
}

// Set records an explicit preference for the guild.
func (s *Store) Set(guildID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on[guildID] = on
}

// Seed marks the given guilds as rain-enabled unless an explicit preference
// already exists. Called once at startup with the known guild list.
func (s *Store) Seed(guildIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range guildIDs {
		if _, ok := s.on[id]; !ok {
			s.on[id] = true
		}
	}
}
