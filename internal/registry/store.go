package registry

import "sync/atomic"

// Store publishes the current registry to concurrent dispatches and swaps in
// a rebuilt one atomically. In-flight dispatches keep the snapshot they read;
// they never observe a half-replaced mapping.
type Store struct {
	cur atomic.Pointer[Registry]
}

// NewStore creates a store holding reg.
func NewStore(reg *Registry) *Store {
	s := &Store{}
	s.cur.Store(reg)
	return s
}

// Current returns the live registry snapshot.
func (s *Store) Current() *Registry {
	return s.cur.Load()
}

// Swap replaces the registry wholesale.
func (s *Store) Swap(reg *Registry) {
	s.cur.Store(reg)
}
