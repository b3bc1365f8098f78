// Package tabstate holds the per-tab sidebar state and the transitions that
// are allowed to change it.
package tabstate

import (
	"fmt"

	"github.com/lotas/tabsidebar/internal/types"
)

// ChangeFunc receives every store mutation. current is nil when the tab was
// removed; previous is nil when the tab was not tracked before.
type ChangeFunc func(tabID int, current, previous *types.TabState)

// Store is the in-memory mapping from tab id to state. It is not safe for
// concurrent use; callers serialize access through the event loop.
type Store struct {
	states   map[int]types.TabState
	onChange ChangeFunc
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{states: make(map[int]types.TabState)}
}

// OnChange registers the single change listener.
func (s *Store) OnChange(fn ChangeFunc) {
	if s.onChange != nil {
		panic("tabstate: change listener already registered")
	}
	s.onChange = fn
}

// Get returns the state of a tab, or the default record if it is untracked.
func (s *Store) Get(tabID int) types.TabState {
	if st, ok := s.states[tabID]; ok {
		return st
	}
	return types.Default()
}

// Lookup returns the state of a tab and whether it is tracked.
func (s *Store) Lookup(tabID int) (types.TabState, bool) {
	st, ok := s.states[tabID]
	return st, ok
}

// Set applies mutate to a copy of the tab's record and stores it if the
// result is valid. On an invalid result the store is left untouched.
func (s *Store) Set(tabID int, mutate func(*types.TabState)) (types.TabState, error) {
	prev, existed := s.states[tabID]
	next := s.Get(tabID)
	mutate(&next)
	if err := next.Validate(); err != nil {
		return prev, fmt.Errorf("set tab %d: %w", tabID, err)
	}
	s.states[tabID] = next
	s.notify(tabID, &next, prevPtr(prev, existed))
	return next, nil
}

// Clear resets a tab to the default record.
func (s *Store) Clear(tabID int) types.TabState {
	prev, existed := s.states[tabID]
	next := types.Default()
	s.states[tabID] = next
	s.notify(tabID, &next, prevPtr(prev, existed))
	return next
}

// Remove forgets a tab. Removing an untracked tab is a no-op.
func (s *Store) Remove(tabID int) {
	prev, existed := s.states[tabID]
	if !existed {
		return
	}
	delete(s.states, tabID)
	s.notify(tabID, nil, &prev)
}

// All returns a copy of every tracked record.
func (s *Store) All() map[int]types.TabState {
	out := make(map[int]types.TabState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// Seed replaces the whole mapping without notifying the listener.
// Records must already be valid.
func (s *Store) Seed(states map[int]types.TabState) error {
	for id, st := range states {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("seed tab %d: %w", id, err)
		}
	}
	next := make(map[int]types.TabState, len(states))
	for id, st := range states {
		next[id] = st
	}
	s.states = next
	return nil
}

// put stores a valid record without notifying the listener.
func (s *Store) put(tabID int, st types.TabState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("put tab %d: %w", tabID, err)
	}
	s.states[tabID] = st
	return nil
}

func (s *Store) notify(tabID int, current, previous *types.TabState) {
	if s.onChange != nil {
		s.onChange(tabID, current, previous)
	}
}

func prevPtr(st types.TabState, ok bool) *types.TabState {
	if !ok {
		return nil
	}
	return &st
}
