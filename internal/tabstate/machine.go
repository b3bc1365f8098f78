package tabstate

import (
	"errors"
	"fmt"

	"github.com/lotas/tabsidebar/internal/types"
)

// Machine is the only writer of the Store. Each operation is one validated
// store mutation and therefore one change notification.
type Machine struct {
	store      *Store
	previous   map[int]types.TabState
	subscriber ChangeFunc
}

// NewMachine wraps store. The machine registers itself as the store's
// change listener.
func NewMachine(store *Store) *Machine {
	m := &Machine{
		store:    store,
		previous: make(map[int]types.TabState),
	}
	store.OnChange(m.onStoreChange)
	return m
}

// Subscribe registers the single consumer of change notifications.
func (m *Machine) Subscribe(fn ChangeFunc) {
	if m.subscriber != nil {
		panic("tabstate: machine already has a subscriber")
	}
	m.subscriber = fn
}

func (m *Machine) onStoreChange(tabID int, current, previous *types.TabState) {
	switch {
	case current == nil:
		delete(m.previous, tabID)
	case previous != nil:
		m.previous[tabID] = *previous
	default:
		delete(m.previous, tabID)
	}
	if m.subscriber != nil {
		m.subscriber(tabID, current, previous)
	}
}

// ActivateTab marks a tab active. Activating an errored tab also resets its
// readiness and installed flags so the sidebar is injected from scratch.
func (m *Machine) ActivateTab(tabID int) types.TabState {
	return m.must(m.store.Set(tabID, func(s *types.TabState) {
		if s.State == types.Errored {
			s.Ready = false
			s.Installed = false
		}
		s.State = types.Active
		s.Err = nil
	}))
}

// DeactivateTab marks a tab inactive.
func (m *Machine) DeactivateTab(tabID int) types.TabState {
	return m.must(m.store.Set(tabID, func(s *types.TabState) {
		s.State = types.Inactive
		s.Installed = false
		s.Err = nil
	}))
}

// ErrorTab puts a tab into the errored state. err must not be nil.
func (m *Machine) ErrorTab(tabID int, err error) types.TabState {
	return m.must(m.store.Set(tabID, func(s *types.TabState) {
		s.State = types.Errored
		s.Installed = false
		s.Err = err
	}))
}

// ClearTab resets a tab to the default record.
func (m *Machine) ClearTab(tabID int) types.TabState {
	return m.store.Clear(tabID)
}

// SetReady records a navigation status change. Starting a navigation drops
// readiness and the installed flag since the page that held the sidebar is
// going away. An empty url keeps the stored one.
func (m *Machine) SetReady(tabID int, ready bool, url string) types.TabState {
	return m.must(m.store.Set(tabID, func(s *types.TabState) {
		s.Ready = ready
		if !ready {
			s.Installed = false
		}
		if url != "" {
			s.URL = url
		}
	}))
}

// SetInstalled records the result of a sidebar injection or removal.
func (m *Machine) SetInstalled(tabID int, installed bool) types.TabState {
	return m.must(m.store.Set(tabID, func(s *types.TabState) {
		s.Installed = installed
	}))
}

// SetAnnotationCount stores the latest annotation count for a tab.
func (m *Machine) SetAnnotationCount(tabID int, count int) types.TabState {
	return m.must(m.store.Set(tabID, func(s *types.TabState) {
		s.AnnotationCount = count
	}))
}

// CarryOver handles a tab replacement: an active or errored old tab makes
// the new tab active and ready on the old tab's URL, then the old tab is
// cleared.
func (m *Machine) CarryOver(oldID, newID int) {
	old := m.store.Get(oldID)
	if old.State == types.Active || old.State == types.Errored {
		m.must(m.store.Set(newID, func(s *types.TabState) {
			s.State = types.Active
			s.Ready = true
			s.Installed = false
			s.Err = nil
			if s.URL == "" {
				s.URL = old.URL
			}
		}))
	}
	m.store.Clear(oldID)
}

// RemoveTab forgets a closed tab.
func (m *Machine) RemoveTab(tabID int) {
	m.store.Remove(tabID)
}

// Load seeds the store from persisted records without emitting change
// notifications. Restored tabs are not ready and have no sidebar until the
// browser reports otherwise. Invalid records are skipped; the returned error
// lists them.
func (m *Machine) Load(saved map[int]types.TabState) error {
	seed := make(map[int]types.TabState, len(saved))
	var errs []error
	for id, st := range saved {
		rec := types.Default()
		rec.State = st.State
		rec.AnnotationCount = st.AnnotationCount
		rec.URL = st.URL
		if err := rec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("restore tab %d: %w", id, err))
			continue
		}
		seed[id] = rec
	}
	if err := m.store.Seed(seed); err != nil {
		return err
	}
	m.previous = make(map[int]types.TabState)
	return errors.Join(errs...)
}

// Observe merges the browser's view of an open tab into its record without
// notifying. It is only used while reconciling state at startup.
func (m *Machine) Observe(tab types.Tab) types.TabState {
	st := m.store.Get(tab.ID)
	st.Ready = tab.Status == types.StatusComplete
	if tab.URL != "" {
		st.URL = tab.URL
	}
	if err := m.store.put(tab.ID, st); err != nil {
		panic(err)
	}
	return st
}

// State returns the record of a tab, or the default if it is untracked.
func (m *Machine) State(tabID int) types.TabState {
	return m.store.Get(tabID)
}

// Lookup returns the record of a tab and whether it is tracked.
func (m *Machine) Lookup(tabID int) (types.TabState, bool) {
	return m.store.Lookup(tabID)
}

// PreviousState returns the record as it was before the most recent
// transition of the tab.
func (m *Machine) PreviousState(tabID int) (types.TabState, bool) {
	st, ok := m.previous[tabID]
	return st, ok
}

func (m *Machine) IsActive(tabID int) bool   { return m.store.Get(tabID).State == types.Active }
func (m *Machine) IsInactive(tabID int) bool { return m.store.Get(tabID).State == types.Inactive }
func (m *Machine) IsErrored(tabID int) bool  { return m.store.Get(tabID).State == types.Errored }

// All returns a copy of every tracked record.
func (m *Machine) All() map[int]types.TabState {
	return m.store.All()
}

// must panics on an invariant violation. Transitions are built to be valid,
// so a failure here is a bug in the caller or in the transition itself.
func (m *Machine) must(st types.TabState, err error) types.TabState {
	if err != nil {
		panic(err)
	}
	return st
}
