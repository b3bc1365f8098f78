package types

import (
	"errors"
	"fmt"
)

// ErrInvalidState is wrapped by every TabState invariant violation.
var ErrInvalidState = errors.New("invalid tab state")

// State is the sidebar activation state of a tab.
type State int

const (
	Inactive State = iota
	Active
	Errored
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Errored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Valid reports whether s is one of the three known states.
func (s State) Valid() bool {
	return s == Inactive || s == Active || s == Errored
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown state %d", ErrInvalidState, int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState converts the text form back into a State.
func ParseState(v string) (State, error) {
	switch v {
	case "inactive":
		return Inactive, nil
	case "active":
		return Active, nil
	case "errored":
		return Errored, nil
	}
	return Inactive, fmt.Errorf("%w: unknown state %q", ErrInvalidState, v)
}

// TabState is the record kept for every tracked tab.
type TabState struct {
	State     State `json:"state"`
	Ready     bool  `json:"ready"`
	Installed bool  `json:"extensionSidebarInstalled"`
	// AnnotationCount is the last known count for URL; stale until refreshed.
	AnnotationCount int    `json:"annotationCount"`
	URL             string `json:"url,omitempty"`
	// Err is only set while State == Errored. It is never persisted.
	Err error `json:"-"`
}

// Default returns the record of an untracked tab.
func Default() TabState {
	return TabState{State: Inactive}
}

// Validate checks the record invariants.
func (s TabState) Validate() error {
	if !s.State.Valid() {
		return fmt.Errorf("%w: unknown state %d", ErrInvalidState, int(s.State))
	}
	if s.State == Errored && s.Err == nil {
		return fmt.Errorf("%w: errored without an error", ErrInvalidState)
	}
	if s.State != Errored && s.Err != nil {
		return fmt.Errorf("%w: %s with error %q", ErrInvalidState, s.State, s.Err)
	}
	if s.Installed && s.State != Active {
		return fmt.Errorf("%w: sidebar installed while %s", ErrInvalidState, s.State)
	}
	if s.AnnotationCount < 0 {
		return fmt.Errorf("%w: negative annotation count %d", ErrInvalidState, s.AnnotationCount)
	}
	return nil
}

// Tab status values reported by the browser.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

// Tab is a browser tab as reported by the extension.
type Tab struct {
	ID       int
	URL      string
	Status   string // "loading", "complete" or empty when unchanged
	Index    int
	WindowID int
}

// EventKind identifies a browser event forwarded by the extension.
type EventKind int

const (
	EventCreated EventKind = iota
	EventUpdated
	EventReplaced
	EventRemoved
	EventClicked
	EventInstalled
	EventReady
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventReplaced:
		return "replaced"
	case EventRemoved:
		return "removed"
	case EventClicked:
		return "clicked"
	case EventInstalled:
		return "installed"
	case EventReady:
		return "ready"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// TabEvent is a browser event with its payload.
type TabEvent struct {
	Kind EventKind
	Tab  Tab
	// Status is the navigation status carried by an update (changeInfo.status).
	Status string

	// Replacement ids.
	AddedTabID   int
	RemovedTabID int

	// Install details.
	Reason      string // "install", "update", ...
	InstallType string // "admin", "normal", ...
}
