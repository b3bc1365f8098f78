package server

import (
	"encoding/json"
	"fmt"

	"github.com/lotas/tabsidebar/internal/types"
)

// Event type names sent by the extension.
const (
	TypeTabCreated    = "tabCreated"
	TypeTabUpdated    = "tabUpdated"
	TypeTabReplaced   = "tabReplaced"
	TypeTabRemoved    = "tabRemoved"
	TypeActionClicked = "actionClicked"
	TypeInstalled     = "installed"
)

type wireTab struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Index    int    `json:"index"`
	WindowID int    `json:"windowId"`
}

func (wt wireTab) tab() types.Tab {
	return types.Tab{
		ID:       wt.ID,
		URL:      wt.URL,
		Status:   wt.Status,
		Index:    wt.Index,
		WindowID: wt.WindowID,
	}
}

// ParseTab converts a raw JSON tab into a Tab.
func ParseTab(raw json.RawMessage) (types.Tab, error) {
	var wt wireTab
	if err := json.Unmarshal(raw, &wt); err != nil {
		return types.Tab{}, err
	}
	return wt.tab(), nil
}

// ParseTabs converts a raw JSON tab list.
func ParseTabs(raw json.RawMessage) ([]types.Tab, error) {
	var wts []wireTab
	if err := json.Unmarshal(raw, &wts); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	tabs := make([]types.Tab, 0, len(wts))
	for _, wt := range wts {
		tabs = append(tabs, wt.tab())
	}
	return tabs, nil
}

// ParseEvent converts an incoming browser event into a TabEvent.
func ParseEvent(msg IncomingMsg) (types.TabEvent, error) {
	var ev types.TabEvent
	switch msg.Type {
	case TypeConnected:
		ev.Kind = types.EventReady
		return ev, nil
	case TypeTabCreated:
		ev.Kind = types.EventCreated
	case TypeTabUpdated:
		ev.Kind = types.EventUpdated
		ev.Status = msg.Status
	case TypeActionClicked:
		ev.Kind = types.EventClicked
	case TypeTabReplaced:
		ev.Kind = types.EventReplaced
		ev.AddedTabID = msg.AddedTabID
		ev.RemovedTabID = msg.RemovedTabID
		return ev, nil
	case TypeTabRemoved:
		ev.Kind = types.EventRemoved
		ev.Tab.ID = msg.TabID
		return ev, nil
	case TypeInstalled:
		ev.Kind = types.EventInstalled
		ev.Reason = msg.Reason
		ev.InstallType = msg.InstallType
		return ev, nil
	default:
		return ev, fmt.Errorf("unknown event type %q", msg.Type)
	}

	if len(msg.Tab) == 0 {
		return ev, fmt.Errorf("%s: missing tab", msg.Type)
	}
	tab, err := ParseTab(msg.Tab)
	if err != nil {
		return ev, fmt.Errorf("%s: parse tab: %w", msg.Type, err)
	}
	ev.Tab = tab
	return ev, nil
}
