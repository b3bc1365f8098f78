// Package extension translates browser tab events into state machine
// transitions and restores saved state when the browser connects.
package extension

import (
	"context"
	"fmt"

	"github.com/lotas/tabsidebar/internal/applog"
	"github.com/lotas/tabsidebar/internal/tabstate"
	"github.com/lotas/tabsidebar/internal/types"
)

// Loader reads the persisted tab records.
type Loader interface {
	LoadAll(ctx context.Context) (map[int]types.TabState, error)
}

// TabQuerier lists the tabs currently open in the browser.
type TabQuerier interface {
	QueryTabs(ctx context.Context) ([]types.Tab, error)
}

// TabOpener opens a new tab and returns its id. A negative index appends.
type TabOpener interface {
	OpenTab(ctx context.Context, url string, index int) (int, error)
}

// HelpDisplay explains an injection failure to the user.
type HelpDisplay interface {
	ShowHelpForError(ctx context.Context, tab types.Tab, err error) error
}

// Syncer pushes a tab's live record to the browser once.
type Syncer interface {
	Sync(tabID int)
}

// Async runs blocking work off the event loop.
type Async interface {
	Go(work func(ctx context.Context) func())
}

// Deps are the collaborators of an Extension.
type Deps struct {
	Loader Loader
	Tabs   TabQuerier
	Opener TabOpener
	Help   HelpDisplay
	Syncer Syncer
	Async  Async
}

// Config holds the URLs the extension opens on its own.
type Config struct {
	WelcomeURL string
}

// Extension is the browser-facing side of the state machine. All methods
// must run on the event loop.
type Extension struct {
	machine *tabstate.Machine
	deps    Deps
	cfg     Config

	// pendingLink marks tabs whose current load sequence carried a direct
	// link, even if the page has rewritten its fragment since.
	pendingLink map[int]bool
}

// New creates an Extension.
func New(machine *tabstate.Machine, deps Deps, cfg Config) *Extension {
	return &Extension{
		machine:     machine,
		deps:        deps,
		cfg:         cfg,
		pendingLink: make(map[int]bool),
	}
}

// HandleEvent routes a browser event to its handler.
func (e *Extension) HandleEvent(ctx context.Context, ev types.TabEvent) {
	switch ev.Kind {
	case types.EventCreated:
		e.OnCreated(ev.Tab)
	case types.EventUpdated:
		e.OnUpdated(ev.Tab, ev.Status)
	case types.EventReplaced:
		e.OnReplaced(ev.RemovedTabID, ev.AddedTabID)
	case types.EventRemoved:
		e.OnRemoved(ev.Tab.ID)
	case types.EventClicked:
		e.OnClicked(ev.Tab)
	case types.EventInstalled:
		if ev.Reason == "install" {
			e.FirstRun(ev.InstallType)
		}
	case types.EventReady:
		if err := e.Install(ctx); err != nil {
			applog.Error("extension.install", err)
		}
	default:
		applog.Info("extension.event.unknown", "kind", ev.Kind)
	}
}

// OnCreated starts tracking a new tab.
func (e *Extension) OnCreated(tab types.Tab) {
	delete(e.pendingLink, tab.ID)
	e.machine.ClearTab(tab.ID)
}

// OnUpdated handles a navigation status change.
func (e *Extension) OnUpdated(tab types.Tab, status string) {
	live, tracked := e.machine.Lookup(tab.ID)

	if e.inPageDirectLink(live, tracked, tab) {
		// The document stays loaded; only the activation decision changes.
		// Activating an errored tab resets readiness, and no completion
		// follows an in-page navigation to restore it.
		if st := e.machine.ActivateTab(tab.ID); !st.Ready {
			e.machine.SetReady(tab.ID, true, tab.URL)
		}
		return
	}

	switch status {
	case types.StatusLoading:
		if e.pendingLink[tab.ID] && tracked && !sameDocument(live.URL, tab.URL) {
			delete(e.pendingLink, tab.ID)
		}
		if IsDirectLink(tab.URL) {
			e.pendingLink[tab.ID] = true
		}
		e.machine.SetReady(tab.ID, false, tab.URL)
		if prev, ok := e.machine.PreviousState(tab.ID); ok && prev.State == types.Errored {
			// Reloading an errored tab retries.
			e.machine.ActivateTab(tab.ID)
		}

	case types.StatusComplete:
		activate := e.pendingLink[tab.ID] || IsDirectLink(tab.URL)
		delete(e.pendingLink, tab.ID)
		if activate {
			e.machine.ActivateTab(tab.ID)
		}
		e.machine.SetReady(tab.ID, true, tab.URL)

	default:
		if IsDirectLink(tab.URL) && !live.Ready {
			e.pendingLink[tab.ID] = true
		}
	}
}

// inPageDirectLink reports a fragment-only change to a direct link on a
// page that already finished loading.
func (e *Extension) inPageDirectLink(live types.TabState, tracked bool, tab types.Tab) bool {
	return tracked && live.Ready && live.URL != "" && live.URL != tab.URL &&
		sameDocument(live.URL, tab.URL) && IsDirectLink(tab.URL)
}

// OnReplaced carries the activation state of a replaced tab over to the
// tab that took its place.
func (e *Extension) OnReplaced(oldID, newID int) {
	delete(e.pendingLink, oldID)
	e.machine.CarryOver(oldID, newID)
}

// OnRemoved forgets a closed tab.
func (e *Extension) OnRemoved(tabID int) {
	delete(e.pendingLink, tabID)
	e.machine.RemoveTab(tabID)
}

// OnClicked toggles the sidebar, or explains the failure of an errored tab.
func (e *Extension) OnClicked(tab types.Tab) {
	switch {
	case e.machine.IsErrored(tab.ID):
		e.showHelp(tab, e.machine.State(tab.ID).Err)
	case e.machine.IsActive(tab.ID):
		e.machine.DeactivateTab(tab.ID)
	case e.machine.IsInactive(tab.ID):
		e.machine.ActivateTab(tab.ID)
	}
}

func (e *Extension) showHelp(tab types.Tab, cause error) {
	e.deps.Async.Go(func(ctx context.Context) func() {
		err := e.deps.Help.ShowHelpForError(ctx, tab, cause)
		if err == nil {
			return nil
		}
		return func() { applog.Error("extension.help", err, "tab", tab.ID) }
	})
}

// FirstRun opens the welcome page in a new, active tab. Administrative
// installs are left alone.
func (e *Extension) FirstRun(installType string) {
	if installType == "admin" || e.cfg.WelcomeURL == "" {
		return
	}
	url := e.cfg.WelcomeURL
	e.deps.Async.Go(func(ctx context.Context) func() {
		tabID, err := e.deps.Opener.OpenTab(ctx, url, -1)
		return func() {
			if err != nil {
				applog.Error("extension.welcome", err, "url", url)
				return
			}
			e.machine.ActivateTab(tabID)
		}
	})
}

// Install restores saved state without side effects, then reconciles it
// against the tabs that are actually open, one tab at a time.
func (e *Extension) Install(ctx context.Context) error {
	saved, err := e.deps.Loader.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load saved tab states: %w", err)
	}
	if err := e.machine.Load(saved); err != nil {
		applog.Error("extension.restore", err)
	}
	applog.Info("extension.restored", "tabs", len(saved))

	e.deps.Async.Go(func(ctx context.Context) func() {
		tabs, err := e.deps.Tabs.QueryTabs(ctx)
		return func() {
			if err != nil {
				applog.Error("extension.query", err)
				return
			}
			e.reconcile(tabs)
		}
	})
	return nil
}

func (e *Extension) reconcile(tabs []types.Tab) {
	open := make(map[int]bool, len(tabs))
	for _, tab := range tabs {
		open[tab.ID] = true
		e.machine.Observe(tab)
		e.deps.Syncer.Sync(tab.ID)
	}
	for tabID := range e.machine.All() {
		if !open[tabID] {
			e.machine.RemoveTab(tabID)
		}
	}
	applog.Info("extension.reconciled", "open", len(tabs))
}
