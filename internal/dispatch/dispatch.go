// Package dispatch turns tab state transitions into side effects: badge
// updates, persistence, sidebar injection and removal, and annotation count
// refreshes.
package dispatch

import (
	"context"

	"github.com/lotas/tabsidebar/internal/applog"
	"github.com/lotas/tabsidebar/internal/badgecount"
	"github.com/lotas/tabsidebar/internal/injecterr"
	"github.com/lotas/tabsidebar/internal/tabstate"
	"github.com/lotas/tabsidebar/internal/types"
)

// InjectContext is the diagnostics label for injection failures.
const InjectContext = "Injecting Hypothesis sidebar"

// Persister stores tab records across restarts.
type Persister interface {
	Save(ctx context.Context, tabID int, st types.TabState) error
	Remove(ctx context.Context, tabID int) error
}

// Injector adds and removes the sidebar UI in a tab.
type Injector interface {
	Inject(ctx context.Context, tab types.Tab) error
	Remove(ctx context.Context, tab types.Tab) error
}

// BadgeUpdater renders a tab's state on the toolbar icon.
type BadgeUpdater interface {
	Update(tabID int, st types.TabState) error
}

// CountFetcher looks up the number of annotations for a URL.
type CountFetcher interface {
	FetchCount(ctx context.Context, url string) (int, error)
}

// Settings exposes the user preferences the dispatcher depends on.
type Settings interface {
	BadgeEnabled() bool
}

// Reporter receives unexpected injection failures.
type Reporter interface {
	Report(err error, context string, meta map[string]string)
}

// Async runs blocking work off the event loop. The function returned by
// work is applied back on the loop.
type Async interface {
	Go(work func(ctx context.Context) func())
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Persister Persister
	Injector  Injector
	Badge     BadgeUpdater
	Counter   CountFetcher
	Settings  Settings
	Reporter  Reporter
	Async     Async
}

// Dispatcher reacts to state machine notifications. All methods must run on
// the event loop.
type Dispatcher struct {
	machine *tabstate.Machine
	deps    Deps
	ctx     context.Context

	// nav counts navigations per tab so completions can tell whether the
	// document they acted on is still the one loaded.
	nav       map[int]int
	mounted   map[int]bool
	injecting map[int]bool
	removing  map[int]bool
	fetching  map[int]string
}

// New creates a Dispatcher and subscribes it to machine.
func New(machine *tabstate.Machine, deps Deps) *Dispatcher {
	d := &Dispatcher{
		machine:   machine,
		deps:      deps,
		ctx:       context.Background(),
		nav:       make(map[int]int),
		mounted:   make(map[int]bool),
		injecting: make(map[int]bool),
		removing:  make(map[int]bool),
		fetching:  make(map[int]string),
	}
	machine.Subscribe(d.Handle)
	return d
}

// Handle applies the side effects of one transition.
func (d *Dispatcher) Handle(tabID int, current, previous *types.TabState) {
	if current == nil {
		d.forget(tabID)
		return
	}

	if previous != nil && previous.Ready && !current.Ready {
		d.nav[tabID]++
		delete(d.mounted, tabID)
	}

	d.updateBadge(tabID, *current)

	if current.State != types.Errored {
		if err := d.deps.Persister.Save(d.ctx, tabID, *current); err != nil {
			applog.Error("dispatch.persist", err, "tab", tabID)
		}
	}

	d.maybeRefreshCount(tabID, *current, previous)

	d.syncUI(tabID, *current)
}

// Sync pushes the live record of a tab to the browser once: badge, then
// sidebar injection or removal. It is used when reconciling at startup.
func (d *Dispatcher) Sync(tabID int) {
	st := d.machine.State(tabID)
	d.updateBadge(tabID, st)
	d.syncUI(tabID, st)
}

func (d *Dispatcher) forget(tabID int) {
	if err := d.deps.Persister.Remove(d.ctx, tabID); err != nil {
		applog.Error("dispatch.unpersist", err, "tab", tabID)
	}
	delete(d.nav, tabID)
	delete(d.mounted, tabID)
	delete(d.fetching, tabID)
	// In-flight injection or removal completions find no record and drop out.
}

func (d *Dispatcher) updateBadge(tabID int, st types.TabState) {
	if err := d.deps.Badge.Update(tabID, st); err != nil {
		applog.Error("dispatch.badge", err, "tab", tabID)
	}
}

// syncUI decides whether the sidebar must be injected or removed for st.
func (d *Dispatcher) syncUI(tabID int, st types.TabState) {
	if st.State == types.Errored || !st.Ready {
		return
	}
	if d.injecting[tabID] || d.removing[tabID] {
		// The completion re-evaluates against the live record.
		return
	}
	switch st.State {
	case types.Active:
		if !st.Installed {
			d.inject(tabID, st)
		}
	case types.Inactive:
		if d.mounted[tabID] {
			d.remove(tabID, st)
		}
	}
}

func (d *Dispatcher) inject(tabID int, st types.TabState) {
	d.injecting[tabID] = true
	tab := types.Tab{ID: tabID, URL: st.URL}
	nav := d.nav[tabID]
	applog.Info("dispatch.inject", "tab", tabID, "url", st.URL)

	d.deps.Async.Go(func(ctx context.Context) func() {
		err := d.deps.Injector.Inject(ctx, tab)
		return func() { d.injectDone(tab, nav, err) }
	})
}

func (d *Dispatcher) injectDone(tab types.Tab, nav int, err error) {
	delete(d.injecting, tab.ID)

	live, ok := d.machine.Lookup(tab.ID)
	if !ok {
		return
	}
	sameDoc := live.Ready && d.nav[tab.ID] == nav && live.URL == tab.URL

	if err != nil && sameDoc && injecterr.KindOf(err) == injecterr.KindAlreadyInjected {
		// The sidebar is on the page from an earlier run.
		applog.Info("dispatch.inject.present", "tab", tab.ID)
		err = nil
	}

	if err != nil {
		if injecterr.Classify(err) == injecterr.Ignorable {
			applog.Info("dispatch.inject.ignored", "tab", tab.ID, "reason", err.Error())
		} else {
			applog.Error("dispatch.inject", err, "tab", tab.ID, "url", tab.URL)
			d.deps.Reporter.Report(err, InjectContext, map[string]string{"url": tab.URL})
			if sameDoc && live.State == types.Active {
				d.machine.ErrorTab(tab.ID, err)
				return
			}
		}
		if !sameDoc {
			// The failure belongs to the previous document; the current one
			// skipped its own injection while this one was in flight.
			d.syncUI(tab.ID, live)
		}
		return
	}

	if !sameDoc {
		// The page navigated while injecting; whatever was injected is gone.
		d.syncUI(tab.ID, live)
		return
	}
	d.mounted[tab.ID] = true
	if live.State == types.Active {
		if !live.Installed {
			d.machine.SetInstalled(tab.ID, true)
		}
		return
	}
	// Deactivated while injecting.
	d.syncUI(tab.ID, live)
}

func (d *Dispatcher) remove(tabID int, st types.TabState) {
	d.removing[tabID] = true
	tab := types.Tab{ID: tabID, URL: st.URL}
	applog.Info("dispatch.remove", "tab", tabID, "url", st.URL)

	d.deps.Async.Go(func(ctx context.Context) func() {
		err := d.deps.Injector.Remove(ctx, tab)
		return func() { d.removeDone(tab, err) }
	})
}

func (d *Dispatcher) removeDone(tab types.Tab, err error) {
	delete(d.removing, tab.ID)

	live, ok := d.machine.Lookup(tab.ID)
	if !ok {
		return
	}
	if err != nil {
		// Left mounted; the next qualifying change retries.
		applog.Error("dispatch.remove", err, "tab", tab.ID, "url", tab.URL)
		return
	}
	delete(d.mounted, tab.ID)

	if live.State == types.Active && live.Installed {
		// Reactivated while removing: the flag no longer matches the page.
		// Clearing it triggers a fresh injection through Handle.
		d.machine.SetInstalled(tab.ID, false)
		return
	}
	d.syncUI(tab.ID, live)
}

// maybeRefreshCount starts a count fetch when a tab becomes ready on a URL.
func (d *Dispatcher) maybeRefreshCount(tabID int, current types.TabState, previous *types.TabState) {
	if !current.Ready || current.URL == "" {
		return
	}
	if previous != nil && previous.Ready && previous.URL == current.URL {
		return
	}
	if !d.deps.Settings.BadgeEnabled() {
		return
	}
	if d.fetching[tabID] == current.URL {
		return
	}
	url := current.URL
	d.fetching[tabID] = url

	d.deps.Async.Go(func(ctx context.Context) func() {
		count, err := d.deps.Counter.FetchCount(ctx, url)
		return func() { d.countDone(tabID, url, count, err) }
	})
}

func (d *Dispatcher) countDone(tabID int, url string, count int, err error) {
	if d.fetching[tabID] == url {
		delete(d.fetching, tabID)
	}
	if badgecount.IsBlocked(err) {
		applog.Info("dispatch.count.skipped", "tab", tabID, "reason", err.Error())
		return
	}
	if err != nil {
		applog.Error("dispatch.count", err, "tab", tabID, "url", url)
		return
	}
	live, ok := d.machine.Lookup(tabID)
	if !ok || live.URL != url {
		applog.Info("dispatch.count.stale", "tab", tabID, "url", url)
		return
	}
	if live.AnnotationCount != count {
		d.machine.SetAnnotationCount(tabID, count)
	}
}
