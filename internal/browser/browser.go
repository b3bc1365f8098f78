// Package browser implements the browser-side collaborators of the
// dispatcher and the lifecycle adapter as commands over the extension
// bridge.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lotas/tabsidebar/internal/injecterr"
	"github.com/lotas/tabsidebar/internal/server"
	"github.com/lotas/tabsidebar/internal/types"
)

// Command names understood by the extension.
const (
	ActionInject    = "inject"
	ActionRemove    = "remove"
	ActionSetBadge  = "setBadge"
	ActionQueryTabs = "queryTabs"
	ActionOpenTab   = "openTab"
)

// badgeTimeout bounds the badge write, which runs on the event loop.
const badgeTimeout = 2 * time.Second

// requestTimeout bounds a command waiting for the extension's answer.
const requestTimeout = 30 * time.Second

// Bridge is the command channel to the extension.
type Bridge interface {
	Send(ctx context.Context, msg server.OutgoingMsg) error
	Request(ctx context.Context, msg server.OutgoingMsg) (server.IncomingMsg, error)
}

// Client drives the browser through the extension.
type Client struct {
	bridge  Bridge
	timeout time.Duration
}

// NewClient returns a Client sending commands over bridge.
func NewClient(bridge Bridge) *Client {
	return &Client{bridge: bridge, timeout: requestTimeout}
}

// do sends a command and converts a failed response into an error.
func (c *Client) do(ctx context.Context, msg server.OutgoingMsg) (server.IncomingMsg, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.bridge.Request(ctx, msg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return resp, injecterr.New(injecterr.KindRequestCanceled, err.Error())
		}
		return resp, err
	}
	if resp.OK != nil && !*resp.OK {
		return resp, responseError(resp)
	}
	return resp, nil
}

func responseError(resp server.IncomingMsg) error {
	if resp.ErrorKind == "" {
		return errors.New(resp.Error)
	}
	return injecterr.New(injecterr.ParseKind(resp.ErrorKind), resp.Error)
}

// Inject adds the sidebar to a tab.
func (c *Client) Inject(ctx context.Context, tab types.Tab) error {
	_, err := c.do(ctx, server.OutgoingMsg{Action: ActionInject, TabID: tab.ID, URL: tab.URL})
	return err
}

// Remove takes the sidebar out of a tab.
func (c *Client) Remove(ctx context.Context, tab types.Tab) error {
	_, err := c.do(ctx, server.OutgoingMsg{Action: ActionRemove, TabID: tab.ID, URL: tab.URL})
	return err
}

// Update renders st on the toolbar button of a tab.
func (c *Client) Update(tabID int, st types.TabState) error {
	ctx, cancel := context.WithTimeout(context.Background(), badgeTimeout)
	defer cancel()
	badge := RenderBadge(st)
	return c.bridge.Send(ctx, server.OutgoingMsg{Action: ActionSetBadge, TabID: tabID, Badge: &badge})
}

// QueryTabs lists the open tabs.
func (c *Client) QueryTabs(ctx context.Context) ([]types.Tab, error) {
	resp, err := c.do(ctx, server.OutgoingMsg{Action: ActionQueryTabs})
	if err != nil {
		return nil, err
	}
	if len(resp.Tabs) == 0 {
		return nil, nil
	}
	return server.ParseTabs(resp.Tabs)
}

// OpenTab opens url in a new tab at index, or at the end when index is
// negative, and returns the new tab's id.
func (c *Client) OpenTab(ctx context.Context, url string, index int) (int, error) {
	msg := server.OutgoingMsg{Action: ActionOpenTab, URL: url}
	if index >= 0 {
		msg.Index = &index
	}
	resp, err := c.do(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", url, err)
	}
	return resp.TabID, nil
}

// Badge titles.
const (
	TitleActive   = "Hypothesis is active"
	TitleInactive = "Hypothesis is inactive"
	TitleErrored  = "Hypothesis failed to load"
)

// Icon names.
const (
	IconActive   = "active"
	IconInactive = "inactive"
)

const maxBadgeCount = 999

// RenderBadge computes the toolbar button for a tab record. The annotation
// count is shown for tabs that are not errored.
func RenderBadge(st types.TabState) server.Badge {
	var b server.Badge
	switch st.State {
	case types.Active:
		b.Icon = IconActive
		b.Title = TitleActive
	case types.Errored:
		b.Icon = IconInactive
		b.Title = TitleErrored
		b.Text = "!"
		return b
	default:
		b.Icon = IconInactive
		b.Title = TitleInactive
	}

	if st.AnnotationCount > 0 {
		total := strconv.Itoa(st.AnnotationCount)
		if st.AnnotationCount > maxBadgeCount {
			total = strconv.Itoa(maxBadgeCount) + "+"
		}
		b.Text = total
		if st.AnnotationCount == 1 {
			b.Title = "There's 1 annotation on this page"
		} else {
			b.Title = "There are " + total + " annotations on this page"
		}
	}
	return b
}
