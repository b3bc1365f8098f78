// Package help opens the help page that explains why the sidebar could not
// be loaded into a tab.
package help

import (
	"context"
	"fmt"
	"strings"

	"github.com/lotas/tabsidebar/internal/applog"
	"github.com/lotas/tabsidebar/internal/injecterr"
	"github.com/lotas/tabsidebar/internal/types"
)

// Section anchors on the help page.
const (
	SectionLocalFile          = "local-file"
	SectionNoFileAccess       = "no-file-access"
	SectionRestrictedProtocol = "restricted-protocol"
	SectionBlockedSite        = "blocked-site"
	SectionOtherError         = "other-error"
)

// TabOpener opens a URL in a new tab.
type TabOpener interface {
	OpenTab(ctx context.Context, url string, index int) (int, error)
}

// Page shows the help page next to the affected tab.
type Page struct {
	opener  TabOpener
	baseURL string
}

// NewPage returns a Page for the help document at baseURL.
func NewPage(opener TabOpener, baseURL string) *Page {
	if i := strings.IndexByte(baseURL, '#'); i >= 0 {
		baseURL = baseURL[:i]
	}
	return &Page{opener: opener, baseURL: baseURL}
}

// Section returns the help page anchor that explains err.
func Section(err error) string {
	switch injecterr.KindOf(err) {
	case injecterr.KindLocalFile:
		return SectionLocalFile
	case injecterr.KindNoFileAccess:
		return SectionNoFileAccess
	case injecterr.KindRestrictedProtocol:
		return SectionRestrictedProtocol
	case injecterr.KindBlockedSite:
		return SectionBlockedSite
	}
	return SectionOtherError
}

// URL returns the help page address for err.
func (p *Page) URL(err error) string {
	return p.baseURL + "#" + Section(err)
}

// ShowHelpForError opens the help section for err right after tab.
func (p *Page) ShowHelpForError(ctx context.Context, tab types.Tab, err error) error {
	url := p.URL(err)
	applog.Info("help.show", "tab", tab.ID, "section", Section(err))
	if _, openErr := p.opener.OpenTab(ctx, url, tab.Index+1); openErr != nil {
		return fmt.Errorf("show help for tab %d: %w", tab.ID, openErr)
	}
	return nil
}
