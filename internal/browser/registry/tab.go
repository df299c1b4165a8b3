// internal/browser/registry/tab.go
package registry

import (
	"context"
	"sort"
	"sync"

	cdproto "github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
)

// Tab is the registry record of one page. ID, SessionID and Target never
// change. mu is the tab's shard lock: it guards page state, element
// references and pending interceptions.
type Tab struct {
	ID        string
	SessionID string
	Target    transport.Target

	mu             sync.RWMutex
	closed         bool
	url            string
	title          string
	loadState      schemas.LoadState
	generation     uint64
	mainFrameID    string
	lastNavSeq     uint64
	dialog         *schemas.DialogInfo
	domains        map[string]bool
	elements       map[string]*Element
	interceptions  map[string]*Interception
	interceptOrder []string
	drained        <-chan struct{}
}

func newTab(id, sessionID string, target transport.Target) *Tab {
	return &Tab{
		ID:            id,
		SessionID:     sessionID,
		Target:        target,
		url:           "about:blank",
		loadState:     schemas.LoadComplete,
		domains:       make(map[string]bool),
		elements:      make(map[string]*Element),
		interceptions: make(map[string]*Interception),
	}
}

// Exec binds ctx to the tab's target so cdproto command builders run against it.
func (t *Tab) Exec(ctx context.Context) context.Context {
	return cdproto.WithExecutor(ctx, t.Target)
}

// Closed reports whether the tab has been evicted.
func (t *Tab) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Generation is the current document generation; it grows on every
// full navigation.
func (t *Tab) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

func (t *Tab) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.url
}

// SetURL records a URL change that did not replace the document.
func (t *Tab) SetURL(url string) {
	t.mu.Lock()
	t.url = url
	t.mu.Unlock()
}

func (t *Tab) Title() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.title
}

func (t *Tab) SetTitle(title string) {
	t.mu.Lock()
	t.title = title
	t.mu.Unlock()
}

func (t *Tab) LoadState() schemas.LoadState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loadState
}

func (t *Tab) SetLoadState(s schemas.LoadState) {
	t.mu.Lock()
	t.loadState = s
	t.mu.Unlock()
}

// MainFrameID is the id of the top-level frame, once known.
func (t *Tab) MainFrameID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mainFrameID
}

// LastNavigationSeq is the log sequence of the latest main-frame navigation.
func (t *Tab) LastNavigationSeq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastNavSeq
}

// MarkNavigated records a committed main-frame navigation.
func (t *Tab) MarkNavigated(seq uint64, frameID, url string) {
	t.mu.Lock()
	t.lastNavSeq = seq
	t.mainFrameID = frameID
	t.url = url
	t.title = ""
	t.loadState = schemas.LoadLoading
	t.mu.Unlock()
}

// Dialog returns the open JavaScript dialog, if any.
func (t *Tab) Dialog() *schemas.DialogInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.dialog == nil {
		return nil
	}
	d := *t.dialog
	return &d
}

func (t *Tab) SetDialog(d *schemas.DialogInfo) {
	t.mu.Lock()
	t.dialog = d
	t.mu.Unlock()
}

// SetDomain records whether an event domain is enabled on the target.
func (t *Tab) SetDomain(name string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enabled {
		t.domains[name] = true
		return
	}
	delete(t.domains, name)
}

// DomainEnabled reports whether SetDomain(name, true) is in effect.
func (t *Tab) DomainEnabled(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.domains[name]
}

// Domains lists the enabled event domains, sorted.
func (t *Tab) Domains() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.domains))
	for d := range t.domains {
		out = append(out, d)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SetDrained stores the channel closed when the tab's event drain exits.
func (t *Tab) SetDrained(ch <-chan struct{}) {
	t.mu.Lock()
	t.drained = ch
	t.mu.Unlock()
}

// Drained returns the drain's exit channel, or a closed channel if none was started.
func (t *Tab) Drained() <-chan struct{} {
	t.mu.RLock()
	ch := t.drained
	t.mu.RUnlock()
	if ch == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return ch
}

// Info snapshots the tab.
func (t *Tab) Info() schemas.TabInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info := schemas.TabInfo{
		ID:         t.ID,
		SessionID:  t.SessionID,
		URL:        t.url,
		Title:      t.title,
		LoadState:  t.loadState,
		Generation: t.generation,
		Elements:   len(t.elements),
	}
	if t.Target != nil {
		info.TargetID = t.Target.ID()
	}
	if t.dialog != nil {
		d := *t.dialog
		info.Dialog = &d
	}
	return info
}
