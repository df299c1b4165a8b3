// internal/browser/registry/registry.go
package registry

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
	"github.com/xkilldash9x/cdp-mcp/internal/observability"
)

// elementPrefix starts every element reference id.
const elementPrefix = "el-"

// Registry is the single owner of every session, tab and element reference.
//
// Locking is two level. mu guards only the session and tab maps; each Tab
// carries its own lock for its elements, interceptions and page state, so
// element churn on one tab never contends with another. The element index
// (elementID -> tab) is a sync.Map read on every element resolve.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	tabs     map[string]*Tab

	elements   sync.Map // element id -> *Tab
	elementSeq atomic.Uint64
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("registry"),
		sessions: make(map[string]*Session),
		tabs:     make(map[string]*Tab),
	}
}

// -- Sessions --

// AddSession registers a new session in the created state.
func (r *Registry) AddSession(id string, cfg schemas.LaunchConfig) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, schemas.NewError(schemas.ErrInvalidConfig, "session_id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, schemas.NewError(schemas.ErrInvalidConfig, "session %q already exists", id)
	}
	s := &Session{
		ID:        id,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
		state:     schemas.SessionCreated,
	}
	r.sessions[id] = s
	observability.ActiveSessions.Inc()
	r.logger.Debug("Session registered.", zap.String("session_id", id))
	return s, nil
}

// Session looks up a session.
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, schemas.NewError(schemas.ErrNotFound, "session %q not found", id)
	}
	return s, nil
}

// Sessions returns every registered session, oldest first.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RemoveSession evicts a session together with all of its tabs and their
// element references and pending interceptions.
func (r *Registry) RemoveSession(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return schemas.NewError(schemas.ErrNotFound, "session %q not found", id)
	}
	delete(r.sessions, id)
	var owned []*Tab
	for _, tabID := range s.TabIDs() {
		if t, ok := r.tabs[tabID]; ok {
			owned = append(owned, t)
			delete(r.tabs, tabID)
		}
	}
	r.mu.Unlock()

	for _, t := range owned {
		r.retireTab(t)
	}
	observability.ActiveSessions.Dec()
	r.logger.Debug("Session evicted.", zap.String("session_id", id), zap.Int("tabs", len(owned)))
	return nil
}

// -- Tabs --

// AddTab registers a tab under a session. The session must be starting or running.
func (r *Registry) AddTab(sessionID, tabID string, target transport.Target) (*Tab, error) {
	if strings.TrimSpace(tabID) == "" {
		return nil, schemas.NewError(schemas.ErrInvalidConfig, "tab_id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, schemas.NewError(schemas.ErrNotFound, "session %q not found", sessionID)
	}
	if _, exists := r.tabs[tabID]; exists {
		return nil, schemas.NewError(schemas.ErrInvalidConfig, "tab %q already exists", tabID)
	}
	if err := s.attachTab(tabID); err != nil {
		return nil, err
	}

	t := newTab(tabID, sessionID, target)
	r.tabs[tabID] = t
	observability.ActiveTabs.Inc()
	return t, nil
}

// Tab looks up a live tab.
func (r *Registry) Tab(id string) (*Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tabs[id]
	if !ok {
		return nil, schemas.NewError(schemas.ErrNotFound, "tab %q not found", id)
	}
	return t, nil
}

// RunningTab looks up a tab and checks that its session is running.
func (r *Registry) RunningTab(id string) (*Tab, error) {
	r.mu.RLock()
	t, ok := r.tabs[id]
	var s *Session
	if ok {
		s = r.sessions[t.SessionID]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, schemas.NewError(schemas.ErrNotFound, "tab %q not found", id)
	}
	if s == nil || s.State() != schemas.SessionRunning {
		return nil, schemas.NewError(schemas.ErrSessionNotRunning, "session %q owning tab %q is not running", t.SessionID, id)
	}
	return t, nil
}

// Tabs returns a session's tabs in creation order.
func (r *Registry) Tabs(sessionID string) ([]*Tab, error) {
	s, err := r.Session(sessionID)
	if err != nil {
		return nil, err
	}
	ids := s.TabIDs()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tab, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.tabs[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// RemoveTab evicts a tab, its element references and its pending interceptions.
func (r *Registry) RemoveTab(id string) (*Tab, error) {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return nil, schemas.NewError(schemas.ErrNotFound, "tab %q not found", id)
	}
	delete(r.tabs, id)
	if s, ok := r.sessions[t.SessionID]; ok {
		s.detachTab(id)
	}
	r.mu.Unlock()

	r.retireTab(t)
	return t, nil
}

// retireTab marks a tab closed and drops everything it owns. The tab must
// already be gone from the maps.
func (r *Registry) retireTab(t *Tab) {
	t.mu.Lock()
	t.closed = true
	evicted := len(t.elements)
	for id := range t.elements {
		r.elements.Delete(id)
	}
	t.elements = make(map[string]*Element)
	for _, ic := range t.interceptions {
		if ic.timer != nil {
			ic.timer.Stop()
		}
	}
	t.interceptions = make(map[string]*Interception)
	t.interceptOrder = nil
	t.mu.Unlock()

	observability.ActiveTabs.Dec()
	observability.ElementsInvalidated.Add(float64(evicted))
}

// -- Elements --

// NodeRef is what the element engine learned about a matched node.
type NodeRef struct {
	BackendNodeID cdp.BackendNodeID
	NodeName      string
}

// RegisterElements stores references for nodes found in the given document
// generation. If the tab navigated while the query ran, nothing is stored and
// StaleElement is returned.
func (r *Registry) RegisterElements(tabID string, generation, createdSeq uint64, parentID string, nodes []NodeRef) ([]*Element, error) {
	t, err := r.Tab(tabID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, schemas.NewError(schemas.ErrNotFound, "tab %q not found", tabID)
	}
	if t.generation != generation {
		return nil, schemas.NewError(schemas.ErrStaleElement, "tab %q navigated while the query was running", tabID)
	}

	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		id := elementPrefix + strconv.FormatUint(r.elementSeq.Add(1), 10)
		el := &Element{
			ID:            id,
			TabID:         tabID,
			SessionID:     t.SessionID,
			BackendNodeID: n.BackendNodeID,
			NodeName:      n.NodeName,
			Generation:    generation,
			CreatedSeq:    createdSeq,
			ParentID:      parentID,
		}
		t.elements[id] = el
		r.elements.Store(id, t)
		out = append(out, el.clone())
	}
	return out, nil
}

// Element resolves a reference. An id this registry issued that is no longer
// live resolves to StaleElement; an id it never issued resolves to NotFound.
func (r *Registry) Element(id string) (*Element, error) {
	if v, ok := r.elements.Load(id); ok {
		t := v.(*Tab)
		t.mu.RLock()
		el, live := t.elements[id]
		closed := t.closed
		t.mu.RUnlock()
		if live && !closed {
			return el.clone(), nil
		}
	}
	if r.issued(id) {
		return nil, schemas.NewError(schemas.ErrStaleElement, "element %q is no longer attached to a live document", id)
	}
	return nil, schemas.NewError(schemas.ErrNotFound, "element %q not found", id)
}

func (r *Registry) issued(id string) bool {
	if !strings.HasPrefix(id, elementPrefix) {
		return false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(id, elementPrefix), 10, 64)
	if err != nil || n == 0 {
		return false
	}
	return n <= r.elementSeq.Load()
}

// Elements lists a tab's live references in issue order.
func (r *Registry) Elements(tabID string) ([]*Element, error) {
	t, err := r.Tab(tabID)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	out := make([]*Element, 0, len(t.elements))
	for _, el := range t.elements {
		out = append(out, el.clone())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return elementOrdinal(out[i].ID) < elementOrdinal(out[j].ID) })
	return out, nil
}

// InvalidateElement evicts one reference. It reports whether it was live.
func (r *Registry) InvalidateElement(id string) bool {
	v, ok := r.elements.LoadAndDelete(id)
	if !ok {
		return false
	}
	t := v.(*Tab)
	t.mu.Lock()
	_, live := t.elements[id]
	delete(t.elements, id)
	t.mu.Unlock()
	if live {
		observability.ElementsInvalidated.Inc()
	}
	return live
}

// InvalidateTab starts a new document generation for the tab and evicts every
// reference issued for older ones. It returns the number evicted.
func (r *Registry) InvalidateTab(tabID string) int {
	t, err := r.Tab(tabID)
	if err != nil {
		return 0
	}
	t.mu.Lock()
	t.generation++
	n := r.evictLocked(t)
	t.mu.Unlock()
	return n
}

// ClearElements evicts every reference of a tab without starting a new generation.
func (r *Registry) ClearElements(tabID string) (int, error) {
	t, err := r.Tab(tabID)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	n := r.evictLocked(t)
	t.mu.Unlock()
	return n, nil
}

func (r *Registry) evictLocked(t *Tab) int {
	n := len(t.elements)
	for id := range t.elements {
		r.elements.Delete(id)
	}
	t.elements = make(map[string]*Element)
	if n > 0 {
		observability.ElementsInvalidated.Add(float64(n))
		r.logger.Debug("Element references evicted.", zap.String("tab_id", t.ID), zap.Int("count", n), zap.Uint64("generation", t.generation))
	}
	return n
}

func elementOrdinal(id string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimPrefix(id, elementPrefix), 10, 64)
	return n
}
