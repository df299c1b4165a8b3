// internal/browser/registry/interception.go
package registry

import (
	"time"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// Interception is a paused network request awaiting a decision.
type Interception struct {
	Request schemas.InterceptedRequest
	timer   *time.Timer
}

// AddInterception records a paused request. arm, if given, is called under the
// tab lock after the record is visible and returns the auto-continue timer.
func (r *Registry) AddInterception(tabID string, req schemas.InterceptedRequest, arm func() *time.Timer) error {
	t, err := r.Tab(tabID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return schemas.NewError(schemas.ErrNotFound, "tab %q not found", tabID)
	}
	if _, dup := t.interceptions[req.RequestID]; dup {
		return schemas.NewError(schemas.ErrInvalidArgument, "request %q is already paused", req.RequestID)
	}
	ic := &Interception{Request: req}
	t.interceptions[req.RequestID] = ic
	t.interceptOrder = append(t.interceptOrder, req.RequestID)
	if arm != nil {
		ic.timer = arm()
	}
	return nil
}

// TakeInterception removes a pending request and stops its timer. Exactly one
// caller can take a given request; everyone else gets NotFound.
func (r *Registry) TakeInterception(tabID, requestID string) (*Interception, error) {
	t, err := r.Tab(tabID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ic, ok := t.interceptions[requestID]
	if !ok {
		return nil, schemas.NewError(schemas.ErrNotFound, "no paused request %q on tab %q", requestID, tabID)
	}
	delete(t.interceptions, requestID)
	t.removeOrderLocked(requestID)
	if ic.timer != nil {
		ic.timer.Stop()
	}
	return ic, nil
}

// RestoreInterception puts back a request taken by TakeInterception whose
// decision never reached the browser. It keeps pause order and re-arms the
// timer through arm.
func (r *Registry) RestoreInterception(tabID string, ic *Interception, arm func() *time.Timer) error {
	t, err := r.Tab(tabID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return schemas.NewError(schemas.ErrNotFound, "tab %q not found", tabID)
	}
	id := ic.Request.RequestID
	if _, dup := t.interceptions[id]; dup {
		return schemas.NewError(schemas.ErrInvalidArgument, "request %q is already paused", id)
	}
	at := len(t.interceptOrder)
	for i, other := range t.interceptOrder {
		if t.interceptions[other].Request.PausedAt.After(ic.Request.PausedAt) {
			at = i
			break
		}
	}
	t.interceptOrder = append(t.interceptOrder, "")
	copy(t.interceptOrder[at+1:], t.interceptOrder[at:])
	t.interceptOrder[at] = id
	t.interceptions[id] = ic
	ic.timer = nil
	if arm != nil {
		ic.timer = arm()
	}
	return nil
}

// Interceptions lists pending requests of a tab in pause order.
func (r *Registry) Interceptions(tabID string) ([]schemas.InterceptedRequest, error) {
	t, err := r.Tab(tabID)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schemas.InterceptedRequest, 0, len(t.interceptOrder))
	for _, id := range t.interceptOrder {
		out = append(out, t.interceptions[id].Request)
	}
	return out, nil
}

// DrainInterceptions takes every pending request of a tab at once.
func (r *Registry) DrainInterceptions(tabID string) ([]*Interception, error) {
	t, err := r.Tab(tabID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Interception, 0, len(t.interceptOrder))
	for _, id := range t.interceptOrder {
		ic := t.interceptions[id]
		if ic.timer != nil {
			ic.timer.Stop()
		}
		out = append(out, ic)
	}
	t.interceptions = make(map[string]*Interception)
	t.interceptOrder = nil
	return out, nil
}

func (t *Tab) removeOrderLocked(requestID string) {
	for i, id := range t.interceptOrder {
		if id == requestID {
			t.interceptOrder = append(t.interceptOrder[:i], t.interceptOrder[i+1:]...)
			return
		}
	}
}
