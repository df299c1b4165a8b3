// internal/browser/registry/session.go
package registry

import (
	"sync"
	"time"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
)

// Session is the registry record of one browser session. ID, Config and
// CreatedAt never change; everything else is guarded by mu.
type Session struct {
	ID        string
	Config    schemas.LaunchConfig
	CreatedAt time.Time

	mu        sync.RWMutex
	state     schemas.SessionState
	startedAt *time.Time
	tabs      []string
	browser   transport.Browser
}

// State returns the current lifecycle state.
func (s *Session) State() schemas.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transition moves the session to `to` if it is currently in one of `from`.
// It returns the state it found.
func (s *Session) Transition(to schemas.SessionState, from ...schemas.SessionState) (schemas.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.state
	for _, f := range from {
		if cur == f {
			s.state = to
			if to == schemas.SessionRunning {
				now := time.Now().UTC()
				s.startedAt = &now
			}
			return cur, true
		}
	}
	return cur, false
}

// SetBrowser records the process handle once the launch succeeded.
func (s *Session) SetBrowser(b transport.Browser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browser = b
}

// Browser returns the process handle, nil before start.
func (s *Session) Browser() transport.Browser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.browser
}

// TabIDs returns the ids of the session's tabs in creation order.
func (s *Session) TabIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tabs...)
}

// Info snapshots the session.
func (s *Session) Info() schemas.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := schemas.SessionInfo{
		ID:        s.ID,
		State:     s.state,
		Tabs:      append([]string{}, s.tabs...),
		Config:    s.Config,
		CreatedAt: s.CreatedAt,
	}
	if s.startedAt != nil {
		t := *s.startedAt
		info.StartedAt = &t
	}
	return info
}

func (s *Session) attachTab(tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != schemas.SessionStarting && s.state != schemas.SessionRunning {
		return schemas.NewError(schemas.ErrSessionNotRunning, "session %q is %s", s.ID, s.state)
	}
	s.tabs = append(s.tabs, tabID)
	return nil
}

func (s *Session) detachTab(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.tabs {
		if id == tabID {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			return
		}
	}
}
