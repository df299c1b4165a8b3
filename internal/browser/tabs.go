// internal/browser/tabs.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// CreateTab opens a new page in a running session. An empty tabID gets a
// generated one. When url is set the tab navigates there before returning.
func (m *Manager) CreateTab(ctx context.Context, sessionID, tabID, url string) (schemas.TabInfo, error) {
	s, err := m.reg.Session(sessionID)
	if err != nil {
		return schemas.TabInfo{}, err
	}
	if st := s.State(); st != schemas.SessionRunning {
		return schemas.TabInfo{}, schemas.NewError(schemas.ErrSessionNotRunning, "session %q is %s", sessionID, st)
	}
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		tabID = sessionID + "_" + uuid.NewString()[:8]
	}
	if _, err := m.reg.Tab(tabID); err == nil {
		return schemas.TabInfo{}, schemas.NewError(schemas.ErrInvalidConfig, "tab %q already exists", tabID)
	}

	b := s.Browser()
	if b == nil {
		return schemas.TabInfo{}, schemas.NewError(schemas.ErrSessionNotRunning, "session %q has no browser", sessionID)
	}
	target, err := b.NewTarget(ctx, "about:blank")
	if err != nil {
		return schemas.TabInfo{}, fmt.Errorf("failed to open tab %q: %w", tabID, err)
	}
	tab, err := m.attachTab(ctx, s, tabID, target)
	if err != nil {
		return schemas.TabInfo{}, err
	}
	m.logger.Info("Tab created.", zap.String("session_id", sessionID), zap.String("tab_id", tabID))

	if url != "" {
		if _, err := m.Navigate(ctx, tab.ID, url, schemas.WaitLoad, 0); err != nil {
			return tab.Info(), err
		}
	}
	return tab.Info(), nil
}

// CloseTab closes one tab. Its element references and pending interceptions
// go with it.
func (m *Manager) CloseTab(ctx context.Context, tabID string) error {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return err
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout())
	defer cancel()
	m.closeTab(closeCtx, tab)
	m.logger.Info("Tab closed.", zap.String("tab_id", tabID))
	return nil
}

// ListTabs snapshots a session's tabs in creation order.
func (m *Manager) ListTabs(sessionID string) ([]schemas.TabInfo, error) {
	tabs, err := m.reg.Tabs(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.TabInfo, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.Info())
	}
	return out, nil
}

// TabInfo snapshots one tab.
func (m *Manager) TabInfo(tabID string) (schemas.TabInfo, error) {
	t, err := m.reg.Tab(tabID)
	if err != nil {
		return schemas.TabInfo{}, err
	}
	return t.Info(), nil
}

// BringToFront activates a tab's page in the browser window.
func (m *Manager) BringToFront(ctx context.Context, tabID string) (schemas.TabInfo, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.TabInfo{}, err
	}
	if err := page.BringToFront().Do(tab.Exec(ctx)); err != nil {
		return schemas.TabInfo{}, fmt.Errorf("failed to activate tab %q: %w", tabID, err)
	}
	return tab.Info(), nil
}
