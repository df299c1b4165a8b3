// internal/browser/navigation.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
)

const defaultNavigateTimeout = 30 * time.Second

func (m *Manager) navigateTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if d := m.cfg.Interaction().NavigateTimeout; d > 0 {
		return d
	}
	return defaultNavigateTimeout
}

// waitCondition reports whether an entry satisfies a wait_until condition.
func waitCondition(w schemas.WaitUntil) func(schemas.EventEntry) bool {
	switch w {
	case schemas.WaitDOMContentLoaded:
		return func(e schemas.EventEntry) bool { return e.Method == events.MethodDOMContentEventFired }
	case schemas.WaitNetworkIdle:
		return func(e schemas.EventEntry) bool {
			return e.Method == events.MethodLifecycleEvent && e.String("name") == "networkIdle"
		}
	default:
		return func(e schemas.EventEntry) bool { return e.Method == events.MethodLoadEventFired }
	}
}

// after narrows pred to entries newer than seq.
func after(seq uint64, pred func(schemas.EventEntry) bool) func(schemas.EventEntry) bool {
	return func(e schemas.EventEntry) bool { return e.Seq > seq && pred(e) }
}

// waitUntilDeadline waits on the tab's log with whatever is left of deadline.
func (m *Manager) waitUntilDeadline(ctx context.Context, tabID string, deadline time.Time, budget time.Duration, reason string, pred func(schemas.EventEntry) bool) (schemas.EventEntry, error) {
	left := time.Until(deadline)
	if left <= 0 {
		return schemas.EventEntry{}, schemas.TimeoutError(reason, "tab %q did not reach the requested state within %s", tabID, budget)
	}
	e, err := m.pipe.WaitFor(ctx, tabID, left, reason, pred)
	if err != nil && schemas.IsKind(err, schemas.ErrTimeout) {
		return e, schemas.TimeoutError(reason, "tab %q did not reach the requested state within %s", tabID, budget)
	}
	return e, err
}

func (m *Manager) logMark(tabID string) (uint64, error) {
	log, err := m.pipe.Log(tabID)
	if err != nil {
		return 0, err
	}
	return log.LastSeq(), nil
}

// Navigate loads url in a tab and blocks until waitUntil is observed for the
// new document. On timeout the navigation keeps going in the browser.
func (m *Manager) Navigate(ctx context.Context, tabID, url string, waitUntil schemas.WaitUntil, timeout time.Duration) (schemas.NavigationResult, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	if url == "" {
		return schemas.NavigationResult{}, schemas.NewError(schemas.ErrInvalidArgument, "url must not be empty")
	}
	budget := m.navigateTimeout(timeout)
	deadline := time.Now().Add(budget)

	mark, err := m.logMark(tabID)
	if err != nil {
		return schemas.NavigationResult{}, err
	}

	var res page.NavigateReturns
	if err := cdp.Execute(tab.Exec(ctx), page.CommandNavigate, page.Navigate(url), &res); err != nil {
		return schemas.NavigationResult{}, fmt.Errorf("failed to navigate tab %q: %w", tabID, err)
	}
	if res.ErrorText != "" {
		return schemas.NavigationResult{}, &schemas.Error{
			Kind:    schemas.ErrProtocol,
			Message: fmt.Sprintf("navigation to %s failed: %s", url, res.ErrorText),
		}
	}

	logger := m.logger.With(zap.String("tab_id", tabID), zap.String("url", url))
	if res.LoaderID == "" {
		// Fragment change: no new document, nothing to wait for.
		logger.Debug("Same-document navigation.")
		return m.navigationResult(tab, 0), nil
	}

	loader := string(res.LoaderID)
	committed, err := m.waitUntilDeadline(ctx, tabID, deadline, budget, schemas.ReasonNavigationTimeout, after(mark, func(e schemas.EventEntry) bool {
		return e.Method == events.MethodFrameNavigated && e.Payload["main_frame"] == true && e.String("loader_id") == loader
	}))
	if err != nil {
		return schemas.NavigationResult{}, err
	}

	done, err := m.waitUntilDeadline(ctx, tabID, deadline, budget, schemas.ReasonNavigationTimeout, after(committed.Seq, waitCondition(waitUntil)))
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	logger.Debug("Navigation finished.", zap.String("wait_until", string(waitUntil)), zap.Uint64("seq", done.Seq))
	return m.navigationResult(tab, done.Seq), nil
}

func (m *Manager) navigationResult(tab *registry.Tab, seq uint64) schemas.NavigationResult {
	return schemas.NavigationResult{
		TabID:     tab.ID,
		URL:       tab.URL(),
		LoadState: tab.LoadState(),
		Seq:       seq,
	}
}

// GoBack moves one entry back in the tab's history.
func (m *Manager) GoBack(ctx context.Context, tabID string, timeout time.Duration) (schemas.NavigationResult, error) {
	return m.traverse(ctx, tabID, -1, timeout)
}

// GoForward moves one entry forward in the tab's history.
func (m *Manager) GoForward(ctx context.Context, tabID string, timeout time.Duration) (schemas.NavigationResult, error) {
	return m.traverse(ctx, tabID, 1, timeout)
}

func (m *Manager) traverse(ctx context.Context, tabID string, delta int, timeout time.Duration) (schemas.NavigationResult, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	budget := m.navigateTimeout(timeout)
	deadline := time.Now().Add(budget)

	var hist page.GetNavigationHistoryReturns
	if err := cdp.Execute(tab.Exec(ctx), page.CommandGetNavigationHistory, nil, &hist); err != nil {
		return schemas.NavigationResult{}, fmt.Errorf("failed to read history of tab %q: %w", tabID, err)
	}
	idx := int(hist.CurrentIndex) + delta
	if idx < 0 || idx >= len(hist.Entries) {
		dir := "back"
		if delta > 0 {
			dir = "forward"
		}
		return schemas.NavigationResult{}, schemas.NewError(schemas.ErrInvalidArgument, "tab %q has no history entry to go %s to", tabID, dir)
	}

	mark, err := m.logMark(tabID)
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	if err := page.NavigateToHistoryEntry(hist.Entries[idx].ID).Do(tab.Exec(ctx)); err != nil {
		return schemas.NavigationResult{}, fmt.Errorf("failed to traverse history of tab %q: %w", tabID, err)
	}

	// A history step either loads a document, restores one from the
	// back/forward cache or only moves within the current document.
	e, err := m.waitUntilDeadline(ctx, tabID, deadline, budget, schemas.ReasonNavigationTimeout, after(mark, func(e schemas.EventEntry) bool {
		switch e.Method {
		case events.MethodLoadEventFired, events.MethodNavigatedWithinDocument:
			return true
		case events.MethodFrameNavigated:
			return e.Payload["main_frame"] == true && e.String("type") == string(page.NavigationTypeBackForwardCacheRestore)
		}
		return false
	}))
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	return m.navigationResult(tab, e.Seq), nil
}

// Refresh reloads the tab's document and waits for load.
func (m *Manager) Refresh(ctx context.Context, tabID string, ignoreCache bool, timeout time.Duration) (schemas.NavigationResult, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	budget := m.navigateTimeout(timeout)
	deadline := time.Now().Add(budget)
	mark, err := m.logMark(tabID)
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	if err := page.Reload().WithIgnoreCache(ignoreCache).Do(tab.Exec(ctx)); err != nil {
		return schemas.NavigationResult{}, fmt.Errorf("failed to reload tab %q: %w", tabID, err)
	}
	e, err := m.waitUntilDeadline(ctx, tabID, deadline, budget, schemas.ReasonNavigationTimeout, after(mark, waitCondition(schemas.WaitLoad)))
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	return m.navigationResult(tab, e.Seq), nil
}

// WaitForPageLoad waits for waitUntil on the tab's current document. A
// document that already finished loading returns at once for load and
// domcontentloaded.
func (m *Manager) WaitForPageLoad(ctx context.Context, tabID string, waitUntil schemas.WaitUntil, timeout time.Duration) (schemas.NavigationResult, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	if waitUntil != schemas.WaitNetworkIdle && tab.LoadState() == schemas.LoadComplete {
		return m.navigationResult(tab, 0), nil
	}
	budget := m.navigateTimeout(timeout)
	e, err := m.waitUntilDeadline(ctx, tabID, time.Now().Add(budget), budget, schemas.ReasonNavigationTimeout,
		after(tab.LastNavigationSeq(), waitCondition(waitUntil)))
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	return m.navigationResult(tab, e.Seq), nil
}
