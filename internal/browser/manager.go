// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/stealth"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
	"github.com/xkilldash9x/cdp-mcp/internal/observability"
)

// Termination causes recorded in metrics.
const (
	causeClosed       = "closed"
	causeCrashed      = "crashed"
	causeLaunchFailed = "launch_failed"
)

const defaultShutdownTimeout = 10 * time.Second

// Manager drives the session and tab lifecycle. It owns no handles itself:
// every session, tab and target lives in the registry and is looked up per
// call.
type Manager struct {
	reg      *registry.Registry
	pipe     *events.Pipeline
	launcher transport.Launcher
	cfg      config.Interface
	logger   *zap.Logger

	// wg tracks the per-session browser watchers.
	wg sync.WaitGroup
}

// NewManager creates a manager and subscribes it to lost-target
// notifications from the pipeline.
func NewManager(reg *registry.Registry, pipe *events.Pipeline, launcher transport.Launcher, cfg config.Interface, logger *zap.Logger) *Manager {
	m := &Manager{
		reg:      reg,
		pipe:     pipe,
		launcher: launcher,
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
	}
	pipe.OnTargetLost(m.handleTargetLost)
	return m
}

func (m *Manager) shutdownTimeout() time.Duration {
	if d := m.cfg.Browser().ShutdownTimeout; d > 0 {
		return d
	}
	return defaultShutdownTimeout
}

// -- Sessions --

// CreateSession validates opts and registers a session in the created state.
func (m *Manager) CreateSession(ctx context.Context, id string, opts schemas.SessionOptions) (schemas.SessionInfo, error) {
	bcfg := m.cfg.Browser()
	lc, err := ParseLaunchConfig(opts, bcfg)
	if err != nil {
		return schemas.SessionInfo{}, err
	}
	if max := bcfg.MaxSessions; max > 0 && len(m.reg.Sessions()) >= max {
		return schemas.SessionInfo{}, schemas.NewError(schemas.ErrInvalidConfig, "session limit of %d reached", max)
	}
	s, err := m.reg.AddSession(id, lc)
	if err != nil {
		return schemas.SessionInfo{}, err
	}
	m.logger.Info("Session created.", zap.String("session_id", id), zap.Bool("headless", lc.Headless))
	return s.Info(), nil
}

// StartSession launches the session's browser and registers its initial tab.
// Starting a running session is a no-op.
func (m *Manager) StartSession(ctx context.Context, id string) (schemas.SessionInfo, error) {
	s, err := m.reg.Session(id)
	if err != nil {
		return schemas.SessionInfo{}, err
	}
	prev, ok := s.Transition(schemas.SessionStarting, schemas.SessionCreated)
	if !ok {
		if prev == schemas.SessionRunning {
			return s.Info(), nil
		}
		return schemas.SessionInfo{}, schemas.NewError(schemas.ErrSessionNotRunning, "session %q is %s and cannot be started", id, prev)
	}

	logger := m.logger.With(zap.String("session_id", id))
	logger.Info("Starting browser session.")
	spec := launchSpec(id, m.cfg.Browser(), s.Config)

	b, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		m.abortStart(s, nil, err)
		return schemas.SessionInfo{}, fmt.Errorf("failed to start session %q: %w", id, err)
	}
	s.SetBrowser(b)

	if _, err := m.attachTab(ctx, s, id+"_initial", b.InitialTarget()); err != nil {
		m.abortStart(s, b, err)
		return schemas.SessionInfo{}, fmt.Errorf("failed to prepare initial tab of session %q: %w", id, err)
	}

	if prev, ok := s.Transition(schemas.SessionRunning, schemas.SessionStarting); !ok {
		// Closed while we were launching; the closer owns teardown of what it saw.
		m.abortStart(s, b, nil)
		return schemas.SessionInfo{}, schemas.NewError(schemas.ErrSessionNotRunning, "session %q became %s while starting", id, prev)
	}

	m.wg.Add(1)
	go m.watch(s, b)

	logger.Info("Browser session running.")
	return s.Info(), nil
}

// abortStart tears down a half-started session and evicts it. A failed
// launch goes from starting straight to closed.
func (m *Manager) abortStart(s *registry.Session, b transport.Browser, cause error) {
	logger := m.logger.With(zap.String("session_id", s.ID))
	if cause != nil {
		logger.Warn("Browser session failed to start.", zap.Error(cause))
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout())
	defer cancel()
	if tabs, err := m.reg.Tabs(s.ID); err == nil {
		for _, t := range tabs {
			m.closeTab(ctx, t)
		}
	}
	if b != nil {
		if err := b.Close(ctx); err != nil {
			logger.Debug("Error closing browser after failed start.", zap.Error(err))
		}
	}
	m.evict(s, causeLaunchFailed)
}

// CloseSession tears a session down: its tabs concurrently, then the browser
// process. A session that is already closing is left to its closer.
func (m *Manager) CloseSession(ctx context.Context, id string) (schemas.SessionInfo, error) {
	s, err := m.reg.Session(id)
	if err != nil {
		return schemas.SessionInfo{}, err
	}
	prev, ok := s.Transition(schemas.SessionClosing, schemas.SessionRunning, schemas.SessionCreated, schemas.SessionStarting)
	if !ok {
		if prev == schemas.SessionClosing {
			return s.Info(), nil
		}
		return schemas.SessionInfo{}, schemas.NewError(schemas.ErrNotFound, "session %q not found", id)
	}

	logger := m.logger.With(zap.String("session_id", id))
	logger.Info("Closing browser session.", zap.String("from_state", string(prev)))

	// Teardown must finish even if the caller gives up.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout())
	defer cancel()

	if tabs, err := m.reg.Tabs(id); err == nil {
		var g errgroup.Group
		for _, t := range tabs {
			t := t
			g.Go(func() error {
				m.closeTab(closeCtx, t)
				return nil
			})
		}
		_ = g.Wait()
	}

	if b := s.Browser(); b != nil {
		if err := b.Close(closeCtx); err != nil {
			logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
		}
	}
	m.evict(s, causeClosed)

	info := s.Info()
	logger.Info("Browser session closed.")
	return info, nil
}

// evict removes a closing (or failed starting) session from the registry and
// marks it closed.
func (m *Manager) evict(s *registry.Session, cause string) {
	if err := m.reg.RemoveSession(s.ID); err != nil {
		m.logger.Debug("Session already evicted.", zap.String("session_id", s.ID))
	}
	if _, ok := s.Transition(schemas.SessionClosed, schemas.SessionClosing, schemas.SessionStarting); ok {
		observability.SessionTerminations.WithLabelValues(cause).Inc()
	}
}

// watch forces the session closed if its browser exits on its own.
func (m *Manager) watch(s *registry.Session, b transport.Browser) {
	defer m.wg.Done()
	<-b.Done()
	switch s.State() {
	case schemas.SessionClosing, schemas.SessionClosed:
		return
	}
	m.forceClose(s, b.Err())
}

// forceClose handles an unexpected browser exit: everything beneath the
// session is evicted and the session ends closed. The server keeps running.
func (m *Manager) forceClose(s *registry.Session, cause error) {
	if _, ok := s.Transition(schemas.SessionClosing, schemas.SessionRunning, schemas.SessionStarting); !ok {
		return
	}
	m.logger.Warn("Browser process exited unexpectedly; closing session.",
		zap.String("session_id", s.ID), zap.Error(cause))

	tabs, _ := m.reg.Tabs(s.ID)
	m.waitDrains(tabs, m.shutdownTimeout())
	m.evict(s, causeCrashed)
}

// handleTargetLost evicts a tab whose target ended outside of close_tab, for
// example through window.close() or a renderer crash.
func (m *Manager) handleTargetLost(tabID string, err error) {
	tab, lookupErr := m.reg.Tab(tabID)
	if lookupErr != nil {
		return
	}
	if s, sErr := m.reg.Session(tab.SessionID); sErr == nil {
		if b := s.Browser(); b != nil {
			select {
			case <-b.Done():
				// The watcher owns a whole-browser exit.
				return
			default:
			}
		}
	}
	if _, rmErr := m.reg.RemoveTab(tabID); rmErr == nil {
		m.logger.Warn("Tab target went away; tab evicted.", zap.String("tab_id", tabID), zap.Error(err))
	}
}

func (m *Manager) waitDrains(tabs []*registry.Tab, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, t := range tabs {
		select {
		case <-t.Drained():
		case <-timer.C:
			m.logger.Warn("Timed out waiting for event drains.", zap.Duration("timeout", timeout))
			return
		}
	}
}

// ListSessions snapshots every session, oldest first.
func (m *Manager) ListSessions() []schemas.SessionInfo {
	sessions := m.reg.Sessions()
	out := make([]schemas.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// SessionInfo snapshots one session.
func (m *Manager) SessionInfo(id string) (schemas.SessionInfo, error) {
	s, err := m.reg.Session(id)
	if err != nil {
		return schemas.SessionInfo{}, err
	}
	return s.Info(), nil
}

// Shutdown closes every session concurrently and waits for the watchers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.reg.Sessions() {
		id := s.ID
		g.Go(func() error {
			if _, err := m.CloseSession(gctx, id); err != nil && !schemas.IsKind(err, schemas.ErrNotFound) {
				m.logger.Warn("Error during session close in shutdown.", zap.String("session_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Browser manager shutdown complete.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for browser watchers to exit.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// -- Tab plumbing --

// attachTab registers a target as a tab, starts its drain and prepares the
// page. On failure the tab is discarded and the target closed.
func (m *Manager) attachTab(ctx context.Context, s *registry.Session, tabID string, target transport.Target) (*registry.Tab, error) {
	tab, err := m.reg.AddTab(s.ID, tabID, target)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout())
		defer cancel()
		_ = target.Close(closeCtx)
		return nil, err
	}
	m.pipe.Attach(tab)

	if err := m.prepareTab(ctx, s, tab); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout())
		defer cancel()
		m.closeTab(closeCtx, tab)
		return nil, err
	}
	m.logger.Debug("Tab attached.", zap.String("session_id", s.ID), zap.String("tab_id", tabID), zap.String("target_id", target.ID()))
	return tab, nil
}

func (m *Manager) prepareTab(ctx context.Context, s *registry.Session, tab *registry.Tab) error {
	if err := m.pipe.Enable(ctx, tab, schemas.CategoryPage); err != nil {
		return err
	}
	if err := stealth.Apply(personaFor(s.Config), m.logger).Do(tab.Exec(ctx)); err != nil {
		return fmt.Errorf("failed to apply init scripts: %w", err)
	}
	if s.Config.DisableJavaScript {
		if err := setScriptExecutionDisabled(tab.Exec(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// closeTab evicts a tab, closes its target and waits for its drain. Errors
// are logged; closing continues.
func (m *Manager) closeTab(ctx context.Context, tab *registry.Tab) {
	if _, err := m.reg.RemoveTab(tab.ID); err != nil && !schemas.IsKind(err, schemas.ErrNotFound) {
		m.logger.Debug("Tab removal failed.", zap.String("tab_id", tab.ID), zap.Error(err))
	}
	if err := tab.Target.Close(ctx); err != nil {
		m.logger.Warn("Failed to close tab target.", zap.String("tab_id", tab.ID), zap.Error(err))
	}
	select {
	case <-tab.Drained():
	case <-ctx.Done():
		m.logger.Warn("Tab drain did not finish before the deadline.", zap.String("tab_id", tab.ID))
	}
}
