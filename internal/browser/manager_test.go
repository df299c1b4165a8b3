// internal/browser/manager_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport/transporttest"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type managerFixture struct {
	reg      *registry.Registry
	pipe     *events.Pipeline
	launcher *transporttest.Launcher
	mgr      *Manager
	cfg      *config.Config
}

func newManagerFixture(t *testing.T, tweak func(*config.Config)) *managerFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.ShutdownTimeout = 2 * time.Second
	cfg.InteractionCfg.NavigateTimeout = 2 * time.Second
	if tweak != nil {
		tweak(cfg)
	}

	reg := registry.New(logger)
	pipe := events.NewPipeline(reg, cfg.Events(), logger)
	launcher := transporttest.NewLauncher(nil)
	f := &managerFixture{
		reg:      reg,
		pipe:     pipe,
		launcher: launcher,
		mgr:      NewManager(reg, pipe, launcher, cfg, logger),
		cfg:      cfg,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, f.mgr.Shutdown(ctx))
		pipe.Wait()
	})
	return f
}

// running creates and starts a session and returns its initial target.
func (f *managerFixture) running(t *testing.T, id string) *transporttest.Target {
	t.Helper()
	ctx := context.Background()
	_, err := f.mgr.CreateSession(ctx, id, schemas.SessionOptions{})
	require.NoError(t, err)
	info, err := f.mgr.StartSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, schemas.SessionRunning, info.State)
	return f.launcher.Last().Initial()
}

func TestManager_SessionLifecycle(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	info, err := f.mgr.CreateSession(ctx, "s1", schemas.SessionOptions{WindowSize: "800x600"})
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionCreated, info.State)
	assert.Empty(t, f.launcher.Specs(), "creating a session spawns nothing")

	info, err = f.mgr.StartSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionRunning, info.State)
	assert.Equal(t, []string{"s1_initial"}, info.Tabs)
	require.NotNil(t, info.StartedAt)

	specs := f.launcher.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "s1", specs[0].SessionID)
	assert.True(t, hasFlag(specs[0].Flags, "window-size", "800,600"))

	initial := f.launcher.Last().Initial()
	assert.Len(t, initial.Calls(page.CommandAddScriptToEvaluateOnNewDocument), 2, "init scripts are installed on the initial tab")
	assert.Len(t, initial.Calls(page.CommandEnable), 1)
	assert.Empty(t, initial.Calls(emulation.CommandSetScriptExecutionDisabled))

	// Starting again is a no-op.
	info, err = f.mgr.StartSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionRunning, info.State)
	assert.Len(t, f.launcher.Specs(), 1)

	info, err = f.mgr.CloseSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionClosed, info.State)
	assert.True(t, f.launcher.Last().Closed())
	assert.True(t, initial.Closed())

	_, err = f.mgr.SessionInfo("s1")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound))
	_, err = f.mgr.CloseSession(ctx, "s1")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound), "a second close reports NotFound")
	_, err = f.reg.Tab("s1_initial")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound))
}

func TestManager_CreateSessionValidation(t *testing.T) {
	f := newManagerFixture(t, func(c *config.Config) { c.BrowserCfg.MaxSessions = 1 })
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "bad", schemas.SessionOptions{Headless: "sometimes"})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidConfig))
	_, err = f.mgr.CreateSession(ctx, "bad", schemas.SessionOptions{Proxy: "gopher://x:70"})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidConfig))

	_, err = f.mgr.CreateSession(ctx, "s1", schemas.SessionOptions{})
	require.NoError(t, err)
	_, err = f.mgr.CreateSession(ctx, "s1", schemas.SessionOptions{})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidConfig), "duplicate id")

	_, err = f.mgr.CreateSession(ctx, "s2", schemas.SessionOptions{})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidConfig), "session limit")

	assert.Empty(t, f.launcher.Specs())
	assert.Len(t, f.mgr.ListSessions(), 1)
}

func TestManager_StartSessionLaunchTimeout(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.launcher.Hang = true

	_, err := f.mgr.CreateSession(context.Background(), "s1", schemas.SessionOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.mgr.StartSession(ctx, "s1")
	require.Error(t, err)

	var se *schemas.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, schemas.ErrTimeout, se.Kind)
	assert.Equal(t, schemas.ReasonLaunchTimeout, se.Reason)

	_, err = f.mgr.SessionInfo("s1")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound), "a failed launch evicts the session")
}

func TestManager_StartSessionLaunchError(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.launcher.Err = schemas.NewError(schemas.ErrTransport, "no browser binary")

	_, err := f.mgr.CreateSession(context.Background(), "s1", schemas.SessionOptions{})
	require.NoError(t, err)
	_, err = f.mgr.StartSession(context.Background(), "s1")
	assert.True(t, schemas.IsKind(err, schemas.ErrTransport))
	assert.Empty(t, f.mgr.ListSessions())
}

func TestManager_FailedStartGoesStraightToClosed(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.launcher.Defaults = transporttest.Handlers{
		page.CommandEnable: func(context.Context, interface{}, interface{}) error {
			return errors.New("Page.enable wasn't found")
		},
	}
	_, err := f.mgr.CreateSession(context.Background(), "s1", schemas.SessionOptions{})
	require.NoError(t, err)
	s, err := f.reg.Session("s1")
	require.NoError(t, err)

	var atClose schemas.SessionState
	f.launcher.BeforeClose = func() { atClose = s.State() }

	_, err = f.mgr.StartSession(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, schemas.SessionStarting, atClose, "teardown of a failed start never passes through closing")
	assert.Equal(t, schemas.SessionClosed, s.State())
	assert.True(t, f.launcher.Last().Closed())
	assert.Empty(t, f.mgr.ListSessions())
}

func TestManager_DisableJavaScript(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()
	_, err := f.mgr.CreateSession(ctx, "s1", schemas.SessionOptions{DisableJavaScript: true})
	require.NoError(t, err)
	_, err = f.mgr.StartSession(ctx, "s1")
	require.NoError(t, err)

	assert.Len(t, f.launcher.Last().Initial().Calls(emulation.CommandSetScriptExecutionDisabled), 1)
	assert.True(t, hasFlag(f.launcher.Specs()[0].Flags, "disable-javascript", ""))
}

func TestManager_TabOpsRequireRunningSession(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()
	_, err := f.mgr.CreateSession(ctx, "s1", schemas.SessionOptions{})
	require.NoError(t, err)

	_, err = f.mgr.CreateTab(ctx, "s1", "t1", "")
	assert.True(t, schemas.IsKind(err, schemas.ErrSessionNotRunning))

	_, err = f.mgr.CreateTab(ctx, "missing", "t1", "")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound))
}

func TestManager_CreateAndCloseTab(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.running(t, "s1")
	ctx := context.Background()

	info, err := f.mgr.CreateTab(ctx, "s1", "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "t1", info.ID)
	assert.Equal(t, "s1", info.SessionID)

	_, err = f.mgr.CreateTab(ctx, "s1", "t1", "")
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidConfig), "tab ids are unique")

	generated, err := f.mgr.CreateTab(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Regexp(t, `^s1_[0-9a-f]{8}$`, generated.ID)

	tabs, err := f.mgr.ListTabs("s1")
	require.NoError(t, err)
	ids := make([]string, 0, len(tabs))
	for _, tab := range tabs {
		ids = append(ids, tab.ID)
	}
	assert.Equal(t, []string{"s1_initial", "t1", generated.ID}, ids)

	target := f.launcher.Last().TargetByID(info.TargetID)
	require.NotNil(t, target)
	require.NoError(t, f.mgr.CloseTab(ctx, "t1"))
	assert.True(t, target.Closed())
	_, err = f.mgr.TabInfo("t1")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound))

	_, err = f.mgr.BringToFront(ctx, generated.ID)
	require.NoError(t, err)
	assert.Len(t, f.launcher.Last().TargetByID(generated.TargetID).Calls(page.CommandBringToFront), 1)
}

func TestManager_CreateTabTargetError(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.running(t, "s1")
	f.launcher.Last().NewTargetErr = schemas.NewError(schemas.ErrProtocol, "target creation refused")

	_, err := f.mgr.CreateTab(context.Background(), "s1", "t1", "")
	assert.True(t, schemas.IsKind(err, schemas.ErrProtocol))
	_, err = f.mgr.TabInfo("t1")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound))
}

func TestManager_BrowserCrashClosesSession(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.running(t, "s1")
	_, err := f.mgr.CreateTab(context.Background(), "s1", "t1", "")
	require.NoError(t, err)

	tabs, err := f.reg.Tabs("s1")
	require.NoError(t, err)
	require.Len(t, tabs, 2)

	f.launcher.Last().Crash(errors.New("segfault"))

	require.Eventually(t, func() bool {
		_, err := f.mgr.SessionInfo("s1")
		return schemas.IsKind(err, schemas.ErrNotFound)
	}, 2*time.Second, time.Millisecond)
	// Eviction happens only after every drain has exited.
	for _, tab := range tabs {
		select {
		case <-tab.Drained():
		default:
			t.Errorf("drain of tab %q still running after the session was evicted", tab.ID)
		}
	}
	for _, id := range []string{"s1_initial", "t1"} {
		_, err := f.reg.Tab(id)
		assert.True(t, schemas.IsKind(err, schemas.ErrNotFound), id)
	}

	// The manager keeps serving other sessions.
	f.running(t, "s2")
}

func TestManager_LostTargetEvictsOnlyItsTab(t *testing.T) {
	f := newManagerFixture(t, nil)
	initial := f.running(t, "s1")
	_, err := f.mgr.CreateTab(context.Background(), "s1", "t1", "")
	require.NoError(t, err)

	initial.Disconnect(errors.New("renderer crashed"))

	require.Eventually(t, func() bool {
		_, err := f.reg.Tab("s1_initial")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	info, err := f.mgr.SessionInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionRunning, info.State)
	assert.Equal(t, []string{"t1"}, info.Tabs)
}

func TestManager_ShutdownClosesEverySession(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.running(t, "s1")
	f.running(t, "s2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.mgr.Shutdown(ctx))

	assert.Empty(t, f.mgr.ListSessions())
	for _, b := range f.launcher.Browsers() {
		assert.True(t, b.Closed())
	}
}
