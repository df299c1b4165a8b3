// internal/browser/network/controller_test.go
package network

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
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

type fixture struct {
	reg     *registry.Registry
	session *registry.Session
	tab     *registry.Tab
	target  *transporttest.Target
	pipe    *events.Pipeline
	ctrl    *Controller
	mon     *Monitor
}

func newFixture(t *testing.T, autoContinue time.Duration) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	s, err := reg.AddSession("s1", schemas.LaunchConfig{Headless: true})
	require.NoError(t, err)
	s.Transition(schemas.SessionStarting, schemas.SessionCreated)
	target := transporttest.NewTarget("target-1", nil)
	tab, err := reg.AddTab("s1", "s1_initial", target)
	require.NoError(t, err)
	s.Transition(schemas.SessionRunning, schemas.SessionStarting)

	cfg := config.NewDefaultConfig()
	cfg.InterceptionCfg.AutoContinueTimeout = autoContinue
	cfg.InterceptionCfg.ResolvedHistory = 16

	ctrl, err := NewController(reg, cfg, logger)
	require.NoError(t, err)
	pipe := events.NewPipeline(reg, cfg.Events(), logger, events.WithPausedRequestHandler(ctrl))
	done := pipe.Attach(tab)
	t.Cleanup(func() {
		target.Disconnect(nil)
		<-done
		pipe.Wait()
	})
	return &fixture{
		reg:     reg,
		session: s,
		tab:     tab,
		target:  target,
		pipe:    pipe,
		ctrl:    ctrl,
		mon:     NewMonitor(reg, pipe, logger),
	}
}

// pause emits a paused request and waits until the controller holds it.
func (f *fixture) pause(t *testing.T, id, method, url string) {
	t.Helper()
	f.target.Emit(&fetch.EventRequestPaused{
		RequestID:    fetch.RequestID(id),
		ResourceType: cdpnetwork.ResourceTypeXHR,
		Request: &cdpnetwork.Request{
			URL:         url,
			Method:      method,
			Headers:     cdpnetwork.Headers{"Accept": "application/json"},
			HasPostData: method == "POST",
		},
	})
	require.Eventually(t, func() bool {
		pending, err := f.ctrl.Pending(f.tab.ID)
		if err != nil {
			return false
		}
		for _, p := range pending {
			if p.RequestID == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func requireKind(t *testing.T, err error, kind schemas.ErrorKind) *schemas.Error {
	t.Helper()
	var se *schemas.Error
	require.True(t, errors.As(err, &se), "got %v", err)
	require.Equal(t, kind, se.Kind, se.Error())
	return se
}

func TestController_PausedRequestIsPendingAndLogged(t *testing.T) {
	f := newFixture(t, 0)
	f.pause(t, "i-1", "POST", "https://shop.test/api/cart")

	pending, err := f.ctrl.Pending(f.tab.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	p := pending[0]
	assert.Equal(t, "i-1", p.RequestID)
	assert.Equal(t, f.tab.ID, p.TabID)
	assert.Equal(t, "POST", p.Method)
	assert.Equal(t, "https://shop.test/api/cart", p.URL)
	assert.Equal(t, "XHR", p.ResourceType)
	assert.True(t, p.HasPostData)
	assert.Equal(t, map[string]string{"Accept": "application/json"}, p.Headers)
	assert.False(t, p.PausedAt.IsZero())

	entries, err := f.pipe.Entries(f.tab.ID, events.Query{Category: schemas.CategoryNetwork})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.MethodRequestPaused, entries[0].Method)
}

func TestController_ContinueOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.pause(t, "i-1", "GET", "https://shop.test/")

	body := "a=1"
	require.NoError(t, f.ctrl.Continue(ctx, f.tab.ID, "i-1", ContinueOptions{
		URL:      "https://shop.test/other",
		Method:   "post",
		Headers:  []schemas.Header{{Name: "X-Test", Value: "yes"}},
		PostData: &body,
	}))
	calls := f.target.Calls(fetch.CommandContinueRequest)
	require.Len(t, calls, 1)
	params := calls[0].Params.(*fetch.ContinueRequestParams)
	assert.Equal(t, fetch.RequestID("i-1"), params.RequestID)
	assert.Equal(t, "https://shop.test/other", params.URL)
	assert.Equal(t, "POST", params.Method)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(body)), params.PostData)
	require.Len(t, params.Headers, 1)
	assert.Equal(t, "X-Test", params.Headers[0].Name)

	pending, err := f.ctrl.Pending(f.tab.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Every later decision on the same request is refused.
	requireKind(t, f.ctrl.Continue(ctx, f.tab.ID, "i-1", ContinueOptions{}), schemas.ErrAlreadyResolved)
	requireKind(t, f.ctrl.Fail(ctx, f.tab.ID, "i-1", ""), schemas.ErrAlreadyResolved)
	requireKind(t, f.ctrl.Fulfill(ctx, f.tab.ID, "i-1", FulfillOptions{}), schemas.ErrAlreadyResolved)
	assert.Len(t, f.target.Calls(fetch.CommandContinueRequest), 1)

	requireKind(t, f.ctrl.Continue(ctx, f.tab.ID, "never-paused", ContinueOptions{}), schemas.ErrNotFound)
}

func TestController_Fail(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.pause(t, "i-1", "GET", "https://ads.test/pixel")

	// A bad reason leaves the request pending.
	requireKind(t, f.ctrl.Fail(ctx, f.tab.ID, "i-1", "Exploded"), schemas.ErrInvalidArgument)
	pending, err := f.ctrl.Pending(f.tab.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, f.ctrl.Fail(ctx, f.tab.ID, "i-1", "blocked_by_client"))
	calls := f.target.Calls(fetch.CommandFailRequest)
	require.Len(t, calls, 1)
	assert.Equal(t, cdpnetwork.ErrorReasonBlockedByClient, calls[0].Params.(*fetch.FailRequestParams).ErrorReason)
}

func TestParseFailReason(t *testing.T) {
	cases := map[string]cdpnetwork.ErrorReason{
		"":                  cdpnetwork.ErrorReasonFailed,
		"Aborted":           cdpnetwork.ErrorReasonAborted,
		"TIMEOUT":           cdpnetwork.ErrorReasonTimedOut,
		"TimedOut":          cdpnetwork.ErrorReasonTimedOut,
		"connection_reset":  cdpnetwork.ErrorReasonConnectionReset,
		"NameNotResolved":   cdpnetwork.ErrorReasonNameNotResolved,
		"BlockedByResponse": cdpnetwork.ErrorReasonBlockedByResponse,
	}
	for in, want := range cases {
		got, err := ParseFailReason(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFailReason("nope")
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}

func TestController_Fulfill(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.pause(t, "i-1", "GET", "https://api.test/a")
	f.pause(t, "i-2", "GET", "https://api.test/b")

	require.NoError(t, f.ctrl.Fulfill(ctx, f.tab.ID, "i-1", FulfillOptions{
		Headers: []schemas.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:    `{"ok":true}`,
	}))
	bin := base64.StdEncoding.EncodeToString([]byte{0xff, 0x00, 0x10})
	require.NoError(t, f.ctrl.Fulfill(ctx, f.tab.ID, "i-2", FulfillOptions{ResponseCode: 404, BinaryBody: bin}))

	calls := f.target.Calls(fetch.CommandFulfillRequest)
	require.Len(t, calls, 2)
	first := calls[0].Params.(*fetch.FulfillRequestParams)
	assert.Equal(t, int64(200), first.ResponseCode)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{"ok":true}`)), first.Body)
	require.Len(t, first.ResponseHeaders, 1)
	second := calls[1].Params.(*fetch.FulfillRequestParams)
	assert.Equal(t, int64(404), second.ResponseCode)
	assert.Equal(t, bin, second.Body)
}

func TestController_FulfillValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.pause(t, "i-1", "GET", "https://api.test/a")

	requireKind(t, f.ctrl.Fulfill(ctx, f.tab.ID, "i-1", FulfillOptions{ResponseCode: 700}), schemas.ErrInvalidArgument)
	requireKind(t, f.ctrl.Fulfill(ctx, f.tab.ID, "i-1", FulfillOptions{Body: "a", BinaryBody: "YQ=="}), schemas.ErrInvalidArgument)
	requireKind(t, f.ctrl.Fulfill(ctx, f.tab.ID, "i-1", FulfillOptions{BinaryBody: "%%%"}), schemas.ErrInvalidArgument)
	requireKind(t, f.ctrl.Fulfill(ctx, f.tab.ID, "i-1", FulfillOptions{Headers: []schemas.Header{{Value: "x"}}}), schemas.ErrInvalidArgument)

	pending, err := f.ctrl.Pending(f.tab.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Empty(t, f.target.Calls(fetch.CommandFulfillRequest))
}

func TestController_AutoContinue(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.pause(t, "i-1", "GET", "https://slow.test/")

	require.Eventually(t, func() bool {
		return len(f.target.Calls(fetch.CommandContinueRequest)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	pending, err := f.ctrl.Pending(f.tab.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	se := requireKind(t, f.ctrl.Continue(context.Background(), f.tab.ID, "i-1", ContinueOptions{}), schemas.ErrAlreadyResolved)
	assert.Equal(t, schemas.ReasonAutoContinue, se.Reason)
}

func TestController_DecisionBeatsTimer(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.pause(t, "i-1", "GET", "https://fast.test/")

	require.NoError(t, f.ctrl.Fail(context.Background(), f.tab.ID, "i-1", "Aborted"))
	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, f.target.Calls(fetch.CommandContinueRequest))
}

func TestController_FailedDecisionKeepsRequestPending(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.pause(t, "i-1", "GET", "https://api.test/1")
	f.pause(t, "i-2", "GET", "https://api.test/2")

	var failed atomic.Bool
	f.target.Handle(fetch.CommandContinueRequest, func(_ context.Context, params, _ interface{}) error {
		if params.(*fetch.ContinueRequestParams).RequestID == "i-1" && failed.CompareAndSwap(false, true) {
			return errors.New("Invalid InterceptionId.")
		}
		return nil
	})

	err := f.ctrl.Continue(ctx, f.tab.ID, "i-1", ContinueOptions{})
	require.Error(t, err)
	assert.False(t, schemas.IsKind(err, schemas.ErrAlreadyResolved))

	pending, err := f.ctrl.Pending(f.tab.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "i-1", pending[0].RequestID, "pause order is kept")

	require.NoError(t, f.ctrl.Continue(ctx, f.tab.ID, "i-1", ContinueOptions{}))
	requireKind(t, f.ctrl.Continue(ctx, f.tab.ID, "i-1", ContinueOptions{}), schemas.ErrAlreadyResolved)
}

func TestController_FailedDecisionRearmsTimer(t *testing.T) {
	f := newFixture(t, 60*time.Millisecond)
	f.pause(t, "i-1", "GET", "https://api.test/1")
	f.target.Handle(fetch.CommandFailRequest, func(context.Context, interface{}, interface{}) error {
		return errors.New("Invalid state for continueInterceptedRequest")
	})

	require.Error(t, f.ctrl.Fail(context.Background(), f.tab.ID, "i-1", "Aborted"))
	require.Eventually(t, func() bool {
		return len(f.target.Calls(fetch.CommandContinueRequest)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	se := requireKind(t, f.ctrl.Continue(context.Background(), f.tab.ID, "i-1", ContinueOptions{}), schemas.ErrAlreadyResolved)
	assert.Equal(t, schemas.ReasonAutoContinue, se.Reason)
}

func TestController_EnableDisable(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Enable(ctx, f.tab.ID, nil))
	calls := f.target.Calls(fetch.CommandEnable)
	require.Len(t, calls, 1)
	patterns := calls[0].Params.(*fetch.EnableParams).Patterns
	require.Len(t, patterns, 1)
	assert.Equal(t, "*", patterns[0].URLPattern)
	assert.Equal(t, fetch.RequestStageRequest, patterns[0].RequestStage)
	assert.True(t, f.tab.DomainEnabled(events.DomainFetch))

	require.NoError(t, f.ctrl.Enable(ctx, f.tab.ID, []string{"*://api.test/*", "*.png"}))
	assert.Len(t, f.target.Calls(fetch.CommandEnable)[1].Params.(*fetch.EnableParams).Patterns, 2)
	requireKind(t, f.ctrl.Enable(ctx, f.tab.ID, []string{""}), schemas.ErrInvalidArgument)

	f.pause(t, "i-1", "GET", "https://api.test/1")
	f.pause(t, "i-2", "GET", "https://api.test/2")
	n, err := f.ctrl.Disable(ctx, f.tab.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, f.tab.DomainEnabled(events.DomainFetch))
	assert.Len(t, f.target.Calls(fetch.CommandDisable), 1)

	se := requireKind(t, f.ctrl.Continue(ctx, f.tab.ID, "i-2", ContinueOptions{}), schemas.ErrAlreadyResolved)
	assert.Contains(t, se.Message, string(schemas.DispositionReleased))
}

func TestController_RequiresRunningSession(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.pause(t, "i-1", "GET", "https://api.test/1")

	f.session.Transition(schemas.SessionClosing, schemas.SessionRunning)
	requireKind(t, f.ctrl.Continue(ctx, f.tab.ID, "i-1", ContinueOptions{}), schemas.ErrSessionNotRunning)
	_, err := f.ctrl.Pending(f.tab.ID)
	requireKind(t, err, schemas.ErrSessionNotRunning)
	requireKind(t, f.ctrl.Enable(ctx, "ghost", nil), schemas.ErrNotFound)
}
