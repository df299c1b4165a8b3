// internal/browser/network/controller.go
package network

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
	"github.com/xkilldash9x/cdp-mcp/internal/observability"
)

const (
	defaultResolvedHistory = 1024
	defaultCommandTimeout  = 30 * time.Second
)

// Controller owns paused requests. The event pipeline hands it every
// Fetch.requestPaused; callers then continue, fail or fulfill each one
// exactly once, or the auto-continue timer does it for them.
type Controller struct {
	reg    *registry.Registry
	cfg    config.Interface
	logger *zap.Logger

	// mu makes "take from the registry" and "remember the outcome" one step,
	// so a late second decision always finds the outcome.
	mu       sync.Mutex
	resolved *lru.Cache[string, schemas.Disposition]
}

var _ events.PausedRequestHandler = (*Controller)(nil)

// NewController creates a controller. The resolved-history size comes from
// interception.resolved_history.
func NewController(reg *registry.Registry, cfg config.Interface, logger *zap.Logger) (*Controller, error) {
	size := cfg.Interception().ResolvedHistory
	if size <= 0 {
		size = defaultResolvedHistory
	}
	resolved, err := lru.New[string, schemas.Disposition](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolved request history: %w", err)
	}
	return &Controller{
		reg:      reg,
		cfg:      cfg,
		logger:   logger.Named("interception"),
		resolved: resolved,
	}, nil
}

func historyKey(tabID, requestID string) string { return tabID + "\x00" + requestID }

func (c *Controller) commandTimeout() time.Duration {
	if d := c.cfg.Browser().CommandTimeout; d > 0 {
		return d
	}
	return defaultCommandTimeout
}

// -- Pipeline hook --

// OnRequestPaused records the paused request and arms its auto-continue
// timer. It runs on the tab's drain goroutine and never blocks on the browser.
func (c *Controller) OnRequestPaused(tab *registry.Tab, ev *fetch.EventRequestPaused) {
	req := schemas.InterceptedRequest{
		RequestID:    string(ev.RequestID),
		TabID:        tab.ID,
		ResourceType: string(ev.ResourceType),
		PausedAt:     time.Now(),
	}
	if ev.Request != nil {
		req.URL = ev.Request.URL + ev.Request.URLFragment
		req.Method = ev.Request.Method
		req.HasPostData = ev.Request.HasPostData
		req.Headers = make(map[string]string, len(ev.Request.Headers))
		for k, v := range ev.Request.Headers {
			req.Headers[k] = fmt.Sprint(v)
		}
	}

	if err := c.reg.AddInterception(tab.ID, req, c.armer(tab, req.RequestID)); err != nil {
		c.logger.Debug("Dropping paused request.",
			zap.String("tab_id", tab.ID),
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return
	}
	c.logger.Debug("Request paused.",
		zap.String("tab_id", tab.ID),
		zap.String("request_id", req.RequestID),
		zap.String("method", req.Method),
		zap.String("url", req.URL))
}

// armer returns the auto-continue timer factory for a request, or nil when
// auto-continue is off.
func (c *Controller) armer(tab *registry.Tab, requestID string) func() *time.Timer {
	d := c.cfg.Interception().AutoContinueTimeout
	if d <= 0 {
		return nil
	}
	return func() *time.Timer {
		return time.AfterFunc(d, func() { c.autoContinue(tab, requestID, d) })
	}
}

func (c *Controller) autoContinue(tab *registry.Tab, requestID string, after time.Duration) {
	if _, err := c.take(tab.ID, requestID, schemas.DispositionAutoContinued); err != nil {
		// Decided by a caller in the meantime.
		return
	}
	observability.InterceptionDecisions.WithLabelValues(string(schemas.DispositionAutoContinued)).Inc()
	c.logger.Info("Auto-continuing paused request.",
		zap.String("tab_id", tab.ID),
		zap.String("request_id", requestID),
		zap.Duration("after", after))
	ctx, cancel := context.WithTimeout(context.Background(), c.commandTimeout())
	defer cancel()
	err := fetch.ContinueRequest(fetch.RequestID(requestID)).Do(tab.Exec(ctx))
	if err != nil && !tab.Closed() {
		c.logger.Warn("Auto-continue failed.",
			zap.String("tab_id", tab.ID),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// -- Decisions --

// take removes a pending request and records how it is being resolved.
// A request that was already resolved reports AlreadyResolved.
func (c *Controller) take(tabID, requestID string, d schemas.Disposition) (*registry.Interception, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ic, err := c.reg.TakeInterception(tabID, requestID)
	if err != nil {
		if prev, ok := c.resolved.Get(historyKey(tabID, requestID)); ok {
			e := schemas.NewError(schemas.ErrAlreadyResolved, "request %q was already %s", requestID, prev)
			if prev == schemas.DispositionAutoContinued {
				e.Reason = schemas.ReasonAutoContinue
			}
			return nil, e
		}
		return nil, err
	}
	c.resolved.Add(historyKey(tabID, requestID), d)
	return ic, nil
}

// restore undoes take after the decision failed to reach the browser and
// re-arms the auto-continue timer. A request released by Disable in the
// meantime stays released.
func (c *Controller) restore(tab *registry.Tab, ic *registry.Interception, d schemas.Disposition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := historyKey(tab.ID, ic.Request.RequestID)
	if prev, ok := c.resolved.Peek(key); ok && prev != d {
		return
	}
	c.resolved.Remove(key)
	if err := c.reg.RestoreInterception(tab.ID, ic, c.armer(tab, ic.Request.RequestID)); err != nil {
		c.logger.Debug("Could not restore paused request.",
			zap.String("tab_id", tab.ID),
			zap.String("request_id", ic.Request.RequestID),
			zap.Error(err))
	}
}

// decide resolves the request with d and sends the matching command. When the
// command fails the request stays pending.
func (c *Controller) decide(ctx context.Context, tabID, requestID string, d schemas.Disposition, send func(ctx context.Context) error) error {
	tab, err := c.reg.RunningTab(tabID)
	if err != nil {
		return err
	}
	ic, err := c.take(tabID, requestID, d)
	if err != nil {
		return err
	}
	if err := send(tab.Exec(ctx)); err != nil {
		c.restore(tab, ic, d)
		return fmt.Errorf("failed to %s request %q: %w", verbs[d], requestID, err)
	}
	observability.InterceptionDecisions.WithLabelValues(string(d)).Inc()
	c.logger.Debug("Paused request resolved.",
		zap.String("tab_id", tabID),
		zap.String("request_id", requestID),
		zap.String("disposition", string(d)))
	return nil
}

var verbs = map[schemas.Disposition]string{
	schemas.DispositionContinued: "continue",
	schemas.DispositionFailed:    "fail",
	schemas.DispositionFulfilled: "fulfill",
}

// ContinueOptions overrides parts of a paused request. Zero values keep the
// original.
type ContinueOptions struct {
	URL      string
	Method   string
	Headers  []schemas.Header
	PostData *string
}

// Continue lets a paused request proceed, optionally modified.
func (c *Controller) Continue(ctx context.Context, tabID, requestID string, opts ContinueOptions) error {
	headers, err := headerEntries(opts.Headers)
	if err != nil {
		return err
	}
	return c.decide(ctx, tabID, requestID, schemas.DispositionContinued, func(ctx context.Context) error {
		p := fetch.ContinueRequest(fetch.RequestID(requestID))
		if opts.URL != "" {
			p = p.WithURL(opts.URL)
		}
		if opts.Method != "" {
			p = p.WithMethod(strings.ToUpper(opts.Method))
		}
		if len(headers) > 0 {
			p = p.WithHeaders(headers)
		}
		if opts.PostData != nil {
			p = p.WithPostData(base64.StdEncoding.EncodeToString([]byte(*opts.PostData)))
		}
		return p.Do(ctx)
	})
}

var failReasons = map[string]cdpnetwork.ErrorReason{
	"failed":               cdpnetwork.ErrorReasonFailed,
	"aborted":              cdpnetwork.ErrorReasonAborted,
	"timedout":             cdpnetwork.ErrorReasonTimedOut,
	"timeout":              cdpnetwork.ErrorReasonTimedOut,
	"accessdenied":         cdpnetwork.ErrorReasonAccessDenied,
	"connectionclosed":     cdpnetwork.ErrorReasonConnectionClosed,
	"connectionreset":      cdpnetwork.ErrorReasonConnectionReset,
	"connectionrefused":    cdpnetwork.ErrorReasonConnectionRefused,
	"connectionaborted":    cdpnetwork.ErrorReasonConnectionAborted,
	"connectionfailed":     cdpnetwork.ErrorReasonConnectionFailed,
	"namenotresolved":      cdpnetwork.ErrorReasonNameNotResolved,
	"internetdisconnected": cdpnetwork.ErrorReasonInternetDisconnected,
	"addressunreachable":   cdpnetwork.ErrorReasonAddressUnreachable,
	"blockedbyclient":      cdpnetwork.ErrorReasonBlockedByClient,
	"blockedbyresponse":    cdpnetwork.ErrorReasonBlockedByResponse,
}

// ParseFailReason accepts the protocol names case-insensitively, with or
// without underscores. Empty means Failed.
func ParseFailReason(s string) (cdpnetwork.ErrorReason, error) {
	if s == "" {
		return cdpnetwork.ErrorReasonFailed, nil
	}
	key := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	r, ok := failReasons[key]
	if !ok {
		return "", schemas.NewError(schemas.ErrInvalidArgument, "unknown error reason %q", s)
	}
	return r, nil
}

// Fail aborts a paused request with a network error.
func (c *Controller) Fail(ctx context.Context, tabID, requestID, reason string) error {
	r, err := ParseFailReason(reason)
	if err != nil {
		return err
	}
	return c.decide(ctx, tabID, requestID, schemas.DispositionFailed, func(ctx context.Context) error {
		return fetch.FailRequest(fetch.RequestID(requestID), r).Do(ctx)
	})
}

// FulfillOptions is a synthetic response. Body is text; BinaryBody is
// base64. At most one may be set.
type FulfillOptions struct {
	ResponseCode int
	Headers      []schemas.Header
	Body         string
	BinaryBody   string
}

// Fulfill answers a paused request without contacting the server.
func (c *Controller) Fulfill(ctx context.Context, tabID, requestID string, opts FulfillOptions) error {
	code := opts.ResponseCode
	if code == 0 {
		code = 200
	}
	if code < 100 || code > 599 {
		return schemas.NewError(schemas.ErrInvalidArgument, "response code %d is out of range", code)
	}
	if opts.Body != "" && opts.BinaryBody != "" {
		return schemas.NewError(schemas.ErrInvalidArgument, "body and binary_body are mutually exclusive")
	}
	body := base64.StdEncoding.EncodeToString([]byte(opts.Body))
	if opts.BinaryBody != "" {
		raw, err := base64.StdEncoding.DecodeString(opts.BinaryBody)
		if err != nil {
			return schemas.WrapError(schemas.ErrInvalidArgument, err, "binary_body is not valid base64")
		}
		body = base64.StdEncoding.EncodeToString(raw)
	}
	headers, err := headerEntries(opts.Headers)
	if err != nil {
		return err
	}
	return c.decide(ctx, tabID, requestID, schemas.DispositionFulfilled, func(ctx context.Context) error {
		p := fetch.FulfillRequest(fetch.RequestID(requestID), int64(code)).WithBody(body)
		if len(headers) > 0 {
			p = p.WithResponseHeaders(headers)
		}
		return p.Do(ctx)
	})
}

func headerEntries(hs []schemas.Header) ([]*fetch.HeaderEntry, error) {
	out := make([]*fetch.HeaderEntry, 0, len(hs))
	for _, h := range hs {
		if strings.TrimSpace(h.Name) == "" {
			return nil, schemas.NewError(schemas.ErrInvalidArgument, "header name must not be empty")
		}
		out = append(out, &fetch.HeaderEntry{Name: h.Name, Value: h.Value})
	}
	return out, nil
}

// -- Domain control --

// Enable starts pausing requests whose URL matches any of the glob patterns
// (all requests when none are given).
func (c *Controller) Enable(ctx context.Context, tabID string, patterns []string) error {
	tab, err := c.reg.RunningTab(tabID)
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	rp := make([]*fetch.RequestPattern, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			return schemas.NewError(schemas.ErrInvalidArgument, "URL pattern must not be empty")
		}
		rp = append(rp, &fetch.RequestPattern{URLPattern: p, RequestStage: fetch.RequestStageRequest})
	}
	if err := fetch.Enable().WithPatterns(rp).Do(tab.Exec(ctx)); err != nil {
		return fmt.Errorf("failed to enable request interception on tab %q: %w", tabID, err)
	}
	tab.SetDomain(events.DomainFetch, true)
	c.logger.Info("Request interception enabled.", zap.String("tab_id", tabID), zap.Strings("patterns", patterns))
	return nil
}

// Disable stops interception. Requests still paused are released to the
// browser, which lets them proceed; they are reported as released. It
// returns how many were released.
func (c *Controller) Disable(ctx context.Context, tabID string) (int, error) {
	tab, err := c.reg.RunningTab(tabID)
	if err != nil {
		return 0, err
	}
	if err := fetch.Disable().Do(tab.Exec(ctx)); err != nil {
		return 0, fmt.Errorf("failed to disable request interception on tab %q: %w", tabID, err)
	}
	tab.SetDomain(events.DomainFetch, false)

	c.mu.Lock()
	drained, err := c.reg.DrainInterceptions(tabID)
	for _, ic := range drained {
		c.resolved.Add(historyKey(tabID, ic.Request.RequestID), schemas.DispositionReleased)
	}
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	observability.InterceptionDecisions.WithLabelValues(string(schemas.DispositionReleased)).Add(float64(len(drained)))
	c.logger.Info("Request interception disabled.", zap.String("tab_id", tabID), zap.Int("released", len(drained)))
	return len(drained), nil
}

// Pending lists the tab's paused requests in the order they paused.
func (c *Controller) Pending(tabID string) ([]schemas.InterceptedRequest, error) {
	if _, err := c.reg.RunningTab(tabID); err != nil {
		return nil, err
	}
	return c.reg.Interceptions(tabID)
}
