// internal/browser/network/monitor.go
package network

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/cdp"
	cdpnetwork "github.com/chromedp/cdproto/network"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultRequestTimeout = 30 * time.Second

// Monitor answers questions about a tab's traffic from its event log and
// manages the browser's cookie jar.
type Monitor struct {
	reg    *registry.Registry
	pipe   *events.Pipeline
	logger *zap.Logger
}

// NewMonitor creates a monitor.
func NewMonitor(reg *registry.Registry, pipe *events.Pipeline, logger *zap.Logger) *Monitor {
	return &Monitor{reg: reg, pipe: pipe, logger: logger.Named("network")}
}

// -- Request log --

// globRegexp compiles a URL glob where * matches any run of characters and
// ? matches one. The match covers the whole URL.
func globRegexp(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = strings.ReplaceAll(quoted, `\?`, ".")
	return regexp.MustCompile("^" + quoted + "$")
}

// Requests folds the tab's network events by request id, in the order the
// requests were first seen, keeping those whose URL matches the glob. A
// positive limit keeps the most recent requests. Network events must be
// enabled on the tab.
func (m *Monitor) Requests(tabID, pattern string, limit int) ([]schemas.NetworkRequest, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return nil, err
	}
	if !tab.DomainEnabled(events.DomainNetwork) {
		return nil, schemas.NewError(schemas.ErrInvalidArgument, "network events are not enabled on tab %q; call enable_network_events first", tabID)
	}
	entries, err := m.pipe.Entries(tabID, events.Query{Category: schemas.CategoryNetwork})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*schemas.NetworkRequest)
	var order []*schemas.NetworkRequest
	for _, e := range entries {
		id := e.String("request_id")
		if id == "" || e.Method == events.MethodRequestPaused {
			continue
		}
		r, ok := byID[id]
		if !ok {
			r = &schemas.NetworkRequest{RequestID: id, Timestamp: e.Timestamp}
			byID[id] = r
			order = append(order, r)
		}
		fold(r, e)
	}

	var match *regexp.Regexp
	if pattern != "" {
		match = globRegexp(pattern)
	}
	out := make([]schemas.NetworkRequest, 0, len(order))
	for _, r := range order {
		if match == nil || match.MatchString(r.URL) {
			out = append(out, *r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func fold(r *schemas.NetworkRequest, e schemas.EventEntry) {
	headers := func() map[string]string {
		h, _ := e.Payload["headers"].(map[string]string)
		return h
	}
	if rt := e.String("resource_type"); rt != "" {
		r.ResourceType = rt
	}
	switch e.Method {
	case events.MethodRequestWillBeSent:
		// A redirect reuses the request id; the latest hop wins.
		r.URL = e.String("url")
		r.Method = e.String("method")
		r.RequestHeaders = headers()
		r.Status, r.StatusText, r.MIMEType, r.ResponseHeaders = 0, "", "", nil
	case events.MethodResponseReceived:
		if u := e.String("url"); u != "" {
			r.URL = u
		}
		r.Status, _ = e.Payload["status"].(int64)
		r.StatusText = e.String("status_text")
		r.MIMEType = e.String("mime_type")
		r.ResponseHeaders = headers()
	case events.MethodLoadingFinished:
		r.Finished = true
		r.EncodedDataLength, _ = e.Payload["encoded_data_length"].(float64)
	case events.MethodLoadingFailed:
		r.Finished = true
		r.Failed = true
		r.ErrorText = e.String("error_text")
	}
}

// ResponseBody fetches a captured response body from the browser. The
// request must appear in the tab's network log.
func (m *Monitor) ResponseBody(ctx context.Context, tabID, requestID string) (schemas.ResponseBody, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.ResponseBody{}, err
	}
	seen, err := m.pipe.Entries(tabID, events.Query{Category: schemas.CategoryNetwork})
	if err != nil {
		return schemas.ResponseBody{}, err
	}
	known := false
	for _, e := range seen {
		if e.String("request_id") == requestID {
			known = true
			break
		}
	}
	if !known {
		return schemas.ResponseBody{}, schemas.NewError(schemas.ErrNotFound, "no request %q in the network log of tab %q", requestID, tabID)
	}

	body, err := cdpnetwork.GetResponseBody(cdpnetwork.RequestID(requestID)).Do(tab.Exec(ctx))
	if err != nil {
		return schemas.ResponseBody{}, err
	}
	out := schemas.ResponseBody{RequestID: requestID}
	if utf8.Valid(body) {
		out.Body = string(body)
	} else {
		out.Body = base64.StdEncoding.EncodeToString(body)
		out.Base64Encoded = true
	}
	return out, nil
}

// -- Cookies --

func parseSameSite(s string) (cdpnetwork.CookieSameSite, error) {
	switch strings.ToLower(s) {
	case "":
		return "", nil
	case "strict":
		return cdpnetwork.CookieSameSiteStrict, nil
	case "lax":
		return cdpnetwork.CookieSameSiteLax, nil
	case "none":
		return cdpnetwork.CookieSameSiteNone, nil
	}
	return "", schemas.NewError(schemas.ErrInvalidArgument, "unknown same_site value %q (want Strict, Lax or None)", s)
}

// SetCookies stores cookies in the browser. A cookie with neither url nor
// domain is scoped to the tab's current URL.
func (m *Monitor) SetCookies(ctx context.Context, tabID string, cookies []schemas.Cookie) error {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		return schemas.NewError(schemas.ErrInvalidArgument, "no cookies given")
	}
	params := make([]*cdpnetwork.CookieParam, 0, len(cookies))
	for i, c := range cookies {
		if c.Name == "" {
			return schemas.NewError(schemas.ErrInvalidArgument, "cookie %d has no name", i)
		}
		sameSite, err := parseSameSite(c.SameSite)
		if err != nil {
			return err
		}
		p := &cdpnetwork.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      c.URL,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: sameSite,
		}
		if p.URL == "" && p.Domain == "" {
			p.URL = tab.URL()
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			exp := cdp.TimeSinceEpoch(time.Unix(sec, int64((c.Expires-float64(sec))*1e9)))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	if err := cdpnetwork.SetCookies(params).Do(tab.Exec(ctx)); err != nil {
		return err
	}
	m.logger.Debug("Cookies set.", zap.String("tab_id", tabID), zap.Int("count", len(params)))
	return nil
}

// Cookies returns the cookies visible to the given URLs, or to the tab's
// current URL when none are given.
func (m *Monitor) Cookies(ctx context.Context, tabID string, urls []string) ([]schemas.Cookie, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return nil, err
	}
	p := cdpnetwork.GetCookies()
	if len(urls) > 0 {
		p = p.WithURLs(urls)
	}
	got, err := p.Do(tab.Exec(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]schemas.Cookie, 0, len(got))
	for _, c := range got {
		out = append(out, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
			Expires:  c.Expires,
		})
	}
	return out, nil
}

// CookieFilter selects cookies to delete. An empty Name clears every cookie
// in the browser.
type CookieFilter struct {
	Name   string
	URL    string
	Domain string
	Path   string
}

// DeleteCookies removes matching cookies.
func (m *Monitor) DeleteCookies(ctx context.Context, tabID string, f CookieFilter) error {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return err
	}
	ctx = tab.Exec(ctx)
	if f.Name == "" {
		if err := cdpnetwork.ClearBrowserCookies().Do(ctx); err != nil {
			return err
		}
		m.logger.Debug("All cookies cleared.", zap.String("tab_id", tabID))
		return nil
	}
	p := cdpnetwork.DeleteCookies(f.Name)
	if f.URL == "" && f.Domain == "" {
		f.URL = tab.URL()
	}
	if f.URL != "" {
		p = p.WithURL(f.URL)
	}
	if f.Domain != "" {
		p = p.WithDomain(f.Domain)
	}
	if f.Path != "" {
		p = p.WithPath(f.Path)
	}
	return p.Do(ctx)
}

// -- Page-context requests --

var requestMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"HEAD": true, "OPTIONS": true, "PATCH": true,
}

// RequestOptions describes a request made with the page's fetch. JSONData,
// when set, is sent as the body with a JSON content type and wins over Data.
type RequestOptions struct {
	Method   string
	Headers  []schemas.Header
	Data     string
	JSONData interface{}
	Timeout  time.Duration
}

// MakeRequest issues an HTTP request from inside the page, so it carries the
// page's cookies and origin.
func (m *Monitor) MakeRequest(ctx context.Context, tabID, url string, opts RequestOptions) (schemas.FetchResponse, error) {
	if url == "" {
		return schemas.FetchResponse{}, schemas.NewError(schemas.ErrInvalidArgument, "url must not be empty")
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = "GET"
	}
	if !requestMethods[method] {
		return schemas.FetchResponse{}, schemas.NewError(schemas.ErrInvalidArgument, "unsupported HTTP method %q", opts.Method)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	headers := make(map[string]string, len(opts.Headers))
	for _, h := range opts.Headers {
		if h.Name == "" {
			return schemas.FetchResponse{}, schemas.NewError(schemas.ErrInvalidArgument, "header name must not be empty")
		}
		headers[h.Name] = h.Value
	}
	var body interface{}
	switch {
	case opts.JSONData != nil:
		raw, err := json.Marshal(opts.JSONData)
		if err != nil {
			return schemas.FetchResponse{}, schemas.WrapError(schemas.ErrInvalidArgument, err, "json_data is not serializable")
		}
		body = string(raw)
		if !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = "application/json"
		}
	case opts.Data != "":
		body = opts.Data
	}

	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.FetchResponse{}, err
	}
	args, err := json.Marshal([]interface{}{url, method, headers, body, timeout.Milliseconds()})
	if err != nil {
		return schemas.FetchResponse{}, schemas.WrapError(schemas.ErrInvalidArgument, err, "request is not serializable")
	}
	// The page aborts at timeout; the outer bound only covers a wedged tab.
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	var res struct {
		Status     int               `json:"status"`
		StatusText string            `json:"status_text"`
		URL        string            `json:"url"`
		Headers    map[string]string `json:"headers"`
		Body       string            `json:"body"`
	}
	expr := "(" + jsexec.Fetch + ").apply(null, " + string(args) + ")"
	if err := jsexec.Evaluate(tab.Exec(ctx), expr, &res); err != nil {
		if schemas.IsKind(err, schemas.ErrScript) && strings.Contains(err.Error(), "AbortError") {
			return schemas.FetchResponse{}, schemas.TimeoutError(schemas.ReasonWaitTimeout, "request to %s did not complete within %s", url, timeout)
		}
		return schemas.FetchResponse{}, err
	}
	out := schemas.FetchResponse{
		StatusCode: res.Status,
		StatusText: res.StatusText,
		Headers:    res.Headers,
		Text:       res.Body,
		URL:        res.URL,
	}
	m.logger.Debug("Page request completed.",
		zap.String("tab_id", tabID),
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", out.StatusCode))
	return out, nil
}

func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
