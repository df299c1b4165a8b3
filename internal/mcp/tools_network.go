// internal/mcp/tools_network.go
package mcp

import (
	"context"
	"time"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/network"
)

// -- Interception Inputs --

type requestRefInput struct {
	TabID     string `json:"tab_id" jsonschema:"tab owning the paused request"`
	RequestID string `json:"request_id" jsonschema:"request id from list_pending_requests or the event log"`
}

type continueInput struct {
	TabID     string           `json:"tab_id" jsonschema:"tab owning the paused request"`
	RequestID string           `json:"request_id" jsonschema:"paused request id"`
	URL       string           `json:"url,omitempty" jsonschema:"replacement URL"`
	Method    string           `json:"method,omitempty" jsonschema:"replacement HTTP method"`
	Headers   []schemas.Header `json:"headers,omitempty" jsonschema:"replacement request headers"`
	PostData  *string          `json:"post_data,omitempty" jsonschema:"replacement request body"`
}

type failInput struct {
	TabID       string `json:"tab_id" jsonschema:"tab owning the paused request"`
	RequestID   string `json:"request_id" jsonschema:"paused request id"`
	ErrorReason string `json:"error_reason,omitempty" jsonschema:"network error reported to the page, e.g. Failed (default), Aborted, TimedOut, AccessDenied, BlockedByClient"`
}

type fulfillInput struct {
	TabID        string           `json:"tab_id" jsonschema:"tab owning the paused request"`
	RequestID    string           `json:"request_id" jsonschema:"paused request id"`
	ResponseCode int              `json:"response_code,omitempty" jsonschema:"HTTP status code (default 200)"`
	Headers      []schemas.Header `json:"headers,omitempty" jsonschema:"response headers"`
	Body         string           `json:"body,omitempty" jsonschema:"response body as text"`
	BinaryBody   string           `json:"binary_body,omitempty" jsonschema:"response body as base64; exclusive with body"`
}

// -- Network Log Inputs --

type networkLogsInput struct {
	TabID         string `json:"tab_id" jsonschema:"tab identifier"`
	FilterPattern string `json:"filter_pattern,omitempty" jsonschema:"URL glob (* and ?), matched against the whole URL"`
	Limit         int    `json:"limit,omitempty" jsonschema:"most recent requests to return"`
}

// -- Cookie Inputs --

type setCookiesInput struct {
	TabID   string           `json:"tab_id" jsonschema:"tab whose browser context receives the cookies"`
	Cookies []schemas.Cookie `json:"cookies" jsonschema:"cookies to set; url defaults to the tab's URL when neither url nor domain is given"`
}

type getCookiesInput struct {
	TabID string   `json:"tab_id" jsonschema:"tab identifier"`
	URLs  []string `json:"urls,omitempty" jsonschema:"only cookies visible to these URLs; the tab's URL when omitted"`
}

type deleteCookiesInput struct {
	TabID  string `json:"tab_id" jsonschema:"tab identifier"`
	Name   string `json:"name,omitempty" jsonschema:"cookie name; every cookie is cleared when omitted"`
	URL    string `json:"url,omitempty" jsonschema:"match cookies for this URL"`
	Domain string `json:"domain,omitempty" jsonschema:"match cookies for this domain"`
	Path   string `json:"path,omitempty" jsonschema:"match cookies with this path"`
}

type makeRequestInput struct {
	TabID    string           `json:"tab_id" jsonschema:"tab whose page issues the request"`
	URL      string           `json:"url" jsonschema:"request URL"`
	Method   string           `json:"method,omitempty" jsonschema:"GET (default), POST, PUT, DELETE, HEAD, OPTIONS or PATCH"`
	Headers  []schemas.Header `json:"headers,omitempty" jsonschema:"request headers"`
	Data     string           `json:"data,omitempty" jsonschema:"request body"`
	JSONData interface{}      `json:"json_data,omitempty" jsonschema:"JSON request body; sets Content-Type"`
	Timeout  float64          `json:"timeout,omitempty" jsonschema:"seconds before the request is aborted (default 30)"`
}

func (in makeRequestInput) requested() time.Duration { return seconds(in.Timeout) }

func decided(in requestRefInput, disposition schemas.Disposition) map[string]interface{} {
	return map[string]interface{}{"tab_id": in.TabID, "request_id": in.RequestID, "disposition": disposition}
}

func (s *Server) registerNetworkTools() {
	// -- Interception --

	addTool(s, "list_pending_requests", "List requests paused by fetch interception, oldest first.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			pending, err := s.ctrl.Pending(in.TabID)
			if err != nil {
				return nil, err
			}
			if pending == nil {
				pending = []schemas.InterceptedRequest{}
			}
			return map[string]interface{}{"tab_id": in.TabID, "requests": pending, "count": len(pending)}, nil
		})

	addTool(s, "continue_request", "Let a paused request proceed, optionally modified.",
		func(ctx context.Context, in continueInput) (interface{}, error) {
			ref := requestRefInput{TabID: in.TabID, RequestID: in.RequestID}
			if err := required("tab_id", ref.TabID, "request_id", ref.RequestID); err != nil {
				return nil, err
			}
			err := s.ctrl.Continue(ctx, in.TabID, in.RequestID, network.ContinueOptions{
				URL:      in.URL,
				Method:   in.Method,
				Headers:  in.Headers,
				PostData: in.PostData,
			})
			if err != nil {
				return nil, err
			}
			return decided(ref, schemas.DispositionContinued), nil
		})

	addTool(s, "fail_request", "Fail a paused request with a network error.",
		func(ctx context.Context, in failInput) (interface{}, error) {
			ref := requestRefInput{TabID: in.TabID, RequestID: in.RequestID}
			if err := required("tab_id", ref.TabID, "request_id", ref.RequestID); err != nil {
				return nil, err
			}
			if err := s.ctrl.Fail(ctx, in.TabID, in.RequestID, in.ErrorReason); err != nil {
				return nil, err
			}
			return decided(ref, schemas.DispositionFailed), nil
		})

	addTool(s, "fulfill_request", "Answer a paused request with a synthetic response.",
		func(ctx context.Context, in fulfillInput) (interface{}, error) {
			ref := requestRefInput{TabID: in.TabID, RequestID: in.RequestID}
			if err := required("tab_id", ref.TabID, "request_id", ref.RequestID); err != nil {
				return nil, err
			}
			err := s.ctrl.Fulfill(ctx, in.TabID, in.RequestID, network.FulfillOptions{
				ResponseCode: in.ResponseCode,
				Headers:      in.Headers,
				Body:         in.Body,
				BinaryBody:   in.BinaryBody,
			})
			if err != nil {
				return nil, err
			}
			return decided(ref, schemas.DispositionFulfilled), nil
		})

	// -- Network logs --

	addTool(s, "get_network_logs", "Summarize captured network requests of a tab. Requires enable_network_events.",
		func(ctx context.Context, in networkLogsInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			if in.Limit < 0 {
				return nil, invalid("limit must not be negative")
			}
			reqs, err := s.mon.Requests(in.TabID, in.FilterPattern, in.Limit)
			if err != nil {
				return nil, err
			}
			if reqs == nil {
				reqs = []schemas.NetworkRequest{}
			}
			return map[string]interface{}{"tab_id": in.TabID, "requests": reqs, "count": len(reqs)}, nil
		})

	addTool(s, "get_network_response_body", "Return the body of a captured response.",
		func(ctx context.Context, in requestRefInput) (interface{}, error) {
			if err := required("tab_id", in.TabID, "request_id", in.RequestID); err != nil {
				return nil, err
			}
			return s.mon.ResponseBody(ctx, in.TabID, in.RequestID)
		})

	// -- Cookies --

	addTool(s, "set_cookies", "Set cookies in the tab's browser context.",
		func(ctx context.Context, in setCookiesInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			if err := s.mon.SetCookies(ctx, in.TabID, in.Cookies); err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "set": len(in.Cookies)}, nil
		})

	addTool(s, "get_cookies", "Return cookies visible to the tab, or to the given URLs.",
		func(ctx context.Context, in getCookiesInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			cookies, err := s.mon.Cookies(ctx, in.TabID, in.URLs)
			if err != nil {
				return nil, err
			}
			if cookies == nil {
				cookies = []schemas.Cookie{}
			}
			return map[string]interface{}{"tab_id": in.TabID, "cookies": cookies, "count": len(cookies)}, nil
		})

	addTool(s, "delete_cookies", "Delete matching cookies, or every cookie when no name is given.",
		func(ctx context.Context, in deleteCookiesInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			err := s.mon.DeleteCookies(ctx, in.TabID, network.CookieFilter{
				Name:   in.Name,
				URL:    in.URL,
				Domain: in.Domain,
				Path:   in.Path,
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "cleared_all": in.Name == "", "deleted": true}, nil
		})

	addTool(s, "make_request", "Issue an HTTP request with the page's fetch, carrying its cookies and origin.",
		func(ctx context.Context, in makeRequestInput) (interface{}, error) {
			if err := required("tab_id", in.TabID, "url", in.URL); err != nil {
				return nil, err
			}
			return s.mon.MakeRequest(ctx, in.TabID, in.URL, network.RequestOptions{
				Method:   in.Method,
				Headers:  in.Headers,
				Data:     in.Data,
				JSONData: in.JSONData,
				Timeout:  seconds(in.Timeout),
			})
		})
}
