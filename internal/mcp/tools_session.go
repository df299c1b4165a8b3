// internal/mcp/tools_session.go
package mcp

import (
	"context"
	"strings"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// -- Session Inputs --

type createSessionInput struct {
	SessionID         string      `json:"session_id" jsonschema:"caller chosen unique session identifier"`
	Headless          interface{} `json:"headless,omitempty" jsonschema:"run without a visible window (boolean or true/false string)"`
	WindowSize        string      `json:"window_size,omitempty" jsonschema:"window size as WIDTHxHEIGHT, e.g. 1280x800"`
	UserAgent         string      `json:"user_agent,omitempty" jsonschema:"user agent override"`
	Proxy             string      `json:"proxy,omitempty" jsonschema:"proxy as scheme://host:port (http, https, socks4, socks5)"`
	DisableImages     bool        `json:"disable_images,omitempty" jsonschema:"do not load images"`
	DisableJavaScript bool        `json:"disable_javascript,omitempty" jsonschema:"disable page JavaScript"`
	Args              []string    `json:"args,omitempty" jsonschema:"extra browser command line flags"`
	BinaryPath        string      `json:"binary_path,omitempty" jsonschema:"path to the browser executable"`
	RemoteURL         string      `json:"remote_url,omitempty" jsonschema:"attach to an existing browser at this debug URL instead of launching one"`
}

func (in createSessionInput) options() schemas.SessionOptions {
	return schemas.SessionOptions{
		Headless:          in.Headless,
		WindowSize:        in.WindowSize,
		UserAgent:         in.UserAgent,
		Proxy:             in.Proxy,
		DisableImages:     in.DisableImages,
		DisableJavaScript: in.DisableJavaScript,
		Args:              in.Args,
		BinaryPath:        in.BinaryPath,
		RemoteURL:         in.RemoteURL,
	}
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
}

type noInput struct{}

// -- Tab Inputs --

type createTabInput struct {
	SessionID string `json:"session_id" jsonschema:"owning session"`
	TabID     string `json:"tab_id,omitempty" jsonschema:"caller chosen tab identifier; generated when omitted"`
	URL       string `json:"url,omitempty" jsonschema:"URL to open in the new tab"`
}

type tabInput struct {
	TabID string `json:"tab_id" jsonschema:"tab identifier"`
}

type listTabsInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"limit to one session; all sessions when omitted"`
}

type handleAlertInput struct {
	TabID  string `json:"tab_id" jsonschema:"tab showing the dialog"`
	Action string `json:"action,omitempty" jsonschema:"accept (default) or dismiss"`
	Text   string `json:"text,omitempty" jsonschema:"text entered into a prompt() before accepting"`
}

func (s *Server) registerSessionTools() {
	addTool(s, "create_browser_session", "Register a browser session with its launch configuration. The browser is not started yet.",
		func(ctx context.Context, in createSessionInput) (interface{}, error) {
			if err := required("session_id", in.SessionID); err != nil {
				return nil, err
			}
			return s.mgr.CreateSession(ctx, in.SessionID, in.options())
		})

	addTool(s, "start_browser_session", "Launch the session's browser. Its first tab is <session_id>_initial.",
		func(ctx context.Context, in sessionInput) (interface{}, error) {
			if err := required("session_id", in.SessionID); err != nil {
				return nil, err
			}
			return s.mgr.StartSession(ctx, in.SessionID)
		})

	addTool(s, "close_browser_session", "Close every tab of the session, stop its browser and forget the session.",
		func(ctx context.Context, in sessionInput) (interface{}, error) {
			if err := required("session_id", in.SessionID); err != nil {
				return nil, err
			}
			return s.mgr.CloseSession(ctx, in.SessionID)
		})

	addTool(s, "list_sessions", "List all known browser sessions.",
		func(ctx context.Context, _ noInput) (interface{}, error) {
			sessions := s.mgr.ListSessions()
			return map[string]interface{}{"sessions": sessions, "count": len(sessions)}, nil
		})

	addTool(s, "get_session_info", "Describe one browser session.",
		func(ctx context.Context, in sessionInput) (interface{}, error) {
			if err := required("session_id", in.SessionID); err != nil {
				return nil, err
			}
			return s.mgr.SessionInfo(in.SessionID)
		})

	// -- Tabs --

	addTool(s, "create_tab", "Open a new tab in a running session, optionally navigating it to a URL.",
		func(ctx context.Context, in createTabInput) (interface{}, error) {
			if err := required("session_id", in.SessionID); err != nil {
				return nil, err
			}
			return s.mgr.CreateTab(ctx, in.SessionID, in.TabID, in.URL)
		})

	addTool(s, "close_tab", "Close a tab. Its element references and pending requests are discarded.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			if err := s.mgr.CloseTab(ctx, in.TabID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "closed": true}, nil
		})

	addTool(s, "list_tabs", "List tabs of one session, or of every session.",
		func(ctx context.Context, in listTabsInput) (interface{}, error) {
			tabs, err := s.listTabs(in.SessionID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tabs": tabs, "count": len(tabs)}, nil
		})

	addTool(s, "get_tab_info", "Describe one tab.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			return s.mgr.TabInfo(in.TabID)
		})

	addTool(s, "bring_tab_to_front", "Activate a tab in its browser window.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			return s.mgr.BringToFront(ctx, in.TabID)
		})

	// -- Dialogs --

	addTool(s, "handle_alert", "Accept or dismiss the JavaScript dialog open on a tab.",
		func(ctx context.Context, in handleAlertInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			var accept bool
			switch strings.ToLower(in.Action) {
			case "", "accept":
				accept = true
			case "dismiss":
			default:
				return nil, invalid("unknown dialog action %q (want accept or dismiss)", in.Action)
			}
			d, err := s.mgr.HandleDialog(ctx, in.TabID, accept, in.Text)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"handled": true, "accepted": accept, "dialog": d}, nil
		})

	addTool(s, "has_dialog", "Report whether a JavaScript dialog is open on a tab.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			d, err := s.mgr.Dialog(in.TabID)
			if err != nil {
				return nil, err
			}
			out := map[string]interface{}{"has_dialog": d != nil}
			if d != nil {
				out["dialog"] = d
			}
			return out, nil
		})

	addTool(s, "get_dialog_message", "Return the message of the open JavaScript dialog.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			d, err := s.mgr.Dialog(in.TabID)
			if err != nil {
				return nil, err
			}
			if d == nil {
				return nil, schemas.NewError(schemas.ErrNotFound, "tab %q has no open dialog", in.TabID)
			}
			return d, nil
		})
}

// listTabs returns the tabs of one session or of all sessions in creation order.
func (s *Server) listTabs(sessionID string) ([]schemas.TabInfo, error) {
	if sessionID != "" {
		return s.mgr.ListTabs(sessionID)
	}
	out := []schemas.TabInfo{}
	for _, info := range s.mgr.ListSessions() {
		tabs, err := s.mgr.ListTabs(info.ID)
		if err != nil {
			// Evicted between the two snapshots.
			continue
		}
		out = append(out, tabs...)
	}
	return out, nil
}
