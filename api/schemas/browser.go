// api/schemas/browser.go
package schemas

import (
	"time"
)

// -- Session Schemas --

// SessionState is the lifecycle state of a browser session.
type SessionState string

const (
	SessionCreated  SessionState = "created"
	SessionStarting SessionState = "starting"
	SessionRunning  SessionState = "running"
	SessionClosing  SessionState = "closing"
	SessionClosed   SessionState = "closed"
)

// SessionOptions is the raw, unvalidated launch configuration supplied by a caller.
// Headless is deliberately untyped so that malformed values can be rejected with
// InvalidConfig instead of failing schema decoding.
type SessionOptions struct {
	Headless          interface{} `json:"headless,omitempty"`
	WindowSize        string      `json:"window_size,omitempty"`
	UserAgent         string      `json:"user_agent,omitempty"`
	Proxy             string      `json:"proxy,omitempty"`
	DisableImages     bool        `json:"disable_images,omitempty"`
	DisableJavaScript bool        `json:"disable_javascript,omitempty"`
	Args              []string    `json:"args,omitempty"`
	BinaryPath        string      `json:"binary_path,omitempty"`
	RemoteURL         string      `json:"remote_url,omitempty"`
}

// LaunchConfig is a validated SessionOptions.
type LaunchConfig struct {
	Headless          bool     `json:"headless"`
	WindowWidth       int      `json:"window_width"`
	WindowHeight      int      `json:"window_height"`
	UserAgent         string   `json:"user_agent,omitempty"`
	Proxy             string   `json:"proxy,omitempty"`
	DisableImages     bool     `json:"disable_images"`
	DisableJavaScript bool     `json:"disable_javascript"`
	Args              []string `json:"args,omitempty"`
	BinaryPath        string   `json:"binary_path,omitempty"`
	RemoteURL         string   `json:"remote_url,omitempty"`
}

// SessionInfo is the externally visible snapshot of a session.
type SessionInfo struct {
	ID        string       `json:"session_id"`
	State     SessionState `json:"state"`
	Tabs      []string     `json:"tabs"`
	Config    LaunchConfig `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
}

// -- Tab Schemas --

// LoadState tracks whether the tab's current document finished loading.
type LoadState string

const (
	LoadLoading  LoadState = "loading"
	LoadComplete LoadState = "complete"
)

// WaitUntil names the page condition a navigation waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// ParseWaitUntil maps caller input to a WaitUntil, defaulting to load.
func ParseWaitUntil(s string) (WaitUntil, error) {
	switch WaitUntil(s) {
	case "":
		return WaitLoad, nil
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return WaitUntil(s), nil
	}
	return "", NewError(ErrInvalidArgument, "unknown wait_until %q (want load, domcontentloaded or networkidle)", s)
}

// DialogInfo describes an open JavaScript dialog.
type DialogInfo struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	DefaultPrompt string `json:"default_prompt,omitempty"`
	URL           string `json:"url,omitempty"`
}

// TabInfo is the externally visible snapshot of a tab.
type TabInfo struct {
	ID         string      `json:"tab_id"`
	SessionID  string      `json:"session_id"`
	TargetID   string      `json:"target_id"`
	URL        string      `json:"url"`
	Title      string      `json:"title,omitempty"`
	LoadState  LoadState   `json:"load_state"`
	Generation uint64      `json:"generation"`
	Elements   int         `json:"elements"`
	Dialog     *DialogInfo `json:"dialog,omitempty"`
}

// -- Element Schemas --

// ElementBounds is an element's border box in CSS pixels relative to the viewport.
type ElementBounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box, shifted by the given offsets.
func (b ElementBounds) Center(dx, dy float64) (float64, float64) {
	return b.X + b.Width/2 + dx, b.Y + b.Height/2 + dy
}

// ElementInfo summarizes a registered element reference.
type ElementInfo struct {
	ID       string `json:"element_id"`
	TabID    string `json:"tab_id"`
	ParentID string `json:"parent_id,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// NavigationResult reports where a navigation ended up.
type NavigationResult struct {
	TabID     string    `json:"tab_id"`
	URL       string    `json:"url"`
	LoadState LoadState `json:"load_state"`
	// Seq is the event log position of the entry that satisfied the wait.
	Seq uint64 `json:"seq,omitempty"`
}

// ScreenshotOptions selects what take_screenshot captures.
type ScreenshotOptions struct {
	Format   string
	Quality  int
	FullPage bool
	// Clip limits the capture to a region in document coordinates.
	Clip *ElementBounds
}

// PDFOptions tunes save_pdf.
type PDFOptions struct {
	Landscape       bool
	PrintBackground bool
	Scale           float64
}
