// internal/browser/transport/transport.go
package transport

import (
	"context"
	"time"
)

// Event is a decoded protocol event, e.g. *page.EventLoadEventFired.
// The final value delivered on a target's event stream is always a Disconnected.
type Event = interface{}

// Disconnected marks the end of a target's event stream. Err is nil when the
// target was closed on purpose.
type Disconnected struct {
	TargetID string
	Err      error
}

// Flag is a single browser command line switch. An empty Value means a bare
// boolean switch (--name); Off removes a switch the allocator would add by default.
type Flag struct {
	Name  string
	Value string
	Off   bool
}

// LaunchSpec is everything a Launcher needs to bring up one browser process.
type LaunchSpec struct {
	SessionID  string
	BinaryPath string
	RemoteURL  string
	Headless   bool
	Flags      []Flag

	// Timeout bounds the whole launch, retries included.
	Timeout time.Duration
	// Retries is the number of launch attempts before giving up.
	Retries int
	// PollInterval paces the attempts.
	PollInterval time.Duration
}

// Launcher starts browser processes (or attaches to remote ones).
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Browser, error)
}

// Browser is a live browser process owned by exactly one session.
type Browser interface {
	// InitialTarget is the page the browser opened at startup.
	InitialTarget() Target
	// NewTarget opens a new page and attaches to it.
	NewTarget(ctx context.Context, url string) (Target, error)
	// Close tears the process down. Every target stream ends with a Disconnected.
	Close(ctx context.Context) error
	// Done is closed once the process is gone, whether closed or crashed.
	Done() <-chan struct{}
	// Err reports why Done fired; nil after a requested Close.
	Err() error
}

// Target is one attached page. Its Execute method makes it a cdproto cdp.Executor, so
// cdproto command builders run against it through cdp.WithExecutor.
type Target interface {
	ID() string
	Execute(ctx context.Context, method string, params, res interface{}) error
	// Events yields every event the target produced, in arrival order, without
	// ever blocking the connection reader. The channel is closed after the
	// terminating Disconnected.
	Events() <-chan Event
	Close(ctx context.Context) error
	Done() <-chan struct{}
}
