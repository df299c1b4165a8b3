// internal/browser/transport/transporttest/fake.go
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
)

// Handler answers one command. res is the *XxxReturns pointer the cdproto
// builder passed in (nil for commands without results); fill it to reply.
type Handler func(ctx context.Context, params, res interface{}) error

// Call is one recorded command.
type Call struct {
	Method string
	Params interface{}
}

// Handlers maps method names (e.g. dom.CommandDescribeNode) to handlers.
type Handlers map[string]Handler

// Launcher is a scriptable transport.Launcher.
type Launcher struct {
	mu sync.Mutex
	// Defaults are copied into every target of every browser this launcher creates.
	Defaults Handlers
	// Err, when set, is returned by Launch.
	Err error
	// Hang makes Launch block until its context ends.
	Hang bool
	// Delay is slept (bounded by ctx) before a browser is returned.
	Delay time.Duration
	// BeforeClose, when set, is copied into every browser this launcher creates.
	BeforeClose func()

	specs    []transport.LaunchSpec
	browsers []*Browser
}

var _ transport.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher whose targets answer with defaults.
func NewLauncher(defaults Handlers) *Launcher {
	return &Launcher{Defaults: defaults}
}

func (l *Launcher) Launch(ctx context.Context, spec transport.LaunchSpec) (transport.Browser, error) {
	l.mu.Lock()
	l.specs = append(l.specs, spec)
	hang, delay, err, beforeClose := l.Hang, l.Delay, l.Err, l.BeforeClose
	l.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, schemas.TimeoutError(schemas.ReasonLaunchTimeout, "browser did not become reachable")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, schemas.TimeoutError(schemas.ReasonLaunchTimeout, "browser did not become reachable")
		}
	}
	if err != nil {
		return nil, err
	}

	b := NewBrowser(l.Defaults)
	b.BeforeClose = beforeClose
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Specs returns every spec Launch was called with.
func (l *Launcher) Specs() []transport.LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transport.LaunchSpec(nil), l.specs...)
}

// Browsers returns every browser handed out so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Last returns the most recently launched browser, or nil.
func (l *Launcher) Last() *Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.browsers) == 0 {
		return nil
	}
	return l.browsers[len(l.browsers)-1]
}

// Browser is an in-memory transport.Browser.
type Browser struct {
	mu       sync.Mutex
	defaults Handlers
	initial  *Target
	targets  []*Target
	next     int
	// NewTargetErr, when set, fails NewTarget.
	NewTargetErr error
	// BeforeClose, when set, runs at the start of Close.
	BeforeClose func()

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

var _ transport.Browser = (*Browser)(nil)

// NewBrowser creates a browser with an initial target.
func NewBrowser(defaults Handlers) *Browser {
	b := &Browser{defaults: defaults, done: make(chan struct{})}
	b.initial = b.spawn()
	return b
}

func (b *Browser) spawn() *Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	t := NewTarget(fmt.Sprintf("target-%d", b.next), b.defaults)
	b.targets = append(b.targets, t)
	return t
}

func (b *Browser) InitialTarget() transport.Target { return b.initial }

// Initial is InitialTarget with the concrete type.
func (b *Browser) Initial() *Target { return b.initial }

func (b *Browser) NewTarget(ctx context.Context, url string) (transport.Target, error) {
	b.mu.Lock()
	err := b.NewTargetErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case <-b.done:
		return nil, transport.Classify(transport.ErrTargetClosed, true)
	default:
	}
	return b.spawn(), nil
}

// Targets returns every target created so far, the initial one first.
func (b *Browser) Targets() []*Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Target(nil), b.targets...)
}

// TargetByID finds a target.
func (b *Browser) TargetByID(id string) *Target {
	for _, t := range b.Targets() {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

func (b *Browser) Close(ctx context.Context) error {
	if b.BeforeClose != nil {
		b.BeforeClose()
	}
	b.finish(nil)
	return nil
}

// Crash simulates the process dying: every target stream ends with err.
func (b *Browser) Crash(err error) {
	if err == nil {
		err = errors.New("browser process exited")
	}
	b.finish(err)
}

func (b *Browser) finish(err error) {
	b.doneOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		for _, t := range b.Targets() {
			t.Disconnect(err)
		}
		close(b.done)
	})
}

func (b *Browser) Done() <-chan struct{} { return b.done }

func (b *Browser) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Closed reports whether Close or Crash ran.
func (b *Browser) Closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Target is an in-memory transport.Target.
type Target struct {
	id       string
	queue    *transport.EventQueue
	mu       sync.Mutex
	handlers Handlers
	calls    []Call

	done     chan struct{}
	doneOnce sync.Once
}

var _ transport.Target = (*Target)(nil)

// NewTarget creates a standalone target with a copy of handlers.
func NewTarget(id string, handlers Handlers) *Target {
	h := make(Handlers, len(handlers))
	for k, v := range handlers {
		h[k] = v
	}
	return &Target{
		id:       id,
		queue:    transport.NewEventQueue(),
		handlers: h,
		done:     make(chan struct{}),
	}
}

func (t *Target) ID() string { return t.id }

// Handle installs or replaces the handler for method.
func (t *Target) Handle(method string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method] = h
}

// Execute records the call and dispatches it. Unknown methods succeed with
// an empty result.
func (t *Target) Execute(ctx context.Context, method string, params, res interface{}) error {
	select {
	case <-t.done:
		return transport.Classify(transport.ErrTargetClosed, true)
	default:
	}
	if err := ctx.Err(); err != nil {
		return transport.Classify(err, false)
	}

	t.mu.Lock()
	t.calls = append(t.calls, Call{Method: method, Params: params})
	h := t.handlers[method]
	t.mu.Unlock()

	if h == nil {
		return nil
	}
	return transport.Classify(h(ctx, params, res), false)
}

// Calls returns the recorded calls for method, or all calls if method is "".
func (t *Target) Calls(method string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Emit delivers an event as if the browser sent it.
func (t *Target) Emit(ev transport.Event) {
	t.queue.Push(ev)
}

func (t *Target) Events() <-chan transport.Event { return t.queue.C() }

func (t *Target) Close(ctx context.Context) error {
	t.Disconnect(nil)
	return nil
}

// Disconnect ends the event stream with a Disconnected carrying err.
func (t *Target) Disconnect(err error) {
	t.doneOnce.Do(func() {
		t.queue.Close(transport.Disconnected{TargetID: t.id, Err: err})
		close(t.done)
	})
}

func (t *Target) Done() <-chan struct{} { return t.done }

// Closed reports whether the target has disconnected.
func (t *Target) Closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
