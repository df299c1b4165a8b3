// internal/browser/transport/chrome.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// healthProbeInterval is how often a running browser is pinged to notice crashes.
const healthProbeInterval = 2 * time.Second

// ChromeLauncher launches local Chrome processes, or attaches to a remote
// debugging endpoint, through chromedp.
type ChromeLauncher struct {
	logger *zap.Logger
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher creates a launcher.
func NewChromeLauncher(logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{logger: logger.Named("transport")}
}

// Launch brings up a browser. Attempts are paced by spec.PollInterval and the
// whole operation is bounded by spec.Timeout; running out of either reports a
// Timeout with reason LaunchTimeout.
func (l *ChromeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Browser, error) {
	logger := l.logger.With(zap.String("session_id", spec.SessionID))

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := spec.Retries
	if retries <= 0 {
		retries = 1
	}
	poll := spec.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	launchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(poll), 1)
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := limiter.Wait(launchCtx); err != nil {
			break
		}
		b, err := l.launchOnce(launchCtx, spec, logger)
		if err == nil {
			logger.Info("Browser is up.", zap.Int("attempt", attempt), zap.String("initial_target", b.initial.ID()))
			return b, nil
		}
		lastErr = err
		logger.Warn("Browser launch attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
	}

	if lastErr == nil {
		lastErr = launchCtx.Err()
	}
	return nil, &schemas.Error{
		Kind:    schemas.ErrTimeout,
		Reason:  schemas.ReasonLaunchTimeout,
		Message: fmt.Sprintf("browser did not become reachable within %s (%d attempts)", timeout, retries),
		Err:     lastErr,
	}
}

// launchOnce runs a single allocation attempt. The process lifetime is rooted
// in context.Background so that it outlives the tool call that started it.
func (l *ChromeLauncher) launchOnce(ctx context.Context, spec LaunchSpec, logger *zap.Logger) (*chromeBrowser, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if spec.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), spec.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), ExecAllocatorOptions(spec)...)
	}

	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	b := &chromeBrowser{
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		targets:       make(map[target.ID]*chromeTarget),
		done:          make(chan struct{}),
	}

	// The first page's listener must exist before the browser starts so that
	// no early event is lost.
	initial := b.newTarget(browserCtx, nil, false)

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(browserCtx) }()

	abort := func() {
		browserCancel()
		allocCancel()
		initial.queue.Stop()
	}
	select {
	case err := <-errCh:
		if err != nil {
			abort()
			return nil, err
		}
	case <-ctx.Done():
		abort()
		return nil, ctx.Err()
	}

	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Target == nil || c.Browser == nil {
		abort()
		return nil, errors.New("browser context has no attached target")
	}
	initial.bind(c.Target.TargetID)
	b.initial = initial

	chromedp.ListenBrowser(browserCtx, b.onBrowserEvent)
	go b.watch(healthProbeInterval)
	return b, nil
}

// chromeBrowser adapts a chromedp browser context to the Browser interface.
type chromeBrowser struct {
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	initial *chromeTarget
	targets map[target.ID]*chromeTarget
	closing bool

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func (b *chromeBrowser) InitialTarget() Target { return b.initial }

func (b *chromeBrowser) Done() <-chan struct{} { return b.done }

func (b *chromeBrowser) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// NewTarget creates a page through the browser endpoint and attaches to it.
func (b *chromeBrowser) NewTarget(ctx context.Context, url string) (Target, error) {
	if url == "" {
		url = "about:blank"
	}
	c := chromedp.FromContext(b.browserCtx)
	if c == nil || c.Browser == nil || b.browserCtx.Err() != nil {
		return nil, Classify(ErrTargetClosed, true)
	}

	var res target.CreateTargetReturns
	if err := c.Browser.Execute(ctx, target.CommandCreateTarget, target.CreateTarget(url), &res); err != nil {
		return nil, Classify(err, b.browserCtx.Err() != nil)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(res.TargetID))
	t := b.newTarget(tabCtx, tabCancel, true)
	t.bind(res.TargetID)

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(tabCtx) }()
	select {
	case err := <-errCh:
		if err != nil {
			t.shutdown(err)
			t.queue.Stop()
			tabCancel()
			return nil, Classify(err, b.browserCtx.Err() != nil)
		}
	case <-ctx.Done():
		t.shutdown(ctx.Err())
		t.queue.Stop()
		tabCancel()
		return nil, Classify(ctx.Err(), false)
	}
	return t, nil
}

// Close shuts the browser down gracefully, bounded by ctx.
func (b *chromeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Cancel(b.browserCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
		b.browserCancel()
	}
	b.allocCancel()
	b.finish(nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return schemas.WrapError(schemas.ErrTransport, err, "browser did not shut down cleanly")
	}
	return nil
}

func (b *chromeBrowser) newTarget(ctx context.Context, cancel context.CancelFunc, owned bool) *chromeTarget {
	listenCtx, stopListening := context.WithCancel(ctx)
	t := &chromeTarget{
		owner:         b,
		ctx:           ctx,
		cancel:        cancel,
		owned:         owned,
		stopListening: stopListening,
		queue:         NewEventQueue(),
		done:          make(chan struct{}),
	}
	chromedp.ListenTarget(listenCtx, func(ev interface{}) { t.queue.Push(ev) })
	go func() {
		<-ctx.Done()
		t.shutdown(ErrTargetClosed)
	}()
	return t
}

func (b *chromeBrowser) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetDestroyed:
		if t := b.lookup(e.TargetID); t != nil {
			t.shutdown(nil)
		}
	case *target.EventTargetCrashed:
		if t := b.lookup(e.TargetID); t != nil {
			t.shutdown(fmt.Errorf("target crashed: %s (code %d)", e.Status, e.ErrorCode))
		}
	}
}

func (b *chromeBrowser) lookup(id target.ID) *chromeTarget {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.targets[id]
}

// watch probes the browser endpoint until the browser is closed or stops answering.
func (b *chromeBrowser) watch(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-b.browserCtx.Done():
			b.finish(errors.New("browser context ended"))
			return
		case <-ticker.C:
			if err := b.probe(); err != nil {
				b.mu.Lock()
				closing := b.closing
				b.mu.Unlock()
				if closing {
					return
				}
				b.logger.Warn("Browser stopped responding.", zap.Error(err))
				b.finish(err)
				b.browserCancel()
				b.allocCancel()
				return
			}
		}
	}
}

func (b *chromeBrowser) probe() error {
	c := chromedp.FromContext(b.browserCtx)
	if c == nil || c.Browser == nil {
		return ErrTargetClosed
	}
	ctx, cancel := context.WithTimeout(b.browserCtx, healthProbeInterval)
	defer cancel()
	var res browser.GetVersionReturns
	return c.Browser.Execute(ctx, browser.CommandGetVersion, nil, &res)
}

// finish closes Done exactly once and ends every target stream.
func (b *chromeBrowser) finish(err error) {
	b.doneOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		targets := make([]*chromeTarget, 0, len(b.targets)+1)
		for _, t := range b.targets {
			targets = append(targets, t)
		}
		if b.initial != nil {
			targets = append(targets, b.initial)
		}
		b.mu.Unlock()

		for _, t := range targets {
			t.shutdown(err)
		}
		close(b.done)
	})
}

// chromeTarget adapts one chromedp tab context to the Target interface.
type chromeTarget struct {
	owner         *chromeBrowser
	ctx           context.Context
	cancel        context.CancelFunc
	owned         bool
	stopListening context.CancelFunc
	queue         *EventQueue
	closing       atomic.Bool

	mu       sync.RWMutex
	id       target.ID
	done     chan struct{}
	doneOnce sync.Once
}

func (t *chromeTarget) bind(id target.ID) {
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()

	t.owner.mu.Lock()
	t.owner.targets[id] = t
	t.owner.mu.Unlock()
}

func (t *chromeTarget) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return string(t.id)
}

func (t *chromeTarget) Events() <-chan Event { return t.queue.C() }

func (t *chromeTarget) Done() <-chan struct{} { return t.done }

func (t *chromeTarget) gone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Execute sends one command on the target's session. A command in flight
// when the target disconnects fails with TransportError.
func (t *chromeTarget) Execute(ctx context.Context, method string, params, res interface{}) error {
	if t.gone() {
		return Classify(ErrTargetClosed, true)
	}
	c := chromedp.FromContext(t.ctx)
	if c == nil || c.Target == nil {
		return Classify(ErrTargetClosed, true)
	}

	opCtx, cancel := CombineContext(ctx, t.ctx)
	defer cancel()

	err := c.Target.Execute(opCtx, method, params, res)
	if err != nil && t.ctx.Err() != nil {
		return Classify(err, true)
	}
	return Classify(err, t.gone())
}

// Close detaches from and closes the page. The event stream ends with a
// Disconnected carrying a nil error.
func (t *chromeTarget) Close(ctx context.Context) error {
	if t.gone() {
		return nil
	}
	t.closing.Store(true)
	var err error
	if t.owned {
		errCh := make(chan error, 1)
		go func() { errCh <- chromedp.Cancel(t.ctx) }()
		select {
		case err = <-errCh:
		case <-ctx.Done():
			err = ctx.Err()
			t.cancel()
		}
	} else {
		c := chromedp.FromContext(t.owner.browserCtx)
		if c != nil && c.Browser != nil {
			err = c.Browser.Execute(ctx, target.CommandCloseTarget, target.CloseTarget(target.ID(t.ID())), nil)
		}
	}
	t.shutdown(nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return Classify(err, false)
	}
	return nil
}

// shutdown ends the event stream once. A nil cause means an orderly close.
func (t *chromeTarget) shutdown(cause error) {
	t.doneOnce.Do(func() {
		t.stopListening()
		if errors.Is(cause, ErrTargetClosed) && (t.closing.Load() || t.owner.closingOrClosed()) {
			cause = nil
		}
		t.queue.Close(Disconnected{TargetID: t.ID(), Err: cause})
		close(t.done)

		t.owner.mu.Lock()
		delete(t.owner.targets, t.id)
		t.owner.mu.Unlock()
	})
}

func (b *chromeBrowser) closingOrClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closing
}
