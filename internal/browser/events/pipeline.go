// internal/browser/events/pipeline.go
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
)

// PausedRequestHandler receives every Fetch.requestPaused event.
type PausedRequestHandler interface {
	OnRequestPaused(tab *registry.Tab, ev *fetch.EventRequestPaused)
}

// TargetLostFunc is told when a tab's target ends without being closed
// through the registry (window.close, renderer crash, browser exit).
type TargetLostFunc func(tabID string, err error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPausedRequestHandler routes interception events.
func WithPausedRequestHandler(h PausedRequestHandler) Option {
	return func(p *Pipeline) { p.paused = h }
}

// Pipeline runs one drain goroutine per tab. Each drain consumes its target's
// event stream strictly in order, appends to the tab's Log and applies the
// side effects events have on registry state.
type Pipeline struct {
	reg    *registry.Registry
	cfg    config.EventsConfig
	logger *zap.Logger
	paused PausedRequestHandler

	mu     sync.RWMutex
	logs   map[string]*Log
	lost   TargetLostFunc
	sweeps map[string]*sweeper
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline.
func NewPipeline(reg *registry.Registry, cfg config.EventsConfig, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		reg:    reg,
		cfg:    cfg,
		logger: logger.Named("events"),
		logs:   make(map[string]*Log),
		sweeps: make(map[string]*sweeper),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnTargetLost installs the lost-target callback.
func (p *Pipeline) OnTargetLost(fn TargetLostFunc) {
	p.mu.Lock()
	p.lost = fn
	p.mu.Unlock()
}

// Attach creates the tab's log and starts its drain. The returned channel is
// closed when the drain has consumed the terminating Disconnected.
func (p *Pipeline) Attach(tab *registry.Tab) <-chan struct{} {
	log := NewLog(tab.ID, p.cfg.MaxEntriesPerCategory)
	p.mu.Lock()
	p.logs[tab.ID] = log
	if p.cfg.InvalidateOnDOMMutation {
		p.sweeps[tab.ID] = newSweeper(p.reg, tab, p.logger)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	tab.SetDrained(done)
	p.wg.Add(1)
	go p.drain(tab, log, done)
	return done
}

// Log returns a tab's event log.
func (p *Pipeline) Log(tabID string) (*Log, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.logs[tabID]
	if !ok {
		return nil, schemas.NewError(schemas.ErrNotFound, "tab %q not found", tabID)
	}
	return l, nil
}

// Entries queries a tab's log.
func (p *Pipeline) Entries(tabID string, q Query) ([]schemas.EventEntry, error) {
	l, err := p.Log(tabID)
	if err != nil {
		return nil, err
	}
	return l.Entries(q), nil
}

// WaitFor blocks until an entry of the tab matches pred, or timeout elapses.
// Expiry reports Timeout with the given reason.
func (p *Pipeline) WaitFor(ctx context.Context, tabID string, timeout time.Duration, reason string, pred func(schemas.EventEntry) bool) (schemas.EventEntry, error) {
	l, err := p.Log(tabID)
	if err != nil {
		return schemas.EventEntry{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e, err := l.WaitFor(waitCtx, pred)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return schemas.EventEntry{}, &schemas.Error{
			Kind:    schemas.ErrTimeout,
			Reason:  reason,
			Message: "no matching event within " + timeout.String(),
			Err:     err,
		}
	}
	return e, err
}

// Wait blocks until every drain goroutine has exited.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) drain(tab *registry.Tab, log *Log, done chan struct{}) {
	defer p.wg.Done()
	defer close(done)
	logger := p.logger.With(zap.String("tab_id", tab.ID))

	var cause error
	for ev := range tab.Target.Events() {
		if d, ok := ev.(transport.Disconnected); ok {
			cause = d.Err
			break
		}
		p.handle(tab, log, ev)
	}

	// The drain is the only writer, so closing here orders the close after
	// every entry it appended.
	if cause != nil {
		log.Close(schemas.WrapError(schemas.ErrTransport, cause, "tab %q lost its connection", tab.ID))
	} else {
		log.Close(schemas.NewError(schemas.ErrNotFound, "tab %q was closed", tab.ID))
	}

	p.mu.Lock()
	delete(p.logs, tab.ID)
	sw := p.sweeps[tab.ID]
	delete(p.sweeps, tab.ID)
	lost := p.lost
	p.mu.Unlock()
	if sw != nil {
		sw.stop()
	}

	logger.Debug("Event drain finished.", zap.Error(cause))
	if !tab.Closed() && lost != nil {
		lost(tab.ID, cause)
	}
}

// handle logs one event and applies its side effects. Registry state is
// updated before the entry becomes visible, so a waiter woken by the entry
// observes the effect.
func (p *Pipeline) handle(tab *registry.Tab, log *Log, ev interface{}) {
	c, ok := classify(ev)
	if !ok {
		return
	}

	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			n := p.reg.InvalidateTab(tab.ID)
			entry := log.Append(c.category, c.method, c.payload)
			tab.MarkNavigated(entry.Seq, string(e.Frame.ID), e.Frame.URL+e.Frame.URLFragment)
			p.logger.Debug("Main frame navigated.",
				zap.String("tab_id", tab.ID),
				zap.String("url", e.Frame.URL),
				zap.Int("invalidated", n))
			return
		}
	case *page.EventNavigatedWithinDocument:
		if main := tab.MainFrameID(); main == "" || main == string(e.FrameID) {
			tab.SetURL(e.URL)
		}
	case *page.EventLoadEventFired:
		tab.SetLoadState(schemas.LoadComplete)
	case *page.EventJavascriptDialogOpening:
		tab.SetDialog(&schemas.DialogInfo{
			Type:          string(e.Type),
			Message:       e.Message,
			DefaultPrompt: e.DefaultPrompt,
			URL:           e.URL,
		})
	case *page.EventJavascriptDialogClosed:
		tab.SetDialog(nil)
	case *dom.EventDocumentUpdated:
		if p.cfg.InvalidateOnDOMMutation {
			p.reg.InvalidateTab(tab.ID)
		}
	case *dom.EventChildNodeRemoved:
		if p.cfg.InvalidateOnDOMMutation {
			p.mu.RLock()
			sw := p.sweeps[tab.ID]
			p.mu.RUnlock()
			if sw != nil {
				sw.trigger()
			}
		}
	}

	log.Append(c.category, c.method, c.payload)

	if e, ok := ev.(*fetch.EventRequestPaused); ok && p.paused != nil {
		p.paused.OnRequestPaused(tab, e)
	}
}
