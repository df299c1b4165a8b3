// internal/browser/dom/engine.go
package dom

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
)

const (
	defaultWaitTimeout  = 30 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	defaultClickHold    = 100 * time.Millisecond
)

// Engine finds elements, hands out references for them and performs every
// element level operation. It holds no state of its own: references live in
// the registry and remote object handles are released after each call.
type Engine struct {
	reg    *registry.Registry
	pipe   *events.Pipeline
	cfg    config.Interface
	logger *zap.Logger
}

// NewEngine creates an element engine.
func NewEngine(reg *registry.Registry, pipe *events.Pipeline, cfg config.Interface, logger *zap.Logger) *Engine {
	return &Engine{
		reg:    reg,
		pipe:   pipe,
		cfg:    cfg,
		logger: logger.Named("dom"),
	}
}

// bound is a live handle to a registered element for the duration of one call.
type bound struct {
	el    *registry.Element
	tab   *registry.Tab
	ctx   context.Context
	obj   runtime.RemoteObjectID
	group string
}

// release frees the handles created for the call. It runs even when the
// caller's context has already ended.
func (b *bound) release() {
	jsexec.ReleaseGroup(context.WithoutCancel(b.ctx), b.group)
}

func newGroup() string {
	return "cdpmcp-" + uuid.NewString()
}

// bind resolves an element reference to a live node. A reference whose node
// the browser has dropped or detached is invalidated and reported stale.
func (e *Engine) bind(ctx context.Context, elementID string) (*bound, error) {
	el, err := e.reg.Element(elementID)
	if err != nil {
		return nil, err
	}
	tab, err := e.reg.RunningTab(el.TabID)
	if err != nil {
		return nil, err
	}
	b := &bound{el: el, tab: tab, ctx: tab.Exec(ctx), group: newGroup()}

	obj, err := jsexec.Resolve(b.ctx, el.BackendNodeID, b.group)
	if err != nil {
		if schemas.IsKind(err, schemas.ErrStaleElement) {
			e.reg.InvalidateElement(elementID)
		}
		return nil, err
	}
	b.obj = obj

	var connected bool
	if err := jsexec.CallOn(b.ctx, obj, jsexec.Connected, &connected); err != nil {
		b.release()
		return nil, err
	}
	if !connected {
		b.release()
		e.reg.InvalidateElement(elementID)
		return nil, schemas.NewError(schemas.ErrStaleElement, "element %q is no longer attached to the document", elementID)
	}
	return b, nil
}

// call runs fn against the element and decodes its result into out.
func (e *Engine) call(ctx context.Context, elementID, fn string, out interface{}, args ...interface{}) error {
	b, err := e.bind(ctx, elementID)
	if err != nil {
		return err
	}
	defer b.release()
	return jsexec.CallOn(b.ctx, b.obj, fn, out, args...)
}

func (e *Engine) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if d := e.cfg.Interaction().DefaultTimeout; d > 0 {
		return d
	}
	return defaultWaitTimeout
}

func (e *Engine) pollInterval(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if d := e.cfg.Interaction().PollInterval; d > 0 {
		return d
	}
	return defaultPollInterval
}

// lastSeq is the tab's current event log position, stamped on new references.
func (e *Engine) lastSeq(tabID string) uint64 {
	log, err := e.pipe.Log(tabID)
	if err != nil {
		return 0
	}
	return log.LastSeq()
}

// CleanupElements drops element references of one tab, or of every tab when
// tabID is empty, and returns how many were removed.
func (e *Engine) CleanupElements(tabID string) (int, error) {
	if tabID != "" {
		n, err := e.reg.ClearElements(tabID)
		if err != nil {
			return 0, err
		}
		e.logger.Debug("Element references cleared.", zap.String("tab_id", tabID), zap.Int("count", n))
		return n, nil
	}

	total := 0
	for _, s := range e.reg.Sessions() {
		tabs, err := e.reg.Tabs(s.ID)
		if err != nil {
			continue
		}
		for _, t := range tabs {
			n, err := e.reg.ClearElements(t.ID)
			if err != nil {
				continue
			}
			total += n
		}
	}
	e.logger.Debug("Element references cleared on all tabs.", zap.Int("count", total))
	return total, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
