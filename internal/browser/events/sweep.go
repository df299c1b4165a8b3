// internal/browser/events/sweep.go
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
)

const (
	sweepDebounce = 50 * time.Millisecond
	sweepTimeout  = 5 * time.Second
	sweepGroup    = "cdpmcp-sweep"
)

// sweeper invalidates element references whose nodes left the document. It
// runs only when DOM mutation tracking is enabled, and coalesces bursts of
// removals into a single pass.
type sweeper struct {
	reg    *registry.Registry
	tab    *registry.Tab
	logger *zap.Logger

	kick     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSweeper(reg *registry.Registry, tab *registry.Tab, logger *zap.Logger) *sweeper {
	s := &sweeper{
		reg:    reg,
		tab:    tab,
		logger: logger.With(zap.String("tab_id", tab.ID)),
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// trigger schedules a sweep without blocking the drain.
func (s *sweeper) trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *sweeper) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}

func (s *sweeper) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.kick:
		}

		timer := time.NewTimer(sweepDebounce)
		select {
		case <-s.quit:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.sweep()
	}
}

func (s *sweeper) sweep() {
	elements, err := s.reg.Elements(s.tab.ID)
	if err != nil || len(elements) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	ctx = s.tab.Exec(ctx)
	defer jsexec.ReleaseGroup(ctx, sweepGroup)

	removed := 0
	for _, el := range elements {
		if ctx.Err() != nil {
			return
		}
		id, err := jsexec.Resolve(ctx, el.BackendNodeID, sweepGroup)
		if err != nil {
			if schemas.IsKind(err, schemas.ErrStaleElement) && s.reg.InvalidateElement(el.ID) {
				removed++
			}
			continue
		}
		var connected bool
		if err := jsexec.CallOn(ctx, id, jsexec.Connected, &connected); err != nil {
			continue
		}
		if !connected && s.reg.InvalidateElement(el.ID) {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("Swept detached element references.", zap.Int("removed", removed))
	}
}
