// internal/browser/dom/wait.go
package dom

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
)

// finalCheckTimeout bounds the last check made when the deadline arrives
// between two polling slots.
const finalCheckTimeout = time.Second

// poll runs check at once and then once per interval until it reports done,
// returns an error, or the timeout elapses. When the next slot would fall past
// the deadline, check runs one last time at the deadline. Expiry is a
// WaitTimeout.
func (e *Engine) poll(ctx context.Context, timeout, interval time.Duration, what string, check func(ctx context.Context) (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	attempts := 0
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			// Wait refuses at once when the next slot lies past the deadline.
			<-waitCtx.Done()
			if err := ctx.Err(); err != nil {
				return err
			}
			attempts++
			finalCtx, cancelFinal := context.WithTimeout(ctx, finalCheckTimeout)
			done, err := check(finalCtx)
			expired := finalCtx.Err() != nil
			cancelFinal()
			if err == nil && done {
				return nil
			}
			if err != nil && !expired {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			break
		}
		attempts++
		done, err := check(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if waitCtx.Err() != nil {
				break
			}
			return err
		}
		if done {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.logger.Debug("Wait timed out.", zap.String("condition", what), zap.Duration("timeout", timeout), zap.Int("attempts", attempts))
	return schemas.TimeoutError(schemas.ReasonWaitTimeout, "%s within %s", what, timeout)
}

// WaitOptions bounds a wait. Zero values use the configured defaults.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitForElement polls until an element matches the selector (and, when
// visible is set, is visible) and returns a reference to the first such element.
func (e *Engine) WaitForElement(ctx context.Context, tabID string, kind schemas.SelectorType, value string, visible bool, opts WaitOptions) (schemas.ElementInfo, error) {
	if err := validateSelector(kind, value); err != nil {
		return schemas.ElementInfo{}, err
	}
	timeout := e.timeout(opts.Timeout)

	var found schemas.ElementInfo
	err := e.poll(ctx, timeout, e.pollInterval(opts.PollInterval), "no element matched "+string(kind)+" "+value, func(ctx context.Context) (bool, error) {
		s, err := e.openScope(ctx, tabID, RootElement)
		if err != nil {
			return false, err
		}
		defer s.release()

		handles, err := s.query(kind, value)
		if err != nil {
			return false, err
		}
		for _, h := range handles {
			if visible {
				var ok bool
				if err := jsexec.CallOn(s.ctx, h, jsexec.Visible, &ok); err != nil {
					return false, err
				}
				if !ok {
					continue
				}
			}
			infos, err := e.register(s, "", []runtime.RemoteObjectID{h})
			if err != nil {
				if schemas.IsKind(err, schemas.ErrStaleElement) {
					// The page navigated mid-query; look again.
					return false, nil
				}
				return false, err
			}
			found = infos[0]
			return true, nil
		}
		return false, nil
	})
	return found, err
}

// Wait conditions for ElementWaitUntil.
const (
	UntilVisible      = "visible"
	UntilInteractable = "interactable"
	UntilOnTop        = "on_top"
	UntilEnabled      = "enabled"
)

var untilChecks = map[string][]string{
	UntilVisible:      {jsexec.Visible},
	UntilEnabled:      {jsexec.Enabled},
	UntilOnTop:        {jsexec.OnTop},
	UntilInteractable: {jsexec.Visible, jsexec.Enabled, jsexec.OnTop},
}

// ElementWaitUntil polls an existing reference until the condition holds.
// A reference that goes stale ends the wait at once.
func (e *Engine) ElementWaitUntil(ctx context.Context, elementID, condition string, opts WaitOptions) error {
	checks, ok := untilChecks[condition]
	if !ok {
		return schemas.NewError(schemas.ErrInvalidArgument, "unknown condition %q (want visible, interactable, on_top or enabled)", condition)
	}
	timeout := e.timeout(opts.Timeout)
	return e.poll(ctx, timeout, e.pollInterval(opts.PollInterval), "element "+elementID+" did not become "+condition, func(ctx context.Context) (bool, error) {
		b, err := e.bind(ctx, elementID)
		if err != nil {
			return false, err
		}
		defer b.release()
		for _, fn := range checks {
			var ok bool
			if err := jsexec.CallOn(b.ctx, b.obj, fn, &ok); err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	})
}

// WaitForFunction polls a page expression until it returns a truthy value
// and returns that value.
func (e *Engine) WaitForFunction(ctx context.Context, tabID, expression string, opts WaitOptions) (interface{}, error) {
	if expression == "" {
		return nil, schemas.NewError(schemas.ErrInvalidArgument, "expression must not be empty")
	}
	expr := expression
	if jsexec.NeedsFunctionWrap(expression) {
		wrapped, err := jsexec.WrapPageScript(expression, nil)
		if err != nil {
			return nil, schemas.WrapError(schemas.ErrInvalidArgument, err, "cannot wrap expression")
		}
		expr = wrapped
	}
	timeout := e.timeout(opts.Timeout)

	var result interface{}
	err := e.poll(ctx, timeout, e.pollInterval(opts.PollInterval), "expression stayed falsy", func(ctx context.Context) (bool, error) {
		tab, err := e.reg.RunningTab(tabID)
		if err != nil {
			return false, err
		}
		var v interface{}
		if err := jsexec.Evaluate(tab.Exec(ctx), expr, &v); err != nil {
			return false, err
		}
		if !truthy(v) {
			return false, nil
		}
		result = v
		return true, nil
	})
	return result, err
}

// truthy follows JavaScript truthiness for JSON values.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}
