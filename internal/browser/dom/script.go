// internal/browser/dom/script.go
package dom

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
)

// ExecuteScript runs script in the tab's main world and returns its JSON
// value. Scripts that use return, or that take args, run as a function body
// with args as `arguments`. Thrown exceptions are ScriptError.
func (e *Engine) ExecuteScript(ctx context.Context, tabID, script string, args []interface{}) (interface{}, error) {
	if script == "" {
		return nil, schemas.NewError(schemas.ErrInvalidArgument, "script must not be empty")
	}
	tab, err := e.reg.RunningTab(tabID)
	if err != nil {
		return nil, err
	}
	expr := script
	if len(args) > 0 || jsexec.NeedsFunctionWrap(script) {
		if expr, err = jsexec.WrapPageScript(script, args); err != nil {
			return nil, schemas.WrapError(schemas.ErrInvalidArgument, err, "script arguments are not JSON serializable")
		}
	}

	var out interface{}
	if err := jsexec.Evaluate(tab.Exec(ctx), expr, &out); err != nil {
		return nil, err
	}
	e.logger.Debug("Script executed.", zap.String("tab_id", tabID), zap.Int("length", len(script)))
	return out, nil
}

// ExecuteScriptOnElement runs script with the element bound as `this` and
// as arguments[0]; args follow it.
func (e *Engine) ExecuteScriptOnElement(ctx context.Context, elementID, script string, args []interface{}) (interface{}, error) {
	if script == "" {
		return nil, schemas.NewError(schemas.ErrInvalidArgument, "script must not be empty")
	}
	var out interface{}
	if err := e.call(ctx, elementID, jsexec.ElementScript(script), &out, args...); err != nil {
		return nil, err
	}
	return out, nil
}
