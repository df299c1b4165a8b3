// internal/browser/transport/errors.go
package transport

import (
	"context"
	"errors"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// ErrTargetClosed is the cause attached to commands sent to a target whose
// connection is gone.
var ErrTargetClosed = errors.New("target closed")

// Classify maps a raw command error onto the error kinds reported to callers.
// targetGone tells whether the target's connection had ended when the command failed.
func Classify(err error, targetGone bool) error {
	if err == nil {
		return nil
	}

	// Already classified further down the stack.
	var typed *schemas.Error
	if errors.As(err, &typed) {
		return err
	}

	// 1. The browser answered with an error object.
	var protoErr *cdproto.Error
	if errors.As(err, &protoErr) {
		return &schemas.Error{
			Kind:    schemas.ErrProtocol,
			Message: protoErr.Message,
			Code:    protoErr.Code,
			Err:     err,
		}
	}

	// 2. The target went away underneath the command.
	if targetGone || errors.Is(err, ErrTargetClosed) || errors.Is(err, chromedp.ErrInvalidContext) {
		return schemas.WrapError(schemas.ErrTransport, err, "target connection lost")
	}

	// 3. The caller's budget ran out.
	if errors.Is(err, context.DeadlineExceeded) {
		return &schemas.Error{
			Kind:    schemas.ErrTimeout,
			Reason:  schemas.ReasonWaitTimeout,
			Message: "command did not complete in time",
			Err:     err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return schemas.WrapError(schemas.ErrInternal, err, "command canceled")
	}

	// Anything else came out of the websocket layer.
	return schemas.WrapError(schemas.ErrTransport, err, "command failed")
}
