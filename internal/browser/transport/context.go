// internal/browser/transport/context.go
package transport

import "context"

// CombineContext derives a context from ctx1 (keeping its values) that is
// canceled when either ctx1 or ctx2 is done. ctx1 usually carries the caller's
// deadline, ctx2 the lifetime of the target the command is bound to.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
