// ./main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/cdp-mcp/cmd"
	"github.com/xkilldash9x/cdp-mcp/internal/observability"
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if ctx.Err() != nil {
			// Interrupted.
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// handlePanic flushes logs and reports the stack on stderr; stdout may carry
// MCP frames.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s\n", r, debug.Stack())
		os.Exit(2)
	}
}
