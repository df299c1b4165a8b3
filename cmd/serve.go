// cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/internal/config"
	"github.com/xkilldash9x/cdp-mcp/internal/mcp"
	"github.com/xkilldash9x/cdp-mcp/internal/observability"
)

const minShutdownBudget = 5 * time.Second

// mcpServer is the part of *mcp.Server the serve command drives.
type mcpServer interface {
	ServeStdio(ctx context.Context) error
	ServeHTTP(ctx context.Context, addr string) error
	Shutdown(ctx context.Context) error
}

// newMCPServer is swapped out in tests.
var newMCPServer = func(cfg config.Interface, logger *zap.Logger) (mcpServer, error) {
	return mcp.NewServer(cfg, nil, logger)
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser automation tools over MCP.",
		Long: `Starts the MCP server. By default it speaks JSON-RPC over stdin/stdout;
with --transport http it serves streamable HTTP on --http-addr, plus
/healthz and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	serveCmd.Flags().String("transport", "", "stdio or http (default from config: stdio)")
	serveCmd.Flags().String("http-addr", "", "listen address for the http transport")
	serveCmd.Flags().Bool("headless", true, "default headless mode for new sessions")
	return serveCmd
}

// runServe blocks until ctx ends or the stdio client disconnects, then closes
// every browser session.
func runServe(ctx context.Context, cfg config.Interface, logger *zap.Logger) error {
	srv, err := newMCPServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	srvCfg := cfg.Server()
	var serveErr error
	switch strings.ToLower(srvCfg.Transport) {
	case "http":
		serveErr = srv.ServeHTTP(ctx, srvCfg.HTTPAddr)
	default:
		serveErr = srv.ServeStdio(ctx)
	}

	budget := cfg.Browser().ShutdownTimeout
	if budget < minShutdownBudget {
		budget = minShutdownBudget
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Browser sessions did not shut down cleanly.", zap.Error(err))
	}

	if serveErr != nil {
		return fmt.Errorf("MCP server stopped with error: %w", serveErr)
	}
	return nil
}
