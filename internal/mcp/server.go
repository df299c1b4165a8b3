// internal/mcp/server.go
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/internal/browser"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/dom"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/network"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
)

const (
	defaultCommandTimeout = 30 * time.Second
	defaultWaitCeiling    = 60 * time.Second
)

// Server hosts the browser automation tools over MCP. It owns the registry and
// every component that resolves identifiers through it.
type Server struct {
	cfg    config.Interface
	logger *zap.Logger

	reg  *registry.Registry
	pipe *events.Pipeline
	mgr  *browser.Manager
	eng  *dom.Engine
	ctrl *network.Controller
	mon  *network.Monitor

	sdk       *sdk.Server
	toolNames []string

	commandTimeout time.Duration
	waitCeiling    time.Duration

	httpServer *http.Server
}

// NewServer wires the browser stack and registers every tool. A nil launcher
// selects the chromedp launcher.
func NewServer(cfg config.Interface, launcher transport.Launcher, logger *zap.Logger) (*Server, error) {
	logger = logger.Named("mcp")
	if launcher == nil {
		launcher = transport.NewChromeLauncher(logger)
	}

	reg := registry.New(logger)
	ctrl, err := network.NewController(reg, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create interception controller: %w", err)
	}
	pipe := events.NewPipeline(reg, cfg.Events(), logger, events.WithPausedRequestHandler(ctrl))

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		reg:            reg,
		pipe:           pipe,
		mgr:            browser.NewManager(reg, pipe, launcher, cfg, logger),
		eng:            dom.NewEngine(reg, pipe, cfg, logger),
		ctrl:           ctrl,
		mon:            network.NewMonitor(reg, pipe, logger),
		commandTimeout: defaultCommandTimeout,
		waitCeiling:    defaultWaitCeiling,
	}
	if d := cfg.Browser().CommandTimeout; d > 0 {
		s.commandTimeout = d
	}
	for _, d := range []time.Duration{
		cfg.Browser().LaunchTimeout,
		cfg.Interaction().DefaultTimeout,
		cfg.Interaction().NavigateTimeout,
	} {
		if d > s.waitCeiling {
			s.waitCeiling = d
		}
	}

	srvCfg := cfg.Server()
	s.sdk = sdk.NewServer(&sdk.Implementation{
		Name:    srvCfg.Name,
		Title:   "Chrome DevTools Protocol browser automation",
		Version: srvCfg.Version,
	}, nil)

	s.registerSessionTools()
	s.registerPageTools()
	s.registerElementTools()
	s.registerEventTools()
	s.registerNetworkTools()

	logger.Info("MCP server initialized.", zap.Int("tools", len(s.toolNames)))
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *sdk.Server { return s.sdk }

// Tools lists the registered tool names in registration order.
func (s *Server) Tools() []string { return append([]string(nil), s.toolNames...) }

// Manager exposes the lifecycle manager.
func (s *Server) Manager() *browser.Manager { return s.mgr }

// ServeStdio serves a single client over stdin/stdout until ctx ends or the
// client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio.")
	if err := s.sdk.Run(ctx, &sdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio transport stopped: %w", err)
	}
	return nil
}

// ServeHTTP serves streamable HTTP on addr until ctx ends, then shuts the
// listener down gracefully.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving MCP over HTTP.", zap.String("address", addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP listener failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.commandTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error.", zap.Error(err))
		return err
	}
	return nil
}

// Shutdown closes every browser session and waits for the event drains.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.mgr.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.pipe.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Event drains still running at shutdown.")
		if err == nil {
			err = ctx.Err()
		}
	}
	s.logger.Info("MCP server stopped.")
	return err
}
