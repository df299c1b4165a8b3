// internal/mcp/handlers.go
package mcp

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Tools    int    `json:"tools"`
}

// Router builds the HTTP surface: health, metrics and the streamable MCP
// endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The MCP endpoint holds long-lived streams; it gets neither the access
	// log nor the request timeout.
	mcpHandler := sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return s.sdk }, nil)
	cors := corsMiddleware(s.cfg.Server().AllowedOrigins, s.logger)
	r.Handle("/mcp", cors(mcpHandler))
	r.Handle("/mcp/*", cors(mcpHandler))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/healthz", s.handleHealthCheck)
		r.Handle("/metrics", promhttp.Handler())
	})
	return r
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Sessions: len(s.mgr.ListSessions()),
		Tools:    len(s.toolNames),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode health response.", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// corsMiddleware admits requests without an Origin header (non-browser
// clients), from loopback and same-origin pages, and from the configured
// origins. Any other browser origin is refused.
func corsMiddleware(allowed []string, logger *zap.Logger) func(http.Handler) http.Handler {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimSuffix(strings.ToLower(o), "/")] = true
	}
	permitted := func(r *http.Request, origin string) bool {
		if allowAll || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return isLoopback(u.Hostname())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !permitted(r, origin) {
					logger.Warn("Rejected cross-origin request.",
						zap.String("origin", origin),
						zap.String("remote_addr", r.RemoteAddr))
					http.Error(w, "origin not allowed", http.StatusForbidden)
					return
				}
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version")
				w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
