// internal/browser/launch.go
package browser

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/stealth"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
)

const maxWindowDimension = 16384

var windowSizePattern = regexp.MustCompile(`^\s*(\d+)\s*[xX,]\s*(\d+)\s*$`)

// ParseLaunchConfig validates caller supplied session options against the
// configured defaults. Every failure is InvalidConfig and happens before any
// process is spawned.
func ParseLaunchConfig(opts schemas.SessionOptions, defaults config.BrowserConfig) (schemas.LaunchConfig, error) {
	lc := schemas.LaunchConfig{
		UserAgent:         defaults.UserAgent,
		DisableImages:     opts.DisableImages,
		DisableJavaScript: opts.DisableJavaScript,
		BinaryPath:        defaults.BinaryPath,
		RemoteURL:         defaults.RemoteURL,
	}

	headless, err := parseHeadless(opts.Headless, defaults.Headless)
	if err != nil {
		return lc, err
	}
	lc.Headless = headless

	lc.WindowWidth, lc.WindowHeight = defaults.ViewportSize()
	if opts.WindowSize != "" {
		w, h, err := parseWindowSize(opts.WindowSize)
		if err != nil {
			return lc, err
		}
		lc.WindowWidth, lc.WindowHeight = w, h
	}

	if opts.Proxy != "" {
		if err := validateProxy(opts.Proxy); err != nil {
			return lc, err
		}
		lc.Proxy = opts.Proxy
	}

	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		lc.UserAgent = ua
	}
	if opts.BinaryPath != "" {
		lc.BinaryPath = opts.BinaryPath
	}

	if opts.RemoteURL != "" {
		u, err := url.Parse(opts.RemoteURL)
		if err != nil || u.Host == "" {
			return lc, schemas.NewError(schemas.ErrInvalidConfig, "remote_url %q is not a valid URL", opts.RemoteURL)
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return lc, schemas.NewError(schemas.ErrInvalidConfig, "remote_url scheme must be ws, wss, http or https, got %q", u.Scheme)
		}
		lc.RemoteURL = opts.RemoteURL
	}

	for _, a := range opts.Args {
		if _, err := parseArg(a); err != nil {
			return lc, err
		}
	}
	lc.Args = append([]string(nil), opts.Args...)
	return lc, nil
}

func parseHeadless(v interface{}, def bool) (bool, error) {
	switch h := v.(type) {
	case nil:
		return def, nil
	case bool:
		return h, nil
	case float64:
		switch h {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "true", "1", "yes", "on", "new":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return false, schemas.NewError(schemas.ErrInvalidConfig, "headless must be a boolean, got %v", v)
}

func parseWindowSize(s string) (int, int, error) {
	m := windowSizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, schemas.NewError(schemas.ErrInvalidConfig, "window_size %q must look like WIDTHxHEIGHT", s)
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || w <= 0 || h <= 0 || w > maxWindowDimension || h > maxWindowDimension {
		return 0, 0, schemas.NewError(schemas.ErrInvalidConfig, "window_size %q is out of range", s)
	}
	return w, h, nil
}

func validateProxy(p string) error {
	u, err := url.Parse(p)
	if err != nil {
		return schemas.WrapError(schemas.ErrInvalidConfig, err, "proxy %q is not a valid URL", p)
	}
	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return schemas.NewError(schemas.ErrInvalidConfig, "proxy scheme must be http, https, socks4 or socks5, got %q", u.Scheme)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return schemas.NewError(schemas.ErrInvalidConfig, "proxy %q must be scheme://host:port", p)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return schemas.NewError(schemas.ErrInvalidConfig, "proxy port %q is invalid", port)
	}
	return nil
}

// parseArg turns "--name=value", "--name" or "name" into a flag.
func parseArg(a string) (transport.Flag, error) {
	s := strings.TrimLeft(strings.TrimSpace(a), "-")
	if s == "" {
		return transport.Flag{}, schemas.NewError(schemas.ErrInvalidConfig, "empty browser argument %q", a)
	}
	name, value, _ := strings.Cut(s, "=")
	if name == "" {
		return transport.Flag{}, schemas.NewError(schemas.ErrInvalidConfig, "browser argument %q has no name", a)
	}
	return transport.Flag{Name: name, Value: value}, nil
}

// LaunchFlags assembles the browser command line for a session: the
// container friendly basics, the stealth switches, the configured defaults
// and then the session's own options, later entries winning.
func LaunchFlags(cfg config.BrowserConfig, lc schemas.LaunchConfig) []transport.Flag {
	flags := []transport.Flag{
		{Name: "no-sandbox"},
		{Name: "disable-dev-shm-usage"},
		{Name: "disable-gpu"},
	}
	flags = append(flags, stealth.LaunchFlags()...)

	if cfg.DisableCache {
		flags = append(flags,
			transport.Flag{Name: "disk-cache-size", Value: "1"},
			transport.Flag{Name: "media-cache-size", Value: "1"},
			transport.Flag{Name: "disable-cache"},
		)
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			transport.Flag{Name: "ignore-certificate-errors"},
			transport.Flag{Name: "allow-insecure-localhost"},
		)
	}
	for _, a := range cfg.Args {
		if f, err := parseArg(a); err == nil {
			flags = append(flags, f)
		}
	}

	flags = append(flags, transport.Flag{Name: "window-size", Value: fmt.Sprintf("%d,%d", lc.WindowWidth, lc.WindowHeight)})
	if lc.UserAgent != "" {
		flags = append(flags, transport.Flag{Name: "user-agent", Value: lc.UserAgent})
	}
	if lc.Proxy != "" {
		flags = append(flags, transport.Flag{Name: "proxy-server", Value: lc.Proxy})
	}
	if lc.DisableImages {
		flags = append(flags, transport.Flag{Name: "blink-settings", Value: "imagesEnabled=false"})
	}
	if lc.DisableJavaScript {
		flags = append(flags, transport.Flag{Name: "disable-javascript"})
	}
	for _, a := range lc.Args {
		if f, err := parseArg(a); err == nil {
			flags = append(flags, f)
		}
	}
	return flags
}

// launchSpec is the transport request for starting a session's browser.
func launchSpec(sessionID string, cfg config.BrowserConfig, lc schemas.LaunchConfig) transport.LaunchSpec {
	return transport.LaunchSpec{
		SessionID:    sessionID,
		BinaryPath:   lc.BinaryPath,
		RemoteURL:    lc.RemoteURL,
		Headless:     lc.Headless,
		Flags:        LaunchFlags(cfg, lc),
		Timeout:      cfg.LaunchTimeout,
		Retries:      cfg.LaunchRetries,
		PollInterval: cfg.PollInterval,
	}
}

// personaFor derives the per-tab emulation profile from a launch config.
func personaFor(lc schemas.LaunchConfig) stealth.Persona {
	p := stealth.DefaultPersona
	if lc.UserAgent != "" && lc.UserAgent != p.UserAgent {
		p.UserAgent = lc.UserAgent
		p.Platform = ""
	}
	return p
}
