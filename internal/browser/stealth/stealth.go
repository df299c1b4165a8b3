// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport"
)

//go:embed scripts/evasions.js
var evasionsScript string

//go:embed scripts/shadow_open.js
var shadowOpenScript string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string   `json:"-"`
	Platform  string   `json:"platform,omitempty"`
	Languages []string `json:"languages,omitempty"`
	Timezone  string   `json:"-"`
	Locale    string   `json:"-"`
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
}

// LaunchFlags are the command line switches that keep the automation
// banner and blink's automation marker out of the page.
func LaunchFlags() []transport.Flag {
	return []transport.Flag{
		{Name: "disable-blink-features", Value: "AutomationControlled"},
		{Name: "enable-automation", Off: true},
	}
}

// Scripts returns the sources installed on every new document, in order.
func Scripts(p Persona) ([]string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode persona: %w", err)
	}
	return []string{
		shadowOpenScript,
		"(" + strings.TrimSpace(evasionsScript) + ")(" + string(raw) + ");",
	}, nil
}

// AcceptLanguage renders languages as an Accept-Language header value with
// descending quality weights.
func AcceptLanguage(languages []string) string {
	parts := make([]string, 0, len(languages))
	for i, l := range languages {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// Apply constructs the per-tab protocol actions that make an automated page
// look like a user-operated one and force shadow roots open so element
// queries can reach into them. The tasks run against whatever executor is
// bound to the context they are given.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			scripts, err := Scripts(p)
			if err != nil {
				return err
			}
			for _, src := range scripts {
				params := page.AddScriptToEvaluateOnNewDocument(src)
				if err := cdp.Execute(ctx, page.CommandAddScriptToEvaluateOnNewDocument, params, &page.AddScriptToEvaluateOnNewDocumentReturns{}); err != nil {
					return fmt.Errorf("failed to inject init script: %w", err)
				}
			}
			return nil
		}),
	}

	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if p.Platform != "" {
			ua = ua.WithPlatform(p.Platform)
		}
		if len(p.Languages) > 0 {
			ua = ua.WithAcceptLanguage(AcceptLanguage(p.Languages))
		}
		tasks = append(tasks, ua)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	return tasks
}
