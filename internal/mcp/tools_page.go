// internal/mcp/tools_page.go
package mcp

import (
	"context"
	"encoding/base64"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser"
)

const (
	defaultSourceLimit = 20000
	truncationNotice   = "\n\n... [Response truncated due to size limit]"
)

// -- Page Inputs --

type navigateInput struct {
	TabID     string  `json:"tab_id" jsonschema:"tab to navigate"`
	URL       string  `json:"url" jsonschema:"destination URL"`
	WaitUntil string  `json:"wait_until,omitempty" jsonschema:"load (default), domcontentloaded or networkidle"`
	Timeout   float64 `json:"timeout,omitempty" jsonschema:"seconds to wait for the condition"`
}

func (in navigateInput) requested() time.Duration { return seconds(in.Timeout) }

type historyInput struct {
	TabID   string  `json:"tab_id" jsonschema:"tab identifier"`
	Timeout float64 `json:"timeout,omitempty" jsonschema:"seconds to wait for the page to load"`
}

func (in historyInput) requested() time.Duration { return seconds(in.Timeout) }

type refreshInput struct {
	TabID       string  `json:"tab_id" jsonschema:"tab identifier"`
	IgnoreCache bool    `json:"ignore_cache,omitempty" jsonschema:"bypass the HTTP cache"`
	Timeout     float64 `json:"timeout,omitempty" jsonschema:"seconds to wait for the reload"`
}

func (in refreshInput) requested() time.Duration { return seconds(in.Timeout) }

type waitLoadInput struct {
	TabID     string  `json:"tab_id" jsonschema:"tab identifier"`
	WaitUntil string  `json:"wait_until,omitempty" jsonschema:"load (default), domcontentloaded or networkidle"`
	Timeout   float64 `json:"timeout,omitempty" jsonschema:"seconds to wait"`
}

func (in waitLoadInput) requested() time.Duration { return seconds(in.Timeout) }

type sourceInput struct {
	TabID     string `json:"tab_id" jsonschema:"tab identifier"`
	MaxLength int    `json:"max_length,omitempty" jsonschema:"truncate the source after this many characters (default 20000)"`
}

type screenshotInput struct {
	TabID     string `json:"tab_id" jsonschema:"tab identifier"`
	ElementID string `json:"element_id,omitempty" jsonschema:"capture only this element"`
	FullPage  bool   `json:"full_page,omitempty" jsonschema:"capture the whole scrollable page"`
	Format    string `json:"format,omitempty" jsonschema:"png (default), jpeg or webp"`
	Quality   int    `json:"quality,omitempty" jsonschema:"jpeg/webp quality 0-100"`
	SavePath  string `json:"save_path,omitempty" jsonschema:"write the image to this file instead of returning it"`
}

type pdfInput struct {
	TabID           string  `json:"tab_id" jsonschema:"tab identifier"`
	FilePath        string  `json:"file_path,omitempty" jsonschema:"write the PDF to this file instead of returning it base64 encoded"`
	Landscape       bool    `json:"landscape,omitempty" jsonschema:"landscape orientation"`
	PrintBackground bool    `json:"print_background,omitempty" jsonschema:"print background graphics"`
	Scale           float64 `json:"scale,omitempty" jsonschema:"rendering scale 0.1-2 (default 1)"`
}

func (s *Server) registerPageTools() {
	addTool(s, "navigate", "Navigate a tab and wait until the page reaches the wait_until condition.",
		func(ctx context.Context, in navigateInput) (interface{}, error) {
			if err := required("tab_id", in.TabID, "url", in.URL); err != nil {
				return nil, err
			}
			w, err := schemas.ParseWaitUntil(in.WaitUntil)
			if err != nil {
				return nil, err
			}
			return s.mgr.Navigate(ctx, in.TabID, in.URL, w, seconds(in.Timeout))
		})

	addTool(s, "go_back", "Go back one entry in the tab's history.",
		func(ctx context.Context, in historyInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			return s.mgr.GoBack(ctx, in.TabID, seconds(in.Timeout))
		})

	addTool(s, "go_forward", "Go forward one entry in the tab's history.",
		func(ctx context.Context, in historyInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			return s.mgr.GoForward(ctx, in.TabID, seconds(in.Timeout))
		})

	addTool(s, "refresh_page", "Reload the tab's page.",
		func(ctx context.Context, in refreshInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			return s.mgr.Refresh(ctx, in.TabID, in.IgnoreCache, seconds(in.Timeout))
		})

	addTool(s, "wait_for_page_load", "Wait until the tab's current document reaches the wait_until condition.",
		func(ctx context.Context, in waitLoadInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			w, err := schemas.ParseWaitUntil(in.WaitUntil)
			if err != nil {
				return nil, err
			}
			return s.mgr.WaitForPageLoad(ctx, in.TabID, w, seconds(in.Timeout))
		})

	addTool(s, "get_page_title", "Return the document title.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			title, err := s.mgr.Title(ctx, in.TabID)
			if err != nil {
				return nil, err
			}
			return map[string]string{"tab_id": in.TabID, "title": title}, nil
		})

	addTool(s, "get_page_url", "Return the tab's current URL.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			url, err := s.mgr.URL(ctx, in.TabID)
			if err != nil {
				return nil, err
			}
			return map[string]string{"tab_id": in.TabID, "url": url}, nil
		})

	addTool(s, "get_page_source", "Return the serialized document, truncated to max_length characters.",
		func(ctx context.Context, in sourceInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			if in.MaxLength < 0 {
				return nil, invalid("max_length must not be negative")
			}
			src, err := s.mgr.Source(ctx, in.TabID)
			if err != nil {
				return nil, err
			}
			limit := in.MaxLength
			if limit == 0 {
				limit = defaultSourceLimit
			}
			out, truncated := truncate(src, limit)
			return map[string]interface{}{
				"tab_id":    in.TabID,
				"source":    out,
				"length":    utf8.RuneCountInString(src),
				"truncated": truncated,
			}, nil
		})

	addTool(s, "take_screenshot", "Capture the viewport, the full page or one element.",
		func(ctx context.Context, in screenshotInput) (interface{}, error) {
			return s.screenshot(ctx, in)
		})

	addTool(s, "save_pdf", "Print the tab's document as PDF.",
		func(ctx context.Context, in pdfInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			data, err := s.mgr.PDF(ctx, in.TabID, schemas.PDFOptions{
				Landscape:       in.Landscape,
				PrintBackground: in.PrintBackground,
				Scale:           in.Scale,
			})
			if err != nil {
				return nil, err
			}
			if in.FilePath == "" {
				return map[string]interface{}{
					"tab_id": in.TabID,
					"size":   len(data),
					"data":   base64.StdEncoding.EncodeToString(data),
				}, nil
			}
			path, err := saveArtifact(in.FilePath, data)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "path": path, "size": len(data)}, nil
		})
}

func (s *Server) screenshot(ctx context.Context, in screenshotInput) (interface{}, error) {
	if err := required("tab_id", in.TabID); err != nil {
		return nil, err
	}
	opts := schemas.ScreenshotOptions{Format: in.Format, Quality: in.Quality, FullPage: in.FullPage}
	if in.ElementID != "" {
		owner, err := s.eng.TabOf(in.ElementID)
		if err != nil {
			return nil, err
		}
		if owner != in.TabID {
			return nil, invalid("element %q belongs to tab %q, not %q", in.ElementID, owner, in.TabID)
		}
		box, err := s.eng.PageBounds(ctx, in.ElementID)
		if err != nil {
			return nil, err
		}
		opts.Clip = &box
	}
	data, err := s.mgr.Screenshot(ctx, in.TabID, opts)
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{"tab_id": in.TabID, "format": formatName(in.Format), "size": len(data)}
	if in.SavePath != "" {
		path, err := saveArtifact(in.SavePath, data)
		if err != nil {
			return nil, err
		}
		meta["path"] = path
		return meta, nil
	}
	return image{data: data, mimeType: "image/" + formatName(in.Format), meta: meta}, nil
}

func formatName(f string) string {
	switch strings.ToLower(f) {
	case "jpg", "jpeg":
		return "jpeg"
	case "webp":
		return "webp"
	}
	return "png"
}

// saveArtifact expands a leading ~ before writing.
func saveArtifact(path string, data []byte) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", invalid("invalid path %q: %v", path, err)
	}
	return browser.WriteArtifact(expanded, data)
}

// truncate cuts s to at most limit runes and appends a notice when it did.
func truncate(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationNotice, true
}
