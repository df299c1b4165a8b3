// internal/browser/pageops.go
package browser

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
)

func setScriptExecutionDisabled(ctx context.Context) error {
	if err := emulation.SetScriptExecutionDisabled(true).Do(ctx); err != nil {
		return fmt.Errorf("failed to disable javascript: %w", err)
	}
	return nil
}

// Title reads document.title and caches it on the tab.
func (m *Manager) Title(ctx context.Context, tabID string) (string, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return "", err
	}
	var title string
	if err := jsexec.Evaluate(tab.Exec(ctx), jsexec.DocumentTitle, &title); err != nil {
		return "", err
	}
	tab.SetTitle(title)
	return title, nil
}

// URL reports the committed URL of the tab's current history entry, falling
// back to the last URL the event pipeline saw.
func (m *Manager) URL(ctx context.Context, tabID string) (string, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return "", err
	}
	var hist page.GetNavigationHistoryReturns
	if err := cdp.Execute(tab.Exec(ctx), page.CommandGetNavigationHistory, nil, &hist); err == nil {
		if i := int(hist.CurrentIndex); i >= 0 && i < len(hist.Entries) && hist.Entries[i].URL != "" {
			return hist.Entries[i].URL, nil
		}
	}
	return tab.URL(), nil
}

// Source returns the serialized document.
func (m *Manager) Source(ctx context.Context, tabID string) (string, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return "", err
	}
	ectx := tab.Exec(ctx)
	root, err := dom.GetDocument().Do(ectx)
	if err != nil {
		return "", fmt.Errorf("failed to read document of tab %q: %w", tabID, err)
	}
	if root == nil {
		return "", schemas.NewError(schemas.ErrNotFound, "tab %q has no document", tabID)
	}
	html, err := dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ectx)
	if err != nil {
		return "", fmt.Errorf("failed to serialize document of tab %q: %w", tabID, err)
	}
	return html, nil
}

func screenshotFormat(f string) (page.CaptureScreenshotFormat, error) {
	switch strings.ToLower(f) {
	case "", "png":
		return page.CaptureScreenshotFormatPng, nil
	case "jpeg", "jpg":
		return page.CaptureScreenshotFormatJpeg, nil
	case "webp":
		return page.CaptureScreenshotFormatWebp, nil
	}
	return "", schemas.NewError(schemas.ErrInvalidArgument, "unsupported screenshot format %q (want png, jpeg or webp)", f)
}

// Screenshot captures the tab's viewport, the whole page, or a clip region.
func (m *Manager) Screenshot(ctx context.Context, tabID string, opts schemas.ScreenshotOptions) ([]byte, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return nil, err
	}
	format, err := screenshotFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	if opts.Quality < 0 || opts.Quality > 100 {
		return nil, schemas.NewError(schemas.ErrInvalidArgument, "quality must be between 0 and 100")
	}

	ectx := tab.Exec(ctx)
	params := page.CaptureScreenshot().WithFormat(format)
	if opts.Quality > 0 && format != page.CaptureScreenshotFormatPng {
		params = params.WithQuality(int64(opts.Quality))
	}

	switch {
	case opts.Clip != nil:
		if opts.Clip.Width <= 0 || opts.Clip.Height <= 0 {
			return nil, schemas.NewError(schemas.ErrInvalidArgument, "element has an empty box and cannot be captured")
		}
		params = params.WithClip(&page.Viewport{
			X: opts.Clip.X, Y: opts.Clip.Y, Width: opts.Clip.Width, Height: opts.Clip.Height, Scale: 1,
		}).WithCaptureBeyondViewport(true)
	case opts.FullPage:
		var metrics page.GetLayoutMetricsReturns
		if err := cdp.Execute(ectx, page.CommandGetLayoutMetrics, nil, &metrics); err != nil {
			return nil, fmt.Errorf("failed to measure page of tab %q: %w", tabID, err)
		}
		if size := metrics.CSSContentSize; size != nil {
			params = params.WithClip(&page.Viewport{
				Width: math.Ceil(size.Width), Height: math.Ceil(size.Height), Scale: 1,
			}).WithCaptureBeyondViewport(true)
		}
	}

	buf, err := params.Do(ectx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture tab %q: %w", tabID, err)
	}
	return buf, nil
}

// PDF prints the tab's document.
func (m *Manager) PDF(ctx context.Context, tabID string, opts schemas.PDFOptions) ([]byte, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return nil, err
	}
	params := page.PrintToPDF().
		WithLandscape(opts.Landscape).
		WithPrintBackground(opts.PrintBackground)
	if opts.Scale != 0 {
		if opts.Scale < 0.1 || opts.Scale > 2 {
			return nil, schemas.NewError(schemas.ErrInvalidArgument, "scale must be between 0.1 and 2")
		}
		params = params.WithScale(opts.Scale)
	}
	buf, _, err := params.Do(tab.Exec(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to print tab %q: %w", tabID, err)
	}
	return buf, nil
}

// WriteArtifact stores a capture on disk, creating parent directories, and
// returns the absolute path.
func WriteArtifact(path string, data []byte) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", schemas.WrapError(schemas.ErrInvalidArgument, err, "invalid path %q", path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", schemas.WrapError(schemas.ErrInvalidArgument, err, "cannot create directory for %q", path)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", schemas.WrapError(schemas.ErrInvalidArgument, err, "cannot write %q", path)
	}
	return abs, nil
}
