// internal/browser/pageops_test.go
package browser

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport/transporttest"
)

func TestTitleURLAndSource(t *testing.T) {
	f := newManagerFixture(t, nil)
	target := f.running(t, "s1")
	p := transporttest.NewPage()
	p.Eval = func(expr string) (interface{}, error) {
		if expr == jsexec.DocumentTitle {
			return "Example Domain", nil
		}
		return nil, nil
	}
	p.Install(target)
	target.Handle(dom.CommandGetDocument, func(_ context.Context, _, res interface{}) error {
		res.(*dom.GetDocumentReturns).Root = &cdp.Node{NodeID: 1, NodeName: "#document"}
		return nil
	})
	target.Handle(dom.CommandGetOuterHTML, func(_ context.Context, params, res interface{}) error {
		if params.(*dom.GetOuterHTMLParams).NodeID == 1 {
			res.(*dom.GetOuterHTMLReturns).OuterHTML = "<html><body>hi</body></html>"
		}
		return nil
	})
	ctx := context.Background()

	title, err := f.mgr.Title(ctx, "s1_initial")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", title)
	info, err := f.mgr.TabInfo("s1_initial")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", info.Title)

	// Without history the cached URL is reported.
	url, err := f.mgr.URL(ctx, "s1_initial")
	require.NoError(t, err)
	assert.Equal(t, "about:blank", url)

	target.Handle(page.CommandGetNavigationHistory, historyHandler(0, "https://example.test/#frag"))
	url, err = f.mgr.URL(ctx, "s1_initial")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/#frag", url)

	src, err := f.mgr.Source(ctx, "s1_initial")
	require.NoError(t, err)
	assert.Equal(t, "<html><body>hi</body></html>", src)
}

func TestScreenshot(t *testing.T) {
	f := newManagerFixture(t, nil)
	target := f.running(t, "s1")
	target.Handle(page.CommandCaptureScreenshot, func(_ context.Context, _, res interface{}) error {
		res.(*page.CaptureScreenshotReturns).Data = base64.StdEncoding.EncodeToString([]byte("image-bytes"))
		return nil
	})
	target.Handle(page.CommandGetLayoutMetrics, func(_ context.Context, _, res interface{}) error {
		res.(*page.GetLayoutMetricsReturns).CSSContentSize = &dom.Rect{Width: 800.4, Height: 3000}
		return nil
	})
	ctx := context.Background()

	buf, err := f.mgr.Screenshot(ctx, "s1_initial", schemas.ScreenshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), buf)

	_, err = f.mgr.Screenshot(ctx, "s1_initial", schemas.ScreenshotOptions{Format: "jpeg", Quality: 70, FullPage: true})
	require.NoError(t, err)
	calls := target.Calls(page.CommandCaptureScreenshot)
	require.Len(t, calls, 2)
	params := calls[1].Params.(*page.CaptureScreenshotParams)
	assert.Equal(t, page.CaptureScreenshotFormatJpeg, params.Format)
	assert.Equal(t, int64(70), params.Quality)
	require.NotNil(t, params.Clip)
	assert.Equal(t, 801.0, params.Clip.Width)
	assert.Equal(t, 3000.0, params.Clip.Height)

	_, err = f.mgr.Screenshot(ctx, "s1_initial", schemas.ScreenshotOptions{Clip: &schemas.ElementBounds{X: 5, Y: 6, Width: 10, Height: 20}})
	require.NoError(t, err)
	clip := target.Calls(page.CommandCaptureScreenshot)[2].Params.(*page.CaptureScreenshotParams).Clip
	assert.Equal(t, 5.0, clip.X)
	assert.Equal(t, 20.0, clip.Height)

	_, err = f.mgr.Screenshot(ctx, "s1_initial", schemas.ScreenshotOptions{Format: "gif"})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	_, err = f.mgr.Screenshot(ctx, "s1_initial", schemas.ScreenshotOptions{Clip: &schemas.ElementBounds{}})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}

func TestPDFAndWriteArtifact(t *testing.T) {
	f := newManagerFixture(t, nil)
	target := f.running(t, "s1")
	target.Handle(page.CommandPrintToPDF, func(_ context.Context, _, res interface{}) error {
		res.(*page.PrintToPDFReturns).Data = base64.StdEncoding.EncodeToString([]byte("%PDF-1.7"))
		return nil
	})

	buf, err := f.mgr.PDF(context.Background(), "s1_initial", schemas.PDFOptions{Landscape: true, Scale: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), buf)
	params := target.Calls(page.CommandPrintToPDF)[0].Params.(*page.PrintToPDFParams)
	assert.True(t, params.Landscape)
	assert.Equal(t, 0.5, params.Scale)

	_, err = f.mgr.PDF(context.Background(), "s1_initial", schemas.PDFOptions{Scale: 5})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))

	path := filepath.Join(t.TempDir(), "out", "page.pdf")
	abs, err := WriteArtifact(path, buf)
	require.NoError(t, err)
	got, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestDialogs(t *testing.T) {
	f := newManagerFixture(t, nil)
	target := f.running(t, "s1")
	ctx := context.Background()

	d, err := f.mgr.Dialog("s1_initial")
	require.NoError(t, err)
	assert.Nil(t, d)
	_, err = f.mgr.HandleDialog(ctx, "s1_initial", true, "")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound))

	target.Emit(&page.EventJavascriptDialogOpening{Type: page.DialogTypePrompt, Message: "Name?", DefaultPrompt: "anon"})
	require.Eventually(t, func() bool {
		d, _ := f.mgr.Dialog("s1_initial")
		return d != nil
	}, time.Second, 5*time.Millisecond)

	handled, err := f.mgr.HandleDialog(ctx, "s1_initial", true, "Ada")
	require.NoError(t, err)
	assert.Equal(t, "prompt", handled.Type)
	assert.Equal(t, "Name?", handled.Message)

	calls := target.Calls(page.CommandHandleJavaScriptDialog)
	require.Len(t, calls, 1)
	params := calls[0].Params.(*page.HandleJavaScriptDialogParams)
	assert.True(t, params.Accept)
	assert.Equal(t, "Ada", params.PromptText)

	d, err = f.mgr.Dialog("s1_initial")
	require.NoError(t, err)
	assert.Nil(t, d)
}
