// internal/browser/dom/interact_test.go
package dom

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport/transporttest"
)

func mouseCalls(t *transporttest.Target) []*input.DispatchMouseEventParams {
	var out []*input.DispatchMouseEventParams
	for _, c := range t.Calls(input.CommandDispatchMouseEvent) {
		out = append(out, c.Params.(*input.DispatchMouseEventParams))
	}
	return out
}

func keyCalls(t *transporttest.Target) []*input.DispatchKeyEventParams {
	var out []*input.DispatchKeyEventParams
	for _, c := range t.Calls(input.CommandDispatchKeyEvent) {
		out = append(out, c.Params.(*input.DispatchKeyEventParams))
	}
	return out
}

func TestClick(t *testing.T) {
	f := newEngineFixture(t, transporttest.El("button", "id", "go"))
	ctx := context.Background()
	id := f.find(t, "#go")

	require.NoError(t, f.eng.Click(ctx, id, ClickOptions{Button: "right", ClickCount: 2, XOffset: 5, YOffset: -5}))

	calls := mouseCalls(f.target)
	require.Len(t, calls, 3)
	assert.Equal(t, input.MouseMoved, calls[0].Type)
	assert.Equal(t, input.MousePressed, calls[1].Type)
	assert.Equal(t, input.MouseReleased, calls[2].Type)
	// Default box is 10,20 100x40, so the center is 60,40.
	for _, c := range calls {
		assert.Equal(t, 65.0, c.X)
		assert.Equal(t, 35.0, c.Y)
	}
	assert.Equal(t, input.MouseButton("right"), calls[1].Button)
	assert.Equal(t, int64(2), calls[1].ClickCount)
	assert.Equal(t, int64(2), calls[1].Buttons)

	// The element is brought into view before measuring.
	assert.Equal(t, []cdp.BackendNodeID{f.page.Find("go").BackendID}, f.page.Scrolls)

	err := f.eng.Click(ctx, id, ClickOptions{Button: "back"})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	err = f.eng.Click(ctx, id, ClickOptions{ClickCount: -1})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}

func TestClick_ReleasesButtonWhenAborted(t *testing.T) {
	f := newEngineFixture(t, transporttest.El("button", "id", "go"))
	id := f.find(t, "#go")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.eng.Click(ctx, id, ClickOptions{HoldTime: time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	calls := mouseCalls(f.target)
	require.Len(t, calls, 3)
	assert.Equal(t, input.MousePressed, calls[1].Type)
	assert.Equal(t, input.MouseReleased, calls[2].Type)
	assert.Equal(t, int64(0), calls[2].Buttons)
}

func TestClick_EmptyBox(t *testing.T) {
	hidden := transporttest.El("a", "id", "ghost")
	hidden.Bounds = schemas.ElementBounds{}
	f := newEngineFixture(t, hidden)

	err := f.eng.Click(context.Background(), f.find(t, "#ghost"), ClickOptions{})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	assert.Empty(t, mouseCalls(f.target))
}

func TestClickJS(t *testing.T) {
	f := newEngineFixture(t, transporttest.El("button", "id", "go"))
	require.NoError(t, f.eng.ClickJS(context.Background(), f.find(t, "#go")))
	assert.Equal(t, 1, f.page.Clicks[f.page.Find("go").BackendID])
	assert.Empty(t, mouseCalls(f.target))
}

func TestTypeText(t *testing.T) {
	in := transporttest.El("input", "id", "q")
	in.Props["value"] = "old"
	f := newEngineFixture(t, in)
	ctx := context.Background()
	id := f.find(t, "#q")
	backend := f.page.Find("q").BackendID

	require.NoError(t, f.eng.TypeText(ctx, id, "hello", TypeOptions{}))
	inserts := f.target.Calls(input.CommandInsertText)
	require.Len(t, inserts, 1)
	assert.Equal(t, "hello", inserts[0].Params.(*input.InsertTextParams).Text)
	assert.Equal(t, backend, f.page.Focused)
	assert.Empty(t, f.page.Cleared)

	require.NoError(t, f.eng.TypeText(ctx, id, "ab", TypeOptions{ClearFirst: true, Delay: 1}))
	assert.Equal(t, []cdp.BackendNodeID{backend}, f.page.Cleared)
	keys := keyCalls(f.target)
	require.Len(t, keys, 4)
	assert.Equal(t, input.KeyDown, keys[0].Type)
	assert.Equal(t, "a", keys[0].Text)
	assert.Equal(t, "KeyA", keys[0].Code)
	assert.Equal(t, input.KeyUp, keys[1].Type)
	assert.Equal(t, "b", keys[2].Key)

	require.NoError(t, f.eng.ClearText(ctx, id))
	assert.Len(t, f.page.Cleared, 2)
}

func TestPressKey(t *testing.T) {
	f := newEngineFixture(t, transporttest.El("textarea", "id", "t"))
	ctx := context.Background()
	id := f.find(t, "#t")

	require.NoError(t, f.eng.PressKey(ctx, KeyTarget{ElementID: id}, "Enter", nil))
	keys := keyCalls(f.target)
	require.Len(t, keys, 2)
	assert.Equal(t, "Enter", keys[0].Key)
	assert.Equal(t, "\r", keys[0].Text)
	assert.Equal(t, int64(13), keys[0].WindowsVirtualKeyCode)
	assert.Equal(t, f.page.Find("t").BackendID, f.page.Focused)

	// A shortcut suppresses the character.
	require.NoError(t, f.eng.PressKey(ctx, KeyTarget{TabID: f.tab.ID}, "a", []string{"ctrl", "shift"}))
	keys = keyCalls(f.target)[2:]
	require.Len(t, keys, 2)
	assert.Equal(t, input.KeyRawDown, keys[0].Type)
	assert.Empty(t, keys[0].Text)
	assert.Equal(t, input.ModifierCtrl|input.ModifierShift, keys[0].Modifiers)

	require.NoError(t, f.eng.KeyDown(ctx, KeyTarget{TabID: f.tab.ID}, "shift", nil))
	require.NoError(t, f.eng.KeyUp(ctx, KeyTarget{TabID: f.tab.ID}, "Shift", nil))
	keys = keyCalls(f.target)[4:]
	require.Len(t, keys, 2)
	assert.Equal(t, input.KeyRawDown, keys[0].Type)
	assert.Equal(t, input.KeyUp, keys[1].Type)
	assert.Equal(t, "Shift", keys[1].Key)

	err := f.eng.PressKey(ctx, KeyTarget{TabID: f.tab.ID}, "Hyper", nil)
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	err = f.eng.PressKey(ctx, KeyTarget{TabID: f.tab.ID}, "a", []string{"super"})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	err = f.eng.PressKey(ctx, KeyTarget{}, "a", nil)
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	err = f.eng.PressKey(ctx, KeyTarget{TabID: "other", ElementID: id}, "a", nil)
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}

func TestLookupKey(t *testing.T) {
	cases := map[string]string{"esc": "Escape", "RETURN": "Enter", "up": "ArrowUp", "F5": "F5", "space": " ", "7": "7"}
	for in, want := range cases {
		d, err := lookupKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, d.Key, in)
	}
	assert.Equal(t, "Digit7", charKey('7').Code)
	assert.Equal(t, "Enter", charKey('\n').Key)
}

func TestScrollAndHover(t *testing.T) {
	f := newEngineFixture(t, transporttest.El("div", "id", "box"))
	ctx := context.Background()
	id := f.find(t, "#box")
	backend := f.page.Find("box").BackendID

	require.NoError(t, f.eng.Scroll(ctx, id, nil, nil, ""))
	y := 200.0
	require.NoError(t, f.eng.Scroll(ctx, id, nil, &y, "smooth"))
	assert.Equal(t, []cdp.BackendNodeID{backend, backend}, f.page.Scrolls)
	err := f.eng.Scroll(ctx, id, nil, &y, "fast")
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))

	require.NoError(t, f.eng.Hover(ctx, id))
	calls := mouseCalls(f.target)
	require.Len(t, calls, 1)
	assert.Equal(t, input.MouseMoved, calls[0].Type)
	assert.Equal(t, 60.0, calls[0].X)
}

func TestDragAndDrop(t *testing.T) {
	drop := transporttest.El("div", "id", "drop")
	drop.Bounds = schemas.ElementBounds{X: 200, Y: 300, Width: 50, Height: 50}
	f := newEngineFixture(t, transporttest.El("div", "id", "drag"), drop)
	ctx := context.Background()

	require.NoError(t, f.eng.DragAndDrop(ctx, f.find(t, "#drag"), f.find(t, "#drop"), 0, 0))
	calls := mouseCalls(f.target)
	require.Len(t, calls, dragSteps+3)
	assert.Equal(t, input.MousePressed, calls[1].Type)
	assert.Equal(t, 60.0, calls[1].X)
	last := calls[len(calls)-1]
	assert.Equal(t, input.MouseReleased, last.Type)
	assert.Equal(t, 225.0, last.X)
	assert.Equal(t, 325.0, last.Y)
	for _, c := range calls[2 : len(calls)-1] {
		assert.Equal(t, input.MouseMoved, c.Type)
		assert.Equal(t, int64(1), c.Buttons)
	}
}

func TestDragAndDrop_ReleasesButtonWhenAborted(t *testing.T) {
	f := newEngineFixture(t, transporttest.El("div", "id", "drag"), transporttest.El("div", "id", "drop"))
	src, dst := f.find(t, "#drag"), f.find(t, "#drop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.target.Handle(input.CommandDispatchMouseEvent, func(_ context.Context, params, _ interface{}) error {
		if params.(*input.DispatchMouseEventParams).Type == input.MousePressed {
			cancel()
		}
		return nil
	})

	require.Error(t, f.eng.DragAndDrop(ctx, src, dst, 0, 0))
	calls := mouseCalls(f.target)
	require.NotEmpty(t, calls)
	assert.Equal(t, input.MouseReleased, calls[len(calls)-1].Type)
	assert.Equal(t, 60.0, calls[len(calls)-1].X, "released where the button went down")
}

func TestUploadFile(t *testing.T) {
	f := newEngineFixture(t,
		transporttest.El("input", "id", "file", "type", "File"),
		transporttest.El("div", "id", "nope"),
		transporttest.El("input", "id", "text", "type", "text"),
		transporttest.El("input", "id", "untyped"),
	)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	require.NoError(t, f.eng.UploadFile(ctx, f.find(t, "#file"), []string{path}))
	calls := f.target.Calls(cdpdom.CommandSetFileInputFiles)
	require.Len(t, calls, 1)
	params := calls[0].Params.(*cdpdom.SetFileInputFilesParams)
	assert.Equal(t, []string{path}, params.Files)
	assert.Equal(t, f.page.Find("file").BackendID, params.BackendNodeID)

	for _, sel := range []string{"#nope", "#text", "#untyped"} {
		err := f.eng.UploadFile(ctx, f.find(t, sel), []string{path})
		assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument), sel)
	}
	assert.Len(t, f.target.Calls(cdpdom.CommandSetFileInputFiles), 1)
	err := f.eng.UploadFile(ctx, f.find(t, "#file"), []string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	err = f.eng.UploadFile(ctx, f.find(t, "#file"), []string{t.TempDir()})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
	err = f.eng.UploadFile(ctx, f.find(t, "#file"), nil)
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}
