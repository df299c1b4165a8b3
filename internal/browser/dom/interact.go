// internal/browser/dom/interact.go
package dom

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
)

// dragSteps is the number of intermediate pointer moves between the drag
// source and the drop point.
const dragSteps = 10

// releaseTimeout bounds the button release sent after an aborted gesture.
const releaseTimeout = 2 * time.Second

// ClickOptions tunes a pointer click.
type ClickOptions struct {
	Button     string // left (default), right or middle
	ClickCount int
	XOffset    float64
	YOffset    float64
	// HoldTime is how long the button stays down. Zero uses the configured default.
	HoldTime time.Duration
}

var buttonMask = map[string]int64{"left": 1, "right": 2, "middle": 4}

func parseButton(b string) (input.MouseButton, int64, error) {
	if b == "" {
		b = "left"
	}
	b = strings.ToLower(b)
	mask, ok := buttonMask[b]
	if !ok {
		return "", 0, schemas.NewError(schemas.ErrInvalidArgument, "unknown mouse button %q (want left, right or middle)", b)
	}
	return input.MouseButton(b), mask, nil
}

func parseBehavior(b string) (string, error) {
	switch b {
	case "":
		return "auto", nil
	case "auto", "smooth", "instant":
		return b, nil
	}
	return "", schemas.NewError(schemas.ErrInvalidArgument, "unknown scroll behavior %q (want auto, smooth or instant)", b)
}

// center scrolls the element into view and returns the viewport point at its
// middle, shifted by the offsets.
func center(b *bound, dx, dy float64) (float64, float64, error) {
	if err := jsexec.CallOn(b.ctx, b.obj, jsexec.ScrollIntoView, nil, "instant"); err != nil {
		return 0, 0, err
	}
	var box schemas.ElementBounds
	if err := jsexec.CallOn(b.ctx, b.obj, jsexec.Bounds, &box); err != nil {
		return 0, 0, err
	}
	if box.Width <= 0 || box.Height <= 0 {
		return 0, 0, schemas.NewError(schemas.ErrInvalidArgument, "element %q has no visible box", b.el.ID)
	}
	x, y := box.Center(dx, dy)
	return x, y, nil
}

func mouse(ctx context.Context, typ input.MouseType, x, y float64, button input.MouseButton, buttons, count int64) error {
	p := input.DispatchMouseEvent(typ, x, y)
	if button != "" {
		p = p.WithButton(button).WithButtons(buttons)
	}
	if count > 0 {
		p = p.WithClickCount(count)
	}
	return p.Do(ctx)
}

// releaseButton lifts a pressed button. It still runs when ctx is done.
func releaseButton(ctx context.Context, x, y float64, button input.MouseButton, count int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return mouse(ctx, input.MouseReleased, x, y, button, 0, count)
}

// -- Pointer --

// Click moves the pointer to the element's center (plus offsets) and presses
// and releases a mouse button there.
func (e *Engine) Click(ctx context.Context, elementID string, opts ClickOptions) error {
	button, mask, err := parseButton(opts.Button)
	if err != nil {
		return err
	}
	count := int64(opts.ClickCount)
	if count < 0 {
		return schemas.NewError(schemas.ErrInvalidArgument, "click_count must not be negative")
	}
	if count == 0 {
		count = 1
	}
	hold := opts.HoldTime
	if hold <= 0 {
		hold = e.cfg.Interaction().ClickHoldTime
	}
	if hold <= 0 {
		hold = defaultClickHold
	}

	b, err := e.bind(ctx, elementID)
	if err != nil {
		return err
	}
	defer b.release()

	x, y, err := center(b, opts.XOffset, opts.YOffset)
	if err != nil {
		return err
	}
	if err := mouse(b.ctx, input.MouseMoved, x, y, "", 0, 0); err != nil {
		return fmt.Errorf("failed to move pointer to element %q: %w", elementID, err)
	}
	if err := mouse(b.ctx, input.MousePressed, x, y, button, mask, count); err != nil {
		return fmt.Errorf("failed to press %s button on element %q: %w", button, elementID, err)
	}
	if err := sleep(ctx, hold); err != nil {
		if rerr := releaseButton(b.ctx, x, y, button, count); rerr != nil {
			e.logger.Warn("Failed to release mouse button after an aborted click.",
				zap.String("element_id", elementID), zap.Error(rerr))
		}
		return err
	}
	if err := mouse(b.ctx, input.MouseReleased, x, y, button, 0, count); err != nil {
		return fmt.Errorf("failed to release %s button on element %q: %w", button, elementID, err)
	}
	e.logger.Debug("Element clicked.",
		zap.String("element_id", elementID),
		zap.String("button", string(button)),
		zap.Float64("x", x), zap.Float64("y", y))
	return nil
}

// ClickJS calls the element's click() method instead of dispatching input.
func (e *Engine) ClickJS(ctx context.Context, elementID string) error {
	return e.call(ctx, elementID, jsexec.ClickJS, nil)
}

// Hover moves the pointer over the element's center.
func (e *Engine) Hover(ctx context.Context, elementID string) error {
	b, err := e.bind(ctx, elementID)
	if err != nil {
		return err
	}
	defer b.release()
	x, y, err := center(b, 0, 0)
	if err != nil {
		return err
	}
	return mouse(b.ctx, input.MouseMoved, x, y, "", 0, 0)
}

// Scroll scrolls the element's content by (x, y) when either is given and
// otherwise scrolls the element into view.
func (e *Engine) Scroll(ctx context.Context, elementID string, x, y *float64, behavior string) error {
	behavior, err := parseBehavior(behavior)
	if err != nil {
		return err
	}
	if x == nil && y == nil {
		return e.call(ctx, elementID, jsexec.ScrollIntoView, nil, behavior)
	}
	var dx, dy float64
	if x != nil {
		dx = *x
	}
	if y != nil {
		dy = *y
	}
	return e.call(ctx, elementID, jsexec.ScrollBy, nil, dx, dy, behavior)
}

// DragAndDrop presses the left button on the source, moves in steps to the
// target's center (plus offsets) and releases there.
func (e *Engine) DragAndDrop(ctx context.Context, sourceID, targetID string, dx, dy float64) error {
	src, err := e.bind(ctx, sourceID)
	if err != nil {
		return err
	}
	defer src.release()
	dst, err := e.bind(ctx, targetID)
	if err != nil {
		return err
	}
	defer dst.release()
	if src.tab.ID != dst.tab.ID {
		return schemas.NewError(schemas.ErrInvalidArgument, "elements %q and %q are on different tabs", sourceID, targetID)
	}

	sx, sy, err := center(src, 0, 0)
	if err != nil {
		return err
	}
	if err := mouse(src.ctx, input.MouseMoved, sx, sy, "", 0, 0); err != nil {
		return err
	}
	if err := mouse(src.ctx, input.MousePressed, sx, sy, input.Left, 1, 1); err != nil {
		return err
	}

	// The target is measured without scrolling so the pressed source stays put.
	var box schemas.ElementBounds
	if err := jsexec.CallOn(dst.ctx, dst.obj, jsexec.Bounds, &box); err != nil {
		_ = releaseButton(src.ctx, sx, sy, input.Left, 1)
		return err
	}
	tx, ty := box.Center(dx, dy)
	for i := 1; i <= dragSteps; i++ {
		f := float64(i) / dragSteps
		x, y := sx+(tx-sx)*f, sy+(ty-sy)*f
		if err := mouse(src.ctx, input.MouseMoved, x, y, input.Left, 1, 0); err != nil {
			_ = releaseButton(src.ctx, x, y, input.Left, 1)
			return err
		}
	}
	if err := mouse(src.ctx, input.MouseReleased, tx, ty, input.Left, 0, 1); err != nil {
		return err
	}
	e.logger.Debug("Element dragged.", zap.String("source_id", sourceID), zap.String("target_id", targetID))
	return nil
}

// -- Keyboard --

// TypeOptions tunes TypeText.
type TypeOptions struct {
	ClearFirst bool
	// Delay between keystrokes. Zero uses the configured default; when both
	// are zero the text is inserted in one step.
	Delay time.Duration
}

// TypeText focuses the element and enters text into it.
func (e *Engine) TypeText(ctx context.Context, elementID, text string, opts TypeOptions) error {
	b, err := e.bind(ctx, elementID)
	if err != nil {
		return err
	}
	defer b.release()

	prep := jsexec.Focus
	if opts.ClearFirst {
		prep = jsexec.Clear
	}
	if err := jsexec.CallOn(b.ctx, b.obj, prep, nil); err != nil {
		return err
	}

	delay := opts.Delay
	if delay <= 0 {
		delay = e.cfg.Interaction().TypeDelay
	}
	if delay <= 0 {
		if err := input.InsertText(text).Do(b.ctx); err != nil {
			return fmt.Errorf("failed to insert text into element %q: %w", elementID, err)
		}
		return nil
	}

	for i, r := range text {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		if err := pressKey(b.ctx, charKey(r), schemas.ModNone); err != nil {
			return fmt.Errorf("failed to type into element %q: %w", elementID, err)
		}
	}
	return nil
}

// ClearText empties an input, textarea or contenteditable element.
func (e *Engine) ClearText(ctx context.Context, elementID string) error {
	return e.call(ctx, elementID, jsexec.Clear, nil)
}

func pressKey(ctx context.Context, d keyDef, mods schemas.KeyModifier) error {
	if err := keyEvent(input.KeyDown, d, mods).Do(ctx); err != nil {
		return err
	}
	return keyEvent(input.KeyUp, d, mods).Do(ctx)
}

// KeyTarget selects where key events go: the focused element of a tab, or an
// element that is focused first.
type KeyTarget struct {
	TabID     string
	ElementID string
}

// keyContext focuses the target element if there is one and returns the
// context key events are dispatched on.
func (e *Engine) keyContext(ctx context.Context, t KeyTarget) (context.Context, func(), error) {
	if t.ElementID == "" {
		if t.TabID == "" {
			return nil, nil, schemas.NewError(schemas.ErrInvalidArgument, "either tab_id or element_id is required")
		}
		tab, err := e.reg.RunningTab(t.TabID)
		if err != nil {
			return nil, nil, err
		}
		return tab.Exec(ctx), func() {}, nil
	}
	b, err := e.bind(ctx, t.ElementID)
	if err != nil {
		return nil, nil, err
	}
	if t.TabID != "" && t.TabID != b.tab.ID {
		b.release()
		return nil, nil, schemas.NewError(schemas.ErrInvalidArgument, "element %q belongs to tab %q, not %q", t.ElementID, b.tab.ID, t.TabID)
	}
	if err := jsexec.CallOn(b.ctx, b.obj, jsexec.Focus, nil); err != nil {
		b.release()
		return nil, nil, err
	}
	return b.ctx, b.release, nil
}

func (e *Engine) keys(ctx context.Context, t KeyTarget, key string, modifiers []string, types ...input.KeyType) error {
	d, err := lookupKey(key)
	if err != nil {
		return err
	}
	mods, err := schemas.ParseModifiers(modifiers)
	if err != nil {
		return err
	}
	kctx, done, err := e.keyContext(ctx, t)
	if err != nil {
		return err
	}
	defer done()
	for _, typ := range types {
		if err := keyEvent(typ, d, mods).Do(kctx); err != nil {
			return fmt.Errorf("failed to dispatch %s for key %q: %w", typ, key, err)
		}
	}
	return nil
}

// PressKey presses and releases a key with the given modifiers held.
func (e *Engine) PressKey(ctx context.Context, t KeyTarget, key string, modifiers []string) error {
	return e.keys(ctx, t, key, modifiers, input.KeyDown, input.KeyUp)
}

// KeyDown presses a key without releasing it.
func (e *Engine) KeyDown(ctx context.Context, t KeyTarget, key string, modifiers []string) error {
	return e.keys(ctx, t, key, modifiers, input.KeyDown)
}

// KeyUp releases a key.
func (e *Engine) KeyUp(ctx context.Context, t KeyTarget, key string, modifiers []string) error {
	return e.keys(ctx, t, key, modifiers, input.KeyUp)
}

// -- Files --

// UploadFile sets the files of an <input type=file> element. Every path must
// name an existing regular file.
func (e *Engine) UploadFile(ctx context.Context, elementID string, paths []string) error {
	if len(paths) == 0 {
		return schemas.NewError(schemas.ErrInvalidArgument, "at least one file path is required")
	}
	files := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return schemas.WrapError(schemas.ErrInvalidArgument, err, "invalid path %q", p)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return schemas.WrapError(schemas.ErrInvalidArgument, err, "cannot read %q", p)
		}
		if !info.Mode().IsRegular() {
			return schemas.NewError(schemas.ErrInvalidArgument, "%q is not a regular file", p)
		}
		files = append(files, abs)
	}

	b, err := e.bind(ctx, elementID)
	if err != nil {
		return err
	}
	defer b.release()
	ok, err := isFileInput(b)
	if err != nil {
		return err
	}
	if !ok {
		return schemas.NewError(schemas.ErrInvalidArgument, "element %q is a <%s>, not a file input", elementID, strings.ToLower(b.el.NodeName))
	}
	if err := cdpdom.SetFileInputFiles(files).WithBackendNodeID(b.el.BackendNodeID).Do(b.ctx); err != nil {
		return fmt.Errorf("failed to set files on element %q: %w", elementID, err)
	}
	e.logger.Debug("Files attached.", zap.String("element_id", elementID), zap.Int("count", len(files)))
	return nil
}

// isFileInput reports whether the element is an <input type="file">.
func isFileInput(b *bound) (bool, error) {
	if !strings.EqualFold(b.el.NodeName, "input") {
		return false, nil
	}
	var typ *string
	if err := jsexec.CallOn(b.ctx, b.obj, jsexec.Attribute, &typ, "type"); err != nil {
		return false, err
	}
	return typ != nil && strings.EqualFold(strings.TrimSpace(*typ), "file"), nil
}
