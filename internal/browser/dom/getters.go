// internal/browser/dom/getters.go
package dom

import (
	"context"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
)

// The getters read element state without issuing references.

// Text returns the element's rendered text.
func (e *Engine) Text(ctx context.Context, elementID string) (string, error) {
	var s string
	err := e.call(ctx, elementID, jsexec.Text, &s)
	return s, err
}

// Attribute returns an attribute value and whether the attribute is present.
func (e *Engine) Attribute(ctx context.Context, elementID, name string) (string, bool, error) {
	if name == "" {
		return "", false, schemas.NewError(schemas.ErrInvalidArgument, "attribute name must not be empty")
	}
	var v *string
	if err := e.call(ctx, elementID, jsexec.Attribute, &v, name); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Property returns a JSON copy of element[name], nil when undefined.
func (e *Engine) Property(ctx context.Context, elementID, name string) (interface{}, error) {
	if name == "" {
		return nil, schemas.NewError(schemas.ErrInvalidArgument, "property name must not be empty")
	}
	var v interface{}
	err := e.call(ctx, elementID, jsexec.Property, &v, name)
	return v, err
}

// HTML returns the element's outer or inner HTML.
func (e *Engine) HTML(ctx context.Context, elementID string, outer bool) (string, error) {
	var s string
	err := e.call(ctx, elementID, jsexec.HTML, &s, outer)
	return s, err
}

// Bounds returns the element's border box relative to the viewport.
func (e *Engine) Bounds(ctx context.Context, elementID string) (schemas.ElementBounds, error) {
	var b schemas.ElementBounds
	err := e.call(ctx, elementID, jsexec.Bounds, &b)
	return b, err
}

// PageBounds returns the element's border box relative to the document, the
// coordinate space of screenshot clips.
func (e *Engine) PageBounds(ctx context.Context, elementID string) (schemas.ElementBounds, error) {
	var b schemas.ElementBounds
	err := e.call(ctx, elementID, jsexec.PageBounds, &b)
	return b, err
}

// TabOf returns the tab an element reference belongs to.
func (e *Engine) TabOf(elementID string) (string, error) {
	el, err := e.reg.Element(elementID)
	if err != nil {
		return "", err
	}
	return el.TabID, nil
}

func (e *Engine) predicate(ctx context.Context, elementID, fn string) (bool, error) {
	var ok bool
	err := e.call(ctx, elementID, fn, &ok)
	return ok, err
}

// IsVisible reports whether the element is rendered with a non-empty box.
func (e *Engine) IsVisible(ctx context.Context, elementID string) (bool, error) {
	return e.predicate(ctx, elementID, jsexec.Visible)
}

// IsEnabled reports whether the element is not disabled.
func (e *Engine) IsEnabled(ctx context.Context, elementID string) (bool, error) {
	return e.predicate(ctx, elementID, jsexec.Enabled)
}

// IsSelected reports whether the element is checked or selected.
func (e *Engine) IsSelected(ctx context.Context, elementID string) (bool, error) {
	return e.predicate(ctx, elementID, jsexec.Selected)
}

// IsOnTop reports whether a click at the element's center would reach it.
func (e *Engine) IsOnTop(ctx context.Context, elementID string) (bool, error) {
	return e.predicate(ctx, elementID, jsexec.OnTop)
}

// IsInteractable is visible, enabled and on top.
func (e *Engine) IsInteractable(ctx context.Context, elementID string) (bool, error) {
	b, err := e.bind(ctx, elementID)
	if err != nil {
		return false, err
	}
	defer b.release()
	for _, fn := range []string{jsexec.Visible, jsexec.Enabled, jsexec.OnTop} {
		var ok bool
		if err := jsexec.CallOn(b.ctx, b.obj, fn, &ok); err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
