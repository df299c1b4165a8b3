// internal/mcp/tools_element.go
package mcp

import (
	"context"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/dom"
)

// -- Element Inputs --

type findInput struct {
	TabID         string `json:"tab_id" jsonschema:"tab to search"`
	SelectorType  string `json:"selector_type" jsonschema:"css, xpath, id, name, tag or class"`
	SelectorValue string `json:"selector_value" jsonschema:"selector expression"`
	BaseElementID string `json:"base_element_id,omitempty" jsonschema:"search beneath this element; an iframe searches its document; root (default) searches the page"`
}

type elementInput struct {
	ElementID string `json:"element_id" jsonschema:"element reference returned by a find tool"`
}

type relativesInput struct {
	ElementID string `json:"element_id" jsonschema:"element reference"`
	Selector  string `json:"selector,omitempty" jsonschema:"optional CSS filter for the returned elements"`
}

type clickInput struct {
	ElementID  string  `json:"element_id" jsonschema:"element to click"`
	Button     string  `json:"button,omitempty" jsonschema:"left (default), right or middle"`
	ClickCount int     `json:"click_count,omitempty" jsonschema:"number of clicks (default 1)"`
	XOffset    float64 `json:"x_offset,omitempty" jsonschema:"horizontal offset from the element center in CSS pixels"`
	YOffset    float64 `json:"y_offset,omitempty" jsonschema:"vertical offset from the element center in CSS pixels"`
	HoldTime   float64 `json:"hold_time,omitempty" jsonschema:"seconds the button stays pressed"`
}

type typeInput struct {
	ElementID  string `json:"element_id" jsonschema:"element to type into"`
	Text       string `json:"text" jsonschema:"text to enter"`
	ClearFirst bool   `json:"clear_first,omitempty" jsonschema:"clear the current value first"`
	DelayMS    int    `json:"delay_ms,omitempty" jsonschema:"delay between keystrokes in milliseconds"`
}

type keyInput struct {
	Key       string   `json:"key" jsonschema:"key name such as Enter, Tab, ArrowDown or a single character"`
	ElementID string   `json:"element_id,omitempty" jsonschema:"focus this element first"`
	TabID     string   `json:"tab_id,omitempty" jsonschema:"tab receiving the key when no element is given"`
	Modifiers []string `json:"modifiers,omitempty" jsonschema:"held modifiers: ctrl, alt, shift, meta"`
}

func (in keyInput) target() dom.KeyTarget {
	return dom.KeyTarget{TabID: in.TabID, ElementID: in.ElementID}
}

type scrollInput struct {
	ElementID string   `json:"element_id" jsonschema:"element to scroll"`
	X         *float64 `json:"x,omitempty" jsonschema:"pixels to scroll horizontally; scrolls the element into view when x and y are omitted"`
	Y         *float64 `json:"y,omitempty" jsonschema:"pixels to scroll vertically"`
	Behavior  string   `json:"behavior,omitempty" jsonschema:"auto (default), smooth or instant"`
}

type dragInput struct {
	SourceElementID string  `json:"source_element_id" jsonschema:"element to drag"`
	TargetElementID string  `json:"target_element_id" jsonschema:"element to drop onto"`
	XOffset         float64 `json:"x_offset,omitempty" jsonschema:"horizontal offset from the target center"`
	YOffset         float64 `json:"y_offset,omitempty" jsonschema:"vertical offset from the target center"`
}

type uploadInput struct {
	ElementID string   `json:"element_id" jsonschema:"file input element"`
	FilePaths []string `json:"file_paths" jsonschema:"local files to attach"`
}

type attributeInput struct {
	ElementID     string `json:"element_id" jsonschema:"element reference"`
	AttributeName string `json:"attribute_name" jsonschema:"attribute to read"`
}

type propertyInput struct {
	ElementID    string `json:"element_id" jsonschema:"element reference"`
	PropertyName string `json:"property_name" jsonschema:"DOM property to read, e.g. value or checked"`
}

type htmlInput struct {
	ElementID string `json:"element_id" jsonschema:"element reference"`
	Outer     *bool  `json:"outer,omitempty" jsonschema:"outerHTML (default true) or innerHTML"`
}

type waitElementInput struct {
	TabID         string  `json:"tab_id" jsonschema:"tab to watch"`
	SelectorType  string  `json:"selector_type" jsonschema:"css, xpath, id, name, tag or class"`
	SelectorValue string  `json:"selector_value" jsonschema:"selector expression"`
	Timeout       float64 `json:"timeout,omitempty" jsonschema:"seconds to wait"`
	Visible       bool    `json:"visible,omitempty" jsonschema:"also require the element to be visible"`
}

func (in waitElementInput) requested() time.Duration { return seconds(in.Timeout) }

type waitUntilInput struct {
	ElementID string  `json:"element_id" jsonschema:"element reference"`
	Condition string  `json:"condition" jsonschema:"visible, interactable, on_top or enabled"`
	Timeout   float64 `json:"timeout,omitempty" jsonschema:"seconds to wait"`
}

func (in waitUntilInput) requested() time.Duration { return seconds(in.Timeout) }

type waitFunctionInput struct {
	TabID      string  `json:"tab_id" jsonschema:"tab to evaluate in"`
	Expression string  `json:"expression" jsonschema:"JavaScript expression polled until truthy"`
	Timeout    float64 `json:"timeout,omitempty" jsonschema:"seconds to wait"`
	PollingMS  int     `json:"polling_ms,omitempty" jsonschema:"poll interval in milliseconds"`
}

func (in waitFunctionInput) requested() time.Duration { return seconds(in.Timeout) }

type scriptInput struct {
	TabID  string        `json:"tab_id" jsonschema:"tab to run in"`
	Script string        `json:"script" jsonschema:"JavaScript expression, or a function body using return and arguments"`
	Args   []interface{} `json:"args,omitempty" jsonschema:"values passed as arguments"`
}

type elementScriptInput struct {
	ElementID string        `json:"element_id" jsonschema:"element bound as this and arguments[0]"`
	Script    string        `json:"script" jsonschema:"JavaScript function body"`
	Args      []interface{} `json:"args,omitempty" jsonschema:"values passed after the element"`
}

type cleanupInput struct {
	TabID string `json:"tab_id,omitempty" jsonschema:"tab to clean; every tab when omitted"`
}

func elementsResult(infos []schemas.ElementInfo) map[string]interface{} {
	ids := make([]string, 0, len(infos))
	for _, e := range infos {
		ids = append(ids, e.ID)
	}
	if infos == nil {
		infos = []schemas.ElementInfo{}
	}
	return map[string]interface{}{"element_ids": ids, "elements": infos, "count": len(infos)}
}

func boolResult(elementID, name string, v bool) map[string]interface{} {
	return map[string]interface{}{"element_id": elementID, name: v}
}

func (s *Server) registerElementTools() {
	// -- Finding --

	addTool(s, "find_elements", "Find every element matching a selector, in document order.",
		func(ctx context.Context, in findInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			infos, err := s.eng.FindElements(ctx, in.TabID, in.BaseElementID, schemas.SelectorType(in.SelectorType), in.SelectorValue)
			if err != nil {
				return nil, err
			}
			return elementsResult(infos), nil
		})

	addTool(s, "find_element", "Find the first element matching a selector.",
		func(ctx context.Context, in findInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			return s.eng.FindElement(ctx, in.TabID, in.BaseElementID, schemas.SelectorType(in.SelectorType), in.SelectorValue)
		})

	addTool(s, "get_parent_element", "Return the parent of an element.",
		func(ctx context.Context, in elementInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			return s.eng.Parent(ctx, in.ElementID)
		})

	addTool(s, "get_child_elements", "Return the element children of an element, optionally filtered by a CSS selector.",
		func(ctx context.Context, in relativesInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			infos, err := s.eng.Children(ctx, in.ElementID, in.Selector)
			if err != nil {
				return nil, err
			}
			return elementsResult(infos), nil
		})

	addTool(s, "get_sibling_elements", "Return the element siblings of an element, optionally filtered by a CSS selector.",
		func(ctx context.Context, in relativesInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			infos, err := s.eng.Siblings(ctx, in.ElementID, in.Selector)
			if err != nil {
				return nil, err
			}
			return elementsResult(infos), nil
		})

	// -- Interaction --

	addTool(s, "click_element", "Click an element with real mouse events at its center plus offsets.",
		func(ctx context.Context, in clickInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			err := s.eng.Click(ctx, in.ElementID, dom.ClickOptions{
				Button:     in.Button,
				ClickCount: in.ClickCount,
				XOffset:    in.XOffset,
				YOffset:    in.YOffset,
				HoldTime:   seconds(in.HoldTime),
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "clicked": true}, nil
		})

	addTool(s, "click_element_js", "Click an element through element.click() in the page.",
		func(ctx context.Context, in elementInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			if err := s.eng.ClickJS(ctx, in.ElementID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "clicked": true}, nil
		})

	addTool(s, "type_text", "Focus an element and type text into it.",
		func(ctx context.Context, in typeInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			if in.DelayMS < 0 {
				return nil, invalid("delay_ms must not be negative")
			}
			err := s.eng.TypeText(ctx, in.ElementID, in.Text, dom.TypeOptions{ClearFirst: in.ClearFirst, Delay: millis(in.DelayMS)})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "typed": len([]rune(in.Text))}, nil
		})

	addTool(s, "clear_text", "Clear the value of an input, textarea or editable element.",
		func(ctx context.Context, in elementInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			if err := s.eng.ClearText(ctx, in.ElementID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "cleared": true}, nil
		})

	addTool(s, "press_key", "Press and release a key, on an element or on a tab's focused element.",
		func(ctx context.Context, in keyInput) (interface{}, error) {
			if err := s.eng.PressKey(ctx, in.target(), in.Key, in.Modifiers); err != nil {
				return nil, err
			}
			return map[string]interface{}{"key": in.Key, "pressed": true}, nil
		})

	addTool(s, "key_down", "Press a key without releasing it.",
		func(ctx context.Context, in keyInput) (interface{}, error) {
			if err := s.eng.KeyDown(ctx, in.target(), in.Key, in.Modifiers); err != nil {
				return nil, err
			}
			return map[string]interface{}{"key": in.Key, "down": true}, nil
		})

	addTool(s, "key_up", "Release a key.",
		func(ctx context.Context, in keyInput) (interface{}, error) {
			if err := s.eng.KeyUp(ctx, in.target(), in.Key, in.Modifiers); err != nil {
				return nil, err
			}
			return map[string]interface{}{"key": in.Key, "down": false}, nil
		})

	addTool(s, "hover_element", "Move the mouse over an element.",
		func(ctx context.Context, in elementInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			if err := s.eng.Hover(ctx, in.ElementID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "hovered": true}, nil
		})

	addTool(s, "scroll_element", "Scroll an element into view, or scroll its content by x and y pixels.",
		func(ctx context.Context, in scrollInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			if err := s.eng.Scroll(ctx, in.ElementID, in.X, in.Y, in.Behavior); err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "scrolled": true}, nil
		})

	addTool(s, "drag_and_drop", "Drag one element onto another with mouse events.",
		func(ctx context.Context, in dragInput) (interface{}, error) {
			if err := required("source_element_id", in.SourceElementID, "target_element_id", in.TargetElementID); err != nil {
				return nil, err
			}
			if err := s.eng.DragAndDrop(ctx, in.SourceElementID, in.TargetElementID, in.XOffset, in.YOffset); err != nil {
				return nil, err
			}
			return map[string]interface{}{"source_element_id": in.SourceElementID, "target_element_id": in.TargetElementID, "dropped": true}, nil
		})

	addTool(s, "upload_file", "Attach local files to a file input element.",
		func(ctx context.Context, in uploadInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			paths := make([]string, 0, len(in.FilePaths))
			for _, p := range in.FilePaths {
				expanded, err := homedir.Expand(p)
				if err != nil {
					return nil, invalid("invalid path %q: %v", p, err)
				}
				paths = append(paths, expanded)
			}
			if err := s.eng.UploadFile(ctx, in.ElementID, paths); err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "files": len(paths)}, nil
		})

	// -- Getters --

	addTool(s, "get_element_text", "Return the element's rendered text.",
		func(ctx context.Context, in elementInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			text, err := s.eng.Text(ctx, in.ElementID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "text": text}, nil
		})

	addTool(s, "get_element_attribute", "Return an attribute value; present is false when the attribute is absent.",
		func(ctx context.Context, in attributeInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			v, ok, err := s.eng.Attribute(ctx, in.ElementID, in.AttributeName)
			if err != nil {
				return nil, err
			}
			out := map[string]interface{}{"element_id": in.ElementID, "attribute": in.AttributeName, "present": ok, "value": nil}
			if ok {
				out["value"] = v
			}
			return out, nil
		})

	addTool(s, "get_element_property", "Return a DOM property value.",
		func(ctx context.Context, in propertyInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			v, err := s.eng.Property(ctx, in.ElementID, in.PropertyName)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "property": in.PropertyName, "value": v}, nil
		})

	addTool(s, "get_element_html", "Return the element's outer or inner HTML.",
		func(ctx context.Context, in htmlInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			outer := in.Outer == nil || *in.Outer
			html, err := s.eng.HTML(ctx, in.ElementID, outer)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "html": html, "outer": outer}, nil
		})

	addTool(s, "get_element_bounds", "Return the element's border box relative to the viewport.",
		func(ctx context.Context, in elementInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			return s.eng.Bounds(ctx, in.ElementID)
		})

	predicates := []struct {
		name, field, desc string
		fn                func(context.Context, string) (bool, error)
	}{
		{"is_element_visible", "visible", "Report whether the element is rendered and visible.", s.eng.IsVisible},
		{"is_element_enabled", "enabled", "Report whether the element is enabled.", s.eng.IsEnabled},
		{"is_element_selected", "selected", "Report whether a checkbox, radio or option is selected.", s.eng.IsSelected},
		{"is_element_on_top", "on_top", "Report whether the element is the topmost element at its center.", s.eng.IsOnTop},
		{"is_element_interactable", "interactable", "Report whether the element is visible, enabled and on top.", s.eng.IsInteractable},
	}
	for _, p := range predicates {
		p := p
		addTool(s, p.name, p.desc, func(ctx context.Context, in elementInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			v, err := p.fn(ctx, in.ElementID)
			if err != nil {
				return nil, err
			}
			return boolResult(in.ElementID, p.field, v), nil
		})
	}

	// -- Waits --

	addTool(s, "wait_for_element", "Wait until an element matching the selector exists (and is visible when requested).",
		func(ctx context.Context, in waitElementInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			return s.eng.WaitForElement(ctx, in.TabID, schemas.SelectorType(in.SelectorType), in.SelectorValue, in.Visible,
				dom.WaitOptions{Timeout: seconds(in.Timeout)})
		})

	addTool(s, "element_wait_until", "Wait until an element satisfies a condition.",
		func(ctx context.Context, in waitUntilInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			if err := s.eng.ElementWaitUntil(ctx, in.ElementID, in.Condition, dom.WaitOptions{Timeout: seconds(in.Timeout)}); err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "condition": in.Condition, "satisfied": true}, nil
		})

	addTool(s, "wait_for_function", "Poll a JavaScript expression until it returns a truthy value.",
		func(ctx context.Context, in waitFunctionInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			if in.PollingMS < 0 {
				return nil, invalid("polling_ms must not be negative")
			}
			v, err := s.eng.WaitForFunction(ctx, in.TabID, in.Expression,
				dom.WaitOptions{Timeout: seconds(in.Timeout), PollInterval: millis(in.PollingMS)})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "result": v}, nil
		})

	// -- Scripts --

	addTool(s, "execute_script", "Run JavaScript in the page and return its JSON-serializable result.",
		func(ctx context.Context, in scriptInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			v, err := s.eng.ExecuteScript(ctx, in.TabID, in.Script, in.Args)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "result": v}, nil
		})

	addTool(s, "execute_script_on_element", "Run JavaScript with an element bound as this and arguments[0].",
		func(ctx context.Context, in elementScriptInput) (interface{}, error) {
			if err := required("element_id", in.ElementID); err != nil {
				return nil, err
			}
			v, err := s.eng.ExecuteScriptOnElement(ctx, in.ElementID, in.Script, in.Args)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"element_id": in.ElementID, "result": v}, nil
		})

	addTool(s, "cleanup_elements", "Drop element references of one tab, or of every tab.",
		func(ctx context.Context, in cleanupInput) (interface{}, error) {
			n, err := s.eng.CleanupElements(in.TabID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"removed": n}, nil
		})
}
