// internal/browser/dom/keys.go
package dom

import (
	"strings"
	"unicode"

	"github.com/chromedp/cdproto/input"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// keyDef is what Input.dispatchKeyEvent needs to reproduce a physical key.
type keyDef struct {
	Key     string
	Code    string
	KeyCode int64
	Text    string
}

var namedKeys = map[string]keyDef{
	"enter":      {"Enter", "Enter", 13, "\r"},
	"tab":        {"Tab", "Tab", 9, ""},
	"escape":     {"Escape", "Escape", 27, ""},
	"backspace":  {"Backspace", "Backspace", 8, ""},
	"delete":     {"Delete", "Delete", 46, ""},
	"insert":     {"Insert", "Insert", 45, ""},
	"space":      {" ", "Space", 32, " "},
	"arrowup":    {"ArrowUp", "ArrowUp", 38, ""},
	"arrowdown":  {"ArrowDown", "ArrowDown", 40, ""},
	"arrowleft":  {"ArrowLeft", "ArrowLeft", 37, ""},
	"arrowright": {"ArrowRight", "ArrowRight", 39, ""},
	"home":       {"Home", "Home", 36, ""},
	"end":        {"End", "End", 35, ""},
	"pageup":     {"PageUp", "PageUp", 33, ""},
	"pagedown":   {"PageDown", "PageDown", 34, ""},
	"shift":      {"Shift", "ShiftLeft", 16, ""},
	"control":    {"Control", "ControlLeft", 17, ""},
	"alt":        {"Alt", "AltLeft", 18, ""},
	"meta":       {"Meta", "MetaLeft", 91, ""},
	"capslock":   {"CapsLock", "CapsLock", 20, ""},
	"f1":         {"F1", "F1", 112, ""},
	"f2":         {"F2", "F2", 113, ""},
	"f3":         {"F3", "F3", 114, ""},
	"f4":         {"F4", "F4", 115, ""},
	"f5":         {"F5", "F5", 116, ""},
	"f6":         {"F6", "F6", 117, ""},
	"f7":         {"F7", "F7", 118, ""},
	"f8":         {"F8", "F8", 119, ""},
	"f9":         {"F9", "F9", 120, ""},
	"f10":        {"F10", "F10", 121, ""},
	"f11":        {"F11", "F11", 122, ""},
	"f12":        {"F12", "F12", 123, ""},
}

var keyAliases = map[string]string{
	"return":  "enter",
	"esc":     "escape",
	"del":     "delete",
	"up":      "arrowup",
	"down":    "arrowdown",
	"left":    "arrowleft",
	"right":   "arrowright",
	"ctrl":    "control",
	"cmd":     "meta",
	"command": "meta",
	"option":  "alt",
}

var shiftedPunct = map[rune]struct {
	code    string
	keyCode int64
}{
	' ': {"Space", 32}, '-': {"Minus", 189}, '=': {"Equal", 187}, '[': {"BracketLeft", 219},
	']': {"BracketRight", 221}, '\\': {"Backslash", 220}, ';': {"Semicolon", 186}, '\'': {"Quote", 222},
	',': {"Comma", 188}, '.': {"Period", 190}, '/': {"Slash", 191}, '`': {"Backquote", 192},
}

// lookupKey maps a key name ("Enter", "esc", "a", "F5") to its definition.
func lookupKey(name string) (keyDef, error) {
	if r := []rune(name); len(r) == 1 {
		return charKey(r[0]), nil
	}
	n := strings.ToLower(name)
	if alias, ok := keyAliases[n]; ok {
		n = alias
	}
	if d, ok := namedKeys[n]; ok {
		return d, nil
	}
	return keyDef{}, schemas.NewError(schemas.ErrInvalidArgument, "unknown key %q", name)
}

// charKey builds the definition of a key that produces r.
func charKey(r rune) keyDef {
	s := string(r)
	switch {
	case r == '\n' || r == '\r':
		return namedKeys["enter"]
	case r == '\t':
		return namedKeys["tab"]
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		up := unicode.ToUpper(r)
		return keyDef{Key: s, Code: "Key" + string(up), KeyCode: int64(up), Text: s}
	case r >= '0' && r <= '9':
		return keyDef{Key: s, Code: "Digit" + s, KeyCode: int64(r), Text: s}
	}
	if p, ok := shiftedPunct[r]; ok {
		return keyDef{Key: s, Code: p.code, KeyCode: p.keyCode, Text: s}
	}
	return keyDef{Key: s, Text: s}
}

// cdpModifiers converts the modifier bitmask into the protocol's.
func cdpModifiers(m schemas.KeyModifier) input.Modifier {
	var out input.Modifier
	if m&schemas.ModAlt != 0 {
		out |= input.ModifierAlt
	}
	if m&schemas.ModCtrl != 0 {
		out |= input.ModifierCtrl
	}
	if m&schemas.ModMeta != 0 {
		out |= input.ModifierMeta
	}
	if m&schemas.ModShift != 0 {
		out |= input.ModifierShift
	}
	return out
}

// keyEvent builds one key transition. A held Ctrl, Alt or Meta suppresses
// text so shortcuts do not insert characters.
func keyEvent(typ input.KeyType, d keyDef, mods schemas.KeyModifier) *input.DispatchKeyEventParams {
	text := d.Text
	if mods&(schemas.ModCtrl|schemas.ModAlt|schemas.ModMeta) != 0 {
		text = ""
	}
	if typ == input.KeyDown && text == "" {
		typ = input.KeyRawDown
	}
	p := input.DispatchKeyEvent(typ).
		WithKey(d.Key).
		WithModifiers(cdpModifiers(mods))
	if d.Code != "" {
		p = p.WithCode(d.Code)
	}
	if d.KeyCode != 0 {
		p = p.WithWindowsVirtualKeyCode(d.KeyCode).WithNativeVirtualKeyCode(d.KeyCode)
	}
	if typ != input.KeyUp && text != "" {
		p = p.WithText(text).WithUnmodifiedText(text)
	}
	return p
}
