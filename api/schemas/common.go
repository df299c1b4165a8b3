// api/schemas/common.go
package schemas

// -- Input Schemas --

// KeyEventData represents a structured key event, including the main key and active modifiers.
type KeyEventData struct {
	// Key is the primary key pressed (e.g., "a", "Enter", "Tab", "ArrowDown").
	// It is the DOM KeyboardEvent.key value the browser expects.
	Key string
	// Modifiers is a bitmask of active modifiers.
	Modifiers KeyModifier
}

// KeyModifier represents keyboard modifiers (Ctrl, Alt, Shift, Meta).
// These values correspond directly to the CDP input.DispatchKeyEvent modifiers bitfield.
type KeyModifier int

const (
	ModNone  KeyModifier = 0
	ModAlt   KeyModifier = 1 // Corresponds to CDP modifier 1
	ModCtrl  KeyModifier = 2 // Corresponds to CDP modifier 2
	ModMeta  KeyModifier = 4 // Corresponds to CDP modifier 4
	ModShift KeyModifier = 8 // Corresponds to CDP modifier 8
)

// ParseModifiers turns names like "ctrl", "Shift", "cmd" into a bitmask.
func ParseModifiers(names []string) (KeyModifier, error) {
	var m KeyModifier
	for _, n := range names {
		switch n {
		case "alt", "Alt", "option":
			m |= ModAlt
		case "ctrl", "Ctrl", "control", "Control":
			m |= ModCtrl
		case "meta", "Meta", "cmd", "command":
			m |= ModMeta
		case "shift", "Shift":
			m |= ModShift
		default:
			return ModNone, NewError(ErrInvalidArgument, "unknown key modifier %q", n)
		}
	}
	return m, nil
}

// Header is a single name/value HTTP header as accepted by tools.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SelectorType enumerates the supported element query strategies.
type SelectorType string

const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
	SelectorID    SelectorType = "id"
	SelectorName  SelectorType = "name"
	SelectorTag   SelectorType = "tag"
	SelectorClass SelectorType = "class"
)

// Valid reports whether s is one of the enumerated selector types.
func (s SelectorType) Valid() bool {
	switch s {
	case SelectorCSS, SelectorXPath, SelectorID, SelectorName, SelectorTag, SelectorClass:
		return true
	}
	return false
}
