// internal/browser/registry/element.go
package registry

import (
	"strings"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// Element is an opaque, server-issued handle to a DOM node in one document
// generation of one tab.
type Element struct {
	ID            string
	TabID         string
	SessionID     string
	BackendNodeID cdp.BackendNodeID
	NodeName      string
	Generation    uint64
	// CreatedSeq is the tab's event log position when the reference was issued.
	CreatedSeq uint64
	// ParentID is the reference the query was scoped to, if any.
	ParentID string
}

func (e *Element) clone() *Element {
	c := *e
	return &c
}

// Info is the caller-facing summary.
func (e *Element) Info() schemas.ElementInfo {
	return schemas.ElementInfo{
		ID:       e.ID,
		TabID:    e.TabID,
		ParentID: e.ParentID,
		Tag:      strings.ToLower(e.NodeName),
	}
}
