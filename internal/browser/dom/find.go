// internal/browser/dom/find.go
package dom

import (
	"context"
	"fmt"
	"strings"

	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
)

// RootElement names the document itself as the base of a query.
const RootElement = "root"

// scope is where a query runs: the document of a tab or an element in it.
type scope struct {
	tab        *registry.Tab
	ctx        context.Context
	obj        runtime.RemoteObjectID
	group      string
	parentID   string
	nodeName   string
	generation uint64
	seq        uint64
}

func (s *scope) release() {
	(&bound{ctx: s.ctx, group: s.group}).release()
}

// openScope resolves the query base. The generation is captured before any
// node is looked up so that a navigation racing the query is detected when
// the results are registered.
func (e *Engine) openScope(ctx context.Context, tabID, baseID string) (*scope, error) {
	if baseID == "" || baseID == RootElement {
		tab, err := e.reg.RunningTab(tabID)
		if err != nil {
			return nil, err
		}
		s := &scope{tab: tab, ctx: tab.Exec(ctx), group: newGroup(), generation: tab.Generation(), seq: e.lastSeq(tab.ID)}
		root, err := jsexec.EvaluateHandle(s.ctx, "document", s.group)
		if err != nil {
			s.release()
			return nil, err
		}
		if root == nil || root.ObjectID == "" {
			s.release()
			return nil, schemas.NewError(schemas.ErrNotFound, "tab %q has no document", tabID)
		}
		s.obj = root.ObjectID
		return s, nil
	}

	b, err := e.bind(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if tabID != "" && tabID != b.tab.ID {
		b.release()
		return nil, schemas.NewError(schemas.ErrInvalidArgument, "element %q belongs to tab %q, not %q", baseID, b.tab.ID, tabID)
	}
	return &scope{
		tab:        b.tab,
		ctx:        b.ctx,
		obj:        b.obj,
		group:      b.group,
		parentID:   baseID,
		nodeName:   b.el.NodeName,
		generation: b.el.Generation,
		seq:        e.lastSeq(b.tab.ID),
	}, nil
}

// enterFrame moves a scope based on an iframe or frame element into the
// frame's document. Documents of out-of-process (cross-origin) frames are not
// reachable from the tab and are reported as such.
func (s *scope) enterFrame() error {
	if !isFrameElement(s.nodeName) {
		return nil
	}
	node, err := cdpdom.DescribeNode().WithObjectID(s.obj).WithPierce(true).Do(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to describe frame element %q: %w", s.parentID, err)
	}
	if node == nil || node.ContentDocument == nil || node.ContentDocument.BackendNodeID == 0 {
		return schemas.NewError(schemas.ErrInvalidArgument, "frame element %q has no document reachable from this tab (cross-origin frames are not supported)", s.parentID)
	}
	doc, err := jsexec.Resolve(s.ctx, node.ContentDocument.BackendNodeID, s.group)
	if err != nil {
		return err
	}
	s.obj = doc
	return nil
}

func isFrameElement(name string) bool {
	return strings.EqualFold(name, "iframe") || strings.EqualFold(name, "frame")
}

func validateSelector(kind schemas.SelectorType, value string) error {
	if !kind.Valid() {
		return schemas.NewError(schemas.ErrInvalidArgument, "unknown selector type %q (want css, xpath, id, name, tag or class)", kind)
	}
	if value == "" {
		return schemas.NewError(schemas.ErrInvalidArgument, "selector value must not be empty")
	}
	return nil
}

// query runs the selector below the scope and returns handles in document order.
func (s *scope) query(kind schemas.SelectorType, value string) ([]runtime.RemoteObjectID, error) {
	arr, err := jsexec.CallOnHandle(s.ctx, s.obj, jsexec.QueryAll, string(kind), value)
	if err != nil {
		if schemas.IsKind(err, schemas.ErrScript) {
			return nil, schemas.WrapError(schemas.ErrInvalidArgument, err, "invalid %s selector %q", kind, value)
		}
		return nil, err
	}
	if arr == nil || arr.ObjectID == "" {
		return nil, nil
	}
	return jsexec.NodeHandles(s.ctx, arr.ObjectID)
}

// register describes the nodes behind handles and issues references for them.
func (e *Engine) register(s *scope, parentID string, handles []runtime.RemoteObjectID) ([]schemas.ElementInfo, error) {
	refs := make([]registry.NodeRef, 0, len(handles))
	for _, h := range handles {
		node, err := jsexec.Describe(s.ctx, h)
		if err != nil {
			return nil, err
		}
		refs = append(refs, registry.NodeRef{BackendNodeID: node.BackendNodeID, NodeName: node.NodeName})
	}
	els, err := e.reg.RegisterElements(s.tab.ID, s.generation, s.seq, parentID, refs)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.ElementInfo, len(els))
	for i, el := range els {
		out[i] = el.Info()
	}
	return out, nil
}

// FindElements returns references to every element matching the selector
// below baseID (the document when baseID is "root" or empty, the frame's
// document when it is an iframe), in document order. No match is an empty
// result, not an error.
func (e *Engine) FindElements(ctx context.Context, tabID, baseID string, kind schemas.SelectorType, value string) ([]schemas.ElementInfo, error) {
	if err := validateSelector(kind, value); err != nil {
		return nil, err
	}
	s, err := e.openScope(ctx, tabID, baseID)
	if err != nil {
		return nil, err
	}
	defer s.release()
	if err := s.enterFrame(); err != nil {
		return nil, err
	}

	handles, err := s.query(kind, value)
	if err != nil {
		return nil, err
	}
	out, err := e.register(s, s.parentID, handles)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Elements found.",
		zap.String("tab_id", s.tab.ID),
		zap.String("selector_type", string(kind)),
		zap.String("selector", value),
		zap.Int("count", len(out)))
	return out, nil
}

// FindElement returns the first match, or NotFound.
func (e *Engine) FindElement(ctx context.Context, tabID, baseID string, kind schemas.SelectorType, value string) (schemas.ElementInfo, error) {
	if err := validateSelector(kind, value); err != nil {
		return schemas.ElementInfo{}, err
	}
	s, err := e.openScope(ctx, tabID, baseID)
	if err != nil {
		return schemas.ElementInfo{}, err
	}
	defer s.release()
	if err := s.enterFrame(); err != nil {
		return schemas.ElementInfo{}, err
	}

	handles, err := s.query(kind, value)
	if err != nil {
		return schemas.ElementInfo{}, err
	}
	if len(handles) == 0 {
		return schemas.ElementInfo{}, schemas.NewError(schemas.ErrNotFound, "no element matches %s %q", kind, value)
	}
	out, err := e.register(s, s.parentID, handles[:1])
	if err != nil {
		return schemas.ElementInfo{}, err
	}
	return out[0], nil
}

// -- Relationships --

// relatives runs fn (which returns an array of elements) on the element and
// registers the results as scoped to it.
func (e *Engine) relatives(ctx context.Context, elementID, fn string, args ...interface{}) ([]schemas.ElementInfo, error) {
	s, err := e.openScope(ctx, "", elementID)
	if err != nil {
		return nil, err
	}
	defer s.release()

	arr, err := jsexec.CallOnHandle(s.ctx, s.obj, fn, args...)
	if err != nil {
		return nil, err
	}
	if arr == nil || arr.ObjectID == "" {
		return []schemas.ElementInfo{}, nil
	}
	handles, err := jsexec.NodeHandles(s.ctx, arr.ObjectID)
	if err != nil {
		return nil, err
	}
	return e.register(s, elementID, handles)
}

// Parent returns a reference to the element's parent element.
func (e *Engine) Parent(ctx context.Context, elementID string) (schemas.ElementInfo, error) {
	s, err := e.openScope(ctx, "", elementID)
	if err != nil {
		return schemas.ElementInfo{}, err
	}
	defer s.release()

	parent, err := jsexec.CallOnHandle(s.ctx, s.obj, jsexec.Parent)
	if err != nil {
		return schemas.ElementInfo{}, err
	}
	if parent == nil || parent.ObjectID == "" {
		return schemas.ElementInfo{}, schemas.NewError(schemas.ErrNotFound, "element %q has no parent element", elementID)
	}
	out, err := e.register(s, elementID, []runtime.RemoteObjectID{parent.ObjectID})
	if err != nil {
		return schemas.ElementInfo{}, err
	}
	return out[0], nil
}

// Children returns the element's child elements, optionally filtered by a
// CSS selector.
func (e *Engine) Children(ctx context.Context, elementID, selector string) ([]schemas.ElementInfo, error) {
	return e.relatives(ctx, elementID, jsexec.Children, selector)
}

// Siblings returns the other children of the element's parent, optionally
// filtered by a CSS selector.
func (e *Engine) Siblings(ctx context.Context, elementID, selector string) ([]schemas.ElementInfo, error) {
	return e.relatives(ctx, elementID, jsexec.Siblings, selector)
}
