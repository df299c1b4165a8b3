// internal/browser/transport/transporttest/page.go
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
)

// Node is one element of a fake document.
type Node struct {
	BackendID cdp.BackendNodeID
	Name      string
	Attrs     map[string]string
	Text      string
	Props     map[string]interface{}
	Bounds    schemas.ElementBounds
	Hidden    bool
	Disabled  bool
	Selected  bool
	Covered   bool
	Children  []*Node
	// Frame is the document of an iframe element. Nil models a frame whose
	// document lives in another process.
	Frame *Node

	parent   *Node
	detached bool
}

// El builds a node. attrs are alternating key/value pairs.
func El(name string, attrs ...string) *Node {
	n := &Node{Name: strings.ToUpper(name), Attrs: map[string]string{}, Props: map[string]interface{}{}}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attrs[attrs[i]] = attrs[i+1]
	}
	n.Bounds = schemas.ElementBounds{X: 10, Y: 20, Width: 100, Height: 40}
	return n
}

// With appends children and returns n.
func (n *Node) With(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// WithFrame gives n a frame document with the given body and returns n.
func (n *Node) WithFrame(body ...*Node) *Node {
	n.Frame = El("#document").With(El("html").With(El("body").With(body...)))
	return n
}

// WithText sets the text and returns n.
func (n *Node) WithText(s string) *Node {
	n.Text = s
	return n
}

// Page models just enough of a document and its JavaScript runtime to answer
// the commands the element engine sends.
type Page struct {
	mu      sync.Mutex
	doc     *Node
	byID    map[cdp.BackendNodeID]*Node
	next    cdp.BackendNodeID
	arrays  map[string][]*Node
	nextArr int

	// Eval answers Runtime.evaluate for anything but "document".
	Eval func(expr string) (interface{}, error)
	// Script answers callFunctionOn for declarations the page does not know.
	Script func(fn string, this *Node, args []interface{}) (interface{}, error)

	Clicks  map[cdp.BackendNodeID]int
	Focused cdp.BackendNodeID
	Cleared []cdp.BackendNodeID
	Scrolls []cdp.BackendNodeID
}

// NewPage creates a page with the given body content.
func NewPage(body ...*Node) *Page {
	p := &Page{}
	p.Replace(body...)
	return p
}

// Replace swaps in a brand new document, as a navigation would. Handles to
// the old document stop resolving.
func (p *Page) Replace(body ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[cdp.BackendNodeID]*Node)
	p.arrays = make(map[string][]*Node)
	p.Clicks = make(map[cdp.BackendNodeID]int)
	p.doc = El("#document").With(El("html").With(El("body").With(body...)))
	p.index(p.doc, nil)
}

func (p *Page) index(n, parent *Node) {
	p.next++
	n.BackendID = p.next
	n.parent = parent
	p.byID[n.BackendID] = n
	for _, c := range n.Children {
		p.index(c, n)
	}
	if n.Frame != nil {
		p.index(n.Frame, nil)
	}
}

// Find returns the first node with attribute id=value.
func (p *Page) Find(id string) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	var found *Node
	walk(p.doc, func(n *Node) bool {
		if n.Attrs["id"] == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Detach removes n from the tree; handles still resolve but report disconnected.
func (p *Page) Detach(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.parent != nil {
		kids := n.parent.Children[:0]
		for _, c := range n.parent.Children {
			if c != n {
				kids = append(kids, c)
			}
		}
		n.parent.Children = kids
	}
	walk(n, func(d *Node) bool { d.detached = true; return true })
}

// Destroy removes n and forgets it, so its backend id no longer resolves.
func (p *Page) Destroy(n *Node) {
	p.Detach(n)
	p.mu.Lock()
	defer p.mu.Unlock()
	walk(n, func(d *Node) bool { delete(p.byID, d.BackendID); return true })
}

// Install registers the page's handlers on t.
func (p *Page) Install(t *Target) {
	t.Handle(runtime.CommandEvaluate, p.evaluate)
	t.Handle(dom.CommandResolveNode, p.resolveNode)
	t.Handle(runtime.CommandCallFunctionOn, p.callFunctionOn)
	t.Handle(runtime.CommandGetProperties, p.getProperties)
	t.Handle(dom.CommandDescribeNode, p.describeNode)
}

// Handlers returns the page's handlers for use as launcher defaults.
func (p *Page) Handlers() Handlers {
	return Handlers{
		runtime.CommandEvaluate:       p.evaluate,
		dom.CommandResolveNode:        p.resolveNode,
		runtime.CommandCallFunctionOn: p.callFunctionOn,
		runtime.CommandGetProperties:  p.getProperties,
		dom.CommandDescribeNode:       p.describeNode,
	}
}

func nodeHandle(n *Node) runtime.RemoteObjectID {
	return runtime.RemoteObjectID("node-" + strconv.FormatInt(int64(n.BackendID), 10))
}

func (p *Page) lookupHandle(id runtime.RemoteObjectID) (*Node, error) {
	s := strings.TrimPrefix(string(id), "node-")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, &cdproto.Error{Code: -32000, Message: "Could not find object with given id"}
	}
	node, ok := p.byID[cdp.BackendNodeID(n)]
	if !ok {
		return nil, &cdproto.Error{Code: -32000, Message: "Could not find object with given id"}
	}
	return node, nil
}

func (p *Page) evaluate(_ context.Context, params, res interface{}) error {
	expr := params.(*runtime.EvaluateParams).Expression
	out := res.(*runtime.EvaluateReturns)

	p.mu.Lock()
	if expr == "document" {
		out.Result = &runtime.RemoteObject{Type: runtime.Type("object"), ObjectID: nodeHandle(p.doc)}
		p.mu.Unlock()
		return nil
	}
	eval := p.Eval
	p.mu.Unlock()

	if eval == nil {
		out.Result = &runtime.RemoteObject{Type: runtime.Type("undefined")}
		return nil
	}
	v, err := eval(expr)
	return fillResult(out, v, err)
}

func fillResult(out interface{}, v interface{}, err error) error {
	var se *scriptError
	if err != nil {
		if e, ok := err.(*scriptError); ok {
			se = e
		} else {
			return err
		}
	}
	var result *runtime.RemoteObject
	var details *runtime.ExceptionDetails
	if se != nil {
		details = &runtime.ExceptionDetails{Text: "Uncaught", Exception: &runtime.RemoteObject{Description: se.msg}}
	} else {
		result = valueObject(v)
	}
	switch o := out.(type) {
	case *runtime.EvaluateReturns:
		o.Result, o.ExceptionDetails = result, details
	case *runtime.CallFunctionOnReturns:
		o.Result, o.ExceptionDetails = result, details
	}
	return nil
}

func valueObject(v interface{}) *runtime.RemoteObject {
	if v == nil {
		return &runtime.RemoteObject{Type: runtime.Type("undefined")}
	}
	raw, _ := json.Marshal(v)
	return &runtime.RemoteObject{Type: runtime.Type("object"), Value: []byte(raw)}
}

type scriptError struct{ msg string }

func (e *scriptError) Error() string { return e.msg }

// Throw makes a handler report an in-page exception with msg.
func Throw(msg string) error { return &scriptError{msg: msg} }

func (p *Page) resolveNode(_ context.Context, params, res interface{}) error {
	in := params.(*dom.ResolveNodeParams)
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.byID[in.BackendNodeID]
	if !ok {
		return &cdproto.Error{Code: -32000, Message: "No node with given id found"}
	}
	res.(*dom.ResolveNodeReturns).Object = &runtime.RemoteObject{Type: runtime.Type("object"), ObjectID: nodeHandle(n)}
	return nil
}

func (p *Page) describeNode(_ context.Context, params, res interface{}) error {
	in := params.(*dom.DescribeNodeParams)
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.lookupHandle(in.ObjectID)
	if err != nil {
		return err
	}
	node := &cdp.Node{BackendNodeID: n.BackendID, NodeName: n.Name, LocalName: strings.ToLower(n.Name)}
	if n.Frame != nil && in.Pierce {
		node.ContentDocument = &cdp.Node{BackendNodeID: n.Frame.BackendID, NodeName: n.Frame.Name}
	}
	res.(*dom.DescribeNodeReturns).Node = node
	return nil
}

func (p *Page) getProperties(_ context.Context, params, res interface{}) error {
	in := params.(*runtime.GetPropertiesParams)
	p.mu.Lock()
	defer p.mu.Unlock()
	items, ok := p.arrays[string(in.ObjectID)]
	if !ok {
		return &cdproto.Error{Code: -32000, Message: "Could not find object with given id"}
	}
	out := res.(*runtime.GetPropertiesReturns)
	for i, n := range items {
		out.Result = append(out.Result, &runtime.PropertyDescriptor{
			Name:  strconv.Itoa(i),
			Value: &runtime.RemoteObject{Type: runtime.Type("object"), ObjectID: nodeHandle(n)},
		})
	}
	out.Result = append(out.Result, &runtime.PropertyDescriptor{
		Name:  "length",
		Value: &runtime.RemoteObject{Type: runtime.Type("number"), Value: []byte(strconv.Itoa(len(items)))},
	})
	return nil
}

func (p *Page) callFunctionOn(_ context.Context, params, res interface{}) error {
	in := params.(*runtime.CallFunctionOnParams)
	args := make([]interface{}, len(in.Arguments))
	for i, a := range in.Arguments {
		if a != nil && len(a.Value) > 0 {
			_ = json.Unmarshal([]byte(a.Value), &args[i])
		}
	}
	strArg := func(i int) string {
		if i < len(args) {
			s, _ := args[i].(string)
			return s
		}
		return ""
	}

	p.mu.Lock()
	this, err := p.lookupHandle(in.ObjectID)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	var (
		value  interface{}
		nodes  []*Node
		isList bool
		isNode bool
	)
	switch in.FunctionDeclaration {
	case jsexec.QueryAll:
		matched, qerr := query(this, strArg(0), strArg(1))
		if qerr != nil {
			p.mu.Unlock()
			return fillResult(res, nil, qerr)
		}
		nodes, isList = matched, true
	case jsexec.Parent:
		if this.parent != nil && this.parent.Name != "#DOCUMENT" {
			nodes, isNode = []*Node{this.parent}, true
		} else {
			value = nil
		}
	case jsexec.Children:
		for _, c := range this.Children {
			if sel := strArg(0); sel == "" || matches(c, "css", sel) {
				nodes = append(nodes, c)
			}
		}
		isList = true
	case jsexec.Siblings:
		if this.parent != nil {
			for _, c := range this.parent.Children {
				if c != this && (strArg(0) == "" || matches(c, "css", strArg(0))) {
					nodes = append(nodes, c)
				}
			}
		}
		isList = true
	case jsexec.Text:
		value = this.Text
	case jsexec.Attribute:
		if v, ok := this.Attrs[strArg(0)]; ok {
			value = v
		} else {
			value = json.RawMessage("null")
		}
	case jsexec.Property:
		value = this.Props[strArg(0)]
		if value == nil {
			value = json.RawMessage("null")
		}
	case jsexec.HTML:
		value = fmt.Sprintf("<%s>%s</%s>", strings.ToLower(this.Name), this.Text, strings.ToLower(this.Name))
	case jsexec.Bounds, jsexec.PageBounds:
		value = this.Bounds
	case jsexec.Visible:
		value = !this.detached && !this.Hidden && this.Bounds.Width > 0 && this.Bounds.Height > 0
	case jsexec.Enabled:
		value = !this.Disabled
	case jsexec.Selected:
		value = this.Selected
	case jsexec.OnTop:
		value = !this.Covered
	case jsexec.Connected:
		value = !this.detached
	case jsexec.Focus:
		p.Focused = this.BackendID
	case jsexec.Clear:
		p.Focused = this.BackendID
		p.Cleared = append(p.Cleared, this.BackendID)
		if _, ok := this.Props["value"]; ok {
			this.Props["value"] = ""
		}
	case jsexec.ClickJS:
		p.Clicks[this.BackendID]++
	case jsexec.ScrollBy, jsexec.ScrollIntoView:
		p.Scrolls = append(p.Scrolls, this.BackendID)
	default:
		script := p.Script
		p.mu.Unlock()
		if script == nil {
			return fillResult(res, nil, nil)
		}
		v, serr := script(in.FunctionDeclaration, this, args)
		return fillResult(res, v, serr)
	}

	out := res.(*runtime.CallFunctionOnReturns)
	switch {
	case isList:
		p.nextArr++
		id := "array-" + strconv.Itoa(p.nextArr)
		p.arrays[id] = nodes
		out.Result = &runtime.RemoteObject{Type: runtime.Type("object"), ObjectID: runtime.RemoteObjectID(id)}
	case isNode:
		out.Result = &runtime.RemoteObject{Type: runtime.Type("object"), ObjectID: nodeHandle(nodes[0])}
	default:
		out.Result = valueObject(value)
		if value == nil {
			out.Result = &runtime.RemoteObject{Type: runtime.Type("object"), Value: []byte("null")}
		}
	}
	p.mu.Unlock()
	return nil
}

// query walks the subtree below root in document order.
func query(root *Node, kind, value string) ([]*Node, error) {
	if kind == "xpath" && !strings.HasPrefix(value, "//") {
		return nil, Throw("SyntaxError: Failed to execute 'evaluate' on 'Document': The string '" + value + "' is not a valid XPath expression.")
	}
	if kind == "css" && strings.HasPrefix(value, "!") {
		return nil, Throw("SyntaxError: Failed to execute 'querySelectorAll' on 'Document': '" + value + "' is not a valid selector.")
	}
	var out []*Node
	for _, c := range root.Children {
		walk(c, func(n *Node) bool {
			if matches(n, kind, value) {
				out = append(out, n)
			}
			return true
		})
	}
	return out, nil
}

func matches(n *Node, kind, value string) bool {
	switch kind {
	case "id":
		return n.Attrs["id"] == value
	case "name":
		return n.Attrs["name"] == value
	case "tag":
		return strings.EqualFold(n.Name, value)
	case "class":
		have := strings.Fields(n.Attrs["class"])
		for _, want := range strings.Fields(value) {
			found := false
			for _, h := range have {
				if h == want {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		return true
	case "xpath":
		return strings.EqualFold(n.Name, strings.TrimPrefix(value, "//")) || strings.TrimPrefix(value, "//") == "*"
	}
	// css
	switch {
	case value == "*":
		return true
	case strings.HasPrefix(value, "#"):
		return n.Attrs["id"] == value[1:]
	case strings.HasPrefix(value, "."):
		return matches(n, "class", strings.ReplaceAll(value[1:], ".", " "))
	case strings.HasPrefix(value, "[name="):
		return n.Attrs["name"] == strings.Trim(strings.TrimSuffix(strings.TrimPrefix(value, "[name="), "]"), `"'`)
	}
	return strings.EqualFold(n.Name, value)
}

func walk(n *Node, fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// EmitNavigation delivers the events of a committed main-frame navigation
// followed by the load milestones.
func EmitNavigation(t *Target, url, loaderID string) {
	frame := &cdp.Frame{ID: "main", LoaderID: cdp.LoaderID(loaderID), URL: url}
	t.Emit(&page.EventFrameNavigated{Frame: frame})
	t.Emit(&page.EventLifecycleEvent{FrameID: "main", LoaderID: cdp.LoaderID(loaderID), Name: "DOMContentLoaded"})
	t.Emit(&page.EventDomContentEventFired{})
	t.Emit(&page.EventLoadEventFired{})
	t.Emit(&page.EventLifecycleEvent{FrameID: "main", LoaderID: cdp.LoaderID(loaderID), Name: "load"})
	t.Emit(&page.EventLifecycleEvent{FrameID: "main", LoaderID: cdp.LoaderID(loaderID), Name: "networkIdle"})
}

// NavigateHandler answers Page.navigate by committing the navigation and
// emitting its events, swapping the page's document when p is non-nil.
func NavigateHandler(t *Target, p *Page, body ...*Node) Handler {
	var mu sync.Mutex
	n := 0
	return func(_ context.Context, params, res interface{}) error {
		in := params.(*page.NavigateParams)
		mu.Lock()
		n++
		loader := fmt.Sprintf("loader-%d", n)
		mu.Unlock()
		if p != nil {
			p.Replace(body...)
		}
		out := res.(*page.NavigateReturns)
		out.FrameID = "main"
		out.LoaderID = cdp.LoaderID(loader)
		go EmitNavigation(t, in.URL, loader)
		return nil
	}
}
