// internal/browser/jsexec/runtime.go
package jsexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// The helpers in this package run against whatever cdp.Executor is bound to
// ctx (see registry.Tab.Exec). All results are decoded from JSON; remote
// object handles are only used for DOM nodes.

// Resolve turns a backend node id into a remote object handle in group.
// A node the browser no longer knows resolves to StaleElement.
func Resolve(ctx context.Context, backendID cdp.BackendNodeID, group string) (runtime.RemoteObjectID, error) {
	var res dom.ResolveNodeReturns
	params := dom.ResolveNode().WithBackendNodeID(backendID)
	if group != "" {
		params = params.WithObjectGroup(group)
	}
	if err := cdp.Execute(ctx, dom.CommandResolveNode, params, &res); err != nil {
		if schemas.IsKind(err, schemas.ErrProtocol) {
			return "", schemas.WrapError(schemas.ErrStaleElement, err, "node %d is no longer in the document", backendID)
		}
		return "", err
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return "", schemas.NewError(schemas.ErrStaleElement, "node %d is no longer in the document", backendID)
	}
	return res.Object.ObjectID, nil
}

// Evaluate runs expr in the page's main world and decodes its value into out
// (which may be nil). Promises are awaited.
func Evaluate(ctx context.Context, expr string, out interface{}) error {
	var res runtime.EvaluateReturns
	params := runtime.Evaluate(expr).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		WithUserGesture(true)
	if err := cdp.Execute(ctx, runtime.CommandEvaluate, params, &res); err != nil {
		return err
	}
	if err := exceptionError(res.ExceptionDetails); err != nil {
		return err
	}
	return decode(res.Result, out)
}

// EvaluateHandle runs expr and returns a handle to the result instead of its value.
func EvaluateHandle(ctx context.Context, expr, group string) (*runtime.RemoteObject, error) {
	var res runtime.EvaluateReturns
	params := runtime.Evaluate(expr).WithObjectGroup(group)
	if err := cdp.Execute(ctx, runtime.CommandEvaluate, params, &res); err != nil {
		return nil, err
	}
	if err := exceptionError(res.ExceptionDetails); err != nil {
		return nil, err
	}
	return res.Result, nil
}

// CallOn invokes fn with `this` bound to the object and decodes the return
// value into out. args are passed to fn as JSON values.
func CallOn(ctx context.Context, objectID runtime.RemoteObjectID, fn string, out interface{}, args ...interface{}) error {
	res, err := call(ctx, objectID, fn, true, args)
	if err != nil {
		return err
	}
	return decode(res, out)
}

// CallOnHandle is CallOn returning a handle to the result.
func CallOnHandle(ctx context.Context, objectID runtime.RemoteObjectID, fn string, args ...interface{}) (*runtime.RemoteObject, error) {
	return call(ctx, objectID, fn, false, args)
}

func call(ctx context.Context, objectID runtime.RemoteObjectID, fn string, byValue bool, args []interface{}) (*runtime.RemoteObject, error) {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, schemas.WrapError(schemas.ErrInvalidArgument, err, "argument %d is not JSON serializable", i)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: []byte(raw)})
	}

	params := runtime.CallFunctionOn(fn).
		WithObjectID(objectID).
		WithReturnByValue(byValue).
		WithAwaitPromise(true).
		WithUserGesture(true)
	if len(callArgs) > 0 {
		params = params.WithArguments(callArgs)
	}

	var res runtime.CallFunctionOnReturns
	if err := cdp.Execute(ctx, runtime.CommandCallFunctionOn, params, &res); err != nil {
		return nil, err
	}
	if err := exceptionError(res.ExceptionDetails); err != nil {
		return nil, err
	}
	return res.Result, nil
}

// NodeHandles lists the node-valued indexed properties of an array handle, in index order.
func NodeHandles(ctx context.Context, arrayID runtime.RemoteObjectID) ([]runtime.RemoteObjectID, error) {
	var res runtime.GetPropertiesReturns
	if err := cdp.Execute(ctx, runtime.CommandGetProperties, runtime.GetProperties(arrayID).WithOwnProperties(true), &res); err != nil {
		return nil, err
	}
	if err := exceptionError(res.ExceptionDetails); err != nil {
		return nil, err
	}

	type indexed struct {
		i  int
		id runtime.RemoteObjectID
	}
	var items []indexed
	for _, p := range res.Result {
		if p == nil || p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		i, err := strconv.Atoi(p.Name)
		if err != nil {
			continue
		}
		items = append(items, indexed{i, p.Value.ObjectID})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].i < items[b].i })

	out := make([]runtime.RemoteObjectID, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out, nil
}

// Describe fetches the node behind a handle.
func Describe(ctx context.Context, objectID runtime.RemoteObjectID) (*cdp.Node, error) {
	var res dom.DescribeNodeReturns
	if err := cdp.Execute(ctx, dom.CommandDescribeNode, dom.DescribeNode().WithObjectID(objectID), &res); err != nil {
		return nil, err
	}
	if res.Node == nil {
		return nil, schemas.NewError(schemas.ErrProtocol, "describeNode returned no node")
	}
	return res.Node, nil
}

// ReleaseGroup frees every handle created in group. Errors are ignored:
// the group dies with its document anyway.
func ReleaseGroup(ctx context.Context, group string) {
	_ = cdp.Execute(ctx, runtime.CommandReleaseObjectGroup, runtime.ReleaseObjectGroup(group), nil)
}

// decode unpacks a by-value result. undefined leaves out untouched.
func decode(obj *runtime.RemoteObject, out interface{}) error {
	if out == nil || obj == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(obj.Value), out); err != nil {
		return schemas.WrapError(schemas.ErrProtocol, err, "unexpected %s result", obj.Type)
	}
	return nil
}

// exceptionError converts a thrown exception into ErrScript.
func exceptionError(d *runtime.ExceptionDetails) error {
	if d == nil {
		return nil
	}
	msg := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		msg = d.Exception.Description
	}
	return &schemas.Error{
		Kind:    schemas.ErrScript,
		Message: msg,
		Err:     fmt.Errorf("line %d column %d", d.LineNumber, d.ColumnNumber),
	}
}
