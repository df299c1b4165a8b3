// internal/browser/jsexec/runtime_test.go
package jsexec_test

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/jsexec"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport/transporttest"
)

func setupPage(t *testing.T) (context.Context, *transporttest.Page, *transporttest.Target) {
	t.Helper()
	p := transporttest.NewPage(
		transporttest.El("ul", "id", "list").With(
			transporttest.El("li", "class", "item first").WithText("one"),
			transporttest.El("li", "class", "item").WithText("two"),
			transporttest.El("li", "class", "item last").WithText("three"),
		),
	)
	target := transporttest.NewTarget("target-1", nil)
	p.Install(target)
	t.Cleanup(func() {
		target.Disconnect(nil)
		for range target.Events() {
		}
	})
	return cdp.WithExecutor(context.Background(), target), p, target
}

func TestQueryAllAndDescribe(t *testing.T) {
	ctx, _, _ := setupPage(t)

	doc, err := jsexec.EvaluateHandle(ctx, "document", "g1")
	require.NoError(t, err)
	arr, err := jsexec.CallOnHandle(ctx, doc.ObjectID, jsexec.QueryAll, "css", ".item")
	require.NoError(t, err)

	handles, err := jsexec.NodeHandles(ctx, arr.ObjectID)
	require.NoError(t, err)
	require.Len(t, handles, 3)

	var names []string
	for _, h := range handles {
		n, err := jsexec.Describe(ctx, h)
		require.NoError(t, err)
		names = append(names, n.NodeName)

		var text string
		require.NoError(t, jsexec.CallOn(ctx, h, jsexec.Text, &text))
		names = append(names, text)
	}
	assert.Equal(t, []string{"LI", "one", "LI", "two", "LI", "three"}, names)
}

func TestResolveUnknownNodeIsStale(t *testing.T) {
	ctx, p, _ := setupPage(t)
	first := p.Find("list").Children[0]

	id, err := jsexec.Resolve(ctx, first.BackendID, "g1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	p.Destroy(first)
	_, err = jsexec.Resolve(ctx, first.BackendID, "g1")
	assert.True(t, schemas.IsKind(err, schemas.ErrStaleElement))
}

func TestScriptExceptionBecomesScriptError(t *testing.T) {
	ctx, _, _ := setupPage(t)
	doc, err := jsexec.EvaluateHandle(ctx, "document", "g1")
	require.NoError(t, err)

	_, err = jsexec.CallOnHandle(ctx, doc.ObjectID, jsexec.QueryAll, "css", "!!nope")
	var se *schemas.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schemas.ErrScript, se.Kind)
	assert.Contains(t, se.Message, "not a valid selector")
}

func TestEvaluateDecodesValues(t *testing.T) {
	ctx, p, _ := setupPage(t)
	p.Eval = func(expr string) (interface{}, error) {
		switch expr {
		case jsexec.DocumentTitle:
			return "Fixture", nil
		case "throw":
			return nil, transporttest.Throw("Error: boom")
		}
		return map[string]int{"n": 3}, nil
	}

	var title string
	require.NoError(t, jsexec.Evaluate(ctx, jsexec.DocumentTitle, &title))
	assert.Equal(t, "Fixture", title)

	var obj map[string]int
	require.NoError(t, jsexec.Evaluate(ctx, "({n: 3})", &obj))
	assert.Equal(t, 3, obj["n"])

	err := jsexec.Evaluate(ctx, "throw", nil)
	assert.True(t, schemas.IsKind(err, schemas.ErrScript))
}

func TestCallOnPassesArguments(t *testing.T) {
	ctx, p, target := setupPage(t)
	var got []interface{}
	p.Script = func(fn string, this *transporttest.Node, args []interface{}) (interface{}, error) {
		got = args
		return len(args), nil
	}
	list := p.Find("list")
	id, err := jsexec.Resolve(ctx, list.BackendID, "g1")
	require.NoError(t, err)

	var n int
	require.NoError(t, jsexec.CallOn(ctx, id, "function(a, b) { return arguments.length; }", &n, "x", map[string]int{"k": 1}))
	assert.Equal(t, 2, n)
	assert.Equal(t, []interface{}{"x", map[string]interface{}{"k": float64(1)}}, got)

	calls := target.Calls(runtime.CommandCallFunctionOn)
	require.NotEmpty(t, calls)
	params := calls[len(calls)-1].Params.(*runtime.CallFunctionOnParams)
	assert.True(t, params.ReturnByValue)
	assert.True(t, params.AwaitPromise)

	_, err = jsexec.CallOnHandle(ctx, id, "function() {}", make(chan int))
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}

func TestReleaseGroupIgnoresErrors(t *testing.T) {
	ctx, _, target := setupPage(t)
	jsexec.ReleaseGroup(ctx, "g1")
	assert.Len(t, target.Calls(runtime.CommandReleaseObjectGroup), 1)
}
