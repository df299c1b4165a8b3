// internal/browser/jsexec/scripts_test.go
package jsexec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsFunctionWrap(t *testing.T) {
	tests := []struct {
		script string
		want   bool
	}{
		{"document.title", false},
		{"return document.title", true},
		{"const x = 1; return x;", true},
		{"if (a) { return(1) }", true},
		{"window.returnValue", false},
		{"noreturn()", false},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsFunctionWrap(tt.script))
		})
	}
}

func TestWrapPageScript(t *testing.T) {
	got, err := WrapPageScript("return arguments[0] + arguments[1];", []interface{}{1, "two"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "(async function() {\n"))
	assert.True(t, strings.HasSuffix(got, `.apply(window, [1,"two"])`))

	got, err = WrapPageScript("return 1", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, ".apply(window, [])"))

	_, err = WrapPageScript("return 1", []interface{}{make(chan int)})
	assert.Error(t, err)
}

func TestElementScript(t *testing.T) {
	expr := ElementScript("arguments[0].tagName;  ")
	assert.Contains(t, expr, "return (arguments[0].tagName);")
	assert.True(t, strings.HasPrefix(expr, "async function() {"))

	stmt := ElementScript("const el = arguments[0]; return el.id;")
	assert.Contains(t, stmt, "const el = arguments[0]; return el.id;")
	assert.NotContains(t, stmt, "return (const")
}
