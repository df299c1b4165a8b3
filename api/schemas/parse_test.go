// api/schemas/parse_test.go
package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

func TestParseModifiers(t *testing.T) {
	m, err := schemas.ParseModifiers([]string{"ctrl", "Shift", "cmd"})
	require.NoError(t, err)
	assert.Equal(t, schemas.ModCtrl|schemas.ModShift|schemas.ModMeta, m)

	m, err = schemas.ParseModifiers(nil)
	require.NoError(t, err)
	assert.Equal(t, schemas.ModNone, m)

	_, err = schemas.ParseModifiers([]string{"hyper"})
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}

func TestParseWaitUntil(t *testing.T) {
	w, err := schemas.ParseWaitUntil("")
	require.NoError(t, err)
	assert.Equal(t, schemas.WaitLoad, w)

	w, err = schemas.ParseWaitUntil("networkidle")
	require.NoError(t, err)
	assert.Equal(t, schemas.WaitNetworkIdle, w)

	_, err = schemas.ParseWaitUntil("Load")
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument), "values are case-sensitive")
}

func TestParseCategory(t *testing.T) {
	c, err := schemas.ParseCategory("")
	require.NoError(t, err)
	assert.Empty(t, c)

	for _, want := range schemas.Categories {
		got, err := schemas.ParseCategory(string(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = schemas.ParseCategory("fetch")
	assert.True(t, schemas.IsKind(err, schemas.ErrInvalidArgument))
}

func TestSelectorType_Valid(t *testing.T) {
	for _, s := range []schemas.SelectorType{
		schemas.SelectorCSS, schemas.SelectorXPath, schemas.SelectorID,
		schemas.SelectorName, schemas.SelectorTag, schemas.SelectorClass,
	} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, schemas.SelectorType("link_text").Valid())
}

func TestElementBounds_Center(t *testing.T) {
	b := schemas.ElementBounds{X: 10, Y: 20, Width: 100, Height: 40}
	x, y := b.Center(0, 0)
	assert.Equal(t, 60.0, x)
	assert.Equal(t, 40.0, y)
	x, y = b.Center(-5, 3)
	assert.Equal(t, 55.0, x)
	assert.Equal(t, 43.0, y)
}

func TestEventEntry_String(t *testing.T) {
	e := schemas.EventEntry{Payload: map[string]interface{}{"url": "https://x", "status": 200.0}}
	assert.Equal(t, "https://x", e.String("url"))
	assert.Empty(t, e.String("status"))
	assert.Empty(t, e.String("missing"))
}
