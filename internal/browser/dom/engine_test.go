// internal/browser/dom/engine_test.go
package dom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport/transporttest"
	"github.com/xkilldash9x/cdp-mcp/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type engineFixture struct {
	reg    *registry.Registry
	tab    *registry.Tab
	target *transporttest.Target
	page   *transporttest.Page
	eng    *Engine
}

func newEngineFixture(t *testing.T, body ...*transporttest.Node) *engineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	s, err := reg.AddSession("s1", schemas.LaunchConfig{Headless: true})
	require.NoError(t, err)
	s.Transition(schemas.SessionStarting, schemas.SessionCreated)
	target := transporttest.NewTarget("target-1", nil)
	tab, err := reg.AddTab("s1", "s1_initial", target)
	require.NoError(t, err)
	s.Transition(schemas.SessionRunning, schemas.SessionStarting)

	page := transporttest.NewPage(body...)
	page.Install(target)

	cfg := config.NewDefaultConfig()
	cfg.InteractionCfg.DefaultTimeout = 2 * time.Second
	cfg.InteractionCfg.PollInterval = 5 * time.Millisecond
	cfg.InteractionCfg.ClickHoldTime = time.Millisecond

	pipe := events.NewPipeline(reg, cfg.Events(), logger)
	done := pipe.Attach(tab)
	t.Cleanup(func() {
		target.Disconnect(nil)
		<-done
		pipe.Wait()
	})

	return &engineFixture{
		reg:    reg,
		tab:    tab,
		target: target,
		page:   page,
		eng:    NewEngine(reg, pipe, cfg, logger),
	}
}

// find returns the single element matching a CSS selector.
func (f *engineFixture) find(t *testing.T, css string) string {
	t.Helper()
	el, err := f.eng.FindElement(context.Background(), f.tab.ID, RootElement, schemas.SelectorCSS, css)
	require.NoError(t, err)
	return el.ID
}

func TestCleanupElements(t *testing.T) {
	f := newEngineFixture(t, transporttest.El("p"), transporttest.El("p"))
	ctx := context.Background()

	found, err := f.eng.FindElements(ctx, f.tab.ID, RootElement, schemas.SelectorTag, "p")
	require.NoError(t, err)
	require.Len(t, found, 2)

	n, err := f.eng.CleanupElements(f.tab.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = f.eng.Text(ctx, found[0].ID)
	assert.True(t, schemas.IsKind(err, schemas.ErrStaleElement))

	_, err = f.eng.FindElements(ctx, f.tab.ID, RootElement, schemas.SelectorTag, "p")
	require.NoError(t, err)
	n, err = f.eng.CleanupElements("")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.eng.CleanupElements("missing")
	assert.True(t, schemas.IsKind(err, schemas.ErrNotFound))
}
