// internal/browser/stealth/stealth_test.go
package stealth

import (
	"context"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cdp-mcp/internal/browser/transport/transporttest"
)

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "", AcceptLanguage(nil))
	assert.Equal(t, "fr-FR", AcceptLanguage([]string{"fr-FR"}))
	assert.Equal(t, "en-US,en;q=0.9,de;q=0.8", AcceptLanguage([]string{"en-US", "en", "de"}))
}

func TestScriptsEmbedPersona(t *testing.T) {
	scripts, err := Scripts(Persona{Platform: "Linux x86_64", Languages: []string{"de-DE"}})
	require.NoError(t, err)
	require.Len(t, scripts, 2)

	assert.Contains(t, scripts[0], "attachShadow", "shadow roots are forced open first")
	assert.True(t, strings.HasSuffix(scripts[1], `)({"platform":"Linux x86_64","languages":["de-DE"]});`))
	assert.Contains(t, scripts[1], "webdriver")
}

func TestLaunchFlags(t *testing.T) {
	flags := LaunchFlags()
	require.Len(t, flags, 2)
	assert.Equal(t, "disable-blink-features", flags[0].Name)
	assert.Equal(t, "AutomationControlled", flags[0].Value)
	assert.True(t, flags[1].Off)
}

func TestApply(t *testing.T) {
	target := transporttest.NewTarget("target-1", nil)
	defer target.Disconnect(nil)
	ctx := cdp.WithExecutor(context.Background(), target)

	core, logs := observer.New(zap.DebugLevel)
	err := Apply(Persona{
		UserAgent: "TestAgent/1.0",
		Platform:  "TestOS",
		Languages: []string{"en-GB", "en"},
		Timezone:  "Europe/London",
	}, zap.New(core)).Do(ctx)
	require.NoError(t, err)

	require.Len(t, target.Calls(page.CommandAddScriptToEvaluateOnNewDocument), 2)

	ua := target.Calls(emulation.CommandSetUserAgentOverride)
	require.Len(t, ua, 1)
	params := ua[0].Params.(*emulation.SetUserAgentOverrideParams)
	assert.Equal(t, "TestAgent/1.0", params.UserAgent)
	assert.Equal(t, "TestOS", params.Platform)
	assert.Equal(t, "en-GB,en;q=0.9", params.AcceptLanguage)

	assert.Len(t, target.Calls(emulation.CommandSetTimezoneOverride), 1)
	assert.Empty(t, target.Calls(emulation.CommandSetLocaleOverride), "empty locale is not overridden")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Applying browser stealth persona", logs.All()[0].Message)
}

func TestApplyWithoutUserAgent(t *testing.T) {
	target := transporttest.NewTarget("target-1", nil)
	defer target.Disconnect(nil)
	ctx := cdp.WithExecutor(context.Background(), target)

	require.NoError(t, Apply(Persona{}, zap.NewNop()).Do(ctx))
	assert.Len(t, target.Calls(page.CommandAddScriptToEvaluateOnNewDocument), 2)
	assert.Empty(t, target.Calls(emulation.CommandSetUserAgentOverride))
}
