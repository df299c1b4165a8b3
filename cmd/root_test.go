// cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cdp-mcp/internal/config"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdpmcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeRoot(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "cdp-mcp version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cdp-mcp "+Version)
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	out, err := executeRoot(t)
	require.NoError(t, err)
	assert.Contains(t, out, "MCP server for Chrome DevTools Protocol browser automation.")
	assert.Contains(t, out, "serve")
}

func TestInitializeConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `
server:
  transport: http
  http_addr: 127.0.0.1:9000
logger:
  level: warn
browser:
  max_sessions: 3
`)
	t.Setenv("CDPMCP_SERVER_HTTP_ADDR", "127.0.0.1:9100")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("http-addr", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "debug"}))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(cmd, v, path))
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level, "flag beats file")
	assert.Equal(t, "127.0.0.1:9100", cfg.Server().HTTPAddr, "env beats file")
	assert.Equal(t, "http", cfg.Server().Transport, "file beats default")
	assert.Equal(t, 3, cfg.Browser().MaxSessions)
	assert.True(t, cfg.Browser().Headless, "default survives")
}

func TestInitializeConfig_MalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	v := viper.New()
	err := initializeConfig(&cobra.Command{Use: "test"}, v, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestRootCmd_InvalidConfigFails(t *testing.T) {
	path := writeConfig(t, "server:\n  transport: carrier-pigeon\n")
	_, err := executeRoot(t, "--config", path, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.transport")
}

func TestConfigFromContext(t *testing.T) {
	_, err := configFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := configFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
