// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser().LaunchTimeout)
	assert.Equal(t, 3, cfg.Browser().LaunchRetries)
	assert.Equal(t, 1000, cfg.Events().MaxEntriesPerCategory)
	assert.False(t, cfg.Events().InvalidateOnDOMMutation)
	assert.Equal(t, 100*time.Millisecond, cfg.Interaction().PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Interception().AutoContinueTimeout)
	assert.Equal(t, "stdio", cfg.Server().Transport)
	assert.Empty(t, cfg.Server().AllowedOrigins)

	w, h := cfg.Browser().ViewportSize()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Valid Defaults", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate(), "A valid config should not produce a validation error")
	})

	cases := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"Launch Timeout", func(c *Config) { c.BrowserCfg.LaunchTimeout = 0 }, "browser.launch_timeout must be a positive duration"},
		{"Launch Retries", func(c *Config) { c.BrowserCfg.LaunchRetries = 0 }, "browser.launch_retries must be a positive integer"},
		{"Max Sessions", func(c *Config) { c.BrowserCfg.MaxSessions = -1 }, "browser.max_sessions must be a positive integer"},
		{"Event Cap", func(c *Config) { c.EventsCfg.MaxEntriesPerCategory = 0 }, "events.max_entries_per_category must be a positive integer"},
		{"Poll Interval", func(c *Config) { c.InteractionCfg.PollInterval = 0 }, "interaction.poll_interval must be a positive duration"},
		{"Auto Continue", func(c *Config) { c.InterceptionCfg.AutoContinueTimeout = -time.Second }, "interception.auto_continue_timeout must not be negative"},
		{"Resolved History", func(c *Config) { c.InterceptionCfg.ResolvedHistory = 0 }, "interception.resolved_history must be a positive integer"},
		{"Transport", func(c *Config) { c.ServerCfg.Transport = "carrier-pigeon" }, "server.transport must be 'stdio' or 'http'"},
		{"Allowed Origin", func(c *Config) { c.ServerCfg.AllowedOrigins = []string{"example.test"} }, "server.allowed_origins entries must be"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

// -- Setter Tests --

func TestConfigSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetBrowserHeadless(false)
	iface.SetBrowserLaunchTimeout(5 * time.Second)
	iface.SetEventsInvalidateOnDOMMutation(true)
	iface.SetInterceptionAutoContinueTimeout(time.Second)

	assert.False(t, iface.Browser().Headless)
	assert.Equal(t, 5*time.Second, iface.Browser().LaunchTimeout)
	assert.True(t, iface.Events().InvalidateOnDOMMutation)
	assert.Equal(t, time.Second, iface.Interception().AutoContinueTimeout)
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: false
  launch_timeout: 15s
events:
  max_entries_per_category: 50
`)
		v := viper.New()
		SetDefaults(v) // Set defaults first
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, 15*time.Second, cfg.Browser().LaunchTimeout)
		assert.Equal(t, 50, cfg.Events().MaxEntriesPerCategory)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.launch_retries", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "browser.launch_retries must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
browser:
  binary_path: /opt/from-config/chrome
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)), "Failed to read mock config buffer")

		t.Setenv("CDPMCP_CHROME_PATH", "/usr/bin/chromium")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		// The environment overrides the config file.
		assert.Equal(t, "/usr/bin/chromium", cfg.Browser().BinaryPath)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/cdp-mcp.log
browser:
  args: ["--lang=de-DE"]
  viewport:
    width: 800
    height: 600
interception:
  auto_continue_timeout: 2s
server:
  transport: http
  http_addr: ":9000"
`
	v := viper.New()
	SetDefaults(v) // Set defaults first
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/cdp-mcp.log", cfg.Logger().LogFile)
	assert.Equal(t, []string{"--lang=de-DE"}, cfg.Browser().Args)
	w, h := cfg.Browser().ViewportSize()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
	assert.Equal(t, 2*time.Second, cfg.Interception().AutoContinueTimeout)
	assert.Equal(t, ":9000", cfg.Server().HTTPAddr)
	assert.NoError(t, cfg.Validate())
}
