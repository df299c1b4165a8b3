// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Events() EventsConfig
	Interaction() InteractionConfig
	Interception() InterceptionConfig
	Server() ServerConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserLaunchTimeout(d time.Duration)

	// Events Setters
	SetEventsInvalidateOnDOMMutation(bool)

	// Interception Setters
	SetInterceptionAutoContinueTimeout(d time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	BrowserCfg      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	EventsCfg       EventsConfig       `mapstructure:"events" yaml:"events"`
	InteractionCfg  InteractionConfig  `mapstructure:"interaction" yaml:"interaction"`
	InterceptionCfg InterceptionConfig `mapstructure:"interception" yaml:"interception"`
	ServerCfg       ServerConfig       `mapstructure:"server" yaml:"server"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig           { return c.BrowserCfg }
func (c *Config) Events() EventsConfig             { return c.EventsCfg }
func (c *Config) Interaction() InteractionConfig   { return c.InteractionCfg }
func (c *Config) Interception() InterceptionConfig { return c.InterceptionCfg }
func (c *Config) Server() ServerConfig             { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)                { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserLaunchTimeout(d time.Duration)  { c.BrowserCfg.LaunchTimeout = d }
func (c *Config) SetEventsInvalidateOnDOMMutation(b bool) { c.EventsCfg.InvalidateOnDOMMutation = b }
func (c *Config) SetInterceptionAutoContinueTimeout(d time.Duration) {
	c.InterceptionCfg.AutoContinueTimeout = d
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds defaults and limits for launched browser processes.
// Per-session options supplied by callers override the defaults.
type BrowserConfig struct {
	BinaryPath      string         `mapstructure:"binary_path" yaml:"binary_path"`
	RemoteURL       string         `mapstructure:"remote_url" yaml:"remote_url"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	LaunchRetries   int            `mapstructure:"launch_retries" yaml:"launch_retries"`
	PollInterval    time.Duration  `mapstructure:"poll_interval" yaml:"poll_interval"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CommandTimeout  time.Duration  `mapstructure:"command_timeout" yaml:"command_timeout"`
	MaxSessions     int            `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// EventsConfig tunes the per-tab event logs.
type EventsConfig struct {
	MaxEntriesPerCategory   int  `mapstructure:"max_entries_per_category" yaml:"max_entries_per_category"`
	InvalidateOnDOMMutation bool `mapstructure:"invalidate_on_dom_mutation" yaml:"invalidate_on_dom_mutation"`
}

// InteractionConfig holds defaults for element operations and waits.
type InteractionConfig struct {
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ClickHoldTime   time.Duration `mapstructure:"click_hold_time" yaml:"click_hold_time"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout" yaml:"navigate_timeout"`
	TypeDelay       time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
}

// InterceptionConfig controls paused-request handling.
type InterceptionConfig struct {
	AutoContinueTimeout time.Duration `mapstructure:"auto_continue_timeout" yaml:"auto_continue_timeout"`
	ResolvedHistory     int           `mapstructure:"resolved_history" yaml:"resolved_history"`
}

// ServerConfig configures the MCP transport.
type ServerConfig struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Version   string `mapstructure:"version" yaml:"version"`
	Transport string `mapstructure:"transport" yaml:"transport"`
	HTTPAddr  string `mapstructure:"http_addr" yaml:"http_addr"`
	// AllowedOrigins lists the browser origins (scheme://host[:port]) that may
	// call the HTTP endpoint in addition to loopback and same-origin pages.
	// "*" admits every origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cdp-mcp")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.launch_retries", 3)
	v.SetDefault("browser.poll_interval", "250ms")
	v.SetDefault("browser.shutdown_timeout", "10s")
	v.SetDefault("browser.command_timeout", "30s")
	v.SetDefault("browser.max_sessions", 8)

	// -- Events --
	v.SetDefault("events.max_entries_per_category", 1000)
	v.SetDefault("events.invalidate_on_dom_mutation", false)

	// -- Interaction --
	v.SetDefault("interaction.default_timeout", "30s")
	v.SetDefault("interaction.poll_interval", "100ms")
	v.SetDefault("interaction.click_hold_time", "100ms")
	v.SetDefault("interaction.navigate_timeout", "30s")
	v.SetDefault("interaction.type_delay", "0s")

	// -- Interception --
	v.SetDefault("interception.auto_continue_timeout", "30s")
	v.SetDefault("interception.resolved_history", 1024)

	// -- Server --
	v.SetDefault("server.name", "cdp-mcp")
	v.SetDefault("server.version", "dev")
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_addr", "127.0.0.1:8765")
	v.SetDefault("server.allowed_origins", []string{})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The browser binary is commonly provided through the environment by CI images.
	_ = v.BindEnv("browser.binary_path", "CDPMCP_CHROME_PATH", "CHROME_PATH")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.BrowserCfg.LaunchRetries <= 0 {
		return fmt.Errorf("browser.launch_retries must be a positive integer")
	}
	if c.BrowserCfg.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be a positive integer")
	}
	if c.EventsCfg.MaxEntriesPerCategory <= 0 {
		return fmt.Errorf("events.max_entries_per_category must be a positive integer")
	}
	if c.InteractionCfg.PollInterval <= 0 {
		return fmt.Errorf("interaction.poll_interval must be a positive duration")
	}
	if c.InterceptionCfg.AutoContinueTimeout < 0 {
		return fmt.Errorf("interception.auto_continue_timeout must not be negative")
	}
	if c.InterceptionCfg.ResolvedHistory <= 0 {
		return fmt.Errorf("interception.resolved_history must be a positive integer")
	}
	switch strings.ToLower(c.ServerCfg.Transport) {
	case "stdio", "http":
	default:
		return fmt.Errorf("server.transport must be 'stdio' or 'http', got %q", c.ServerCfg.Transport)
	}
	for _, o := range c.ServerCfg.AllowedOrigins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("server.allowed_origins entries must be '*' or scheme://host[:port], got %q", o)
		}
	}
	return nil
}

// ViewportSize returns the configured default window size.
func (b BrowserConfig) ViewportSize() (int, int) {
	w, h := b.Viewport["width"], b.Viewport["height"]
	if w <= 0 {
		w = 1920
	}
	if h <= 0 {
		h = 1080
	}
	return w, h
}
