// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on this rather than the concrete struct so tests can
// hand them a tailored value.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	LLM() LLMConfig
	Browser() BrowserConfig
	Redact() RedactConfig
	Agent() AgentConfig
	Store() StoreConfig
	MCP() MCPConfig

	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)
	SetAgentAutoAck(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	RedactCfg   RedactConfig   `mapstructure:"redact" yaml:"redact"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
	MCPCfg      MCPConfig      `mapstructure:"mcp" yaml:"mcp"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Redact() RedactConfig     { return c.RedactCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }
func (c *Config) MCP() MCPConfig           { return c.MCPCfg }

func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string) { c.BrowserCfg.RemoteURL = u }
func (c *Config) SetAgentAutoAck(b bool)       { c.AgentCfg.AutoAck = b }

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

// ColorConfig maps log levels to terminal color names.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// LLMConfig configures the model gateway.
type LLMConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	Organization string        `mapstructure:"organization" yaml:"organization"`
	Model        string        `mapstructure:"model" yaml:"model"`
	APITimeout   time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	// RequestsPerMinute throttles outgoing calls. Zero disables the limiter.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// BrowserConfig holds settings for the controlled browser.
type BrowserConfig struct {
	// RemoteURL attaches to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL        string         `mapstructure:"remote_url" yaml:"remote_url"`
	Headless         bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors  bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args             []string       `mapstructure:"args" yaml:"args"`
	Viewport         map[string]int `mapstructure:"viewport" yaml:"viewport"`
	StartURL         string         `mapstructure:"start_url" yaml:"start_url"`
	OperationTimeout time.Duration  `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// ViewportSize returns the configured display size.
func (b BrowserConfig) ViewportSize() (int, int) {
	return b.Viewport["width"], b.Viewport["height"]
}

// RedactConfig configures the screenshot redaction pipeline. The color
// panel and bottom bar steps always run; OCR can be turned off.
type RedactConfig struct {
	OCR           bool   `mapstructure:"ocr" yaml:"ocr"`
	TesseractLang string `mapstructure:"tesseract_lang" yaml:"tesseract_lang"`
}

// AgentConfig configures the turn coordinator and the session around it.
type AgentConfig struct {
	// AutoAck acknowledges every pending safety check without prompting.
	AutoAck bool `mapstructure:"auto_ack" yaml:"auto_ack"`
	// AutoReply answers confirmation questions from the model with "yes".
	AutoReply bool `mapstructure:"auto_reply" yaml:"auto_reply"`
	// FrameDir receives a copy of every redacted frame when set.
	FrameDir    string        `mapstructure:"frame_dir" yaml:"frame_dir"`
	MaxRounds   int           `mapstructure:"max_rounds" yaml:"max_rounds"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
}

// StoreConfig selects where session state is persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

// MCPConfig configures the serve command.
type MCPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Address returns the listen address of the server.
func (m MCPConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-cua")
	v.SetDefault("logger.log_file", "scalpel-cua.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/responses")
	v.SetDefault("llm.model", "computer-use-preview")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.requests_per_minute", 0)

	// -- Browser --
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1024, "height": 768})
	v.SetDefault("browser.start_url", "about:blank")
	v.SetDefault("browser.operation_timeout", "30s")

	// -- Redact --
	v.SetDefault("redact.ocr", true)
	v.SetDefault("redact.tesseract_lang", "eng")

	// -- Agent --
	v.SetDefault("agent.auto_ack", false)
	v.SetDefault("agent.auto_reply", true)
	v.SetDefault("agent.frame_dir", "")
	v.SetDefault("agent.max_rounds", 0)
	v.SetDefault("agent.turn_timeout", "0s")

	// -- Store --
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "saved_conv")

	// -- MCP --
	v.SetDefault("mcp.host", "127.0.0.1")
	v.SetDefault("mcp.port", 8000)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are commonly exported under their vendor names.
	_ = v.BindEnv("llm.api_key", "SCALPEL_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.organization", "SCALPEL_LLM_ORGANIZATION", "OPENAI_ORG")
	_ = v.BindEnv("database.url", "SCALPEL_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if c.AgentCfg.MaxRounds < 0 {
		return fmt.Errorf("agent.max_rounds must not be negative")
	}
	switch strings.ToLower(c.StoreCfg.Driver) {
	case "file":
		if c.StoreCfg.Dir == "" {
			return fmt.Errorf("store.dir is required for the file driver")
		}
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be 'file' or 'postgres', got %q", c.StoreCfg.Driver)
	}
	if c.MCPCfg.Port < 0 || c.MCPCfg.Port > 65535 {
		return fmt.Errorf("mcp.port must be between 0 and 65535")
	}
	return nil
}

// Validate checks the LLM configuration. The API key is not required here
// because the serve command can run without a model.
func (l *LLMConfig) Validate() error {
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if _, err := url.ParseRequestURI(l.Endpoint); err != nil {
		return fmt.Errorf("endpoint must be an absolute URL: %w", err)
	}
	if l.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}

// Validate checks the browser configuration.
func (b *BrowserConfig) Validate() error {
	w, h := b.ViewportSize()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("viewport width and height must be positive")
	}
	if b.RemoteURL != "" {
		u, err := url.Parse(b.RemoteURL)
		if err != nil {
			return fmt.Errorf("remote_url must be an absolute URL: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("remote_url must be an absolute URL with an http, https, ws or wss scheme, got %q", b.RemoteURL)
		}
		if u.Host == "" {
			return fmt.Errorf("remote_url must be an absolute URL with a host, got %q", b.RemoteURL)
		}
	}
	return nil
}
