// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Commands and the server depend on it so tests can supply a hand-built value.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Server() ServerConfig
	Database() DatabaseConfig
	Cache() CacheConfig
	Portal(name string) (FlowConfig, bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig          `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig         `mapstructure:"browser" yaml:"browser"`
	ServerCfg   ServerConfig          `mapstructure:"server" yaml:"server"`
	DatabaseCfg DatabaseConfig        `mapstructure:"database" yaml:"database"`
	CacheCfg    CacheConfig           `mapstructure:"cache" yaml:"cache"`
	PortalsCfg  map[string]FlowConfig `mapstructure:"portals" yaml:"portals"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Cache() CacheConfig       { return c.CacheCfg }

// Portal returns the flow description registered under name. Entries from the
// config file replace the built-in flow of the same name wholesale.
func (c *Config) Portal(name string) (FlowConfig, bool) {
	if f, ok := c.PortalsCfg[name]; ok {
		return f, true
	}
	f, ok := DefaultFlows()[name]
	return f, ok
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

// ColorConfig defines the colors for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how Chrome is launched and attached to.
type BrowserConfig struct {
	BinaryPath     string `mapstructure:"binary_path" yaml:"binary_path"`
	TestBinaryPath string `mapstructure:"test_binary_path" yaml:"test_binary_path"`
	// Ports is the pool of loopback DevTools ports. Its size caps the number
	// of concurrent sessions.
	Ports        []int    `mapstructure:"ports" yaml:"ports"`
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU   bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	Args         []string `mapstructure:"args" yaml:"args"`
	UserDataRoot string   `mapstructure:"user_data_root" yaml:"user_data_root"`

	GracePeriod     time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	ConnectInterval time.Duration `mapstructure:"connect_interval" yaml:"connect_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ActionTimeout bounds a single remote call that has no wait of its own.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AppNameVersion  string        `mapstructure:"app_name_version" yaml:"app_name_version"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is requests per second per route; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// DatabaseConfig enables the snapshot store when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// CacheConfig enables the redis result cache when Addr is set.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// KeySecret keys the HMAC that turns credentials into cache keys.
	KeySecret string `mapstructure:"key_secret" yaml:"key_secret"`
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

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "kepco-scraper")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.binary_path", "")
	v.SetDefault("browser.test_binary_path", "")
	v.SetDefault("browser.ports", []int{4445, 4450})
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.window_width", 774)
	v.SetDefault("browser.window_height", 857)
	v.SetDefault("browser.grace_period", "2s")
	v.SetDefault("browser.connect_timeout", "15s")
	v.SetDefault("browser.connect_attempts", 10)
	v.SetDefault("browser.connect_interval", "300ms")
	v.SetDefault("browser.shutdown_timeout", "5s")
	v.SetDefault("browser.action_timeout", "20s")

	// -- Server --
	v.SetDefault("server.addr", "[::]:30737")
	v.SetDefault("server.app_name_version", "kepco-scraper")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "6m")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 2)

	// -- Cache --
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.key_secret", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Names carried over from earlier deployments.
	_ = v.BindEnv("browser.binary_path", "KEPCO_BROWSER_BINARY_PATH", "CHROME_BINARY_PATH")
	_ = v.BindEnv("browser.test_binary_path", "KEPCO_BROWSER_TEST_BINARY_PATH", "CHROME_BINARY_PATH_TEST")
	_ = v.BindEnv("server.app_name_version", "KEPCO_SERVER_APP_NAME_VERSION", "APP_NAME_VERSION")
	_ = v.BindEnv("database.url", "KEPCO_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("cache.password", "KEPCO_CACHE_PASSWORD")
	_ = v.BindEnv("cache.key_secret", "KEPCO_CACHE_KEY_SECRET")

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
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.ServerCfg.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.CacheCfg.Validate(); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	for name, flow := range c.PortalsCfg {
		if err := flow.Validate(); err != nil {
			return fmt.Errorf("portals.%s invalid: %w", name, err)
		}
	}
	return nil
}

// Validate checks the browser launch settings.
func (b *BrowserConfig) Validate() error {
	if len(b.Ports) == 0 {
		return fmt.Errorf("ports must list at least one port")
	}
	seen := make(map[int]struct{}, len(b.Ports))
	for _, p := range b.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("port %d is out of range", p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("port %d is listed twice", p)
		}
		seen[p] = struct{}{}
	}
	if b.ConnectAttempts <= 0 {
		return fmt.Errorf("connect_attempts must be a positive integer")
	}
	if b.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be a positive duration")
	}
	if b.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}
	return nil
}

// Validate checks the HTTP listener settings.
func (s *ServerConfig) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if s.RateLimit > 0 && s.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be a positive integer when rate_limit is set")
	}
	return nil
}

// Validate checks the result cache settings. They only matter when Addr is set.
func (c *CacheConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return nil
	}
	if c.KeySecret == "" {
		return fmt.Errorf("key_secret is required when addr is set")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be a positive duration")
	}
	return nil
}
