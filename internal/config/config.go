package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Browser backends
const (
	BrowserModeLocal  = "local"
	BrowserModeDocker = "docker"
)

// Config holds every setting the service reads from flags, env, .env and an optional YAML file.
// Keys are flat so that each one maps directly onto an upper-cased environment variable.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSize    int    `mapstructure:"log_max_size"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAge     int    `mapstructure:"log_max_age"`

	// TimeoutMS is the default popup detection window in milliseconds.
	TimeoutMS    int `mapstructure:"timeout"`
	MaxTimeoutMS int `mapstructure:"max_timeout"`

	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout"`
	RequestDeadline   time.Duration `mapstructure:"request_deadline"`

	MaxConcurrentChecks int `mapstructure:"max_concurrent_checks"`
	RateLimitPerHour    int `mapstructure:"rate_limit_per_hour"`
	RateLimitBurst      int `mapstructure:"rate_limit_burst"`

	BrowserMode  string `mapstructure:"browser_mode"`
	ChromePath   string `mapstructure:"chrome_path"`
	BrowserImage string `mapstructure:"browser_image"`

	InputSelector string `mapstructure:"input_selector"`
	URLParamName  string `mapstructure:"url_param_name"`
}

// SetDefaults registers every key with its default value.
// Registering all keys also lets AutomaticEnv pick them up during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size", 100)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age", 30)

	v.SetDefault("timeout", 5000)
	v.SetDefault("max_timeout", 30000)
	v.SetDefault("navigation_timeout", 15*time.Second)
	v.SetDefault("element_timeout", 3*time.Second)
	v.SetDefault("launch_timeout", 30*time.Second)
	v.SetDefault("request_deadline", 60*time.Second)

	v.SetDefault("max_concurrent_checks", 5)
	v.SetDefault("rate_limit_per_hour", 600)
	v.SetDefault("rate_limit_burst", 20)

	v.SetDefault("browser_mode", BrowserModeLocal)
	v.SetDefault("chrome_path", "")
	v.SetDefault("browser_image", "browserless/chrome:latest")

	v.SetDefault("input_selector", ".searchInput")
	v.SetDefault("url_param_name", "q")
}

// NewViper returns a viper instance with defaults and environment binding in place.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// NewDefaultConfig builds a Config from defaults only, ignoring the environment.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// LoadEnvFile loads a .env file into the process environment. A missing file is not an error.
func LoadEnvFile(path string) (bool, error) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return true, nil
}

// ReadConfigFile merges a YAML config file into v when path is set.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.BrowserMode = strings.ToLower(strings.TrimSpace(cfg.BrowserMode))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be a positive number of milliseconds"))
	}
	if c.MaxTimeoutMS < c.TimeoutMS {
		errs = append(errs, fmt.Errorf("max_timeout (%dms) must not be below timeout (%dms)", c.MaxTimeoutMS, c.TimeoutMS))
	}
	if c.NavigationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("navigation_timeout must be positive"))
	}
	if c.ElementTimeout <= 0 || c.ElementTimeout >= c.Timeout() {
		errs = append(errs, fmt.Errorf("element_timeout must be positive and shorter than timeout"))
	}
	if c.LaunchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("launch_timeout must be positive"))
	}
	if c.RequestDeadline <= 0 {
		errs = append(errs, fmt.Errorf("request_deadline must be positive"))
	}
	if c.MaxConcurrentChecks < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_checks must be a positive integer"))
	}
	if c.RateLimitPerHour < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, fmt.Errorf("rate limit settings must not be negative"))
	}
	if c.BrowserMode != BrowserModeLocal && c.BrowserMode != BrowserModeDocker {
		errs = append(errs, fmt.Errorf("browser_mode must be %q or %q, got %q", BrowserModeLocal, BrowserModeDocker, c.BrowserMode))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	if strings.TrimSpace(c.InputSelector) == "" {
		errs = append(errs, fmt.Errorf("input_selector must not be empty"))
	}
	if strings.TrimSpace(c.URLParamName) == "" {
		errs = append(errs, fmt.Errorf("url_param_name must not be empty"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the default popup detection window.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// MaxTimeout returns the largest detection window a request may ask for.
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMS) * time.Millisecond
}
