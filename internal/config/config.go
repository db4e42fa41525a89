package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "label-api.yaml"
	DefaultEnvFile    = ".env"
	envPrefix         = "LABEL_API_"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Printer PrinterConfig `yaml:"printer"`
	Auth    AuthConfig    `yaml:"auth"`
	Webhook WebhookConfig `yaml:"webhook"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
	Debug   bool          `yaml:"debug"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StaticDir       string        `yaml:"static_dir"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type PrinterConfig struct {
	Model              string        `yaml:"model"`
	Backend            string        `yaml:"backend"`
	Identifier         string        `yaml:"identifier"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout"`
	StatusTimeout      time.Duration `yaml:"status_timeout"`
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
}

// AuthConfig enables login for the print endpoint when PasswordHash holds a
// bcrypt hash. An empty JWTSecret gets a random per-process secret.
type AuthConfig struct {
	PasswordHash  string        `yaml:"password_hash"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

type WebhookConfig struct {
	URL         string        `yaml:"url"`
	Secret      string        `yaml:"secret"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8765,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			StaticDir:       "./public",
			MaxBodyBytes:    16 << 20,
		},
		Printer: PrinterConfig{
			Model:              "TE200",
			Identifier:         "file:///dev/usb/lp0",
			ConnectionTimeout:  10 * time.Second,
			StatusTimeout:      30 * time.Second,
			StatusPollInterval: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		Webhook: WebhookConfig{
			Timeout:     10 * time.Second,
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads configPath over the defaults. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv exports the variables of an env file into the process
// environment. Variables already set in the environment win. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with LABEL_API_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("HOST", &c.Server.Host)
	integer("PORT", &c.Server.Port)
	str("STATIC_DIR", &c.Server.StaticDir)
	if v, ok := os.LookupEnv(envPrefix + "MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BODY_BYTES: %w", envPrefix, err))
		} else {
			c.Server.MaxBodyBytes = n
		}
	}

	str("MODEL", &c.Printer.Model)
	str("BACKEND", &c.Printer.Backend)
	str("PRINTER", &c.Printer.Identifier)

	str("AUTH_PASSWORD_HASH", &c.Auth.PasswordHash)
	str("JWT_SECRET", &c.Auth.JWTSecret)

	str("WEBHOOK_URL", &c.Webhook.URL)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)

	boolean("METRICS_ENABLED", &c.Metrics.Enabled)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)

	boolean("DEBUG", &c.Debug)

	return errors.Join(errs...)
}

func (c *Config) AuthEnabled() bool {
	return c.Auth.PasswordHash != ""
}

func (c *Config) WebhookEnabled() bool {
	return c.Webhook.URL != ""
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// finalize applies settings derived from other settings.
func (c *Config) finalize() {
	if c.Debug {
		c.Logging.Level = "debug"
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server shutdown timeout must be non-negative")
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	if strings.TrimSpace(c.Printer.Model) == "" {
		return fmt.Errorf("printer model is required")
	}

	if strings.TrimSpace(c.Printer.Identifier) == "" {
		return fmt.Errorf("printer identifier is required")
	}

	validBackends := map[string]bool{
		"":             true,
		"network":      true,
		"file":         true,
		"linux_kernel": true,
		"dryrun":       true,
	}

	if !validBackends[strings.ToLower(c.Printer.Backend)] {
		return fmt.Errorf("invalid printer backend: %s (valid: network, file, linux_kernel, dryrun)", c.Printer.Backend)
	}

	if c.Printer.ConnectionTimeout < 0 {
		return fmt.Errorf("printer connection timeout must be non-negative")
	}

	if c.Printer.StatusTimeout < 0 {
		return fmt.Errorf("printer status timeout must be non-negative")
	}

	if c.Printer.StatusPollInterval < 0 {
		return fmt.Errorf("printer status poll interval must be non-negative")
	}

	if c.AuthEnabled() && c.Auth.TokenDuration <= 0 {
		return fmt.Errorf("auth token duration must be positive")
	}

	if c.WebhookEnabled() {
		u, err := url.Parse(c.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook url must be an absolute http(s) url, got %q", c.Webhook.URL)
		}

		if c.Webhook.RetryCount < 1 {
			return fmt.Errorf("webhook retry count must be at least 1")
		}

		if c.Webhook.RetryDelay < 0 {
			return fmt.Errorf("webhook retry delay must be non-negative")
		}

		if c.Webhook.WorkerCount < 1 {
			return fmt.Errorf("webhook worker count must be at least 1")
		}

		if c.Webhook.QueueSize < 1 {
			return fmt.Errorf("webhook queue size must be at least 1")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /, got %q", c.Metrics.Path)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
