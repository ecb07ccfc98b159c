// ABOUTME: Configuration loading and parsing for botfactory
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// TokenEnv names the environment variable holding the factory bot token.
	TokenEnv = "FACTORY_BOT_TOKEN"

	DefaultHTTPAddr      = "127.0.0.1:8080"
	DefaultDatabasePath  = "./botfactory.db"
	DefaultStartTimeout  = 30 * time.Second
	DefaultStopTimeout   = 10 * time.Second
	DefaultHistoryLimit  = 20
	DefaultReconcileJobs = 4
	DefaultMetricsPath   = "/metrics"

	minJWTSecretLength = 32
)

// Config represents the complete botfactory configuration
type Config struct {
	Factory  FactoryConfig  `yaml:"factory"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Tenants  TenantsConfig  `yaml:"tenants"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// FactoryConfig holds the provisioning bot's credential
type FactoryConfig struct {
	Token string `yaml:"token"`
}

// GatewayConfig points at the OpenAI-compatible completion endpoint.
// Empty fields fall back to the llm package defaults.
type GatewayConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature *float32 `yaml:"temperature"` // nil means the gateway client default
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret leaves
// the operator API unmounted.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TenantsConfig holds tenant lifecycle settings
type TenantsConfig struct {
	StartTimeout         time.Duration `yaml:"-"`
	StopTimeout          time.Duration `yaml:"-"`
	HistoryLimit         int           `yaml:"history_limit"`
	ReconcileConcurrency int           `yaml:"reconcile_concurrency"`

	// Raw string values for YAML unmarshaling
	StartTimeoutRaw string `yaml:"start_timeout"`
	StopTimeoutRaw  string `yaml:"stop_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present. The
// factory token comes from the environment.
func Default() *Config {
	cfg := &Config{
		Factory: FactoryConfig{Token: os.Getenv(TokenEnv)},
		Metrics: MetricsConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// A file without a factory section still picks up the token from the environment
	if cfg.Factory.Token == "" {
		cfg.Factory.Token = os.Getenv(TokenEnv)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
// The fallback is still validated, so a missing token is reported either way.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}
	return cfg, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}
	if cfg.Tenants.StartTimeout == 0 {
		cfg.Tenants.StartTimeout = DefaultStartTimeout
	}
	if cfg.Tenants.StopTimeout == 0 {
		cfg.Tenants.StopTimeout = DefaultStopTimeout
	}
	if cfg.Tenants.HistoryLimit == 0 {
		cfg.Tenants.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Tenants.ReconcileConcurrency == 0 {
		cfg.Tenants.ReconcileConcurrency = DefaultReconcileJobs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Factory.Token == "" {
		return fmt.Errorf("factory.token is required (or set %s)", TokenEnv)
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	if c.Tenants.HistoryLimit < 0 {
		return fmt.Errorf("tenants.history_limit must not be negative")
	}
	if c.Tenants.StartTimeout < 0 || c.Tenants.StopTimeout < 0 {
		return fmt.Errorf("tenants timeouts must not be negative")
	}

	if t := c.Gateway.Temperature; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("gateway.temperature must be between 0 and 1")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Tenants.StartTimeoutRaw != "" {
		cfg.Tenants.StartTimeout, err = time.ParseDuration(cfg.Tenants.StartTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing start_timeout %q: %w", cfg.Tenants.StartTimeoutRaw, err)
		}
	}

	if cfg.Tenants.StopTimeoutRaw != "" {
		cfg.Tenants.StopTimeout, err = time.ParseDuration(cfg.Tenants.StopTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stop_timeout %q: %w", cfg.Tenants.StopTimeoutRaw, err)
		}
	}

	return nil
}

// Sample is the annotated configuration written by "botfactory init".
const Sample = `# botfactory configuration

factory:
  # Token of the provisioning bot
  token: "${FACTORY_BOT_TOKEN}"

gateway:
  base_url: "https://api.onlysq.ru/ai/openai/v1"
  api_key: "${GATEWAY_API_KEY}"
  model: "gpt-4o-mini"
  temperature: 0.7

server:
  http_addr: "127.0.0.1:8080"

database:
  path: "./botfactory.db"

auth:
  # At least 32 bytes; leave empty to disable the operator API
  jwt_secret: "${BOTFACTORY_JWT_SECRET}"

tenants:
  start_timeout: "30s"
  stop_timeout: "10s"
  history_limit: 20
  reconcile_concurrency: 4

logging:
  level: "info"   # debug, info, warn, error
  format: "text"  # text, json

metrics:
  enabled: true
  path: "/metrics"
`
