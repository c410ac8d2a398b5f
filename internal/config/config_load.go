package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPPort        = 4281
	DefaultWSPort          = 4282
	DefaultQueueCapacity   = 1000
	DefaultReplayBuffer    = 256
	DefaultReplayRetention = 300
	DefaultDedupeTTL       = 300
	DefaultHealthCheckCron = "* * * * *"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		HTTPPort:           DefaultHTTPPort,
		WSPort:             DefaultWSPort,
		Host:               "127.0.0.1",
		Enabled:            false,
		Accounts:           map[string]map[string]AccountConfig{},
		QueueCapacity:      DefaultQueueCapacity,
		ReplayBufferSize:   DefaultReplayBuffer,
		ReplayRetentionSec: DefaultReplayRetention,
		DedupeTTLSeconds:   DefaultDedupeTTL,
		HealthCheckCron:    DefaultHealthCheckCron,
		OutboundRateLimit:  RateLimitConfig{PerSecond: 5, Burst: 5},
		Store:              StoreConfig{Driver: "memory"},
		Telemetry:          TelemetryConfig{Protocol: "grpc", ServiceName: "clawgate"},
	}
}

// Load reads config from a JSON5 or YAML file (chosen by extension), then
// overlays env vars. A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// envOverlay lists every setting that may come from the environment.
// Env vars take precedence over file values; zero values are ignored.
type envOverlay struct {
	HTTPPort       int      `env:"HTTP_PORT"`
	WSPort         int      `env:"WS_PORT"`
	Host           string   `env:"HOST"`
	Enabled        string   `env:"ENABLED"`
	AuthToken      string   `env:"AUTH_TOKEN"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	StoreDriver    string   `env:"STORE_DRIVER"`
	StoreDSN       string   `env:"STORE_DSN"`

	TelemetryEnabled  string `env:"TELEMETRY_ENABLED"`
	TelemetryEndpoint string `env:"TELEMETRY_ENDPOINT"`
	TelemetryProtocol string `env:"TELEMETRY_PROTOCOL"`

	DiscordBotToken   string `env:"DISCORD_BOT_TOKEN"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`
	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackWebhookURL   string `env:"SLACK_WEBHOOK_URL"`
	SlackSigning      string `env:"SLACK_SIGNING_SECRET"`
	TelegramBotToken  string `env:"TELEGRAM_BOT_TOKEN"`
}

// EnvPrefix is prepended to every env var name.
const EnvPrefix = "CLAWGATE_"

func (c *Config) applyEnvOverrides() error {
	var o envOverlay
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return err
	}

	if o.HTTPPort > 0 {
		c.HTTPPort = o.HTTPPort
	}
	if o.WSPort > 0 {
		c.WSPort = o.WSPort
	}
	envStr := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	envStr(o.Host, &c.Host)
	envStr(o.AuthToken, &c.AuthToken)
	envStr(o.StoreDriver, &c.Store.Driver)
	envStr(o.StoreDSN, &c.Store.DSN)
	envStr(o.TelemetryEndpoint, &c.Telemetry.Endpoint)
	envStr(o.TelemetryProtocol, &c.Telemetry.Protocol)
	if o.Enabled != "" {
		c.Enabled = o.Enabled == "true" || o.Enabled == "1"
	}
	if o.TelemetryEnabled != "" {
		c.Telemetry.Enabled = o.TelemetryEnabled == "true" || o.TelemetryEnabled == "1"
	}
	if len(o.AllowedOrigins) > 0 {
		c.AllowedOrigins = o.AllowedOrigins
	}

	// Credentials from env land on the "default" account of their platform
	// and auto-enable it.
	c.envAccount("discord", "bot_token", o.DiscordBotToken)
	c.envAccount("discord", "webhook_url", o.DiscordWebhookURL)
	c.envAccount("slack", "bot_token", o.SlackBotToken)
	c.envAccount("slack", "webhook_url", o.SlackWebhookURL)
	c.envAccount("slack", "signing_secret", o.SlackSigning)
	c.envAccount("telegram", "bot_token", o.TelegramBotToken)
	return nil
}

func (c *Config) envAccount(platform, key, value string) {
	if value == "" {
		return
	}
	if c.Accounts == nil {
		c.Accounts = map[string]map[string]AccountConfig{}
	}
	if c.Accounts[platform] == nil {
		c.Accounts[platform] = map[string]AccountConfig{}
	}
	acct := c.Accounts[platform]["default"]
	if acct.Settings == nil {
		acct.Settings = map[string]any{}
	}
	acct.Settings[key] = value
	acct.Enabled = true
	c.Accounts[platform]["default"] = acct
}

// Validate checks ports, the health-check schedule and the store driver.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ports := []struct {
		name string
		port int
	}{{"httpPort", c.HTTPPort}, {"wsPort", c.WSPort}}
	for _, p := range ports {
		if p.port < 1024 || p.port > 65535 {
			return fmt.Errorf("%w: %s %d outside 1024-65535", ErrInvalidConfig, p.name, p.port)
		}
	}
	if c.HTTPPort == c.WSPort {
		return fmt.Errorf("%w: httpPort and wsPort must differ (both %d)", ErrInvalidConfig, c.HTTPPort)
	}
	if c.HealthCheckCron != "" && !gronx.New().IsValid(c.HealthCheckCron) {
		return fmt.Errorf("%w: healthCheckCron %q is not a valid cron expression", ErrInvalidConfig, c.HealthCheckCron)
	}
	switch c.Store.Driver {
	case "", "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.QueueCapacity < 0 || c.ReplayBufferSize < 0 {
		return fmt.Errorf("%w: queueCapacity and replayBufferSize must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Save writes the config to a file, as YAML or JSON by extension.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
