package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded from a YAML file
// with environment variable expansion.
type Config struct {
	// Server holds HTTP server settings.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Webhook holds the inbound delivery endpoint settings.
	Webhook WebhookConfig `yaml:"webhook"`
	// Storage holds event store settings.
	Storage StorageConfig `yaml:"storage"`
	// Events holds read-side and retention settings.
	Events EventsConfig `yaml:"events"`
	// Notify holds the downstream publisher settings.
	Notify NotifyConfig `yaml:"notify"`
	// Rules select notification topics for accepted events.
	Rules []Rule `yaml:"rules"`
	// Backfill seeds the store from the platform API at startup.
	Backfill BackfillConfig `yaml:"backfill"`
}

// WebhookConfig configures the inbound webhook endpoint.
type WebhookConfig struct {
	Path   string `yaml:"path"`
	Secret string `yaml:"secret"`
	// Scheme selects the HMAC digest: "sha1" or "sha256".
	Scheme string `yaml:"scheme"`
	// StoreTimeoutMS bounds each store write.
	StoreTimeoutMS int64 `yaml:"store_timeout_ms"`
}

// StorageConfig configures the event store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// EventsConfig configures the polling read side and retention.
type EventsConfig struct {
	PageLimit      int    `yaml:"page_limit"`
	MaxLimit       int    `yaml:"max_limit"`
	RetentionHours int    `yaml:"retention_hours"`
	CleanupCron    string `yaml:"cleanup_cron"`
}

// BackfillConfig configures the optional startup backfill from the
// platform REST API.
type BackfillConfig struct {
	Enabled bool   `yaml:"enabled"`
	Repo    string `yaml:"repo"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Pages   int    `yaml:"pages"`
}

// NotifyConfig holds the configuration for the watermill-based notifier.
type NotifyConfig struct {
	Driver       string             `yaml:"driver"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka driver.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS streaming driver.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP driver.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL outbox driver.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP forwarder driver.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// PublishRetryConfig bounds notify publish retries.
type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// LoadConfig loads the configuration from a YAML file. Environment
// variables referenced as ${VAR} are expanded before decoding, defaults
// are applied, and required settings are validated. The webhook secret is
// required: without it deliveries cannot be authenticated, so startup
// fails instead of running an endpoint that rejects everything.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return errors.New("webhook secret is required")
	}
	if cfg.Webhook.Scheme != "sha1" && cfg.Webhook.Scheme != "sha256" {
		return fmt.Errorf("unsupported webhook scheme: %s", cfg.Webhook.Scheme)
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		return errors.New("storage dsn is required")
	}
	if cfg.Backfill.Enabled && cfg.Backfill.Repo == "" {
		return errors.New("backfill repo is required when backfill is enabled")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if cfg.Webhook.Scheme == "" {
		cfg.Webhook.Scheme = "sha1"
	}
	if cfg.Webhook.StoreTimeoutMS == 0 {
		cfg.Webhook.StoreTimeoutMS = 5000
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = "repo_events"
	}
	if cfg.Events.PageLimit == 0 {
		cfg.Events.PageLimit = 10
	}
	if cfg.Events.MaxLimit == 0 {
		cfg.Events.MaxLimit = 100
	}
	if cfg.Events.RetentionHours == 0 {
		cfg.Events.RetentionHours = 24
	}
	if cfg.Events.CleanupCron == "" {
		cfg.Events.CleanupCron = "@every 1h"
	}
	if cfg.Notify.Driver == "" {
		cfg.Notify.Driver = "gochannel"
	}
	if cfg.Notify.GoChannel.OutputChannelBuffer == 0 {
		cfg.Notify.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Notify.HTTP.Mode == "" {
		cfg.Notify.HTTP.Mode = "topic_url"
	}
	if cfg.Notify.PublishRetry.Attempts == 0 {
		cfg.Notify.PublishRetry.Attempts = 3
	}
	if cfg.Notify.PublishRetry.DelayMS == 0 {
		cfg.Notify.PublishRetry.DelayMS = 500
	}
	if cfg.Backfill.Pages == 0 {
		cfg.Backfill.Pages = 1
	}
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Emit = strings.TrimSpace(rule.Emit)
		if rule.When == "" || rule.Emit == "" {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		out = append(out, rule)
	}
	return out, nil
}
