// Package config provides centralized configuration loading for all
// SignalHawk stages. Load returns an explicit *Config; components receive
// the section they need through their constructors.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the master configuration shared by every stage binary.
type Config struct {
	// Team is the team name stamped on every record, index and work message.
	Team string `mapstructure:"team"`

	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Store      StoreConfig      `mapstructure:"store"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Keys       KeysConfig       `mapstructure:"keys"`
	Translate  TranslateConfig  `mapstructure:"translate"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PipelineConfig names the message destinations between stages.
type PipelineConfig struct {
	// RawSubject is where the ingestion source publishes raw signal events.
	RawSubject string `mapstructure:"raw_subject"`

	// TopicPrefix is the fan-out topic; categories are appended to it.
	TopicPrefix string `mapstructure:"topic_prefix"`

	// QueueSubject is the work queue feeding the translation stage.
	QueueSubject string `mapstructure:"queue_subject"`

	// DeadLetterSubject prefixes the dead letter stream. Empty disables it.
	DeadLetterSubject string `mapstructure:"dead_letter_subject"`

	// AckWait bounds a single stage invocation; exceeding it counts as a
	// transient failure and the message is redelivered.
	AckWait time.Duration `mapstructure:"ack_wait"`

	// MaxDeliver bounds redelivery attempts per message.
	MaxDeliver int `mapstructure:"max_deliver"`

	// NakDelay is the backoff before a failed message is redelivered.
	NakDelay time.Duration `mapstructure:"nak_delay"`
}

// NATSConfig holds NATS message broker configuration.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Token         string        `mapstructure:"token"`
}

// StoreConfig configures the durable observation store.
type StoreConfig struct {
	// Table is the observation table name.
	Table string `mapstructure:"table"`

	// Migrate runs the embedded schema migrations at startup.
	Migrate bool `mapstructure:"migrate"`

	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ConnString renders the settings as a postgres:// URL.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": []string{p.SSLMode}}.Encode(),
	}
	return u.String()
}

// OpenSearchConfig holds OpenSearch connection settings for the alert index.
type OpenSearchConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
}

// KeysConfig locates the remote cipher key document.
type KeysConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TranslateConfig configures language detection and translation.
type TranslateConfig struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	TargetLanguage string `mapstructure:"target_language"`
}

// WebhookConfig configures the outbound notification sink.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig configures the optional notification ledger.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	Enabled   bool          `mapstructure:"enabled"`
	LedgerTTL time.Duration `mapstructure:"ledger_ttl"`
}

// MetricsConfig configures the /metrics and /healthz listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ErrMissingTeam is returned by Validate when no team name is configured.
var ErrMissingTeam = errors.New("team name is required")

// legacyEnv maps configuration keys to the environment variable names the
// original deployment used. They are honoured alongside the derived names.
// Names that held ARNs or queue URLs there are not bound: their values are
// not NATS subjects.
var legacyEnv = map[string][]string{
	"team":                   {"TEAM_NAME", "TeamName"},
	"webhook.url":            {"WEBHOOK_URL"},
	"keys.url":               {"KEYS_URL"},
	"store.table":            {"STORE_TABLE", "DynamoDBTable"},
	"opensearch.url":         {"OPENSEARCH_URL"},
	"opensearch.username":    {"OPENSEARCH_USERNAME"},
	"opensearch.password":    {"OPENSEARCH_PASSWORD"},
	"pipeline.topic_prefix":  {"TOPIC_PREFIX"},
	"pipeline.queue_subject": {"QUEUE_SUBJECT"},
	"translate.region":       {"AWS_REGION"},
}

// Load reads the config file at path plus environment overrides. An empty
// path means $SIGNALHAWK_CONFIG_DIR/config.yaml (default /etc/signalhawk).
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	configDir := os.Getenv("SIGNALHAWK_CONFIG_DIR")
	if configDir == "" {
		configDir = "/etc/signalhawk"
	}
	return LoadFile(filepath.Join(configDir, "config.yaml"))
}

// LoadFile reads configuration from path plus environment overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, names := range legacyEnv {
		_ = v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without reading a file or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the settings every stage depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Team) == "" {
		return ErrMissingTeam
	}
	if c.Pipeline.RawSubject == "" || c.Pipeline.TopicPrefix == "" || c.Pipeline.QueueSubject == "" {
		return errors.New("pipeline subjects must not be empty")
	}
	if strings.ContainsAny(c.Pipeline.TopicPrefix, "*> ") {
		return fmt.Errorf("topic prefix %q must be a literal subject", c.Pipeline.TopicPrefix)
	}
	if strings.ContainsAny(c.Pipeline.DeadLetterSubject, "*> ") {
		return fmt.Errorf("dead letter subject %q must be a literal subject", c.Pipeline.DeadLetterSubject)
	}
	return nil
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("team", "")

	// Pipeline defaults
	v.SetDefault("pipeline.raw_subject", "signals.raw")
	v.SetDefault("pipeline.topic_prefix", "signals.classified")
	v.SetDefault("pipeline.queue_subject", "signals.deciphered")
	v.SetDefault("pipeline.dead_letter_subject", "signals.dlq")
	v.SetDefault("pipeline.ack_wait", "30s")
	v.SetDefault("pipeline.max_deliver", 5)
	v.SetDefault("pipeline.nak_delay", "5s")

	// NATS defaults
	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")

	// Store defaults
	v.SetDefault("store.table", "observations")
	v.SetDefault("store.migrate", true)
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.database", "signalhawk")
	v.SetDefault("store.postgres.user", "signalhawk")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.max_conns", 10)

	// OpenSearch defaults
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)

	// Key provider defaults
	v.SetDefault("keys.url", "https://htf-2025-cipher-keys.s3.eu-central-1.amazonaws.com/keys.xml")
	v.SetDefault("keys.timeout", "10s")

	// Translation defaults
	v.SetDefault("translate.region", "eu-central-1")
	v.SetDefault("translate.endpoint", "")
	v.SetDefault("translate.target_language", "en")

	// Webhook defaults
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.ledger_ttl", "24h")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
