// Package config loads sequencer configuration from defaults, an optional
// config file, and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sequencer node
type Config struct {
	Node      NodeConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	API       APIConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Submitter SubmitterConfig
}

// NodeConfig holds validator-identity configuration
type NodeConfig struct {
	// ValidatorKey is the hex-encoded secp256k1 private key of this validator
	ValidatorKey string
	// Epoch is the epoch this node boots into
	Epoch uint64
	// CommitteeFile is the path to the genesis committee definition
	CommitteeFile string
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers string
	// ConsensusTopic is the topic transactions are handed off to
	ConsensusTopic string
	// ConnectivityTopic carries peer connectivity events
	ConnectivityTopic string
	ConsumerGroup     string
}

// APIConfig holds API-related configuration
type APIConfig struct {
	Port               string
	CORSAllowedOrigins []string
	// RateLimit is the number of requests allowed per client per minute
	RateLimit int
}

// LogConfig holds logging-related configuration
type LogConfig struct {
	Level       string
	Environment string
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	Namespace string
	Enabled   bool
}

// SubmitterConfig holds delivery-protocol configuration
type SubmitterConfig struct {
	AckTimeout   time.Duration
	RetryBackoff time.Duration
	WarnInterval time.Duration
}

// LoadOptions controls where configuration is loaded from
type LoadOptions struct {
	// ConfigFile is an optional path to a config file (yaml, toml, json)
	ConfigFile string
	// EnvPrefix is the prefix for environment variable binding
	EnvPrefix string
}

// DefaultLoadOptions returns the default load options
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		EnvPrefix: "SEQUENCER",
	}
}

// Load loads configuration with the default options
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration from defaults, then the optional
// config file, then environment variables. Later sources win.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	cfg := &Config{
		Node: NodeConfig{
			ValidatorKey:  v.GetString("node.validator_key"),
			Epoch:         v.GetUint64("node.epoch"),
			CommitteeFile: v.GetString("node.committee_file"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers:           v.GetString("kafka.brokers"),
			ConsensusTopic:    v.GetString("kafka.consensus_topic"),
			ConnectivityTopic: v.GetString("kafka.connectivity_topic"),
			ConsumerGroup:     v.GetString("kafka.consumer_group"),
		},
		API: APIConfig{
			Port:               v.GetString("api.port"),
			CORSAllowedOrigins: v.GetStringSlice("api.cors_allowed_origins"),
			RateLimit:          v.GetInt("api.rate_limit"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Environment: v.GetString("log.environment"),
		},
		Metrics: MetricsConfig{
			Namespace: v.GetString("metrics.namespace"),
			Enabled:   v.GetBool("metrics.enabled"),
		},
		Submitter: SubmitterConfig{
			AckTimeout:   v.GetDuration("submitter.ack_timeout"),
			RetryBackoff: v.GetDuration("submitter.retry_backoff"),
			WarnInterval: v.GetDuration("submitter.warn_interval"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are present
func (c *Config) Validate() error {
	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.Kafka.Brokers == "" {
		return fmt.Errorf("kafka.brokers is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.validator_key", "")
	v.SetDefault("node.epoch", 0)
	v.SetDefault("node.committee_file", "committee.json")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.consensus_topic", "consensus_transactions")
	v.SetDefault("kafka.connectivity_topic", "peer_connectivity")
	v.SetDefault("kafka.consumer_group", "sequencer")

	v.SetDefault("api.port", "8080")
	v.SetDefault("api.cors_allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")

	v.SetDefault("metrics.namespace", "sequencer")
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("submitter.ack_timeout", 7*time.Second)
	v.SetDefault("submitter.retry_backoff", 10*time.Second)
	v.SetDefault("submitter.warn_interval", 30*time.Second)
}
