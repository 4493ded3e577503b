// Package config loads and validates coordinator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Run         RunConfig         `mapstructure:"run"`
	DB          DBConfig          `mapstructure:"db"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior. The default host is loopback:
// workers are untrusted browser scripts on the same machine and the API
// carries no authentication.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RunConfig governs crawl-run coordination behavior.
type RunConfig struct {
	TargetProducts      int `mapstructure:"target_products"`
	StoreSampleSize     int `mapstructure:"store_sample_size"`
	StuckThreshold      int `mapstructure:"stuck_threshold"`
	VisitTimeoutSeconds int `mapstructure:"visit_timeout_seconds"`
}

// DBConfig controls access to the product database. An empty DSN selects the
// in-memory store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StorageConfig sets the blob storage destination. The bucket wins over the
// local directory; with neither set the in-memory store is used.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for accepted-product notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PersistenceConfig carries the opaque operator credential forwarded to the
// persistence collaborator.
type PersistenceConfig struct {
	OperatorKey string `mapstructure:"operator_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("run.target_products", 100)
	v.SetDefault("run.store_sample_size", 10)
	v.SetDefault("run.stuck_threshold", 5)
	v.SetDefault("run.visit_timeout_seconds", 120)
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("pubsub.topic_name", "accepted-products")
	v.SetDefault("persistence.operator_key", "local-dev")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Run.TargetProducts <= 0 {
		return fmt.Errorf("run.target_products must be > 0")
	}
	if c.Run.StoreSampleSize <= 0 {
		return fmt.Errorf("run.store_sample_size must be > 0")
	}
	if c.Run.StuckThreshold <= 0 {
		return fmt.Errorf("run.stuck_threshold must be > 0")
	}
	if c.Run.VisitTimeoutSeconds <= 0 {
		return fmt.Errorf("run.visit_timeout_seconds must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// VisitTimeout converts the configured seconds into a duration.
func (c Config) VisitTimeout() time.Duration {
	return time.Duration(c.Run.VisitTimeoutSeconds) * time.Second
}
