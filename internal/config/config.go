// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Collector CollectorConfig `mapstructure:"collector"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Submit    SubmitConfig    `mapstructure:"submit"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CollectorConfig governs access to the external collector API.
type CollectorConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	Token               string `mapstructure:"token"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	PollRounds          int    `mapstructure:"poll_rounds"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	MaxRetries          int    `mapstructure:"max_retries"`
	BackoffInitialMs    int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int    `mapstructure:"backoff_max_ms"`
}

// MongoConfig controls access to the document store.
type MongoConfig struct {
	URI             string `mapstructure:"uri"`
	Database        string `mapstructure:"database"`
	JobsCollection  string `mapstructure:"jobs_collection"`
	PostsCollection string `mapstructure:"posts_collection"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets the blob handoff destination.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	ContentType string `mapstructure:"content_type"`
	LogPrefix   string `mapstructure:"log_prefix"`
}

// PubSubConfig holds metadata for terminal-outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SubmitConfig holds submission defaults.
type SubmitConfig struct {
	DefaultMaxPostsReplies int    `mapstructure:"default_max_posts_replies"`
	SortBy                 string `mapstructure:"sort_by"`
	MarkPostProcessing     bool   `mapstructure:"mark_post_processing"`
}

// QuotaWindow marks a period during which collector failures are suspected
// to be quota exhaustion rather than genuine failures. YAML accepts the
// bounds either as bare timestamps or as RFC 3339 strings.
type QuotaWindow struct {
	Start time.Time `mapstructure:"start"`
	End   time.Time `mapstructure:"end"`
}

// ReconcileConfig parameterizes the reconciliation engine.
type ReconcileConfig struct {
	TwitterVerifyMaxReplies     int           `mapstructure:"twitter_verify_max_replies"`
	FailedVerifySampleSize      int           `mapstructure:"failed_verify_sample_size"`
	StalledProcessingAgeMinutes int           `mapstructure:"stalled_processing_age_minutes"`
	QuotaWindows                []QuotaWindow `mapstructure:"quota_windows"`
	Schedule                    string        `mapstructure:"schedule"`
	Apply                       bool          `mapstructure:"apply"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRUST_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	// YAML hands unquoted timestamps over as time.Time already; the string
	// hook covers the quoted form.
	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("collector.poll_interval_seconds", 40)
	v.SetDefault("collector.poll_rounds", 80)
	v.SetDefault("collector.timeout_seconds", 30)
	v.SetDefault("collector.max_retries", 2)
	v.SetDefault("collector.backoff_initial_ms", 250)
	v.SetDefault("collector.backoff_max_ms", 2000)
	v.SetDefault("mongo.database", "trust_engine")
	v.SetDefault("mongo.jobs_collection", "pending_jobs")
	v.SetDefault("mongo.posts_collection", "posts")
	v.SetDefault("mongo.timeout_seconds", 10)
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("storage.log_prefix", "logs/errors")
	v.SetDefault("submit.default_max_posts_replies", 100)
	v.SetDefault("submit.sort_by", "latest")
	v.SetDefault("submit.mark_post_processing", true)
	v.SetDefault("reconcile.twitter_verify_max_replies", 2)
	v.SetDefault("reconcile.failed_verify_sample_size", 20)
	v.SetDefault("reconcile.stalled_processing_age_minutes", 120)
	v.SetDefault("reconcile.schedule", "0 */6 * * *")
	v.SetDefault("reconcile.apply", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Collector.BaseURL == "" {
		return fmt.Errorf("collector.base_url is required")
	}
	if c.Collector.Token == "" {
		return fmt.Errorf("collector.token is required")
	}
	if c.Collector.PollIntervalSeconds <= 0 {
		return fmt.Errorf("collector.poll_interval_seconds must be > 0")
	}
	if c.Collector.PollRounds <= 0 {
		return fmt.Errorf("collector.poll_rounds must be > 0")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Reconcile.FailedVerifySampleSize <= 0 {
		return fmt.Errorf("reconcile.failed_verify_sample_size must be > 0")
	}
	if c.Reconcile.StalledProcessingAgeMinutes <= 0 {
		return fmt.Errorf("reconcile.stalled_processing_age_minutes must be > 0")
	}
	for i, w := range c.Reconcile.QuotaWindows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("reconcile.quota_windows[%d]: %w", i, err)
		}
	}
	return nil
}

// PollInterval returns the collector polling cadence as a duration.
func (c CollectorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Validate checks the window bounds.
func (w QuotaWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("start and end are required")
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("window end %s before start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}
