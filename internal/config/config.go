// Package config loads and validates gateway configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
)

// EnvPrefix is prepended to every environment override, e.g. SCRAPER_ENGINE_BASE_URL.
const EnvPrefix = "SCRAPER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig points at the remote engine deployment and bounds polling.
type EngineConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAnomalies    int           `mapstructure:"max_anomalies"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	DispatchRetries int           `mapstructure:"dispatch_retries"`
	StatusRetries   int           `mapstructure:"status_retries"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
}

// WorkerConfig sizes the async job pool.
type WorkerConfig struct {
	Concurrency int                    `mapstructure:"concurrency"`
	QueueDepth  int                    `mapstructure:"queue_depth"`
	EngineRPS   float64                `mapstructure:"engine_rps"`
	EngineBurst int                    `mapstructure:"engine_burst"`
	PerEngine   map[string]EngineLimit `mapstructure:"per_engine"`
}

// EngineLimit overrides the dispatch rate for one engine.
type EngineLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// StorageConfig selects where scrape artifacts are written.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the attempt history database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig points the job store at a shared Redis so any replica can
// answer job lookups.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PolicyConfig lists target hosts the gateway refuses to scrape. Entries are
// exact hosts or "*.suffix" wildcards.
type PolicyConfig struct {
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with explicit key overrides (e.g. "engine.base_url")
// that take precedence over the file and the environment. Command line flags
// use it.
func LoadWithOverrides(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("engine.base_url", "")
	v.SetDefault("engine.timeout", 10*time.Second)
	v.SetDefault("engine.max_anomalies", 3)
	v.SetDefault("engine.poll_interval", 250*time.Millisecond)
	v.SetDefault("engine.request_timeout", 30*time.Second)
	v.SetDefault("engine.dispatch_retries", 2)
	v.SetDefault("engine.status_retries", 0)
	v.SetDefault("engine.backoff_initial", 250*time.Millisecond)
	v.SetDefault("engine.backoff_max", 2*time.Second)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.engine_rps", 0)
	v.SetDefault("worker.engine_burst", 1)
	v.SetDefault("storage.prefix", "scrapes")
	v.SetDefault("db.table", "scrape_attempts")
	v.SetDefault("redis.key_prefix", "scrape:job:")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("policy.blocked_domains", []string{})
	v.SetDefault("pubsub.topic_name", "scrape-jobs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "scrape-engine-gateway")
	// Registered so AutomaticEnv can override keys absent from the file.
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("pubsub.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}
	if u, err := url.ParseRequestURI(c.Engine.BaseURL); err != nil || u.Host == "" {
		return fmt.Errorf("engine.base_url must be an absolute url")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be > 0")
	}
	if c.Engine.MaxAnomalies <= 0 {
		return fmt.Errorf("engine.max_anomalies must be > 0")
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be > 0")
	}
	if c.Engine.DispatchRetries < 0 || c.Engine.StatusRetries < 0 {
		return fmt.Errorf("engine retries must be >= 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	for name := range c.Worker.PerEngine {
		if !engine.Kind(name).Valid() {
			return fmt.Errorf("worker.per_engine: unknown engine %q", name)
		}
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Storage.GCSBucket != "" && c.Storage.LocalDir != "" {
		return fmt.Errorf("storage: set only one of gcs_bucket and local_dir")
	}
	if c.Redis.Addr != "" && c.Redis.TTL < 0 {
		return fmt.Errorf("redis.ttl must be >= 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// PerEngineLimits returns worker.per_engine keyed by engine kind.
func (c Config) PerEngineLimits() map[engine.Kind]EngineLimit {
	out := make(map[engine.Kind]EngineLimit, len(c.Worker.PerEngine))
	for name, lim := range c.Worker.PerEngine {
		out[engine.Kind(name)] = lim
	}
	return out
}
