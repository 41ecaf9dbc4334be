package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the reconstitution
// service: Wikipedia API access, the reconstitution pipeline's own
// tunables, the cache backend, the optional analytics/events/history
// sinks, the HTTP surface, and logging.
type Config struct {
	Wikipedia     Wikipedia     `yaml:"wikipedia"`
	Reconstitute  Reconstitute  `yaml:"reconstitute"`
	Cache         Cache         `yaml:"cache"`
	Redis         Redis         `yaml:"redis"`
	Elasticsearch Elasticsearch `yaml:"elasticsearch"`
	Kafka         Kafka         `yaml:"kafka"`
	History       History       `yaml:"history"`
	Warmer        Warmer        `yaml:"warmer"`
	API           API           `yaml:"api"`
	Logging       Logging       `yaml:"logging"`
}

// Wikipedia configures the MediaWiki action API client.
type Wikipedia struct {
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Reconstitute holds the per-operation bounds the pipeline is defined
// against: the LCS/merge deadline, the size-gate
// threshold, the abandon-after-N-timeouts rule, and the section worker
// concurrency cap.
type Reconstitute struct {
	MergeDeadline           time.Duration `yaml:"merge_deadline"`
	SizeGateBytes           int           `yaml:"size_gate_bytes"`
	MaxConsecutiveTimeouts  int           `yaml:"max_consecutive_timeouts"`
	MaxSectionConcurrency   int           `yaml:"max_section_concurrency"`
}

// Cache selects and configures the API-response cache backend.
type Cache struct {
	Backend string        `yaml:"backend"` // "memory" or "redis"
	TTL     time.Duration `yaml:"ttl"`
}

// Redis configures the Redis client shared by the cache, history-adjacent
// hot-title tracker, and rate limiter.
type Redis struct {
	URL string `yaml:"url"`
}

// Elasticsearch configures the optional reconstitution-run analytics sink.
type Elasticsearch struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	RetentionDays int    `yaml:"retention_days"`
}

// Kafka configures the optional reconstitution-event publisher.
type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// History configures the SQLite-backed per-title history store.
type History struct {
	Path string `yaml:"path"`
}

// Warmer configures the optional recentchanges-driven cache warmer.
type Warmer struct {
	Enabled           bool          `yaml:"enabled"`
	HotThreshold      int           `yaml:"hot_threshold"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	MaxTrackedTitles  int           `yaml:"max_tracked_titles"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// API configures the HTTP front-end.
type API struct {
	Port         int          `yaml:"port"`
	MetricsPort  int          `yaml:"metrics_port"`
	RateLimiting RateLimiting `yaml:"rate_limiting"`
}

// RateLimiting configures the per-client sliding-window limiter.
type RateLimiting struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	BurstSize         int      `yaml:"burst_size"`
	Whitelist         []string `yaml:"whitelist"`
}

// Logging configures zerolog's output.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads configuration from a YAML file, applies defaults to any
// unset field, overrides with environment variables, and validates the
// result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %q: %w", path, err)
		}
	}

	setDefaults(&cfg)
	overrideWithEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(c *Config) {
	if c.Wikipedia.BaseURL == "" {
		c.Wikipedia.BaseURL = "https://en.wikipedia.org/w/api.php"
	}
	if c.Wikipedia.UserAgent == "" {
		c.Wikipedia.UserAgent = "WikiReconstitute/1.0 (https://github.com/sjpalmer/wikivandal)"
	}
	if c.Wikipedia.RequestsPerSecond == 0 {
		c.Wikipedia.RequestsPerSecond = 10
	}
	if c.Wikipedia.Burst == 0 {
		c.Wikipedia.Burst = 5
	}
	if c.Wikipedia.Timeout == 0 {
		c.Wikipedia.Timeout = 15 * time.Second
	}

	if c.Reconstitute.MergeDeadline == 0 {
		c.Reconstitute.MergeDeadline = 500 * time.Millisecond
	}
	if c.Reconstitute.SizeGateBytes == 0 {
		c.Reconstitute.SizeGateBytes = 1000
	}
	if c.Reconstitute.MaxConsecutiveTimeouts == 0 {
		c.Reconstitute.MaxConsecutiveTimeouts = 3
	}
	if c.Reconstitute.MaxSectionConcurrency == 0 {
		c.Reconstitute.MaxSectionConcurrency = 16
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}

	if c.Elasticsearch.URL == "" {
		c.Elasticsearch.URL = "http://localhost:9200"
	}
	if c.Elasticsearch.RetentionDays == 0 {
		c.Elasticsearch.RetentionDays = 30
	}

	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "reconstitution.events"
	}

	if c.History.Path == "" {
		c.History.Path = "data/history.db"
	}

	if c.Warmer.HotThreshold == 0 {
		c.Warmer.HotThreshold = 3
	}
	if c.Warmer.WindowDuration == 0 {
		c.Warmer.WindowDuration = 15 * time.Minute
	}
	if c.Warmer.MaxTrackedTitles == 0 {
		c.Warmer.MaxTrackedTitles = 1000
	}
	if c.Warmer.CleanupInterval == 0 {
		c.Warmer.CleanupInterval = 5 * time.Minute
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.MetricsPort == 0 {
		c.API.MetricsPort = 2112
	}
	if c.API.RateLimiting.RequestsPerMinute == 0 {
		c.API.RateLimiting.RequestsPerMinute = 120
	}
	if c.API.RateLimiting.BurstSize == 0 {
		c.API.RateLimiting.BurstSize = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func overrideWithEnv(c *Config) {
	if v := os.Getenv("WIKIVANDAL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.API.Port = p
		}
	}
	if v := os.Getenv("WIKIVANDAL_METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.API.MetricsPort = p
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("ES_URL"); v != "" {
		c.Elasticsearch.URL = v
		c.Elasticsearch.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("HISTORY_DB_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("WARMER_ENABLED"); v == "true" || v == "1" {
		c.Warmer.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func validate(c *Config) error {
	if c.Wikipedia.BaseURL == "" {
		return fmt.Errorf("wikipedia.base_url must not be empty")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", c.Cache.Backend)
	}
	if c.Reconstitute.MaxConsecutiveTimeouts <= 0 {
		return fmt.Errorf("reconstitute.max_consecutive_timeouts must be positive")
	}
	if c.Reconstitute.SizeGateBytes <= 0 {
		return fmt.Errorf("reconstitute.size_gate_bytes must be positive")
	}
	if c.Elasticsearch.Enabled && c.Elasticsearch.RetentionDays <= 0 {
		return fmt.Errorf("elasticsearch.retention_days must be positive when enabled")
	}
	return nil
}
