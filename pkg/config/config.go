package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen     string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
		CronSecret string        `yaml:"cron_secret" json:"cron_secret" jsonschema:"description=Bearer token protecting the poll trigger endpoint"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:crossfeed.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Poller PollerConfig `yaml:"poller" json:"poller" jsonschema:"description=Feed polling configuration"`

	Dispatch DispatchConfig `yaml:"dispatch" json:"dispatch" jsonschema:"description=Cross-post delivery configuration"`

	Webhooks WebhooksConfig `yaml:"webhooks" json:"webhooks" jsonschema:"description=Inbound webhook configuration"`

	Analysis AnalysisConfig `yaml:"analysis" json:"analysis" jsonschema:"description=LLM content analysis configuration"`
}

// PollerConfig holds feed polling settings
type PollerConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval" jsonschema:"default=1m,description=Interval between poll cycles"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size" jsonschema:"default=10,minimum=1,description=Feeds fetched per batch"`
	BatchPause   time.Duration `yaml:"batch_pause" json:"batch_pause" jsonschema:"default=1s,description=Pause between batches"`
	SafetyMargin time.Duration `yaml:"safety_margin" json:"safety_margin" jsonschema:"default=1m,description=Minimum gap between polls of one feed"`
	MaxFeeds     int           `yaml:"max_feeds" json:"max_feeds" jsonschema:"default=100,description=Feed cap per poll cycle"`
	MaxWorkers   int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Parallel fetches within a batch"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Feed fetch timeout"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Crossfeed/1.0,description=User agent for feed requests"`
}

// DispatchConfig holds cross-post delivery settings
type DispatchConfig struct {
	Interval    time.Duration            `yaml:"interval" json:"interval" jsonschema:"default=30s,description=Interval between dispatch cycles"`
	BatchSize   int                      `yaml:"batch_size" json:"batch_size" jsonschema:"default=50,description=Jobs claimed per cycle"`
	MaxWorkers  int                      `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Parallel deliveries"`
	MaxAttempts int                      `yaml:"max_attempts" json:"max_attempts" jsonschema:"default=3,minimum=1,description=Delivery attempts before terminal failure"`
	RetryBase   time.Duration            `yaml:"retry_base" json:"retry_base" jsonschema:"default=1m,description=Retry backoff base"`
	RetryCap    time.Duration            `yaml:"retry_cap" json:"retry_cap" jsonschema:"default=1h,description=Retry backoff ceiling"`
	RateLimits  map[string]RateLimitSpec `yaml:"rate_limits" json:"rate_limits" jsonschema:"description=Per-platform publish budgets"`
}

// RateLimitSpec is one platform's publish budget
type RateLimitSpec struct {
	PerMinute int `yaml:"per_minute" json:"per_minute" jsonschema:"minimum=1,description=Publishes per minute"`
	Burst     int `yaml:"burst" json:"burst" jsonschema:"minimum=1,description=Burst allowance"`
}

// WebhooksConfig holds inbound webhook settings
type WebhooksConfig struct {
	Secrets map[string]string `yaml:"secrets" json:"secrets" jsonschema:"description=Per-platform webhook secrets; empty disables verification"`
}

// AnalysisConfig holds LLM analysis settings; disabled unless an API key
// is configured
type AnalysisConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable LLM content analysis"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model       string        `yaml:"model" json:"model" jsonschema:"default=gpt-4o-mini,description=Model name"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.2,description=Temperature for response generation"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=300,description=Maximum tokens in response"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:crossfeed.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for poller
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = time.Minute
	}
	if cfg.Poller.BatchSize == 0 {
		cfg.Poller.BatchSize = 10
	}
	if cfg.Poller.BatchPause == 0 {
		cfg.Poller.BatchPause = time.Second
	}
	if cfg.Poller.SafetyMargin == 0 {
		cfg.Poller.SafetyMargin = time.Minute
	}
	if cfg.Poller.MaxFeeds == 0 {
		cfg.Poller.MaxFeeds = 100
	}
	if cfg.Poller.MaxWorkers == 0 {
		cfg.Poller.MaxWorkers = 5
	}
	if cfg.Poller.Timeout == 0 {
		cfg.Poller.Timeout = 30 * time.Second
	}
	if cfg.Poller.UserAgent == "" {
		cfg.Poller.UserAgent = "Crossfeed/1.0"
	}

	// set defaults for dispatch
	if cfg.Dispatch.Interval == 0 {
		cfg.Dispatch.Interval = 30 * time.Second
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.MaxWorkers == 0 {
		cfg.Dispatch.MaxWorkers = 5
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.RetryBase == 0 {
		cfg.Dispatch.RetryBase = time.Minute
	}
	if cfg.Dispatch.RetryCap == 0 {
		cfg.Dispatch.RetryCap = time.Hour
	}

	// set defaults for analysis
	if cfg.Analysis.Model == "" {
		cfg.Analysis.Model = "gpt-4o-mini"
	}
	if cfg.Analysis.Temperature == 0 {
		cfg.Analysis.Temperature = 0.2
	}
	if cfg.Analysis.MaxTokens == 0 {
		cfg.Analysis.MaxTokens = 300
	}
	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = 30 * time.Second
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	if cfg.Poller.BatchSize < 1 {
		return fmt.Errorf("poller.batch_size must be at least 1")
	}
	if cfg.Poller.Timeout < time.Second {
		return fmt.Errorf("poller.timeout must be at least 1 second")
	}

	if cfg.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	if cfg.Dispatch.RetryBase <= 0 {
		return fmt.Errorf("dispatch.retry_base must be positive")
	}
	for name, rl := range cfg.Dispatch.RateLimits {
		if rl.PerMinute < 1 {
			return fmt.Errorf("dispatch.rate_limits.%s.per_minute must be at least 1", name)
		}
	}

	if cfg.Analysis.Enabled {
		if cfg.Analysis.APIKey == "" {
			return fmt.Errorf("analysis.api_key is required when analysis is enabled")
		}
		if cfg.Analysis.Temperature < 0 || cfg.Analysis.Temperature > 2 {
			return fmt.Errorf("analysis.temperature must be between 0 and 2")
		}
	}

	return nil
}
