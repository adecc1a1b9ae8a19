// Package config loads and validates the engine configuration: store paths,
// threshold default, worker cadence, retry policy, and the optional NATS and
// metrics integrations.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	"github.com/Nomoos/PrismQ-sub002/internal/retry"
)

// Config is the full engine configuration.
type Config struct {
	DatabasePath         string   `yaml:"database_path"`
	EventsPath           string   `yaml:"events_path"`
	PassThresholdDefault int      `yaml:"pass_threshold_default"`
	WorkerPollIntervalMS int      `yaml:"worker_poll_interval_ms"`
	RetryMaxAttempts     int      `yaml:"retry_max_attempts"`
	RetryBaseBackoffMS   int      `yaml:"retry_base_backoff_ms"`
	RetryBackoff         string   `yaml:"retry_backoff"` // fixed|linear|exponential
	StagesEnabled        []string `yaml:"stages_enabled"`

	IdeaSource IdeaSourceConfig `yaml:"idea_source"`
	EventsBus  EventsBusConfig  `yaml:"events_bus"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	SamplerIntervalMS int `yaml:"sampler_interval_ms"`
}

// IdeaSourceConfig selects where idea bodies come from. An empty NATS URL
// means the in-memory source seeded from the command line.
type IdeaSourceConfig struct {
	NATSURL  string `yaml:"nats_url"`
	KVBucket string `yaml:"kv_bucket"`
}

// EventsBusConfig controls the optional step-event publisher.
type EventsBusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads configuration from path. A .env file (if present) is loaded
// first and ${VAR} placeholders in the YAML are expanded from the
// environment. Defaults fill unset fields; Validate runs before return.
func Load(path string) (*Config, error) {
	// Missing .env files are normal; only their values are optional.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "prismq.db"
	}
	if c.EventsPath == "" {
		c.EventsPath = "prismq-events.db"
	}
	if c.PassThresholdDefault == 0 {
		c.PassThresholdDefault = 75
	}
	if c.WorkerPollIntervalMS == 0 {
		c.WorkerPollIntervalMS = 2000
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBaseBackoffMS == 0 {
		c.RetryBaseBackoffMS = 500
	}
	if c.RetryBackoff == "" {
		c.RetryBackoff = string(retry.BackoffExponential)
	}
	if c.IdeaSource.KVBucket == "" {
		c.IdeaSource.KVBucket = "prismq-ideas"
	}
	if c.EventsBus.NATSURL == "" {
		c.EventsBus.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.EventsBus.SubjectPrefix == "" {
		c.EventsBus.SubjectPrefix = "prismq.steps"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.SamplerIntervalMS == 0 {
		c.SamplerIntervalMS = 15000
	}
}

// Validate rejects configurations that would misroute stories or stall
// workers. Unknown stage names in stages_enabled are configuration bugs and
// surface here, before any story is touched.
func (c *Config) Validate() error {
	if c.PassThresholdDefault < 0 || c.PassThresholdDefault > 100 {
		return fmt.Errorf("pass_threshold_default must be within 0..100, got %d", c.PassThresholdDefault)
	}
	if c.WorkerPollIntervalMS <= 0 {
		return fmt.Errorf("worker_poll_interval_ms must be positive, got %d", c.WorkerPollIntervalMS)
	}
	if c.SamplerIntervalMS <= 0 {
		return fmt.Errorf("sampler_interval_ms must be positive, got %d", c.SamplerIntervalMS)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry_max_attempts cannot be negative, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseBackoffMS <= 0 {
		return fmt.Errorf("retry_base_backoff_ms must be positive, got %d", c.RetryBaseBackoffMS)
	}
	switch retry.BackoffMode(c.RetryBackoff) {
	case retry.BackoffFixed, retry.BackoffLinear, retry.BackoffExponential:
	default:
		return fmt.Errorf("retry_backoff must be fixed, linear, or exponential, got %q", c.RetryBackoff)
	}

	cat := catalog.Default()
	for _, name := range c.StagesEnabled {
		if !cat.Known(name) {
			return fmt.Errorf("stages_enabled contains unknown stage %q", name)
		}
	}
	return nil
}

// Init writes an example configuration file to path.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	example := `# PrismQ workflow engine configuration.
database_path: prismq.db
events_path: prismq-events.db
pass_threshold_default: 75
worker_poll_interval_ms: 2000
retry_max_attempts: 3
retry_base_backoff_ms: 500
retry_backoff: exponential

# Empty list enables every non-terminal stage.
stages_enabled: []

idea_source:
  # Empty URL uses the in-memory source; point at NATS for shared ideas.
  nats_url: ""
  kv_bucket: prismq-ideas

events_bus:
  enabled: false
  nats_url: nats://127.0.0.1:4222
  subject_prefix: prismq.steps

metrics:
  enabled: false
  listen: :9090

sampler_interval_ms: 15000
`
	if err := os.WriteFile(path, []byte(example), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// PollInterval returns the worker poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalMS) * time.Millisecond
}

// SamplerInterval returns the backlog sampler cadence as a duration.
func (c *Config) SamplerInterval() time.Duration {
	return time.Duration(c.SamplerIntervalMS) * time.Millisecond
}

// RetryPolicy builds the retry policy for transient step failures.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.NewPolicy(
		retry.BackoffMode(c.RetryBackoff),
		time.Duration(c.RetryBaseBackoffMS)*time.Millisecond,
		0,
		c.RetryMaxAttempts,
	)
}

// EnabledStages resolves stages_enabled against the catalog: an empty list
// means every non-terminal stage.
func (c *Config) EnabledStages(cat *catalog.Catalog) []string {
	if len(c.StagesEnabled) > 0 {
		out := make([]string, len(c.StagesEnabled))
		copy(out, c.StagesEnabled)
		return out
	}
	var out []string
	for _, name := range cat.Stages() {
		if m, ok := cat.Manifest(name); ok && !m.Terminal() {
			out = append(out, name)
		}
	}
	return out
}
