package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields like "60s" or "48h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models chaseline.yml.
type Config struct {
	Engine struct {
		TickInterval        Duration `yaml:"tick_interval"`
		Workers             int      `yaml:"workers"`
		LeaseTTL            Duration `yaml:"lease_ttl"`
		EscalationThreshold int      `yaml:"escalation_threshold"`
		EscalateAfterDays   float64  `yaml:"escalate_after_days"`
		OverdueMultiplier   float64  `yaml:"overdue_multiplier"`
		AttemptHardCap      int      `yaml:"attempt_hard_cap"`
		Backoff             Backoff  `yaml:"backoff"`
	} `yaml:"engine"`
	Defaults struct {
		ClientResponseDays   float64 `yaml:"client_response_days"`
		ProviderResponseDays float64 `yaml:"provider_response_days"`
	} `yaml:"defaults"`
	Providers struct {
		Catalog map[string]ProviderEntry `yaml:"catalog"`
	} `yaml:"providers"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// Backoff tunes the retry delay curve between chase attempts.
type Backoff struct {
	Base        Duration `yaml:"base"`
	Growth      float64  `yaml:"growth"`
	CapAttempts int      `yaml:"cap_attempts"`
	Min         Duration `yaml:"min"`
	Max         Duration `yaml:"max"`
	Jitter      float64  `yaml:"jitter"`
}

// ProviderEntry seeds a provider profile before any responses are observed.
type ProviderEntry struct {
	Name         string  `yaml:"name"`
	ExpectedDays float64 `yaml:"expected_days"`
}

// WebhookConfig describes one outbound activity-feed subscriber.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Actions        []string `yaml:"actions,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with chaseline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("config.engine.tick_interval must be positive")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("config.engine.workers must be positive")
	}
	if c.Engine.EscalationThreshold <= 0 {
		return fmt.Errorf("config.engine.escalation_threshold must be positive")
	}
	if c.Engine.EscalateAfterDays <= 0 {
		return fmt.Errorf("config.engine.escalate_after_days must be positive")
	}
	if c.Engine.OverdueMultiplier < 1 {
		return fmt.Errorf("config.engine.overdue_multiplier must be >= 1")
	}
	if c.Engine.AttemptHardCap < c.Engine.EscalationThreshold {
		return fmt.Errorf("config.engine.attempt_hard_cap must be >= escalation_threshold")
	}
	b := c.Engine.Backoff
	if b.Base <= 0 || b.Growth < 1 {
		return fmt.Errorf("config.engine.backoff requires positive base and growth >= 1")
	}
	if b.Min > b.Max {
		return fmt.Errorf("config.engine.backoff.min exceeds max")
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		return fmt.Errorf("config.engine.backoff.jitter must be in [0,1)")
	}
	if c.Defaults.ClientResponseDays <= 0 || c.Defaults.ProviderResponseDays <= 0 {
		return fmt.Errorf("config.defaults response days must be positive")
	}
	for id, p := range c.Providers.Catalog {
		if id == "" {
			return fmt.Errorf("config.providers.catalog contains empty provider id")
		}
		if p.ExpectedDays <= 0 {
			return fmt.Errorf("provider %s has non-positive expected_days", id)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "chaseline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  tick_interval: 60s
  workers: 4
  lease_ttl: 120s
  escalation_threshold: 3
  escalate_after_days: 30
  overdue_multiplier: 1.5
  attempt_hard_cap: 8
  backoff:
    base: 48h
    growth: 1.6
    cap_attempts: 5
    min: 24h
    max: 168h
    jitter: 0.1

defaults:
  client_response_days: 7
  provider_response_days: 15

providers:
  catalog:
    aviva:
      name: "Aviva"
      expected_days: 15
    legal-general:
      name: "Legal & General"
      expected_days: 12
    scottish-widows:
      name: "Scottish Widows"
      expected_days: 18
    standard-life:
      name: "Standard Life"
      expected_days: 14
    prudential:
      name: "Prudential"
      expected_days: 20
    aegon:
      name: "Aegon"
      expected_days: 16
    royal-london:
      name: "Royal London"
      expected_days: 13
    zurich:
      name: "Zurich"
      expected_days: 15
`
