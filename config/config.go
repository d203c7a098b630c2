// Package config provides configuration loading and management for codecomply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/codecomply/matcher"
	"github.com/c360studio/codecomply/units"
)

// Config represents the complete codecomply configuration
type Config struct {
	Matcher matcher.Config `yaml:"matcher"`
	Engine  EngineConfig   `yaml:"engine"`
	Inputs  InputsConfig   `yaml:"inputs"`
	Output  OutputConfig   `yaml:"output"`
	Metrics MetricsConfig  `yaml:"metrics"`
	NATS    NATSConfig     `yaml:"nats"`
	Watch   WatchConfig    `yaml:"watch"`
}

// EngineConfig configures the validation engine
type EngineConfig struct {
	// Workers is the number of requirements evaluated in parallel (1 = serial)
	Workers int `yaml:"workers"`
	// DefaultTolerance applies to requirements that declare no tolerance
	DefaultTolerance *units.Tolerance `yaml:"default_tolerance,omitempty"`
}

// InputsConfig lists input documents as doublestar glob patterns
type InputsConfig struct {
	Requirements []string `yaml:"requirements"`
	Drawings     []string `yaml:"drawings"`
}

// OutputConfig configures report export
type OutputConfig struct {
	// Format is one of json, yaml, text, markdown
	Format string `yaml:"format"`
	// Dir is the directory reports are written to (empty = stdout)
	Dir string `yaml:"dir"`
	// Filename overrides the report file name; the drawing name is used if empty
	Filename string `yaml:"filename"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// NATSConfig configures report publication
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
	// Subject is the subject prefix; the drawing name is appended
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
	// JetStream publishes with acknowledgement to a stream bound to Subject
	JetStream bool `yaml:"jetstream"`
	// HistoryBucket is the KV bucket holding the latest report per drawing
	// (empty = no history)
	HistoryBucket string `yaml:"history_bucket"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DebounceDelay time.Duration `yaml:"debounce_delay"`
	Extensions    []string      `yaml:"extensions"`
}

// OutputFormats lists the accepted output.format values.
var OutputFormats = []string{"json", "yaml", "text", "markdown"}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Matcher: matcher.DefaultConfig(),
		Engine: EngineConfig{
			Workers: 1,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9464",
		},
		NATS: NATSConfig{
			Subject: "codecomply.reports",
			Timeout: 5 * time.Second,
		},
		Watch: WatchConfig{
			DebounceDelay: 500 * time.Millisecond,
			Extensions:    []string{".json", ".yaml", ".yml"},
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Matcher.MinScore < matcher.ScoreTokenSubset || c.Matcher.MinScore > matcher.ScoreExact {
		return fmt.Errorf("matcher.min_score must be between %d and %d", matcher.ScoreTokenSubset, matcher.ScoreExact)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if t := c.Engine.DefaultTolerance; t != nil {
		if t.Value < 0 {
			return fmt.Errorf("engine.default_tolerance.value must not be negative")
		}
		if t.Kind != "" && t.Kind != units.ToleranceAbsolute && t.Kind != units.TolerancePercent {
			return fmt.Errorf("engine.default_tolerance.kind must be absolute or percent")
		}
		if t.Unit != "" && !units.Supported(t.Unit) {
			return fmt.Errorf("engine.default_tolerance.unit: %w", &units.UnsupportedUnitError{Unit: t.Unit})
		}
	}
	if !slices.Contains(OutputFormats, c.Output.Format) {
		return fmt.Errorf("output.format must be one of %v", OutputFormats)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}
	if c.Watch.DebounceDelay < 0 {
		return fmt.Errorf("watch.debounce_delay must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. ${VAR} and
// ${VAR:-default} references are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(ExpandEnvWithDefaults(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Matcher
	if other.Matcher.MinScore != 0 {
		c.Matcher.MinScore = other.Matcher.MinScore
	}
	if len(other.Matcher.Synonyms) > 0 {
		merged := make(matcher.SynonymTable, len(c.Matcher.Synonyms)+len(other.Matcher.Synonyms))
		for k, v := range c.Matcher.Synonyms {
			merged[k] = v
		}
		for k, v := range other.Matcher.Synonyms {
			merged[k] = v
		}
		c.Matcher.Synonyms = merged
	}
	if len(other.Matcher.StopWords) > 0 {
		c.Matcher.StopWords = other.Matcher.StopWords
	}

	// Engine
	if other.Engine.Workers != 0 {
		c.Engine.Workers = other.Engine.Workers
	}
	if other.Engine.DefaultTolerance != nil {
		t := *other.Engine.DefaultTolerance
		c.Engine.DefaultTolerance = &t
	}

	// Inputs
	if len(other.Inputs.Requirements) > 0 {
		c.Inputs.Requirements = other.Inputs.Requirements
	}
	if len(other.Inputs.Drawings) > 0 {
		c.Inputs.Drawings = other.Inputs.Drawings
	}

	// Output
	if other.Output.Format != "" {
		c.Output.Format = other.Output.Format
	}
	if other.Output.Dir != "" {
		c.Output.Dir = other.Output.Dir
	}
	if other.Output.Filename != "" {
		c.Output.Filename = other.Output.Filename
	}

	// Metrics
	if other.Metrics.Enabled {
		c.Metrics.Enabled = true
	}
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Subject != "" {
		c.NATS.Subject = other.NATS.Subject
	}
	if other.NATS.Timeout != 0 {
		c.NATS.Timeout = other.NATS.Timeout
	}
	if other.NATS.JetStream {
		c.NATS.JetStream = true
	}
	if other.NATS.HistoryBucket != "" {
		c.NATS.HistoryBucket = other.NATS.HistoryBucket
	}

	// Watch
	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
	if other.Watch.DebounceDelay != 0 {
		c.Watch.DebounceDelay = other.Watch.DebounceDelay
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} and ${VAR:-default} with the value of
// VAR, or default when VAR is unset or empty. Bare $VAR is left untouched so
// that literal dollar signs in synonyms survive.
func ExpandEnvWithDefaults(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[3]
	})
}
