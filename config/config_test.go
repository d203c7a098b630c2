package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codecomply/units"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Matcher.MinScore != 1 {
		t.Errorf("expected default min score 1, got %d", cfg.Matcher.MinScore)
	}
	if cfg.Engine.Workers != 1 {
		t.Errorf("expected 1 worker by default, got %d", cfg.Engine.Workers)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("expected default format text, got %s", cfg.Output.Format)
	}
	if cfg.NATS.URL != "" {
		t.Error("expected publishing disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "min score too low",
			modify:  func(c *Config) { c.Matcher.MinScore = 0 },
			wantErr: true,
		},
		{
			name:    "min score too high",
			modify:  func(c *Config) { c.Matcher.MinScore = 4 },
			wantErr: true,
		},
		{
			name:    "no workers",
			modify:  func(c *Config) { c.Engine.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "negative tolerance",
			modify:  func(c *Config) { c.Engine.DefaultTolerance = &units.Tolerance{Value: -1} },
			wantErr: true,
		},
		{
			name:    "unknown tolerance unit",
			modify:  func(c *Config) { c.Engine.DefaultTolerance = &units.Tolerance{Value: 1, Unit: "cubit"} },
			wantErr: true,
		},
		{
			name:    "percent tolerance",
			modify:  func(c *Config) { c.Engine.DefaultTolerance = &units.Tolerance{Value: 1, Kind: units.TolerancePercent} },
			wantErr: false,
		},
		{
			name:    "unknown output format",
			modify:  func(c *Config) { c.Output.Format = "pdf" },
			wantErr: true,
		},
		{
			name: "metrics without listen address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ""
			},
			wantErr: true,
		},
		{
			name: "nats without subject",
			modify: func(c *Config) {
				c.NATS.URL = "nats://localhost:4222"
				c.NATS.Subject = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	t.Setenv("CODECOMPLY_NATS_HOST", "nats.test")

	content := `
matcher:
  min_score: 2
  synonyms:
    landing: [platform]
engine:
  workers: 4
  default_tolerance:
    value: 5
    unit: mm
inputs:
  requirements: ["codes/**/*.yaml"]
  drawings: ["drawings/*.json"]
output:
  format: markdown
  dir: reports
nats:
  url: "nats://${CODECOMPLY_NATS_HOST:-localhost}:${CODECOMPLY_NATS_PORT:-4222}"
watch:
  debounce_delay: 2s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	assert.Equal(t, 2, cfg.Matcher.MinScore)
	assert.Equal(t, []string{"platform"}, cfg.Matcher.Synonyms["landing"])
	assert.Contains(t, cfg.Matcher.Synonyms, "corridor", "defaults survive a partial synonym table")
	assert.Equal(t, 4, cfg.Engine.Workers)
	require.NotNil(t, cfg.Engine.DefaultTolerance)
	assert.Equal(t, units.Tolerance{Value: 5, Unit: "mm"}, *cfg.Engine.DefaultTolerance)
	assert.Equal(t, []string{"codes/**/*.yaml"}, cfg.Inputs.Requirements)
	assert.Equal(t, "markdown", cfg.Output.Format)
	assert.Equal(t, "nats://nats.test:4222", cfg.NATS.URL)
	assert.Equal(t, 2*time.Second, cfg.Watch.DebounceDelay)
	assert.Equal(t, "codecomply.reports", cfg.NATS.Subject, "unset fields keep defaults")
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine: [not, a, map]"), 0644))

	_, err := LoadFromFile(configPath)
	assert.Error(t, err)

	_, err = LoadFromFile(filepath.Join(tmpDir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Engine: EngineConfig{
			Workers: 8,
		},
		Output: OutputConfig{
			Dir: "/override/reports",
		},
	}

	base.Merge(override)

	if base.Engine.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", base.Engine.Workers)
	}
	// Format should remain from base since override didn't set it
	if base.Output.Format != "text" {
		t.Errorf("expected format to remain default, got %s", base.Output.Format)
	}
	if base.Output.Dir != "/override/reports" {
		t.Errorf("expected output dir /override/reports, got %s", base.Output.Dir)
	}

	base.Merge(nil)
	assert.Equal(t, 8, base.Engine.Workers)
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Output.Format = "json"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Output.Format != "json" {
		t.Errorf("expected format json, got %s", loaded.Output.Format)
	}
	assert.Equal(t, cfg.Watch.DebounceDelay, loaded.Watch.DebounceDelay)
}

func TestLoaderLayers(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	nested := filepath.Join(project, "drawings", "level1")
	require.NoError(t, os.MkdirAll(nested, 0755))

	l := NewLoader(nil)
	l.home = home
	l.workDir = nested

	// No files: defaults.
	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine, cfg.Engine)

	userPath, err := l.EnsureUserConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, UserConfigDir, UserConfigFile), userPath)

	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectConfigFile),
		[]byte("engine:\n  workers: 3\noutput:\n  format: yaml\n"), 0644))
	explicit := filepath.Join(t.TempDir(), "ci.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("output:\n  format: json\n"), 0644))

	cfg, err = l.Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.Workers, "project config found in a parent directory")
	assert.Equal(t, "yaml", cfg.Output.Format)

	cfg, err = l.Load(explicit)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, "json", cfg.Output.Format, "explicit file wins")

	_, err = l.Load(filepath.Join(project, "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvWithDefaults(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		env      map[string]string
		expected string
	}{
		{"default used when var unset", `${CC_TEST_URL:-http://localhost:4222}/x`, nil, `http://localhost:4222/x`},
		{"env value used when set", `${CC_TEST_URL:-http://localhost:4222}/x`, map[string]string{"CC_TEST_URL": "http://prod"}, `http://prod/x`},
		{"empty default", `a${CC_TEST_OPT:-}b`, nil, `ab`},
		{"simple var", `${CC_TEST_SIMPLE}`, map[string]string{"CC_TEST_SIMPLE": "v"}, `v`},
		{"simple var unset", `${CC_TEST_SIMPLE}`, nil, ``},
		{"bare dollar untouched", `cost $5`, nil, `cost $5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"CC_TEST_URL", "CC_TEST_OPT", "CC_TEST_SIMPLE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, ExpandEnvWithDefaults(tt.input))
		})
	}
}
