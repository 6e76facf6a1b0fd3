package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"ragchat/internal/common/fsutil"
	"ragchat/pkg/types"
)

// Config holds runtime parameters for the service and the CLI.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Provisioning.
	ManifestPath        string `json:"manifest_path" yaml:"manifest_path" toml:"manifest_path"`
	SourceDir           string `json:"source_dir" yaml:"source_dir" toml:"source_dir"`
	SourceURL           string `json:"source_url" yaml:"source_url" toml:"source_url"`
	StoreDir            string `json:"store_dir" yaml:"store_dir" toml:"store_dir"`
	ModelName           string `json:"model_name" yaml:"model_name" toml:"model_name"`
	ChunkSizeMB         int    `json:"chunk_size_mb" yaml:"chunk_size_mb" toml:"chunk_size_mb"`
	ProgressThresholdKB int    `json:"progress_threshold_kb" yaml:"progress_threshold_kb" toml:"progress_threshold_kb"`

	// Session.
	Engine        string                   `json:"engine" yaml:"engine" toml:"engine"`
	Threads       int                      `json:"threads" yaml:"threads" toml:"threads"`
	DefaultPreset string                   `json:"default_preset" yaml:"default_preset" toml:"default_preset"`
	Presets       []types.GenerationPreset `json:"presets" yaml:"presets" toml:"presets"`
	// Streaming is a pointer so an explicit false survives defaulting.
	Streaming *bool `json:"streaming" yaml:"streaming" toml:"streaming"`

	// Ambient.
	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// EventsTimeoutSeconds bounds one /session/events stream; 0 is unlimited.
	EventsTimeoutSeconds int `json:"events_timeout_seconds" yaml:"events_timeout_seconds" toml:"events_timeout_seconds"`
}

// Defaults.
const (
	DefaultAddr                = ":8080"
	DefaultManifestPath        = "models_bootstrap/manifest.json"
	DefaultStoreDir            = "~/.ragchat/models"
	DefaultChunkSizeMB         = 8
	DefaultProgressThresholdKB = 512
	DefaultPresetName          = "balanced"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "auto"
	DefaultMaxBodyBytes        = 1 << 20

	EngineLlama = "llama"
	EngineEcho  = "echo"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvAddr     = "RAGCHAT_ADDR"
	EnvLogLevel = "RAGCHAT_LOG_LEVEL"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("decode json config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("decode toml config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from RAGCHAT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		c.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
}

// ApplyDefaults fills unspecified fields and expands '~' in paths. A missing
// source defaults to the directory holding the manifest.
func (c *Config) ApplyDefaults() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ManifestPath == "" {
		c.ManifestPath = DefaultManifestPath
	}
	if c.StoreDir == "" {
		c.StoreDir = DefaultStoreDir
	}
	for _, p := range []*string{&c.ManifestPath, &c.StoreDir, &c.SourceDir} {
		exp, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = exp
	}
	if c.SourceDir == "" && c.SourceURL == "" {
		c.SourceDir = filepath.Dir(c.ManifestPath)
	}
	if c.ChunkSizeMB <= 0 {
		c.ChunkSizeMB = DefaultChunkSizeMB
	}
	if c.ProgressThresholdKB <= 0 {
		c.ProgressThresholdKB = DefaultProgressThresholdKB
	}
	if c.Engine == "" {
		c.Engine = EngineLlama
	}
	if len(c.Presets) == 0 {
		c.Presets = types.DefaultPresets()
	}
	if c.DefaultPreset == "" {
		c.DefaultPreset = DefaultPresetName
		if _, ok := c.Preset(c.DefaultPreset); !ok {
			c.DefaultPreset = c.Presets[0].Name
		}
	}
	if c.Streaming == nil {
		on := true
		c.Streaming = &on
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return nil
}

// Validate reports settings that cannot work together. Call after ApplyDefaults.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineLlama, EngineEcho:
	default:
		return fmt.Errorf("config: unknown engine %q (want %s or %s)", c.Engine, EngineLlama, EngineEcho)
	}
	seen := map[string]bool{}
	for i, p := range c.Presets {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		switch {
		case name == "":
			return fmt.Errorf("config: presets[%d]: name is required", i)
		case seen[name]:
			return fmt.Errorf("config: presets[%d]: duplicate name %q", i, p.Name)
		case p.MaxTokens < 0 || p.ContextLength < 0:
			return fmt.Errorf("config: presets[%d]: negative token limits", i)
		case p.Temperature < 0 || p.TopP < 0 || p.TopP > 1:
			return fmt.Errorf("config: presets[%d]: sampling parameters out of range", i)
		}
		seen[name] = true
	}
	if _, ok := c.Preset(c.DefaultPreset); !ok {
		return fmt.Errorf("config: default_preset %q is not configured", c.DefaultPreset)
	}
	if c.EventsTimeoutSeconds < 0 {
		return fmt.Errorf("config: events_timeout_seconds must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Preset looks up a configured preset by name, ignoring case.
func (c *Config) Preset(name string) (types.GenerationPreset, bool) {
	for _, p := range c.Presets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return types.GenerationPreset{}, false
}

// StreamingEnabled reports the effective streaming mode.
func (c *Config) StreamingEnabled() bool { return c.Streaming == nil || *c.Streaming }
