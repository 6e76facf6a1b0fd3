package config

import (
	"path/filepath"
	"strings"
	"testing"

	"ragchat/pkg/types"
)

func TestLoad_MalformedFiles(t *testing.T) {
	d := t.TempDir()
	cases := map[string]string{
		"bad.yaml": "addr: :8080\n: broken\n",
		"bad.json": `{ "addr": ":8080", "store_dir": }`,
		"bad.toml": "addr=:8080\nstore_dir\n",
	}
	for name, body := range cases {
		p := writeTempFile(t, d, name, body)
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoad_PresetsAndSessionKeys(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `engine: echo
streaming: false
events_timeout_seconds: 30
default_preset: Terse
presets:
  - name: terse
    temperature: 0.2
    top_p: 0.5
    max_tokens: 32
    context_length: 512
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Engine != EngineEcho || cfg.EventsTimeoutSeconds != 30 {
		t.Fatalf("unexpected session keys: %+v", cfg)
	}
	if cfg.StreamingEnabled() {
		t.Fatalf("explicit streaming=false must survive defaults")
	}
	if len(cfg.Presets) != 1 {
		t.Fatalf("configured presets must replace the built-ins, got %d", len(cfg.Presets))
	}
	ps, ok := cfg.Preset("TERSE")
	if !ok || ps.MaxTokens != 32 || ps.ContextLength != 512 {
		t.Fatalf("case-insensitive lookup failed: %+v %v", ps, ok)
	}
}

func TestApplyDefaults_DefaultPresetFallsBackToFirst(t *testing.T) {
	cfg := Config{}
	cfg.Presets = []types.GenerationPreset{{Name: "only", TopP: 0.5}}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultPreset != "only" {
		t.Fatalf("default preset = %q", cfg.DefaultPreset)
	}
}

func TestApplyDefaults_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := Config{StoreDir: "~/store", ManifestPath: "~/boot/manifest.json"}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	if cfg.StoreDir != filepath.Join(home, "store") {
		t.Fatalf("store dir = %q", cfg.StoreDir)
	}
	if cfg.SourceDir != filepath.Join(home, "boot") {
		t.Fatalf("source dir should default next to the manifest, got %q", cfg.SourceDir)
	}
}

func TestValidate_MoreRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"blank preset name", func(c *Config) { c.Presets[1].Name = "  " }, "name is required"},
		{"case-folded duplicate", func(c *Config) { c.Presets[1].Name = strings.ToUpper(c.Presets[0].Name) }, "duplicate"},
		{"negative max tokens", func(c *Config) { c.Presets[0].MaxTokens = -1 }, "negative"},
		{"negative temperature", func(c *Config) { c.Presets[2].Temperature = -0.1 }, "out of range"},
		{"negative events timeout", func(c *Config) { c.EventsTimeoutSeconds = -5 }, "events_timeout_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{}
			_ = c.ApplyDefaults()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}
