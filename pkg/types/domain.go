package types

import "time"

// ModelDescriptor identifies one model artifact and the checksum/size it must match.
// Descriptors are values; nothing mutates them after the manifest is parsed.
type ModelDescriptor struct {
	// Logical model name; first half of the identity.
	// example: qwen2.5-0.5b-instruct
	Name string `json:"name" yaml:"name" toml:"name" example:"qwen2.5-0.5b-instruct"`
	// File name of the artifact inside the source and the store.
	// example: qwen2.5-0.5b-instruct-q4_k_m.gguf
	Filename string `json:"filename" yaml:"filename" toml:"filename" example:"qwen2.5-0.5b-instruct-q4_k_m.gguf"`
	// Version string; second half of the identity.
	// example: 1
	Version string `json:"version" yaml:"version" toml:"version" example:"1"`
	// Expected size in bytes. Zero means unknown.
	// example: 491400032
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes" toml:"size_bytes" example:"491400032"`
	// Lowercase or uppercase hex SHA-256 of the artifact.
	SHA256 string `json:"sha256" yaml:"sha256" toml:"sha256"`
	// Optional quantization tag.
	// example: Q4_K_M
	Quant *string `json:"quant,omitempty" yaml:"quant,omitempty" toml:"quant,omitempty" example:"Q4_K_M"`
	// Optional context length hint for the engine.
	// example: 2048
	ContextHint *int `json:"n_ctx_hint,omitempty" yaml:"n_ctx_hint,omitempty" toml:"n_ctx_hint,omitempty" example:"2048"`
}

// Key returns the (name, version) identity as "name@version".
func (d ModelDescriptor) Key() string { return d.Name + "@" + d.Version }

// GenerationPreset is a named bundle of sampling parameters.
type GenerationPreset struct {
	// example: balanced
	Name string `json:"name" yaml:"name" toml:"name" example:"balanced"`
	// example: 0.7
	Temperature float32 `json:"temperature" yaml:"temperature" toml:"temperature" example:"0.7"`
	// example: 0.95
	TopP float32 `json:"top_p" yaml:"top_p" toml:"top_p" example:"0.95"`
	// example: 256
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" example:"256"`
	// Context window passed to engine init.
	// example: 2048
	ContextLength int `json:"context_length" yaml:"context_length" toml:"context_length" example:"2048"`
}

// DefaultPresets mirrors the three presets the chat screen ships with.
func DefaultPresets() []GenerationPreset {
	return []GenerationPreset{
		{Name: "fast", Temperature: 0.1, TopP: 0.9, MaxTokens: 128, ContextLength: 1024},
		{Name: "balanced", Temperature: 0.7, TopP: 0.95, MaxTokens: 256, ContextLength: 2048},
		{Name: "creative", Temperature: 0.95, TopP: 0.98, MaxTokens: 512, ContextLength: 3072},
	}
}

// Author tags who wrote a message.
type Author string

const (
	AuthorUser Author = "user"
	AuthorBot  Author = "bot"
)

// MessageMetrics is filled on a bot message once its generation ends.
type MessageMetrics struct {
	// Milliseconds between job start and the first token.
	FirstTokenMs int64 `json:"first_token_ms"`
	// Tokens streamed into the message.
	Tokens int `json:"tokens"`
	// Throughput measured from the first token to the terminal event.
	TokensPerSec float64 `json:"tokens_per_sec"`
}

// Message is one chat entry. IDs are unique and increase monotonically within a session.
type Message struct {
	ID        int64           `json:"id"`
	Author    Author          `json:"author"`
	Text      string          `json:"text"`
	CreatedAt time.Time       `json:"created_at"`
	Metrics   *MessageMetrics `json:"metrics,omitempty"`
}

// InstalledArtifact describes a verified artifact found in the local store.
type InstalledArtifact struct {
	// example: qwen2.5-0.5b-instruct
	Name string `json:"name" example:"qwen2.5-0.5b-instruct"`
	// example: 1
	Version string `json:"version" example:"1"`
	// Absolute path of the final artifact file.
	Path string `json:"path"`
	// Recorded SHA-256 from the status sidecar.
	SHA256 string `json:"sha256"`
	// example: 491400032
	SizeBytes int64 `json:"size_bytes" example:"491400032"`
}
