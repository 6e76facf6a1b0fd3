package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelsResponse wraps the installed artifacts returned by GET /models.
type ModelsResponse struct {
	Models []InstalledArtifact `json:"models"`
}

// PresetsResponse is returned by GET /presets.
type PresetsResponse struct {
	Presets []GenerationPreset `json:"presets"`
	// example: balanced
	Default string `json:"default" example:"balanced"`
}

// PresetRequest selects a preset by name.
type PresetRequest struct {
	// example: creative
	Name string `json:"name" example:"creative"`
}

// SendRequest submits a prompt to the active session.
type SendRequest struct {
	// Prompt text. Empty means "use the pending input".
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
}

// ProvisionStatus mirrors the provisioning snapshot for /status.
type ProvisionStatus struct {
	// One of idle, preparing, copying, done, cancelled, error.
	// example: copying
	Stage string `json:"stage" example:"copying"`
	// Fraction in [0,1].
	// example: 0.42
	Progress float64 `json:"progress" example:"0.42"`
	// example: 209715200
	CopiedBytes int64 `json:"copied_bytes" example:"209715200"`
	// example: 491400032
	TotalBytes int64 `json:"total_bytes" example:"491400032"`
	Resumed   bool   `json:"resumed"`
	Message   string `json:"message,omitempty"`
	ModelPath string `json:"model_path,omitempty"`

	// Context length suggested by the manifest, if any.
	ContextHint *int `json:"n_ctx_hint,omitempty"`
}

// SessionSnapshot is the JSON view of the session state.
type SessionSnapshot struct {
	// example: ready
	Phase         string            `json:"phase" example:"ready"`
	Messages      []Message         `json:"messages"`
	PendingInput  string            `json:"pending_input,omitempty"`
	ActivePreset  *GenerationPreset `json:"active_preset,omitempty"`
	StatusMessage string            `json:"status_message,omitempty"`
	// Monotonic snapshot version.
	Version uint64 `json:"version"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// example: qwen2.5-0.5b-instruct@1
	Model     string          `json:"model" example:"qwen2.5-0.5b-instruct@1"`
	Provision ProvisionStatus `json:"provision"`
	// Session phase (uninitialized, initializing, ready, generating, failed).
	// example: ready
	Phase string `json:"phase" example:"ready"`
	// Last status message published by the session.
	StatusMessage string `json:"status_message,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
