package httpapi

import "time"

const defaultMaxBodyBytes int64 = 1 << 20

// maxBodyBytes caps JSON request bodies.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes sets the JSON body cap; n <= 0 restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = defaultMaxBodyBytes
	}
	maxBodyBytes = n
}

// eventsBuffer is the per-subscriber snapshot buffer for /session/events.
// Slow readers skip intermediate snapshots, never the latest.
var eventsBuffer = 8

// SetEventsBuffer sets the snapshot buffer used by /session/events.
func SetEventsBuffer(n int) {
	if n < 1 {
		n = 1
	}
	eventsBuffer = n
}

// eventsTimeout bounds the lifetime of one /session/events stream. Zero
// leaves it open until the client or the server goes away.
var eventsTimeout time.Duration

// SetEventsTimeout sets the stream lifetime; negative values disable it.
func SetEventsTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	eventsTimeout = d
}

// corsConfig is opt-in; NewMux adds no CORS middleware while disabled.
var corsConfig struct {
	enabled bool
	origins []string
	methods []string
	headers []string
}

// SetCORSOptions configures CORS. Empty lists fall back to permissive defaults.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsConfig.enabled = enabled
	corsConfig.origins = append([]string(nil), origins...)
	corsConfig.methods = append([]string(nil), methods...)
	corsConfig.headers = append([]string(nil), headers...)
}
