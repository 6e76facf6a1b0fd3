package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ragchat/internal/config"
	"ragchat/pkg/types"
)

// syncBuffer is a bytes.Buffer safe for one writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testSetup writes a small artifact and manifest and returns a config with
// defaults applied and the echo engine selected.
func testSetup(t *testing.T) config.Config {
	t.Helper()
	src := t.TempDir()
	data := bytes.Repeat([]byte("ragchat-artifact-"), 4096)
	if err := os.WriteFile(filepath.Join(src, "tiny.gguf"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	ctxHint := 512
	mf := map[string]any{"models": []types.ModelDescriptor{{
		Name:        "tiny",
		Filename:    "tiny.gguf",
		Version:     "1",
		SizeBytes:   int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		ContextHint: &ctxHint,
	}}}
	b, _ := json.Marshal(mf)
	manifestPath := filepath.Join(src, "manifest.json")
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{
		ManifestPath: manifestPath,
		StoreDir:     filepath.Join(t.TempDir(), "store"),
		Engine:       config.EngineEcho,
		LogLevel:     "error",
		LogFormat:    "json",
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func waitForOutput(t *testing.T, b *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output:\n%s", want, b.String())
}
