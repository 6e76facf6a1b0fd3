package e2e

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/engine"
	"ragchat/internal/events"
	"ragchat/internal/httpapi"
	"ragchat/pkg/types"
)

// createBootstrap writes one artifact and a manifest describing it and
// returns the manifest path and the artifact bytes.
func createBootstrap(t *testing.T, size int) (string, []byte) {
	t.Helper()
	dir := t.TempDir()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(filepath.Join(dir, "alpha.gguf"), data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sum := sha256.Sum256(data)
	mf := map[string]any{"models": []types.ModelDescriptor{{
		Name: "alpha", Filename: "alpha.gguf", Version: "1",
		SizeBytes: int64(size), SHA256: hex.EncodeToString(sum[:]),
	}}}
	b, _ := json.Marshal(mf)
	p := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return p, data
}

type testServer struct {
	*httptest.Server
	svc *app.Service
	pub *events.Memory
	cfg config.Config
}

// newServer wires the real app and HTTP layers over eng.
func newServer(t *testing.T, manifestPath string, eng engine.Engine) *testServer {
	t.Helper()
	cfg := config.Config{
		ManifestPath: manifestPath,
		StoreDir:     filepath.Join(t.TempDir(), "store"),
		Engine:       config.EngineEcho,
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	pub := events.NewMemory()
	svc := app.New(app.Options{Config: cfg, Engine: eng, Publisher: pub})
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &testServer{Server: srv, svc: svc, pub: pub, cfg: cfg}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpDo(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func getSession(t *testing.T, base string) types.SessionSnapshot {
	t.Helper()
	_, body := httpGet(t, base+"/session")
	var snap types.SessionSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode session: %v (%s)", err, body)
	}
	return snap
}

// waitPhase polls /session until the phase matches.
func waitPhase(t *testing.T, base, phase string) types.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var snap types.SessionSnapshot
	for time.Now().Before(deadline) {
		snap = getSession(t, base)
		if snap.Phase == phase {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %q, last %+v", phase, snap)
	return snap
}

// readEvents reads NDJSON snapshots until stop returns true or the stream ends.
func readEvents(t *testing.T, r io.Reader, stop func(types.SessionSnapshot) bool) []types.SessionSnapshot {
	t.Helper()
	var out []types.SessionSnapshot
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var snap types.SessionSnapshot
		if err := json.Unmarshal(sc.Bytes(), &snap); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, snap)
		if stop(snap) {
			break
		}
	}
	return out
}
