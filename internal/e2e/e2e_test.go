package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ragchat/internal/engine"
	"ragchat/pkg/types"
)

// TestE2E_PrepareThenChat walks the whole path: provision over HTTP, wait
// for the engine, send a prompt and read the streamed reply.
func TestE2E_PrepareThenChat(t *testing.T) {
	mf, data := createBootstrap(t, 256<<10)
	srv := newServer(t, mf, &engine.Echo{Delay: time.Millisecond})

	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before prepare = %d", resp.StatusCode)
	}
	if resp, _ := httpDo(t, http.MethodPost, srv.URL+"/session/messages", []byte(`{"prompt":"hi"}`)); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("send before prepare = %d", resp.StatusCode)
	}

	resp, _ := httpDo(t, http.MethodPost, srv.URL+"/prepare", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("prepare = %d", resp.StatusCode)
	}
	waitPhase(t, srv.URL, "ready")

	var st types.StatusResponse
	_, body := httpGet(t, srv.URL+"/status")
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	if st.Provision.Stage != "done" || st.Provision.TotalBytes != int64(len(data)) || st.Model != "alpha@1" {
		t.Fatalf("unexpected status: %+v", st)
	}

	resp, body = httpDo(t, http.MethodPost, srv.URL+"/session/messages", []byte(`{"prompt":"tell me a story"}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send = %d (%s)", resp.StatusCode, body)
	}
	snap := waitPhase(t, srv.URL, "ready")
	if len(snap.Messages) != 2 {
		t.Fatalf("expected user+bot messages, got %+v", snap.Messages)
	}
	bot := snap.Messages[1]
	if bot.Author != types.AuthorBot || bot.Text != "tell me a story" || bot.Metrics == nil || bot.Metrics.Tokens != 4 {
		t.Fatalf("unexpected bot message: %+v", bot)
	}
	if snap.Messages[0].ID >= bot.ID {
		t.Fatalf("message ids must increase: %+v", snap.Messages)
	}

	_, body = httpGet(t, srv.URL+"/models")
	if !strings.Contains(string(body), `"name":"alpha"`) {
		t.Fatalf("models: %s", body)
	}
	for _, name := range []string{"provision_ready", "engine_ready", "generation_start", "generation_done"} {
		if !srv.pub.Has(name) {
			t.Fatalf("missing event %s in %v", name, srv.pub.Names())
		}
	}
}

// TestE2E_BusyAndStop checks that a second prompt is rejected while one is
// generating and that stop keeps the partial reply.
func TestE2E_BusyAndStop(t *testing.T) {
	mf, _ := createBootstrap(t, 4<<10)
	srv := newServer(t, mf, &engine.Echo{Delay: 50 * time.Millisecond})
	httpDo(t, http.MethodPost, srv.URL+"/prepare", nil)
	waitPhase(t, srv.URL, "ready")

	httpDo(t, http.MethodPost, srv.URL+"/session/messages", []byte(`{"prompt":"one two three four five six seven eight"}`))
	resp, _ := httpDo(t, http.MethodPost, srv.URL+"/session/messages", []byte(`{"prompt":"again"}`))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second send = %d, want 409", resp.StatusCode)
	}
	time.Sleep(120 * time.Millisecond)
	if resp, _ := httpDo(t, http.MethodPost, srv.URL+"/session/stop", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop = %d", resp.StatusCode)
	}
	snap := waitPhase(t, srv.URL, "ready")
	bot := snap.Messages[len(snap.Messages)-1]
	if bot.Text == "" || bot.Text == "one two three four five six seven eight" {
		t.Fatalf("expected partial text, got %q", bot.Text)
	}
	if snap.StatusMessage != "stopped" {
		t.Fatalf("status message = %q", snap.StatusMessage)
	}

	// The next prompt goes out right after the stop and must complete.
	if resp, body := httpDo(t, http.MethodPost, srv.URL+"/session/messages", []byte(`{"prompt":"after stop"}`)); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send after stop = %d %s", resp.StatusCode, body)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap = getSession(t, srv.URL)
		if snap.Phase == "ready" && len(snap.Messages) == 4 && snap.Messages[3].Metrics != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("follow-up did not complete: %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := snap.Messages[3].Text; got != "after stop" || snap.StatusMessage != "" {
		t.Fatalf("follow-up text=%q status=%q", got, snap.StatusMessage)
	}
}

// TestE2E_EventsStream reads NDJSON snapshots through one generation.
func TestE2E_EventsStream(t *testing.T) {
	mf, _ := createBootstrap(t, 4<<10)
	srv := newServer(t, mf, &engine.Echo{Delay: 5 * time.Millisecond})
	httpDo(t, http.MethodPost, srv.URL+"/prepare", nil)
	waitPhase(t, srv.URL, "ready")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/session/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type = %s", ct)
	}

	httpDo(t, http.MethodPost, srv.URL+"/session/messages", []byte(`{"prompt":"streamed reply here"}`))
	snaps := readEvents(t, resp.Body, func(s types.SessionSnapshot) bool {
		return s.Phase == "ready" && len(s.Messages) == 2 && s.Messages[1].Metrics != nil
	})
	if len(snaps) < 2 {
		t.Fatalf("expected several snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Version <= snaps[i-1].Version {
			t.Fatalf("versions must increase: %d then %d", snaps[i-1].Version, snaps[i].Version)
		}
	}
	if last := snaps[len(snaps)-1]; last.Messages[1].Text != "streamed reply here" {
		t.Fatalf("final text = %q", last.Messages[1].Text)
	}
}

// TestE2E_PresetSwitch re-initializes the engine with another preset.
func TestE2E_PresetSwitch(t *testing.T) {
	mf, _ := createBootstrap(t, 4<<10)
	srv := newServer(t, mf, &engine.Echo{})
	httpDo(t, http.MethodPost, srv.URL+"/prepare", nil)
	waitPhase(t, srv.URL, "ready")

	if resp, _ := httpDo(t, http.MethodPost, srv.URL+"/session/preset", []byte(`{"name":"nope"}`)); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown preset = %d", resp.StatusCode)
	}
	if resp, _ := httpDo(t, http.MethodPost, srv.URL+"/session/preset", []byte(`{"name":"creative"}`)); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("select preset = %d", resp.StatusCode)
	}
	snap := waitPhase(t, srv.URL, "ready")
	if snap.ActivePreset == nil || snap.ActivePreset.Name != "creative" {
		t.Fatalf("active preset = %+v", snap.ActivePreset)
	}
}

// TestE2E_CorruptArtifactFails checks that a checksum mismatch surfaces as
// a provisioning error and leaves nothing in the store.
func TestE2E_CorruptArtifactFails(t *testing.T) {
	mf, _ := createBootstrap(t, 4<<10)
	if err := os.WriteFile(filepath.Join(filepath.Dir(mf), "alpha.gguf"), make([]byte, 4<<10), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, mf, &engine.Echo{})
	httpDo(t, http.MethodPost, srv.URL+"/prepare", nil)

	deadline := time.Now().Add(5 * time.Second)
	var st types.StatusResponse
	for time.Now().Before(deadline) {
		_, body := httpGet(t, srv.URL+"/status")
		_ = json.Unmarshal(body, &st)
		if st.Provision.Stage == "error" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.Provision.Stage != "error" || !strings.Contains(st.Provision.Message, "checksum mismatch") {
		t.Fatalf("unexpected status: %+v", st.Provision)
	}
	_, body := httpGet(t, srv.URL+"/models")
	if !strings.Contains(string(body), `"models":[]`) {
		t.Fatalf("store should be empty: %s", body)
	}
}
