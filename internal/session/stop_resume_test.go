package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"ragchat/internal/engine"
	"ragchat/pkg/types"
)

func newEchoController(t *testing.T, eng *engine.Echo) *Controller {
	t.Helper()
	c := New(eng, Config{ModelPath: "m.gguf", ModelKey: "m@1", Threads: 1, Streaming: true})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	if err := c.SelectPreset("creative"); err != nil {
		t.Fatalf("SelectPreset: %v", err)
	}
	waitFor(t, c, "ready", phaseIs(PhaseReady))
	return c
}

// Stop followed immediately by Send: the stopped job's cancellation must
// stay with that job and never cut the follow-up reply short.
func TestController_StopThenSendCompletes(t *testing.T) {
	c := newEchoController(t, &engine.Echo{Delay: 200 * time.Microsecond})
	long := strings.TrimSpace(strings.Repeat("word ", 200))

	for i := 0; i < 50; i++ {
		if err := c.Send(long); err != nil {
			t.Fatalf("iter %d: Send: %v", i, err)
		}
		if err := c.Stop(); err != nil {
			t.Fatalf("iter %d: Stop: %v", i, err)
		}
		if err := c.Send("one two three"); err != nil {
			t.Fatalf("iter %d: Send after stop: %v", i, err)
		}
		want := 4 * (i + 1)
		s := waitFor(t, c, "follow-up reply", func(s types.SessionSnapshot) bool {
			return s.Phase == string(PhaseReady) && len(s.Messages) == want && s.Messages[want-1].Metrics != nil
		})
		if s.StatusMessage != "" || botText(s) != "one two three" {
			t.Fatalf("iter %d: status=%q text=%q", i, s.StatusMessage, botText(s))
		}
	}
}

// Same race with the first job given time to reach the engine.
func TestController_StopMidStreamThenSend(t *testing.T) {
	c := newEchoController(t, &engine.Echo{Delay: 200 * time.Microsecond})
	long := strings.TrimSpace(strings.Repeat("word ", 200))

	for i := 0; i < 20; i++ {
		if err := c.Send(long); err != nil {
			t.Fatalf("iter %d: Send: %v", i, err)
		}
		waitFor(t, c, "first tokens", func(s types.SessionSnapshot) bool { return botText(s) != "" })
		if err := c.Stop(); err != nil {
			t.Fatalf("iter %d: Stop: %v", i, err)
		}
		if err := c.Send("alpha beta"); err != nil {
			t.Fatalf("iter %d: Send after stop: %v", i, err)
		}
		want := 4 * (i + 1)
		s := waitFor(t, c, "follow-up reply", func(s types.SessionSnapshot) bool {
			return s.Phase == string(PhaseReady) && len(s.Messages) == want && s.Messages[want-1].Metrics != nil
		})
		if s.StatusMessage != "" || botText(s) != "alpha beta" {
			t.Fatalf("iter %d: status=%q text=%q", i, s.StatusMessage, botText(s))
		}
	}
}
