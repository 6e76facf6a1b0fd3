package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ragchat/internal/engine"
	"ragchat/internal/events"
	"ragchat/pkg/types"
)

// fakeEngine is a scriptable in-memory engine. It records call order and
// flags any overlapping calls other than Cancel.
type fakeEngine struct {
	mu         sync.Mutex
	initErr    func(nCtx int) error
	initGate   chan struct{}
	tokens     []string
	tokenDelay time.Duration
	failReason string
	startErr   error
	misbehave  bool
	inferText  string
	calls      []string

	endless   atomic.Bool
	cancelled atomic.Bool
	inFlight  atomic.Int32
	overlap   atomic.Bool
	releases  atomic.Int32
}

func (f *fakeEngine) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) enter() func() {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeEngine) Init(path string, nCtx, threads int) error {
	defer f.enter()()
	f.record(fmt.Sprintf("init:%d", nCtx))
	f.mu.Lock()
	gate, errFn := f.initGate, f.initErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if errFn != nil {
		if err := errFn(nCtx); err != nil {
			return &engine.InitError{Path: path, Err: err}
		}
	}
	return nil
}

func (f *fakeEngine) Infer(prompt string, p engine.Params) (string, error) {
	defer f.enter()()
	f.record("infer")
	if f.failReason != "" {
		return "", &engine.InferError{Reason: f.failReason}
	}
	return f.inferText, nil
}

func (f *fakeEngine) InferStreaming(prompt string, p engine.Params, cb engine.Callbacks) error {
	defer f.enter()()
	f.record("stream")
	if f.startErr != nil {
		return f.startErr
	}
	f.cancelled.Store(false)
	for i := 0; i < 10000; i++ {
		if !f.endless.Load() && i >= len(f.tokens) {
			break
		}
		if f.cancelled.Load() {
			if f.misbehave {
				cb.OnToken("late")
				cb.OnCompleted()
			}
			return nil
		}
		if f.tokenDelay > 0 {
			time.Sleep(f.tokenDelay)
		}
		tok := "t"
		if i < len(f.tokens) {
			tok = f.tokens[i]
		}
		cb.OnToken(tok)
	}
	if f.failReason != "" {
		cb.OnError(f.failReason)
		return nil
	}
	cb.OnCompleted()
	return nil
}

func (f *fakeEngine) Cancel() {
	f.cancelled.Store(true)
	f.record("cancel")
}

func (f *fakeEngine) Release() {
	defer f.enter()()
	f.releases.Add(1)
	f.record("release")
}

func newTestController(t *testing.T, eng *fakeEngine, streaming bool) (*Controller, *events.Memory) {
	t.Helper()
	pub := events.NewMemory()
	c := New(eng, Config{ModelPath: "m.gguf", ModelKey: "m@1", Threads: 2, Streaming: streaming, Publisher: pub})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("Close: %v", err)
		}
		if eng.overlap.Load() {
			t.Errorf("engine calls overlapped")
		}
	})
	return c, pub
}

// waitFor polls snapshots until pred holds.
func waitFor(t *testing.T, c *Controller, what string, pred func(types.SessionSnapshot) bool) types.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.Snapshot()
		if pred(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, s)
		}
		time.Sleep(time.Millisecond)
	}
}

func phaseIs(p Phase) func(types.SessionSnapshot) bool {
	return func(s types.SessionSnapshot) bool { return s.Phase == string(p) }
}

func botText(s types.SessionSnapshot) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Author == types.AuthorBot {
			return s.Messages[i].Text
		}
	}
	return ""
}
