package httpapi

import (
	"context"
	"testing"
	"time"
)

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("%s: joined context still open", what)
	}
}

func TestJoinContexts_EndsWithEitherParent(t *testing.T) {
	for _, first := range []string{"base", "request"} {
		base, cancelBase := context.WithCancel(context.Background())
		req, cancelReq := context.WithCancel(context.Background())
		j, release := joinContexts(base, req)
		if first == "base" {
			cancelBase()
		} else {
			cancelReq()
		}
		waitDone(t, j, first)
		release()
		cancelBase()
		cancelReq()
	}
}

func TestJoinContexts_ReleaseCancels(t *testing.T) {
	j, release := joinContexts(context.Background(), context.Background())
	release()
	waitDone(t, j, "release")
}

func TestSetBaseContext_NilFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	SetBaseContext(ctx)
	if serverBaseCtx.Err() == nil {
		t.Fatalf("expected the cancelled base context to be installed")
	}
	// nolint:staticcheck // SA1012: nil is the documented reset
	SetBaseContext(nil)
	if serverBaseCtx.Err() != nil {
		t.Fatalf("nil should restore a live background context")
	}
}
