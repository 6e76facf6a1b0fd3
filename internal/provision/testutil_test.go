package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"ragchat/pkg/types"
)

// makeArtifact writes n deterministic bytes under dir/name and returns the
// content and its hex digest.
func makeArtifact(t *testing.T, dir, name string, n int) ([]byte, string) {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:])
}

func descriptor(name string, size int64, sum string) types.ModelDescriptor {
	return types.ModelDescriptor{Name: "tiny", Filename: name, Version: "v1", SizeBytes: size, SHA256: sum}
}

// countingSource wraps a Source and counts Open calls and bytes served.
type countingSource struct {
	inner Source
	opens atomic.Int32
	read  atomic.Int64
}

func (s *countingSource) Open(ctx context.Context, filename string, offset int64) (io.ReadCloser, error) {
	s.opens.Add(1)
	rc, err := s.inner.Open(ctx, filename, offset)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: rc, n: &s.read}, nil
}

type countingReader struct {
	io.ReadCloser
	n *atomic.Int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n.Add(int64(n))
	return n, err
}

// failingSource fails every Open.
type failingSource struct{}

func (failingSource) Open(context.Context, string, int64) (io.ReadCloser, error) {
	return nil, errors.New("source unavailable")
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func itoa(n int) string { return strconv.Itoa(n) }
