package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Source yields the artifact bytes starting at offset. Implementations must
// position the returned reader exactly at offset.
type Source interface {
	Open(ctx context.Context, filename string, offset int64) (io.ReadCloser, error)
}

// DirSource serves artifacts from a bootstrap directory shipped next to the
// binary (the bundled-asset case).
type DirSource struct {
	Root string
}

func (s DirSource) Open(ctx context.Context, filename string, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.Root, filename))
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek to %d: %w", offset, err)
		}
	}
	return f, nil
}

// HTTPSource fetches artifacts from BaseURL/<filename>, resuming with a
// Range request. Servers that ignore Range are handled by discarding the
// leading bytes.
type HTTPSource struct {
	BaseURL string
	// Client defaults to an http.Client without a global timeout; requests
	// are bounded by the caller's context.
	Client *http.Client
}

func (s HTTPSource) Open(ctx context.Context, filename string, offset int64) (io.ReadCloser, error) {
	cli := s.Client
	if cli == nil {
		cli = &http.Client{Timeout: 0}
	}
	u := strings.TrimRight(s.BaseURL, "/") + "/" + url.PathEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			resp.Body.Close()
			return nil, fmt.Errorf("server resumed at %d, want %d", start, offset)
		}
		return resp.Body, nil
	case resp.StatusCode == http.StatusOK:
		if err := skipFully(resp.Body, offset); err != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp.Body, nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("source http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
}

// contentRangeStart parses "bytes <start>-<end>/<size>".
func contentRangeStart(v string) (int64, bool) {
	v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "bytes"))
	dash := strings.IndexByte(v, '-')
	if dash <= 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[:dash]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// skipFully discards n bytes from r. A short stream is an error: the
// partial file would otherwise be resumed against the wrong offset.
func skipFully(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	skipped, err := io.CopyN(io.Discard, r, n)
	if err != nil {
		return fmt.Errorf("skip %d bytes (got %d): %w", n, skipped, err)
	}
	return nil
}
