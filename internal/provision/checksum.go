package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

const hashBufferSize = 1 << 20

// SHA256File streams the file through SHA-256 and returns the lowercase hex digest.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashBufferSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// digestEqual compares hex digests case-insensitively.
func digestEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
