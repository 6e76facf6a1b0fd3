package provision

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragchat/internal/common/fsutil"
	"ragchat/pkg/types"
)

const (
	partSuffix     = ".part"
	statusFileName = "status.json"
)

// Layout maps descriptors onto <root>/<name>/<version>/.
type Layout struct {
	Root string
}

func (l Layout) Dir(d types.ModelDescriptor) string {
	return filepath.Join(l.Root, d.Name, d.Version)
}

func (l Layout) FinalPath(d types.ModelDescriptor) string {
	return filepath.Join(l.Dir(d), d.Filename)
}

func (l Layout) PartPath(d types.ModelDescriptor) string {
	return filepath.Join(l.Dir(d), d.Filename+partSuffix)
}

func (l Layout) StatusPath(d types.ModelDescriptor) string {
	return filepath.Join(l.Dir(d), statusFileName)
}

// Status is the sidecar written next to a committed artifact.
type Status struct {
	Ready    bool   `json:"ready"`
	SHA256   string `json:"sha256"`
	Version  string `json:"version"`
	Size     int64  `json:"size"`
	Filename string `json:"filename,omitempty"`
}

// WriteStatus atomically replaces the sidecar at path.
func WriteStatus(path string, st Status) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, b, 0o644)
}

// ReadStatus reads a sidecar. A missing file is reported as os.ErrNotExist.
func ReadStatus(path string) (Status, error) {
	var st Status
	b, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("invalid %s: %w", path, err)
	}
	return st, nil
}

// ListInstalled walks <root>/<name>/<version>/status.json and returns every
// artifact whose sidecar says ready and whose file is still present. It
// trusts the sidecar; EnsureReady re-verifies checksums before use.
func ListInstalled(root string) ([]types.InstalledArtifact, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	names, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}
	var out []types.InstalledArtifact
	for _, n := range names {
		if !n.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(base, n.Name()))
		if err != nil {
			continue
		}
		for _, v := range versions {
			if !v.IsDir() {
				continue
			}
			dir := filepath.Join(base, n.Name(), v.Name())
			st, err := ReadStatus(filepath.Join(dir, statusFileName))
			if err != nil || !st.Ready {
				continue
			}
			file := st.Filename
			if file == "" {
				file = guessArtifact(dir)
			}
			if file == "" {
				continue
			}
			p := filepath.Join(dir, file)
			if _, ok := fsutil.FileSize(p); !ok {
				continue
			}
			out = append(out, types.InstalledArtifact{
				Name:      n.Name(),
				Version:   st.Version,
				Path:      p,
				SHA256:    st.SHA256,
				SizeBytes: st.Size,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// guessArtifact handles sidecars written without a filename: the artifact
// is the only regular file that is neither the sidecar nor a partial.
func guessArtifact(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	found := ""
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == statusFileName || strings.HasSuffix(name, partSuffix) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if found != "" {
			return ""
		}
		found = name
	}
	return found
}
