// Package manifest reads the model manifest that describes which artifact
// to provision.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"ragchat/internal/common/fsutil"
	"ragchat/pkg/types"
)

var (
	// ErrEmpty is returned when the manifest lists no models.
	ErrEmpty = errors.New("manifest: no models listed")
	// ErrNotFound is returned when a requested model name is absent.
	ErrNotFound = errors.New("manifest: model not found")
	// ErrMissing is returned when the manifest file does not exist.
	ErrMissing = errors.New("manifest: file not found")
)

// invalidError reports a descriptor that fails validation.
type invalidError struct {
	index int
	msg   string
}

func (e invalidError) Error() string {
	return fmt.Sprintf("manifest: models[%d]: %s", e.index, e.msg)
}

// IsManifestError reports whether err came from reading or validating a manifest.
func IsManifestError(err error) bool {
	var ie invalidError
	return errors.Is(err, ErrEmpty) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrMissing) || errors.As(err, &ie)
}

// Manifest is the parsed manifest document.
type Manifest struct {
	Models []types.ModelDescriptor `json:"models" yaml:"models" toml:"models"`
}

// Load reads a manifest based on its extension.
// Supports: .json (the bundled format), .yaml/.yml, .toml
func Load(path string) (Manifest, error) {
	var mf Manifest
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return mf, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mf, fmt.Errorf("%w: %s", ErrMissing, p)
		}
		return mf, fmt.Errorf("read manifest: %w", err)
	}
	mf, err = Parse(b, filepath.Ext(p))
	if err != nil {
		return mf, fmt.Errorf("%s: %w", p, err)
	}
	return mf, nil
}

// Parse decodes manifest bytes for the given extension and validates every entry.
func Parse(b []byte, ext string) (Manifest, error) {
	var mf Manifest
	switch strings.ToLower(ext) {
	case ".json", "":
		if err := json.Unmarshal(b, &mf); err != nil {
			return mf, fmt.Errorf("decode json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &mf); err != nil {
			return mf, fmt.Errorf("decode yaml: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &mf); err != nil {
			return mf, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return mf, fmt.Errorf("unsupported manifest extension: %s", ext)
	}
	if len(mf.Models) == 0 {
		return mf, ErrEmpty
	}
	for i, d := range mf.Models {
		if err := validate(i, d); err != nil {
			return mf, err
		}
	}
	return mf, nil
}

// Select returns the descriptor named name, or the first entry when name is empty.
func (m Manifest) Select(name string) (types.ModelDescriptor, error) {
	if len(m.Models) == 0 {
		return types.ModelDescriptor{}, ErrEmpty
	}
	if name == "" {
		return m.Models[0], nil
	}
	for _, d := range m.Models {
		if d.Name == name || d.Key() == name {
			return d, nil
		}
	}
	return types.ModelDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func validate(i int, d types.ModelDescriptor) error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return invalidError{i, "name is required"}
	case strings.TrimSpace(d.Version) == "":
		return invalidError{i, "version is required"}
	case strings.TrimSpace(d.Filename) == "":
		return invalidError{i, "filename is required"}
	case strings.ContainsAny(d.Filename, `/\`) || d.Filename == "." || d.Filename == "..":
		return invalidError{i, "filename must be a bare file name"}
	case d.SizeBytes < 0:
		return invalidError{i, "size_bytes must be >= 0"}
	}
	if b, err := hex.DecodeString(d.SHA256); err != nil || len(b) != 32 {
		return invalidError{i, "sha256 must be 64 hex characters"}
	}
	if d.ContextHint != nil && *d.ContextHint <= 0 {
		return invalidError{i, "n_ctx_hint must be positive"}
	}
	return nil
}
