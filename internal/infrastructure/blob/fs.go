// Package blob holds the artifact stores: a local directory and an
// S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

// FSStore keeps blobs as files below a root directory.
type FSStore struct {
	root string
}

var _ port.BlobStore = (*FSStore)(nil)

func NewFSStore(root string) (*FSStore, error) {
	if !filepath.IsAbs(root) {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
		}
		root = abs
	}

	// Refuse to scatter artifacts across system directories
	dangerousPaths := []string{"/", "/etc", "/usr", "/bin", "/sbin", "/proc", "/sys"}
	for _, dangerous := range dangerousPaths {
		if root == dangerous {
			return nil, fmt.Errorf("%w: refusing to use %s as blob directory", domain.ErrValidation, root)
		}
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: failed to create blob directory: %v", domain.ErrStorage, err)
	}
	return &FSStore{root: root}, nil
}

// resolve maps a blob path to a file below root, rejecting anything that escapes it.
func (s *FSStore) resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: invalid blob path %q", domain.ErrValidation, path)
	}
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: blob path %q escapes the store", domain.ErrValidation, path)
	}
	return full, nil
}

// Put writes to a temporary file first so a crashed write never leaves a
// truncated blob under the final name.
func (s *FSStore) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("%w: failed to create directory for %s: %v", domain.ErrStorage, path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file for %s: %v", domain.ErrStorage, path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write %s: %v", domain.ErrStorage, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to sync %s: %v", domain.ErrStorage, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %v", domain.ErrStorage, path, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("%w: failed to publish %s: %v", domain.ErrStorage, path, err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob %s", domain.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", domain.ErrStorage, path, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: blob %s", domain.ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", domain.ErrStorage, path, err)
	}
	return nil
}
