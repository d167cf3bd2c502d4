package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalBlobStore implements BlobStore on a directory tree.
type LocalBlobStore struct {
	rootPath string
}

var _ BlobStore = (*LocalBlobStore)(nil)

func NewLocalBlobStore(rootPath string) *LocalBlobStore {
	return &LocalBlobStore{rootPath: rootPath}
}

func (s *LocalBlobStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.rootPath, clean), nil
}

// Put writes the blob through a temp file and rename, so readers never see
// a partial document.
func (s *LocalBlobStore) Put(ctx context.Context, key string, reader io.Reader) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	if _, err := io.Copy(tmp, reader); err != nil {
		cleanup()
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename blob to %s: %w", fullPath, err)
	}
	return nil
}

func (s *LocalBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return f, nil
}

func (s *LocalBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	root := filepath.Join(s.rootPath, filepath.FromSlash(prefix))

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.rootPath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list blobs with prefix %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalBlobStore) Delete(ctx context.Context, key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}
