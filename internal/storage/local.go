package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// LocalStore keeps artifacts in a directory tree, one file per key.
// It backs local development and tests.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Exists reports whether key has been written
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, models.NewError(models.KindStore, "exists "+key, err)
}

// Write copies localPath to key through a temporary file so readers never see a partial object
func (s *LocalStore) Write(_ context.Context, key, localPath string) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return models.NewError(models.KindStore, "mkdir "+key, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return models.NewError(models.KindStore, "open "+localPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return models.NewError(models.KindStore, "create "+key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return models.NewError(models.KindStore, "copy "+key, err)
	}
	if err := tmp.Close(); err != nil {
		return models.NewError(models.KindStore, "close "+key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return models.NewError(models.KindStore, "rename "+key, err)
	}
	return nil
}

// ListByPrefix returns all keys starting with prefix in lexical order
func (s *LocalStore) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, models.NewError(models.KindStore, "list "+prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Read returns the content stored under key
func (s *LocalStore) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, models.NewError(models.KindStore, "read "+key, err)
	}
	return data, nil
}
