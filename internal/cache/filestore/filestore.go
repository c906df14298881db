package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"tradebalance/internal/cache"
	"tradebalance/internal/model"
)

// Store keeps artifacts as flat files under a root directory.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("filestore: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(key cache.Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key.Path())), nil
}

func (s *Store) Get(ctx context.Context, key cache.Key) (cache.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return cache.Artifact{}, err
	}
	p, err := s.path(key)
	if err != nil {
		return cache.Artifact{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return cache.Artifact{}, notFound(key, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return cache.Artifact{}, notFound(key, err)
	}
	return cache.Artifact{Key: key, Data: data, Size: int64(len(data)), ModTime: info.ModTime()}, nil
}

// Put writes data to a temporary file in the target directory and renames
// it into place.
func (s *Store) Put(ctx context.Context, key cache.Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("filestore: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("filestore: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("filestore: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		cleanup()
		return fmt.Errorf("filestore: rename %s: %w", key, err)
	}
	return nil
}

func (s *Store) Stat(ctx context.Context, key cache.Key) (cache.Info, error) {
	if err := ctx.Err(); err != nil {
		return cache.Info{}, err
	}
	p, err := s.path(key)
	if err != nil {
		return cache.Info{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return cache.Info{}, notFound(key, err)
	}
	if info.IsDir() {
		return cache.Info{}, fmt.Errorf("%w: %s is a directory", cache.ErrNotFound, key)
	}
	return cache.Info{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *Store) Delete(ctx context.Context, key cache.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, kind model.DataKind) ([]cache.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, cache.Dir(kind)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: list %s: %w", kind, err)
	}
	var keys []cache.Key
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := cache.ParsePath(cache.Dir(kind) + "/" + entry.Name())
		if !ok {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path() < keys[j].Path() })
	return keys, nil
}

// Purge removes every kind directory.
func (s *Store) Purge(ctx context.Context) error {
	for _, kind := range cache.Kinds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(s.root, cache.Dir(kind))); err != nil {
			return fmt.Errorf("filestore: purge %s: %w", kind, err)
		}
	}
	return nil
}

func notFound(key cache.Key, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}
	return fmt.Errorf("%w: %s: %v", cache.ErrNotFound, key, err)
}
