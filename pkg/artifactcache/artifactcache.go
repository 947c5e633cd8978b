// Package artifactcache stores downloaded distribution files on disk,
// keyed by {name}/{version}/{filename}. Entries are immutable once
// present and have no TTL; the cache is shared between runs and between
// processes.
//
// Concurrent requests for the same artifact are serialized with a
// per-artifact file lock so that exactly one caller downloads while the
// others wait, and a reader only ever observes a complete file: writes
// go to a temporary name in the same directory and are renamed into
// place atomically.
package artifactcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/matzehuels/wheelhouse/pkg/pypi"
)

// lockPollInterval is how often a waiting process re-attempts the
// per-artifact lock.
const lockPollInterval = 50 * time.Millisecond

// Fetch downloads an artifact's bytes into w. The cache calls it at
// most once per artifact per filesystem state.
type Fetch func(ctx context.Context, a pypi.Artifact, w io.Writer) error

// Cache is a content-addressed store of fetched artifacts rooted at a
// directory. Safe for concurrent use by multiple goroutines and
// multiple processes.
type Cache struct {
	root string
}

// DefaultDir returns the per-user default cache root.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "wheelhouse", "artifacts"), nil
}

// New creates a cache rooted at dir, creating it if needed. An empty
// dir selects [DefaultDir].
func New(dir string) (*Cache, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{root: dir}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Path returns where an artifact lives (or would live) in the cache.
func (c *Cache) Path(a pypi.Artifact) string {
	return filepath.Join(c.root, a.Name, a.Version.String(), a.Filename)
}

// Get returns the local path of the artifact, downloading it with fetch
// on first use. When the file is already present it is returned without
// taking the lock. Cancellation between retries leaves no partial file
// behind.
func (c *Cache) Get(ctx context.Context, a pypi.Artifact, fetch Fetch) (string, error) {
	path := c.Path(a)
	if fileComplete(path) {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, lockPollInterval)
	if err != nil || !ok {
		return "", fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	// Another process may have completed the download while we waited.
	if fileComplete(path) {
		return path, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+a.Filename+".tmp-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := fetch(ctx, a, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// Clear removes every cached artifact under the root.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the total bytes and file count of cached artifacts.
func (c *Cache) Size() (int64, int, error) {
	var bytes int64
	var count int
	err := filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) == ".lock" {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		count++
		return nil
	})
	return bytes, count, err
}

// fileComplete reports whether a finished cache entry exists at path.
// Entries are renamed into place atomically, so existence implies
// completeness.
func fileComplete(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
