// Package cache implements the artifact cache (spec §4.E): a
// content-addressed local store of fetched archives, shared across
// resolver runs and processes, that makes the metadata provider tractable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cache entry: {name}/{version}/{filename}, per spec §4.E.
type Key struct {
	Name     string
	Version  string
	Filename string
}

func (k Key) relPath() string { return filepath.Join(k.Name, k.Version, k.Filename) }

// Fetcher retrieves the artifact at url and writes it to destPath. It is the
// cache's only collaborator for performing the actual network I/O; the
// artifact/archive extraction itself stays out of scope per spec §1.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Store is the contract the metadata provider (§4.D) and resolver core
// depend on.
type Store interface {
	// Get returns the local path of the cached artifact at key, downloading
	// it from url first if absent. Exactly one fetch happens per key even
	// under concurrent callers (P7); a reader always observes either no
	// file or a complete one.
	Get(ctx context.Context, url string, key Key) (path string, err error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDir sets the cache root directory, overriding the platform default.
func WithDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.dir = dir
		}
	}
}

// WithFetcher sets the collaborator used to download cache misses.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) {
		if f != nil {
			m.fetcher = f
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager is a content-addressed, file-locked artifact cache.
type Manager struct {
	dir     string
	fetcher Fetcher
	logger  *slog.Logger
	inflght singleflight.Group
}

// compile-time proof that Manager implements Store.
var _ Store = (*Manager)(nil)

// New creates a cache manager rooted at a platform-appropriate directory
// (overridable via WithDir / PYRESOLVE_CACHE_DIR).
func New(opts ...Option) (*Manager, error) {
	m := &Manager{logger: slog.Default()}

	for _, opt := range opts {
		opt(m)
	}

	if m.dir == "" {
		m.dir = defaultCacheDir()
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", m.dir, err)
	}

	return m, nil
}

// Get implements Store. Cache entries are immutable once present (no TTL):
// a present file is returned as-is without re-validation.
func (m *Manager) Get(ctx context.Context, url string, key Key) (string, error) {
	path := filepath.Join(m.dir, key.relPath())

	if fileExists(path) {
		return path, nil
	}

	if m.fetcher == nil {
		return "", fmt.Errorf("cache miss for %s and no fetcher configured", key.relPath())
	}

	// singleflight collapses concurrent in-process callers for the same
	// key onto one fetch; the file lock below additionally protects
	// against concurrent separate processes (spec §4.E / §5).
	v, err, _ := m.inflght.Do(key.relPath(), func() (any, error) {
		return m.fetchOnce(ctx, url, key, path)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (m *Manager) fetchOnce(ctx context.Context, url string, key Key, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory for %s: %w", key.relPath(), err)
	}

	release, err := acquireLock(ctx, path+".lock")
	if err != nil {
		return "", fmt.Errorf("locking cache entry %s: %w", key.relPath(), err)
	}
	defer release()

	// Re-check after acquiring the lock: another process may have
	// completed the download while we were waiting.
	if fileExists(path) {
		return path, nil
	}

	tmpPath := path + fmt.Sprintf(".tmp-%d", os.Getpid())

	m.logger.Debug("cache miss, fetching", slog.String("key", key.relPath()), slog.String("url", url))

	if err := m.fetcher.Fetch(ctx, url, tmpPath); err != nil {
		_ = os.Remove(tmpPath)

		return "", fmt.Errorf("fetching %s: %w", key.relPath(), err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)

		return "", fmt.Errorf("finalizing cache entry %s: %w", key.relPath(), err)
	}

	m.logger.Debug("cached", slog.String("key", key.relPath()))

	return path, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

// acquireLock takes a cross-process exclusive lock keyed by lockPath using
// the presence of the lock file itself as the mutex: O_EXCL creation is
// atomic on every platform this resolver targets. It polls with jittered
// backoff until ctx is done.
func acquireLock(ctx context.Context, lockPath string) (release func(), err error) {
	const (
		initialBackoff = 20 * time.Millisecond
		maxBackoff     = 500 * time.Millisecond
	)

	backoff := initialBackoff

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()

			return func() { _ = os.Remove(lockPath) }, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(backoff)):
		}

		backoff = time.Duration(math.Min(float64(backoff*2), float64(maxBackoff)))
	}
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1)) //nolint:gosec // timing jitter, not security-sensitive
}

// defaultCacheDir returns the platform-appropriate cache directory.
// Priority: PYRESOLVE_CACHE_DIR > platform default.
func defaultCacheDir() string {
	if dir := os.Getenv("PYRESOLVE_CACHE_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pyresolve", "artifacts")
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Caches", "pyresolve", "artifacts")
	}

	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "pyresolve", "artifacts")
	}

	return filepath.Join(home, ".cache", "pyresolve", "artifacts")
}
