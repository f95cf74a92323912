// Package downloader performs the HTTP retrieval backing the artifact
// cache (spec §4.E): getting the bytes of one URL onto disk, with bounded
// retry. It owns no cache policy and no concurrency cap of its own — the
// artifact cache drives locking/atomicity, and the metadata provider drives
// fan-out for speculative warm-fill (spec §5).
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"
)

const maxRetries = 3

// retryableError wraps errors that are transient and can be retried.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
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

// Manager fetches artifacts over HTTP with retry. It satisfies cache.Fetcher.
type Manager struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a download manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Fetch downloads url to destPath, retrying transient failures with
// exponential backoff. destPath is written directly (the caller, typically
// the artifact cache, is responsible for using a temporary name and an
// atomic rename so that a reader never observes a partial file).
func (m *Manager) Fetch(ctx context.Context, url, destPath string) error {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond

			m.logger.Debug("retrying fetch",
				slog.String("url", url),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("fetch canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := m.doFetch(ctx, url, destPath)
		if err == nil {
			return nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}

		lastErr = err
		m.logger.Debug("fetch attempt failed",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

func (m *Manager) doFetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)

		if resp.StatusCode >= http.StatusInternalServerError {
			return &retryableError{err: statusErr}
		}

		return statusErr
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}

	_, copyErr := io.Copy(f, resp.Body)

	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("closing %s: %w", destPath, err)
	}

	if copyErr != nil {
		_ = os.Remove(destPath)

		return fmt.Errorf("writing %s: %w", destPath, copyErr)
	}

	return nil
}
