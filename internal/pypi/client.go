// Package pypi implements a Repository (internal/index) and a requirements
// source (internal/metadata) backed by the public PyPI JSON API.
package pypi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/ardalabs/pyresolve/internal/index"
)

const (
	defaultBaseURL = "https://pypi.org/pypi"
	maxRetries     = 3
	clientTimeout  = 30 * time.Second
)

// Client is the narrow interface this package exposes to the JSON API.
type Client interface {
	GetPackage(ctx context.Context, name string) (*PackageInfo, error)
	GetPackageVersion(ctx context.Context, name, version string) (*PackageInfo, error)
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for API requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithBaseURL sets a custom base URL (useful for testing with httptest.Server).
func WithBaseURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.baseURL = url
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service communicates with the PyPI JSON API over HTTP. It satisfies both
// index.Repository (distribution listing) and metadata.Source (per-version
// requirements), since the JSON API happens to answer both questions
// without a separate core-metadata fetch.
type Service struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// compile-time proof that Service implements Client and index.Repository.
var (
	_ Client           = (*Service)(nil)
	_ index.Repository = (*Service)(nil)
)

// New creates a new PyPI API service.
func New(opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{Timeout: clientTimeout},
		baseURL:    defaultBaseURL,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetPackage fetches metadata for a package from PyPI.
// Endpoint: GET {baseURL}/{package_name}/json
func (s *Service) GetPackage(ctx context.Context, name string) (*PackageInfo, error) {
	url := fmt.Sprintf("%s/%s/json", s.baseURL, name)

	return s.fetch(ctx, url, name)
}

// GetPackageVersion fetches metadata for a specific version of a package.
// Endpoint: GET {baseURL}/{package_name}/{version}/json
func (s *Service) GetPackageVersion(ctx context.Context, name, version string) (*PackageInfo, error) {
	url := fmt.Sprintf("%s/%s/%s/json", s.baseURL, name, version)

	return s.fetch(ctx, url, name)
}

// List implements index.Repository: it enumerates every release of name
// known to PyPI and turns each into a Distribution, classifying each URL
// entry as a wheel (parsing its compatibility tag) or an sdist.
func (s *Service) List(ctx context.Context, name string) ([]index.Distribution, error) {
	info, err := s.GetPackage(ctx, name)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}

		return nil, err
	}

	dists := make([]index.Distribution, 0, len(info.Releases))

	for ver, urls := range info.Releases {
		dist := index.Distribution{Name: name, Version: ver}

		for _, u := range urls {
			artifact, err := s.toArtifact(name, ver, u)
			if err != nil {
				s.logger.Debug("skipping unparseable artifact",
					slog.String("package", name),
					slog.String("version", ver),
					slog.String("filename", u.Filename),
					slog.String("error", err.Error()),
				)

				continue
			}

			dist.Artifacts = append(dist.Artifacts, artifact)

			if u.Yanked {
				dist.Yanked = true
			}
		}

		dists = append(dists, dist)
	}

	return dists, nil
}

func (s *Service) toArtifact(name, ver string, u URL) (index.Artifact, error) {
	if u.PackageType == "sdist" {
		return index.Artifact{
			Kind:         index.Sdist,
			Name:         name,
			Version:      ver,
			Filename:     u.Filename,
			URL:          u.URL,
			SHA256:       u.Digests.SHA256,
			Yanked:       u.Yanked,
			YankedReason: u.YankedReason,
		}, nil
	}

	_, _, tag, err := index.ParseWheelFilename(u.Filename)
	if err != nil {
		return index.Artifact{}, fmt.Errorf("parsing wheel filename %s: %w", u.Filename, err)
	}

	return index.Artifact{
		Kind:         index.Wheel,
		Name:         name,
		Version:      ver,
		Filename:     u.Filename,
		URL:          u.URL,
		SHA256:       u.Digests.SHA256,
		Tag:          tag,
		Yanked:       u.Yanked,
		YankedReason: u.YankedReason,
	}, nil
}

// RequirementsOf returns the raw PEP 508 requirement strings and the
// requires_python specifier declared by a specific version, for
// internal/metadata's Source contract.
func (s *Service) RequirementsOf(ctx context.Context, name, ver string) (reqs []string, requiresPython string, err error) {
	info, err := s.GetPackageVersion(ctx, name, ver)
	if err != nil {
		return nil, "", err
	}

	return info.Info.RequiresDist, info.Info.RequiresPython, nil
}

// NotFoundError indicates a package or version PyPI has no record of.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.URL) }

// fetch performs an HTTP GET with retry and exponential backoff, then decodes the response.
// Only transient errors (5xx, network errors) are retried; permanent errors (404, bad JSON)
// are returned immediately.
func (s *Service) fetch(ctx context.Context, url, name string) (*PackageInfo, error) {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			s.logger.Debug("retrying PyPI request",
				slog.String("package", name),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetching %s: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		info, err := s.doRequest(ctx, url)
		if err == nil {
			return info, nil
		}

		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return nil, fmt.Errorf("fetching %s: %w", name, err)
		}

		lastErr = err
		s.logger.Debug("PyPI request failed",
			slog.String("package", name),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("fetching %s after %d attempts: %w", name, maxRetries, lastErr)
}

// retryableError indicates a transient error that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// doRequest performs a single HTTP GET and decodes the JSON response.
// Returns a retryableError for transient failures (5xx, network errors).
func (s *Service) doRequest(ctx context.Context, url string) (*PackageInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{URL: url}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &retryableError{err: fmt.Errorf("server error %d from %s", resp.StatusCode, url)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("reading response from %s: %w", url, err)}
	}

	var info PackageInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", url, err)
	}

	return &info, nil
}
