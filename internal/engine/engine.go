// Package engine wires the pipeline's stages into the single public
// entry point spec §6 describes: resolve(requirements, environment,
// repositories, options) -> ResolutionResult.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ardalabs/pyresolve/internal/cache"
	"github.com/ardalabs/pyresolve/internal/downloader"
	"github.com/ardalabs/pyresolve/internal/index"
	"github.com/ardalabs/pyresolve/internal/metadata"
	"github.com/ardalabs/pyresolve/internal/python"
	"github.com/ardalabs/pyresolve/internal/requirement"
	"github.com/ardalabs/pyresolve/internal/resolver"
	"github.com/ardalabs/pyresolve/internal/version"
)

// Options bundles the external knobs spec §6 names for one resolve() call.
type Options struct {
	PreferSource       bool
	AllowPrereleases   bool
	IgnoreErrors       bool
	MaxRounds          int
	CacheDir           string
	NetworkConcurrency int
	Strategy           resolver.Strategy
}

// Result is the outcome of a resolve() call: the resolver's raw assignment
// plus the root names needed to walk it into either shaper result form
// (shaper.Flatten, shaper.Tree, shaper.ToJSON all take *resolver.Result).
type Result struct {
	*resolver.Result
	RootNames []string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger threaded into every collaborator.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCacheFetcher overrides the artifact fetcher (tests substitute a fake
// instead of making real HTTP calls).
func WithCacheFetcher(f cache.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// Service is the top-level façade a command-line front-end drives: it owns
// no policy of its own beyond wiring the index, metadata, cache and
// resolver stages together for one target environment.
type Service struct {
	logger  *slog.Logger
	fetcher cache.Fetcher
}

// New creates an engine Service.
func New(opts ...Option) *Service {
	s := &Service{logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	if s.fetcher == nil {
		s.fetcher = downloader.New(downloader.WithLogger(s.logger))
	}

	return s
}

// Resolve runs one full resolution: parses the roots, builds the
// index/metadata/cache stack over repos, drives the resolver core to a
// fixed point, and returns its raw assignment ready for shaper.ToJSON (or
// shaper.Flatten/shaper.Tree directly).
func (s *Service) Resolve(
	ctx context.Context, rawRequirements []string, target python.Target, repos []index.Repository, src metadata.Source, opts Options,
) (*Result, error) {
	roots := make([]requirement.Requirement, 0, len(rawRequirements))

	for _, raw := range rawRequirements {
		r, err := requirement.Parse(raw, requirement.RootOrigin)
		if err != nil {
			return nil, err
		}

		roots = append(roots, r)
	}

	targetPython, err := version.Parse(target.PythonVersion)
	if err != nil {
		return nil, fmt.Errorf("parsing target python version %q: %w", target.PythonVersion, err)
	}

	idxEnv := target.IndexEnvironment(opts.PreferSource)
	markerEnv := target.MarkerEnvironment()

	idx := index.New(repos...)

	store, err := cache.New(cache.WithDir(opts.CacheDir), cache.WithFetcher(s.fetcher), cache.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("building artifact cache: %w", err)
	}

	provider := metadata.New(idx, src, markerEnv, metadata.WithLogger(s.logger))

	svc := resolver.New(provider, markerEnv, resolver.WithLogger(s.logger))

	rslvOpts := resolver.Options{
		PreferSource:     opts.PreferSource,
		AllowPrereleases: opts.AllowPrereleases,
		IgnoreErrors:     opts.IgnoreErrors,
		MaxRounds:        opts.MaxRounds,
		Strategy:         opts.Strategy,
	}

	result, err := svc.Resolve(ctx, roots, idxEnv, targetPython, rslvOpts)
	if err != nil {
		return nil, err
	}

	rootNames := make([]string, 0, len(roots))
	for _, r := range roots {
		rootNames = append(rootNames, r.Name)
	}

	s.warmFill(ctx, provider, store, idx, result.Pins, idxEnv, opts.NetworkConcurrency)

	return &Result{Result: result, RootNames: rootNames}, nil
}

// warmFill speculatively populates store with every pinned package's
// preferred artifact (spec §5): a best-effort pass whose failures never
// surface, since resolution has already succeeded by the time this runs.
func (s *Service) warmFill(
	ctx context.Context, provider *metadata.Service, store cache.Store, idx *index.Service,
	pins map[string]resolver.ResolvedPackage, idxEnv index.Environment, concurrency int,
) {
	var dists []index.Distribution

	for name := range pins {
		d, err := idx.List(ctx, name)
		if err != nil {
			s.logger.Debug("warm-fill listing failed", slog.String("name", name), "error", err)

			continue
		}

		dists = append(dists, d...)
	}

	provider.WarmFill(ctx, store, dists, idxEnv, concurrency)
}
