// Package metadata implements the metadata provider (spec §4.D): given a
// {name, version}, it returns the requires_python constraint and the direct
// requirements declared by that release, memoized for the lifetime of one
// resolve() run.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ardalabs/pyresolve/internal/index"
	"github.com/ardalabs/pyresolve/internal/marker"
	"github.com/ardalabs/pyresolve/internal/requirement"
	"github.com/ardalabs/pyresolve/internal/resolveerr"
	"github.com/ardalabs/pyresolve/internal/version"
)

// Source declares a release's requirements. A pypi.Service satisfies this
// directly from the PyPI JSON API, which already returns parsed
// requires_dist entries — so this provider never needs to download and
// unpack a wheel's METADATA file to answer requirements_of (archive
// extraction is explicitly out of scope, spec §1).
type Source interface {
	RequirementsOf(ctx context.Context, name, ver string) (reqs []string, requiresPython string, err error)
}

// Candidate is one version of a distribution, annotated with yank status:
// spec §4.A rule 4 excludes yanked versions unless the requirement pins
// them exactly, a decision the resolver core makes per-requirement, so the
// provider surfaces the flag rather than filtering it away itself.
type Candidate struct {
	Version      version.Version
	Yanked       bool
	YankedReason string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service is the memoized, index+source backed metadata provider.
type Service struct {
	idx    *index.Service
	src    Source
	env    marker.Environment
	logger *slog.Logger

	mu       sync.Mutex
	versions map[string][]Candidate
	reqsMemo map[string]reqsEntry
}

type reqsEntry struct {
	requiresPython version.Specifier
	reqs           []requirement.Requirement
}

// New creates a metadata provider. env is the target marker environment
// used to filter dependency markers at expansion time.
func New(idx *index.Service, src Source, env marker.Environment, opts ...Option) *Service {
	s := &Service{
		idx:      idx,
		src:      src,
		env:      env,
		logger:   slog.Default(),
		versions: make(map[string][]Candidate),
		reqsMemo: make(map[string]reqsEntry),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Versions returns every version of name that yields at least one artifact
// usable under the index Environment, descending, memoized per name.
func (s *Service) Versions(ctx context.Context, name string, idxEnv index.Environment) ([]Candidate, error) {
	s.mu.Lock()
	if cached, ok := s.versions[name]; ok {
		s.mu.Unlock()

		return cached, nil
	}
	s.mu.Unlock()

	dists, err := s.idx.List(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}

	candidates := make([]Candidate, 0, len(dists))

	for _, d := range dists {
		if _, err := index.SelectArtifact(d, idxEnv); err != nil {
			s.logger.Debug("version has no usable artifact, skipping",
				slog.String("name", name), slog.String("version", d.Version))

			continue
		}

		v, err := version.Parse(d.Version)
		if err != nil {
			s.logger.Debug("skipping unparseable version",
				slog.String("name", name), slog.String("version", d.Version))

			continue
		}

		yankedReason := ""

		for _, a := range d.Artifacts {
			if a.Yanked && a.YankedReason != "" {
				yankedReason = a.YankedReason

				break
			}
		}

		candidates = append(candidates, Candidate{Version: v, Yanked: d.Yanked, YankedReason: yankedReason})
	}

	if len(candidates) == 0 {
		return nil, &resolveerr.NoVersionsFoundError{Name: name}
	}

	s.mu.Lock()
	s.versions[name] = candidates
	s.mu.Unlock()

	return candidates, nil
}

// RequirementsOf implements the algorithm of spec §4.D: fetch the release's
// raw requirements, case-normalize names, attach origin, then keep those
// whose marker is satisfied either with no active extra or with extra=e for
// one of the requested extras.
func (s *Service) RequirementsOf(
	ctx context.Context, name string, v version.Version, extras []string,
) (version.Specifier, []requirement.Requirement, error) {
	key := name + "@" + v.String()

	s.mu.Lock()
	if cached, ok := s.reqsMemo[key]; ok {
		s.mu.Unlock()

		return cached.requiresPython, filterByExtras(cached.reqs, extras, s.env), nil
	}
	s.mu.Unlock()

	rawReqs, requiresPythonText, err := s.src.RequirementsOf(ctx, name, v.String())
	if err != nil {
		return version.Specifier{}, nil, &resolveerr.MetadataUnavailableError{Name: name, Version: v.String(), Err: err}
	}

	requiresPython, err := version.ParseSpecifier(requiresPythonText)
	if err != nil {
		s.logger.Debug("ignoring malformed requires_python",
			slog.String("name", name), slog.String("version", v.String()), slog.String("raw", requiresPythonText))

		requiresPython = version.Specifier{}
	}

	origin := requirement.PinOrigin(name, v.String())

	reqs := make([]requirement.Requirement, 0, len(rawReqs))

	for _, raw := range rawReqs {
		r, err := requirement.Parse(raw, origin)
		if err != nil {
			s.logger.Debug("skipping malformed dependency",
				slog.String("name", name), slog.String("version", v.String()), slog.String("raw", raw))

			continue
		}

		reqs = append(reqs, r)
	}

	s.mu.Lock()
	s.reqsMemo[key] = reqsEntry{requiresPython: requiresPython, reqs: reqs}
	s.mu.Unlock()

	return requiresPython, filterByExtras(reqs, extras, s.env), nil
}

// filterByExtras drops requirements whose marker is false both with no
// active extra and with every requested extra active (spec §4.D steps 5-6).
func filterByExtras(reqs []requirement.Requirement, extras []string, env marker.Environment) []requirement.Requirement {
	out := make([]requirement.Requirement, 0, len(reqs))

	for _, r := range reqs {
		if !r.HasMarker() {
			out = append(out, r)

			continue
		}

		if r.Marker.Eval(env, "") {
			out = append(out, r)

			continue
		}

		for _, e := range extras {
			if r.Marker.Eval(env, e) {
				out = append(out, r)

				break
			}
		}
	}

	return out
}
