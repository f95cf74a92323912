// Package resolver implements the backtracking dependency resolution core
// (spec §4.F): a criterion-per-name search over a metadata provider, with
// chronological backtracking on conflict and a minimal conflict set on
// failure.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/xerrors"

	"github.com/ardalabs/pyresolve/internal/index"
	"github.com/ardalabs/pyresolve/internal/marker"
	"github.com/ardalabs/pyresolve/internal/metadata"
	"github.com/ardalabs/pyresolve/internal/requirement"
	"github.com/ardalabs/pyresolve/internal/resolveerr"
	"github.com/ardalabs/pyresolve/internal/version"
)

// defaultMaxRounds bounds the search as a last-resort termination guarantee
// (spec §4.F / §8 property P8); real inputs finish in a handful of rounds.
const defaultMaxRounds = 50000

// Provider is the narrow surface the resolver core needs from a metadata
// service, letting tests substitute an in-memory fake.
type Provider interface {
	Versions(ctx context.Context, name string, idxEnv index.Environment) ([]metadata.Candidate, error)
	RequirementsOf(ctx context.Context, name string, v version.Version, extras []string) (version.Specifier, []requirement.Requirement, error)
}

var _ Provider = (*metadata.Service)(nil)

// ResolvedPackage is one name's final pin.
type ResolvedPackage struct {
	Name         string
	Version      version.Version
	Extras       []string
	Yanked       bool
	YankedReason string
}

// Result is the outcome of a successful Resolve: the pinned versions and the
// full set of requirement edges used to build a dependency tree.
type Result struct {
	Pins         map[string]ResolvedPackage
	Requirements map[string][]requirement.Requirement // name -> requirements that targeted it
	Rounds       int
	Warnings     []string // e.g. a yanked version selected via an exact pin
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

// Service runs resolve() over a Provider.
type Service struct {
	provider Provider
	target   marker.Environment
	logger   *slog.Logger
}

// New creates a resolver Service bound to a metadata Provider and the
// environment markers its requirements are evaluated against.
func New(provider Provider, target marker.Environment, opts ...Option) *Service {
	s := &Service{provider: provider, target: target, logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Resolve runs the Step/Backtrack algorithm of spec §4.F to a fixed point,
// starting from roots (requirements with requirement.RootOrigin).
func (s *Service) Resolve(
	ctx context.Context, roots []requirement.Requirement, idxEnv index.Environment, targetPython version.Version, opts Options,
) (*Result, error) {
	st := newState()

	for _, r := range roots {
		if r.HasMarker() && !r.Marker.Eval(s.target, "") {
			s.logger.Debug("root requirement's marker excludes the target environment", slog.String("name", r.Name))

			continue
		}

		st.addRequirement(r.Name, r)
	}

	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	round := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		round++
		if round > maxRounds {
			return nil, fmt.Errorf("resolution did not converge within %d rounds", maxRounds)
		}

		name, ok, err := s.selectCriterion(ctx, st, idxEnv, opts)
		if err != nil {
			return nil, err
		}

		if !ok {
			if name, ok = s.selectReexpansion(st); !ok {
				break
			}

			if err := s.reexpand(ctx, st, name, opts); err != nil {
				return nil, err
			}

			continue
		}

		done, err := s.step(ctx, st, name, idxEnv, targetPython, opts)
		if err != nil {
			return nil, err
		}

		if !done {
			ok, err := s.backtrack(ctx, st, name, idxEnv, opts)
			if err != nil {
				return nil, err
			}

			if !ok {
				return nil, s.impossible(st, name)
			}
		}
	}

	return s.buildResult(st), nil
}

// selectCriterion implements spec §4.F step 1: pick the unpinned name with
// the smallest non-empty candidate set, tie-broken by insertion order. A
// name whose requirements are currently empty is skipped (nothing left to
// pin); a name whose candidate set comes back empty is still returned so
// its emptiness can drive backtracking, but only once no name with a
// non-empty candidate set remains, keeping the search depth-first along the
// most constrained path.
func (s *Service) selectCriterion(
	ctx context.Context, st *state, idxEnv index.Environment, opts Options,
) (string, bool, error) {
	bestName := ""
	bestSize := -1
	emptyName := ""
	haveEmpty := false

	for _, name := range st.order {
		if _, pinned := st.pins[name]; pinned {
			continue
		}

		reqs := st.requirementsByName[name]
		if len(reqs) == 0 {
			continue
		}

		all, err := s.provider.Versions(ctx, name, idxEnv)
		if err != nil {
			var nf *resolveerr.NoVersionsFoundError
			if !xerrors.As(err, &nf) {
				return "", false, err
			}

			all = nil
		}

		size := len(st.filterCandidates(name, all, opts.AllowPrereleases))

		if size == 0 {
			if !haveEmpty {
				emptyName = name
				haveEmpty = true
			}

			continue
		}

		if bestSize == -1 || size < bestSize {
			bestName = name
			bestSize = size
		}
	}

	if bestSize != -1 {
		return bestName, true, nil
	}

	if haveEmpty {
		return emptyName, true, nil
	}

	return "", false, nil
}

// selectReexpansion finds a pinned name whose active requirements now
// request an extra not yet expanded (spec §4.F extras handling).
func (s *Service) selectReexpansion(st *state) (string, bool) {
	for _, name := range st.order {
		p, pinned := st.pins[name]
		if !pinned {
			continue
		}

		for _, e := range extrasUnion(st.requirementsByName[name]) {
			if !p.ExpandedExtras[e] {
				return name, true
			}
		}
	}

	return "", false
}

// step attempts to pin name, trying candidates in the order pickCandidate
// chooses them until one's children expand cleanly. Returns done=false if every candidate was
// exhausted (the criterion is now empty and the caller must backtrack).
func (s *Service) step(
	ctx context.Context, st *state, name string, idxEnv index.Environment, targetPython version.Version, opts Options,
) (bool, error) {
	all, err := s.provider.Versions(ctx, name, idxEnv)
	if err != nil {
		var nf *resolveerr.NoVersionsFoundError
		if xerrors.As(err, &nf) {
			return false, nil
		}

		return false, err
	}

	for {
		candidates := st.filterCandidates(name, all, opts.AllowPrereleases)
		if len(candidates) == 0 {
			return false, nil
		}

		v := pickCandidate(candidates, name, st, opts.Strategy)

		requiresPython, reqs, err := s.provider.RequirementsOf(ctx, name, v, extrasUnion(st.requirementsByName[name]))
		if err != nil {
			var mu *resolveerr.MetadataUnavailableError
			if xerrors.As(err, &mu) && opts.IgnoreErrors {
				s.logger.Debug("ignoring metadata-unavailable candidate",
					slog.String("name", name), slog.String("version", v.String()))

				st.markBad(name, v)

				continue
			}

			return false, err
		}

		if !requiresPython.Empty() && !requiresPython.Contains(targetPython, true, true) {
			s.logger.Debug("skipping candidate: requires_python excludes target",
				slog.String("name", name), slog.String("version", v.String()))

			st.markBad(name, v)

			continue
		}

		extras := extrasUnion(st.requirementsByName[name])

		added, ok := s.expandChildren(st, name, reqs)
		if !ok {
			s.undoAdded(st, added)
			st.markBad(name, v)

			continue
		}

		yanked, yankedReason := yankStatus(all, v)

		st.pins[name] = pin{
			Version:        v,
			ExpandedExtras: toSet(extras),
			ParentName:     parentOf(st.requirementsByName[name]),
			Yanked:         yanked,
			YankedReason:   yankedReason,
		}
		st.trail = append(st.trail, trailEntry{
			name: name, version: v, wasNewPin: true, addedExtras: extras, addedCounts: added,
		})

		return true, nil
	}
}

// reexpand adds the children of an already-pinned name under the full union
// of its requested extras, without creating a new pin (spec §4.F extras
// note). Every requirement the provider returns for that union is appended,
// so children already added at an earlier expansion are appended again
// alongside the ones gated on the newly-activated extras.
func (s *Service) reexpand(ctx context.Context, st *state, name string, opts Options) error {
	p := st.pins[name]

	newExtras := extrasUnion(st.requirementsByName[name])

	var toAdd []string

	for _, e := range newExtras {
		if !p.ExpandedExtras[e] {
			toAdd = append(toAdd, e)
		}
	}

	_, reqs, err := s.provider.RequirementsOf(ctx, name, p.Version, newExtras)
	if err != nil {
		return err
	}

	added, ok := s.expandChildren(st, name, reqs)
	if !ok {
		s.undoAdded(st, added)

		return fmt.Errorf("activating extras %v on %s produced an unsatisfiable child requirement", toAdd, name)
	}

	for _, e := range toAdd {
		p.ExpandedExtras[e] = true
	}

	st.pins[name] = p
	st.trail = append(st.trail, trailEntry{name: name, version: p.Version, wasNewPin: false, addedExtras: toAdd, addedCounts: added})

	return nil
}

// expandChildren adds each of reqs to its target name's active
// requirements, dropping edges that would close a cycle back to an
// ancestor, and reports ok=false if an already-pinned child's version no
// longer satisfies every requirement on it (forcing the caller to undo and
// try another candidate instead of a full backtrack). The candidate sets of
// children that are not yet pinned are not checked here: a child left with
// no candidates is found only when a later round selects it.
func (s *Service) expandChildren(st *state, name string, reqs []requirement.Requirement) (map[string]int, bool) {
	ancestors := st.ancestorChain(parentOf(st.requirementsByName[name]))
	ancestors[name] = true

	added := make(map[string]int)

	for _, r := range reqs {
		if ancestors[r.Name] {
			s.logger.Debug("dropping cyclic dependency edge", slog.String("from", name), slog.String("to", r.Name))

			continue
		}

		st.addRequirement(r.Name, r)
		added[r.Name]++
	}

	for child := range added {
		if _, pinned := st.pins[child]; pinned {
			v := st.pins[child].Version
			if !satisfiesAll(st.requirementsByName[child], v) {
				return added, false
			}
		}
	}

	return added, true
}

func satisfiesAll(reqs []requirement.Requirement, v version.Version) bool {
	for _, r := range reqs {
		if !r.Specifier.Contains(v, true, true) {
			return false
		}
	}

	return true
}

func (s *Service) undoAdded(st *state, added map[string]int) {
	for child, n := range added {
		reqs := st.requirementsByName[child]
		st.requirementsByName[child] = reqs[:len(reqs)-n]
	}
}

// backtrack implements spec §4.F's Backtrack algorithm: unwind the trail
// newest-first until undoing an entry actually restores at least one
// candidate for failingName, then mark that entry's (name, version) bad and
// resume the search. Returns false if the trail empties first (resolution
// impossible).
func (s *Service) backtrack(
	ctx context.Context, st *state, failingName string, idxEnv index.Environment, opts Options,
) (bool, error) {
	for len(st.trail) > 0 {
		te := st.undoLast()

		all, err := s.provider.Versions(ctx, failingName, idxEnv)
		if err != nil {
			var nf *resolveerr.NoVersionsFoundError
			if !xerrors.As(err, &nf) {
				return false, err
			}

			all = nil
		}

		if len(st.filterCandidates(failingName, all, opts.AllowPrereleases)) == 0 {
			continue
		}

		st.markBad(te.name, te.version)

		return true, nil
	}

	return false, nil
}

func (s *Service) impossible(st *state, failingName string) error {
	conflict := resolveerr.Conflict{Name: failingName}

	for _, r := range st.requirementsByName[failingName] {
		conflict.Cause = append(conflict.Cause, fmt.Sprintf("%s: %s%s", r.Origin.String(), r.Name, r.Specifier.String()))
	}

	msg := xerrors.Errorf("no version of %s satisfies all requirements: %w", failingName, fmt.Errorf("%v", conflict.Cause))

	return &resolveerr.ResolutionImpossibleError{
		Conflicts: []resolveerr.Conflict{conflict},
		Message:   msg.Error(),
	}
}

func (s *Service) buildResult(st *state) *Result {
	result := &Result{
		Pins:         make(map[string]ResolvedPackage, len(st.pins)),
		Requirements: st.requirementsByName,
	}

	for name, p := range st.pins {
		extras := make([]string, 0, len(p.ExpandedExtras))
		for e := range p.ExpandedExtras {
			extras = append(extras, e)
		}

		result.Pins[name] = ResolvedPackage{
			Name: name, Version: p.Version, Extras: extras, Yanked: p.Yanked, YankedReason: p.YankedReason,
		}

		if p.Yanked {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s %s is yanked and was selected only because a requirement pins it exactly", name, p.Version.String()))
		}
	}

	return result
}

// pickCandidate applies the configured Strategy (spec §4.F step 3 plus the
// supplemented resolution-strategy feature): StrategyHighest takes the
// highest stable candidate of the descending list, or its top when every
// candidate is a pre-release; StrategyLowestDirect takes the bottom for
// names with a root-origin requirement and does the same as StrategyHighest
// otherwise.
func pickCandidate(candidates []version.Version, name string, st *state, strategy Strategy) version.Version {
	if strategy == StrategyLowestDirect && hasRootOrigin(st.requirementsByName[name]) {
		return candidates[len(candidates)-1]
	}

	for _, c := range candidates {
		if !c.IsPreRelease() {
			return c
		}
	}

	return candidates[0]
}

// yankStatus reports the yank flag/reason of the candidate matching v,
// used to surface a warning when a yanked version was only admissible
// because a requirement pinned it exactly (spec §7: "Warnings... in a
// separate channel").
func yankStatus(candidates []metadata.Candidate, v version.Version) (bool, string) {
	for _, c := range candidates {
		if c.Version.String() == v.String() {
			return c.Yanked, c.YankedReason
		}
	}

	return false, ""
}

func hasRootOrigin(reqs []requirement.Requirement) bool {
	for _, r := range reqs {
		if r.Origin.IsRoot {
			return true
		}
	}

	return false
}

func parentOf(reqs []requirement.Requirement) string {
	for _, r := range reqs {
		if !r.Origin.IsRoot {
			return r.Origin.Name
		}
	}

	return ""
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}

	return m
}
