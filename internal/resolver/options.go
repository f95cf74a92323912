package resolver

// Strategy controls which candidate a criterion picks first (spec §4.F
// step 3 and the supplemented "resolution strategy" feature mirroring pip's
// --resolution flag).
type Strategy int

const (
	// StrategyHighest picks the highest stable candidate, falling back to
	// the highest pre-release if no stable candidate is admissible. This is
	// the default, matching spec §4.F step 3's default behavior.
	StrategyHighest Strategy = iota
	// StrategyLowestDirect picks the lowest candidate for names that carry
	// at least one root-origin requirement, and the highest candidate for
	// purely transitive names — mirroring pip's --resolution=lowest-direct.
	StrategyLowestDirect
)

// Options configures a single resolve() run (spec §6's options tuple).
type Options struct {
	PreferSource     bool
	AllowPrereleases bool
	IgnoreErrors     bool
	MaxRounds        int
	Strategy         Strategy
}
