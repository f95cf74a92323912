// Package shaper builds the result shapes spec §4.G and §6 ask for from a
// resolver.Result: a deduplicated flat list/graph, a tree that walks origin
// edges from the roots (duplicating a child at every site it is reached
// from), and the JSON document a command-line front-end serializes. Field
// names and invariants of that document belong to this package; the
// resolver core only supplies the assignment and parent edges.
package shaper

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ardalabs/pyresolve/internal/resolver"
)

// PURL formats a pinned package as a Package-URL string (spec §6: "Package
// identity at the boundary").
func PURL(name, version string) string {
	return fmt.Sprintf("pkg:pypi/%s@%s", name, version)
}

// FlatEntry is one node of the flat dependency graph: a package and the
// distinct names it directly requires (spec §6's "Result JSON — flat graph
// form").
type FlatEntry struct {
	Package      string   `json:"package"`
	Dependencies []string `json:"dependencies"`
}

// Flatten collects every pinned {name, version} exactly once (P3:
// uniqueness) and attaches each one's direct, deduplicated children, in
// topological order (parents before children, ties broken alphabetically).
func Flatten(result *resolver.Result) []FlatEntry {
	children := directChildren(result)

	names := sortedPinNames(result)

	order := topoOrder(names, children)

	entries := make([]FlatEntry, 0, len(order))

	for _, name := range order {
		pkg := result.Pins[name]

		deps := make([]string, 0, len(children[name]))
		for _, child := range children[name] {
			childPkg := result.Pins[child]
			deps = append(deps, PURL(child, childPkg.Version.String()))
		}

		sort.Strings(deps)

		entries = append(entries, FlatEntry{Package: PURL(name, pkg.Version.String()), Dependencies: deps})
	}

	return entries
}

// TreeNode is one node of the rooted dependency tree. The same package may
// appear as more than one TreeNode if multiple parents require it — spec
// §4.G: "If the same child is reached via multiple parents it is
// duplicated at each site."
type TreeNode struct {
	Package      string      `json:"package"`
	Dependencies []*TreeNode `json:"dependencies,omitempty"`
}

// Tree walks origin edges starting from rootNames, rebuilding the
// requirement tree with duplication at every site a child is reached from.
// ancestors guards against cycles the resolver already dropped at
// expansion time but that could otherwise loop here too.
func Tree(result *resolver.Result, rootNames []string) []*TreeNode {
	children := directChildren(result)

	sorted := append([]string(nil), rootNames...)
	sort.Strings(sorted)

	nodes := make([]*TreeNode, 0, len(sorted))

	for _, name := range sorted {
		nodes = append(nodes, buildNode(result, children, name, map[string]bool{}))
	}

	return nodes
}

func buildNode(result *resolver.Result, children map[string][]string, name string, ancestors map[string]bool) *TreeNode {
	pkg := result.Pins[name]
	node := &TreeNode{Package: PURL(name, pkg.Version.String())}

	if ancestors[name] {
		return node
	}

	nextAncestors := make(map[string]bool, len(ancestors)+1)
	for k := range ancestors {
		nextAncestors[k] = true
	}

	nextAncestors[name] = true

	childNames := append([]string(nil), children[name]...)
	sort.Strings(childNames)

	for _, c := range childNames {
		node.Dependencies = append(node.Dependencies, buildNode(result, children, c, nextAncestors))
	}

	return node
}

// directChildren maps each pinned name to the distinct set of other pinned
// names that have at least one active requirement originating from it; a
// child required by several pins is listed under each of them.
func directChildren(result *resolver.Result) map[string][]string {
	children := make(map[string][]string)

	for childName, reqs := range result.Requirements {
		if _, pinned := result.Pins[childName]; !pinned {
			continue
		}

		seen := make(map[string]bool)

		for _, r := range reqs {
			if r.Origin.IsRoot {
				continue
			}

			if seen[r.Origin.Name] {
				continue
			}

			seen[r.Origin.Name] = true

			children[r.Origin.Name] = append(children[r.Origin.Name], childName)
		}
	}

	return children
}

func sortedPinNames(result *resolver.Result) []string {
	names := make([]string, 0, len(result.Pins))
	for name := range result.Pins {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// topoOrder returns names ordered so that every name appears after each of
// its parents, breaking ties alphabetically (spec §6).
func topoOrder(names []string, children map[string][]string) []string {
	parentCount := make(map[string]int, len(names))
	for _, n := range names {
		parentCount[n] = 0
	}

	for _, kids := range children {
		for _, k := range kids {
			parentCount[k]++
		}
	}

	var ready []string

	for _, n := range names {
		if parentCount[n] == 0 {
			ready = append(ready, n)
		}
	}

	sort.Strings(ready)

	var order []string

	visited := make(map[string]bool, len(names))

	for len(ready) > 0 {
		sort.Strings(ready)

		n := ready[0]
		ready = ready[1:]

		if visited[n] {
			continue
		}

		visited[n] = true

		order = append(order, n)

		for _, k := range children[n] {
			parentCount[k]--
			if parentCount[k] == 0 {
				ready = append(ready, k)
			}
		}
	}

	// Any name not reached by the parent-count walk (e.g. isolated by a
	// cycle the resolver already broke one edge of) is appended last,
	// alphabetically, so Flatten never silently drops a pinned package.
	for _, n := range names {
		if !visited[n] {
			order = append(order, n)
		}
	}

	return order
}

// PackageEntry is one pinned package's metadata, independent of either
// result shape.
type PackageEntry struct {
	Package      string   `json:"package"`
	Extras       []string `json:"extras,omitempty"`
	Yanked       bool     `json:"yanked,omitempty"`
	YankedReason string   `json:"yanked_reason,omitempty"`
}

// Packages lists every pinned package's metadata, sorted by name.
func Packages(result *resolver.Result) []PackageEntry {
	names := sortedPinNames(result)

	entries := make([]PackageEntry, 0, len(names))

	for _, name := range names {
		pkg := result.Pins[name]

		entries = append(entries, PackageEntry{
			Package:      PURL(name, pkg.Version.String()),
			Extras:       pkg.Extras,
			Yanked:       pkg.Yanked,
			YankedReason: pkg.YankedReason,
		})
	}

	return entries
}

// Document is the JSON shape spec §6 describes: headers, a package metadata
// list, and exactly one of the two result shapes.
type Document struct {
	Headers                 map[string]string `json:"headers"`
	Packages                []PackageEntry    `json:"packages"`
	Resolution              []*TreeNode       `json:"resolution,omitempty"`
	ResolvedDependencyGraph []FlatEntry       `json:"resolved_dependencies_graph,omitempty"`
	Warnings                []string          `json:"warnings,omitempty"`
}

// ToJSON builds and encodes the Document for one resolve() call. format
// selects which result shape is attached: "tree" (default) or "flat".
func ToJSON(headers map[string]string, result *resolver.Result, rootNames []string, format string, warnings []string) ([]byte, error) {
	doc := Document{
		Headers:  headers,
		Packages: Packages(result),
		Warnings: warnings,
	}

	switch format {
	case "", "tree":
		doc.Resolution = Tree(result, rootNames)
	case "flat":
		doc.ResolvedDependencyGraph = Flatten(result)
	default:
		return nil, fmt.Errorf("unknown result format %q, want one of: tree, flat", format)
	}

	return json.MarshalIndent(doc, "", "  ")
}
