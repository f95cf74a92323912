package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/ardalabs/pyresolve/internal/version"
)

// manylinuxTag pairs a manylinux platform tag with the glibc version it
// declares, in the dotted-numeric form version.LooseCompare understands
// (manylinux's glibc suffix is not a PEP 440 version).
type manylinuxTag struct {
	tag   string
	glibc string
}

var manylinuxTagTable = []manylinuxTag{
	{"manylinux_2_35", "2.35"},
	{"manylinux_2_34", "2.34"},
	{"manylinux_2_31", "2.31"},
	{"manylinux_2_28", "2.28"},
	{"manylinux_2_17", "2.17"},
	{"manylinux2014", "2.17"}, // legacy tag name for the same glibc baseline as 2_17
}

// manylinuxGenerations is the set of manylinux platform tags a resolver
// should consider compatible with a plain linux_<arch> target, newest glibc
// first; manylinux2014 ties manylinux_2_17's glibc version, and the stable
// sort keeps it listed after its 2_17 counterpart.
var manylinuxGenerations = sortedManylinuxTags()

func sortedManylinuxTags() []string {
	tags := append([]manylinuxTag(nil), manylinuxTagTable...)

	sort.SliceStable(tags, func(i, j int) bool {
		return version.LooseCompare(tags[i].glibc, tags[j].glibc) > 0
	})

	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.tag
	}

	return out
}

// ExpandPlatformTags expands a single platform tag (e.g. "linux_x86_64" or
// "macosx_14_0_arm64") into a priority-ordered list of platform strings a
// wheel may declare and still be usable: the exact platform first, then
// manylinux generations for linux, or for macOS the target's universal2
// tag followed by each lower macOS major version (x.0, or 10.9 for 10) with
// its universal2 counterpart.
func ExpandPlatformTags(platform string) []string {
	platforms := []string{platform}

	switch {
	case strings.HasPrefix(platform, "linux_"):
		arch := strings.TrimPrefix(platform, "linux_")
		for _, ml := range manylinuxGenerations {
			platforms = append(platforms, ml+"_"+arch)
		}
	case strings.HasPrefix(platform, "macosx_"):
		platforms = append(platforms, expandMacOSVariants(platform)...)
	}

	return platforms
}

func expandMacOSVariants(platform string) []string {
	parts := strings.SplitN(platform, "_", 4) // macosx, major, minor, arch
	if len(parts) != 4 {
		return nil
	}

	arch := parts[3]

	current, err := semver.Make(fmt.Sprintf("%s.%s.0", parts[1], parts[2]))
	if err != nil {
		return nil
	}

	minMajor := uint64(10)
	if arch == "arm64" {
		minMajor = 11
	}

	var variants []macOSVersion

	for v := current.Major - 1; v >= minMajor; v-- {
		minor := uint64(0)
		if v == 10 {
			minor = 9
		}

		variants = append(variants, macOSVersion{major: v, minor: minor})
	}

	sort.Slice(variants, func(i, j int) bool {
		vi := semver.Version{Major: variants[i].major, Minor: variants[i].minor}
		vj := semver.Version{Major: variants[j].major, Minor: variants[j].minor}

		return vi.GT(vj)
	})

	platforms := make([]string, 0, len(variants)*2+1)
	platforms = append(platforms, fmt.Sprintf("macosx_%s_%s_universal2", parts[1], parts[2]))

	for _, v := range variants {
		platforms = append(platforms,
			fmt.Sprintf("macosx_%d_%d_%s", v.major, v.minor, arch),
			fmt.Sprintf("macosx_%d_%d_universal2", v.major, v.minor),
		)
	}

	return platforms
}

type macOSVersion struct {
	major, minor uint64
}

// CompatTagsForTarget builds the priority-ordered list of wheel tags
// compatible with a CPython interpreter of pythonVersion (e.g. "312") on
// platform (e.g. "macosx_14_0_arm64", "linux_x86_64"), most specific first:
// native ABI, stable ABI, no-ABI-but-platform-specific, pure Python, then
// universal.
func CompatTagsForTarget(pythonVersion, platform string) []WheelTag {
	cp := "cp" + pythonVersion
	pyMajor := "py" + pythonVersion[:1]

	platforms := ExpandPlatformTags(platform)

	var tags []WheelTag

	for _, plat := range platforms {
		tags = append(tags, WheelTag{Python: cp, ABI: cp, Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, WheelTag{Python: cp, ABI: "abi3", Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, WheelTag{Python: cp, ABI: "none", Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, WheelTag{Python: pyMajor, ABI: "none", Platform: plat})
	}

	tags = append(tags,
		WheelTag{Python: cp, ABI: "none", Platform: "any"},
		WheelTag{Python: pyMajor, ABI: "none", Platform: "any"},
	)

	return tags
}

// ParsePlatformMajorMinor splits a "macosx_14_0_arm64"-style tag into its
// numeric major/minor components, used by callers that need to validate a
// caller-supplied platform string before building compat tags.
func ParsePlatformMajorMinor(platform string) (major, minor int, err error) {
	parts := strings.SplitN(platform, "_", 4)
	if len(parts) != 4 {
		return 0, 0, fmt.Errorf("malformed platform tag %q", platform)
	}

	major, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing major version from %q: %w", platform, err)
	}

	minor, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing minor version from %q: %w", platform, err)
	}

	return major, minor, nil
}
