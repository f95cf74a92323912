package index

import (
	"fmt"
	"strings"
)

// WheelTag is a PEP 425 compatibility tag: an (interpreter, ABI, platform)
// triple. A wheel filename's tag segment may itself encode several
// alternatives per field, separated by ".", meaning the wheel supports any
// one of them.
type WheelTag struct {
	Python   string // e.g., "cp312", "py3"
	ABI      string // e.g., "cp312", "abi3", "none"
	Platform string // e.g., "manylinux_2_17_x86_64", "any"
}

// ParseWheelFilename splits a wheel filename into name, version, and tag.
// Format: {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl
func ParseWheelFilename(filename string) (name, ver string, tag WheelTag, err error) {
	if !strings.HasSuffix(filename, ".whl") {
		return "", "", WheelTag{}, fmt.Errorf("invalid wheel filename %q", filename)
	}

	trimmed := strings.TrimSuffix(filename, ".whl")

	parts := strings.Split(trimmed, "-")
	if len(parts) < 5 {
		return "", "", WheelTag{}, fmt.Errorf("invalid wheel filename %q", filename)
	}

	tag = WheelTag{
		Python:   parts[len(parts)-3],
		ABI:      parts[len(parts)-2],
		Platform: parts[len(parts)-1],
	}

	return parts[0], parts[1], tag, nil
}

// matchesTag reports whether a wheel's tag is compatible with one entry of
// the environment's ordered compat-tag list.
func matchesTag(wheel, compat WheelTag) bool {
	return fieldMatches(wheel.Python, compat.Python) &&
		fieldMatches(wheel.ABI, compat.ABI) &&
		fieldMatches(wheel.Platform, compat.Platform)
}

// fieldMatches checks a (possibly compound, dot-separated) wheel tag field
// against a single compat-tag value.
func fieldMatches(wheelField, compatValue string) bool {
	for _, v := range strings.Split(wheelField, ".") {
		if v == compatValue {
			return true
		}
	}

	return false
}
