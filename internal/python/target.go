package python

import (
	"fmt"
	"strings"

	"github.com/ardalabs/pyresolve/internal/index"
	"github.com/ardalabs/pyresolve/internal/marker"
)

// Target describes the interpreter/platform a resolution run is computed
// for. Unlike Environment (which reports what's actually installed on the
// host running this process), a Target need not match the host at all —
// the resolver's target interpreter/OS need not match the host running the
// resolver.
type Target struct {
	// PythonVersion is "major.minor", e.g. "3.12".
	PythonVersion string
	// Platform is a PEP 425 platform tag, e.g. "linux_x86_64" or
	// "macosx_14_0_arm64".
	Platform string
	// ImplementationName defaults to "cpython" when empty.
	ImplementationName string
}

// FromDetected builds a Target from a host-detected Environment. The CLI
// calls this when --python or --platform is left unset, falling back to
// whatever python3 on the host actually reports.
func FromDetected(env *Environment) Target {
	return Target{
		PythonVersion:      formatPythonVersion(env.PythonVersion),
		Platform:           wheelPlatform(env.PlatformTag),
		ImplementationName: "cpython",
	}
}

// MarkerEnvironment builds the PEP 508 marker environment for this target.
func (t Target) MarkerEnvironment() marker.Environment {
	impl := t.ImplementationName
	if impl == "" {
		impl = "cpython"
	}

	sysPlatform, osName := classifyPlatform(t.Platform)

	return marker.Environment{
		PythonVersion:         t.PythonVersion,
		PythonFullVersion:     t.PythonVersion + ".0",
		OSName:                osName,
		SysPlatform:           sysPlatform,
		PlatformSystem:        platformSystem(sysPlatform),
		PlatformMachine:       platformMachine(t.Platform),
		ImplementationName:    impl,
		ImplementationVersion: t.PythonVersion + ".0",
	}
}

// IndexEnvironment builds the distribution-index environment (compatible
// wheel tags, most specific first) for this target.
func (t Target) IndexEnvironment(preferSource bool) index.Environment {
	compact := strings.ReplaceAll(t.PythonVersion, ".", "")

	return index.Environment{
		CompatTags:   index.CompatTagsForTarget(compact, t.Platform),
		PreferSource: preferSource,
	}
}

func classifyPlatform(platform string) (sysPlatform, osName string) {
	switch {
	case strings.HasPrefix(platform, "macosx"):
		return "darwin", "posix"
	case strings.HasPrefix(platform, "linux"):
		return "linux", "posix"
	case strings.HasPrefix(platform, "win"):
		return "win32", "nt"
	default:
		return "linux", "posix"
	}
}

func platformSystem(sysPlatform string) string {
	switch sysPlatform {
	case "darwin":
		return "Darwin"
	case "win32":
		return "Windows"
	default:
		return "Linux"
	}
}

func platformMachine(platform string) string {
	switch {
	case strings.HasPrefix(platform, "linux_"):
		return strings.TrimPrefix(platform, "linux_")
	case strings.HasPrefix(platform, "macosx_"):
		if parts := strings.SplitN(platform, "_", 4); len(parts) == 4 {
			return parts[3]
		}
	}

	parts := strings.Split(platform, "_")
	if len(parts) == 0 {
		return ""
	}

	return parts[len(parts)-1]
}

// formatPythonVersion turns a compact "312" version into "3.12".
func formatPythonVersion(compact string) string {
	if len(compact) < 2 {
		return compact
	}

	return fmt.Sprintf("%s.%s", compact[:1], compact[1:])
}

// wheelPlatform derives a PEP 425 platform tag from sysconfig's platform
// string (e.g. "macosx-14.0-arm64" -> "macosx_14_0_arm64").
func wheelPlatform(platformTag string) string {
	return strings.ReplaceAll(strings.ReplaceAll(platformTag, "-", "_"), ".", "_")
}
