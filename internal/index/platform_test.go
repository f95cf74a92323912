package index_test

import (
	"testing"

	"github.com/ardalabs/pyresolve/internal/index"
)

func TestExpandPlatformTagsLinuxAddsManylinux(t *testing.T) {
	got := index.ExpandPlatformTags("linux_x86_64")

	if got[0] != "linux_x86_64" {
		t.Fatalf("expected exact platform first, got %s", got[0])
	}

	found := false

	for _, p := range got {
		if p == "manylinux_2_17_x86_64" {
			found = true
		}
	}

	if !found {
		t.Error("expected manylinux_2_17_x86_64 in expansion")
	}
}

func TestExpandPlatformTagsMacOSDescendingVersions(t *testing.T) {
	got := index.ExpandPlatformTags("macosx_14_0_arm64")

	if got[0] != "macosx_14_0_arm64" {
		t.Fatalf("expected exact platform first, got %s", got[0])
	}

	var sawUniversal2, saw13 bool

	for _, p := range got {
		if p == "macosx_14_0_universal2" {
			sawUniversal2 = true
		}

		if p == "macosx_13_0_arm64" {
			saw13 = true
		}
	}

	if !sawUniversal2 {
		t.Error("expected macosx_14_0_universal2 in expansion")
	}

	if !saw13 {
		t.Error("expected macosx_13_0_arm64 (lower major version) in expansion")
	}
}

func TestExpandPlatformTagsMacOSStopsAtArchMinimum(t *testing.T) {
	got := index.ExpandPlatformTags("macosx_14_0_arm64")

	for _, p := range got {
		if p == "macosx_10_9_arm64" {
			t.Error("arm64 should never go below macOS 11")
		}
	}
}

func TestCompatTagsForTargetOrdering(t *testing.T) {
	tags := index.CompatTagsForTarget("312", "linux_x86_64")

	if tags[0].Python != "cp312" || tags[0].ABI != "cp312" {
		t.Errorf("expected native ABI tag first, got %+v", tags[0])
	}

	last := tags[len(tags)-1]
	if last.Platform != "any" {
		t.Errorf("expected universal tag last, got %+v", last)
	}
}
