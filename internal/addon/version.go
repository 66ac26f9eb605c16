package addon

import (
	"strings"

	"golang.org/x/mod/semver"
)

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ValidVersion reports whether v is a semantic version, with or without the
// leading "v".
func ValidVersion(v string) bool {
	return strings.TrimSpace(v) != "" && semver.IsValid(canonical(v))
}

// CompareVersions returns -1, 0 or +1 as a is older than, equal to or newer
// than b. Invalid versions sort before valid ones.
func CompareVersions(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}
