// semver.go provides semantic version validation and ordering for published
// module versions.
package validation

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-version"
)

// ValidateSemver validates that a version string is a semantic version
// (MAJOR.MINOR.PATCH with optional pre-release and build metadata). Short
// forms, a "v" prefix and leading zeros are rejected.
func ValidateSemver(versionStr string) error {
	v, err := version.NewSemver(versionStr)
	if err != nil {
		return fmt.Errorf("invalid semantic version: %w", err)
	}
	if v.String() != versionStr {
		return fmt.Errorf("invalid semantic version: %q is not in canonical form %q", versionStr, v.String())
	}
	return nil
}

// SortVersions returns versions ordered highest first. Strings that do not
// parse follow the valid ones in their original order.
func SortVersions(versions []string) []string {
	type parsed struct {
		raw string
		v   *version.Version
	}
	valid := make([]parsed, 0, len(versions))
	var invalid []string
	for _, s := range versions {
		v, err := version.NewSemver(s)
		if err != nil {
			invalid = append(invalid, s)
			continue
		}
		valid = append(valid, parsed{raw: s, v: v})
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].v.GreaterThan(valid[j].v)
	})

	out := make([]string, 0, len(versions))
	for _, p := range valid {
		out = append(out, p.raw)
	}
	return append(out, invalid...)
}
