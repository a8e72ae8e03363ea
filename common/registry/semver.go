package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// semver is a minimal major.minor.patch comparator; the Block Spec format
// (spec.md §3) only requires ordering versions to pick "the highest
// semantic version present" (spec.md §4.1), not full SemVer 2.0 precedence
// (build metadata, pre-release ranks).
type semver struct {
	major, minor, patch int
	raw                 string
}

func parseSemver(s string) (semver, error) {
	parts := strings.SplitN(s, ".", 3)
	v := semver{raw: s}
	var err error
	if len(parts) > 0 {
		if v.major, err = strconv.Atoi(parts[0]); err != nil {
			return v, fmt.Errorf("invalid semver %q: %w", s, err)
		}
	}
	if len(parts) > 1 {
		if v.minor, err = strconv.Atoi(parts[1]); err != nil {
			return v, fmt.Errorf("invalid semver %q: %w", s, err)
		}
	}
	if len(parts) > 2 {
		patchPart := parts[2]
		if i := strings.IndexAny(patchPart, "-+"); i >= 0 {
			patchPart = patchPart[:i]
		}
		if v.patch, err = strconv.Atoi(patchPart); err != nil {
			return v, fmt.Errorf("invalid semver %q: %w", s, err)
		}
	}
	return v, nil
}

// higher reports whether a > b.
func higher(a, b semver) bool {
	if a.major != b.major {
		return a.major > b.major
	}
	if a.minor != b.minor {
		return a.minor > b.minor
	}
	return a.patch > b.patch
}
