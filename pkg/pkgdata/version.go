package pkgdata

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareVersions compares two dot-separated numeric version strings,
// splitting each on '.', parsing every segment as a base-10 integer,
// zero-extending the shorter side to the longer length, then comparing
// lexicographically. It returns a negative number if a < b, zero if equal,
// and a positive number if a > b.
//
// Per the packaging tools' contract, version strings are expected to be
// purely dot-numeric. A non-numeric segment is undefined behavior upstream,
// so this returns an error rather than guessing at an ordering — callers
// must propagate it (the planner surfaces it as KindResolutionFailed).
func CompareVersions(a, b string) (int, error) {
	segsA := strings.Split(a, ".")
	segsB := strings.Split(b, ".")

	n := len(segsA)
	if len(segsB) > n {
		n = len(segsB)
	}

	for i := 0; i < n; i++ {
		var va, vb int64
		var err error

		if i < len(segsA) {
			va, err = parseSegment(segsA[i])
			if err != nil {
				return 0, fmt.Errorf("version %q: %w", a, err)
			}
		}
		if i < len(segsB) {
			vb, err = parseSegment(segsB[i])
			if err != nil {
				return 0, fmt.Errorf("version %q: %w", b, err)
			}
		}

		if va != vb {
			if va < vb {
				return -1, nil
			}
			return 1, nil
		}
	}

	return 0, nil
}

func parseSegment(seg string) (int64, error) {
	v, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric version segment %q", seg)
	}
	return v, nil
}
