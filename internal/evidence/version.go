package evidence

import (
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// canonical maps "1.2.3" and "v1.2.3" to the "v"-prefixed form semver expects
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// versionRange summarizes a set of observed versions. Semver-valid versions
// are ordered by precedence and reported as "min - max"; anything else is
// listed verbatim in observation order.
func versionRange(versions []string) string {
	if len(versions) == 0 {
		return ""
	}

	var valid, other []string
	original := make(map[string]string)
	for _, v := range versions {
		if c := canonical(v); c != "" {
			if _, dup := original[c]; !dup {
				original[c] = v
				valid = append(valid, c)
			}
			continue
		}
		other = append(other, v)
	}

	if len(other) > 0 {
		return strings.Join(versions, ", ")
	}

	sort.Slice(valid, func(i, j int) bool { return semver.Compare(valid[i], valid[j]) < 0 })
	lo, hi := original[valid[0]], original[valid[len(valid)-1]]
	if lo == hi {
		return lo
	}
	return lo + " - " + hi
}
