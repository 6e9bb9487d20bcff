package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/a3tai/form-field-mapper/internal/mapperr"
)

// Version is a semantic major.minor.patch triple
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "1.2.3". A leading "v" is accepted.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Version{}, mapperr.Newf(mapperr.ErrorTypeValidation, "version %q is not major.minor.patch", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, mapperr.Newf(mapperr.ErrorTypeValidation, "version %q has invalid component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return sign(v.Major - o.Major)
	case v.Minor != o.Minor:
		return sign(v.Minor - o.Minor)
	default:
		return sign(v.Patch - o.Patch)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// Bump is the version increment a change set calls for
type Bump int

const (
	BumpNone Bump = iota
	BumpPatch
	BumpMinor
	BumpMajor
)

func (b Bump) String() string {
	switch b {
	case BumpPatch:
		return "patch"
	case BumpMinor:
		return "minor"
	case BumpMajor:
		return "major"
	default:
		return "none"
	}
}

// MarshalText encodes the bump by name
func (b Bump) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Apply returns v incremented by b
func (v Version) Apply(b Bump) Version {
	switch b {
	case BumpMajor:
		return Version{Major: v.Major + 1}
	case BumpMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	case BumpPatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
	return v
}

// NextVersion returns the version following current. An empty current yields 1.0.0.
// Breaking changes bump the major version, anything else the minor version.
func NextVersion(current string, breaking bool) (string, error) {
	if current == "" {
		return "1.0.0", nil
	}
	v, err := ParseVersion(current)
	if err != nil {
		return "", err
	}
	if breaking {
		return v.Apply(BumpMajor).String(), nil
	}
	return v.Apply(BumpMinor).String(), nil
}

// CheckVersionBump reports whether proposed is a large enough step from the diff's
// source version. The policy is advisory; callers decide whether to enforce it.
func CheckVersionBump(d VersionDiff, proposed string) error {
	from, err := ParseVersion(d.FromVersion)
	if err != nil {
		return err
	}
	to, err := ParseVersion(proposed)
	if err != nil {
		return err
	}
	if to.Compare(from) <= 0 {
		return mapperr.Newf(mapperr.ErrorTypeValidation, "version %s does not follow %s", proposed, d.FromVersion)
	}

	required := RequiredBump(d)
	if actual := bumpBetween(from, to); actual < required {
		return mapperr.Newf(mapperr.ErrorTypeValidation, "changes require a %s bump from %s, %s is a %s bump",
			required, d.FromVersion, proposed, actual).
			WithContext("minimum", from.Apply(required).String())
	}
	return nil
}

func bumpBetween(from, to Version) Bump {
	switch {
	case to.Major > from.Major:
		return BumpMajor
	case to.Minor > from.Minor:
		return BumpMinor
	case to.Patch > from.Patch:
		return BumpPatch
	}
	return BumpNone
}
