package plugins

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// WildcardMask marks which segments of a version or range are wildcards.
type WildcardMask uint8

const (
	WildcardMajor WildcardMask = 1 << iota
	WildcardMinor
	WildcardPatch
)

// Has reports whether every segment in m is a wildcard.
func (w WildcardMask) Has(m WildcardMask) bool {
	return w&m == m
}

// Version is a plugin version: an exact major.minor.patch triple or a wildcard
// pattern such as "1.x.x". Wildcard segments compare as zero, but a range
// accepts a wildcard version when any value in those positions would satisfy it.
type Version struct {
	raw  string
	sv   *semver.Version
	mask WildcardMask
}

// ParseVersion parses "N.N.N" (with optional pre-release/build) or a wildcard pattern.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, fmt.Errorf("%w: empty version", ErrMalformedDescriptor)
	}

	if segments, mask, ok := splitWildcard(raw); ok {
		if !validWildcardOrder(mask) {
			return Version{}, fmt.Errorf("%w: wildcard segments must be trailing in %q", ErrMalformedDescriptor, raw)
		}
		if wildcardOverflows(segments, mask) {
			return Version{}, fmt.Errorf("%w: segment before the wildcard is too large in %q", ErrMalformedDescriptor, raw)
		}
		sv := semver.New(segments[0], segments[1], segments[2], "", "")
		return Version{raw: raw, sv: sv, mask: mask}, nil
	}

	sv, err := semver.StrictNewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		return Version{}, fmt.Errorf("%w: invalid version %q: %v", ErrMalformedDescriptor, raw, err)
	}
	return Version{raw: raw, sv: sv}, nil
}

// MustParseVersion is ParseVersion for literals known to be valid.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string { return v.raw }

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool { return v.sv == nil }

// IsWildcard reports whether any segment is a wildcard.
func (v Version) IsWildcard() bool { return v.mask != 0 }

// Wildcards returns the wildcard mask.
func (v Version) Wildcards() WildcardMask { return v.mask }

// Semver returns the concrete version used for comparisons.
func (v Version) Semver() *semver.Version { return v.sv }

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.sv == nil && o.sv == nil:
		return 0
	case v.sv == nil:
		return -1
	case o.sv == nil:
		return 1
	}
	return v.sv.Compare(o.sv)
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VersionRange is the parsed form of a dependency's version_range. Simple
// forms are kept as explicit bounds plus a wildcard mask; anything else is
// delegated to a semver constraint expression.
type VersionRange struct {
	raw          string
	min          *semver.Version
	max          *semver.Version
	maxInclusive bool
	mask         WildcardMask
	constraint   *semver.Constraints
}

// ParseVersionRange parses "", "*", "N.x.x", "N.N.x", "N.N.N" or a semver
// constraint expression such as ">= 1.2.0, < 2.0.0".
func ParseVersionRange(s string) (VersionRange, error) {
	raw := strings.TrimSpace(s)
	switch raw {
	case "", "*", "x", "X", "x.x.x", "X.X.X", "*.*.*":
		return VersionRange{raw: raw, mask: WildcardMajor | WildcardMinor | WildcardPatch}, nil
	}

	if segments, mask, ok := splitWildcard(raw); ok {
		if !validWildcardOrder(mask) {
			return VersionRange{}, fmt.Errorf("%w: wildcard segments must be trailing in %q", ErrMalformedDescriptor, raw)
		}
		if wildcardOverflows(segments, mask) {
			return VersionRange{}, fmt.Errorf("%w: segment before the wildcard is too large in %q", ErrMalformedDescriptor, raw)
		}
		r := VersionRange{raw: raw, mask: mask}
		switch {
		case mask.Has(WildcardMajor):
			// any version
		case mask.Has(WildcardMinor):
			r.min = semver.New(segments[0], 0, 0, "", "")
			r.max = semver.New(segments[0]+1, 0, 0, "", "")
		default:
			r.min = semver.New(segments[0], segments[1], 0, "", "")
			r.max = semver.New(segments[0], segments[1]+1, 0, "", "")
		}
		return r, nil
	}

	if exact, err := semver.StrictNewVersion(strings.TrimPrefix(raw, "v")); err == nil {
		return VersionRange{raw: raw, min: exact, max: exact, maxInclusive: true}, nil
	}

	c, err := semver.NewConstraint(raw)
	if err != nil {
		return VersionRange{}, fmt.Errorf("%w: invalid version range %q: %v", ErrMalformedDescriptor, raw, err)
	}
	return VersionRange{raw: raw, constraint: c}, nil
}

// MustParseVersionRange is ParseVersionRange for literals known to be valid.
func MustParseVersionRange(s string) VersionRange {
	r, err := ParseVersionRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r VersionRange) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

// Min returns the inclusive lower bound, nil when unbounded or expression based.
func (r VersionRange) Min() *semver.Version { return r.min }

// Max returns the upper bound, nil when unbounded or expression based.
func (r VersionRange) Max() *semver.Version { return r.max }

// Wildcards returns the wildcard mask of the range.
func (r VersionRange) Wildcards() WildcardMask { return r.mask }

// IsAny reports whether the range accepts every version.
func (r VersionRange) IsAny() bool {
	return r.constraint == nil && r.min == nil && r.max == nil
}

// Contains reports whether v satisfies the range. A wildcard version such as
// "1.x.x" satisfies a bounded range that overlaps [1.0.0, 2.0.0). Expression
// ranges are checked against the lowest version the wildcard stands for.
func (r VersionRange) Contains(v Version) bool {
	if v.sv == nil {
		return false
	}
	if r.constraint != nil {
		return r.constraint.Check(v.sv)
	}

	// v covers [v.sv, upper); upper is nil for a concrete or fully open version
	upper := v.upper()
	if r.min != nil {
		if upper != nil {
			if upper.Compare(r.min) <= 0 {
				return false
			}
		} else if !v.mask.Has(WildcardMajor) && v.sv.Compare(r.min) < 0 {
			return false
		}
	}
	if r.max != nil {
		cmp := v.sv.Compare(r.max)
		if cmp > 0 || (cmp == 0 && !r.maxInclusive) {
			return false
		}
	}
	return true
}

// upper returns the exclusive upper bound of a partial wildcard version, nil
// for concrete versions and for "x.x.x".
func (v Version) upper() *semver.Version {
	switch {
	case v.mask.Has(WildcardMajor) || v.mask == 0:
		return nil
	case v.mask.Has(WildcardMinor):
		return semver.New(v.sv.Major()+1, 0, 0, "", "")
	default:
		return semver.New(v.sv.Major(), v.sv.Minor()+1, 0, "", "")
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r VersionRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *VersionRange) UnmarshalText(text []byte) error {
	parsed, err := ParseVersionRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// splitWildcard parses a three segment pattern where at least one segment is
// a wildcard. ok is false when s is not such a pattern.
func splitWildcard(s string) (segments [3]uint64, mask WildcardMask, ok bool) {
	parts := strings.Split(strings.TrimPrefix(s, "v"), ".")
	if len(parts) != 3 {
		return segments, 0, false
	}
	for i, part := range parts {
		if isWildcardSegment(part) {
			mask |= WildcardMask(1 << i)
			continue
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return segments, 0, false
		}
		segments[i] = n
	}
	return segments, mask, mask != 0
}

// wildcardOverflows reports whether the last concrete segment of a wildcard
// pattern cannot be incremented to form the exclusive upper bound.
func wildcardOverflows(segments [3]uint64, mask WildcardMask) bool {
	switch {
	case mask.Has(WildcardMajor):
		return false
	case mask.Has(WildcardMinor):
		return segments[0] == math.MaxUint64
	default:
		return segments[1] == math.MaxUint64
	}
}

func isWildcardSegment(s string) bool {
	return s == "x" || s == "X" || s == "*"
}

// validWildcardOrder rejects patterns like "1.x.3" where a concrete segment
// follows a wildcard.
func validWildcardOrder(mask WildcardMask) bool {
	switch mask {
	case WildcardPatch,
		WildcardMinor | WildcardPatch,
		WildcardMajor | WildcardMinor | WildcardPatch:
		return true
	}
	return false
}
