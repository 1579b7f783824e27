// Package version defines the Version type shared by the catalogue,
// the server, and the client, and its semver-precedence ordering.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is an immutable semantic-version triple, with an optional
// pre-release component, ordered by semver precedence (1.0.0-rc.1 <
// 1.0.0). Equal versions compare as equal regardless of build metadata.
type Version struct {
	v *semver.Version
}

// Parse parses a semver string (e.g. "1.2.3" or "1.2.3-rc.1") into a
// Version. It returns an error if s is not valid semver.
func Parse(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// MustParse parses s and panics on failure. Intended for constants and
// tests, not for parsing untrusted input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Zero is the parsed version 0.0.0. It is not the unset Version value:
// Zero.IsZero() reports false.
var Zero = MustParse("0.0.0")

// IsZero reports whether v is the unset Version value.
func (v Version) IsZero() bool {
	return v.v == nil
}

// String renders v in canonical semver form (e.g. "1.2.3-rc.1"). This
// is exactly the byte sequence signed for the "latest version"
// response (spec §4.1): no JSON framing, no quoting.
func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

// Compare returns -1, 0, or +1 as v is less than, equal to, or greater
// than other, using semver precedence.
func (v Version) Compare(other Version) int {
	left, right := v.v, other.v
	if left == nil {
		left = semver.MustParse("0.0.0")
	}
	if right == nil {
		right = semver.MustParse("0.0.0")
	}
	return left.Compare(right)
}

// GreaterThan reports whether v is strictly newer than other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal reports whether v and other compare as equal under semver
// precedence.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// MarshalJSON serializes v as the bare version string, matching the
// wire format of spec §6 ({"version": "<semver>"}).
func (v Version) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON parses v from a JSON string.
func (v *Version) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("version must be a JSON string, got %q", data)
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
