// Package semver parses semantic versions into a form that can be stored and
// ordered with plain relational columns: a single integer for the numeric
// triple, a string pre-release suffix and an opaque build metadata string.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openartifacts/registry/common/apperr"
)

// Each of major/minor/patch gets 16 bits inside Prefix, so numeric ordering
// of Prefix matches ordering of the dotted triple.
const componentMax = 1<<16 - 1

// Version is a decomposed semantic version. Suffix is the pre-release part
// ("" means a release, which orders after every pre-release of the same
// Prefix). Meta is build metadata, carried for display and never compared.
type Version struct {
	Prefix uint64
	Suffix string
	Meta   string
}

// Parse decodes MAJOR.MINOR.PATCH[-PRERELEASE][+BUILD].
func Parse(s string) (Version, error) {
	rest := s

	var meta string
	if i := strings.IndexByte(rest, '+'); i >= 0 {
		rest, meta = rest[:i], rest[i+1:]
		if meta == "" {
			return Version{}, apperr.InvalidVersion(s)
		}
	}

	var suffix string
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		rest, suffix = rest[:i], rest[i+1:]
		if suffix == "" {
			return Version{}, apperr.InvalidVersion(s)
		}
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return Version{}, apperr.InvalidVersion(s)
	}
	nums := make([]uint64, 3)
	for i, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return Version{}, apperr.InvalidVersion(s)
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil || n > componentMax {
			return Version{}, apperr.InvalidVersion(s)
		}
		nums[i] = n
	}

	return Version{
		Prefix: nums[0]<<32 | nums[1]<<16 | nums[2],
		Suffix: suffix,
		Meta:   meta,
	}, nil
}

// Components returns the major, minor and patch numbers.
func (v Version) Components() (major, minor, patch uint64) {
	return v.Prefix >> 32, v.Prefix >> 16 & componentMax, v.Prefix & componentMax
}

// String renders the normalized semantic version.
func (v Version) String() string {
	major, minor, patch := v.Components()
	s := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if v.Suffix != "" {
		s += "-" + v.Suffix
	}
	if v.Meta != "" {
		s += "+" + v.Meta
	}
	return s
}

// Compare orders two versions: -1 if v < o, 0 if equal, 1 if v > o.
// Build metadata is ignored.
func (v Version) Compare(o Version) int {
	switch {
	case v.Prefix < o.Prefix:
		return -1
	case v.Prefix > o.Prefix:
		return 1
	}
	// Same numeric triple: a release outranks any pre-release.
	switch {
	case v.Suffix == o.Suffix:
		return 0
	case v.Suffix == "":
		return 1
	case o.Suffix == "":
		return -1
	case v.Suffix < o.Suffix:
		return -1
	}
	return 1
}

// SuffixColumn returns the value to store in the version_suffix column.
// Releases store NULL so that the database's NULL ordering (last ascending,
// first descending) reproduces Compare without expression indexes.
func (v Version) SuffixColumn() *string {
	if v.Suffix == "" {
		return nil
	}
	s := v.Suffix
	return &s
}

// MetaColumn returns the value to store in the version_meta column.
func (v Version) MetaColumn() *string {
	if v.Meta == "" {
		return nil
	}
	m := v.Meta
	return &m
}

// MarshalJSON encodes the version in its dotted string form.
func (v Version) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(v.String())), nil
}

// UnmarshalJSON decodes a dotted version string.
func (v *Version) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("version must be a string: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromColumns rebuilds a Version from its three column values.
func FromColumns(prefix uint64, suffix, meta *string) Version {
	v := Version{Prefix: prefix}
	if suffix != nil {
		v.Suffix = *suffix
	}
	if meta != nil {
		v.Meta = *meta
	}
	return v
}
