// Package version provides protocol and library version identifiers
// sent during the device handshake.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol is the corelink session protocol version implemented by
// this library.
const Protocol = "1.0"

// Library is the corelink-go library version.
const Library = "0.3.0"

// DefaultVersions returns the versions map sent in the handshake when
// the caller supplies none of its own.
func DefaultVersions() map[string]string {
	return map[string]string{
		"protocol": Protocol,
		"library":  Library,
	}
}

// SpecVersion represents a parsed "major.minor" protocol version.
type SpecVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (SpecVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SpecVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v SpecVersion) Compatible(other SpecVersion) bool {
	return v.Major == other.Major
}
