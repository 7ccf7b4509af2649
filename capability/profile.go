package capability

import (
	"fmt"
	"strconv"
	"strings"
)

// Family identifies a browser family.
type Family string

const (
	Firefox          Family = "Firefox"
	InternetExplorer Family = "InternetExplorer"
	Chrome           Family = "Chrome"
	Edge             Family = "Edge"
)

// Families lists every known family in a stable order.
var Families = []Family{Firefox, InternetExplorer, Chrome, Edge}

var familyAliases = map[string]Family{
	"firefox":           Firefox,
	"ff":                Firefox,
	"internetexplorer":  InternetExplorer,
	"internet-explorer": InternetExplorer,
	"ie":                InternetExplorer,
	"chrome":            Chrome,
	"edge":              Edge,
}

// ParseFamily resolves a family name, accepting common short forms
// ("ie", "ff") case-insensitively.
func ParseFamily(s string) (Family, error) {
	if f, ok := familyAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("capability: unknown browser family %q", s)
}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	switch f {
	case Firefox, InternetExplorer, Chrome, Edge:
		return true
	}
	return false
}

// Profile is the (family, version) pair a simulated session emulates.
// It is a comparable value and is used directly as a map key.
type Profile struct {
	Family  Family
	Version float64
}

// NewProfile validates and returns a profile.
func NewProfile(family Family, version float64) (Profile, error) {
	if !family.Valid() {
		return Profile{}, fmt.Errorf("capability: unknown browser family %q", family)
	}
	if version < 0 {
		return Profile{}, fmt.Errorf("capability: negative version %v", version)
	}
	return Profile{Family: family, Version: version}, nil
}

// ParseProfile parses "Chrome 120" or "ie:11" style strings.
func ParseProfile(s string) (Profile, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ':' || r == '/' || r == '@'
	})
	if len(fields) != 2 {
		return Profile{}, fmt.Errorf("capability: malformed profile %q", s)
	}
	family, err := ParseFamily(fields[0])
	if err != nil {
		return Profile{}, err
	}
	version, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Profile{}, fmt.Errorf("capability: malformed version in %q: %w", s, err)
	}
	return NewProfile(family, version)
}

func (p Profile) String() string {
	return fmt.Sprintf("%s %s", p.Family, strconv.FormatFloat(p.Version, 'f', -1, 64))
}
