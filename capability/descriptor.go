package capability

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind is the role a member plays on a prototype.
type Kind string

const (
	KindConstructor Kind = "constructor"
	KindGetter      Kind = "getter"
	KindSetter      Kind = "setter"
	KindMethod      Kind = "method"
	KindConstant    Kind = "constant"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConstructor, KindGetter, KindSetter, KindMethod, KindConstant:
		return true
	}
	return false
}

// Unbounded is the open upper end of an exposure range.
var Unbounded = math.Inf(1)

// Exposure is one (family, minVersion, maxVersion) tuple. Both ends are
// inclusive.
type Exposure struct {
	Family Family
	Min    float64
	Max    float64
}

// Since exposes a member from version min onwards.
func Since(family Family, min float64) Exposure {
	return Exposure{Family: family, Min: min, Max: Unbounded}
}

// Between exposes a member for the inclusive range [min, max].
func Between(family Family, min, max float64) Exposure {
	return Exposure{Family: family, Min: min, Max: max}
}

// Always exposes a member to every version of family.
func Always(family Family) Exposure {
	return Since(family, 0)
}

// Contains reports whether p falls inside the exposure.
func (e Exposure) Contains(p Profile) bool {
	return e.Family == p.Family && e.Min <= p.Version && p.Version <= e.Max
}

func (e Exposure) overlaps(o Exposure) bool {
	return e.Family == o.Family && e.Min <= o.Max && o.Min <= e.Max
}

func (e Exposure) String() string {
	if math.IsInf(e.Max, 1) {
		return fmt.Sprintf("%s %g+", e.Family, e.Min)
	}
	return fmt.Sprintf("%s %g-%g", e.Family, e.Min, e.Max)
}

// Descriptor is the exposure rule for one runtime member.
type Descriptor struct {
	MemberID  string
	Name      string // logical property name; derived from MemberID when empty
	Kind      Kind
	Exposures []Exposure
}

// PropertyName returns the logical name the member is installed under.
// "Navigator.userAgent#ie" yields "userAgent".
func (d *Descriptor) PropertyName() string {
	if d.Name != "" {
		return d.Name
	}
	name := d.MemberID
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '#'); i >= 0 {
		name = name[:i]
	}
	return name
}

// Matches reports whether some exposure of d contains p.
func (d *Descriptor) Matches(p Profile) bool {
	for _, e := range d.Exposures {
		if e.Contains(p) {
			return true
		}
	}
	return false
}

// Validate checks the descriptor for configuration errors. Exposure ranges
// for the same family must not overlap: which range applied would be
// ambiguous.
func (d *Descriptor) Validate() error {
	if d.MemberID == "" {
		return &ConfigError{Reason: "descriptor without member id"}
	}
	if !d.Kind.Valid() {
		return &ConfigError{MemberID: d.MemberID, Reason: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
	if d.PropertyName() == "" && d.Kind != KindConstructor {
		return &ConfigError{MemberID: d.MemberID, Reason: "empty property name"}
	}
	for _, e := range d.Exposures {
		switch {
		case !e.Family.Valid():
			return &ConfigError{MemberID: d.MemberID, Reason: fmt.Sprintf("unknown family %q", e.Family)}
		case e.Min < 0 || math.IsNaN(e.Min) || math.IsNaN(e.Max):
			return &ConfigError{MemberID: d.MemberID, Reason: fmt.Sprintf("invalid range %s", e)}
		case e.Min > e.Max:
			return &ConfigError{MemberID: d.MemberID, Reason: fmt.Sprintf("empty range %s", e)}
		}
	}

	byFamily := make(map[Family][]Exposure)
	for _, e := range d.Exposures {
		byFamily[e.Family] = append(byFamily[e.Family], e)
	}
	for _, f := range Families {
		ranges := byFamily[f]
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Min < ranges[j].Min })
		for i := 1; i < len(ranges); i++ {
			if ranges[i-1].overlaps(ranges[i]) {
				return &ConfigError{
					MemberID: d.MemberID,
					Reason:   fmt.Sprintf("overlapping exposures %s and %s", ranges[i-1], ranges[i]),
				}
			}
		}
	}
	return nil
}

// ConfigError reports an invalid or ambiguous descriptor configuration.
type ConfigError struct {
	MemberID string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.MemberID == "" {
		return "capability: " + e.Reason
	}
	return fmt.Sprintf("capability: %s: %s", e.MemberID, e.Reason)
}
