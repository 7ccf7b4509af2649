package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
)

// descriptorFile is the on-disk layout shared by the TOML and YAML forms:
//
//	[[descriptor]]
//	member-id = "Navigator.userAgent#ie"
//	kind = "getter"
//	exposures = [{ family = "InternetExplorer", min = 6 }]
type descriptorFile struct {
	Descriptors []descriptorRecord `toml:"descriptor" yaml:"descriptor"`
}

type descriptorRecord struct {
	MemberID  string           `toml:"member-id" yaml:"member-id"`
	Name      string           `toml:"name" yaml:"name"`
	Kind      string           `toml:"kind" yaml:"kind"`
	Exposures []exposureRecord `toml:"exposures" yaml:"exposures"`
}

type exposureRecord struct {
	Family string   `toml:"family" yaml:"family"`
	Min    *float64 `toml:"min" yaml:"min"`
	Max    *float64 `toml:"max" yaml:"max"`
}

// LoadFile reads a descriptor table. The format is chosen by extension:
// .toml, .yaml or .yml. Every record is validated before returning.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capability: cannot read %s: %w", path, err)
	}

	var f descriptorFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("capability: cannot parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("capability: cannot parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("capability: unsupported descriptor file %s", path)
	}

	out := make([]Descriptor, 0, len(f.Descriptors))
	for _, rec := range f.Descriptors {
		d, err := rec.descriptor()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadGlob loads every descriptor file matching pattern ("descriptors/**/*.toml").
// Files are read in lexical order so later files override earlier ones
// deterministically.
func LoadGlob(pattern string) ([]Descriptor, error) {
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("capability: bad pattern %q: %w", pattern, err)
	}
	sort.Strings(paths)

	var out []Descriptor
	for _, p := range paths {
		ds, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

func (r descriptorRecord) descriptor() (Descriptor, error) {
	d := Descriptor{
		MemberID: r.MemberID,
		Name:     r.Name,
		Kind:     Kind(strings.ToLower(r.Kind)),
	}
	for _, e := range r.Exposures {
		family, err := ParseFamily(e.Family)
		if err != nil {
			return Descriptor{}, &ConfigError{MemberID: r.MemberID, Reason: err.Error()}
		}
		exp := Always(family)
		if e.Min != nil {
			exp.Min = *e.Min
		}
		if e.Max != nil {
			exp.Max = *e.Max
		}
		d.Exposures = append(d.Exposures, exp)
	}
	return d, nil
}
