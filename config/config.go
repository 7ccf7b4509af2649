// Package config handles hostrt.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/chazu/hostrt/capability"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "hostrt.toml"

// EnvPrefix prefixes environment overrides: HOSTRT_CACHE_BACKEND=sqlite.
const EnvPrefix = "HOSTRT"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config represents a hostrt.toml file after environment overrides.
type Config struct {
	Runtime     RuntimeConfig    `toml:"runtime"`
	Cache       CacheConfig      `toml:"cache"`
	Profile     ProfileConfig    `toml:"profile"`
	Descriptors DescriptorConfig `toml:"descriptors"`

	// Dir is the directory relative paths are resolved against (set at load time).
	Dir string `toml:"-" ignored:"true"`
}

// Environment keys are HOSTRT_<SECTION>_<FIELD>, e.g. HOSTRT_CACHE_PATH.
// Fields must not carry envconfig alt names: envconfig also reads the
// unprefixed alt name.

// RuntimeConfig configures compilation and execution.
type RuntimeConfig struct {
	Verify    bool `toml:"verify"`
	Verbosity int  `toml:"verbosity"`
	MaxDepth  int  `toml:"max-depth" split_words:"true"`
}

// CacheConfig selects the code cache store.
type CacheConfig struct {
	Backend  string `toml:"backend"`
	Dir      string `toml:"dir"`  // file backend
	Path     string `toml:"path"` // sqlite backend
	Compress bool   `toml:"compress"`
}

// ProfileConfig is the default browser profile.
type ProfileConfig struct {
	Family  string  `toml:"family"`
	Version float64 `toml:"version"`
}

// DescriptorConfig lists descriptor override files as doublestar globs.
type DescriptorConfig struct {
	Patterns []string `toml:"patterns"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{Verify: true},
		Cache: CacheConfig{
			Backend:  BackendMemory,
			Dir:      filepath.Join(".hostrt", "cache"),
			Path:     filepath.Join(".hostrt", "cache.db"),
			Compress: true,
		},
		Profile: ProfileConfig{Family: string(capability.Chrome), Version: 120},
	}
}

// Load parses the hostrt.toml file in dir over the defaults, then applies
// HOSTRT_* environment overrides.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("config: parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := c.finish(dir); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a hostrt.toml file and loads
// it. Without one it returns the defaults with environment overrides,
// rooted at startDir.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			c := Default()
			if err := c.finish(startDir); err != nil {
				return nil, err
			}
			return c, nil
		}
		dir = parent
	}
}

func (c *Config) finish(dir string) error {
	var err error
	if c.Dir, err = filepath.Abs(dir); err != nil {
		return fmt.Errorf("config: cannot resolve path %s: %w", dir, err)
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("config: environment override: %w", err)
	}
	return c.Validate()
}

// Validate checks the backend and the profile.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if _, err := c.BrowserProfile(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// BrowserProfile returns the configured default profile.
func (c *Config) BrowserProfile() (capability.Profile, error) {
	family, err := capability.ParseFamily(c.Profile.Family)
	if err != nil {
		return capability.Profile{}, err
	}
	return capability.NewProfile(family, c.Profile.Version)
}

// Resolve makes p absolute against the configuration directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// CacheLocation returns the directory or database file of the configured
// backend, empty for the memory backend.
func (c *Config) CacheLocation() string {
	switch c.Cache.Backend {
	case BackendFile:
		return c.Resolve(c.Cache.Dir)
	case BackendSQLite:
		return c.Resolve(c.Cache.Path)
	}
	return ""
}

// LoadDescriptors reads every descriptor file matched by the configured
// patterns, in pattern order.
func (c *Config) LoadDescriptors() ([]capability.Descriptor, error) {
	var out []capability.Descriptor
	for _, pattern := range c.Descriptors.Patterns {
		ds, err := capability.LoadGlob(c.Resolve(pattern))
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}
