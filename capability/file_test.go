package capability

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "navigator.toml")
	writeFile(t, path, `
[[descriptor]]
member-id = "Navigator.userAgent#ie"
kind = "getter"
exposures = [{ family = "ie", min = 6, max = 11 }]

[[descriptor]]
member-id = "Window.fetch"
kind = "method"
exposures = [{ family = "Chrome", min = 42 }, { family = "Firefox", min = 39 }]
`)

	ds, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("Expected 2 descriptors, got %d", len(ds))
	}
	if ds[0].Kind != KindGetter || ds[0].Exposures[0] != Between(InternetExplorer, 6, 11) {
		t.Errorf("Unexpected first descriptor %+v", ds[0])
	}
	if !math.IsInf(ds[1].Exposures[0].Max, 1) {
		t.Errorf("Expected omitted max to be unbounded, got %v", ds[1].Exposures[0].Max)
	}
	if !ds[1].Matches(Profile{Firefox, 40}) || ds[1].Matches(Profile{Chrome, 41}) {
		t.Errorf("Unexpected exposure matching for %+v", ds[1])
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xhr.yaml")
	writeFile(t, path, `
descriptor:
  - member-id: Window.XMLHttpRequest
    kind: constructor
    exposures:
      - family: InternetExplorer
        min: 7
      - family: Chrome
`)

	ds, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("Expected 1 descriptor, got %d", len(ds))
	}
	d := ds[0]
	if d.Kind != KindConstructor {
		t.Errorf("Expected constructor kind, got %q", d.Kind)
	}
	if d.Matches(Profile{InternetExplorer, 6}) || !d.Matches(Profile{InternetExplorer, 7}) {
		t.Errorf("Expected IE exposure to begin at 7")
	}
	if !d.Matches(Profile{Chrome, 1}) {
		t.Errorf("Expected Chrome to be exposed from version 0")
	}
}

func TestLoadFileOverlapFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	writeFile(t, path, `
[[descriptor]]
member-id = "Navigator.userAgent#ie"
kind = "getter"
exposures = [{ family = "ie", min = 6, max = 9 }, { family = "ie", min = 8 }]
`)
	_, err := LoadFile(path)
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("Expected *ConfigError, got %v", err)
	}
}

func TestLoadFileUnknownFamily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	writeFile(t, path, `
descriptor:
  - member-id: Window.opera
    kind: constant
    exposures:
      - family: Opera
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("Expected error for unknown family")
	}
}

func TestLoadGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.toml"), `
[[descriptor]]
member-id = "Window.a"
kind = "method"
exposures = [{ family = "Chrome" }]
`)
	writeFile(t, filepath.Join(dir, "nested", "deep", "b.yaml"), `
descriptor:
  - member-id: Window.b
    kind: method
    exposures:
      - family: Edge
`)
	writeFile(t, filepath.Join(dir, "ignored.txt"), "not a descriptor")

	ds, err := LoadGlob(filepath.Join(dir, "**", "*.{toml,yaml}"))
	if err != nil {
		t.Fatalf("LoadGlob: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("Expected 2 descriptors, got %d", len(ds))
	}
	if ds[0].MemberID != "Window.a" || ds[1].MemberID != "Window.b" {
		t.Errorf("Expected lexical file order, got %q, %q", ds[0].MemberID, ds[1].MemberID)
	}
}

func TestLoadFileErrorsNamePackage(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.toml")
	writeFile(t, broken, "[[descriptor]\n")
	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, `
[[descriptor]]
member-id = "Window.opera"
kind = "constant"
exposures = [{ family = "opera" }]
`)

	for _, path := range []string{filepath.Join(dir, "missing.toml"), broken, bad, filepath.Join(dir, "table.json")} {
		_, err := LoadFile(path)
		if err == nil {
			t.Errorf("Expected an error for %s", path)
			continue
		}
		if msg := err.Error(); !strings.Contains(msg, "capability: ") || !strings.Contains(msg, filepath.Base(path)) {
			t.Errorf("Expected a capability error naming %s, got %q", filepath.Base(path), msg)
		}
	}
}
