package codecache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	files, err := NewFileStore(filepath.Join(dir, "files"), true)
	if err != nil {
		t.Fatal(err)
	}
	db, err := OpenSQLiteStore(filepath.Join(dir, "cache.db"), true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   files,
		"sqlite": db,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Load("entry-key"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Expected ErrNotFound, got %v", err)
			}

			e := lowered(t, "var greeting = 'hi'; greeting")
			if err := s.Save(e); err != nil {
				t.Fatal(err)
			}
			got, err := s.Load("entry-key")
			if err != nil {
				t.Fatal(err)
			}
			if got.SourceHash != e.SourceHash || got.CompilationID != e.CompilationID {
				t.Errorf("Expected %s/%d, got %s/%d", e.SourceHash, e.CompilationID, got.SourceHash, got.CompilationID)
			}
			if _, err := got.CompilationUnit(); err != nil {
				t.Errorf("Expected loaded entry to rebuild, got %v", err)
			}

			e.SourceHash = Hash("replacement")
			if err := s.Save(e); err != nil {
				t.Fatal(err)
			}
			if got, _ := s.Load("entry-key"); got.SourceHash != e.SourceHash {
				t.Error("Expected save to replace the entry")
			}

			if err := s.Delete("entry-key"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Load("entry-key"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound after delete, got %v", err)
			}
			if err := s.Delete("entry-key"); err != nil {
				t.Errorf("Expected deleting a missing key to succeed, got %v", err)
			}
		})
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("k"), []byte{0xff, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("k"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}

	// An entry filed under the wrong key is corrupt too.
	e := lowered(t, "1")
	data, _ := Encode(e, false)
	if err := os.WriteFile(s.Path("other"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("other"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt for mismatched key, got %v", err)
	}
}

func TestSQLiteStoreCorrupt(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Save(lowered(t, "1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE code_cache SET entry = ? WHERE cache_key = ?", []byte{0xff}, "entry-key"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("entry-key"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenSQLiteStore(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(lowered(t, "1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := OpenSQLiteStore(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.Load("entry-key"); err != nil {
		t.Errorf("Expected entry after reopen, got %v", err)
	}
}
