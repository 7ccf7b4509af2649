package codecache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store persists encoded entries by cache key. Load returns ErrNotFound for
// a missing key and an error wrapping ErrCorrupt for undecodable data.
type Store interface {
	Load(key string) (*Entry, error)
	Save(e *Entry) error
	Delete(key string) error
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

// MemoryStore keeps encoded entries in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Load(key string) (*Entry, error) {
	s.mu.RLock()
	data, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}

func (s *MemoryStore) Save(e *Entry) error {
	data, err := Encode(e, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[e.CacheKey] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Put stores raw bytes under key, bypassing the encoder.
func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	s.entries[key] = data
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// FileStore
// ---------------------------------------------------------------------------

// FileStore keeps one file per key in a directory. File names are the hash
// of the key, so keys may contain any characters.
type FileStore struct {
	dir      string
	compress bool
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("codecache: cannot create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, compress: compress}, nil
}

// Path returns the file that holds key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, Hash(key)+".hrc")
}

func (s *FileStore) Load(key string) (*Entry, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("codecache: cannot read %s: %w", s.Path(key), err)
	}
	e, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if e.CacheKey != key {
		return nil, fmt.Errorf("%w: %s holds key %q", ErrCorrupt, s.Path(key), e.CacheKey)
	}
	return e, nil
}

// Save writes to a temporary file and renames it into place, so readers
// never observe a partial entry.
func (s *FileStore) Save(e *Entry) error {
	data, err := Encode(e, s.compress)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("codecache: cannot create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("codecache: cannot write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("codecache: cannot write %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.Path(e.CacheKey)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("codecache: cannot install %s: %w", s.Path(e.CacheKey), err)
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("codecache: cannot delete %s: %w", s.Path(key), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// SQLiteStore
// ---------------------------------------------------------------------------

// SQLiteStore keeps one row per key.
type SQLiteStore struct {
	db       *sql.DB
	compress bool
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string, compress bool) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("codecache: opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS code_cache (
		cache_key      TEXT PRIMARY KEY,
		source_hash    TEXT NOT NULL,
		compilation_id INTEGER NOT NULL,
		entry          BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: creating table: %w", err)
	}
	return &SQLiteStore{db: db, compress: compress}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(key string) (*Entry, error) {
	var data []byte
	err := s.db.QueryRow("SELECT entry FROM code_cache WHERE cache_key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("codecache: querying %s: %w", key, err)
	}
	return Decode(data)
}

func (s *SQLiteStore) Save(e *Entry) error {
	data, err := Encode(e, s.compress)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO code_cache (cache_key, source_hash, compilation_id, entry) VALUES (?, ?, ?, ?)",
		e.CacheKey, e.SourceHash, int64(e.CompilationID), data,
	)
	if err != nil {
		return fmt.Errorf("codecache: saving %s: %w", e.CacheKey, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM code_cache WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("codecache: deleting %s: %w", key, err)
	}
	return nil
}
