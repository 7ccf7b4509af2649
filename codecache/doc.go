// Package codecache maps cache keys to compilation units.
//
// Cache.LoadOrCompile returns the live unit for a key when its source hash
// matches, falls back to a Store holding encoded entries, and otherwise
// compiles. At most one compilation runs per key; callers with the same key
// wait for it. Entries are CBOR documents, optionally zstd-compressed, and
// can live in memory, in one file per key, or in a SQLite table.
package codecache
