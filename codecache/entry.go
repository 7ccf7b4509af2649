package codecache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/chazu/hostrt/vm"
)

var (
	// ErrNotFound is returned by a Store that has no entry for a key.
	ErrNotFound = errors.New("codecache: entry not found")

	// ErrCorrupt marks stored data that cannot be decoded into a unit.
	ErrCorrupt = errors.New("codecache: corrupt entry")
)

// Hash returns the hex SHA-256 digest of source.
func Hash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// Entry: the stored layout
// ---------------------------------------------------------------------------

// Entry is one persisted cache record.
type Entry struct {
	CacheKey      string        `cbor:"cacheKey"`
	SourceHash    string        `cbor:"sourceHash"`
	SourceID      string        `cbor:"sourceId"`
	MainUnitName  string        `cbor:"mainUnitName"`
	Units         []Unit        `cbor:"units"`
	Initializers  []Initializer `cbor:"initializers"`
	Constants     []Constant    `cbor:"constants"`
	CompilationID uint64        `cbor:"compilationId"`
}

// Unit is one named bytecode body, in ordinal order.
type Unit struct {
	Name string `cbor:"name"`
	Code []byte `cbor:"code"`
}

// Initializer is the frame setup of the subunit at Ordinal.
type Initializer struct {
	Ordinal   int      `cbor:"ordinal"`
	Name      string   `cbor:"name,omitempty"`
	Params    []string `cbor:"params,omitempty"`
	NumLocals int      `cbor:"numLocals"`
	Arity     int      `cbor:"arity"`
	Outer     int      `cbor:"outer"`
}

// Constant is one constant pool entry.
type Constant struct {
	Kind uint8   `cbor:"kind"`
	Num  float64 `cbor:"num,omitempty"`
	Str  string  `cbor:"str,omitempty"`
}

// NewEntry captures u under key.
func NewEntry(key, sourceHash string, u *vm.CompilationUnit) *Entry {
	e := &Entry{
		CacheKey:      key,
		SourceHash:    sourceHash,
		SourceID:      u.SourceID,
		MainUnitName:  u.Units[u.EntryID].Name,
		CompilationID: u.CompilationID,
	}
	for _, s := range u.Units {
		e.Units = append(e.Units, Unit{Name: s.Name, Code: s.Code})
	}
	for ord, init := range u.Initializers {
		e.Initializers = append(e.Initializers, Initializer{
			Ordinal:   ord,
			Name:      init.Name,
			Params:    init.Params,
			NumLocals: init.NumLocals,
			Arity:     init.Arity,
			Outer:     init.Outer,
		})
	}
	sort.Slice(e.Initializers, func(i, j int) bool {
		return e.Initializers[i].Ordinal < e.Initializers[j].Ordinal
	})
	for _, c := range u.Constants {
		e.Constants = append(e.Constants, Constant{Kind: uint8(c.Kind), Num: c.Num, Str: c.Str})
	}
	return e
}

// CompilationUnit rebuilds the unit. Entries that do not describe a complete
// unit report ErrCorrupt.
func (e *Entry) CompilationUnit() (*vm.CompilationUnit, error) {
	u := &vm.CompilationUnit{
		CompilationID: e.CompilationID,
		SourceID:      e.SourceID,
		EntryID:       -1,
		Initializers:  make(map[int]vm.FunctionInitializer, len(e.Initializers)),
	}
	for i, s := range e.Units {
		u.Units = append(u.Units, vm.Subunit{Name: s.Name, Code: s.Code})
		if s.Name == e.MainUnitName && u.EntryID < 0 {
			u.EntryID = i
		}
	}
	if u.EntryID < 0 {
		return nil, fmt.Errorf("%w: %s: no subunit named %q", ErrCorrupt, e.CacheKey, e.MainUnitName)
	}
	for _, init := range e.Initializers {
		if init.Ordinal < 0 || init.Ordinal >= len(u.Units) {
			return nil, fmt.Errorf("%w: %s: initializer for unknown subunit %d", ErrCorrupt, e.CacheKey, init.Ordinal)
		}
		u.Initializers[init.Ordinal] = vm.FunctionInitializer{
			Name:      init.Name,
			Params:    init.Params,
			NumLocals: init.NumLocals,
			Arity:     init.Arity,
			Outer:     init.Outer,
		}
	}
	if len(u.Initializers) != len(u.Units) {
		return nil, fmt.Errorf("%w: %s: %d initializers for %d subunits", ErrCorrupt, e.CacheKey, len(u.Initializers), len(u.Units))
	}
	for _, c := range e.Constants {
		kind := vm.ConstantKind(c.Kind)
		if kind != vm.ConstNumber && kind != vm.ConstString {
			return nil, fmt.Errorf("%w: %s: constant kind %d", ErrCorrupt, e.CacheKey, c.Kind)
		}
		u.Constants = append(u.Constants, vm.Constant{Kind: kind, Num: c.Num, Str: c.Str})
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

var cborEncMode cbor.EncMode

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codecache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(fmt.Sprintf("codecache: failed to create zstd encoder: %v", err))
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic(fmt.Sprintf("codecache: failed to create zstd decoder: %v", err))
	}
}

// Encode serializes e to CBOR, zstd-compressed when compress is set.
func Encode(e *Entry, compress bool) ([]byte, error) {
	data, err := cborEncMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("codecache: marshal entry: %w", err)
	}
	if compress {
		data = zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	return data, nil
}

// Decode reverses Encode, detecting compression from the zstd frame magic.
func Decode(data []byte) (*Entry, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
		}
		data = raw
	}
	var e Entry
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrCorrupt, err)
	}
	return &e, nil
}
