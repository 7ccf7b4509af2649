package vm

import (
	"fmt"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// CompilationUnit: the executable result of compiling one script source
// ---------------------------------------------------------------------------

// MainUnitName is the name of the top-level subunit.
const MainUnitName = "main"

// Subunit is one named bytecode body: the script's top level or a function.
type Subunit struct {
	Name string
	Code []byte
}

// FunctionInitializer describes how to set up a frame for a subunit.
type FunctionInitializer struct {
	Name      string   // declared function name, empty for anonymous
	Params    []string // parameter names, in order
	NumLocals int      // frame slots, parameters included
	Arity     int
	Outer     int // ordinal of the lexically enclosing subunit, -1 for main
}

// ConstantKind tags a constant pool entry.
type ConstantKind uint8

const (
	ConstNumber ConstantKind = iota
	ConstString
)

// Constant is one constant pool entry. Property and global names are
// string constants.
type Constant struct {
	Kind ConstantKind
	Num  float64
	Str  string
}

// Value returns the constant as a script value.
func (c Constant) Value() Value {
	if c.Kind == ConstString {
		return String(c.Str)
	}
	return Number(c.Num)
}

func (c Constant) String() string {
	return c.Value().String()
}

// CompilationUnit is immutable once produced. Units is ordered: a subunit's
// ordinal is its index, and Initializers is keyed by ordinal.
type CompilationUnit struct {
	CompilationID uint64
	SourceID      string
	EntryID       int
	Units         []Subunit
	Initializers  map[int]FunctionInitializer
	Constants     []Constant
}

// Main returns the entry subunit.
func (u *CompilationUnit) Main() Subunit {
	return u.Units[u.EntryID]
}

// Unit returns the ordinal of the subunit called name.
func (u *CompilationUnit) Unit(name string) (int, bool) {
	for i, s := range u.Units {
		if s.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Disassemble renders every subunit.
func (u *CompilationUnit) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; compilation %d (%s)\n", u.CompilationID, u.SourceID)
	for i, c := range u.Constants {
		fmt.Fprintf(&sb, "; const %d = %s\n", i, c)
	}
	for i, s := range u.Units {
		init := u.Initializers[i]
		fmt.Fprintf(&sb, "\n%s: ; #%d params=%v locals=%d\n", s.Name, i, init.Params, init.NumLocals)
		sb.WriteString(DisassembleWith(s.Code, u.Constants))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Registry: installed units by compilation id
// ---------------------------------------------------------------------------

// Registry is the executable registry. Installing a unit makes it reachable
// by id; the interpreter runs units directly, so the registry is the
// process-wide record of what has been installed.
type Registry struct {
	mu    sync.RWMutex
	units map[uint64]*CompilationUnit
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[uint64]*CompilationUnit)}
}

// Install publishes u under its compilation id. Ids are never reused.
func (r *Registry) Install(u *CompilationUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.units[u.CompilationID]; ok && prev != u {
		return fmt.Errorf("vm: compilation id %d already installed", u.CompilationID)
	}
	r.units[u.CompilationID] = u
	return nil
}

// Lookup returns the unit installed under id.
func (r *Registry) Lookup(id uint64) (*CompilationUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	return u, ok
}

// Remove drops the unit installed under id.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	delete(r.units, id)
	r.mu.Unlock()
}

// Len returns the number of installed units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}
