package binding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

// Member is one native member together with the descriptor that exposes it.
type Member struct {
	Descriptor capability.Descriptor
	Arity      int

	// Fn implements methods, getters and setters. For constructors it is
	// the body run by new.
	Fn vm.NativeFunc

	// Call handles a constructor invoked without new. Nil makes such calls
	// a TypeError.
	Call vm.NativeFunc

	// Value is the value of a constant.
	Value vm.Value
}

// TypeDef is the member table of one host type.
type TypeDef struct {
	Name    string
	Parent  string // prototype parent type, empty for none
	Members []Member

	// Synthesizer is installed on every instance of the type.
	Synthesizer *vm.Synthesizer
}

// Registry holds the registered types. Descriptor overrides must be applied
// before prototypes are built from it.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*TypeDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeDef)}
}

// Register adds def. Type names and member ids must be unique.
func (r *Registry) Register(def TypeDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.Name == "" {
		return fmt.Errorf("binding: type without a name")
	}
	if _, ok := r.types[def.Name]; ok {
		return fmt.Errorf("binding: type %s already registered", def.Name)
	}
	for _, m := range def.Members {
		if owner, _, ok := r.member(m.Descriptor.MemberID); ok {
			return fmt.Errorf("binding: member %s already registered on %s", m.Descriptor.MemberID, owner.Name)
		}
	}
	seen := make(map[string]bool)
	for _, m := range def.Members {
		if seen[m.Descriptor.MemberID] {
			return fmt.Errorf("binding: member %s registered twice on %s", m.Descriptor.MemberID, def.Name)
		}
		seen[m.Descriptor.MemberID] = true
	}
	def.Members = append([]Member(nil), def.Members...)
	r.types[def.Name] = &def
	return nil
}

// MustRegister is Register for static tables.
func (r *Registry) MustRegister(defs ...TypeDef) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Type returns the definition of name.
func (r *Registry) Type(name string) (*TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[name]
	return def, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) member(id string) (*TypeDef, int, bool) {
	for _, def := range r.types {
		for i := range def.Members {
			if def.Members[i].Descriptor.MemberID == id {
				return def, i, true
			}
		}
	}
	return nil, 0, false
}

// ApplyDescriptors replaces the exposures of registered members, matched by
// MemberID. A descriptor naming an unknown member, or one whose kind differs
// from the registered member, is a configuration error; descriptors never
// attach new operations. Nothing is applied unless every descriptor is
// valid.
func (r *Registry) ApplyDescriptors(ds []capability.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	type target struct {
		def *TypeDef
		i   int
	}
	targets := make([]target, len(ds))
	for n := range ds {
		d := &ds[n]
		if err := d.Validate(); err != nil {
			return err
		}
		def, i, ok := r.member(d.MemberID)
		if !ok {
			return &capability.ConfigError{MemberID: d.MemberID, Reason: "no such member"}
		}
		if have := def.Members[i].Descriptor.Kind; have != d.Kind {
			return &capability.ConfigError{
				MemberID: d.MemberID,
				Reason:   fmt.Sprintf("kind %s does not match registered %s", d.Kind, have),
			}
		}
		targets[n] = target{def, i}
	}
	for n, t := range targets {
		m := &t.def.Members[t.i]
		m.Descriptor.Exposures = append([]capability.Exposure(nil), ds[n].Exposures...)
		if ds[n].Name != "" {
			m.Descriptor.Name = ds[n].Name
		}
	}
	log.Info("applied descriptor overrides", "count", len(ds))
	return nil
}
