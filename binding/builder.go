package binding

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"

	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/metrics"
	"github.com/chazu/hostrt/vm"
)

var log = commonlog.GetLogger("hostrt.binding")

// ---------------------------------------------------------------------------
// Builder: one Realm per profile
// ---------------------------------------------------------------------------

// Builder hands out realms. It is safe for concurrent use.
type Builder struct {
	registry *Registry
	metrics  *metrics.Metrics

	mu     sync.Mutex
	realms map[capability.Profile]*Realm
}

// NewBuilder creates a builder over reg. m may be nil.
func NewBuilder(reg *Registry, m *metrics.Metrics) *Builder {
	return &Builder{
		registry: reg,
		metrics:  m,
		realms:   make(map[capability.Profile]*Realm),
	}
}

// Registry returns the member table.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// Realm returns the realm for p, creating it on first use.
func (b *Builder) Realm(p capability.Profile) *Realm {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realmLocked(p)
}

func (b *Builder) realmLocked(p capability.Profile) *Realm {
	r, ok := b.realms[p]
	if !ok {
		r = &Realm{
			builder: b,
			profile: p,
			protos:  make(map[string]*Prototype),
		}
		b.realms[p] = r
		log.Debug("created realm", "profile", p.String())
	}
	return r
}

// Acquire returns the realm for p and counts a reference to it.
func (b *Builder) Acquire(p capability.Profile) *Realm {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.realmLocked(p)
	r.refs++
	return r
}

// Release drops a reference taken by Acquire. The last release discards the
// realm and with it every prototype it owns.
func (b *Builder) Release(r *Realm) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.refs == 0 {
		return
	}
	r.refs--
	if r.refs == 0 && b.realms[r.profile] == r {
		delete(b.realms, r.profile)
		log.Debug("released realm", "profile", r.profile.String())
	}
}

// Realms returns the number of live realms.
func (b *Builder) Realms() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.realms)
}

// BuildPrototype returns the prototype of typ for p, building it on first
// request.
func (b *Builder) BuildPrototype(typ string, p capability.Profile) (*Prototype, error) {
	return b.Realm(p).Prototype(typ)
}

// ---------------------------------------------------------------------------
// Realm: the prototypes of one profile
// ---------------------------------------------------------------------------

// Realm owns the prototypes built for one profile.
type Realm struct {
	builder *Builder
	profile capability.Profile
	refs    int // guarded by builder.mu

	mu     sync.Mutex
	protos map[string]*Prototype
	group  singleflight.Group
	builds atomic.Int64
}

// Profile returns the realm's profile.
func (r *Realm) Profile() capability.Profile {
	return r.profile
}

// Builds returns how many prototypes this realm has built.
func (r *Realm) Builds() int {
	return int(r.builds.Load())
}

// Prototype returns the prototype of typ, building it once. Concurrent
// first requests share one build.
func (r *Realm) Prototype(typ string) (*Prototype, error) {
	r.mu.Lock()
	p, ok := r.protos[typ]
	r.mu.Unlock()
	if ok {
		return p, nil
	}

	v, err, _ := r.group.Do(typ, func() (interface{}, error) {
		r.mu.Lock()
		p, ok := r.protos[typ]
		r.mu.Unlock()
		if ok {
			return p, nil
		}
		p, err := r.build(typ)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.protos[typ] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Prototype), nil
}

// chain returns typ and its ancestors, nearest first.
func (r *Realm) chain(typ string) ([]*TypeDef, error) {
	var defs []*TypeDef
	seen := make(map[string]bool)
	for name := typ; name != ""; {
		if seen[name] {
			return nil, fmt.Errorf("binding: cyclic parent chain through %s", name)
		}
		seen[name] = true
		def, ok := r.builder.registry.Type(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
		}
		defs = append(defs, def)
		name = def.Parent
	}
	return defs, nil
}

type accessorPair struct {
	getter, setter *Member
}

func (r *Realm) build(typ string) (*Prototype, error) {
	defs, err := r.chain(typ)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		for i := range def.Members {
			if err := def.Members[i].Descriptor.Validate(); err != nil {
				return nil, err
			}
		}
	}
	def := defs[0]

	var parent *vm.HostObject
	if def.Parent != "" {
		pp, err := r.Prototype(def.Parent)
		if err != nil {
			return nil, fmt.Errorf("binding: building parent of %s: %w", typ, err)
		}
		parent = pp.Object
	}

	selected, err := r.selectMembers(def)
	if err != nil {
		return nil, err
	}

	obj := vm.NewObject(typ+"Prototype", parent)
	proto := &Prototype{Type: typ, Profile: r.profile, Object: obj, def: def}

	accessors := make(map[string]*accessorPair)
	var accessorOrder []string
	for _, m := range selected {
		d := &m.Descriptor
		name := d.PropertyName()
		switch d.Kind {
		case capability.KindMethod:
			fn := vm.NewFunctionObject(vm.NewNative(name, m.Arity, m.Fn, d), nil)
			fn.Freeze()
			if err := obj.DefineOwnProperty(name, vm.AttrWritable|vm.AttrConfigurable, vm.Object(fn)); err != nil {
				return nil, err
			}
		case capability.KindConstant:
			if err := obj.DefineOwnProperty(name, vm.AttrEnumerable, m.Value); err != nil {
				return nil, err
			}
		case capability.KindGetter, capability.KindSetter:
			pair, ok := accessors[name]
			if !ok {
				pair = &accessorPair{}
				accessors[name] = pair
				accessorOrder = append(accessorOrder, name)
			}
			if d.Kind == capability.KindGetter {
				pair.getter = m
			} else {
				pair.setter = m
			}
		case capability.KindConstructor:
			proto.ctorMember = m
		}
	}

	for _, name := range accessorOrder {
		if obj.HasOwn(name) {
			return nil, &capability.ConfigError{
				MemberID: typ + "." + name,
				Reason:   "accessor collides with a method or constant of the same name",
			}
		}
		pair := accessors[name]
		var getter, setter vm.Callable
		if pair.getter != nil {
			getter = vm.NewNative(name, 0, pair.getter.Fn, &pair.getter.Descriptor)
		}
		if pair.setter != nil {
			setter = vm.NewNative(name, 1, pair.setter.Fn, &pair.setter.Descriptor)
		}
		if err := obj.DefineAccessor(name, getter, setter, vm.AttrEnumerable|vm.AttrConfigurable); err != nil {
			return nil, err
		}
	}

	if m := proto.ctorMember; m != nil {
		ctor := vm.NewNativeConstructor(typ, m.Arity, proto.constructBody(m.Fn), m.Call, &m.Descriptor)
		proto.Constructor = vm.NewFunctionObject(ctor, obj)
		proto.Constructor.Freeze()
	}

	obj.Freeze()
	r.builds.Add(1)
	r.builder.metrics.PrototypeBuilt(string(r.profile.Family))
	log.Info("built prototype", "type", typ, "profile", r.profile.String(),
		"members", len(selected), "constructible", proto.Constructor != nil)
	return proto, nil
}

// selectMembers returns the members of def exposed to the realm's profile.
// Members sharing a logical name and kind are alternatives; more than one
// matching is an ambiguity.
func (r *Realm) selectMembers(def *TypeDef) ([]*Member, error) {
	type slotKey struct {
		name string
		kind capability.Kind
	}
	chosen := make(map[slotKey]*Member)
	var selected []*Member
	for i := range def.Members {
		m := &def.Members[i]
		if !m.Descriptor.Matches(r.profile) {
			continue
		}
		key := slotKey{m.Descriptor.PropertyName(), m.Descriptor.Kind}
		if m.Descriptor.Kind == capability.KindConstructor {
			key.name = ""
		}
		if prev, ok := chosen[key]; ok {
			return nil, &capability.ConfigError{
				MemberID: m.Descriptor.MemberID,
				Reason:   fmt.Sprintf("ambiguous with %s for %s", prev.Descriptor.MemberID, r.profile),
			}
		}
		if m.Fn == nil && m.Descriptor.Kind != capability.KindConstant {
			return nil, &capability.ConfigError{MemberID: m.Descriptor.MemberID, Reason: "no implementation"}
		}
		chosen[key] = m
		selected = append(selected, m)
	}
	return selected, nil
}

// InstallGlobals defines every constructor exposed to the realm's profile
// on global, under its type name.
func (r *Realm) InstallGlobals(global *vm.HostObject) error {
	for _, typ := range r.builder.registry.Types() {
		p, err := r.Prototype(typ)
		if err != nil {
			return err
		}
		if p.Constructor == nil {
			continue
		}
		if err := global.DefineOwnProperty(typ, vm.AttrWritable|vm.AttrConfigurable, vm.Object(p.Constructor)); err != nil {
			return err
		}
	}
	return nil
}
