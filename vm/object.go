package vm

import (
	"fmt"
	"weak"
)

// Capabilities declare which protocols an object supports. They replace a
// class hierarchy of host object kinds.
type Capabilities uint8

const (
	CapGet        Capabilities = 1 << iota // property reads
	CapSet                                 // property writes
	CapCall                                // plain invocation
	CapConstruct                           // invocation through new
	CapDeepLookup                          // misses continue on the prototype
)

// CapDefault is the capability set of an ordinary object.
const CapDefault = CapGet | CapSet | CapDeepLookup

// Accessor is the getter/setter pair stored in an accessor property.
type Accessor struct {
	Getter Callable
	Setter Callable
}

// PropertyDescriptor describes one own property.
type PropertyDescriptor struct {
	Value  Value
	Getter Callable
	Setter Callable
	Attrs  Attributes
}

type slot struct {
	value    Value
	accessor *Accessor
}

// Synthesizer materializes reserved property names on first access.
// Make is called at most once per name per object; a true result is stored
// as an own property before lookup continues.
type Synthesizer struct {
	Names []string
	Make  func(obj *HostObject, name string) (Value, Attributes, bool)
}

func (s *Synthesizer) owns(name string) bool {
	for _, n := range s.Names {
		if n == name {
			return true
		}
	}
	return false
}

// HostObject is the single object representation of the runtime. Its layout
// is described by a shared Shape and its values live in slots indexed by
// that shape.
//
// The prototype link is weak: the prototype's lifetime belongs to whoever
// built it (a Realm, or the function object exposing it as "prototype").
type HostObject struct {
	class  string
	shape  *Shape
	slots  []slot
	proto  weak.Pointer[HostObject]
	caps   Capabilities
	frozen bool

	synth       *Synthesizer
	synthesized map[string]bool

	call     Callable
	internal any
}

// NewObject allocates an ordinary object of the given class.
func NewObject(class string, proto *HostObject) *HostObject {
	return &HostObject{
		class: class,
		shape: EmptyShape(),
		proto: weak.Make(proto),
		caps:  CapDefault,
	}
}

func (o *HostObject) Class() string              { return o.class }
func (o *HostObject) Shape() *Shape              { return o.shape }
func (o *HostObject) Capabilities() Capabilities { return o.caps }
func (o *HostObject) Frozen() bool               { return o.frozen }

// Callable returns the function implementation, nil for non-functions.
func (o *HostObject) Callable() Callable { return o.call }

// IsCallable reports whether the object can be invoked.
func (o *HostObject) IsCallable() bool {
	return o.call != nil && o.caps&CapCall != 0
}

// IsConstructor reports whether the object can be invoked with new.
func (o *HostObject) IsConstructor() bool {
	return o.call != nil && o.caps&CapConstruct != 0
}

// SetCapabilities replaces the capability set.
func (o *HostObject) SetCapabilities(c Capabilities) {
	o.caps = c
}

// SetSynthesizer installs the lazy property hook.
func (o *HostObject) SetSynthesizer(s *Synthesizer) {
	o.synth = s
}

// Internal returns the host data attached with SetInternal.
func (o *HostObject) Internal() any { return o.internal }

// SetInternal attaches host data that scripts cannot see. Native members
// keep per-instance state here.
func (o *HostObject) SetInternal(v any) {
	o.internal = v
}

// Prototype returns the prototype, or nil if there is none or it has been
// released by its owner.
func (o *HostObject) Prototype() *HostObject {
	return o.proto.Value()
}

// SetPrototype relinks the object.
func (o *HostObject) SetPrototype(p *HostObject) error {
	if o.frozen {
		return ErrFrozen
	}
	for q := p; q != nil; q = q.Prototype() {
		if q == o {
			return fmt.Errorf("vm: cyclic prototype chain through %s", o.class)
		}
	}
	o.proto = weak.Make(p)
	return nil
}

// Freeze makes the object itself immutable. Instances can still shadow
// inherited properties.
func (o *HostObject) Freeze() {
	o.frozen = true
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// resolve finds the object holding name, walking the prototype chain while
// each object declares deep lookup.
func (o *HostObject) resolve(name string) (*HostObject, Property, bool) {
	for obj := o; obj != nil; obj = obj.Prototype() {
		if p, ok := obj.shape.Lookup(name); ok {
			return obj, p, true
		}
		if obj.synthesize(name) {
			p, _ := obj.shape.Lookup(name)
			return obj, p, true
		}
		if obj.caps&CapDeepLookup == 0 {
			break
		}
	}
	return nil, Property{}, false
}

func (o *HostObject) synthesize(name string) bool {
	if o.synth == nil || o.frozen || o.synthesized[name] || !o.synth.owns(name) {
		return false
	}
	v, attrs, ok := o.synth.Make(o, name)
	if !ok {
		return false
	}
	if o.synthesized == nil {
		o.synthesized = make(map[string]bool)
	}
	o.synthesized[name] = true
	o.put(name, attrs&^AttrAccessor, slot{value: v})
	log.Debug("synthesized property", "class", o.class, "name", name)
	return true
}

// Lookup returns the object that holds name and the property entry, without
// invoking accessors.
func (o *HostObject) Lookup(name string) (*HostObject, Property, bool) {
	return o.resolve(name)
}

// GetWith reads name with o as the receiver. Accessor getters run on it.
// A miss is reported through the boolean, never as an error.
func (o *HostObject) GetWith(it *Interpreter, name string) (Value, bool, error) {
	if o.caps&CapGet == 0 {
		return Undefined, false, nil
	}
	holder, p, ok := o.resolve(name)
	if !ok {
		return Undefined, false, nil
	}
	v, err := o.read(it, holder.slots[p.Slot], p.Attrs)
	return v, true, err
}

func (o *HostObject) read(it *Interpreter, s slot, attrs Attributes) (Value, error) {
	if !attrs.Has(AttrAccessor) {
		return s.value, nil
	}
	if s.accessor == nil || s.accessor.Getter == nil {
		return Undefined, nil
	}
	return s.accessor.Getter.Invoke(it, Object(o), nil)
}

// Get reads name from host code. Getter failures are logged and read as
// undefined; scripts go through GetWith.
func (o *HostObject) Get(name string) (Value, bool) {
	v, ok, err := o.GetWith(nil, name)
	if err != nil {
		log.Warning("getter failed", "class", o.class, "name", name, "error", err)
		return Undefined, true
	}
	return v, ok
}

// HasOwn reports whether name is an own property.
func (o *HostObject) HasOwn(name string) bool {
	_, ok := o.shape.Lookup(name)
	return ok
}

// OwnProperty returns the own property named name.
func (o *HostObject) OwnProperty(name string) (PropertyDescriptor, bool) {
	p, ok := o.shape.Lookup(name)
	if !ok {
		return PropertyDescriptor{}, false
	}
	s := o.slots[p.Slot]
	d := PropertyDescriptor{Value: s.value, Attrs: p.Attrs}
	if s.accessor != nil {
		d.Getter, d.Setter = s.accessor.Getter, s.accessor.Setter
	}
	return d, true
}

// OwnKeys lists own property names in insertion order.
func (o *HostObject) OwnKeys() []string {
	keys := make([]string, 0, o.shape.Len())
	for _, p := range o.shape.props {
		keys = append(keys, p.Name)
	}
	return keys
}

// EnumerableKeys lists own enumerable property names in insertion order.
func (o *HostObject) EnumerableKeys() []string {
	var keys []string
	for _, p := range o.shape.props {
		if p.Attrs.Has(AttrEnumerable) {
			keys = append(keys, p.Name)
		}
	}
	return keys
}

// ---------------------------------------------------------------------------
// Mutation
// ---------------------------------------------------------------------------

func (o *HostObject) put(name string, attrs Attributes, s slot) {
	if i, ok := o.shape.SlotOf(name); ok {
		o.shape = o.shape.WithProperty(name, attrs)
		o.slots[i] = s
		return
	}
	o.shape = o.shape.WithProperty(name, attrs)
	o.slots = append(o.slots, s)
}

// SetWith assigns name with o as the receiver. Inherited setters run on it;
// inherited read-only data properties block the assignment. The boolean is
// false when the assignment was refused.
func (o *HostObject) SetWith(it *Interpreter, name string, v Value) (bool, error) {
	if o.frozen || o.caps&CapSet == 0 {
		return false, nil
	}
	if p, ok := o.shape.Lookup(name); ok {
		s := &o.slots[p.Slot]
		if p.Attrs.Has(AttrAccessor) {
			return o.write(it, s.accessor, v)
		}
		if !p.Attrs.Has(AttrWritable) {
			return false, nil
		}
		s.value = v
		return true, nil
	}
	if o.caps&CapDeepLookup != 0 {
		if proto := o.Prototype(); proto != nil {
			if holder, p, ok := proto.resolve(name); ok {
				if p.Attrs.Has(AttrAccessor) {
					return o.write(it, holder.slots[p.Slot].accessor, v)
				}
				if !p.Attrs.Has(AttrWritable) {
					return false, nil
				}
			}
		}
	}
	o.put(name, AttrDefault, slot{value: v})
	return true, nil
}

func (o *HostObject) write(it *Interpreter, acc *Accessor, v Value) (bool, error) {
	if acc == nil || acc.Setter == nil {
		return false, nil
	}
	if _, err := acc.Setter.Invoke(it, Object(o), []Value{v}); err != nil {
		return false, err
	}
	return true, nil
}

// Set assigns name from host code.
func (o *HostObject) Set(name string, v Value) bool {
	ok, err := o.SetWith(nil, name, v)
	if err != nil {
		log.Warning("setter failed", "class", o.class, "name", name, "error", err)
		return false
	}
	return ok
}

func (o *HostObject) checkRedefine(name string, attrs Attributes) error {
	if o.frozen {
		return fmt.Errorf("%w: cannot define %s on %s", ErrFrozen, name, o.class)
	}
	if p, ok := o.shape.Lookup(name); ok && !p.Attrs.Has(AttrConfigurable) && p.Attrs != attrs {
		return fmt.Errorf("%w: %s", ErrNotConfigurable, name)
	}
	return nil
}

// DefineOwnProperty creates or replaces the own data property name.
func (o *HostObject) DefineOwnProperty(name string, attrs Attributes, v Value) error {
	attrs &^= AttrAccessor
	if err := o.checkRedefine(name, attrs); err != nil {
		return err
	}
	o.put(name, attrs, slot{value: v})
	return nil
}

// DefineAccessor creates or replaces the own accessor property name.
func (o *HostObject) DefineAccessor(name string, getter, setter Callable, attrs Attributes) error {
	attrs |= AttrAccessor
	attrs &^= AttrWritable
	if err := o.checkRedefine(name, attrs); err != nil {
		return err
	}
	o.put(name, attrs, slot{accessor: &Accessor{Getter: getter, Setter: setter}})
	return nil
}

// DeleteOwnProperty removes name. Deleting a missing property succeeds;
// non-configurable properties and frozen objects refuse.
func (o *HostObject) DeleteOwnProperty(name string) bool {
	p, ok := o.shape.Lookup(name)
	if !ok {
		return !o.frozen
	}
	if o.frozen || !p.Attrs.Has(AttrConfigurable) {
		return false
	}
	o.shape = o.shape.WithoutProperty(name)
	o.slots = append(o.slots[:p.Slot:p.Slot], o.slots[p.Slot+1:]...)
	return true
}

func (o *HostObject) String() string {
	return "[object " + o.class + "]"
}
