package vm

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Attributes describe how a property may be used.
type Attributes uint8

const (
	AttrWritable Attributes = 1 << iota
	AttrEnumerable
	AttrConfigurable
	AttrAccessor // slot holds getter/setter pair instead of a value
)

// AttrDefault is what plain assignment creates.
const AttrDefault = AttrWritable | AttrEnumerable | AttrConfigurable

// Has reports whether all bits of f are set.
func (a Attributes) Has(f Attributes) bool {
	return a&f == f
}

func (a Attributes) String() string {
	var flags []string
	if a.Has(AttrWritable) {
		flags = append(flags, "writable")
	}
	if a.Has(AttrEnumerable) {
		flags = append(flags, "enumerable")
	}
	if a.Has(AttrConfigurable) {
		flags = append(flags, "configurable")
	}
	if a.Has(AttrAccessor) {
		flags = append(flags, "accessor")
	}
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, "|")
}

// Property is one entry of a shape's layout.
type Property struct {
	Name  string
	Slot  int
	Attrs Attributes
}

type transitionKey struct {
	name  string
	attrs Attributes
}

// Shape is an immutable property layout. Objects that went through the same
// sequence of additions and removals from EmptyShape share the same *Shape,
// so pointer equality means "same layout".
type Shape struct {
	id     uint64
	parent *Shape
	props  []Property
	index  map[string]int

	mu          sync.RWMutex // protects transitions and removals
	transitions map[transitionKey]*Shape
	removals    map[string]*Shape
}

var (
	shapeIDs   atomic.Uint64
	emptyShape = newShape(nil, nil)
)

func newShape(parent *Shape, props []Property) *Shape {
	s := &Shape{
		id:     shapeIDs.Add(1),
		parent: parent,
		props:  props,
		index:  make(map[string]int, len(props)),
	}
	for i, p := range props {
		s.index[p.Name] = i
	}
	return s
}

// EmptyShape returns the process-wide root shape.
func EmptyShape() *Shape {
	return emptyShape
}

// ID returns a process-unique identifier, useful in traces.
func (s *Shape) ID() uint64 { return s.id }

// Parent returns the shape this one was derived from, nil for the root.
func (s *Shape) Parent() *Shape { return s.parent }

// Len returns the number of properties (and slots).
func (s *Shape) Len() int { return len(s.props) }

// Properties returns the layout in enumeration order.
func (s *Shape) Properties() []Property {
	out := make([]Property, len(s.props))
	copy(out, s.props)
	return out
}

// Lookup returns the property entry for name.
func (s *Shape) Lookup(name string) (Property, bool) {
	i, ok := s.index[name]
	if !ok {
		return Property{}, false
	}
	return s.props[i], true
}

// SlotOf returns the slot index for name. The boolean is false when the
// shape has no such property.
func (s *Shape) SlotOf(name string) (int, bool) {
	i, ok := s.index[name]
	if !ok {
		return -1, false
	}
	return s.props[i].Slot, true
}

// WithProperty returns the shape with name added at the end, or with its
// attributes replaced in place if name is already present.
func (s *Shape) WithProperty(name string, attrs Attributes) *Shape {
	if p, ok := s.Lookup(name); ok && p.Attrs == attrs {
		return s
	}

	key := transitionKey{name: name, attrs: attrs}
	s.mu.RLock()
	next := s.transitions[key]
	s.mu.RUnlock()
	if next != nil {
		return next
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next := s.transitions[key]; next != nil {
		return next
	}

	props := make([]Property, len(s.props), len(s.props)+1)
	copy(props, s.props)
	if i, ok := s.index[name]; ok {
		props[i].Attrs = attrs
	} else {
		props = append(props, Property{Name: name, Slot: len(s.props), Attrs: attrs})
	}
	next = newShape(s, props)
	if s.transitions == nil {
		s.transitions = make(map[transitionKey]*Shape)
	}
	s.transitions[key] = next
	return next
}

// WithoutProperty returns the shape with name removed. Surviving properties
// keep their order and are packed into consecutive slots.
func (s *Shape) WithoutProperty(name string) *Shape {
	removed, ok := s.index[name]
	if !ok {
		return s
	}

	s.mu.RLock()
	next := s.removals[name]
	s.mu.RUnlock()
	if next != nil {
		return next
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next := s.removals[name]; next != nil {
		return next
	}

	props := make([]Property, 0, len(s.props)-1)
	for i, p := range s.props {
		if i == removed {
			continue
		}
		p.Slot = len(props)
		props = append(props, p)
	}
	next = newShape(s, props)
	if s.removals == nil {
		s.removals = make(map[string]*Shape)
	}
	s.removals[name] = next
	return next
}
