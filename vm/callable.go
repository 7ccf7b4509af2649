package vm

import (
	"fmt"

	"github.com/chazu/hostrt/capability"
)

// Callable is anything a script can invoke: a bound native operation or a
// compiled script function.
type Callable interface {
	// Invoke runs the callable with an explicit receiver.
	Invoke(it *Interpreter, this Value, args []Value) (Value, error)
	// Construct allocates a receiver whose prototype is the function
	// object's "prototype" property, runs the body and applies the
	// constructor-return rule.
	Construct(it *Interpreter, args []Value) (*HostObject, error)
	Name() string
	Arity() int
}

// homed is implemented by callables that need to know the function object
// exposing them, to find their "prototype" at construction time.
type homed interface {
	withHome(fn *HostObject) Callable
}

// constructResult applies the constructor-return rule: an explicit object
// return wins, anything else yields the allocated receiver.
func constructResult(allocated *HostObject, returned Value) *HostObject {
	if obj := returned.AsObject(); obj != nil {
		return obj
	}
	return allocated
}

// allocateReceiver creates the object a constructor runs against.
func allocateReceiver(home *HostObject, class string) *HostObject {
	var proto *HostObject
	if home != nil {
		if v, ok := home.Get("prototype"); ok {
			proto = v.AsObject()
		}
	}
	return NewObject(class, proto)
}

// ---------------------------------------------------------------------------
// Native callables
// ---------------------------------------------------------------------------

// Call carries the receiver and arguments of a native invocation.
type Call struct {
	Interp *Interpreter
	This   Value
	Args   []Value
	Callee *NativeCallable
}

// Argument returns argument i, or undefined when fewer were passed.
func (c *Call) Argument(i int) Value {
	if i < 0 || i >= len(c.Args) {
		return Undefined
	}
	return c.Args[i]
}

// ArgumentCount returns how many arguments the caller actually passed.
func (c *Call) ArgumentCount() int {
	return len(c.Args)
}

// ThisObject returns the receiver as an object, or nil for primitives.
func (c *Call) ThisObject() *HostObject {
	return c.This.AsObject()
}

// NativeFunc is the Go implementation of a native operation.
type NativeFunc func(c *Call) (Value, error)

// NativeCallable binds a native operation with its declared arity and the
// descriptor that exposed it.
type NativeCallable struct {
	name       string
	arity      int
	fn         NativeFunc
	ctor       NativeFunc
	descriptor *capability.Descriptor
	home       *HostObject
}

// NewNative wraps fn. d may be nil for internal helpers.
func NewNative(name string, arity int, fn NativeFunc, d *capability.Descriptor) *NativeCallable {
	return &NativeCallable{name: name, arity: arity, fn: fn, descriptor: d}
}

// NewNativeConstructor wraps ctor as the body run by Construct. fn, if not
// nil, handles plain calls.
func NewNativeConstructor(name string, arity int, ctor, fn NativeFunc, d *capability.Descriptor) *NativeCallable {
	return &NativeCallable{name: name, arity: arity, fn: fn, ctor: ctor, descriptor: d}
}

func (n *NativeCallable) Name() string { return n.name }
func (n *NativeCallable) Arity() int   { return n.arity }

// Descriptor returns the capability descriptor that justified exposure.
func (n *NativeCallable) Descriptor() *capability.Descriptor { return n.descriptor }

// IsConstructor reports whether the native has a construct body.
func (n *NativeCallable) IsConstructor() bool { return n.ctor != nil }

func (n *NativeCallable) Invoke(it *Interpreter, this Value, args []Value) (Value, error) {
	if n.fn == nil {
		return Undefined, TypeError("Constructor %s requires 'new'", n.name)
	}
	// Unqualified calls such as alert("x") run against the global object.
	if this.IsNullish() && it != nil {
		this = Object(it.global)
	}
	return n.fn(&Call{Interp: it, This: this, Args: args, Callee: n})
}

func (n *NativeCallable) Construct(it *Interpreter, args []Value) (*HostObject, error) {
	if n.ctor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConstructor, n.name)
	}
	obj := allocateReceiver(n.home, n.name)
	ret, err := n.ctor(&Call{Interp: it, This: Object(obj), Args: args, Callee: n})
	if err != nil {
		return nil, err
	}
	return constructResult(obj, ret), nil
}

func (n *NativeCallable) withHome(fn *HostObject) Callable {
	if n.home == nil || n.home == fn {
		n.home = fn
		return n
	}
	cp := *n
	cp.home = fn
	return &cp
}

// ---------------------------------------------------------------------------
// Compiled callables
// ---------------------------------------------------------------------------

// CompiledCallable is a script function: a subunit of a CompilationUnit plus
// the scope chain captured when the closure was created.
type CompiledCallable struct {
	unit  *CompilationUnit
	fn    int
	scope *Scope
	home  *HostObject
}

// NewCompiledCallable binds subunit fn of unit to scope.
func NewCompiledCallable(unit *CompilationUnit, fn int, scope *Scope) *CompiledCallable {
	return &CompiledCallable{unit: unit, fn: fn, scope: scope}
}

func (c *CompiledCallable) Unit() *CompilationUnit { return c.unit }
func (c *CompiledCallable) Ordinal() int           { return c.fn }

func (c *CompiledCallable) Name() string {
	if init, ok := c.unit.Initializers[c.fn]; ok && init.Name != "" {
		return init.Name
	}
	return c.unit.Units[c.fn].Name
}

func (c *CompiledCallable) Arity() int {
	return c.unit.Initializers[c.fn].Arity
}

func (c *CompiledCallable) Invoke(it *Interpreter, this Value, args []Value) (Value, error) {
	if it == nil {
		return Undefined, fmt.Errorf("%w: %s", ErrNoInterpreter, c.Name())
	}
	return it.execute(c.unit, c.fn, c.scope, this, args)
}

func (c *CompiledCallable) Construct(it *Interpreter, args []Value) (*HostObject, error) {
	if it == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInterpreter, c.Name())
	}
	obj := allocateReceiver(c.home, "Object")
	it.retain(obj.Prototype())
	ret, err := it.execute(c.unit, c.fn, c.scope, Object(obj), args)
	if err != nil {
		return nil, err
	}
	return constructResult(obj, ret), nil
}

func (c *CompiledCallable) withHome(fn *HostObject) Callable {
	if c.home == nil || c.home == fn {
		c.home = fn
		return c
	}
	cp := *c
	cp.home = fn
	return &cp
}

// ---------------------------------------------------------------------------
// Function objects
// ---------------------------------------------------------------------------

// NewFunctionObject wraps c in a callable HostObject. When prototype is not
// nil the function becomes a constructor: prototype is exposed as its
// "prototype" property and receives a "constructor" back-link unless it is
// frozen.
func NewFunctionObject(c Callable, prototype *HostObject) *HostObject {
	fn := NewObject("Function", nil)
	fn.caps = CapGet | CapSet | CapCall
	if h, ok := c.(homed); ok {
		c = h.withHome(fn)
	}
	fn.call = c
	fn.put("name", AttrConfigurable, slot{value: String(c.Name())})
	fn.put("length", AttrConfigurable, slot{value: Number(float64(c.Arity()))})
	if prototype != nil {
		fn.caps |= CapConstruct
		fn.put("prototype", AttrWritable, slot{value: Object(prototype)})
		if !prototype.frozen && !prototype.HasOwn("constructor") {
			prototype.put("constructor", AttrWritable|AttrConfigurable, slot{value: Object(fn)})
		}
	}
	return fn
}

// Invoke calls a function value.
func Invoke(it *Interpreter, fn Value, this Value, args ...Value) (Value, error) {
	obj := fn.AsObject()
	if obj == nil || !obj.IsCallable() {
		return Undefined, TypeError("%s is not a function", fn.ToString())
	}
	return obj.call.Invoke(it, this, args)
}

// Construct invokes fn through new.
func Construct(it *Interpreter, fn Value, args ...Value) (*HostObject, error) {
	obj := fn.AsObject()
	if obj == nil || !obj.IsConstructor() {
		return nil, TypeError("%s is not a constructor", fn.ToString())
	}
	return obj.call.Construct(it, args)
}
