package vm

import (
	"errors"
	"testing"

	"github.com/chazu/hostrt/capability"
)

// newUnit assembles a unit whose subunit 0 is an empty main.
func newUnit(consts []Constant, funcs ...Subunit) *CompilationUnit {
	main := NewBytecodeBuilder()
	main.Emit(OpReturnUndefined)
	u := &CompilationUnit{
		SourceID:     "test",
		Units:        append([]Subunit{{Name: MainUnitName, Code: main.Bytes()}}, funcs...),
		Initializers: map[int]FunctionInitializer{0: {}},
		Constants:    consts,
	}
	for i, f := range funcs {
		u.Initializers[i+1] = FunctionInitializer{Name: f.Name}
	}
	return u
}

func TestNativeArgumentPadding(t *testing.T) {
	var seen []Value
	var count int
	fn := NewNative("pad", 2, func(c *Call) (Value, error) {
		seen = []Value{c.Argument(0), c.Argument(1), c.Argument(2)}
		count = c.ArgumentCount()
		return Undefined, nil
	}, nil)

	if _, err := fn.Invoke(nil, Undefined, []Value{Number(1)}); err != nil {
		t.Fatal(err)
	}
	if seen[0].ToNumber() != 1 || !seen[1].IsUndefined() || !seen[2].IsUndefined() {
		t.Errorf("Expected missing arguments as undefined, got %v", seen)
	}
	if count != 1 {
		t.Errorf("Expected argument count 1, got %d", count)
	}

	if _, err := fn.Invoke(nil, Undefined, []Value{Number(1), Number(2), Number(3), Number(4)}); err != nil {
		t.Fatalf("Expected excess arguments to be accepted, got %v", err)
	}
	if count != 4 {
		t.Errorf("Expected argument count 4, got %d", count)
	}
}

func TestNativeDescriptor(t *testing.T) {
	d := &capability.Descriptor{MemberID: "Window.alert", Kind: capability.KindMethod}
	fn := NewNative("alert", 1, func(c *Call) (Value, error) { return Undefined, nil }, d)
	if fn.Descriptor() != d {
		t.Error("Expected descriptor to be retained")
	}
	if fn.IsConstructor() {
		t.Error("Expected plain native not to be a constructor")
	}
	if _, err := fn.Construct(nil, nil); !errors.Is(err, ErrNotConstructor) {
		t.Errorf("Expected ErrNotConstructor, got %v", err)
	}
}

func TestNativeConstructReturnRule(t *testing.T) {
	replacement := NewObject("Replacement", nil)
	proto := NewObject("Widget", nil)

	ctor := NewNativeConstructor("Widget", 1, func(c *Call) (Value, error) {
		c.ThisObject().Set("arg", c.Argument(0))
		if c.Argument(0).ToBoolean() {
			return Object(replacement), nil
		}
		return Number(42), nil
	}, nil, nil)
	fn := NewFunctionObject(ctor, proto)

	obj, err := Construct(nil, Object(fn), False)
	if err != nil {
		t.Fatal(err)
	}
	if obj == replacement {
		t.Fatal("Expected the allocated receiver for a non-object return")
	}
	if obj.Prototype() != proto {
		t.Error("Expected receiver linked to the prototype")
	}
	if obj.Class() != "Widget" {
		t.Errorf("Expected class Widget, got %s", obj.Class())
	}

	obj, err = Construct(nil, Object(fn), True)
	if err != nil {
		t.Fatal(err)
	}
	if obj != replacement {
		t.Error("Expected the explicitly returned object to win")
	}

	if c, _ := proto.Get("constructor"); c.AsObject() != fn {
		t.Error("Expected prototype.constructor to link back")
	}
	if _, err := Invoke(nil, Object(fn), Undefined); err == nil {
		t.Error("Expected calling a construct-only native without new to fail")
	}
}

func TestCompiledConstructReturnRule(t *testing.T) {
	consts := []Constant{
		{Kind: ConstNumber, Num: 1},
		{Kind: ConstString, Str: "x"},
		{Kind: ConstNumber, Num: 5},
	}
	body := func(explicit bool) Subunit {
		b := NewBytecodeBuilder()
		b.Emit(OpPushThis)
		b.EmitUint16(OpPushConst, 0)
		b.EmitUint16(OpSetProp, 1)
		b.Emit(OpPop)
		if explicit {
			b.Emit(OpNewObject)
		} else {
			b.EmitUint16(OpPushConst, 2)
		}
		b.Emit(OpReturn)
		return Subunit{Name: "F", Code: b.Bytes()}
	}
	u := newUnit(consts, body(true), body(false))
	it := NewInterpreter(NewObject("Window", nil))

	proto := NewObject("Object", nil)
	returnsObject := NewFunctionObject(NewCompiledCallable(u, 1, nil), proto)
	obj, err := Construct(it, Object(returnsObject))
	if err != nil {
		t.Fatal(err)
	}
	if obj.HasOwn("x") {
		t.Error("Expected the explicit return object, not the receiver")
	}

	returnsNumber := NewFunctionObject(NewCompiledCallable(u, 2, nil), proto)
	obj, err = Construct(it, Object(returnsNumber))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := obj.Get("x"); v.ToNumber() != 1 {
		t.Errorf("Expected the allocated receiver with x=1, got %v", v)
	}
	if obj.Prototype() != proto {
		t.Error("Expected receiver linked to the function's prototype property")
	}
}

func TestCompiledNeedsInterpreter(t *testing.T) {
	u := newUnit(nil, Subunit{Name: "f", Code: []byte{byte(OpReturnUndefined)}})
	c := NewCompiledCallable(u, 1, nil)
	if _, err := c.Invoke(nil, Undefined, nil); !errors.Is(err, ErrNoInterpreter) {
		t.Errorf("Expected ErrNoInterpreter, got %v", err)
	}
}

func TestFunctionObjectShared(t *testing.T) {
	native := NewNativeConstructor("T", 0, func(c *Call) (Value, error) { return Undefined, nil }, nil, nil)
	p1 := NewObject("T", nil)
	p2 := NewObject("T", nil)
	f1 := NewFunctionObject(native, p1)
	f2 := NewFunctionObject(native, p2)

	o1, _ := Construct(nil, Object(f1))
	o2, _ := Construct(nil, Object(f2))
	if o1.Prototype() != p1 || o2.Prototype() != p2 {
		t.Error("Expected each function object to construct against its own prototype")
	}
}

func TestNativeUnqualifiedCallGetsGlobal(t *testing.T) {
	global := NewObject("Window", nil)
	var this Value
	fn := NewNative("alert", 1, func(c *Call) (Value, error) {
		this = c.This
		return Undefined, nil
	}, nil)
	if _, err := fn.Invoke(NewInterpreter(global), Undefined, nil); err != nil {
		t.Fatal(err)
	}
	if this.AsObject() != global {
		t.Errorf("Expected the global receiver, got %v", this)
	}
}
