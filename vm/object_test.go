package vm

import (
	"errors"
	"runtime"
	"testing"
)

func TestObjectGetSet(t *testing.T) {
	obj := NewObject("Object", nil)
	if _, ok := obj.Get("x"); ok {
		t.Error("Expected missing property to be not found")
	}
	if !obj.Set("x", Number(1)) {
		t.Fatal("Expected Set to succeed")
	}
	v, ok := obj.Get("x")
	if !ok || v.ToNumber() != 1 {
		t.Errorf("Expected 1, got %v", v)
	}

	other := NewObject("Object", nil)
	other.Set("x", Number(2))
	if obj.Shape() != other.Shape() {
		t.Error("Expected objects with the same history to share a shape")
	}
}

func TestObjectDeepLookup(t *testing.T) {
	proto := NewObject("Proto", nil)
	proto.Set("inherited", String("yes"))

	obj := NewObject("Object", proto)
	v, ok := obj.Get("inherited")
	if !ok || v.ToString() != "yes" {
		t.Errorf("Expected inherited value, got %v (%v)", v, ok)
	}

	obj.SetCapabilities(CapGet | CapSet)
	if _, ok := obj.Get("inherited"); ok {
		t.Error("Expected no prototype lookup without CapDeepLookup")
	}
}

func TestObjectShadowsFrozenPrototype(t *testing.T) {
	proto := NewObject("Proto", nil)
	proto.Set("m", Number(1))
	proto.Freeze()

	obj := NewObject("Object", proto)
	if !obj.Set("m", Number(2)) {
		t.Fatal("Expected instance to shadow a frozen prototype's property")
	}
	if v, _ := obj.Get("m"); v.ToNumber() != 2 {
		t.Errorf("Expected own value 2, got %v", v)
	}
	if v, _ := proto.Get("m"); v.ToNumber() != 1 {
		t.Errorf("Expected prototype untouched, got %v", v)
	}
	if proto.Set("m", Number(3)) {
		t.Error("Expected frozen object to refuse assignment")
	}
	if err := proto.DefineOwnProperty("n", AttrDefault, Null); !errors.Is(err, ErrFrozen) {
		t.Errorf("Expected ErrFrozen, got %v", err)
	}
	if proto.DeleteOwnProperty("m") {
		t.Error("Expected frozen object to refuse deletion")
	}
}

func TestObjectReadOnly(t *testing.T) {
	obj := NewObject("Object", nil)
	if err := obj.DefineOwnProperty("k", AttrEnumerable, Number(1)); err != nil {
		t.Fatal(err)
	}
	if obj.Set("k", Number(2)) {
		t.Error("Expected read-only property to refuse assignment")
	}
	if err := obj.DefineOwnProperty("k", AttrDefault, Number(2)); !errors.Is(err, ErrNotConfigurable) {
		t.Errorf("Expected ErrNotConfigurable, got %v", err)
	}
	if obj.DeleteOwnProperty("k") {
		t.Error("Expected non-configurable property to refuse deletion")
	}

	child := NewObject("Object", obj)
	if child.Set("k", Number(3)) {
		t.Error("Expected inherited read-only property to block assignment")
	}
}

func TestObjectDelete(t *testing.T) {
	obj := NewObject("Object", nil)
	obj.Set("a", Number(1))
	obj.Set("b", Number(2))
	obj.Set("c", Number(3))

	if !obj.DeleteOwnProperty("b") {
		t.Fatal("Expected delete to succeed")
	}
	if obj.HasOwn("b") {
		t.Error("Expected b to be gone")
	}
	keys := obj.OwnKeys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("Expected [a c], got %v", keys)
	}
	if v, _ := obj.Get("c"); v.ToNumber() != 3 {
		t.Errorf("Expected c to survive repacking, got %v", v)
	}
	if !obj.DeleteOwnProperty("missing") {
		t.Error("Expected deleting a missing property to succeed")
	}
}

func TestObjectAccessor(t *testing.T) {
	var stored Value
	getter := NewNative("get", 0, func(c *Call) (Value, error) {
		return String("got:" + c.ThisObject().Class()), nil
	}, nil)
	setter := NewNative("set", 1, func(c *Call) (Value, error) {
		stored = c.Argument(0)
		return Undefined, nil
	}, nil)

	proto := NewObject("Proto", nil)
	if err := proto.DefineAccessor("value", getter, setter, AttrConfigurable); err != nil {
		t.Fatal(err)
	}
	proto.Freeze()

	obj := NewObject("Thing", proto)
	v, ok := obj.Get("value")
	if !ok || v.ToString() != "got:Thing" {
		t.Errorf("Expected getter to run against the receiver, got %v", v)
	}
	if !obj.Set("value", Number(7)) {
		t.Error("Expected inherited setter to accept assignment")
	}
	if stored.ToNumber() != 7 {
		t.Errorf("Expected setter to receive 7, got %v", stored)
	}
	if obj.HasOwn("value") {
		t.Error("Expected setter assignment not to create an own property")
	}
}

func TestSynthesizerFiresOnce(t *testing.T) {
	calls := 0
	obj := NewObject("Document", nil)
	obj.SetSynthesizer(&Synthesizer{
		Names: []string{"all"},
		Make: func(o *HostObject, name string) (Value, Attributes, bool) {
			calls++
			return Object(NewObject("HTMLCollection", nil)), AttrDefault, true
		},
	})

	if obj.HasOwn("all") {
		t.Fatal("Expected all to be absent before first access")
	}
	first, ok := obj.Get("all")
	if !ok || !first.IsObject() {
		t.Fatalf("Expected synthesized collection, got %v", first)
	}
	second, _ := obj.Get("all")
	if first.AsObject() != second.AsObject() {
		t.Error("Expected the materialized value on second access")
	}
	if calls != 1 {
		t.Errorf("Expected synthesis exactly once, got %d", calls)
	}

	keys := obj.EnumerableKeys()
	if len(keys) != 1 || keys[0] != "all" {
		t.Errorf("Expected all as an own enumerable property, got %v", keys)
	}

	if _, ok := obj.Get("other"); ok {
		t.Error("Expected names outside the hook to stay missing")
	}
	if calls != 1 {
		t.Errorf("Expected hook not consulted for other names, got %d calls", calls)
	}
}

func TestPrototypeIsWeak(t *testing.T) {
	obj := func() *HostObject {
		proto := NewObject("Proto", nil)
		proto.Set("x", Number(1))
		return NewObject("Object", proto)
	}()

	for i := 0; i < 10 && obj.Prototype() != nil; i++ {
		runtime.GC()
	}
	if obj.Prototype() != nil {
		t.Error("Expected instance not to keep its prototype alive")
	}
	if _, ok := obj.Get("x"); ok {
		t.Error("Expected lookup to miss once the prototype is released")
	}
}

func TestSetPrototypeRejectsCycles(t *testing.T) {
	a := NewObject("A", nil)
	b := NewObject("B", a)
	if err := a.SetPrototype(b); err == nil {
		t.Error("Expected cyclic prototype chain to be rejected")
	}
}

func TestInternalHiddenFromScripts(t *testing.T) {
	obj := NewObject("Document", nil)
	type hostData struct{ title string }
	obj.SetInternal(&hostData{title: "t"})
	if len(obj.OwnKeys()) != 0 {
		t.Errorf("Expected no own keys, got %v", obj.OwnKeys())
	}
	if d, ok := obj.Internal().(*hostData); !ok || d.title != "t" {
		t.Errorf("Expected host data back, got %v", obj.Internal())
	}
}
