package vm

import (
	"math"
	"testing"
)

func TestValueConstructors(t *testing.T) {
	if !Undefined.IsUndefined() || Undefined.Kind() != KindUndefined {
		t.Error("Expected the zero Value to be undefined")
	}
	if zero := (Value{}); !zero.IsUndefined() {
		t.Error("Expected Value{} to be undefined")
	}
	if Bool(true) != True || Bool(false) != False {
		t.Error("Expected Bool to return the shared booleans")
	}
	if v := Number(1.5); v.Kind() != KindNumber || v.ToNumber() != 1.5 {
		t.Errorf("Expected number 1.5, got %v", v)
	}
	if v := String("hi"); v.Kind() != KindString || v.ToString() != "hi" {
		t.Errorf("Expected string hi, got %v", v)
	}
	if v := Object(nil); !v.IsNull() {
		t.Errorf("Expected a nil object to become null, got %v", v)
	}
	obj := NewObject("Thing", nil)
	if v := Object(obj); !v.IsObject() || v.AsObject() != obj {
		t.Error("Expected Object to wrap the host object")
	}
	if Number(1).AsObject() != nil {
		t.Error("Expected AsObject of a primitive to be nil")
	}
	if !Null.IsNullish() || !Undefined.IsNullish() || False.IsNullish() {
		t.Error("Expected only null and undefined to be nullish")
	}
}

func TestValueToBoolean(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Undefined, false},
		{Null, false},
		{True, true},
		{False, false},
		{Number(0), false},
		{Number(math.Copysign(0, -1)), false},
		{Number(math.NaN()), false},
		{Number(-3), true},
		{String(""), false},
		{String("0"), true},
		{String("false"), true},
		{Object(NewObject("Thing", nil)), true},
	}
	for _, c := range cases {
		if got := c.v.ToBoolean(); got != c.want {
			t.Errorf("Expected ToBoolean(%v) = %v, got %v", c.v, c.want, got)
		}
	}
}

func TestValueToNumber(t *testing.T) {
	cases := []struct {
		v    Value
		want float64
	}{
		{Null, 0},
		{True, 1},
		{False, 0},
		{Number(2.5), 2.5},
		{String(""), 0},
		{String("  12 "), 12},
		{String("1e3"), 1000},
		{String("0x1F"), 31},
		{String("-Infinity"), math.Inf(-1)},
		{String("Infinity"), math.Inf(1)},
	}
	for _, c := range cases {
		if got := c.v.ToNumber(); got != c.want {
			t.Errorf("Expected ToNumber(%v) = %v, got %v", c.v, c.want, got)
		}
	}

	for _, v := range []Value{Undefined, String("abc"), String("NaN"), String("inf"), String("1_000"), String("0xZZ"), Object(NewObject("Thing", nil))} {
		if got := v.ToNumber(); !math.IsNaN(got) {
			t.Errorf("Expected ToNumber(%v) to be NaN, got %v", v, got)
		}
	}
}

func TestValueToString(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Undefined, "undefined"},
		{Null, "null"},
		{True, "true"},
		{False, "false"},
		{Number(100), "100"},
		{Number(1.5), "1.5"},
		{Number(-7), "-7"},
		{Number(math.Copysign(0, -1)), "0"},
		{Number(math.NaN()), "NaN"},
		{Number(math.Inf(1)), "Infinity"},
		{Number(math.Inf(-1)), "-Infinity"},
		{Number(1e21), "1e+21"},
		{String("text"), "text"},
		{Object(NewObject("HTMLDocument", nil)), "[object HTMLDocument]"},
	}
	for _, c := range cases {
		if got := c.v.ToString(); got != c.want {
			t.Errorf("Expected ToString = %q, got %q", c.want, got)
		}
	}

	if got := String("a").String(); got != `"a"` {
		t.Errorf("Expected String() to quote strings, got %s", got)
	}
}

func TestValueTypeOf(t *testing.T) {
	fn := NewFunctionObject(NewNative("f", 0, func(c *Call) (Value, error) { return Undefined, nil }, nil), nil)
	cases := []struct {
		v    Value
		want string
	}{
		{Undefined, "undefined"},
		{Null, "object"},
		{True, "boolean"},
		{Number(1), "number"},
		{Number(math.NaN()), "number"},
		{String(""), "string"},
		{Object(NewObject("Thing", nil)), "object"},
		{Object(fn), "function"},
	}
	for _, c := range cases {
		if got := c.v.TypeOf(); got != c.want {
			t.Errorf("Expected typeof %v = %s, got %s", c.v, c.want, got)
		}
	}
	if !Object(fn).IsCallable() || Number(1).IsCallable() {
		t.Error("Expected only function objects to be callable")
	}
}

func TestStrictEquals(t *testing.T) {
	a := NewObject("Thing", nil)
	b := NewObject("Thing", nil)
	nan := Number(math.NaN())
	negZero := Number(math.Copysign(0, -1))

	if StrictEquals(nan, nan) {
		t.Error("Expected NaN !== NaN")
	}
	if !StrictEquals(negZero, Number(0)) {
		t.Error("Expected -0 === 0")
	}
	if !StrictEquals(Null, Null) || !StrictEquals(Undefined, Undefined) {
		t.Error("Expected null and undefined to equal themselves")
	}
	if StrictEquals(Null, Undefined) {
		t.Error("Expected null !== undefined")
	}
	if StrictEquals(String("1"), Number(1)) {
		t.Error("Expected no conversion in ===")
	}
	if !StrictEquals(String("x"), String("x")) {
		t.Error("Expected equal strings to be ===")
	}
	if !StrictEquals(Object(a), Object(a)) || StrictEquals(Object(a), Object(b)) {
		t.Error("Expected objects to compare by identity")
	}
	if StrictEquals(True, Number(1)) {
		t.Error("Expected true !== 1")
	}
}

func TestLooseEquals(t *testing.T) {
	obj := NewObject("Thing", nil)
	cases := []struct {
		a, b Value
		want bool
	}{
		{Null, Undefined, true},
		{Undefined, Null, true},
		{Null, Number(0), false},
		{Undefined, False, false},
		{String("1"), Number(1), true},
		{Number(1), String("1.0"), true},
		{True, Number(1), true},
		{False, String(""), true},
		{String("abc"), Number(0), false},
		{Number(math.NaN()), Number(math.NaN()), false},
		{Number(math.Copysign(0, -1)), Number(0), true},
		{Object(obj), String("[object Thing]"), true},
		{String("[object Thing]"), Object(obj), true},
		{Object(obj), Object(NewObject("Thing", nil)), false},
		{Object(obj), Null, false},
	}
	for _, c := range cases {
		if got := LooseEquals(c.a, c.b); got != c.want {
			t.Errorf("Expected %v == %v to be %v, got %v", c.a, c.b, c.want, got)
		}
	}
}
