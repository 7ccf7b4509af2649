package vm

import (
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindUndefined ValueKind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindObject
)

var kindNames = [...]string{"undefined", "null", "boolean", "number", "string", "object"}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is a script value. The zero Value is undefined.
type Value struct {
	kind ValueKind
	num  float64
	str  string
	obj  *HostObject
}

// Pre-defined values
var (
	Undefined = Value{}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBool, num: 1}
	False     = Value{kind: KindBool}
)

// Bool returns the boolean value b.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Number returns the number value f.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// String returns the string value s.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Object wraps o. A nil object becomes null.
func Object(o *HostObject) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (v Value) Kind() ValueKind   { return v.kind }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsNullish() bool   { return v.kind <= KindNull }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// AsObject returns the wrapped object, or nil for primitives.
func (v Value) AsObject() *HostObject {
	return v.obj
}

// IsCallable reports whether v is a function object.
func (v Value) IsCallable() bool {
	return v.obj != nil && v.obj.IsCallable()
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// ToBoolean converts v using the usual truthiness rules.
func (v Value) ToBoolean() bool {
	switch v.kind {
	case KindBool:
		return v.num != 0
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.str != ""
	case KindObject:
		return true
	}
	return false
}

// ToNumber converts v to a number. Objects convert through their string form.
func (v Value) ToNumber() float64 {
	switch v.kind {
	case KindNull:
		return 0
	case KindBool, KindNumber:
		return v.num
	case KindString:
		return stringToNumber(v.str)
	case KindObject:
		return stringToNumber(v.ToString())
	}
	return math.NaN()
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if n, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
			return float64(n)
		}
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || strings.ContainsAny(s, "nN_") {
		return math.NaN()
	}
	return f
}

// ToString converts v to its string form.
func (v Value) ToString() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.num)
	case KindString:
		return v.str
	}
	if v.obj.IsCallable() {
		return "function " + v.obj.Callable().Name() + "() { [native code] }"
	}
	return "[object " + v.obj.Class() + "]"
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// TypeOf returns the result of the typeof operator.
func (v Value) TypeOf() string {
	switch v.kind {
	case KindNull:
		return "object"
	case KindObject:
		if v.obj.IsCallable() {
			return "function"
		}
		return "object"
	}
	return v.kind.String()
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.kind == KindString {
		return strconv.Quote(v.str)
	}
	return v.ToString()
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// StrictEquals implements ===.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBool, KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	}
	return a.obj == b.obj
}

// LooseEquals implements == for the supported value kinds.
func LooseEquals(a, b Value) bool {
	if a.kind == b.kind {
		return StrictEquals(a, b)
	}
	if a.IsNullish() || b.IsNullish() {
		return a.IsNullish() && b.IsNullish()
	}
	if a.kind == KindObject {
		return LooseEquals(String(a.ToString()), b)
	}
	if b.kind == KindObject {
		return LooseEquals(a, String(b.ToString()))
	}
	return a.ToNumber() == b.ToNumber()
}
