package vm

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hostrt.vm")

// DefaultMaxDepth bounds nested script calls.
const DefaultMaxDepth = 256

// Scope is one level of the lexical scope chain: the slots of one function
// activation plus its enclosing scope.
type Scope struct {
	slots  []Value
	parent *Scope
}

// NewScope creates a scope with n undefined slots.
func NewScope(n int, parent *Scope) *Scope {
	return &Scope{slots: make([]Value, n), parent: parent}
}

func (s *Scope) at(depth int) *Scope {
	for ; depth > 0; depth-- {
		s = s.parent
	}
	return s
}

type siteKey struct {
	unit *CompilationUnit
	fn   int
	pc   int
}

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes compilation units against one global object. It is
// not safe for concurrent use; each simulated window owns one.
type Interpreter struct {
	global   *HostObject
	caches   map[siteKey]*PropertyCache
	retained map[*HostObject]struct{}
	depth    int

	MaxDepth int
}

// NewInterpreter creates an interpreter whose globals live on global.
func NewInterpreter(global *HostObject) *Interpreter {
	return &Interpreter{
		global:   global,
		caches:   make(map[siteKey]*PropertyCache),
		retained: make(map[*HostObject]struct{}),
		MaxDepth: DefaultMaxDepth,
	}
}

// Global returns the global object.
func (it *Interpreter) Global() *HostObject {
	return it.global
}

// Run executes the entry subunit of u with the global object as receiver.
func (it *Interpreter) Run(u *CompilationUnit) (Value, error) {
	return it.execute(u, u.EntryID, nil, Object(it.global), nil)
}

// Call invokes fn with the given receiver.
func (it *Interpreter) Call(fn Value, this Value, args ...Value) (Value, error) {
	return Invoke(it, fn, this, args...)
}

// CacheStats aggregates the property caches of every access site run so far.
func (it *Interpreter) CacheStats() CacheStats {
	var s CacheStats
	for _, pc := range it.caches {
		s.Sites++
		switch pc.State {
		case CacheMonomorphic:
			s.Monomorphic++
		case CachePolymorphic:
			s.Polymorphic++
		case CacheMegamorphic:
			s.Megamorphic++
		}
		s.Hits += pc.Hits
		s.Misses += pc.Misses
	}
	return s
}

// retain keeps a script-created prototype alive for the interpreter's
// lifetime once it has instances, since instances only hold it weakly.
func (it *Interpreter) retain(proto *HostObject) {
	if proto != nil {
		it.retained[proto] = struct{}{}
	}
}

func (it *Interpreter) cache(u *CompilationUnit, fn, pc int) *PropertyCache {
	key := siteKey{unit: u, fn: fn, pc: pc}
	c := it.caches[key]
	if c == nil {
		c = &PropertyCache{}
		it.caches[key] = c
	}
	return c
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

type frame struct {
	it    *Interpreter
	unit  *CompilationUnit
	fn    int
	code  []byte
	env   *Scope
	this  Value
	stack []Value
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) top() Value { return f.stack[len(f.stack)-1] }

func (f *frame) popN(n int) []Value {
	args := make([]Value, n)
	copy(args, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return args
}

func (f *frame) name(i int) string {
	return f.unit.Constants[i].Str
}

func (it *Interpreter) execute(u *CompilationUnit, fn int, scope *Scope, this Value, args []Value) (Value, error) {
	if fn < 0 || fn >= len(u.Units) {
		return Undefined, fmt.Errorf("vm: compilation %d has no subunit %d", u.CompilationID, fn)
	}
	if it.depth >= it.MaxDepth {
		return Undefined, RangeError("Maximum call stack size exceeded")
	}
	it.depth++
	defer func() { it.depth-- }()

	init := u.Initializers[fn]
	env := NewScope(init.NumLocals, scope)
	copy(env.slots, args[:min(len(args), init.Arity, init.NumLocals)])
	if this.IsNullish() {
		this = Object(it.global)
	}

	f := &frame{
		it:    it,
		unit:  u,
		fn:    fn,
		code:  u.Units[fn].Code,
		env:   env,
		this:  this,
		stack: make([]Value, 0, 16),
	}
	v, err := f.run()
	var se *ScriptError
	if errors.As(err, &se) && se.Location == "" {
		se.Location = fmt.Sprintf("%s:%s", u.SourceID, u.Units[fn].Name)
	}
	return v, err
}

func (f *frame) run() (Value, error) {
	it := f.it
	for pc := 0; pc < len(f.code); {
		ins, err := Decode(f.code, pc)
		if err != nil {
			return Undefined, err
		}
		pc = ins.Next

		switch ins.Op {
		case OpNop:
		case OpPop:
			f.pop()
		case OpDup:
			f.push(f.top())
		case OpDup2:
			n := len(f.stack)
			f.push(f.stack[n-2])
			f.push(f.stack[n-1])

		case OpPushUndefined:
			f.push(Undefined)
		case OpPushNull:
			f.push(Null)
		case OpPushTrue:
			f.push(True)
		case OpPushFalse:
			f.push(False)
		case OpPushThis:
			f.push(f.this)
		case OpPushConst:
			f.push(f.unit.Constants[ins.A].Value())

		case OpLoadLocal:
			f.push(f.env.at(ins.A).slots[ins.B])
		case OpStoreLocal:
			f.env.at(ins.A).slots[ins.B] = f.top()
		case OpLoadGlobal:
			name := f.name(ins.A)
			v, ok, err := it.getMember(it.cache(f.unit, f.fn, ins.Offset), Object(it.global), name)
			if err != nil {
				return Undefined, err
			}
			if !ok {
				return Undefined, ReferenceError("%s is not defined", name)
			}
			f.push(v)
		case OpStoreGlobal:
			if _, err := it.global.SetWith(it, f.name(ins.A), f.top()); err != nil {
				return Undefined, err
			}
		case OpTypeofGlobal:
			v, _, err := it.global.GetWith(it, f.name(ins.A))
			if err != nil {
				return Undefined, err
			}
			f.push(String(v.TypeOf()))
		case OpDeclareGlobal:
			name := f.name(ins.A)
			if _, _, found := it.global.Lookup(name); !found {
				if err := it.global.DefineOwnProperty(name, AttrWritable|AttrEnumerable, Undefined); err != nil {
					return Undefined, err
				}
			}

		case OpGetProp:
			v, _, err := it.getMember(it.cache(f.unit, f.fn, ins.Offset), f.pop(), f.name(ins.A))
			if err != nil {
				return Undefined, err
			}
			f.push(v)
		case OpSetProp:
			v := f.pop()
			if err := it.setMember(f.pop(), f.name(ins.A), v); err != nil {
				return Undefined, err
			}
			f.push(v)
		case OpGetElem:
			key := f.pop()
			v, _, err := it.getMember(it.cache(f.unit, f.fn, ins.Offset), f.pop(), key.ToString())
			if err != nil {
				return Undefined, err
			}
			f.push(v)
		case OpSetElem:
			v := f.pop()
			key := f.pop()
			if err := it.setMember(f.pop(), key.ToString(), v); err != nil {
				return Undefined, err
			}
			f.push(v)

		case OpCall:
			args := f.popN(ins.A)
			result, err := Invoke(it, f.pop(), Undefined, args...)
			if err != nil {
				return Undefined, err
			}
			f.push(result)
		case OpCallMethod, OpCallElem:
			var args []Value
			var name string
			if ins.Op == OpCallMethod {
				args = f.popN(ins.B)
				name = f.name(ins.A)
			} else {
				args = f.popN(ins.A)
				name = f.pop().ToString()
			}
			recv := f.pop()
			fn, _, err := it.getMember(it.cache(f.unit, f.fn, ins.Offset), recv, name)
			if err != nil {
				return Undefined, err
			}
			if !fn.IsCallable() {
				return Undefined, TypeError("%s.%s is not a function", describe(recv), name)
			}
			result, err := fn.obj.call.Invoke(it, recv, args)
			if err != nil {
				return Undefined, err
			}
			f.push(result)
		case OpNew:
			args := f.popN(ins.A)
			obj, err := Construct(it, f.pop(), args...)
			if err != nil {
				return Undefined, err
			}
			f.push(Object(obj))

		case OpClosure:
			c := NewCompiledCallable(f.unit, ins.A, f.env)
			f.push(Object(NewFunctionObject(c, NewObject("Object", nil))))
		case OpNewObject:
			f.push(Object(NewObject("Object", nil)))
		case OpInitProp:
			v := f.pop()
			if err := f.top().obj.DefineOwnProperty(f.name(ins.A), AttrDefault, v); err != nil {
				return Undefined, err
			}
		case OpInitGetter, OpInitSetter:
			fn := f.pop().obj.call
			obj := f.top().obj
			name := f.name(ins.A)
			var getter, setter Callable
			if d, ok := obj.OwnProperty(name); ok && d.Attrs.Has(AttrAccessor) {
				getter, setter = d.Getter, d.Setter
			}
			if ins.Op == OpInitGetter {
				getter = fn
			} else {
				setter = fn
			}
			if err := obj.DefineAccessor(name, getter, setter, AttrEnumerable|AttrConfigurable); err != nil {
				return Undefined, err
			}

		case OpAdd:
			b, a := f.pop(), f.pop()
			f.push(add(a, b))
		case OpSub, OpMul, OpDiv, OpMod:
			b, a := f.pop().ToNumber(), f.pop().ToNumber()
			f.push(Number(arith(ins.Op, a, b)))
		case OpNeg:
			f.push(Number(-f.pop().ToNumber()))
		case OpToNumber:
			f.push(Number(f.pop().ToNumber()))
		case OpNot:
			f.push(Bool(!f.pop().ToBoolean()))
		case OpTypeof:
			f.push(String(f.pop().TypeOf()))

		case OpEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(LooseEquals(a, b)))
		case OpNe:
			b, a := f.pop(), f.pop()
			f.push(Bool(!LooseEquals(a, b)))
		case OpStrictEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(StrictEquals(a, b)))
		case OpStrictNe:
			b, a := f.pop(), f.pop()
			f.push(Bool(!StrictEquals(a, b)))
		case OpLt, OpGt, OpLe, OpGe:
			b, a := f.pop(), f.pop()
			f.push(Bool(compare(ins.Op, a, b)))

		case OpJump:
			pc = ins.A
		case OpJumpIfFalse:
			if !f.pop().ToBoolean() {
				pc = ins.A
			}
		case OpJumpIfTrue:
			if f.pop().ToBoolean() {
				pc = ins.A
			}
		case OpJumpIfFalseKeep:
			if !f.top().ToBoolean() {
				pc = ins.A
			} else {
				f.pop()
			}
		case OpJumpIfTrueKeep:
			if f.top().ToBoolean() {
				pc = ins.A
			} else {
				f.pop()
			}

		case OpReturn:
			return f.pop(), nil
		case OpReturnUndefined:
			return Undefined, nil
		case OpThrow:
			return Undefined, &ScriptError{Value: f.pop()}

		default:
			return Undefined, fmt.Errorf("vm: unhandled opcode %s at %d", ins.Op, ins.Offset)
		}
	}
	return Undefined, nil
}

// getMember reads name from v through the site cache. Nullish receivers
// raise a TypeError; other primitives only expose a string's length.
func (it *Interpreter) getMember(pc *PropertyCache, v Value, name string) (Value, bool, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return Undefined, false, TypeError("Cannot read property '%s' of %s", name, v.ToString())
	case KindString:
		if name == "length" {
			return Number(float64(len(utf16.Encode([]rune(v.str))))), true, nil
		}
		return Undefined, false, nil
	case KindObject:
	default:
		return Undefined, false, nil
	}

	obj := v.obj
	if obj.caps&CapGet == 0 {
		return Undefined, false, nil
	}
	holder, p, ok := pc.Lookup(obj)
	if !ok {
		holder, p, ok = obj.resolve(name)
		if !ok {
			return Undefined, false, nil
		}
		pc.Update(obj, holder, name, p)
	}
	result, err := obj.read(it, holder.slots[p.Slot], p.Attrs)
	return result, true, err
}

// setMember assigns through SetWith. Refused assignments and writes to
// primitives are silently ignored.
func (it *Interpreter) setMember(v Value, name string, value Value) error {
	switch v.kind {
	case KindUndefined, KindNull:
		return TypeError("Cannot set property '%s' of %s", name, v.ToString())
	case KindObject:
		_, err := v.obj.SetWith(it, name, value)
		return err
	}
	return nil
}

func describe(v Value) string {
	if obj := v.AsObject(); obj != nil {
		return obj.Class()
	}
	return v.ToString()
}

func add(a, b Value) Value {
	if a.kind == KindObject {
		a = String(a.ToString())
	}
	if b.kind == KindObject {
		b = String(b.ToString())
	}
	if a.kind == KindString || b.kind == KindString {
		return String(a.ToString() + b.ToString())
	}
	return Number(a.ToNumber() + b.ToNumber())
}

func arith(op Opcode, a, b float64) float64 {
	switch op {
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	}
	return math.Mod(a, b)
}

func compare(op Opcode, a, b Value) bool {
	if a.kind == KindString && b.kind == KindString {
		switch op {
		case OpLt:
			return a.str < b.str
		case OpGt:
			return a.str > b.str
		case OpLe:
			return a.str <= b.str
		}
		return a.str >= b.str
	}
	x, y := a.ToNumber(), b.ToNumber()
	switch op {
	case OpLt:
		return x < y
	case OpGt:
		return x > y
	case OpLe:
		return x <= y
	}
	return x >= y
}
