package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNop  Opcode = 0x00 // no operation
	OpPop  Opcode = 0x01 // discard top of stack
	OpDup  Opcode = 0x02 // duplicate top of stack
	OpDup2 Opcode = 0x03 // duplicate the top two entries
)

// Push Constants
const (
	OpPushUndefined Opcode = 0x10 // push undefined
	OpPushNull      Opcode = 0x11 // push null
	OpPushTrue      Opcode = 0x12 // push true
	OpPushFalse     Opcode = 0x13 // push false
	OpPushThis      Opcode = 0x14 // push the receiver
	OpPushConst     Opcode = 0x15 // push constant (16-bit index)
)

// Variable Operations
const (
	OpLoadLocal     Opcode = 0x20 // push frame slot (8-bit scope depth, 16-bit index)
	OpStoreLocal    Opcode = 0x21 // store top into frame slot, keep it (8-bit depth, 16-bit index)
	OpLoadGlobal    Opcode = 0x22 // push global (16-bit name constant)
	OpStoreGlobal   Opcode = 0x23 // store top into global, keep it (16-bit name constant)
	OpTypeofGlobal  Opcode = 0x24 // push typeof global without a reference error (16-bit name)
	OpDeclareGlobal Opcode = 0x25 // define global as undefined if absent (16-bit name)
)

// Property Access
const (
	OpGetProp Opcode = 0x30 // obj -> obj.name (16-bit name constant)
	OpSetProp Opcode = 0x31 // obj value -> value (16-bit name constant)
	OpGetElem Opcode = 0x32 // obj key -> obj[key]
	OpSetElem Opcode = 0x33 // obj key value -> value
)

// Calls
const (
	OpCall       Opcode = 0x40 // fn args... -> result (8-bit argc)
	OpCallMethod Opcode = 0x41 // obj args... -> obj.name(args) (16-bit name, 8-bit argc)
	OpCallElem   Opcode = 0x42 // obj key args... -> obj[key](args) (8-bit argc)
	OpNew        Opcode = 0x43 // ctor args... -> object (8-bit argc)
)

// Object Creation
const (
	OpClosure    Opcode = 0x50 // push function object for subunit (16-bit ordinal)
	OpNewObject  Opcode = 0x51 // push empty object
	OpInitProp   Opcode = 0x52 // obj value -> obj (16-bit name constant)
	OpInitGetter Opcode = 0x53 // obj fn -> obj (16-bit name constant)
	OpInitSetter Opcode = 0x54 // obj fn -> obj (16-bit name constant)
)

// Operators
const (
	OpAdd      Opcode = 0x60 // +
	OpSub      Opcode = 0x61 // -
	OpMul      Opcode = 0x62 // *
	OpDiv      Opcode = 0x63 // /
	OpMod      Opcode = 0x64 // %
	OpNeg      Opcode = 0x65 // unary -
	OpToNumber Opcode = 0x66 // unary +
	OpNot      Opcode = 0x67 // !
	OpTypeof   Opcode = 0x68 // typeof
)

// Comparison
const (
	OpEq       Opcode = 0x70 // ==
	OpNe       Opcode = 0x71 // !=
	OpStrictEq Opcode = 0x72 // ===
	OpStrictNe Opcode = 0x73 // !==
	OpLt       Opcode = 0x74 // <
	OpGt       Opcode = 0x75 // >
	OpLe       Opcode = 0x76 // <=
	OpGe       Opcode = 0x77 // >=
)

// Control Flow. Jump operands are absolute offsets into the subunit.
const (
	OpJump            Opcode = 0x80 // unconditional jump
	OpJumpIfFalse     Opcode = 0x81 // pop, jump if falsy
	OpJumpIfTrue      Opcode = 0x82 // pop, jump if truthy
	OpJumpIfFalseKeep Opcode = 0x83 // jump keeping top if falsy, else pop (&&)
	OpJumpIfTrueKeep  Opcode = 0x84 // jump keeping top if truthy, else pop (||)
)

// Returns
const (
	OpReturn          Opcode = 0x90 // return top of stack
	OpReturnUndefined Opcode = 0x91 // return undefined
	OpThrow           Opcode = 0x92 // throw top of stack
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// VariableEffect marks opcodes whose stack effect depends on an operand.
const VariableEffect = -128

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	Operands    []int  // operand widths in bytes
	StackEffect int    // net effect on stack
}

// OperandBytes returns the total operand width.
func (i OpcodeInfo) OperandBytes() int {
	n := 0
	for _, w := range i.Operands {
		n += w
	}
	return n
}

var (
	noOperands  = []int(nil)
	oneByte     = []int{1}
	oneWord     = []int{2}
	byteAndWord = []int{1, 2}
	wordAndByte = []int{2, 1}
)

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", noOperands, 0},
	OpPop:  {"POP", noOperands, -1},
	OpDup:  {"DUP", noOperands, 1},
	OpDup2: {"DUP2", noOperands, 2},

	OpPushUndefined: {"PUSH_UNDEFINED", noOperands, 1},
	OpPushNull:      {"PUSH_NULL", noOperands, 1},
	OpPushTrue:      {"PUSH_TRUE", noOperands, 1},
	OpPushFalse:     {"PUSH_FALSE", noOperands, 1},
	OpPushThis:      {"PUSH_THIS", noOperands, 1},
	OpPushConst:     {"PUSH_CONST", oneWord, 1},

	OpLoadLocal:     {"LOAD_LOCAL", byteAndWord, 1},
	OpStoreLocal:    {"STORE_LOCAL", byteAndWord, 0},
	OpLoadGlobal:    {"LOAD_GLOBAL", oneWord, 1},
	OpStoreGlobal:   {"STORE_GLOBAL", oneWord, 0},
	OpTypeofGlobal:  {"TYPEOF_GLOBAL", oneWord, 1},
	OpDeclareGlobal: {"DECLARE_GLOBAL", oneWord, 0},

	OpGetProp: {"GET_PROP", oneWord, 0},
	OpSetProp: {"SET_PROP", oneWord, -1},
	OpGetElem: {"GET_ELEM", noOperands, -1},
	OpSetElem: {"SET_ELEM", noOperands, -2},

	OpCall:       {"CALL", oneByte, VariableEffect},
	OpCallMethod: {"CALL_METHOD", wordAndByte, VariableEffect},
	OpCallElem:   {"CALL_ELEM", oneByte, VariableEffect},
	OpNew:        {"NEW", oneByte, VariableEffect},

	OpClosure:    {"CLOSURE", oneWord, 1},
	OpNewObject:  {"NEW_OBJECT", noOperands, 1},
	OpInitProp:   {"INIT_PROP", oneWord, -1},
	OpInitGetter: {"INIT_GETTER", oneWord, -1},
	OpInitSetter: {"INIT_SETTER", oneWord, -1},

	OpAdd:      {"ADD", noOperands, -1},
	OpSub:      {"SUB", noOperands, -1},
	OpMul:      {"MUL", noOperands, -1},
	OpDiv:      {"DIV", noOperands, -1},
	OpMod:      {"MOD", noOperands, -1},
	OpNeg:      {"NEG", noOperands, 0},
	OpToNumber: {"TO_NUMBER", noOperands, 0},
	OpNot:      {"NOT", noOperands, 0},
	OpTypeof:   {"TYPEOF", noOperands, 0},

	OpEq:       {"EQ", noOperands, -1},
	OpNe:       {"NE", noOperands, -1},
	OpStrictEq: {"STRICT_EQ", noOperands, -1},
	OpStrictNe: {"STRICT_NE", noOperands, -1},
	OpLt:       {"LT", noOperands, -1},
	OpGt:       {"GT", noOperands, -1},
	OpLe:       {"LE", noOperands, -1},
	OpGe:       {"GE", noOperands, -1},

	OpJump:            {"JUMP", oneWord, 0},
	OpJumpIfFalse:     {"JUMP_IF_FALSE", oneWord, -1},
	OpJumpIfTrue:      {"JUMP_IF_TRUE", oneWord, -1},
	OpJumpIfFalseKeep: {"JUMP_IF_FALSE_KEEP", oneWord, -1},
	OpJumpIfTrueKeep:  {"JUMP_IF_TRUE_KEEP", oneWord, -1},

	OpReturn:          {"RETURN", noOperands, -1},
	OpReturnUndefined: {"RETURN_UNDEFINED", noOperands, 0},
	OpThrow:           {"THROW", noOperands, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Known reports whether op is a defined opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsJump reports whether op transfers control to its operand.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfTrueKeep
}

// IsTerminator reports whether control never falls through op.
func (op Opcode) IsTerminator() bool {
	return op == OpJump || op == OpReturn || op == OpReturnUndefined || op == OpThrow
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// ErrTruncated reports an instruction whose operands run past the code.
var ErrTruncated = errors.New("vm: truncated instruction")

// Instruction is one decoded instruction. A and B hold the operands in
// order; Next is the offset of the following instruction.
type Instruction struct {
	Op     Opcode
	Offset int
	A, B   int
	Next   int
}

// StackEffect returns the net stack change of the instruction.
func (ins Instruction) StackEffect() int {
	switch ins.Op {
	case OpCall, OpNew:
		return -ins.A
	case OpCallMethod:
		return -ins.B
	case OpCallElem:
		return -ins.A - 1
	}
	return ins.Op.Info().StackEffect
}

// Pops returns how many stack entries the instruction consumes or reads.
func (ins Instruction) Pops() int {
	switch ins.Op {
	case OpCall, OpNew:
		return ins.A + 1
	case OpCallMethod:
		return ins.B + 1
	case OpCallElem:
		return ins.A + 2
	}
	return pops[ins.Op]
}

var pops = map[Opcode]int{
	OpPop: 1, OpDup: 1, OpDup2: 2,
	OpStoreLocal: 1, OpStoreGlobal: 1,
	OpGetProp: 1, OpSetProp: 2, OpGetElem: 2, OpSetElem: 3,
	OpInitProp: 2, OpInitGetter: 2, OpInitSetter: 2,
	OpAdd: 2, OpSub: 2, OpMul: 2, OpDiv: 2, OpMod: 2,
	OpNeg: 1, OpToNumber: 1, OpNot: 1, OpTypeof: 1,
	OpEq: 2, OpNe: 2, OpStrictEq: 2, OpStrictNe: 2,
	OpLt: 2, OpGt: 2, OpLe: 2, OpGe: 2,
	OpJumpIfFalse: 1, OpJumpIfTrue: 1, OpJumpIfFalseKeep: 1, OpJumpIfTrueKeep: 1,
	OpReturn: 1, OpThrow: 1,
}

// Decode reads the instruction at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("%w at %d", ErrTruncated, pc)
	}
	op := Opcode(code[pc])
	info, ok := opcodeTable[op]
	if !ok {
		return Instruction{}, fmt.Errorf("vm: unknown opcode 0x%02X at %d", byte(op), pc)
	}
	ins := Instruction{Op: op, Offset: pc}
	pos := pc + 1
	for i, w := range info.Operands {
		if pos+w > len(code) {
			return Instruction{}, fmt.Errorf("%w: %s at %d", ErrTruncated, info.Name, pc)
		}
		var v int
		if w == 1 {
			v = int(code[pos])
		} else {
			v = int(binary.LittleEndian.Uint16(code[pos:]))
		}
		if i == 0 {
			ins.A = v
		} else {
			ins.B = v
		}
		pos += w
	}
	ins.Next = pos
	return ins, nil
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitLocal appends LOAD_LOCAL or STORE_LOCAL.
func (b *BytecodeBuilder) EmitLocal(op Opcode, depth uint8, index uint16) {
	b.bytes = append(b.bytes, byte(op), depth, byte(index), byte(index>>8))
}

// EmitCallMethod appends CALL_METHOD.
func (b *BytecodeBuilder) EmitCallMethod(name uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(OpCallMethod), byte(name), byte(name>>8), argc)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target, possibly not yet placed.
type Label struct {
	resolved bool
	position int
	refs     []int // operand positions waiting for the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint16(b.bytes[ref:], uint16(label.position))
	}
	label.refs = nil
}

// EmitJump emits a jump instruction with a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		b.bytes = append(b.bytes, byte(label.position), byte(label.position>>8))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns a full disassembly of bytecode.
func Disassemble(code []byte) string {
	return DisassembleWith(code, nil)
}

// DisassembleWith renders code, resolving constant operands against consts.
func DisassembleWith(code []byte, consts []Constant) string {
	var lines []string
	for pc := 0; pc < len(code); {
		ins, err := Decode(code, pc)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  ?? %v", pc, err))
			break
		}
		lines = append(lines, formatInstruction(ins, consts))
		pc = ins.Next
	}
	return strings.Join(lines, "\n")
}

func formatInstruction(ins Instruction, consts []Constant) string {
	name := ins.Op.Name()
	constant := func(i int) string {
		if i < len(consts) {
			return consts[i].String()
		}
		return fmt.Sprintf("#%d", i)
	}

	switch ins.Op {
	case OpPushConst, OpLoadGlobal, OpStoreGlobal, OpTypeofGlobal, OpDeclareGlobal,
		OpGetProp, OpSetProp, OpInitProp, OpInitGetter, OpInitSetter:
		return fmt.Sprintf("%04d  %s %s", ins.Offset, name, constant(ins.A))
	case OpLoadLocal, OpStoreLocal:
		return fmt.Sprintf("%04d  %s depth=%d index=%d", ins.Offset, name, ins.A, ins.B)
	case OpCallMethod:
		return fmt.Sprintf("%04d  %s %s argc=%d", ins.Offset, name, constant(ins.A), ins.B)
	case OpCall, OpCallElem, OpNew:
		return fmt.Sprintf("%04d  %s argc=%d", ins.Offset, name, ins.A)
	case OpClosure:
		return fmt.Sprintf("%04d  %s #%d", ins.Offset, name, ins.A)
	}
	if ins.Op.IsJump() {
		return fmt.Sprintf("%04d  %s -> %04d", ins.Offset, name, ins.A)
	}
	return fmt.Sprintf("%04d  %s", ins.Offset, name)
}
