package compiler

import (
	"fmt"

	"github.com/chazu/hostrt/vm"
)

// ---------------------------------------------------------------------------
// Verifier: bytecode checks before installation
// ---------------------------------------------------------------------------

// VerifyError locates a verifier rejection.
type VerifyError struct {
	Unit   string
	Offset int
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify: %s at %d: %s", e.Unit, e.Offset, e.Reason)
}

// Verify checks every subunit of u: opcodes are known, operands are in
// range, jumps land on instruction boundaries, the stack depth is
// consistent and never negative, and control never runs off the end.
func Verify(u *vm.CompilationUnit) error {
	if len(u.Units) == 0 {
		return &VerifyError{Unit: u.SourceID, Reason: "no subunits"}
	}
	if u.EntryID < 0 || u.EntryID >= len(u.Units) {
		return &VerifyError{Unit: u.SourceID, Reason: fmt.Sprintf("entry %d out of range", u.EntryID)}
	}
	for ord := range u.Units {
		if _, ok := u.Initializers[ord]; !ok {
			return &VerifyError{Unit: u.Units[ord].Name, Reason: "missing function initializer"}
		}
	}
	for ord := range u.Units {
		v := &verifier{unit: u, ord: ord, code: u.Units[ord].Code}
		if err := v.run(); err != nil {
			return err
		}
	}
	return nil
}

type verifier struct {
	unit  *vm.CompilationUnit
	ord   int
	code  []byte
	insns map[int]vm.Instruction
}

func (v *verifier) errorf(pc int, format string, args ...interface{}) error {
	return &VerifyError{Unit: v.unit.Units[v.ord].Name, Offset: pc, Reason: fmt.Sprintf(format, args...)}
}

func (v *verifier) run() error {
	if len(v.code) == 0 {
		return v.errorf(0, "empty body")
	}
	v.insns = make(map[int]vm.Instruction)
	for pc := 0; pc < len(v.code); {
		ins, err := vm.Decode(v.code, pc)
		if err != nil {
			return v.errorf(pc, "%v", err)
		}
		v.insns[pc] = ins
		pc = ins.Next
	}
	for _, ins := range v.insns {
		if err := v.checkOperands(ins); err != nil {
			return err
		}
	}
	return v.checkStack()
}

func (v *verifier) checkOperands(ins vm.Instruction) error {
	consts := v.unit.Constants
	switch ins.Op {
	case vm.OpPushConst:
		if ins.A >= len(consts) {
			return v.errorf(ins.Offset, "constant %d out of range", ins.A)
		}
	case vm.OpLoadGlobal, vm.OpStoreGlobal, vm.OpTypeofGlobal, vm.OpDeclareGlobal,
		vm.OpGetProp, vm.OpSetProp, vm.OpInitProp, vm.OpInitGetter, vm.OpInitSetter,
		vm.OpCallMethod:
		if ins.A >= len(consts) || consts[ins.A].Kind != vm.ConstString {
			return v.errorf(ins.Offset, "%s needs a string constant, got index %d", ins.Op, ins.A)
		}
	case vm.OpLoadLocal, vm.OpStoreLocal:
		target := v.ord
		for d := 0; d < ins.A; d++ {
			target = v.unit.Initializers[target].Outer
			if target < 0 {
				return v.errorf(ins.Offset, "scope depth %d exceeds nesting", ins.A)
			}
		}
		init, ok := v.unit.Initializers[target]
		if !ok || ins.B >= init.NumLocals {
			return v.errorf(ins.Offset, "local %d out of range at depth %d", ins.B, ins.A)
		}
	case vm.OpClosure:
		if ins.A >= len(v.unit.Units) || ins.A == v.unit.EntryID {
			return v.errorf(ins.Offset, "closure over invalid subunit %d", ins.A)
		}
		if outer := v.unit.Initializers[ins.A].Outer; outer != v.ord {
			return v.errorf(ins.Offset, "closure over subunit %d enclosed by %d", ins.A, outer)
		}
	}
	if ins.Op.IsJump() {
		if _, ok := v.insns[ins.A]; !ok {
			return v.errorf(ins.Offset, "jump target %d is not an instruction boundary", ins.A)
		}
	}
	return nil
}

// checkStack propagates stack depths over every reachable path.
func (v *verifier) checkStack() error {
	depth := map[int]int{0: 0}
	work := []int{0}

	flow := func(from, to, d int) error {
		if to >= len(v.code) {
			return v.errorf(from, "control falls off the end")
		}
		if prev, ok := depth[to]; ok {
			if prev != d {
				return v.errorf(to, "inconsistent stack depth %d and %d", prev, d)
			}
			return nil
		}
		depth[to] = d
		work = append(work, to)
		return nil
	}

	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		ins := v.insns[pc]
		d := depth[pc]

		if d < ins.Pops() {
			return v.errorf(pc, "stack underflow in %s", ins.Op)
		}
		after := d + ins.StackEffect()

		if ins.Op.IsJump() {
			taken := after
			switch ins.Op {
			case vm.OpJump, vm.OpJumpIfFalseKeep, vm.OpJumpIfTrueKeep:
				taken = d
			}
			if err := flow(pc, ins.A, taken); err != nil {
				return err
			}
		}
		if !ins.Op.IsTerminator() {
			if err := flow(pc, ins.Next, after); err != nil {
				return err
			}
		}
	}
	return nil
}
