package compiler

import (
	"fmt"
	"math"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/token"

	"github.com/chazu/hostrt/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Lower the goja AST to per-function bytecode
// ---------------------------------------------------------------------------

// codegen lowers one program into a CompilationUnit. Subunit 0 is the
// top level; every function literal gets the next ordinal when first seen.
type codegen struct {
	file     *file.File
	sourceID string

	units    []vm.Subunit
	inits    map[int]vm.FunctionInitializer
	consts   []vm.Constant
	constMap map[vm.Constant]int // dedup constants
	errors   []*CompilationError

	fn *function // function being compiled
}

// function is the compilation context of one subunit.
type function struct {
	parent  *function
	ordinal int
	builder *vm.BytecodeBuilder
	locals  map[string]int // nil at top level, where names are globals
	params  []string
	loops   []*loop
}

type loop struct {
	breakLabel    *vm.Label
	continueLabel *vm.Label
}

func (f *function) declare(name string) int {
	if i, ok := f.locals[name]; ok {
		return i
	}
	i := len(f.locals)
	f.locals[name] = i
	return i
}

func newCodegen(prog *ast.Program, sourceID string) *codegen {
	return &codegen{
		file:     prog.File,
		sourceID: sourceID,
		inits:    make(map[int]vm.FunctionInitializer),
		constMap: make(map[vm.Constant]int),
	}
}

// errorf records a compilation error at node.
func (g *codegen) errorf(node ast.Node, format string, args ...interface{}) {
	e := &CompilationError{
		SourceID: g.sourceID,
		Message:  fmt.Sprintf(format, args...),
		State:    Parsing,
	}
	if node != nil && g.file != nil {
		pos := g.file.Position(int(node.Idx0()) - g.file.Base())
		e.Line, e.Column = pos.Line, pos.Column
	}
	g.errors = append(g.errors, e)
}

func nodeName(n ast.Node) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", n), "*ast.")
}

// lower produces the unit for prog. CompilationID is left for Install.
func (g *codegen) lower(prog *ast.Program) *vm.CompilationUnit {
	g.units = append(g.units, vm.Subunit{Name: vm.MainUnitName})
	g.fn = &function{ordinal: 0, builder: vm.NewBytecodeBuilder()}

	g.hoist(prog.Body)
	for i, stmt := range prog.Body {
		// The value of a trailing expression statement is the program's result.
		if es, ok := stmt.(*ast.ExpressionStatement); ok && i == len(prog.Body)-1 {
			g.compileExpr(es.Expression)
			g.fn.builder.Emit(vm.OpReturn)
			continue
		}
		g.compileStmt(stmt)
	}
	g.fn.builder.Emit(vm.OpReturnUndefined)

	g.units[0].Code = g.fn.builder.Bytes()
	g.inits[0] = vm.FunctionInitializer{Outer: -1}

	return &vm.CompilationUnit{
		SourceID:     g.sourceID,
		EntryID:      0,
		Units:        g.units,
		Initializers: g.inits,
		Constants:    g.consts,
	}
}

// ---------------------------------------------------------------------------
// Constants and variables
// ---------------------------------------------------------------------------

func (g *codegen) constant(node ast.Node, c vm.Constant) uint16 {
	if i, ok := g.constMap[c]; ok {
		return uint16(i)
	}
	i := len(g.consts)
	if i > math.MaxUint16 {
		g.errorf(node, "too many constants")
		return 0
	}
	g.consts = append(g.consts, c)
	g.constMap[c] = i
	return uint16(i)
}

func (g *codegen) name(node ast.Node, s string) uint16 {
	return g.constant(node, vm.Constant{Kind: vm.ConstString, Str: s})
}

func (g *codegen) number(node ast.Node, n float64) uint16 {
	return g.constant(node, vm.Constant{Kind: vm.ConstNumber, Num: n})
}

// resolve finds name in the enclosing functions. A false result means the
// name is a global.
func (g *codegen) resolve(name string) (depth, index int, ok bool) {
	for f := g.fn; f != nil && f.locals != nil; f = f.parent {
		if i, found := f.locals[name]; found {
			return depth, i, true
		}
		depth++
	}
	return 0, 0, false
}

func (g *codegen) emitLocal(node ast.Node, op vm.Opcode, depth, index int) {
	if depth > math.MaxUint8 || index > math.MaxUint16 {
		g.errorf(node, "variable out of addressable range")
		return
	}
	g.fn.builder.EmitLocal(op, uint8(depth), uint16(index))
}

func (g *codegen) load(node ast.Node, name string) {
	if depth, index, ok := g.resolve(name); ok {
		g.emitLocal(node, vm.OpLoadLocal, depth, index)
		return
	}
	if name == "undefined" {
		g.fn.builder.Emit(vm.OpPushUndefined)
		return
	}
	g.fn.builder.EmitUint16(vm.OpLoadGlobal, g.name(node, name))
}

// store assigns the top of stack to name, leaving it on the stack.
func (g *codegen) store(node ast.Node, name string) {
	if depth, index, ok := g.resolve(name); ok {
		g.emitLocal(node, vm.OpStoreLocal, depth, index)
		return
	}
	g.fn.builder.EmitUint16(vm.OpStoreGlobal, g.name(node, name))
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// hoist declares the variables and functions of a body before it runs.
func (g *codegen) hoist(body []ast.Statement) {
	d := collectDeclarations(body)
	b := g.fn.builder
	if g.fn.locals == nil {
		for _, name := range d.vars {
			b.EmitUint16(vm.OpDeclareGlobal, g.name(nil, name))
		}
	} else {
		for _, name := range d.vars {
			g.fn.declare(name)
		}
		for _, fd := range d.funcs {
			g.fn.declare(fd.Function.Name.Name.String())
		}
	}
	for _, fd := range d.funcs {
		ord := g.compileFunction(fd.Function)
		b.EmitUint16(vm.OpClosure, uint16(ord))
		g.store(fd.Function.Name, fd.Function.Name.Name.String())
		b.Emit(vm.OpPop)
	}
}

func (g *codegen) compileFunction(lit *ast.FunctionLiteral) int {
	name := ""
	if lit.Name != nil {
		name = lit.Name.Name.String()
	}
	if lit.Async || lit.Generator {
		g.errorf(lit, "async and generator functions are not supported")
	}

	ord := len(g.units)
	if ord > math.MaxUint16 {
		g.errorf(lit, "too many functions")
		return 0
	}
	label := name
	if label == "" {
		label = "anonymous"
	}
	g.units = append(g.units, vm.Subunit{Name: fmt.Sprintf("%s#%d", label, ord)})

	f := &function{
		parent:  g.fn,
		ordinal: ord,
		builder: vm.NewBytecodeBuilder(),
		locals:  make(map[string]int),
	}
	if pl := lit.ParameterList; pl != nil {
		if pl.Rest != nil {
			g.errorf(pl.Rest, "rest parameters are not supported")
		}
		for _, p := range pl.List {
			id, ok := p.Target.(*ast.Identifier)
			if !ok || p.Initializer != nil {
				g.errorf(p.Target, "only simple parameters are supported")
				continue
			}
			f.params = append(f.params, id.Name.String())
			f.declare(id.Name.String())
		}
	}

	g.fn = f
	g.hoist(lit.Body.List)
	for _, stmt := range lit.Body.List {
		g.compileStmt(stmt)
	}
	f.builder.Emit(vm.OpReturnUndefined)
	g.fn = f.parent

	g.units[ord].Code = f.builder.Bytes()
	g.inits[ord] = vm.FunctionInitializer{
		Name:      name,
		Params:    f.params,
		NumLocals: len(f.locals),
		Arity:     len(f.params),
		Outer:     f.parent.ordinal,
	}
	return ord
}

// ---------------------------------------------------------------------------
// Statement compilation
// ---------------------------------------------------------------------------

func (g *codegen) compileStmt(stmt ast.Statement) {
	b := g.fn.builder
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		g.compileExpr(s.Expression)
		b.Emit(vm.OpPop)
	case *ast.VariableStatement:
		g.compileBindings(s.List, false)
	case *ast.LexicalDeclaration:
		g.compileBindings(s.List, true)
	case *ast.FunctionDeclaration:
		// hoisted
	case *ast.EmptyStatement:
	case *ast.BlockStatement:
		for _, inner := range s.List {
			g.compileStmt(inner)
		}
	case *ast.ReturnStatement:
		if s.Argument == nil {
			b.Emit(vm.OpReturnUndefined)
			return
		}
		g.compileExpr(s.Argument)
		b.Emit(vm.OpReturn)
	case *ast.ThrowStatement:
		g.compileExpr(s.Argument)
		b.Emit(vm.OpThrow)
	case *ast.IfStatement:
		g.compileIf(s)
	case *ast.WhileStatement:
		g.compileWhile(s)
	case *ast.DoWhileStatement:
		g.compileDoWhile(s)
	case *ast.ForStatement:
		g.compileFor(s)
	case *ast.BranchStatement:
		g.compileBranch(s)
	default:
		g.errorf(stmt, "unsupported statement: %s", nodeName(stmt))
	}
}

// compileBindings lowers var, let and const declarations. Lexical bindings
// without an initializer are reset to undefined each time they execute.
func (g *codegen) compileBindings(list []*ast.Binding, lexical bool) {
	b := g.fn.builder
	for _, binding := range list {
		id, ok := binding.Target.(*ast.Identifier)
		if !ok {
			g.errorf(binding.Target, "destructuring is not supported")
			continue
		}
		switch {
		case binding.Initializer != nil:
			g.compileExpr(binding.Initializer)
		case lexical:
			b.Emit(vm.OpPushUndefined)
		default:
			continue
		}
		g.store(id, id.Name.String())
		b.Emit(vm.OpPop)
	}
}

func (g *codegen) compileIf(s *ast.IfStatement) {
	b := g.fn.builder
	elseLabel := b.NewLabel()
	g.compileExpr(s.Test)
	b.EmitJump(vm.OpJumpIfFalse, elseLabel)
	g.compileStmt(s.Consequent)
	if s.Alternate == nil {
		b.Mark(elseLabel)
		return
	}
	end := b.NewLabel()
	b.EmitJump(vm.OpJump, end)
	b.Mark(elseLabel)
	g.compileStmt(s.Alternate)
	b.Mark(end)
}

func (g *codegen) compileWhile(s *ast.WhileStatement) {
	b := g.fn.builder
	top, end := b.NewLabel(), b.NewLabel()
	b.Mark(top)
	g.compileExpr(s.Test)
	b.EmitJump(vm.OpJumpIfFalse, end)
	g.compileLoopBody(s.Body, end, top)
	b.EmitJump(vm.OpJump, top)
	b.Mark(end)
}

func (g *codegen) compileDoWhile(s *ast.DoWhileStatement) {
	b := g.fn.builder
	top, cont, end := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(top)
	g.compileLoopBody(s.Body, end, cont)
	b.Mark(cont)
	g.compileExpr(s.Test)
	b.EmitJump(vm.OpJumpIfTrue, top)
	b.Mark(end)
}

func (g *codegen) compileFor(s *ast.ForStatement) {
	b := g.fn.builder
	switch init := s.Initializer.(type) {
	case nil:
	case *ast.ForLoopInitializerExpression:
		g.compileExpr(init.Expression)
		b.Emit(vm.OpPop)
	case *ast.ForLoopInitializerVarDeclList:
		g.compileBindings(init.List, false)
	case *ast.ForLoopInitializerLexicalDecl:
		g.compileBindings(init.LexicalDeclaration.List, true)
	default:
		g.errorf(s, "unsupported for initializer: %s", nodeName(init))
	}

	top, cont, end := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(top)
	if s.Test != nil {
		g.compileExpr(s.Test)
		b.EmitJump(vm.OpJumpIfFalse, end)
	}
	g.compileLoopBody(s.Body, end, cont)
	b.Mark(cont)
	if s.Update != nil {
		g.compileExpr(s.Update)
		b.Emit(vm.OpPop)
	}
	b.EmitJump(vm.OpJump, top)
	b.Mark(end)
}

func (g *codegen) compileLoopBody(body ast.Statement, breakLabel, continueLabel *vm.Label) {
	g.fn.loops = append(g.fn.loops, &loop{breakLabel: breakLabel, continueLabel: continueLabel})
	g.compileStmt(body)
	g.fn.loops = g.fn.loops[:len(g.fn.loops)-1]
}

func (g *codegen) compileBranch(s *ast.BranchStatement) {
	if s.Label != nil {
		g.errorf(s, "labeled %s is not supported", s.Token)
		return
	}
	if len(g.fn.loops) == 0 {
		g.errorf(s, "%s outside of a loop", s.Token)
		return
	}
	l := g.fn.loops[len(g.fn.loops)-1]
	if s.Token == token.BREAK {
		g.fn.builder.EmitJump(vm.OpJump, l.breakLabel)
	} else {
		g.fn.builder.EmitJump(vm.OpJump, l.continueLabel)
	}
}

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

var binaryOps = map[token.Token]vm.Opcode{
	token.PLUS:             vm.OpAdd,
	token.MINUS:            vm.OpSub,
	token.MULTIPLY:         vm.OpMul,
	token.SLASH:            vm.OpDiv,
	token.REMAINDER:        vm.OpMod,
	token.EQUAL:            vm.OpEq,
	token.NOT_EQUAL:        vm.OpNe,
	token.STRICT_EQUAL:     vm.OpStrictEq,
	token.STRICT_NOT_EQUAL: vm.OpStrictNe,
	token.LESS:             vm.OpLt,
	token.GREATER:          vm.OpGt,
	token.LESS_OR_EQUAL:    vm.OpLe,
	token.GREATER_OR_EQUAL: vm.OpGe,
}

// compileExpr emits code that leaves exactly one value on the stack.
func (g *codegen) compileExpr(expr ast.Expression) {
	b := g.fn.builder
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		switch v := e.Value.(type) {
		case int64:
			b.EmitUint16(vm.OpPushConst, g.number(e, float64(v)))
		case float64:
			b.EmitUint16(vm.OpPushConst, g.number(e, v))
		default:
			g.errorf(e, "unsupported number literal %s", e.Literal)
			b.Emit(vm.OpPushUndefined)
		}
	case *ast.StringLiteral:
		b.EmitUint16(vm.OpPushConst, g.name(e, e.Value.String()))
	case *ast.BooleanLiteral:
		if e.Value {
			b.Emit(vm.OpPushTrue)
		} else {
			b.Emit(vm.OpPushFalse)
		}
	case *ast.NullLiteral:
		b.Emit(vm.OpPushNull)
	case *ast.Identifier:
		g.load(e, e.Name.String())
	case *ast.ThisExpression:
		b.Emit(vm.OpPushThis)
	case *ast.DotExpression:
		g.compileExpr(e.Left)
		b.EmitUint16(vm.OpGetProp, g.name(e, e.Identifier.Name.String()))
	case *ast.BracketExpression:
		g.compileExpr(e.Left)
		g.compileExpr(e.Member)
		b.Emit(vm.OpGetElem)
	case *ast.CallExpression:
		g.compileCall(e)
	case *ast.NewExpression:
		g.compileExpr(e.Callee)
		b.EmitByte(vm.OpNew, g.compileArgs(e, e.ArgumentList))
	case *ast.AssignExpression:
		g.compileAssign(e)
	case *ast.UnaryExpression:
		g.compileUnary(e)
	case *ast.BinaryExpression:
		g.compileBinary(e)
	case *ast.ConditionalExpression:
		elseLabel, end := b.NewLabel(), b.NewLabel()
		g.compileExpr(e.Test)
		b.EmitJump(vm.OpJumpIfFalse, elseLabel)
		g.compileExpr(e.Consequent)
		b.EmitJump(vm.OpJump, end)
		b.Mark(elseLabel)
		g.compileExpr(e.Alternate)
		b.Mark(end)
	case *ast.SequenceExpression:
		for i, inner := range e.Sequence {
			g.compileExpr(inner)
			if i < len(e.Sequence)-1 {
				b.Emit(vm.OpPop)
			}
		}
	case *ast.FunctionLiteral:
		b.EmitUint16(vm.OpClosure, uint16(g.compileFunction(e)))
	case *ast.ObjectLiteral:
		g.compileObject(e)
	default:
		g.errorf(expr, "unsupported expression: %s", nodeName(expr))
		b.Emit(vm.OpPushUndefined)
	}
}

func (g *codegen) compileArgs(node ast.Node, args []ast.Expression) uint8 {
	if len(args) > math.MaxUint8 {
		g.errorf(node, "too many arguments")
	}
	for _, arg := range args {
		if _, ok := arg.(*ast.SpreadElement); ok {
			g.errorf(arg, "spread arguments are not supported")
			g.fn.builder.Emit(vm.OpPushUndefined)
			continue
		}
		g.compileExpr(arg)
	}
	return uint8(len(args))
}

// compileCall passes the object of a member callee as the receiver.
func (g *codegen) compileCall(e *ast.CallExpression) {
	b := g.fn.builder
	switch callee := e.Callee.(type) {
	case *ast.DotExpression:
		g.compileExpr(callee.Left)
		name := g.name(callee, callee.Identifier.Name.String())
		b.EmitCallMethod(name, g.compileArgs(e, e.ArgumentList))
	case *ast.BracketExpression:
		g.compileExpr(callee.Left)
		g.compileExpr(callee.Member)
		b.EmitByte(vm.OpCallElem, g.compileArgs(e, e.ArgumentList))
	default:
		g.compileExpr(e.Callee)
		b.EmitByte(vm.OpCall, g.compileArgs(e, e.ArgumentList))
	}
}

func (g *codegen) compileBinary(e *ast.BinaryExpression) {
	b := g.fn.builder
	switch e.Operator {
	case token.LOGICAL_AND, token.LOGICAL_OR:
		end := b.NewLabel()
		g.compileExpr(e.Left)
		if e.Operator == token.LOGICAL_AND {
			b.EmitJump(vm.OpJumpIfFalseKeep, end)
		} else {
			b.EmitJump(vm.OpJumpIfTrueKeep, end)
		}
		g.compileExpr(e.Right)
		b.Mark(end)
		return
	}
	op, ok := binaryOps[e.Operator]
	if !ok {
		g.errorf(e, "unsupported operator %s", e.Operator)
	}
	g.compileExpr(e.Left)
	g.compileExpr(e.Right)
	if ok {
		b.Emit(op)
	} else {
		b.Emit(vm.OpPop)
	}
}

func (g *codegen) compileUnary(e *ast.UnaryExpression) {
	b := g.fn.builder
	switch e.Operator {
	case token.INCREMENT, token.DECREMENT:
		g.compileUpdate(e)
		return
	case token.TYPEOF:
		// typeof on an undeclared global is "undefined", not a ReferenceError.
		if id, ok := e.Operand.(*ast.Identifier); ok {
			if _, _, local := g.resolve(id.Name.String()); !local {
				b.EmitUint16(vm.OpTypeofGlobal, g.name(id, id.Name.String()))
				return
			}
		}
		g.compileExpr(e.Operand)
		b.Emit(vm.OpTypeof)
		return
	}

	g.compileExpr(e.Operand)
	switch e.Operator {
	case token.NOT:
		b.Emit(vm.OpNot)
	case token.MINUS:
		b.Emit(vm.OpNeg)
	case token.PLUS:
		b.Emit(vm.OpToNumber)
	case token.VOID:
		b.Emit(vm.OpPop)
		b.Emit(vm.OpPushUndefined)
	default:
		g.errorf(e, "unsupported operator %s", e.Operator)
	}
}

// compileUpdate lowers ++ and --. The postfix form computes the new value
// and then reverses the step to leave the old numeric value.
func (g *codegen) compileUpdate(e *ast.UnaryExpression) {
	b := g.fn.builder
	step, undo := vm.OpAdd, vm.OpSub
	if e.Operator == token.DECREMENT {
		step, undo = undo, step
	}
	one := g.number(e, 1)
	apply := func() {
		b.Emit(vm.OpToNumber)
		b.EmitUint16(vm.OpPushConst, one)
		b.Emit(step)
	}

	switch target := e.Operand.(type) {
	case *ast.Identifier:
		name := target.Name.String()
		g.load(target, name)
		apply()
		g.store(target, name)
	case *ast.DotExpression:
		name := g.name(target, target.Identifier.Name.String())
		g.compileExpr(target.Left)
		b.Emit(vm.OpDup)
		b.EmitUint16(vm.OpGetProp, name)
		apply()
		b.EmitUint16(vm.OpSetProp, name)
	case *ast.BracketExpression:
		g.compileExpr(target.Left)
		g.compileExpr(target.Member)
		b.Emit(vm.OpDup2)
		b.Emit(vm.OpGetElem)
		apply()
		b.Emit(vm.OpSetElem)
	default:
		g.errorf(e, "invalid update target: %s", nodeName(e.Operand))
		b.Emit(vm.OpPushUndefined)
		return
	}
	if e.Postfix {
		b.EmitUint16(vm.OpPushConst, one)
		b.Emit(undo)
	}
}

func (g *codegen) compileAssign(e *ast.AssignExpression) {
	b := g.fn.builder
	var op vm.Opcode
	compound := e.Operator != token.ASSIGN
	if compound {
		var ok bool
		if op, ok = binaryOps[e.Operator]; !ok || op >= vm.OpEq {
			g.errorf(e, "unsupported assignment operator %s=", e.Operator)
			compound = false
		}
	}

	switch target := e.Left.(type) {
	case *ast.Identifier:
		name := target.Name.String()
		if compound {
			g.load(target, name)
		}
		g.compileExpr(e.Right)
		if compound {
			b.Emit(op)
		}
		g.store(target, name)
	case *ast.DotExpression:
		name := g.name(target, target.Identifier.Name.String())
		g.compileExpr(target.Left)
		if compound {
			b.Emit(vm.OpDup)
			b.EmitUint16(vm.OpGetProp, name)
		}
		g.compileExpr(e.Right)
		if compound {
			b.Emit(op)
		}
		b.EmitUint16(vm.OpSetProp, name)
	case *ast.BracketExpression:
		g.compileExpr(target.Left)
		g.compileExpr(target.Member)
		if compound {
			b.Emit(vm.OpDup2)
			b.Emit(vm.OpGetElem)
		}
		g.compileExpr(e.Right)
		if compound {
			b.Emit(op)
		}
		b.Emit(vm.OpSetElem)
	default:
		g.errorf(e.Left, "invalid assignment target: %s", nodeName(e.Left))
		b.Emit(vm.OpPushUndefined)
	}
}

func (g *codegen) compileObject(e *ast.ObjectLiteral) {
	b := g.fn.builder
	b.Emit(vm.OpNewObject)
	for _, prop := range e.Value {
		switch p := prop.(type) {
		case *ast.PropertyKeyed:
			key, ok := propertyKey(p)
			if !ok {
				g.errorf(p, "computed property keys are not supported")
				continue
			}
			name := g.name(p, key)
			g.compileExpr(p.Value)
			switch p.Kind {
			case ast.PropertyKindGet:
				b.EmitUint16(vm.OpInitGetter, name)
			case ast.PropertyKindSet:
				b.EmitUint16(vm.OpInitSetter, name)
			default:
				b.EmitUint16(vm.OpInitProp, name)
			}
		case *ast.PropertyShort:
			if p.Initializer != nil {
				g.errorf(p, "property initializers are only valid in patterns")
				continue
			}
			name := p.Name.Name.String()
			g.load(&p.Name, name)
			b.EmitUint16(vm.OpInitProp, g.name(p, name))
		default:
			g.errorf(prop, "unsupported property: %s", nodeName(prop))
		}
	}
}

func propertyKey(p *ast.PropertyKeyed) (string, bool) {
	if p.Computed {
		return "", false
	}
	switch k := p.Key.(type) {
	case *ast.StringLiteral:
		return k.Value.String(), true
	case *ast.Identifier:
		return k.Name.String(), true
	case *ast.NumberLiteral:
		switch v := k.Value.(type) {
		case int64:
			return vm.Number(float64(v)).ToString(), true
		case float64:
			return vm.Number(v).ToString(), true
		}
	}
	return "", false
}
