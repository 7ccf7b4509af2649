package compiler

import (
	"github.com/dop251/goja/ast"
)

// ---------------------------------------------------------------------------
// Declaration collection: hoisting before codegen
// ---------------------------------------------------------------------------

// declarations lists what a function body declares. Names are in first
// appearance order without duplicates. let and const are treated as
// function scoped.
type declarations struct {
	vars  []string
	funcs []*ast.FunctionDeclaration
	seen  map[string]bool
}

func (d *declarations) addVar(name string) {
	if d.seen[name] {
		return
	}
	d.seen[name] = true
	d.vars = append(d.vars, name)
}

func (d *declarations) addBindings(list []*ast.Binding) {
	for _, b := range list {
		if id, ok := b.Target.(*ast.Identifier); ok {
			d.addVar(id.Name.String())
		}
	}
}

// collectDeclarations walks body without entering nested functions.
func collectDeclarations(body []ast.Statement) *declarations {
	d := &declarations{seen: make(map[string]bool)}
	for _, stmt := range body {
		d.visit(stmt)
	}
	return d
}

func (d *declarations) visit(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.VariableStatement:
		d.addBindings(s.List)
	case *ast.LexicalDeclaration:
		d.addBindings(s.List)
	case *ast.FunctionDeclaration:
		if s.Function.Name != nil {
			d.funcs = append(d.funcs, s)
		}
	case *ast.BlockStatement:
		for _, inner := range s.List {
			d.visit(inner)
		}
	case *ast.IfStatement:
		d.visit(s.Consequent)
		if s.Alternate != nil {
			d.visit(s.Alternate)
		}
	case *ast.WhileStatement:
		d.visit(s.Body)
	case *ast.DoWhileStatement:
		d.visit(s.Body)
	case *ast.ForStatement:
		switch init := s.Initializer.(type) {
		case *ast.ForLoopInitializerVarDeclList:
			d.addBindings(init.List)
		case *ast.ForLoopInitializerLexicalDecl:
			d.addBindings(init.LexicalDeclaration.List)
		}
		d.visit(s.Body)
	}
}
