package compiler

import (
	"strings"
	"testing"

	"github.com/dop251/goja/parser"
)

func declarationsOf(t *testing.T, source string) *declarations {
	t.Helper()
	prog, err := parser.ParseFile(nil, "test.js", source, 0)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return collectDeclarations(prog.Body)
}

func TestCollectDeclarations(t *testing.T) {
	d := declarationsOf(t, `
		var a = 1, b;
		let c;
		const e = 2;
		if (a) { var f; } else { var g; }
		while (a) { var h; }
		do { var a; } while (false);
		for (var i = 0; i < 1; i++) { var j; }
		for (let k = 0; k < 1; k++) {}
		function named() { var inner; }
		var after = function () { var hidden; };
	`)
	if got := strings.Join(d.vars, ","); got != "a,b,c,e,f,g,h,i,j,k,after" {
		t.Errorf("Expected a,b,c,e,f,g,h,i,j,k,after, got %s", got)
	}
	if len(d.funcs) != 1 || d.funcs[0].Function.Name.Name.String() != "named" {
		t.Errorf("Expected one function declaration named, got %d", len(d.funcs))
	}
}

func TestCollectDeclarationsInBlocks(t *testing.T) {
	d := declarationsOf(t, `{ function nested() {} } if (true) { function cond() {} }`)
	if len(d.funcs) != 2 {
		t.Errorf("Expected block and if-body functions hoisted, got %d", len(d.funcs))
	}
}

func TestHoistedFunctionCallableEarly(t *testing.T) {
	if got := runScript(t, "var r = early(); function early() { return 'ok'; } r").ToString(); got != "ok" {
		t.Errorf("Expected ok, got %s", got)
	}
}
