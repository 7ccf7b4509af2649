package compiler

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/hostrt/vm"
)

func traceStates(opts Options) (*Compiler, func() []State) {
	var mu sync.Mutex
	var states []State
	opts.Observer = func(_ string, s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	return New(opts), func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), states...)
	}
}

func joinStates(states []State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}

func TestCompileStateTrace(t *testing.T) {
	tests := []struct {
		name   string
		verify bool
		source string
		want   string
	}{
		{"installed", true, "var a = 1;", "Requested -> Parsing -> Verifying -> Installed"},
		{"unverified", false, "var a = 1;", "Requested -> Parsing -> Verifying -> Installed"},
		{"syntax error", true, "var = ;", "Requested -> Parsing -> Failed"},
		{"unsupported", true, "var a = [1];", "Requested -> Parsing -> Failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, states := traceStates(Options{Verify: tt.verify})
			c.Compile(tt.source, "trace.js")
			if got := joinStates(states()); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCompileInstallsIntoRegistry(t *testing.T) {
	reg := vm.NewRegistry()
	c := New(Options{Verify: true, Registry: reg})

	u, err := c.Compile("1", "a.js")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := reg.Lookup(u.CompilationID); !ok || got != u {
		t.Errorf("Expected unit %d in registry", u.CompilationID)
	}

	if _, err := c.Compile("var = ;", "b.js"); err == nil {
		t.Fatal("Expected compile error")
	}
	if reg.Len() != 1 {
		t.Errorf("Expected failed compilation to install nothing, got %d units", reg.Len())
	}
}

func TestCompilationIDsMonotonic(t *testing.T) {
	c := New(Options{})
	first, err := c.Compile("1", "a.js")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Compile("1", "a.js")
	if err != nil {
		t.Fatal(err)
	}
	if second.CompilationID <= first.CompilationID {
		t.Errorf("Expected increasing ids, got %d then %d", first.CompilationID, second.CompilationID)
	}

	ObserveID(second.CompilationID + 100)
	third, err := c.Compile("1", "a.js")
	if err != nil {
		t.Fatal(err)
	}
	if third.CompilationID <= second.CompilationID+100 {
		t.Errorf("Expected id above observed %d, got %d", second.CompilationID+100, third.CompilationID)
	}

	ObserveID(1)
	fourth, _ := c.Compile("1", "a.js")
	if fourth.CompilationID <= third.CompilationID {
		t.Errorf("Expected observing an old id to change nothing, got %d after %d", fourth.CompilationID, third.CompilationID)
	}
}

func TestCompilationIDsConcurrent(t *testing.T) {
	c := New(Options{})
	const n = 32
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := c.Compile("var x = 1; x", "c.js")
			if err != nil {
				t.Error(err)
				return
			}
			ids <- u.CompilationID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("Expected unique ids, %d minted twice", id)
		}
		seen[id] = true
	}
	if c.Registry().Len() != n {
		t.Errorf("Expected %d installed units, got %d", n, c.Registry().Len())
	}
}

func TestCompilationErrorPosition(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		line    int
		column  int
		message string
	}{
		{"array literal", "var a = 1;\nvar b = [1, 2];", 2, 9, "ArrayLiteral"},
		{"arrow function", "var f = x => x;", 1, 9, "ArrowFunctionLiteral"},
		{"try statement", "\n\n  try { } catch (e) { }", 3, 3, "TryStatement"},
		{"labeled break", "outer: for (;;) { break outer; }", 1, 1, "LabelledStatement"},
		{"destructuring", "function f() { var {a} = {}; }", 1, 20, "destructuring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{Verify: true}).Compile(tt.source, "pos.js")
			var ce *CompilationError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected CompilationError, got %v", err)
			}
			if ce.Line != tt.line || ce.Column != tt.column {
				t.Errorf("Expected %d:%d, got %d:%d", tt.line, tt.column, ce.Line, ce.Column)
			}
			if !strings.Contains(ce.Message, tt.message) {
				t.Errorf("Expected message to mention %s, got %s", tt.message, ce.Message)
			}
			if ce.State != Parsing {
				t.Errorf("Expected failure in Parsing, got %s", ce.State)
			}
			if ce.SourceID != "pos.js" {
				t.Errorf("Expected source pos.js, got %s", ce.SourceID)
			}
		})
	}
}

func TestCompilationSyntaxError(t *testing.T) {
	_, err := New(Options{}).Compile("var a = 1;\nvar = ;", "syntax.js")
	var ce *CompilationError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected CompilationError, got %v", err)
	}
	if ce.Line != 2 {
		t.Errorf("Expected line 2, got %d", ce.Line)
	}
	if ce.Column == 0 {
		t.Error("Expected a column")
	}
	if !strings.HasPrefix(ce.Error(), "compiler: syntax.js:2:") {
		t.Errorf("Expected positioned message, got %s", ce.Error())
	}
}

func TestStateString(t *testing.T) {
	if Failed.String() != "Failed" {
		t.Errorf("Expected Failed, got %s", Failed)
	}
	if State(42).String() != "State(42)" {
		t.Errorf("Expected State(42), got %s", State(42))
	}
}
