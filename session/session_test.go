package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/browser"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/codecache"
	"github.com/chazu/hostrt/compiler"
	"github.com/chazu/hostrt/metrics"
	"github.com/chazu/hostrt/vm"
)

var (
	ie8      = capability.Profile{Family: capability.InternetExplorer, Version: 8}
	chrome55 = capability.Profile{Family: capability.Chrome, Version: 55}
)

type fixture struct {
	manager  *Manager
	builder  *binding.Builder
	metrics  *metrics.Metrics
	compiles *atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{compiles: new(atomic.Int64)}
	f.metrics = metrics.New(prometheus.NewRegistry())
	f.builder = binding.NewBuilder(browser.NewRegistry(), f.metrics)
	comp := compiler.New(compiler.Options{
		Verify:  true,
		Metrics: f.metrics,
		Observer: func(_ string, s compiler.State) {
			if s == compiler.Parsing {
				f.compiles.Add(1)
			}
		},
	})
	f.manager = NewManager(Options{
		Builder: f.builder,
		Cache:   codecache.New(codecache.Options{Compiler: comp, Metrics: f.metrics}),
		Metrics: f.metrics,
	})
	t.Cleanup(f.manager.CloseAll)
	return f
}

func (f *fixture) open(t *testing.T, p capability.Profile) *Session {
	t.Helper()
	s, err := f.manager.Open(p, browser.WindowOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func eval(t *testing.T, s *Session, source string) string {
	t.Helper()
	out, err := s.EvalString(context.Background(), source, "")
	if err != nil {
		t.Fatalf("eval %q: %v", source, err)
	}
	return out
}

func TestSessionsFollowTheirProfile(t *testing.T) {
	f := newFixture(t)
	ie := f.open(t, ie8)
	chrome := f.open(t, chrome55)

	if got := eval(t, ie, "typeof ActiveXObject + ' ' + navigator.appName"); got != "function Microsoft Internet Explorer" {
		t.Errorf("IE: got %q", got)
	}
	if got := eval(t, chrome, "typeof ActiveXObject + ' ' + navigator.appName"); got != "undefined Netscape" {
		t.Errorf("Chrome: got %q", got)
	}
	if ie.ID == chrome.ID || len(ie.ID) != 36 {
		t.Errorf("Expected distinct uuid ids, got %s and %s", ie.ID, chrome.ID)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, chrome55)
	b := f.open(t, chrome55)

	eval(t, a, "var secret = 42; document.title = 'a'")
	if got := eval(t, b, "typeof secret + ':' + document.title"); got != "undefined:" {
		t.Errorf("Expected no leakage between sessions, got %s", got)
	}
	if f.builder.Realms() != 1 {
		t.Errorf("Expected sessions of one profile to share a realm, got %d", f.builder.Realms())
	}
}

func TestSharedCodeCache(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, ie8)
	b := f.open(t, ie8)
	ctx := context.Background()

	const source = "var n = (typeof n === 'number' ? n : 0) + 1; n"
	for _, s := range []*Session{a, b, a} {
		if _, err := s.Eval(ctx, source, "counter.js"); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.compiles.Load(); got != 1 {
		t.Errorf("Expected one compilation for a shared key, got %d", got)
	}
	if got := eval(t, a, "n"); got != "2" {
		t.Errorf("Expected n=2 in session a, got %s", got)
	}
	if got := eval(t, b, "n"); got != "1" {
		t.Errorf("Expected n=1 in session b, got %s", got)
	}
}

func TestConcurrentEvalIsSerialized(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, chrome55)
	eval(t, s, "var count = 0")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Eval(context.Background(), "count = count + 1", "inc.js"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := eval(t, s, "count"); got != "50" {
		t.Errorf("Expected 50, got %s", got)
	}
}

func TestScriptErrorsReachTheCaller(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, chrome55)

	_, err := s.Eval(context.Background(), "missing()", "")
	var se *vm.ScriptError
	if !errors.As(err, &se) || se.Name() != "ReferenceError" {
		t.Errorf("Expected ReferenceError, got %v", err)
	}
	_, err = s.Eval(context.Background(), "var = ;", "")
	var ce *compiler.CompilationError
	if !errors.As(err, &ce) {
		t.Errorf("Expected CompilationError, got %v", err)
	}
	if got := eval(t, s, "1 + 1"); got != "2" {
		t.Errorf("Expected the session to stay usable, got %s", got)
	}
}

func TestDoRecoversPanics(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, chrome55)

	err := s.Do(context.Background(), func(*browser.Window, *vm.Interpreter) error {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected panic error, got %v", err)
	}
	err = s.Do(context.Background(), func(w *browser.Window, it *vm.Interpreter) error {
		w.AddElement("div", "x")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := eval(t, s, "document.all.length"); got != "1" {
		t.Errorf("Expected 1 element, got %s", got)
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, chrome55)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := s.Do(ctx, func(*browser.Window, *vm.Interpreter) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	eval(t, s, "1")
	if ran {
		t.Error("Expected cancelled work not to run")
	}
}

func TestCloseReleasesResources(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, ie8)
	b := f.open(t, ie8)

	if got := testutil.ToFloat64(f.metrics.SessionsActive); got != 2 {
		t.Errorf("Expected 2 active sessions, got %v", got)
	}
	if err := f.manager.Close(a.ID); err != nil {
		t.Fatal(err)
	}
	a.Close()
	if f.builder.Realms() != 1 {
		t.Errorf("Expected the realm kept for session b, got %d realms", f.builder.Realms())
	}
	if _, err := a.Eval(context.Background(), "1", ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, ok := f.manager.Get(a.ID); ok {
		t.Error("Expected closed session to be forgotten")
	}
	if err := f.manager.Close(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	b.Close()
	if f.builder.Realms() != 0 {
		t.Errorf("Expected the realm dropped, got %d", f.builder.Realms())
	}
	if got := testutil.ToFloat64(f.metrics.SessionsActive); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if f.manager.Len() != 0 {
		t.Errorf("Expected no sessions, got %d", f.manager.Len())
	}
}

func TestSessionsListedOldestFirst(t *testing.T) {
	f := newFixture(t)
	f.open(t, ie8)
	f.open(t, chrome55)
	list := f.manager.Sessions()
	if len(list) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(list))
	}
	if list[0].Created.After(list[1].Created) {
		t.Error("Expected sessions ordered by creation time")
	}
}
