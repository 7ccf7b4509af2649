package compiler

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja/parser"
	"github.com/tliron/commonlog"

	"github.com/chazu/hostrt/metrics"
	"github.com/chazu/hostrt/vm"
)

var log = commonlog.GetLogger("hostrt.compiler")

// State is the lifecycle state of one compilation.
type State int

const (
	Requested State = iota
	Parsing
	Verifying
	Installed
	Failed
)

func (s State) String() string {
	switch s {
	case Requested:
		return "Requested"
	case Parsing:
		return "Parsing"
	case Verifying:
		return "Verifying"
	case Installed:
		return "Installed"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CompilationError describes why a compilation failed. Line and Column are
// 1-based and zero when the failure has no source position.
type CompilationError struct {
	SourceID string
	Line     int
	Column   int
	Message  string
	State    State // the stage that failed
}

func (e *CompilationError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("compiler: %s: %s", e.SourceID, e.Message)
	}
	return fmt.Sprintf("compiler: %s:%d:%d: %s", e.SourceID, e.Line, e.Column, e.Message)
}

// ---------------------------------------------------------------------------
// Compilation ids
// ---------------------------------------------------------------------------

var lastCompilationID atomic.Uint64

func nextCompilationID() uint64 {
	return lastCompilationID.Add(1)
}

// ObserveID records that id was minted earlier, for example by a previous
// process whose units were loaded from a persistent cache, so that it is
// never minted again.
func ObserveID(id uint64) {
	for {
		cur := lastCompilationID.Load()
		if id <= cur || lastCompilationID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Compiler
// ---------------------------------------------------------------------------

// Options configures a Compiler.
type Options struct {
	// Verify enables the bytecode verifier. When false the Verifying state
	// is still entered but performs no checks.
	Verify bool

	// Observer, if set, is told about every state a compilation enters.
	Observer func(sourceID string, s State)

	// Registry receives installed units. A fresh registry is used when nil.
	Registry *vm.Registry

	Metrics *metrics.Metrics
}

// Compiler compiles and installs script sources. It is safe for concurrent
// use.
type Compiler struct {
	opts Options
}

// New creates a compiler.
func New(opts Options) *Compiler {
	if opts.Registry == nil {
		opts.Registry = vm.NewRegistry()
	}
	return &Compiler{opts: opts}
}

// Registry returns the registry units are installed into.
func (c *Compiler) Registry() *vm.Registry {
	return c.opts.Registry
}

func (c *Compiler) observe(sourceID string, s State) {
	if c.opts.Observer != nil {
		c.opts.Observer(sourceID, s)
	}
}

func (c *Compiler) fail(start time.Time, err *CompilationError) error {
	c.observe(err.SourceID, Failed)
	c.opts.Metrics.Compiled("failed", time.Since(start))
	log.Debug("compilation failed", "source", err.SourceID, "state", err.State.String(), "error", err.Message)
	return err
}

// Compile parses, verifies and installs source. On failure it returns a
// *CompilationError and installs nothing.
func (c *Compiler) Compile(source, sourceID string) (*vm.CompilationUnit, error) {
	start := time.Now()
	c.observe(sourceID, Requested)

	c.observe(sourceID, Parsing)
	u, cerr := Lower(source, sourceID)
	if cerr != nil {
		return nil, c.fail(start, cerr)
	}

	c.observe(sourceID, Verifying)
	if c.opts.Verify {
		if err := Verify(u); err != nil {
			return nil, c.fail(start, &CompilationError{
				SourceID: sourceID,
				Message:  err.Error(),
				State:    Verifying,
			})
		}
	}

	u.CompilationID = nextCompilationID()
	if err := c.opts.Registry.Install(u); err != nil {
		return nil, c.fail(start, &CompilationError{
			SourceID: sourceID,
			Message:  err.Error(),
			State:    Verifying,
		})
	}
	c.observe(sourceID, Installed)
	c.opts.Metrics.Compiled("installed", time.Since(start))
	log.Info("compiled", "source", sourceID, "id", u.CompilationID, "units", len(u.Units))
	return u, nil
}

// Install publishes a unit produced elsewhere, such as one decoded from a
// persistent cache, keeping its compilation id.
func (c *Compiler) Install(u *vm.CompilationUnit) error {
	ObserveID(u.CompilationID)
	return c.opts.Registry.Install(u)
}

// Lower parses source and lowers it to an unverified unit without a
// compilation id.
func Lower(source, sourceID string) (*vm.CompilationUnit, *CompilationError) {
	prog, err := parser.ParseFile(nil, sourceID, source, 0)
	if err != nil {
		return nil, parseError(sourceID, err)
	}
	g := newCodegen(prog, sourceID)
	u := g.lower(prog)
	if len(g.errors) > 0 {
		for _, e := range g.errors[1:] {
			log.Debug("additional compilation error", "error", e.Error())
		}
		return nil, g.errors[0]
	}
	return u, nil
}

func parseError(sourceID string, err error) *CompilationError {
	e := &CompilationError{SourceID: sourceID, Message: err.Error(), State: Parsing}
	var list parser.ErrorList
	var single *parser.Error
	switch {
	case errors.As(err, &list) && len(list) > 0:
		single = list[0]
	case errors.As(err, &single):
	default:
		return e
	}
	e.Line = single.Position.Line
	e.Column = single.Position.Column
	e.Message = single.Message
	return e
}
