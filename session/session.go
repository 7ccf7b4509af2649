package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/browser"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

var log = commonlog.GetLogger("hostrt.session")

var (
	ErrClosed   = errors.New("session: closed")
	ErrNotFound = errors.New("session: not found")
)

// Session is one simulated browser window.
type Session struct {
	ID      string
	Profile capability.Profile
	Created time.Time

	manager *Manager
	realm   *binding.Realm
	window  *browser.Window
	interp  *vm.Interpreter
	worker  *worker

	closeOnce sync.Once
}

func newSession(m *Manager, realm *binding.Realm, opts browser.WindowOptions) (*Session, error) {
	w, err := browser.NewWindow(realm, opts)
	if err != nil {
		return nil, err
	}
	interp := vm.NewInterpreter(w.Object)
	if m.opts.MaxDepth > 0 {
		interp.MaxDepth = m.opts.MaxDepth
	}
	return &Session{
		ID:      uuid.NewString(),
		Profile: realm.Profile(),
		Created: time.Now(),
		manager: m,
		realm:   realm,
		window:  w,
		interp:  interp,
		worker:  newWorker(),
	}, nil
}

// run executes source on the worker goroutine.
func (s *Session) run(source, cacheKey string) (vm.Value, error) {
	u, err := s.manager.opts.Cache.LoadOrCompile(source, cacheKey)
	if err != nil {
		return vm.Undefined, err
	}
	log.Debug("running unit", "session", s.ID, "unit", u.SourceID, "id", u.CompilationID)
	return s.interp.Run(u)
}

// Eval compiles source, through the code cache when cacheKey is not empty,
// and runs it in the session's window. The result belongs to the session:
// inspect objects inside Do rather than on the caller's goroutine.
func (s *Session) Eval(ctx context.Context, source, cacheKey string) (vm.Value, error) {
	v, err := s.worker.do(ctx, func() (interface{}, error) {
		return s.run(source, cacheKey)
	})
	if err != nil {
		return vm.Undefined, err
	}
	return v.(vm.Value), nil
}

// EvalString is Eval with the result converted to a string on the worker.
func (s *Session) EvalString(ctx context.Context, source, cacheKey string) (string, error) {
	var out string
	err := s.Do(ctx, func(*browser.Window, *vm.Interpreter) error {
		v, err := s.run(source, cacheKey)
		out = v.ToString()
		return err
	})
	return out, err
}

// Do runs fn on the session's worker with exclusive access to its window
// and interpreter.
func (s *Session) Do(ctx context.Context, fn func(w *browser.Window, it *vm.Interpreter) error) error {
	_, err := s.worker.do(ctx, func() (interface{}, error) {
		return nil, fn(s.window, s.interp)
	})
	return err
}

// Close stops the worker and releases the session's realm. Closing twice is
// a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.worker.stop()
		s.manager.remove(s)
		s.manager.opts.Builder.Release(s.realm)
		s.manager.opts.Metrics.SessionClosed()
		log.Info("closed session", "id", s.ID, "profile", s.Profile.String())
	})
}
