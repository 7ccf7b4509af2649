package browser

import (
	"fmt"
	"time"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

// Request is what a script asked an XMLHttpRequest to send.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Response answers a Request.
type Response struct {
	Status int
	Body   string
}

// Responder stands in for the network. It runs on the session's script
// goroutine.
type Responder func(Request) Response

// NotFound answers every request with status 404.
func NotFound(Request) Response {
	return Response{Status: 404}
}

// WindowOptions configures a new window.
type WindowOptions struct {
	Title        string
	LastModified time.Time // now when zero
	Responder    Responder // NotFound when nil
}

// Window is the global object of one simulated browser window together with
// the host state behind it.
type Window struct {
	eventTable

	Object    *vm.HostObject
	Navigator *vm.HostObject
	Document  *vm.HostObject

	realm     *binding.Realm
	responder Responder
	document  *documentState
	alerts    []string
	event     vm.Value
}

// NewWindow creates a window for the realm's profile: the global object,
// its navigator and document, and every constructor the profile exposes.
func NewWindow(realm *binding.Realm, opts WindowOptions) (*Window, error) {
	if opts.Responder == nil {
		opts.Responder = NotFound
	}
	if opts.LastModified.IsZero() {
		opts.LastModified = time.Now()
	}
	w := &Window{realm: realm, responder: opts.Responder, event: vm.Null}

	var err error
	if w.Object, err = w.instance(TypeWindow, w); err != nil {
		return nil, err
	}
	if w.Navigator, err = w.instance(TypeNavigator, &navigatorState{profile: realm.Profile()}); err != nil {
		return nil, err
	}
	w.document = &documentState{window: w, title: opts.Title, lastModified: opts.LastModified}
	if w.Document, err = w.instance(TypeDocument, w.document); err != nil {
		return nil, err
	}

	for _, g := range []struct {
		name string
		obj  *vm.HostObject
	}{
		{"window", w.Object},
		{"self", w.Object},
		{"navigator", w.Navigator},
		{"document", w.Document},
	} {
		if err := w.Object.DefineOwnProperty(g.name, vm.AttrEnumerable, vm.Object(g.obj)); err != nil {
			return nil, err
		}
	}
	if err := realm.InstallGlobals(w.Object); err != nil {
		return nil, err
	}
	log.Debug("created window", "profile", realm.Profile().String())
	return w, nil
}

// instance creates an object of typ carrying host data s.
func (w *Window) instance(typ string, s any) (*vm.HostObject, error) {
	p, err := w.realm.Prototype(typ)
	if err != nil {
		return nil, fmt.Errorf("browser: %s: %w", typ, err)
	}
	obj := p.NewInstance()
	obj.SetInternal(s)
	return obj, nil
}

// Profile returns the profile the window emulates.
func (w *Window) Profile() capability.Profile {
	return w.realm.Profile()
}

// Realm returns the realm holding the window's prototypes.
func (w *Window) Realm() *binding.Realm {
	return w.realm
}

// Alerts returns the messages passed to alert, oldest first.
func (w *Window) Alerts() []string {
	return append([]string(nil), w.alerts...)
}

// AddElement registers an element with the document and returns it. The
// runtime does not parse HTML; hosts describe the page this way.
func (w *Window) AddElement(tag, id string) *vm.HostObject {
	return w.document.addElement(tag, id)
}

// FireEvent dispatches an event of type typ at obj, which must be one of
// the window's event targets.
func (w *Window) FireEvent(it *vm.Interpreter, obj *vm.HostObject, typ string) error {
	t, ok := obj.Internal().(target)
	if !ok {
		return fmt.Errorf("browser: %s is not an event target", obj.Class())
	}
	return dispatch(it, w, obj, t, NewEvent(typ))
}

func alert(c *vm.Call) (vm.Value, error) {
	w, err := state[*Window](c)
	if err != nil {
		return vm.Undefined, err
	}
	w.alerts = append(w.alerts, c.Argument(0).ToString())
	log.Info("alert", "message", c.Argument(0).ToString())
	return vm.Undefined, nil
}

// currentEvent is window.event: the event being delivered to a listener
// added with attachEvent, null otherwise.
func currentEvent(c *vm.Call) (vm.Value, error) {
	w, err := state[*Window](c)
	if err != nil {
		return vm.Undefined, err
	}
	return w.event, nil
}

func windowType() binding.TypeDef {
	return binding.TypeDef{
		Name:   TypeWindow,
		Parent: TypeEventTarget,
		Members: []binding.Member{
			method("Window.alert", 1, alert, everywhere),
			getter("Window.event", currentEvent, ieOnly),
		},
	}
}
