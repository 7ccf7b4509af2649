package browser

import (
	"strings"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/vm"
)

// ---------------------------------------------------------------------------
// EventTarget: listener registration and dispatch
// ---------------------------------------------------------------------------

type listener struct {
	fn vm.Value
	// legacy listeners were added with attachEvent: they run with the window
	// as receiver and read the event from window.event.
	legacy bool
}

// eventTable holds the listeners of one target, by event type.
type eventTable struct {
	byType map[string][]listener
}

func (t *eventTable) events() *eventTable { return t }

func (t *eventTable) add(typ string, l listener) {
	for _, prev := range t.byType[typ] {
		if prev.legacy == l.legacy && vm.StrictEquals(prev.fn, l.fn) {
			return
		}
	}
	if t.byType == nil {
		t.byType = make(map[string][]listener)
	}
	t.byType[typ] = append(t.byType[typ], l)
}

func (t *eventTable) remove(typ string, l listener) {
	list := t.byType[typ]
	for i, prev := range list {
		if prev.legacy == l.legacy && vm.StrictEquals(prev.fn, l.fn) {
			t.byType[typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// snapshot copies the listeners so handlers may add or remove listeners
// while the event is being delivered.
func (t *eventTable) snapshot(typ string) []listener {
	return append([]listener(nil), t.byType[typ]...)
}

// target is implemented by the host data of every EventTarget.
type target interface {
	events() *eventTable
}

// NewEvent creates an event object of the given type.
func NewEvent(typ string) *vm.HostObject {
	ev := vm.NewObject("Event", nil)
	ev.Set("type", vm.String(typ))
	return ev
}

// dispatch delivers event to the on<type> handler of obj and then to its
// listeners in registration order. The first handler error stops delivery.
func dispatch(it *vm.Interpreter, w *Window, obj *vm.HostObject, t target, event *vm.HostObject) error {
	typ, _, err := event.GetWith(it, "type")
	if err != nil {
		return err
	}
	name := typ.ToString()
	event.Set("target", vm.Object(obj))

	handler, _, err := obj.GetWith(it, "on"+name)
	if err != nil {
		return err
	}
	if handler.IsCallable() {
		if _, err := vm.Invoke(it, handler, vm.Object(obj), vm.Object(event)); err != nil {
			return err
		}
	}

	for _, l := range t.events().snapshot(name) {
		if !l.legacy {
			if _, err := vm.Invoke(it, l.fn, vm.Object(obj), vm.Object(event)); err != nil {
				return err
			}
			continue
		}
		if w == nil {
			continue
		}
		prev := w.event
		w.event = vm.Object(event)
		_, err := vm.Invoke(it, l.fn, vm.Object(w.Object))
		w.event = prev
		if err != nil {
			return err
		}
	}
	log.Debug("dispatched event", "type", name, "target", obj.Class())
	return nil
}

// legacyType maps "onclick" to "click".
func legacyType(v vm.Value) string {
	return strings.TrimPrefix(v.ToString(), "on")
}

func listenerArg(c *vm.Call, i int) (vm.Value, bool) {
	fn := c.Argument(i)
	return fn, fn.IsCallable()
}

func addEventListener(c *vm.Call) (vm.Value, error) {
	t, err := state[target](c)
	if err != nil {
		return vm.Undefined, err
	}
	if fn, ok := listenerArg(c, 1); ok {
		t.events().add(c.Argument(0).ToString(), listener{fn: fn})
	}
	return vm.Undefined, nil
}

func removeEventListener(c *vm.Call) (vm.Value, error) {
	t, err := state[target](c)
	if err != nil {
		return vm.Undefined, err
	}
	t.events().remove(c.Argument(0).ToString(), listener{fn: c.Argument(1)})
	return vm.Undefined, nil
}

func dispatchEvent(c *vm.Call) (vm.Value, error) {
	t, err := state[target](c)
	if err != nil {
		return vm.Undefined, err
	}
	event := c.Argument(0).AsObject()
	if event == nil {
		return vm.Undefined, vm.TypeError("dispatchEvent needs an event object")
	}
	w, _ := windowOf(c)
	if err := dispatch(c.Interp, w, c.ThisObject(), t, event); err != nil {
		return vm.Undefined, err
	}
	return vm.True, nil
}

func attachEvent(c *vm.Call) (vm.Value, error) {
	t, err := state[target](c)
	if err != nil {
		return vm.Undefined, err
	}
	fn, ok := listenerArg(c, 1)
	if !ok {
		return vm.False, nil
	}
	t.events().add(legacyType(c.Argument(0)), listener{fn: fn, legacy: true})
	return vm.True, nil
}

func detachEvent(c *vm.Call) (vm.Value, error) {
	t, err := state[target](c)
	if err != nil {
		return vm.Undefined, err
	}
	t.events().remove(legacyType(c.Argument(0)), listener{fn: c.Argument(1), legacy: true})
	return vm.Undefined, nil
}

// fireEvent("onclick"[, event]) creates the event when none is passed.
func fireEvent(c *vm.Call) (vm.Value, error) {
	t, err := state[target](c)
	if err != nil {
		return vm.Undefined, err
	}
	typ := legacyType(c.Argument(0))
	event := c.Argument(1).AsObject()
	if event == nil {
		event = NewEvent(typ)
	} else {
		event.Set("type", vm.String(typ))
	}
	w, _ := windowOf(c)
	if err := dispatch(c.Interp, w, c.ThisObject(), t, event); err != nil {
		return vm.Undefined, err
	}
	return vm.True, nil
}

func eventTargetType() binding.TypeDef {
	return binding.TypeDef{
		Name: TypeEventTarget,
		Members: []binding.Member{
			method("EventTarget.addEventListener", 2, addEventListener, standard),
			method("EventTarget.removeEventListener", 2, removeEventListener, standard),
			method("EventTarget.dispatchEvent", 1, dispatchEvent, standard),
			method("EventTarget.attachEvent", 2, attachEvent, legacyIE),
			method("EventTarget.detachEvent", 2, detachEvent, legacyIE),
			method("EventTarget.fireEvent", 2, fireEvent, legacyIE),
		},
	}
}
