package browser

import (
	"math"

	"github.com/tliron/commonlog"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

var log = commonlog.GetLogger("hostrt.browser")

// Exposure sets shared by the table.
var (
	everywhere = []capability.Exposure{
		capability.Always(capability.Firefox),
		capability.Always(capability.InternetExplorer),
		capability.Always(capability.Chrome),
		capability.Always(capability.Edge),
	}
	// W3C members, which Internet Explorer gained in version 9.
	standard = []capability.Exposure{
		capability.Always(capability.Firefox),
		capability.Since(capability.InternetExplorer, 9),
		capability.Always(capability.Chrome),
		capability.Always(capability.Edge),
	}
	nonIE = []capability.Exposure{
		capability.Always(capability.Firefox),
		capability.Always(capability.Chrome),
		capability.Always(capability.Edge),
	}
	ieOnly = []capability.Exposure{capability.Always(capability.InternetExplorer)}
	// Proprietary members removed in Internet Explorer 11.
	legacyIE = []capability.Exposure{capability.Between(capability.InternetExplorer, 0, math.Nextafter(11, 0))}
)

// Type names of the standard table.
const (
	TypeEventTarget    = "EventTarget"
	TypeWindow         = "Window"
	TypeNavigator      = "Navigator"
	TypeDocument       = "Document"
	TypeHTMLCollection = "HTMLCollection"
	TypeXMLHttpRequest = "XMLHttpRequest"
	TypeActiveXObject  = "ActiveXObject"
)

// NewRegistry returns a registry holding the standard table.
func NewRegistry() *binding.Registry {
	reg := binding.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

// Register adds the standard table to reg.
func Register(reg *binding.Registry) error {
	for _, def := range []binding.TypeDef{
		eventTargetType(),
		windowType(),
		navigatorType(),
		documentType(),
		collectionType(),
		xhrType(),
		activeXType(),
	} {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Member helpers
// ---------------------------------------------------------------------------

func describe(id string, kind capability.Kind, exposures []capability.Exposure) capability.Descriptor {
	return capability.Descriptor{MemberID: id, Kind: kind, Exposures: exposures}
}

func method(id string, arity int, fn vm.NativeFunc, exposures []capability.Exposure) binding.Member {
	return binding.Member{Descriptor: describe(id, capability.KindMethod, exposures), Arity: arity, Fn: fn}
}

func getter(id string, fn vm.NativeFunc, exposures []capability.Exposure) binding.Member {
	return binding.Member{Descriptor: describe(id, capability.KindGetter, exposures), Fn: fn}
}

func setter(id string, fn vm.NativeFunc, exposures []capability.Exposure) binding.Member {
	return binding.Member{Descriptor: describe(id, capability.KindSetter, exposures), Arity: 1, Fn: fn}
}

func constructor(id string, arity int, fn vm.NativeFunc, exposures []capability.Exposure) binding.Member {
	return binding.Member{Descriptor: describe(id, capability.KindConstructor, exposures), Arity: arity, Fn: fn}
}

func value(v vm.Value) vm.NativeFunc {
	return func(*vm.Call) (vm.Value, error) { return v, nil }
}

// state returns the host data of the receiver, failing like a browser does
// when a member is applied to a foreign object.
func state[T any](c *vm.Call) (T, error) {
	var zero T
	obj := c.ThisObject()
	if obj == nil {
		return zero, vm.TypeError("Illegal invocation of %s", c.Callee.Name())
	}
	s, ok := obj.Internal().(T)
	if !ok {
		return zero, vm.TypeError("Illegal invocation of %s on %s", c.Callee.Name(), obj.Class())
	}
	return s, nil
}

// windowOf returns the window whose script is running.
func windowOf(c *vm.Call) (*Window, error) {
	if c.Interp != nil {
		if w, ok := c.Interp.Global().Internal().(*Window); ok {
			return w, nil
		}
	}
	return nil, vm.TypeError("%s needs a window", c.Callee.Name())
}

// domError builds a named exception such as InvalidStateError.
func domError(name, message string) error {
	return &vm.ScriptError{Value: vm.Object(vm.NewError(name, message))}
}
