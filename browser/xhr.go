package browser

import (
	"strings"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

// XMLHttpRequest ready states.
const (
	Unsent = iota
	Opened
	HeadersReceived
	Loading
	Done
)

type xhrState struct {
	eventTable

	window       *Window
	method       string
	url          string
	headers      map[string]string
	readyState   int
	status       int
	responseText string
}

func newXHRState(w *Window) *xhrState {
	return &xhrState{window: w}
}

// changeState moves to rs and fires readystatechange.
func (x *xhrState) changeState(c *vm.Call, rs int) error {
	x.readyState = rs
	return dispatch(c.Interp, x.window, c.ThisObject(), x, NewEvent("readystatechange"))
}

func constructXHR(c *vm.Call) (vm.Value, error) {
	w, err := windowOf(c)
	if err != nil {
		return vm.Undefined, err
	}
	c.ThisObject().SetInternal(newXHRState(w))
	return vm.Undefined, nil
}

func xhrOpen(c *vm.Call) (vm.Value, error) {
	x, err := state[*xhrState](c)
	if err != nil {
		return vm.Undefined, err
	}
	x.method = strings.ToUpper(c.Argument(0).ToString())
	x.url = c.Argument(1).ToString()
	x.headers = make(map[string]string)
	x.status, x.responseText = 0, ""
	return vm.Undefined, x.changeState(c, Opened)
}

func xhrSetRequestHeader(c *vm.Call) (vm.Value, error) {
	x, err := state[*xhrState](c)
	if err != nil {
		return vm.Undefined, err
	}
	if x.readyState != Opened {
		return vm.Undefined, domError("InvalidStateError", "setRequestHeader before open")
	}
	x.headers[c.Argument(0).ToString()] = c.Argument(1).ToString()
	return vm.Undefined, nil
}

// xhrSend asks the window's responder. The response is delivered before
// send returns.
func xhrSend(c *vm.Call) (vm.Value, error) {
	x, err := state[*xhrState](c)
	if err != nil {
		return vm.Undefined, err
	}
	if x.readyState != Opened {
		return vm.Undefined, domError("InvalidStateError", "send before open")
	}
	req := Request{Method: x.method, URL: x.url, Headers: x.headers}
	if body := c.Argument(0); !body.IsNullish() {
		req.Body = body.ToString()
	}
	resp := x.window.responder(req)
	log.Debug("xhr", "method", req.Method, "url", req.URL, "status", resp.Status)

	x.status, x.responseText = resp.Status, resp.Body
	if err := x.changeState(c, Done); err != nil {
		return vm.Undefined, err
	}
	return vm.Undefined, dispatch(c.Interp, x.window, c.ThisObject(), x, NewEvent("load"))
}

func xhrAbort(c *vm.Call) (vm.Value, error) {
	x, err := state[*xhrState](c)
	if err != nil {
		return vm.Undefined, err
	}
	x.readyState, x.status, x.responseText = Unsent, 0, ""
	return vm.Undefined, nil
}

func xhrField(get func(*xhrState) vm.Value) vm.NativeFunc {
	return func(c *vm.Call) (vm.Value, error) {
		x, err := state[*xhrState](c)
		if err != nil {
			return vm.Undefined, err
		}
		return get(x), nil
	}
}

func xhrType() binding.TypeDef {
	return binding.TypeDef{
		Name:   TypeXMLHttpRequest,
		Parent: TypeEventTarget,
		Members: []binding.Member{
			constructor("XMLHttpRequest.constructor", 0, constructXHR, []capability.Exposure{
				capability.Always(capability.Firefox),
				capability.Since(capability.InternetExplorer, 7),
				capability.Always(capability.Chrome),
				capability.Always(capability.Edge),
			}),
			method("XMLHttpRequest.open", 2, xhrOpen, everywhere),
			method("XMLHttpRequest.setRequestHeader", 2, xhrSetRequestHeader, everywhere),
			method("XMLHttpRequest.send", 1, xhrSend, everywhere),
			method("XMLHttpRequest.abort", 0, xhrAbort, everywhere),
			getter("XMLHttpRequest.readyState", xhrField(func(x *xhrState) vm.Value {
				return vm.Number(float64(x.readyState))
			}), everywhere),
			getter("XMLHttpRequest.status", xhrField(func(x *xhrState) vm.Value {
				return vm.Number(float64(x.status))
			}), everywhere),
			getter("XMLHttpRequest.responseText", xhrField(func(x *xhrState) vm.Value {
				return vm.String(x.responseText)
			}), everywhere),
			{Descriptor: describe("XMLHttpRequest.DONE", capability.KindConstant, nonIE), Value: vm.Number(Done)},
		},
	}
}

// ---------------------------------------------------------------------------
// ActiveXObject
// ---------------------------------------------------------------------------

var xmlHTTPProgIDs = map[string]bool{
	"microsoft.xmlhttp":   true,
	"msxml2.xmlhttp":      true,
	"msxml2.xmlhttp.3.0":  true,
	"msxml2.xmlhttp.6.0":  true,
	"microsoft.xmlhttp.1": true,
}

// constructActiveX only knows the XMLHTTP servers. It returns an
// XMLHttpRequest instance, which replaces the allocated receiver.
func constructActiveX(c *vm.Call) (vm.Value, error) {
	w, err := windowOf(c)
	if err != nil {
		return vm.Undefined, err
	}
	progID := c.Argument(0).ToString()
	if !xmlHTTPProgIDs[strings.ToLower(progID)] {
		return vm.Undefined, domError("Error", "Automation server can't create object: "+progID)
	}
	obj, err := w.instance(TypeXMLHttpRequest, newXHRState(w))
	if err != nil {
		return vm.Undefined, err
	}
	return vm.Object(obj), nil
}

func activeXType() binding.TypeDef {
	return binding.TypeDef{
		Name: TypeActiveXObject,
		Members: []binding.Member{
			constructor("ActiveXObject.constructor", 1, constructActiveX, ieOnly),
		},
	}
}
