package browser

import (
	"time"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/vm"
)

type documentState struct {
	eventTable

	window       *Window
	title        string
	lastModified time.Time
	elements     []*vm.HostObject
}

func (d *documentState) addElement(tag, id string) *vm.HostObject {
	el := vm.NewObject("HTMLElement", nil)
	el.Set("tagName", vm.String(tag))
	el.Set("id", vm.String(id))
	d.elements = append(d.elements, el)
	return el
}

func (d *documentState) elementByID(id string) *vm.HostObject {
	for _, el := range d.elements {
		if v, _ := el.Get("id"); v.ToString() == id {
			return el
		}
	}
	return nil
}

// lastModified builds a getter rendering the document's modification time
// with layout.
func lastModified(layout string) vm.NativeFunc {
	return func(c *vm.Call) (vm.Value, error) {
		d, err := state[*documentState](c)
		if err != nil {
			return vm.Undefined, err
		}
		return vm.String(d.lastModified.Format(layout)), nil
	}
}

func title(c *vm.Call) (vm.Value, error) {
	d, err := state[*documentState](c)
	if err != nil {
		return vm.Undefined, err
	}
	return vm.String(d.title), nil
}

func setTitle(c *vm.Call) (vm.Value, error) {
	d, err := state[*documentState](c)
	if err != nil {
		return vm.Undefined, err
	}
	d.title = c.Argument(0).ToString()
	return vm.Undefined, nil
}

func getElementByID(c *vm.Call) (vm.Value, error) {
	d, err := state[*documentState](c)
	if err != nil {
		return vm.Undefined, err
	}
	if el := d.elementByID(c.Argument(0).ToString()); el != nil {
		return vm.Object(el), nil
	}
	return vm.Null, nil
}

func createEvent(c *vm.Call) (vm.Value, error) {
	if _, err := state[*documentState](c); err != nil {
		return vm.Undefined, err
	}
	return vm.Object(NewEvent("")), nil
}

// documentAll materializes document.all on first access: a live collection
// of every element of the page.
var documentAll = &vm.Synthesizer{
	Names: []string{"all"},
	Make: func(obj *vm.HostObject, name string) (vm.Value, vm.Attributes, bool) {
		d, ok := obj.Internal().(*documentState)
		if !ok {
			return vm.Undefined, 0, false
		}
		coll, err := d.window.instance(TypeHTMLCollection, &collectionState{
			items: func() []*vm.HostObject { return d.elements },
		})
		if err != nil {
			log.Warning("cannot synthesize document.all", "error", err.Error())
			return vm.Undefined, 0, false
		}
		return vm.Object(coll), vm.AttrEnumerable, true
	},
}

func documentType() binding.TypeDef {
	return binding.TypeDef{
		Name:   TypeDocument,
		Parent: TypeEventTarget,
		Members: []binding.Member{
			getter("Document.lastModified#ie", lastModified("01/02/2006 15:04:05"), ieOnly),
			getter("Document.lastModified#std", lastModified(time.RFC1123), nonIE),
			getter("Document.title", title, everywhere),
			setter("Document.title#set", setTitle, everywhere),
			method("Document.getElementById", 1, getElementByID, everywhere),
			method("Document.createEvent", 1, createEvent, standard),
			method("Document.createEventObject", 0, createEvent, legacyIE),
		},
		Synthesizer: documentAll,
	}
}
