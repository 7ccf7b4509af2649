package browser

import (
	"math"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/vm"
)

// collectionState backs a live HTMLCollection: items is consulted on every
// access.
type collectionState struct {
	items func() []*vm.HostObject
}

func collectionLength(c *vm.Call) (vm.Value, error) {
	s, err := state[*collectionState](c)
	if err != nil {
		return vm.Undefined, err
	}
	return vm.Number(float64(len(s.items()))), nil
}

func collectionItem(c *vm.Call) (vm.Value, error) {
	s, err := state[*collectionState](c)
	if err != nil {
		return vm.Undefined, err
	}
	items := s.items()
	i := c.Argument(0).ToNumber()
	if math.IsNaN(i) || i < 0 || int(i) >= len(items) {
		return vm.Null, nil
	}
	return vm.Object(items[int(i)]), nil
}

func collectionNamedItem(c *vm.Call) (vm.Value, error) {
	s, err := state[*collectionState](c)
	if err != nil {
		return vm.Undefined, err
	}
	key := c.Argument(0).ToString()
	for _, el := range s.items() {
		for _, attr := range []string{"id", "name"} {
			if v, ok := el.Get(attr); ok && v.ToString() == key {
				return vm.Object(el), nil
			}
		}
	}
	return vm.Null, nil
}

func collectionType() binding.TypeDef {
	return binding.TypeDef{
		Name: TypeHTMLCollection,
		Members: []binding.Member{
			getter("HTMLCollection.length", collectionLength, everywhere),
			method("HTMLCollection.item", 1, collectionItem, everywhere),
			method("HTMLCollection.namedItem", 1, collectionNamedItem, everywhere),
		},
	}
}
