package binding

import (
	"testing"

	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

func synthRegistry(calls *int) *Registry {
	reg := NewRegistry()
	reg.MustRegister(TypeDef{
		Name: "Doc",
		Members: []Member{{
			Descriptor: capability.Descriptor{MemberID: "Doc.constructor", Kind: capability.KindConstructor, Exposures: allFamilies},
			Fn:         func(*vm.Call) (vm.Value, error) { return vm.Undefined, nil },
		}},
		Synthesizer: &vm.Synthesizer{
			Names: []string{"all"},
			Make: func(obj *vm.HostObject, name string) (vm.Value, vm.Attributes, bool) {
				*calls++
				return vm.Object(vm.NewObject("HTMLCollection", nil)), vm.AttrDefault, true
			},
		},
	})
	return reg
}

func TestSynthesizerOncePerInstance(t *testing.T) {
	calls := 0
	p, err := NewBuilder(synthRegistry(&calls), nil).BuildPrototype("Doc", chrome55)
	if err != nil {
		t.Fatal(err)
	}
	if p.Object.HasOwn("all") {
		t.Error("Expected the prototype to carry no synthesized properties")
	}

	inst := p.NewInstance()
	first, _ := inst.Get("all")
	second, _ := inst.Get("all")
	if calls != 1 {
		t.Errorf("Expected one synthesis, got %d", calls)
	}
	if first.AsObject() != second.AsObject() {
		t.Error("Expected the synthesized value to be stable")
	}

	built, err := p.Construct(vm.NewInterpreter(vm.NewObject("Window", nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := built.Get("all"); !ok || calls != 2 {
		t.Errorf("Expected constructed instance to synthesize, got %d calls", calls)
	}
}

func TestMembers(t *testing.T) {
	p, err := NewBuilder(testRegistry(), nil).BuildPrototype("Widget", chrome55)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"modern": true, "lastModified": true, "LEVEL": true, "constructor": false}
	got := map[string]bool{}
	for _, name := range p.Members() {
		got[name] = true
	}
	for name, present := range want {
		if got[name] != present {
			t.Errorf("Expected member %s present=%v", name, present)
		}
	}
}
