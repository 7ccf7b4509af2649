package binding

import (
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

// Prototype is the frozen shared ancestor of every instance of one type
// under one profile.
type Prototype struct {
	Type        string
	Profile     capability.Profile
	Object      *vm.HostObject
	Constructor *vm.HostObject // nil when the type is not constructible for Profile

	def        *TypeDef
	ctorMember *Member
}

// Constructible reports whether scripts may construct the type.
func (p *Prototype) Constructible() bool {
	return p.Constructor != nil
}

// Construct runs the type's constructor. Types without a constructor for
// the profile fail with a *NotConstructibleError.
func (p *Prototype) Construct(it *vm.Interpreter, args ...vm.Value) (*vm.HostObject, error) {
	if p.Constructor == nil {
		return nil, &NotConstructibleError{Type: p.Type, Profile: p.Profile}
	}
	return vm.Construct(it, vm.Object(p.Constructor), args...)
}

// NewInstance creates an instance for host code, such as the document of a
// window, without running a constructor.
func (p *Prototype) NewInstance() *vm.HostObject {
	obj := vm.NewObject(p.Type, p.Object)
	if p.def.Synthesizer != nil {
		obj.SetSynthesizer(p.def.Synthesizer)
	}
	return obj
}

// constructBody installs the type's synthesizer before running fn.
func (p *Prototype) constructBody(fn vm.NativeFunc) vm.NativeFunc {
	synth := p.def.Synthesizer
	if synth == nil {
		return fn
	}
	return func(c *vm.Call) (vm.Value, error) {
		if obj := c.ThisObject(); obj != nil {
			obj.SetSynthesizer(synth)
		}
		return fn(c)
	}
}

// Members returns the own property names of the prototype object.
func (p *Prototype) Members() []string {
	return p.Object.OwnKeys()
}
