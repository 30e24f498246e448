package avm2

import (
	"slices"

	"github.com/chazu/swfvm/avm"
)

// ---------------------------------------------------------------------------
// Function payloads
// ---------------------------------------------------------------------------

// Method is the payload of a bytecode function object: a method body
// closed over the scope chain it was created in.
type Method struct {
	Info  *MethodInfo
	ABC   *ABCFile
	Scope []avm.Value
	// Class declares the method; super calls start above it.
	Class *avm.Class
	Name  string
}

func (fn *Method) FunctionName() string {
	if fn.Name != "" {
		return fn.Name
	}
	return fn.Info.Name
}

func (fn *Method) Trace(m *avm.Marker) { m.MarkAll(fn.Scope) }

// BoundMethod is a method read off its receiver.
type BoundMethod struct {
	Fn   avm.Value
	This avm.Value
	Name string
}

func (b *BoundMethod) FunctionName() string { return b.Name }

func (b *BoundMethod) Trace(m *avm.Marker) {
	m.Mark(b.Fn)
	m.Mark(b.This)
}

// newMethod allocates a function object for a method body.
func (m *Machine) newMethod(f *ABCFile, info *MethodInfo, scope []avm.Value, cls *avm.Class) *avm.Object {
	o := m.Heap.NewObject(m.FunctionClass.Proto)
	o.Native = &Method{Info: info, ABC: f, Scope: scope, Class: cls}
	return o
}

// newClosure runs newfunction: a function object with a prototype,
// closing over the full current scope chain.
func (m *Machine) newClosure(f *ABCFile, info *MethodInfo, scope []avm.Value) avm.Value {
	fo := m.newMethod(f, info, scope, nil)
	proto := m.newObject()
	proto.Define("constructor", fo.Value(), avm.DontEnum)
	fo.Define("prototype", proto.Value(), avm.DontEnum)
	return fo.Value()
}

// bindMethod returns a closure of fn over this.
func (m *Machine) bindMethod(fn, this avm.Value) avm.Value {
	o := m.Heap.NewObject(m.FunctionClass.Proto)
	name := ""
	if c, ok := m.callable(fn); ok {
		name = c.FunctionName()
	}
	o.Native = &BoundMethod{Fn: fn, This: this, Name: name}
	return o.Value()
}

func (m *Machine) callable(v avm.Value) (avm.Callable, bool) {
	o := m.Heap.Deref(v)
	if o == nil {
		return nil, false
	}
	c, ok := o.Native.(avm.Callable)
	return c, ok
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// call invokes a callable value. Calling a class object converts the
// argument to the class.
func (m *Machine) call(fnv, this avm.Value, args []avm.Value) (avm.Value, error) {
	o := m.Heap.Deref(fnv)
	if o == nil {
		return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "value is not a function")
	}
	switch fn := o.Native.(type) {
	case *avm.NativeFunction:
		if fn.Fn == nil {
			return avm.Undefined, nil
		}
		return fn.Fn(this, args)
	case *Method:
		return m.invoke(o, fn, this, args)
	case *BoundMethod:
		return m.call(fn.Fn, fn.This, args)
	case *avm.Class:
		if def := defOf(fn); def != nil && def.call != nil {
			return def.call(avm.Undefined, args)
		}
		if len(args) != 1 {
			return avm.Undefined, avm.Errorf(ErrArgumentCount, "%s: expected 1 argument, got %d", fn.Name, len(args))
		}
		return m.coerce(args[0], fn)
	}
	return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "%s is not a function", m.describe(fnv))
}

// construct runs `new fn(args)` for class objects, bytecode functions
// and native constructors.
func (m *Machine) construct(fnv avm.Value, args []avm.Value) (avm.Value, error) {
	o := m.Heap.Deref(fnv)
	if o == nil {
		return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "cannot construct %s", m.describe(fnv))
	}
	switch fn := o.Native.(type) {
	case *avm.Class:
		return m.constructClass(fn, args)
	case *avm.NativeFunction:
		if fn.Construct != nil {
			return fn.Construct(avm.Undefined, args)
		}
	case *Method:
		proto := m.Heap.Get(o, "prototype")
		if !proto.IsObject() {
			proto = m.ObjectClass.Proto
		}
		inst := m.newObject()
		inst.Proto = proto
		r, err := m.invoke(o, fn, inst.Value(), args)
		if err != nil {
			return avm.Undefined, err
		}
		if r.IsObject() {
			return r, nil
		}
		return inst.Value(), nil
	}
	return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "%s is not a constructor", m.describe(fnv))
}

// invoke runs a bytecode method: it fills the locals from the arguments,
// applying declared types and defaults, and executes the body.
func (m *Machine) invoke(callee *avm.Object, fn *Method, this avm.Value, args []avm.Value) (avm.Value, error) {
	info := fn.Info
	body := info.Body
	if body == nil {
		return avm.Undefined, avm.Errorf(avm.ErrVerify, "method %s has no body", fn.FunctionName())
	}
	if this.IsNullish() && len(fn.Scope) > 0 {
		this = fn.Scope[0]
	}
	params := len(info.ParamTypes)
	required := params - len(info.Options)
	if len(args) < required {
		return avm.Undefined, avm.Errorf(ErrArgumentCount,
			"%s: expected %d arguments, got %d", fn.FunctionName(), required, len(args))
	}
	locals := make([]avm.Value, max(body.LocalCount, params+2))
	for i := range locals {
		locals[i] = avm.Undefined
	}
	locals[0] = this
	for i := 0; i < params; i++ {
		var v avm.Value
		if i < len(args) {
			v = args[i]
		} else {
			opt := info.Options[i-required]
			var err error
			if v, err = fn.ABC.constant(m.Heap, opt.Kind, opt.Index); err != nil {
				return avm.Undefined, err
			}
		}
		v, err := m.coerceTo(fn.ABC, info.ParamTypes[i], v)
		if err != nil {
			return avm.Undefined, err
		}
		locals[i+1] = v
	}
	switch {
	case info.Flags&MethodNeedRest != 0:
		var rest []avm.Value
		if len(args) > params {
			rest = slices.Clone(args[params:])
		}
		locals[params+1] = m.newArray(rest).Value()
	case info.Flags&MethodNeedArguments != 0:
		a := m.newArray(slices.Clone(args))
		a.Define("callee", callee.Value(), avm.DontEnum)
		locals[params+1] = a.Value()
	}

	handlers := make([]avm.Handler, len(body.Exceptions))
	for i := range body.Exceptions {
		e := &body.Exceptions[i]
		handlers[i] = avm.Handler{From: e.From, To: e.To, Target: e.Target, Catch: e, Register: -1, Finally: -1}
	}
	f := &avm.Frame{
		Function: fn,
		Callee:   callee.Value(),
		This:     this,
		Args:     args,
		Locals:   locals,
		Code:     body.Code,
		Handlers: handlers,
		State:    &frameState{method: fn, result: avm.Undefined},
	}
	return m.execute(f)
}

// frameState is the per-frame data of a running method.
type frameState struct {
	method *Method
	result avm.Value
	// with marks the entries of the frame's scope stack pushed by
	// pushwith, whose dynamic properties are visible to lookups.
	with []bool
}

func (st *frameState) Trace(m *avm.Marker) { m.Mark(st.result) }

func argAt(args []avm.Value, i int) avm.Value {
	if i < len(args) {
		return args[i]
	}
	return avm.Undefined
}
