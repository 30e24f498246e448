package avm

import (
	"strings"
)

// NativeFn is a host-implemented function body.
type NativeFn func(this Value, args []Value) (Value, error)

// NativeFunction is the payload of a function object implemented in Go.
type NativeFunction struct {
	Name string
	Fn   NativeFn
	// Construct, when set, runs for `new` instead of Fn.
	Construct NativeFn
}

// Callable is implemented by every function payload: native bodies and
// the dialects' compiled functions.
type Callable interface {
	FunctionName() string
}

func (n *NativeFunction) FunctionName() string { return n.Name }

// IsCallable reports whether o is a function object.
func IsCallable(o *Object) bool {
	_, ok := o.Native.(Callable)
	return ok
}

// NewNative allocates a function object for fn.
func (h *Heap) NewNative(name string, proto Value, fn NativeFn) *Object {
	o := h.NewObject(proto)
	o.Native = &NativeFunction{Name: name, Fn: fn}
	return o
}

// Boxed wraps a primitive in an object, as `new Number(1)` does.
type Boxed struct {
	Value Value
}

func (b *Boxed) Trace(m *Marker) { m.Mark(b.Value) }

// Array is the element store of an array object.
type Array struct {
	Elems []Value
}

func (a *Array) Trace(m *Marker) { m.MarkAll(a.Elems) }

// NewArray allocates an array object.
func (h *Heap) NewArray(proto Value, elems []Value) *Object {
	o := h.NewObject(proto)
	o.Native = &Array{Elems: elems}
	return o
}

// Join renders the elements of an array separated by sep. Undefined and
// null elements render empty.
func (h *Heap) Join(a *Array, sep string) (string, error) {
	parts := make([]string, len(a.Elems))
	for i, e := range a.Elems {
		if e.IsNullish() {
			continue
		}
		s, err := h.ToString(e)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

// ArrayOf returns the element store of an array object.
func ArrayOf(o *Object) (*Array, bool) {
	if o == nil {
		return nil, false
	}
	a, ok := o.Native.(*Array)
	return a, ok
}
