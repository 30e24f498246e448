package avm2

import (
	"errors"
	"math"

	"github.com/chazu/swfvm/avm"
)

var nan = math.NaN()

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// toPrimitive calls valueOf and toString in hint order.
func (m *Machine) toPrimitive(o *avm.Object, hint avm.Hint) (avm.Value, error) {
	if _, ok := o.Native.(*avm.Boxed); ok {
		return m.Heap.DefaultPrimitive(o, hint), nil
	}
	order := []string{"valueOf", "toString"}
	if hint == avm.HintString {
		order = []string{"toString", "valueOf"}
	}
	for _, name := range order {
		fn, err := m.getCallee(o.Value(), avm.PublicName(name))
		if err != nil {
			continue
		}
		if _, ok := m.callable(fn); !ok {
			continue
		}
		r, err := m.call(fn, o.Value(), nil)
		if err != nil {
			return avm.Undefined, err
		}
		if !r.IsObject() {
			return r, nil
		}
	}
	return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "cannot convert %s to a primitive", m.className(o))
}

func (m *Machine) toNumber(v avm.Value) (float64, error) { return m.Heap.ToNumber(v) }
func (m *Machine) toString(v avm.Value) (string, error)  { return m.Heap.ToString(v) }
func (m *Machine) toBoolean(v avm.Value) bool            { return m.Heap.ToBoolean(v) }
func (m *Machine) str(s string) avm.Value                { return m.Heap.Str(s) }

func (m *Machine) toInt32(v avm.Value) (int32, error) {
	f, err := m.toNumber(v)
	return int32(avm.ToUint32(f)), err
}

func (m *Machine) toUint32(v avm.Value) (uint32, error) {
	f, err := m.toNumber(v)
	return avm.ToUint32(f), err
}

func (m *Machine) className(o *avm.Object) string {
	if o.Class != nil {
		return o.Class.Name
	}
	return "Object"
}

// describe renders a value for error messages without running script
// code.
func (m *Machine) describe(v avm.Value) string {
	o := m.Heap.Deref(v)
	if o == nil {
		if s, ok := m.Heap.StringOf(v); ok {
			return `"` + s + `"`
		}
		s, _ := m.Heap.ToString(v)
		return s
	}
	if c, ok := o.Native.(avm.Callable); ok {
		return "function " + c.FunctionName()
	}
	if c := classOfObject(o); c != nil {
		return c.String()
	}
	return "[object " + localName(m.className(o)) + "]"
}

// classOfValue returns the class a value is an instance of; nil for
// null and undefined.
func (m *Machine) classOfValue(v avm.Value) *avm.Class {
	switch v.Type() {
	case avm.TypeString:
		return m.StringClass
	case avm.TypeNumber:
		return m.NumberClass
	case avm.TypeBoolean:
		return m.BooleanClass
	case avm.TypeObject:
		o := m.Heap.Deref(v)
		if o == nil {
			return nil
		}
		if o.Class != nil {
			return o.Class
		}
		if classOfObject(o) != nil {
			return m.ClassClass
		}
		if _, ok := o.Native.(avm.Callable); ok {
			return m.FunctionClass
		}
		return m.ObjectClass
	}
	return nil
}

// isType reports whether v is an instance of c.
func (m *Machine) isType(v avm.Value, c *avm.Class) bool {
	switch c {
	case nil:
		return true
	case m.IntClass:
		f := v.Float64()
		return v.IsNumber() && f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32
	case m.UintClass:
		f := v.Float64()
		return v.IsNumber() && f == math.Trunc(f) && f >= 0 && f <= math.MaxUint32
	}
	vc := m.classOfValue(v)
	return vc != nil && vc.IsSubclassOf(c)
}

// coerce converts v to class c: primitive classes convert, other
// classes accept null and their instances and fail otherwise.
func (m *Machine) coerce(v avm.Value, c *avm.Class) (avm.Value, error) {
	switch c {
	case nil:
		return v, nil
	case m.IntClass:
		i, err := m.toInt32(v)
		return avm.Number(float64(i)), err
	case m.UintClass:
		u, err := m.toUint32(v)
		return avm.Number(float64(u)), err
	case m.NumberClass:
		f, err := m.toNumber(v)
		return avm.Number(f), err
	case m.BooleanClass:
		return avm.Bool(m.toBoolean(v)), nil
	case m.StringClass:
		if v.IsNullish() {
			return avm.Null, nil
		}
		s, err := m.toString(v)
		return m.str(s), err
	case m.ObjectClass:
		if v.IsUndefined() {
			return avm.Null, nil
		}
		return v, nil
	}
	if v.IsNullish() {
		return avm.Null, nil
	}
	if m.isType(v, c) {
		return v, nil
	}
	return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion,
		"type coercion failed: cannot convert %s to %s", m.describe(v), c.Name)
}

// coerceNamed coerces to a class by qualified name. Types that are not
// loaded pass values through.
func (m *Machine) coerceNamed(v avm.Value, typeName string) (avm.Value, error) {
	if typeName == "" || typeName == "*" {
		return v, nil
	}
	c, err := m.Domain.ClassByName(typeName)
	if err != nil || c == nil {
		return v, err
	}
	return m.coerce(v, c)
}

// typeClass resolves a type multiname; index 0 is the any type.
func (m *Machine) typeClass(f *ABCFile, index int) (*avm.Class, error) {
	if index == 0 {
		return nil, nil
	}
	name, err := f.qname(index)
	if err != nil {
		return nil, err
	}
	if name.Local == "*" || name.Local == "void" {
		return nil, nil
	}
	c, err := m.Domain.lookupClass(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, avm.Errorf(avm.ErrVerify, "class %s could not be found", name)
	}
	return c, nil
}

func (m *Machine) coerceTo(f *ABCFile, typeIndex int, v avm.Value) (avm.Value, error) {
	c, err := m.typeClass(f, typeIndex)
	if err != nil {
		return avm.Undefined, err
	}
	return m.coerce(v, c)
}

// ---------------------------------------------------------------------------
// Objects and errors
// ---------------------------------------------------------------------------

// newObject allocates a plain dynamic Object instance.
func (m *Machine) newObject() *avm.Object {
	return m.newInstance(m.ObjectClass)
}

func (m *Machine) newArray(elems []avm.Value) *avm.Object {
	o := m.newInstance(m.ArrayClass)
	o.Native.(*avm.Array).Elems = elems
	return o
}

// newError constructs an instance of a built-in error class.
func (m *Machine) newError(class, msg string) avm.Value {
	c, _ := m.Domain.ClassByName(class)
	if c == nil {
		c = m.ErrorClass
	}
	o := m.newInstance(c)
	o.Define("message", m.str(msg), avm.DontEnum)
	return o.Value()
}

// errorClasses maps runtime conditions to the error class scripts see.
var errorClasses = map[error]string{
	avm.ErrPropertyNotFound:    "ReferenceError",
	avm.ErrPropertyNotWritable: "ReferenceError",
	avm.ErrTypeCoercion:        "TypeError",
	ErrArgumentCount:           "ArgumentError",
	ErrRange:                   "RangeError",
}

// exception turns a runtime error into a thrown script value.
func (m *Machine) exception(err error) *avm.Exception {
	var exc *avm.Exception
	if errors.As(err, &exc) {
		return exc
	}
	name, msg := "Error", err.Error()
	var e *avm.Error
	if errors.As(err, &e) {
		if n, ok := errorClasses[e.Kind]; ok {
			name = n
		}
		msg = e.Msg
	}
	return &avm.Exception{Value: m.newError(name, msg), Message: name + ": " + msg}
}

// thrownMessage renders a thrown value for the host.
func (m *Machine) thrownMessage(v avm.Value) string {
	o := m.Heap.Deref(v)
	if o != nil && o.Class != nil && o.Class.IsSubclassOf(m.ErrorClass) {
		msg, _ := m.toString(m.Heap.Get(o, "message"))
		return localName(o.Class.Name) + ": " + msg
	}
	s, err := m.toString(v)
	if err != nil {
		return m.describe(v)
	}
	return s
}
