package avm1

import (
	"math"

	"github.com/chazu/swfvm/avm"
)

// Coercions of the legacy dialect. They differ from the shared ones by
// file version: before version 7 undefined converts to 0 and "", and
// strings are truthy only when they parse to a non-zero number.

func (m *Machine) toPrimitive(o *avm.Object, hint avm.Hint) (avm.Value, error) {
	order := []string{"valueOf", "toString"}
	if hint == avm.HintString {
		order = []string{"toString", "valueOf"}
	}
	for _, name := range order {
		fn := m.Heap.Get(o, name)
		fo := m.Heap.Deref(fn)
		if fo == nil || !avm.IsCallable(fo) {
			continue
		}
		v, err := m.call(fn, o.Value(), nil)
		if err != nil {
			return avm.Undefined, err
		}
		if !v.IsObject() {
			return v, nil
		}
	}
	return m.Heap.DefaultPrimitive(o, hint), nil
}

func (m *Machine) toNumber(v avm.Value) (float64, error) {
	switch v.Type() {
	case avm.TypeUndefined:
		if m.Version < 7 {
			return 0, nil
		}
		return math.NaN(), nil
	case avm.TypeString:
		s, _ := m.Heap.StringOf(v)
		return avm.ParseNumber(s, false), nil
	case avm.TypeObject:
		p, err := m.Heap.ToPrimitive(v, avm.HintNumber)
		if err != nil {
			return 0, err
		}
		if p.IsObject() {
			return math.NaN(), nil
		}
		return m.toNumber(p)
	}
	return m.Heap.ToNumber(v)
}

func (m *Machine) toString(v avm.Value) (string, error) {
	switch v.Type() {
	case avm.TypeNumber:
		return avm.NumberToStringPrecision(v.Float64(), 15, 15), nil
	case avm.TypeUndefined:
		if m.Version < 7 {
			return "", nil
		}
		return "undefined", nil
	case avm.TypeObject:
		p, err := m.Heap.ToPrimitive(v, avm.HintString)
		if err != nil {
			return "", err
		}
		if p.IsObject() {
			return "[object Object]", nil
		}
		return m.toString(p)
	}
	return m.Heap.ToString(v)
}

func (m *Machine) toBoolean(v avm.Value) bool {
	if v.IsString() && m.Version < 7 {
		s, _ := m.Heap.StringOf(v)
		f := avm.ParseNumber(s, false)
		return f != 0 && !math.IsNaN(f)
	}
	return m.Heap.ToBoolean(v)
}

func (m *Machine) toInt32(v avm.Value) (int32, error) {
	f, err := m.toNumber(v)
	return int32(avm.ToUint32(f)), err
}

// str interns a Go string as a script value.
func (m *Machine) str(s string) avm.Value { return m.Heap.Str(s) }

// legacyBool is the result of the version 4 logical actions: numbers
// before version 5, booleans after.
func (m *Machine) legacyBool(b bool) avm.Value {
	if m.Version < 5 {
		if b {
			return avm.Number(1)
		}
		return avm.Number(0)
	}
	return avm.Bool(b)
}
