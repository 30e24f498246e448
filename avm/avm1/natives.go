package avm1

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/swfvm/avm"
)

// ---------------------------------------------------------------------------
// Global object
// ---------------------------------------------------------------------------

func (m *Machine) installGlobals() {
	h := m.Heap
	m.ObjectProto = h.NewObject(avm.Null)
	m.FunctionProto = h.NewObject(m.ObjectProto.Value())
	m.Global = h.NewObject(m.ObjectProto.Value())

	object := m.class("Object", m.ObjectProto, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if v := argAt(args, 0); v.IsObject() {
			return v, nil
		}
		return h.NewObject(m.ObjectProto.Value()).Value(), nil
	})
	m.installObject(object)
	m.installFunction()
	m.installArray()
	m.installString()
	m.installNumber()
	m.installError()
	m.installMath()
	m.installClip()
	m.installHostBridge()
	m.installTimers()

	m.global("parseInt", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		radix, _ := m.toNumber(argAt(args, 1))
		return avm.Number(avm.ParseInt(s, int(radix), true)), nil
	})
	m.global("parseFloat", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		return avm.Number(avm.ParseFloatPrefix(s)), nil
	})
	m.global("isNaN", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := m.toNumber(argAt(args, 0))
		return avm.Bool(math.IsNaN(f)), err
	})
	m.global("isFinite", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := m.toNumber(argAt(args, 0))
		return avm.Bool(!math.IsNaN(f) && !math.IsInf(f, 0)), err
	})
	m.global("ASSetPropFlags", m.setPropFlags)
	m.Global.Define("NaN", avm.Number(math.NaN()), avm.DontEnum|avm.ReadOnly)
	m.Global.Define("Infinity", avm.Number(math.Inf(1)), avm.DontEnum|avm.ReadOnly)
}

// native allocates a function object.
func (m *Machine) native(name string, fn avm.NativeFn) avm.Value {
	return m.Heap.NewNative(name, m.FunctionProto.Value(), fn).Value()
}

func (m *Machine) method(o *avm.Object, name string, fn avm.NativeFn) {
	o.Define(name, m.native(name, fn), avm.DontEnum)
}

func (m *Machine) global(name string, fn avm.NativeFn) {
	m.method(m.Global, name, fn)
}

// class defines a global constructor with the given prototype.
func (m *Machine) class(name string, proto *avm.Object, fn avm.NativeFn) *avm.Object {
	ctor := m.Heap.NewNative(name, m.FunctionProto.Value(), fn)
	ctor.Define("prototype", proto.Value(), avm.DontEnum|avm.DontDelete)
	proto.Define("constructor", ctor.Value(), avm.DontEnum)
	m.Global.Define(name, ctor.Value(), avm.DontEnum)
	return ctor
}

// newFunction wraps a script function body in a function object with a
// fresh prototype.
func (m *Machine) newFunction(fn *Function) avm.Value {
	o := m.Heap.NewObject(m.FunctionProto.Value())
	o.Native = fn
	proto := m.Heap.NewObject(m.ObjectProto.Value())
	proto.Define("constructor", o.Value(), avm.DontEnum)
	o.Define("prototype", proto.Value(), avm.DontEnum)
	return o.Value()
}

// newError creates an Error instance with the given name.
func (m *Machine) newError(name, msg string) avm.Value {
	e := m.Heap.NewObject(m.ErrorProto.Value())
	e.Define("message", m.str(msg), 0)
	if name != "Error" {
		e.Define("name", m.str(name), 0)
	}
	return e.Value()
}

func (m *Machine) thisString(this avm.Value) (string, error) {
	if o := m.Heap.Deref(this); o != nil {
		if b, ok := o.Native.(*avm.Boxed); ok {
			this = b.Value
		}
	}
	return m.toString(this)
}

// ---------------------------------------------------------------------------
// Object and Function
// ---------------------------------------------------------------------------

func (m *Machine) installObject(ctor *avm.Object) {
	h, p := m.Heap, m.ObjectProto
	m.method(p, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if d := m.displayOf(this); d != nil {
			return m.str(m.targetPath(d)), nil
		}
		if o := h.Deref(this); o != nil && avm.IsCallable(o) {
			return m.str("[type Function]"), nil
		}
		return m.str("[object Object]"), nil
	})
	m.method(p, "valueOf", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if o := h.Deref(this); o != nil {
			if b, ok := o.Native.(*avm.Boxed); ok {
				return b.Value, nil
			}
		}
		return this, nil
	})
	m.method(p, "hasOwnProperty", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		o := h.Deref(this)
		if o == nil {
			return avm.False, nil
		}
		key, err := m.toString(argAt(args, 0))
		_, ok := o.Own(key)
		return avm.Bool(ok), err
	})
	m.method(p, "isPrototypeOf", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		proto, o := h.Deref(this), h.Deref(argAt(args, 0))
		return avm.Bool(o != nil && proto != nil && h.InstanceOf(o, proto)), nil
	})
	m.method(p, "addListener", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		l := m.listeners(this, true)
		if !slices.Contains(l.Elems, argAt(args, 0)) {
			l.Elems = append(l.Elems, argAt(args, 0))
		}
		return avm.True, nil
	})
	m.method(p, "removeListener", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		l := m.listeners(this, false)
		if l == nil {
			return avm.False, nil
		}
		i := slices.Index(l.Elems, argAt(args, 0))
		if i >= 0 {
			l.Elems = slices.Delete(l.Elems, i, i+1)
		}
		return avm.Bool(i >= 0), nil
	})
	m.method(ctor, "registerClass", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		m.registry(true).Define(name, argAt(args, 1), 0)
		return avm.True, nil
	})
}

// listeners returns the _listeners array of a broadcaster.
func (m *Machine) listeners(this avm.Value, create bool) *avm.Array {
	o := m.Heap.Deref(this)
	if o == nil {
		return &avm.Array{}
	}
	if a, ok := avm.ArrayOf(m.Heap.Deref(m.Heap.Get(o, "_listeners"))); ok {
		return a
	}
	if !create {
		return nil
	}
	arr := m.Heap.NewArray(m.ArrayProto.Value(), nil)
	o.Define("_listeners", arr.Value(), avm.DontEnum)
	a, _ := avm.ArrayOf(arr)
	return a
}

// registry holds classes registered for exported symbols.
func (m *Machine) registry(create bool) *avm.Object {
	if r := m.Heap.Deref(m.Heap.Get(m.Global, "__classes__")); r != nil || !create {
		return r
	}
	r := m.Heap.NewObject(avm.Null)
	m.Global.Define("__classes__", r.Value(), avm.DontEnum)
	return r
}

func (m *Machine) installFunction() {
	p := m.FunctionProto
	p.Native = &avm.NativeFunction{Name: "Function"}
	m.class("Function", p, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Undefined, nil
	})
	m.method(p, "call", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		var rest []avm.Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return m.call(this, argAt(args, 0), rest)
	})
	m.method(p, "apply", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		var rest []avm.Value
		if a, ok := avm.ArrayOf(m.Heap.Deref(argAt(args, 1))); ok {
			rest = slices.Clone(a.Elems)
		}
		return m.call(this, argAt(args, 0), rest)
	})
}

// setPropFlags is ASSetPropFlags(obj, props, set, clear). props is a
// comma-separated list, an array, or null for every property.
func (m *Machine) setPropFlags(this avm.Value, args []avm.Value) (avm.Value, error) {
	o := m.Heap.Deref(argAt(args, 0))
	if o == nil {
		return avm.Undefined, nil
	}
	var names []string
	switch props := argAt(args, 1); {
	case props.IsNull():
		for _, k := range o.Keys() {
			names = append(names, k)
		}
	case props.IsString():
		s, _ := m.Heap.StringOf(props)
		names = strings.Split(s, ",")
	default:
		if a, ok := avm.ArrayOf(m.Heap.Deref(props)); ok {
			for _, e := range a.Elems {
				s, _ := m.toString(e)
				names = append(names, s)
			}
		}
	}
	set, _ := m.toInt32(argAt(args, 2))
	clear, _ := m.toInt32(argAt(args, 3))
	conv := func(bits int32) avm.Attr {
		var a avm.Attr
		if bits&1 != 0 {
			a |= avm.DontEnum
		}
		if bits&2 != 0 {
			a |= avm.DontDelete
		}
		if bits&4 != 0 {
			a |= avm.ReadOnly
		}
		return a
	}
	for _, n := range names {
		o.SetAttrs(n, conv(set), conv(clear))
	}
	return avm.Undefined, nil
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

func (m *Machine) installArray() {
	h := m.Heap
	m.ArrayProto = h.NewArray(m.ObjectProto.Value(), nil)
	p := m.ArrayProto
	m.class("Array", p, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		var elems []avm.Value
		if len(args) == 1 && args[0].IsNumber() {
			elems = resize(nil, int(avm.ToUint32(args[0].Float64())))
		} else {
			elems = slices.Clone(args)
		}
		return h.NewArray(p.Value(), elems).Value(), nil
	})
	elems := func(this avm.Value) *avm.Array {
		if a, ok := avm.ArrayOf(h.Deref(this)); ok {
			return a
		}
		return &avm.Array{}
	}
	join := func(this avm.Value, sep string) (avm.Value, error) {
		parts := make([]string, 0, len(elems(this).Elems))
		for _, e := range elems(this).Elems {
			s, err := m.toString(e)
			if err != nil {
				return avm.Undefined, err
			}
			if e.IsUndefined() {
				s = ""
			}
			parts = append(parts, s)
		}
		return m.str(strings.Join(parts, sep)), nil
	}

	m.method(p, "push", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a := elems(this)
		a.Elems = append(a.Elems, args...)
		return avm.Number(float64(len(a.Elems))), nil
	})
	m.method(p, "pop", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a := elems(this)
		if len(a.Elems) == 0 {
			return avm.Undefined, nil
		}
		v := a.Elems[len(a.Elems)-1]
		a.Elems = a.Elems[:len(a.Elems)-1]
		return v, nil
	})
	m.method(p, "shift", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a := elems(this)
		if len(a.Elems) == 0 {
			return avm.Undefined, nil
		}
		v := a.Elems[0]
		a.Elems = slices.Delete(a.Elems, 0, 1)
		return v, nil
	})
	m.method(p, "unshift", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a := elems(this)
		a.Elems = slices.Insert(a.Elems, 0, args...)
		return avm.Number(float64(len(a.Elems))), nil
	})
	m.method(p, "join", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		sep := ","
		if v := argAt(args, 0); !v.IsUndefined() {
			var err error
			if sep, err = m.toString(v); err != nil {
				return avm.Undefined, err
			}
		}
		return join(this, sep)
	})
	m.method(p, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return join(this, ",")
	})
	m.method(p, "reverse", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		slices.Reverse(elems(this).Elems)
		return this, nil
	})
	m.method(p, "slice", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		src := elems(this).Elems
		start, end := m.sliceBounds(args, len(src))
		return h.NewArray(p.Value(), slices.Clone(src[start:end])).Value(), nil
	})
	m.method(p, "concat", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		out := slices.Clone(elems(this).Elems)
		for _, v := range args {
			if a, ok := avm.ArrayOf(h.Deref(v)); ok {
				out = append(out, a.Elems...)
			} else {
				out = append(out, v)
			}
		}
		return h.NewArray(p.Value(), out).Value(), nil
	})
	m.method(p, "splice", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a := elems(this)
		start, _ := m.sliceBounds(args[:min(len(args), 1)], len(a.Elems))
		count := len(a.Elems) - start
		if len(args) > 1 {
			n, _ := m.toNumber(args[1])
			count = max(0, min(int(n), count))
		}
		removed := slices.Clone(a.Elems[start : start+count])
		var insert []avm.Value
		if len(args) > 2 {
			insert = args[2:]
		}
		a.Elems = slices.Replace(a.Elems, start, start+count, insert...)
		return h.NewArray(p.Value(), removed).Value(), nil
	})
	m.method(p, "sort", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a := elems(this)
		cmp := argAt(args, 0)
		var sortErr error
		sort.SliceStable(a.Elems, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			if fo := h.Deref(cmp); fo != nil && avm.IsCallable(fo) {
				r, err := m.call(cmp, avm.Undefined, []avm.Value{a.Elems[i], a.Elems[j]})
				if err != nil {
					sortErr = err
					return false
				}
				n, _ := m.toNumber(r)
				return n < 0
			}
			x, _ := m.toString(a.Elems[i])
			y, _ := m.toString(a.Elems[j])
			return x < y
		})
		return this, sortErr
	})
}

// sliceBounds resolves slice(start, end) arguments, counting negative
// positions from the end.
func (m *Machine) sliceBounds(args []avm.Value, n int) (int, int) {
	clamp := func(v avm.Value, def int) int {
		if v.IsUndefined() {
			return def
		}
		f, _ := m.toNumber(v)
		i := int(f)
		if i < 0 {
			i += n
		}
		return max(0, min(i, n))
	}
	start := clamp(argAt(args, 0), 0)
	end := clamp(argAt(args, 1), n)
	return start, max(start, end)
}

// ---------------------------------------------------------------------------
// String, Number, Boolean
// ---------------------------------------------------------------------------

func (m *Machine) installString() {
	h := m.Heap
	m.StringProto = h.NewObject(m.ObjectProto.Value())
	p := m.StringProto
	p.Native = &avm.Boxed{Value: m.str("")}
	ctor := m.class("String", p, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if len(args) == 0 {
			return m.str(""), nil
		}
		s, err := m.toString(args[0])
		return m.str(s), err
	})
	ctor.Native.(*avm.NativeFunction).Construct = func(_ avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.toString(argAt(args, 0))
		o := h.NewObject(p.Value())
		o.Native = &avm.Boxed{Value: m.str(s)}
		return o.Value(), err
	}
	m.method(ctor, "fromCharCode", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		var b strings.Builder
		for _, a := range args {
			n, _ := m.toNumber(a)
			b.WriteRune(rune(avm.ToUint32(n) & 0xFFFF))
		}
		return m.str(b.String()), nil
	})

	str := func(fn func(s []rune, args []avm.Value) avm.Value) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			s, err := m.thisString(this)
			if err != nil {
				return avm.Undefined, err
			}
			return fn([]rune(s), args), nil
		}
	}
	num := func(v avm.Value) int {
		f, _ := m.toNumber(v)
		if math.IsNaN(f) {
			return 0
		}
		return int(f)
	}
	m.method(p, "toString", str(func(s []rune, _ []avm.Value) avm.Value { return m.str(string(s)) }))
	m.method(p, "valueOf", str(func(s []rune, _ []avm.Value) avm.Value { return m.str(string(s)) }))
	m.method(p, "toUpperCase", str(func(s []rune, _ []avm.Value) avm.Value { return m.str(strings.ToUpper(string(s))) }))
	m.method(p, "toLowerCase", str(func(s []rune, _ []avm.Value) avm.Value { return m.str(strings.ToLower(string(s))) }))
	m.method(p, "charAt", str(func(s []rune, args []avm.Value) avm.Value {
		i := num(argAt(args, 0))
		if i < 0 || i >= len(s) {
			return m.str("")
		}
		return m.str(string(s[i]))
	}))
	m.method(p, "charCodeAt", str(func(s []rune, args []avm.Value) avm.Value {
		i := num(argAt(args, 0))
		if i < 0 || i >= len(s) {
			return avm.Number(math.NaN())
		}
		return avm.Number(float64(s[i]))
	}))
	m.method(p, "indexOf", str(func(s []rune, args []avm.Value) avm.Value {
		sub, _ := m.toString(argAt(args, 0))
		from := max(0, min(num(argAt(args, 1)), len(s)))
		i := strings.Index(string(s[from:]), sub)
		if i < 0 {
			return avm.Number(-1)
		}
		return avm.Number(float64(from + len([]rune(string(s[from:])[:i]))))
	}))
	m.method(p, "lastIndexOf", str(func(s []rune, args []avm.Value) avm.Value {
		sub, _ := m.toString(argAt(args, 0))
		i := strings.LastIndex(string(s), sub)
		if i < 0 {
			return avm.Number(-1)
		}
		return avm.Number(float64(len([]rune(string(s)[:i]))))
	}))
	m.method(p, "substr", str(func(s []rune, args []avm.Value) avm.Value {
		start := num(argAt(args, 0))
		if start < 0 {
			start = max(0, len(s)+start)
		}
		count := -1
		if v := argAt(args, 1); !v.IsUndefined() {
			count = max(0, num(v))
		}
		return m.str(substring(string(s), start, count))
	}))
	m.method(p, "substring", str(func(s []rune, args []avm.Value) avm.Value {
		start := max(0, min(num(argAt(args, 0)), len(s)))
		end := len(s)
		if v := argAt(args, 1); !v.IsUndefined() {
			end = max(0, min(num(v), len(s)))
		}
		if start > end {
			start, end = end, start
		}
		return m.str(string(s[start:end]))
	}))
	m.method(p, "slice", str(func(s []rune, args []avm.Value) avm.Value {
		start, end := m.sliceBounds(args, len(s))
		return m.str(string(s[start:end]))
	}))
	m.method(p, "split", str(func(s []rune, args []avm.Value) avm.Value {
		var parts []string
		if sep := argAt(args, 0); sep.IsUndefined() {
			parts = []string{string(s)}
		} else {
			d, _ := m.toString(sep)
			parts = strings.Split(string(s), d)
		}
		out := make([]avm.Value, len(parts))
		for i, part := range parts {
			out[i] = m.str(part)
		}
		return h.NewArray(m.ArrayProto.Value(), out).Value()
	}))
	m.method(p, "concat", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.thisString(this)
		for _, a := range args {
			t, _ := m.toString(a)
			s += t
		}
		return m.str(s), err
	})
}

func (m *Machine) installNumber() {
	h := m.Heap
	m.NumberProto = h.NewObject(m.ObjectProto.Value())
	m.BooleanProto = h.NewObject(m.ObjectProto.Value())

	number := m.class("Number", m.NumberProto, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if len(args) == 0 {
			return avm.Number(0), nil
		}
		f, err := m.toNumber(args[0])
		return avm.Number(f), err
	})
	number.Define("MAX_VALUE", avm.Number(math.MaxFloat64), avm.DontEnum|avm.ReadOnly)
	number.Define("MIN_VALUE", avm.Number(5e-324), avm.DontEnum|avm.ReadOnly)
	number.Define("NaN", avm.Number(math.NaN()), avm.DontEnum|avm.ReadOnly)
	number.Define("POSITIVE_INFINITY", avm.Number(math.Inf(1)), avm.DontEnum|avm.ReadOnly)
	number.Define("NEGATIVE_INFINITY", avm.Number(math.Inf(-1)), avm.DontEnum|avm.ReadOnly)
	m.method(m.NumberProto, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if o := h.Deref(this); o != nil {
			if b, ok := o.Native.(*avm.Boxed); ok {
				this = b.Value
			}
		}
		f, err := m.toNumber(this)
		if err != nil {
			return avm.Undefined, err
		}
		radix, _ := m.toNumber(argAt(args, 0))
		if r := int(radix); r >= 2 && r <= 36 && r != 10 && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return m.str(strconv.FormatInt(int64(f), r)), nil
		}
		return m.str(avm.NumberToStringPrecision(f, 15, 15)), nil
	})

	m.class("Boolean", m.BooleanProto, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Bool(m.toBoolean(argAt(args, 0))), nil
	})
	m.method(m.BooleanProto, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if o := h.Deref(this); o != nil {
			if b, ok := o.Native.(*avm.Boxed); ok {
				this = b.Value
			}
		}
		return m.str(strconv.FormatBool(this == avm.True)), nil
	})
}

// ---------------------------------------------------------------------------
// Error and Math
// ---------------------------------------------------------------------------

func (m *Machine) installError() {
	h := m.Heap
	m.ErrorProto = h.NewObject(m.ObjectProto.Value())
	p := m.ErrorProto
	p.Define("name", m.str("Error"), avm.DontEnum)
	p.Define("message", m.str("Error"), avm.DontEnum)
	m.class("Error", p, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if o := h.Deref(this); o != nil && h.InstanceOf(o, p) {
			if msg := argAt(args, 0); !msg.IsUndefined() {
				o.Define("message", msg, 0)
			}
			return this, nil
		}
		msg, err := m.toString(argAt(args, 0))
		return m.newError("Error", msg), err
	})
	m.method(p, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		o := h.Deref(this)
		if o == nil {
			return m.str("Error"), nil
		}
		return h.Get(o, "message"), nil
	})
}

func (m *Machine) installMath() {
	h := m.Heap
	mathObj := h.NewObject(m.ObjectProto.Value())
	m.Global.Define("Math", mathObj.Value(), avm.DontEnum)
	consts := map[string]float64{
		"PI": math.Pi, "E": math.E, "LN2": math.Ln2, "LN10": math.Ln10,
		"LOG2E": math.Log2E, "LOG10E": math.Log10E, "SQRT2": math.Sqrt2, "SQRT1_2": math.Sqrt2 / 2,
	}
	for name, v := range consts {
		mathObj.Define(name, avm.Number(v), avm.DontEnum|avm.ReadOnly|avm.DontDelete)
	}
	unary := map[string]func(float64) float64{
		"abs": math.Abs, "ceil": math.Ceil, "floor": math.Floor, "sqrt": math.Sqrt,
		"sin": math.Sin, "cos": math.Cos, "tan": math.Tan, "asin": math.Asin,
		"acos": math.Acos, "atan": math.Atan, "exp": math.Exp, "log": math.Log,
		"round": func(f float64) float64 { return math.Floor(f + 0.5) },
	}
	for name, fn := range unary {
		m.method(mathObj, name, func(this avm.Value, args []avm.Value) (avm.Value, error) {
			f, err := m.toNumber(argAt(args, 0))
			return avm.Number(fn(f)), err
		})
	}
	binary := map[string]func(float64, float64) float64{
		"atan2": math.Atan2, "pow": math.Pow,
		"min": func(a, b float64) float64 {
			if math.IsNaN(a) || math.IsNaN(b) {
				return math.NaN()
			}
			return math.Min(a, b)
		},
		"max": func(a, b float64) float64 {
			if math.IsNaN(a) || math.IsNaN(b) {
				return math.NaN()
			}
			return math.Max(a, b)
		},
	}
	for name, fn := range binary {
		m.method(mathObj, name, func(this avm.Value, args []avm.Value) (avm.Value, error) {
			a, err := m.toNumber(argAt(args, 0))
			if err != nil {
				return avm.Undefined, err
			}
			b, err := m.toNumber(argAt(args, 1))
			return avm.Number(fn(a, b)), err
		})
	}
	m.method(mathObj, "random", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Number(m.rng.Float64()), nil
	})
}

// ---------------------------------------------------------------------------
// Host bridge and timers
// ---------------------------------------------------------------------------

func (m *Machine) installHostBridge() {
	h := m.Heap
	flash := h.NewObject(m.ObjectProto.Value())
	external := h.NewObject(m.ObjectProto.Value())
	ei := h.NewObject(m.ObjectProto.Value())
	m.Global.Define("flash", flash.Value(), avm.DontEnum)
	flash.Define("external", external.Value(), 0)
	external.Define("ExternalInterface", ei.Value(), 0)

	ei.Define("available", avm.True, avm.ReadOnly)
	m.method(ei, "call", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		var rest []avm.Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return m.Host.CallHost(name, rest)
	})
	m.method(ei, "addCallback", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.False, err
		}
		m.Host.Expose(name, argAt(args, 1), argAt(args, 2))
		return avm.True, nil
	})

	for _, name := range []string{"Key", "Mouse", "Stage"} {
		o := h.NewObject(m.ObjectProto.Value())
		m.Global.Define(name, o.Value(), avm.DontEnum)
	}
}

func (m *Machine) installTimers() {
	schedule := func(repeat bool) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			fn, target, rest := argAt(args, 0), avm.Undefined, args
			if len(rest) > 0 {
				rest = rest[1:]
			}
			if fo := m.Heap.Deref(fn); fo == nil || !avm.IsCallable(fo) {
				// setInterval(object, "method", delay, ...)
				name, err := m.toString(argAt(args, 1))
				if err != nil {
					return avm.Undefined, err
				}
				target = fn
				if fn, err = m.getMember(target, name); err != nil {
					return avm.Undefined, err
				}
				if len(rest) > 0 {
					rest = rest[1:]
				}
			}
			delay, _ := m.toNumber(argAt(rest, 0))
			if len(rest) > 0 {
				rest = rest[1:]
			}
			id := m.Host.SetTimer(fn, target, slices.Clone(rest), delay, repeat)
			return avm.Number(float64(id)), nil
		}
	}
	cancel := func(this avm.Value, args []avm.Value) (avm.Value, error) {
		id, _ := m.toNumber(argAt(args, 0))
		m.Host.ClearTimer(int(id))
		return avm.Undefined, nil
	}
	m.global("setInterval", schedule(true))
	m.global("setTimeout", schedule(false))
	m.global("clearInterval", cancel)
	m.global("clearTimeout", cancel)
}

// Broadcast invokes the handler for kind on every listener registered
// with a global broadcaster such as Key or Mouse.
func (m *Machine) Broadcast(source, kind string, args []avm.Value) error {
	l := m.listeners(m.Heap.Get(m.Global, source), false)
	if l == nil {
		return nil
	}
	for _, target := range slices.Clone(l.Elems) {
		if _, err := m.CallMethod(target, HandlerName(kind), args); err != nil {
			return err
		}
	}
	return nil
}
