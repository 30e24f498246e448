package avm2

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/chazu/swfvm/avm"
)

// binding is a built-in definition visible from every script.
type binding struct {
	name  avm.Name
	value avm.Value
}

func localName(qualified string) string {
	if i := strings.LastIndex(qualified, "::"); i >= 0 {
		return qualified[i+2:]
	}
	return qualified
}

// builtinError carries a link failure of a built-in class out of the
// install functions.
type builtinError struct{ err error }

// installing runs fn and returns the first built-in link failure it
// raised.
func installing(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(builtinError)
			if !ok {
				panic(r)
			}
			err = b.err
		}
	}()
	fn()
	return nil
}

// installBuiltins creates the core and player classes and publishes them
// through a pre-initialized global script.
func (m *Machine) installBuiltins() error {
	return installing(m.install)
}

func (m *Machine) install() {
	m.installCore()
	m.installErrors()
	m.installArray()
	m.installPrimitives()
	m.installMath()
	m.installGlobals()
	m.installFlash()

	cls := avm.NewClass("global", nil, 0)
	cls.Native = &classDef{dynamicScope: true}
	cls.Proto = m.ObjectClass.Proto
	for _, b := range m.globals {
		ns := avm.PublicNS
		if len(b.name.NS) > 0 {
			ns = b.name.NS[0]
		}
		cls.AddTrait(&avm.Trait{Name: ns, Local: b.name.Local, Kind: avm.TraitConst, Default: b.value, Value: avm.Undefined})
	}
	if err := cls.Link(); err != nil {
		panic(builtinError{fmt.Errorf("avm2: builtin global: %w", err)})
	}
	m.globals = nil
	global := m.newInstance(cls)
	m.Domain.scripts = append(m.Domain.scripts, &script{global: global, state: scriptDone})
}

// ---------------------------------------------------------------------------
// Class construction helpers
// ---------------------------------------------------------------------------

func (m *Machine) native(name string, fn avm.NativeFn) avm.Value {
	return m.Heap.NewNative(name, m.FunctionClass.Proto, fn).Value()
}

// nativeClass starts a built-in class named pkg::Name. Instances inherit
// the native payload allocator of the superclass.
func (m *Machine) nativeClass(name string, super *avm.Class, flags avm.ClassFlags) (*avm.Class, *classDef) {
	c := avm.NewClass(name, super, flags)
	def := &classDef{}
	if sd := defOf(super); sd != nil {
		def.alloc = sd.alloc
	}
	c.Native = def
	return c, def
}

func (m *Machine) overrides(c *avm.Class, name string, kind avm.TraitKind) bool {
	if c.Super == nil {
		return false
	}
	for _, t := range c.Super.FindTraits(avm.PublicName(name)) {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

func (m *Machine) trait(c *avm.Class, name string, kind avm.TraitKind, fn avm.NativeFn) {
	c.AddTrait(&avm.Trait{
		Local:    name,
		Kind:     kind,
		Override: m.overrides(c, name, kind),
		Value:    m.native(name, fn),
		Default:  avm.Undefined,
	})
}

func (m *Machine) method(c *avm.Class, name string, fn avm.NativeFn) {
	m.trait(c, name, avm.TraitMethod, fn)
}

// accessor declares a getter and, when set is non-nil, a setter.
func (m *Machine) accessor(c *avm.Class, name string, get, set avm.NativeFn) {
	m.trait(c, name, avm.TraitGetter, get)
	if set != nil {
		m.trait(c, name, avm.TraitSetter, set)
	}
}

func (m *Machine) staticMethod(c *avm.Class, name string, fn avm.NativeFn) {
	c.AddStaticTrait(&avm.Trait{Local: name, Kind: avm.TraitMethod, Value: m.native(name, fn), Default: avm.Undefined})
}

func (m *Machine) constant(c *avm.Class, name string, v avm.Value) {
	c.AddStaticTrait(&avm.Trait{Local: name, Kind: avm.TraitConst, Default: v, Value: avm.Undefined})
}

// finish links a built-in class, creates its class object and publishes
// it.
func (m *Machine) finish(c *avm.Class) *avm.Class {
	if err := c.Link(); err != nil {
		panic(builtinError{fmt.Errorf("avm2: builtin %w", err)})
	}
	m.classObject(c)
	m.Domain.classes[c.Name] = c
	m.define(c.Name, c.Object)
	return c
}

// define publishes a global under a qualified name.
func (m *Machine) define(qualified string, v avm.Value) {
	m.globals = append(m.globals, binding{name: splitName(qualified), value: v})
}

func (m *Machine) function(qualified string, fn avm.NativeFn) {
	m.define(qualified, m.native(localName(qualified), fn))
}

// protoMethod adds a non-enumerable method to the prototype of c.
func (m *Machine) protoMethod(c *avm.Class, name string, fn avm.NativeFn) {
	m.Heap.Deref(c.Proto).Define(name, m.native(name, fn), avm.DontEnum)
}

func (m *Machine) argString(args []avm.Value, i int, def string) (string, error) {
	if i >= len(args) || args[i].IsUndefined() {
		return def, nil
	}
	return m.toString(args[i])
}

func (m *Machine) argNumber(args []avm.Value, i int, def float64) (float64, error) {
	if i >= len(args) || args[i].IsUndefined() {
		return def, nil
	}
	return m.toNumber(args[i])
}

// ---------------------------------------------------------------------------
// Object, Class and Function
// ---------------------------------------------------------------------------

func (m *Machine) installCore() {
	h := m.Heap
	m.ObjectClass, _ = m.nativeClass("Object", nil, 0)
	m.ClassClass, _ = m.nativeClass("Class", m.ObjectClass, avm.ClassSealed)
	m.FunctionClass, _ = m.nativeClass("Function", m.ObjectClass, 0)
	m.finish(m.ObjectClass)
	m.finish(m.ClassClass)
	m.finish(m.FunctionClass)
	for _, c := range []*avm.Class{m.ObjectClass, m.ClassClass, m.FunctionClass} {
		h.Deref(c.Object).Proto = m.ClassClass.Proto
	}
	defOf(m.ObjectClass).call = func(_ avm.Value, args []avm.Value) (avm.Value, error) {
		if v := argAt(args, 0); !v.IsNullish() {
			return v, nil
		}
		return m.newObject().Value(), nil
	}

	m.protoMethod(m.ObjectClass, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if o := h.Deref(this); o != nil {
			if c := classOfObject(o); c != nil {
				return m.str(c.String()), nil
			}
			if avm.IsCallable(o) {
				return m.str("function Function() {}"), nil
			}
		}
		if c := m.classOfValue(this); c != nil {
			return m.str("[object " + localName(c.Name) + "]"), nil
		}
		return m.str("[object Object]"), nil
	})
	m.protoMethod(m.ObjectClass, "valueOf", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return this, nil
	})
	m.protoMethod(m.ObjectClass, "hasOwnProperty", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		key, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		o := h.Deref(this)
		if o == nil {
			return avm.False, nil
		}
		if _, ok := o.Own(key); ok {
			return avm.True, nil
		}
		if a, ok := avm.ArrayOf(o); ok {
			if i, ok := arrayIndex(avm.PublicName(key)); ok && i < len(a.Elems) {
				return avm.True, nil
			}
		}
		return avm.Bool(o.Layout == avm.LayoutClass && o.Class != nil && o.Class.FindTrait(avm.PublicName(key)) != nil), nil
	})
	m.protoMethod(m.ObjectClass, "propertyIsEnumerable", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		key, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		o := h.Deref(this)
		if o == nil {
			return avm.False, nil
		}
		if a, ok := avm.ArrayOf(o); ok {
			if i, ok := arrayIndex(avm.PublicName(key)); ok {
				return avm.Bool(i < len(a.Elems)), nil
			}
		}
		p, ok := o.Own(key)
		return avm.Bool(ok && p.Attrs&avm.DontEnum == 0), nil
	})
	m.protoMethod(m.ObjectClass, "setPropertyIsEnumerable", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		key, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		if o := h.Deref(this); o != nil {
			if m.toBoolean(argAt(args, 1)) {
				o.SetAttrs(key, 0, avm.DontEnum)
			} else {
				o.SetAttrs(key, avm.DontEnum, 0)
			}
		}
		return avm.Undefined, nil
	})
	m.protoMethod(m.ObjectClass, "isPrototypeOf", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		p, o := h.Deref(this), h.Deref(argAt(args, 0))
		return avm.Bool(p != nil && o != nil && h.InstanceOf(o, p)), nil
	})

	m.protoMethod(m.FunctionClass, "call", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		var rest []avm.Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return m.call(this, argAt(args, 0), rest)
	})
	m.protoMethod(m.FunctionClass, "apply", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		var list []avm.Value
		if v := argAt(args, 1); !v.IsNullish() {
			a, ok := avm.ArrayOf(h.Deref(v))
			if !ok {
				return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "apply expects an Array, got %s", m.describe(v))
			}
			list = slices.Clone(a.Elems)
		}
		return m.call(this, argAt(args, 0), list)
	})
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (m *Machine) installErrors() {
	h := m.Heap
	errc, def := m.nativeClass("Error", m.ObjectClass, 0)
	def.ctor = func(this avm.Value, args []avm.Value) (avm.Value, error) {
		o := h.Deref(this)
		msg, err := m.argString(args, 0, "")
		if err != nil {
			return avm.Undefined, err
		}
		o.Define("message", m.str(msg), avm.DontEnum)
		id, _ := m.argNumber(args, 1, 0)
		o.Define("errorID", avm.Number(id), avm.DontEnum|avm.ReadOnly)
		return avm.Undefined, nil
	}
	m.ErrorClass = m.finish(errc)
	proto := h.Deref(errc.Proto)
	proto.Define("name", m.str("Error"), avm.DontEnum)
	proto.Define("message", m.str(""), avm.DontEnum)
	m.protoMethod(errc, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		o := h.Deref(this)
		if o == nil {
			return m.str("Error"), nil
		}
		name, err := m.toString(h.Get(o, "name"))
		if err != nil {
			return avm.Undefined, err
		}
		msg, err := m.toString(h.Get(o, "message"))
		if err != nil {
			return avm.Undefined, err
		}
		if msg == "" {
			return m.str(name), nil
		}
		return m.str(name + ": " + msg), nil
	})
	m.protoMethod(errc, "getStackTrace", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Null, nil
	})

	for _, name := range []string{
		"ArgumentError", "DefinitionError", "EvalError", "RangeError", "ReferenceError",
		"SecurityError", "SyntaxError", "TypeError", "URIError", "VerifyError",
		"flash.errors::IllegalOperationError", "flash.errors::IOError", "flash.errors::EOFError",
	} {
		c, _ := m.nativeClass(name, errc, 0)
		m.finish(c)
		h.Deref(c.Proto).Define("name", m.str(localName(name)), avm.DontEnum)
	}
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

// Array sort options.
const (
	sortCaseInsensitive = 1
	sortDescending      = 2
	sortUnique          = 4
	sortReturnIndexed   = 8
	sortNumeric         = 16
)

func (m *Machine) thisArray(this avm.Value) (*avm.Array, error) {
	a, ok := avm.ArrayOf(m.Heap.Deref(this))
	if !ok {
		return nil, avm.Errorf(avm.ErrTypeCoercion, "%s is not an Array", m.describe(this))
	}
	return a, nil
}

// arrayArgs applies the Array constructor rule: a single number is a
// length, anything else lists the elements.
func (m *Machine) arrayArgs(args []avm.Value) ([]avm.Value, error) {
	if len(args) != 1 || !args[0].IsNumber() {
		return slices.Clone(args), nil
	}
	n := args[0].Float64()
	if n < 0 || n != math.Trunc(n) || n > math.MaxUint32 {
		return nil, avm.Errorf(ErrRange, "array index is not a positive integer (%s)", avm.NumberToString(n))
	}
	elems := make([]avm.Value, int(n))
	for i := range elems {
		elems[i] = avm.Undefined
	}
	return elems, nil
}

// relIndex clamps a possibly negative index argument into [0, n].
func relIndex(f float64, n int) int {
	if math.IsNaN(f) {
		return 0
	}
	f = math.Trunc(f)
	if f < 0 {
		f = max(float64(n)+f, 0)
	}
	return int(min(f, float64(n)))
}

func (m *Machine) installArray() {
	h := m.Heap
	arr, def := m.nativeClass("Array", m.ObjectClass, 0)
	def.alloc = func(o *avm.Object) { o.Native = &avm.Array{} }
	def.ctor = func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		a.Elems, err = m.arrayArgs(args)
		return avm.Undefined, err
	}
	def.call = func(_ avm.Value, args []avm.Value) (avm.Value, error) {
		return m.constructClass(arr, args)
	}
	m.accessor(arr, "length", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		return avm.Int(len(a.Elems)), nil
	}, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		n, err := m.toNumber(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		if n < 0 || n != math.Trunc(n) || n > math.MaxUint32 {
			return avm.Undefined, avm.Errorf(ErrRange, "invalid array length %s", avm.NumberToString(n))
		}
		size := int(n)
		if size <= len(a.Elems) {
			a.Elems = a.Elems[:size]
		}
		for len(a.Elems) < size {
			a.Elems = append(a.Elems, avm.Undefined)
		}
		return avm.Undefined, nil
	})
	m.constant(arr, "CASEINSENSITIVE", avm.Int(sortCaseInsensitive))
	m.constant(arr, "DESCENDING", avm.Int(sortDescending))
	m.constant(arr, "UNIQUESORT", avm.Int(sortUnique))
	m.constant(arr, "RETURNINDEXEDARRAY", avm.Int(sortReturnIndexed))
	m.constant(arr, "NUMERIC", avm.Int(sortNumeric))
	m.ArrayClass = m.finish(arr)

	join := func(this avm.Value, sep string) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		s, err := h.Join(a, sep)
		return m.str(s), err
	}
	m.protoMethod(arr, "join", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		sep, err := m.argString(args, 0, ",")
		if err != nil {
			return avm.Undefined, err
		}
		return join(this, sep)
	})
	m.protoMethod(arr, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return join(this, ",")
	})
	m.protoMethod(arr, "push", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		a.Elems = append(a.Elems, args...)
		return avm.Int(len(a.Elems)), nil
	})
	m.protoMethod(arr, "pop", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil || len(a.Elems) == 0 {
			return avm.Undefined, err
		}
		v := a.Elems[len(a.Elems)-1]
		a.Elems = a.Elems[:len(a.Elems)-1]
		return v, nil
	})
	m.protoMethod(arr, "shift", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil || len(a.Elems) == 0 {
			return avm.Undefined, err
		}
		v := a.Elems[0]
		a.Elems = slices.Delete(a.Elems, 0, 1)
		return v, nil
	})
	m.protoMethod(arr, "unshift", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		a.Elems = slices.Insert(a.Elems, 0, args...)
		return avm.Int(len(a.Elems)), nil
	})
	m.protoMethod(arr, "slice", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		n := len(a.Elems)
		from, _ := m.argNumber(args, 0, 0)
		to, _ := m.argNumber(args, 1, float64(n))
		i, j := relIndex(from, n), relIndex(to, n)
		var out []avm.Value
		if i < j {
			out = slices.Clone(a.Elems[i:j])
		}
		return m.newArray(out).Value(), nil
	})
	m.protoMethod(arr, "splice", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		n := len(a.Elems)
		start, _ := m.argNumber(args, 0, 0)
		i := relIndex(start, n)
		count := n - i
		if len(args) > 1 {
			c, _ := m.toNumber(args[1])
			count = relIndex(max(c, 0), n-i)
		}
		removed := slices.Clone(a.Elems[i : i+count])
		var insert []avm.Value
		if len(args) > 2 {
			insert = args[2:]
		}
		a.Elems = slices.Replace(a.Elems, i, i+count, insert...)
		return m.newArray(removed).Value(), nil
	})
	m.protoMethod(arr, "concat", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		out := slices.Clone(a.Elems)
		for _, v := range args {
			if other, ok := avm.ArrayOf(h.Deref(v)); ok {
				out = append(out, other.Elems...)
			} else {
				out = append(out, v)
			}
		}
		return m.newArray(out).Value(), nil
	})
	m.protoMethod(arr, "reverse", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		slices.Reverse(a.Elems)
		return this, nil
	})
	indexOf := func(last bool) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			a, err := m.thisArray(this)
			if err != nil {
				return avm.Undefined, err
			}
			x := argAt(args, 0)
			if last {
				for i := len(a.Elems) - 1; i >= 0; i-- {
					if h.StrictEquals(a.Elems[i], x) {
						return avm.Int(i), nil
					}
				}
				return avm.Int(-1), nil
			}
			from, _ := m.argNumber(args, 1, 0)
			for i := relIndex(from, len(a.Elems)); i < len(a.Elems); i++ {
				if h.StrictEquals(a.Elems[i], x) {
					return avm.Int(i), nil
				}
			}
			return avm.Int(-1), nil
		}
	}
	m.protoMethod(arr, "indexOf", indexOf(false))
	m.protoMethod(arr, "lastIndexOf", indexOf(true))
	m.protoMethod(arr, "sort", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		var cmp avm.Value = avm.Undefined
		opts := 0
		for _, v := range args {
			if _, ok := m.callable(v); ok {
				cmp = v
			} else if v.IsNumber() {
				opts = int(v.Float64())
			}
		}
		return m.sortArray(this, a, cmp, opts)
	})
	iterate := func(name string, fn func(a *avm.Array, i int, r avm.Value) (stop bool, result avm.Value)) {
		m.protoMethod(arr, name, func(this avm.Value, args []avm.Value) (avm.Value, error) {
			a, err := m.thisArray(this)
			if err != nil {
				return avm.Undefined, err
			}
			cb, recv := argAt(args, 0), argAt(args, 1)
			var result avm.Value = avm.Undefined
			for i := 0; i < len(a.Elems); i++ {
				r, err := m.call(cb, recv, []avm.Value{a.Elems[i], avm.Int(i), this})
				if err != nil {
					return avm.Undefined, err
				}
				stop, res := fn(a, i, r)
				result = res
				if stop {
					break
				}
			}
			return result, nil
		})
	}
	iterate("forEach", func(*avm.Array, int, avm.Value) (bool, avm.Value) { return false, avm.Undefined })
	iterate("some", func(_ *avm.Array, _ int, r avm.Value) (bool, avm.Value) {
		ok := m.toBoolean(r)
		return ok, avm.Bool(ok)
	})
	iterate("every", func(_ *avm.Array, _ int, r avm.Value) (bool, avm.Value) {
		ok := m.toBoolean(r)
		return !ok, avm.Bool(ok)
	})
	m.protoMethod(arr, "map", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		out := make([]avm.Value, 0, len(a.Elems))
		for i := 0; i < len(a.Elems); i++ {
			r, err := m.call(argAt(args, 0), argAt(args, 1), []avm.Value{a.Elems[i], avm.Int(i), this})
			if err != nil {
				return avm.Undefined, err
			}
			out = append(out, r)
		}
		return m.newArray(out).Value(), nil
	})
	m.protoMethod(arr, "filter", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		a, err := m.thisArray(this)
		if err != nil {
			return avm.Undefined, err
		}
		var out []avm.Value
		for i := 0; i < len(a.Elems); i++ {
			v := a.Elems[i]
			r, err := m.call(argAt(args, 0), argAt(args, 1), []avm.Value{v, avm.Int(i), this})
			if err != nil {
				return avm.Undefined, err
			}
			if m.toBoolean(r) {
				out = append(out, v)
			}
		}
		return m.newArray(out).Value(), nil
	})
}

// sortArray sorts in place, by a compare function when one is given and
// by the option flags otherwise.
func (m *Machine) sortArray(this avm.Value, a *avm.Array, cmp avm.Value, opts int) (avm.Value, error) {
	var failure error
	less := func(x, y avm.Value) bool {
		if failure != nil {
			return false
		}
		if cmp.IsObject() {
			r, err := m.call(cmp, avm.Null, []avm.Value{x, y})
			if err != nil {
				failure = err
				return false
			}
			n, _ := m.toNumber(r)
			return n < 0
		}
		if opts&sortNumeric != 0 {
			xn, _ := m.toNumber(x)
			yn, _ := m.toNumber(y)
			return xn < yn
		}
		xs, err := m.toString(x)
		if err == nil {
			var ys string
			if ys, err = m.toString(y); err == nil {
				if opts&sortCaseInsensitive != 0 {
					xs, ys = strings.ToLower(xs), strings.ToLower(ys)
				}
				return xs < ys
			}
		}
		failure = err
		return false
	}
	idx := make([]int, len(a.Elems))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		x, y := a.Elems[idx[i]], a.Elems[idx[j]]
		if opts&sortDescending != 0 {
			return less(y, x)
		}
		return less(x, y)
	})
	if failure != nil {
		return avm.Undefined, failure
	}
	if opts&sortReturnIndexed != 0 {
		out := make([]avm.Value, len(idx))
		for i, k := range idx {
			out[i] = avm.Int(k)
		}
		return m.newArray(out).Value(), nil
	}
	sorted := make([]avm.Value, len(idx))
	for i, k := range idx {
		sorted[i] = a.Elems[k]
	}
	a.Elems = sorted
	return this, nil
}

// ---------------------------------------------------------------------------
// String, Number, int, uint and Boolean
// ---------------------------------------------------------------------------

// primitiveClass builds a final class whose instances are primitives:
// calling or constructing it converts the first argument.
func (m *Machine) primitiveClass(name string, convert func(args []avm.Value) (avm.Value, error)) *avm.Class {
	c, def := m.nativeClass(name, m.ObjectClass, avm.ClassFinal|avm.ClassSealed)
	def.call = func(_ avm.Value, args []avm.Value) (avm.Value, error) { return convert(args) }
	def.construct = def.call
	return c
}

func (m *Machine) installPrimitives() {
	m.StringClass = m.primitiveClass("String", func(args []avm.Value) (avm.Value, error) {
		s, err := m.argString(args, 0, "")
		return m.str(s), err
	})
	m.staticMethod(m.StringClass, "fromCharCode", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		codes := make([]uint16, 0, len(args))
		for _, a := range args {
			u, err := m.toUint32(a)
			if err != nil {
				return avm.Undefined, err
			}
			codes = append(codes, uint16(u))
		}
		return m.str(fromUnits(codes)), nil
	})
	m.finish(m.StringClass)
	m.installStringMethods()

	number := func(args []avm.Value) (avm.Value, error) {
		f, err := m.argNumber(args, 0, 0)
		return avm.Number(f), err
	}
	m.NumberClass = m.primitiveClass("Number", number)
	m.constant(m.NumberClass, "MAX_VALUE", avm.Number(math.MaxFloat64))
	m.constant(m.NumberClass, "MIN_VALUE", avm.Number(math.SmallestNonzeroFloat64))
	m.constant(m.NumberClass, "NaN", avm.Number(nan))
	m.constant(m.NumberClass, "POSITIVE_INFINITY", avm.Number(math.Inf(1)))
	m.constant(m.NumberClass, "NEGATIVE_INFINITY", avm.Number(math.Inf(-1)))
	m.finish(m.NumberClass)

	m.IntClass = m.primitiveClass("int", func(args []avm.Value) (avm.Value, error) {
		i, err := m.toInt32(argAt(args, 0))
		if len(args) == 0 {
			i = 0
		}
		return avm.Number(float64(i)), err
	})
	m.constant(m.IntClass, "MAX_VALUE", avm.Number(math.MaxInt32))
	m.constant(m.IntClass, "MIN_VALUE", avm.Number(math.MinInt32))
	m.finish(m.IntClass)

	m.UintClass = m.primitiveClass("uint", func(args []avm.Value) (avm.Value, error) {
		u, err := m.toUint32(argAt(args, 0))
		if len(args) == 0 {
			u = 0
		}
		return avm.Number(float64(u)), err
	})
	m.constant(m.UintClass, "MAX_VALUE", avm.Number(math.MaxUint32))
	m.constant(m.UintClass, "MIN_VALUE", avm.Number(0))
	m.finish(m.UintClass)

	m.BooleanClass = m.primitiveClass("Boolean", func(args []avm.Value) (avm.Value, error) {
		return avm.Bool(m.toBoolean(argAt(args, 0))), nil
	})
	m.finish(m.BooleanClass)

	thisNumber := func(this avm.Value) (float64, error) {
		if !this.IsNumber() {
			return 0, avm.Errorf(avm.ErrTypeCoercion, "%s is not a Number", m.describe(this))
		}
		return this.Float64(), nil
	}
	m.protoMethod(m.NumberClass, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := thisNumber(this)
		if err != nil {
			return avm.Undefined, err
		}
		radix, _ := m.argNumber(args, 0, 10)
		if radix < 2 || radix > 36 {
			return avm.Undefined, avm.Errorf(ErrRange, "radix %s out of range", avm.NumberToString(radix))
		}
		if radix != 10 && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return m.str(strconv.FormatInt(int64(f), int(radix))), nil
		}
		return m.str(avm.NumberToString(f)), nil
	})
	m.protoMethod(m.NumberClass, "toFixed", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := thisNumber(this)
		if err != nil {
			return avm.Undefined, err
		}
		digits, _ := m.argNumber(args, 0, 0)
		if digits < 0 || digits > 20 {
			return avm.Undefined, avm.Errorf(ErrRange, "precision %s out of range", avm.NumberToString(digits))
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return m.str(avm.NumberToString(f)), nil
		}
		return m.str(strconv.FormatFloat(f, 'f', int(digits), 64)), nil
	})
	m.protoMethod(m.NumberClass, "valueOf", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := thisNumber(this)
		return avm.Number(f), err
	})
	m.protoMethod(m.BooleanClass, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return m.str(strconv.FormatBool(this == avm.True)), nil
	})
	m.protoMethod(m.BooleanClass, "valueOf", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Bool(this == avm.True), nil
	})
}

func units(s string) []uint16    { return utf16.Encode([]rune(s)) }
func fromUnits(u []uint16) string { return string(utf16.Decode(u)) }

func indexUnits(s, sub []uint16, from int) int {
	for i := max(from, 0); i+len(sub) <= len(s); i++ {
		if slices.Equal(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func (m *Machine) installStringMethods() {
	c := m.StringClass
	str := func(fn func(s []uint16, args []avm.Value) (avm.Value, error)) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			s, err := m.toString(this)
			if err != nil {
				return avm.Undefined, err
			}
			return fn(units(s), args)
		}
	}
	m.protoMethod(c, "toString", str(func(s []uint16, _ []avm.Value) (avm.Value, error) {
		return m.str(fromUnits(s)), nil
	}))
	m.protoMethod(c, "valueOf", str(func(s []uint16, _ []avm.Value) (avm.Value, error) {
		return m.str(fromUnits(s)), nil
	}))
	m.protoMethod(c, "charAt", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		i, _ := m.argNumber(args, 0, 0)
		if math.IsNaN(i) || i < 0 || int(i) >= len(s) {
			return m.str(""), nil
		}
		return m.str(fromUnits(s[int(i) : int(i)+1])), nil
	}))
	m.protoMethod(c, "charCodeAt", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		i, _ := m.argNumber(args, 0, 0)
		if math.IsNaN(i) || i < 0 || int(i) >= len(s) {
			return avm.Number(nan), nil
		}
		return avm.Int(int(s[int(i)])), nil
	}))
	m.protoMethod(c, "indexOf", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		sub, err := m.argString(args, 0, "undefined")
		if err != nil {
			return avm.Undefined, err
		}
		from, _ := m.argNumber(args, 1, 0)
		return avm.Int(indexUnits(s, units(sub), relIndex(max(from, 0), len(s)))), nil
	}))
	m.protoMethod(c, "lastIndexOf", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		sub, err := m.argString(args, 0, "undefined")
		if err != nil {
			return avm.Undefined, err
		}
		u := units(sub)
		from, _ := m.argNumber(args, 1, math.MaxInt32)
		for i := min(int(max(from, 0)), len(s)-len(u)); i >= 0; i-- {
			if slices.Equal(s[i:i+len(u)], u) {
				return avm.Int(i), nil
			}
		}
		return avm.Int(-1), nil
	}))
	m.protoMethod(c, "substr", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		start, _ := m.argNumber(args, 0, 0)
		i := relIndex(start, len(s))
		n, _ := m.argNumber(args, 1, float64(len(s)-i))
		j := i + relIndex(max(n, 0), len(s)-i)
		return m.str(fromUnits(s[i:j])), nil
	}))
	m.protoMethod(c, "substring", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		a, _ := m.argNumber(args, 0, 0)
		b, _ := m.argNumber(args, 1, float64(len(s)))
		i, j := relIndex(max(a, 0), len(s)), relIndex(max(b, 0), len(s))
		if i > j {
			i, j = j, i
		}
		return m.str(fromUnits(s[i:j])), nil
	}))
	m.protoMethod(c, "slice", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		a, _ := m.argNumber(args, 0, 0)
		b, _ := m.argNumber(args, 1, float64(len(s)))
		i, j := relIndex(a, len(s)), relIndex(b, len(s))
		if i >= j {
			return m.str(""), nil
		}
		return m.str(fromUnits(s[i:j])), nil
	}))
	m.protoMethod(c, "toUpperCase", str(func(s []uint16, _ []avm.Value) (avm.Value, error) {
		return m.str(strings.ToUpper(fromUnits(s))), nil
	}))
	m.protoMethod(c, "toLowerCase", str(func(s []uint16, _ []avm.Value) (avm.Value, error) {
		return m.str(strings.ToLower(fromUnits(s))), nil
	}))
	m.protoMethod(c, "concat", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		var b strings.Builder
		b.WriteString(fromUnits(s))
		for _, a := range args {
			part, err := m.toString(a)
			if err != nil {
				return avm.Undefined, err
			}
			b.WriteString(part)
		}
		return m.str(b.String()), nil
	}))
	m.protoMethod(c, "split", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		whole := fromUnits(s)
		if argAt(args, 0).IsUndefined() {
			return m.newArray([]avm.Value{m.str(whole)}).Value(), nil
		}
		sep, err := m.toString(args[0])
		if err != nil {
			return avm.Undefined, err
		}
		limit, _ := m.argNumber(args, 1, math.MaxUint32)
		var parts []string
		if sep == "" {
			for _, r := range utf16.Decode(s) {
				parts = append(parts, string(r))
			}
		} else {
			parts = strings.Split(whole, sep)
		}
		var out []avm.Value
		for _, p := range parts {
			if float64(len(out)) >= limit {
				break
			}
			out = append(out, m.str(p))
		}
		return m.newArray(out).Value(), nil
	}))
	m.protoMethod(c, "replace", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		pattern, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		whole := fromUnits(s)
		i := strings.Index(whole, pattern)
		if i < 0 {
			return m.str(whole), nil
		}
		repl := argAt(args, 1)
		var with string
		if _, ok := m.callable(repl); ok {
			r, err := m.call(repl, avm.Null, []avm.Value{m.str(pattern), avm.Int(len(units(whole[:i]))), m.str(whole)})
			if err != nil {
				return avm.Undefined, err
			}
			with, err = m.toString(r)
			if err != nil {
				return avm.Undefined, err
			}
		} else if with, err = m.toString(repl); err != nil {
			return avm.Undefined, err
		}
		return m.str(whole[:i] + with + whole[i+len(pattern):]), nil
	}))
	m.protoMethod(c, "localeCompare", str(func(s []uint16, args []avm.Value) (avm.Value, error) {
		other, err := m.argString(args, 0, "undefined")
		if err != nil {
			return avm.Undefined, err
		}
		return avm.Int(strings.Compare(fromUnits(s), other)), nil
	}))
}

// ---------------------------------------------------------------------------
// Math and top-level functions
// ---------------------------------------------------------------------------

func (m *Machine) installMath() {
	c, _ := m.nativeClass("Math", m.ObjectClass, avm.ClassFinal|avm.ClassSealed)
	for name, v := range map[string]float64{
		"E": math.E, "LN10": math.Ln10, "LN2": math.Ln2, "LOG10E": math.Log10E,
		"LOG2E": math.Log2E, "PI": math.Pi, "SQRT1_2": math.Sqrt2 / 2, "SQRT2": math.Sqrt2,
	} {
		m.constant(c, name, avm.Number(v))
	}
	unary := map[string]func(float64) float64{
		"abs": math.Abs, "acos": math.Acos, "asin": math.Asin, "atan": math.Atan,
		"ceil": math.Ceil, "cos": math.Cos, "exp": math.Exp, "floor": math.Floor,
		"log": math.Log, "sin": math.Sin, "sqrt": math.Sqrt, "tan": math.Tan,
		"round": func(x float64) float64 { return math.Floor(x + 0.5) },
	}
	for name, fn := range unary {
		m.staticMethod(c, name, func(this avm.Value, args []avm.Value) (avm.Value, error) {
			x, err := m.argNumber(args, 0, nan)
			return avm.Number(fn(x)), err
		})
	}
	m.staticMethod(c, "atan2", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		y, _ := m.argNumber(args, 0, nan)
		x, err := m.argNumber(args, 1, nan)
		return avm.Number(math.Atan2(y, x)), err
	})
	m.staticMethod(c, "pow", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		x, _ := m.argNumber(args, 0, nan)
		y, err := m.argNumber(args, 1, nan)
		return avm.Number(math.Pow(x, y)), err
	})
	extreme := func(init float64, pick func(a, b float64) float64) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			r := init
			for _, a := range args {
				x, err := m.toNumber(a)
				if err != nil {
					return avm.Undefined, err
				}
				if math.IsNaN(x) {
					return avm.Number(nan), nil
				}
				r = pick(r, x)
			}
			return avm.Number(r), nil
		}
	}
	m.staticMethod(c, "max", extreme(math.Inf(-1), math.Max))
	m.staticMethod(c, "min", extreme(math.Inf(1), math.Min))
	m.staticMethod(c, "random", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Number(rand.Float64()), nil
	})
	m.finish(c)
}

func (m *Machine) installGlobals() {
	m.function("trace", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			s, err := m.toString(a)
			if err != nil {
				return avm.Undefined, err
			}
			parts[i] = s
		}
		m.Host.Trace(strings.Join(parts, " "))
		return avm.Undefined, nil
	})
	m.function("isNaN", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := m.argNumber(args, 0, nan)
		return avm.Bool(math.IsNaN(f)), err
	})
	m.function("isFinite", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := m.argNumber(args, 0, nan)
		return avm.Bool(!math.IsNaN(f) && !math.IsInf(f, 0)), err
	})
	m.function("parseInt", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.argString(args, 0, "")
		if err != nil {
			return avm.Undefined, err
		}
		radix, _ := m.argNumber(args, 1, 0)
		return avm.Number(avm.ParseInt(s, int(radix), false)), nil
	})
	m.function("parseFloat", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.argString(args, 0, "")
		if err != nil {
			return avm.Undefined, err
		}
		return avm.Number(avm.ParseFloatPrefix(s)), nil
	})
	m.define("NaN", avm.Number(nan))
	m.define("Infinity", avm.Number(math.Inf(1)))
	m.define("undefined", avm.Undefined)
}
