package avm2

import (
	"strconv"
	"unicode/utf16"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
)

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

func arrayIndex(name avm.Name) (int, bool) {
	if !name.IsPublic() || name.Local == "" {
		return 0, false
	}
	i, err := strconv.Atoi(name.Local)
	if err != nil || i < 0 || strconv.Itoa(i) != name.Local {
		return 0, false
	}
	return i, true
}

func nullAccess(obj avm.Value, name avm.Name) error {
	return avm.Errorf(avm.ErrTypeCoercion, "cannot access property %s of a %s object reference", name, obj.Type())
}

// getProperty reads a property. Methods come back bound to obj, getters
// run, and a property missing from a sealed object is a
// ErrPropertyNotFound.
func (m *Machine) getProperty(obj avm.Value, name avm.Name) (avm.Value, error) {
	return m.get(obj, name, true)
}

// getCallee reads a property for a call, leaving methods unbound.
func (m *Machine) getCallee(obj avm.Value, name avm.Name) (avm.Value, error) {
	return m.get(obj, name, false)
}

func (m *Machine) get(obj avm.Value, name avm.Name, bind bool) (avm.Value, error) {
	if obj.IsNullish() {
		return avm.Undefined, nullAccess(obj, name)
	}
	o := m.Heap.Deref(obj)
	if o == nil {
		return m.getPrimitive(obj, name, bind)
	}
	if a, ok := avm.ArrayOf(o); ok {
		if i, ok := arrayIndex(name); ok {
			if i < len(a.Elems) {
				return a.Elems[i], nil
			}
			return avm.Undefined, nil
		}
	}
	if c := classOfObject(o); c != nil {
		if t := c.FindStaticTrait(name); t != nil {
			return m.readTrait(obj, t, c.StaticSlots, bind)
		}
	}
	l := m.Heap.Resolve(o, name)
	switch l.Kind {
	case avm.LookupSlot:
		return l.Holder.Slots[l.Trait.Slot], nil
	case avm.LookupMethod:
		if bind {
			return m.bindMethod(l.Value, obj), nil
		}
		return l.Value, nil
	case avm.LookupAccessor:
		if l.Getter == nil {
			return avm.Undefined, avm.Errorf(avm.ErrPropertyNotFound, "property %s is write-only", name)
		}
		return m.call(l.Getter.Value, obj, nil)
	case avm.LookupDynamic:
		return l.Value, nil
	}
	if sp, ok := o.Display.(*display.Sprite); ok && name.IsPublic() {
		if child := sp.ChildByName(name.Local); child != nil {
			return m.Bind(child)
		}
	}
	if o.Sealed() {
		return avm.Undefined, avm.Errorf(avm.ErrPropertyNotFound,
			"property %s not found on %s and there is no default value", name, o.Class.Name)
	}
	return avm.Undefined, nil
}

func (m *Machine) readTrait(obj avm.Value, t *avm.Trait, slots []avm.Value, bind bool) (avm.Value, error) {
	switch t.Kind {
	case avm.TraitMethod:
		if bind {
			return m.bindMethod(t.Value, obj), nil
		}
		return t.Value, nil
	case avm.TraitGetter:
		return m.call(t.Value, obj, nil)
	case avm.TraitSetter:
		return avm.Undefined, avm.Errorf(avm.ErrPropertyNotFound, "property %s is write-only", t)
	}
	return slots[t.Slot], nil
}

// getPrimitive reads a property of a string, number or boolean through
// its class.
func (m *Machine) getPrimitive(v avm.Value, name avm.Name, bind bool) (avm.Value, error) {
	if v.IsString() && name.IsPublic() && name.Local == "length" {
		s, _ := m.Heap.StringOf(v)
		return avm.Int(len(utf16.Encode([]rune(s)))), nil
	}
	c := m.classOfValue(v)
	if t := c.FindTrait(name); t != nil {
		return m.readTrait(v, t, nil, bind)
	}
	if l := m.Heap.Resolve(m.Heap.Deref(c.Proto), name); l.Kind == avm.LookupDynamic {
		return l.Value, nil
	}
	return avm.Undefined, avm.Errorf(avm.ErrPropertyNotFound, "property %s not found on %s", name, c.Name)
}

// setProperty writes a property. init permits writes to const slots, as
// initproperty does in initializers.
func (m *Machine) setProperty(obj avm.Value, name avm.Name, v avm.Value, init bool) error {
	if obj.IsNullish() {
		return nullAccess(obj, name)
	}
	o := m.Heap.Deref(obj)
	if o == nil {
		return avm.Errorf(avm.ErrPropertyNotWritable, "cannot create property %s on %s", name, m.classOfValue(obj).Name)
	}
	if a, ok := avm.ArrayOf(o); ok {
		if i, ok := arrayIndex(name); ok {
			for len(a.Elems) <= i {
				a.Elems = append(a.Elems, avm.Undefined)
			}
			a.Elems[i] = v
			return nil
		}
	}
	if c := classOfObject(o); c != nil {
		if ts := c.FindStaticTrait(name); ts != nil {
			return m.writeTraits(obj, []*avm.Trait{ts}, c.StaticSlots, v, init)
		}
	}
	if o.Layout == avm.LayoutClass && o.Class != nil {
		if ts := o.Class.FindTraits(name); len(ts) > 0 {
			return m.writeTraits(obj, ts, o.Slots, v, init)
		}
	}
	if !name.IsPublic() || o.Sealed() {
		cls := "Object"
		if o.Class != nil {
			cls = o.Class.Name
		}
		return avm.Errorf(avm.ErrPropertyNotWritable, "cannot create property %s on %s", name, cls)
	}
	return m.Heap.Set(o, name.Local, v)
}

func (m *Machine) writeTraits(obj avm.Value, ts []*avm.Trait, slots []avm.Value, v avm.Value, init bool) error {
	for _, t := range ts {
		switch t.Kind {
		case avm.TraitSetter:
			_, err := m.call(t.Value, obj, []avm.Value{v})
			return err
		case avm.TraitSlot, avm.TraitConst, avm.TraitClass, avm.TraitFunction:
			if t.Kind != avm.TraitSlot && !init {
				return avm.Errorf(avm.ErrPropertyNotWritable, "illegal write to read-only property %s", t)
			}
			cv, err := m.coerceNamed(v, t.TypeName)
			if err != nil {
				return err
			}
			slots[t.Slot] = cv
			return nil
		case avm.TraitMethod:
			return avm.Errorf(avm.ErrPropertyNotWritable, "cannot assign to method %s", t)
		}
	}
	return avm.Errorf(avm.ErrPropertyNotWritable, "property %s is read-only", ts[0])
}

// hasProperty reports whether name resolves on obj. traitsOnly limits
// the search to declared traits, as scope lookups on class instances do.
func (m *Machine) hasProperty(obj avm.Value, name avm.Name, traitsOnly bool) bool {
	o := m.Heap.Deref(obj)
	if o == nil {
		if obj.IsNullish() {
			return false
		}
		return m.classOfValue(obj).FindTrait(name) != nil
	}
	if c := classOfObject(o); c != nil && c.FindStaticTrait(name) != nil {
		return true
	}
	if o.Layout == avm.LayoutClass && o.Class != nil && o.Class.FindTrait(name) != nil {
		return true
	}
	if traitsOnly {
		return false
	}
	if a, ok := avm.ArrayOf(o); ok {
		if i, ok := arrayIndex(name); ok {
			return i < len(a.Elems)
		}
	}
	return m.Heap.Resolve(o, name).Kind != avm.LookupNotFound
}

// deleteProperty removes a dynamic property; traits cannot be deleted.
func (m *Machine) deleteProperty(obj avm.Value, name avm.Name) (bool, error) {
	if obj.IsNullish() {
		return false, nullAccess(obj, name)
	}
	o := m.Heap.Deref(obj)
	if o == nil || !name.IsPublic() {
		return false, nil
	}
	if a, ok := avm.ArrayOf(o); ok {
		if i, ok := arrayIndex(name); ok {
			if i < len(a.Elems) {
				a.Elems[i] = avm.Undefined
			}
			return true, nil
		}
	}
	if o.Layout == avm.LayoutClass && o.Class != nil && o.Class.FindTrait(name) != nil {
		return false, nil
	}
	return m.Heap.Delete(o, name.Local), nil
}

// enumKeys lists the keys a for-in loop visits: array indices, then
// enumerable dynamic properties along the prototype chain.
func (m *Machine) enumKeys(obj avm.Value) []string {
	o := m.Heap.Deref(obj)
	if o == nil {
		return nil
	}
	var keys []string
	if a, ok := avm.ArrayOf(o); ok {
		for i := range a.Elems {
			keys = append(keys, strconv.Itoa(i))
		}
	}
	return append(keys, m.Heap.Enumerate(o)...)
}

// ---------------------------------------------------------------------------
// Scope lookup
// ---------------------------------------------------------------------------

// scopeHas reports whether a scope entry binds name. Class instances on
// the scope chain expose only their traits.
func (m *Machine) scopeHas(v avm.Value, name avm.Name) bool {
	o := m.Heap.Deref(v)
	traitsOnly := false
	if o != nil && o.Layout == avm.LayoutClass && o.Class != nil {
		def := defOf(o.Class)
		traitsOnly = def == nil || !def.dynamicScope
	}
	return m.hasProperty(v, name, traitsOnly)
}

// findProperty searches the local scope stack, then the captured scope
// chain, then the domain. Without strict a miss yields the global object.
func (m *Machine) findProperty(f *avm.Frame, st *frameState, name avm.Name, strict bool) (avm.Value, error) {
	for i := len(f.Scope) - 1; i >= 0; i-- {
		if i < len(st.with) && st.with[i] {
			if m.hasProperty(f.Scope[i], name, false) {
				return f.Scope[i], nil
			}
			continue
		}
		if m.scopeHas(f.Scope[i], name) {
			return f.Scope[i], nil
		}
	}
	outer := st.method.Scope
	for i := len(outer) - 1; i >= 0; i-- {
		if m.scopeHas(outer[i], name) {
			return outer[i], nil
		}
	}
	g, err := m.Domain.find(name)
	if err != nil {
		return avm.Undefined, err
	}
	if g != nil {
		return g.Value(), nil
	}
	if strict {
		return avm.Undefined, avm.Errorf(avm.ErrPropertyNotFound, "variable %s is not defined", name)
	}
	return m.globalScope(f, st), nil
}

func (m *Machine) globalScope(f *avm.Frame, st *frameState) avm.Value {
	if len(st.method.Scope) > 0 {
		return st.method.Scope[0]
	}
	if len(f.Scope) > 0 {
		return f.Scope[0]
	}
	return avm.Null
}

// callProperty looks up a method and calls it with obj as receiver.
func (m *Machine) callProperty(obj avm.Value, name avm.Name, args []avm.Value) (avm.Value, error) {
	fn, err := m.getCallee(obj, name)
	if err != nil {
		return avm.Undefined, err
	}
	if _, ok := m.callable(fn); !ok {
		if o := m.Heap.Deref(fn); o == nil || classOfObject(o) == nil {
			return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "%s is not a function", name)
		}
	}
	return m.call(fn, obj, args)
}

// superTrait finds name above the class that declared the running
// method.
func (m *Machine) superTrait(st *frameState, name avm.Name) (*avm.Trait, []*avm.Trait, error) {
	cls := st.method.Class
	if cls == nil || cls.Super == nil {
		return nil, nil, avm.Errorf(avm.ErrVerify, "super outside of a subclass method")
	}
	ts := cls.Super.FindTraits(name)
	if len(ts) == 0 {
		return nil, nil, avm.Errorf(avm.ErrPropertyNotFound, "property %s not found on %s", name, cls.Super.Name)
	}
	return ts[0], ts, nil
}
