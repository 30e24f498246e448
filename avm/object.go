package avm

import (
	"slices"
)

// Attr flags a dynamic property.
type Attr uint8

const (
	DontEnum Attr = 1 << iota
	ReadOnly
	DontDelete
)

// Property is one dynamic binding.
type Property struct {
	Value Value
	Attrs Attr
}

// Layout selects how property access resolves on an object.
type Layout uint8

const (
	// LayoutDynamic objects resolve own properties, then the prototype
	// chain.
	LayoutDynamic Layout = iota
	// LayoutClass objects resolve declared traits first, then dynamic
	// properties only if the class is not sealed, then the prototype chain.
	LayoutClass
)

// DisplayHandle is the display-list node a script object is bound to.
type DisplayHandle interface {
	TraceBindings(m *Marker)
}

// Object is a heap-resident script object.
type Object struct {
	ref  Ref
	heap *Heap

	Layout Layout
	Proto  Value
	Class  *Class
	Slots  []Value

	props map[string]*Property
	order []string

	// Native identifies built-in behaviour: a function body, a boxed
	// primitive, an array store. Payloads holding values implement
	// Traceable.
	Native any
	// Display is set for objects bound to a display-list node.
	Display DisplayHandle

	listeners map[string][]Value
}

// Ref returns the object's heap reference.
func (o *Object) Ref() Ref { return o.ref }

// Value returns the object as a script value.
func (o *Object) Value() Value { return FromRef(o.ref) }

// Alive reports whether the object is still allocated.
func (o *Object) Alive() bool { return o.heap != nil }

// Sealed reports whether new dynamic properties are refused.
func (o *Object) Sealed() bool {
	return o.Layout == LayoutClass && o.Class != nil && o.Class.Flags&ClassSealed != 0
}

// ---------------------------------------------------------------------------
// Own dynamic properties
// ---------------------------------------------------------------------------

// Own returns an own dynamic property.
func (o *Object) Own(key string) (*Property, bool) {
	p, ok := o.props[key]
	return p, ok
}

// Define creates or overwrites an own dynamic property, ignoring
// ReadOnly.
func (o *Object) Define(key string, v Value, attrs Attr) {
	if o.props == nil {
		o.props = make(map[string]*Property)
	}
	if p, ok := o.props[key]; ok {
		p.Value, p.Attrs = v, attrs
		return
	}
	o.props[key] = &Property{Value: v, Attrs: attrs}
	o.order = append(o.order, key)
}

func (o *Object) deleteOwn(key string) bool {
	p, ok := o.props[key]
	if !ok {
		return true
	}
	if p.Attrs&DontDelete != 0 {
		return false
	}
	delete(o.props, key)
	if i := slices.Index(o.order, key); i >= 0 {
		o.order = slices.Delete(o.order, i, i+1)
	}
	return true
}

// Keys returns the enumerable own dynamic keys in creation order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.order))
	for _, k := range o.order {
		if o.props[k].Attrs&DontEnum == 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// SetAttrs changes the flags of an existing own property.
func (o *Object) SetAttrs(key string, set, clear Attr) bool {
	p, ok := o.props[key]
	if ok {
		p.Attrs = p.Attrs&^clear | set
	}
	return ok
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// AddListener registers fn for an event kind. Duplicate registrations are
// ignored.
func (o *Object) AddListener(kind string, fn Value) {
	if slices.Contains(o.listeners[kind], fn) {
		return
	}
	if o.listeners == nil {
		o.listeners = make(map[string][]Value)
	}
	o.listeners[kind] = append(o.listeners[kind], fn)
}

// RemoveListener unregisters fn.
func (o *Object) RemoveListener(kind string, fn Value) {
	ls := o.listeners[kind]
	if i := slices.Index(ls, fn); i >= 0 {
		o.listeners[kind] = slices.Delete(ls, i, i+1)
	}
}

// Listeners returns a copy of the listeners for kind.
func (o *Object) Listeners(kind string) []Value {
	return slices.Clone(o.listeners[kind])
}

// HasListeners reports whether anything listens for kind.
func (o *Object) HasListeners(kind string) bool {
	return len(o.listeners[kind]) > 0
}

func (o *Object) trace(m *Marker) {
	m.Mark(o.Proto)
	m.MarkAll(o.Slots)
	for _, p := range o.props {
		m.Mark(p.Value)
	}
	for _, ls := range o.listeners {
		m.MarkAll(ls)
	}
	if o.Class != nil {
		m.MarkClass(o.Class)
	}
	if t, ok := o.Native.(Traceable); ok {
		t.Trace(m)
	}
	if o.Display != nil {
		o.Display.TraceBindings(m)
	}
}

// ---------------------------------------------------------------------------
// Heap-level property access
// ---------------------------------------------------------------------------

// maxProtoDepth bounds prototype walks against cyclic chains.
const maxProtoDepth = 256

// Get reads a public property: declared traits, own dynamic properties,
// then the prototype chain. Accessor traits are not invoked; callers that
// can run script code use Resolve. Missing properties are Undefined.
func (h *Heap) Get(o *Object, key string) Value {
	l := h.Resolve(o, PublicName(key))
	switch l.Kind {
	case LookupSlot:
		return l.Holder.Slots[l.Trait.Slot]
	case LookupMethod, LookupDynamic:
		return l.Value
	}
	return Undefined
}

// Set writes a public property. Sealed objects refuse new keys with
// ErrPropertyNotWritable, as do const and method traits. Writes to
// ReadOnly dynamic properties are ignored.
func (h *Heap) Set(o *Object, key string, v Value) error {
	if o.Layout == LayoutClass && o.Class != nil {
		if t := o.Class.FindTrait(PublicName(key)); t != nil {
			return h.setTrait(o, t, v)
		}
	}
	if p, ok := o.props[key]; ok {
		if p.Attrs&ReadOnly == 0 {
			p.Value = v
		}
		return nil
	}
	if o.Sealed() {
		return Errorf(ErrPropertyNotWritable, "cannot create property %s on %s", key, o.Class.Name)
	}
	o.Define(key, v, 0)
	return nil
}

func (h *Heap) setTrait(o *Object, t *Trait, v Value) error {
	switch t.Kind {
	case TraitSlot:
		o.Slots[t.Slot] = v
		return nil
	case TraitConst:
		return Errorf(ErrPropertyNotWritable, "cannot assign to const %s", t)
	case TraitSetter:
		return Errorf(ErrPropertyNotWritable, "setter %s must be invoked", t)
	default:
		return Errorf(ErrPropertyNotWritable, "cannot assign to %s %s", t.Kind, t)
	}
}

// Delete removes an own dynamic property. It reports false for traits
// and DontDelete properties.
func (h *Heap) Delete(o *Object, key string) bool {
	if o.Layout == LayoutClass && o.Class != nil && o.Class.FindTrait(PublicName(key)) != nil {
		return false
	}
	return o.deleteOwn(key)
}

// Has reports whether a public property resolves anywhere on o.
func (h *Heap) Has(o *Object, key string) bool {
	return h.Resolve(o, PublicName(key)).Kind != LookupNotFound
}

// LookupKind says where Resolve found a property.
type LookupKind uint8

const (
	LookupNotFound LookupKind = iota
	LookupSlot
	LookupMethod
	LookupAccessor
	LookupDynamic
)

// Lookup is the result of Resolve. Holder is the object the binding was
// found on, which differs from the receiver for prototype hits.
type Lookup struct {
	Kind   LookupKind
	Trait  *Trait // slot or method
	Getter *Trait
	Setter *Trait
	Value  Value // method function or dynamic value
	Holder *Object
}

// Resolve finds a property by qualified name. Declared traits are
// consulted before dynamic properties, and dynamic properties are only
// consulted for public names.
func (h *Heap) Resolve(o *Object, name Name) Lookup {
	for depth := 0; o != nil && depth < maxProtoDepth; depth++ {
		if o.Class != nil && o.Layout == LayoutClass {
			if l, ok := resolveTrait(o, name); ok {
				return l
			}
		}
		if name.IsPublic() {
			if p, ok := o.props[name.Local]; ok {
				return Lookup{Kind: LookupDynamic, Value: p.Value, Holder: o}
			}
		}
		o = h.Deref(o.Proto)
	}
	return Lookup{}
}

func resolveTrait(o *Object, name Name) (Lookup, bool) {
	var l Lookup
	for _, t := range o.Class.lookup(name) {
		switch t.Kind {
		case TraitSlot, TraitConst, TraitClass, TraitFunction:
			return Lookup{Kind: LookupSlot, Trait: t, Holder: o}, true
		case TraitMethod:
			return Lookup{Kind: LookupMethod, Trait: t, Value: t.Value, Holder: o}, true
		case TraitGetter:
			l.Kind, l.Getter, l.Holder = LookupAccessor, t, o
		case TraitSetter:
			l.Kind, l.Setter, l.Holder = LookupAccessor, t, o
		}
	}
	return l, l.Kind != LookupNotFound
}

// Enumerate returns the enumerable dynamic keys of o and its prototype
// chain, own keys first, without duplicates.
func (h *Heap) Enumerate(o *Object) []string {
	var out []string
	seen := make(map[string]bool)
	for depth := 0; o != nil && depth < maxProtoDepth; depth++ {
		for _, k := range o.order {
			if seen[k] {
				continue
			}
			seen[k] = true
			if o.props[k].Attrs&DontEnum == 0 {
				out = append(out, k)
			}
		}
		o = h.Deref(o.Proto)
	}
	return out
}

// InstanceOf reports whether proto appears on o's prototype chain.
func (h *Heap) InstanceOf(o *Object, proto *Object) bool {
	for depth := 0; o != nil && depth < maxProtoDepth; depth++ {
		p := h.Deref(o.Proto)
		if p == proto && p != nil {
			return true
		}
		o = p
	}
	return false
}
