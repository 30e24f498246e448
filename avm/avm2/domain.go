package avm2

import (
	"strings"

	"github.com/chazu/swfvm/avm"
)

// ---------------------------------------------------------------------------
// Domain: loaded definitions
// ---------------------------------------------------------------------------

type scriptState uint8

const (
	scriptPending scriptState = iota
	scriptRunning
	scriptDone
)

type script struct {
	abc    *ABCFile
	info   *ScriptInfo
	global *avm.Object
	state  scriptState
}

// Domain holds every definition visible to loaded code: the built-in
// classes and the scripts of each loaded file. A script runs the first
// time one of its definitions is looked up.
type Domain struct {
	m       *Machine
	scripts []*script
	classes map[string]*avm.Class
}

func newDomain(m *Machine) *Domain {
	return &Domain{m: m, classes: make(map[string]*avm.Class)}
}

func (d *Domain) trace(mk *avm.Marker) {
	for _, s := range d.scripts {
		mk.MarkObject(s.global)
	}
	for _, c := range d.classes {
		mk.MarkClass(c)
	}
}

// classDef is the construction state of a class, kept in Class.Native.
type classDef struct {
	abc *ABCFile
	// iinit is the bytecode instance initializer.
	iinit avm.Value
	// ctor is the native instance initializer of a built-in class.
	ctor avm.NativeFn
	// alloc prepares the native payload of new instances.
	alloc func(o *avm.Object)
	// call converts a value when the class object is called.
	call avm.NativeFn
	// construct replaces instance creation for classes whose instances
	// are primitives.
	construct avm.NativeFn

	slots   map[int]*avm.Trait
	statics map[int]*avm.Trait

	// scope is the chain methods of the class close over.
	scope []avm.Value
	// dynamicScope marks global, activation and catch objects, whose
	// dynamic properties are visible to scope lookups.
	dynamicScope bool
}

func (c *classDef) Trace(mk *avm.Marker) {
	mk.Mark(c.iinit)
	mk.MarkAll(c.scope)
}

func defOf(c *avm.Class) *classDef {
	if c == nil {
		return nil
	}
	d, _ := c.Native.(*classDef)
	return d
}

// qualify renders a class name as pkg::Name.
func qualify(ns avm.Namespace, local string) string {
	if ns.URI == "" {
		return local
	}
	return ns.URI + "::" + local
}

// splitName parses pkg::Name or pkg.Name.
func splitName(name string) avm.Name {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return avm.QName(avm.Namespace{Kind: avm.NSPublic, URI: name[:i]}, name[i+2:])
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return avm.QName(avm.Namespace{Kind: avm.NSPublic, URI: name[:i]}, name[i+1:])
	}
	return avm.PublicName(name)
}

// load registers the scripts of a file and returns its entry script.
func (d *Domain) load(f *ABCFile) *script {
	var entry *script
	for _, info := range f.Scripts {
		cls := avm.NewClass("global", nil, 0)
		def := &classDef{abc: f, dynamicScope: true}
		cls.Native = def
		cls.Proto = d.m.ObjectClass.Proto
		traits, err := d.m.addTraits(cls, f, info.Traits, false)
		if err == nil {
			err = cls.Link()
		}
		if err != nil {
			logger().Errorf("script %d: %v", info.Init, err)
			continue
		}
		d.m.assignSlotIDs(cls, def, traits, false)
		s := &script{abc: f, info: info, global: d.m.newInstance(cls)}
		def.scope = []avm.Value{s.global.Value()}
		d.m.bindMethods(cls, f, traits, def.scope)
		d.scripts = append(d.scripts, s)
		entry = s
	}
	return entry
}

// ensure runs a script's initializer once. A script already running is
// treated as initialized so mutually dependent scripts can load.
func (d *Domain) ensure(s *script) error {
	if s.state != scriptPending {
		return nil
	}
	s.state = scriptRunning
	defer func() { s.state = scriptDone }()
	fn := d.m.newMethod(s.abc, s.abc.Methods[s.info.Init], nil, nil)
	_, err := d.m.call(fn.Value(), s.global.Value(), nil)
	return err
}

// find returns the global object defining name, running its script
// first. Later files shadow nothing: the first definition wins.
func (d *Domain) find(name avm.Name) (*avm.Object, error) {
	for _, s := range d.scripts {
		if s.global.Class.FindTrait(name) == nil {
			continue
		}
		if err := d.ensure(s); err != nil {
			return nil, err
		}
		return s.global, nil
	}
	if name.IsPublic() {
		for _, s := range d.scripts {
			if _, ok := s.global.Own(name.Local); ok {
				return s.global, nil
			}
		}
	}
	return nil, nil
}

// ClassByName looks up a class by its qualified name, pkg::Name or
// pkg.Name, running the script that defines it if needed. A missing
// class is not an error.
func (d *Domain) ClassByName(name string) (*avm.Class, error) {
	return d.lookupClass(splitName(name))
}

func (d *Domain) lookupClass(name avm.Name) (*avm.Class, error) {
	for _, ns := range name.NS {
		if c, ok := d.classes[qualify(ns, name.Local)]; ok {
			return c, nil
		}
	}
	if len(name.NS) == 0 {
		if c, ok := d.classes[name.Local]; ok {
			return c, nil
		}
	}
	g, err := d.find(name)
	if g == nil || err != nil {
		return nil, err
	}
	v, err := d.m.getProperty(g.Value(), name)
	if err != nil {
		return nil, err
	}
	return classOfObject(d.m.Heap.Deref(v)), nil
}

// classOfObject returns the class a class object stands for.
func classOfObject(o *avm.Object) *avm.Class {
	if o == nil {
		return nil
	}
	c, _ := o.Native.(*avm.Class)
	return c
}

// ---------------------------------------------------------------------------
// Class creation
// ---------------------------------------------------------------------------

// addTraits declares a trait list on c and returns the declared traits in
// order.
func (m *Machine) addTraits(c *avm.Class, f *ABCFile, infos []TraitInfo, static bool) ([]*avm.Trait, error) {
	out := make([]*avm.Trait, 0, len(infos))
	for i := range infos {
		ti := &infos[i]
		name, err := f.qname(ti.Name)
		if err != nil {
			return nil, err
		}
		t := &avm.Trait{
			Name:     name.NS[0],
			Local:    name.Local,
			Kind:     ti.Kind,
			Final:    ti.Final,
			Override: ti.Override,
			Default:  avm.Undefined,
			Value:    avm.Undefined,
			Method:   ti,
		}
		switch ti.Kind {
		case avm.TraitSlot, avm.TraitConst:
			if ti.TypeName != 0 {
				tn, err := f.qname(ti.TypeName)
				if err != nil {
					return nil, err
				}
				t.TypeName = qualify(tn.NS[0], tn.Local)
			}
			if ti.Index != 0 {
				if t.Default, err = f.constant(m.Heap, ti.ValueKind, ti.Index); err != nil {
					return nil, err
				}
			} else {
				t.Default = typeDefault(t.TypeName)
			}
		case avm.TraitClass:
			if ti.Index >= len(f.Instances) {
				return nil, avm.Errorf(avm.ErrVerify, "class trait %s: class %d out of range", t, ti.Index)
			}
			t.Default = avm.Null
		}
		if static {
			c.AddStaticTrait(t)
		} else {
			c.AddTrait(t)
		}
		out = append(out, t)
	}
	return out, nil
}

// typeDefault is the initial value of a slot of the named type.
func typeDefault(typeName string) avm.Value {
	switch typeName {
	case "int", "uint":
		return avm.Number(0)
	case "Number":
		return avm.Number(nan)
	case "Boolean":
		return avm.False
	case "", "*":
		return avm.Undefined
	}
	return avm.Null
}

// assignSlotIDs records the declared slot ids of linked traits. Traits
// declared without an id are numbered after the highest declared one.
func (m *Machine) assignSlotIDs(c *avm.Class, def *classDef, traits []*avm.Trait, static bool) {
	ids := make(map[int]*avm.Trait)
	next := 1
	for _, t := range traits {
		if ti, ok := t.Method.(*TraitInfo); ok && ti.SlotID != 0 && isSlotKind(t.Kind) {
			ids[ti.SlotID] = t
			next = max(next, ti.SlotID+1)
		}
	}
	if !static && c.Super != nil {
		next = max(next, c.Super.SlotCount+1)
	}
	for _, t := range traits {
		if ti, ok := t.Method.(*TraitInfo); ok && ti.SlotID == 0 && isSlotKind(t.Kind) {
			ids[next] = t
			next++
		}
	}
	if static {
		def.statics = ids
	} else {
		def.slots = ids
	}
}

func isSlotKind(k avm.TraitKind) bool {
	switch k {
	case avm.TraitSlot, avm.TraitConst, avm.TraitClass, avm.TraitFunction:
		return true
	}
	return false
}

// bindMethods creates the function objects of method, accessor and
// function traits, closing over scope.
func (m *Machine) bindMethods(c *avm.Class, f *ABCFile, traits []*avm.Trait, scope []avm.Value) {
	for _, t := range traits {
		ti, ok := t.Method.(*TraitInfo)
		if !ok {
			continue
		}
		switch t.Kind {
		case avm.TraitMethod, avm.TraitGetter, avm.TraitSetter:
			fn := m.newMethod(f, f.Methods[ti.Index], scope, c)
			fn.Native.(*Method).Name = t.Local
			t.Value = fn.Value()
		case avm.TraitFunction:
			fn := m.newMethod(f, f.Methods[ti.Index], scope, nil)
			fn.Native.(*Method).Name = t.Local
			t.Default = fn.Value()
		}
	}
}

// newClass runs the newclass instruction: it builds, verifies and
// initializes class index of f with the given base class object.
func (m *Machine) newClass(f *ABCFile, index int, base avm.Value, scope []avm.Value) (avm.Value, error) {
	if index >= len(f.Instances) {
		return avm.Undefined, avm.Errorf(avm.ErrVerify, "class %d out of range", index)
	}
	inst, ci := f.Instances[index], f.Classes[index]
	name, err := f.qname(inst.Name)
	if err != nil {
		return avm.Undefined, err
	}
	var super *avm.Class
	if inst.Super != 0 {
		if super = classOfObject(m.Heap.Deref(base)); super == nil {
			return avm.Undefined, avm.Errorf(avm.ErrVerify, "class %s: base is not a class", name)
		}
	}
	var flags avm.ClassFlags
	if inst.Flags&InstanceSealed != 0 {
		flags |= avm.ClassSealed
	}
	if inst.Flags&InstanceFinal != 0 {
		flags |= avm.ClassFinal
	}
	if inst.Flags&InstanceInterface != 0 {
		flags |= avm.ClassInterface
	}
	cls := avm.NewClass(qualify(name.NS[0], name.Local), super, flags)
	for _, idx := range inst.Interfaces {
		iname, err := f.qname(idx)
		if err != nil {
			return avm.Undefined, err
		}
		iface, err := m.Domain.lookupClass(iname)
		if err != nil {
			return avm.Undefined, err
		}
		if iface == nil {
			return avm.Undefined, avm.Errorf(avm.ErrVerify, "class %s: interface %s not found", cls.Name, iname)
		}
		cls.Interfaces = append(cls.Interfaces, iface)
	}
	def := &classDef{abc: f}
	if sd := defOf(super); sd != nil {
		def.alloc = sd.alloc
	}
	cls.Native = def
	itraits, err := m.addTraits(cls, f, inst.Traits, false)
	if err != nil {
		return avm.Undefined, err
	}
	ctraits, err := m.addTraits(cls, f, ci.Traits, true)
	if err != nil {
		return avm.Undefined, err
	}
	if err := cls.Link(); err != nil {
		return avm.Undefined, err
	}
	m.assignSlotIDs(cls, def, itraits, false)
	m.assignSlotIDs(cls, def, ctraits, true)

	co := m.classObject(cls)
	def.scope = append(append([]avm.Value(nil), scope...), co.Value())
	m.bindMethods(cls, f, itraits, def.scope)
	m.bindMethods(cls, f, ctraits, def.scope)
	for _, t := range ctraits {
		if t.Kind == avm.TraitFunction {
			cls.StaticSlots[t.Slot] = t.Default
		}
	}
	def.iinit = m.newMethod(f, f.Methods[inst.Init], def.scope, cls).Value()
	m.Domain.classes[cls.Name] = cls
	logger().Debugf("linked %s", cls.Chain())

	cinit := m.newMethod(f, f.Methods[ci.Init], def.scope, cls)
	if _, err := m.call(cinit.Value(), co.Value(), nil); err != nil {
		return avm.Undefined, err
	}
	return co.Value(), nil
}

// classObject creates the class object and prototype of a linked class.
func (m *Machine) classObject(c *avm.Class) *avm.Object {
	parent := avm.Null
	if c.Super != nil {
		parent = c.Super.Proto
	}
	proto := m.Heap.NewObject(parent)
	var classProto avm.Value = avm.Null
	if m.ClassClass != nil {
		classProto = m.ClassClass.Proto
	}
	co := m.Heap.NewObject(classProto)
	co.Native = c
	co.Define("prototype", proto.Value(), avm.DontEnum|avm.ReadOnly|avm.DontDelete)
	proto.Define("constructor", co.Value(), avm.DontEnum)
	c.Proto = proto.Value()
	c.Object = co.Value()
	return co
}

// newInstance allocates an instance of c with its slots at their
// defaults. A pending display binding attaches to display classes.
func (m *Machine) newInstance(c *avm.Class) *avm.Object {
	o := m.Heap.NewObject(c.Proto)
	o.Layout = avm.LayoutClass
	o.Class = c
	o.Slots = make([]avm.Value, c.SlotCount)
	for k := c; k != nil; k = k.Super {
		for _, t := range k.Traits() {
			if isSlotKind(t.Kind) {
				o.Slots[t.Slot] = t.Default
			}
		}
	}
	if def := defOf(c); def != nil && def.alloc != nil {
		def.alloc(o)
	}
	if m.binding != nil && m.DisplayObjectClass != nil && c.IsSubclassOf(m.DisplayObjectClass) {
		o.Display = m.binding
		m.binding.SetScript(o.Value())
		m.binding = nil
	}
	return o
}

// initInstance runs the instance initializer of c on this.
func (m *Machine) initInstance(c *avm.Class, this avm.Value, args []avm.Value) error {
	for ; c != nil; c = c.Super {
		def := defOf(c)
		if def == nil {
			continue
		}
		if def.iinit.IsObject() {
			_, err := m.call(def.iinit, this, args)
			return err
		}
		if def.ctor != nil {
			_, err := def.ctor(this, args)
			return err
		}
	}
	return nil
}

// constructClass runs `new C(args)`.
func (m *Machine) constructClass(c *avm.Class, args []avm.Value) (avm.Value, error) {
	if c.Flags&avm.ClassInterface != 0 {
		return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "cannot instantiate interface %s", c.Name)
	}
	if def := defOf(c); def != nil && def.construct != nil {
		return def.construct(avm.Undefined, args)
	}
	o := m.newInstance(c)
	if err := m.initInstance(c, o.Value(), args); err != nil {
		return avm.Undefined, err
	}
	return o.Value(), nil
}

// traitClass builds an unsealed holder class for activation and catch
// scopes.
func (m *Machine) traitClass(name string, f *ABCFile, infos []TraitInfo) (*avm.Class, error) {
	cls := avm.NewClass(name, nil, 0)
	def := &classDef{abc: f, dynamicScope: true}
	cls.Native = def
	traits, err := m.addTraits(cls, f, infos, false)
	if err != nil {
		return nil, err
	}
	if err := cls.Link(); err != nil {
		return nil, err
	}
	m.assignSlotIDs(cls, def, traits, false)
	return cls, nil
}

// slot returns the trait and slot vector of a declared slot id of o.
func (m *Machine) slot(o *avm.Object, id int) (*avm.Trait, []avm.Value, error) {
	if c := classOfObject(o); c != nil {
		if def := defOf(c); def != nil {
			if t := def.statics[id]; t != nil {
				return t, c.StaticSlots, nil
			}
		}
	}
	for c := o.Class; c != nil; c = c.Super {
		if def := defOf(c); def != nil {
			if t := def.slots[id]; t != nil {
				return t, o.Slots, nil
			}
		}
	}
	return nil, nil, avm.Errorf(avm.ErrVerify, "slot %d not declared", id)
}
