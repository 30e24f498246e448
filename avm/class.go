package avm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Namespaces and names
// ---------------------------------------------------------------------------

// NamespaceKind classifies a namespace.
type NamespaceKind uint8

const (
	NSPublic NamespaceKind = iota
	NSPackageInternal
	NSProtected
	NSStaticProtected
	NSExplicit
	NSPrivate
)

// Namespace qualifies a name. Private namespaces are distinct per
// declaration even with equal URIs; ID tells them apart.
type Namespace struct {
	Kind NamespaceKind
	URI  string
	ID   uint32
}

// PublicNS is the unnamed public namespace.
var PublicNS = Namespace{Kind: NSPublic}

// Name is a local name qualified by a set of candidate namespaces. An
// empty set means the public namespace.
type Name struct {
	NS    []Namespace
	Local string
}

// PublicName qualifies local with the public namespace.
func PublicName(local string) Name { return Name{Local: local} }

// QName builds a single-namespace name.
func QName(ns Namespace, local string) Name {
	return Name{NS: []Namespace{ns}, Local: local}
}

// IsPublic reports whether the name may match public bindings.
func (n Name) IsPublic() bool {
	if len(n.NS) == 0 {
		return true
	}
	for _, ns := range n.NS {
		if ns.Kind == NSPublic && ns.URI == "" {
			return true
		}
	}
	return false
}

func (n Name) matches(ns Namespace) bool {
	if len(n.NS) == 0 {
		return ns.Kind == NSPublic && ns.URI == ""
	}
	for _, c := range n.NS {
		if c == ns {
			return true
		}
	}
	return false
}

func (n Name) String() string {
	if len(n.NS) == 1 && n.NS[0].URI != "" {
		return n.NS[0].URI + "::" + n.Local
	}
	return n.Local
}

// ---------------------------------------------------------------------------
// Traits
// ---------------------------------------------------------------------------

// TraitKind classifies a declared member.
type TraitKind uint8

const (
	TraitSlot TraitKind = iota
	TraitMethod
	TraitGetter
	TraitSetter
	TraitClass
	TraitFunction
	TraitConst
)

var traitKindNames = [...]string{"slot", "method", "getter", "setter", "class", "function", "const"}

func (k TraitKind) String() string { return traitKindNames[k] }

// Trait is a declared member of a class.
type Trait struct {
	Name     Namespace
	Local    string
	Kind     TraitKind
	Final    bool
	Override bool

	// Slot is the index into the instance slot vector for slot, const
	// and class traits.
	Slot int
	// TypeName is the declared type of a slot, "" for any.
	TypeName string
	Default  Value
	// Value holds the function object of method and accessor traits.
	Value Value
	// Method is the dialect's method body, for lazy closure creation.
	Method any
	// Owner is the class that declared the trait.
	Owner *Class
}

func (t *Trait) String() string {
	if t.Name.URI != "" {
		return t.Name.URI + "::" + t.Local
	}
	return t.Local
}

// QName returns the trait's qualified name.
func (t *Trait) QName() Name { return QName(t.Name, t.Local) }

func (t *Trait) isAccessor() bool { return t.Kind == TraitGetter || t.Kind == TraitSetter }

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// ClassFlags are the declaration modifiers of a class.
type ClassFlags uint8

const (
	ClassSealed ClassFlags = 1 << iota
	ClassFinal
	ClassInterface
)

// Class is a nominal class. It is immutable once linked and shared by
// every instance.
type Class struct {
	Name       string
	Super      *Class
	Interfaces []*Class
	Flags      ClassFlags

	// Proto is the prototype object instances delegate to; Object is the
	// class object scripts see.
	Proto  Value
	Object Value

	// SlotCount includes inherited slots.
	SlotCount   int
	StaticSlots []Value

	// Native is dialect-specific construction state.
	Native any

	traits       []*Trait // declared here
	staticTraits []*Trait
	table        map[string][]*Trait // by local name, including inherited
	staticTable  map[string][]*Trait
	linked       bool
}

// NewClass creates an unlinked class.
func NewClass(name string, super *Class, flags ClassFlags) *Class {
	return &Class{Name: name, Super: super, Flags: flags}
}

// AddTrait declares an instance trait. It panics after Link.
func (c *Class) AddTrait(t *Trait) *Trait {
	if c.linked {
		panic("avm: AddTrait on linked class " + c.Name)
	}
	t.Owner = c
	c.traits = append(c.traits, t)
	return t
}

// AddStaticTrait declares a class-level trait.
func (c *Class) AddStaticTrait(t *Trait) *Trait {
	if c.linked {
		panic("avm: AddStaticTrait on linked class " + c.Name)
	}
	t.Owner = c
	c.staticTraits = append(c.staticTraits, t)
	return t
}

// Traits returns the traits declared on c itself.
func (c *Class) Traits() []*Trait { return c.traits }

// StaticTraits returns the class-level traits.
func (c *Class) StaticTraits() []*Trait { return c.staticTraits }

// Linked reports whether Link has succeeded.
func (c *Class) Linked() bool { return c.linked }

// Link verifies the class against its ancestors and builds its trait
// table. The superclass must already be linked. It fails with ErrVerify
// when the superclass is final, when a trait collides with an inherited
// one without override, when override names nothing, or when a final
// trait is overridden.
func (c *Class) Link() error {
	if c.linked {
		return nil
	}
	table := make(map[string][]*Trait)
	c.SlotCount = 0
	if s := c.Super; s != nil {
		if !s.linked {
			return Errorf(ErrVerify, "class %s: superclass %s not linked", c.Name, s.Name)
		}
		if s.Flags&ClassFinal != 0 {
			return Errorf(ErrVerify, "class %s cannot extend final class %s", c.Name, s.Name)
		}
		if s.Flags&ClassInterface != 0 {
			return Errorf(ErrVerify, "class %s cannot extend interface %s", c.Name, s.Name)
		}
		for k, ts := range s.table {
			table[k] = append([]*Trait(nil), ts...)
		}
		c.SlotCount = s.SlotCount
	}

	for _, t := range c.traits {
		inherited := findIn(table[t.Local], t.Name, t.Kind)
		switch {
		case inherited != nil && !t.Override:
			return Errorf(ErrVerify, "class %s: %s %s collides with inherited %s from %s",
				c.Name, t.Kind, t, inherited.Kind, inherited.Owner.Name)
		case inherited == nil && t.Override:
			return Errorf(ErrVerify, "class %s: %s overrides nothing", c.Name, t)
		case inherited != nil && inherited.Final:
			return Errorf(ErrVerify, "class %s: cannot override final %s", c.Name, t)
		case inherited != nil && (inherited.Kind == TraitSlot || inherited.Kind == TraitConst):
			return Errorf(ErrVerify, "class %s: cannot override slot %s", c.Name, t)
		}
		if own := findIn(declaredBefore(c.traits, t), t.Name, t.Kind); own != nil {
			return Errorf(ErrVerify, "class %s: duplicate %s %s", c.Name, t.Kind, t)
		}

		switch t.Kind {
		case TraitSlot, TraitConst, TraitClass, TraitFunction:
			t.Slot = c.SlotCount
			c.SlotCount++
		}
		list := table[t.Local]
		if inherited != nil {
			list = replaceTrait(list, inherited, t)
		} else {
			list = append(list, t)
		}
		table[t.Local] = list
	}

	static := make(map[string][]*Trait)
	for _, t := range c.staticTraits {
		switch t.Kind {
		case TraitSlot, TraitConst, TraitClass, TraitFunction:
			t.Slot = len(c.StaticSlots)
			c.StaticSlots = append(c.StaticSlots, t.Default)
		}
		if findIn(declaredBefore(c.staticTraits, t), t.Name, t.Kind) != nil {
			return Errorf(ErrVerify, "class %s: duplicate static %s", c.Name, t)
		}
		static[t.Local] = append(static[t.Local], t)
	}

	for _, iface := range c.Interfaces {
		if iface.Flags&ClassInterface == 0 {
			return Errorf(ErrVerify, "class %s: %s is not an interface", c.Name, iface.Name)
		}
	}

	c.table = table
	c.staticTable = static
	c.linked = true
	return nil
}

// declaredBefore returns the traits listed ahead of t that share its
// local name.
func declaredBefore(ts []*Trait, t *Trait) []*Trait {
	var out []*Trait
	for _, x := range ts {
		if x == t {
			break
		}
		if x.Local == t.Local {
			out = append(out, x)
		}
	}
	return out
}

// findIn returns the trait in ts that t with namespace ns and kind would
// collide with. A getter and a setter of the same name coexist.
func findIn(ts []*Trait, ns Namespace, kind TraitKind) *Trait {
	for _, x := range ts {
		if x.Name != ns {
			continue
		}
		if x.isAccessor() && (kind == TraitGetter || kind == TraitSetter) && x.Kind != kind {
			continue
		}
		return x
	}
	return nil
}

func replaceTrait(ts []*Trait, old, t *Trait) []*Trait {
	out := make([]*Trait, len(ts))
	for i, x := range ts {
		if x == old {
			out[i] = t
		} else {
			out[i] = x
		}
	}
	return out
}

func (c *Class) lookup(name Name) []*Trait {
	var out []*Trait
	for _, t := range c.table[name.Local] {
		if name.matches(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// FindTrait returns the first instance trait matching name, including
// inherited ones.
func (c *Class) FindTrait(name Name) *Trait {
	for _, t := range c.table[name.Local] {
		if name.matches(t.Name) {
			return t
		}
	}
	return nil
}

// FindTraits returns every instance trait matching name; a getter and a
// setter may both match.
func (c *Class) FindTraits(name Name) []*Trait { return c.lookup(name) }

// FindStaticTrait returns the class-level trait matching name.
func (c *Class) FindStaticTrait(name Name) *Trait {
	for _, t := range c.staticTable[name.Local] {
		if name.matches(t.Name) {
			return t
		}
	}
	return nil
}

// IsSubclassOf reports whether c is other or descends from or implements
// it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
		for _, i := range k.Interfaces {
			if i.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

// Chain returns the class names from c up to its root, for diagnostics.
func (c *Class) Chain() string {
	var names []string
	for k := c; k != nil; k = k.Super {
		names = append(names, k.Name)
	}
	return strings.Join(names, " < ")
}

func (c *Class) String() string { return fmt.Sprintf("[class %s]", c.Name) }
