package avm2

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/swfvm/avm"
)

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// Assembler writes bytecode files. Pool entries are interned and methods,
// classes and scripts are emitted in the order they are added.
type Assembler struct {
	ints       []int32
	uints      []uint32
	doubles    []float64
	strings    []string
	namespaces [][2]int
	nsSets     [][]int
	multinames [][]byte

	index map[string]int

	methods []AsmMethod
	classes []AsmClass
	scripts []asmScript
}

// AsmMethod is a method signature with an optional body. Zero sizes are
// filled in when the file is written.
type AsmMethod struct {
	Name       string
	Params     []int
	Return     int
	Flags      uint8
	Options    []Option
	Native     bool
	MaxStack   int
	Locals     int
	InitScope  int
	MaxScope   int
	Code       []byte
	Exceptions []ExceptionInfo
	Traits     []TraitInfo
}

// AsmClass declares a class; IInit and CInit are method indices.
type AsmClass struct {
	Name         int
	Super        int
	Flags        uint8
	ProtectedNS  int
	Interfaces   []int
	IInit        int
	Traits       []TraitInfo
	CInit        int
	StaticTraits []TraitInfo
}

type asmScript struct {
	init   int
	traits []TraitInfo
}

func NewAssembler() *Assembler {
	return &Assembler{
		ints:       []int32{0},
		uints:      []uint32{0},
		doubles:    []float64{math.NaN()},
		strings:    []string{""},
		namespaces: [][2]int{{}},
		nsSets:     [][]int{nil},
		multinames: [][]byte{nil},
		index:      make(map[string]int),
	}
}

func (a *Assembler) intern(key string, add func() int) int {
	if i, ok := a.index[key]; ok {
		return i
	}
	i := add()
	a.index[key] = i
	return i
}

// String returns the pool index of s.
func (a *Assembler) String(s string) int {
	return a.intern("s:"+s, func() int {
		a.strings = append(a.strings, s)
		return len(a.strings) - 1
	})
}

func (a *Assembler) Int(v int32) int {
	return a.intern(fmt.Sprintf("i:%d", v), func() int {
		a.ints = append(a.ints, v)
		return len(a.ints) - 1
	})
}

func (a *Assembler) Uint(v uint32) int {
	return a.intern(fmt.Sprintf("u:%d", v), func() int {
		a.uints = append(a.uints, v)
		return len(a.uints) - 1
	})
}

func (a *Assembler) Double(v float64) int {
	return a.intern(fmt.Sprintf("d:%x", math.Float64bits(v)), func() int {
		a.doubles = append(a.doubles, v)
		return len(a.doubles) - 1
	})
}

func (a *Assembler) namespace(kind uint8, uri string) int {
	s := a.String(uri)
	return a.intern(fmt.Sprintf("n:%d:%d", kind, s), func() int {
		a.namespaces = append(a.namespaces, [2]int{int(kind), s})
		return len(a.namespaces) - 1
	})
}

// Package returns the namespace index of a package; "" is the public
// namespace.
func (a *Assembler) Package(uri string) int { return a.namespace(nsPackage, uri) }

// Private returns a fresh private namespace.
func (a *Assembler) Private() int {
	a.namespaces = append(a.namespaces, [2]int{nsPrivate, a.String("")})
	return len(a.namespaces) - 1
}

func (a *Assembler) Protected(uri string) int { return a.namespace(nsProtected, uri) }

func (a *Assembler) nsSet(nss []int) int {
	return a.intern(fmt.Sprintf("ns:%v", nss), func() int {
		a.nsSets = append(a.nsSets, nss)
		return len(a.nsSets) - 1
	})
}

func (a *Assembler) multiname(b []byte) int {
	return a.intern("m:"+string(b), func() int {
		a.multinames = append(a.multinames, b)
		return len(a.multinames) - 1
	})
}

// QName returns a qualified name in namespace ns.
func (a *Assembler) QName(ns int, local string) int {
	return a.multiname(appendU30(appendU30([]byte{mnQName}, ns), a.String(local)))
}

// Public returns the public qualified name of local.
func (a *Assembler) Public(local string) int { return a.QName(a.Package(""), local) }

// Multiname returns a name searched in each of the namespaces; none
// means the public namespace.
func (a *Assembler) Multiname(local string, nss ...int) int {
	if len(nss) == 0 {
		nss = []int{a.Package("")}
	}
	b := appendU30([]byte{mnMultiname}, a.String(local))
	return a.multiname(appendU30(b, a.nsSet(nss)))
}

// MultinameL returns a name whose local part comes from the stack.
func (a *Assembler) MultinameL(nss ...int) int {
	if len(nss) == 0 {
		nss = []int{a.Package("")}
	}
	return a.multiname(appendU30([]byte{mnMultinameL}, a.nsSet(nss)))
}

// Method adds a method and returns its index.
func (a *Assembler) Method(m AsmMethod) int {
	a.String(m.Name)
	a.methods = append(a.methods, m)
	return len(a.methods) - 1
}

// Class adds a class and returns its index.
func (a *Assembler) Class(c AsmClass) int {
	a.classes = append(a.classes, c)
	return len(a.classes) - 1
}

// Script adds a script. The last script added is the file's entry point.
func (a *Assembler) Script(init int, traits ...TraitInfo) {
	a.scripts = append(a.scripts, asmScript{init: init, traits: traits})
}

// Bytes encodes the file.
func (a *Assembler) Bytes() []byte {
	b := binary.LittleEndian.AppendUint16(nil, 16)
	b = binary.LittleEndian.AppendUint16(b, 46)

	b = appendCount(b, len(a.ints))
	for _, v := range a.ints[1:] {
		b = appendS32(b, v)
	}
	b = appendCount(b, len(a.uints))
	for _, v := range a.uints[1:] {
		b = appendU30(b, int(v))
	}
	b = appendCount(b, len(a.doubles))
	for _, v := range a.doubles[1:] {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	b = appendCount(b, len(a.strings))
	for _, s := range a.strings[1:] {
		b = appendU30(b, len(s))
		b = append(b, s...)
	}
	b = appendCount(b, len(a.namespaces))
	for _, ns := range a.namespaces[1:] {
		b = appendU30(append(b, byte(ns[0])), ns[1])
	}
	b = appendCount(b, len(a.nsSets))
	for _, set := range a.nsSets[1:] {
		b = appendU30(b, len(set))
		for _, ns := range set {
			b = appendU30(b, ns)
		}
	}
	b = appendCount(b, len(a.multinames))
	for _, mn := range a.multinames[1:] {
		b = append(b, mn...)
	}

	b = appendU30(b, len(a.methods))
	for _, m := range a.methods {
		b = appendU30(b, len(m.Params))
		b = appendU30(b, m.Return)
		for _, p := range m.Params {
			b = appendU30(b, p)
		}
		b = appendU30(b, a.String(m.Name))
		flags := m.Flags &^ MethodHasParamNames
		if len(m.Options) > 0 {
			flags |= MethodHasOptional
		}
		b = append(b, flags)
		if len(m.Options) > 0 {
			b = appendU30(b, len(m.Options))
			for _, o := range m.Options {
				b = append(appendU30(b, o.Index), o.Kind)
			}
		}
	}
	b = appendU30(b, 0) // metadata

	b = appendU30(b, len(a.classes))
	for _, c := range a.classes {
		b = appendU30(b, c.Name)
		b = appendU30(b, c.Super)
		flags := c.Flags &^ InstanceProtectedNS
		if c.ProtectedNS != 0 {
			flags |= InstanceProtectedNS
		}
		b = append(b, flags)
		if c.ProtectedNS != 0 {
			b = appendU30(b, c.ProtectedNS)
		}
		b = appendU30(b, len(c.Interfaces))
		for _, i := range c.Interfaces {
			b = appendU30(b, i)
		}
		b = appendU30(b, c.IInit)
		b = appendTraits(b, c.Traits)
	}
	for _, c := range a.classes {
		b = appendU30(b, c.CInit)
		b = appendTraits(b, c.StaticTraits)
	}

	b = appendU30(b, len(a.scripts))
	for _, s := range a.scripts {
		b = appendU30(b, s.init)
		b = appendTraits(b, s.traits)
	}

	bodies := 0
	for _, m := range a.methods {
		if !m.Native {
			bodies++
		}
	}
	b = appendU30(b, bodies)
	for i, m := range a.methods {
		if m.Native {
			continue
		}
		b = appendU30(b, i)
		b = appendU30(b, orDefault(m.MaxStack, 16))
		b = appendU30(b, max(m.Locals, len(m.Params)+1))
		b = appendU30(b, m.InitScope)
		b = appendU30(b, orDefault(m.MaxScope, m.InitScope+8))
		b = appendU30(b, len(m.Code))
		b = append(b, m.Code...)
		b = appendU30(b, len(m.Exceptions))
		for _, e := range m.Exceptions {
			for _, v := range []int{e.From, e.To, e.Target, e.Type, e.VarName} {
				b = appendU30(b, v)
			}
		}
		b = appendTraits(b, m.Traits)
	}
	return b
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func appendCount(b []byte, n int) []byte {
	if n <= 1 {
		return append(b, 0)
	}
	return appendU30(b, n)
}

func appendU30(b []byte, v int) []byte {
	u := uint32(v)
	for {
		c := byte(u & 0x7F)
		u >>= 7
		if u == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// appendS32 always uses the five-byte form, which the reader never sign
// extends.
func appendS32(b []byte, v int32) []byte {
	u := uint32(v)
	for i := 0; i < 4; i++ {
		b = append(b, byte(u&0x7F)|0x80)
		u >>= 7
	}
	return append(b, byte(u&0x0F))
}

func appendTraits(b []byte, ts []TraitInfo) []byte {
	b = appendU30(b, len(ts))
	for _, t := range ts {
		b = appendU30(b, t.Name)
		kind := byte(t.Kind)
		if t.Final {
			kind |= 0x10
		}
		if t.Override {
			kind |= 0x20
		}
		b = append(b, kind)
		b = appendU30(b, t.SlotID)
		switch t.Kind {
		case avm.TraitSlot, avm.TraitConst:
			b = appendU30(b, t.TypeName)
			b = appendU30(b, t.Index)
			if t.Index != 0 {
				b = append(b, t.ValueKind)
			}
		default:
			b = appendU30(b, t.Index)
		}
	}
	return b
}

// ---------------------------------------------------------------------------
// Code
// ---------------------------------------------------------------------------

// Code assembles the instructions of a method body. Branches name
// labels, which are resolved by Bytes.
type Code struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	at    int
	base  int
	label string
}

// Op appends an instruction with its immediate operands.
func (c *Code) Op(op Op, operands ...int) *Code {
	arg := func(i int) int {
		if i < len(operands) {
			return operands[i]
		}
		return 0
	}
	c.buf = append(c.buf, byte(op))
	switch formatOf(op) {
	case fmtU8:
		c.buf = append(c.buf, byte(arg(0)))
	case fmtU30:
		c.buf = appendU30(c.buf, arg(0))
	case fmtU30U30:
		c.buf = appendU30(appendU30(c.buf, arg(0)), arg(1))
	case fmtDebug:
		c.buf = append(c.buf, 1)
		c.buf = appendU30(c.buf, arg(0))
		c.buf = append(c.buf, 0)
		c.buf = appendU30(c.buf, 0)
	case fmtS24, fmtSwitch:
		panic(fmt.Sprintf("avm2: %s takes a label", op))
	}
	return c
}

// Branch appends a jump or conditional branch to label.
func (c *Code) Branch(op Op, label string) *Code {
	c.buf = append(c.buf, byte(op), 0, 0, 0)
	c.fixups = append(c.fixups, fixup{at: len(c.buf) - 3, base: len(c.buf), label: label})
	return c
}

// Switch appends a lookupswitch with a default and case labels.
func (c *Code) Switch(def string, cases ...string) *Code {
	base := len(c.buf)
	c.buf = append(c.buf, byte(OpLookupSwitch), 0, 0, 0)
	c.fixups = append(c.fixups, fixup{at: base + 1, base: base, label: def})
	c.buf = appendU30(c.buf, len(cases)-1)
	for _, l := range cases {
		c.buf = append(c.buf, 0, 0, 0)
		c.fixups = append(c.fixups, fixup{at: len(c.buf) - 3, base: base, label: l})
	}
	return c
}

// Label marks the current position.
func (c *Code) Label(name string) *Code {
	if c.labels == nil {
		c.labels = make(map[string]int)
	}
	c.labels[name] = len(c.buf)
	return c
}

// At returns the position of a label, for exception ranges.
func (c *Code) At(label string) int {
	pos, ok := c.labels[label]
	if !ok {
		panic("avm2: undefined label " + label)
	}
	return pos
}

// Bytes resolves branches and returns the code.
func (c *Code) Bytes() []byte {
	for _, f := range c.fixups {
		off := uint32(c.At(f.label) - f.base)
		c.buf[f.at] = byte(off)
		c.buf[f.at+1] = byte(off >> 8)
		c.buf[f.at+2] = byte(off >> 16)
	}
	return c.buf
}
