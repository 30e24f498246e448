package avm2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/swfvm/avm"
)

// ---------------------------------------------------------------------------
// ABC file structures
// ---------------------------------------------------------------------------

// ErrMalformedABC reports bytecode that cannot be parsed. Loading a
// malformed file is a verify failure.
var ErrMalformedABC = errors.New("malformed abc")

// ABCError locates a parse failure.
type ABCError struct {
	Offset int
	Reason string
}

func (e *ABCError) Error() string {
	return fmt.Sprintf("avm2: malformed abc at offset %d: %s", e.Offset, e.Reason)
}

func (e *ABCError) Unwrap() []error { return []error{ErrMalformedABC, avm.ErrVerify} }

// Method flags.
const (
	MethodNeedArguments  = 0x01
	MethodNeedActivation = 0x02
	MethodNeedRest       = 0x04
	MethodHasOptional    = 0x08
	MethodSetDXNS        = 0x40
	MethodHasParamNames  = 0x80
)

// Instance flags.
const (
	InstanceSealed      = 0x01
	InstanceFinal       = 0x02
	InstanceInterface   = 0x04
	InstanceProtectedNS = 0x08
)

// Namespace kinds as encoded.
const (
	nsNamespace       = 0x08
	nsPackage         = 0x16
	nsPackageInternal = 0x17
	nsProtected       = 0x18
	nsExplicit        = 0x19
	nsStaticProtected = 0x1A
	nsPrivate         = 0x05
)

// Multiname kinds as encoded.
const (
	mnQName       = 0x07
	mnQNameA      = 0x0D
	mnRTQName     = 0x0F
	mnRTQNameA    = 0x10
	mnRTQNameL    = 0x11
	mnRTQNameLA   = 0x12
	mnMultiname   = 0x09
	mnMultinameA  = 0x0E
	mnMultinameL  = 0x1B
	mnMultinameLA = 0x1C
	mnTypeName    = 0x1D
)

// Constant value kinds of optional parameters and slot defaults.
const (
	cvUndefined = 0x00
	cvUtf8      = 0x01
	cvInt       = 0x03
	cvUint      = 0x04
	cvDouble    = 0x06
	cvFalse     = 0x0A
	cvTrue      = 0x0B
	cvNull      = 0x0C
)

// Multiname is a constant-pool name. Runtime parts are supplied from the
// operand stack.
type Multiname struct {
	Kind uint8
	NS   []avm.Namespace
	Name string
	// RuntimeName and RuntimeNS mark late-bound parts.
	RuntimeName bool
	RuntimeNS   bool
	Attribute   bool
	// Params holds the parameter names of a TypeName.
	Base   int
	Params []int
}

// Option is a default parameter value.
type Option struct {
	Kind  uint8
	Index int
}

// MethodInfo is a method signature. Body is attached after bodies are
// read; native or interface methods have none.
type MethodInfo struct {
	Index      int
	Name       string
	ParamTypes []int
	ReturnType int
	Flags      uint8
	Options    []Option
	ParamNames []string
	Body       *MethodBody
}

// ExceptionInfo is one exception table entry.
type ExceptionInfo struct {
	From, To, Target int
	Type             int // multiname, 0 catches everything
	VarName          int // multiname
}

// MethodBody is the bytecode of a method.
type MethodBody struct {
	Method         int
	MaxStack       int
	LocalCount     int
	InitScopeDepth int
	MaxScopeDepth  int
	Code           []byte
	Exceptions     []ExceptionInfo
	Traits         []TraitInfo
}

// TraitInfo is a declared member before linking.
type TraitInfo struct {
	Name     int // multiname
	Kind     avm.TraitKind
	Final    bool
	Override bool
	// SlotID for slot-like traits, DispID for methods.
	SlotID   int
	TypeName int
	// Index is the method, class or constant index by kind.
	Index     int
	ValueKind uint8
}

// InstanceInfo describes the instance side of a class.
type InstanceInfo struct {
	Name        int
	Super       int
	Flags       uint8
	ProtectedNS int
	Interfaces  []int
	Init        int
	Traits      []TraitInfo
}

// ClassInfo describes the static side of a class.
type ClassInfo struct {
	Init   int
	Traits []TraitInfo
}

// ScriptInfo is a script entry point and its global traits.
type ScriptInfo struct {
	Init   int
	Traits []TraitInfo
}

// ABCFile is a parsed bytecode file.
type ABCFile struct {
	Minor, Major uint16

	Ints       []int32
	Uints      []uint32
	Doubles    []float64
	Strings    []string
	Namespaces []avm.Namespace
	NSSets     [][]avm.Namespace
	Multinames []Multiname

	Methods   []*MethodInfo
	Instances []*InstanceInfo
	Classes   []*ClassInfo
	Scripts   []*ScriptInfo
	Bodies    []*MethodBody
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

type abcReader struct {
	data []byte
	pos  int
	// nsBase distinguishes private namespaces of different files.
	nsBase uint32
}

func (r *abcReader) fail(format string, args ...any) error {
	return &ABCError{Offset: r.pos, Reason: fmt.Sprintf(format, args...)}
}

func (r *abcReader) u8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, r.fail("unexpected end of data")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *abcReader) u16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, r.fail("unexpected end of data")
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// u32 reads a variable-length encoded unsigned integer.
func (r *abcReader) u32() (uint32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	return v, nil
}

func (r *abcReader) u30() (int, error) {
	v, err := r.u32()
	if err != nil {
		return 0, err
	}
	if v > 1<<30-1 {
		return 0, r.fail("u30 out of range: %d", v)
	}
	return int(v), nil
}

func (r *abcReader) s32() (int32, error) {
	var v uint32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 32 && v&(1<<(shift-1)) != 0 {
		v |= ^uint32(0) << shift
	}
	return int32(v), nil
}

func (r *abcReader) d64() (float64, error) {
	if r.pos+8 > len(r.data) {
		return 0, r.fail("unexpected end of data")
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *abcReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, r.fail("length %d exceeds data", n)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// count reads a pool size; entry 0 is implicit so n-1 entries follow.
func (r *abcReader) count() (int, error) {
	n, err := r.u30()
	if err != nil {
		return 0, err
	}
	if n > len(r.data)-r.pos+1 {
		return 0, r.fail("count %d exceeds data", n)
	}
	return n, nil
}

// ParseABC parses a bytecode file. id separates the private namespaces of
// this file from those of other files loaded into the same domain.
func ParseABC(data []byte, id uint32) (*ABCFile, error) {
	r := &abcReader{data: data, nsBase: id << 16}
	f := &ABCFile{}
	var err error
	if f.Minor, err = r.u16(); err != nil {
		return nil, err
	}
	if f.Major, err = r.u16(); err != nil {
		return nil, err
	}
	if err := r.constantPool(f); err != nil {
		return nil, err
	}
	if err := r.methods(f); err != nil {
		return nil, err
	}
	if err := r.metadata(); err != nil {
		return nil, err
	}
	if err := r.classes(f); err != nil {
		return nil, err
	}
	if err := r.scripts(f); err != nil {
		return nil, err
	}
	if err := r.bodies(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *abcReader) constantPool(f *ABCFile) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	f.Ints = make([]int32, max(n, 1))
	for i := 1; i < n; i++ {
		if f.Ints[i], err = r.s32(); err != nil {
			return err
		}
	}

	if n, err = r.count(); err != nil {
		return err
	}
	f.Uints = make([]uint32, max(n, 1))
	for i := 1; i < n; i++ {
		if f.Uints[i], err = r.u32(); err != nil {
			return err
		}
	}

	if n, err = r.count(); err != nil {
		return err
	}
	f.Doubles = make([]float64, max(n, 1))
	f.Doubles[0] = math.NaN()
	for i := 1; i < n; i++ {
		if f.Doubles[i], err = r.d64(); err != nil {
			return err
		}
	}

	if n, err = r.count(); err != nil {
		return err
	}
	f.Strings = make([]string, max(n, 1))
	for i := 1; i < n; i++ {
		size, err := r.u30()
		if err != nil {
			return err
		}
		b, err := r.bytes(size)
		if err != nil {
			return err
		}
		f.Strings[i] = string(b)
	}

	if n, err = r.count(); err != nil {
		return err
	}
	f.Namespaces = make([]avm.Namespace, max(n, 1))
	f.Namespaces[0] = avm.Namespace{Kind: avm.NSPublic, URI: "*"}
	for i := 1; i < n; i++ {
		kind, err := r.u8()
		if err != nil {
			return err
		}
		name, err := r.u30()
		if err != nil {
			return err
		}
		if name >= len(f.Strings) {
			return r.fail("namespace name %d out of range", name)
		}
		ns := avm.Namespace{URI: f.Strings[name]}
		switch kind {
		case nsNamespace, nsPackage:
			ns.Kind = avm.NSPublic
		case nsPackageInternal:
			ns.Kind = avm.NSPackageInternal
		case nsProtected:
			ns.Kind = avm.NSProtected
		case nsExplicit:
			ns.Kind = avm.NSExplicit
		case nsStaticProtected:
			ns.Kind = avm.NSStaticProtected
		case nsPrivate:
			ns.Kind = avm.NSPrivate
			ns.ID = r.nsBase | uint32(i)
		default:
			return r.fail("unknown namespace kind 0x%02x", kind)
		}
		f.Namespaces[i] = ns
	}

	if n, err = r.count(); err != nil {
		return err
	}
	f.NSSets = make([][]avm.Namespace, max(n, 1))
	for i := 1; i < n; i++ {
		c, err := r.u30()
		if err != nil {
			return err
		}
		set := make([]avm.Namespace, 0, c)
		for j := 0; j < c; j++ {
			idx, err := r.u30()
			if err != nil {
				return err
			}
			if idx == 0 || idx >= len(f.Namespaces) {
				return r.fail("namespace set entry %d out of range", idx)
			}
			set = append(set, f.Namespaces[idx])
		}
		f.NSSets[i] = set
	}

	if n, err = r.count(); err != nil {
		return err
	}
	f.Multinames = make([]Multiname, max(n, 1))
	for i := 1; i < n; i++ {
		if f.Multinames[i], err = r.multiname(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *abcReader) str(f *ABCFile) (string, error) {
	idx, err := r.u30()
	if err != nil {
		return "", err
	}
	if idx >= len(f.Strings) {
		return "", r.fail("string %d out of range", idx)
	}
	return f.Strings[idx], nil
}

func (r *abcReader) nsSet(f *ABCFile) ([]avm.Namespace, error) {
	idx, err := r.u30()
	if err != nil {
		return nil, err
	}
	if idx == 0 || idx >= len(f.NSSets) {
		return nil, r.fail("namespace set %d out of range", idx)
	}
	return f.NSSets[idx], nil
}

func (r *abcReader) multiname(f *ABCFile) (Multiname, error) {
	kind, err := r.u8()
	if err != nil {
		return Multiname{}, err
	}
	mn := Multiname{Kind: kind}
	switch kind {
	case mnQName, mnQNameA:
		idx, err := r.u30()
		if err != nil {
			return mn, err
		}
		if idx >= len(f.Namespaces) {
			return mn, r.fail("namespace %d out of range", idx)
		}
		mn.NS = []avm.Namespace{f.Namespaces[idx]}
		if mn.Name, err = r.str(f); err != nil {
			return mn, err
		}
	case mnRTQName, mnRTQNameA:
		mn.RuntimeNS = true
		if mn.Name, err = r.str(f); err != nil {
			return mn, err
		}
	case mnRTQNameL, mnRTQNameLA:
		mn.RuntimeNS, mn.RuntimeName = true, true
	case mnMultiname, mnMultinameA:
		if mn.Name, err = r.str(f); err != nil {
			return mn, err
		}
		if mn.NS, err = r.nsSet(f); err != nil {
			return mn, err
		}
	case mnMultinameL, mnMultinameLA:
		mn.RuntimeName = true
		if mn.NS, err = r.nsSet(f); err != nil {
			return mn, err
		}
	case mnTypeName:
		if mn.Base, err = r.u30(); err != nil {
			return mn, err
		}
		c, err := r.u30()
		if err != nil {
			return mn, err
		}
		for j := 0; j < c; j++ {
			p, err := r.u30()
			if err != nil {
				return mn, err
			}
			mn.Params = append(mn.Params, p)
		}
	default:
		return mn, r.fail("unknown multiname kind 0x%02x", kind)
	}
	switch kind {
	case mnQNameA, mnRTQNameA, mnRTQNameLA, mnMultinameA, mnMultinameLA:
		mn.Attribute = true
	}
	return mn, nil
}

func (r *abcReader) methods(f *ABCFile) error {
	n, err := r.u30()
	if err != nil {
		return err
	}
	f.Methods = make([]*MethodInfo, n)
	for i := range f.Methods {
		m := &MethodInfo{Index: i}
		params, err := r.u30()
		if err != nil {
			return err
		}
		if m.ReturnType, err = r.u30(); err != nil {
			return err
		}
		m.ParamTypes = make([]int, params)
		for j := range m.ParamTypes {
			if m.ParamTypes[j], err = r.u30(); err != nil {
				return err
			}
		}
		if m.Name, err = r.str(f); err != nil {
			return err
		}
		if m.Flags, err = r.u8(); err != nil {
			return err
		}
		if m.Flags&MethodHasOptional != 0 {
			c, err := r.u30()
			if err != nil {
				return err
			}
			if c > params {
				return r.fail("method %d: %d optionals for %d params", i, c, params)
			}
			for j := 0; j < c; j++ {
				var o Option
				if o.Index, err = r.u30(); err != nil {
					return err
				}
				if o.Kind, err = r.u8(); err != nil {
					return err
				}
				m.Options = append(m.Options, o)
			}
		}
		if m.Flags&MethodHasParamNames != 0 {
			for j := 0; j < params; j++ {
				s, err := r.str(f)
				if err != nil {
					return err
				}
				m.ParamNames = append(m.ParamNames, s)
			}
		}
		f.Methods[i] = m
	}
	return nil
}

// metadata is skipped: nothing at runtime reads it.
func (r *abcReader) metadata() error {
	n, err := r.u30()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := r.u30(); err != nil {
			return err
		}
		items, err := r.u30()
		if err != nil {
			return err
		}
		for j := 0; j < 2*items; j++ {
			if _, err := r.u30(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *abcReader) traits(f *ABCFile) ([]TraitInfo, error) {
	n, err := r.u30()
	if err != nil {
		return nil, err
	}
	out := make([]TraitInfo, 0, n)
	for i := 0; i < n; i++ {
		var t TraitInfo
		if t.Name, err = r.u30(); err != nil {
			return nil, err
		}
		if t.Name == 0 || t.Name >= len(f.Multinames) || f.Multinames[t.Name].Kind != mnQName {
			return nil, r.fail("trait name %d is not a qualified name", t.Name)
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		if kind&0x0F > uint8(avm.TraitConst) {
			return nil, r.fail("unknown trait kind %d", kind&0x0F)
		}
		t.Kind = avm.TraitKind(kind & 0x0F)
		attrs := kind >> 4
		t.Final = attrs&0x1 != 0
		t.Override = attrs&0x2 != 0
		if t.SlotID, err = r.u30(); err != nil {
			return nil, err
		}
		switch t.Kind {
		case avm.TraitSlot, avm.TraitConst:
			if t.TypeName, err = r.u30(); err != nil {
				return nil, err
			}
			if t.Index, err = r.u30(); err != nil {
				return nil, err
			}
			if t.Index != 0 {
				if t.ValueKind, err = r.u8(); err != nil {
					return nil, err
				}
			}
		case avm.TraitClass:
			if t.Index, err = r.u30(); err != nil {
				return nil, err
			}
		default:
			if t.Index, err = r.u30(); err != nil {
				return nil, err
			}
			if t.Index >= len(f.Methods) {
				return nil, r.fail("trait method %d out of range", t.Index)
			}
		}
		if attrs&0x4 != 0 {
			c, err := r.u30()
			if err != nil {
				return nil, err
			}
			for j := 0; j < c; j++ {
				if _, err := r.u30(); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *abcReader) classes(f *ABCFile) error {
	n, err := r.u30()
	if err != nil {
		return err
	}
	f.Instances = make([]*InstanceInfo, n)
	for i := range f.Instances {
		in := &InstanceInfo{}
		if in.Name, err = r.u30(); err != nil {
			return err
		}
		if in.Super, err = r.u30(); err != nil {
			return err
		}
		if in.Flags, err = r.u8(); err != nil {
			return err
		}
		if in.Flags&InstanceProtectedNS != 0 {
			if in.ProtectedNS, err = r.u30(); err != nil {
				return err
			}
		}
		c, err := r.u30()
		if err != nil {
			return err
		}
		for j := 0; j < c; j++ {
			idx, err := r.u30()
			if err != nil {
				return err
			}
			in.Interfaces = append(in.Interfaces, idx)
		}
		if in.Init, err = r.u30(); err != nil {
			return err
		}
		if in.Init >= len(f.Methods) {
			return r.fail("instance initializer %d out of range", in.Init)
		}
		if in.Traits, err = r.traits(f); err != nil {
			return err
		}
		f.Instances[i] = in
	}
	f.Classes = make([]*ClassInfo, n)
	for i := range f.Classes {
		c := &ClassInfo{}
		if c.Init, err = r.u30(); err != nil {
			return err
		}
		if c.Init >= len(f.Methods) {
			return r.fail("class initializer %d out of range", c.Init)
		}
		if c.Traits, err = r.traits(f); err != nil {
			return err
		}
		f.Classes[i] = c
	}
	return nil
}

func (r *abcReader) scripts(f *ABCFile) error {
	n, err := r.u30()
	if err != nil {
		return err
	}
	f.Scripts = make([]*ScriptInfo, n)
	for i := range f.Scripts {
		s := &ScriptInfo{}
		if s.Init, err = r.u30(); err != nil {
			return err
		}
		if s.Init >= len(f.Methods) {
			return r.fail("script initializer %d out of range", s.Init)
		}
		if s.Traits, err = r.traits(f); err != nil {
			return err
		}
		f.Scripts[i] = s
	}
	return nil
}

func (r *abcReader) bodies(f *ABCFile) error {
	n, err := r.u30()
	if err != nil {
		return err
	}
	f.Bodies = make([]*MethodBody, n)
	for i := range f.Bodies {
		b := &MethodBody{}
		if b.Method, err = r.u30(); err != nil {
			return err
		}
		if b.Method >= len(f.Methods) {
			return r.fail("body for method %d out of range", b.Method)
		}
		for _, p := range []*int{&b.MaxStack, &b.LocalCount, &b.InitScopeDepth, &b.MaxScopeDepth} {
			if *p, err = r.u30(); err != nil {
				return err
			}
		}
		size, err := r.u30()
		if err != nil {
			return err
		}
		if b.Code, err = r.bytes(size); err != nil {
			return err
		}
		c, err := r.u30()
		if err != nil {
			return err
		}
		for j := 0; j < c; j++ {
			var e ExceptionInfo
			for _, p := range []*int{&e.From, &e.To, &e.Target, &e.Type, &e.VarName} {
				if *p, err = r.u30(); err != nil {
					return err
				}
			}
			if e.From > e.To || e.To > size || e.Target >= size {
				return r.fail("exception range [%d,%d)->%d outside code", e.From, e.To, e.Target)
			}
			b.Exceptions = append(b.Exceptions, e)
		}
		if b.Traits, err = r.traits(f); err != nil {
			return err
		}
		m := f.Methods[b.Method]
		if m.Body != nil {
			return r.fail("method %d has two bodies", b.Method)
		}
		if b.LocalCount < len(m.ParamTypes)+1 {
			return r.fail("method %d: %d locals for %d params", b.Method, b.LocalCount, len(m.ParamTypes))
		}
		m.Body = b
		f.Bodies[i] = b
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pool access
// ---------------------------------------------------------------------------

// constant returns an optional or slot default from the pool.
func (f *ABCFile) constant(h *avm.Heap, kind uint8, index int) (avm.Value, error) {
	bad := func() (avm.Value, error) {
		return avm.Undefined, avm.Errorf(avm.ErrVerify, "constant %d of kind 0x%02x out of range", index, kind)
	}
	switch kind {
	case cvUndefined:
		return avm.Undefined, nil
	case cvNull:
		return avm.Null, nil
	case cvTrue:
		return avm.True, nil
	case cvFalse:
		return avm.False, nil
	case cvInt:
		if index >= len(f.Ints) {
			return bad()
		}
		return avm.Number(float64(f.Ints[index])), nil
	case cvUint:
		if index >= len(f.Uints) {
			return bad()
		}
		return avm.Number(float64(f.Uints[index])), nil
	case cvDouble:
		if index >= len(f.Doubles) {
			return bad()
		}
		return avm.Number(f.Doubles[index]), nil
	case cvUtf8:
		if index >= len(f.Strings) {
			return bad()
		}
		return h.Str(f.Strings[index]), nil
	case nsNamespace, nsPackage, nsPackageInternal, nsProtected, nsExplicit, nsStaticProtected, nsPrivate:
		if index >= len(f.Namespaces) {
			return bad()
		}
		return h.Str(f.Namespaces[index].URI), nil
	}
	return bad()
}

// multiname returns pool entry i.
func (f *ABCFile) multiname(i int) (*Multiname, error) {
	if i <= 0 || i >= len(f.Multinames) {
		return nil, avm.Errorf(avm.ErrVerify, "multiname %d out of range", i)
	}
	return &f.Multinames[i], nil
}

// qname returns the static name of pool entry i.
func (f *ABCFile) qname(i int) (avm.Name, error) {
	mn, err := f.multiname(i)
	if err != nil {
		return avm.Name{}, err
	}
	if mn.Kind == mnTypeName {
		return f.qname(mn.Base)
	}
	if mn.RuntimeName || mn.RuntimeNS {
		return avm.Name{}, avm.Errorf(avm.ErrVerify, "multiname %d is late-bound", i)
	}
	return avm.Name{NS: mn.NS, Local: mn.Name}, nil
}
