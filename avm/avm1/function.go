package avm1

import (
	"github.com/chazu/swfvm/avm"
)

// Preload and suppress flags of DefineFunction2.
const (
	flagPreloadThis      = 0x0001
	flagSuppressThis     = 0x0002
	flagPreloadArguments = 0x0004
	flagSuppressArgs     = 0x0008
	flagPreloadSuper     = 0x0010
	flagSuppressSuper    = 0x0020
	flagPreloadRoot      = 0x0040
	flagPreloadParent    = 0x0080
	flagPreloadGlobal    = 0x0100
)

// Param is one declared parameter. Register is 0 when the parameter is
// bound by name in the activation object.
type Param struct {
	Name     string
	Register int
}

// Function is the payload of a script-defined function object.
type Function struct {
	Name      string
	Params    []Param
	Code      []byte
	Registers int
	Flags     uint16
	// Modern marks a DefineFunction2 body, which keeps locals in
	// registers.
	Modern bool

	// Scope is the scope chain captured at definition, outermost first.
	Scope []avm.Value
	// Target is the clip whose timeline defined the function.
	Target avm.Value
	// Pool is the constant pool in effect at definition.
	Pool []string
}

func (fn *Function) FunctionName() string { return fn.Name }

func (fn *Function) Trace(m *avm.Marker) {
	m.MarkAll(fn.Scope)
	m.Mark(fn.Target)
}

// decodeFunction reads a DefineFunction or DefineFunction2 payload. The
// body follows the record in the enclosing block; the returned length is
// its size.
func decodeFunction(a action, version uint8) (*Function, int, error) {
	p := &payload{b: a.payload, version: version}
	fn := &Function{Name: p.cstring()}
	n := int(p.u16())
	if a.op == OpDefineFunction2 {
		fn.Modern = true
		fn.Registers = int(p.u8())
		fn.Flags = p.u16()
		for i := 0; i < n && p.err == nil; i++ {
			reg := int(p.u8())
			fn.Params = append(fn.Params, Param{Register: reg, Name: p.cstring()})
		}
	} else {
		fn.Registers = 4
		for i := 0; i < n && p.err == nil; i++ {
			fn.Params = append(fn.Params, Param{Name: p.cstring()})
		}
	}
	size := int(p.u16())
	return fn, size, p.err
}

// ---------------------------------------------------------------------------
// Per-frame state
// ---------------------------------------------------------------------------

type blockKind uint8

const (
	blockWith blockKind = iota
	blockTry
	blockCatch
	blockFinally
)

// block is an active With or Try region of the executing code.
type block struct {
	kind       blockKind
	start, end int
	scopeLen   int

	// try regions
	catchEnd   int
	finallyEnd int
	handler    *avm.Handler
}

// state is the legacy dialect's per-frame data.
type state struct {
	pool       []string
	target     avm.Value // current SetTarget clip
	base       avm.Value // clip the code belongs to
	activation *avm.Object
	blocks     []block
	result     avm.Value
	nextTry    int
}

func (st *state) Trace(m *avm.Marker) {
	m.Mark(st.target)
	m.Mark(st.base)
	m.Mark(st.result)
	if st.activation != nil {
		m.MarkObject(st.activation)
	}
}

func (st *state) register(f *avm.Frame, i int) avm.Value {
	if i < 0 || i >= len(f.Locals) {
		return avm.Undefined
	}
	return f.Locals[i]
}

func (st *state) setRegister(f *avm.Frame, i int, v avm.Value) {
	if i >= 0 && i < len(f.Locals) {
		f.Locals[i] = v
	}
}

func (st *state) constant(m *Machine, i int) avm.Value {
	if i < 0 || i >= len(st.pool) {
		return avm.Undefined
	}
	return m.Heap.Str(st.pool[i])
}
