package avm1

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/swf"
)

// ErrMalformedAction reports an action record that runs past its block.
var ErrMalformedAction = errors.New("malformed action")

// action is one decoded record header. The payload aliases the code
// block.
type action struct {
	op      Op
	offset  int
	next    int
	payload []byte
}

func readAction(code []byte, pc int) (action, error) {
	if pc >= len(code) {
		return action{op: OpEnd, offset: pc, next: pc}, nil
	}
	a := action{op: Op(code[pc]), offset: pc, next: pc + 1}
	if !a.op.HasPayload() {
		return a, nil
	}
	if pc+3 > len(code) {
		return a, fmt.Errorf("%w: %s header at %d", ErrMalformedAction, a.op, pc)
	}
	n := int(binary.LittleEndian.Uint16(code[pc+1:]))
	a.next = pc + 3 + n
	if a.next > len(code) {
		return a, fmt.Errorf("%w: %s at %d declares %d bytes", ErrMalformedAction, a.op, pc, n)
	}
	a.payload = code[pc+3 : a.next]
	return a, nil
}

// ---------------------------------------------------------------------------
// Payload reader
// ---------------------------------------------------------------------------

type payload struct {
	b       []byte
	pos     int
	version uint8
	err     error
}

func (p *payload) fail() {
	if p.err == nil {
		p.err = fmt.Errorf("%w: payload truncated at %d", ErrMalformedAction, p.pos)
	}
}

func (p *payload) take(n int) []byte {
	if p.err != nil || p.pos+n > len(p.b) {
		p.fail()
		return make([]byte, n)
	}
	b := p.b[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *payload) u8() uint8   { return p.take(1)[0] }
func (p *payload) u16() uint16 { return binary.LittleEndian.Uint16(p.take(2)) }
func (p *payload) i16() int16  { return int16(p.u16()) }
func (p *payload) u32() uint32 { return binary.LittleEndian.Uint32(p.take(4)) }

func (p *payload) f32() float32 { return math.Float32frombits(p.u32()) }

// f64 reads a double stored as two little-endian words, high word first.
func (p *payload) f64() float64 {
	hi := uint64(p.u32())
	lo := uint64(p.u32())
	return math.Float64frombits(hi<<32 | lo)
}

func (p *payload) cstring() string {
	if p.err != nil {
		return ""
	}
	for i := p.pos; i < len(p.b); i++ {
		if p.b[i] == 0 {
			s := swf.DecodeString(p.b[p.pos:i], p.version)
			p.pos = i + 1
			return s
		}
	}
	p.fail()
	return ""
}

func (p *payload) more() bool { return p.err == nil && p.pos < len(p.b) }

// ---------------------------------------------------------------------------
// Push operands
// ---------------------------------------------------------------------------

const (
	pushString    = 0
	pushFloat     = 1
	pushNull      = 2
	pushUndefined = 3
	pushRegister  = 4
	pushBool      = 5
	pushDouble    = 6
	pushInt       = 7
	pushConst8    = 8
	pushConst16   = 9
)

// pushValues decodes the operands of a Push action. Strings are interned
// at push time so they stay rooted by the operand stack.
func (m *Machine) pushValues(f *avm.Frame, st *state, a action) error {
	p := &payload{b: a.payload, version: m.Version}
	for p.more() {
		var v avm.Value
		switch kind := p.u8(); kind {
		case pushString:
			v = m.Heap.Str(p.cstring())
		case pushFloat:
			v = avm.Number(float64(p.f32()))
		case pushNull:
			v = avm.Null
		case pushUndefined:
			v = avm.Undefined
		case pushRegister:
			v = st.register(f, int(p.u8()))
		case pushBool:
			v = avm.Bool(p.u8() != 0)
		case pushDouble:
			v = avm.Number(p.f64())
		case pushInt:
			v = avm.Number(float64(int32(p.u32())))
		case pushConst8:
			v = st.constant(m, int(p.u8()))
		case pushConst16:
			v = st.constant(m, int(p.u16()))
		default:
			return fmt.Errorf("%w: push type %d at %d", ErrMalformedAction, kind, a.offset)
		}
		if p.err != nil {
			return p.err
		}
		f.Push(v)
	}
	return p.err
}

func readConstantPool(p *payload) []string {
	n := int(p.u16())
	pool := make([]string, 0, n)
	for i := 0; i < n && p.err == nil; i++ {
		pool = append(pool, p.cstring())
	}
	return pool
}
