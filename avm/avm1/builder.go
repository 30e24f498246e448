package avm1

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Builder: assembles action blocks for tooling and tests
// ---------------------------------------------------------------------------

// Register is a Push operand that reads a register.
type Register uint8

// Const is a Push operand that reads the constant pool.
type Const uint16

type undefinedOperand struct{}

// Undef is the Push operand for undefined.
var Undef = undefinedOperand{}

type fixup struct {
	at    int // offset of the i16 operand
	next  int // offset the branch is relative to
	label string
}

// Builder writes a sequence of actions. Branch targets are named labels
// resolved when the code is taken.
type Builder struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
}

func NewBuilder() *Builder {
	return &Builder{labels: make(map[string]int)}
}

// Op appends an action without payload.
func (b *Builder) Op(ops ...Op) *Builder {
	for _, op := range ops {
		b.buf = append(b.buf, byte(op))
	}
	return b
}

// Record appends an action with an explicit payload.
func (b *Builder) Record(op Op, payload []byte) *Builder {
	b.buf = append(b.buf, byte(op))
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(len(payload)))
	b.buf = append(b.buf, payload...)
	return b
}

// Push appends a Push of the given operands: string, float64, int, bool,
// nil for null, Undef, Register or Const.
func (b *Builder) Push(vals ...any) *Builder {
	var p []byte
	for _, v := range vals {
		switch v := v.(type) {
		case string:
			p = append(append(p, pushString), cstr(v)...)
		case float64:
			bits := math.Float64bits(v)
			p = append(p, pushDouble)
			p = binary.LittleEndian.AppendUint32(p, uint32(bits>>32))
			p = binary.LittleEndian.AppendUint32(p, uint32(bits))
		case int:
			p = binary.LittleEndian.AppendUint32(append(p, pushInt), uint32(int32(v)))
		case bool:
			var x byte
			if v {
				x = 1
			}
			p = append(p, pushBool, x)
		case nil:
			p = append(p, pushNull)
		case undefinedOperand:
			p = append(p, pushUndefined)
		case Register:
			p = append(p, pushRegister, byte(v))
		case Const:
			if v < 256 {
				p = append(p, pushConst8, byte(v))
			} else {
				p = binary.LittleEndian.AppendUint16(append(p, pushConst16), uint16(v))
			}
		default:
			panic(fmt.Sprintf("avm1: cannot push %T", v))
		}
	}
	return b.Record(OpPush, p)
}

func cstr(s string) []byte { return append([]byte(s), 0) }

// ConstantPool declares the constant pool.
func (b *Builder) ConstantPool(strs ...string) *Builder {
	p := binary.LittleEndian.AppendUint16(nil, uint16(len(strs)))
	for _, s := range strs {
		p = append(p, cstr(s)...)
	}
	return b.Record(OpConstantPool, p)
}

func (b *Builder) StoreRegister(r uint8) *Builder {
	return b.Record(OpStoreRegister, []byte{r})
}

func (b *Builder) GotoFrame(frame uint16) *Builder {
	return b.Record(OpGotoFrame, binary.LittleEndian.AppendUint16(nil, frame))
}

func (b *Builder) GotoLabel(label string) *Builder {
	return b.Record(OpGotoLabel, cstr(label))
}

// GotoFrame2 seeks to the frame on the stack.
func (b *Builder) GotoFrame2(play bool) *Builder {
	var flags byte
	if play {
		flags = 1
	}
	return b.Record(OpGotoFrame2, []byte{flags})
}

func (b *Builder) SetTarget(target string) *Builder {
	return b.Record(OpSetTarget, cstr(target))
}

func (b *Builder) GetURL(url, window string) *Builder {
	return b.Record(OpGetURL, append(cstr(url), cstr(window)...))
}

// Label marks the current position.
func (b *Builder) Label(name string) *Builder {
	b.labels[name] = len(b.buf)
	return b
}

func (b *Builder) Jump(label string) *Builder { return b.branch(OpJump, label) }
func (b *Builder) If(label string) *Builder   { return b.branch(OpIf, label) }

func (b *Builder) branch(op Op, label string) *Builder {
	b.Record(op, []byte{0, 0})
	b.fixups = append(b.fixups, fixup{at: len(b.buf) - 2, next: len(b.buf), label: label})
	return b
}

// DefineFunction appends a version 5 function with body.
func (b *Builder) DefineFunction(name string, params []string, body *Builder) *Builder {
	code := body.Code()
	p := binary.LittleEndian.AppendUint16(cstr(name), uint16(len(params)))
	for _, param := range params {
		p = append(p, cstr(param)...)
	}
	p = binary.LittleEndian.AppendUint16(p, uint16(len(code)))
	b.Record(OpDefineFunction, p)
	b.buf = append(b.buf, code...)
	return b
}

// DefineFunction2 appends a register-based function with body.
func (b *Builder) DefineFunction2(name string, registers uint8, flags uint16, params []Param, body *Builder) *Builder {
	code := body.Code()
	p := binary.LittleEndian.AppendUint16(cstr(name), uint16(len(params)))
	p = append(p, registers)
	p = binary.LittleEndian.AppendUint16(p, flags)
	for _, param := range params {
		p = append(p, byte(param.Register))
		p = append(p, cstr(param.Name)...)
	}
	p = binary.LittleEndian.AppendUint16(p, uint16(len(code)))
	b.Record(OpDefineFunction2, p)
	b.buf = append(b.buf, code...)
	return b
}

// With appends a With block over the object on the stack.
func (b *Builder) With(body *Builder) *Builder {
	code := body.Code()
	b.Record(OpWith, binary.LittleEndian.AppendUint16(nil, uint16(len(code))))
	b.buf = append(b.buf, code...)
	return b
}

// Try appends a try region. catch and finally may be nil. A catchVar of
// the form "r:N" stores the caught value in register N.
func (b *Builder) Try(catchVar string, try, catch, finally *Builder) *Builder {
	var tryCode, catchCode, finallyCode []byte
	tryCode = try.Code()
	var flags byte
	if catch != nil {
		flags |= 0x01
		catchCode = catch.Code()
	}
	if finally != nil {
		flags |= 0x02
		finallyCode = finally.Code()
	}
	var reg int
	if _, err := fmt.Sscanf(catchVar, "r:%d", &reg); err == nil {
		flags |= 0x04
	}
	p := []byte{flags}
	p = binary.LittleEndian.AppendUint16(p, uint16(len(tryCode)))
	p = binary.LittleEndian.AppendUint16(p, uint16(len(catchCode)))
	p = binary.LittleEndian.AppendUint16(p, uint16(len(finallyCode)))
	if flags&0x04 != 0 {
		p = append(p, byte(reg))
	} else {
		p = append(p, cstr(catchVar)...)
	}
	b.Record(OpTry, p)
	b.buf = append(b.buf, tryCode...)
	b.buf = append(b.buf, catchCode...)
	b.buf = append(b.buf, finallyCode...)
	return b
}

// Code returns the assembled actions without a terminating End.
// Unresolved labels panic.
func (b *Builder) Code() []byte {
	out := append([]byte(nil), b.buf...)
	for _, fx := range b.fixups {
		target, ok := b.labels[fx.label]
		if !ok {
			panic(fmt.Sprintf("avm1: undefined label %q", fx.label))
		}
		binary.LittleEndian.PutUint16(out[fx.at:], uint16(int16(target-fx.next)))
	}
	return out
}

// Bytes returns the block terminated by End, as a DoAction payload.
func (b *Builder) Bytes() []byte {
	return append(b.Code(), byte(OpEnd))
}
