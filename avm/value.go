// Package avm is the object model shared by both script dialects: the
// value representation, the garbage-collected heap of objects and
// interned strings, nominal classes with traits, and the call stack with
// its table-driven unwinder.
package avm

import "math"

// Value represents a script value using NaN-boxing.
//
// All values are 64-bit IEEE 754 doubles. Non-number values live in the
// quiet NaN space with tag bits distinguishing the variants.
//
// Encoding scheme:
//   - Number: native double; every NaN is stored as the canonical NaN
//   - Object: quiet NaN + tagObject + heap slot index and generation
//   - String: quiet NaN + tagString + string table index and generation
//   - Special: quiet NaN + tagSpecial + undefined/null/true/false
type Value uint64

// NaN-boxing constants
const (
	// 0x7FF8_0000_0000_0000
	nanBits uint64 = 0x7FF8000000000000

	// 0x0007_0000_0000_0000
	tagMask uint64 = 0x0007000000000000

	// 48 bits: 32-bit index, 16-bit generation
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000
	tagString  uint64 = 0x0002000000000000
	tagSpecial uint64 = 0x0003000000000000

	canonicalNaN uint64 = nanBits
)

// Special value payloads
const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialTrue      uint64 = 2
	specialFalse     uint64 = 3
)

// Pre-defined special values
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)
)

// Type is the dialect-neutral type of a value.
type Type uint8

const (
	TypeUndefined Type = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
)

var typeNames = [...]string{"undefined", "null", "boolean", "number", "string", "object"}

func (t Type) String() string { return typeNames[t] }

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Number boxes a float64. NaNs are canonicalized so they never collide
// with tagged values.
func Number(f float64) Value {
	if f != f {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// Int boxes an integer as a Number.
func Int(i int) Value { return Number(float64(i)) }

// Bool boxes a boolean.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromRef boxes a heap object reference.
func FromRef(r Ref) Value {
	return Value(nanBits | tagObject | uint64(r)&payloadMask)
}

func fromStringID(id strID) Value {
	return Value(nanBits | tagString | uint64(id)&payloadMask)
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (v Value) tag() uint64 {
	bits := uint64(v)
	if bits&nanBits != nanBits || bits>>63 != 0 {
		return 0
	}
	return bits & tagMask
}

// IsNumber reports whether v is a Number, including NaN and infinities.
func (v Value) IsNumber() bool    { return v.tag() == 0 }
func (v Value) IsObject() bool    { return v.tag() == tagObject }
func (v Value) IsString() bool    { return v.tag() == tagString }
func (v Value) IsBool() bool      { return v == True || v == False }
func (v Value) IsUndefined() bool { return v == Undefined }
func (v Value) IsNull() bool      { return v == Null }

// IsNullish reports whether v is undefined or null.
func (v Value) IsNullish() bool { return v == Undefined || v == Null }

// Type returns v's dialect-neutral type.
func (v Value) Type() Type {
	switch v.tag() {
	case 0:
		return TypeNumber
	case tagObject:
		return TypeObject
	case tagString:
		return TypeString
	}
	switch v {
	case Undefined:
		return TypeUndefined
	case Null:
		return TypeNull
	}
	return TypeBoolean
}

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

// Float64 returns the number held by v. It panics if v is not a Number.
func (v Value) Float64() float64 {
	if !v.IsNumber() {
		panic("Value.Float64: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// Truthy returns the boolean held by v; non-booleans are false.
func (v Value) Truthy() bool { return v == True }

// Ref returns the object reference held by v. It panics if v is not an
// Object.
func (v Value) Ref() Ref {
	if !v.IsObject() {
		panic("Value.Ref: not an object")
	}
	return Ref(uint64(v) & payloadMask)
}

func (v Value) stringID() strID {
	return strID(uint64(v) & payloadMask)
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// Ref names a heap slot: index in the high bits, generation in the low 16.
// A ref whose generation no longer matches its slot is stale and resolves
// to nothing.
type Ref uint64

func makeRef(index uint32, gen uint16) Ref { return Ref(uint64(index)<<16 | uint64(gen)) }
func (r Ref) index() uint32                 { return uint32(r >> 16) }
func (r Ref) gen() uint16                   { return uint16(r) }

type strID uint64

func makeStrID(index uint32, gen uint16) strID { return strID(uint64(index)<<16 | uint64(gen)) }
func (s strID) index() uint32                 { return uint32(s >> 16) }
func (s strID) gen() uint16                   { return uint16(s) }
