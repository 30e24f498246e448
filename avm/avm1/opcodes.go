package avm1

import "fmt"

// ---------------------------------------------------------------------------
// Action codes
// ---------------------------------------------------------------------------

// Op is a legacy action code. Codes at or above 0x80 carry a 16-bit
// payload length.
type Op byte

// Timeline control
const (
	OpEnd           Op = 0x00
	OpNextFrame     Op = 0x04
	OpPrevFrame     Op = 0x05
	OpPlay          Op = 0x06
	OpStop          Op = 0x07
	OpToggleQuality Op = 0x08
	OpStopSounds    Op = 0x09
	OpGotoFrame     Op = 0x81 // u16 frame
	OpGetURL        Op = 0x83 // cstring url, cstring target
	OpWaitForFrame  Op = 0x8A // u16 frame, u8 skip
	OpSetTarget     Op = 0x8B // cstring target
	OpGotoLabel     Op = 0x8C // cstring label
	OpWaitForFrame2 Op = 0x8D // u8 skip
	OpGetURL2       Op = 0x9A // u8 method flags
	OpGotoFrame2    Op = 0x9F // u8 flags, optional u16 scene bias
	OpSetTarget2    Op = 0x20
	OpCall          Op = 0x9E
)

// Arithmetic and comparison
const (
	OpAdd          Op = 0x0A
	OpSubtract     Op = 0x0B
	OpMultiply     Op = 0x0C
	OpDivide       Op = 0x0D
	OpEquals       Op = 0x0E
	OpLess         Op = 0x0F
	OpAnd          Op = 0x10
	OpOr           Op = 0x11
	OpNot          Op = 0x12
	OpModulo       Op = 0x3F
	OpAdd2         Op = 0x47
	OpLess2        Op = 0x48
	OpEquals2      Op = 0x49
	OpIncrement    Op = 0x50
	OpDecrement    Op = 0x51
	OpStrictEquals Op = 0x66
	OpGreater      Op = 0x67
	OpBitAnd       Op = 0x60
	OpBitOr        Op = 0x61
	OpBitXor       Op = 0x62
	OpBitLShift    Op = 0x63
	OpBitRShift    Op = 0x64
	OpBitURShift   Op = 0x65
)

// Strings
const (
	OpStringEquals    Op = 0x13
	OpStringLength    Op = 0x14
	OpStringExtract   Op = 0x15
	OpStringAdd       Op = 0x21
	OpStringLess      Op = 0x29
	OpStringGreater   Op = 0x68
	OpMBStringLength  Op = 0x31
	OpMBStringExtract Op = 0x35
	OpCharToAscii     Op = 0x32
	OpAsciiToChar     Op = 0x33
	OpMBCharToAscii   Op = 0x36
	OpMBAsciiToChar   Op = 0x37
)

// Stack, variables and conversion
const (
	OpPop           Op = 0x17
	OpToInteger     Op = 0x18
	OpGetVariable   Op = 0x1C
	OpSetVariable   Op = 0x1D
	OpPush          Op = 0x96
	OpPushDuplicate Op = 0x4C
	OpStackSwap     Op = 0x4D
	OpStoreRegister Op = 0x87 // u8 register
	OpConstantPool  Op = 0x88 // u16 count, cstrings
	OpDefineLocal   Op = 0x3C
	OpDefineLocal2  Op = 0x41
	OpDelete        Op = 0x3A
	OpDelete2       Op = 0x3B
	OpToNumber      Op = 0x4A
	OpToString      Op = 0x4B
	OpTypeOf        Op = 0x44
	OpTargetPath    Op = 0x45
)

// Display properties and clips
const (
	OpGetProperty  Op = 0x22
	OpSetProperty  Op = 0x23
	OpCloneSprite  Op = 0x24
	OpRemoveSprite Op = 0x25
	OpTrace        Op = 0x26
	OpStartDrag    Op = 0x27
	OpEndDrag      Op = 0x28
	OpRandom       Op = 0x30
	OpGetTime      Op = 0x34
)

// Objects and functions
const (
	OpCallFunction    Op = 0x3D
	OpReturn          Op = 0x3E
	OpNewObject       Op = 0x40
	OpInitArray       Op = 0x42
	OpInitObject      Op = 0x43
	OpEnumerate       Op = 0x46
	OpGetMember       Op = 0x4E
	OpSetMember       Op = 0x4F
	OpCallMethod      Op = 0x52
	OpNewMethod       Op = 0x53
	OpInstanceOf      Op = 0x54
	OpEnumerate2      Op = 0x55
	OpExtends         Op = 0x69
	OpCastOp          Op = 0x2B
	OpImplementsOp    Op = 0x2C
	OpThrow           Op = 0x2A
	OpDefineFunction  Op = 0x9B
	OpDefineFunction2 Op = 0x8E
	OpWith            Op = 0x94
	OpTry             Op = 0x8F
)

// Control flow
const (
	OpJump Op = 0x99 // i16 offset
	OpIf   Op = 0x9D // i16 offset
)

// ---------------------------------------------------------------------------
// Action metadata
// ---------------------------------------------------------------------------

// OpInfo holds metadata about an action.
type OpInfo struct {
	Name    string // human-readable name
	Version uint8  // first file version that defines the action
}

var opTable = map[Op]OpInfo{
	OpEnd:           {"End", 1},
	OpNextFrame:     {"NextFrame", 3},
	OpPrevFrame:     {"PrevFrame", 3},
	OpPlay:          {"Play", 3},
	OpStop:          {"Stop", 3},
	OpToggleQuality: {"ToggleQuality", 3},
	OpStopSounds:    {"StopSounds", 3},
	OpGotoFrame:     {"GotoFrame", 3},
	OpGetURL:        {"GetURL", 3},
	OpWaitForFrame:  {"WaitForFrame", 3},
	OpSetTarget:     {"SetTarget", 3},
	OpGotoLabel:     {"GotoLabel", 3},

	OpAdd:             {"Add", 4},
	OpSubtract:        {"Subtract", 4},
	OpMultiply:        {"Multiply", 4},
	OpDivide:          {"Divide", 4},
	OpEquals:          {"Equals", 4},
	OpLess:            {"Less", 4},
	OpAnd:             {"And", 4},
	OpOr:              {"Or", 4},
	OpNot:             {"Not", 4},
	OpStringEquals:    {"StringEquals", 4},
	OpStringLength:    {"StringLength", 4},
	OpStringExtract:   {"StringExtract", 4},
	OpPop:             {"Pop", 4},
	OpToInteger:       {"ToInteger", 4},
	OpGetVariable:     {"GetVariable", 4},
	OpSetVariable:     {"SetVariable", 4},
	OpSetTarget2:      {"SetTarget2", 4},
	OpStringAdd:       {"StringAdd", 4},
	OpGetProperty:     {"GetProperty", 4},
	OpSetProperty:     {"SetProperty", 4},
	OpCloneSprite:     {"CloneSprite", 4},
	OpRemoveSprite:    {"RemoveSprite", 4},
	OpTrace:           {"Trace", 4},
	OpStartDrag:       {"StartDrag", 4},
	OpEndDrag:         {"EndDrag", 4},
	OpStringLess:      {"StringLess", 4},
	OpRandom:          {"RandomNumber", 4},
	OpMBStringLength:  {"MBStringLength", 4},
	OpCharToAscii:     {"CharToAscii", 4},
	OpAsciiToChar:     {"AsciiToChar", 4},
	OpGetTime:         {"GetTime", 4},
	OpMBStringExtract: {"MBStringExtract", 4},
	OpMBCharToAscii:   {"MBCharToAscii", 4},
	OpMBAsciiToChar:   {"MBAsciiToChar", 4},
	OpWaitForFrame2:   {"WaitForFrame2", 4},
	OpPush:            {"Push", 4},
	OpJump:            {"Jump", 4},
	OpGetURL2:         {"GetURL2", 4},
	OpIf:              {"If", 4},
	OpCall:            {"Call", 4},
	OpGotoFrame2:      {"GotoFrame2", 4},

	OpDelete:         {"Delete", 5},
	OpDelete2:        {"Delete2", 5},
	OpDefineLocal:    {"DefineLocal", 5},
	OpCallFunction:   {"CallFunction", 5},
	OpReturn:         {"Return", 5},
	OpModulo:         {"Modulo", 5},
	OpNewObject:      {"NewObject", 5},
	OpDefineLocal2:   {"DefineLocal2", 5},
	OpInitArray:      {"InitArray", 5},
	OpInitObject:     {"InitObject", 5},
	OpTypeOf:         {"TypeOf", 5},
	OpTargetPath:     {"TargetPath", 5},
	OpEnumerate:      {"Enumerate", 5},
	OpAdd2:           {"Add2", 5},
	OpLess2:          {"Less2", 5},
	OpEquals2:        {"Equals2", 5},
	OpToNumber:       {"ToNumber", 5},
	OpToString:       {"ToString", 5},
	OpPushDuplicate:  {"PushDuplicate", 5},
	OpStackSwap:      {"StackSwap", 5},
	OpGetMember:      {"GetMember", 5},
	OpSetMember:      {"SetMember", 5},
	OpIncrement:      {"Increment", 5},
	OpDecrement:      {"Decrement", 5},
	OpCallMethod:     {"CallMethod", 5},
	OpNewMethod:      {"NewMethod", 5},
	OpBitAnd:         {"BitAnd", 5},
	OpBitOr:          {"BitOr", 5},
	OpBitXor:         {"BitXor", 5},
	OpBitLShift:      {"BitLShift", 5},
	OpBitRShift:      {"BitRShift", 5},
	OpBitURShift:     {"BitURShift", 5},
	OpStoreRegister:  {"StoreRegister", 5},
	OpConstantPool:   {"ConstantPool", 5},
	OpWith:           {"With", 5},
	OpDefineFunction: {"DefineFunction", 5},

	OpInstanceOf:    {"InstanceOf", 6},
	OpEnumerate2:    {"Enumerate2", 6},
	OpStrictEquals:  {"StrictEquals", 6},
	OpGreater:       {"Greater", 6},
	OpStringGreater: {"StringGreater", 6},

	OpExtends:         {"Extends", 7},
	OpCastOp:          {"CastOp", 7},
	OpImplementsOp:    {"ImplementsOp", 7},
	OpThrow:           {"Throw", 7},
	OpDefineFunction2: {"DefineFunction2", 7},
	OpTry:             {"Try", 7},
}

// Info returns the metadata for an action.
func (op Op) Info() OpInfo {
	if info, ok := opTable[op]; ok {
		return info
	}
	return OpInfo{Name: fmt.Sprintf("Unknown_%02X", byte(op))}
}

// String implements the Stringer interface.
func (op Op) String() string {
	return op.Info().Name
}

// HasPayload reports whether the action header carries a length.
func (op Op) HasPayload() bool { return op >= 0x80 }

// ---------------------------------------------------------------------------
// Property index table
// ---------------------------------------------------------------------------

// clipProps maps GetProperty/SetProperty indices to property names.
var clipProps = [...]string{
	"_x", "_y", "_xscale", "_yscale", "_currentframe", "_totalframes",
	"_alpha", "_visible", "_width", "_height", "_rotation", "_target",
	"_framesloaded", "_name", "_droptarget", "_url", "_highquality",
	"_focusrect", "_soundbuftime", "_quality", "_xmouse", "_ymouse",
}

func clipPropName(index float64) (string, bool) {
	i := int(index)
	if index != float64(i) || i < 0 || i >= len(clipProps) {
		return "", false
	}
	return clipProps[i], true
}
