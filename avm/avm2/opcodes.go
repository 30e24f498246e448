package avm2

import "fmt"

// Op is an instruction opcode.
type Op uint8

const (
	OpBkpt           Op = 0x01
	OpNop            Op = 0x02
	OpThrow          Op = 0x03
	OpGetSuper       Op = 0x04
	OpSetSuper       Op = 0x05
	OpDXNS           Op = 0x06
	OpDXNSLate       Op = 0x07
	OpKill           Op = 0x08
	OpLabel          Op = 0x09
	OpIfNlt          Op = 0x0C
	OpIfNle          Op = 0x0D
	OpIfNgt          Op = 0x0E
	OpIfNge          Op = 0x0F
	OpJump           Op = 0x10
	OpIfTrue         Op = 0x11
	OpIfFalse        Op = 0x12
	OpIfEq           Op = 0x13
	OpIfNe           Op = 0x14
	OpIfLt           Op = 0x15
	OpIfLe           Op = 0x16
	OpIfGt           Op = 0x17
	OpIfGe           Op = 0x18
	OpIfStrictEq     Op = 0x19
	OpIfStrictNe     Op = 0x1A
	OpLookupSwitch   Op = 0x1B
	OpPushWith       Op = 0x1C
	OpPopScope       Op = 0x1D
	OpNextName       Op = 0x1E
	OpHasNext        Op = 0x1F
	OpPushNull       Op = 0x20
	OpPushUndefined  Op = 0x21
	OpNextValue      Op = 0x23
	OpPushByte       Op = 0x24
	OpPushShort      Op = 0x25
	OpPushTrue       Op = 0x26
	OpPushFalse      Op = 0x27
	OpPushNaN        Op = 0x28
	OpPop            Op = 0x29
	OpDup            Op = 0x2A
	OpSwap           Op = 0x2B
	OpPushString     Op = 0x2C
	OpPushInt        Op = 0x2D
	OpPushUint       Op = 0x2E
	OpPushDouble     Op = 0x2F
	OpPushScope      Op = 0x30
	OpPushNamespace  Op = 0x31
	OpHasNext2       Op = 0x32
	OpNewFunction    Op = 0x40
	OpCall           Op = 0x41
	OpConstruct      Op = 0x42
	OpCallMethod     Op = 0x43
	OpCallStatic     Op = 0x44
	OpCallSuper      Op = 0x45
	OpCallProperty   Op = 0x46
	OpReturnVoid     Op = 0x47
	OpReturnValue    Op = 0x48
	OpConstructSuper Op = 0x49
	OpConstructProp  Op = 0x4A
	OpCallPropLex    Op = 0x4C
	OpCallSuperVoid  Op = 0x4E
	OpCallPropVoid   Op = 0x4F
	OpApplyType      Op = 0x53
	OpNewObject      Op = 0x55
	OpNewArray       Op = 0x56
	OpNewActivation  Op = 0x57
	OpNewClass       Op = 0x58
	OpGetDescendants Op = 0x59
	OpNewCatch       Op = 0x5A
	OpFindPropStrict Op = 0x5D
	OpFindProperty   Op = 0x5E
	OpGetLex         Op = 0x60
	OpSetProperty    Op = 0x61
	OpGetLocal       Op = 0x62
	OpSetLocal       Op = 0x63
	OpGetGlobalScope Op = 0x64
	OpGetScopeObject Op = 0x65
	OpGetProperty    Op = 0x66
	OpGetOuterScope  Op = 0x67
	OpInitProperty   Op = 0x68
	OpDeleteProperty Op = 0x6A
	OpGetSlot        Op = 0x6C
	OpSetSlot        Op = 0x6D
	OpGetGlobalSlot  Op = 0x6E
	OpSetGlobalSlot  Op = 0x6F
	OpConvertS       Op = 0x70
	OpEscXElem       Op = 0x71
	OpEscXAttr       Op = 0x72
	OpConvertI       Op = 0x73
	OpConvertU       Op = 0x74
	OpConvertD       Op = 0x75
	OpConvertB       Op = 0x76
	OpConvertO       Op = 0x77
	OpCheckFilter    Op = 0x78
	OpCoerce         Op = 0x80
	OpCoerceB        Op = 0x81
	OpCoerceA        Op = 0x82
	OpCoerceI        Op = 0x83
	OpCoerceD        Op = 0x84
	OpCoerceS        Op = 0x85
	OpAsType         Op = 0x86
	OpAsTypeLate     Op = 0x87
	OpCoerceU        Op = 0x88
	OpCoerceO        Op = 0x89
	OpNegate         Op = 0x90
	OpIncrement      Op = 0x91
	OpIncLocal       Op = 0x92
	OpDecrement      Op = 0x93
	OpDecLocal       Op = 0x94
	OpTypeOf         Op = 0x95
	OpNot            Op = 0x96
	OpBitNot         Op = 0x97
	OpAdd            Op = 0xA0
	OpSubtract       Op = 0xA1
	OpMultiply       Op = 0xA2
	OpDivide         Op = 0xA3
	OpModulo         Op = 0xA4
	OpLShift         Op = 0xA5
	OpRShift         Op = 0xA6
	OpURShift        Op = 0xA7
	OpBitAnd         Op = 0xA8
	OpBitOr          Op = 0xA9
	OpBitXor         Op = 0xAA
	OpEquals         Op = 0xAB
	OpStrictEquals   Op = 0xAC
	OpLessThan       Op = 0xAD
	OpLessEquals     Op = 0xAE
	OpGreaterThan    Op = 0xAF
	OpGreaterEquals  Op = 0xB0
	OpInstanceOf     Op = 0xB1
	OpIsType         Op = 0xB2
	OpIsTypeLate     Op = 0xB3
	OpIn             Op = 0xB4
	OpIncrementI     Op = 0xC0
	OpDecrementI     Op = 0xC1
	OpIncLocalI      Op = 0xC2
	OpDecLocalI      Op = 0xC3
	OpNegateI        Op = 0xC4
	OpAddI           Op = 0xC5
	OpSubtractI      Op = 0xC6
	OpMultiplyI      Op = 0xC7
	OpGetLocal0      Op = 0xD0
	OpGetLocal1      Op = 0xD1
	OpGetLocal2      Op = 0xD2
	OpGetLocal3      Op = 0xD3
	OpSetLocal0      Op = 0xD4
	OpSetLocal1      Op = 0xD5
	OpSetLocal2      Op = 0xD6
	OpSetLocal3      Op = 0xD7
	OpDebug          Op = 0xEF
	OpDebugLine      Op = 0xF0
	OpDebugFile      Op = 0xF1
)

var opNames = map[Op]string{
	OpThrow: "throw", OpGetSuper: "getsuper", OpSetSuper: "setsuper", OpKill: "kill",
	OpJump: "jump", OpIfTrue: "iftrue", OpIfFalse: "iffalse", OpLookupSwitch: "lookupswitch",
	OpPushWith: "pushwith", OpPopScope: "popscope", OpPushScope: "pushscope",
	OpNewFunction: "newfunction", OpCall: "call", OpConstruct: "construct",
	OpCallSuper: "callsuper", OpCallProperty: "callproperty", OpReturnVoid: "returnvoid",
	OpReturnValue: "returnvalue", OpConstructSuper: "constructsuper", OpConstructProp: "constructprop",
	OpCallPropLex: "callproplex", OpCallSuperVoid: "callsupervoid", OpCallPropVoid: "callpropvoid",
	OpNewObject: "newobject", OpNewArray: "newarray", OpNewActivation: "newactivation",
	OpNewClass: "newclass", OpNewCatch: "newcatch", OpFindPropStrict: "findpropstrict",
	OpFindProperty: "findproperty", OpGetLex: "getlex", OpSetProperty: "setproperty",
	OpGetProperty: "getproperty", OpInitProperty: "initproperty", OpDeleteProperty: "deleteproperty",
	OpGetSlot: "getslot", OpSetSlot: "setslot", OpCoerce: "coerce", OpAsType: "astype",
	OpIsType: "istype", OpAdd: "add", OpEquals: "equals", OpStrictEquals: "strictequals",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(0x%02x)", uint8(op))
}
