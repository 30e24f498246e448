package avm2

import (
	"errors"
	"math"
	"slices"
	"strings"

	"github.com/chazu/swfvm/avm"
)

// errReturn unwinds the step loop on returnvoid and returnvalue.
var errReturn = errors.New("return")

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

type operandFormat uint8

const (
	fmtNone operandFormat = iota
	fmtU8
	fmtU30
	fmtU30U30
	fmtS24
	fmtSwitch
	fmtDebug
)

func formatOf(op Op) operandFormat {
	switch op {
	case OpPushByte, OpGetScopeObject:
		return fmtU8
	case OpPushShort, OpPushInt, OpPushUint, OpPushDouble, OpPushString, OpPushNamespace,
		OpGetLocal, OpSetLocal, OpKill, OpIncLocal, OpDecLocal, OpIncLocalI, OpDecLocalI,
		OpGetSlot, OpSetSlot, OpGetGlobalSlot, OpSetGlobalSlot, OpGetOuterScope,
		OpNewFunction, OpNewClass, OpNewCatch, OpNewObject, OpNewArray,
		OpCall, OpConstruct, OpConstructSuper, OpApplyType,
		OpGetProperty, OpSetProperty, OpInitProperty, OpDeleteProperty,
		OpGetSuper, OpSetSuper, OpFindProperty, OpFindPropStrict, OpGetLex, OpGetDescendants,
		OpCoerce, OpAsType, OpIsType, OpDXNS, OpDebugLine, OpDebugFile:
		return fmtU30
	case OpCallProperty, OpCallPropLex, OpCallPropVoid, OpCallSuper, OpCallSuperVoid,
		OpConstructProp, OpCallMethod, OpCallStatic, OpHasNext2:
		return fmtU30U30
	case OpJump, OpIfTrue, OpIfFalse, OpIfEq, OpIfNe, OpIfLt, OpIfLe, OpIfGt, OpIfGe,
		OpIfNlt, OpIfNle, OpIfNgt, OpIfNge, OpIfStrictEq, OpIfStrictNe:
		return fmtS24
	case OpLookupSwitch:
		return fmtSwitch
	case OpDebug:
		return fmtDebug
	}
	return fmtNone
}

// instr is a decoded instruction. Branch offsets are resolved to
// absolute targets.
type instr struct {
	op   Op
	a, b int
	// cases holds lookupswitch targets, the default first.
	cases []int
	next  int
}

type codeReader struct {
	code []byte
	pc   int
	err  error
}

func (r *codeReader) u8() int {
	if r.pc >= len(r.code) {
		r.err = avm.Errorf(avm.ErrVerify, "operand past end of code at %d", r.pc)
		return 0
	}
	b := r.code[r.pc]
	r.pc++
	return int(b)
}

func (r *codeReader) u30() int {
	var v uint32
	for i := 0; i < 5; i++ {
		b := r.u8()
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	return int(v & 0x3FFFFFFF)
}

func (r *codeReader) s24() int {
	v := r.u8() | r.u8()<<8 | r.u8()<<16
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

func decode(code []byte, pc int) (instr, error) {
	r := &codeReader{code: code, pc: pc}
	in := instr{op: Op(r.u8())}
	switch formatOf(in.op) {
	case fmtU8:
		in.a = r.u8()
	case fmtU30:
		in.a = r.u30()
	case fmtU30U30:
		in.a = r.u30()
		in.b = r.u30()
	case fmtS24:
		off := r.s24()
		in.a = r.pc + off
	case fmtSwitch:
		in.cases = append(in.cases, pc+r.s24())
		n := r.u30()
		for i := 0; i <= n && r.err == nil; i++ {
			in.cases = append(in.cases, pc+r.s24())
		}
	case fmtDebug:
		r.u8()
		in.a = r.u30()
		r.u8()
		r.u30()
	}
	in.next = r.pc
	return in, r.err
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// execute runs a frame to completion. A thrown value no handler of this
// frame matches is returned as an *avm.Exception for the caller to
// unwind.
func (m *Machine) execute(f *avm.Frame) (avm.Value, error) {
	base := m.stack.Depth()
	if err := m.stack.Push(f); err != nil {
		return avm.Undefined, err
	}
	st := f.State.(*frameState)
	for {
		var err error
		if f.PC >= len(f.Code) {
			err = avm.Errorf(avm.ErrVerify, "%s: control falls off the end of the code", st.method.FunctionName())
		} else {
			err = m.step(f, st)
		}
		if err == nil {
			continue
		}
		if err == errReturn {
			break
		}
		if !avm.Catchable(err) {
			m.stack.Truncate(base)
			return avm.Undefined, err
		}
		exc := m.exception(err)
		if _, h, ok := m.stack.Unwind(base, exc.Value, m.matchHandler); ok {
			f.Stack = f.Stack[:0]
			f.Scope = f.Scope[:0]
			st.with = st.with[:0]
			f.Push(exc.Value)
			f.PC = h.Target
			continue
		}
		return avm.Undefined, exc
	}
	m.stack.Truncate(base)
	return st.result, nil
}

// matchHandler reports whether an exception table entry catches thrown.
// Entries with a type catch instances of that class and its subclasses.
func (m *Machine) matchHandler(f *avm.Frame, h *avm.Handler, thrown avm.Value) bool {
	e, ok := h.Catch.(*ExceptionInfo)
	if !ok || e.Type == 0 {
		return true
	}
	st := f.State.(*frameState)
	name, err := st.method.ABC.qname(e.Type)
	if err != nil {
		return false
	}
	if name.Local == "*" {
		return true
	}
	c, err := m.Domain.lookupClass(name)
	if err != nil || c == nil {
		logger().Debugf("catch type %s is not defined", name)
		return false
	}
	return m.isType(thrown, c)
}

func (m *Machine) step(f *avm.Frame, st *frameState) error {
	m.steps++
	if m.budget > 0 && m.steps > m.budget {
		return avm.Errorf(avm.ErrBudgetExceeded, "more than %d instructions", m.budget)
	}
	f.OpPC = f.PC
	in, err := decode(f.Code, f.PC)
	if err != nil {
		return err
	}
	f.PC = in.next
	abc := st.method.ABC
	h := m.Heap

	switch in.op {
	case OpNop, OpLabel, OpBkpt, OpDebug, OpDebugLine, OpDebugFile, OpDXNS:
	case OpDXNSLate:
		f.Pop()

	// Constants
	case OpPushNull:
		f.Push(avm.Null)
	case OpPushUndefined:
		f.Push(avm.Undefined)
	case OpPushTrue:
		f.Push(avm.True)
	case OpPushFalse:
		f.Push(avm.False)
	case OpPushNaN:
		f.Push(avm.Number(nan))
	case OpPushByte:
		f.Push(avm.Int(int(int8(in.a))))
	case OpPushShort:
		f.Push(avm.Int(int(int16(in.a))))
	case OpPushInt:
		if in.a >= len(abc.Ints) {
			return poolError("int", in.a)
		}
		f.Push(avm.Number(float64(abc.Ints[in.a])))
	case OpPushUint:
		if in.a >= len(abc.Uints) {
			return poolError("uint", in.a)
		}
		f.Push(avm.Number(float64(abc.Uints[in.a])))
	case OpPushDouble:
		if in.a >= len(abc.Doubles) {
			return poolError("double", in.a)
		}
		f.Push(avm.Number(abc.Doubles[in.a]))
	case OpPushString:
		if in.a >= len(abc.Strings) {
			return poolError("string", in.a)
		}
		f.Push(m.str(abc.Strings[in.a]))
	case OpPushNamespace:
		if in.a >= len(abc.Namespaces) {
			return poolError("namespace", in.a)
		}
		f.Push(m.str(abc.Namespaces[in.a].URI))

	// Stack
	case OpPop:
		f.Pop()
	case OpDup:
		f.Push(f.Peek())
	case OpSwap:
		y, x := f.Pop(), f.Pop()
		f.Push(y)
		f.Push(x)

	// Locals
	case OpGetLocal0, OpGetLocal1, OpGetLocal2, OpGetLocal3:
		return m.getLocal(f, int(in.op-OpGetLocal0))
	case OpGetLocal:
		return m.getLocal(f, in.a)
	case OpSetLocal0, OpSetLocal1, OpSetLocal2, OpSetLocal3:
		return m.setLocal(f, int(in.op-OpSetLocal0), f.Pop())
	case OpSetLocal:
		return m.setLocal(f, in.a, f.Pop())
	case OpKill:
		return m.setLocal(f, in.a, avm.Undefined)
	case OpIncLocal, OpDecLocal, OpIncLocalI, OpDecLocalI:
		if in.a >= len(f.Locals) {
			return localError(in.a)
		}
		delta := 1.0
		if in.op == OpDecLocal || in.op == OpDecLocalI {
			delta = -1
		}
		if in.op == OpIncLocalI || in.op == OpDecLocalI {
			i, err := m.toInt32(f.Locals[in.a])
			if err != nil {
				return err
			}
			f.Locals[in.a] = avm.Number(float64(i + int32(delta)))
			return nil
		}
		n, err := m.toNumber(f.Locals[in.a])
		if err != nil {
			return err
		}
		f.Locals[in.a] = avm.Number(n + delta)

	// Control flow
	case OpJump:
		return jump(f, in.a)
	case OpIfTrue, OpIfFalse:
		if m.toBoolean(f.Pop()) == (in.op == OpIfTrue) {
			return jump(f, in.a)
		}
	case OpIfEq, OpIfNe:
		y, x := f.Pop(), f.Pop()
		eq, err := h.LooseEquals(x, y)
		if err != nil {
			return err
		}
		if eq == (in.op == OpIfEq) {
			return jump(f, in.a)
		}
	case OpIfStrictEq, OpIfStrictNe:
		y, x := f.Pop(), f.Pop()
		if h.StrictEquals(x, y) == (in.op == OpIfStrictEq) {
			return jump(f, in.a)
		}
	case OpIfLt, OpIfLe, OpIfGt, OpIfGe, OpIfNlt, OpIfNle, OpIfNgt, OpIfNge:
		y, x := f.Pop(), f.Pop()
		ok, err := m.compare(in.op, x, y)
		if err != nil {
			return err
		}
		if ok {
			return jump(f, in.a)
		}
	case OpLookupSwitch:
		idx, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		target := in.cases[0]
		if idx >= 0 && idx == math.Trunc(idx) && int(idx) < len(in.cases)-1 {
			target = in.cases[int(idx)+1]
		}
		return jump(f, target)
	case OpReturnVoid:
		st.result = avm.Undefined
		return errReturn
	case OpReturnValue:
		v, err := m.coerceTo(abc, st.method.Info.ReturnType, f.Pop())
		if err != nil {
			return err
		}
		st.result = v
		return errReturn
	case OpThrow:
		v := f.Pop()
		return &avm.Exception{Value: v, Message: m.thrownMessage(v)}

	// Arithmetic
	case OpAdd:
		y, x := f.Pop(), f.Pop()
		v, err := m.add(x, y)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpSubtract, OpMultiply, OpDivide, OpModulo:
		y, x := f.Pop(), f.Pop()
		xn, err := m.toNumber(x)
		if err != nil {
			return err
		}
		yn, err := m.toNumber(y)
		if err != nil {
			return err
		}
		f.Push(avm.Number(arith(in.op, xn, yn)))
	case OpAddI, OpSubtractI, OpMultiplyI:
		y, x := f.Pop(), f.Pop()
		xi, err := m.toInt32(x)
		if err != nil {
			return err
		}
		yi, err := m.toInt32(y)
		if err != nil {
			return err
		}
		var r int32
		switch in.op {
		case OpAddI:
			r = xi + yi
		case OpSubtractI:
			r = xi - yi
		default:
			r = xi * yi
		}
		f.Push(avm.Number(float64(r)))
	case OpNegate, OpIncrement, OpDecrement:
		n, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		switch in.op {
		case OpNegate:
			n = -n
		case OpIncrement:
			n++
		default:
			n--
		}
		f.Push(avm.Number(n))
	case OpNegateI, OpIncrementI, OpDecrementI:
		i, err := m.toInt32(f.Pop())
		if err != nil {
			return err
		}
		switch in.op {
		case OpNegateI:
			i = -i
		case OpIncrementI:
			i++
		default:
			i--
		}
		f.Push(avm.Number(float64(i)))
	case OpBitAnd, OpBitOr, OpBitXor, OpLShift, OpRShift, OpURShift:
		y, x := f.Pop(), f.Pop()
		xi, err := m.toInt32(x)
		if err != nil {
			return err
		}
		yi, err := m.toInt32(y)
		if err != nil {
			return err
		}
		f.Push(avm.Number(bitwise(in.op, xi, yi)))
	case OpBitNot:
		i, err := m.toInt32(f.Pop())
		if err != nil {
			return err
		}
		f.Push(avm.Number(float64(^i)))
	case OpNot:
		f.Push(avm.Bool(!m.toBoolean(f.Pop())))

	// Comparison and type tests
	case OpEquals:
		y, x := f.Pop(), f.Pop()
		eq, err := h.LooseEquals(x, y)
		if err != nil {
			return err
		}
		f.Push(avm.Bool(eq))
	case OpStrictEquals:
		y, x := f.Pop(), f.Pop()
		f.Push(avm.Bool(h.StrictEquals(x, y)))
	case OpLessThan, OpLessEquals, OpGreaterThan, OpGreaterEquals:
		y, x := f.Pop(), f.Pop()
		ok, err := m.compare(in.op, x, y)
		if err != nil {
			return err
		}
		f.Push(avm.Bool(ok))
	case OpTypeOf:
		f.Push(m.str(h.TypeOf(f.Pop())))
	case OpInstanceOf:
		ctor, v := f.Pop(), f.Pop()
		ok, err := m.instanceOf(v, ctor)
		if err != nil {
			return err
		}
		f.Push(avm.Bool(ok))
	case OpIsType, OpAsType:
		c, err := m.typeClass(abc, in.a)
		if err != nil {
			return err
		}
		m.typeTest(f, in.op == OpIsType, f.Pop(), c)
	case OpIsTypeLate, OpAsTypeLate:
		cv, v := f.Pop(), f.Pop()
		c := classOfObject(h.Deref(cv))
		if c == nil {
			return avm.Errorf(avm.ErrTypeCoercion, "%s is not a class", m.describe(cv))
		}
		m.typeTest(f, in.op == OpIsTypeLate, v, c)
	case OpIn:
		obj, key := f.Pop(), f.Pop()
		s, err := m.toString(key)
		if err != nil {
			return err
		}
		if obj.IsNullish() {
			return nullAccess(obj, avm.PublicName(s))
		}
		f.Push(avm.Bool(m.hasProperty(obj, avm.PublicName(s), false)))

	// Conversion
	case OpCoerce:
		v, err := m.coerceTo(abc, in.a, f.Pop())
		if err != nil {
			return err
		}
		f.Push(v)
	case OpCoerceA:
	case OpCoerceS:
		v, err := m.coerce(f.Pop(), m.StringClass)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpCoerceO:
		if f.Peek().IsUndefined() {
			f.Pop()
			f.Push(avm.Null)
		}
	case OpConvertS:
		s, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		f.Push(m.str(s))
	case OpConvertI, OpCoerceI:
		return m.convert(f, m.IntClass)
	case OpConvertU, OpCoerceU:
		return m.convert(f, m.UintClass)
	case OpConvertD, OpCoerceD:
		return m.convert(f, m.NumberClass)
	case OpConvertB, OpCoerceB:
		return m.convert(f, m.BooleanClass)
	case OpConvertO:
		if v := f.Peek(); v.IsNullish() {
			return avm.Errorf(avm.ErrTypeCoercion, "cannot convert %s to Object", v.Type())
		}
	case OpEscXElem, OpEscXAttr:
		s, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		f.Push(m.str(xmlEscaper.Replace(s)))
	case OpCheckFilter, OpGetDescendants:
		return avm.Errorf(avm.ErrTypeCoercion, "XML is not supported")

	// Scope
	case OpPushScope, OpPushWith:
		v := f.Pop()
		if v.IsNullish() {
			return avm.Errorf(avm.ErrTypeCoercion, "cannot push %s onto the scope chain", v.Type())
		}
		f.Scope = append(f.Scope, v)
		st.with = append(st.with, in.op == OpPushWith)
	case OpPopScope:
		if n := len(f.Scope); n > 0 {
			f.Scope = f.Scope[:n-1]
			st.with = st.with[:min(len(st.with), n-1)]
		}
	case OpGetScopeObject:
		if in.a >= len(f.Scope) {
			return avm.Errorf(avm.ErrVerify, "scope index %d out of range", in.a)
		}
		f.Push(f.Scope[in.a])
	case OpGetOuterScope:
		if in.a >= len(st.method.Scope) {
			return avm.Errorf(avm.ErrVerify, "outer scope index %d out of range", in.a)
		}
		f.Push(st.method.Scope[in.a])
	case OpGetGlobalScope:
		f.Push(m.globalScope(f, st))
	case OpFindProperty, OpFindPropStrict:
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		v, err := m.findProperty(f, st, name, in.op == OpFindPropStrict)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpGetLex:
		name, err := abc.qname(in.a)
		if err != nil {
			return err
		}
		obj, err := m.findProperty(f, st, name, true)
		if err != nil {
			return err
		}
		v, err := m.getProperty(obj, name)
		if err != nil {
			return err
		}
		f.Push(v)

	// Properties
	case OpGetProperty:
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		v, err := m.getProperty(f.Pop(), name)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpSetProperty, OpInitProperty:
		v := f.Pop()
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		return m.setProperty(f.Pop(), name, v, in.op == OpInitProperty)
	case OpDeleteProperty:
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		ok, err := m.deleteProperty(f.Pop(), name)
		if err != nil {
			return err
		}
		f.Push(avm.Bool(ok))
	case OpGetSlot, OpSetSlot:
		var v avm.Value
		if in.op == OpSetSlot {
			v = f.Pop()
		}
		return m.slotAccess(f, f.Pop(), in.a, v, in.op == OpSetSlot)
	case OpGetGlobalSlot:
		return m.slotAccess(f, m.globalScope(f, st), in.a, avm.Undefined, false)
	case OpSetGlobalSlot:
		return m.slotAccess(f, m.globalScope(f, st), in.a, f.Pop(), true)
	case OpGetSuper:
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		v, err := m.getSuper(st, f.Pop(), name)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpSetSuper:
		v := f.Pop()
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		return m.setSuper(st, f.Pop(), name, v)

	// Calls
	case OpCallProperty, OpCallPropLex, OpCallPropVoid:
		args := popArgs(f, in.b)
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		obj := f.Pop()
		var r avm.Value
		if in.op == OpCallPropLex {
			fn, err := m.getCallee(obj, name)
			if err != nil {
				return err
			}
			r, err = m.call(fn, avm.Null, args)
			if err != nil {
				return err
			}
		} else if r, err = m.callProperty(obj, name, args); err != nil {
			return err
		}
		if in.op != OpCallPropVoid {
			f.Push(r)
		}
	case OpCallSuper, OpCallSuperVoid:
		args := popArgs(f, in.b)
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		recv := f.Pop()
		fn, err := m.getSuper(st, recv, name)
		if err != nil {
			return err
		}
		r, err := m.call(fn, recv, args)
		if err != nil {
			return err
		}
		if in.op == OpCallSuper {
			f.Push(r)
		}
	case OpCall:
		args := popArgs(f, in.a)
		recv, fn := f.Pop(), f.Pop()
		r, err := m.call(fn, recv, args)
		if err != nil {
			return err
		}
		f.Push(r)
	case OpCallStatic:
		args := popArgs(f, in.b)
		recv := f.Pop()
		if in.a >= len(abc.Methods) {
			return avm.Errorf(avm.ErrVerify, "method %d out of range", in.a)
		}
		fn := m.newMethod(abc, abc.Methods[in.a], st.method.Scope, st.method.Class)
		r, err := m.call(fn.Value(), recv, args)
		if err != nil {
			return err
		}
		f.Push(r)
	case OpCallMethod:
		return avm.Errorf(avm.ErrVerify, "callmethod is not supported")
	case OpConstruct:
		args := popArgs(f, in.a)
		r, err := m.construct(f.Pop(), args)
		if err != nil {
			return err
		}
		f.Push(r)
	case OpConstructProp:
		args := popArgs(f, in.b)
		name, err := m.name(f, abc, in.a)
		if err != nil {
			return err
		}
		ctor, err := m.getProperty(f.Pop(), name)
		if err != nil {
			return err
		}
		r, err := m.construct(ctor, args)
		if err != nil {
			return err
		}
		f.Push(r)
	case OpConstructSuper:
		args := popArgs(f, in.a)
		recv := f.Pop()
		cls := st.method.Class
		if cls == nil {
			return avm.Errorf(avm.ErrVerify, "constructsuper outside of a constructor")
		}
		return m.initInstance(cls.Super, recv, args)
	case OpApplyType:
		popArgs(f, in.a)

	// Object creation
	case OpNewObject:
		pairs := popArgs(f, 2*in.a)
		o := m.newObject()
		for i := 0; i < len(pairs); i += 2 {
			key, err := m.toString(pairs[i])
			if err != nil {
				return err
			}
			if err := h.Set(o, key, pairs[i+1]); err != nil {
				return err
			}
		}
		f.Push(o.Value())
	case OpNewArray:
		f.Push(m.newArray(popArgs(f, in.a)).Value())
	case OpNewFunction:
		if in.a >= len(abc.Methods) {
			return avm.Errorf(avm.ErrVerify, "method %d out of range", in.a)
		}
		f.Push(m.newClosure(abc, abc.Methods[in.a], m.captureScope(f, st)))
	case OpNewClass:
		base := f.Pop()
		co, err := m.newClass(abc, in.a, base, m.captureScope(f, st))
		if err != nil {
			return err
		}
		f.Push(co)
	case OpNewActivation:
		body := st.method.Info.Body
		cls, ok := m.activations[body]
		if !ok {
			cls, err = m.traitClass("activation", abc, body.Traits)
			if err != nil {
				return err
			}
			m.activations[body] = cls
		}
		f.Push(m.newInstance(cls).Value())
	case OpNewCatch:
		body := st.method.Info.Body
		if in.a >= len(body.Exceptions) {
			return avm.Errorf(avm.ErrVerify, "exception %d out of range", in.a)
		}
		e := &body.Exceptions[in.a]
		cls, ok := m.catches[e]
		if !ok {
			var traits []TraitInfo
			if e.VarName != 0 {
				traits = []TraitInfo{{Name: e.VarName, Kind: avm.TraitSlot, SlotID: 1, TypeName: e.Type}}
			}
			cls, err = m.traitClass("catch", abc, traits)
			if err != nil {
				return err
			}
			m.catches[e] = cls
		}
		f.Push(m.newInstance(cls).Value())

	// Enumeration
	case OpHasNext:
		idx, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		keys := m.enumKeys(f.Pop())
		if int(idx) < len(keys) {
			f.Push(avm.Int(int(idx) + 1))
		} else {
			f.Push(avm.Int(0))
		}
	case OpHasNext2:
		if in.a >= len(f.Locals) || in.b >= len(f.Locals) {
			return localError(max(in.a, in.b))
		}
		idx, err := m.toNumber(f.Locals[in.b])
		if err != nil {
			return err
		}
		keys := m.enumKeys(f.Locals[in.a])
		if int(idx) < len(keys) {
			f.Locals[in.b] = avm.Int(int(idx) + 1)
			f.Push(avm.True)
		} else {
			f.Locals[in.a] = avm.Null
			f.Locals[in.b] = avm.Int(0)
			f.Push(avm.False)
		}
	case OpNextName, OpNextValue:
		idx, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		obj := f.Pop()
		keys := m.enumKeys(obj)
		i := int(idx) - 1
		if i < 0 || i >= len(keys) {
			f.Push(avm.Undefined)
			return nil
		}
		if in.op == OpNextName {
			f.Push(m.str(keys[i]))
			return nil
		}
		v, err := m.getProperty(obj, avm.PublicName(keys[i]))
		if err != nil {
			return err
		}
		f.Push(v)

	default:
		return avm.Errorf(avm.ErrVerify, "unknown opcode 0x%02x at %d", uint8(in.op), f.OpPC)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func poolError(kind string, i int) error {
	return avm.Errorf(avm.ErrVerify, "%s constant %d out of range", kind, i)
}

func localError(i int) error {
	return avm.Errorf(avm.ErrVerify, "local %d out of range", i)
}

func jump(f *avm.Frame, target int) error {
	if target < 0 || target > len(f.Code) {
		return avm.Errorf(avm.ErrVerify, "branch target %d outside the code", target)
	}
	f.PC = target
	return nil
}

func (m *Machine) getLocal(f *avm.Frame, i int) error {
	if i >= len(f.Locals) {
		return localError(i)
	}
	f.Push(f.Locals[i])
	return nil
}

func (m *Machine) setLocal(f *avm.Frame, i int, v avm.Value) error {
	if i >= len(f.Locals) {
		return localError(i)
	}
	f.Locals[i] = v
	return nil
}

// popArgs pops n values, returning them in push order.
func popArgs(f *avm.Frame, n int) []avm.Value {
	args := make([]avm.Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = f.Pop()
	}
	return args
}

// name resolves multiname index, popping its runtime parts: the name
// first, then the namespace.
func (m *Machine) name(f *avm.Frame, abc *ABCFile, index int) (avm.Name, error) {
	mn, err := abc.multiname(index)
	if err != nil {
		return avm.Name{}, err
	}
	if mn.Kind == mnTypeName {
		return abc.qname(index)
	}
	name := avm.Name{NS: mn.NS, Local: mn.Name}
	if mn.RuntimeName {
		s, err := m.toString(f.Pop())
		if err != nil {
			return avm.Name{}, err
		}
		name.Local = s
	}
	if mn.RuntimeNS {
		uri, err := m.toString(f.Pop())
		if err != nil {
			return avm.Name{}, err
		}
		name.NS = []avm.Namespace{{Kind: avm.NSPublic, URI: uri}}
	}
	return name, nil
}

// captureScope is the chain a closure or class created in f closes over.
func (m *Machine) captureScope(f *avm.Frame, st *frameState) []avm.Value {
	return append(slices.Clone(st.method.Scope), f.Scope...)
}

func (m *Machine) typeTest(f *avm.Frame, is bool, v avm.Value, c *avm.Class) {
	ok := m.isType(v, c)
	switch {
	case is:
		f.Push(avm.Bool(ok))
	case ok:
		f.Push(v)
	default:
		f.Push(avm.Null)
	}
}

func (m *Machine) convert(f *avm.Frame, c *avm.Class) error {
	v, err := m.coerce(f.Pop(), c)
	if err != nil {
		return err
	}
	f.Push(v)
	return nil
}

func (m *Machine) slotAccess(f *avm.Frame, obj avm.Value, id int, v avm.Value, set bool) error {
	o := m.Heap.Deref(obj)
	if o == nil {
		return avm.Errorf(avm.ErrTypeCoercion, "cannot access slot %d of %s", id, m.describe(obj))
	}
	t, slots, err := m.slot(o, id)
	if err != nil {
		return err
	}
	if !set {
		f.Push(slots[t.Slot])
		return nil
	}
	cv, err := m.coerceNamed(v, t.TypeName)
	if err != nil {
		return err
	}
	slots[t.Slot] = cv
	return nil
}

func (m *Machine) getSuper(st *frameState, recv avm.Value, name avm.Name) (avm.Value, error) {
	t, _, err := m.superTrait(st, name)
	if err != nil {
		return avm.Undefined, err
	}
	o := m.Heap.Deref(recv)
	if o == nil {
		return avm.Undefined, nullAccess(recv, name)
	}
	switch t.Kind {
	case avm.TraitMethod:
		return m.bindMethod(t.Value, recv), nil
	case avm.TraitGetter:
		return m.call(t.Value, recv, nil)
	case avm.TraitSetter:
		return avm.Undefined, avm.Errorf(avm.ErrPropertyNotFound, "property %s is write-only", name)
	}
	return o.Slots[t.Slot], nil
}

func (m *Machine) setSuper(st *frameState, recv avm.Value, name avm.Name, v avm.Value) error {
	_, ts, err := m.superTrait(st, name)
	if err != nil {
		return err
	}
	o := m.Heap.Deref(recv)
	if o == nil {
		return nullAccess(recv, name)
	}
	return m.writeTraits(recv, ts, o.Slots, v, false)
}

func arith(op Op, x, y float64) float64 {
	switch op {
	case OpSubtract:
		return x - y
	case OpMultiply:
		return x * y
	case OpDivide:
		return x / y
	default:
		return math.Mod(x, y)
	}
}

func bitwise(op Op, x, y int32) float64 {
	switch op {
	case OpBitAnd:
		return float64(x & y)
	case OpBitOr:
		return float64(x | y)
	case OpBitXor:
		return float64(x ^ y)
	case OpLShift:
		return float64(x << (uint32(y) & 31))
	case OpRShift:
		return float64(x >> (uint32(y) & 31))
	default:
		return float64(uint32(x) >> (uint32(y) & 31))
	}
}

// add concatenates when either primitive operand is a string and adds
// numerically otherwise.
func (m *Machine) add(x, y avm.Value) (avm.Value, error) {
	x, err := m.Heap.ToPrimitive(x, avm.HintNone)
	if err != nil {
		return avm.Undefined, err
	}
	y, err = m.Heap.ToPrimitive(y, avm.HintNone)
	if err != nil {
		return avm.Undefined, err
	}
	if x.IsString() || y.IsString() {
		xs, err := m.toString(x)
		if err != nil {
			return avm.Undefined, err
		}
		ys, err := m.toString(y)
		if err != nil {
			return avm.Undefined, err
		}
		return m.str(xs + ys), nil
	}
	xn, _ := m.toNumber(x)
	yn, _ := m.toNumber(y)
	return avm.Number(xn + yn), nil
}

// less is the abstract relational comparison; NaN yields undefined.
func (m *Machine) less(x, y avm.Value) (avm.Value, error) {
	x, err := m.Heap.ToPrimitive(x, avm.HintNumber)
	if err != nil {
		return avm.Undefined, err
	}
	y, err = m.Heap.ToPrimitive(y, avm.HintNumber)
	if err != nil {
		return avm.Undefined, err
	}
	if x.IsString() && y.IsString() {
		xs, _ := m.Heap.StringOf(x)
		ys, _ := m.Heap.StringOf(y)
		return avm.Bool(xs < ys), nil
	}
	xn, _ := m.toNumber(x)
	yn, _ := m.toNumber(y)
	if math.IsNaN(xn) || math.IsNaN(yn) {
		return avm.Undefined, nil
	}
	return avm.Bool(xn < yn), nil
}

// compare evaluates a relational operator or conditional branch. An
// undefined comparison is false for the plain forms and true for the
// negated branches.
func (m *Machine) compare(op Op, x, y avm.Value) (bool, error) {
	var r avm.Value
	var err error
	switch op {
	case OpLessThan, OpIfLt, OpIfNlt, OpGreaterEquals, OpIfGe, OpIfNge:
		r, err = m.less(x, y)
	default:
		r, err = m.less(y, x)
	}
	if err != nil {
		return false, err
	}
	switch op {
	case OpLessThan, OpIfLt, OpGreaterThan, OpIfGt:
		return r == avm.True, nil
	case OpLessEquals, OpIfLe, OpGreaterEquals, OpIfGe:
		return r == avm.False, nil
	case OpIfNlt, OpIfNgt:
		return r != avm.True, nil
	default:
		return r != avm.False, nil
	}
}

// instanceOf walks v's prototype chain for ctor's prototype.
func (m *Machine) instanceOf(v, ctor avm.Value) (bool, error) {
	co := m.Heap.Deref(ctor)
	if co == nil {
		return false, avm.Errorf(avm.ErrTypeCoercion, "instanceof requires a class or function, got %s", m.describe(ctor))
	}
	o := m.Heap.Deref(v)
	if o == nil {
		return false, nil
	}
	proto := m.Heap.Deref(m.Heap.Get(co, "prototype"))
	return proto != nil && m.Heap.InstanceOf(o, proto), nil
}
