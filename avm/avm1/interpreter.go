package avm1

import (
	"errors"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
)

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// call invokes any callable value. Calling a non-function yields
// undefined, as the legacy player does.
func (m *Machine) call(fnv, this avm.Value, args []avm.Value) (avm.Value, error) {
	o := m.Heap.Deref(fnv)
	if o == nil {
		return avm.Undefined, nil
	}
	switch fn := o.Native.(type) {
	case *avm.NativeFunction:
		if fn.Fn == nil {
			return avm.Undefined, nil
		}
		return fn.Fn(this, args)
	case *Function:
		return m.invoke(o, fn, this, args)
	}
	return avm.Undefined, nil
}

// construct runs `new fn(args)`.
func (m *Machine) construct(fnv avm.Value, args []avm.Value) (avm.Value, error) {
	o := m.Heap.Deref(fnv)
	if o == nil || !avm.IsCallable(o) {
		return avm.Undefined, nil
	}
	if n, ok := o.Native.(*avm.NativeFunction); ok && n.Construct != nil {
		return n.Construct(avm.Undefined, args)
	}
	proto := m.Heap.Get(o, "prototype")
	if !proto.IsObject() {
		proto = m.ObjectProto.Value()
	}
	inst := m.Heap.NewObject(proto)
	inst.Define("constructor", fnv, avm.DontEnum)
	r, err := m.call(fnv, inst.Value(), args)
	if err != nil {
		return avm.Undefined, err
	}
	if r.IsObject() {
		return r, nil
	}
	return inst.Value(), nil
}

func (m *Machine) invoke(callee *avm.Object, fn *Function, this avm.Value, args []avm.Value) (avm.Value, error) {
	act := m.Heap.NewObject(avm.Null)
	st := &state{pool: fn.Pool, target: fn.Target, base: fn.Target, activation: act, result: avm.Undefined}
	f := &avm.Frame{
		Function: fn,
		Callee:   callee.Value(),
		This:     this,
		Args:     args,
		Code:     fn.Code,
		Locals:   undefinedSlots(max(fn.Registers, 4)),
		Scope:    append(slices.Clone(fn.Scope), act.Value()),
		State:    st,
	}
	arguments := func() avm.Value {
		a := m.Heap.NewArray(m.ArrayProto.Value(), slices.Clone(args))
		a.Define("callee", callee.Value(), avm.DontEnum)
		return a.Value()
	}

	if !fn.Modern {
		act.Define("this", this, avm.DontEnum)
		act.Define("arguments", arguments(), avm.DontEnum)
		for i, p := range fn.Params {
			act.Define(p.Name, argAt(args, i), 0)
		}
		return m.execute(f)
	}

	reg := 1
	preload := func(flag uint16, v func() avm.Value) {
		if fn.Flags&flag != 0 {
			st.setRegister(f, reg, v())
			reg++
		}
	}
	preload(flagPreloadThis, func() avm.Value { return this })
	preload(flagPreloadArguments, arguments)
	preload(flagPreloadSuper, func() avm.Value { return m.superOf(this) })
	preload(flagPreloadRoot, func() avm.Value { return m.Bind(m.Root) })
	preload(flagPreloadParent, func() avm.Value {
		if d := m.displayOf(fn.Target); d != nil && d.Parent() != nil {
			return m.Bind(d.Parent())
		}
		return avm.Undefined
	})
	preload(flagPreloadGlobal, func() avm.Value { return m.Global.Value() })
	if fn.Flags&(flagPreloadThis|flagSuppressThis) == 0 {
		act.Define("this", this, avm.DontEnum)
	}
	if fn.Flags&(flagPreloadArguments|flagSuppressArgs) == 0 {
		act.Define("arguments", arguments(), avm.DontEnum)
	}
	for i, p := range fn.Params {
		if p.Register > 0 {
			st.setRegister(f, p.Register, argAt(args, i))
		} else {
			act.Define(p.Name, argAt(args, i), 0)
		}
	}
	return m.execute(f)
}

// superOf is the prototype one level above this's own.
func (m *Machine) superOf(this avm.Value) avm.Value {
	o := m.Heap.Deref(this)
	if o == nil {
		return avm.Undefined
	}
	if p := m.Heap.Deref(o.Proto); p != nil {
		return p.Proto
	}
	return avm.Undefined
}

func argAt(args []avm.Value, i int) avm.Value {
	if i < len(args) {
		return args[i]
	}
	return avm.Undefined
}

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

var errReturn = errors.New("return")

// execute runs one frame to completion. Throws are matched against the
// frame's active try regions; an unmatched throw pops the frame and is
// returned to the caller, which repeats the search one frame up.
func (m *Machine) execute(f *avm.Frame) (avm.Value, error) {
	base := m.stack.Depth()
	if err := m.stack.Push(f); err != nil {
		return avm.Undefined, err
	}
	st := f.State.(*state)
	for {
		m.settleBlocks(f, st)
		if f.PC >= len(f.Code) {
			break
		}
		err := m.step(f, st)
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
		if _, h, ok := m.stack.Unwind(base, exc.Value, func(*avm.Frame, *avm.Handler, avm.Value) bool { return true }); ok {
			m.enterCatch(f, st, h, exc.Value)
			continue
		}
		return avm.Undefined, exc
	}
	m.stack.Truncate(base)
	return st.result, nil
}

// exception turns a runtime error into a thrown script value.
func (m *Machine) exception(err error) *avm.Exception {
	var exc *avm.Exception
	if errors.As(err, &exc) {
		return exc
	}
	name := "Error"
	var e *avm.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case avm.ErrPropertyNotFound, avm.ErrPropertyNotWritable:
			name = "ReferenceError"
		case avm.ErrTypeCoercion:
			name = "TypeError"
		}
	}
	v := m.newError(name, err.Error())
	return &avm.Exception{Value: v, Message: err.Error()}
}

// ---------------------------------------------------------------------------
// With and Try regions
// ---------------------------------------------------------------------------

// settleBlocks retires regions the program counter has left. Falling off
// the end of a try body skips its catch block and enters the finally
// block; leaving a region any other way abandons it.
func (m *Machine) settleBlocks(f *avm.Frame, st *state) {
	for len(st.blocks) > 0 {
		b := &st.blocks[len(st.blocks)-1]
		if f.PC >= b.start && f.PC < b.end {
			return
		}
		if f.PC == b.end {
			switch b.kind {
			case blockTry:
				m.dropHandler(f, b)
				f.PC = b.catchEnd
				b.kind, b.start, b.end = blockFinally, b.catchEnd, b.finallyEnd
				continue
			case blockCatch:
				b.kind, b.start, b.end = blockFinally, b.catchEnd, b.finallyEnd
				continue
			}
		}
		m.popBlock(f, st)
	}
}

func (m *Machine) popBlock(f *avm.Frame, st *state) {
	n := len(st.blocks)
	b := &st.blocks[n-1]
	m.dropHandler(f, b)
	if b.scopeLen <= len(f.Scope) {
		f.Scope = f.Scope[:b.scopeLen]
	}
	st.blocks = st.blocks[:n-1]
}

func (m *Machine) dropHandler(f *avm.Frame, b *block) {
	if b.handler == nil {
		return
	}
	id := b.handler.Catch
	f.Handlers = slices.DeleteFunc(f.Handlers, func(h avm.Handler) bool { return h.Catch == id })
	b.handler = nil
}

// enterCatch resumes at a catch block after Unwind matched h.
func (m *Machine) enterCatch(f *avm.Frame, st *state, h *avm.Handler, thrown avm.Value) {
	id := h.Catch
	i := slices.IndexFunc(st.blocks, func(b block) bool { return b.handler != nil && b.handler.Catch == id })
	reg, name, target := h.Register, h.Var, h.Target
	if i < 0 {
		f.PC = target
		return
	}
	for len(st.blocks) > i+1 {
		m.popBlock(f, st)
	}
	b := &st.blocks[i]
	m.dropHandler(f, b)
	f.Scope = f.Scope[:b.scopeLen]
	b.kind, b.start, b.end = blockCatch, target, b.catchEnd
	f.PC = target
	if reg >= 0 {
		st.setRegister(f, reg, thrown)
	} else if name != "" {
		m.defineLocal(f, st, name, thrown)
	}
}

// beginTry opens a try region for the Try action a.
func (m *Machine) beginTry(f *avm.Frame, st *state, a action) error {
	p := &payload{b: a.payload, version: m.Version}
	flags := p.u8()
	trySize, catchSize, finallySize := int(p.u16()), int(p.u16()), int(p.u16())
	reg, name := -1, ""
	if flags&0x04 != 0 {
		reg = int(p.u8())
	} else {
		name = p.cstring()
	}
	if p.err != nil {
		return p.err
	}
	tryEnd := a.next + trySize
	catchEnd := tryEnd + catchSize
	b := block{
		kind:       blockTry,
		start:      a.next,
		end:        tryEnd,
		scopeLen:   len(f.Scope),
		catchEnd:   catchEnd,
		finallyEnd: catchEnd + finallySize,
	}
	if flags&0x01 != 0 {
		st.nextTry++
		h := avm.Handler{From: a.next, To: tryEnd, Target: tryEnd, Catch: st.nextTry, Register: reg, Var: name, Finally: -1}
		if flags&0x02 != 0 {
			h.Finally = catchEnd
		}
		f.Handlers = slices.Insert(f.Handlers, 0, h)
		b.handler = &h
	}
	st.blocks = append(st.blocks, b)
	return nil
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// getVariable resolves a name through the scope chain, innermost first,
// then the special names and target paths.
func (m *Machine) getVariable(f *avm.Frame, st *state, name string) (avm.Value, error) {
	if path, variable, ok := splitVariablePath(name); ok {
		holder := m.resolvePathStart(f, st, path)
		return m.getMember(holder, variable)
	}
	for i := len(f.Scope) - 1; i >= 0; i-- {
		if m.hasMember(f.Scope[i], name) {
			return m.getMember(f.Scope[i], name)
		}
	}
	switch name {
	case "this":
		return f.This, nil
	case "_global":
		return m.Global.Value(), nil
	case "_root", "_level0":
		return m.Bind(m.Root), nil
	}
	if d := m.displayOf(st.target); d != nil {
		if v, ok := m.displayGet(d, name); ok {
			return v, nil
		}
	}
	return avm.Undefined, nil
}

// resolvePathStart resolves the target part of a variable path. A dotted
// path starts from a variable; a slash path from the current target.
func (m *Machine) resolvePathStart(f *avm.Frame, st *state, path string) avm.Value {
	if strings.Contains(path, "/") || path == "" {
		return m.resolveTarget(st.target, path)
	}
	first, rest, _ := strings.Cut(path, ".")
	start, err := m.getVariable(f, st, first)
	if err != nil || !start.IsObject() {
		return avm.Undefined
	}
	return m.resolveTarget(start, rest)
}

func (m *Machine) setVariable(f *avm.Frame, st *state, name string, v avm.Value) error {
	if path, variable, ok := splitVariablePath(name); ok {
		return m.setMember(m.resolvePathStart(f, st, path), variable, v)
	}
	for i := len(f.Scope) - 1; i > 0; i-- {
		if m.hasMember(f.Scope[i], name) {
			return m.setMember(f.Scope[i], name, v)
		}
	}
	return m.setMember(st.target, name, v)
}

// defineLocal binds name in the innermost activation, or on the target
// for timeline code.
func (m *Machine) defineLocal(f *avm.Frame, st *state, name string, v avm.Value) {
	if st.activation != nil {
		st.activation.Define(name, v, 0)
		return
	}
	m.setMember(st.target, name, v)
}

// ---------------------------------------------------------------------------
// Instruction dispatch
// ---------------------------------------------------------------------------

func (m *Machine) step(f *avm.Frame, st *state) error {
	m.steps++
	if m.budget > 0 && m.steps > m.budget {
		return avm.Errorf(avm.ErrBudgetExceeded, "more than %d actions", m.budget)
	}
	f.OpPC = f.PC
	a, err := readAction(f.Code, f.PC)
	if err != nil {
		return avm.Errorf(avm.ErrVerify, "%v", err)
	}
	f.PC = a.next
	h := m.Heap

	switch a.op {
	case OpEnd:
		f.PC = len(f.Code)

	// Timeline control
	case OpNextFrame, OpPrevFrame, OpPlay, OpStop:
		if sp := m.spriteOf(st.target); sp != nil {
			m.timelineAction(sp, a.op)
		}
	case OpToggleQuality, OpStopSounds, OpStartDrag, OpEndDrag:
		if a.op == OpStartDrag {
			f.Pop()
			f.Pop()
			if c, _ := m.toNumber(f.Pop()); c != 0 {
				f.Pop()
				f.Pop()
				f.Pop()
				f.Pop()
			}
		}
	case OpGotoFrame:
		p := &payload{b: a.payload}
		frame := int(p.u16())
		if sp := m.spriteOf(st.target); sp != nil {
			sp.Goto(frame+1, &m.changes)
			sp.Timeline().Stop()
		}
	case OpGotoLabel:
		p := &payload{b: a.payload, version: m.Version}
		label := p.cstring()
		if sp := m.spriteOf(st.target); sp != nil {
			if sp.GotoLabel(label, &m.changes) {
				sp.Timeline().Stop()
			}
		}
	case OpGotoFrame2:
		p := &payload{b: a.payload}
		flags := p.u8()
		bias := 0
		if flags&0x02 != 0 {
			bias = int(p.u16())
		}
		return m.gotoFrame2(st, f.Pop(), bias, flags&0x01 != 0)
	case OpGetURL:
		p := &payload{b: a.payload, version: m.Version}
		url := p.cstring()
		m.Host.Navigate(url, p.cstring())
	case OpGetURL2:
		window, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		url, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		m.Host.Navigate(url, window)
	case OpWaitForFrame, OpWaitForFrame2:
		// Every frame is resident once loaded.
		if a.op == OpWaitForFrame2 {
			f.Pop()
		}
	case OpSetTarget:
		p := &payload{b: a.payload, version: m.Version}
		m.setTarget(st, p.cstring())
	case OpSetTarget2:
		v := f.Pop()
		if v.IsObject() {
			st.target = v
			break
		}
		path, err := m.toString(v)
		if err != nil {
			return err
		}
		m.setTarget(st, path)
	case OpCall:
		v := f.Pop()
		return m.callFrame(f, st, v)

	// Stack and registers
	case OpPush:
		return m.pushValues(f, st, a)
	case OpPop:
		f.Pop()
	case OpPushDuplicate:
		f.Push(f.Peek())
	case OpStackSwap:
		y, x := f.Pop(), f.Pop()
		f.Push(y)
		f.Push(x)
	case OpStoreRegister:
		p := &payload{b: a.payload}
		st.setRegister(f, int(p.u8()), f.Peek())
	case OpConstantPool:
		st.pool = readConstantPool(&payload{b: a.payload, version: m.Version})

	// Arithmetic
	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
		y, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		x, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		f.Push(avm.Number(arith(a.op, x, y, m.Version)))
	case OpAdd2:
		return m.add2(f)
	case OpIncrement, OpDecrement:
		x, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		if a.op == OpIncrement {
			x++
		} else {
			x--
		}
		f.Push(avm.Number(x))
	case OpEquals:
		y, _ := m.toNumber(f.Pop())
		x, _ := m.toNumber(f.Pop())
		f.Push(m.legacyBool(x == y))
	case OpLess:
		y, _ := m.toNumber(f.Pop())
		x, _ := m.toNumber(f.Pop())
		f.Push(m.legacyBool(x < y))
	case OpAnd, OpOr:
		y, x := m.toBoolean(f.Pop()), m.toBoolean(f.Pop())
		if a.op == OpAnd {
			f.Push(m.legacyBool(x && y))
		} else {
			f.Push(m.legacyBool(x || y))
		}
	case OpNot:
		f.Push(m.legacyBool(!m.toBoolean(f.Pop())))
	case OpEquals2:
		y, x := f.Pop(), f.Pop()
		eq, err := h.LooseEquals(x, y)
		if err != nil {
			return err
		}
		f.Push(avm.Bool(eq))
	case OpStrictEquals:
		y, x := f.Pop(), f.Pop()
		f.Push(avm.Bool(h.StrictEquals(x, y)))
	case OpLess2, OpGreater:
		y, x := f.Pop(), f.Pop()
		if a.op == OpGreater {
			x, y = y, x
		}
		r, err := m.less(x, y)
		if err != nil {
			return err
		}
		f.Push(r)
	case OpBitAnd, OpBitOr, OpBitXor, OpBitLShift, OpBitRShift, OpBitURShift:
		y, err := m.toInt32(f.Pop())
		if err != nil {
			return err
		}
		x, err := m.toInt32(f.Pop())
		if err != nil {
			return err
		}
		f.Push(avm.Number(bitwise(a.op, x, y)))
	case OpToInteger:
		x, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		f.Push(avm.Number(math.Trunc(x)))
	case OpToNumber:
		x, err := m.toNumber(f.Pop())
		if err != nil {
			return err
		}
		f.Push(avm.Number(x))
	case OpToString:
		s, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		f.Push(m.str(s))
	case OpTypeOf:
		v := f.Pop()
		t := h.TypeOf(v)
		if m.spriteOf(v) != nil {
			t = "movieclip"
		}
		f.Push(m.str(t))
	case OpRandom:
		n, _ := m.toNumber(f.Pop())
		r := 0.0
		if n >= 1 {
			r = float64(m.rng.IntN(int(n)))
		}
		f.Push(avm.Number(r))
	case OpGetTime:
		f.Push(avm.Number(float64(time.Since(m.start).Milliseconds())))

	// Strings
	case OpStringAdd:
		y, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		x, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		f.Push(m.str(x + y))
	case OpStringEquals, OpStringLess, OpStringGreater:
		y, _ := m.toString(f.Pop())
		x, _ := m.toString(f.Pop())
		var r bool
		switch a.op {
		case OpStringEquals:
			r = x == y
		case OpStringLess:
			r = x < y
		default:
			r = x > y
		}
		f.Push(m.legacyBool(r))
	case OpStringLength, OpMBStringLength:
		s, _ := m.toString(f.Pop())
		f.Push(avm.Number(float64(utf8.RuneCountInString(s))))
	case OpStringExtract, OpMBStringExtract:
		count, _ := m.toNumber(f.Pop())
		index, _ := m.toNumber(f.Pop())
		s, _ := m.toString(f.Pop())
		f.Push(m.str(substring(s, int(index)-1, int(count))))
	case OpCharToAscii, OpMBCharToAscii:
		s, _ := m.toString(f.Pop())
		r, _ := utf8.DecodeRuneInString(s)
		if s == "" {
			r = 0
		}
		f.Push(avm.Number(float64(r)))
	case OpAsciiToChar, OpMBAsciiToChar:
		n, _ := m.toNumber(f.Pop())
		f.Push(m.str(string(rune(int32(n)))))

	// Variables
	case OpGetVariable:
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		v, err := m.getVariable(f, st, name)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpSetVariable:
		v := f.Pop()
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		return m.setVariable(f, st, name, v)
	case OpDefineLocal:
		v := f.Pop()
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		m.defineLocal(f, st, name, v)
	case OpDefineLocal2:
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		if st.activation == nil || !m.hasMember(st.activation.Value(), name) {
			m.defineLocal(f, st, name, avm.Undefined)
		}
	case OpDelete:
		name, _ := m.toString(f.Pop())
		obj := f.Pop()
		ok := false
		if o := h.Deref(obj); o != nil {
			ok = h.Delete(o, name)
		}
		f.Push(avm.Bool(ok))
	case OpDelete2:
		name, _ := m.toString(f.Pop())
		ok := false
		for i := len(f.Scope) - 1; i >= 0; i-- {
			if o := h.Deref(f.Scope[i]); o != nil && h.Has(o, name) {
				ok = h.Delete(o, name)
				break
			}
		}
		f.Push(avm.Bool(ok))
	case OpTargetPath:
		v := f.Pop()
		if d := m.displayOf(v); d != nil {
			f.Push(m.str(m.targetPath(d)))
		} else {
			f.Push(avm.Undefined)
		}

	// Display
	case OpGetProperty:
		idx, _ := m.toNumber(f.Pop())
		path, _ := m.toString(f.Pop())
		name, ok := clipPropName(idx)
		clip := m.resolveTarget(st.target, path)
		if !ok || !clip.IsObject() {
			f.Push(avm.Undefined)
			break
		}
		v, err := m.getMember(clip, name)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpSetProperty:
		v := f.Pop()
		idx, _ := m.toNumber(f.Pop())
		path, _ := m.toString(f.Pop())
		name, ok := clipPropName(idx)
		clip := m.resolveTarget(st.target, path)
		if ok && clip.IsObject() {
			return m.setMember(clip, name, v)
		}
	case OpCloneSprite:
		depth, _ := m.toInt32(f.Pop())
		name, _ := m.toString(f.Pop())
		src, _ := m.toString(f.Pop())
		if d := m.displayOf(m.resolveTarget(st.target, src)); d != nil {
			m.duplicate(d, name, depth)
		}
	case OpRemoveSprite:
		path, _ := m.toString(f.Pop())
		if d := m.displayOf(m.resolveTarget(st.target, path)); d != nil {
			m.removeClip(d)
		}
	case OpTrace:
		v := f.Pop()
		var s string
		if v.IsUndefined() {
			s = "undefined"
		} else if s, err = m.toString(v); err != nil {
			return err
		}
		m.Host.Trace(s)

	// Objects
	case OpGetMember:
		key, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		v, err := m.getMember(f.Pop(), key)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpSetMember:
		v := f.Pop()
		key, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		return m.setMember(f.Pop(), key, v)
	case OpNewObject:
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		args := m.popArgs(f)
		ctor, err := m.getVariable(f, st, name)
		if err != nil {
			return err
		}
		v, err := m.construct(ctor, args)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpNewMethod:
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		obj := f.Pop()
		args := m.popArgs(f)
		ctor := obj
		if name != "" {
			if ctor, err = m.getMember(obj, name); err != nil {
				return err
			}
		}
		v, err := m.construct(ctor, args)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpInitArray:
		n, _ := m.toNumber(f.Pop())
		elems := make([]avm.Value, 0, max(int(n), 0))
		for i := 0; i < int(n); i++ {
			elems = append(elems, f.Pop())
		}
		f.Push(h.NewArray(m.ArrayProto.Value(), elems).Value())
	case OpInitObject:
		n, _ := m.toNumber(f.Pop())
		o := h.NewObject(m.ObjectProto.Value())
		for i := 0; i < int(n); i++ {
			v := f.Pop()
			key, err := m.toString(f.Pop())
			if err != nil {
				return err
			}
			o.Define(key, v, 0)
		}
		f.Push(o.Value())
	case OpCallFunction:
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		args := m.popArgs(f)
		fn, err := m.getVariable(f, st, name)
		if err != nil {
			return err
		}
		v, err := m.call(fn, avm.Undefined, args)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpCallMethod:
		name, err := m.toString(f.Pop())
		if err != nil {
			return err
		}
		obj := f.Pop()
		args := m.popArgs(f)
		fn, this := obj, avm.Undefined
		if name != "" {
			if fn, err = m.getMember(obj, name); err != nil {
				return err
			}
			this = obj
		}
		v, err := m.call(fn, this, args)
		if err != nil {
			return err
		}
		f.Push(v)
	case OpReturn:
		st.result = f.Pop()
		return errReturn
	case OpEnumerate, OpEnumerate2:
		obj := f.Pop()
		if a.op == OpEnumerate {
			name, _ := m.toString(obj)
			obj, _ = m.getVariable(f, st, name)
		}
		f.Push(avm.Null)
		if o := h.Deref(obj); o != nil {
			keys := h.Enumerate(o)
			if arr, ok := avm.ArrayOf(o); ok {
				for i := len(arr.Elems) - 1; i >= 0; i-- {
					keys = append([]string{strconv.Itoa(i)}, keys...)
				}
			}
			for i := len(keys) - 1; i >= 0; i-- {
				f.Push(m.str(keys[i]))
			}
		}
	case OpInstanceOf:
		ctor, obj := f.Pop(), f.Pop()
		f.Push(avm.Bool(m.instanceOf(obj, ctor)))
	case OpCastOp:
		obj, ctor := f.Pop(), f.Pop()
		if m.instanceOf(obj, ctor) {
			f.Push(obj)
		} else {
			f.Push(avm.Null)
		}
	case OpImplementsOp:
		ctor := f.Pop()
		n, _ := m.toNumber(f.Pop())
		var ifaces []avm.Value
		for i := 0; i < int(n); i++ {
			ifaces = append(ifaces, f.Pop())
		}
		if o := h.Deref(ctor); o != nil {
			o.Define("__interfaces__", h.NewArray(m.ArrayProto.Value(), ifaces).Value(), avm.DontEnum)
		}
	case OpExtends:
		super, sub := f.Pop(), f.Pop()
		so, bo := h.Deref(sub), h.Deref(super)
		if so == nil || bo == nil {
			break
		}
		proto := h.NewObject(h.Get(bo, "prototype"))
		proto.Define("constructor", super, avm.DontEnum)
		proto.Define("__constructor__", super, avm.DontEnum)
		so.Define("prototype", proto.Value(), avm.DontEnum)
	case OpThrow:
		v := f.Pop()
		msg, _ := m.toString(v)
		return &avm.Exception{Value: v, Message: msg}

	// Functions and regions
	case OpDefineFunction, OpDefineFunction2:
		fn, size, err := decodeFunction(a, m.Version)
		if err != nil {
			return avm.Errorf(avm.ErrVerify, "%v", err)
		}
		if f.PC+size > len(f.Code) {
			return avm.Errorf(avm.ErrVerify, "function body at %d overruns its block", f.PC)
		}
		fn.Code = f.Code[f.PC : f.PC+size]
		fn.Scope = slices.Clone(f.Scope)
		fn.Target = st.base
		fn.Pool = st.pool
		f.PC += size
		v := m.newFunction(fn)
		if fn.Name == "" {
			f.Push(v)
		} else {
			m.defineLocal(f, st, fn.Name, v)
		}
	case OpWith:
		p := &payload{b: a.payload}
		size := int(p.u16())
		obj := f.Pop()
		if !obj.IsObject() {
			f.PC += size
			break
		}
		st.blocks = append(st.blocks, block{kind: blockWith, start: f.PC, end: f.PC + size, scopeLen: len(f.Scope)})
		f.Scope = append(f.Scope, obj)
	case OpTry:
		return m.beginTry(f, st, a)

	case OpJump:
		p := &payload{b: a.payload}
		f.PC += int(p.i16())
	case OpIf:
		p := &payload{b: a.payload}
		off := int(p.i16())
		if m.toBoolean(f.Pop()) {
			f.PC += off
		}

	default:
		logger().Debugf("unsupported action %s at %d", a.op, a.offset)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (m *Machine) popArgs(f *avm.Frame) []avm.Value {
	n, _ := m.toNumber(f.Pop())
	if n < 0 || math.IsNaN(n) {
		n = 0
	}
	args := make([]avm.Value, 0, int(n))
	for i := 0; i < int(n); i++ {
		args = append(args, f.Pop())
	}
	return args
}

func arith(op Op, x, y float64, version uint8) float64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSubtract:
		return x - y
	case OpMultiply:
		return x * y
	case OpDivide:
		if y == 0 && version < 5 {
			return math.NaN()
		}
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
	case OpBitLShift:
		return float64(x << (uint32(y) & 31))
	case OpBitRShift:
		return float64(x >> (uint32(y) & 31))
	default:
		return float64(uint32(x) >> (uint32(y) & 31))
	}
}

// add2 concatenates when either primitive operand is a string and adds
// numerically otherwise.
func (m *Machine) add2(f *avm.Frame) error {
	y, err := m.Heap.ToPrimitive(f.Pop(), avm.HintNone)
	if err != nil {
		return err
	}
	x, err := m.Heap.ToPrimitive(f.Pop(), avm.HintNone)
	if err != nil {
		return err
	}
	if x.IsString() || y.IsString() {
		xs, err := m.toString(x)
		if err != nil {
			return err
		}
		ys, err := m.toString(y)
		if err != nil {
			return err
		}
		f.Push(m.str(xs + ys))
		return nil
	}
	xn, _ := m.toNumber(x)
	yn, _ := m.toNumber(y)
	f.Push(avm.Number(xn + yn))
	return nil
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

func (m *Machine) instanceOf(obj, ctor avm.Value) bool {
	o, c := m.Heap.Deref(obj), m.Heap.Deref(ctor)
	if o == nil || c == nil {
		return false
	}
	proto := m.Heap.Deref(m.Heap.Get(c, "prototype"))
	if proto == nil {
		return false
	}
	if m.Heap.InstanceOf(o, proto) {
		return true
	}
	// interfaces declared with ImplementsOp
	p := m.Heap.Deref(o.Proto)
	for depth := 0; p != nil && depth < 256; depth++ {
		if ctorOf := m.Heap.Deref(m.Heap.Get(p, "constructor")); ctorOf != nil {
			arr, ok := avm.ArrayOf(m.Heap.Deref(m.Heap.Get(ctorOf, "__interfaces__")))
			if ok && slices.Contains(arr.Elems, ctor) {
				return true
			}
		}
		p = m.Heap.Deref(p.Proto)
	}
	return false
}

// substring extracts count runes from index; a negative count runs to
// the end.
func substring(s string, index, count int) string {
	r := []rune(s)
	if index < 0 {
		index = 0
	}
	if index > len(r) {
		return ""
	}
	end := len(r)
	if count >= 0 && index+count < end {
		end = index + count
	}
	return string(r[index:end])
}

func (m *Machine) timelineAction(sp *display.Sprite, op Op) {
	tl := sp.Timeline()
	switch op {
	case OpPlay:
		tl.Play()
	case OpStop:
		tl.Stop()
	case OpNextFrame:
		sp.Goto(tl.CurrentFrame()+1, &m.changes)
		tl.Stop()
	case OpPrevFrame:
		sp.Goto(tl.CurrentFrame()-1, &m.changes)
		tl.Stop()
	}
}

func (m *Machine) setTarget(st *state, path string) {
	if path == "" {
		st.target = st.base
		return
	}
	t := m.resolveTarget(st.base, path)
	if !t.IsObject() {
		logger().Debugf("SetTarget: %q does not resolve", path)
		t = st.base
	}
	st.target = t
}

// gotoFrame2 seeks to a frame number or a "target:frame" label.
func (m *Machine) gotoFrame2(st *state, frame avm.Value, bias int, play bool) error {
	clip := st.target
	if frame.IsString() {
		s, _ := m.Heap.StringOf(frame)
		if path, label, ok := strings.Cut(s, ":"); ok {
			clip = m.resolveTarget(st.target, path)
			s = label
		}
		sp := m.spriteOf(clip)
		if sp == nil {
			return nil
		}
		if n := avm.ParseNumber(s, false); !math.IsNaN(n) {
			sp.Goto(int(n)+bias, &m.changes)
		} else if !sp.GotoLabel(s, &m.changes) {
			return nil
		}
		m.setPlaying(sp, play)
		return nil
	}
	n, err := m.toNumber(frame)
	if err != nil {
		return err
	}
	if sp := m.spriteOf(clip); sp != nil && !math.IsNaN(n) {
		sp.Goto(int(n)+bias, &m.changes)
		m.setPlaying(sp, play)
	}
	return nil
}

func (m *Machine) setPlaying(sp *display.Sprite, play bool) {
	if play {
		sp.Timeline().Play()
	} else {
		sp.Timeline().Stop()
	}
}

// callFrame runs the action blocks of another frame in the context of
// the current one, as the Call action does.
func (m *Machine) callFrame(f *avm.Frame, st *state, v avm.Value) error {
	clip, s := st.target, ""
	if v.IsString() {
		s, _ = m.Heap.StringOf(v)
		if path, frame, ok := strings.Cut(s, ":"); ok {
			clip = m.resolveTarget(st.target, path)
			s = frame
		}
	} else {
		n, _ := m.toNumber(v)
		s = avm.NumberToString(n)
	}
	sp := m.spriteOf(clip)
	if sp == nil {
		return nil
	}
	frame, ok := sp.Timeline().FrameForLabel(s)
	if !ok {
		n := avm.ParseNumber(s, false)
		if math.IsNaN(n) {
			return nil
		}
		frame = int(n)
	}
	for _, code := range sp.FrameActions(frame) {
		sub := &avm.Frame{
			This:   clip,
			Callee: avm.Undefined,
			Code:   code,
			Locals: undefinedSlots(4),
			Scope:  []avm.Value{m.Global.Value(), clip},
			State:  &state{target: clip, base: clip, result: avm.Undefined},
		}
		if _, err := m.execute(sub); err != nil {
			return err
		}
	}
	return nil
}
