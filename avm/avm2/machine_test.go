package avm2

import (
	"errors"
	"slices"
	"testing"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
	"github.com/chazu/swfvm/swf"
)

// recorder is a host that keeps what scripts send it.
type recorder struct {
	avm.NopHost
	traces  []string
	urls    []string
	calls   []string
	exposed []string
	timers  []hostTimer
	cleared []int
}

type hostTimer struct {
	fn, this avm.Value
	args     []avm.Value
	delay    float64
	repeat   bool
}

func (r *recorder) Trace(s string)              { r.traces = append(r.traces, s) }
func (r *recorder) Navigate(url, window string) { r.urls = append(r.urls, url+"|"+window) }
func (r *recorder) Expose(name string, _, _ avm.Value) {
	r.exposed = append(r.exposed, name)
}
func (r *recorder) CallHost(name string, args []avm.Value) (avm.Value, error) {
	r.calls = append(r.calls, name)
	return avm.Number(float64(len(args) + 8)), nil
}
func (r *recorder) SetTimer(fn, this avm.Value, args []avm.Value, delay float64, repeat bool) int {
	r.timers = append(r.timers, hostTimer{fn, this, args, delay, repeat})
	return len(r.timers)
}
func (r *recorder) ClearTimer(id int) { r.cleared = append(r.cleared, id) }

func newMachine(t *testing.T, opts Options, tags ...swf.Tag) (*Machine, *recorder) {
	t.Helper()
	frames := 0
	for _, tag := range tags {
		if _, ok := tag.(*swf.ShowFrame); ok {
			frames++
		}
	}
	root := display.NewLibrary().NewRoot(tags, max(frames, 1))
	host := &recorder{}
	m, err := New(avm.NewHeap(), host, root, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, host
}

// prog assembles a file whose entry script runs the code in c with the
// global object pushed as scope.
type prog struct {
	*Assembler
	c        *Code
	handlers []ExceptionInfo
	traits   []TraitInfo
}

func newProg() *prog {
	p := &prog{Assembler: NewAssembler(), c: &Code{}}
	p.c.Op(OpGetLocal0).Op(OpPushScope)
	return p
}

func (p *prog) str(s string) *prog {
	p.c.Op(OpPushString, p.String(s))
	return p
}

// trace prints and pops the top of the stack.
func (p *prog) trace() *prog {
	name := p.Public("trace")
	p.c.Op(OpFindPropStrict, name).Op(OpSwap).Op(OpCallPropVoid, name, 1)
	return p
}

// catch routes exceptions thrown between the labels from and to to the
// label target when their class is typeName; "" catches everything.
func (p *prog) catch(from, to, target, typeName string) {
	p.handlers = append(p.handlers, ExceptionInfo{
		From:   p.c.At(from),
		To:     p.c.At(to),
		Target: p.c.At(target),
		Type:   p.typeIndex(typeName),
	})
}

func (p *prog) typeIndex(name string) int {
	if name == "" {
		return 0
	}
	return p.Public(name)
}

// fn adds a method whose body is code and returns its index.
func (p *prog) fn(params int, code *Code) int {
	return p.Method(AsmMethod{Params: make([]int, params), Code: code.Bytes(), Locals: params + 3})
}

func (p *prog) bytes() []byte {
	p.c.Op(OpReturnVoid)
	code := p.c.Bytes()
	handlers := p.handlers
	p.handlers = nil
	init := p.Method(AsmMethod{Code: code, Locals: 4, Exceptions: handlers})
	p.Script(init, p.traits...)
	return p.Assembler.Bytes()
}

func (p *prog) run(t *testing.T, m *Machine) {
	t.Helper()
	if err := m.LoadABC(p.bytes(), false); err != nil {
		t.Fatalf("LoadABC: %v", err)
	}
}

func wantTraces(t *testing.T, host *recorder, want ...string) {
	t.Helper()
	if !slices.Equal(host.traces, want) {
		t.Errorf("traces = %q, want %q", host.traces, want)
	}
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

func TestBuiltinsLink(t *testing.T) {
	m, _ := newMachine(t, Options{})
	for name, c := range m.Domain.classes {
		if !c.Linked() {
			t.Errorf("built-in %s not linked", name)
		}
	}
	if c, ok := m.Domain.classes["Array"]; !ok || c.FindStaticTrait(avm.PublicName("DESCENDING")) == nil {
		t.Error("Array.DESCENDING missing")
	}
}

func TestBuiltinLinkFailureIsReported(t *testing.T) {
	m, _ := newMachine(t, Options{})
	bad := avm.NewClass("Broken", nil, 0)
	bad.AddStaticTrait(&avm.Trait{Local: "A", Kind: avm.TraitConst})
	bad.AddStaticTrait(&avm.Trait{Local: "A", Kind: avm.TraitConst})
	err := installing(func() { m.finish(bad) })
	if !errors.Is(err, avm.ErrVerify) {
		t.Fatalf("installing = %v, want ErrVerify", err)
	}
	if _, ok := m.Domain.classes["Broken"]; ok {
		t.Error("broken class was published")
	}
}

func TestParseRoundTrip(t *testing.T) {
	p := newProg()
	p.Int(-70000)
	p.Uint(3000000000)
	p.Double(2.5)
	p.Multiname("x", p.Package(""), p.Package("flash.display"))
	f, err := ParseABC(p.bytes(), 1)
	if err != nil {
		t.Fatalf("ParseABC: %v", err)
	}
	if !slices.Contains(f.Ints, -70000) {
		t.Errorf("ints = %v, missing -70000", f.Ints)
	}
	if !slices.Contains(f.Uints, 3000000000) {
		t.Errorf("uints = %v, missing 3000000000", f.Uints)
	}
	if !slices.Contains(f.Doubles, 2.5) {
		t.Errorf("doubles = %v, missing 2.5", f.Doubles)
	}
	if len(f.Scripts) != 1 || f.Methods[f.Scripts[0].Init].Body == nil {
		t.Fatalf("entry script has no body")
	}
}

func TestMalformedABC(t *testing.T) {
	data := newProg().bytes()
	for _, n := range []int{0, 3, len(data) / 2, len(data) - 1} {
		_, err := ParseABC(data[:n], 1)
		if !errors.Is(err, ErrMalformedABC) || !errors.Is(err, avm.ErrVerify) {
			t.Errorf("truncated to %d: err = %v, want malformed abc", n, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Arithmetic and coercion
// ---------------------------------------------------------------------------

func TestArithmetic(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.c.Op(OpPushByte, 2).Op(OpPushByte, 3).Op(OpAdd)
	p.trace()
	p.str("a").c.Op(OpPushByte, 1).Op(OpAdd)
	p.trace()
	p.c.Op(OpPushByte, 7).Op(OpPushByte, 2).Op(OpModulo)
	p.trace()
	p.c.Op(OpPushDouble, p.Double(1.5))
	p.trace()
	p.c.Op(OpPushByte, 10).Op(OpPushByte, 4).Op(OpDivide)
	p.trace()
	p.c.Op(OpPushByte, -3).Op(OpPushShort, 300).Op(OpMultiply)
	p.trace()
	p.c.Op(OpPushByte, 1).Op(OpPushByte, 4).Op(OpLShift)
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "5", "a1", "1", "1.5", "2.5", "-900", "16")
}

func TestEquality(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.str("5").c.Op(OpPushByte, 5).Op(OpEquals)
	p.trace()
	p.str("5").c.Op(OpPushByte, 5).Op(OpStrictEquals)
	p.trace()
	p.c.Op(OpPushNull).Op(OpPushUndefined).Op(OpEquals)
	p.trace()
	p.c.Op(OpPushNaN).Op(OpPushNaN).Op(OpEquals)
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "true", "false", "true", "false")
}

func TestConversions(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.str("42").c.Op(OpConvertI)
	p.trace()
	p.c.Op(OpPushDouble, p.Double(3.7)).Op(OpConvertI)
	p.trace()
	p.c.Op(OpPushByte, -1).Op(OpConvertU)
	p.trace()
	p.str("abc").c.Op(OpConvertD)
	p.trace()
	p.c.Op(OpPushNull).Op(OpCoerceS)
	p.trace()
	p.c.Op(OpPushByte, 1).Op(OpTypeOf)
	p.trace()
	p.str("").c.Op(OpConvertB)
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "42", "3", "4294967295", "NaN", "null", "number", "false")
}

func TestLoopAndLocals(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.c.Op(OpPushByte, 0).Op(OpSetLocal1).
		Op(OpPushByte, 1).Op(OpSetLocal2).
		Label("loop").
		Op(OpGetLocal1).Op(OpGetLocal2).Op(OpAdd).Op(OpSetLocal1).
		Op(OpIncLocalI, 2).
		Op(OpGetLocal2).Op(OpPushByte, 5).Branch(OpIfLt, "loop").
		Op(OpGetLocal1)
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "10")
}

func TestLookupSwitch(t *testing.T) {
	for _, tt := range []struct {
		index int
		want  string
	}{
		{0, "zero"},
		{1, "one"},
		{7, "other"},
	} {
		m, host := newMachine(t, Options{})
		p := newProg()
		p.c.Op(OpPushByte, tt.index).Switch("default", "c0", "c1").Label("c0")
		p.str("zero").trace()
		p.c.Branch(OpJump, "end").Label("c1")
		p.str("one").trace()
		p.c.Branch(OpJump, "end").Label("default")
		p.str("other").trace()
		p.c.Label("end")
		p.run(t, m)
		wantTraces(t, host, tt.want)
	}
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// animals declares Animal, with a name slot and speak method, and Dog,
// which overrides speak and calls the inherited one.
func animals(p *prog, sealed bool) {
	name, speak := p.Public("name"), p.Public("speak")
	empty := p.fn(0, (&Code{}).Op(OpReturnVoid))

	animalInit := p.fn(1, (&Code{}).
		Op(OpGetLocal0).Op(OpConstructSuper, 0).
		Op(OpGetLocal0).Op(OpGetLocal1).Op(OpSetProperty, name).
		Op(OpReturnVoid))
	animalSpeak := p.fn(0, (&Code{}).
		Op(OpGetLocal0).Op(OpGetProperty, name).
		Op(OpPushString, p.String(" makes a sound")).Op(OpAdd).
		Op(OpReturnValue))
	dogInit := p.fn(1, (&Code{}).
		Op(OpGetLocal0).Op(OpGetLocal1).Op(OpConstructSuper, 1).
		Op(OpReturnVoid))
	dogSpeak := p.fn(0, (&Code{}).
		Op(OpGetLocal0).Op(OpCallSuper, speak, 0).
		Op(OpPushString, p.String(" and woofs")).Op(OpAdd).
		Op(OpReturnValue))

	var flags uint8
	if sealed {
		flags = InstanceSealed
	}
	p.Class(AsmClass{
		Name:  p.Public("Animal"),
		Super: p.Public("Object"),
		Flags: flags,
		IInit: animalInit,
		Traits: []TraitInfo{
			{Name: name, Kind: avm.TraitSlot, TypeName: p.Public("String")},
			{Name: speak, Kind: avm.TraitMethod, Index: animalSpeak},
		},
		CInit: empty,
	})
	p.Class(AsmClass{
		Name:  p.Public("Dog"),
		Super: p.Public("Animal"),
		Flags: flags,
		IInit: dogInit,
		Traits: []TraitInfo{
			{Name: speak, Kind: avm.TraitMethod, Override: true, Index: dogSpeak},
		},
		CInit: empty,
	})
	p.traits = append(p.traits,
		TraitInfo{Name: p.Public("Animal"), Kind: avm.TraitClass, Index: 0},
		TraitInfo{Name: p.Public("Dog"), Kind: avm.TraitClass, Index: 1},
	)
	p.c.Op(OpGetScopeObject, 0).
		Op(OpGetLex, p.Public("Object")).Op(OpNewClass, 0).
		Op(OpInitProperty, p.Public("Animal")).
		Op(OpGetScopeObject, 0).
		Op(OpGetLex, p.Public("Animal")).Op(OpNewClass, 1).
		Op(OpInitProperty, p.Public("Dog"))
}

func TestClassesAndSuperCalls(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	animals(p, false)
	dog := p.Public("Dog")
	p.c.Op(OpFindPropStrict, dog).Op(OpPushString, p.String("Rex")).Op(OpConstructProp, dog, 1).
		Op(OpSetLocal1).
		Op(OpGetLocal1).Op(OpCallProperty, p.Public("speak"), 0)
	p.trace()
	p.c.Op(OpGetLocal1).Op(OpGetLex, p.Public("Animal")).Op(OpIsTypeLate)
	p.trace()
	p.c.Op(OpGetLocal1).Op(OpIsType, p.Public("Error"))
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "Rex makes a sound and woofs", "true", "false")

	cls, err := m.Domain.ClassByName("Dog")
	if err != nil || cls == nil {
		t.Fatalf("ClassByName(Dog) = %v, %v", cls, err)
	}
	if got := cls.Chain(); got != "Dog < Animal < Object" {
		t.Errorf("chain = %q", got)
	}
}

func TestSealedInstanceRejectsNewProperty(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	animals(p, true)
	dog := p.Public("Dog")
	p.c.Op(OpFindPropStrict, dog).Op(OpPushString, p.String("Rex")).Op(OpConstructProp, dog, 1).
		Op(OpSetLocal1).
		Label("try").
		Op(OpGetLocal1).Op(OpPushByte, 1).Op(OpSetProperty, p.Public("tail")).
		Label("tryEnd").
		Branch(OpJump, "end").
		Label("catch")
	p.c.Op(OpGetLex, p.Public("ReferenceError")).Op(OpIsTypeLate)
	p.trace()
	p.c.Label("end")
	p.catch("try", "tryEnd", "catch", "")
	p.run(t, m)
	wantTraces(t, host, "true")
}

func TestTypeCoercionOnSlot(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	animals(p, false)
	dog := p.Public("Dog")
	p.c.Op(OpFindPropStrict, dog).Op(OpPushByte, 12).Op(OpConstructProp, dog, 1).
		Op(OpGetProperty, p.Public("name")).Op(OpTypeOf)
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "string")
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestTypedCatchAcrossFrames(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	typeError := p.Public("TypeError")
	thrower := p.fn(0, (&Code{}).
		Op(OpFindPropStrict, typeError).Op(OpPushString, p.String("bad")).
		Op(OpConstructProp, typeError, 1).Op(OpThrow))
	p.c.Label("try").
		Op(OpNewFunction, thrower).Op(OpPushNull).Op(OpCall, 0).Op(OpPop).
		Label("tryEnd").
		Branch(OpJump, "end").
		Label("argCatch")
	p.str("wrong handler").trace()
	p.c.Branch(OpJump, "end").Label("typeCatch").
		Op(OpGetProperty, p.Public("message"))
	p.trace()
	p.c.Label("end")
	p.catch("try", "tryEnd", "argCatch", "ArgumentError")
	p.catch("try", "tryEnd", "typeCatch", "TypeError")
	p.run(t, m)
	wantTraces(t, host, "bad")
}

func TestRuntimeErrorBecomesTypedException(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.c.Label("try").
		Op(OpPushNull).Op(OpGetProperty, p.Public("x")).
		Label("tryEnd").
		Branch(OpJump, "end").
		Label("catch").
		Op(OpGetLex, p.Public("TypeError")).Op(OpIsTypeLate)
	p.trace()
	p.c.Label("end")
	p.catch("try", "tryEnd", "catch", "Error")
	p.run(t, m)
	wantTraces(t, host, "true")
}

func TestUncaughtThrow(t *testing.T) {
	m, _ := newMachine(t, Options{})
	p := newProg()
	rangeError := p.Public("RangeError")
	p.c.Op(OpFindPropStrict, rangeError).Op(OpPushString, p.String("out")).
		Op(OpConstructProp, rangeError, 1).Op(OpThrow)
	err := m.LoadABC(p.bytes(), false)
	if !errors.Is(err, avm.ErrUncaught) {
		t.Fatalf("err = %v, want uncaught", err)
	}
	var exc *avm.Exception
	if !errors.As(err, &exc) || exc.Message != "RangeError: out" {
		t.Errorf("exception = %v, want RangeError: out", err)
	}
	if m.Depth() != 0 {
		t.Errorf("depth after uncaught = %d", m.Depth())
	}
}

func TestArgumentCountMismatch(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	two := p.fn(2, (&Code{}).Op(OpReturnVoid))
	p.c.Label("try").
		Op(OpNewFunction, two).Op(OpPushNull).Op(OpPushByte, 1).Op(OpCall, 1).Op(OpPop).
		Label("tryEnd").
		Branch(OpJump, "end").
		Label("catch").
		Op(OpGetLex, p.Public("ArgumentError")).Op(OpIsTypeLate)
	p.trace()
	p.c.Label("end")
	p.catch("try", "tryEnd", "catch", "")
	p.run(t, m)
	wantTraces(t, host, "true")
}

func TestStackOverflowIsCatchable(t *testing.T) {
	m, host := newMachine(t, Options{MaxDepth: 32})
	p := newProg()
	rec := p.Public("rec")
	body := p.fn(0, (&Code{}).Op(OpFindPropStrict, rec).Op(OpCallPropVoid, rec, 0).Op(OpReturnVoid))
	p.c.Op(OpGetLocal0).Op(OpNewFunction, body).Op(OpSetProperty, rec).
		Label("try").
		Op(OpGetLocal0).Op(OpCallPropVoid, rec, 0).
		Label("tryEnd").
		Branch(OpJump, "end").
		Label("catch").Op(OpPop)
	p.str("overflow").trace()
	p.c.Label("end")
	p.catch("try", "tryEnd", "catch", "Error")
	p.run(t, m)
	wantTraces(t, host, "overflow")
	if m.Depth() != 0 {
		t.Errorf("depth = %d, want 0", m.Depth())
	}
}

func TestBudgetIsNotCatchable(t *testing.T) {
	m, host := newMachine(t, Options{Budget: 1000})
	p := newProg()
	p.c.Label("loop").Op(OpNop).Branch(OpJump, "loop").Label("after").Label("catch")
	p.str("caught").trace()
	p.catch("loop", "after", "catch", "")
	err := m.LoadABC(p.bytes(), false)
	if !errors.Is(err, avm.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want budget exceeded", err)
	}
	wantTraces(t, host)
}

func TestVerifyErrorIsNotCatchable(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.c.Label("try").Op(OpGetLex, 999).Label("tryEnd").Label("catch")
	p.str("caught").trace()
	p.catch("try", "tryEnd", "catch", "")
	err := m.LoadABC(p.bytes(), false)
	if !errors.Is(err, avm.ErrVerify) {
		t.Fatalf("err = %v, want verify error", err)
	}
	wantTraces(t, host)
}

// ---------------------------------------------------------------------------
// Built-ins
// ---------------------------------------------------------------------------

func TestArrayAndStringMethods(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.c.Op(OpPushByte, 3).Op(OpPushByte, 1).Op(OpPushByte, 2).Op(OpNewArray, 3).
		Op(OpCallProperty, p.Public("sort"), 0).
		Op(OpCallProperty, p.Public("join"), 0)
	p.trace()
	p.str("Hello").c.Op(OpCallProperty, p.Public("toUpperCase"), 0)
	p.trace()
	p.str("a,b,c").str(",").c.Op(OpCallProperty, p.Public("split"), 1).
		Op(OpGetProperty, p.Public("length"))
	p.trace()
	p.str("abc").c.Op(OpGetProperty, p.Public("length"))
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "1,2,3", "HELLO", "3", "3")
}

func TestDynamicObjectsAndEnumeration(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	p.str("a").c.Op(OpPushByte, 1).
		Op(OpPushString, p.String("b")).Op(OpPushByte, 2).
		Op(OpNewObject, 2).Op(OpSetLocal1).
		Op(OpPushByte, 0).Op(OpSetLocal2).
		Op(OpPushString, p.String("")).Op(OpSetLocal3).
		Label("loop").
		Op(OpHasNext2, 1, 2).Branch(OpIfFalse, "done").
		Op(OpGetLocal3).Op(OpGetLocal1).Op(OpGetLocal2).Op(OpNextName).Op(OpAdd).Op(OpSetLocal3).
		Branch(OpJump, "loop").
		Label("done").
		Op(OpGetLocal3)
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "ab")
}

// ---------------------------------------------------------------------------
// Display and events
// ---------------------------------------------------------------------------

func TestRootBindsAsMovieClip(t *testing.T) {
	m, _ := newMachine(t, Options{})
	v, err := m.Bind(m.Root)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	o := m.Heap.Deref(v)
	if o.Class.Name != "flash.display::MovieClip" {
		t.Errorf("root class = %s", o.Class.Name)
	}
	again, _ := m.Bind(m.Root)
	if again != v {
		t.Errorf("Bind is not stable")
	}
}

func TestScriptDisplayList(t *testing.T) {
	m, _ := newMachine(t, Options{})
	root, err := m.Bind(m.Root)
	if err != nil {
		t.Fatal(err)
	}
	sp, err := m.Construct("flash.display::Sprite", nil)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if _, err := m.CallMethod(root, "addChild", []avm.Value{sp}); err != nil {
		t.Fatalf("addChild: %v", err)
	}
	if m.Root.NumChildren() != 1 {
		t.Fatalf("root has %d children", m.Root.NumChildren())
	}
	if ch := m.TakeChanges(); len(ch.Added) != 1 {
		t.Errorf("added = %d, want 1", len(ch.Added))
	}

	if err := m.setProperty(sp, avm.PublicName("x"), avm.Number(10), false); err != nil {
		t.Fatalf("set x: %v", err)
	}
	if got := m.displayOf(sp).Matrix().TranslateX; got != 200 {
		t.Errorf("TranslateX = %d, want 200", got)
	}
	x, err := m.getProperty(sp, avm.PublicName("x"))
	if err != nil || x != avm.Number(10) {
		t.Errorf("x = %v, %v", x, err)
	}
	parent, _ := m.getProperty(sp, avm.PublicName("parent"))
	if parent != root {
		t.Errorf("parent is not the root")
	}

	if _, err := m.CallMethod(root, "removeChild", []avm.Value{sp}); err != nil {
		t.Fatalf("removeChild: %v", err)
	}
	_, err = m.CallMethod(root, "removeChild", []avm.Value{sp})
	if !errors.Is(err, ErrArgumentCount) {
		t.Errorf("second removeChild: err = %v, want ArgumentError", err)
	}
}

func TestAddChildAtShiftsDepths(t *testing.T) {
	m, _ := newMachine(t, Options{})
	root, _ := m.Bind(m.Root)
	var kids []avm.Value
	for range 3 {
		sp, _ := m.Construct("flash.display::Shape", nil)
		kids = append(kids, sp)
	}
	m.CallMethod(root, "addChild", []avm.Value{kids[0]})
	m.CallMethod(root, "addChild", []avm.Value{kids[1]})
	if _, err := m.CallMethod(root, "addChildAt", []avm.Value{kids[2], avm.Number(0)}); err != nil {
		t.Fatalf("addChildAt: %v", err)
	}
	for i, want := range []avm.Value{kids[2], kids[0], kids[1]} {
		got, err := m.CallMethod(root, "getChildAt", []avm.Value{avm.Int(i)})
		if err != nil || got != want {
			t.Errorf("child %d = %v, %v", i, got, err)
		}
	}
	_, err := m.CallMethod(root, "getChildAt", []avm.Value{avm.Int(5)})
	if !errors.Is(err, ErrRange) {
		t.Errorf("getChildAt(5): err = %v, want RangeError", err)
	}
}

func TestEventBubblesToParent(t *testing.T) {
	m, _ := newMachine(t, Options{})
	root, _ := m.Bind(m.Root)
	child, _ := m.Construct("flash.display::Sprite", nil)
	m.CallMethod(root, "addChild", []avm.Value{child})

	var targets, currents []avm.Value
	var localX avm.Value
	listener := m.native("onClick", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		ev := m.Heap.Deref(args[0])
		targets = append(targets, m.Heap.Get(ev, "target"))
		currents = append(currents, m.Heap.Get(ev, "currentTarget"))
		localX = m.Heap.Get(ev, "localX")
		return avm.Undefined, nil
	})
	m.CallMethod(root, "addEventListener", []avm.Value{m.str(EventClick), listener})
	m.CallMethod(root, "addEventListener", []avm.Value{m.str(EventClick), listener})

	if err := m.DispatchEvent(child, EventClick, []avm.Value{avm.Number(3), avm.Number(4)}); err != nil {
		t.Fatalf("DispatchEvent: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("listener ran %d times, want 1", len(targets))
	}
	if targets[0] != child || currents[0] != root {
		t.Errorf("target/currentTarget not child/root")
	}
	if localX != avm.Number(3) {
		t.Errorf("localX = %v, want 3", localX)
	}

	m.CallMethod(root, "removeEventListener", []avm.Value{m.str(EventClick), listener})
	m.DispatchEvent(child, EventClick, nil)
	if len(targets) != 1 {
		t.Errorf("removed listener still runs")
	}
}

func TestNonBubblingEventStaysOnTarget(t *testing.T) {
	m, _ := newMachine(t, Options{})
	root, _ := m.Bind(m.Root)
	child, _ := m.Construct("flash.display::Sprite", nil)
	m.CallMethod(root, "addChild", []avm.Value{child})
	calls := 0
	listener := m.native("onFrame", func(avm.Value, []avm.Value) (avm.Value, error) {
		calls++
		return avm.Undefined, nil
	})
	m.CallMethod(root, "addEventListener", []avm.Value{m.str(EventEnterFrame), listener})
	m.DispatchEvent(child, EventEnterFrame, nil)
	if calls != 0 {
		t.Errorf("enterFrame bubbled to the parent")
	}
	m.DispatchEvent(root, EventEnterFrame, nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestTimerRunsThroughHost(t *testing.T) {
	m, host := newMachine(t, Options{})
	timer, err := m.Construct("flash.utils::Timer", []avm.Value{avm.Number(100), avm.Number(2)})
	if err != nil {
		t.Fatalf("Construct Timer: %v", err)
	}
	var kinds []string
	listener := m.native("onTimer", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		k, _ := m.toString(m.Heap.Get(m.Heap.Deref(args[0]), "type"))
		kinds = append(kinds, k)
		return avm.Undefined, nil
	})
	m.CallMethod(timer, "addEventListener", []avm.Value{m.str(EventTimer), listener})
	m.CallMethod(timer, "addEventListener", []avm.Value{m.str(EventTimerComplete), listener})
	if _, err := m.CallMethod(timer, "start", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(host.timers) != 1 || host.timers[0].delay != 100 || !host.timers[0].repeat {
		t.Fatalf("host timers = %+v", host.timers)
	}
	ht := host.timers[0]
	for range 2 {
		if _, err := m.Call(ht.fn, ht.this, ht.args); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if !slices.Equal(kinds, []string{EventTimer, EventTimer, EventTimerComplete}) {
		t.Errorf("events = %q", kinds)
	}
	if !slices.Equal(host.cleared, []int{1}) {
		t.Errorf("cleared = %v, want [1]", host.cleared)
	}
	running, _ := m.getProperty(timer, avm.PublicName("running"))
	if running != avm.False {
		t.Errorf("timer still running")
	}
}

func TestGotoQueuesFrameScript(t *testing.T) {
	m, _ := newMachine(t, Options{},
		&swf.ShowFrame{},
		&swf.FrameLabel{Name: "end"},
		&swf.ShowFrame{},
		&swf.ShowFrame{})
	root, _ := m.Bind(m.Root)
	script := m.native("frame3", func(avm.Value, []avm.Value) (avm.Value, error) {
		return avm.Undefined, nil
	})
	m.CallMethod(root, "addFrameScript", []avm.Value{avm.Number(1), script})
	if _, err := m.CallMethod(root, "gotoAndStop", []avm.Value{m.str("end")}); err != nil {
		t.Fatalf("gotoAndStop: %v", err)
	}
	if m.Root.Timeline().CurrentFrame() != 2 || m.Root.Timeline().IsPlaying() {
		t.Errorf("frame = %d playing = %t", m.Root.Timeline().CurrentFrame(), m.Root.Timeline().IsPlaying())
	}
	ch := m.TakeChanges()
	if len(ch.Scripts) != 1 || ch.Scripts[0].Callable != script {
		t.Errorf("scripts = %+v, want the frame 2 script", ch.Scripts)
	}
	_, err := m.CallMethod(root, "gotoAndPlay", []avm.Value{m.str("nowhere")})
	if !errors.Is(err, ErrArgumentCount) {
		t.Errorf("unknown label: err = %v, want ArgumentError", err)
	}
}

// ---------------------------------------------------------------------------
// Host surface
// ---------------------------------------------------------------------------

func TestExternalInterfaceAndNavigate(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	ext := p.QName(p.Package("flash.external"), "ExternalInterface")
	nav := p.QName(p.Package("flash.net"), "navigateToURL")
	req := p.QName(p.Package("flash.net"), "URLRequest")
	p.c.Op(OpGetLex, ext).Op(OpPushString, p.String("jsFn")).Op(OpPushByte, 1).
		Op(OpCallProperty, p.Public("call"), 2)
	p.trace()
	p.c.Op(OpGetLex, ext).Op(OpPushString, p.String("fromHost")).
		Op(OpGetLex, p.Public("trace")).
		Op(OpCallPropVoid, p.Public("addCallback"), 2).
		Op(OpFindPropStrict, nav).
		Op(OpFindPropStrict, req).Op(OpPushString, p.String("http://example.com")).Op(OpConstructProp, req, 1).
		Op(OpPushString, p.String("_self")).
		Op(OpCallPropVoid, nav, 2)
	p.run(t, m)
	wantTraces(t, host, "9")
	if !slices.Equal(host.calls, []string{"jsFn"}) {
		t.Errorf("calls = %q", host.calls)
	}
	if !slices.Equal(host.exposed, []string{"fromHost"}) {
		t.Errorf("exposed = %q", host.exposed)
	}
	if !slices.Equal(host.urls, []string{"http://example.com|_self"}) {
		t.Errorf("urls = %q", host.urls)
	}
}

func TestSetTimeoutSchedulesThroughHost(t *testing.T) {
	m, host := newMachine(t, Options{})
	p := newProg()
	setTimeout := p.QName(p.Package("flash.utils"), "setTimeout")
	p.c.Op(OpFindPropStrict, setTimeout).
		Op(OpGetLex, p.Public("trace")).Op(OpPushShort, 250).Op(OpPushString, p.String("later")).
		Op(OpCallProperty, setTimeout, 3)
	p.trace()
	p.run(t, m)
	wantTraces(t, host, "1")
	if len(host.timers) != 1 || host.timers[0].repeat || host.timers[0].delay != 250 {
		t.Fatalf("timers = %+v", host.timers)
	}
	ht := host.timers[0]
	if _, err := m.Call(ht.fn, ht.this, ht.args); err != nil {
		t.Fatalf("fire: %v", err)
	}
	wantTraces(t, host, "1", "later")
}
