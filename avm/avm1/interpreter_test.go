package avm1

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
	traces []string
	urls   []string
	calls  []string
	timers []avm.Value
}

func (r *recorder) Trace(s string)              { r.traces = append(r.traces, s) }
func (r *recorder) Navigate(url, window string) { r.urls = append(r.urls, url+"|"+window) }
func (r *recorder) CallHost(name string, args []avm.Value) (avm.Value, error) {
	r.calls = append(r.calls, name)
	return avm.Number(float64(len(args) + 8)), nil
}
func (r *recorder) SetTimer(fn, this avm.Value, args []avm.Value, delay float64, repeat bool) int {
	r.timers = append(r.timers, fn)
	return len(r.timers)
}

func newMachine(t *testing.T, version uint8, opts Options, tags ...swf.Tag) (*Machine, *recorder) {
	t.Helper()
	frames := 0
	for _, tag := range tags {
		if _, ok := tag.(*swf.ShowFrame); ok {
			frames++
		}
	}
	root := display.NewLibrary().NewRoot(tags, max(frames, 1))
	host := &recorder{}
	return New(avm.NewHeap(), host, root, version, opts), host
}

func run(t *testing.T, m *Machine, b *Builder) {
	t.Helper()
	if err := m.RunActions(b.Bytes(), m.Root); err != nil {
		t.Fatalf("RunActions: %v", err)
	}
}

func wantTraces(t *testing.T, host *recorder, want ...string) {
	t.Helper()
	if !slices.Equal(host.traces, want) {
		t.Errorf("traces = %q, want %q", host.traces, want)
	}
}

// ---------------------------------------------------------------------------
// Arithmetic and coercion
// ---------------------------------------------------------------------------

func TestArithmetic(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Push(2, 3).Op(OpAdd2, OpTrace).
		Push("a", 1).Op(OpAdd2, OpTrace).
		Push(7, 2).Op(OpModulo, OpTrace).
		Push(1.5).Op(OpTrace).
		Push(10, 4).Op(OpSubtract, OpTrace))
	wantTraces(t, host, "5", "a1", "1", "1.5", "6")
}

func TestLooseAndStrictEquality(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Push("5", 5).Op(OpEquals2, OpTrace).
		Push("5", 5).Op(OpStrictEquals, OpTrace).
		Push(nil, Undef).Op(OpEquals2, OpTrace))
	wantTraces(t, host, "true", "false", "true")
}

func TestVersionDependentCoercion(t *testing.T) {
	tests := []struct {
		version uint8
		want    []string
	}{
		{6, []string{"1", "true"}},
		{7, []string{"NaN", "false"}},
	}
	for _, tt := range tests {
		m, host := newMachine(t, tt.version, Options{})
		run(t, m, NewBuilder().
			Push(Undef, 1).Op(OpAdd, OpTrace).
			Push("abc").Op(OpNot, OpTrace))
		if !slices.Equal(host.traces, tt.want) {
			t.Errorf("version %d: traces = %q, want %q", tt.version, host.traces, tt.want)
		}
	}
}

func TestLegacyLogicalResults(t *testing.T) {
	m, host := newMachine(t, 4, Options{})
	run(t, m, NewBuilder().
		Push(1, 2).Op(OpLess, OpTrace).
		Push(0).Op(OpNot, OpTrace))
	wantTraces(t, host, "1", "1")
}

// ---------------------------------------------------------------------------
// Variables and functions
// ---------------------------------------------------------------------------

func TestVariables(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Push("x", 10).Op(OpSetVariable).
		Push("x").Op(OpGetVariable).Push(1).Op(OpAdd2, OpTrace).
		Push(42).StoreRegister(2).Op(OpPop).
		Push(Register(2)).Op(OpTrace).
		ConstantPool("pooled").
		Push(Const(0)).Op(OpTrace))
	wantTraces(t, host, "11", "42", "pooled")

	v := m.Heap.Get(m.Heap.Deref(m.Bind(m.Root)), "x")
	if v != avm.Number(10) {
		t.Errorf("_root.x = %v, want 10", v)
	}
}

func TestDefineFunction(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	add := NewBuilder().
		Push("a").Op(OpGetVariable).
		Push("b").Op(OpGetVariable).
		Op(OpAdd2, OpReturn)
	run(t, m, NewBuilder().
		DefineFunction("add", []string{"a", "b"}, add).
		Push(3, 4, 2, "add").Op(OpCallFunction, OpTrace))
	wantTraces(t, host, "7")
}

func TestDefineFunction2Registers(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	mul := NewBuilder().
		Push(Register(1), Register(2)).
		Op(OpMultiply, OpReturn)
	flags := uint16(flagSuppressThis | flagSuppressArgs | flagSuppressSuper)
	run(t, m, NewBuilder().
		DefineFunction2("mul", 3, flags, []Param{{Name: "a", Register: 1}, {Name: "b", Register: 2}}, mul).
		Push(7, 6, 2, "mul").Op(OpCallFunction, OpTrace))
	wantTraces(t, host, "42")
}

func TestMethodsAndThis(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	getName := NewBuilder().
		Push("this").Op(OpGetVariable).
		Push("name").Op(OpGetMember, OpReturn)
	run(t, m, NewBuilder().
		Push("o", "name", "box", 1).Op(OpInitObject, OpSetVariable).
		Push("o").Op(OpGetVariable).
		Push("describe").
		DefineFunction("", nil, getName).
		Op(OpSetMember).
		Push(0, "o").Op(OpGetVariable).Push("describe").Op(OpCallMethod, OpTrace))
	wantTraces(t, host, "box")
}

func TestIfAndJump(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	// for (i = 0; i < 3; i++) trace(i)
	run(t, m, NewBuilder().
		Push("i", 0).Op(OpSetVariable).
		Label("top").
		Push("i").Op(OpGetVariable).Push(3).Op(OpLess2, OpNot).
		If("done").
		Push("i").Op(OpGetVariable, OpTrace).
		Push("i", "i").Op(OpGetVariable, OpIncrement, OpSetVariable).
		Jump("top").
		Label("done"))
	wantTraces(t, host, "0", "1", "2")
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestTryCatchFinally(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Try("e",
			NewBuilder().Push("boom").Op(OpThrow).Push("unreached").Op(OpTrace),
			NewBuilder().Push("e").Op(OpGetVariable, OpTrace),
			NewBuilder().Push("finally").Op(OpTrace)).
		Push("after").Op(OpTrace))
	wantTraces(t, host, "boom", "finally", "after")
}

func TestTryWithoutThrowRunsFinally(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Try("r:1",
			NewBuilder().Push("body").Op(OpTrace),
			NewBuilder().Push("catch").Op(OpTrace),
			NewBuilder().Push("finally").Op(OpTrace)).
		Push("after").Op(OpTrace))
	wantTraces(t, host, "body", "finally", "after")
}

func TestCatchIntoRegister(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Try("r:1",
			NewBuilder().Push(99).Op(OpThrow),
			NewBuilder().Push(Register(1)).Op(OpTrace),
			nil))
	wantTraces(t, host, "99")
}

func TestThrowCaughtTwoFramesUp(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	thrower := NewBuilder().Push("deep").Op(OpThrow)
	middle := NewBuilder().Push(0, "thrower").Op(OpCallFunction, OpPop).Push("unreached").Op(OpTrace)
	run(t, m, NewBuilder().
		DefineFunction("thrower", nil, thrower).
		DefineFunction("middle", nil, middle).
		Try("e",
			NewBuilder().Push(0, "middle").Op(OpCallFunction, OpPop),
			NewBuilder().Push("e").Op(OpGetVariable, OpTrace),
			nil).
		Push("resumed").Op(OpTrace))
	wantTraces(t, host, "deep", "resumed")
	if d := m.Depth(); d != 0 {
		t.Errorf("Depth after run = %d, want 0", d)
	}
}

func TestUncaughtThrow(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	err := m.RunActions(NewBuilder().Push("oops").Op(OpThrow).Push("unreached").Op(OpTrace).Bytes(), m.Root)
	if !errors.Is(err, avm.ErrUncaught) {
		t.Fatalf("err = %v, want uncaught", err)
	}
	v, ok := avm.Thrown(err)
	if s, _ := m.Heap.StringOf(v); !ok || s != "oops" {
		t.Errorf("thrown = %v, want \"oops\"", v)
	}
	wantTraces(t, host)
	if d := m.Depth(); d != 0 {
		t.Errorf("Depth after uncaught throw = %d", d)
	}
}

func TestStackOverflowIsCatchable(t *testing.T) {
	m, host := newMachine(t, 7, Options{MaxDepth: 16})
	recurse := NewBuilder().Push(0, "recurse").Op(OpCallFunction, OpPop)
	run(t, m, NewBuilder().
		DefineFunction("recurse", nil, recurse).
		Try("e",
			NewBuilder().Push(0, "recurse").Op(OpCallFunction, OpPop),
			NewBuilder().Push("overflow").Op(OpTrace),
			nil))
	wantTraces(t, host, "overflow")
}

func TestBudgetStopsRunawayScript(t *testing.T) {
	m, host := newMachine(t, 7, Options{Budget: 100})
	loop := NewBuilder().Label("top").Jump("top")
	err := m.RunActions(NewBuilder().
		Try("e", loop, NewBuilder().Push("caught").Op(OpTrace), nil).
		Bytes(), m.Root)
	if !errors.Is(err, avm.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want budget exceeded", err)
	}
	wantTraces(t, host)

	// The budget is per outermost chain.
	run(t, m, NewBuilder().Push("fresh").Op(OpTrace))
	wantTraces(t, host, "fresh")
}

func TestMalformedActionIsNotCatchable(t *testing.T) {
	m, _ := newMachine(t, 7, Options{})
	code := []byte{byte(OpPush), 10, 0, pushString}
	if err := m.RunActions(code, m.Root); !errors.Is(err, avm.ErrVerify) {
		t.Errorf("err = %v, want verify error", err)
	}
}

// ---------------------------------------------------------------------------
// Built-in objects
// ---------------------------------------------------------------------------

func TestStringAndArrayMethods(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Push(3, 1, 2, "hello", "substr").Op(OpCallMethod, OpTrace).
		Push(0, "hello", "toUpperCase").Op(OpCallMethod, OpTrace).
		Push("arr", 3, 2, 1, 3).Op(OpInitArray, OpSetVariable).
		Push("-", 1, "arr").Op(OpGetVariable).Push("join").Op(OpCallMethod, OpTrace).
		Push(4, 1, "arr").Op(OpGetVariable).Push("push").Op(OpCallMethod, OpTrace).
		Push("arr").Op(OpGetVariable).Push("length").Op(OpGetMember, OpTrace))
	wantTraces(t, host, "ell", "HELLO", "1-2-3", "4", "4")
}

func TestErrorObjects(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Push("bad input", 1, "Error").Op(OpNewObject).
		Push("message").Op(OpGetMember, OpTrace).
		Push(2, 1, 2, "Math").Op(OpGetVariable).Push("max").Op(OpCallMethod).
		Op(OpTrace))
	wantTraces(t, host, "bad input", "2")
}

func TestExternalInterfaceCall(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Push(5, "ping", 2, "flash").Op(OpGetVariable).
		Push("external").Op(OpGetMember).
		Push("ExternalInterface").Op(OpGetMember).
		Push("call").Op(OpCallMethod, OpTrace))
	if !slices.Equal(host.calls, []string{"ping"}) {
		t.Errorf("host calls = %q", host.calls)
	}
	wantTraces(t, host, "9")
}

func TestSetIntervalSchedulesThroughHost(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		DefineFunction("tick", nil, NewBuilder().Push("tick").Op(OpTrace)).
		Push(100, "tick").Op(OpGetVariable).
		Push(2, "setInterval").Op(OpCallFunction, OpTrace))
	if len(host.timers) != 1 {
		t.Fatalf("timers = %d, want 1", len(host.timers))
	}
	if _, err := m.Call(host.timers[0], avm.Undefined, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	wantTraces(t, host, "1", "tick")
}

// ---------------------------------------------------------------------------
// Clips
// ---------------------------------------------------------------------------

func TestTimelineControl(t *testing.T) {
	m, _ := newMachine(t, 7, Options{},
		&swf.ShowFrame{}, &swf.FrameLabel{Name: "two"}, &swf.ShowFrame{}, &swf.ShowFrame{})
	var ch display.Change
	m.Root.AdvanceFrame(&ch)

	run(t, m, NewBuilder().GotoFrame(2))
	tl := m.Root.Timeline()
	if tl.CurrentFrame() != 3 || tl.IsPlaying() {
		t.Errorf("after GotoFrame: frame %d playing %v, want 3 stopped", tl.CurrentFrame(), tl.IsPlaying())
	}
	run(t, m, NewBuilder().GotoLabel("two"))
	if tl.CurrentFrame() != 2 {
		t.Errorf("after GotoLabel: frame %d, want 2", tl.CurrentFrame())
	}
	run(t, m, NewBuilder().Push(1).GotoFrame2(true))
	if tl.CurrentFrame() != 1 || !tl.IsPlaying() {
		t.Errorf("after GotoFrame2: frame %d playing %v, want 1 playing", tl.CurrentFrame(), tl.IsPlaying())
	}
	run(t, m, NewBuilder().Op(OpStop))
	if tl.IsPlaying() {
		t.Error("Stop left the timeline playing")
	}
}

func TestCreateAndRemoveClip(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	h := m.Heap
	root := m.Bind(m.Root)
	child, err := m.CallMethod(root, "createEmptyMovieClip", []avm.Value{h.Str("child"), avm.Number(5)})
	if err != nil {
		t.Fatalf("createEmptyMovieClip: %v", err)
	}
	c := m.Root.ChildByName("child")
	if c == nil || c.Depth() != 5+display.DepthBias {
		t.Fatalf("child = %v", c)
	}
	if d, _ := m.CallMethod(child, "getDepth", nil); d != avm.Number(5) {
		t.Errorf("getDepth = %v, want 5", d)
	}
	if ch := m.TakeChanges(); len(ch.Added) != 1 {
		t.Errorf("Added = %d, want 1", len(ch.Added))
	}

	run(t, m, NewBuilder().
		Push("child").Op(OpGetVariable).Push("_name").Op(OpGetMember, OpTrace).
		Push("child").Op(OpGetVariable, OpTypeOf, OpTrace).
		Push("child").Op(OpGetVariable, OpTargetPath, OpTrace).
		Push("child", 0, 100).Op(OpSetProperty).
		Push("child", 0).Op(OpGetProperty, OpTrace))
	wantTraces(t, host, "child", "movieclip", "_level0.child", "100")

	if _, err := m.CallMethod(child, "removeMovieClip", nil); err != nil {
		t.Fatalf("removeMovieClip: %v", err)
	}
	if m.Root.NumChildren() != 0 {
		t.Errorf("NumChildren = %d after removal", m.Root.NumChildren())
	}
	if ch := m.TakeChanges(); len(ch.Removed) != 1 {
		t.Errorf("Removed = %d, want 1", len(ch.Removed))
	}
}

func TestDispatchEventCallsHandler(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().
		Push("onEnterFrame").
		DefineFunction("", nil, NewBuilder().Push("frame").Op(OpTrace)).
		Op(OpSetVariable))
	if err := m.DispatchEvent(m.Bind(m.Root), "enterFrame", nil); err != nil {
		t.Fatalf("DispatchEvent: %v", err)
	}
	if err := m.DispatchEvent(m.Bind(m.Root), "keyDown", nil); err != nil {
		t.Fatalf("DispatchEvent without handler: %v", err)
	}
	wantTraces(t, host, "frame")
}

func TestGetURL(t *testing.T) {
	m, host := newMachine(t, 7, Options{})
	run(t, m, NewBuilder().GetURL("http://example.com", "_blank"))
	if !slices.Equal(host.urls, []string{"http://example.com|_blank"}) {
		t.Errorf("urls = %q", host.urls)
	}
}

func TestHandlerName(t *testing.T) {
	tests := []struct{ kind, want string }{
		{"enterFrame", "onEnterFrame"},
		{"added", "onLoad"},
		{"removedFromStage", "onUnload"},
		{"custom", "onCustom"},
	}
	for _, tt := range tests {
		if got := HandlerName(tt.kind); got != tt.want {
			t.Errorf("HandlerName(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
