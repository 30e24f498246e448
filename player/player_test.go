package player

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/avm/avm1"
	"github.com/chazu/swfvm/avm/avm2"
	"github.com/chazu/swfvm/display"
	"github.com/chazu/swfvm/swf"
	"github.com/klauspost/compress/zlib"
)

func load(t *testing.T, b *swf.Builder, cfg Config) *Player {
	t.Helper()
	p, err := Load(b.Bytes(), cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func tick(t *testing.T, p *Player) *display.Snapshot {
	t.Helper()
	snap, err := p.Tick()
	if err != nil {
		t.Fatalf("Tick %d: %v", p.Ticks(), err)
	}
	return snap
}

// traces collects script output.
func traces(p *Player) *[]string {
	var out []string
	p.SetTraceObserver(func(s string) { out = append(out, s) })
	return &out
}

// kinds counts dispatched events of the given kinds.
func kinds(p *Player, want ...string) map[string]int {
	seen := make(map[string]int)
	p.SetEventObserver(func(ev Event) {
		if slices.Contains(want, ev.Kind) {
			seen[ev.Kind]++
		}
	})
	return seen
}

func wantTraces(t *testing.T, got *[]string, want ...string) {
	t.Helper()
	if !slices.Equal(*got, want) {
		t.Errorf("traces = %q, want %q", *got, want)
	}
}

func trace(s string) []byte {
	return avm1.NewBuilder().Push(s).Op(avm1.OpTrace).Bytes()
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

func TestPlaceAndRemoveAcrossTicks(t *testing.T) {
	b := swf.NewBuilder(8, 12, 3)
	b.DefineShape(1, swf.Rect{XMax: 200, YMax: 200})
	b.PlaceObject2(1, 1, false, nil, "box")
	b.ShowFrame()
	b.ShowFrame()
	b.RemoveObject2(1)
	b.ShowFrame()
	p := load(t, b, Config{})
	if p.State() != Loading {
		t.Fatalf("state after Load = %s", p.State())
	}

	seen := kinds(p, EventAdded, EventRemoved)
	wantEntries := []int{1, 1, 0}
	wantAdded := []int{1, 1, 1}
	wantRemoved := []int{0, 0, 1}
	for i := range 3 {
		snap := tick(t, p)
		if len(snap.Entries) != wantEntries[i] {
			t.Errorf("tick %d: %d entries, want %d", i+1, len(snap.Entries), wantEntries[i])
		}
		if seen[EventAdded] != wantAdded[i] || seen[EventRemoved] != wantRemoved[i] {
			t.Errorf("tick %d: added %d removed %d, want %d and %d",
				i+1, seen[EventAdded], seen[EventRemoved], wantAdded[i], wantRemoved[i])
		}
		if snap.Tick != uint64(i+1) || snap.Frame != i+1 {
			t.Errorf("tick %d: snapshot tick %d frame %d", i+1, snap.Tick, snap.Frame)
		}
	}
	if p.State() != Playing {
		t.Errorf("state = %s, want playing", p.State())
	}
	if got := p.Heap.LastStats().CollectionsRun; got != 3 {
		t.Errorf("collections = %d, want one per tick", got)
	}
}

func TestFrameScriptsRunInOrder(t *testing.T) {
	b := swf.NewBuilder(8, 12, 2)
	b.DoAction(trace("one"))
	b.DoAction(trace("two"))
	b.ShowFrame()
	b.DoAction(avm1.NewBuilder().Push("three").Op(avm1.OpTrace, avm1.OpStop).Bytes())
	b.ShowFrame()
	p := load(t, b, Config{})
	out := traces(p)

	for range 4 {
		tick(t, p)
	}
	wantTraces(t, out, "one", "two", "three")
	if f := p.Root.Timeline().CurrentFrame(); f != 2 {
		t.Errorf("frame = %d, want 2 after stop", f)
	}
}

func TestUncaughtEndsOnlyItsScript(t *testing.T) {
	b := swf.NewBuilder(8, 12, 1)
	b.DoAction(avm1.NewBuilder().Push("boom").Op(avm1.OpThrow).Push("unreached").Op(avm1.OpTrace).Bytes())
	b.DoAction(trace("after"))
	b.ShowFrame()
	p := load(t, b, Config{})
	out := traces(p)
	var errs []error
	var thrown []any
	p.OnUncaught(func(err error) {
		errs = append(errs, err)
		if v, ok := avm.Thrown(err); ok {
			thrown = append(thrown, p.ToGo(v))
		}
	})

	tick(t, p)
	wantTraces(t, out, "after")
	if len(errs) != 1 || !errors.Is(errs[0], avm.ErrUncaught) {
		t.Fatalf("uncaught = %v", errs)
	}
	if len(thrown) != 1 || thrown[0] != "boom" {
		t.Errorf("thrown = %v, want [boom]", thrown)
	}
}

func TestDestroyFromUncaughtHandler(t *testing.T) {
	b := swf.NewBuilder(8, 12, 1)
	b.DoAction(avm1.NewBuilder().Push("boom").Op(avm1.OpThrow).Bytes())
	b.DoAction(trace("after"))
	b.ShowFrame()
	p := load(t, b, Config{})
	out := traces(p)
	p.OnUncaught(func(error) { p.Destroy() })

	if _, err := p.Tick(); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Tick = %v, want ErrDestroyed", err)
	}
	wantTraces(t, out)
	if p.State() != Stopped {
		t.Errorf("state = %s", p.State())
	}
	if n := p.Heap.Live(); n != 0 {
		t.Errorf("%d objects survived destroy", n)
	}
	if _, err := p.Tick(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Tick = %v", err)
	}
	p.Destroy()
}

func TestPausedInputPolicies(t *testing.T) {
	tests := []struct {
		policy InputPolicy
		want   int
	}{
		{DeferInput, 1},
		{DropInput, 0},
	}
	for _, tt := range tests {
		b := swf.NewBuilder(8, 12, 3)
		b.ShowFrame()
		b.ShowFrame()
		b.ShowFrame()
		p := load(t, b, Config{PausedInput: tt.policy})
		seen := kinds(p, EventMouseDown)

		tick(t, p)
		p.Pause()
		if err := p.Input(Input{Kind: EventMouseDown, X: 3, Y: 4}); err != nil {
			t.Fatal(err)
		}
		tick(t, p)
		if f := p.Root.Timeline().CurrentFrame(); f != 1 {
			t.Errorf("policy %d: paused tick advanced to frame %d", tt.policy, f)
		}
		if seen[EventMouseDown] != 0 {
			t.Errorf("policy %d: input dispatched while paused", tt.policy)
		}

		p.Resume()
		tick(t, p)
		if seen[EventMouseDown] != tt.want {
			t.Errorf("policy %d: dispatched %d, want %d", tt.policy, seen[EventMouseDown], tt.want)
		}
		if f := p.Root.Timeline().CurrentFrame(); f != 2 {
			t.Errorf("policy %d: frame = %d after resume, want 2", tt.policy, f)
		}
	}
}

func TestParseInputPolicy(t *testing.T) {
	if p, err := ParseInputPolicy("drop"); err != nil || p != DropInput {
		t.Errorf("drop = %v, %v", p, err)
	}
	if p, err := ParseInputPolicy(""); err != nil || p != DeferInput {
		t.Errorf("empty = %v, %v", p, err)
	}
	if _, err := ParseInputPolicy("later"); err == nil {
		t.Error("unknown policy accepted")
	}
}

// ---------------------------------------------------------------------------
// Host surface
// ---------------------------------------------------------------------------

func TestTimersFireOnMovieTime(t *testing.T) {
	b := swf.NewBuilder(8, 10, 1)
	b.DoAction(avm1.NewBuilder().
		DefineFunction("tick", nil, avm1.NewBuilder().Push("tick").Op(avm1.OpTrace)).
		Push(100, "tick").Op(avm1.OpGetVariable).
		Push(2, "setInterval").Op(avm1.OpCallFunction, avm1.OpPop).
		Bytes())
	b.ShowFrame()
	p := load(t, b, Config{})
	out := traces(p)

	tick(t, p)
	if p.Timers() != 1 {
		t.Fatalf("timers = %d, want 1", p.Timers())
	}
	wantTraces(t, out)
	tick(t, p)
	tick(t, p)
	wantTraces(t, out, "tick", "tick")

	p.ClearTimer(1)
	tick(t, p)
	wantTraces(t, out, "tick", "tick")
}

func externalInterface(b *avm1.Builder, method string) *avm1.Builder {
	return b.Push("flash").Op(avm1.OpGetVariable).
		Push("external").Op(avm1.OpGetMember).
		Push("ExternalInterface").Op(avm1.OpGetMember).
		Push(method).Op(avm1.OpCallMethod)
}

func TestHostFunctionsAndExposedCallbacks(t *testing.T) {
	code := avm1.NewBuilder().
		DefineFunction("greet", []string{"who"}, avm1.NewBuilder().
			Push("hi ", "who").Op(avm1.OpGetVariable, avm1.OpAdd2, avm1.OpPushDuplicate, avm1.OpTrace, avm1.OpReturn)).
		Push("greet").Op(avm1.OpGetVariable).Push(avm1.Undef, "greet", 3)
	externalInterface(code, "addCallback").Op(avm1.OpPop)
	code.Push(2, "ping", 2)
	externalInterface(code, "call").Op(avm1.OpTrace)
	code.Push("reenter", 1)
	externalInterface(code, "call").Op(avm1.OpPop)

	b := swf.NewBuilder(8, 12, 1)
	b.DoAction(code.Bytes())
	b.ShowFrame()
	p := load(t, b, Config{})
	out := traces(p)

	var pinged []any
	p.RegisterHostFunction("ping", func(args []any) (any, error) {
		pinged = args
		return 40.0, nil
	})
	var queued []any
	p.RegisterHostFunction("reenter", func(args []any) (any, error) {
		v, err := p.CallExposedCallback("greet", "again")
		queued = append(queued, v, err)
		return nil, nil
	})

	tick(t, p)
	if len(pinged) != 1 || pinged[0] != 2.0 {
		t.Errorf("ping args = %v", pinged)
	}
	if len(queued) != 2 || queued[0] != nil || queued[1] != nil {
		t.Errorf("re-entrant call returned %v", queued)
	}
	wantTraces(t, out, "40")

	v, err := p.CallExposedCallback("greet", "shell")
	if err != nil || v != "hi shell" {
		t.Fatalf("CallExposedCallback = %v, %v", v, err)
	}
	tick(t, p)
	wantTraces(t, out, "40", "hi shell", "hi again")

	if _, err := p.CallExposedCallback("missing"); err == nil {
		t.Error("unknown callback succeeded")
	}
}

func TestValueConversions(t *testing.T) {
	b := swf.NewBuilder(8, 12, 1)
	b.ShowFrame()
	p := load(t, b, Config{})

	for _, x := range []any{true, 2.5, "text"} {
		if got := p.ToGo(p.ToValue(x)); got != x {
			t.Errorf("round trip of %v = %v", x, got)
		}
	}
	if p.ToGo(p.ToValue(7)) != 7.0 {
		t.Error("int did not become a number")
	}
	if p.ToGo(avm.Null) != nil || p.ToValue(nil) != avm.Undefined {
		t.Error("nil does not map to undefined")
	}
}

// ---------------------------------------------------------------------------
// Modern dialect
// ---------------------------------------------------------------------------

// documentClass assembles a Main class extending MovieClip whose
// constructor traces and registers a script for frame 1.
func documentClass() []byte {
	a := avm2.NewAssembler()
	trace := a.Public("trace")
	main := a.Public("Main")
	clip := a.QName(a.Package("flash.display"), "MovieClip")

	empty := a.Method(avm2.AsmMethod{Code: (&avm2.Code{}).Op(avm2.OpReturnVoid).Bytes(), Locals: 1})
	frame1 := a.Method(avm2.AsmMethod{Code: (&avm2.Code{}).
		Op(avm2.OpFindPropStrict, trace).Op(avm2.OpPushString, a.String("frame1")).
		Op(avm2.OpCallPropVoid, trace, 1).
		Op(avm2.OpReturnVoid).Bytes(), Locals: 1})
	ctor := a.Method(avm2.AsmMethod{Code: (&avm2.Code{}).
		Op(avm2.OpGetLocal0).Op(avm2.OpConstructSuper, 0).
		Op(avm2.OpFindPropStrict, trace).Op(avm2.OpPushString, a.String("constructed")).
		Op(avm2.OpCallPropVoid, trace, 1).
		Op(avm2.OpGetLocal0).Op(avm2.OpPushByte, 0).Op(avm2.OpNewFunction, frame1).
		Op(avm2.OpCallPropVoid, a.Public("addFrameScript"), 2).
		Op(avm2.OpReturnVoid).Bytes(), Locals: 1})

	a.Class(avm2.AsmClass{Name: main, Super: clip, IInit: ctor, CInit: empty})
	init := a.Method(avm2.AsmMethod{Code: (&avm2.Code{}).
		Op(avm2.OpGetLocal0).Op(avm2.OpPushScope).
		Op(avm2.OpGetScopeObject, 0).
		Op(avm2.OpGetLex, clip).Op(avm2.OpNewClass, 0).
		Op(avm2.OpInitProperty, main).
		Op(avm2.OpReturnVoid).Bytes(), Locals: 1})
	a.Script(init, avm2.TraitInfo{Name: main, Kind: avm.TraitClass, Index: 0})
	return a.Bytes()
}

func TestDocumentClassConstructsOnFirstTick(t *testing.T) {
	b := swf.NewBuilder(10, 24, 1)
	b.FileAttributes(swf.AttrActionScript3)
	b.DoABC("main", documentClass())
	b.SymbolClass(swf.Asset{ID: 0, Name: "Main"})
	b.ShowFrame()
	p := load(t, b, Config{})
	if !p.ActionScript3() {
		t.Fatal("movie not recognized as modern dialect")
	}
	out := traces(p)
	var errs []error
	p.OnUncaught(func(err error) { errs = append(errs, err) })

	tick(t, p)
	tick(t, p)
	if len(errs) > 0 {
		t.Fatalf("uncaught: %v", errs)
	}
	wantTraces(t, out, "constructed", "frame1")
	if !p.Root.Script().IsObject() {
		t.Error("root not bound to its document class")
	}
}

func TestVerifyErrorRefusesMovie(t *testing.T) {
	b := swf.NewBuilder(10, 24, 1)
	b.FileAttributes(swf.AttrActionScript3)
	b.DoABC("bad", []byte{0x10, 0x00, 0x2e, 0x00, 0x07})
	b.ShowFrame()
	if _, err := Load(b.Bytes(), Config{}); !errors.Is(err, avm.ErrVerify) {
		t.Errorf("Load = %v, want a verify error", err)
	}
}

// ---------------------------------------------------------------------------
// Bitmaps
// ---------------------------------------------------------------------------

func deflate(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeLossless(t *testing.T) {
	tests := []struct {
		name string
		tag  swf.DefineBitsLossless
		raw  []byte
		want []byte
	}{
		{
			"rgb32",
			swf.DefineBitsLossless{Version: 1, Format: bitmapRGB32, Width: 2, Height: 1},
			[]byte{0, 255, 0, 0, 0, 0, 0, 255},
			[]byte{255, 0, 0, 255, 0, 0, 255, 255},
		},
		{
			"argb32",
			swf.DefineBitsLossless{Version: 2, Format: bitmapRGB32, Width: 1, Height: 1},
			[]byte{128, 10, 20, 30},
			[]byte{10, 20, 30, 128},
		},
		{
			"colormapped with padding",
			swf.DefineBitsLossless{Version: 2, Format: bitmapColormapped, Width: 1, Height: 2, ColorTableSize: 1},
			[]byte{1, 2, 3, 4, 5, 6, 7, 8, 1, 0, 0, 0, 0, 0, 0, 0},
			[]byte{5, 6, 7, 8, 1, 2, 3, 4},
		},
		{
			"rgb15",
			swf.DefineBitsLossless{Version: 1, Format: bitmapRGB15, Width: 1, Height: 1},
			[]byte{0x7c, 0x00, 0, 0},
			[]byte{255, 0, 0, 255},
		},
	}
	for _, tt := range tests {
		tag := tt.tag
		tag.ZlibData = deflate(t, tt.raw)
		got, err := decodeLossless(&tag)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: pixels = %v, want %v", tt.name, got, tt.want)
		}
	}

	short := swf.DefineBitsLossless{Format: bitmapRGB32, Width: 4, Height: 4, ZlibData: deflate(t, []byte{1, 2, 3})}
	if _, err := decodeLossless(&short); err == nil {
		t.Error("truncated bitmap decoded")
	}
	odd := swf.DefineBitsLossless{Format: 9, Width: 1, Height: 1}
	if _, err := decodeLossless(&odd); err == nil {
		t.Error("unknown format decoded")
	}
}

func TestBitmapDecodeCompletesAsEvent(t *testing.T) {
	var payload []byte
	payload = binary.LittleEndian.AppendUint16(payload, 7)
	payload = append(payload, bitmapRGB32)
	payload = binary.LittleEndian.AppendUint16(payload, 1)
	payload = binary.LittleEndian.AppendUint16(payload, 1)
	payload = append(payload, deflate(t, []byte{0, 1, 2, 3})...)

	b := swf.NewBuilder(8, 12, 1)
	b.Tag(swf.TagDefineBitsLossless, payload)
	b.ShowFrame()
	p := load(t, b, Config{DecodeWorkers: 2})
	seen := kinds(p, EventComplete)

	for i := 0; i < 500 && seen[EventComplete] == 0; i++ {
		tick(t, p)
		time.Sleep(time.Millisecond)
	}
	if seen[EventComplete] != 1 {
		t.Fatalf("complete events = %d, want 1", seen[EventComplete])
	}
	c, _ := p.Root.Library().Character(7)
	if def := c.(*display.BitmapDef); !bytes.Equal(def.Pixels, []byte{1, 2, 3, 255}) {
		t.Errorf("pixels = %v", def.Pixels)
	}
}

// ---------------------------------------------------------------------------
// Worker and registry
// ---------------------------------------------------------------------------

func TestWorkerSerializesCalls(t *testing.T) {
	b := swf.NewBuilder(8, 12, 2)
	b.ShowFrame()
	b.ShowFrame()
	p := load(t, b, Config{})
	w := NewWorker(p)

	snap, err := w.Tick()
	if err != nil || snap == nil || snap.Tick != 1 {
		t.Fatalf("Tick = %v, %v", snap, err)
	}
	v, err := w.Do(func(p *Player) (any, error) { return p.Root.Timeline().CurrentFrame(), nil })
	if err != nil || v != 1 {
		t.Errorf("Do = %v, %v", v, err)
	}
	if _, err := w.Do(func(*Player) (any, error) { panic("boom") }); err == nil {
		t.Error("panic was not reported")
	}

	w.Stop()
	if _, err := w.Do(func(*Player) (any, error) { return nil, nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop = %v", err)
	}
	if w.Player() != p {
		t.Error("Player() returned another instance")
	}
}

func TestRegistryIsolatesInstances(t *testing.T) {
	b := swf.NewBuilder(8, 12, 1)
	b.DoAction(trace("hello"))
	b.ShowFrame()

	r := NewRegistry()
	a, err := r.Load(b.Bytes(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.Load(b.Bytes(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == c.ID || a.Heap == c.Heap {
		t.Fatal("instances share identity or heap")
	}
	if len(r.List()) != 2 {
		t.Errorf("List = %d players", len(r.List()))
	}

	outA, outC := traces(a), traces(c)
	tick(t, a)
	wantTraces(t, outA, "hello")
	wantTraces(t, outC)

	r.Destroy(a.ID)
	if _, ok := r.Get(a.ID); ok {
		t.Error("destroyed instance still registered")
	}
	if a.State() != Stopped {
		t.Errorf("state = %s", a.State())
	}
	if got, ok := r.Get(c.ID); !ok || got != c {
		t.Error("surviving instance lost")
	}
	tick(t, c)
	wantTraces(t, outC, "hello")
}

func TestBadContainerIsFatal(t *testing.T) {
	if _, err := Load([]byte("XWS\x08"), Config{}); err == nil {
		t.Error("bad signature loaded")
	}
}
