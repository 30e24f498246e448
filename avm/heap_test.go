package avm

import (
	"errors"
	"testing"
)

func TestDynamicSetGet(t *testing.T) {
	h := NewHeap()
	o := h.NewObject(Null)
	if err := h.Set(o, "x", Number(1)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := h.Get(o, "x"); got != Number(1) {
		t.Errorf("Get(x) = %v, want 1", got)
	}
	if got := h.Get(o, "missing"); got != Undefined {
		t.Errorf("Get(missing) = %v, want undefined", got)
	}
}

func TestPrototypeChain(t *testing.T) {
	h := NewHeap()
	proto := h.NewObject(Null)
	proto.Define("greeting", h.Str("hi"), 0)
	child := h.NewObject(proto.Value())

	s, _ := h.StringOf(h.Get(child, "greeting"))
	if s != "hi" {
		t.Errorf("inherited greeting = %q", s)
	}
	h.Set(child, "greeting", h.Str("own"))
	s, _ = h.StringOf(h.Get(child, "greeting"))
	if s != "own" {
		t.Errorf("shadowed greeting = %q", s)
	}
	s, _ = h.StringOf(h.Get(proto, "greeting"))
	if s != "hi" {
		t.Errorf("prototype modified: %q", s)
	}
	if !h.InstanceOf(child, proto) {
		t.Error("InstanceOf = false")
	}
}

func TestPropertyAttributes(t *testing.T) {
	h := NewHeap()
	o := h.NewObject(Null)
	o.Define("fixed", Number(1), ReadOnly|DontDelete)
	o.Define("hidden", Number(2), DontEnum)
	o.Define("plain", Number(3), 0)

	if err := h.Set(o, "fixed", Number(9)); err != nil {
		t.Errorf("Set on ReadOnly: %v", err)
	}
	if h.Get(o, "fixed") != Number(1) {
		t.Error("ReadOnly property was overwritten")
	}
	if h.Delete(o, "fixed") {
		t.Error("DontDelete property was deleted")
	}
	keys := o.Keys()
	if len(keys) != 2 || keys[0] != "fixed" || keys[1] != "plain" {
		t.Errorf("Keys = %v, want [fixed plain]", keys)
	}
	if !h.Delete(o, "plain") || h.Has(o, "plain") {
		t.Error("plain property not deleted")
	}
}

func TestSealedInstanceRefusesNewKeys(t *testing.T) {
	h := NewHeap()
	c := NewClass("Point", nil, ClassSealed)
	c.AddTrait(&Trait{Local: "x", Kind: TraitSlot})
	c.AddTrait(&Trait{Local: "origin", Kind: TraitConst})
	if err := c.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	o := &Object{Layout: LayoutClass, Class: c, Slots: make([]Value, c.SlotCount), Proto: Null}
	h.Alloc(o)

	if err := h.Set(o, "x", Number(4)); err != nil {
		t.Fatalf("Set declared slot: %v", err)
	}
	if h.Get(o, "x") != Number(4) {
		t.Error("slot value not stored")
	}
	err := h.Set(o, "y", Number(1))
	if !errors.Is(err, ErrPropertyNotWritable) {
		t.Errorf("Set undeclared = %v, want ErrPropertyNotWritable", err)
	}
	if err := h.Set(o, "origin", Number(0)); !errors.Is(err, ErrPropertyNotWritable) {
		t.Errorf("Set const = %v, want ErrPropertyNotWritable", err)
	}
	if !Catchable(err) {
		t.Error("PropertyNotWritable should be catchable")
	}
}

func TestDynamicClassAcceptsNewKeys(t *testing.T) {
	h := NewHeap()
	c := NewClass("Bag", nil, 0)
	if err := c.Link(); err != nil {
		t.Fatal(err)
	}
	o := &Object{Layout: LayoutClass, Class: c, Proto: Null}
	h.Alloc(o)
	if err := h.Set(o, "anything", True); err != nil {
		t.Errorf("Set on dynamic class: %v", err)
	}
}

func TestCycleCollection(t *testing.T) {
	h := NewHeap()
	a := h.NewObject(Null)
	b := h.NewObject(Null)
	a.Define("peer", b.Value(), 0)
	b.Define("peer", a.Value(), 0)
	av := a.Value()

	stats := h.Collect()
	if stats.SweptObjects != 2 {
		t.Errorf("swept %d objects, want 2", stats.SweptObjects)
	}
	if h.Live() != 0 {
		t.Errorf("Live = %d, want 0", h.Live())
	}
	if h.Deref(av) != nil {
		t.Error("stale reference still resolves")
	}
	if a.Alive() {
		t.Error("collected object reports alive")
	}
}

func TestRootsKeepObjectsAlive(t *testing.T) {
	h := NewHeap()
	global := h.NewObject(Null)
	kept := h.NewObject(Null)
	global.Define("kept", kept.Value(), 0)
	global.Define("name", h.Str("retained"), 0)
	h.NewObject(Null) // garbage
	h.Str("garbage string")

	remove := h.AddRoot(func(m *Marker) { m.Mark(global.Value()) })
	stats := h.Collect()
	if stats.SweptObjects != 1 || h.Live() != 2 {
		t.Errorf("swept %d, live %d; want 1, 2", stats.SweptObjects, h.Live())
	}
	if stats.SweptStrings != 1 {
		t.Errorf("swept strings = %d, want 1", stats.SweptStrings)
	}
	s, ok := h.StringOf(h.Get(global, "name"))
	if !ok || s != "retained" {
		t.Errorf("rooted string = %q, %v", s, ok)
	}

	remove()
	h.Collect()
	if h.Live() != 0 {
		t.Errorf("Live after removing root = %d, want 0", h.Live())
	}
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	h := NewHeap()
	old := h.NewObject(Null).Value()
	h.Collect()
	fresh := h.NewObject(Null)
	if fresh.Ref().index() != old.Ref().index() {
		t.Fatalf("slot not reused")
	}
	if h.Deref(old) != nil {
		t.Error("old reference aliases the new occupant")
	}
	if h.Deref(fresh.Value()) != fresh {
		t.Error("fresh reference does not resolve")
	}
}

func TestStringInterning(t *testing.T) {
	h := NewHeap()
	a := h.Str("hello")
	b := h.Str("hello")
	if a != b {
		t.Error("equal strings interned twice")
	}
	if h.LiveStrings() != 1 {
		t.Errorf("LiveStrings = %d, want 1", h.LiveStrings())
	}
	h.Collect()
	if _, ok := h.StringOf(a); ok {
		t.Error("unrooted string survived collection")
	}
}

func TestListenersAreTraced(t *testing.T) {
	h := NewHeap()
	target := h.NewObject(Null)
	fn := h.NewNative("onTick", Null, func(this Value, args []Value) (Value, error) { return Undefined, nil })
	target.AddListener("tick", fn.Value())
	target.AddListener("tick", fn.Value())
	if len(target.Listeners("tick")) != 1 {
		t.Error("duplicate listener registered")
	}
	h.AddRoot(func(m *Marker) { m.MarkObject(target) })
	h.Collect()
	if !fn.Alive() {
		t.Error("listener collected while target is rooted")
	}
}

func TestLooseAndStrictEquality(t *testing.T) {
	h := NewHeap()
	five := h.Str("5")
	eq, err := h.LooseEquals(five, Number(5))
	if err != nil || !eq {
		t.Errorf(`"5" == 5 = %v, %v; want true`, eq, err)
	}
	if h.StrictEquals(five, Number(5)) {
		t.Error(`"5" === 5 = true, want false`)
	}
	if eq, _ := h.LooseEquals(Null, Undefined); !eq {
		t.Error("null == undefined = false")
	}
	if eq, _ := h.LooseEquals(True, Number(1)); !eq {
		t.Error("true == 1 = false")
	}
	if eq, _ := h.LooseEquals(Number(0), Null); eq {
		t.Error("0 == null = true")
	}
	nan := Number(0)
	nan = Number(nan.Float64() / nan.Float64())
	if h.StrictEquals(nan, nan) {
		t.Error("NaN === NaN = true")
	}
}

func TestToBooleanAndTypeOf(t *testing.T) {
	h := NewHeap()
	tests := []struct {
		v    Value
		want bool
	}{
		{Undefined, false},
		{Null, false},
		{Number(0), false},
		{Number(-2), true},
		{h.Str(""), false},
		{h.Str("0"), true},
		{h.NewObject(Null).Value(), true},
	}
	for _, tt := range tests {
		if got := h.ToBoolean(tt.v); got != tt.want {
			t.Errorf("ToBoolean(%#x) = %v, want %v", uint64(tt.v), got, tt.want)
		}
	}
	fn := h.NewNative("f", Null, nil)
	if h.TypeOf(fn.Value()) != "function" || h.TypeOf(Null) != "object" || h.TypeOf(h.Str("")) != "string" {
		t.Error("TypeOf wrong")
	}
}
