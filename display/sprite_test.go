package display

import (
	"math"
	"testing"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/swf"
)

func place(depth, char uint16, name string, tx int32) *swf.PlaceObject {
	return &swf.PlaceObject{
		Version:      2,
		Depth:        depth,
		HasCharacter: true,
		CharacterID:  char,
		Matrix:       &swf.Matrix{ScaleX: 1, ScaleY: 1, TranslateX: tx},
		Name:         name,
		HasName:      name != "",
	}
}

func move(depth uint16, tx int32) *swf.PlaceObject {
	return &swf.PlaceObject{
		Version: 2,
		Depth:   depth,
		Move:    true,
		Matrix:  &swf.Matrix{ScaleX: 1, ScaleY: 1, TranslateX: tx},
	}
}

func replace(depth, char uint16) *swf.PlaceObject {
	return &swf.PlaceObject{Version: 2, Depth: depth, Move: true, HasCharacter: true, CharacterID: char}
}

func remove(depth uint16) *swf.RemoveObject {
	return &swf.RemoveObject{Version: 2, Depth: depth}
}

func action(b byte) *swf.DoAction {
	return &swf.DoAction{Actions: []byte{b, 0}}
}

var show = &swf.ShowFrame{}

// newLibrary defines shapes 1 and 2 and sprite 3, which holds shape 1 as
// "inner" at depth 1, offset by 20 twips.
func newLibrary() *Library {
	lib := NewLibrary()
	lib.Define([]swf.Tag{
		&swf.DefineShape{ID: 1},
		&swf.DefineShape{ID: 2},
		&swf.DefineSprite{ID: 3, FrameCount: 1, Tags: []swf.Tag{place(1, 1, "inner", 20), show}},
	})
	return lib
}

func newRoot(frames int, tags ...swf.Tag) *Sprite {
	return newLibrary().NewRoot(tags, frames)
}

func wantFrame(t *testing.T, s *Sprite, want int) {
	t.Helper()
	if got := s.Timeline().CurrentFrame(); got != want {
		t.Fatalf("current frame = %d, want %d", got, want)
	}
}

// ---------------------------------------------------------------------------
// Timeline
// ---------------------------------------------------------------------------

func TestTimelineSplitsFrames(t *testing.T) {
	tl := NewTimeline([]swf.Tag{
		place(1, 1, "a", 0), show,
		&swf.FrameLabel{Name: "mid"}, action(1), show,
		&swf.FrameLabel{Name: "end"}, show,
		&swf.FrameLabel{Name: "gone"}, show,
	}, 3)

	if tl.FrameCount() != 3 {
		t.Fatalf("FrameCount = %d, want 3", tl.FrameCount())
	}
	if len(tl.tags(1)) != 1 || len(tl.tags(2)) != 1 || len(tl.tags(3)) != 0 {
		t.Errorf("frame sizes = %d %d %d, want 1 1 0", len(tl.tags(1)), len(tl.tags(2)), len(tl.tags(3)))
	}
	if f, ok := tl.FrameForLabel("mid"); !ok || f != 2 {
		t.Errorf("FrameForLabel(mid) = %d, %v; want 2", f, ok)
	}
	if tl.LabelOf(3) != "end" {
		t.Errorf("LabelOf(3) = %q, want end", tl.LabelOf(3))
	}
	if _, ok := tl.FrameForLabel("gone"); ok {
		t.Error("label past the declared frame count was kept")
	}
	if tl.Started() {
		t.Error("new timeline reports started")
	}
}

func TestTimelinePadsMissingFrames(t *testing.T) {
	tl := NewTimeline([]swf.Tag{show}, 4)
	if tl.FrameCount() != 4 {
		t.Errorf("FrameCount = %d, want 4", tl.FrameCount())
	}
}

// ---------------------------------------------------------------------------
// Frame advance
// ---------------------------------------------------------------------------

func TestAdvanceRunsFirstFrameThenLoops(t *testing.T) {
	root := newRoot(2, place(1, 1, "a", 0), show, remove(1), show)

	var ch Change
	root.Advance(&ch)
	wantFrame(t, root, 1)
	if root.NumChildren() != 1 || len(ch.Added) != 1 || ch.Added[0].Name() != "a" {
		t.Fatalf("after frame 1: %d children, added %v", root.NumChildren(), ch.Added)
	}
	first := root.ChildAt(0).ID()

	ch = Change{}
	root.Advance(&ch)
	wantFrame(t, root, 2)
	if root.NumChildren() != 0 || len(ch.Removed) != 1 {
		t.Fatalf("after frame 2: %d children, removed %d", root.NumChildren(), len(ch.Removed))
	}

	ch = Change{}
	root.Advance(&ch)
	wantFrame(t, root, 1)
	if root.NumChildren() != 1 {
		t.Fatalf("after wrap: %d children, want 1", root.NumChildren())
	}
	if root.ChildAt(0).ID() == first {
		t.Error("wrap reused the removed instance")
	}
}

func TestStoppedTimelineHolds(t *testing.T) {
	root := newRoot(3, show, show, show)
	var ch Change
	root.Advance(&ch)
	root.Timeline().Stop()
	root.Advance(&ch)
	root.Advance(&ch)
	wantFrame(t, root, 1)

	root.Timeline().Play()
	root.Advance(&ch)
	wantFrame(t, root, 2)
}

func TestSingleFrameDoesNotLoop(t *testing.T) {
	root := newRoot(1, action(1), show)
	var ch Change
	root.Advance(&ch)
	root.Advance(&ch)
	root.Advance(&ch)
	if len(ch.Scripts) != 1 {
		t.Errorf("frame 1 scripts ran %d times, want 1", len(ch.Scripts))
	}
}

func TestNestedSpriteRunsFirstFrameOnPlacement(t *testing.T) {
	root := newRoot(1, place(1, 3, "clip", 100), show)
	var ch Change
	root.Advance(&ch)

	clip, ok := root.ChildByName("clip").(*Sprite)
	if !ok {
		t.Fatal("clip is not a sprite")
	}
	wantFrame(t, clip, 1)
	if clip.ChildByName("inner") == nil {
		t.Fatal("nested sprite did not run its first frame")
	}
	if len(ch.Added) != 2 || ch.Added[0] != Object(clip) {
		t.Errorf("Added = %v, want parent before child", ch.Added)
	}
}

func TestPlaceModes(t *testing.T) {
	root := newRoot(4,
		place(1, 1, "a", 20), show,
		move(1, 40), place(1, 2, "dup", 0), show,
		replace(1, 2), show,
		move(7, 99), show,
	)
	var ch Change

	root.Advance(&ch)
	a := root.ChildAtDepth(1)
	if a.Matrix().TranslateX != 20 {
		t.Errorf("placed tx = %d, want 20", a.Matrix().TranslateX)
	}

	root.Advance(&ch)
	if root.ChildAtDepth(1) != a {
		t.Fatal("add at an occupied depth replaced the occupant")
	}
	if a.Matrix().TranslateX != 40 {
		t.Errorf("moved tx = %d, want 40", a.Matrix().TranslateX)
	}

	root.Advance(&ch)
	b := root.ChildAtDepth(1)
	if b == a || b.Character() != 2 {
		t.Fatalf("replace kept character %d", b.Character())
	}
	if b.Matrix().TranslateX != 40 || b.Name() != "a" {
		t.Errorf("replacement = tx %d name %q, want inherited tx 40 name a", b.Matrix().TranslateX, b.Name())
	}

	root.Advance(&ch)
	if root.NumChildren() != 1 {
		t.Errorf("modify of an empty depth created a child")
	}
}

func TestUnnamedPlacementGetsInstanceName(t *testing.T) {
	root := newRoot(1, place(1, 1, "", 0), show)
	var ch Change
	root.Advance(&ch)
	c := root.ChildAt(0)
	if c.Name() == "" {
		t.Error("placed child has no name")
	}
	if Path(c) != "/"+c.Name() {
		t.Errorf("Path = %q", Path(c))
	}
	if Path(root) != "/" {
		t.Errorf("root path = %q, want /", Path(root))
	}
}

// ---------------------------------------------------------------------------
// Seeking
// ---------------------------------------------------------------------------

func TestGotoForwardRunsOnlyTargetScripts(t *testing.T) {
	root := newRoot(3,
		action(1), show,
		place(2, 1, "b", 0), action(2), show,
		action(3), show,
	)
	var ch Change
	root.Advance(&ch)

	ch = Change{}
	root.Goto(3, &ch)
	wantFrame(t, root, 3)
	if len(ch.Scripts) != 1 || ch.Scripts[0].Frame != 3 {
		t.Fatalf("Scripts = %+v, want only frame 3", ch.Scripts)
	}
	if root.ChildByName("b") == nil {
		t.Error("skipped frame's placement was not applied")
	}
}

func TestGotoBackwardRebuildsPlacements(t *testing.T) {
	root := newRoot(3,
		place(1, 1, "a", 20), show,
		move(1, 60), place(2, 2, "b", 0), show,
		show,
	)
	var ch Change
	root.Advance(&ch)
	a := root.ChildAtDepth(1)
	root.Goto(3, &ch)

	ch = Change{}
	root.Goto(1, &ch)
	wantFrame(t, root, 1)
	if root.ChildAtDepth(1) != a {
		t.Error("backward seek recreated a child whose character did not change")
	}
	if a.Matrix().TranslateX != 20 {
		t.Errorf("tx = %d, want 20 restored", a.Matrix().TranslateX)
	}
	if root.ChildByName("b") != nil || len(ch.Removed) != 1 || ch.Removed[0].Name() != "b" {
		t.Errorf("b not removed: Removed = %v", ch.Removed)
	}
}

func TestGotoClampsAndLabels(t *testing.T) {
	root := newRoot(3, show, &swf.FrameLabel{Name: "two"}, show, show)
	var ch Change
	root.Advance(&ch)

	root.Goto(99, &ch)
	wantFrame(t, root, 3)
	if !root.GotoLabel("two", &ch) {
		t.Fatal("GotoLabel(two) = false")
	}
	wantFrame(t, root, 2)
	if root.GotoLabel("nowhere", &ch) {
		t.Error("GotoLabel of an unknown label succeeded")
	}
	wantFrame(t, root, 2)
}

func TestScriptPlacedChildrenSurviveBackwardSeek(t *testing.T) {
	root := newRoot(2, show, show)
	var ch Change
	root.Advance(&ch)
	root.Advance(&ch)

	kid := root.Library().NewEmptySprite()
	if err := root.AddChild(kid, DepthBias, &ch); err != nil {
		t.Fatal(err)
	}
	root.Goto(1, &ch)
	if kid.Parent() != root {
		t.Error("script child removed by a backward seek")
	}
}

func TestFrameScriptCallable(t *testing.T) {
	root := newRoot(2, show, show)
	root.SetFrameScript(2, avm.True)

	var ch Change
	root.Advance(&ch)
	if len(ch.Scripts) != 0 {
		t.Fatalf("frame 1 reported %d scripts", len(ch.Scripts))
	}
	root.Advance(&ch)
	if len(ch.Scripts) != 1 || ch.Scripts[0].Callable != avm.True || ch.Scripts[0].Target != root {
		t.Fatalf("Scripts = %+v", ch.Scripts)
	}

	root.SetFrameScript(2, avm.Undefined)
	if _, ok := root.FrameScript(2); ok {
		t.Error("undefined did not clear the frame script")
	}
}

// ---------------------------------------------------------------------------
// Script child operations
// ---------------------------------------------------------------------------

func TestScriptChildOperations(t *testing.T) {
	lib := newLibrary()
	root := lib.NewRoot(nil, 1)
	var ch Change

	a, b := lib.NewShape(), lib.NewShape()
	if root.NextHighestDepth() != 0 {
		t.Errorf("NextHighestDepth of empty sprite = %d", root.NextHighestDepth())
	}
	root.AddChild(a, 5, &ch)
	root.AddChild(b, 2, &ch)
	if root.ChildAt(0) != Object(b) || root.NextHighestDepth() != 6 {
		t.Fatalf("depth order wrong, next depth %d", root.NextHighestDepth())
	}

	root.SwapDepths(b, 5)
	if a.Depth() != 2 || b.Depth() != 5 || root.ChildAt(0) != Object(a) {
		t.Errorf("after swap: a@%d b@%d", a.Depth(), b.Depth())
	}

	c := lib.NewShape()
	ch = Change{}
	root.AddChild(c, 5, &ch)
	if b.Parent() != nil || len(ch.Removed) != 1 || ch.Removed[0] != Object(b) {
		t.Errorf("occupant of depth 5 not evicted: Removed = %v", ch.Removed)
	}

	if !root.RemoveChild(a, &ch) || root.RemoveChild(a, &ch) {
		t.Error("RemoveChild should succeed once")
	}
	if root.IndexOf(a) != -1 || root.NumChildren() != 1 {
		t.Errorf("IndexOf(a) = %d, %d children", root.IndexOf(a), root.NumChildren())
	}
}

func TestAddChildReparents(t *testing.T) {
	lib := newLibrary()
	root := lib.NewRoot(nil, 1)
	box := lib.NewEmptySprite()
	s := lib.NewShape()
	var ch Change

	root.AddChild(box, 0, &ch)
	root.AddChild(s, 1, &ch)
	box.AddChild(s, 0, &ch)
	if s.Parent() != box || root.NumChildren() != 1 {
		t.Errorf("reparent left shape under %v, root has %d children", s.Parent(), root.NumChildren())
	}
	if got := Ancestors(s); len(got) != 2 || got[0] != box || got[1] != root {
		t.Errorf("Ancestors = %v", got)
	}

	if err := box.AddChild(root, 3, &ch); err == nil {
		t.Error("adding an ancestor as a child succeeded")
	}
	if err := box.AddChild(box, 3, &ch); err == nil {
		t.Error("adding a sprite to itself succeeded")
	}
}

func TestRemovedListsDescendants(t *testing.T) {
	root := newRoot(2, place(1, 3, "clip", 0), show, remove(1), show)
	var ch Change
	root.Advance(&ch)

	ch = Change{}
	root.Advance(&ch)
	if len(ch.Removed) != 2 || ch.Removed[0].Name() != "clip" || ch.Removed[1].Name() != "inner" {
		t.Errorf("Removed = %v, want clip then inner", ch.Removed)
	}
}

func TestTimelineRemoveSkipsScriptChildren(t *testing.T) {
	root := newRoot(2, show, remove(1), show)
	var ch Change
	root.Advance(&ch)
	s := root.Library().NewShape()
	root.AddChild(s, 1, &ch)
	root.Advance(&ch)
	if s.Parent() != root {
		t.Error("timeline RemoveObject removed a script child")
	}
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

func TestSnapshotWorldTransforms(t *testing.T) {
	root := newRoot(1, place(1, 3, "clip", 100), place(2, 2, "top", 0), show)
	var ch Change
	root.Advance(&ch)

	snap := TakeSnapshot(root)
	if snap.Frame != 1 || len(snap.Entries) != 3 {
		t.Fatalf("snapshot frame %d with %d entries", snap.Frame, len(snap.Entries))
	}
	names := []string{snap.Entries[0].Name, snap.Entries[1].Name, snap.Entries[2].Name}
	if names[0] != "clip" || names[1] != "inner" || names[2] != "top" {
		t.Fatalf("render order = %v", names)
	}
	inner := snap.Entries[1]
	if inner.Level != 1 || inner.Matrix.TranslateX != 120 {
		t.Errorf("inner level %d tx %d, want 1 and 120", inner.Level, inner.Matrix.TranslateX)
	}
	if aff := inner.Aff3(); aff[2] != 6 || aff[0] != 1 {
		t.Errorf("Aff3 = %v, want translation of 6 px", aff)
	}

	root.ChildByName("clip").SetVisible(false)
	snap = TakeSnapshot(root)
	if snap.Entries[0].Visible || snap.Entries[1].Visible || !snap.Entries[2].Visible {
		t.Errorf("visibility = %v %v %v, want false false true",
			snap.Entries[0].Visible, snap.Entries[1].Visible, snap.Entries[2].Visible)
	}
}

func TestSnapshotEncodingIsCanonical(t *testing.T) {
	root := newRoot(1, place(1, 3, "clip", 100), show)
	var ch Change
	root.Advance(&ch)
	snap := TakeSnapshot(root)
	snap.Tick = 7

	a, err := MarshalSnapshot(&snap)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := MarshalSnapshot(&snap)
	if string(a) != string(b) {
		t.Error("equal snapshots encoded differently")
	}
	back, err := UnmarshalSnapshot(a)
	if err != nil {
		t.Fatal(err)
	}
	if back.Tick != 7 || len(back.Entries) != 2 || back.Entries[1].Name != "inner" {
		t.Errorf("decoded %+v", back)
	}
	if _, err := UnmarshalSnapshot([]byte{0xff}); err == nil {
		t.Error("garbage decoded without error")
	}
}

func TestScaleRotationRoundTrip(t *testing.T) {
	m := WithScaleRotation(swf.Matrix{TranslateX: 40}, 2, 3, math.Pi/6)
	sx, sy, rot := ScaleRotation(m)
	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
	if !near(sx, 2) || !near(sy, 3) || !near(rot, math.Pi/6) {
		t.Errorf("ScaleRotation = %v %v %v", sx, sy, rot)
	}
	if m.TranslateX != 40 {
		t.Errorf("translation lost: %d", m.TranslateX)
	}
}
