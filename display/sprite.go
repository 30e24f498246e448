package display

import (
	"fmt"
	"slices"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/swf"
)

// Sprite is a container with its own timeline. Children are kept sorted
// by depth; at most one child occupies a depth.
type Sprite struct {
	Base
	lib      *Library
	timeline *Timeline
	children []Object

	frameScripts map[int]avm.Value
}

func newSprite(lib *Library, id ID, character uint16, tl *Timeline) *Sprite {
	return &Sprite{Base: newBase(id, character), lib: lib, timeline: tl}
}

func (s *Sprite) Kind() Kind           { return KindSprite }
func (s *Sprite) Timeline() *Timeline  { return s.timeline }
func (s *Sprite) Library() *Library    { return s.lib }
func (s *Sprite) NumChildren() int     { return len(s.children) }
func (s *Sprite) ChildAt(i int) Object { return s.children[i] }

// Children returns the child list in depth order. The slice must not be
// modified.
func (s *Sprite) Children() []Object { return s.children }

// TraceBindings marks the sprite's script object, its registered frame
// scripts and every descendant's binding.
func (s *Sprite) TraceBindings(m *avm.Marker) {
	m.Mark(s.script)
	for _, fn := range s.frameScripts {
		m.Mark(fn)
	}
	for _, c := range s.children {
		c.TraceBindings(m)
	}
}

// SetFrameScript registers a callable to run when the timeline reaches a
// frame. Undefined clears it.
func (s *Sprite) SetFrameScript(frame int, fn avm.Value) {
	if fn.IsUndefined() || fn.IsNull() {
		delete(s.frameScripts, frame)
		return
	}
	if s.frameScripts == nil {
		s.frameScripts = make(map[int]avm.Value)
	}
	s.frameScripts[frame] = fn
}

// FrameScript returns the callable registered for a frame.
func (s *Sprite) FrameScript(frame int) (avm.Value, bool) {
	fn, ok := s.frameScripts[frame]
	return fn, ok
}

// ---------------------------------------------------------------------------
// Child list
// ---------------------------------------------------------------------------

func (s *Sprite) search(depth int32) (int, bool) {
	return slices.BinarySearchFunc(s.children, depth, func(o Object, d int32) int {
		switch {
		case o.Depth() < d:
			return -1
		case o.Depth() > d:
			return 1
		}
		return 0
	})
}

// ChildAtDepth returns the occupant of a depth.
func (s *Sprite) ChildAtDepth(depth int32) Object {
	if i, ok := s.search(depth); ok {
		return s.children[i]
	}
	return nil
}

// ChildByName returns the first child with the given instance name.
func (s *Sprite) ChildByName(name string) Object {
	for _, c := range s.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// IndexOf returns the position of a child in depth order, or -1.
func (s *Sprite) IndexOf(o Object) int {
	if o.Parent() != s {
		return -1
	}
	if i, ok := s.search(o.Depth()); ok {
		return i
	}
	return -1
}

// NextHighestDepth returns the first depth above every child, never less
// than zero.
func (s *Sprite) NextHighestDepth() int32 {
	if len(s.children) == 0 {
		return 0
	}
	return max(0, s.children[len(s.children)-1].Depth()+1)
}

// insert puts o at depth, evicting any occupant into ch.
func (s *Sprite) insert(o Object, depth int32, ch *Change) {
	b := o.base()
	if b.parent != nil {
		b.parent.unlink(o)
	}
	i, found := s.search(depth)
	if found {
		old := s.children[i]
		old.base().parent = nil
		ch.removed(old)
		s.children[i] = o
	} else {
		s.children = slices.Insert(s.children, i, o)
	}
	b.depth = depth
	b.parent = s
}

func (s *Sprite) unlink(o Object) {
	if i, ok := s.search(o.Depth()); ok && s.children[i] == o {
		s.children = slices.Delete(s.children, i, i+1)
	}
	o.base().parent = nil
}

// AddChild attaches o at depth on behalf of a script. An occupant of the
// depth is removed. A sprite that has not started runs its first frame.
func (s *Sprite) AddChild(o Object, depth int32, ch *Change) error {
	if sp, ok := o.(*Sprite); ok && (sp == s || slices.Contains(Ancestors(s), sp)) {
		return fmt.Errorf("display: cannot add %d as a descendant of itself", o.ID())
	}
	s.insert(o, depth, ch)
	ch.Added = append(ch.Added, o)
	if sp, ok := o.(*Sprite); ok && !sp.timeline.Started() {
		sp.runFrame(1, true, ch)
	}
	return nil
}

// RemoveChild detaches o. It reports false when o is not a child of s.
func (s *Sprite) RemoveChild(o Object, ch *Change) bool {
	if s.IndexOf(o) < 0 {
		return false
	}
	s.unlink(o)
	ch.removed(o)
	return true
}

// RemoveAtDepth detaches whatever occupies depth.
func (s *Sprite) RemoveAtDepth(depth int32, ch *Change) Object {
	o := s.ChildAtDepth(depth)
	if o != nil {
		s.unlink(o)
		ch.removed(o)
	}
	return o
}

// SwapDepths moves o to depth, exchanging places with any occupant.
func (s *Sprite) SwapDepths(o Object, depth int32) {
	if o.Parent() != s || o.Depth() == depth {
		return
	}
	from := o.Depth()
	other := s.ChildAtDepth(depth)
	s.unlink(o)
	if other != nil {
		s.unlink(other)
	}
	var none Change
	s.insert(o, depth, &none)
	if other != nil {
		s.insert(other, from, &none)
	}
}

// ---------------------------------------------------------------------------
// Frame execution
// ---------------------------------------------------------------------------

// Advance steps the sprite's timeline and then every child sprite that was
// already attached. Children created during this step run their first
// frame when placed and are not stepped again.
func (s *Sprite) Advance(ch *Change) {
	var existing []*Sprite
	for _, c := range s.children {
		if sp, ok := c.(*Sprite); ok {
			existing = append(existing, sp)
		}
	}

	s.AdvanceFrame(ch)

	for _, sp := range existing {
		if sp.parent == s {
			sp.Advance(ch)
		}
	}
}

// AdvanceFrame moves this timeline forward one frame. The first call runs
// frame 1. At the last frame the timeline wraps to frame 1 only while
// playing; a stopped timeline keeps its cursor.
func (s *Sprite) AdvanceFrame(ch *Change) {
	tl := s.timeline
	n := tl.FrameCount()
	switch {
	case n == 0:
		return
	case !tl.Started():
		s.runFrame(1, true, ch)
	case !tl.playing:
		return
	case tl.current < n:
		s.runFrame(tl.current+1, true, ch)
	case n > 1:
		s.seekBackward(1, ch)
	}
}

// runFrame applies one frame's tags and moves the cursor onto it.
func (s *Sprite) runFrame(frame int, scripts bool, ch *Change) {
	s.timeline.current = frame
	for _, tag := range s.timeline.tags(frame) {
		switch tag := tag.(type) {
		case *swf.PlaceObject:
			s.place(tag, ch)
		case *swf.RemoveObject:
			if o := s.ChildAtDepth(int32(tag.Depth)); o != nil && o.base().placed {
				s.unlink(o)
				ch.removed(o)
			}
		case *swf.DoAction:
			if scripts {
				ch.Scripts = append(ch.Scripts, FrameScript{Target: s, Frame: frame, Actions: tag.Actions})
			}
		case *swf.DoInitAction:
			if scripts {
				ch.Inits = append(ch.Inits, InitScript{SpriteID: tag.SpriteID, Actions: tag.Actions})
			}
		}
	}
	if fn, ok := s.frameScripts[frame]; ok && scripts {
		ch.Scripts = append(ch.Scripts, FrameScript{Target: s, Frame: frame, Callable: fn})
	}
}

// FrameActions returns the action blocks of a frame without running
// anything.
func (s *Sprite) FrameActions(frame int) [][]byte {
	var out [][]byte
	for _, tag := range s.timeline.tags(frame) {
		if da, ok := tag.(*swf.DoAction); ok {
			out = append(out, da.Actions)
		}
	}
	return out
}

func (s *Sprite) place(po *swf.PlaceObject, ch *Change) {
	depth := int32(po.Depth)
	cur := s.ChildAtDepth(depth)
	switch po.Mode() {
	case swf.PlaceAdd:
		if cur != nil && po.Version > 1 {
			logger().Debugf("sprite %d: depth %d occupied, placement ignored", s.id, depth)
			return
		}
		p := &placement{character: po.CharacterID, matrix: swf.IdentityMatrix, cxform: swf.IdentityColorTransform}
		p.update(po)
		s.instantiate(depth, p, po.ClassName, ch)

	case swf.PlaceModify:
		if cur == nil {
			return
		}
		applyPlacement(cur.base(), po)

	case swf.PlaceReplace:
		p := &placement{character: po.CharacterID, matrix: swf.IdentityMatrix, cxform: swf.IdentityColorTransform}
		if cur != nil {
			b := cur.base()
			p.matrix, p.cxform, p.ratio, p.clipDepth, p.name = b.matrix, b.cxform, b.ratio, b.clipDepth, b.name
		}
		p.update(po)
		s.instantiate(depth, p, po.ClassName, ch)
	}
}

func applyPlacement(b *Base, po *swf.PlaceObject) {
	if po.Matrix != nil {
		b.matrix = *po.Matrix
	}
	if po.ColorTransform != nil {
		b.cxform = *po.ColorTransform
	}
	if po.Ratio != nil {
		b.ratio = *po.Ratio
	}
	if po.HasName {
		b.name = po.Name
	}
	if po.ClipDepth != 0 {
		b.clipDepth = po.ClipDepth
	}
}

func (s *Sprite) instantiate(depth int32, p *placement, className string, ch *Change) {
	o, err := s.lib.Instantiate(p.character)
	if err != nil {
		logger().Warningf("sprite %d depth %d: %v", s.id, depth, err)
		return
	}
	b := o.base()
	b.matrix, b.cxform, b.ratio, b.clipDepth = p.matrix, p.cxform, p.ratio, p.clipDepth
	b.name = p.name
	if b.name == "" {
		b.name = fmt.Sprintf("instance%d", b.id)
	}
	if className != "" {
		b.className = className
	}
	b.placed = true
	s.insert(o, depth, ch)
	ch.Added = append(ch.Added, o)
	if sp, ok := o.(*Sprite); ok {
		sp.runFrame(1, true, ch)
	}
}

// ---------------------------------------------------------------------------
// Seeking
// ---------------------------------------------------------------------------

// Goto moves the cursor to frame, clamped to the timeline. Skipped frames
// going forward apply only their display tags; going backward the
// placement state of the target frame is rebuilt and diffed against the
// current children. Only the target frame's scripts are reported.
func (s *Sprite) Goto(frame int, ch *Change) {
	tl := s.timeline
	n := tl.FrameCount()
	if n == 0 {
		return
	}
	frame = max(1, min(frame, n))
	if frame == tl.current {
		return
	}
	if frame > tl.current {
		for f := tl.current + 1; f < frame; f++ {
			s.runFrame(f, false, ch)
		}
		s.runFrame(frame, true, ch)
		return
	}
	s.seekBackward(frame, ch)
}

// GotoLabel seeks to a labelled frame. It reports false for an unknown
// label.
func (s *Sprite) GotoLabel(label string, ch *Change) bool {
	f, ok := s.timeline.FrameForLabel(label)
	if ok {
		s.Goto(f, ch)
	}
	return ok
}

func (s *Sprite) seekBackward(frame int, ch *Change) {
	goal := s.timeline.placementsAt(frame)

	for _, c := range slices.Clone(s.children) {
		b := c.base()
		if !b.placed {
			continue
		}
		p, ok := goal[b.depth]
		if ok && p.character == b.character {
			b.matrix, b.cxform, b.ratio, b.clipDepth = p.matrix, p.cxform, p.ratio, p.clipDepth
			if p.name != "" {
				b.name = p.name
			}
			delete(goal, b.depth)
			continue
		}
		s.unlink(c)
		ch.removed(c)
	}

	depths := make([]int32, 0, len(goal))
	for d := range goal {
		depths = append(depths, d)
	}
	slices.Sort(depths)
	for _, d := range depths {
		if s.ChildAtDepth(d) != nil {
			continue
		}
		s.instantiate(d, goal[d], "", ch)
	}

	s.timeline.current = frame
	for _, tag := range s.timeline.tags(frame) {
		switch tag := tag.(type) {
		case *swf.DoAction:
			ch.Scripts = append(ch.Scripts, FrameScript{Target: s, Frame: frame, Actions: tag.Actions})
		}
	}
	if fn, ok := s.frameScripts[frame]; ok {
		ch.Scripts = append(ch.Scripts, FrameScript{Target: s, Frame: frame, Callable: fn})
	}
}

// Walk visits o and its descendants in render order. Returning false
// from fn skips the node's children.
func Walk(o Object, fn func(Object) bool) {
	if !fn(o) {
		return
	}
	if s, ok := o.(*Sprite); ok {
		for _, c := range s.children {
			Walk(c, fn)
		}
	}
}
