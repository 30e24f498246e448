package display

import (
	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/swf"
)

// Timeline is the frame schedule of a sprite. Frame n (1-based) holds the
// control tags between the (n-1)th and nth ShowFrame. The frame slices
// are shared by every instance of the same definition.
type Timeline struct {
	frames  [][]swf.Tag
	labels  map[string]int
	current int // 0 until the first frame runs
	playing bool
}

// NewTimeline splits a tag list at ShowFrame boundaries. The frame count
// is the declared one; surplus frames are dropped and missing ones are
// empty.
func NewTimeline(tags []swf.Tag, frameCount int) *Timeline {
	t := &Timeline{labels: make(map[string]int), playing: true}
	var cur []swf.Tag
	for _, tag := range tags {
		switch tag := tag.(type) {
		case *swf.ShowFrame:
			t.frames = append(t.frames, cur)
			cur = nil
		case *swf.FrameLabel:
			if _, seen := t.labels[tag.Name]; !seen {
				t.labels[tag.Name] = len(t.frames) + 1
			}
		default:
			cur = append(cur, tag)
		}
	}
	if len(cur) > 0 {
		t.frames = append(t.frames, cur)
	}
	if frameCount == 0 && len(t.frames) > 0 {
		frameCount = 1
	}
	for len(t.frames) < frameCount {
		t.frames = append(t.frames, nil)
	}
	t.frames = t.frames[:frameCount]
	for name, f := range t.labels {
		if f > frameCount {
			delete(t.labels, name)
		}
	}
	return t
}

func (t *Timeline) FrameCount() int   { return len(t.frames) }
func (t *Timeline) CurrentFrame() int { return t.current }
func (t *Timeline) IsPlaying() bool   { return t.playing }
func (t *Timeline) Play()             { t.playing = true }
func (t *Timeline) Stop()             { t.playing = false }

// Started reports whether the first frame has run.
func (t *Timeline) Started() bool { return t.current > 0 }

// FrameForLabel returns the frame a label names.
func (t *Timeline) FrameForLabel(label string) (int, bool) {
	f, ok := t.labels[label]
	return f, ok
}

// LabelOf returns the label attached to a frame, if any.
func (t *Timeline) LabelOf(frame int) string {
	for name, f := range t.labels {
		if f == frame {
			return name
		}
	}
	return ""
}

func (t *Timeline) tags(frame int) []swf.Tag {
	if frame < 1 || frame > len(t.frames) {
		return nil
	}
	return t.frames[frame-1]
}

// FrameScript is script work reached by a timeline: either a legacy
// action block or a callable registered for the frame.
type FrameScript struct {
	Target   *Sprite
	Frame    int
	Actions  []byte
	Callable avm.Value
}

// InitScript is a legacy initialization block for a sprite definition.
type InitScript struct {
	SpriteID uint16
	Actions  []byte
}

// Change collects what one or more timeline steps did to the tree.
// Added lists parents before their children; Removed lists removed
// objects followed by their descendants.
type Change struct {
	Added   []Object
	Removed []Object
	Scripts []FrameScript
	Inits   []InitScript
}

// Empty reports whether nothing happened.
func (c *Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Scripts) == 0 && len(c.Inits) == 0
}

func (c *Change) removed(o Object) {
	c.Removed = append(c.Removed, o)
	if s, ok := o.(*Sprite); ok {
		for _, child := range s.children {
			c.removed(child)
		}
	}
}

// placement is the resolved state a depth has at some frame, used to
// rebuild the tree on backward seeks.
type placement struct {
	character uint16
	matrix    swf.Matrix
	cxform    swf.ColorTransform
	ratio     uint16
	clipDepth uint16
	name      string
}

func (p *placement) update(po *swf.PlaceObject) {
	if po.Matrix != nil {
		p.matrix = *po.Matrix
	}
	if po.ColorTransform != nil {
		p.cxform = *po.ColorTransform
	}
	if po.Ratio != nil {
		p.ratio = *po.Ratio
	}
	if po.HasName {
		p.name = po.Name
	}
	if po.ClipDepth != 0 {
		p.clipDepth = po.ClipDepth
	}
}

// placementsAt replays the display tags of frames 1..frame.
func (t *Timeline) placementsAt(frame int) map[int32]*placement {
	state := make(map[int32]*placement)
	for f := 1; f <= frame; f++ {
		for _, tag := range t.tags(f) {
			switch tag := tag.(type) {
			case *swf.PlaceObject:
				depth := int32(tag.Depth)
				cur := state[depth]
				switch tag.Mode() {
				case swf.PlaceAdd:
					if cur != nil && tag.Version > 1 {
						continue
					}
					p := &placement{character: tag.CharacterID, matrix: swf.IdentityMatrix, cxform: swf.IdentityColorTransform}
					p.update(tag)
					state[depth] = p
				case swf.PlaceModify:
					if cur != nil {
						cur.update(tag)
					}
				case swf.PlaceReplace:
					if cur == nil {
						cur = &placement{matrix: swf.IdentityMatrix, cxform: swf.IdentityColorTransform}
						state[depth] = cur
					}
					cur.character = tag.CharacterID
					cur.update(tag)
				}
			case *swf.RemoveObject:
				delete(state, int32(tag.Depth))
			}
		}
	}
	return state
}
