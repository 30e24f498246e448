package display

import (
	"github.com/chazu/swfvm/swf"
	"golang.org/x/image/math/f64"
)

// Content tells a renderer what to draw for an entry.
type Content struct {
	Kind      Kind   `cbor:"1,keyasint"`
	Character uint16 `cbor:"2,keyasint"`
	Text      string `cbor:"3,keyasint,omitempty"`
}

// Entry is one drawable node in render order.
type Entry struct {
	ID             ID                 `cbor:"1,keyasint"`
	Depth          int32              `cbor:"2,keyasint"`
	Level          int                `cbor:"3,keyasint"` // nesting below the root
	Name           string             `cbor:"4,keyasint,omitempty"`
	Matrix         swf.Matrix         `cbor:"5,keyasint"`
	ColorTransform swf.ColorTransform `cbor:"6,keyasint"`
	Content        Content            `cbor:"7,keyasint"`
	Visible        bool               `cbor:"8,keyasint"`
}

// Aff3 returns the entry's world transform in pixels.
func (e *Entry) Aff3() f64.Aff3 {
	m := e.Matrix
	return f64.Aff3{
		m.ScaleX, m.RotateSkew1, float64(m.TranslateX) / swf.TwipsPerPixel,
		m.RotateSkew0, m.ScaleY, float64(m.TranslateY) / swf.TwipsPerPixel,
	}
}

// Snapshot is the state of a render tree after a tick.
type Snapshot struct {
	Tick       uint64   `cbor:"1,keyasint"`
	Frame      int      `cbor:"2,keyasint"`
	Background swf.RGBA `cbor:"3,keyasint"`
	Stage      swf.Rect `cbor:"4,keyasint"`
	Entries    []Entry  `cbor:"5,keyasint"`
}

// TakeSnapshot lists the descendants of root in render order with world
// transforms. The root itself is not an entry. Hidden nodes are listed
// with Visible false, and so are their descendants.
func TakeSnapshot(root *Sprite) Snapshot {
	snap := Snapshot{Frame: root.timeline.current}
	var visit func(s *Sprite, world swf.Matrix, cx swf.ColorTransform, visible bool, level int)
	visit = func(s *Sprite, world swf.Matrix, cx swf.ColorTransform, visible bool, level int) {
		for _, c := range s.children {
			b := c.base()
			w := world.Concat(b.matrix)
			wcx := cx.Concat(b.cxform)
			vis := visible && b.visible
			e := Entry{
				ID:             b.id,
				Depth:          b.depth,
				Level:          level,
				Name:           b.name,
				Matrix:         w,
				ColorTransform: wcx,
				Content:        Content{Kind: c.Kind(), Character: b.character},
				Visible:        vis,
			}
			if t, ok := c.(*Text); ok {
				e.Content.Text = t.text
			}
			snap.Entries = append(snap.Entries, e)
			if sp, ok := c.(*Sprite); ok {
				visit(sp, w, wcx, vis, level+1)
			}
		}
	}
	visit(root, root.matrix, root.cxform, root.visible, 0)
	return snap
}

// Renderer consumes one snapshot per tick.
type Renderer interface {
	Render(snap *Snapshot) error
}
