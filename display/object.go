// Package display holds the render tree of a movie: display objects, the
// depth-ordered child lists of sprites, their frame timelines and the
// snapshot handed to a renderer each tick.
package display

import (
	"math"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/swf"
	"github.com/tliron/commonlog"
)

func logger() commonlog.Logger {
	return commonlog.GetLogger("swfvm.display")
}

// DepthBias separates timeline depths from depths handed out to legacy
// scripts: script depth d lives at d+DepthBias.
const DepthBias = 16384

// ID identifies a display object within one movie instance.
type ID uint64

// Kind discriminates display object variants.
type Kind uint8

const (
	KindShape Kind = iota
	KindSprite
	KindText
	KindBitmap
)

var kindNames = [...]string{"shape", "sprite", "text", "bitmap"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Object is a node of the render tree. Implementations are *Shape,
// *Sprite, *Text and *Bitmap.
type Object interface {
	ID() ID
	Kind() Kind
	Depth() int32
	Character() uint16
	Name() string
	SetName(string)
	ClassName() string
	Matrix() swf.Matrix
	SetMatrix(swf.Matrix)
	ColorTransform() swf.ColorTransform
	SetColorTransform(swf.ColorTransform)
	Visible() bool
	SetVisible(bool)
	Parent() *Sprite
	Script() avm.Value
	SetScript(avm.Value)
	TraceBindings(m *avm.Marker)

	base() *Base
}

// Base carries the state shared by every display object.
type Base struct {
	id        ID
	depth     int32
	character uint16
	name      string
	className string
	matrix    swf.Matrix
	cxform    swf.ColorTransform
	ratio     uint16
	clipDepth uint16
	visible   bool

	// parent does not own the child; the child list does.
	parent *Sprite
	// placed marks objects created by timeline tags rather than scripts.
	placed bool

	script avm.Value
}

func newBase(id ID, character uint16) Base {
	return Base{
		id:        id,
		character: character,
		matrix:    swf.IdentityMatrix,
		cxform:    swf.IdentityColorTransform,
		visible:   true,
		script:    avm.Undefined,
	}
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() ID            { return b.id }
func (b *Base) Depth() int32      { return b.depth }
func (b *Base) Character() uint16 { return b.character }
func (b *Base) Name() string      { return b.name }
func (b *Base) SetName(n string)  { b.name = n }
func (b *Base) ClassName() string { return b.className }
func (b *Base) Parent() *Sprite   { return b.parent }
func (b *Base) Ratio() uint16     { return b.ratio }
func (b *Base) ClipDepth() uint16 { return b.clipDepth }

func (b *Base) Matrix() swf.Matrix       { return b.matrix }
func (b *Base) SetMatrix(m swf.Matrix)   { b.matrix = m }
func (b *Base) Visible() bool            { return b.visible }
func (b *Base) SetVisible(v bool)        { b.visible = v }
func (b *Base) Script() avm.Value        { return b.script }
func (b *Base) SetScript(v avm.Value)    { b.script = v }
func (b *Base) PlacedByTimeline() bool   { return b.placed }
func (b *Base) SetClassName(name string) { b.className = name }

func (b *Base) ColorTransform() swf.ColorTransform     { return b.cxform }
func (b *Base) SetColorTransform(c swf.ColorTransform) { b.cxform = c }

// TraceBindings marks the script object bound to this node.
func (b *Base) TraceBindings(m *avm.Marker) {
	m.Mark(b.script)
}

// Shape is static vector geometry.
type Shape struct {
	Base
	Def *ShapeDef
}

func (s *Shape) Kind() Kind { return KindShape }

// Text is an editable or dynamic text field.
type Text struct {
	Base
	Def  *TextDef
	text string
}

func (t *Text) Kind() Kind       { return KindText }
func (t *Text) Text() string     { return t.text }
func (t *Text) SetText(s string) { t.text = s }

// Bitmap shows a decoded lossless image.
type Bitmap struct {
	Base
	Def *BitmapDef
}

func (b *Bitmap) Kind() Kind { return KindBitmap }

// Ancestors returns the chain of parents from o's parent up to the root.
func Ancestors(o Object) []*Sprite {
	var out []*Sprite
	for p := o.Parent(); p != nil; p = p.parent {
		out = append(out, p)
	}
	return out
}

// Path returns the dotted instance-name path from the root to o, in the
// form legacy scripts use for _target.
func Path(o Object) string {
	if o.Parent() == nil {
		return "/"
	}
	path := ""
	for cur := o; cur.Parent() != nil; cur = cur.Parent() {
		path = "/" + cur.Name() + path
	}
	return path
}

// ScaleRotation decomposes a matrix into scale factors and a rotation in
// radians. Skew is not preserved.
func ScaleRotation(m swf.Matrix) (sx, sy, rot float64) {
	return math.Hypot(m.ScaleX, m.RotateSkew0), math.Hypot(m.ScaleY, m.RotateSkew1), math.Atan2(m.RotateSkew0, m.ScaleX)
}

// WithScaleRotation rebuilds the linear part of m from scale factors and
// a rotation in radians, keeping the translation.
func WithScaleRotation(m swf.Matrix, sx, sy, rot float64) swf.Matrix {
	cos, sin := math.Cos(rot), math.Sin(rot)
	m.ScaleX, m.RotateSkew0 = sx*cos, sx*sin
	m.RotateSkew1, m.ScaleY = -sy*sin, sy*cos
	return m
}
