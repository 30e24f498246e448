package display

import (
	"fmt"

	"github.com/chazu/swfvm/swf"
)

// Character is a definition that display objects are instantiated from.
type Character interface {
	CharacterID() uint16
	Kind() Kind
}

type ShapeDef struct {
	ID       uint16
	Bounds   swf.Rect
	Geometry []byte
}

func (d *ShapeDef) CharacterID() uint16 { return d.ID }
func (d *ShapeDef) Kind() Kind          { return KindShape }

type SpriteDef struct {
	ID         uint16
	FrameCount int
	Tags       []swf.Tag
}

func (d *SpriteDef) CharacterID() uint16 { return d.ID }
func (d *SpriteDef) Kind() Kind          { return KindSprite }

type TextDef struct {
	ID     uint16
	Bounds swf.Rect
	Tag    *swf.DefineEditText
}

func (d *TextDef) CharacterID() uint16 { return d.ID }
func (d *TextDef) Kind() Kind          { return KindText }

// BitmapDef starts out with only its compressed payload. Pixels is filled
// in once the background decoder finishes.
type BitmapDef struct {
	ID     uint16
	Width  int
	Height int
	Tag    *swf.DefineBitsLossless

	Pixels []byte // RGBA, row-major; nil until decoded
}

func (d *BitmapDef) CharacterID() uint16 { return d.ID }
func (d *BitmapDef) Kind() Kind          { return KindBitmap }

// Library owns the character definitions of one movie instance and hands
// out display object ids.
type Library struct {
	chars   map[uint16]Character
	exports map[string]uint16
	classes map[uint16]string
	nextID  ID
}

func NewLibrary() *Library {
	return &Library{
		chars:   make(map[uint16]Character),
		exports: make(map[string]uint16),
		classes: make(map[uint16]string),
	}
}

// Define registers definition tags from a tag list. Non-definition tags
// are ignored. A later definition with a used id is dropped.
func (l *Library) Define(tags []swf.Tag) {
	for _, tag := range tags {
		var c Character
		switch t := tag.(type) {
		case *swf.DefineShape:
			c = &ShapeDef{ID: t.ID, Bounds: t.Bounds, Geometry: t.Geometry}
		case *swf.DefineSprite:
			c = &SpriteDef{ID: t.ID, FrameCount: int(t.FrameCount), Tags: t.Tags}
		case *swf.DefineEditText:
			c = &TextDef{ID: t.ID, Bounds: t.Bounds, Tag: t}
		case *swf.DefineBitsLossless:
			c = &BitmapDef{ID: t.ID, Width: int(t.Width), Height: int(t.Height), Tag: t}
		case *swf.ExportAssets:
			for _, a := range t.Assets {
				l.exports[a.Name] = a.ID
			}
			continue
		case *swf.SymbolClass:
			for _, a := range t.Symbols {
				l.classes[a.ID] = a.Name
			}
			continue
		default:
			continue
		}
		if _, dup := l.chars[c.CharacterID()]; dup {
			logger().Warningf("duplicate character id %d ignored", c.CharacterID())
			continue
		}
		l.chars[c.CharacterID()] = c
	}
}

// Character returns the definition with the given id.
func (l *Library) Character(id uint16) (Character, bool) {
	c, ok := l.chars[id]
	return c, ok
}

// Export resolves an exported linkage name to a character id.
func (l *Library) Export(name string) (uint16, bool) {
	id, ok := l.exports[name]
	return id, ok
}

// ClassFor returns the script class bound to a character id, if any.
// Character 0 is the root movie.
func (l *Library) ClassFor(id uint16) string {
	return l.classes[id]
}

// SymbolFor returns the character bound to a dotted class name.
func (l *Library) SymbolFor(class string) (uint16, bool) {
	for id, name := range l.classes {
		if name == class {
			return id, true
		}
	}
	return 0, false
}

// Bitmaps returns every lossless bitmap definition.
func (l *Library) Bitmaps() []*BitmapDef {
	var out []*BitmapDef
	for _, c := range l.chars {
		if b, ok := c.(*BitmapDef); ok {
			out = append(out, b)
		}
	}
	return out
}

func (l *Library) newID() ID {
	l.nextID++
	return l.nextID
}

// Instantiate creates a fresh display object for a character. Sprites
// start with an unstarted timeline.
func (l *Library) Instantiate(id uint16) (Object, error) {
	c, ok := l.chars[id]
	if !ok {
		return nil, fmt.Errorf("display: unknown character %d", id)
	}
	var obj Object
	switch def := c.(type) {
	case *ShapeDef:
		obj = &Shape{Base: newBase(l.newID(), id), Def: def}
	case *SpriteDef:
		obj = newSprite(l, l.newID(), id, NewTimeline(def.Tags, def.FrameCount))
	case *TextDef:
		t := &Text{Base: newBase(l.newID(), id), Def: def}
		t.text = def.Tag.InitialText
		obj = t
	case *BitmapDef:
		obj = &Bitmap{Base: newBase(l.newID(), id), Def: def}
	default:
		return nil, fmt.Errorf("display: character %d has no display form", id)
	}
	obj.base().className = l.classes[id]
	return obj, nil
}

// NewRoot creates the root sprite of a movie from its top-level tags.
func (l *Library) NewRoot(tags []swf.Tag, frameCount int) *Sprite {
	root := newSprite(l, l.newID(), 0, NewTimeline(tags, frameCount))
	root.className = l.classes[0]
	root.name = "_root"
	return root
}

// NewEmptySprite creates a sprite with no timeline, as scripts do.
func (l *Library) NewEmptySprite() *Sprite {
	return newSprite(l, l.newID(), 0, NewTimeline(nil, 0))
}

// NewText creates an empty text field with no definition, as scripts do.
func (l *Library) NewText() *Text {
	return &Text{Base: newBase(l.newID(), 0)}
}

// NewShape creates an empty shape, as scripts do.
func (l *Library) NewShape() *Shape {
	return &Shape{Base: newBase(l.newID(), 0)}
}

// NewBitmap creates a bitmap with no pixel data, as scripts do.
func (l *Library) NewBitmap() *Bitmap {
	return &Bitmap{Base: newBase(l.newID(), 0)}
}
