package swf

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/klauspost/compress/zlib"
)

// ---------------------------------------------------------------------------
// Builder: assembles containers for tooling and tests
// ---------------------------------------------------------------------------

// Builder writes a tag list and wraps it in a container.
type Builder struct {
	Version    uint8
	FrameRate  float64
	FrameCount uint16
	FrameSize  Rect

	buf bytes.Buffer
}

// NewBuilder creates a Builder for an uncompressed movie.
func NewBuilder(version uint8, frameRate float64, frameCount uint16) *Builder {
	return &Builder{
		Version:    version,
		FrameRate:  frameRate,
		FrameCount: frameCount,
		FrameSize:  Rect{XMax: 550 * TwipsPerPixel, YMax: 400 * TwipsPerPixel},
	}
}

// Tag appends a raw tag with the given payload, choosing the short or
// long header form.
func (b *Builder) Tag(code TagCode, payload []byte) *Builder {
	if len(payload) < 0x3f {
		binary.Write(&b.buf, binary.LittleEndian, uint16(code)<<6|uint16(len(payload)))
	} else {
		binary.Write(&b.buf, binary.LittleEndian, uint16(code)<<6|0x3f)
		binary.Write(&b.buf, binary.LittleEndian, uint32(len(payload)))
	}
	b.buf.Write(payload)
	return b
}

func (b *Builder) ShowFrame() *Builder {
	return b.Tag(TagShowFrame, nil)
}

func (b *Builder) End() *Builder {
	return b.Tag(TagEnd, nil)
}

func (b *Builder) FileAttributes(flags uint32) *Builder {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, flags)
	return b.Tag(TagFileAttributes, p)
}

func (b *Builder) SetBackgroundColor(c RGBA) *Builder {
	return b.Tag(TagSetBackgroundColor, []byte{c.R, c.G, c.B})
}

func (b *Builder) FrameLabel(name string) *Builder {
	return b.Tag(TagFrameLabel, append([]byte(name), 0))
}

// DefineShape writes a DefineShape tag with the given bounds and an empty
// style/record block.
func (b *Builder) DefineShape(id uint16, bounds Rect) *Builder {
	var w bitWriter
	w.u16(id)
	w.rect(bounds)
	w.bytes([]byte{0, 0, 0x00, 0x00}) // no fills, no lines, zero bits, end record
	return b.Tag(TagDefineShape, w.buf)
}

// PlaceObject2 places (or, with move set, moves/replaces) a character.
// A zero id with move set modifies the existing occupant.
func (b *Builder) PlaceObject2(depth, id uint16, move bool, m *Matrix, name string) *Builder {
	var w bitWriter
	var flags uint8
	if move {
		flags |= placeMove
	}
	if id != 0 {
		flags |= placeHasCharacter
	}
	if m != nil {
		flags |= placeHasMatrix
	}
	if name != "" {
		flags |= placeHasName
	}
	w.u8(flags)
	w.u16(depth)
	if id != 0 {
		w.u16(id)
	}
	if m != nil {
		w.matrix(*m)
	}
	if name != "" {
		w.cstring(name)
	}
	return b.Tag(TagPlaceObject2, w.buf)
}

// PlaceObject writes a version 1 placement.
func (b *Builder) PlaceObject(depth, id uint16, m Matrix) *Builder {
	var w bitWriter
	w.u16(id)
	w.u16(depth)
	w.matrix(m)
	return b.Tag(TagPlaceObject, w.buf)
}

func (b *Builder) RemoveObject2(depth uint16) *Builder {
	var w bitWriter
	w.u16(depth)
	return b.Tag(TagRemoveObject2, w.buf)
}

func (b *Builder) DoAction(actions []byte) *Builder {
	return b.Tag(TagDoAction, actions)
}

func (b *Builder) DoInitAction(spriteID uint16, actions []byte) *Builder {
	var w bitWriter
	w.u16(spriteID)
	w.bytes(actions)
	return b.Tag(TagDoInitAction, w.buf)
}

func (b *Builder) DoABC(name string, abc []byte) *Builder {
	var w bitWriter
	w.u32(0)
	w.cstring(name)
	w.bytes(abc)
	return b.Tag(TagDoABC2, w.buf)
}

func (b *Builder) SymbolClass(symbols ...Asset) *Builder {
	return b.Tag(TagSymbolClass, assetPayload(symbols))
}

func (b *Builder) ExportAssets(assets ...Asset) *Builder {
	return b.Tag(TagExportAssets, assetPayload(assets))
}

func assetPayload(assets []Asset) []byte {
	var w bitWriter
	w.u16(uint16(len(assets)))
	for _, a := range assets {
		w.u16(a.ID)
		w.cstring(a.Name)
	}
	return w.buf
}

// DefineSprite nests the tag list built by inner. inner must not have an
// End tag yet; one is appended.
func (b *Builder) DefineSprite(id uint16, frameCount uint16, inner *Builder) *Builder {
	var w bitWriter
	w.u16(id)
	w.u16(frameCount)
	w.bytes(inner.buf.Bytes())
	w.bytes([]byte{0, 0})
	return b.Tag(TagDefineSprite, w.buf)
}

// Bytes returns an uncompressed (FWS) container. An End tag is appended
// to the tag list.
func (b *Builder) Bytes() []byte {
	body := b.body()
	out := make([]byte, fileHeaderSize, fileHeaderSize+len(body))
	copy(out, "FWS")
	out[3] = b.Version
	binary.LittleEndian.PutUint32(out[4:], uint32(fileHeaderSize+len(body)))
	return append(out, body...)
}

// Compressed returns a zlib-compressed (CWS) container.
func (b *Builder) Compressed() []byte {
	body := b.body()
	var out bytes.Buffer
	out.WriteString("CWS")
	out.WriteByte(b.Version)
	binary.Write(&out, binary.LittleEndian, uint32(fileHeaderSize+len(body)))
	zw := zlib.NewWriter(&out)
	zw.Write(body)
	zw.Close()
	return out.Bytes()
}

func (b *Builder) body() []byte {
	var w bitWriter
	w.rect(b.FrameSize)
	w.u16(uint16(math.Round(b.FrameRate * 256)))
	w.u16(b.FrameCount)
	w.bytes(b.buf.Bytes())
	w.bytes([]byte{0, 0})
	return w.buf
}

// ---------------------------------------------------------------------------
// bitWriter: MSB-first bit packing, mirror of stream
// ---------------------------------------------------------------------------

type bitWriter struct {
	buf   []byte
	nbits uint // bits used in the last byte; 0 means aligned
}

func (w *bitWriter) align() { w.nbits = 0 }

func (w *bitWriter) u8(v uint8) {
	w.align()
	w.buf = append(w.buf, v)
}

func (w *bitWriter) u16(v uint16) {
	w.align()
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *bitWriter) u32(v uint32) {
	w.align()
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *bitWriter) bytes(p []byte) {
	w.align()
	w.buf = append(w.buf, p...)
}

func (w *bitWriter) cstring(s string) {
	w.bytes(append([]byte(s), 0))
}

func (w *bitWriter) ub(n uint, v uint32) {
	for i := int(n) - 1; i >= 0; i-- {
		if w.nbits == 0 {
			w.buf = append(w.buf, 0)
		}
		bit := byte(v>>uint(i)) & 1
		w.buf[len(w.buf)-1] |= bit << (7 - w.nbits)
		w.nbits = (w.nbits + 1) % 8
	}
}

func (w *bitWriter) sb(n uint, v int32) {
	w.ub(n, uint32(v)&(1<<n-1))
}

// signedBits returns the field width needed to hold every value as SB.
func signedBits(vals ...int32) uint {
	var n uint
	for _, v := range vals {
		var need uint
		if v < 0 {
			need = uint(bits.Len32(uint32(^v))) + 1
		} else {
			need = uint(bits.Len32(uint32(v))) + 1
		}
		n = max(n, need)
	}
	return n
}

func (w *bitWriter) rect(r Rect) {
	w.align()
	n := signedBits(r.XMin, r.XMax, r.YMin, r.YMax)
	w.ub(5, uint32(n))
	w.sb(n, r.XMin)
	w.sb(n, r.XMax)
	w.sb(n, r.YMin)
	w.sb(n, r.YMax)
	w.align()
}

func toFixed16(f float64) int32 {
	return int32(math.Round(f * 65536))
}

func (w *bitWriter) matrix(m Matrix) {
	w.align()
	if m.ScaleX != 1 || m.ScaleY != 1 {
		sx, sy := toFixed16(m.ScaleX), toFixed16(m.ScaleY)
		n := signedBits(sx, sy)
		w.ub(1, 1)
		w.ub(5, uint32(n))
		w.sb(n, sx)
		w.sb(n, sy)
	} else {
		w.ub(1, 0)
	}
	if m.RotateSkew0 != 0 || m.RotateSkew1 != 0 {
		r0, r1 := toFixed16(m.RotateSkew0), toFixed16(m.RotateSkew1)
		n := signedBits(r0, r1)
		w.ub(1, 1)
		w.ub(5, uint32(n))
		w.sb(n, r0)
		w.sb(n, r1)
	} else {
		w.ub(1, 0)
	}
	n := signedBits(m.TranslateX, m.TranslateY)
	if m.TranslateX == 0 && m.TranslateY == 0 {
		n = 0
	}
	w.ub(5, uint32(n))
	w.sb(n, m.TranslateX)
	w.sb(n, m.TranslateY)
	w.align()
}
