package swf

import (
	"fmt"
	"io"
	"iter"
)

// ---------------------------------------------------------------------------
// Reader: lazy tag stream
// ---------------------------------------------------------------------------

// Reader yields the tags of one tag list. It is finite and not
// restartable; re-reading needs a fresh Reader over the same bytes.
type Reader struct {
	s *stream
	// base is the file offset of data[0], used for diagnostics.
	base int
	done bool
}

// NewReader creates a Reader over a tag list. version selects the string
// encoding; base is the file offset of data[0].
func NewReader(data []byte, version uint8, base int) *Reader {
	return &Reader{s: newStream(data, version), base: base}
}

// Offset returns the file offset of the next unread byte.
func (r *Reader) Offset() int {
	return r.base + r.s.pos
}

// Next returns the next tag. It returns io.EOF after an End tag or when
// the data runs out. A *TagError means the tag was skipped and reading
// may continue; any other error ends the stream.
func (r *Reader) Next() (Tag, error) {
	if r.done {
		return nil, io.EOF
	}
	if r.s.remaining() == 0 {
		r.done = true
		return nil, io.EOF
	}

	start := r.s.pos
	code, length, err := r.header()
	if err != nil {
		r.done = true
		return nil, &ContainerError{Offset: r.base + start, Reason: "truncated tag header", Err: err}
	}
	if r.s.remaining() < length {
		r.done = true
		return nil, &ContainerError{
			Offset: r.base + start,
			Reason: fmt.Sprintf("%s declares %d bytes, %d remain", code, length, r.s.remaining()),
			Err:    ErrTagLengthOverflow,
		}
	}

	payload := r.s.data[r.s.pos : r.s.pos+length]
	payloadOffset := r.base + r.s.pos
	r.s.pos += length

	if code == TagEnd {
		r.done = true
		return nil, io.EOF
	}

	h := Header{TagCode: code, Offset: r.base + start}
	tag, err := decodeTag(h, payload, payloadOffset, r.s.version)
	if err != nil {
		return nil, &TagError{Offset: h.Offset, Code: code, Err: err}
	}
	return tag, nil
}

// Tags iterates the remaining tags. Recoverable tag errors are yielded
// with a nil tag; iteration stops at the end of the list or on a fatal
// error.
func (r *Reader) Tags() iter.Seq2[Tag, error] {
	return func(yield func(Tag, error) bool) {
		for {
			tag, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(tag, err) {
				return
			}
			if err != nil && !isRecoverable(err) {
				return
			}
		}
	}
}

// ReadAll collects a tag list, separating skipped tags from fatal errors.
func (r *Reader) ReadAll() (tags []Tag, skipped []error, err error) {
	for tag, terr := range r.Tags() {
		if terr != nil {
			if isRecoverable(terr) {
				skipped = append(skipped, terr)
				continue
			}
			return tags, skipped, terr
		}
		tags = append(tags, tag)
	}
	return tags, skipped, nil
}

func isRecoverable(err error) bool {
	_, ok := err.(*TagError)
	return ok
}

// header reads a RECORDHEADER: a u16 holding code<<6 | length, with
// length 0x3f meaning a u32 long length follows.
func (r *Reader) header() (TagCode, int, error) {
	v, err := r.s.u16()
	if err != nil {
		return 0, 0, err
	}
	code := TagCode(v >> 6)
	length := int(v & 0x3f)
	if length == 0x3f {
		long, err := r.s.u32()
		if err != nil {
			return code, 0, err
		}
		length = int(long)
	}
	return code, length, nil
}

// ---------------------------------------------------------------------------
// Tag decoding
// ---------------------------------------------------------------------------

func decodeTag(h Header, payload []byte, payloadOffset int, version uint8) (Tag, error) {
	s := newStream(payload, version)
	switch h.TagCode {
	case TagShowFrame:
		return &ShowFrame{Header: h}, nil
	case TagSetBackgroundColor:
		c, err := s.rgb()
		return &SetBackgroundColor{Header: h, Color: c}, err
	case TagFrameLabel:
		return decodeFrameLabel(h, s)
	case TagExportAssets:
		assets, err := decodeAssets(s)
		return &ExportAssets{Header: h, Assets: assets}, err
	case TagSymbolClass:
		assets, err := decodeAssets(s)
		return &SymbolClass{Header: h, Symbols: assets}, err
	case TagScriptLimits:
		return decodeScriptLimits(h, s)
	case TagFileAttributes:
		flags, err := s.u32()
		return &FileAttributes{Header: h, Flags: flags}, err
	case TagPlaceObject:
		return decodePlaceObject(h, s)
	case TagPlaceObject2, TagPlaceObject3:
		return decodePlaceObject23(h, s)
	case TagRemoveObject:
		return decodeRemoveObject(h, s, 1)
	case TagRemoveObject2:
		return decodeRemoveObject(h, s, 2)
	case TagDefineShape, TagDefineShape2, TagDefineShape3, TagDefineShape4:
		return decodeDefineShape(h, s)
	case TagDefineSprite:
		return decodeDefineSprite(h, s, payloadOffset)
	case TagDefineEditText:
		return decodeDefineEditText(h, s)
	case TagDefineBitsLossless, TagDefineBitsLossless2:
		return decodeDefineBitsLossless(h, s)
	case TagDoAction:
		return &DoAction{Header: h, Actions: s.rest()}, nil
	case TagDoInitAction:
		id, err := s.u16()
		if err != nil {
			return nil, err
		}
		return &DoInitAction{Header: h, SpriteID: id, Actions: s.rest()}, nil
	case TagDoABC:
		return &DoABC{Header: h, Data: s.rest()}, nil
	case TagDoABC2:
		return decodeDoABC2(h, s)
	default:
		return &UnknownTag{Header: h, Data: payload}, nil
	}
}

func decodeFrameLabel(h Header, s *stream) (Tag, error) {
	name, err := s.cstring()
	if err != nil {
		return nil, err
	}
	t := &FrameLabel{Header: h, Name: name}
	if s.remaining() > 0 {
		flag, _ := s.u8()
		t.Anchor = flag == 1
	}
	return t, nil
}

func decodeAssets(s *stream) ([]Asset, error) {
	n, err := s.u16()
	if err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, n)
	for i := 0; i < int(n); i++ {
		id, err := s.u16()
		if err != nil {
			return nil, err
		}
		name, err := s.cstring()
		if err != nil {
			return nil, err
		}
		assets = append(assets, Asset{ID: id, Name: name})
	}
	return assets, nil
}

func decodeScriptLimits(h Header, s *stream) (Tag, error) {
	depth, err := s.u16()
	if err != nil {
		return nil, err
	}
	timeout, err := s.u16()
	if err != nil {
		return nil, err
	}
	return &ScriptLimits{Header: h, MaxRecursionDepth: depth, ScriptTimeoutSeconds: timeout}, nil
}

func decodePlaceObject(h Header, s *stream) (Tag, error) {
	t := &PlaceObject{Header: h, Version: 1, HasCharacter: true}
	var err error
	if t.CharacterID, err = s.u16(); err != nil {
		return nil, err
	}
	if t.Depth, err = s.u16(); err != nil {
		return nil, err
	}
	m, err := s.matrix()
	if err != nil {
		return nil, err
	}
	t.Matrix = &m
	if s.remaining() > 0 {
		c, err := s.colorTransform(false)
		if err != nil {
			return nil, err
		}
		t.ColorTransform = &c
	}
	return t, nil
}

// PlaceObject2/3 flag bits.
const (
	placeHasClipActions    = 0x80
	placeHasClipDepth      = 0x40
	placeHasName           = 0x20
	placeHasRatio          = 0x10
	placeHasColorTransform = 0x08
	placeHasMatrix         = 0x04
	placeHasCharacter      = 0x02
	placeMove              = 0x01

	place3HasImage     = 0x10
	place3HasClassName = 0x08
)

func decodePlaceObject23(h Header, s *stream) (Tag, error) {
	t := &PlaceObject{Header: h, Version: 2}
	flags, err := s.u8()
	if err != nil {
		return nil, err
	}
	var flags2 uint8
	if h.TagCode == TagPlaceObject3 {
		t.Version = 3
		if flags2, err = s.u8(); err != nil {
			return nil, err
		}
	}
	t.Move = flags&placeMove != 0
	t.HasCharacter = flags&placeHasCharacter != 0

	if t.Depth, err = s.u16(); err != nil {
		return nil, err
	}
	if flags2&place3HasClassName != 0 || (flags2&place3HasImage != 0 && t.HasCharacter) {
		if t.ClassName, err = s.cstring(); err != nil {
			return nil, err
		}
	}
	if t.HasCharacter {
		if t.CharacterID, err = s.u16(); err != nil {
			return nil, err
		}
	}
	if flags&placeHasMatrix != 0 {
		m, err := s.matrix()
		if err != nil {
			return nil, err
		}
		t.Matrix = &m
	}
	if flags&placeHasColorTransform != 0 {
		c, err := s.colorTransform(true)
		if err != nil {
			return nil, err
		}
		t.ColorTransform = &c
	}
	if flags&placeHasRatio != 0 {
		r, err := s.u16()
		if err != nil {
			return nil, err
		}
		t.Ratio = &r
	}
	if flags&placeHasName != 0 {
		t.HasName = true
		if t.Name, err = s.cstring(); err != nil {
			return nil, err
		}
	}
	if flags&placeHasClipDepth != 0 {
		if t.ClipDepth, err = s.u16(); err != nil {
			return nil, err
		}
	}
	t.Extra = s.rest()
	return t, nil
}

func decodeRemoveObject(h Header, s *stream, version uint8) (Tag, error) {
	t := &RemoveObject{Header: h, Version: version}
	var err error
	if version == 1 {
		if t.CharacterID, err = s.u16(); err != nil {
			return nil, err
		}
	}
	if t.Depth, err = s.u16(); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeDefineShape(h Header, s *stream) (Tag, error) {
	t := &DefineShape{Header: h}
	switch h.TagCode {
	case TagDefineShape:
		t.Version = 1
	case TagDefineShape2:
		t.Version = 2
	case TagDefineShape3:
		t.Version = 3
	default:
		t.Version = 4
	}
	var err error
	if t.ID, err = s.u16(); err != nil {
		return nil, err
	}
	if t.Bounds, err = s.rect(); err != nil {
		return nil, err
	}
	t.Geometry = s.rest()
	return t, nil
}

func decodeDefineSprite(h Header, s *stream, payloadOffset int) (Tag, error) {
	t := &DefineSprite{Header: h}
	var err error
	if t.ID, err = s.u16(); err != nil {
		return nil, err
	}
	if t.FrameCount, err = s.u16(); err != nil {
		return nil, err
	}
	sub := NewReader(s.rest(), s.version, payloadOffset+4)
	tags, skipped, err := sub.ReadAll()
	if err != nil {
		return nil, err
	}
	t.Tags = tags
	t.Errors = skipped
	return t, nil
}

func decodeDefineEditText(h Header, s *stream) (Tag, error) {
	t := &DefineEditText{Header: h}
	var err error
	if t.ID, err = s.u16(); err != nil {
		return nil, err
	}
	if t.Bounds, err = s.rect(); err != nil {
		return nil, err
	}
	hi, err := s.u8()
	if err != nil {
		return nil, err
	}
	lo, err := s.u8()
	if err != nil {
		return nil, err
	}
	t.Flags = uint16(hi)<<8 | uint16(lo)

	if t.Flags&EditHasFont != 0 {
		if t.FontID, err = s.u16(); err != nil {
			return nil, err
		}
	}
	if t.Flags&EditHasFontClass != 0 {
		if t.FontClass, err = s.cstring(); err != nil {
			return nil, err
		}
	}
	if t.Flags&(EditHasFont|EditHasFontClass) != 0 {
		if t.FontHeight, err = s.u16(); err != nil {
			return nil, err
		}
	}
	if t.Flags&EditHasTextColor != 0 {
		if t.Color, err = s.rgba(); err != nil {
			return nil, err
		}
	}
	if t.Flags&EditHasMaxLength != 0 {
		if t.MaxLength, err = s.u16(); err != nil {
			return nil, err
		}
	}
	if t.Flags&EditHasLayout != 0 {
		if t.Align, err = s.u8(); err != nil {
			return nil, err
		}
		if t.LeftMargin, err = s.u16(); err != nil {
			return nil, err
		}
		if t.RightMargin, err = s.u16(); err != nil {
			return nil, err
		}
		if t.Indent, err = s.u16(); err != nil {
			return nil, err
		}
		if t.Leading, err = s.i16(); err != nil {
			return nil, err
		}
	}
	if t.VariableName, err = s.cstring(); err != nil {
		return nil, err
	}
	if t.Flags&EditHasText != 0 {
		if t.InitialText, err = s.cstring(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func decodeDefineBitsLossless(h Header, s *stream) (Tag, error) {
	t := &DefineBitsLossless{Header: h, Version: 1}
	if h.TagCode == TagDefineBitsLossless2 {
		t.Version = 2
	}
	var err error
	if t.ID, err = s.u16(); err != nil {
		return nil, err
	}
	if t.Format, err = s.u8(); err != nil {
		return nil, err
	}
	if t.Width, err = s.u16(); err != nil {
		return nil, err
	}
	if t.Height, err = s.u16(); err != nil {
		return nil, err
	}
	if t.Format == 3 {
		if t.ColorTableSize, err = s.u8(); err != nil {
			return nil, err
		}
	}
	t.ZlibData = s.rest()
	return t, nil
}

func decodeDoABC2(h Header, s *stream) (Tag, error) {
	t := &DoABC{Header: h}
	var err error
	if t.Flags, err = s.u32(); err != nil {
		return nil, err
	}
	if t.Name, err = s.cstring(); err != nil {
		return nil, err
	}
	t.Data = s.rest()
	return t, nil
}
