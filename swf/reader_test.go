package swf

import (
	"errors"
	"io"
	"testing"
)

func sampleMovie() *Builder {
	b := NewBuilder(10, 24, 3)
	b.FileAttributes(AttrActionScript3)
	b.DefineShape(1, Rect{XMin: 0, XMax: 200, YMin: 0, YMax: 100})
	b.PlaceObject2(1, 1, false, &Matrix{ScaleX: 1, ScaleY: 1, TranslateX: 40, TranslateY: -20}, "box")
	b.ShowFrame()
	b.ShowFrame()
	b.RemoveObject2(1)
	b.ShowFrame()
	return b
}

func TestParseUncompressed(t *testing.T) {
	m, err := Parse(sampleMovie().Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Header.Signature != "FWS" || m.Header.Version != 10 {
		t.Errorf("header = %s v%d, want FWS v10", m.Header.Signature, m.Header.Version)
	}
	if m.Header.FrameCount != 3 {
		t.Errorf("FrameCount = %d, want 3", m.Header.FrameCount)
	}
	if m.Header.FrameRate != 24 {
		t.Errorf("FrameRate = %v, want 24", m.Header.FrameRate)
	}
	if m.Header.FrameSize.Width() != 550*TwipsPerPixel {
		t.Errorf("frame width = %d, want %d", m.Header.FrameSize.Width(), 550*TwipsPerPixel)
	}
	if !m.IsActionScript3() {
		t.Error("IsActionScript3 = false, want true")
	}

	want := []TagCode{
		TagFileAttributes, TagDefineShape, TagPlaceObject2,
		TagShowFrame, TagShowFrame, TagRemoveObject2, TagShowFrame,
	}
	if len(m.Tags) != len(want) {
		t.Fatalf("got %d tags, want %d", len(m.Tags), len(want))
	}
	for i, code := range want {
		if m.Tags[i].Code() != code {
			t.Errorf("tag %d = %s, want %s", i, m.Tags[i].Code(), code)
		}
	}

	po := m.Tags[2].(*PlaceObject)
	if po.Mode() != PlaceAdd || po.Depth != 1 || po.CharacterID != 1 || po.Name != "box" {
		t.Errorf("PlaceObject2 decoded as %+v", po)
	}
	if po.Matrix == nil || po.Matrix.TranslateX != 40 || po.Matrix.TranslateY != -20 {
		t.Errorf("PlaceObject2 matrix = %+v", po.Matrix)
	}

	shape := m.Tags[1].(*DefineShape)
	if shape.Bounds.Width() != 200 || shape.Bounds.Height() != 100 {
		t.Errorf("shape bounds = %+v", shape.Bounds)
	}
}

func TestParseCompressed(t *testing.T) {
	data := sampleMovie().Compressed()
	if string(data[:3]) != "CWS" {
		t.Fatalf("signature = %q", data[:3])
	}
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Tags) != 7 {
		t.Errorf("got %d tags, want 7", len(m.Tags))
	}
}

func TestParseBadSignature(t *testing.T) {
	data := sampleMovie().Bytes()
	copy(data, "XYZ")
	_, err := Parse(data)
	if !errors.Is(err, ErrMalformedContainer) {
		t.Errorf("err = %v, want ErrMalformedContainer", err)
	}
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestParseShortFile(t *testing.T) {
	_, err := Parse([]byte("FWS"))
	if !errors.Is(err, ErrMalformedContainer) {
		t.Errorf("err = %v, want ErrMalformedContainer", err)
	}
}

func TestMalformedTagIsSkipped(t *testing.T) {
	b := NewBuilder(10, 12, 1)
	// SetBackgroundColor needs three bytes; one is a malformed payload.
	b.Tag(TagSetBackgroundColor, []byte{0xff})
	b.ShowFrame()

	m, err := Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(m.Skipped))
	}
	if !errors.Is(m.Skipped[0], ErrMalformedTag) {
		t.Errorf("skipped error = %v, want ErrMalformedTag", m.Skipped[0])
	}
	var te *TagError
	if !errors.As(m.Skipped[0], &te) || te.Code != TagSetBackgroundColor {
		t.Errorf("skipped error = %v, want TagError for SetBackgroundColor", m.Skipped[0])
	}
	if len(m.Tags) != 1 || m.Tags[0].Code() != TagShowFrame {
		t.Errorf("tags after skip = %v", m.Tags)
	}
}

func TestLengthOverflowIsFatal(t *testing.T) {
	b := NewBuilder(10, 12, 1)
	b.ShowFrame()
	data := b.Bytes()
	// Append a tag header that claims more bytes than exist, before End.
	end := len(data) - 2
	h := uint16(TagDoAction)<<6 | 10
	tail := []byte{byte(h), byte(h >> 8), 1, 2}
	data = append(data[:end:end], tail...)

	_, err := Parse(data)
	if !errors.Is(err, ErrTagLengthOverflow) {
		t.Errorf("err = %v, want ErrTagLengthOverflow", err)
	}
}

func TestUnknownTagPreserved(t *testing.T) {
	b := NewBuilder(10, 12, 1)
	b.Tag(TagCode(777), []byte{1, 2, 3})
	b.ShowFrame()
	m, err := Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	u, ok := m.Tags[0].(*UnknownTag)
	if !ok {
		t.Fatalf("tag 0 = %T, want *UnknownTag", m.Tags[0])
	}
	if u.Code() != 777 || len(u.Data) != 3 {
		t.Errorf("unknown tag = code %d data %v", u.Code(), u.Data)
	}
	if u.Code().String() != "Tag(777)" {
		t.Errorf("String() = %q", u.Code().String())
	}
}

func TestLongTagHeader(t *testing.T) {
	actions := make([]byte, 100)
	b := NewBuilder(10, 12, 1)
	b.DoAction(actions)
	m, err := Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	da := m.Tags[0].(*DoAction)
	if len(da.Actions) != 100 {
		t.Errorf("actions length = %d, want 100", len(da.Actions))
	}
}

func TestDefineSpriteNesting(t *testing.T) {
	inner := NewBuilder(10, 0, 0)
	inner.PlaceObject2(1, 2, false, nil, "")
	inner.ShowFrame()
	inner.ShowFrame()

	b := NewBuilder(10, 12, 1)
	b.DefineShape(2, Rect{XMax: 20, YMax: 20})
	b.DefineSprite(5, 2, inner)
	b.ShowFrame()

	m, err := Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sp, ok := m.Tags[1].(*DefineSprite)
	if !ok {
		t.Fatalf("tag 1 = %T, want *DefineSprite", m.Tags[1])
	}
	if sp.ID != 5 || sp.FrameCount != 2 {
		t.Errorf("sprite = id %d frames %d", sp.ID, sp.FrameCount)
	}
	if len(sp.Tags) != 3 {
		t.Fatalf("sprite tags = %d, want 3", len(sp.Tags))
	}
	if sp.Tags[0].(*PlaceObject).CharacterID != 2 {
		t.Errorf("nested placement character = %d", sp.Tags[0].(*PlaceObject).CharacterID)
	}
	if sp.Tags[0].(*PlaceObject).Header.Offset <= sp.Offset {
		t.Errorf("nested offset %d not after sprite offset %d", sp.Tags[0].(*PlaceObject).Header.Offset, sp.Offset)
	}
}

func TestReaderIsFinite(t *testing.T) {
	hdr, r, err := Open(sampleMovie().Bytes())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	frames := 0
	for tag, err := range r.Tags() {
		if err != nil {
			t.Fatalf("tag error: %v", err)
		}
		if tag.Code() == TagShowFrame {
			frames++
		}
	}
	if frames > int(hdr.FrameCount) {
		t.Errorf("frames = %d, exceeds declared %d", frames, hdr.FrameCount)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after end = %v, want io.EOF", err)
	}
}

func TestPlaceModes(t *testing.T) {
	tests := []struct {
		p    PlaceObject
		want PlaceMode
	}{
		{PlaceObject{Version: 1, HasCharacter: true}, PlaceAdd},
		{PlaceObject{Version: 2, HasCharacter: true}, PlaceAdd},
		{PlaceObject{Version: 2, Move: true}, PlaceModify},
		{PlaceObject{Version: 3, Move: true, HasCharacter: true}, PlaceReplace},
	}
	for _, tt := range tests {
		if got := tt.p.Mode(); got != tt.want {
			t.Errorf("Mode(%+v) = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestLegacyStringEncoding(t *testing.T) {
	b := NewBuilder(5, 12, 1)
	b.FrameLabel("caf\xe9")
	m, err := Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := m.Tags[0].(*FrameLabel).Name; got != "café" {
		t.Errorf("label = %q, want %q", got, "café")
	}
}
