package swf

import "testing"

func TestRectKnownBytes(t *testing.T) {
	// 550x400 stage as written by the reference authoring tool.
	s := newStream([]byte{0x78, 0x00, 0x05, 0x5f, 0x00, 0x00, 0x0f, 0xa0, 0x00, 0xaa}, 10)
	r, err := s.rect()
	if err != nil {
		t.Fatalf("rect: %v", err)
	}
	want := Rect{XMin: 0, XMax: 11000, YMin: 0, YMax: 8000}
	if r != want {
		t.Errorf("rect = %+v, want %+v", r, want)
	}
	next, _ := s.u8()
	if next != 0xaa {
		t.Errorf("byte after rect = %#x, want 0xaa (rect must realign)", next)
	}
}

func TestMatrixRoundTrip(t *testing.T) {
	tests := []Matrix{
		IdentityMatrix,
		{ScaleX: 1, ScaleY: 1, TranslateX: 1000, TranslateY: -3},
		{ScaleX: 1.5, ScaleY: -0.25, TranslateX: 0, TranslateY: 0},
		{ScaleX: 1, ScaleY: 1, RotateSkew0: 0.5, RotateSkew1: -0.5, TranslateX: -20, TranslateY: 20},
		{ScaleX: 0.0000152587890625, ScaleY: 2, RotateSkew0: 1, RotateSkew1: 1, TranslateX: 1 << 20, TranslateY: -(1 << 20)},
	}
	for _, m := range tests {
		var w bitWriter
		w.matrix(m)
		got, err := newStream(w.buf, 10).matrix()
		if err != nil {
			t.Errorf("matrix(%+v): %v", m, err)
			continue
		}
		if got != m {
			t.Errorf("matrix round trip = %+v, want %+v", got, m)
		}
	}
}

func TestMatrixNoFields(t *testing.T) {
	// HasScale=0 HasRotate=0 NTranslateBits=0: a single zero byte.
	m, err := newStream([]byte{0x00}, 10).matrix()
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if m != IdentityMatrix {
		t.Errorf("matrix = %+v, want identity", m)
	}
}

func TestColorTransformAddOnly(t *testing.T) {
	var w bitWriter
	w.ub(1, 1) // HasAddTerms
	w.ub(1, 0) // HasMultTerms
	w.ub(4, 9)
	w.sb(9, 10)
	w.sb(9, -10)
	w.sb(9, 255)

	c, err := newStream(w.buf, 10).colorTransform(false)
	if err != nil {
		t.Fatalf("colorTransform: %v", err)
	}
	want := IdentityColorTransform
	want.RedAdd, want.GreenAdd, want.BlueAdd = 10, -10, 255
	if c != want {
		t.Errorf("cxform = %+v, want %+v", c, want)
	}
}

func TestColorTransformWithAlpha(t *testing.T) {
	var w bitWriter
	w.ub(1, 0)
	w.ub(1, 1)
	w.ub(4, 10)
	w.sb(10, 256)
	w.sb(10, 128)
	w.sb(10, 0)
	w.sb(10, -256)

	c, err := newStream(w.buf, 10).colorTransform(true)
	if err != nil {
		t.Fatalf("colorTransform: %v", err)
	}
	if c.RedMult != 256 || c.GreenMult != 128 || c.BlueMult != 0 || c.AlphaMult != -256 {
		t.Errorf("mult terms = %d %d %d %d", c.RedMult, c.GreenMult, c.BlueMult, c.AlphaMult)
	}
	if c.RedAdd != 0 || c.AlphaAdd != 0 {
		t.Errorf("add terms = %+v, want zero", c)
	}
}

func TestSignedBitFields(t *testing.T) {
	// 3-bit fields 111 and 011 then padding: -1 and 3.
	s := newStream([]byte{0b11101100}, 10)
	a, _ := s.sb(3)
	b, _ := s.sb(3)
	if a != -1 || b != 3 {
		t.Errorf("sb = %d, %d; want -1, 3", a, b)
	}
}

func TestMatrixConcat(t *testing.T) {
	parent := Matrix{ScaleX: 2, ScaleY: 2, TranslateX: 100}
	child := Matrix{ScaleX: 1, ScaleY: 1, TranslateX: 10, TranslateY: 5}
	got := parent.Concat(child)
	want := Matrix{ScaleX: 2, ScaleY: 2, TranslateX: 120, TranslateY: 10}
	if got != want {
		t.Errorf("Concat = %+v, want %+v", got, want)
	}
	if IdentityMatrix.Concat(child) != child {
		t.Error("identity concat changed the child")
	}
}

func TestColorTransformConcat(t *testing.T) {
	half := IdentityColorTransform
	half.AlphaMult = 128
	got := half.Concat(half)
	if got.AlphaMult != 64 {
		t.Errorf("AlphaMult = %d, want 64", got.AlphaMult)
	}
	if got.RedMult != 256 {
		t.Errorf("RedMult = %d, want 256", got.RedMult)
	}
}
