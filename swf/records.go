package swf

import "math"

// TwipsPerPixel is the container's fixed coordinate scale.
const TwipsPerPixel = 20

// Rect is a bounding box in twips.
type Rect struct {
	XMin, XMax int32
	YMin, YMax int32
}

// Width returns the rectangle width in twips.
func (r Rect) Width() int32 { return r.XMax - r.XMin }

// Height returns the rectangle height in twips.
func (r Rect) Height() int32 { return r.YMax - r.YMin }

// RGBA is a straight-alpha color.
type RGBA struct {
	R, G, B, A uint8
}

// Matrix is a 2x3 affine transform. Scale and rotate/skew terms are
// 16.16 fixed-point values widened to float64; translation is in twips.
//
//	x' = ScaleX*x + RotateSkew1*y + TranslateX
//	y' = RotateSkew0*x + ScaleY*y + TranslateY
type Matrix struct {
	ScaleX      float64
	ScaleY      float64
	RotateSkew0 float64
	RotateSkew1 float64
	TranslateX  int32
	TranslateY  int32
}

// IdentityMatrix is the transform that leaves coordinates unchanged.
var IdentityMatrix = Matrix{ScaleX: 1, ScaleY: 1}

// Concat returns the transform that applies child first, then m.
// Translations are rounded to the nearest twip.
func (m Matrix) Concat(child Matrix) Matrix {
	tx := m.ScaleX*float64(child.TranslateX) + m.RotateSkew1*float64(child.TranslateY) + float64(m.TranslateX)
	ty := m.RotateSkew0*float64(child.TranslateX) + m.ScaleY*float64(child.TranslateY) + float64(m.TranslateY)
	return Matrix{
		ScaleX:      m.ScaleX*child.ScaleX + m.RotateSkew1*child.RotateSkew0,
		RotateSkew0: m.RotateSkew0*child.ScaleX + m.ScaleY*child.RotateSkew0,
		RotateSkew1: m.ScaleX*child.RotateSkew1 + m.RotateSkew1*child.ScaleY,
		ScaleY:      m.RotateSkew0*child.RotateSkew1 + m.ScaleY*child.ScaleY,
		TranslateX:  int32(math.Round(tx)),
		TranslateY:  int32(math.Round(ty)),
	}
}

// ColorTransform multiplies then offsets each channel. Multipliers are
// 8.8 fixed point (256 == 1.0).
type ColorTransform struct {
	RedMult, GreenMult, BlueMult, AlphaMult int16
	RedAdd, GreenAdd, BlueAdd, AlphaAdd     int16
}

// IdentityColorTransform leaves colors unchanged.
var IdentityColorTransform = ColorTransform{RedMult: 256, GreenMult: 256, BlueMult: 256, AlphaMult: 256}

// Concat applies child first, then c.
func (c ColorTransform) Concat(child ColorTransform) ColorTransform {
	mul := func(p, q int16) int16 { return int16(int32(p) * int32(q) / 256) }
	add := func(pm, ca, pa int16) int16 { return int16(int32(pm)*int32(ca)/256 + int32(pa)) }
	return ColorTransform{
		RedMult:   mul(c.RedMult, child.RedMult),
		GreenMult: mul(c.GreenMult, child.GreenMult),
		BlueMult:  mul(c.BlueMult, child.BlueMult),
		AlphaMult: mul(c.AlphaMult, child.AlphaMult),
		RedAdd:    add(c.RedMult, child.RedAdd, c.RedAdd),
		GreenAdd:  add(c.GreenMult, child.GreenAdd, c.GreenAdd),
		BlueAdd:   add(c.BlueMult, child.BlueAdd, c.BlueAdd),
		AlphaAdd:  add(c.AlphaMult, child.AlphaAdd, c.AlphaAdd),
	}
}

// ---------------------------------------------------------------------------
// Record decoding
// ---------------------------------------------------------------------------

func (s *stream) rect() (Rect, error) {
	var r Rect
	n, err := s.ub(5)
	if err != nil {
		return r, err
	}
	fields := []*int32{&r.XMin, &r.XMax, &r.YMin, &r.YMax}
	for _, f := range fields {
		if *f, err = s.sb(uint(n)); err != nil {
			return r, err
		}
	}
	s.align()
	return r, nil
}

func (s *stream) rgb() (RGBA, error) {
	b, err := s.bytes(3)
	if err != nil {
		return RGBA{}, err
	}
	return RGBA{R: b[0], G: b[1], B: b[2], A: 255}, nil
}

func (s *stream) rgba() (RGBA, error) {
	b, err := s.bytes(4)
	if err != nil {
		return RGBA{}, err
	}
	return RGBA{R: b[0], G: b[1], B: b[2], A: b[3]}, nil
}

// matrix decodes a MATRIX record:
//
//	HasScale UB[1]  [NScaleBits UB[5] ScaleX FB[n] ScaleY FB[n]]
//	HasRotate UB[1] [NRotateBits UB[5] RotateSkew0 FB[n] RotateSkew1 FB[n]]
//	NTranslateBits UB[5] TranslateX SB[n] TranslateY SB[n]
func (s *stream) matrix() (Matrix, error) {
	m := IdentityMatrix
	s.align()

	hasScale, err := s.flag()
	if err != nil {
		return m, err
	}
	if hasScale {
		n, err := s.ub(5)
		if err != nil {
			return m, err
		}
		if m.ScaleX, err = s.fb(uint(n)); err != nil {
			return m, err
		}
		if m.ScaleY, err = s.fb(uint(n)); err != nil {
			return m, err
		}
	}

	hasRotate, err := s.flag()
	if err != nil {
		return m, err
	}
	if hasRotate {
		n, err := s.ub(5)
		if err != nil {
			return m, err
		}
		if m.RotateSkew0, err = s.fb(uint(n)); err != nil {
			return m, err
		}
		if m.RotateSkew1, err = s.fb(uint(n)); err != nil {
			return m, err
		}
	}

	n, err := s.ub(5)
	if err != nil {
		return m, err
	}
	if m.TranslateX, err = s.sb(uint(n)); err != nil {
		return m, err
	}
	if m.TranslateY, err = s.sb(uint(n)); err != nil {
		return m, err
	}
	s.align()
	return m, nil
}

// colorTransform decodes CXFORM, or CXFORMWITHALPHA when withAlpha is set:
//
//	HasAddTerms UB[1] HasMultTerms UB[1] NBits UB[4]
//	[R G B (A) mult SB[n]] [R G B (A) add SB[n]]
func (s *stream) colorTransform(withAlpha bool) (ColorTransform, error) {
	c := IdentityColorTransform
	s.align()

	hasAdd, err := s.flag()
	if err != nil {
		return c, err
	}
	hasMult, err := s.flag()
	if err != nil {
		return c, err
	}
	n, err := s.ub(4)
	if err != nil {
		return c, err
	}

	read := func(dst ...*int16) error {
		for _, d := range dst {
			if d == nil {
				continue
			}
			v, err := s.sb(uint(n))
			if err != nil {
				return err
			}
			*d = int16(v)
		}
		return nil
	}

	var alphaMult, alphaAdd *int16
	if withAlpha {
		alphaMult, alphaAdd = &c.AlphaMult, &c.AlphaAdd
	}
	if hasMult {
		if err := read(&c.RedMult, &c.GreenMult, &c.BlueMult, alphaMult); err != nil {
			return c, err
		}
	}
	if hasAdd {
		if err := read(&c.RedAdd, &c.GreenAdd, &c.BlueAdd, alphaAdd); err != nil {
			return c, err
		}
	}
	s.align()
	return c, nil
}
