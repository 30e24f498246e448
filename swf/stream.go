package swf

import (
	"bytes"
	"encoding/binary"
	"math"

	"golang.org/x/text/encoding/charmap"
)

// stream reads little-endian fixed-width fields and MSB-first bit fields
// from a bounded byte slice. Any byte read realigns to a byte boundary.
type stream struct {
	data    []byte
	pos     int
	version uint8

	bitBuf   byte
	bitCount uint
}

func newStream(data []byte, version uint8) *stream {
	return &stream{data: data, version: version}
}

func (s *stream) remaining() int {
	return len(s.data) - s.pos
}

func (s *stream) align() {
	s.bitCount = 0
}

func (s *stream) need(n int) error {
	if n < 0 || s.pos+n > len(s.data) {
		return ErrUnexpectedEOF
	}
	return nil
}

// ---------------------------------------------------------------------------
// Fixed-width fields
// ---------------------------------------------------------------------------

func (s *stream) u8() (uint8, error) {
	s.align()
	if err := s.need(1); err != nil {
		return 0, err
	}
	v := s.data[s.pos]
	s.pos++
	return v, nil
}

func (s *stream) u16() (uint16, error) {
	s.align()
	if err := s.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(s.data[s.pos:])
	s.pos += 2
	return v, nil
}

func (s *stream) i16() (int16, error) {
	v, err := s.u16()
	return int16(v), err
}

func (s *stream) u32() (uint32, error) {
	s.align()
	if err := s.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(s.data[s.pos:])
	s.pos += 4
	return v, nil
}

func (s *stream) f32() (float32, error) {
	v, err := s.u32()
	return math.Float32frombits(v), err
}

func (s *stream) f64() (float64, error) {
	s.align()
	if err := s.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(s.data[s.pos:])
	s.pos += 8
	return math.Float64frombits(v), nil
}

// fixed8 reads an unsigned 8.8 fixed-point number.
func (s *stream) fixed8() (float64, error) {
	v, err := s.u16()
	return float64(v) / 256.0, err
}

func (s *stream) bytes(n int) ([]byte, error) {
	s.align()
	if err := s.need(n); err != nil {
		return nil, err
	}
	b := s.data[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

// rest returns every unread byte.
func (s *stream) rest() []byte {
	s.align()
	b := s.data[s.pos:]
	s.pos = len(s.data)
	return b
}

// cstring reads a NUL-terminated string. Movies before version 6 store
// strings in the Windows-1252 code page.
func (s *stream) cstring() (string, error) {
	s.align()
	end := bytes.IndexByte(s.data[s.pos:], 0)
	if end < 0 {
		return "", ErrUnexpectedEOF
	}
	raw := s.data[s.pos : s.pos+end]
	s.pos += end + 1
	return DecodeString(raw, s.version), nil
}

// DecodeString decodes file text: UTF-8 from version 6, Windows-1252
// before.
func DecodeString(raw []byte, version uint8) string {
	if version >= 6 {
		return string(raw)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// ---------------------------------------------------------------------------
// Bit fields
// ---------------------------------------------------------------------------

func (s *stream) ub(n uint) (uint32, error) {
	var v uint32
	for i := uint(0); i < n; i++ {
		if s.bitCount == 0 {
			if s.pos >= len(s.data) {
				return 0, ErrUnexpectedEOF
			}
			s.bitBuf = s.data[s.pos]
			s.pos++
			s.bitCount = 8
		}
		s.bitCount--
		v = v<<1 | uint32(s.bitBuf>>s.bitCount)&1
	}
	return v, nil
}

func (s *stream) sb(n uint) (int32, error) {
	v, err := s.ub(n)
	if err != nil || n == 0 {
		return 0, err
	}
	shift := 32 - n
	return int32(v<<shift) >> shift, nil
}

// fb reads a signed 16.16 fixed-point bit field.
func (s *stream) fb(n uint) (float64, error) {
	v, err := s.sb(n)
	return float64(v) / 65536.0, err
}

func (s *stream) flag() (bool, error) {
	v, err := s.ub(1)
	return v == 1, err
}
