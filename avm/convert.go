package avm

import (
	"math"
	"strconv"
	"strings"
)

// Hint steers object-to-primitive conversion.
type Hint uint8

const (
	HintNone Hint = iota
	HintNumber
	HintString
)

// ToPrimitive converts an object to a primitive; primitives pass through.
func (h *Heap) ToPrimitive(v Value, hint Hint) (Value, error) {
	o := h.Deref(v)
	if o == nil {
		return v, nil
	}
	if h.Primitive != nil {
		return h.Primitive(o, hint)
	}
	return h.DefaultPrimitive(o, hint), nil
}

// DefaultPrimitive converts without running script code.
func (h *Heap) DefaultPrimitive(o *Object, hint Hint) Value {
	switch n := o.Native.(type) {
	case *Boxed:
		return n.Value
	case *Array:
		s, _ := h.Join(n, ",")
		return h.Str(s)
	case *NativeFunction:
		return h.Str("[type Function]")
	}
	return h.Str("[object Object]")
}

// ToNumber applies the loose numeric conversion.
func (h *Heap) ToNumber(v Value) (float64, error) {
	switch v.Type() {
	case TypeNumber:
		return v.Float64(), nil
	case TypeUndefined:
		return math.NaN(), nil
	case TypeNull:
		return 0, nil
	case TypeBoolean:
		if v == True {
			return 1, nil
		}
		return 0, nil
	case TypeString:
		s, _ := h.StringOf(v)
		return ParseNumber(s, true), nil
	}
	p, err := h.ToPrimitive(v, HintNumber)
	if err != nil {
		return 0, err
	}
	if p.IsObject() {
		return math.NaN(), nil
	}
	return h.ToNumber(p)
}

// ToString applies the loose string conversion.
func (h *Heap) ToString(v Value) (string, error) {
	switch v.Type() {
	case TypeString:
		s, _ := h.StringOf(v)
		return s, nil
	case TypeNumber:
		return NumberToString(v.Float64()), nil
	case TypeUndefined:
		return "undefined", nil
	case TypeNull:
		return "null", nil
	case TypeBoolean:
		if v == True {
			return "true", nil
		}
		return "false", nil
	}
	p, err := h.ToPrimitive(v, HintString)
	if err != nil {
		return "", err
	}
	if p.IsObject() {
		return "[object Object]", nil
	}
	return h.ToString(p)
}

// ToBoolean applies truthiness: false for undefined, null, false, zero,
// NaN and the empty string.
func (h *Heap) ToBoolean(v Value) bool {
	switch v.Type() {
	case TypeBoolean:
		return v == True
	case TypeNumber:
		f := v.Float64()
		return f != 0 && !math.IsNaN(f)
	case TypeString:
		s, _ := h.StringOf(v)
		return s != ""
	case TypeObject:
		return true
	}
	return false
}

// ToInt32 converts to a 32-bit signed integer with modular wrapping.
func (h *Heap) ToInt32(v Value) (int32, error) {
	f, err := h.ToNumber(v)
	return int32(ToUint32(f)), err
}

// ToUint32 converts a number to a 32-bit unsigned integer with modular
// wrapping; NaN and infinities become 0.
func ToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	f = math.Mod(f, 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}

// TypeOf returns the typeof name of v.
func (h *Heap) TypeOf(v Value) string {
	switch v.Type() {
	case TypeObject:
		o := h.Deref(v)
		if o != nil && IsCallable(o) {
			return "function"
		}
		return "object"
	case TypeNull:
		return "object"
	}
	return v.Type().String()
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// StrictEquals compares without conversion.
func (h *Heap) StrictEquals(a, b Value) bool {
	ta, tb := a.Type(), b.Type()
	if ta != tb {
		return false
	}
	switch ta {
	case TypeNumber:
		return a.Float64() == b.Float64()
	case TypeString:
		if a == b {
			return true
		}
		sa, _ := h.StringOf(a)
		sb, _ := h.StringOf(b)
		return sa == sb
	}
	return a == b
}

// LooseEquals is the abstract equality comparison: null and undefined are
// equal to each other, numbers compare with converted strings and
// booleans, and objects convert to primitives when compared with one.
func (h *Heap) LooseEquals(a, b Value) (bool, error) {
	ta, tb := a.Type(), b.Type()
	if ta == tb {
		return h.StrictEquals(a, b), nil
	}
	switch {
	case a.IsNullish() && b.IsNullish():
		return true, nil
	case ta == TypeNumber && tb == TypeString:
		nb, _ := h.ToNumber(b)
		return a.Float64() == nb, nil
	case ta == TypeString && tb == TypeNumber:
		na, _ := h.ToNumber(a)
		return na == b.Float64(), nil
	case ta == TypeBoolean:
		na, _ := h.ToNumber(a)
		return h.LooseEquals(Number(na), b)
	case tb == TypeBoolean:
		nb, _ := h.ToNumber(b)
		return h.LooseEquals(a, Number(nb))
	case (ta == TypeNumber || ta == TypeString) && tb == TypeObject:
		pb, err := h.ToPrimitive(b, HintNone)
		if err != nil || pb.IsObject() {
			return false, err
		}
		return h.LooseEquals(a, pb)
	case ta == TypeObject && (tb == TypeNumber || tb == TypeString):
		pa, err := h.ToPrimitive(a, HintNone)
		if err != nil || pa.IsObject() {
			return false, err
		}
		return h.LooseEquals(pa, b)
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Number <-> string
// ---------------------------------------------------------------------------

// ParseNumber converts script source text to a number. Surrounding
// whitespace is ignored; hexadecimal needs a 0x prefix; anything else
// that is not a decimal literal is NaN. emptyIsZero selects whether an
// empty string is 0 or NaN.
func ParseNumber(s string, emptyIsZero bool) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		if emptyIsZero {
			return 0
		}
		return math.NaN()
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789.eE+-", c) {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// ParseInt parses an integer prefix of s in radix, 0 meaning 10 or a 0x
// prefix. With legacyOctal a leading zero selects radix 8. No digits is
// NaN.
func ParseInt(s string, radix int, legacyOctal bool) float64 {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if radix == 0 || radix == 16 {
		if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
			radix, s = 16, s[2:]
		}
	}
	if radix == 0 {
		radix = 10
		if legacyOctal && len(s) > 1 && s[0] == '0' {
			radix = 8
		}
	}
	if radix < 2 || radix > 36 {
		return math.NaN()
	}
	n, digits := 0.0, 0
	for _, c := range strings.ToLower(s) {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'z':
			d = int(c-'a') + 10
		default:
			d = radix
		}
		if d >= radix {
			break
		}
		n = n*float64(radix) + float64(d)
		digits++
	}
	if digits == 0 {
		return math.NaN()
	}
	if neg {
		return -n
	}
	return n
}

// ParseFloatPrefix parses the longest numeric prefix of s.
func ParseFloatPrefix(s string) float64 {
	s = strings.TrimSpace(s)
	for end := len(s); end > 0; end-- {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

// NumberToString formats a number the way the modern dialect does: the
// shortest round-tripping digits, exponent form outside [1e-7, 1e21).
func NumberToString(f float64) string {
	return formatNumber(f, -1, 21)
}

// NumberToStringPrecision formats with at most prec significant digits,
// switching to exponent form at 10^maxExp, as the legacy dialect does.
func NumberToStringPrecision(f float64, prec, maxExp int) string {
	return formatNumber(f, prec, maxExp)
}

func formatNumber(f float64, prec, maxExp int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	case f < 0:
		return "-" + formatNumber(-f, prec, maxExp)
	}

	p := prec
	if p > 0 {
		p--
	}
	e := strconv.FormatFloat(f, 'e', p, 64)
	mant, expPart, _ := strings.Cut(e, "e")
	digits := strings.TrimRight(strings.Replace(mant, ".", "", 1), "0")
	exp, _ := strconv.Atoi(expPart)
	k := len(digits)
	n := exp + 1

	var b strings.Builder
	switch {
	case k <= n && n <= maxExp:
		b.WriteString(digits)
		b.WriteString(strings.Repeat("0", n-k))
	case 0 < n && n <= maxExp:
		b.WriteString(digits[:n])
		b.WriteByte('.')
		b.WriteString(digits[n:])
	case -6 < n && n <= 0:
		b.WriteString("0.")
		b.WriteString(strings.Repeat("0", -n))
		b.WriteString(digits)
	default:
		b.WriteByte(digits[0])
		if k > 1 {
			b.WriteByte('.')
			b.WriteString(digits[1:])
		}
		b.WriteByte('e')
		if n-1 >= 0 {
			b.WriteByte('+')
		}
		b.WriteString(strconv.Itoa(n - 1))
	}
	return b.String()
}
