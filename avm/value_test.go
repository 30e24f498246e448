package avm

import (
	"math"
	"testing"
)

func TestNumberRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		1.0,
		-1.0,
		3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		-math.MaxFloat64,
		math.Inf(1),
		math.Inf(-1),
	}
	for _, f := range tests {
		v := Number(f)
		if !v.IsNumber() {
			t.Errorf("Number(%v).IsNumber() = false", f)
			continue
		}
		if got := v.Float64(); got != f {
			t.Errorf("Number(%v).Float64() = %v", f, got)
		}
	}
}

func TestNaNIsCanonical(t *testing.T) {
	weird := math.Float64frombits(0xFFF3000000000001)
	v := Number(weird)
	if !v.IsNumber() || !math.IsNaN(v.Float64()) {
		t.Fatal("NaN payload not preserved as a number")
	}
	if v.IsObject() || v.IsString() {
		t.Error("NaN misread as a tagged value")
	}
	if Number(math.NaN()) != v {
		t.Error("NaNs do not share one encoding")
	}
}

func TestSpecials(t *testing.T) {
	tests := []struct {
		v    Value
		want Type
	}{
		{Undefined, TypeUndefined},
		{Null, TypeNull},
		{True, TypeBoolean},
		{False, TypeBoolean},
		{Number(0), TypeNumber},
	}
	for _, tt := range tests {
		if got := tt.v.Type(); got != tt.want {
			t.Errorf("Type(%#x) = %s, want %s", uint64(tt.v), got, tt.want)
		}
	}
	if !Undefined.IsNullish() || !Null.IsNullish() || False.IsNullish() {
		t.Error("IsNullish wrong")
	}
	if Bool(true) != True || Bool(false) != False {
		t.Error("Bool boxing wrong")
	}
}

func TestRefEncoding(t *testing.T) {
	r := makeRef(123456, 7)
	v := FromRef(r)
	if !v.IsObject() || v.IsNumber() {
		t.Fatal("object ref not tagged as object")
	}
	if v.Ref().index() != 123456 || v.Ref().gen() != 7 {
		t.Errorf("ref = %d/%d, want 123456/7", v.Ref().index(), v.Ref().gen())
	}
}

func TestNumberToString(t *testing.T) {
	a, b := 0.1, 0.2
	sum := a + b
	tests := []struct {
		f    float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-1.5, "-1.5"},
		{123456789, "123456789"},
		{sum, "0.30000000000000004"},
		{1e21, "1e+21"},
		{1e20, "100000000000000000000"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{math.NaN(), "NaN"},
		{math.Inf(-1), "-Infinity"},
	}
	for _, tt := range tests {
		if got := NumberToString(tt.f); got != tt.want {
			t.Errorf("NumberToString(%v) = %q, want %q", tt.f, got, tt.want)
		}
	}
	if got := NumberToStringPrecision(sum, 15, 15); got != "0.3" {
		t.Errorf("legacy format of 0.1+0.2 = %q, want 0.3", got)
	}
	if got := NumberToStringPrecision(1e15, 15, 15); got != "1e+15" {
		t.Errorf("legacy format of 1e15 = %q, want 1e+15", got)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		s    string
		want float64
	}{
		{"5", 5},
		{" 12.5 ", 12.5},
		{"0x1F", 31},
		{"-3e2", -300},
		{"Infinity", math.Inf(1)},
	}
	for _, tt := range tests {
		if got := ParseNumber(tt.s, true); got != tt.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
	for _, s := range []string{"abc", "5px", "inf", "NaN", "1_000"} {
		if got := ParseNumber(s, true); !math.IsNaN(got) {
			t.Errorf("ParseNumber(%q) = %v, want NaN", s, got)
		}
	}
	if ParseNumber("", true) != 0 || !math.IsNaN(ParseNumber("", false)) {
		t.Error("empty string handling wrong")
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		s      string
		radix  int
		legacy bool
		want   float64
	}{
		{"42px", 0, false, 42},
		{"  -17", 0, false, -17},
		{"0x1f", 0, false, 31},
		{"ff", 16, false, 255},
		{"010", 0, true, 8},
		{"010", 0, false, 10},
		{"z", 36, false, 35},
	}
	for _, tt := range tests {
		if got := ParseInt(tt.s, tt.radix, tt.legacy); got != tt.want {
			t.Errorf("ParseInt(%q, %d) = %v, want %v", tt.s, tt.radix, got, tt.want)
		}
	}
	if !math.IsNaN(ParseInt("px", 0, false)) || !math.IsNaN(ParseInt("1", 40, false)) {
		t.Error("ParseInt without digits should be NaN")
	}
	if got := ParseFloatPrefix("3.5em"); got != 3.5 {
		t.Errorf("ParseFloatPrefix = %v, want 3.5", got)
	}
}
