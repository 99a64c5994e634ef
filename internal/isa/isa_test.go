package isa

import (
	"testing"

	"github.com/intuitionamiga/crc32gen/internal/poly"
)

func TestParseKnownNames(t *testing.T) {
	cases := []struct {
		in   string
		want ISA
	}{
		{"none", None},
		{"neon", NEON},
		{"neon_eor3", NEONEOR3},
		{"sse", SSE},
		{"avx", SSE},
		{"avx2", SSE},
		{"avx512", AVX512},
		{"avx512_vpclmulqdq", AVX512VPCLMULQDQ},
	}
	for _, c := range cases {
		got, ok := Parse(c.in)
		if !ok || got != c.want {
			t.Errorf("Parse(%q) = (%v, %v), want (%v, true)", c.in, got, ok, c.want)
		}
	}
	if _, ok := Parse("bogus"); ok {
		t.Error("Parse(bogus) unexpectedly ok")
	}
}

func TestStringRoundTripsThroughParse(t *testing.T) {
	for _, i := range []ISA{None, NEON, NEONEOR3, SSE, AVX512, AVX512VPCLMULQDQ} {
		got, ok := Parse(i.String())
		if !ok || got != i {
			t.Errorf("Parse(%v.String()) = (%v, %v), want (%v, true)", i, got, ok, i)
		}
	}
}

func TestHasTernaryXOR(t *testing.T) {
	want := map[ISA]bool{
		None:             false,
		NEON:             false,
		NEONEOR3:         true,
		SSE:              false,
		AVX512:           true,
		AVX512VPCLMULQDQ: true,
	}
	for i, w := range want {
		if got := i.HasTernaryXOR(); got != w {
			t.Errorf("%v.HasTernaryXOR() = %v, want %v", i, got, w)
		}
	}
}

func TestIsNEON(t *testing.T) {
	if !NEON.IsNEON() || !NEONEOR3.IsNEON() {
		t.Error("expected both NEON profiles to report IsNEON")
	}
	if SSE.IsNEON() || AVX512.IsNEON() || None.IsNEON() {
		t.Error("expected non-NEON profiles to report !IsNEON")
	}
}

func TestNewProfileScalarAndVectorWidths(t *testing.T) {
	cases := []struct {
		i                       ISA
		scalarBytes, vectorBytes uint32
	}{
		{None, 4, 16},
		{NEON, 8, 16},
		{NEONEOR3, 8, 16},
		{SSE, 8, 16},
		{AVX512, 8, 16},
		{AVX512VPCLMULQDQ, 8, 64},
	}
	for _, c := range cases {
		p := NewProfile(c.i)
		if p.ScalarBytes != c.scalarBytes {
			t.Errorf("NewProfile(%v).ScalarBytes = %d, want %d", c.i, p.ScalarBytes, c.scalarBytes)
		}
		if p.VectorBytes != c.vectorBytes {
			t.Errorf("NewProfile(%v).VectorBytes = %d, want %d", c.i, p.VectorBytes, c.vectorBytes)
		}
	}
}

func TestHardwareScalarFns(t *testing.T) {
	if _, ok := HardwareScalarFns(poly.CRC32, NEON); !ok {
		t.Error("expected CRC-32 on NEON to have hardware scalar fns")
	}
	if _, ok := HardwareScalarFns(poly.CRC32C, SSE); !ok {
		t.Error("expected CRC-32C on SSE to have hardware scalar fns")
	}
	if _, ok := HardwareScalarFns(poly.CRC32, SSE); ok {
		t.Error("CRC-32 (not -C) on SSE has no hardware crc32 instruction for this polynomial")
	}
	if _, ok := HardwareScalarFns(poly.CRC32Q, NEON); ok {
		t.Error("CRC-32/Q has no hardware instruction on any ISA")
	}
	fns, ok := HardwareScalarFns(poly.CRC32C, AVX512)
	if !ok || fns.Dword != "_mm_crc32_u64" {
		t.Errorf("HardwareScalarFns(crc32c, avx512) = %+v, %v", fns, ok)
	}
}
