package refcrc

import (
	"testing"

	"github.com/intuitionamiga/crc32gen/internal/poly"
)

// fullCRC wraps the bare CRC step with the seed-invert/result-invert
// convention crc32_impl uses, matching the semantics the generated C
// function implements (crc0 = ~crc0 on entry, return ~crc0 on exit).
func fullCRC(p poly.Polynomial, crc uint32, data []byte) uint32 {
	return ^CRC(p, ^crc, data)
}

func TestSelfDescribingPolynomialProbe(t *testing.T) {
	// For any polynomial p, running the generated function's convention
	// (seed-invert, table step, result-invert) over a single byte 0x80
	// starting from crc=0xffffffff yields ~p: the seed inversion leaves a
	// zero register, table[0x80] is p itself, and the result inversion
	// gives ~p. This is the self-describing probe used to sanity-check a
	// CRC implementation's polynomial.
	for _, p := range []poly.Polynomial{poly.CRC32, poly.CRC32C, poly.CRC32K, poly.CRC32K2, poly.CRC32Q} {
		got := fullCRC(p, 0xffffffff, []byte{0x80})
		want := ^uint32(p)
		if got != want {
			t.Errorf("fullCRC(%#x, 0xffffffff, [0x80]) = %#x, want %#x", uint32(p), got, want)
		}
	}
}

func TestCRCAgreesWithTableFreeReference(t *testing.T) {
	linear := func(p poly.Polynomial, crc uint32, data []byte) uint32 {
		for _, b := range data {
			crc ^= uint32(b)
			for range 8 {
				mask := -(crc & 1)
				crc = (crc >> 1) ^ (uint32(p) & mask)
			}
		}
		return crc
	}
	data := []byte("the quick brown fox jumps over the lazy dog")
	for _, p := range []poly.Polynomial{poly.CRC32, poly.CRC32C} {
		got := CRC(p, 0xffffffff, data)
		want := linear(p, 0xffffffff, data)
		if got != want {
			t.Errorf("CRC disagrees with linear reference for %#x: got %#x want %#x", uint32(p), got, want)
		}
	}
}
