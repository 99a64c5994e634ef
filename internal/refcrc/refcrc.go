// Package refcrc is a reference byte-at-a-time CRC implementation used
// only by tests as ground truth against generated C semantics. It never
// appears in generated output.
package refcrc

import "github.com/intuitionamiga/crc32gen/internal/poly"

// Table builds the 256-entry lookup table for the reversed polynomial p:
// table[i] is the result of running the reflected CRC shift register eight
// times over byte value i.
func Table(p poly.Polynomial) [256]uint32 {
	var t [256]uint32
	for i := range t {
		crc := uint32(i)
		for range 8 {
			crc = (crc >> 1) ^ ((crc & 1) * uint32(p))
		}
		t[i] = crc
	}
	return t
}

// CRC computes the reflected CRC of data for polynomial p, seeded with crc
// (callers wanting the conventional "start at all-ones, invert at the end"
// convention do that themselves — this function performs the bare
// "(crc >> 8) ^ table[(crc ^ byte) & 0xFF]" step spec.md names as the
// ground truth, nothing more).
func CRC(p poly.Polynomial, crc uint32, data []byte) uint32 {
	t := Table(p)
	for _, b := range data {
		crc = (crc >> 8) ^ t[(crc^uint32(b))&0xFF]
	}
	return crc
}
