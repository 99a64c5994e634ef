// Package isa holds the per-instruction-set-family parameters the kernel
// emitter needs: scalar/vector widths, intrinsic type names, and the lazy,
// deduplicated emission of helper inlines (carry-less multiply, scalar CRC
// helpers, the polynomial-shift helper) together with the #include lines
// they require.
package isa

import "github.com/intuitionamiga/crc32gen/internal/poly"

// ISA is a tagged CPU instruction-set-family selector.
type ISA int

const (
	None ISA = iota
	NEON
	NEONEOR3
	SSE
	AVX512
	AVX512VPCLMULQDQ
)

// Parse maps a CLI ISA spelling onto an ISA value. "sse", "avx" and "avx2"
// are all aliases for the SSE/PCLMULQDQ profile: none of them change the
// instructions emitted, only which compiler flag the caller intends to
// build with.
func Parse(name string) (ISA, bool) {
	switch name {
	case "none":
		return None, true
	case "neon":
		return NEON, true
	case "neon_eor3":
		return NEONEOR3, true
	case "sse", "avx", "avx2":
		return SSE, true
	case "avx512":
		return AVX512, true
	case "avx512_vpclmulqdq":
		return AVX512VPCLMULQDQ, true
	default:
		return 0, false
	}
}

func (i ISA) String() string {
	switch i {
	case None:
		return "none"
	case NEON:
		return "neon"
	case NEONEOR3:
		return "neon_eor3"
	case SSE:
		return "sse"
	case AVX512:
		return "avx512"
	case AVX512VPCLMULQDQ:
		return "avx512_vpclmulqdq"
	default:
		return "unknown"
	}
}

// HasTernaryXOR reports whether the ISA exposes a fused three-operand XOR
// (veor3q on NEON-EOR3, vpternlogq-backed _mm_ternarylogic_epi64 on the two
// AVX-512 profiles), letting the emitter fuse the final XOR of a fold step.
func (i ISA) HasTernaryXOR() bool {
	return i == NEONEOR3 || i == AVX512 || i == AVX512VPCLMULQDQ
}

// IsNEON reports whether the ISA is one of the two ARM NEON profiles.
func (i ISA) IsNEON() bool {
	return i == NEON || i == NEONEOR3
}

// Profile holds the derived, per-ISA parameters from spec.md's data model
// table: scalar-word width, vector width, 128-bit lane type name and the
// full vector type name (which differs from the lane type only for
// AVX-512-VPCLMULQDQ, where vectors are 512 bits wide but lanes extracted
// through the 128-bit type).
type Profile struct {
	ISA ISA

	ScalarBytes uint32 // natural scalar-word width: 4 for ISA=none, 8 otherwise
	VectorBytes uint32 // 16 for every ISA but AVX512VPCLMULQDQ, which is 64

	Lane16Type    string // the 128-bit lane type: uint64x2_t or __m128i
	Lane16Extract string // lane-extraction intrinsic for the 128-bit lane type
	VectorType    string // the full vector register type used for accumulators
}

// NewProfile derives the Profile for an ISA, per the table in spec.md §3.
func NewProfile(i ISA) Profile {
	p := Profile{ISA: i, ScalarBytes: 8, VectorBytes: 16}
	switch i {
	case NEON, NEONEOR3:
		p.Lane16Type = "uint64x2_t"
		p.Lane16Extract = "vgetq_lane_u64"
		p.VectorType = "uint64x2_t"
	case SSE, AVX512:
		p.Lane16Type = "__m128i"
		p.Lane16Extract = "_mm_extract_epi64"
		p.VectorType = "__m128i"
	case AVX512VPCLMULQDQ:
		p.Lane16Type = "__m128i"
		p.Lane16Extract = "_mm_extract_epi64"
		p.VectorType = "__m512i"
		p.VectorBytes = 64
	case None:
		p.ScalarBytes = 4
	}
	return p
}

// ScalarFns names the three scalar CRC helper functions (1/4/8-byte). For
// hardware-accelerated combinations (CRC-32 or CRC-32C on a
// hardware-CRC-capable ISA) these are the real intrinsics; otherwise they
// are the names of generated inline helpers backed by lookup tables and
// carry-less multiply.
type ScalarFns struct {
	Byte, Word, Dword string
}

// DefaultScalarFns returns the generated-helper names used when no hardware
// CRC instruction applies.
func DefaultScalarFns() ScalarFns {
	return ScalarFns{Byte: "crc_u8", Word: "crc_u32", Dword: "crc_u64"}
}

// HardwareScalarFns returns the hardware intrinsic names for (poly, isa), or
// ok=false if this combination has no hardware CRC instruction and the
// generated lookup-table/clmul helpers must be used instead.
func HardwareScalarFns(p poly.Polynomial, i ISA) (ScalarFns, bool) {
	switch {
	case p == poly.CRC32 && i.IsNEON():
		return ScalarFns{Byte: "__crc32b", Word: "__crc32w", Dword: "__crc32d"}, true
	case p == poly.CRC32C && i.IsNEON():
		return ScalarFns{Byte: "__crc32cb", Word: "__crc32cw", Dword: "__crc32cd"}, true
	case p == poly.CRC32C && (i == SSE || i == AVX512 || i == AVX512VPCLMULQDQ):
		return ScalarFns{Byte: "_mm_crc32_u8", Word: "_mm_crc32_u32", Dword: "_mm_crc32_u64"}, true
	default:
		return ScalarFns{}, false
	}
}
