package isa

import (
	"github.com/intuitionamiga/crc32gen/internal/codebuf"
	"github.com/intuitionamiga/crc32gen/internal/fail"
	"github.com/intuitionamiga/crc32gen/internal/poly"
)

// Helpers is the per-run emission context: it owns the output buffer, the
// includes buffer, the chosen polynomial/profile, and the "already
// emitted" bitmaps that make helper-inline emission lazy and deduplicated.
// Unlike the C generator (where these bitmaps are function-local statics,
// shared by every call within one process), a Helpers value is created
// fresh by internal/generate for each Generate call, so two generations
// running in the same process — even concurrently — never share state.
type Helpers struct {
	Out      *codebuf.Buffer
	Includes *codebuf.Buffer
	Poly     poly.Polynomial
	Profile  Profile
	Scalar   ScalarFns

	headersDone   map[string]bool
	clmulDone     uint32
	scalarDone    uint32
	clmulScalarOn bool
	crcShiftOn    bool
	tablePlanes   uint32
	tableStarted  bool
}

// NewHelpers builds the emission context for one run, wiring up the
// scalar helper names (hardware intrinsics when the ISA/polynomial
// combination supports them, generated lookup-table helpers otherwise)
// and pre-registering the headers hardware intrinsics need.
func NewHelpers(out, includes *codebuf.Buffer, p poly.Polynomial, profile Profile) *Helpers {
	h := &Helpers{
		Out:         out,
		Includes:    includes,
		Poly:        p,
		Profile:     profile,
		headersDone: map[string]bool{},
	}
	if fns, ok := HardwareScalarFns(p, profile.ISA); ok {
		h.Scalar = fns
		if profile.ISA.IsNEON() {
			h.NeedHeader("arm_acle")
		} else {
			h.NeedHeader("nmmintrin")
		}
		// Mark widths 1, 4 and 8 as already satisfied (15 = 1|2|4|8 sets all
		// three of their bits): the hardware intrinsic names above are used
		// directly, no wrapper needed.
		h.NeedCrcScalar(15)
	} else {
		h.Scalar = DefaultScalarFns()
	}
	return h
}

// NeedHeader emits the #include line for a possible header exactly once.
func (h *Helpers) NeedHeader(name string) {
	if h.headersDone[name] {
		return
	}
	h.headersDone[name] = true
	h.Includes.AppendFormatted("#include <%s.h>\n", name)
}

// generateTable is the deferred producer for the CRC lookup table: one
// 256-entry plane per requested byte width, generated lazily once the
// kernel emitter has finished discovering how many planes it needs.
func (h *Helpers) generateTable(b *codebuf.Buffer) {
	b.AppendFormatted("[%u][256] = {", h.tablePlanes)
	for i := uint32(0); i < h.tablePlanes; i++ {
		b.AppendText("{\n")
		for j := uint32(0); j < 256; j++ {
			crc := j
			for k := (i + 1) * 8; k > 0; k-- {
				crc = (crc >> 1) ^ ((crc & 1) * uint32(h.Poly))
			}
			sep := ""
			if j+1 < 256 {
				if (j+1)%6 == 0 {
					sep = ",\n"
				} else {
					sep = ", "
				}
			}
			b.AppendFormatted("0x%x%s", crc, sep)
		}
		if i+1 < h.tablePlanes {
			b.AppendText("},")
		} else {
			b.AppendText("\n}};\n\n")
		}
	}
}

// NeedCrcTable reserves (and lazily grows) the shared lookup table to hold
// at least planes entries, returning the table's variable name.
func (h *Helpers) NeedCrcTable(planes uint32) string {
	const tableVar = "g_crc_table"
	if planes > h.tablePlanes {
		if !h.tableStarted {
			h.tableStarted = true
			h.Out.AppendFormatted("static const uint32_t %s", tableVar)
			h.Out.AppendDeferredFn(h.generateTable)
		}
		h.tablePlanes = planes
	}
	return tableVar
}

// clmulMask mirrors the C dedup key: one bit per (lo/hi, ISA) combination.
func clmulMask(lo bool, i ISA) uint32 {
	b := uint32(0)
	if lo {
		b = 1
	}
	return 1 << (b + 2*uint32(i))
}

// NeedClmulFn emits the carry-less-multiply helper ("lo" or "hi") for ISA
// i exactly once. For ISA NEON it instead emits a fused multiply-accumulate
// variant (clmul_lo_e/clmul_hi_e, folding the XOR-add into the asm), which
// the fold code emitted by VectorFMA calls in place of clmul_lo/clmul_hi.
func (h *Helpers) NeedClmulFn(which string, i ISA) error {
	lo := which == "lo"
	mask := clmulMask(lo, i)
	if h.clmulDone&mask != 0 {
		return nil
	}
	h.clmulDone |= mask

	b := h.Out
	switch i {
	case NEON:
		h.NeedHeader("arm_neon")
		width := "2"
		if lo {
			width = "1"
		}
		b.AppendFormatted("CRC_AINLINE %s clmul_%s_e(%s a, %s b, %s c) {\n", h.Profile.VectorType, which, h.Profile.VectorType, h.Profile.VectorType, h.Profile.VectorType)
		b.AppendFormatted("%s r;\n", h.Profile.VectorType)
		b.AppendFormatted("__asm(\"pmull%s %%0.1q, %%2.%sd, %%3.%sd\\neor %%0.16b, %%0.16b, %%1.16b\\n\" : \"=w\"(r), \"+w\"(c) : \"w\"(a), \"w\"(b));\n", mnemonicSuffix(lo), width, width)
		b.AppendText("return r;\n")
		b.AppendText("}\n\n")
	case NEONEOR3:
		h.NeedHeader("arm_neon")
		width := "2"
		if lo {
			width = "1"
		}
		b.AppendFormatted("CRC_AINLINE %s clmul_%s(%s a, %s b) {\n", h.Profile.VectorType, which, h.Profile.VectorType, h.Profile.VectorType)
		b.AppendFormatted("%s r;\n", h.Profile.VectorType)
		b.AppendFormatted("__asm(\"pmull%s %%0.1q, %%1.%sd, %%2.%sd\\n\" : \"=w\"(r) : \"w\"(a), \"w\"(b));\n", mnemonicSuffix(lo), width, width)
		b.AppendText("return r;\n")
		b.AppendText("}\n\n")
	case SSE, AVX512:
		h.NeedHeader("wmmintrin")
		sel := uint32(0)
		if !lo {
			sel = 0x11
		}
		b.AppendFormatted("#define clmul_%s(a, b) (_mm_clmulepi64_si128((a), (b), %u))\n", which, sel)
	case AVX512VPCLMULQDQ:
		h.NeedHeader("immintrin")
		sel := uint32(0)
		if !lo {
			sel = 0x11
		}
		b.AppendFormatted("#define clmul_%s(a, b) (_mm512_clmulepi64_epi128((a), (b), %u))\n", which, sel)
	default:
		return fail.Fatalf("isa", "bad ISA in NeedClmulFn")
	}
	return nil
}

// mnemonicSuffix gives the "pmull" vs "pmull2" instruction suffix: the
// high-half multiply operates on the upper 64 bits of each source
// register and needs the explicit "2" form; the low half uses the bare
// mnemonic.
func mnemonicSuffix(lo bool) string {
	if lo {
		return ""
	}
	return "2"
}

// NeedCrcScalar emits the size-byte scalar CRC helper (1, 4 or 8) exactly
// once. size may also be 15 (1|2|4|8, a superset of the 1, 4 and 8 bits) purely to mark
// all three widths as already satisfied without emitting anything — this
// is how NewHelpers records that a hardware intrinsic already covers them.
func (h *Helpers) NeedCrcScalar(size uint32) error {
	if h.scalarDone&size != 0 {
		return nil
	}
	h.scalarDone |= size
	if size > 8 {
		return nil
	}

	b := h.Out.AppendDeferredBuffer()
	switch size {
	case 1:
		table := h.NeedCrcTable(1)
		b.AppendFormatted("CRC_AINLINE uint32_t %s(uint32_t crc, uint8_t val) {\n", h.Scalar.Byte)
		b.AppendFormatted("return (crc >> 8) ^ %s[0][(crc & 0xFF) ^ val];\n", table)
		b.AppendText("}\n\n")
	case 4:
		b.AppendFormatted("CRC_AINLINE uint32_t %s(uint32_t crc, uint32_t val) {\n", h.Scalar.Word)
		h.emitWideScalarBody(b, 63, h.Scalar.Word, "crc ^ val", true)
		b.AppendText("}\n\n")
	case 8:
		b.AppendFormatted("CRC_AINLINE uint32_t %s(uint32_t crc, uint64_t val) {\n", h.Scalar.Dword)
		if h.Profile.ISA == None {
			if err := h.NeedCrcScalar(4); err != nil {
				return err
			}
			b.AppendFormatted("crc = %s(crc, (uint32_t)val);\n", h.Scalar.Word)
			b.AppendFormatted("return %s(crc, (uint32_t)(val >> 32));\n", h.Scalar.Word)
		} else {
			h.emitWideScalarBody(b, 95, h.Scalar.Dword, "crc ^ val", false)
		}
		b.AppendText("}\n\n")
	}
	return nil
}

// emitWideScalarBody emits the Barrett-reduction body shared by the 4- and
// 8-byte scalar helpers on every ISA but none (which instead unrolls into
// table lookups, handled separately for size==4 below).
func (h *Helpers) emitWideScalarBody(b *codebuf.Buffer, n uint32, fnName, operand string, width4 bool) {
	if h.Profile.ISA == None && width4 {
		table := h.NeedCrcTable(4)
		b.AppendText("crc ^= val;\n")
		b.AppendFormatted("return %s[0][crc >>  24] ^ %s[1][(crc >> 16) & 0xFF] ^\n", table, table)
		b.AppendFormatted("       %s[3][crc & 0xFF] ^ %s[2][(crc >>  8) & 0xFF];\n", table, table)
		return
	}
	q := h.Poly.XnDivP(n)
	if h.Profile.ISA.IsNEON() {
		h.NeedClmulFn("lo", NEONEOR3)
		b.AppendFormatted("uint64x2_t a = vmovq_n_u64(%s);\n", operand)
		b.AppendFormatted("a = clmul_lo(a, vmovq_n_u64(0x%x%xull));\n", uint32(q>>32), uint32(q))
		b.AppendFormatted("a = clmul_lo(a, vmovq_n_u64(0x%x%xull));\n", uint32(h.Poly)>>31, uint32(h.Poly)*2+1)
		b.AppendText("return vgetq_lane_u32(vreinterpretq_u32_u64(a), 2);\n")
	} else {
		h.NeedHeader("nmmintrin")
		h.NeedHeader("wmmintrin")
		b.AppendFormatted("__m128i k = _mm_setr_epi32(0x%x, 0x%x, 0x%x, %u);\n",
			uint32(q), uint32(q>>32), uint32(h.Poly)*2+1, uint32(h.Poly)>>31)
		ctor := "_mm_cvtsi32_si128"
		if !width4 {
			ctor = "_mm_cvtsi64_si128"
		}
		b.AppendFormatted("__m128i a = %s(%s);\n", ctor, operand)
		b.AppendText("__m128i b = _mm_clmulepi64_si128(a, k, 0x00);\n")
		b.AppendText("__m128i c = _mm_clmulepi64_si128(b, k, 0x10);\n")
		b.AppendText("return _mm_extract_epi32(c, 2);\n")
	}
}

// NeedClmulScalar emits the clmul_scalar helper (a 32x32->64-bit carry-less
// multiply over plain uint32_t operands, returned in the 128-bit lane
// type) exactly once; crc_shift and the compile-time-known-distance
// accumulator shifts both depend on it.
func (h *Helpers) NeedClmulScalar() {
	if h.clmulScalarOn {
		return
	}
	h.clmulScalarOn = true
	b := h.Out
	b.AppendFormatted("CRC_AINLINE %s clmul_scalar(uint32_t a, uint32_t b) {\n", h.Profile.Lane16Type)
	if h.Profile.ISA.IsNEON() {
		h.NeedHeader("arm_neon")
		b.AppendText("uint64x2_t r;\n")
		b.AppendText("__asm(\"pmull %0.1q, %1.1d, %2.1d\\n\" : \"=w\"(r) : \"w\"(vmovq_n_u64(a)), \"w\"(vmovq_n_u64(b)));\n")
		b.AppendText("return r;\n")
	} else {
		h.NeedHeader("wmmintrin")
		b.AppendText("return _mm_clmulepi64_si128(_mm_cvtsi32_si128(a), _mm_cvtsi32_si128(b), 0);\n")
	}
	b.AppendText("}\n\n")
}

// NeedCrcShift emits a runtime xnmodp (used when the byte distance being
// shifted over is only known at run time, e.g. a variable-length trailing
// kernel) plus crc_shift, which shifts a scalar CRC forward by nbytes.
func (h *Helpers) NeedCrcShift() error {
	if h.crcShiftOn {
		return nil
	}
	h.crcShiftOn = true
	h.NeedClmulScalar()
	if err := h.NeedCrcScalar(4); err != nil {
		return err
	}
	if err := h.NeedCrcScalar(8); err != nil {
		return err
	}

	b := h.Out
	b.AppendText("static uint32_t xnmodp(uint64_t n) /* x^n mod P, in log(n) time */ {\n")
	b.AppendText("uint64_t stack = ~(uint64_t)1;\n")
	b.AppendText("uint32_t acc, low;\n")
	b.AppendText("for (; n > 191; n = (n >> 1) - 16) {\n")
	b.AppendText("stack = (stack << 1) + (n & 1);\n")
	b.AppendText("}\n")
	b.AppendText("stack = ~stack;\n")
	b.AppendText("acc = ((uint32_t)0x80000000) >> (n & 31);\n")
	b.AppendText("for (n >>= 5; n; --n) {\n")
	b.AppendFormatted("acc = %s(acc, 0);\n", h.Scalar.Word)
	b.AppendText("}\n")
	b.AppendText("while ((low = stack & 1), stack >>= 1) {\n")
	if h.Profile.ISA.IsNEON() {
		b.AppendText("poly8x8_t x = vreinterpret_p8_u64(vmov_n_u64(acc));\n")
		b.AppendText("uint64_t y = vgetq_lane_u64(vreinterpretq_u64_p16(vmull_p8(x, x)), 0);\n")
	} else {
		b.AppendText("__m128i x = _mm_cvtsi32_si128(acc);\n")
		b.AppendText("uint64_t y = _mm_cvtsi128_si64(_mm_clmulepi64_si128(x, x, 0));\n")
	}
	b.AppendFormatted("acc = %s(0, y << low);\n", h.Scalar.Dword)
	b.AppendText("}\n")
	b.AppendText("return acc;\n")
	b.AppendText("}\n\n")

	b.AppendFormatted("CRC_AINLINE %s crc_shift(uint32_t crc, size_t nbytes) {\n", h.Profile.Lane16Type)
	b.AppendText("return clmul_scalar(crc, xnmodp(nbytes * 8 - 33));\n")
	b.AppendText("}\n\n")
	return nil
}

// ScalarFnMem emits "crcACC = fn(crcACC, *(const TYPE*)" — the caller is
// responsible for the pointer expression and closing parenthesis/semicolon.
func (h *Helpers) ScalarFnMem(b *codebuf.Buffer, acc, size uint32) error {
	if err := h.NeedCrcScalar(size); err != nil {
		return err
	}
	b.AppendFormatted("crc%u = ", acc)
	switch size {
	case 8:
		b.AppendFormatted("%s(crc%u, *(const uint64_t*)", h.Scalar.Dword, acc)
	case 4:
		b.AppendFormatted("%s(crc%u, *(const uint32_t*)", h.Scalar.Word, acc)
	case 1:
		b.AppendFormatted("%s(crc%u, *(const uint8_t*)", h.Scalar.Byte, acc)
	default:
		return fail.Fatalf("isa", "bad scalar size %d", int(size))
	}
	return nil
}

// VectorLoad emits the vector-load expression for this ISA reading from
// base (+offset, if nonzero).
func (h *Helpers) VectorLoad(b *codebuf.Buffer, base string, offset uint32) error {
	switch h.Profile.ISA {
	case NEON, NEONEOR3:
		b.AppendText("vld1q_u64((const uint64_t*)")
	case SSE, AVX512:
		b.AppendText("_mm_loadu_si128((const __m128i*)")
	case AVX512VPCLMULQDQ:
		b.AppendText("_mm512_loadu_si512((const void*)")
	default:
		return fail.Fatalf("isa", "bad ISA in VectorLoad")
	}
	if offset != 0 {
		b.AppendText("(")
	}
	b.AppendText(base)
	if offset != 0 {
		b.AppendFormatted(" + %u)", offset)
	}
	b.AppendText(")")
	return nil
}

// VcXorTree emits the XOR reduction of vc{lo}..vc{hi-1}, using a ternary
// ISA fusion (veor3q_u64 / _mm_ternarylogic_epi64(..., 0x96)) for any
// three-way group on an ISA that supports it.
func (h *Helpers) VcXorTree(b *codebuf.Buffer, lo, hi uint32) {
	rng := hi - lo
	if rng == 1 {
		b.AppendFormatted("vc%u", lo)
		return
	}
	if rng >= 3 && h.Profile.ISA.HasTernaryXOR() {
		m1 := lo + rng/3
		m2 := hi - rng/3
		if h.Profile.ISA == NEONEOR3 {
			b.AppendText("veor3q_u64(")
		} else {
			h.NeedHeader("immintrin")
			b.AppendText("_mm_ternarylogic_epi64(")
		}
		h.VcXorTree(b, lo, m1)
		b.AppendText(", ")
		h.VcXorTree(b, m1, m2)
		b.AppendText(", ")
		h.VcXorTree(b, m2, hi)
		if h.Profile.ISA != NEONEOR3 {
			b.AppendText(", 0x96")
		}
		b.AppendText(")")
		return
	}
	mid := lo + rng/2
	if h.Profile.ISA == NEONEOR3 || h.Profile.ISA == NEON {
		b.AppendText("veorq_u64(")
	} else {
		b.AppendText("_mm_xor_si128(")
	}
	h.VcXorTree(b, lo, mid)
	b.AppendText(", ")
	h.VcXorTree(b, mid, hi)
	b.AppendText(")")
}

// VectorSetK emits "k = <the fold constant pair for span k vectors>;" —
// the two x^n mod P values folded into lanes 0 and 1 of a 128-bit (or
// broadcast-512-bit) constant.
func (h *Helpers) VectorSetK(b *codebuf.Buffer, k uint32) {
	vecBits := k * h.Profile.VectorBytes * 8
	k1 := h.Poly.XnModP(uint64(vecBits) + 32 - 1)
	k2 := h.Poly.XnModP(uint64(vecBits) - 32 - 1)
	if h.Profile.ISA.IsNEON() {
		b.AppendFormatted("{ static const uint64_t CRC_ALIGN(16) k_[] = {0x%x, 0x%x}; ", k1, k2)
		b.AppendText("k = vld1q_u64(k_); }\n")
		return
	}
	b.AppendText("k = ")
	if h.Profile.VectorBytes > 16 {
		b.AppendText("_mm512_broadcast_i32x4(")
	}
	b.AppendFormatted("_mm_setr_epi32(0x%x, 0, 0x%x, 0)", k1, k2)
	if h.Profile.VectorBytes > 16 {
		b.AppendText(")")
	}
	b.AppendText(";\n")
}

// XorScalarIntoVector emits "vector = vector XOR (scalar broadcast to lane
// 0)", used to fold the incoming scalar CRC into the first vector
// accumulator before the main loop starts.
func (h *Helpers) XorScalarIntoVector(b *codebuf.Buffer, scalar, vector string) error {
	switch h.Profile.ISA {
	case NEON, NEONEOR3:
		b.AppendFormatted("%s = veorq_u64((uint64x2_t){%s, 0}, %s);\n", vector, scalar, vector)
	case SSE, AVX512:
		b.AppendFormatted("%s = _mm_xor_si128(_mm_cvtsi32_si128(%s), %s);\n", vector, scalar, vector)
	case AVX512VPCLMULQDQ:
		b.AppendFormatted("%s = _mm512_xor_si512(_mm512_castsi128_si512(_mm_cvtsi32_si128(%s)), %s);\n", vector, scalar, vector)
	default:
		return fail.Fatalf("isa", "bad ISA in XorScalarIntoVector")
	}
	return nil
}

// VectorFMA folds one more vector chunk into accumulator x{reg}:
// x{reg} = x{reg} * k + addend, split into a "clmul" half (p1) and a
// "combine" half (p2) so the caller can interleave several accumulators'
// clmuls before any of their combines — exactly the shape the main loop
// body needs for instruction-level parallelism.
func (h *Helpers) VectorFMA(p1, p2 *codebuf.Buffer, reg uint32, addend string, offset uint32) error {
	if err := h.NeedClmulFn("lo", h.Profile.ISA); err != nil {
		return err
	}
	if err := h.NeedClmulFn("hi", h.Profile.ISA); err != nil {
		return err
	}
	if h.Profile.ISA != NEON {
		p1.AppendFormatted("y%u = clmul_lo(x%u, k), x%u = clmul_hi(x%u, k);\n", reg, reg, reg, reg)
	}
	switch h.Profile.ISA {
	case NEON:
		p2.AppendFormatted("y%u = clmul_lo_e(x%u, k, ", reg, reg)
	case NEONEOR3:
		p2.AppendFormatted("x%u = veor3q_u64(x%u, y%u, ", reg, reg, reg)
	case SSE:
		p2.AppendFormatted("y%u = _mm_xor_si128(y%u, ", reg, reg)
	case AVX512:
		p2.AppendFormatted("x%u = _mm_ternarylogic_epi64(x%u, y%u, ", reg, reg, reg)
	case AVX512VPCLMULQDQ:
		p2.AppendFormatted("x%u = _mm512_ternarylogic_epi64(x%u, y%u, ", reg, reg, reg)
	default:
		return fail.Fatalf("isa", "bad ISA in VectorFMA")
	}
	if len(addend) > 1 {
		if err := h.VectorLoad(p2, addend, offset); err != nil {
			return err
		}
	} else {
		p2.AppendFormatted("%s%u", addend, offset)
	}
	switch h.Profile.ISA {
	case NEON:
		p2.AppendFormatted("), x%u = clmul_hi_e(x%u, k, y%u);\n", reg, reg, reg)
	case NEONEOR3:
		p2.AppendText(");\n")
	case SSE:
		p2.AppendFormatted("), x%u = _mm_xor_si128(x%u, y%u);\n", reg, reg, reg)
	case AVX512, AVX512VPCLMULQDQ:
		p2.AppendText(", 0x96);\n")
		h.NeedHeader("immintrin")
	default:
		return fail.Fatalf("isa", "bad ISA in VectorFMA")
	}
	return nil
}

// Product emits lhs (optionally "* rhs") or the literal "0" if rhs is 0 —
// a small textual simplification so generated code doesn't multiply by 1
// or reference a variable multiplied by zero.
func Product(b *codebuf.Buffer, lhs string, rhs uint32) {
	if rhs == 0 {
		b.AppendText("0")
		return
	}
	b.AppendText(lhs)
	if rhs > 1 {
		b.AppendFormatted(" * %u", rhs)
	}
}
