// Package kernel is the heart of the generator: it weaves a parsed
// algorithm's phases, the active ISA profile, and polynomial arithmetic
// into the body of crc32_impl — pre-loop alignment, the first vector
// chunk, the main loop, accumulator reduction, and scalar tail handling.
package kernel

import (
	"github.com/intuitionamiga/crc32gen/internal/codebuf"
	"github.com/intuitionamiga/crc32gen/internal/isa"
	"github.com/intuitionamiga/crc32gen/internal/recipe"
)

// EmitFunction emits the complete crc32_impl definition (preamble, every
// phase's loop nest, and the scalar mop-up) into h.Out, appended as a
// deferred child so it can be composed alongside the includes and helper
// inlines that phase emission discovers it needs along the way.
func EmitFunction(opts recipe.Options, h *isa.Helpers) error {
	b := h.Out.AppendDeferredBuffer()

	b.AppendText("CRC_EXPORT uint32_t crc32_impl(uint32_t crc0, const char* buf, size_t len) {\n")
	b.AppendText("crc0 = ~crc0;\n")

	currentAlignment := h.Profile.ScalarBytes
	if currentAlignment > 1 {
		if err := h.NeedCrcScalar(1); err != nil {
			return err
		}
		b.AppendFormatted("for (; len && ((uintptr_t)buf & %u); --len) {\n", currentAlignment-1)
		b.AppendFormatted("crc0 = %s(crc0, *buf++);\n", h.Scalar.Byte)
		b.AppendText("}\n")
	}

	for ap := opts.Algo; ap != nil; ap = ap.Next {
		var err error
		currentAlignment, err = emitPhase(b, h, ap, currentAlignment)
		if err != nil {
			return err
		}
	}

	b.AppendFormatted("for (; len >= %u; buf += %u, len -= %u) {\n", h.Profile.ScalarBytes, h.Profile.ScalarBytes, h.Profile.ScalarBytes)
	if err := h.ScalarFnMem(b, 0, h.Profile.ScalarBytes); err != nil {
		return err
	}
	b.AppendText("buf);\n")
	b.AppendText("}\n")
	if h.Profile.ScalarBytes > 1 {
		if err := h.NeedCrcScalar(1); err != nil {
			return err
		}
		b.AppendText("for (; len; --len) {\n")
		b.AppendFormatted("crc0 = %s(crc0, *buf++);\n", h.Scalar.Byte)
		b.AppendText("}\n")
	}
	b.AppendText("return ~crc0;\n")
	b.AppendText("}\n")
	return nil
}

// emitPhase emits one parsed Phase's alignment step, main loop and
// accumulator merge, returning the alignment guaranteed for the phase that
// follows it.
func emitPhase(b *codebuf.Buffer, h *isa.Helpers, ap *recipe.Phase, currentAlignment uint32) (uint32, error) {
	vecBytes := h.Profile.VectorBytes
	scalarBytes := h.Profile.ScalarBytes

	if ap.VAcc != 0 && vecBytes > currentAlignment {
		currentAlignment = vecBytes
		loopKw := "while"
		if vecBytes == scalarBytes*2 {
			loopKw = "if"
		}
		b.AppendFormatted("%s (((uintptr_t)buf & %u) && len >= %u) {\n", loopKw, vecBytes-scalarBytes, scalarBytes)
		if err := h.ScalarFnMem(b, 0, scalarBytes); err != nil {
			return 0, err
		}
		b.AppendText("buf);\n")
		b.AppendFormatted("buf += %u;\n", scalarBytes)
		b.AppendFormatted("len -= %u;\n", scalarBytes)
		b.AppendText("}\n")
	}

	if ap.VLoad == 0 && ap.SLoad <= 1 {
		return currentAlignment, nil
	}

	blockSize := ap.VLoad*vecBytes + ap.SLoad*scalarBytes
	kernelAlign := scalarBytes
	if ap.VLoad != 0 {
		kernelAlign = vecBytes
	}
	// Take the requested kernel size, round down for alignment, then round
	// down to block size.
	kernelIdealSize := ap.KernelSize / kernelAlign * kernelAlign
	kernelIters := kernelIdealSize / blockSize

	scalarTail := computeScalarTail(ap, scalarBytes, vecBytes, kernelIters)
	if kernelIters != 0 && scalarTail != 0 {
		kernelIters = (kernelIdealSize - scalarTail) / blockSize
		if kernelIters != 0 {
			excess := (blockSize*kernelIters + scalarTail) % kernelAlign
			if excess != 0 {
				scalarTail += kernelAlign - excess
			}
		}
	}

	if kernelIters != 0 {
		b.AppendFormatted("while (len >= %u) {\n", blockSize*kernelIters+scalarTail)
		if !ap.UseEndPtr && kernelIters != boolU32(ap.VAcc != 0) {
			b.AppendFormatted("uint32_t kitrs = %u;\n", kernelIters-boolU32(ap.VAcc != 0))
		}
	} else {
		b.AppendFormatted("if (len >= %u) {\n", blockSize+scalarTail)
	}

	vars := b.AppendDeferredBuffer()
	vbuf := emitLoopVariables(vars, ap, scalarBytes, vecBytes, blockSize, kernelIters, scalarTail)

	for i := uint32(1); i < ap.SAcc; i++ {
		vars.AppendFormatted("uint32_t crc%u = 0;\n", i)
	}

	if ap.VAcc != 0 {
		b.AppendText("/* First vector chunk. */\n")
	}
	for i := uint32(0); i < ap.VAcc; i++ {
		b.AppendFormatted("%s x%u = ", h.Profile.VectorType, i)
		if err := h.VectorLoad(b, vbuf, i*vecBytes); err != nil {
			return 0, err
		}
		b.AppendFormatted(", y%u;\n", i)
	}
	if ap.VAcc != 0 {
		b.AppendFormatted("%s k;\n", h.Profile.VectorType)
		h.VectorSetK(b, ap.VAcc)
		if ap.SLoad == 0 || scalarTail != 0 {
			if err := h.XorScalarIntoVector(b, "crc0", "x0"); err != nil {
				return 0, err
			}
			if scalarTail != 0 {
				b.AppendText("crc0 = 0;\n")
			}
		}
		for i := ap.VAcc; i < ap.VLoad; i += ap.VAcc {
			p1 := b.AppendDeferredBuffer()
			for j := uint32(0); j < ap.VAcc; j++ {
				if err := h.VectorFMA(p1, b, j, vbuf, (i+j)*vecBytes); err != nil {
					return 0, err
				}
			}
		}
		b.AppendFormatted("%s += %u;\n", vbuf, ap.VLoad*vecBytes)
		if kernelIters == 0 && !ap.UseEndPtr {
			b.AppendFormatted("len -= %u;\n", blockSize)
		}
		if scalarTail != 0 {
			b.AppendFormatted("buf += blk * %u;\n", ap.VLoad*vecBytes)
		}
	}

	if kernelIters == 0 || kernelIters != boolU32(ap.VAcc != 0) {
		if err := emitMainLoop(b, h, ap, vbuf, blockSize, scalarTail, kernelIters); err != nil {
			return 0, err
		}
	}

	if ap.VAcc > 1 {
		b.AppendFormatted("/* Reduce x0 ... x%u to just x0. */\n", ap.VAcc-1)
		if err := emitVectorTreeReduce(b, h, ap.VAcc); err != nil {
			return 0, err
		}
	}

	if ap.SAcc > 1 || (ap.VLoad != 0 && ap.SAcc != 0) {
		if ap.VLoad != 0 {
			b.AppendText("/* Final scalar chunk. */\n")
			if err := emitScalarMain(b, h, ap, scalarBytes); err != nil {
				return 0, err
			}
			if scalarTail != 0 {
				b.AppendFormatted("buf += %u;\n", (ap.SLoad/ap.SAcc)*scalarBytes)
			}
		}
		if err := emitScalarShiftMerge(b, vars, h, ap, kernelIters, scalarTail, blockSize, vecBytes, scalarBytes); err != nil {
			return 0, err
		}
	}

	if ap.VLoad != 0 {
		if err := emit128To32Reduction(b, vars, h, ap, kernelIters, scalarTail); err != nil {
			return 0, err
		}
	}

	if scalarTail != 0 {
		b.AppendFormatted("/* Final %u bytes. */\n", scalarTail)
		if ap.SAcc > 1 {
			b.AppendText("buf += ")
			isa.Product(b, "klen", ap.SAcc-1)
			b.AppendText(";\n")
			b.AppendFormatted("crc0 = crc%u;\n", ap.SAcc-1)
		}
		for i := scalarTail; i > scalarBytes; i -= scalarBytes {
			if err := h.ScalarFnMem(b, 0, scalarBytes); err != nil {
				return 0, err
			}
			b.AppendText("buf), ")
			b.AppendFormatted("buf += %u;\n", scalarBytes)
		}
		if err := h.ScalarFnMem(b, 0, scalarBytes); err != nil {
			return 0, err
		}
		b.AppendText("buf ^ vc), ")
		b.AppendFormatted("buf += %u;\n", scalarBytes)
		if kernelIters == 0 && !ap.UseEndPtr {
			b.AppendFormatted("len -= %u;\n", scalarTail)
		}
	} else if ap.VLoad != 0 && ap.SLoad != 0 {
		b.AppendFormatted("buf = %s;\n", vbuf)
	}

	if kernelIters != 0 {
		amount := kernelIters*blockSize + scalarTail
		b.AppendFormatted("len -= %u;\n", amount)
		if amount%vecBytes != 0 {
			currentAlignment = scalarBytes
		}
	} else {
		if ap.UseEndPtr {
			b.AppendText("len = end - buf;\n")
		}
		if blockSize%vecBytes != 0 || scalarTail%vecBytes != 0 {
			currentAlignment = scalarBytes
		}
	}
	b.AppendText("}\n")
	return currentAlignment, nil
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// computeScalarTail determines how many bytes of input, after the main
// loop, must be consumed purely to merge scalar accumulators.
func computeScalarTail(ap *recipe.Phase, scalarBytes, vecBytes, kernelIters uint32) uint32 {
	switch {
	case ap.VLoad == 0:
		if ap.SAcc > 1 {
			return scalarBytes
		}
		return 0
	case ap.SLoad != 0:
		if kernelIters != 0 {
			if (kernelIters*ap.SLoad*scalarBytes)%vecBytes != 0 {
				return scalarBytes
			}
		} else if (ap.SLoad*scalarBytes)%vecBytes != 0 {
			return scalarBytes
		}
	}
	return 0
}

// emitLoopVariables declares the per-phase book-keeping variables (end
// pointer, klen/blk byte counts, the vector base pointer) and returns the
// identifier vector loads should read from.
func emitLoopVariables(vars *codebuf.Buffer, ap *recipe.Phase, scalarBytes, vecBytes, blockSize, kernelIters, scalarTail uint32) string {
	vbuf := "buf"
	if kernelIters == 0 && ap.UseEndPtr {
		vars.AppendText("const char* end = buf + len;\n")
	}
	switch {
	case ap.VLoad == 0 && ap.SAcc > 1:
		if kernelIters != 0 {
			vars.AppendFormatted("const size_t klen = %u;\n", kernelIters*(ap.SLoad/ap.SAcc)*scalarBytes)
		} else {
			vars.AppendFormatted("size_t klen = ((len - %u) / %u) * %u;\n", scalarTail, blockSize, (ap.SLoad/ap.SAcc)*scalarBytes)
		}
		if ap.UseEndPtr {
			vars.AppendFormatted("const char* limit = buf + klen - %u;\n", (ap.SLoad/ap.SAcc)*scalarBytes)
		}
	case ap.VLoad != 0 && ap.SAcc != 0:
		vbuf = "buf2"
		if kernelIters != 0 {
			vars.AppendFormatted("const size_t blk = %u;\n", kernelIters)
			if ap.SAcc > 1 || scalarTail == 0 || ap.UseEndPtr {
				vars.AppendFormatted("const size_t klen = blk * %u;\n", (ap.SLoad/ap.SAcc)*scalarBytes)
			}
		} else {
			vars.AppendFormatted("size_t blk = (len - %u) / %u;\n", scalarTail, blockSize)
			vars.AppendFormatted("size_t klen = blk * %u;\n", (ap.SLoad/ap.SAcc)*scalarBytes)
		}
		vars.AppendFormatted("const char* %s = buf + ", vbuf)
		mult := ap.SAcc
		if scalarTail != 0 {
			mult = 0
		}
		isa.Product(vars, "klen", mult)
		vars.AppendText(";\n")
		if ap.UseEndPtr {
			if scalarTail != 0 {
				vars.AppendFormatted("const char* limit = buf + blk * %u + klen - %u;\n", ap.VLoad*vecBytes, (ap.SLoad/ap.SAcc)*scalarBytes*2)
			} else {
				vars.AppendFormatted("const char* limit = buf + klen - %u;\n", (ap.SLoad/ap.SAcc)*scalarBytes*2)
			}
		}
	default:
		if ap.UseEndPtr {
			if kernelIters != 0 {
				vars.AppendFormatted("const char* limit = buf + %u;\n", (kernelIters-1)*blockSize)
			} else {
				vars.AppendFormatted("const char* limit = buf + len - %u;\n", blockSize)
			}
		}
	}
	return vbuf
}

func emitMainLoop(b *codebuf.Buffer, h *isa.Helpers, ap *recipe.Phase, vbuf string, blockSize, scalarTail, kernelIters uint32) error {
	vecBytes := h.Profile.VectorBytes
	scalarBytes := h.Profile.ScalarBytes
	loopCond := codebuf.NewBuffer()
	b.AppendText("/* Main loop. */\n")
	usesDoWhile := false
	if kernelIters != 0 {
		if ap.UseEndPtr {
			loopCond.AppendText("while (buf <= limit)")
		} else {
			loopCond.AppendText("while (--kitrs)")
		}
		usesDoWhile = true
	} else {
		if ap.UseEndPtr {
			loopCond.AppendText("while (buf <= limit)")
			usesDoWhile = true
		} else {
			loopCond.AppendFormatted("while (len >= %u)", blockSize+scalarTail)
			usesDoWhile = true
		}
		if ap.VLoad != 0 {
			b.AppendDeferredBuffer()
			flushInto(b, loopCond)
			b.AppendText(" {\n")
			usesDoWhile = false
		}
	}
	if usesDoWhile {
		b.AppendText("do {\n")
	}
	for i := uint32(0); i < ap.VLoad; i += ap.VAcc {
		p1 := b.AppendDeferredBuffer()
		for j := uint32(0); j < ap.VAcc; j++ {
			if err := h.VectorFMA(p1, b, j, vbuf, (i+j)*vecBytes); err != nil {
				return err
			}
		}
	}
	if err := emitScalarMain(b, h, ap, scalarBytes); err != nil {
		return err
	}
	if ap.SLoad != 0 {
		b.AppendFormatted("buf += %u;\n", (ap.SLoad/ap.SAcc)*scalarBytes)
	}
	if ap.VLoad != 0 {
		b.AppendFormatted("%s += %u;\n", vbuf, ap.VLoad*vecBytes)
	}
	if kernelIters == 0 && !ap.UseEndPtr {
		b.AppendFormatted("len -= %u;\n", blockSize)
	}
	b.AppendText("}")
	if usesDoWhile {
		b.AppendText(" ")
		flushInto(b, loopCond)
		b.AppendText(";")
	}
	b.AppendText("\n")
	return nil
}

// flushInto copies a standalone buffer's parts onto the end of dst by
// appending a deferred reference the caller has fully populated already —
// codebuf buffers are only ever consumed once, so this is only safe
// because loopCond is never written to again afterwards.
func flushInto(dst *codebuf.Buffer, src *codebuf.Buffer) {
	child := dst.AppendDeferredBuffer()
	*child = *src
}

func emitScalarMain(b *codebuf.Buffer, h *isa.Helpers, ap *recipe.Phase, scalarBytes uint32) error {
	for i := uint32(0); i < ap.SLoad; i += ap.SAcc {
		for j := uint32(0); j < ap.SAcc; j++ {
			if err := h.ScalarFnMem(b, j, scalarBytes); err != nil {
				return err
			}
			if i != 0 || j != 0 {
				b.AppendText("(")
			}
			b.AppendText("buf")
			if j != 0 {
				b.AppendText(" + ")
				isa.Product(b, "klen", j)
			}
			if i != 0 {
				b.AppendFormatted(" + %u", (i/ap.SAcc)*scalarBytes)
			}
			if i != 0 || j != 0 {
				b.AppendText(")")
			}
			b.AppendText(");\n")
		}
	}
	return nil
}

// emitVectorTreeReduce collapses vector accumulators x0..x{n-1} down to a
// single x0, pairing adjacent accumulators (or, for an odd count, folding
// the first pair and shifting the remainder down) at each doubling depth.
func emitVectorTreeReduce(b *codebuf.Buffer, h *isa.Helpers, n uint32) error {
	for d := uint32(1); n > 1; n, d = n>>1, d<<1 {
		h.VectorSetK(b, d)
		if n&1 != 0 {
			if err := h.VectorFMA(b, b, 0, "x", d); err != nil {
				return err
			}
			n--
			for i := uint32(1); i < n; i++ {
				if i != 1 {
					b.AppendText(", ")
				}
				b.AppendFormatted("x%u = x%u", i*d, i*d+d)
			}
			b.AppendText(";\n")
		}
		p1 := b.AppendDeferredBuffer()
		for i := uint32(0); i < n; i += 2 {
			if err := h.VectorFMA(p1, b, i*d, "x", i*d+d); err != nil {
				return err
			}
		}
	}
	return nil
}

func emitScalarShiftMerge(b, vars *codebuf.Buffer, h *isa.Helpers, ap *recipe.Phase, kernelIters, scalarTail, blockSize, vecBytes, scalarBytes uint32) error {
	for i := uint32(0); i < ap.SAcc; i++ {
		if i+1 >= ap.SAcc && scalarTail != 0 {
			break
		}
		vars.AppendFormatted("%s vc%u;\n", h.Profile.Lane16Type, i)
		fn := "crc_shift"
		if kernelIters != 0 {
			fn = "clmul_scalar"
		}
		b.AppendFormatted("vc%u = %s(crc%u, ", i, fn, i)
		if kernelIters != 0 {
			amount := kernelIters*(ap.SLoad/ap.SAcc)*scalarBytes*(ap.SAcc-1-i)
			if scalarTail != 0 {
				amount += scalarTail
			} else {
				amount += kernelIters * ap.VLoad * vecBytes
			}
			b.AppendFormatted("0x%x", h.Poly.XnModP(uint64(amount)*8-33))
			h.NeedClmulScalar()
		} else {
			if err := h.NeedCrcShift(); err != nil {
				return err
			}
			isa.Product(b, "klen", ap.SAcc-1-i)
			if scalarTail != 0 {
				b.AppendFormatted(" + %u", scalarTail)
			} else if ap.VLoad != 0 {
				b.AppendFormatted(" + blk * %u", ap.VLoad*vecBytes)
			}
		}
		b.AppendText(");\n")
	}
	vars.AppendText("uint64_t vc;\n")
	if ap.SAcc == boolU32(scalarTail != 0) {
		b.AppendText("vc = 0;\n")
	} else {
		b.AppendFormatted("vc = %s(", h.Profile.Lane16Extract)
		h.VcXorTree(b, 0, ap.SAcc-boolU32(scalarTail != 0))
		b.AppendText(", 0);\n")
	}
	return nil
}

func emit128To32Reduction(b, vars *codebuf.Buffer, h *isa.Helpers, ap *recipe.Phase, kernelIters, scalarTail uint32) error {
	x0 := "x0"
	if h.Profile.ISA == isa.AVX512VPCLMULQDQ {
		b.AppendText("/* Reduce 512 bits to 128 bits. */\n")
		h.NeedHeader("immintrin")
		if err := h.NeedClmulFn("lo", h.Profile.ISA); err != nil {
			return err
		}
		if err := h.NeedClmulFn("hi", h.Profile.ISA); err != nil {
			return err
		}
		b.AppendText("k = _mm512_setr_epi32(")
		for i := uint32(415); i >= 95; i -= 64 {
			b.AppendFormatted("0x%x, 0, ", h.Poly.XnModP(uint64(i)))
		}
		b.AppendText("0, 0, 0, 0);\n")
		b.AppendText("y0 = clmul_lo(x0, k), k = clmul_hi(x0, k);\n")
		b.AppendText("y0 = _mm512_xor_si512(y0, k);\n")
		vars.AppendFormatted("%s z0;\n", h.Profile.VectorType)
		b.AppendText("z0 = _mm_ternarylogic_epi64(_mm512_castsi512_si128(y0), _mm512_extracti32x4_epi32(y0, 1), _mm512_extracti32x4_epi32(y0, 2), 0x96);\n")
		b.AppendText("z0 = _mm_xor_si128(z0, _mm512_extracti32x4_epi32(x0, 3));\n")
		x0 = "z0"
	}
	b.AppendText("/* Reduce 128 bits to 32 bits, and multiply by x^32. */\n")
	if scalarTail != 0 {
		shiftFn := "crc_shift"
		if kernelIters != 0 {
			shiftFn = "clmul_scalar"
		}
		b.AppendFormatted("vc ^= %s(%s(%s(%s(0, %s(%s, 0)), %s(%s, 1)), ",
			h.Profile.Lane16Extract, shiftFn, h.Scalar.Dword, h.Scalar.Dword, h.Profile.Lane16Extract, x0, h.Profile.Lane16Extract, x0)
		if kernelIters != 0 {
			amount := kernelIters*ap.SLoad*h.Profile.ScalarBytes + scalarTail
			b.AppendFormatted("0x%x", h.Poly.XnModP(uint64(amount)*8-33))
			h.NeedClmulScalar()
		} else {
			if err := h.NeedCrcShift(); err != nil {
				return err
			}
			b.AppendFormatted("klen * %u + %u", ap.SAcc, scalarTail)
		}
		b.AppendText("), 0);\n")
		return nil
	}
	if err := h.NeedCrcScalar(8); err != nil {
		return err
	}
	b.AppendFormatted("crc0 = %s(0, %s(%s, 0));\n", h.Scalar.Dword, h.Profile.Lane16Extract, x0)
	vcPrefix := ""
	if ap.SLoad != 0 {
		vcPrefix = "vc ^ "
	}
	b.AppendFormatted("crc0 = %s(crc0, %s%s(%s, 1));\n", h.Scalar.Dword, vcPrefix, h.Profile.Lane16Extract, x0)
	return nil
}
