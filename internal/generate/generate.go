// Package generate ties the recipe parser, the ISA profile/helper context,
// and the kernel emitter into the single entry point cmd/crc32gen calls:
// Generate(Options) (string, error).
package generate

import (
	"fmt"
	"strings"

	"github.com/intuitionamiga/crc32gen/internal/codebuf"
	"github.com/intuitionamiga/crc32gen/internal/isa"
	"github.com/intuitionamiga/crc32gen/internal/kernel"
	"github.com/intuitionamiga/crc32gen/internal/recipe"
)

// Generate produces a complete C translation unit implementing crc32_impl
// for the given, already-validated options. It is a pure function of its
// argument: no global state survives between calls, so two Generate calls
// running concurrently on different goroutines never interfere.
func Generate(opt recipe.Options) (string, error) {
	root := codebuf.NewBuffer()

	root.AppendText(provenanceComment(opt))

	includes := root.AppendDeferredBuffer()
	includes.AppendText("#include <stddef.h>\n")
	includes.AppendText("#include <stdint.h>\n")

	root.AppendText("\n")
	root.AppendText("#if defined(_MSC_VER)\n")
	root.AppendText("#define CRC_AINLINE static __forceinline\n")
	root.AppendText("#define CRC_ALIGN(n) __declspec(align(n))\n")
	root.AppendText("#else\n")
	root.AppendText("#define CRC_AINLINE static inline __attribute__((always_inline))\n")
	root.AppendText("#define CRC_ALIGN(n) __attribute__((aligned(n)))\n")
	root.AppendText("#endif\n")
	root.AppendText("#if defined(CRC32GEN_STATIC)\n")
	root.AppendText("#define CRC_EXPORT static\n")
	root.AppendText("#else\n")
	root.AppendText("#define CRC_EXPORT\n")
	root.AppendText("#endif\n")
	root.AppendText("\n")

	profile := isa.NewProfile(opt.ISA)
	helperOut := root.AppendDeferredBuffer()
	h := isa.NewHelpers(helperOut, includes, opt.Poly, profile)

	if err := kernel.EmitFunction(opt, h); err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := root.Flush(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// provenanceComment echoes the invocation that produced this file, the way
// the original tool's "generated by" header does, so the output is
// self-describing without needing to consult the command line that made it.
func provenanceComment(opt recipe.Options) string {
	algo := opt.AlgoSource
	if algo == "" {
		algo = "(default)"
	}
	return fmt.Sprintf(
		"/* Generated by crc32gen. DO NOT EDIT.\n"+
			" *\n"+
			" * isa:        %s\n"+
			" * polynomial: %s (0x%08x)\n"+
			" * algorithm:  %s\n"+
			" */\n",
		opt.ISA, opt.PolySource, uint32(opt.Poly), algo)
}
