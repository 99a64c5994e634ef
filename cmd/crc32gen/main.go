package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/intuitionamiga/crc32gen/internal/fail"
	"github.com/intuitionamiga/crc32gen/internal/generate"
	"github.com/intuitionamiga/crc32gen/internal/recipe"
)

func main() {
	fs := flag.NewFlagSet("crc32gen", flag.ContinueOnError)

	var isaValue, polyValue, algoValue, outputPath string
	bindString(fs, &isaValue, "i", "isa", "none", "instruction-set family (none, neon, neon_eor3, sse, avx, avx2, avx512, avx512_vpclmulqdq)")
	bindString(fs, &polyValue, "p", "polynomial", "crc32", "CRC polynomial: a name (crc32, crc32c, crc32k, crc32k2, crc32q) or an 8/9-digit hex literal")
	bindString(fs, &algoValue, "a", "algorithm", "", "algorithm descriptor (e.g. v4s3x3k4096, v9s3x2e_s3); default is a single scalar phase")
	bindString(fs, &outputPath, "o", "output", "-", "output file, or - for standard output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crc32gen [options]\n\nGenerates hand-tuned C source implementing a reflected 32-bit CRC.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  crc32gen -i none -p crc32c -a s1\n")
		fmt.Fprintf(os.Stderr, "  crc32gen -i sse -p crc32c -a v4s3x3k4096 -o crc32c_sse.c\n")
		fmt.Fprintf(os.Stderr, "  crc32gen --isa=neon_eor3 --polynomial=crc32 --algorithm=v9s3x2e_s3\n")
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	log.SetFlags(0)
	log.SetPrefix("crc32gen: ")

	opt, err := recipe.Parse(isaValue, polyValue, algoValue, outputPath)
	if err != nil {
		exitOnFatal(err)
	}

	out, err := generate.Generate(opt)
	if err != nil {
		exitOnFatal(err)
	}

	if outputPath == "" || outputPath == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			log.Printf("warning: writing generated C source to a terminal (stdout); redirect to a file to save it")
		}
		fmt.Print(out)
		return
	}

	if err := os.WriteFile(outputPath, []byte(out), 0644); err != nil {
		exitOnFatal(fail.Fatalf("output", "%v", err))
	}
}

// bindString registers both a short and a long flag name bound to the same
// variable, matching the teacher's cmd/ie32to64 convention of pairing
// short options with descriptive long forms.
func bindString(fs *flag.FlagSet, p *string, short, long, value, usage string) {
	fs.StringVar(p, short, value, usage)
	fs.StringVar(p, long, value, usage)
}

// exitOnFatal prints a *fail.Error's location-qualified diagnostic (bolded
// when stderr is a terminal) and exits 1; it never returns.
func exitOnFatal(err error) {
	var fe *fail.Error
	msg := err.Error()
	if errors.As(err, &fe) && term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(os.Stderr, "\x1b[1mcrc32gen: fatal:\x1b[0m %s\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "crc32gen: fatal: %s\n", msg)
	}
	os.Exit(1)
}
