// Package recipe parses the three pieces of user input that together
// describe what crc32_impl to generate: the target instruction-set family,
// the CRC polynomial, and the algorithm descriptor that lays out vector and
// scalar accumulators, outer-kernel size, and loop-exit style into a list
// of phases.
package recipe

import (
	"strings"

	"github.com/intuitionamiga/crc32gen/internal/fail"
	"github.com/intuitionamiga/crc32gen/internal/isa"
	"github.com/intuitionamiga/crc32gen/internal/poly"
)

// Phase is one underscore-separated segment of an algorithm descriptor.
// Phases form a singly linked list in descriptor order; kernel emission
// treats each as a distinct loop level.
type Phase struct {
	VAcc, VLoad uint32
	SAcc, SLoad uint32
	KernelSize  uint32
	UseEndPtr   bool
	Next        *Phase
}

// ParseISA maps a CLI ISA spelling onto an isa.ISA, reporting an unknown
// name with a fatal error matching the original generator's "unknown ISA"
// diagnostic.
func ParseISA(value string) (isa.ISA, error) {
	v, ok := isa.Parse(value)
	if !ok {
		return 0, fail.Fatalf("isa", "unknown ISA %s", value)
	}
	return v, nil
}

// ParsePolynomial recognises the five canonical polynomial names
// (case-insensitive) or an 8/9-digit hexadecimal literal, optionally
// prefixed "0x"/"0X". A 9-digit literal must begin with '1' (making the
// implicit x^32 term explicit); any other length is fatal.
func ParsePolynomial(value string) (poly.Polynomial, error) {
	if p, ok := poly.Named(value); ok {
		return p, nil
	}
	if p, ok := poly.ParseHex(value); ok {
		return p, nil
	}
	return 0, fail.Fatalf("polynomial", "invalid polynomial %s", value)
}

// ParseAlgorithm parses an algorithm descriptor into a non-empty linked
// list of phases, then validates every phase's accumulator/load
// constraints against the chosen ISA. An empty descriptor still yields
// exactly one phase: scanning zero characters leaves v_acc and s_acc both
// zero, and the default-phase rule (s_acc = s_load = 1) applies just as it
// would to an explicit but otherwise-empty phase.
func ParseAlgorithm(value string, target isa.ISA) (*Phase, error) {
	first := &Phase{}
	cur := first

	i := 0
	n := len(value)
	for i < n {
		c := value[i]
		switch {
		case c == 'v' || c == 's' || c == 'k':
			i++
			count, ok := scanUint(value, &i)
			if !ok {
				return nil, fail.Fatalf("algorithm", "expected digit sequence after character %c in algorithm string %s", c, value)
			}
			mult := uint32(1)
			if c != 'k' && i < n && value[i] == 'x' {
				i++
				m, ok := scanUint(value, &i)
				if !ok {
					return nil, fail.Fatalf("algorithm", "expected digit sequence after character x in algorithm string %s", value)
				}
				mult = m
			}
			switch c {
			case 'v':
				cur.VLoad += count * mult
				if cur.VAcc < count {
					cur.VAcc = count
				}
			case 's':
				cur.SLoad += count * mult
				if cur.SAcc < count {
					cur.SAcc = count
				}
			case 'k':
				cur.KernelSize = count
			}
		case c == 'e':
			cur.UseEndPtr = true
			i++
		case c == '_':
			next := &Phase{}
			cur.Next = next
			cur = next
			i++
		default:
			return nil, fail.Fatalf("algorithm", "unrecognised character %c in algorithm string %s", c, value)
		}
	}

	for p := first; p != nil; p = p.Next {
		if p.SAcc == 0 && p.VAcc == 0 {
			p.SAcc, p.SLoad = 1, 1
		}
		if p.SAcc != 0 && p.SLoad%p.SAcc != 0 {
			return nil, fail.Fatalf("algorithm", "algorithm %s has s load count (%d) not an integer multiple of s acc count (%d)", value, p.SLoad, p.SAcc)
		}
		if p.VAcc != 0 && p.VLoad%p.VAcc != 0 {
			return nil, fail.Fatalf("algorithm", "algorithm %s has v load count (%d) not an integer multiple of v acc count (%d)", value, p.VLoad, p.VAcc)
		}
		if target == isa.None {
			if p.VLoad != 0 {
				return nil, fail.Fatalf("algorithm", "need to specify an ISA to use vector accumulators")
			}
			if p.SAcc > 1 {
				return nil, fail.Fatalf("algorithm", "need to specify an ISA to use more than one scalar accumulator")
			}
		}
	}
	return first, nil
}

// scanUint consumes a run of ASCII digits starting at *i, advancing *i past
// them, and returns the parsed value. ok is false if no digit was present.
func scanUint(s string, i *int) (uint32, bool) {
	start := *i
	var v uint32
	for *i < len(s) && isDigit(s[*i]) {
		v = v*10 + uint32(s[*i]-'0')
		*i++
	}
	return v, *i > start
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Options is the fully parsed, validated configuration threaded through
// the rest of the generation pipeline, replacing the C globals
// g_isa/g_poly/g_algo.
type Options struct {
	ISA        isa.ISA
	Poly       poly.Polynomial
	PolySource string // the raw -p value ("crc32" when -p was empty), echoed into the provenance comment
	Algo       *Phase
	AlgoSource string // the raw descriptor string, echoed into the provenance comment
	OutputPath string // "" or "-" means standard output
}

// Parse builds Options from the raw CLI values, applying the documented
// defaults: ISA none, polynomial CRC-32, algorithm "" (a single default
// scalar phase).
func Parse(isaValue, polyValue, algoValue, outputPath string) (Options, error) {
	var opt Options
	opt.ISA = isa.None
	opt.Poly = poly.CRC32
	opt.OutputPath = outputPath
	opt.AlgoSource = algoValue
	opt.PolySource = polyValue

	if strings.TrimSpace(isaValue) != "" {
		v, err := ParseISA(isaValue)
		if err != nil {
			return Options{}, err
		}
		opt.ISA = v
	}
	if strings.TrimSpace(polyValue) != "" {
		v, err := ParsePolynomial(polyValue)
		if err != nil {
			return Options{}, err
		}
		opt.Poly = v
	} else {
		opt.PolySource = "crc32"
	}
	algo, err := ParseAlgorithm(algoValue, opt.ISA)
	if err != nil {
		return Options{}, err
	}
	opt.Algo = algo
	return opt, nil
}
