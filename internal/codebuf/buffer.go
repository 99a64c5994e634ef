// Package codebuf implements the deferred-insertion text buffer the kernel
// emitter composes output with, plus the C-brace-sensitive reindenting
// writer that the final flush streams through.
//
// A Buffer accepts literal text in the order it is appended, but also lets
// the caller reserve a slot for content that is not ready yet: either
// another Buffer that will be populated later (AppendDeferredBuffer) or a
// producer callback invoked during flush (AppendDeferredFn). This lets the
// emitter write "the lookup table goes here" before the table's contents
// are known, and fill it in once the rest of the function has been walked.
//
// The original C implementation encodes deferred slots as an in-band NUL
// byte followed by an opcode and a pointer payload, because its buffers are
// flat byte arrays. A Go Buffer instead holds a slice of parts — literal
// runs and deferred references — which carries the same exactly-once,
// textual-position-preserving contract without needing a sentinel byte.
package codebuf

import "io"

// part is one segment of a Buffer: either a literal run of text, a
// reference to a child Buffer not yet populated, or a producer function
// that will populate a child Buffer when flush reaches it.
type part struct {
	text  string
	child *Buffer
	fn    func(*Buffer)
}

// Buffer is a growable sequence of text and deferred insertions.
type Buffer struct {
	parts []part
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// AppendText appends a literal run of text.
func (b *Buffer) AppendText(s string) {
	if s == "" {
		return
	}
	b.parts = append(b.parts, part{text: s})
}

// AppendDeferredBuffer reserves a slot for a child buffer and returns it;
// the child's contents (populated any time before Flush is called on the
// root) are spliced in at this position during flush.
func (b *Buffer) AppendDeferredBuffer() *Buffer {
	child := NewBuffer()
	b.parts = append(b.parts, part{child: child})
	return child
}

// AppendDeferredFn reserves a slot for a producer function, invoked exactly
// once during flush with a fresh buffer it should populate. Unlike
// AppendDeferredBuffer, the callback runs in flush order, so it may depend
// on state mutated by emission that happens between this call and flush —
// this is how the kernel emitter defers lookup-table generation until it
// knows exactly which widths were requested.
func (b *Buffer) AppendDeferredFn(fn func(*Buffer)) {
	b.parts = append(b.parts, part{fn: fn})
}

// AppendFormatted appends text built from a small format language:
// %s (string), %u (uint32, decimal), %x (uint32, 8-digit lowercase hex),
// %% (literal percent). Any other verb is a programmer error and panics,
// since format strings in this package are always generator-internal
// literals, never user input.
func (b *Buffer) AppendFormatted(format string, args ...any) {
	argi := 0
	next := func() any {
		a := args[argi]
		argi++
		return a
	}
	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			j := i
			for j < len(format) && format[j] != '%' {
				j++
			}
			b.AppendText(format[i:j])
			i = j
			continue
		}
		verb := format[i+1]
		i += 2
		switch verb {
		case 's':
			b.AppendText(next().(string))
		case 'u':
			b.AppendText(formatUint32(next().(uint32)))
		case 'x':
			b.AppendText(formatHex32(next().(uint32)))
		case '%':
			b.AppendText("%")
		default:
			panic("codebuf: bad format verb %" + string(verb))
		}
	}
}

func formatUint32(x uint32) string {
	if x == 0 {
		return "0"
	}
	var tmp [10]byte
	i := len(tmp)
	for x > 0 {
		i--
		tmp[i] = byte('0' + x%10)
		x /= 10
	}
	return string(tmp[i:])
}

func formatHex32(x uint32) string {
	const digits = "0123456789abcdef"
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = digits[x&0xf]
		x >>= 4
	}
	return string(tmp[:])
}

// frame is one entry of the explicit flush stack: the buffer being walked
// and the index within it to resume from once a descended-into child
// buffer is fully consumed.
type frame struct {
	b   *Buffer
	idx int
}

// Flush walks the buffer tree rooted at b in final textual order — depth
// first, each deferred slot resolved exactly once — streaming literal text
// through a Reindenter before it reaches w. Deferred functions are invoked
// in the order their slot is encountered; the buffer they populate is
// fully walked before flush returns to the parent, exactly as the C
// original's exactly-once, in-order deferred-producer contract requires.
func (b *Buffer) Flush(w io.Writer) error {
	ind := NewReindenter(w)
	stack := []frame{}
	cur := b
	idx := 0
	for {
		if idx >= len(cur.parts) {
			if len(stack) == 0 {
				break
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur, idx = top.b, top.idx
			continue
		}
		p := cur.parts[idx]
		idx++
		switch {
		case p.text != "":
			if err := ind.Write([]byte(p.text)); err != nil {
				return err
			}
		case p.fn != nil:
			child := NewBuffer()
			p.fn(child)
			stack = append(stack, frame{b: cur, idx: idx})
			cur, idx = child, 0
		case p.child != nil:
			if len(p.child.parts) == 0 {
				continue
			}
			stack = append(stack, frame{b: cur, idx: idx})
			cur, idx = p.child, 0
		default:
			// An empty part (AppendText("") never creates one, a deferred
			// slot always sets fn or child) — nothing to do.
		}
	}
	return ind.Close()
}
