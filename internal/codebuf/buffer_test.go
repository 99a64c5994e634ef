package codebuf

import (
	"bytes"
	"testing"
)

func flushString(t *testing.T, b *Buffer) string {
	t.Helper()
	var buf bytes.Buffer
	if err := b.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return buf.String()
}

func TestAppendTextLiteral(t *testing.T) {
	b := NewBuffer()
	b.AppendText("hello ")
	b.AppendText("world")
	if got := flushString(t, b); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestAppendFormatted(t *testing.T) {
	b := NewBuffer()
	b.AppendFormatted("x = %u, p = 0x%x, s = %s, lit = %%", uint32(42), uint32(0xedb88320), "str")
	want := "x = 42, p = 0xedb88320, s = str, lit = %"
	if got := flushString(t, b); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAppendDeferredBuffer(t *testing.T) {
	b := NewBuffer()
	b.AppendText("before ")
	child := b.AppendDeferredBuffer()
	b.AppendText(" after")
	child.AppendText("DEFERRED")
	want := "before DEFERRED after"
	if got := flushString(t, b); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAppendDeferredBufferPopulatedAfterSiblingAppends(t *testing.T) {
	// The defining feature of deferred buffers: content may be populated any
	// time before Flush, even after later text has already been appended to
	// the parent.
	b := NewBuffer()
	table := b.AppendDeferredBuffer()
	b.AppendText("int main() {}")
	table.AppendText("static const int table[] = {1, 2, 3};\n")
	want := "static const int table[] = {1, 2, 3};\nint main() {}"
	if got := flushString(t, b); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAppendDeferredFnInvokedExactlyOnceAtFlushPosition(t *testing.T) {
	calls := 0
	b := NewBuffer()
	b.AppendText("[")
	b.AppendDeferredFn(func(c *Buffer) {
		calls++
		c.AppendText("generated")
	})
	b.AppendText("]")
	if got, want := flushString(t, b), "[generated]"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if calls != 1 {
		t.Errorf("deferred fn invoked %d times, want 1", calls)
	}
}

func TestNestedDeferredBuffers(t *testing.T) {
	b := NewBuffer()
	outer := b.AppendDeferredBuffer()
	inner := outer.AppendDeferredBuffer()
	inner.AppendText("inner")
	outer.AppendText("-outer")
	want := "inner-outer"
	if got := flushString(t, b); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEmptyDeferredBufferContributesNothing(t *testing.T) {
	b := NewBuffer()
	b.AppendText("a")
	b.AppendDeferredBuffer()
	b.AppendText("b")
	if got, want := flushString(t, b), "ab"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFlushAppliesReindentingAcrossPartBoundaries(t *testing.T) {
	// Brace-sensitive indenting must apply to the whole flushed stream, not
	// reset at each part boundary — this mirrors how the kernel emitter
	// appends many small text fragments inside one function body.
	b := NewBuffer()
	b.AppendText("void f() {\n")
	b.AppendText("int x")
	b.AppendText(";\n}\n")
	want := "void f() {\n  int x;\n}\n"
	if got := flushString(t, b); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
