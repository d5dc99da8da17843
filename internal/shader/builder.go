package shader

import (
	"fmt"
	"strings"
)

// Builder accumulates indented statements. Blocks opened with Open must be
// closed with Close; the indentation depth follows.
type Builder struct {
	sb    strings.Builder
	depth int
}

const indent = "   "

// Line appends one formatted statement at the current depth.
func (b *Builder) Line(format string, args ...interface{}) {
	b.sb.WriteString(strings.Repeat(indent, b.depth))
	fmt.Fprintf(&b.sb, format, args...)
	b.sb.WriteByte('\n')
}

// Raw appends text verbatim.
func (b *Builder) Raw(s string) {
	b.sb.WriteString(s)
}

// Open starts a block headed by the formatted text ("" for a bare scope).
func (b *Builder) Open(format string, args ...interface{}) {
	head := fmt.Sprintf(format, args...)
	if head == "" {
		b.Line("{")
	} else {
		b.Line("%s {", head)
	}
	b.depth++
}

// Close ends the innermost block.
func (b *Builder) Close() {
	if b.depth == 0 {
		panic("shader: unbalanced block close")
	}
	b.depth--
	b.Line("}")
}

// Blank appends an empty line.
func (b *Builder) Blank() { b.sb.WriteByte('\n') }

func (b *Builder) String() string { return b.sb.String() }

// Expression helpers. They only format text; the types they name are
// computed by the caller.

func ctor(typ string, args ...string) string {
	return typ + "(" + strings.Join(args, ", ") + ")"
}

func call(fn string, args ...string) string {
	return fn + "(" + strings.Join(args, ", ") + ")"
}

func boolLit(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
