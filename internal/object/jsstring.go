package object

import "github.com/joeycumines/otter/internal/gc"

// JSString is the heap cell backing a string Value. Concatenation is eager
// copy (DESIGN.md's resolution of spec.md's open string-representation
// question) — there is no rope/cons-string structure to trace here, so
// Trace is a no-op.
type JSString struct {
	hdr  gc.Header
	Data string
}

func NewJSString(s string) *JSString {
	return &JSString{hdr: gc.NewHeader(gc.TagString), Data: s}
}

func (s *JSString) Header() *gc.Header        { return &s.hdr }
func (s *JSString) Trace(mark func(gc.Ref))   {}
func (s *JSString) Len() int                  { return len([]rune(s.Data)) }
