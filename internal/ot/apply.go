package ot

import (
	"strings"

	"collabtext/internal/domain"
)

// Apply applies op to text and returns the result. Offsets are clamped to
// the text so a malformed operation degrades to a partial edit instead of
// panicking; the hub clips operations before they get here.
func Apply(text string, op *domain.Operation) string {
	if op == nil || op.IsNoop() {
		return text
	}

	runes := []rune(text)
	pos := clamp(op.Position, 0, len(runes))

	switch op.Type {
	case domain.OpInsert:
		var b strings.Builder
		b.Grow(len(text) + len(op.Content))
		b.WriteString(string(runes[:pos]))
		b.WriteString(op.Content)
		b.WriteString(string(runes[pos:]))
		return b.String()
	case domain.OpDelete:
		end := clamp(op.Position+op.Length, pos, len(runes))
		return string(runes[:pos]) + string(runes[end:])
	}
	return text
}

// ApplyAll applies a sequence of operations in order.
func ApplyAll(text string, ops []*domain.Operation) string {
	for _, op := range ops {
		text = Apply(text, op)
	}
	return text
}

// Clip forces op inside a document of docLen code points. An insert is
// clamped into [0, docLen]; a delete is trimmed to the available range. An
// operation with nothing left to do becomes a retain, which is still
// accepted so the submitter gets a version back.
func Clip(op *domain.Operation, docLen int) *domain.Operation {
	out := op.Clone()
	switch op.Type {
	case domain.OpInsert:
		out.Position = clamp(out.Position, 0, docLen)
	case domain.OpDelete:
		out.Position = clamp(out.Position, 0, docLen)
		if end := out.Position + out.Length; end > docLen {
			out.Length = docLen - out.Position
		}
		if out.Length <= 0 {
			out.Type = domain.OpRetain
			out.Length = 0
			out.Content = ""
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
