// Package ot implements operational transformation for the insert/delete
// operation set over plain text addressed by Unicode code point offsets.
package ot

import (
	"collabtext/internal/domain"
)

// Transform rewrites a so that it applies after b, given that both were
// created against the same base text. The result is usually a single
// operation; a delete whose range is split by a concurrent insert becomes
// two deletes in sequential coordinates, the second assuming the first has
// already applied.
func Transform(a, b *domain.Operation) []*domain.Operation {
	out := a.Clone()

	switch {
	case a.Type == domain.OpRetain || b.Type == domain.OpRetain:
		// Retains neither move nor are moved.

	case a.Type == domain.OpInsert && b.Type == domain.OpInsert:
		// Same-position inserts tie-break on the author id so every
		// replica orders them identically: the greater author shifts right.
		if a.Position > b.Position || (a.Position == b.Position && a.Author > b.Author) {
			out.Position += b.ContentLen()
		}

	case a.Type == domain.OpInsert && b.Type == domain.OpDelete:
		switch {
		case a.Position <= b.Position:
			// Insert sits before the deleted range.
		case a.Position > b.End():
			out.Position -= b.Length
		default:
			// Insert fell inside the deleted range; clamp to its start.
			out.Position = b.Position
		}

	case a.Type == domain.OpDelete && b.Type == domain.OpInsert:
		switch {
		case a.End() <= b.Position:
			// Delete ends before the insert.
		case a.Position >= b.Position:
			out.Position += b.ContentLen()
		default:
			// The insert landed inside a's range: delete the text on both
			// sides of it, leaving the inserted content alone.
			left := out
			left.Length = b.Position - a.Position
			right := a.Clone()
			right.Position = a.Position + b.ContentLen()
			right.Length = a.Length - left.Length
			return []*domain.Operation{left, right}
		}

	case a.Type == domain.OpDelete && b.Type == domain.OpDelete:
		ae, be := a.End(), b.End()
		switch {
		case ae <= b.Position:
			// Disjoint, a left of b.
		case a.Position >= be:
			out.Position -= b.Length
		default:
			overlap := min(ae, be) - max(a.Position, b.Position)
			out.Position = min(a.Position, b.Position)
			out.Length = a.Length - overlap
			if out.Length <= 0 {
				// b already removed everything a wanted gone.
				out.Type = domain.OpRetain
				out.Length = 0
				out.Content = ""
			}
		}
	}

	return []*domain.Operation{out}
}

// TransformRun rebases a sequential run of operations over b. The run's
// elements apply one after another on the same base state b was created
// against; the result is the run rewritten to apply after b.
func TransformRun(run []*domain.Operation, b *domain.Operation) []*domain.Operation {
	out := make([]*domain.Operation, 0, len(run))
	bc := b
	for i, a := range run {
		out = append(out, Transform(a, bc)...)
		if i < len(run)-1 {
			// Later run elements assume a has applied, so b must be shifted
			// past a before transforming them. Runs longer than one element
			// only ever hold deletes, and a delete never splits bc.
			bc = Transform(bc, a)[0]
		}
	}
	return out
}
