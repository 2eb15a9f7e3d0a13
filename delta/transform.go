package delta

import "math"

// Side breaks insertion-position ties between two concurrent ops.
type Side int

const (
	// Left yields to the other op: at equal insert positions the other
	// op's text ends up first.
	Left Side = iota
	// Right keeps the transformed op's text first at equal positions.
	Right
)

// Transform rewrites op so it can be applied after other, where both were
// produced against the same base document:
//
//	Apply(Apply(d, a), Transform(b, a, Right)) ==
//	Apply(Apply(d, b), Transform(a, b, Left))
//
// Deterministic and total on well-formed inputs.
func Transform(op, other *Delta, side Side) *Delta {
	priority := side == Left
	this := newIterator(other.Ops)
	ours := newIterator(op.Ops)
	out := New()

	for this.hasNext() || ours.hasNext() {
		if this.peekKind() == "insert" && (priority || ours.peekKind() != "insert") {
			// Skip over text the other op inserted.
			out.Retain(this.next(math.MaxInt).Length(), nil)
			continue
		}
		if ours.peekKind() == "insert" {
			out.push(ours.next(math.MaxInt))
			continue
		}
		length := min(this.peekLength(), ours.peekLength())
		thisOp := this.next(length)
		oursOp := ours.next(length)

		if _, ok := thisOp.(Delete); ok {
			// The other op already removed this span; ours has nothing
			// left to say about it.
			continue
		}
		if del, ok := oursOp.(Delete); ok {
			out.push(del)
			continue
		}
		tr, _ := thisOp.(Retain)
		or, _ := oursOp.(Retain)
		out.push(Retain{N: length, Attrs: transformAttributes(tr.Attrs, or.Attrs, priority)})
	}
	return out.chop()
}

// transformAttributes resolves concurrent attribute changes on the same
// span: with priority the other side's keys win and ours are dropped
// where they collide.
func transformAttributes(theirs, ours Attributes, priority bool) Attributes {
	if len(theirs) == 0 {
		return ours
	}
	if len(ours) == 0 {
		return nil
	}
	if !priority {
		return ours
	}
	out := Attributes{}
	for k, v := range ours {
		if _, taken := theirs[k]; !taken {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
