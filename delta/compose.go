package delta

import "math"

// Compose collapses two sequential deltas into one: applying the result
// equals applying a then b. Composing a document (insert-only delta) with
// an edit yields the edited document.
func Compose(a, b *Delta) *Delta {
	this := newIterator(a.Ops)
	other := newIterator(b.Ops)
	out := New()

	for this.hasNext() || other.hasNext() {
		if other.peekKind() == "insert" {
			out.push(other.next(math.MaxInt))
			continue
		}
		if this.peekKind() == "delete" {
			out.push(this.next(math.MaxInt))
			continue
		}
		length := min(this.peekLength(), other.peekLength())
		thisOp := this.next(length)
		otherOp := other.next(length)

		switch o := otherOp.(type) {
		case Retain:
			// Keep this's content, layering o's attribute changes on
			// top. Explicit nil attributes survive over retains (they
			// clear formatting later) but are dropped on materialised
			// inserts.
			switch t := thisOp.(type) {
			case Retain:
				out.push(Retain{N: length, Attrs: composeAttributes(t.Attrs, o.Attrs, true)})
			case Insert:
				merged := composeAttributes(t.Attrs, o.Attrs, false)
				if t.Embed != nil {
					out.push(Insert{Embed: t.Embed, Attrs: merged})
				} else {
					out.push(Insert{Text: t.Text, Attrs: merged})
				}
			}
		case Delete:
			if _, ok := thisOp.(Retain); ok {
				out.push(o)
			}
			// this insert + other delete cancel out.
		}
	}
	return out.chop()
}

// composeAttributes layers b over a. keepNil preserves explicit nil
// values (attribute removal applied to content that exists already);
// with keepNil false the nils are dropped because there is nothing to
// clear on freshly inserted content.
func composeAttributes(a, b Attributes, keepNil bool) Attributes {
	out := Attributes{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	if !keepNil {
		for k, v := range out {
			if v == nil {
				delete(out, k)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
