package delta

import "math"

// iterator walks a delta's ops, handing out components in caller-chosen
// slice lengths. Past the final op it yields implicit plain retains, the
// usual convention for "and keep the rest unchanged".
type iterator struct {
	ops    []Op
	idx    int
	offset int
}

func newIterator(ops []Op) *iterator { return &iterator{ops: ops} }

// hasNext reports whether real ops remain.
func (it *iterator) hasNext() bool { return it.idx < len(it.ops) }

func (it *iterator) peekKind() string {
	if it.idx >= len(it.ops) {
		return "retain"
	}
	switch it.ops[it.idx].(type) {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "retain"
	}
}

// peekLength is the unconsumed span of the current op, or MaxInt past the
// end.
func (it *iterator) peekLength() int {
	if it.idx >= len(it.ops) {
		return math.MaxInt
	}
	return it.ops[it.idx].Length() - it.offset
}

// next consumes up to n code points of the current op and returns the
// consumed slice. n = math.MaxInt takes the whole remaining op.
func (it *iterator) next(n int) Op {
	if it.idx >= len(it.ops) {
		return Retain{N: n}
	}
	op := it.ops[it.idx]
	remaining := op.Length() - it.offset
	if n >= remaining {
		n = remaining
	}
	start := it.offset
	if n == remaining {
		it.idx++
		it.offset = 0
	} else {
		it.offset += n
	}
	switch t := op.(type) {
	case Retain:
		return Retain{N: n, Attrs: t.Attrs}
	case Delete:
		return Delete{N: n}
	default:
		ins := op.(Insert)
		if ins.Embed != nil {
			return ins
		}
		runes := []rune(ins.Text)
		return Insert{Text: string(runes[start : start+n]), Attrs: ins.Attrs}
	}
}
