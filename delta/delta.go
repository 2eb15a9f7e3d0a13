// Package delta implements the rich-text delta algebra used for
// operational transformation. A delta is an ordered sequence of
// retain/insert/delete components with optional formatting attributes;
// a document is a delta containing only inserts.
//
// The wire format is Quill-compatible JSON:
//
//	{"retain":5}
//	{"insert":"hi","attributes":{"bold":true}}
//	{"insert":{"image":"https://..."}}
//	{"delete":2}
//
// Lengths are measured in Unicode code points; an embed counts as one.
package delta

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Attributes carries formatting for retain and insert components.
// A nil value under a key clears that attribute when composed onto
// existing content.
type Attributes map[string]any

// Op is one delta component: Retain, Insert or Delete.
type Op interface {
	// Length is the number of code points the component covers.
	Length() int

	isOp()
}

// Retain skips over N code points, optionally reformatting them.
type Retain struct {
	N     int
	Attrs Attributes
}

// Insert adds text or a single embed object at the current position.
// Exactly one of Text and Embed is set.
type Insert struct {
	Text  string
	Embed map[string]any
	Attrs Attributes
}

// Delete removes N code points at the current position.
type Delete struct {
	N int
}

func (r Retain) Length() int { return r.N }
func (r Retain) isOp()       {}

func (i Insert) Length() int {
	if i.Embed != nil {
		return 1
	}
	return utf8.RuneCountInString(i.Text)
}
func (i Insert) isOp() {}

func (d Delete) Length() int { return d.N }
func (d Delete) isOp()       {}

// Delta is an ordered sequence of ops. The zero value is the no-op.
type Delta struct {
	Ops []Op
}

// New returns an empty delta ready for chained building:
//
//	d := delta.New().Retain(5, nil).Insert(" world", nil)
func New() *Delta { return &Delta{} }

// Retain appends a retain component, merging with a trailing retain that
// carries the same attributes.
func (d *Delta) Retain(n int, attrs Attributes) *Delta {
	if n <= 0 {
		return d
	}
	return d.push(Retain{N: n, Attrs: normAttrs(attrs)})
}

// Insert appends a text insert.
func (d *Delta) Insert(text string, attrs Attributes) *Delta {
	if text == "" {
		return d
	}
	return d.push(Insert{Text: text, Attrs: normAttrs(attrs)})
}

// InsertEmbed appends a single embed insert (image, mention, ...).
func (d *Delta) InsertEmbed(embed map[string]any, attrs Attributes) *Delta {
	if embed == nil {
		return d
	}
	return d.push(Insert{Embed: embed, Attrs: normAttrs(attrs)})
}

// Delete appends a delete component.
func (d *Delta) Delete(n int) *Delta {
	if n <= 0 {
		return d
	}
	return d.push(Delete{N: n})
}

// push appends op, merging it with the last component when both are the
// same kind with identical attributes.
func (d *Delta) push(op Op) *Delta {
	if op.Length() == 0 {
		return d
	}
	if n := len(d.Ops); n > 0 {
		switch last := d.Ops[n-1].(type) {
		case Retain:
			if r, ok := op.(Retain); ok && attrsEqual(last.Attrs, r.Attrs) {
				d.Ops[n-1] = Retain{N: last.N + r.N, Attrs: last.Attrs}
				return d
			}
		case Insert:
			if i, ok := op.(Insert); ok && last.Embed == nil && i.Embed == nil && attrsEqual(last.Attrs, i.Attrs) {
				d.Ops[n-1] = Insert{Text: last.Text + i.Text, Attrs: last.Attrs}
				return d
			}
		case Delete:
			if del, ok := op.(Delete); ok {
				d.Ops[n-1] = Delete{N: last.N + del.N}
				return d
			}
		}
	}
	d.Ops = append(d.Ops, op)
	return d
}

// chop drops a trailing attribute-less retain, which never changes the
// meaning of a delta.
func (d *Delta) chop() *Delta {
	if n := len(d.Ops); n > 0 {
		if r, ok := d.Ops[n-1].(Retain); ok && r.Attrs == nil {
			d.Ops = d.Ops[:n-1]
		}
	}
	return d
}

// Length is the number of code points the delta produces: inserts plus
// retained spans.
func (d *Delta) Length() int {
	n := 0
	for _, op := range d.Ops {
		switch op.(type) {
		case Insert, Retain:
			n += op.Length()
		}
	}
	return n
}

// BaseLength is the number of code points the delta consumes from the
// document it applies to: retained plus deleted spans.
func (d *Delta) BaseLength() int {
	n := 0
	for _, op := range d.Ops {
		switch op.(type) {
		case Retain, Delete:
			n += op.Length()
		}
	}
	return n
}

// IsEmpty reports whether the delta is the no-op.
func (d *Delta) IsEmpty() bool { return len(d.Ops) == 0 }

// InsertOnly reports whether every component is an insert, i.e. the delta
// is a well-formed document state.
func (d *Delta) InsertOnly() bool {
	for _, op := range d.Ops {
		if _, ok := op.(Insert); !ok {
			return false
		}
	}
	return true
}

// Text concatenates the text content of all inserts; embeds contribute
// the object-replacement character.
func (d *Delta) Text() string {
	out := ""
	for _, op := range d.Ops {
		if ins, ok := op.(Insert); ok {
			if ins.Embed != nil {
				out += "￼"
			} else {
				out += ins.Text
			}
		}
	}
	return out
}

func normAttrs(a Attributes) Attributes {
	if len(a) == 0 {
		return nil
	}
	return a
}

func attrsEqual(a, b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// opJSON is the single wire shape every component marshals through.
type opJSON struct {
	Retain     *int            `json:"retain,omitempty"`
	Insert     json.RawMessage `json:"insert,omitempty"`
	Delete     *int            `json:"delete,omitempty"`
	Attributes Attributes      `json:"attributes,omitempty"`
}

// MarshalJSON encodes the delta as a bare JSON array of components.
func (d Delta) MarshalJSON() ([]byte, error) {
	out := make([]opJSON, 0, len(d.Ops))
	for _, op := range d.Ops {
		var enc opJSON
		switch t := op.(type) {
		case Retain:
			n := t.N
			enc.Retain = &n
			enc.Attributes = t.Attrs
		case Insert:
			var v any = t.Text
			if t.Embed != nil {
				v = t.Embed
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			enc.Insert = raw
			enc.Attributes = t.Attrs
		case Delete:
			n := t.N
			enc.Delete = &n
		}
		out = append(out, enc)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a bare JSON array of components, rejecting
// malformed ops: each component must carry exactly one of retain, insert
// or delete; spans must be positive; attributes are not allowed on
// deletes.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var raw []opJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("delta: %w", err)
	}
	ops := make([]Op, 0, len(raw))
	for i, enc := range raw {
		set := 0
		if enc.Retain != nil {
			set++
		}
		if enc.Insert != nil {
			set++
		}
		if enc.Delete != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("delta: op %d must have exactly one of retain, insert, delete", i)
		}
		switch {
		case enc.Retain != nil:
			if *enc.Retain <= 0 {
				return fmt.Errorf("delta: op %d retain must be positive", i)
			}
			ops = append(ops, Retain{N: *enc.Retain, Attrs: normAttrs(enc.Attributes)})
		case enc.Delete != nil:
			if *enc.Delete <= 0 {
				return fmt.Errorf("delta: op %d delete must be positive", i)
			}
			if enc.Attributes != nil {
				return fmt.Errorf("delta: op %d delete cannot carry attributes", i)
			}
			ops = append(ops, Delete{N: *enc.Delete})
		default:
			var text string
			if err := json.Unmarshal(enc.Insert, &text); err == nil {
				if text == "" {
					return fmt.Errorf("delta: op %d insert must not be empty", i)
				}
				ops = append(ops, Insert{Text: text, Attrs: normAttrs(enc.Attributes)})
				break
			}
			var embed map[string]any
			if err := json.Unmarshal(enc.Insert, &embed); err != nil || len(embed) == 0 {
				return fmt.Errorf("delta: op %d insert must be a string or an embed object", i)
			}
			ops = append(ops, Insert{Embed: embed, Attrs: normAttrs(enc.Attributes)})
		}
	}
	d.Ops = ops
	return nil
}

// Parse decodes and validates a wire delta.
func Parse(data []byte) (*Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
