package delta

import (
	"fmt"

	"scribe.evalgo.org/common"
)

// Apply runs an edit against a document and returns the new document.
// The document must be insert-only; the edit must not retain or delete
// past the end of the document (an insert positioned beyond the end shows
// up as an over-long retain). An empty edit is the no-op. Boundary
// violations are protocol errors: the client sent an edit that cannot
// describe this document.
func Apply(doc, op *Delta) (*Delta, error) {
	if !doc.InsertOnly() {
		return nil, common.NewProtocolError("document must contain only inserts", nil)
	}
	if span, have := op.BaseLength(), doc.Length(); span > have {
		return nil, common.NewProtocolError(
			fmt.Sprintf("operation spans %d code points, document has %d", span, have), nil)
	}
	out := Compose(doc, op)
	if !out.InsertOnly() {
		return nil, common.NewProtocolError("operation does not produce a document", nil)
	}
	return out, nil
}
