package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// OperationType identifies the kind of edit an operation carries.
type OperationType string

const (
	// OpInsert inserts Content at Position.
	OpInsert OperationType = "insert"
	// OpDelete removes Length code points starting at Position.
	OpDelete OperationType = "delete"
	// OpRetain changes nothing. Operations that collapse to nothing during
	// transformation are kept as retains so version numbering stays gapless.
	OpRetain OperationType = "retain"
)

// Operation is a single edit accepted into a document's history.
// Position and Length are Unicode code point offsets into the document text
// as it was immediately before the operation applied.
type Operation struct {
	ID        string        `bson:"op_id" json:"id"`
	Type      OperationType `bson:"type" json:"type"`
	Position  int           `bson:"position" json:"position"`
	Content   string        `bson:"content,omitempty" json:"content,omitempty"`
	Length    int           `bson:"length,omitempty" json:"length,omitempty"`
	Author    string        `bson:"author" json:"author"`
	Version   int64         `bson:"version" json:"version"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
}

// Clone returns a copy of the operation.
func (op *Operation) Clone() *Operation {
	if op == nil {
		return nil
	}
	c := *op
	return &c
}

// End returns the first position past the operation's affected range.
func (op *Operation) End() int {
	return op.Position + op.Length
}

// ContentLen returns the length of Content in code points.
func (op *Operation) ContentLen() int {
	return utf8.RuneCountInString(op.Content)
}

// IsNoop reports whether applying the operation leaves the text unchanged.
func (op *Operation) IsNoop() bool {
	return op.Type == OpRetain
}

// Validate checks structural well-formedness independent of any document
// state. Position bounds against the actual text are enforced by the hub.
func (op *Operation) Validate() error {
	switch op.Type {
	case OpInsert:
		if op.Content == "" {
			return NewError(CodeInvalidType, "insert operation must have content")
		}
		if op.Length != 0 {
			return NewError(CodeInvalidType, "insert operation must not have a length")
		}
	case OpDelete:
		if op.Length <= 0 {
			return NewError(CodeInvalidType, "delete operation must have positive length")
		}
		if op.Content != "" {
			return NewError(CodeInvalidType, "delete operation must not have content")
		}
	case OpRetain:
	default:
		return NewError(CodeInvalidType, fmt.Sprintf("unknown operation type %q", op.Type))
	}
	if op.Position < 0 {
		return NewError(CodeInvalidPosition, "operation position must be non-negative")
	}
	return nil
}
