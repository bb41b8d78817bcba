// Package history keeps the in-memory, version-numbered operation log for
// one document. A History is owned exclusively by its document hub and is
// only ever touched from the hub's worker goroutine.
package history

import (
	"fmt"

	"collabtext/internal/domain"
	"collabtext/internal/ot"
)

// DefaultWindow is the number of operations retained for incremental sync.
const DefaultWindow = 1000

// History is the append-only log of accepted operations together with the
// document text they produce. The retained floor is the oldest version the
// log can still serve incrementally; baseText is the document text at that
// floor.
type History struct {
	documentID string
	operations []*domain.Operation
	current    int64
	floor      int64
	baseText   string
	text       string
	window     int64
}

// New creates an empty history at version 0. A window of 0 falls back to
// DefaultWindow.
func New(documentID string, window int64) *History {
	if window <= 0 {
		window = DefaultWindow
	}
	return &History{documentID: documentID, window: window}
}

// Seed initializes the history from a persisted snapshot plus the
// operations that follow it, in ascending version order.
func (h *History) Seed(snapshotText string, snapshotVersion int64, ops []*domain.Operation) error {
	h.baseText = snapshotText
	h.text = snapshotText
	h.floor = snapshotVersion
	h.current = snapshotVersion
	h.operations = h.operations[:0]
	for _, op := range ops {
		if op.Version != h.current+1 {
			return fmt.Errorf("history %s: seed version gap: have %d, next op is %d",
				h.documentID, h.current, op.Version)
		}
		h.operations = append(h.operations, op.Clone())
		h.current = op.Version
		h.text = ot.Apply(h.text, op)
	}
	return nil
}

// CurrentVersion returns the version of the latest accepted operation.
func (h *History) CurrentVersion() int64 {
	return h.current
}

// Floor returns the retained floor. Clients whose base version is below it
// cannot be served incrementally.
func (h *History) Floor() int64 {
	return h.floor
}

// CurrentText returns the document text at the current version.
func (h *History) CurrentText() string {
	return h.text
}

// Len returns the number of retained operations.
func (h *History) Len() int {
	return len(h.operations)
}

// Append accepts op into the history. The operation must already carry the
// next version; a mismatch means the hub and the history disagree about the
// document state, which is corruption.
func (h *History) Append(op *domain.Operation) error {
	if op.Version != h.current+1 {
		return fmt.Errorf("history %s: version mismatch: have %d, appending %d",
			h.documentID, h.current, op.Version)
	}
	h.operations = append(h.operations, op.Clone())
	h.current = op.Version
	h.text = ot.Apply(h.text, op)
	return nil
}

// Since returns the retained operations with version > v in ascending
// order. The result aliases history-owned clones and must not be mutated.
func (h *History) Since(v int64) []*domain.Operation {
	if v < h.floor {
		v = h.floor
	}
	idx := int(v - h.floor)
	if idx >= len(h.operations) {
		return nil
	}
	out := make([]*domain.Operation, 0, len(h.operations)-idx)
	for _, op := range h.operations[idx:] {
		out = append(out, op.Clone())
	}
	return out
}

// TransformAgainstNew folds op forward through every retained operation
// with version > baseVersion. The result is a sequential run, usually of
// one element; concurrent inserts can split a delete in two.
func (h *History) TransformAgainstNew(op *domain.Operation, baseVersion int64) ([]*domain.Operation, error) {
	if baseVersion < h.floor {
		return nil, domain.NewError(domain.CodeStaleBase,
			fmt.Sprintf("base version %d is below the retained floor %d", baseVersion, h.floor))
	}
	if baseVersion > h.current {
		return nil, domain.NewError(domain.CodeInvalidPosition,
			fmt.Sprintf("base version %d is ahead of the document version %d", baseVersion, h.current))
	}
	run := []*domain.Operation{op.Clone()}
	idx := int(baseVersion - h.floor)
	for _, prior := range h.operations[idx:] {
		run = ot.TransformRun(run, prior)
	}
	return run, nil
}

// TextAt replays the retained log up to the given version. The version must
// lie inside [floor, current].
func (h *History) TextAt(version int64) (string, error) {
	if version < h.floor || version > h.current {
		return "", fmt.Errorf("history %s: version %d outside retained range [%d, %d]",
			h.documentID, version, h.floor, h.current)
	}
	text := h.baseText
	for _, op := range h.operations[:version-h.floor] {
		text = ot.Apply(text, op)
	}
	return text, nil
}

// NeedsTruncation reports whether the retained log has outgrown the window.
func (h *History) NeedsTruncation() bool {
	return h.current-h.floor > h.window
}

// TruncationTarget returns the version the oldest quartile ends at; the hub
// persists a snapshot there before calling TruncateTo.
func (h *History) TruncationTarget() int64 {
	return h.floor + h.window/4
}

// TruncateTo drops every operation with version <= v and moves the retained
// floor up to v. The caller must have persisted a snapshot at v first.
func (h *History) TruncateTo(v int64) error {
	text, err := h.TextAt(v)
	if err != nil {
		return err
	}
	h.operations = append(h.operations[:0:0], h.operations[v-h.floor:]...)
	h.baseText = text
	h.floor = v
	return nil
}
