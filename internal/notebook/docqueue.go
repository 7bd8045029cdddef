package notebook

import (
	"encoding/json"
	"fmt"
)

// -----------------------------------------------------------------------------
// Queue Operations
// -----------------------------------------------------------------------------

// QueueOp identifies a structural edit applied to a document queue.
// The set is closed; decoding rejects anything else.
type QueueOp int

const (
	// OpInsert adds a unit before an anchor chunk (or at the end when
	// the anchor is empty or unknown).
	OpInsert QueueOp = iota

	// OpDelete removes a unit by chunk id.
	OpDelete

	// OpUpdate replaces a queued unit's code, ranges, and options in
	// place, preserving its position and identity.
	OpUpdate
)

// String returns the wire name of the operation.
func (op QueueOp) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("unknown(%d)", int(op))
	}
}

// ParseQueueOp converts a wire name into a QueueOp.
func ParseQueueOp(s string) (QueueOp, error) {
	switch s {
	case "insert":
		return OpInsert, nil
	case "delete":
		return OpDelete, nil
	case "update":
		return OpUpdate, nil
	default:
		return 0, fmt.Errorf("unknown queue operation %q", s)
	}
}

// -----------------------------------------------------------------------------
// DocQueue
// -----------------------------------------------------------------------------

// DocQueue holds the ordered pending units for one notebook document,
// along with the rendering parameters the console needs to format
// output for that document. Units are kept in intended execution
// order and chunk ids are unique within a document.
type DocQueue struct {
	DocID      string
	PixelWidth int
	CharWidth  int

	units []*QueueUnit
}

// NewDocQueue creates a document queue over the given units. Units
// with a chunk id already present replace the earlier entry so the
// no-duplicate invariant holds from construction.
func NewDocQueue(docID string, pixelWidth, charWidth int, units []*QueueUnit) *DocQueue {
	q := &DocQueue{
		DocID:      docID,
		PixelWidth: pixelWidth,
		CharWidth:  charWidth,
	}
	for _, u := range units {
		q.Update(u, OpInsert, "")
	}
	return q
}

// Complete reports whether the document has no pending units.
func (q *DocQueue) Complete() bool {
	return len(q.units) == 0
}

// Len returns the number of pending units.
func (q *DocQueue) Len() int {
	return len(q.units)
}

// FirstUnit returns the next unit to execute, or nil when the queue
// is complete.
func (q *DocQueue) FirstUnit() *QueueUnit {
	if len(q.units) == 0 {
		return nil
	}
	return q.units[0]
}

// Units returns the pending units in order. The slice is a copy; the
// units themselves are shared.
func (q *DocQueue) Units() []*QueueUnit {
	out := make([]*QueueUnit, len(q.units))
	copy(out, q.units)
	return out
}

func (q *DocQueue) indexOf(chunkID string) int {
	for i, u := range q.units {
		if u.ChunkID == chunkID {
			return i
		}
	}
	return -1
}

// Update applies a structural edit to the queue. Insert places the
// unit before the chunk named by before, appending when before is
// empty or not found; inserting a chunk id already present falls back
// to an in-place update to preserve the no-duplicate invariant.
// Delete and Update on an absent chunk are no-ops.
func (q *DocQueue) Update(unit *QueueUnit, op QueueOp, before string) {
	switch op {
	case OpInsert:
		if i := q.indexOf(unit.ChunkID); i >= 0 {
			q.units[i].Assign(unit)
			return
		}
		at := len(q.units)
		if before != "" {
			if i := q.indexOf(before); i >= 0 {
				at = i
			}
		}
		q.units = append(q.units, nil)
		copy(q.units[at+1:], q.units[at:])
		q.units[at] = unit

	case OpDelete:
		if i := q.indexOf(unit.ChunkID); i >= 0 {
			q.units = append(q.units[:i], q.units[i+1:]...)
		}

	case OpUpdate:
		if i := q.indexOf(unit.ChunkID); i >= 0 {
			q.units[i].Assign(unit)
		}
	}
}

// -----------------------------------------------------------------------------
// Wire decoding
// -----------------------------------------------------------------------------

// docQueueJSON is the wire form of a new-document request payload.
type docQueueJSON struct {
	DocID      string       `json:"doc_id"`
	PixelWidth int          `json:"pixel_width"`
	CharWidth  int          `json:"char_width"`
	Units      []*QueueUnit `json:"units"`
}

// DocQueueFromJSON decodes a document queue from its wire form.
// Every unit must carry the same doc id as the queue.
func DocQueueFromJSON(data []byte) (*DocQueue, error) {
	var raw docQueueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid document queue: %w", err)
	}
	if raw.DocID == "" {
		return nil, fmt.Errorf("document queue missing doc_id")
	}
	for _, u := range raw.Units {
		if u.DocID == "" {
			u.DocID = raw.DocID
		}
		if u.DocID != raw.DocID {
			return nil, fmt.Errorf("unit %s belongs to doc %s, not %s",
				u.ChunkID, u.DocID, raw.DocID)
		}
		if err := u.validate(); err != nil {
			return nil, err
		}
	}
	return NewDocQueue(raw.DocID, raw.PixelWidth, raw.CharWidth, raw.Units), nil
}
