package notebook

import (
	"encoding/json"
	"fmt"
)

// QueueUnit is the smallest schedulable item: one chunk's remaining
// execution ranges plus its raw (unparsed) execution options. Identity
// is (DocID, ChunkID). The range list is consumed front-to-back as
// work is dispatched; an exhausted list does not by itself mean the
// unit is complete (see queue.ExecContext).
type QueueUnit struct {
	DocID   string      `json:"doc_id"`
	ChunkID string      `json:"chunk_id"`
	Code    string      `json:"code"`
	Ranges  []ExecRange `json:"ranges"`
	Options string      `json:"options"`
}

// Pending reports whether the unit still has unsubmitted ranges.
func (u *QueueUnit) Pending() bool {
	return len(u.Ranges) > 0
}

// PopRange removes and returns the next execution range. When no
// ranges remain it returns a zero-length sentinel so the caller can
// still drive a completion signal through the console.
func (u *QueueUnit) PopRange() ExecRange {
	if len(u.Ranges) == 0 {
		return ExecRange{}
	}
	r := u.Ranges[0]
	u.Ranges = u.Ranges[1:]
	return r
}

// Text returns the source text covered by the range, clamped to the
// bounds of the chunk's code.
func (u *QueueUnit) Text(r ExecRange) string {
	if r.Empty() || r.Start >= len(u.Code) {
		return ""
	}
	end := r.End()
	if end > len(u.Code) {
		end = len(u.Code)
	}
	start := r.Start
	if start < 0 {
		start = 0
	}
	return u.Code[start:end]
}

// Assign replaces the unit's mutable state (code, ranges, options)
// with that of src, preserving object identity so that a pointer held
// by the queue's in-flight slot stays valid across an update-in-place.
func (u *QueueUnit) Assign(src *QueueUnit) {
	u.Code = src.Code
	u.Ranges = append([]ExecRange(nil), src.Ranges...)
	u.Options = src.Options
}

// UnitFromJSON decodes a queue unit from its wire form and validates
// identity fields.
func UnitFromJSON(data []byte) (*QueueUnit, error) {
	var u QueueUnit
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("invalid queue unit: %w", err)
	}
	if err := u.validate(); err != nil {
		return nil, err
	}
	return &u, nil
}

func (u *QueueUnit) validate() error {
	if u.DocID == "" {
		return fmt.Errorf("queue unit missing doc_id")
	}
	if u.ChunkID == "" {
		return fmt.Errorf("queue unit missing chunk_id")
	}
	return nil
}
