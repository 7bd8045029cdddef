// Package notebook defines the data model for queued notebook work:
// execution ranges, queue units (one chunk's remaining work), document
// queues, and the structural operations clients may apply to them.
package notebook

// ExecRange is a contiguous span of unexecuted source within a chunk.
// Ranges are popped one at a time as they are submitted to the console,
// which is what makes incremental re-execution ("run next line") work.
type ExecRange struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Empty reports whether the range covers no source. The queue submits
// an empty range as a sentinel for chunks whose options suppress all
// code but which still need a completion signal from the console.
func (r ExecRange) Empty() bool {
	return r.Length <= 0
}

// End returns the offset one past the last character of the range.
func (r ExecRange) End() int {
	return r.Start + r.Length
}
