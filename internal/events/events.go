// Package events defines the client notifications the execution queue
// emits and the hub that fans them out to remote observers. Events
// for a given document are always delivered in emit order.
package events

import (
	"nbexec/internal/notebook"
)

// ExecState mirrors the chunk execution state carried by
// chunk_exec_state_changed events on the wire.
type ExecState int

const (
	// StateStarted means the chunk has begun executing.
	StateStarted ExecState = 0

	// StateFinished means the chunk completed all of its ranges and
	// the console finished producing output for them.
	StateFinished ExecState = 1

	// StateCancelled means the chunk was deleted while in flight.
	// The original notebook protocol had no event for this; it is
	// emitted so observers can tell cancellation from "still pending".
	StateCancelled ExecState = 2
)

// Type identifies an event on the wire.
type Type string

const (
	// TypeChunkExecState carries a chunk started/finished/cancelled
	// transition.
	TypeChunkExecState Type = "chunk_exec_state_changed"

	// TypeRangeExecuted reports that an exact source range has been
	// sent to the console, ahead of any evaluation confirmation.
	TypeRangeExecuted Type = "notebook_range_executed"
)

// Event is one client notification.
type Event struct {
	Type    Type                `json:"type"`
	DocID   string              `json:"doc_id"`
	ChunkID string              `json:"chunk_id"`
	State   *ExecState          `json:"exec_state,omitempty"`
	Range   *notebook.ExecRange `json:"exec_range,omitempty"`
}

// ChunkStarted builds the started notification for a chunk.
func ChunkStarted(docID, chunkID string) Event {
	return execState(docID, chunkID, StateStarted)
}

// ChunkFinished builds the finished notification for a chunk.
func ChunkFinished(docID, chunkID string) Event {
	return execState(docID, chunkID, StateFinished)
}

// ChunkCancelled builds the cancellation notification for a chunk.
func ChunkCancelled(docID, chunkID string) Event {
	return execState(docID, chunkID, StateCancelled)
}

func execState(docID, chunkID string, state ExecState) Event {
	s := state
	return Event{
		Type:    TypeChunkExecState,
		DocID:   docID,
		ChunkID: chunkID,
		State:   &s,
	}
}

// RangeExecuted builds the range-submitted notification, carrying the
// exact range so observers can highlight what was sent.
func RangeExecuted(docID, chunkID string, r notebook.ExecRange) Event {
	rr := r
	return Event{
		Type:    TypeRangeExecuted,
		DocID:   docID,
		ChunkID: chunkID,
		Range:   &rr,
	}
}

// Emitter is the notification boundary the queue writes to. Delivery
// is assumed at-least-once and ordered per document; failures are the
// transport's problem, not the queue's.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls the wrapped function.
func (f EmitterFunc) Emit(ev Event) {
	f(ev)
}

// Discard is an Emitter that drops every event.
var Discard = EmitterFunc(func(Event) {})
