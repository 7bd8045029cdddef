// Package console defines the boundary to the shared interactive
// interpreter and provides the yaegi-backed implementation used by the
// daemon. The console is a single-threaded stateful resource: it
// accepts one command at a time, evaluates it, and returns to its
// prompt. Variable bindings and attached packages persist across
// evaluations.
package console

import (
	"encoding/json"
	"errors"
)

// EventType identifies a console lifecycle event.
type EventType int

const (
	// EvalStarted fires when the console begins evaluating a command.
	EvalStarted EventType = iota

	// EvalFinished fires when evaluation and output emission for a
	// command are done, just before the console returns to its prompt.
	EvalFinished
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EvalStarted:
		return "eval_started"
	case EvalFinished:
		return "eval_finished"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification scoped to the chunk that owns the
// evaluated command.
type Event struct {
	Type    EventType
	ChunkID string
	Output  string // captured console output, set on EvalFinished
	Err     error  // evaluation error, set on EvalFinished
}

// Input is one console command. The wire shape mirrors the session
// RPC the notebook front end uses for interactive input, so queued
// chunk code travels the same path as code a user types.
type Input struct {
	Method   string   `json:"method"`
	Params   []string `json:"params"` // [code, chunk id]
	ClientID string   `json:"clientId"`
}

// NewInput builds a console_input command for a chunk.
func NewInput(code, chunkID, clientID string) Input {
	return Input{
		Method:   "console_input",
		Params:   []string{code, chunkID},
		ClientID: clientID,
	}
}

// Code returns the command's source text.
func (in Input) Code() string {
	if len(in.Params) == 0 {
		return ""
	}
	return in.Params[0]
}

// ChunkID returns the id of the chunk that owns the command.
func (in Input) ChunkID() string {
	if len(in.Params) < 2 {
		return ""
	}
	return in.Params[1]
}

// Marshal returns the wire form of the command.
func (in Input) Marshal() ([]byte, error) {
	return json.Marshal(in)
}

// ErrClosed is returned by Submit after the console has shut down.
var ErrClosed = errors.New("console is closed")

// Console is the interface the execution queue depends on. The
// interpreter behind it is opaque; only submission, the idle signal,
// and per-chunk lifecycle events are visible.
type Console interface {
	// Submit delivers one command to the console's input channel. It
	// may block while the console's intake is full, which is why the
	// queue routes submissions through its dispatch worker.
	Submit(in Input) error

	// Busy reports whether the console is mid-evaluation.
	Busy() bool

	// OnPrompt registers a callback fired each time the console
	// returns to its prompt. The returned function detaches it.
	OnPrompt(fn func()) (detach func())

	// OnLifecycle registers a callback for evaluation lifecycle
	// events. The returned function detaches it.
	OnLifecycle(fn func(Event)) (detach func())
}
