package queue

import (
	"sync"
	"testing"
	"time"

	"nbexec/internal/console"
	"nbexec/internal/events"
)

// mockConsole is a scripted console for deterministic queue tests.
// Submit marks the console busy (as if evaluation began immediately);
// the test drives completion with FinishEval, which fires the
// lifecycle event and then the prompt, in the same order as the real
// interpreter.
type mockConsole struct {
	mu          sync.Mutex
	busy        bool
	submitted   []console.Input
	submitErr   error
	nextID      int
	promptLs    map[int]func()
	lifecycleLs map[int]func(console.Event)
}

func newMockConsole() *mockConsole {
	return &mockConsole{
		promptLs:    make(map[int]func()),
		lifecycleLs: make(map[int]func(console.Event)),
	}
}

func (m *mockConsole) Submit(in console.Input) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, in)
	m.busy = true
	return nil
}

func (m *mockConsole) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

func (m *mockConsole) OnPrompt(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.promptLs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.promptLs, id)
	}
}

func (m *mockConsole) OnLifecycle(fn func(console.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.lifecycleLs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.lifecycleLs, id)
	}
}

// FinishEval completes the in-flight evaluation for a chunk: the
// console goes idle, EvalFinished fires, then the prompt.
func (m *mockConsole) FinishEval(chunkID string) {
	m.mu.Lock()
	m.busy = false
	lifecycle := make([]func(console.Event), 0, len(m.lifecycleLs))
	for _, fn := range m.lifecycleLs {
		lifecycle = append(lifecycle, fn)
	}
	prompts := make([]func(), 0, len(m.promptLs))
	for _, fn := range m.promptLs {
		prompts = append(prompts, fn)
	}
	m.mu.Unlock()

	for _, fn := range lifecycle {
		fn(console.Event{Type: console.EvalFinished, ChunkID: chunkID})
	}
	for _, fn := range prompts {
		fn()
	}
}

// SetBusy forces the busy flag without firing any signal.
func (m *mockConsole) SetBusy(busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = busy
}

// FirePrompt fires a bare idle signal with no evaluation attached.
func (m *mockConsole) FirePrompt() {
	m.mu.Lock()
	prompts := make([]func(), 0, len(m.promptLs))
	for _, fn := range m.promptLs {
		prompts = append(prompts, fn)
	}
	m.mu.Unlock()
	for _, fn := range prompts {
		fn()
	}
}

// Submissions returns a copy of everything submitted so far.
func (m *mockConsole) Submissions() []console.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]console.Input, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// SubmissionCount returns the number of commands received.
func (m *mockConsole) SubmissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

// recordingEmitter captures emitted events in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Snapshot returns a copy of the recorded events.
func (r *recordingEmitter) Snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns the number of recorded events.
func (r *recordingEmitter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// summary renders events as compact "type:doc/chunk" strings for
// order assertions.
func summary(evs []events.Event) []string {
	var out []string
	for _, ev := range evs {
		tag := string(ev.Type)
		if ev.Type == events.TypeChunkExecState && ev.State != nil {
			switch *ev.State {
			case events.StateStarted:
				tag = "started"
			case events.StateFinished:
				tag = "finished"
			case events.StateCancelled:
				tag = "cancelled"
			}
		} else if ev.Type == events.TypeRangeExecuted {
			tag = "range"
		}
		out = append(out, tag+":"+ev.DocID+"/"+ev.ChunkID)
	}
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
