package console

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"nbexec/internal/logging"
)

// =============================================================================
// YAEGI INTERPRETER CONSOLE
// =============================================================================
//
// Interpreter wraps a yaegi Go interpreter behind the Console
// interface. A single control goroutine owns the interpreter: it takes
// one command at a time from the intake channel, evaluates it, fires
// the lifecycle events, and then fires the prompt signal. All
// callbacks run on that control goroutine, which is what gives the
// queue its run-to-completion idle handling.

// Interpreter is the yaegi-backed shared console.
type Interpreter struct {
	in   chan Input
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
	busy      atomic.Bool

	mu           sync.Mutex
	nextListener int
	promptLs     map[int]func()
	lifecycleLs  map[int]func(Event)

	interp *interp.Interpreter
	out    bytes.Buffer
}

var _ Console = (*Interpreter)(nil)

// NewInterpreter creates and starts a console backed by a fresh yaegi
// interpreter with the standard library loaded. inputBuffer bounds the
// console's own intake; the queue's dispatcher absorbs bursts beyond
// it.
func NewInterpreter(inputBuffer int) (*Interpreter, error) {
	if inputBuffer <= 0 {
		inputBuffer = 16
	}

	c := &Interpreter{
		in:          make(chan Input, inputBuffer),
		done:        make(chan struct{}),
		promptLs:    make(map[int]func()),
		lifecycleLs: make(map[int]func(Event)),
	}

	c.interp = interp.New(interp.Options{
		Stdout: &c.out,
		Stderr: &c.out,
	})
	if err := c.interp.Use(stdlib.Symbols); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.run()

	logging.Console("interpreter console started (input_buffer=%d)", inputBuffer)
	return c, nil
}

// Submit delivers a command to the console intake.
func (c *Interpreter) Submit(in Input) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.in <- in:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Busy reports whether an evaluation is in progress.
func (c *Interpreter) Busy() bool {
	return c.busy.Load()
}

// OnPrompt registers an idle-signal callback.
func (c *Interpreter) OnPrompt(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.promptLs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.promptLs, id)
	}
}

// OnLifecycle registers an evaluation lifecycle callback.
func (c *Interpreter) OnLifecycle(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.lifecycleLs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.lifecycleLs, id)
	}
}

// Close shuts the console down and waits for the control goroutine.
// Commands still in the intake are discarded.
func (c *Interpreter) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	logging.Console("interpreter console stopped")
}

// run is the control goroutine: one command at a time, then prompt.
func (c *Interpreter) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case in := <-c.in:
			c.evaluate(in)
			c.firePrompt()
		}
	}
}

// evaluate runs one command through the interpreter. Empty input is
// not evaluated but still produces the full lifecycle, which is what
// lets the queue drive a completion signal for code-less chunks.
func (c *Interpreter) evaluate(in Input) {
	chunkID := in.ChunkID()
	c.busy.Store(true)
	defer c.busy.Store(false)

	c.fireLifecycle(Event{Type: EvalStarted, ChunkID: chunkID})

	var output string
	var err error
	if code := in.Code(); strings.TrimSpace(code) != "" {
		c.out.Reset()
		_, err = c.interp.Eval(code)
		output = c.out.String()
		if err != nil {
			logging.Get(logging.CategoryConsole).Warn("chunk %s evaluation error: %v", chunkID, err)
		}
	}

	c.fireLifecycle(Event{
		Type:    EvalFinished,
		ChunkID: chunkID,
		Output:  output,
		Err:     err,
	})
}

func (c *Interpreter) firePrompt() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.promptLs))
	for _, fn := range c.promptLs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Interpreter) fireLifecycle(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.lifecycleLs))
	for _, fn := range c.lifecycleLs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
