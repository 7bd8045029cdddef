package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nbexec/internal/console"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcher_ForwardsInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := NewDispatcher(func(in console.Input) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, in.Code())
		return nil
	})
	defer d.Close()

	var want []string
	for i := 0; i < 100; i++ {
		code := fmt.Sprintf("cmd-%03d", i)
		want = append(want, code)
		d.Enqueue(console.NewInput(code, "c1", "client-1"))
	}

	waitFor(t, func() bool {
		return d.GetMetrics().Forwarded == 100
	}, "all commands forwarded")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestDispatcher_ErrorsSkippedNotFatal(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := NewDispatcher(func(in console.Input) error {
		if in.ChunkID() == "bad" {
			return errors.New("transport down")
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, in.ChunkID())
		return nil
	})
	defer d.Close()

	d.Enqueue(console.NewInput("a", "c1", "client-1"))
	d.Enqueue(console.NewInput("b", "bad", "client-1"))
	d.Enqueue(console.NewInput("c", "c2", "client-1"))

	waitFor(t, func() bool {
		m := d.GetMetrics()
		return m.Forwarded == 2 && m.Failed == 1
	}, "dispatcher to drain")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"c1", "c2"}, got)
}

func TestDispatcher_EnqueueAfterCloseDiscards(t *testing.T) {
	calls := 0
	d := NewDispatcher(func(console.Input) error {
		calls++
		return nil
	})
	d.Close()

	d.Enqueue(console.NewInput("x := 1", "c1", "client-1"))

	m := d.GetMetrics()
	assert.Equal(t, int64(1), m.Discarded)
	assert.Equal(t, int64(0), m.Enqueued)
	assert.Equal(t, 0, calls)

	// Close is idempotent.
	d.Close()
}

func TestDispatcher_CloseDiscardsPending(t *testing.T) {
	gate := make(chan struct{})
	d := NewDispatcher(func(console.Input) error {
		<-gate
		return nil
	})

	for i := 0; i < 4; i++ {
		d.Enqueue(console.NewInput("x := 1", "c1", "client-1"))
	}

	// One command is held in the submit call; the rest sit in the
	// intake until Close throws them away.
	waitFor(t, func() bool {
		return d.GetMetrics().Pending == 3
	}, "worker to pick up the first command")

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	// Close empties the intake under the lock before the worker can
	// get back to it; only then may the in-flight submit return.
	waitFor(t, func() bool {
		return d.GetMetrics().Pending == 0
	}, "close to discard the backlog")

	close(gate)
	<-closed

	m := d.GetMetrics()
	assert.Equal(t, int64(3), m.Discarded)
	assert.Equal(t, int64(1), m.Forwarded)
	assert.Equal(t, 0, m.Pending)
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	gate := make(chan struct{})
	d := NewDispatcher(func(console.Input) error {
		<-gate
		return nil
	})

	// Far more than any channel buffer would hold; Enqueue must accept
	// all of it while the worker is stuck.
	for i := 0; i < 10000; i++ {
		d.Enqueue(console.NewInput("x := 1", "c1", "client-1"))
	}
	require.Equal(t, int64(10000), d.GetMetrics().Enqueued)

	close(gate)
	d.Close()
}
