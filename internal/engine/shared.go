package engine

import (
	"sync"
	"sync/atomic"
)

// Running is the process-wide shutdown flag shared by every actor. The
// flag itself stays a simple observable boolean, but teardown waits on a
// channel close instead of burning CPU in a spin loop.
type Running struct {
	flag atomic.Bool
	done chan struct{}
	once sync.Once
}

// NewRunning returns a Running flag initialized to true.
func NewRunning() *Running {
	r := &Running{done: make(chan struct{})}
	r.flag.Store(true)
	return r
}

// Load reports whether the simulation is still running.
func (r *Running) Load() bool {
	return r.flag.Load()
}

// Stop clears the flag and wakes every waiter. Safe to call more than once
// (from the interrupt handler and, independently, from the coordinator on
// normal completion) — only the first call has effect.
func (r *Running) Stop() {
	r.once.Do(func() {
		r.flag.Store(false)
		close(r.done)
	})
}

// Wait blocks until Stop has been called.
func (r *Running) Wait() {
	<-r.done
}

// TxIDCounter hands out process-wide, strictly increasing transaction
// identifiers. It is injected into every client rather than kept as a
// package-level global, so multiple simulations can run in
// the same process without sharing counters.
type TxIDCounter struct {
	next atomic.Int32
}

// NewTxIDCounter returns a counter whose first Next() call yields 0.
func NewTxIDCounter() *TxIDCounter {
	return &TxIDCounter{}
}

// Next returns the next unique txid.
func (c *TxIDCounter) Next() int32 {
	return c.next.Add(1) - 1
}
