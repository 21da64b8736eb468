// Package gate holds the admission gate for the world. While the gate is
// buffering, inbound signals are parked instead of admitted, which lets the
// long-running world operations (advance, drop, stage/release, build) run
// without concurrent mutation of the received pool.
package gate

import (
	"sync/atomic"
)

type State string

const (
	Idle      State = "Idle"      // The gate is open; signals are admitted directly
	Buffering State = "Buffering" // The gate is closed; inbound signals are parked
)

type Gate struct {
	current *atomic.Value
}

// New returns a gate in the Buffering state. The world opens it once Build has
// finished reconstructing state.
func New() *Gate {
	g := &Gate{
		current: &atomic.Value{},
	}
	g.Store(Buffering)
	return g
}

// Acquire attempts the Idle -> Buffering transition. It reports false when the
// gate is already buffering, which is how guarded operations reject re-entrant
// calls.
func (g *Gate) Acquire() bool {
	return g.current.CompareAndSwap(Idle, Buffering)
}

func (g *Gate) Listening() bool {
	return g.Current() == Idle
}

func (g *Gate) Current() State {
	return g.current.Load().(State)
}

func (g *Gate) Store(val State) {
	g.current.Store(val)
}

func (g *Gate) Swap(newState State) (oldState State) {
	return g.current.Swap(newState).(State)
}
