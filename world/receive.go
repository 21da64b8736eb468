package world

import (
	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/signal"
	"pkg.world.dev/epochal/statsd"
)

var (
	ErrEpochMismatch   = eris.New("epoch mismatch")
	ErrAlreadyIncluded = eris.New("already included")
	ErrDuplicateSignal = eris.New("duplicate signal")
)

// Receive admits one signal. While the gate is buffering, the signal is parked
// without validation. All failures are funneled to the OnIgnore hook; Receive
// never returns an error to the caller.
func (w *World) Receive(data any) {
	s, err := signal.FromRaw(data)
	if err != nil {
		w.emitIgnore(nil, err)
		return
	}
	if !w.gate.Listening() {
		w.emitBuffer(s)
		w.buffered = append(w.buffered, s)
		return
	}
	w.admit(s)
}

func (w *World) admit(s *signal.Signal) {
	if err := w.validate(s); err != nil {
		statsd.Count("ignored", 1, nil)
		w.emitIgnore(s, err)
		return
	}

	s.ClearLocation()
	s.AddParams(map[string]string{signal.ParamWorld: w.namespace})

	// A signal carrying a dropped marker is being re-admitted from durable
	// storage after a restart: its uuid goes back into the dropped audit map,
	// not the received pool.
	if s.Dropped != nil {
		w.dropped[s.UUID] = *s.Dropped
		return
	}

	w.received = append(w.received, s)
	statsd.Count("received", 1, nil)
	w.emitReceive(s)
}

func (w *World) validate(s *signal.Signal) error {
	if s.Epoch != w.epoch.Ancestor() {
		return ErrEpochMismatch
	}
	if b, ok := w.clock.ReadHash(s.Block); ok && w.positioned && b.Number <= w.position {
		return ErrAlreadyIncluded
	}
	// Newest first: duplicates are statistically more likely to be recent.
	for i := len(w.received) - 1; i >= 0; i-- {
		if w.received[i].UUID == s.UUID {
			return ErrDuplicateSignal
		}
	}
	return nil
}
