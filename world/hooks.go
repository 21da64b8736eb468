package world

import (
	"pkg.world.dev/epochal/signal"
)

// Hooks is the fixed set of optional world event handlers. Every invocation
// is fault isolated: a panicking handler is caught and logged, never
// propagated to the operation that fired it.
type Hooks struct {
	// OnBuffer fires when a signal is parked because the gate is buffering.
	OnBuffer func(ev BufferEvent, w *World)
	// OnReceive fires when a signal is admitted into the received pool.
	OnReceive func(ev ReceiveEvent, w *World)
	// OnIgnore fires when admission validation discards a signal.
	OnIgnore func(ev IgnoreEvent, w *World)
	// OnAdvance fires after a successful advance.
	OnAdvance func(ev *AdvanceResult, w *World)
	// OnReject fires when a confirmed signal fails verification or inclusion.
	OnReject func(ev RejectEvent, w *World)
	// OnDrop fires after included signals are removed from the current epoch.
	OnDrop func(ev DropEvent, w *World)
}

type BufferEvent struct {
	Signal *signal.Signal `json:"signal"`
}

type ReceiveEvent struct {
	Signal *signal.Signal `json:"signal"`
}

type IgnoreEvent struct {
	Signal *signal.Signal `json:"signal"`
	Err    error          `json:"-"`
	Reason string         `json:"reason"`
}

type RejectEvent struct {
	Signal *signal.Signal `json:"signal"`
	Err    error          `json:"-"`
	Reason string         `json:"reason"`
}

type DropEvent struct {
	Signals  []*signal.Signal `json:"signals"`
	Position uint64           `json:"position"`
}

func (w *World) emitBuffer(s *signal.Signal) {
	if w.hooks.OnBuffer == nil {
		return
	}
	w.invoke("onBuffer", func() { w.hooks.OnBuffer(BufferEvent{Signal: s}, w) })
}

func (w *World) emitReceive(s *signal.Signal) {
	if w.hooks.OnReceive == nil {
		return
	}
	w.invoke("onReceive", func() { w.hooks.OnReceive(ReceiveEvent{Signal: s}, w) })
}

func (w *World) emitIgnore(s *signal.Signal, err error) {
	if w.hooks.OnIgnore == nil {
		return
	}
	ev := IgnoreEvent{Signal: s, Err: err}
	if err != nil {
		ev.Reason = err.Error()
	}
	w.invoke("onIgnore", func() { w.hooks.OnIgnore(ev, w) })
}

func (w *World) emitAdvance(res *AdvanceResult) {
	if w.hooks.OnAdvance == nil {
		return
	}
	w.invoke("onAdvance", func() { w.hooks.OnAdvance(res, w) })
}

func (w *World) emitReject(s *signal.Signal, err error) {
	if w.hooks.OnReject == nil {
		return
	}
	ev := RejectEvent{Signal: s, Err: err}
	if err != nil {
		ev.Reason = err.Error()
	}
	w.invoke("onReject", func() { w.hooks.OnReject(ev, w) })
}

func (w *World) emitDrop(signals []*signal.Signal, position uint64) {
	if w.hooks.OnDrop == nil {
		return
	}
	w.invoke("onDrop", func() { w.hooks.OnDrop(DropEvent{Signals: signals, Position: position}, w) })
}

func (w *World) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Msgf("%s handler panicked: %v", name, r)
		}
	}()
	fn()
}
