package world

import (
	"pkg.world.dev/epochal/epoch"
	"pkg.world.dev/epochal/signal"
)

// Snapshot is everything a remote observer needs to reconstruct current world
// state.
type Snapshot struct {
	Signer   string            `json:"signer"`
	Ancestor string            `json:"ancestor,omitempty"`
	Number   uint64            `json:"number"`
	Alpha    uint64            `json:"alpha"`
	Initial  map[string][]byte `json:"initial,omitempty"`
	Signals  []*signal.Signal  `json:"signals"`
	Dropped  map[string]uint64 `json:"dropped"`
	Position *uint64           `json:"position,omitempty"`
	History  []*epoch.Payload  `json:"history"`
}

// Contact is a pure read projection of the world. With a since block, the
// tentatively included signals and dropped uuids are filtered to those at or
// after it, which supports incremental sync.
func (w *World) Contact(since *uint64) Snapshot {
	signals := make([]*signal.Signal, 0)
	for _, s := range w.epoch.Signals() {
		if since != nil && s.Located && s.BlockNumber < *since {
			continue
		}
		signals = append(signals, s)
	}

	dropped := make(map[string]uint64, len(w.dropped))
	for id, n := range w.dropped {
		if since != nil && n < *since {
			continue
		}
		dropped[id] = n
	}

	var position *uint64
	if w.positioned {
		p := w.position
		position = &p
	}

	return Snapshot{
		Signer:   w.signer,
		Ancestor: w.epoch.Ancestor(),
		Number:   w.epoch.Number(),
		Alpha:    w.epoch.Alpha(),
		Initial:  w.epoch.Initial(),
		Signals:  signals,
		Dropped:  dropped,
		Position: position,
		History:  w.History(),
	}
}
