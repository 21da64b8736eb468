package world

import (
	"context"

	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/epoch"
	"pkg.world.dev/epochal/gate"
	"pkg.world.dev/epochal/signal"
)

// CurrentFunc supplies the signals of a persisted but unfinalized epoch so a
// restarted world can repopulate its live pool.
type CurrentFunc func(ctx context.Context) ([]*signal.Signal, error)

// Build reconstructs world state by replaying the given history, oldest to
// newest. Each epoch's payload is fetched through the torrent-data
// collaborator and applied seeded from its predecessor's final snapshots, so
// two replicas replaying identical history converge on identical live-epoch
// state. With no history, the live epoch is the genesis epoch. Signals
// returned by current are fed through Receive, and the gate is enabled last.
func (w *World) Build(ctx context.Context, history []*epoch.Payload, current CurrentFunc) error {
	w.gate.Store(gate.Buffering)

	w.buffered = nil
	w.received = nil
	w.dropped = map[string]uint64{}
	w.history = nil

	var prev *epoch.Epoch
	var seed map[string][]byte
	for _, p := range epoch.SortPayloads(history) {
		if prev != nil && p.Ancestor != prev.ID() {
			return eris.Errorf("history is broken: epoch %d does not descend from epoch %d",
				p.Number, prev.Number())
		}
		ep, err := epoch.New(epoch.Descriptor{
			Ancestor: p.Ancestor,
			Number:   p.Number,
			Alpha:    p.Alpha,
		})
		if err != nil {
			return err
		}
		bz, err := w.fetch(ctx, p.ID())
		if err != nil {
			return eris.Wrapf(err, "failed to fetch epoch %s", p.ID())
		}
		if err := ep.Data(bz, seed); err != nil {
			return eris.Wrapf(err, "failed to replay epoch %d", p.Number)
		}
		seed = ep.Final()
		prev = ep
		w.history = append(w.history, p)
	}

	if prev != nil {
		next, err := prev.Next()
		if err != nil {
			return err
		}
		w.epoch = next
	} else {
		w.epoch = epoch.Genesis(w.genesis)
	}

	if current != nil {
		signals, err := current(ctx)
		if err != nil {
			return eris.Wrap(err, "failed to fetch current signals")
		}
		// The gate is still buffering; these park and drain through full
		// admission when the gate opens below.
		for _, s := range signals {
			w.Receive(s)
		}
	}

	w.logger.Info().
		Int("epochs", len(w.history)).
		Uint64("number", w.epoch.Number()).
		Msg("World built")

	w.Listen(true)
	return nil
}
