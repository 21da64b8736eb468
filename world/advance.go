package world

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"pkg.world.dev/epochal/signal"
	"pkg.world.dev/epochal/statsd"
)

// AdvanceResult reports what one advance did.
type AdvanceResult struct {
	Position         uint64           `json:"position"`
	Included         []*signal.Signal `json:"included"`
	Rejected         []RejectEvent    `json:"rejected"`
	ClockUpdates     int              `json:"clockUpdates"`
	DirectoryUpdates int              `json:"directoryUpdates"`
}

// Advance derives its target from the chain head minus the confirmation depth
// and folds all now-confirmed signals into the current epoch. A failed head
// lookup aborts with no state change.
func (w *World) Advance(ctx context.Context) (*AdvanceResult, error) {
	if w.head == nil {
		return nil, eris.New("no chain-head source is configured")
	}
	head, err := w.head(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to resolve chain head; world position unchanged")
		return nil, eris.Wrap(err, "failed to resolve chain head")
	}
	if head < w.confirm {
		// Nothing can be confirmed yet.
		return nil, nil
	}
	return w.AdvanceTo(ctx, head-w.confirm)
}

// AdvanceTo advances the world position to the given target block. Re-entrant
// and no-progress calls are safe no-ops. Clock and directory synchronization
// are all or nothing: a failure there leaves position and the received pool
// untouched.
func (w *World) AdvanceTo(ctx context.Context, to uint64) (*AdvanceResult, error) {
	if w.clock.Initialized() && w.positioned && to <= w.position {
		return nil, nil
	}
	if !w.gate.Acquire() {
		// Another guarded operation is in flight.
		return nil, nil
	}

	startTime := time.Now()
	var span tracer.Span
	span, ctx = tracer.StartSpanFromContext(ctx, "epochal.span.advance")
	defer span.Finish()

	w.logger.Info().Uint64("to", to).Msg("Advance started")

	clockUpdates, err := w.clock.Synchronize(ctx, to)
	if err != nil {
		w.Listen(true)
		return nil, eris.Wrap(err, "clock synchronization failed")
	}
	directoryUpdates, err := w.directory.Synchronize(ctx, to)
	if err != nil {
		w.Listen(true)
		return nil, eris.Wrap(err, "directory synchronization failed")
	}

	// Partition the received pool into confirmed and still-pending signals.
	var confirmed, pending []*signal.Signal
	for _, s := range w.received {
		if s.Locate(w.clock) && s.BlockNumber <= to {
			confirmed = append(confirmed, s)
		} else {
			pending = append(pending, s)
		}
	}
	w.received = pending

	// The deterministic comparator is the linchpin of consensus: inclusion
	// order determines final state, so every replica must sort identically.
	sort.SliceStable(confirmed, func(i, j int) bool {
		return confirmed[i].Compare(confirmed[j]) < 0
	})

	res := &AdvanceResult{
		Position:         to,
		Included:         make([]*signal.Signal, 0, len(confirmed)),
		ClockUpdates:     clockUpdates,
		DirectoryUpdates: directoryUpdates,
	}
	for _, s := range confirmed {
		if err := s.Verify(w.clock, s.BlockNumber); err != nil {
			res.Rejected = append(res.Rejected, RejectEvent{Signal: s, Err: err, Reason: err.Error()})
			w.emitReject(s, err)
			continue
		}
		if err := w.epoch.Include(s); err != nil {
			res.Rejected = append(res.Rejected, RejectEvent{Signal: s, Err: err, Reason: err.Error()})
			w.emitReject(s, err)
			continue
		}
		res.Included = append(res.Included, s)
	}

	w.position = to
	w.positioned = true

	statsd.Count("included", int64(len(res.Included)), nil)
	statsd.Count("rejected", int64(len(res.Rejected)), nil)
	statsd.EmitAdvanceStat(startTime, "full_advance")

	w.emitAdvance(res)
	w.Listen(true)
	return res, nil
}
