package world

import (
	"context"
)

// Drop removes already-included signals from the current, unfinalized epoch.
// It reports false without error when the gate is busy — a concurrent Drop
// during an in-flight guarded operation is rejected, not queued; the caller
// must retry once the world is idle.
func (w *World) Drop(ctx context.Context, uuids []string) (bool, error) {
	if !w.gate.Acquire() {
		return false, nil
	}

	removed, err := w.epoch.Drop(ctx, uuids, w.fetch)
	if err != nil {
		w.Listen(true)
		return false, err
	}

	position := uint64(0)
	if w.positioned {
		position = w.position
	}
	for _, s := range removed {
		s.MarkDropped(position)
		w.dropped[s.UUID] = position
	}

	w.emitDrop(removed, position)
	w.Listen(true)
	return true, nil
}
