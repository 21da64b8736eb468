package world

import (
	"context"

	"pkg.world.dev/epochal/clock"
	"pkg.world.dev/epochal/epoch"
)

// ReleaseFunc hands a sealed epoch to durable storage/distribution. The world
// waits for it to succeed before any further mutation and never retries it
// internally.
type ReleaseFunc func(ctx context.Context, sealed *epoch.Epoch) error

type WorldOption func(*World)

// WithClock injects a block-confirmation clock. Without it, a memory clock is
// built from the WithGetBlock fetcher.
func WithClock(c clock.Clock) WorldOption {
	return func(w *World) { w.clock = c }
}

// WithDirectory injects the peer-directory synchronization service.
func WithDirectory(d clock.Directory) WorldOption {
	return func(w *World) { w.directory = d }
}

// WithHead injects the chain-head source used by Advance to derive its target.
func WithHead(fn clock.HeadFunc) WorldOption {
	return func(w *World) { w.head = fn }
}

// WithGetBlock injects the block fetcher backing the default memory clock.
func WithGetBlock(fn clock.GetBlockFunc) WorldOption {
	return func(w *World) { w.getBlock = fn }
}

// WithTorrentData injects the durable transport used to fetch epoch payloads,
// both for historical replay and for live epoch hydration. Required.
func WithTorrentData(fn epoch.FetchFunc) WorldOption {
	return func(w *World) { w.fetch = fn }
}

// WithReleaseSink injects the sink sealed epochs are handed to. Required.
func WithReleaseSink(fn ReleaseFunc) WorldOption {
	return func(w *World) { w.sink = fn }
}

// WithHooks installs the optional event handlers.
func WithHooks(h Hooks) WorldOption {
	return func(w *World) { w.hooks = h }
}
