// Package world implements the epoch orchestrator: admission, confirmation,
// deterministic ordering and inclusion, finalization and rotation, and replay.
//
// The world's mutable state (the signal pools, the current epoch, the
// position) has a single conceptual owner. The admission gate is the only
// coordination primitive: guarded operations acquire it on entry and restore
// it on exit, and inbound admission becomes a buffering no-op while it is
// held. Callers are responsible for serializing calls to Advance, Drop, Build,
// Stage, and Release.
package world

import (
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/epochal/clock"
	"pkg.world.dev/epochal/epoch"
	"pkg.world.dev/epochal/gate"
	"pkg.world.dev/epochal/signal"
)

const DefaultConfirm = 12

type World struct {
	namespace  string
	signer     string
	signerAddr string
	confirm    uint64
	genesis    uint64

	// Signal pools
	gate     *gate.Gate
	buffered []*signal.Signal
	received []*signal.Signal
	dropped  map[string]uint64 // uuid -> block number of removal

	// Epoch lineage
	history []*epoch.Payload
	epoch   *epoch.Epoch

	// position is the last block number whose signals have been resolved.
	position   uint64
	positioned bool

	// Collaborators
	clock     clock.Clock
	directory clock.Directory
	head      clock.HeadFunc
	getBlock  clock.GetBlockFunc
	fetch     epoch.FetchFunc
	sink      ReleaseFunc

	hooks  Hooks
	logger *zerolog.Logger
}

// NewWorld creates a world from the given config and options. The required
// collaborators (torrent-data fetch and release sink) and config fields
// (signer identity, genesis block) are validated here; missing ones fail fast.
func NewWorld(cfg *WorldConfig, opts ...WorldOption) (*World, error) {
	if cfg == nil {
		cfg = DefaultWorldConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	confirm := uint64(cfg.EpochalConfirm)
	if confirm == 0 {
		confirm = DefaultConfirm
	}

	w := &World{
		namespace:  cfg.EpochalNamespace,
		signer:     cfg.EpochalSigner,
		signerAddr: cfg.EpochalSignerAddress,
		confirm:    confirm,
		genesis:    uint64(cfg.EpochalGenesis),
		gate:       gate.New(),
		dropped:    map[string]uint64{},
		epoch:      epoch.Genesis(uint64(cfg.EpochalGenesis)),
		directory:  clock.NoopDirectory{},
		logger:     &log.Logger,
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.clock == nil {
		start := uint64(cfg.EpochalDeploymentBlock)
		if start == 0 {
			start = w.genesis
		}
		w.clock = clock.NewMemoryClock(start, w.getBlock)
	}
	if w.fetch == nil {
		return nil, eris.New("a torrent-data fetcher is required")
	}
	if w.sink == nil {
		return nil, eris.New("a release sink is required")
	}

	w.logger.Info().Msgf("Created world %q for signer %q (genesis %d, confirm %d)",
		w.namespace, w.signer, w.genesis, w.confirm)
	return w, nil
}

// Listen toggles the admission gate. Enabling it drains the buffered pool
// through admission in original arrival order, then clears the buffer.
func (w *World) Listen(enabled bool) {
	if !enabled {
		w.gate.Store(gate.Buffering)
		return
	}
	parked := w.buffered
	w.buffered = nil
	w.gate.Store(gate.Idle)
	for _, s := range parked {
		w.admit(s)
	}
}

func (w *World) Listening() bool { return w.gate.Listening() }

// Position returns the last block number whose signals have been resolved.
// The second return is false until the first successful Advance.
func (w *World) Position() (uint64, bool) { return w.position, w.positioned }

// Epoch returns the current live epoch. It is exclusively owned by the world;
// callers must not mutate it.
func (w *World) Epoch() *epoch.Epoch { return w.epoch }

func (w *World) Namespace() string { return w.namespace }

func (w *World) Signer() string { return w.signer }

// Received returns the admitted signals still awaiting confirmation.
func (w *World) Received() []*signal.Signal {
	return append([]*signal.Signal{}, w.received...)
}

// History returns the ordered finalized epoch payloads, oldest first.
func (w *World) History() []*epoch.Payload {
	return append([]*epoch.Payload{}, w.history...)
}

// Clock exposes the block-confirmation clock for read-only collaborator use.
func (w *World) Clock() clock.Clock { return w.clock }

// InjectLogger replaces the world's logger.
func (w *World) InjectLogger(logger *zerolog.Logger) {
	w.logger = logger
}
