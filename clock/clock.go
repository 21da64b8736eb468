// Package clock defines the block-confirmation clock and peer-directory
// collaborators the world consumes. The world never mutates these services
// directly; it asks them to synchronize up to a block and reads the results.
package clock

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Block is one confirmed block known to the clock.
type Block struct {
	Number    uint64      `json:"number"`
	Hash      common.Hash `json:"hash"`
	Timestamp uint64      `json:"timestamp"`
}

// Clock is the block-confirmation clock. Signals are located and verified
// against it, and epochs are sealed at block numbers it has confirmed.
type Clock interface {
	// ReadHash resolves a claimed block hash to a confirmed block, if known.
	ReadHash(h common.Hash) (Block, bool)

	// ReadNumber returns the confirmed block at the given number, if known.
	ReadNumber(n uint64) (Block, bool)

	// Initialized reports whether the clock has synchronized at least once.
	Initialized() bool

	// Max returns the highest confirmed block number.
	Max() uint64

	// Synchronize extends the known block history up to the given block and
	// returns the number of blocks added. On error no partial history is kept.
	Synchronize(ctx context.Context, to uint64) (updates int, err error)
}

// Directory is the peer-directory synchronization service.
type Directory interface {
	Synchronize(ctx context.Context, to uint64) (updates int, err error)
}

// HeadFunc reports the current head block number of the external chain.
type HeadFunc func(ctx context.Context) (uint64, error)

// GetBlockFunc fetches one block by number from the external chain.
type GetBlockFunc func(ctx context.Context, number uint64) (Block, error)

// NoopDirectory satisfies Directory for worlds that run without a peer
// directory.
type NoopDirectory struct{}

func (NoopDirectory) Synchronize(context.Context, uint64) (int, error) { return 0, nil }
