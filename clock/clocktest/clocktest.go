// Package clocktest provides a deterministic fake chain for tests.
package clocktest

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/clock"
)

// Chain is a fake block source. Block hashes and timestamps are pure functions
// of the block number, so every test run sees the same chain.
type Chain struct {
	mu       sync.Mutex
	head     uint64
	failNext bool
}

func NewChain(head uint64) *Chain {
	return &Chain{head: head}
}

// Block returns the deterministic block at the given number.
func Block(n uint64) clock.Block {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return clock.Block{
		Number:    n,
		Hash:      crypto.Keccak256Hash(buf[:]),
		Timestamp: 1_700_000_000 + n*12,
	}
}

func (c *Chain) SetHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
}

// FailNext makes the next block fetch return an error, then clears itself.
func (c *Chain) FailNext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = true
}

func (c *Chain) Head(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *Chain) GetBlock(_ context.Context, n uint64) (clock.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return clock.Block{}, eris.New("chain unavailable")
	}
	if n > c.head {
		return clock.Block{}, eris.Errorf("block %d is past the chain head %d", n, c.head)
	}
	return Block(n), nil
}
