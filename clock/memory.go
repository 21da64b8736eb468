package clock

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"
)

var _ Clock = &MemoryClock{}

// MemoryClock keeps confirmed blocks in memory, fetching headers through a
// GetBlockFunc. Synchronize stages fetched blocks and commits them only when
// every fetch up to the target succeeded, so a failed sync leaves the clock
// exactly as it was.
type MemoryClock struct {
	mu          sync.RWMutex
	start       uint64
	getBlock    GetBlockFunc
	byHash      map[common.Hash]Block
	byNumber    map[uint64]Block
	max         uint64
	initialized bool
}

// NewMemoryClock returns a clock that begins tracking history at the given
// start block.
func NewMemoryClock(start uint64, getBlock GetBlockFunc) *MemoryClock {
	return &MemoryClock{
		start:    start,
		getBlock: getBlock,
		byHash:   map[common.Hash]Block{},
		byNumber: map[uint64]Block{},
	}
}

func (c *MemoryClock) ReadHash(h common.Hash) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byHash[h]
	return b, ok
}

func (c *MemoryClock) ReadNumber(n uint64) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byNumber[n]
	return b, ok
}

func (c *MemoryClock) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func (c *MemoryClock) Max() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.max
}

func (c *MemoryClock) Synchronize(ctx context.Context, to uint64) (int, error) {
	if c.getBlock == nil {
		return 0, eris.New("clock has no block fetcher")
	}

	c.mu.RLock()
	from := c.start
	if c.initialized {
		from = c.max + 1
	}
	c.mu.RUnlock()

	if from > to {
		return 0, nil
	}

	// Stage everything before touching the committed maps.
	staged := make([]Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		b, err := c.getBlock(ctx, n)
		if err != nil {
			return 0, eris.Wrapf(err, "failed to fetch block %d", n)
		}
		staged = append(staged, b)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range staged {
		c.byHash[b.Hash] = b
		c.byNumber[b.Number] = b
	}
	c.max = to
	c.initialized = true
	return len(staged), nil
}
