// Package refcount implements the counter word that heads every block. The low 48 bits hold the
// number of live owning handles; the high 16 bits hold the registry ID of the allocator that
// produced the block so that the final release can return the memory to the right place.
//
// All operations are sync/atomic operations, which Go defines as sequentially consistent. The
// decrement that observes zero is therefore ordered after every earlier increment and decrement of
// the same counter, and after every write those owners made to the payload before releasing it.
package refcount

import (
	"fmt"
	"sync/atomic"

	"github.com/vkngwrapper/arc/memutils"
)

const (
	countBits = 48
	countMask = int64(1)<<countBits - 1

	// MaxRefcount is the highest count a block may reach. Cloning past it panics, which keeps
	// leaked handles (for instance clones that were never released) from wrapping the counter.
	MaxRefcount int64 = 1 << 47
)

// Counter is the atomic header word of a block. Its zero value is not usable; blocks are
// initialized with Init before any handle to them exists.
type Counter struct {
	n atomic.Int64
}

// Init sets the count to 1 and records the ID of the allocator the block came from
func (c *Counter) Init(allocatorID uint16) {
	c.n.Store(int64(allocatorID)<<countBits | 1)
}

// Increment adds one owner. It panics if the count would pass MaxRefcount or if the block has
// already been released.
func (c *Counter) Increment() {
	n := c.n.Add(1)
	if memutils.Debug && n-1 == memutils.PoisonValue {
		panic(fmt.Sprintf("block at %p was cloned after being freed", c))
	}

	count := n & countMask
	if count > MaxRefcount {
		panic(fmt.Sprintf("refcount overflow: block at %p has more than %d owners", c, MaxRefcount))
	}
	if count == 1 {
		panic(fmt.Sprintf("refcount of block at %p was incremented after it reached zero", c))
	}
}

// Decrement removes one owner and reports whether it was the last one. Exactly one call per block
// returns true, and the caller that receives it is responsible for destroying the payload and freeing
// the block.
func (c *Counter) Decrement() bool {
	n := c.n.Add(-1)
	if memutils.Debug && n+1 == memutils.PoisonValue {
		panic(fmt.Sprintf("block at %p was released after being freed", c))
	}

	count := n & countMask
	if count == countMask {
		panic(fmt.Sprintf("refcount underflow: block at %p was released more times than it was retained", c))
	}

	return count == 0
}

// Load returns the current number of owners. Under concurrent cloning the result is stale as soon as
// it is returned; a result of 1 only proves sole ownership when the caller holds that one owning
// handle and nothing else can clone it.
func (c *Counter) Load() int64 {
	return c.n.Load() & countMask
}

// AllocatorID returns the registry ID passed to Init
func (c *Counter) AllocatorID() uint16 {
	return uint16(uint64(c.n.Load()) >> countBits)
}

// Poison overwrites the counter of a freed block. It no-ops unless the debug_arc build tag is present.
func (c *Counter) Poison() {
	if memutils.Debug {
		c.n.Store(memutils.PoisonValue)
	}
}

// IsPoisoned reports whether Poison was called on this counter. It always returns false unless the
// debug_arc build tag is present.
func (c *Counter) IsPoisoned() bool {
	return memutils.Debug && c.n.Load() == memutils.PoisonValue
}
