package descriptor

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// Pool limits.
const (
	DefaultMaxSets = 1000

	// MaxChainedSets caps the set count of pools added by a ChainedPool.
	MaxChainedSets = 4096
)

// DefaultSizes is the capacity of a material descriptor pool.
func DefaultSizes() []driver.DescriptorPoolSize {
	return []driver.DescriptorPoolSize{
		{Type: driver.DescriptorTypeUniformBuffer, Count: 10},
		{Type: driver.DescriptorTypeUniformBufferDynamic, Count: 10},
		{Type: driver.DescriptorTypeStorageBuffer, Count: 10},
		{Type: driver.DescriptorTypeStorageBufferDynamic, Count: 10},
	}
}

// SetAllocator allocates descriptor sets for a layout.
type SetAllocator interface {
	AllocateSet(layout *Layout) (driver.DescriptorSet, error)
}

// Pool is a single descriptor pool.
type Pool struct {
	dev     driver.Device
	handle  driver.DescriptorPool
	maxSets uint32
	sizes   []driver.DescriptorPoolSize
}

// NewPool creates a pool for up to maxSets sets with the given descriptor
// capacities.
func NewPool(dev driver.Device, maxSets uint32, sizes []driver.DescriptorPoolSize, flags driver.DescriptorPoolFlags) (*Pool, error) {
	sizes = append([]driver.DescriptorPoolSize(nil), sizes...)
	h, err := dev.CreateDescriptorPool(&driver.DescriptorPoolDescriptor{MaxSets: maxSets, Sizes: sizes, Flags: flags})
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "create descriptor pool for %d sets", maxSets)
	}
	return &Pool{dev: dev, handle: h, maxSets: maxSets, sizes: sizes}, nil
}

// Handle returns the driver handle.
func (p *Pool) Handle() driver.DescriptorPool { return p.handle }

// MaxSets returns the set capacity of the pool.
func (p *Pool) MaxSets() uint32 { return p.maxSets }

// Allocate allocates one set. It reports false when the pool cannot
// satisfy the request.
func (p *Pool) Allocate(layout *Layout) (driver.DescriptorSet, bool) {
	set, err := p.AllocateSet(layout)
	return set, err == nil
}

// AllocateSet allocates one set. Pool exhaustion is reported as
// gpuerr.ErrDescriptorExhaustion wrapping the driver result.
func (p *Pool) AllocateSet(layout *Layout) (driver.DescriptorSet, error) {
	sets, err := p.dev.AllocateDescriptorSets(p.handle, []driver.DescriptorSetLayout{layout.Handle()})
	if err != nil {
		if driver.IsPoolExhausted(err) {
			return 0, gpuerr.DescriptorExhaustion(err, "descriptor pool %#x", p.handle)
		}
		return 0, gpuerr.ResourceCreation(err, "allocate descriptor set")
	}
	return sets[0], nil
}

// Free returns sets to the pool. The pool must have been created with
// driver.DescriptorPoolFreeDescriptorSet.
func (p *Pool) Free(sets []driver.DescriptorSet) error {
	if err := p.dev.FreeDescriptorSets(p.handle, sets); err != nil {
		return gpuerr.ResourceCreation(err, "free %d descriptor sets", len(sets))
	}
	return nil
}

// Reset returns every set of the pool at once.
func (p *Pool) Reset() error {
	if err := p.dev.ResetDescriptorPool(p.handle); err != nil {
		return gpuerr.ResourceCreation(err, "reset descriptor pool")
	}
	return nil
}

// Destroy destroys the pool and all sets allocated from it.
func (p *Pool) Destroy() {
	p.dev.DestroyDescriptorPool(p.handle)
	p.handle = 0
}

// ChainedPool allocates from a list of pools, adding a larger pool when the
// current one is exhausted.
type ChainedPool struct {
	dev     driver.Device
	queue   *deletion.Queue
	flags   driver.DescriptorPoolFlags
	maxSets uint32
	sizes   []driver.DescriptorPoolSize
	pools   []*Pool
	current int
	logger  *slog.Logger
}

// NewChainedPool creates the first pool of the chain. Every pool of the
// chain is registered in q.
func NewChainedPool(dev driver.Device, maxSets uint32, sizes []driver.DescriptorPoolSize, flags driver.DescriptorPoolFlags, q *deletion.Queue, logger *slog.Logger) (*ChainedPool, error) {
	if logger == nil {
		logger = slog.New(nopHandler{})
	}
	c := &ChainedPool{
		dev:     dev,
		queue:   q,
		flags:   flags,
		maxSets: maxSets,
		sizes:   append([]driver.DescriptorPoolSize(nil), sizes...),
		logger:  logger,
	}
	if err := c.addPool(); err != nil {
		return nil, err
	}
	return c, nil
}

// Pools returns the number of pools in the chain.
func (c *ChainedPool) Pools() int { return len(c.pools) }

// AllocateSet allocates from the current pool. When it is exhausted the
// next pool of the chain is used, growing the chain if needed, and the
// allocation is retried once.
func (c *ChainedPool) AllocateSet(layout *Layout) (driver.DescriptorSet, error) {
	set, err := c.pools[c.current].AllocateSet(layout)
	if err == nil || !errors.Is(err, gpuerr.ErrDescriptorExhaustion) {
		return set, err
	}
	if typ, ok := c.fits(layout); !ok {
		return 0, gpuerr.DescriptorExhaustion(err, "no pool of the chain can hold %v descriptors", typ)
	}

	if c.current+1 == len(c.pools) {
		c.grow()
		if err := c.addPool(); err != nil {
			return 0, err
		}
		c.logger.Warn("descriptor: pool exhausted, chained a new pool",
			"pools", len(c.pools), "maxSets", c.maxSets)
	}
	c.current++

	set, err = c.pools[c.current].AllocateSet(layout)
	if err != nil {
		return 0, gpuerr.DescriptorExhaustion(err, "allocation failed after chaining pool %d", c.current)
	}
	return set, nil
}

// Reset resets every pool and restarts allocation at the first one. The
// pools are kept for reuse.
func (c *ChainedPool) Reset() error {
	for _, p := range c.pools {
		if err := p.Reset(); err != nil {
			return err
		}
	}
	c.current = 0
	return nil
}

// Destroy destroys all pools. Only needed when the chain has no deletion
// queue.
func (c *ChainedPool) Destroy() {
	for _, p := range c.pools {
		p.Destroy()
	}
	c.pools = nil
}

// fits reports whether a pool of the chain, grown up to its cap, can hold
// one set of layout. Otherwise it returns the descriptor type that does not
// fit.
func (c *ChainedPool) fits(layout *Layout) (driver.DescriptorType, bool) {
	need := make(map[driver.DescriptorType]uint32)
	for _, b := range layout.Bindings() {
		need[b.Type] += b.Count
	}
	for typ, n := range need {
		var capacity uint32
		for _, s := range c.sizes {
			if s.Type == typ && s.Count > 0 {
				capacity = MaxChainedSets
			}
		}
		if n > capacity {
			return typ, false
		}
	}
	return 0, true
}

// grow scales the capacities of the next pool by 1.5.
func (c *ChainedPool) grow() {
	c.maxSets = min(c.maxSets+(c.maxSets+1)/2, MaxChainedSets)
	for i := range c.sizes {
		c.sizes[i].Count = min(c.sizes[i].Count+(c.sizes[i].Count+1)/2, MaxChainedSets)
	}
}

func (c *ChainedPool) addPool() error {
	p, err := NewPool(c.dev, c.maxSets, c.sizes, c.flags)
	if err != nil {
		return err
	}
	if c.queue != nil {
		c.queue.Push(deletion.KindDescriptorPool, uint64(p.Handle()))
	}
	c.pools = append(c.pools, p)
	c.logger.Debug("descriptor: pool created", "maxSets", c.maxSets, "pools", len(c.pools))
	return nil
}
