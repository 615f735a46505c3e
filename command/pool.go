// Package command manages command pools and the immediate-submit context
// used for one-shot uploads.
package command

import (
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// Flags selects how buffers allocated from a Pool are used.
type Flags uint8

const (
	// Resettable allows resetting individual command buffers.
	Resettable Flags = 1 << iota
	// Transient hints that buffers are short-lived.
	Transient
)

func (f Flags) driverFlags() driver.CommandPoolFlags {
	var out driver.CommandPoolFlags
	if f&Resettable != 0 {
		out |= driver.CommandPoolResetCommandBuffer
	}
	if f&Transient != 0 {
		out |= driver.CommandPoolTransient
	}
	return out
}

// Pool is a command pool bound to one queue family.
type Pool struct {
	dev    driver.Device
	handle driver.CommandPool
	family uint32
	flags  Flags
}

// NewPool creates a command pool on family.
func NewPool(dev driver.Device, family uint32, flags Flags) (*Pool, error) {
	h, err := dev.CreateCommandPool(family, flags.driverFlags())
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "create command pool on family %d", family)
	}
	return &Pool{dev: dev, handle: h, family: family, flags: flags}, nil
}

// Handle returns the driver handle.
func (p *Pool) Handle() driver.CommandPool { return p.handle }

// Family returns the queue family the pool allocates for.
func (p *Pool) Family() uint32 { return p.family }

// Flags returns the flags the pool was created with.
func (p *Pool) Flags() Flags { return p.flags }

// Allocate returns n primary command buffers.
func (p *Pool) Allocate(n int) ([]driver.CommandBuffer, error) {
	cbs, err := p.dev.AllocateCommandBuffers(p.handle, n)
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "allocate %d command buffers", n)
	}
	return cbs, nil
}

// Reset returns every buffer of the pool to the initial state.
func (p *Pool) Reset() error {
	if err := p.dev.ResetCommandPool(p.handle); err != nil {
		return gpuerr.ResourceCreation(err, "reset command pool")
	}
	return nil
}

// Destroy releases the pool and every buffer allocated from it.
func (p *Pool) Destroy() {
	if p.handle != 0 {
		p.dev.DestroyCommandPool(p.handle)
		p.handle = 0
	}
}
