package frame

import (
	"github.com/gogpu/gfx/command"
	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// State is where a slot is in the frame protocol.
type State uint8

// Slot states.
const (
	Idle State = iota
	Recording
	Submitted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Submitted:
		return "submitted"
	}
	return "unknown"
}

// Slot holds the per-frame synchronization objects and command buffer.
// Frame f uses slot f mod N, so a slot is reused only after its fence
// shows the GPU finished the frame that last used it.
type Slot struct {
	Index            int
	CommandBuffer    driver.CommandBuffer
	RenderFence      driver.Fence
	PresentSemaphore driver.Semaphore
	RenderSemaphore  driver.Semaphore

	state State
}

// State returns the slot state.
func (s *Slot) State() State { return s.state }

// newSlots creates n slots. Fences start signaled so the first wait on each
// slot returns at once.
func newSlots(dev driver.Device, pool *command.Pool, n int, q *deletion.Queue) ([]*Slot, error) {
	cbs, err := pool.Allocate(n)
	if err != nil {
		return nil, err
	}
	slots := make([]*Slot, n)
	for i := range slots {
		s := &Slot{Index: i, CommandBuffer: cbs[i]}
		if s.RenderFence, err = dev.CreateFence(true); err != nil {
			return nil, gpuerr.ResourceCreation(err, "create render fence %d", i)
		}
		q.Push(deletion.KindFence, uint64(s.RenderFence))
		if s.PresentSemaphore, err = dev.CreateSemaphore(); err != nil {
			return nil, gpuerr.ResourceCreation(err, "create present semaphore %d", i)
		}
		q.Push(deletion.KindSemaphore, uint64(s.PresentSemaphore))
		if s.RenderSemaphore, err = dev.CreateSemaphore(); err != nil {
			return nil, gpuerr.ResourceCreation(err, "create render semaphore %d", i)
		}
		q.Push(deletion.KindSemaphore, uint64(s.RenderSemaphore))
		slots[i] = s
	}
	return slots, nil
}
