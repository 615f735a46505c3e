//go:build !(js && wasm)

package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

// Queue is a device queue.
type Queue struct {
	dev    *Device
	handle vk.Queue
	family uint32
}

// submitBatch owns the arrays a vk.SubmitInfo points into.
type submitBatch struct {
	wait    []vk.Semaphore
	stages  []vk.PipelineStageFlags
	cmds    []vk.CommandBuffer
	signals []vk.Semaphore
}

func (q *Queue) Submit(submits []driver.SubmitInfo, fence driver.Fence) error {
	batches := make([]submitBatch, len(submits))
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		if len(s.WaitStages) != len(s.WaitSemaphores) {
			return errors.Newf("vulkan: submit %d has %d wait semaphores and %d stages", i, len(s.WaitSemaphores), len(s.WaitStages))
		}
		b := &batches[i]
		b.wait = handles[vk.Semaphore](s.WaitSemaphores)
		b.signals = handles[vk.Semaphore](s.SignalSemaphores)
		for _, st := range s.WaitStages {
			b.stages = append(b.stages, vk.PipelineStageFlags(st))
		}
		for _, c := range s.CommandBuffers {
			cb, ok := c.(*CommandBuffer)
			if !ok {
				return errors.Wrapf(driver.ErrInvalidHandle, "vulkan: submit %d carries a foreign command buffer %T", i, c)
			}
			b.cmds = append(b.cmds, cb.handle)
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(b.wait)),
			PWaitSemaphores:      first(b.wait),
			PWaitDstStageMask:    first(b.stages),
			CommandBufferCount:   uint32(len(b.cmds)),
			PCommandBuffers:      first(b.cmds),
			SignalSemaphoreCount: uint32(len(b.signals)),
			PSignalSemaphores:    first(b.signals),
		}
	}
	r := q.dev.cmds.QueueSubmit(q.handle, uint32(len(infos)), first(infos), vk.Fence(fence))
	runtime.KeepAlive(batches)
	return result(r, "vkQueueSubmit")
}

func (q *Queue) Present(info *driver.PresentInfo) error {
	wait := handles[vk.Semaphore](info.WaitSemaphores)
	sc := vk.SwapchainKHR(info.Swapchain)
	idx := info.ImageIndex
	pi := vk.PresentInfoKHR{
		SType:              vk.StructureTypePresentInfoKhr,
		WaitSemaphoreCount: uint32(len(wait)),
		PWaitSemaphores:    first(wait),
		SwapchainCount:     1,
		PSwapchains:        &sc,
		PImageIndices:      &idx,
	}
	r := q.dev.cmds.QueuePresentKHR(q.handle, &pi)
	runtime.KeepAlive(wait)
	return result(r, "vkQueuePresentKHR")
}

func (q *Queue) WaitIdle() error {
	return result(q.dev.cmds.QueueWaitIdle(q.handle), "vkQueueWaitIdle")
}
