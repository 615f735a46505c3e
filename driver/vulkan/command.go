//go:build !(js && wasm)

package vulkan

import (
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

func (d *Device) CreateCommandPool(family uint32, flags driver.CommandPoolFlags) (driver.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(flags),
		QueueFamilyIndex: family,
	}
	var h vk.CommandPool
	if err := result(d.cmds.CreateCommandPool(d.handle, &info, nil, &h), "vkCreateCommandPool"); err != nil {
		return 0, err
	}
	return driver.CommandPool(h), nil
}

// DestroyCommandPool also frees the command buffers allocated from it.
func (d *Device) DestroyCommandPool(p driver.CommandPool) {
	d.cmds.DestroyCommandPool(d.handle, vk.CommandPool(p), nil)
}

func (d *Device) ResetCommandPool(p driver.CommandPool) error {
	return result(d.cmds.ResetCommandPool(d.handle, vk.CommandPool(p), 0), "vkResetCommandPool")
}

func (d *Device) AllocateCommandBuffers(p driver.CommandPool, count int) ([]driver.CommandBuffer, error) {
	if count <= 0 {
		return nil, nil
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        vk.CommandPool(p),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	hs := make([]vk.CommandBuffer, count)
	if err := result(d.cmds.AllocateCommandBuffers(d.handle, &info, &hs[0]), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	out := make([]driver.CommandBuffer, count)
	for i, h := range hs {
		out[i] = &CommandBuffer{dev: d, handle: h}
	}
	return out, nil
}

// CommandBuffer is a primary command buffer.
type CommandBuffer struct {
	dev    *Device
	handle vk.CommandBuffer
}

func (c *CommandBuffer) Reset() error {
	return result(c.dev.cmds.ResetCommandBuffer(c.handle, 0), "vkResetCommandBuffer")
}

func (c *CommandBuffer) Begin(usage driver.CommandBufferUsage) error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(usage),
	}
	return result(c.dev.cmds.BeginCommandBuffer(c.handle, &info), "vkBeginCommandBuffer")
}

func (c *CommandBuffer) End() error {
	return result(c.dev.cmds.EndCommandBuffer(c.handle), "vkEndCommandBuffer")
}

func (c *CommandBuffer) BeginRenderPass(info *driver.RenderPassBeginInfo) {
	clears := c.dev.clearValues(info.RenderPass, info.ClearValues)
	bi := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      vk.RenderPass(info.RenderPass),
		Framebuffer:     vk.Framebuffer(info.Framebuffer),
		RenderArea:      rect(info.Area),
		ClearValueCount: uint32(len(clears)),
		PClearValues:    first(clears),
	}
	c.dev.cmds.CmdBeginRenderPass(c.handle, &bi, vk.SubpassContentsInline)
}

func (c *CommandBuffer) EndRenderPass() {
	c.dev.cmds.CmdEndRenderPass(c.handle)
}

func (c *CommandBuffer) BindPipeline(p driver.Pipeline) {
	c.dev.cmds.CmdBindPipeline(c.handle, vk.PipelineBindPointGraphics, vk.Pipeline(p))
}

func (c *CommandBuffer) BindDescriptorSets(layout driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet, dynamicOffsets []uint32) {
	if len(sets) == 0 {
		return
	}
	hs := handles[vk.DescriptorSet](sets)
	c.dev.cmds.CmdBindDescriptorSets(c.handle, vk.PipelineBindPointGraphics, vk.PipelineLayout(layout),
		firstSet, uint32(len(hs)), &hs[0], uint32(len(dynamicOffsets)), first(dynamicOffsets))
}

func (c *CommandBuffer) BindVertexBuffer(binding uint32, buffer driver.Buffer, offset uint64) {
	b := vk.Buffer(buffer)
	off := vk.DeviceSize(offset)
	c.dev.cmds.CmdBindVertexBuffers(c.handle, binding, 1, &b, &off)
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.dev.cmds.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CommandBuffer) CopyBuffer(src, dst driver.Buffer, regions []driver.BufferCopy) {
	if len(regions) == 0 {
		return
	}
	rs := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		rs[i] = vk.BufferCopy{SrcOffset: vk.DeviceSize(r.SrcOffset), DstOffset: vk.DeviceSize(r.DstOffset), Size: vk.DeviceSize(r.Size)}
	}
	c.dev.cmds.CmdCopyBuffer(c.handle, vk.Buffer(src), vk.Buffer(dst), uint32(len(rs)), &rs[0])
}

func (c *CommandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout driver.ImageLayout, regions []driver.BufferImageCopy) {
	if len(regions) == 0 {
		return
	}
	rs := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		rs[i] = vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(r.Aspect), LayerCount: 1},
			ImageExtent:      vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: max(r.Extent.Depth, 1)},
		}
	}
	c.dev.cmds.CmdCopyBufferToImage(c.handle, vk.Buffer(src), vk.Image(dst), vk.ImageLayout(layout), uint32(len(rs)), &rs[0])
}

func (c *CommandBuffer) PipelineBarrier(src, dst driver.PipelineStage, barriers []driver.ImageBarrier) {
	bs := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		bs[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               vk.Image(b.Image),
			SubresourceRange:    subresourceRange(b.Aspect),
		}
	}
	c.dev.cmds.CmdPipelineBarrier(c.handle, vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		0, nil, 0, nil, uint32(len(bs)), first(bs))
}
