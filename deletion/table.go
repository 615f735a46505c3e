package deletion

import "github.com/gogpu/gfx/driver"

// DeviceTable returns the dispatch table destroying every handle kind
// through dev.
func DeviceTable(dev driver.Device) Table {
	return Table{
		KindBuffer:              func(h uint64) { dev.DestroyBuffer(driver.Buffer(h)) },
		KindImage:               func(h uint64) { dev.DestroyImage(driver.Image(h)) },
		KindImageView:           func(h uint64) { dev.DestroyImageView(driver.ImageView(h)) },
		KindSampler:             func(h uint64) { dev.DestroySampler(driver.Sampler(h)) },
		KindAllocation:          func(h uint64) { dev.FreeMemory(driver.Allocation(h)) },
		KindFence:               func(h uint64) { dev.DestroyFence(driver.Fence(h)) },
		KindSemaphore:           func(h uint64) { dev.DestroySemaphore(driver.Semaphore(h)) },
		KindCommandPool:         func(h uint64) { dev.DestroyCommandPool(driver.CommandPool(h)) },
		KindDescriptorSetLayout: func(h uint64) { dev.DestroyDescriptorSetLayout(driver.DescriptorSetLayout(h)) },
		KindDescriptorPool:      func(h uint64) { dev.DestroyDescriptorPool(driver.DescriptorPool(h)) },
		KindPipelineLayout:      func(h uint64) { dev.DestroyPipelineLayout(driver.PipelineLayout(h)) },
		KindPipeline:            func(h uint64) { dev.DestroyPipeline(driver.Pipeline(h)) },
		KindShaderModule:        func(h uint64) { dev.DestroyShaderModule(driver.ShaderModule(h)) },
		KindRenderPass:          func(h uint64) { dev.DestroyRenderPass(driver.RenderPass(h)) },
		KindFramebuffer:         func(h uint64) { dev.DestroyFramebuffer(driver.Framebuffer(h)) },
		KindSwapchain:           func(h uint64) { dev.DestroySwapchain(driver.Swapchain(h)) },
	}
}
