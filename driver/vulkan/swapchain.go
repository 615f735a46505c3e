//go:build !(js && wasm)

package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

func (d *Device) CreateSwapchain(desc *driver.SwapchainDescriptor) (driver.Swapchain, error) {
	info := vk.SwapchainCreateInfoKHR{
		SType:            vk.StructureTypeSwapchainCreateInfoKhr,
		Surface:          vk.SurfaceKHR(desc.Surface),
		MinImageCount:    desc.MinImageCount,
		ImageFormat:      vk.Format(desc.Format.Format),
		ImageColorSpace:  vk.ColorSpaceKHR(desc.Format.ColorSpace),
		ImageExtent:      vk.Extent2D{Width: desc.Extent.Width, Height: desc.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(desc.Usage),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformIdentityBitKhr,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBitKhr,
		PresentMode:      vk.PresentModeKHR(desc.PresentMode),
		Clipped:          1,
		OldSwapchain:     vk.SwapchainKHR(desc.Old),
	}
	if len(desc.Families) > 1 {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = uint32(len(desc.Families))
		info.PQueueFamilyIndices = &desc.Families[0]
	}
	var h vk.SwapchainKHR
	if err := result(d.cmds.CreateSwapchainKHR(d.handle, &info, nil, &h), "vkCreateSwapchainKHR"); err != nil {
		return 0, err
	}
	return driver.Swapchain(h), nil
}

func (d *Device) DestroySwapchain(sc driver.Swapchain) {
	d.cmds.DestroySwapchainKHR(d.handle, vk.SwapchainKHR(sc), nil)
}

func (d *Device) SwapchainImages(sc driver.Swapchain) ([]driver.Image, error) {
	var n uint32
	if err := result(d.cmds.GetSwapchainImagesKHR(d.handle, vk.SwapchainKHR(sc), &n, nil), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("vulkan: swapchain has no images")
	}
	imgs := make([]vk.Image, n)
	if err := result(d.cmds.GetSwapchainImagesKHR(d.handle, vk.SwapchainKHR(sc), &n, &imgs[0]), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	out := make([]driver.Image, n)
	for i, img := range imgs[:n] {
		out[i] = driver.Image(img)
	}
	return out, nil
}

// AcquireNextImage returns the index alongside driver.ErrSuboptimal when
// the image is usable but the swapchain should be recreated.
func (d *Device) AcquireNextImage(sc driver.Swapchain, timeout time.Duration, sem driver.Semaphore) (uint32, error) {
	var idx uint32
	r := d.cmds.AcquireNextImageKHR(d.handle, vk.SwapchainKHR(sc), timeoutNanos(timeout), vk.Semaphore(sem), 0, &idx)
	return idx, result(r, "vkAcquireNextImageKHR")
}
