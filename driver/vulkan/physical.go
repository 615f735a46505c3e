//go:build !(js && wasm)

package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

// physicalDevice caches the static properties of a GPU at enumeration.
type physicalDevice struct {
	inst   *Instance
	handle vk.PhysicalDevice

	props    driver.PhysicalDeviceProperties
	features driver.Features
	families []driver.QueueFamily
	exts     []string
	memory   vk.PhysicalDeviceMemoryProperties
}

func newPhysicalDevice(inst *Instance, h vk.PhysicalDevice) *physicalDevice {
	pd := &physicalDevice{inst: inst, handle: h}

	var props vk.PhysicalDeviceProperties
	inst.cmds.GetPhysicalDeviceProperties(h, &props)
	pd.props = convertProperties(&props)

	var features vk.PhysicalDeviceFeatures
	inst.cmds.GetPhysicalDeviceFeatures(h, &features)
	pd.features = driver.Features{
		GeometryShader:    features.GeometryShader != 0,
		SamplerAnisotropy: features.SamplerAnisotropy != 0,
	}

	var n uint32
	inst.cmds.GetPhysicalDeviceQueueFamilyProperties(h, &n, nil)
	if n > 0 {
		families := make([]vk.QueueFamilyProperties, n)
		inst.cmds.GetPhysicalDeviceQueueFamilyProperties(h, &n, &families[0])
		for _, f := range families[:n] {
			pd.families = append(pd.families, driver.QueueFamily{Flags: driver.QueueFlags(f.QueueFlags), Count: f.QueueCount})
		}
	}

	n = 0
	if inst.cmds.EnumerateDeviceExtensionProperties(h, 0, &n, nil) == vk.Success && n > 0 {
		exts := make([]vk.ExtensionProperties, n)
		if inst.cmds.EnumerateDeviceExtensionProperties(h, 0, &n, &exts[0]) == vk.Success {
			for i := range exts[:n] {
				pd.exts = append(pd.exts, gostring(exts[i].ExtensionName[:]))
			}
		}
	}

	inst.cmds.GetPhysicalDeviceMemoryProperties(h, &pd.memory)
	return pd
}

func convertProperties(p *vk.PhysicalDeviceProperties) driver.PhysicalDeviceProperties {
	l := &p.Limits
	return driver.PhysicalDeviceProperties{
		Name:     gostring(p.DeviceName[:]),
		Type:     deviceType(p.DeviceType),
		VendorID: p.VendorID,
		DeviceID: p.DeviceID,
		Limits: driver.Limits{
			MaxImageDimension2D:             l.MaxImageDimension2D,
			MinUniformBufferOffsetAlignment: uint64(l.MinUniformBufferOffsetAlignment),
			MinStorageBufferOffsetAlignment: uint64(l.MinStorageBufferOffsetAlignment),
			MaxUniformBufferRange:           l.MaxUniformBufferRange,
			MaxStorageBufferRange:           l.MaxStorageBufferRange,
			MaxSamplerAnisotropy:            l.MaxSamplerAnisotropy,
			FramebufferColorSampleCounts:    driver.SampleCount(l.FramebufferColorSampleCounts),
			FramebufferDepthSampleCounts:    driver.SampleCount(l.FramebufferDepthSampleCounts),
		},
	}
}

func deviceType(t vk.PhysicalDeviceType) gputypes.DeviceType {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return gputypes.DeviceTypeDiscreteGPU
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return gputypes.DeviceTypeIntegratedGPU
	case vk.PhysicalDeviceTypeVirtualGpu:
		return gputypes.DeviceTypeVirtualGPU
	case vk.PhysicalDeviceTypeCpu:
		return gputypes.DeviceTypeCPU
	}
	return gputypes.DeviceTypeOther
}

func (pd *physicalDevice) Properties() driver.PhysicalDeviceProperties { return pd.props }
func (pd *physicalDevice) Features() driver.Features                   { return pd.features }
func (pd *physicalDevice) QueueFamilies() []driver.QueueFamily         { return pd.families }
func (pd *physicalDevice) Extensions() []string                        { return pd.exts }

func (pd *physicalDevice) MemoryProperties() driver.MemoryProperties {
	return convertMemoryProperties(&pd.memory)
}

func convertMemoryProperties(m *vk.PhysicalDeviceMemoryProperties) driver.MemoryProperties {
	var out driver.MemoryProperties
	for _, t := range m.MemoryTypes[:m.MemoryTypeCount] {
		out.Types = append(out.Types, driver.MemoryType{Flags: driver.MemoryPropertyFlags(t.PropertyFlags), HeapIndex: t.HeapIndex})
	}
	for _, h := range m.MemoryHeaps[:m.MemoryHeapCount] {
		out.Heaps = append(out.Heaps, driver.MemoryHeap{
			Size:        uint64(h.Size),
			DeviceLocal: h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0,
		})
	}
	return out
}

func (pd *physicalDevice) FormatProperties(format driver.Format) driver.FormatProperties {
	var p vk.FormatProperties
	pd.inst.cmds.GetPhysicalDeviceFormatProperties(pd.handle, vk.Format(format), &p)
	return driver.FormatProperties{
		LinearTiling:  driver.FormatFeatureFlags(p.LinearTilingFeatures),
		OptimalTiling: driver.FormatFeatureFlags(p.OptimalTilingFeatures),
	}
}

func (pd *physicalDevice) SurfaceSupport(family uint32) (bool, error) {
	var ok vk.Bool32
	r := pd.inst.cmds.GetPhysicalDeviceSurfaceSupportKHR(pd.handle, family, pd.inst.surface, &ok)
	if err := result(r, "vkGetPhysicalDeviceSurfaceSupportKHR"); err != nil {
		return false, err
	}
	return ok != 0, nil
}

func (pd *physicalDevice) SurfaceCapabilities() (driver.SurfaceCapabilities, error) {
	var c vk.SurfaceCapabilitiesKHR
	r := pd.inst.cmds.GetPhysicalDeviceSurfaceCapabilitiesKHR(pd.handle, pd.inst.surface, &c)
	if err := result(r, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return driver.SurfaceCapabilities{}, err
	}
	return driver.SurfaceCapabilities{
		MinImageCount: c.MinImageCount,
		MaxImageCount: c.MaxImageCount,
		CurrentExtent: driver.Extent2D{Width: c.CurrentExtent.Width, Height: c.CurrentExtent.Height},
		MinExtent:     driver.Extent2D{Width: c.MinImageExtent.Width, Height: c.MinImageExtent.Height},
		MaxExtent:     driver.Extent2D{Width: c.MaxImageExtent.Width, Height: c.MaxImageExtent.Height},
	}, nil
}

func (pd *physicalDevice) SurfaceFormats() ([]driver.SurfaceFormat, error) {
	var n uint32
	r := pd.inst.cmds.GetPhysicalDeviceSurfaceFormatsKHR(pd.handle, pd.inst.surface, &n, nil)
	if err := result(r, "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil || n == 0 {
		return nil, err
	}
	formats := make([]vk.SurfaceFormatKHR, n)
	r = pd.inst.cmds.GetPhysicalDeviceSurfaceFormatsKHR(pd.handle, pd.inst.surface, &n, &formats[0])
	if err := result(r, "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return nil, err
	}
	out := make([]driver.SurfaceFormat, n)
	for i, f := range formats[:n] {
		out[i] = driver.SurfaceFormat{Format: driver.Format(f.Format), ColorSpace: driver.ColorSpace(f.ColorSpace)}
	}
	return out, nil
}

func (pd *physicalDevice) PresentModes() ([]driver.PresentMode, error) {
	var n uint32
	r := pd.inst.cmds.GetPhysicalDeviceSurfacePresentModesKHR(pd.handle, pd.inst.surface, &n, nil)
	if err := result(r, "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil || n == 0 {
		return nil, err
	}
	modes := make([]vk.PresentModeKHR, n)
	r = pd.inst.cmds.GetPhysicalDeviceSurfacePresentModesKHR(pd.handle, pd.inst.surface, &n, &modes[0])
	if err := result(r, "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return nil, err
	}
	out := make([]driver.PresentMode, n)
	for i, m := range modes[:n] {
		out[i] = driver.PresentMode(m)
	}
	return out, nil
}

func (pd *physicalDevice) CreateDevice(desc *driver.DeviceDescriptor) (driver.Device, error) {
	if len(desc.Queues) == 0 {
		return nil, errors.New("vulkan: device needs at least one queue")
	}
	queues := make([]vk.DeviceQueueCreateInfo, len(desc.Queues))
	for i, q := range desc.Queues {
		if len(q.Priorities) == 0 {
			return nil, errors.Newf("vulkan: queue family %d requested with no priorities", q.Family)
		}
		queues[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: q.Family,
			QueueCount:       uint32(len(q.Priorities)),
			PQueuePriorities: &q.Priorities[0],
		}
	}
	features := vk.PhysicalDeviceFeatures{
		GeometryShader:    bool32(desc.Features.GeometryShader),
		SamplerAnisotropy: bool32(desc.Features.SamplerAnisotropy),
	}
	extNames, extPtrs := cstrings(desc.Extensions)
	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queues)),
		PQueueCreateInfos:       &queues[0],
		EnabledExtensionCount:   uint32(len(desc.Extensions)),
		PpEnabledExtensionNames: sliceAddr(extPtrs),
		PEnabledFeatures:        &features,
	}
	var handle vk.Device
	r := pd.inst.cmds.CreateDevice(pd.handle, &info, nil, &handle)
	runtime.KeepAlive(extNames)
	runtime.KeepAlive(desc.Queues)
	if err := result(r, "vkCreateDevice"); err != nil {
		return nil, err
	}
	return newDevice(pd, handle)
}
