//go:build !(js && wasm)

package vulkan

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/vulkan/memory"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

func TestNewWithoutSurfaceProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  *driver.Config
	}{
		{"nil config", nil},
		{"no window", &driver.Config{}},
		{"plain window", &driver.Config{Window: gpucontext.NullWindowProvider{W: 640, H: 480, SF: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, driver.ErrNotAvailable) {
				t.Errorf("New() error = %v, want ErrNotAvailable", err)
			}
		})
	}
}

func TestRegistered(t *testing.T) {
	if !driver.IsRegistered(driver.NameVulkan) {
		t.Fatal("vulkan backend not registered")
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		r    vk.Result
		want error
	}{
		{vk.Timeout, driver.ErrTimeout},
		{vk.NotReady, driver.ErrTimeout},
		{vk.SuboptimalKhr, driver.ErrSuboptimal},
		{vk.ErrorOutOfDateKhr, driver.ErrOutOfDate},
		{errorOutOfPoolMemory, driver.ErrOutOfPoolMemory},
		{vk.ErrorFragmentedPool, driver.ErrFragmentedPool},
		{vk.ErrorOutOfDeviceMemory, driver.ErrOutOfDeviceMemory},
		{vk.ErrorOutOfHostMemory, driver.ErrOutOfDeviceMemory},
		{vk.ErrorMemoryMapFailed, driver.ErrMemoryMapFailed},
		{vk.ErrorDeviceLost, driver.ErrDeviceLost},
		{vk.ErrorInitializationFailed, driver.ErrInitializationFailed},
		{vk.ErrorLayerNotPresent, driver.ErrInitializationFailed},
	}
	for _, tt := range tests {
		err := result(tt.r, "op")
		if !errors.Is(err, tt.want) {
			t.Errorf("result(%d) = %v, want %v", tt.r, err, tt.want)
		}
	}
	if err := result(vk.Success, "op"); err != nil {
		t.Errorf("result(Success) = %v", err)
	}
	if err := result(vk.Result(-424242), "op"); err == nil {
		t.Error("result(unknown) = nil")
	} else if driver.IsPoolExhausted(err) {
		t.Errorf("unknown result classified as pool exhaustion: %v", err)
	}
	if !driver.IsPoolExhausted(result(vk.ErrorFragmentedPool, "op")) {
		t.Error("fragmented pool not reported as exhausted")
	}
}

func TestTimeoutNanos(t *testing.T) {
	if got := timeoutNanos(driver.WaitForever); got != ^uint64(0) {
		t.Errorf("timeoutNanos(WaitForever) = %d", got)
	}
	if got := timeoutNanos(2 * time.Millisecond); got != 2_000_000 {
		t.Errorf("timeoutNanos(2ms) = %d", got)
	}
	if got := timeoutNanos(0); got != 0 {
		t.Errorf("timeoutNanos(0) = %d", got)
	}
}

func TestMakeVersion(t *testing.T) {
	// VK_MAKE_VERSION(1, 2, 0)
	if got := makeVersion(1, 2, 0); got != 4202496 {
		t.Errorf("makeVersion(1, 2, 0) = %d", got)
	}
}

func TestUsageFor(t *testing.T) {
	if got := usageFor(driver.MemoryPropertyDeviceLocal); got != memory.UsageFastDeviceAccess {
		t.Errorf("usageFor(device local) = %b", got)
	}
	got := usageFor(driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent)
	if got&memory.UsageHostAccess == 0 {
		t.Errorf("usageFor(host visible) = %b, want host access", got)
	}
}

func TestConvertProperties(t *testing.T) {
	var p vk.PhysicalDeviceProperties
	copy(p.DeviceName[:], "Test GPU\x00garbage")
	p.DeviceType = vk.PhysicalDeviceTypeIntegratedGpu
	p.VendorID = 0x8086
	p.Limits.MaxImageDimension2D = 8192
	p.Limits.MinUniformBufferOffsetAlignment = 64
	p.Limits.FramebufferColorSampleCounts = vk.SampleCountFlags(driver.SampleCount1 | driver.SampleCount4)

	got := convertProperties(&p)
	if got.Name != "Test GPU" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Type != gputypes.DeviceTypeIntegratedGPU {
		t.Errorf("Type = %v", got.Type)
	}
	if got.Limits.MaxImageDimension2D != 8192 || got.Limits.MinUniformBufferOffsetAlignment != 64 {
		t.Errorf("Limits = %+v", got.Limits)
	}
	if got.Limits.FramebufferColorSampleCounts != driver.SampleCount1|driver.SampleCount4 {
		t.Errorf("FramebufferColorSampleCounts = %b", got.Limits.FramebufferColorSampleCounts)
	}
}

func TestDeviceType(t *testing.T) {
	tests := map[vk.PhysicalDeviceType]gputypes.DeviceType{
		vk.PhysicalDeviceTypeDiscreteGpu:   gputypes.DeviceTypeDiscreteGPU,
		vk.PhysicalDeviceTypeIntegratedGpu: gputypes.DeviceTypeIntegratedGPU,
		vk.PhysicalDeviceTypeVirtualGpu:    gputypes.DeviceTypeVirtualGPU,
		vk.PhysicalDeviceTypeCpu:           gputypes.DeviceTypeCPU,
		vk.PhysicalDeviceType(0):           gputypes.DeviceTypeOther,
	}
	for in, want := range tests {
		if got := deviceType(in); got != want {
			t.Errorf("deviceType(%d) = %v, want %v", in, got, want)
		}
	}
}

func TestConvertMemoryProperties(t *testing.T) {
	var m vk.PhysicalDeviceMemoryProperties
	m.MemoryTypeCount = 2
	m.MemoryTypes[0] = vk.MemoryType{PropertyFlags: vk.MemoryPropertyFlags(driver.MemoryPropertyDeviceLocal), HeapIndex: 0}
	m.MemoryTypes[1] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent),
		HeapIndex:     1,
	}
	m.MemoryHeapCount = 2
	m.MemoryHeaps[0] = vk.MemoryHeap{Size: 1 << 30, Flags: vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit)}
	m.MemoryHeaps[1] = vk.MemoryHeap{Size: 1 << 28}

	got := convertMemoryProperties(&m)
	if len(got.Types) != 2 || len(got.Heaps) != 2 {
		t.Fatalf("got %d types, %d heaps", len(got.Types), len(got.Heaps))
	}
	if got.Types[1].Flags&driver.MemoryPropertyHostVisible == 0 || got.Types[1].HeapIndex != 1 {
		t.Errorf("Types[1] = %+v", got.Types[1])
	}
	if !got.Heaps[0].DeviceLocal || got.Heaps[1].DeviceLocal {
		t.Errorf("Heaps = %+v", got.Heaps)
	}
}

func TestCStrings(t *testing.T) {
	bufs, ptrs := cstrings([]string{"VK_KHR_surface", ""})
	if len(bufs) != 2 || len(ptrs) != 2 {
		t.Fatalf("cstrings() = %d, %d entries", len(bufs), len(ptrs))
	}
	if string(bufs[0]) != "VK_KHR_surface\x00" || string(bufs[1]) != "\x00" {
		t.Errorf("bufs = %q", bufs)
	}
	if gostring(bufs[0]) != "VK_KHR_surface" {
		t.Errorf("gostring() = %q", gostring(bufs[0]))
	}
	if sliceAddr(nil) != 0 {
		t.Error("sliceAddr(nil) != 0")
	}
}

func TestHandles(t *testing.T) {
	got := handles[vk.Fence]([]driver.Fence{1, 2, 0xdeadbeef})
	if len(got) != 3 || got[2] != vk.Fence(0xdeadbeef) {
		t.Errorf("handles() = %v", got)
	}
	if first([]int(nil)) != nil {
		t.Error("first(nil) != nil")
	}
}
