package soft

import (
	"bytes"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/driver"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	inst := New(nil)
	pds, err := inst.PhysicalDevices()
	if err != nil || len(pds) != 1 {
		t.Fatalf("PhysicalDevices() = %d, %v", len(pds), err)
	}
	dev, err := pds[0].CreateDevice(&driver.DeviceDescriptor{
		Queues:     []driver.QueueCreateInfo{{Family: 0, Priorities: []float32{1}}},
		Extensions: []string{ExtensionSwapchain},
	})
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	d := dev.(*Device)
	t.Cleanup(func() {
		d.Destroy()
		inst.Destroy()
	})
	return d
}

func hostBuffer(t *testing.T, d *Device, size uint64, usage driver.BufferUsage, memType uint32) (driver.Buffer, driver.Allocation) {
	t.Helper()
	b, err := d.CreateBuffer(&driver.BufferDescriptor{Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	req := d.BufferMemoryRequirements(b)
	a, err := d.AllocateMemory(&driver.AllocationDescriptor{Size: req.Size, Alignment: req.Alignment, MemoryType: memType})
	if err != nil {
		t.Fatalf("AllocateMemory() error = %v", err)
	}
	if err := d.BindBufferMemory(b, a); err != nil {
		t.Fatalf("BindBufferMemory() error = %v", err)
	}
	return b, a
}

func TestCreateDeviceRejectsMissingExtension(t *testing.T) {
	a := DefaultAdapter()
	a.Extensions = nil
	pds, _ := New(nil, WithAdapters(a)).PhysicalDevices()
	_, err := pds[0].CreateDevice(&driver.DeviceDescriptor{
		Queues:     []driver.QueueCreateInfo{{Family: 0, Priorities: []float32{1}}},
		Extensions: []string{ExtensionSwapchain},
	})
	if !errors.Is(err, driver.ErrInitializationFailed) {
		t.Errorf("CreateDevice() error = %v, want ErrInitializationFailed", err)
	}
}

func TestFenceWaitTimeout(t *testing.T) {
	d := newTestDevice(t)
	f, _ := d.CreateFence(false)
	defer d.DestroyFence(f)

	start := time.Now()
	err := d.WaitForFences([]driver.Fence{f}, 20*time.Millisecond)
	if !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("WaitForFences() error = %v, want ErrTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("WaitForFences() returned before the timeout")
	}

	signaled, _ := d.CreateFence(true)
	defer d.DestroyFence(signaled)
	if err := d.WaitForFences([]driver.Fence{signaled}, 0); err != nil {
		t.Errorf("WaitForFences(signaled, 0) error = %v", err)
	}
	if err := d.ResetFences([]driver.Fence{signaled}); err != nil {
		t.Fatalf("ResetFences() error = %v", err)
	}
	if ok, _ := d.FenceStatus(signaled); ok {
		t.Error("FenceStatus() after reset = true")
	}
}

func TestPausedQueueHoldsFence(t *testing.T) {
	d := newTestDevice(t)
	q := d.SoftQueue(0, 0)
	pool, _ := d.CreateCommandPool(0, driver.CommandPoolResetCommandBuffer)
	defer d.DestroyCommandPool(pool)
	cbs, _ := d.AllocateCommandBuffers(pool, 1)
	f, _ := d.CreateFence(false)
	defer d.DestroyFence(f)

	_ = cbs[0].Begin(driver.CommandBufferUsageOneTimeSubmit)
	_ = cbs[0].End()

	q.Pause()
	if err := q.Submit([]driver.SubmitInfo{{CommandBuffers: cbs}}, f); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ok, _ := d.FenceStatus(f); ok {
		t.Fatal("fence signaled while the queue is paused")
	}
	if q.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", q.Pending())
	}
	q.Resume()
	if err := d.WaitForFences([]driver.Fence{f}, time.Second); err != nil {
		t.Fatalf("WaitForFences() after Resume error = %v", err)
	}
	if err := q.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if v := d.ValidationErrors(); len(v) != 0 {
		t.Errorf("validation errors: %v", v)
	}
}

func TestCopyBufferMovesBytes(t *testing.T) {
	d := newTestDevice(t)
	src, srcMem := hostBuffer(t, d, 64, driver.BufferUsageTransferSrc, memoryTypeHostCoherent)
	dst, dstMem := hostBuffer(t, d, 64, driver.BufferUsageTransferDst|driver.BufferUsageVertex, memoryTypeDeviceLocal)
	defer func() {
		d.DestroyBuffer(src)
		d.FreeMemory(srcMem)
		d.DestroyBuffer(dst)
		d.FreeMemory(dstMem)
	}()

	mem, err := d.MapMemory(srcMem)
	if err != nil {
		t.Fatalf("MapMemory() error = %v", err)
	}
	want := []byte("soft gpu copy payload")
	copy(mem, want)
	d.UnmapMemory(srcMem)

	if _, err := d.MapMemory(dstMem); !errors.Is(err, driver.ErrMemoryMapFailed) {
		t.Errorf("MapMemory(device-local) error = %v, want ErrMemoryMapFailed", err)
	}

	pool, _ := d.CreateCommandPool(0, 0)
	defer d.DestroyCommandPool(pool)
	cbs, _ := d.AllocateCommandBuffers(pool, 1)
	cb := cbs[0]
	_ = cb.Begin(driver.CommandBufferUsageOneTimeSubmit)
	cb.CopyBuffer(src, dst, []driver.BufferCopy{{Size: uint64(len(want))}})
	_ = cb.End()

	f, _ := d.CreateFence(false)
	defer d.DestroyFence(f)
	if err := d.Queue(0, 0).Submit([]driver.SubmitInfo{{CommandBuffers: cbs}}, f); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.WaitForFences([]driver.Fence{f}, time.Second); err != nil {
		t.Fatalf("WaitForFences() error = %v", err)
	}
	got, err := d.BufferContents(dst)
	if err != nil {
		t.Fatalf("BufferContents() error = %v", err)
	}
	if !bytes.Equal(got[:len(want)], want) {
		t.Errorf("destination = %q, want %q", got[:len(want)], want)
	}
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	d := newTestDevice(t)
	layout, _ := d.CreateDescriptorSetLayout([]driver.DescriptorSetLayoutBinding{
		{Binding: 0, Type: driver.DescriptorTypeUniformBuffer, Count: 1, Stages: driver.ShaderStageFragment},
	})
	defer d.DestroyDescriptorSetLayout(layout)
	pool, _ := d.CreateDescriptorPool(&driver.DescriptorPoolDescriptor{
		MaxSets: 4,
		Sizes:   []driver.DescriptorPoolSize{{Type: driver.DescriptorTypeUniformBuffer, Count: 2}},
	})
	defer d.DestroyDescriptorPool(pool)

	if _, err := d.AllocateDescriptorSets(pool, []driver.DescriptorSetLayout{layout, layout}); err != nil {
		t.Fatalf("AllocateDescriptorSets(2) error = %v", err)
	}
	_, err := d.AllocateDescriptorSets(pool, []driver.DescriptorSetLayout{layout})
	if !driver.IsPoolExhausted(err) {
		t.Fatalf("third allocation error = %v, want pool exhaustion", err)
	}
	if err := d.ResetDescriptorPool(pool); err != nil {
		t.Fatalf("ResetDescriptorPool() error = %v", err)
	}
	if _, err := d.AllocateDescriptorSets(pool, []driver.DescriptorSetLayout{layout}); err != nil {
		t.Errorf("allocation after reset error = %v", err)
	}
}

func TestCreateShaderModuleValidatesSPIRV(t *testing.T) {
	d := newTestDevice(t)
	valid := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}
	tests := []struct {
		name string
		code []byte
		ok   bool
	}{
		{"valid", valid, true},
		{"empty", nil, false},
		{"unaligned", valid[:6], false},
		{"bad magic", []byte{1, 2, 3, 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := d.CreateShaderModule(tt.code)
			if tt.ok != (err == nil) {
				t.Fatalf("CreateShaderModule() error = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidSPIRV) {
				t.Errorf("CreateShaderModule() error = %v, want ErrInvalidSPIRV", err)
			}
			d.DestroyShaderModule(m)
		})
	}
}

func TestAcquireRoundRobinAndOutOfDate(t *testing.T) {
	inst := New(nil, WithExtent(320, 240))
	pds, _ := inst.PhysicalDevices()
	dev, err := pds[0].CreateDevice(&driver.DeviceDescriptor{
		Queues: []driver.QueueCreateInfo{{Family: 0, Priorities: []float32{1}}},
	})
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	d := dev.(*Device)
	defer d.Destroy()

	sc, err := d.CreateSwapchain(&driver.SwapchainDescriptor{
		Surface:       inst.Surface(),
		MinImageCount: 2,
		Format:        driver.SurfaceFormat{Format: driver.FormatB8G8R8A8Srgb},
		Extent:        driver.Extent2D{Width: 320, Height: 240},
		PresentMode:   driver.PresentModeFifo,
		Usage:         driver.ImageUsageColorAttachment,
	})
	if err != nil {
		t.Fatalf("CreateSwapchain() error = %v", err)
	}
	defer d.DestroySwapchain(sc)

	i0, err := d.AcquireNextImage(sc, time.Second, 0)
	if err != nil {
		t.Fatalf("AcquireNextImage() error = %v", err)
	}
	i1, _ := d.AcquireNextImage(sc, time.Second, 0)
	if i0 == i1 {
		t.Errorf("AcquireNextImage() returned image %d twice", i0)
	}
	if _, err := d.AcquireNextImage(sc, 10*time.Millisecond, 0); !errors.Is(err, driver.ErrTimeout) {
		t.Errorf("third acquire error = %v, want ErrTimeout", err)
	}

	inst.Resize(640, 480)
	if _, err := d.AcquireNextImage(sc, time.Second, 0); !errors.Is(err, driver.ErrOutOfDate) {
		t.Errorf("acquire after resize error = %v, want ErrOutOfDate", err)
	}
}

func TestLiveObjectsAndHeapUsage(t *testing.T) {
	d := newTestDevice(t)
	b, a := hostBuffer(t, d, 1000, driver.BufferUsageUniform, memoryTypeHostCoherent)
	if live := d.LiveObjects(); live["buffer"] != 1 || live["allocation"] != 1 {
		t.Errorf("LiveObjects() = %v, want one buffer and one allocation", live)
	}
	if d.HeapUsage(1) == 0 {
		t.Error("HeapUsage(1) = 0 with a live host allocation")
	}
	d.DestroyBuffer(b)
	d.FreeMemory(a)
	if live := d.LiveObjects(); len(live) != 0 {
		t.Errorf("LiveObjects() after destroy = %v, want none", live)
	}
	if got := d.HeapUsage(1); got != 0 {
		t.Errorf("HeapUsage(1) after free = %d, want 0", got)
	}
}

func TestResetPendingCommandBufferIsInvalid(t *testing.T) {
	d := newTestDevice(t)
	q := d.SoftQueue(0, 0)
	pool, _ := d.CreateCommandPool(0, driver.CommandPoolResetCommandBuffer)
	defer d.DestroyCommandPool(pool)
	cbs, _ := d.AllocateCommandBuffers(pool, 1)
	_ = cbs[0].Begin(0)
	_ = cbs[0].End()

	q.Pause()
	_ = q.Submit([]driver.SubmitInfo{{CommandBuffers: cbs}}, 0)
	if err := cbs[0].Reset(); err == nil {
		t.Error("Reset() of a pending command buffer succeeded")
	}
	q.Resume()
	_ = q.WaitIdle()
	if err := cbs[0].Reset(); err != nil {
		t.Errorf("Reset() after completion error = %v", err)
	}
	if len(d.ValidationErrors()) != 1 {
		t.Errorf("ValidationErrors() = %v, want exactly the pending reset", d.ValidationErrors())
	}
}
