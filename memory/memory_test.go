package memory

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/command"
	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/driver/soft"
	"github.com/gogpu/gfx/gpuerr"
)

type fixture struct {
	dev   *soft.Device
	alloc *Allocator
	queue *deletion.Queue
	sub   *command.Submitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inst := soft.New(nil)
	pds, err := inst.PhysicalDevices()
	if err != nil {
		t.Fatalf("PhysicalDevices() error = %v", err)
	}
	pd := pds[0]
	dev, err := pd.CreateDevice(&driver.DeviceDescriptor{
		Queues:     []driver.QueueCreateInfo{{Family: 0, Priorities: []float32{1}}},
		Extensions: []string{soft.ExtensionSwapchain},
	})
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	f := &fixture{
		dev:   dev.(*soft.Device),
		alloc: NewAllocator(dev, pd.MemoryProperties(), pd.Properties().Limits, nil),
		queue: deletion.NewQueue("main", deletion.DeviceTable(dev)),
	}
	f.sub, err = command.NewSubmitter(dev, dev.Queue(0, 0), 0, f.queue)
	if err != nil {
		t.Fatalf("NewSubmitter() error = %v", err)
	}
	t.Cleanup(func() {
		if err := f.queue.Flush(); err != nil {
			t.Errorf("Flush() error = %v", err)
		}
		if live := f.dev.LiveObjects(); len(live) != 0 {
			t.Errorf("LiveObjects() = %v after flush", live)
		}
		dev.Destroy()
		inst.Destroy()
	})
	return f
}

func TestPad(t *testing.T) {
	tests := []struct {
		size, align, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 0, 100},
		{208, 64, 256},
		{128, 64, 128},
	}
	for _, tt := range tests {
		got := Pad(tt.size, tt.align)
		if got != tt.want {
			t.Errorf("Pad(%d, %d) = %d, want %d", tt.size, tt.align, got, tt.want)
		}
		if again := Pad(got, tt.align); again != got {
			t.Errorf("Pad(Pad(%d)) = %d, not idempotent", tt.size, again)
		}
	}
}

func TestPadProperties(t *testing.T) {
	for _, align := range []uint64{1, 4, 64, 256} {
		prev := uint64(0)
		for size := uint64(0); size < 1024; size++ {
			got := Pad(size, align)
			if got < size || got%align != 0 || got-size >= align {
				t.Fatalf("Pad(%d, %d) = %d", size, align, got)
			}
			if got < prev {
				t.Fatalf("Pad(%d, %d) = %d < Pad(%d) = %d", size, align, got, size-1, prev)
			}
			prev = got
		}
	}
}

func TestFindMemoryType(t *testing.T) {
	props := driver.MemoryProperties{Types: []driver.MemoryType{
		{Flags: driver.MemoryPropertyDeviceLocal},
		{Flags: driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent},
	}}

	got, err := FindMemoryType(props, 0b11, driver.MemoryPropertyHostVisible)
	if err != nil || got != 1 {
		t.Errorf("FindMemoryType(host visible) = %d, %v; want 1", got, err)
	}
	got, err = FindMemoryType(props, 0b11, driver.MemoryPropertyDeviceLocal)
	if err != nil || got != 0 {
		t.Errorf("FindMemoryType(device local) = %d, %v; want 0", got, err)
	}

	// The filter excludes the only host-visible type.
	_, err = FindMemoryType(props, 0b01, driver.MemoryPropertyHostVisible)
	if !errors.Is(err, gpuerr.ErrResourceCreation) {
		t.Errorf("FindMemoryType() error = %v, want ErrResourceCreation", err)
	}
	_, err = FindMemoryType(props, 0, 0)
	if !errors.Is(err, gpuerr.ErrResourceCreation) {
		t.Errorf("FindMemoryType(empty filter) error = %v, want ErrResourceCreation", err)
	}
}

func TestSelectMemoryTypePrefersFlags(t *testing.T) {
	props := driver.MemoryProperties{Types: []driver.MemoryType{
		{Flags: driver.MemoryPropertyDeviceLocal},
		{Flags: driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent},
		{Flags: driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent | driver.MemoryPropertyHostCached},
	}}
	tests := []struct {
		usage Usage
		want  uint32
	}{
		{GPUOnly, 0},
		{CPUToGPU, 1},
		{GPUToCPU, 2},
		{CPUOnly, 1},
	}
	for _, tt := range tests {
		got, err := selectMemoryType(props, 0b111, tt.usage)
		if err != nil || got != tt.want {
			t.Errorf("selectMemoryType(%s) = %d, %v; want %d", tt.usage, got, err, tt.want)
		}
	}
	// Without device-local memory, GPU-only falls back to any type.
	got, err := selectMemoryType(props, 0b110, GPUOnly)
	if err != nil || got != 1 {
		t.Errorf("selectMemoryType(GPUOnly, no device local) = %d, %v; want 1", got, err)
	}
}

func TestCreateBufferRegistersMemoryFirst(t *testing.T) {
	f := newFixture(t)
	before := f.queue.Len()

	b, err := f.alloc.CreateBuffer(64, driver.BufferUsageUniform, CPUToGPU, f.queue)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	pending := f.queue.Pending()[before:]
	if len(pending) != 2 {
		t.Fatalf("CreateBuffer registered %d entries, want 2", len(pending))
	}
	if pending[0].Kind != deletion.KindAllocation || pending[0].Handle != uint64(b.Allocation) {
		t.Errorf("first entry = %v, want the allocation", pending[0])
	}
	if pending[1].Kind != deletion.KindBuffer || pending[1].Handle != uint64(b.Buffer) {
		t.Errorf("second entry = %v, want the buffer", pending[1])
	}
}

func TestWrite(t *testing.T) {
	f := newFixture(t)
	b, err := f.alloc.CreateBuffer(16, driver.BufferUsageUniform, CPUToGPU, f.queue)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := f.alloc.Write(b, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := f.dev.BufferContents(b.Buffer)
	if err != nil {
		t.Fatalf("BufferContents() error = %v", err)
	}
	if !bytes.Equal(got[:8], []byte{0, 0, 0, 0, 1, 2, 3, 4}) {
		t.Errorf("buffer = %v", got[:8])
	}
	if err := f.alloc.Write(b, 14, []byte{1, 2, 3}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Write() past end error = %v, want ErrOutOfRange", err)
	}
}

func TestMapDeviceLocalFails(t *testing.T) {
	f := newFixture(t)
	b, err := f.alloc.CreateBuffer(16, driver.BufferUsageVertex, GPUOnly, f.queue)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if _, err := f.alloc.Map(b); !errors.Is(err, driver.ErrMemoryMapFailed) {
		t.Errorf("Map() error = %v, want ErrMemoryMapFailed", err)
	}
}

func TestUploadBufferReadBack(t *testing.T) {
	f := newFixture(t)

	// Three vertices of 44 bytes each.
	src := make([]byte, 3*44)
	for i := range src {
		src[i] = byte(i * 7)
	}
	b, err := f.alloc.UploadBuffer(f.sub, src, driver.BufferUsageVertex, f.queue)
	if err != nil {
		t.Fatalf("UploadBuffer() error = %v", err)
	}
	if b.Usage != GPUOnly {
		t.Errorf("UploadBuffer() usage = %s, want gpu-only", b.Usage)
	}
	got, err := f.dev.BufferContents(b.Buffer)
	if err != nil {
		t.Fatalf("BufferContents() error = %v", err)
	}
	if !bytes.Equal(got[:len(src)], src) {
		t.Error("device-local buffer differs from the uploaded bytes")
	}

	// Only the destination buffer and its memory outlive the upload.
	live := f.dev.LiveObjects()
	if live["buffer"] != 1 || live["allocation"] != 1 {
		t.Errorf("LiveObjects() = %v, want one buffer and one allocation", live)
	}
	if errs := f.dev.ValidationErrors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestUploadBufferEmpty(t *testing.T) {
	f := newFixture(t)
	if _, err := f.alloc.UploadBuffer(f.sub, nil, driver.BufferUsageVertex, f.queue); !errors.Is(err, ErrEmptyUpload) {
		t.Errorf("UploadBuffer(nil) error = %v, want ErrEmptyUpload", err)
	}
}

func TestUploadImage(t *testing.T) {
	f := newFixture(t)
	pixels := make([]byte, 4*4*4)
	for i := range pixels {
		pixels[i] = byte(255 - i)
	}
	img, err := f.alloc.UploadImage(f.sub, pixels, driver.Extent2D{Width: 4, Height: 4}, driver.FormatR8G8B8A8Srgb, f.queue)
	if err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	if img.View == 0 {
		t.Error("UploadImage() did not create a view")
	}
	if got := f.dev.ImageLayout(img.Image); got != driver.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("image layout = %d, want SHADER_READ_ONLY_OPTIMAL", got)
	}
	got, err := f.dev.ImageContents(img.Image)
	if err != nil {
		t.Fatalf("ImageContents() error = %v", err)
	}
	if !bytes.Equal(got, pixels) {
		t.Error("image contents differ from the uploaded pixels")
	}
	if errs := f.dev.ValidationErrors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestUploadImageSizeMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.alloc.UploadImage(f.sub, make([]byte, 10), driver.Extent2D{Width: 4, Height: 4}, driver.FormatR8G8B8A8Srgb, f.queue)
	if !errors.Is(err, gpuerr.ErrAssetLoad) {
		t.Errorf("UploadImage() error = %v, want ErrAssetLoad", err)
	}
}
