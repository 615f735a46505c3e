package command

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/driver/soft"
)

func newSoftDevice(t *testing.T) *soft.Device {
	t.Helper()
	inst := soft.New(nil)
	pds, err := inst.PhysicalDevices()
	if err != nil {
		t.Fatalf("PhysicalDevices() error = %v", err)
	}
	dev, err := pds[0].CreateDevice(&driver.DeviceDescriptor{
		Queues:     []driver.QueueCreateInfo{{Family: 0, Priorities: []float32{1}}},
		Extensions: []string{soft.ExtensionSwapchain},
	})
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	t.Cleanup(func() {
		dev.Destroy()
		inst.Destroy()
	})
	return dev.(*soft.Device)
}

func TestFlagsDriverFlags(t *testing.T) {
	tests := []struct {
		flags Flags
		want  driver.CommandPoolFlags
	}{
		{0, 0},
		{Resettable, driver.CommandPoolResetCommandBuffer},
		{Transient, driver.CommandPoolTransient},
		{Resettable | Transient, driver.CommandPoolResetCommandBuffer | driver.CommandPoolTransient},
	}
	for _, tt := range tests {
		if got := tt.flags.driverFlags(); got != tt.want {
			t.Errorf("Flags(%d).driverFlags() = %#x, want %#x", tt.flags, got, tt.want)
		}
	}
}

func TestPoolAllocateAndReset(t *testing.T) {
	dev := newSoftDevice(t)
	pool, err := NewPool(dev, 0, Resettable)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Destroy()

	cbs, err := pool.Allocate(3)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if len(cbs) != 3 {
		t.Fatalf("Allocate(3) returned %d buffers", len(cbs))
	}
	for _, cb := range cbs {
		if err := cb.Begin(0); err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if err := cb.End(); err != nil {
			t.Fatalf("End() error = %v", err)
		}
	}
	if err := pool.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if errs := dev.ValidationErrors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestSubmitterSubmit(t *testing.T) {
	dev := newSoftDevice(t)
	q := deletion.NewQueue("main", deletion.DeviceTable(dev))
	s, err := NewSubmitter(dev, dev.Queue(0, 0), 0, q)
	if err != nil {
		t.Fatalf("NewSubmitter() error = %v", err)
	}

	// The command buffer is reused after each submit.
	for i := range 3 {
		calls := 0
		err := s.Submit(func(cb driver.CommandBuffer) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("Submit() #%d error = %v", i, err)
		}
		if calls != 1 {
			t.Errorf("record called %d times, want 1", calls)
		}
		signaled, err := dev.FenceStatus(s.Fence())
		if err != nil {
			t.Fatalf("FenceStatus() error = %v", err)
		}
		if signaled {
			t.Errorf("upload fence still signaled after Submit #%d", i)
		}
	}

	st := dev.Stats()
	if st.Submits != 3 || st.Executed != 3 {
		t.Errorf("Stats() = %+v, want 3 submits and 3 executed", st)
	}
	waits := dev.FenceWaits()
	if len(waits) != 3 || waits[0] != s.Fence() {
		t.Errorf("FenceWaits() = %v, want 3 waits on the upload fence", waits)
	}

	if err := q.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if live := dev.LiveObjects(); len(live) != 0 {
		t.Errorf("LiveObjects() = %v after flush", live)
	}
	if errs := dev.ValidationErrors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestSubmitterRecordError(t *testing.T) {
	dev := newSoftDevice(t)
	q := deletion.NewQueue("main", deletion.DeviceTable(dev))
	t.Cleanup(func() { _ = q.Flush() })
	s, err := NewSubmitter(dev, dev.Queue(0, 0), 0, q)
	if err != nil {
		t.Fatalf("NewSubmitter() error = %v", err)
	}

	boom := errors.New("boom")
	err = s.Submit(func(driver.CommandBuffer) error { return boom })
	if !errors.Is(err, ErrRecord) || !errors.Is(err, boom) {
		t.Fatalf("Submit() error = %v, want ErrRecord wrapping the record error", err)
	}
	if st := dev.Stats(); st.Submits != 0 {
		t.Errorf("Stats().Submits = %d after record failure, want 0", st.Submits)
	}

	// The submitter stays usable.
	if err := s.Submit(func(driver.CommandBuffer) error { return nil }); err != nil {
		t.Fatalf("Submit() after failure error = %v", err)
	}
}
