package soft

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/driver"
)

type swapchain struct {
	desc   driver.SwapchainDescriptor
	images []driver.Image

	// Guarded by Device.mu.
	acquired  []bool
	next      uint32
	outOfDate bool
	released  chan struct{} // closed when a presented image is returned
}

// release returns a presented image to the pool. Callers hold Device.mu.
func (sc *swapchain) release(index uint32) {
	sc.acquired[index] = false
	close(sc.released)
	sc.released = make(chan struct{})
}

func (d *Device) CreateSwapchain(desc *driver.SwapchainDescriptor) (driver.Swapchain, error) {
	if desc.Surface != surfaceHandle {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: swapchain for unknown surface %#x", desc.Surface)
	}
	if desc.MinImageCount < d.adapter.MinImageCount ||
		d.adapter.MaxImageCount > 0 && desc.MinImageCount > d.adapter.MaxImageCount {
		return 0, errors.Newf("soft: %d swapchain images outside [%d, %d]", desc.MinImageCount, d.adapter.MinImageCount, d.adapter.MaxImageCount)
	}
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return 0, errors.New("soft: swapchain extent must be non-zero")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Old != 0 {
		if old, ok := d.swapchains[desc.Old]; ok {
			old.outOfDate = true
		}
	}
	h := driver.Swapchain(d.handle())
	sc := &swapchain{
		desc:     *desc,
		acquired: make([]bool, desc.MinImageCount),
		released: make(chan struct{}),
	}
	sc.desc.Families = append([]uint32(nil), desc.Families...)
	for range desc.MinImageCount {
		img := driver.Image(d.handle())
		d.images[img] = &image{
			desc: driver.ImageDescriptor{
				Format:    desc.Format.Format,
				Extent:    driver.Extent3D{Width: desc.Extent.Width, Height: desc.Extent.Height, Depth: 1},
				MipLevels: 1,
				Samples:   driver.SampleCount1,
				Usage:     desc.Usage,
			},
			layout:    driver.ImageLayoutUndefined,
			swapchain: h,
		}
		sc.images = append(sc.images, img)
	}
	d.swapchains[h] = sc
	d.logger.Debug("soft: swapchain created",
		"images", len(sc.images), "extent", desc.Extent, "mode", desc.PresentMode.String())
	return h, nil
}

func (d *Device) DestroySwapchain(s driver.Swapchain) {
	if s == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[s]
	if !ok {
		d.invalid("DestroySwapchain: unknown swapchain %#x", s)
		return
	}
	for _, img := range sc.images {
		delete(d.images, img)
	}
	delete(d.swapchains, s)
}

func (d *Device) SwapchainImages(s driver.Swapchain) ([]driver.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[s]
	if !ok {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: images of unknown swapchain %#x", s)
	}
	return append([]driver.Image(nil), sc.images...), nil
}

// AcquireNextImage hands out images round-robin. When every image is
// still owned by the application or queued for presentation it waits for
// a present to complete, up to timeout.
func (d *Device) AcquireNextImage(s driver.Swapchain, timeout time.Duration, sem driver.Semaphore) (uint32, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		d.mu.Lock()
		sc, ok := d.swapchains[s]
		if !ok {
			d.mu.Unlock()
			return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: acquire from unknown swapchain %#x", s)
		}
		if sc.outOfDate {
			d.mu.Unlock()
			return 0, errors.Wrap(driver.ErrOutOfDate, "soft: acquire")
		}
		n := uint32(len(sc.images))
		for i := uint32(0); i < n; i++ {
			idx := (sc.next + i) % n
			if sc.acquired[idx] {
				continue
			}
			var sems []*semaphore
			if sem != 0 {
				var err error
				if sems, err = d.armSemaphores("AcquireNextImage", []driver.Semaphore{sem}); err != nil {
					d.mu.Unlock()
					return 0, err
				}
			}
			sc.acquired[idx] = true
			sc.next = (idx + 1) % n
			d.stats.Acquires++
			d.mu.Unlock()
			for _, sm := range sems {
				sm.raise()
			}
			return idx, nil
		}
		released := sc.released
		lost := d.lost
		d.mu.Unlock()

		select {
		case <-released:
		case <-deadline:
			return 0, errors.Wrapf(driver.ErrTimeout, "soft: no swapchain image within %v", timeout)
		case <-lost:
			return 0, driver.ErrDeviceLost
		}
	}
}

func (d *Device) invalidateSwapchains() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sc := range d.swapchains {
		sc.outOfDate = true
	}
}
