package soft

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/driver"
)

// signal is a resettable one-shot event: ch is closed while set.
type signal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func newSignal(set bool) *signal {
	s := &signal{ch: make(chan struct{})}
	if set {
		s.set = true
		close(s.ch)
	}
	return s
}

func (s *signal) raise() {
	s.mu.Lock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
	s.mu.Unlock()
}

func (s *signal) clear() {
	s.mu.Lock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
	s.mu.Unlock()
}

func (s *signal) isSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

type fence struct {
	*signal
	pending bool // submitted and not yet signaled
}

// semaphore is a binary semaphore. A wait consumes the signal.
type semaphore struct {
	*signal
	pendingSignal bool
}

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Fence(d.handle())
	d.fences[h] = &fence{signal: newSignal(signaled)}
	return h, nil
}

func (d *Device) DestroyFence(f driver.Fence) {
	if f == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences[f]
	if !ok {
		d.invalid("DestroyFence: unknown fence %#x", f)
		return
	}
	if fc.pending {
		d.invalid("DestroyFence: fence %#x is in use by a pending submission", f)
	}
	delete(d.fences, f)
}

func (d *Device) WaitForFences(fences []driver.Fence, timeout time.Duration) error {
	d.mu.Lock()
	waits := make([]<-chan struct{}, 0, len(fences))
	for _, f := range fences {
		fc, ok := d.fences[f]
		if !ok {
			d.mu.Unlock()
			return errors.Wrapf(driver.ErrInvalidHandle, "soft: wait on unknown fence %#x", f)
		}
		d.fenceWaits = append(d.fenceWaits, f)
		waits = append(waits, fc.wait())
	}
	lost := d.lost
	d.mu.Unlock()

	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for _, ch := range waits {
		select {
		case <-ch:
			continue
		default:
		}
		select {
		case <-ch:
		case <-deadline:
			return errors.Wrapf(driver.ErrTimeout, "soft: fence wait exceeded %v", timeout)
		case <-lost:
			return driver.ErrDeviceLost
		}
	}
	return nil
}

func (d *Device) ResetFences(fences []driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range fences {
		fc, ok := d.fences[f]
		if !ok {
			return errors.Wrapf(driver.ErrInvalidHandle, "soft: reset unknown fence %#x", f)
		}
		if fc.pending {
			d.invalid("ResetFences: fence %#x is in use by a pending submission", f)
		}
		fc.clear()
	}
	return nil
}

func (d *Device) FenceStatus(f driver.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences[f]
	if !ok {
		return false, errors.Wrapf(driver.ErrInvalidHandle, "soft: status of unknown fence %#x", f)
	}
	return fc.isSet(), nil
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Semaphore(d.handle())
	d.semaphores[h] = &semaphore{signal: newSignal(false)}
	return h, nil
}

func (d *Device) DestroySemaphore(s driver.Semaphore) {
	destroyIn(d, d.semaphores, s, "DestroySemaphore")
}

// armSemaphores marks semaphores as having a signal operation pending.
// Scheduling a second signal before a wait is invalid for binary
// semaphores. Callers hold d.mu.
func (d *Device) armSemaphores(op string, sems []driver.Semaphore) ([]*semaphore, error) {
	out := make([]*semaphore, 0, len(sems))
	for _, s := range sems {
		sem, ok := d.semaphores[s]
		if !ok {
			return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: %s signals unknown semaphore %#x", op, s)
		}
		if sem.pendingSignal {
			d.invalid("%s: semaphore %#x is signaled twice without a wait", op, s)
		}
		sem.pendingSignal = true
		out = append(out, sem)
	}
	return out, nil
}

// waitableSemaphores resolves semaphores a submission waits on. Waiting on
// a semaphore with no signal operation pending would deadlock. Callers hold
// d.mu.
func (d *Device) waitableSemaphores(op string, sems []driver.Semaphore) ([]*semaphore, error) {
	out := make([]*semaphore, 0, len(sems))
	for _, s := range sems {
		sem, ok := d.semaphores[s]
		if !ok {
			return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: %s waits on unknown semaphore %#x", op, s)
		}
		if !sem.pendingSignal && !sem.isSet() {
			d.invalid("%s: semaphore %#x has no pending signal", op, s)
		}
		sem.pendingSignal = false
		out = append(out, sem)
	}
	return out, nil
}
