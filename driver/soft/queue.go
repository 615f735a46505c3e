package soft

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/driver"
)

// job is one unit of queue work: a submit batch or a present.
type job struct {
	waits   []*semaphore
	run     func()
	signals []*semaphore
	fence   *fence
}

// Queue is a soft queue. Work runs in submission order on a dedicated
// goroutine.
type Queue struct {
	dev    *Device
	family uint32

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []job
	pending int
	paused  bool
	closed  bool
	latency time.Duration
	done    chan struct{}
}

func newQueue(d *Device, family uint32) *Queue {
	q := &Queue{dev: d, family: family, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// Pause stops the queue from starting new work until Resume. Submissions
// are still accepted, so their fences stay unsignaled.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts a paused queue.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// SetLatency delays every job by d, simulating GPU execution time.
func (q *Queue) SetLatency(d time.Duration) {
	q.mu.Lock()
	q.latency = d
	q.mu.Unlock()
}

// Pending returns the number of jobs submitted and not yet completed.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue) Submit(submits []driver.SubmitInfo, f driver.Fence) error {
	d := q.dev
	d.mu.Lock()
	var fc *fence
	if f != 0 {
		var ok bool
		if fc, ok = d.fences[f]; !ok {
			d.mu.Unlock()
			return errors.Wrapf(driver.ErrInvalidHandle, "soft: submit with unknown fence %#x", f)
		}
		if fc.isSet() || fc.pending {
			d.invalid("Submit: fence %#x must be unsignaled and not in use", f)
		}
	}

	jobs := make([]job, 0, len(submits)+1)
	for i := range submits {
		s := &submits[i]
		if len(s.WaitStages) != len(s.WaitSemaphores) {
			d.invalid("Submit: %d wait semaphores with %d wait stages", len(s.WaitSemaphores), len(s.WaitStages))
		}
		cbs := make([]*CommandBuffer, 0, len(s.CommandBuffers))
		for _, c := range s.CommandBuffers {
			cb, ok := c.(*CommandBuffer)
			if !ok || cb.dev != d {
				d.mu.Unlock()
				return errors.Wrap(driver.ErrInvalidHandle, "soft: submit of foreign command buffer")
			}
			if cb.state != stateExecutable {
				d.invalid("Submit: command buffer is %s, want executable", cb.state)
			}
			cb.state = statePending
			cbs = append(cbs, cb)
		}
		waits, err := d.waitableSemaphores("Submit", s.WaitSemaphores)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		signals, err := d.armSemaphores("Submit", s.SignalSemaphores)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		jobs = append(jobs, job{
			waits:   waits,
			signals: signals,
			run:     func() { d.executeAll(cbs) },
		})
	}
	if fc != nil {
		fc.pending = true
		if len(jobs) == 0 {
			jobs = append(jobs, job{})
		}
		jobs[len(jobs)-1].fence = fc
	}
	d.stats.Submits++
	d.mu.Unlock()

	q.enqueue(jobs...)
	return nil
}

func (q *Queue) Present(info *driver.PresentInfo) error {
	d := q.dev
	d.mu.Lock()
	sc, ok := d.swapchains[info.Swapchain]
	if !ok {
		d.mu.Unlock()
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: present to unknown swapchain %#x", info.Swapchain)
	}
	if int(info.ImageIndex) >= len(sc.images) || !sc.acquired[info.ImageIndex] {
		d.mu.Unlock()
		d.invalid("Present: image %d of swapchain %#x was not acquired", info.ImageIndex, info.Swapchain)
		return errors.Newf("soft: present of image %d that is not acquired", info.ImageIndex)
	}
	waits, err := d.waitableSemaphores("Present", info.WaitSemaphores)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	outOfDate := sc.outOfDate
	index := info.ImageIndex
	img := sc.images[index]
	d.mu.Unlock()

	q.enqueue(job{
		waits: waits,
		run: func() {
			d.mu.Lock()
			if im, ok := d.images[img]; ok && im.layout != driver.ImageLayoutPresentSrc {
				d.invalid("Present: image %d is in layout %d, want PRESENT_SRC", index, im.layout)
			}
			d.stats.Presents++
			sc.release(index)
			d.mu.Unlock()
		},
	})
	if outOfDate {
		return errors.Wrap(driver.ErrOutOfDate, "soft: present")
	}
	return nil
}

// WaitIdle blocks until all submitted work has completed.
func (q *Queue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed && q.pending > 0 {
		return driver.ErrDeviceLost
	}
	return nil
}

func (q *Queue) enqueue(jobs ...job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, jobs...)
	q.pending += len(jobs)
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) worker() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.closed && (len(q.jobs) == 0 || q.paused) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		latency := q.latency
		q.mu.Unlock()

		if !q.run(j, latency) {
			return
		}

		q.mu.Lock()
		q.pending--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// run executes one job. It returns false if the device was lost while the
// job waited on a semaphore.
func (q *Queue) run(j job, latency time.Duration) bool {
	lost := q.dev.lost
	for _, s := range j.waits {
		select {
		case <-s.wait():
			s.clear()
		case <-lost:
			return false
		}
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	if j.run != nil {
		j.run()
	}
	for _, s := range j.signals {
		s.raise()
	}
	if j.fence != nil {
		q.dev.mu.Lock()
		j.fence.pending = false
		q.dev.mu.Unlock()
		j.fence.raise()
	}
	return true
}
