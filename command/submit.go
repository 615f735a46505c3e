package command

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// ErrRecord wraps failures returned by a Submit record function.
var ErrRecord = errors.New("command: record failed")

// Submitter runs short command sequences to completion on a queue. It owns
// a transient pool, one command buffer and an upload fence.
//
// Submit blocks until the GPU has finished, so it is meant for uploads and
// other setup work, never for per-frame rendering.
type Submitter struct {
	dev   driver.Device
	queue driver.Queue
	pool  *Pool
	cb    driver.CommandBuffer
	fence driver.Fence
}

// NewSubmitter creates the upload context on family and registers its
// objects in q.
func NewSubmitter(dev driver.Device, queue driver.Queue, family uint32, q *deletion.Queue) (*Submitter, error) {
	pool, err := NewPool(dev, family, Transient|Resettable)
	if err != nil {
		return nil, err
	}
	q.PushLabeled(deletion.KindCommandPool, uint64(pool.Handle()), "upload")

	cbs, err := pool.Allocate(1)
	if err != nil {
		return nil, err
	}
	fence, err := dev.CreateFence(false)
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "create upload fence")
	}
	q.PushLabeled(deletion.KindFence, uint64(fence), "upload")

	return &Submitter{dev: dev, queue: queue, pool: pool, cb: cbs[0], fence: fence}, nil
}

// Fence returns the upload fence.
func (s *Submitter) Fence() driver.Fence { return s.fence }

// Submit records commands with record, submits them and waits without a
// deadline for completion. The pool is reset afterwards so the command
// buffer can be recorded again. A record error aborts before submission.
func (s *Submitter) Submit(record func(cb driver.CommandBuffer) error) error {
	if err := s.cb.Begin(driver.CommandBufferUsageOneTimeSubmit); err != nil {
		return gpuerr.ResourceCreation(err, "begin upload commands")
	}
	if err := record(s.cb); err != nil {
		_ = s.pool.Reset()
		return errors.Mark(errors.Wrap(err, "record upload commands"), ErrRecord)
	}
	if err := s.cb.End(); err != nil {
		return gpuerr.ResourceCreation(err, "end upload commands")
	}
	err := s.queue.Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{s.cb}}}, s.fence)
	if err != nil {
		return gpuerr.ResourceCreation(err, "submit upload commands")
	}
	if err := s.dev.WaitForFences([]driver.Fence{s.fence}, driver.WaitForever); err != nil {
		return gpuerr.ResourceCreation(err, "wait for upload fence")
	}
	if err := s.dev.ResetFences([]driver.Fence{s.fence}); err != nil {
		return gpuerr.ResourceCreation(err, "reset upload fence")
	}
	return s.pool.Reset()
}
