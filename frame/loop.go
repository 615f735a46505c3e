// Package frame drives the per-frame protocol: it paces the CPU against the
// GPU with one fence per frame slot, records the scene, submits it and
// presents the result.
package frame

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/device"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/gpuerr"
	"github.com/gogpu/gfx/material"
)

// DefaultTimeout bounds fence waits and image acquisition.
const DefaultTimeout = time.Second

// ErrNoMaterial is returned for scene objects without a material.
var ErrNoMaterial = errors.New("frame: object has no material")

// Object is one draw: a vertex buffer drawn with a material and transform.
// Consecutive objects sharing a material or buffer skip the rebind.
type Object struct {
	VertexBuffer driver.Buffer
	VertexCount  uint32
	Material     *material.Material
	Transform    mgl32.Mat4
}

// Scene is everything drawn in one frame.
type Scene struct {
	Camera  geom.Camera
	Objects []Object
}

// Stats describes the most recent frame.
type Stats struct {
	Frames        uint64
	Draws         int
	PipelineBinds int
	VertexBinds   int
	RecordTime    time.Duration
	FenceWait     time.Duration
}

// Config configures NewLoop.
type Config struct {
	Device    *device.Device
	Swapchain *Swapchain
	Materials *material.System

	// Queue receives the slot fences and semaphores.
	Queue *deletion.Queue

	FramesInFlight int
	Timeout        time.Duration
	ClearColor     [4]float32
	Logger         *slog.Logger
}

// Loop draws frames with up to FramesInFlight of them queued on the GPU.
type Loop struct {
	dev       *device.Device
	sc        *Swapchain
	materials *material.System
	timeout   time.Duration
	clear     [4]float32
	logger    *slog.Logger

	slots []*Slot
	frame uint64
	stats Stats
}

// NewLoop creates the frame slots.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.FramesInFlight < 1 {
		return nil, errors.Newf("frame: %d frames in flight", cfg.FramesInFlight)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(nopHandler{})
	}
	slots, err := newSlots(cfg.Device.Driver(), cfg.Device.GraphicsPool(), cfg.FramesInFlight, cfg.Queue)
	if err != nil {
		return nil, err
	}
	return &Loop{
		dev:       cfg.Device,
		sc:        cfg.Swapchain,
		materials: cfg.Materials,
		timeout:   cfg.Timeout,
		clear:     cfg.ClearColor,
		logger:    cfg.Logger,
		slots:     slots,
	}, nil
}

// Frame returns the number of frames drawn.
func (l *Loop) Frame() uint64 { return l.frame }

// Slots returns the frame slots.
func (l *Loop) Slots() []*Slot { return l.slots }

// Stats returns statistics of the last frame.
func (l *Loop) Stats() Stats { return l.stats }

// Draw renders one frame of scene. Every error it returns ends the frame
// protocol; errors marked gpuerr.ErrSynchronizationTimeout mean the GPU
// did not make progress within the timeout.
func (l *Loop) Draw(scene *Scene) error {
	if len(scene.Objects) > l.materials.MaxObjects() {
		return errors.Wrapf(material.ErrTooManyObjects, "%d objects, capacity %d", len(scene.Objects), l.materials.MaxObjects())
	}
	for i := range scene.Objects {
		m := scene.Objects[i].Material
		if m == nil {
			return errors.Wrapf(ErrNoMaterial, "object %d", i)
		}
		if !m.Finalized() {
			return errors.Wrapf(material.ErrNotFinalized, "object %d material %q", i, m.Name())
		}
	}

	dev := l.dev.Driver()
	slot := l.slots[l.frame%uint64(len(l.slots))]

	start := hrtime.Now()
	if err := dev.WaitForFences([]driver.Fence{slot.RenderFence}, l.timeout); err != nil {
		return l.syncError(err, "wait for frame %d fence", l.frame)
	}
	l.stats.FenceWait = hrtime.Since(start)
	if err := dev.ResetFences([]driver.Fence{slot.RenderFence}); err != nil {
		return errors.Wrap(err, "reset render fence")
	}
	slot.state = Idle

	image, err := dev.AcquireNextImage(l.sc.Handle(), l.timeout, slot.PresentSemaphore)
	switch {
	case errors.Is(err, driver.ErrSuboptimal):
		// The image was acquired and the semaphore will signal.
		l.logger.Warn("frame: swapchain suboptimal at acquire", "frame", l.frame)
	case err != nil:
		return l.syncError(err, "acquire swapchain image")
	}

	start = hrtime.Now()
	slot.state = Recording
	if err := l.record(slot, image, scene); err != nil {
		return err
	}
	l.stats.RecordTime = hrtime.Since(start)

	err = l.dev.GraphicsQueue().Submit([]driver.SubmitInfo{{
		WaitSemaphores:   []driver.Semaphore{slot.PresentSemaphore},
		WaitStages:       []driver.PipelineStage{driver.PipelineStageColorAttachmentOutput},
		CommandBuffers:   []driver.CommandBuffer{slot.CommandBuffer},
		SignalSemaphores: []driver.Semaphore{slot.RenderSemaphore},
	}}, slot.RenderFence)
	if err != nil {
		return errors.Wrapf(err, "submit frame %d", l.frame)
	}
	slot.state = Submitted

	err = l.dev.PresentQueue().Present(&driver.PresentInfo{
		WaitSemaphores: []driver.Semaphore{slot.RenderSemaphore},
		Swapchain:      l.sc.Handle(),
		ImageIndex:     image,
	})
	switch {
	case errors.Is(err, driver.ErrSuboptimal):
		l.logger.Warn("frame: swapchain suboptimal", "frame", l.frame)
	case err != nil:
		return l.syncError(err, "present frame %d", l.frame)
	}

	l.frame++
	l.stats.Frames = l.frame
	return nil
}

func (l *Loop) record(slot *Slot, image uint32, scene *Scene) error {
	transforms := make([]mgl32.Mat4, len(scene.Objects))
	for i := range scene.Objects {
		transforms[i] = scene.Objects[i].Transform
	}
	if err := l.materials.WriteFrameData(slot.Index, scene.Camera, transforms); err != nil {
		return err
	}

	cb := slot.CommandBuffer
	if err := cb.Reset(); err != nil {
		return errors.Wrap(err, "reset frame command buffer")
	}
	if err := cb.Begin(driver.CommandBufferUsageOneTimeSubmit); err != nil {
		return errors.Wrap(err, "begin frame command buffer")
	}
	cb.BeginRenderPass(&driver.RenderPassBeginInfo{
		RenderPass:  l.sc.RenderPass(),
		Framebuffer: l.sc.Framebuffer(image),
		Area:        driver.Rect2D{Extent: l.sc.Extent()},
		ClearValues: []driver.ClearValue{{Color: l.clear}, {Depth: 1}},
	})

	var (
		lastMaterial *material.Material
		lastBuffer   driver.Buffer
	)
	l.stats.Draws, l.stats.PipelineBinds, l.stats.VertexBinds = 0, 0, 0
	for i := range scene.Objects {
		obj := &scene.Objects[i]
		if obj.Material != lastMaterial {
			obj.Material.Bind(cb, slot.Index)
			lastMaterial = obj.Material
			l.stats.PipelineBinds++
		}
		if obj.VertexBuffer != lastBuffer {
			cb.BindVertexBuffer(0, obj.VertexBuffer, 0)
			lastBuffer = obj.VertexBuffer
			l.stats.VertexBinds++
		}
		cb.Draw(obj.VertexCount, 1, 0, uint32(i))
		l.stats.Draws++
	}

	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		return errors.Wrap(err, "end frame command buffer")
	}
	return nil
}

// syncError classifies a wait, acquire or present failure.
func (l *Loop) syncError(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, driver.ErrTimeout):
		return gpuerr.SynchronizationTimeout(err, format, args...)
	case errors.Is(err, driver.ErrOutOfDate):
		l.logger.Error("frame: swapchain out of date", "frame", l.frame)
		return errors.WithHint(errors.Wrapf(err, format, args...),
			"the window was resized; resize recovery is not supported, recreate the engine")
	}
	return errors.Wrapf(err, format, args...)
}

// Shutdown waits for all submitted frames to finish. It must run before
// any frame resources are destroyed.
func (l *Loop) Shutdown() error {
	if err := l.dev.GraphicsQueue().WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for graphics queue")
	}
	if err := l.dev.PresentQueue().WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for present queue")
	}
	for _, s := range l.slots {
		s.state = Idle
	}
	l.logger.Info("frame: shutdown", "frames", l.frame)
	return nil
}
