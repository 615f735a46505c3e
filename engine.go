package gfx

import (
	"context"
	"image"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/google/uuid"

	"github.com/gogpu/gfx/asset"
	"github.com/gogpu/gfx/command"
	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/device"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/frame"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/gpuerr"
	"github.com/gogpu/gfx/material"
	"github.com/gogpu/gfx/memory"
)

// Engine errors.
var (
	ErrClosed        = errors.New("gfx: engine closed")
	ErrDuplicateName = errors.New("gfx: name already registered")
	ErrNoMesh        = errors.New("gfx: render object has no mesh")
)

// Engine is the application context: one device, its presentation
// target and everything rendered with it. It is not safe for concurrent
// use, except that SetLogger may run at any time.
type Engine struct {
	id        uuid.UUID
	opts      options
	logger    atomic.Pointer[slog.Logger]
	ownLogger bool
	window    gpucontext.WindowProvider

	inst     driver.Instance
	ownsInst bool
	dev      *device.Device

	main   *deletion.Queue
	allocs *deletion.Queue

	alloc     *memory.Allocator
	submitter *command.Submitter
	swapchain *frame.Swapchain
	materials *material.System
	loop      *frame.Loop

	meshes   map[string]*Mesh
	textures map[string]*Texture
	assets   *asset.Cache
	objects  []frame.Object

	resized atomic.Bool
	closed  bool
}

// New creates an engine presenting to window. A nil window renders
// headless on backends that support it.
//
// Errors returned by New are fatal; whatever was created is torn down.
func New(window gpucontext.WindowProvider, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		id:        uuid.New(),
		opts:      o,
		window:    window,
		ownLogger: o.logger != nil,
		meshes:    make(map[string]*Mesh),
		textures:  make(map[string]*Texture),
		assets:    asset.NewCache(nil),
	}
	logger := o.logger
	if logger == nil {
		logger = Logger()
	}
	e.logger.Store(logger.With("engine", e.id.String()))

	if err := e.init(); err != nil {
		e.log().Error("gfx: initialization failed", "err", err)
		if cerr := e.teardown(); cerr != nil {
			e.log().Warn("gfx: teardown after failed initialization", "err", cerr)
		}
		return nil, err
	}

	enginesMu.Lock()
	engines[e] = struct{}{}
	enginesMu.Unlock()

	if o.events != nil {
		o.events.OnResize(func(w, h int) {
			e.resized.Store(true)
			e.log().Info("gfx: window resized, swapchain is stale", "width", w, "height", h)
		})
	}
	return e, nil
}

func (e *Engine) log() *slog.Logger { return e.logger.Load() }

func (e *Engine) setLogger(l *slog.Logger) {
	e.logger.Store(l.With("engine", e.id.String()))
	if e.ownsInst {
		propagateLogger(e.inst, l)
	}
}

func (e *Engine) init() error {
	o := &e.opts
	logger := e.log()

	cfg := &driver.Config{
		AppName:    o.appName,
		Window:     e.window,
		Validation: o.validation,
		Logger:     logger,
	}
	var err error
	switch {
	case o.instance != nil:
		e.inst = o.instance
	case o.driverName != "":
		e.inst, err = driver.Open(o.driverName, cfg)
		e.ownsInst = err == nil
	default:
		e.inst, err = driver.OpenDefault(cfg)
		e.ownsInst = err == nil
	}
	if err != nil {
		return gpuerr.DeviceSelection(err, "open driver")
	}

	if e.dev, err = device.Select(e.inst, device.WithLogger(logger)); err != nil {
		return err
	}
	drv := e.dev.Driver()
	e.main = deletion.NewQueue("main", deletion.DeviceTable(drv))
	e.allocs = deletion.NewQueue("allocations", deletion.DeviceTable(drv))
	e.main.SetLogger(logger)
	e.allocs.SetLogger(logger)

	props := e.dev.Properties()
	e.alloc = memory.NewAllocator(drv, props.Memory, props.Limits, logger)

	// Uploads end in shader-read barriers, so they run on the graphics queue.
	idx := e.dev.Indices()
	if e.submitter, err = command.NewSubmitter(drv, e.dev.GraphicsQueue(), *idx.Graphics, e.main); err != nil {
		return err
	}

	var windowExtent driver.Extent2D
	if e.window != nil {
		w, h := e.window.Size()
		windowExtent = driver.Extent2D{Width: uint32(max(w, 0)), Height: uint32(max(h, 0))}
	}
	e.swapchain, err = frame.NewSwapchain(frame.SwapchainConfig{
		Device:      e.dev,
		Allocator:   e.alloc,
		Surface:     e.inst.Surface(),
		Window:      windowExtent,
		Main:        e.main,
		Allocations: e.allocs,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	e.materials, err = material.New(material.Config{
		Allocator:      e.alloc,
		Queue:          e.main,
		RenderPass:     e.swapchain.RenderPass(),
		Extent:         e.swapchain.Extent(),
		FramesInFlight: o.framesInFlight,
		MaxObjects:     o.maxObjects,
		ShaderDir:      o.shaderDir,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	e.loop, err = frame.NewLoop(frame.Config{
		Device:         e.dev,
		Swapchain:      e.swapchain,
		Materials:      e.materials,
		Queue:          e.main,
		FramesInFlight: o.framesInFlight,
		Timeout:        o.frameTimeout,
		ClearColor:     o.clearColor,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	logger.Info("gfx: engine ready",
		"driver", e.inst.Name(),
		"device", props.Name,
		"framesInFlight", o.framesInFlight,
		"extent", e.swapchain.Extent())
	return nil
}

// ID returns the engine instance id, also attached to every log record.
func (e *Engine) ID() uuid.UUID { return e.id }

// Materials returns the material registry.
func (e *Engine) Materials() *material.System { return e.materials }

// Extent returns the swapchain size.
func (e *Engine) Extent() driver.Extent2D { return e.swapchain.Extent() }

// Stats returns statistics of the last frame.
func (e *Engine) Stats() frame.Stats { return e.loop.Stats() }

// DeviceName returns the name of the selected GPU.
func (e *Engine) DeviceName() string { return e.dev.Properties().Name }

// NeedsResize reports whether the window was resized since New. The
// swapchain is not recreated.
func (e *Engine) NeedsResize() bool { return e.resized.Load() }

// Mesh returns an uploaded mesh.
func (e *Engine) Mesh(name string) (*Mesh, bool) {
	m, ok := e.meshes[name]
	return m, ok
}

// Texture returns an uploaded texture.
func (e *Engine) Texture(name string) (*Texture, bool) {
	t, ok := e.textures[name]
	return t, ok
}

// UploadMesh copies vertices into a device-local vertex buffer through a
// staging buffer and registers the mesh under name.
func (e *Engine) UploadMesh(name string, vertices []Vertex) (*Mesh, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.meshes[name]; ok {
		return nil, errors.Wrapf(ErrDuplicateName, "mesh %q", name)
	}
	buf, err := e.alloc.UploadBuffer(e.submitter, geom.EncodeVertices(vertices), driver.BufferUsageVertex, e.allocs)
	if err != nil {
		return nil, errors.Wrapf(err, "upload mesh %q", name)
	}
	m := &Mesh{
		name:     name,
		vertices: append([]Vertex(nil), vertices...),
		buffer:   buf,
	}
	e.meshes[name] = m
	e.log().Debug("gfx: mesh uploaded", "mesh", name, "vertices", len(vertices), "bytes", buf.Size)
	return m, nil
}

// UploadTexture copies img into a sampled sRGB image and registers it
// under name.
func (e *Engine) UploadTexture(name string, img *image.RGBA) (*Texture, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.textures[name]; ok {
		return nil, errors.Wrapf(ErrDuplicateName, "texture %q", name)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pixels := img.Pix
	if img.Stride != 4*w || len(pixels) != 4*w*h {
		pixels = make([]byte, 0, 4*w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := img.PixOffset(b.Min.X, y)
			pixels = append(pixels, img.Pix[off:off+4*w]...)
		}
	}
	extent := driver.Extent2D{Width: uint32(w), Height: uint32(h)}
	ai, err := e.alloc.UploadImage(e.submitter, pixels, extent, driver.FormatR8G8B8A8Srgb, e.allocs)
	if err != nil {
		return nil, errors.Wrapf(err, "upload texture %q", name)
	}
	t := &Texture{name: name, image: ai}
	e.textures[name] = t
	e.log().Debug("gfx: texture uploaded", "texture", name, "width", w, "height", h)
	return t, nil
}

// LoadTextures decodes the image files concurrently through the engine's
// asset cache and uploads each under its key. Nothing is uploaded when any
// file fails to decode.
func (e *Engine) LoadTextures(ctx context.Context, files map[string]string) (map[string]*Texture, error) {
	names := slices.Sorted(maps.Keys(files))
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = files[n]
	}
	imgs, err := e.assets.Load(ctx, paths)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Texture, len(names))
	for i, n := range names {
		t, err := e.UploadTexture(n, imgs[i])
		if err != nil {
			return out, err
		}
		out[n] = t
	}
	return out, nil
}

// Draw renders one frame of scene. A zero camera aspect is taken from the
// swapchain extent.
func (e *Engine) Draw(scene *Scene) error {
	if e.closed {
		return ErrClosed
	}
	e.objects = e.objects[:0]
	for i, obj := range scene.Objects {
		if obj.Mesh == nil {
			return errors.Wrapf(ErrNoMesh, "object %d", i)
		}
		e.objects = append(e.objects, frame.Object{
			VertexBuffer: obj.Mesh.Buffer(),
			VertexCount:  obj.Mesh.VertexCount(),
			Material:     obj.Material,
			Transform:    obj.Transform,
		})
	}
	cam := scene.Camera
	if cam.Aspect == 0 {
		ext := e.swapchain.Extent()
		cam.Aspect = float32(ext.Width) / float32(ext.Height)
	}
	return e.loop.Draw(&frame.Scene{Camera: cam, Objects: e.objects})
}

// Run draws scene until ctx is done or frames frames were drawn. Zero
// frames means no limit. Fatal errors stop the loop and are returned;
// recoverable ones are logged and the next frame is drawn.
func (e *Engine) Run(ctx context.Context, scene *Scene, frames uint64) error {
	for n := uint64(0); frames == 0 || n < frames; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.Draw(scene); err != nil {
			if gpuerr.IsFatal(err) {
				e.log().Error("gfx: frame failed", "frame", e.loop.Frame(), "err", err)
				return err
			}
			e.log().Warn("gfx: frame skipped", "frame", e.loop.Frame(), "err", err)
		}
	}
	return nil
}

// Close waits for the GPU, destroys everything the engine created and
// checks nothing leaked. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	enginesMu.Lock()
	delete(engines, e)
	enginesMu.Unlock()

	var err error
	if e.loop != nil {
		err = e.loop.Shutdown()
	}
	err = errors.CombineErrors(err, e.teardown())
	e.log().Info("gfx: engine closed")
	return err
}

// teardown flushes the deletion queues, swapchain-scoped objects first,
// then destroys the device and the instance.
func (e *Engine) teardown() error {
	var err error
	if e.dev != nil {
		if werr := e.dev.WaitIdle(); werr != nil {
			err = errors.CombineErrors(err, werr)
		}
	}
	for _, q := range []*deletion.Queue{e.allocs, e.main} {
		if q == nil {
			continue
		}
		err = errors.CombineErrors(err, q.Flush())
		err = errors.CombineErrors(err, q.AssertEmpty())
	}
	if e.dev != nil {
		e.dev.Destroy()
	}
	if e.inst != nil && e.ownsInst {
		e.inst.Destroy()
	}
	return err
}
