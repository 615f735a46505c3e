// Package material owns pipelines, per-material descriptor sets and the
// per-frame global and object data every material binds.
//
// A System is created once per render pass. Layouts describe a shader pair
// and its material bindings; materials are instances of a layout with their
// own uniform buffers and textures:
//
//	sys, _ := material.New(material.Config{...})
//	l, _ := sys.CreateLayout("basic", "basic.vert.spv", "basic.frag.spv")
//	l.AddDataBinding(0, driver.DescriptorTypeUniformBuffer, driver.ShaderStageFragment, 16, 0)
//	_ = l.Finalize()
//	m, _ := sys.CreateMaterial("red", l)
//	_ = m.WriteBuffer(0, color)
//	_ = m.Finalize()
package material

import (
	"log/slog"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/descriptor"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/gpuerr"
	"github.com/gogpu/gfx/memory"
)

// DefaultMaxObjects is the object capacity of one frame.
const DefaultMaxObjects = 10000

// Set indices of the pipeline layout every material uses.
const (
	SetGlobal   = 0
	SetMaterial = 1
	SetObject   = 2
)

// Registry and frame data errors.
var (
	ErrDuplicateName  = errors.New("material: name already registered")
	ErrTooManyObjects = errors.New("material: object count exceeds capacity")
	ErrFinalized      = errors.New("material: already finalized")
	ErrNotFinalized   = errors.New("material: not finalized")
	ErrSlot           = errors.New("material: frame slot out of range")
)

// Config configures a System.
type Config struct {
	Allocator *memory.Allocator

	// Queue receives layouts, pipelines, pools, the sampler and buffers.
	Queue *deletion.Queue

	RenderPass     driver.RenderPass
	Extent         driver.Extent2D
	FramesInFlight int

	// MaxObjects defaults to DefaultMaxObjects.
	MaxObjects int

	// ShaderDir is joined with the shader names of every layout.
	ShaderDir string

	Logger *slog.Logger
}

// System is the registry of material layouts and materials.
type System struct {
	dev    driver.Device
	alloc  *memory.Allocator
	queue  *deletion.Queue
	logger *slog.Logger

	renderPass driver.RenderPass
	extent     driver.Extent2D
	frames     int
	maxObjects int
	shaderDir  string

	pool         *descriptor.ChainedPool
	globalLayout *descriptor.Layout
	objectLayout *descriptor.Layout
	globalPad    uint64
	objectRange  uint64
	objectStride uint64
	globalBuffer memory.AllocatedBuffer
	objectBuffer memory.AllocatedBuffer
	globalSet    driver.DescriptorSet
	objectSets   []driver.DescriptorSet
	sampler      driver.Sampler

	layouts   map[string]*Layout
	materials map[string]*Material
}

// New creates the shared descriptor state and frame buffers.
func New(cfg Config) (*System, error) {
	if cfg.FramesInFlight < 1 {
		return nil, errors.Newf("material: %d frames in flight", cfg.FramesInFlight)
	}
	if cfg.Allocator == nil || cfg.Queue == nil {
		return nil, errors.New("material: config needs an allocator and a deletion queue")
	}
	if cfg.MaxObjects == 0 {
		cfg.MaxObjects = DefaultMaxObjects
	}
	if cfg.MaxObjects < 0 {
		return nil, errors.Newf("material: %d max objects", cfg.MaxObjects)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(nopHandler{})
	}
	dev := cfg.Allocator.Device()
	limits := cfg.Allocator.Limits()
	objectRange := uint64(cfg.MaxObjects) * geom.ObjectDataSize
	if limits.MaxStorageBufferRange > 0 && objectRange > uint64(limits.MaxStorageBufferRange) {
		return nil, errors.Wrapf(ErrTooManyObjects, "%d objects need %d bytes, storage buffer range is %d",
			cfg.MaxObjects, objectRange, limits.MaxStorageBufferRange)
	}
	objectStride := cfg.Allocator.PadStorageBufferSize(objectRange)
	if uint64(cfg.FramesInFlight-1)*objectStride > math.MaxUint32 {
		return nil, errors.Wrapf(ErrTooManyObjects, "%d frames of %d objects overflow a dynamic offset",
			cfg.FramesInFlight, cfg.MaxObjects)
	}
	s := &System{
		dev:          dev,
		alloc:        cfg.Allocator,
		queue:        cfg.Queue,
		logger:       cfg.Logger,
		renderPass:   cfg.RenderPass,
		extent:       cfg.Extent,
		frames:       cfg.FramesInFlight,
		maxObjects:   cfg.MaxObjects,
		objectRange:  objectRange,
		objectStride: objectStride,
		shaderDir:    cfg.ShaderDir,
		layouts:      make(map[string]*Layout),
		materials:    make(map[string]*Material),
	}

	sizes := append(descriptor.DefaultSizes(),
		driver.DescriptorPoolSize{Type: driver.DescriptorTypeCombinedImageSampler, Count: 10})
	var err error
	s.pool, err = descriptor.NewChainedPool(dev, descriptor.DefaultMaxSets, sizes, 0, s.queue, s.logger)
	if err != nil {
		return nil, err
	}
	s.globalLayout, err = descriptor.NewLayoutBuilder().
		AddBinding(0, driver.DescriptorTypeUniformBufferDynamic, driver.ShaderStageVertex|driver.ShaderStageFragment, 1).
		Build(dev, s.queue)
	if err != nil {
		return nil, err
	}
	s.objectLayout, err = descriptor.NewLayoutBuilder().
		AddBinding(0, driver.DescriptorTypeStorageBufferDynamic, driver.ShaderStageVertex, 1).
		Build(dev, s.queue)
	if err != nil {
		return nil, err
	}

	s.globalPad = s.alloc.PadUniformBufferSize(geom.GlobalDataSize)
	s.globalBuffer, err = s.alloc.CreateBuffer(uint64(s.frames)*s.globalPad,
		driver.BufferUsageUniform, memory.CPUToGPU, s.queue)
	if err != nil {
		return nil, err
	}
	// Slots are strided by the padded range so every dynamic offset is aligned.
	s.objectBuffer, err = s.alloc.CreateBuffer(uint64(s.frames)*s.objectStride,
		driver.BufferUsageStorage, memory.CPUToGPU, s.queue)
	if err != nil {
		return nil, err
	}

	s.globalSet, err = descriptor.NewWriter(s.globalLayout, s.pool).
		WriteBuffer(0, driver.DescriptorBufferInfo{Buffer: s.globalBuffer.Buffer, Range: geom.GlobalDataSize}).
		Build()
	if err != nil {
		return nil, err
	}
	w := descriptor.NewWriter(s.objectLayout, s.pool).
		WriteBuffer(0, driver.DescriptorBufferInfo{Buffer: s.objectBuffer.Buffer, Range: s.objectRange})
	s.objectSets = make([]driver.DescriptorSet, s.frames)
	for i := range s.objectSets {
		if s.objectSets[i], err = w.Build(); err != nil {
			return nil, err
		}
	}

	s.sampler, err = dev.CreateSampler(&driver.SamplerDescriptor{
		MagFilter:   driver.FilterLinear,
		MinFilter:   driver.FilterLinear,
		AddressMode: driver.AddressModeRepeat,
	})
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "create default sampler")
	}
	s.queue.PushLabeled(deletion.KindSampler, uint64(s.sampler), "default")

	s.logger.Debug("material: system ready",
		"frames", s.frames,
		"maxObjects", s.maxObjects,
		"globalStride", s.globalPad,
		"objectBytes", s.objectBuffer.Size)
	return s, nil
}

// MaxObjects returns the per-frame object capacity.
func (s *System) MaxObjects() int { return s.maxObjects }

// FramesInFlight returns the number of frame slots.
func (s *System) FramesInFlight() int { return s.frames }

// Sampler returns the default linear sampler.
func (s *System) Sampler() driver.Sampler { return s.sampler }

// Pool returns the descriptor pool chain materials allocate from.
func (s *System) Pool() *descriptor.ChainedPool { return s.pool }

// GlobalSet returns the set bound at SetGlobal.
func (s *System) GlobalSet() driver.DescriptorSet { return s.globalSet }

// ObjectSet returns the set bound at SetObject for a frame slot.
func (s *System) ObjectSet(slot int) driver.DescriptorSet { return s.objectSets[slot] }

// GlobalOffset returns the dynamic offset of the global data of a slot.
func (s *System) GlobalOffset(slot int) uint32 {
	return uint32(uint64(slot) * s.globalPad)
}

// ObjectOffset returns the dynamic offset of the object data of a slot.
func (s *System) ObjectOffset(slot int) uint32 {
	return uint32(uint64(slot) * s.objectStride)
}

// Layout returns a registered layout.
func (s *System) Layout(name string) (*Layout, bool) {
	l, ok := s.layouts[name]
	return l, ok
}

// Material returns a registered material.
func (s *System) Material(name string) (*Material, bool) {
	m, ok := s.materials[name]
	return m, ok
}

// CreateLayout registers a layout using the given vertex and fragment
// shader files.
func (s *System) CreateLayout(name, vertex, fragment string) (*Layout, error) {
	if _, ok := s.layouts[name]; ok {
		return nil, errors.Wrapf(ErrDuplicateName, "layout %q", name)
	}
	l := &Layout{
		sys:      s,
		name:     name,
		vertex:   vertex,
		fragment: fragment,
		builder:  descriptor.NewLayoutBuilder(),
	}
	s.layouts[name] = l
	return l, nil
}

// CreateMaterial registers a material of a finalized layout and creates a
// uniform buffer for each of its data bindings.
func (s *System) CreateMaterial(name string, l *Layout) (*Material, error) {
	if _, ok := s.materials[name]; ok {
		return nil, errors.Wrapf(ErrDuplicateName, "material %q", name)
	}
	if !l.finalized {
		return nil, errors.Wrapf(ErrNotFinalized, "layout %q of material %q", l.name, name)
	}
	m := &Material{
		sys:     s,
		name:    name,
		layout:  l,
		buffers: make(map[uint32]memory.AllocatedBuffer),
		images:  make(map[uint32]driver.DescriptorImageInfo),
	}
	for _, b := range l.bindings {
		if b.image {
			continue
		}
		usage := driver.BufferUsageUniform
		if b.typ == driver.DescriptorTypeStorageBuffer || b.typ == driver.DescriptorTypeStorageBufferDynamic {
			usage = driver.BufferUsageStorage
		}
		buf, err := s.alloc.CreateBuffer(b.size, usage, memory.CPUToGPU, s.queue)
		if err != nil {
			return nil, errors.Wrapf(err, "material %q binding %d", name, b.binding)
		}
		m.buffers[b.binding] = buf
	}
	s.materials[name] = m
	return m, nil
}

// WriteFrameData packs the camera and one record per transform into the
// frame buffers of slot.
func (s *System) WriteFrameData(slot int, cam geom.Camera, transforms []mgl32.Mat4) error {
	if slot < 0 || slot >= s.frames {
		return errors.Wrapf(ErrSlot, "slot %d of %d", slot, s.frames)
	}
	if len(transforms) > s.maxObjects {
		return errors.Wrapf(ErrTooManyObjects, "%d objects, capacity %d", len(transforms), s.maxObjects)
	}
	global := geom.NewGlobalData(cam)
	if err := s.alloc.Write(s.globalBuffer, uint64(s.GlobalOffset(slot)), global.Bytes()); err != nil {
		return err
	}
	if len(transforms) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(transforms)*geom.ObjectDataSize)
	for _, t := range transforms {
		od := geom.NewObjectData(t)
		buf = od.AppendBytes(buf)
	}
	return s.alloc.Write(s.objectBuffer, uint64(s.ObjectOffset(slot)), buf)
}
