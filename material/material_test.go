package material

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/descriptor"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/driver/soft"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/gpuerr"
	"github.com/gogpu/gfx/memory"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}

type fixture struct {
	dev   *soft.Device
	alloc *memory.Allocator
	queue *deletion.Queue
	sys   *System
	dir   string
}

func writeShaders(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), spirv, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, soft.DefaultAdapter(), 100)
}

func newFixtureOn(t *testing.T, a soft.Adapter, maxObjects int) *fixture {
	t.Helper()
	inst := soft.New(nil, soft.WithAdapters(a))
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
		alloc: memory.NewAllocator(dev, pd.MemoryProperties(), pd.Properties().Limits, nil),
		queue: deletion.NewQueue("main", deletion.DeviceTable(dev)),
		dir:   t.TempDir(),
	}
	writeShaders(t, f.dir, "basic.vert.spv", "basic.frag.spv")

	pass, err := dev.CreateRenderPass(&driver.RenderPassDescriptor{
		Attachments: []driver.AttachmentDescription{{
			Format:      driver.FormatB8G8R8A8Srgb,
			Samples:     driver.SampleCount1,
			LoadOp:      driver.LoadOpClear,
			FinalLayout: driver.ImageLayoutPresentSrc,
		}},
		Subpasses: []driver.SubpassDescription{{
			ColorAttachments: []driver.AttachmentReference{{Layout: driver.ImageLayoutColorAttachmentOptimal}},
		}},
	})
	if err != nil {
		t.Fatalf("CreateRenderPass() error = %v", err)
	}
	f.queue.Push(deletion.KindRenderPass, uint64(pass))

	f.sys, err = New(Config{
		Allocator:      f.alloc,
		Queue:          f.queue,
		RenderPass:     pass,
		Extent:         driver.Extent2D{Width: 640, Height: 480},
		FramesInFlight: 2,
		MaxObjects:     maxObjects,
		ShaderDir:      f.dir,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := f.queue.Flush(); err != nil {
			t.Errorf("Flush() error = %v", err)
		}
		if live := f.dev.LiveObjects(); len(live) != 0 {
			t.Errorf("LiveObjects() = %v after flush", live)
		}
		if v := f.dev.ValidationErrors(); len(v) != 0 {
			t.Errorf("ValidationErrors() = %v", v)
		}
		dev.Destroy()
		inst.Destroy()
	})
	return f
}

func (f *fixture) basicLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := f.sys.CreateLayout("basic", "basic.vert.spv", "basic.frag.spv")
	if err != nil {
		t.Fatalf("CreateLayout() error = %v", err)
	}
	l.AddDataBinding(0, driver.DescriptorTypeUniformBuffer, driver.ShaderStageFragment, 16, 0)
	if err := l.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	return l
}

func TestLoadShaderModule(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	files := map[string][]byte{
		"empty.spv":  {},
		"odd.spv":    {0x03, 0x02, 0x23, 0x07, 0, 0},
		"magic.spv":  {1, 2, 3, 4},
		"shader.spv": spirv,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		file    string
		wantErr bool
	}{
		{"missing.spv", true},
		{"empty.spv", true},
		{"odd.spv", true},
		{"magic.spv", true},
		{"shader.spv", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			m, err := LoadShaderModule(f.dev, filepath.Join(dir, tt.file))
			if tt.wantErr {
				if !errors.Is(err, gpuerr.ErrAssetLoad) {
					t.Errorf("LoadShaderModule() error = %v, want ErrAssetLoad", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadShaderModule() error = %v", err)
			}
			f.dev.DestroyShaderModule(m)
		})
	}
}

func TestSystemFrameBuffers(t *testing.T) {
	f := newFixture(t)
	s := f.sys

	if got := s.GlobalOffset(1); got != 512 {
		t.Errorf("GlobalOffset(1) = %d, want 512 (304 padded to 256)", got)
	}
	if got := s.ObjectOffset(1); got != 100*geom.ObjectDataSize {
		t.Errorf("ObjectOffset(1) = %d, want %d", got, 100*geom.ObjectDataSize)
	}

	gw := f.dev.DescriptorWrites(s.GlobalSet())
	if len(gw) != 1 || gw[0].Type != driver.DescriptorTypeUniformBufferDynamic || gw[0].Buffers[0].Range != geom.GlobalDataSize {
		t.Errorf("global set writes = %+v", gw)
	}
	if s.ObjectSet(0) == s.ObjectSet(1) {
		t.Error("object sets of both slots are the same set")
	}
	for slot := range 2 {
		ow := f.dev.DescriptorWrites(s.ObjectSet(slot))
		if len(ow) != 1 || ow[0].Buffers[0].Range != 100*geom.ObjectDataSize {
			t.Errorf("object set %d writes = %+v", slot, ow)
		}
	}
}

func TestObjectOffsetAligned(t *testing.T) {
	a := soft.DefaultAdapter()
	a.Properties.Limits.MinStorageBufferOffsetAlignment = 256
	f := newFixtureOn(t, a, 3)
	s := f.sys

	// 3 records are 384 bytes, padded to 512.
	if got := s.ObjectOffset(1); got != 512 {
		t.Errorf("ObjectOffset(1) = %d, want 512", got)
	}
	if s.objectBuffer.Size < 2*512 {
		t.Errorf("object buffer size = %d, want at least %d", s.objectBuffer.Size, 2*512)
	}
	ow := f.dev.DescriptorWrites(s.ObjectSet(0))
	if len(ow) != 1 || ow[0].Buffers[0].Range != 3*geom.ObjectDataSize {
		t.Errorf("object set writes = %+v", ow)
	}
	transforms := []mgl32.Mat4{mgl32.Ident4(), mgl32.Ident4(), mgl32.Ident4()}
	if err := s.WriteFrameData(1, geom.Camera{}, transforms); err != nil {
		t.Fatalf("WriteFrameData() error = %v", err)
	}
}

func TestNewRejectsObjectRangeOverLimit(t *testing.T) {
	inst := soft.New(nil)
	t.Cleanup(inst.Destroy)
	pds, err := inst.PhysicalDevices()
	if err != nil {
		t.Fatalf("PhysicalDevices() error = %v", err)
	}
	dev, err := pds[0].CreateDevice(&driver.DeviceDescriptor{
		Queues: []driver.QueueCreateInfo{{Family: 0, Priorities: []float32{1}}},
	})
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	t.Cleanup(dev.Destroy)
	limits := pds[0].Properties().Limits
	alloc := memory.NewAllocator(dev, pds[0].MemoryProperties(), limits, nil)
	q := deletion.NewQueue("main", deletion.DeviceTable(dev))
	t.Cleanup(func() { _ = q.Flush() })

	_, err = New(Config{
		Allocator:      alloc,
		Queue:          q,
		FramesInFlight: 2,
		MaxObjects:     int(limits.MaxStorageBufferRange/geom.ObjectDataSize) + 1,
	})
	if !errors.Is(err, ErrTooManyObjects) {
		t.Errorf("New() error = %v, want ErrTooManyObjects", err)
	}
	if n := q.Len(); n != 0 {
		t.Errorf("%d objects registered by a rejected New", n)
	}
}

func TestLayoutFinalizeBuildsPipeline(t *testing.T) {
	f := newFixture(t)
	l := f.basicLayout(t)

	desc, ok := f.dev.PipelineDescriptor(l.Pipeline())
	if !ok {
		t.Fatal("PipelineDescriptor() found no pipeline")
	}
	if len(desc.Stages) != 2 || desc.Stages[0].Stage != driver.ShaderStageVertex || desc.Stages[1].Stage != driver.ShaderStageFragment {
		t.Errorf("Stages = %+v", desc.Stages)
	}
	if desc.CullMode != driver.CullModeNone || desc.FrontFace != driver.FrontFaceClockwise {
		t.Errorf("rasterizer = cull %d front %d", desc.CullMode, desc.FrontFace)
	}
	if !desc.DepthTest || !desc.DepthWrite || desc.DepthCompare != driver.CompareOpLessOrEqual {
		t.Errorf("depth = test %v write %v compare %d", desc.DepthTest, desc.DepthWrite, desc.DepthCompare)
	}
	if desc.Viewport.Width != 640 || desc.Scissor.Extent.Height != 480 {
		t.Errorf("viewport = %+v scissor = %+v", desc.Viewport, desc.Scissor)
	}
	if len(desc.VertexBindings) != 1 || desc.VertexBindings[0].Stride != geom.VertexStride {
		t.Errorf("VertexBindings = %+v", desc.VertexBindings)
	}
	if n := f.dev.LiveObjects()["shader-module"]; n != 0 {
		t.Errorf("%d shader modules alive after Finalize", n)
	}
	if err := l.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize() error = %v, want ErrFinalized", err)
	}
}

func TestLayoutFinalizeMissingShader(t *testing.T) {
	f := newFixture(t)
	l, err := f.sys.CreateLayout("broken", "basic.vert.spv", "missing.frag.spv")
	if err != nil {
		t.Fatalf("CreateLayout() error = %v", err)
	}
	if err := l.Finalize(); !errors.Is(err, gpuerr.ErrAssetLoad) {
		t.Fatalf("Finalize() error = %v, want ErrAssetLoad", err)
	}
	if l.Pipeline() != 0 {
		t.Error("pipeline built without a fragment shader")
	}
	if _, err := f.sys.CreateMaterial("broken", l); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("CreateMaterial() error = %v, want ErrNotFinalized", err)
	}
	if n := f.dev.LiveObjects()["shader-module"]; n != 0 {
		t.Errorf("%d shader modules alive after failed Finalize", n)
	}
}

func TestLayoutFinalizeRollsBack(t *testing.T) {
	f := newFixture(t)
	l, err := f.sys.CreateLayout("basic", "basic.vert.spv", "basic.frag.spv")
	if err != nil {
		t.Fatalf("CreateLayout() error = %v", err)
	}
	before := f.dev.LiveObjects()
	queued := f.queue.Len()

	pass := f.sys.renderPass
	f.sys.renderPass = driver.RenderPass(0xdead)
	if err := l.Finalize(); !errors.Is(err, gpuerr.ErrResourceCreation) {
		t.Fatalf("Finalize() error = %v, want ErrResourceCreation", err)
	}
	after := f.dev.LiveObjects()
	for _, kind := range []string{"descriptor-set-layout", "pipeline-layout", "pipeline"} {
		if after[kind] != before[kind] {
			t.Errorf("%s count = %d after failed Finalize, want %d", kind, after[kind], before[kind])
		}
	}
	if n := f.queue.Len(); n != queued {
		t.Errorf("queue Len() = %d after failed Finalize, want %d", n, queued)
	}

	f.sys.renderPass = pass
	if err := l.Finalize(); err != nil {
		t.Fatalf("Finalize() retry error = %v", err)
	}
	if n := f.queue.Len(); n != queued+3 {
		t.Errorf("queue Len() = %d after Finalize, want %d", n, queued+3)
	}
}

func TestDuplicateNames(t *testing.T) {
	f := newFixture(t)
	l := f.basicLayout(t)
	if _, err := f.sys.CreateLayout("basic", "a", "b"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("CreateLayout() error = %v, want ErrDuplicateName", err)
	}
	if _, err := f.sys.CreateMaterial("red", l); err != nil {
		t.Fatalf("CreateMaterial() error = %v", err)
	}
	if _, err := f.sys.CreateMaterial("red", l); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("CreateMaterial() error = %v, want ErrDuplicateName", err)
	}
	if got, ok := f.sys.Layout("basic"); !ok || got != l {
		t.Error("Layout(basic) lookup failed")
	}
	if _, ok := f.sys.Material("blue"); ok {
		t.Error("Material(blue) found an unregistered material")
	}
}

func TestMaterialBind(t *testing.T) {
	f := newFixture(t)
	l := f.basicLayout(t)
	m, err := f.sys.CreateMaterial("red", l)
	if err != nil {
		t.Fatalf("CreateMaterial() error = %v", err)
	}
	color := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := m.WriteBuffer(0, color); err != nil {
		t.Fatalf("WriteBuffer() error = %v", err)
	}
	if err := m.WriteBuffer(3, color); !errors.Is(err, descriptor.ErrUnknownBinding) {
		t.Errorf("WriteBuffer(3) error = %v, want ErrUnknownBinding", err)
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	got, err := f.dev.BufferContents(m.buffers[0].Buffer)
	if err != nil {
		t.Fatalf("BufferContents() error = %v", err)
	}
	if !bytes.Equal(got[:16], color) {
		t.Errorf("material buffer = %v, want %v", got[:16], color)
	}

	pool, err := f.dev.CreateCommandPool(0, 0)
	if err != nil {
		t.Fatalf("CreateCommandPool() error = %v", err)
	}
	f.queue.Push(deletion.KindCommandPool, uint64(pool))
	cbs, err := f.dev.AllocateCommandBuffers(pool, 1)
	if err != nil {
		t.Fatalf("AllocateCommandBuffers() error = %v", err)
	}
	cb := cbs[0].(*soft.CommandBuffer)
	if err := cb.Begin(driver.CommandBufferUsageOneTimeSubmit); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	m.Bind(cb, 1)
	if err := cb.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	ops := cb.Ops()
	if len(ops) != 4 || ops[0].Kind != soft.OpBindPipeline || ops[0].Pipeline != l.Pipeline() {
		t.Fatalf("ops = %+v", ops)
	}
	want := []struct {
		set     uint32
		handle  driver.DescriptorSet
		offsets []uint32
	}{
		{SetGlobal, f.sys.GlobalSet(), []uint32{512}},
		{SetMaterial, m.Set(), nil},
		{SetObject, f.sys.ObjectSet(1), []uint32{100 * geom.ObjectDataSize}},
	}
	for i, w := range want {
		op := ops[i+1]
		if op.FirstSet != w.set || len(op.Sets) != 1 || op.Sets[0] != w.handle {
			t.Errorf("bind %d = set %d %v, want set %d %v", i, op.FirstSet, op.Sets, w.set, w.handle)
		}
		if len(op.Offsets) != len(w.offsets) || len(w.offsets) == 1 && op.Offsets[0] != w.offsets[0] {
			t.Errorf("bind %d offsets = %v, want %v", i, op.Offsets, w.offsets)
		}
	}
}

func TestMaterialImageBinding(t *testing.T) {
	f := newFixture(t)
	l, err := f.sys.CreateLayout("textured", "basic.vert.spv", "basic.frag.spv")
	if err != nil {
		t.Fatalf("CreateLayout() error = %v", err)
	}
	l.AddImageBinding(0, driver.DescriptorTypeCombinedImageSampler, driver.ShaderStageFragment, driver.ImageLayoutShaderReadOnlyOptimal)
	if err := l.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	m, err := f.sys.CreateMaterial("checker", l)
	if err != nil {
		t.Fatalf("CreateMaterial() error = %v", err)
	}
	if err := m.Finalize(); err == nil {
		t.Fatal("Finalize() without an image succeeded")
	}

	img, err := f.alloc.CreateImage(&driver.ImageDescriptor{
		Format:    driver.FormatR8G8B8A8Srgb,
		Extent:    driver.Extent3D{Width: 4, Height: 4, Depth: 1},
		MipLevels: 1,
		Samples:   driver.SampleCount1,
		Tiling:    driver.ImageTilingOptimal,
		Usage:     driver.ImageUsageSampled,
	}, memory.GPUOnly, f.queue)
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	if err := f.alloc.CreateImageView(&img, driver.ImageAspectColor, f.queue); err != nil {
		t.Fatalf("CreateImageView() error = %v", err)
	}
	if err := m.WriteImage(0, img.View); err != nil {
		t.Fatalf("WriteImage() error = %v", err)
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	w := f.dev.DescriptorWrites(m.Set())
	if len(w) != 1 || w[0].Images[0].View != img.View || w[0].Images[0].Sampler != f.sys.Sampler() {
		t.Errorf("image writes = %+v", w)
	}
	if err := m.WriteImage(0, img.View); !errors.Is(err, ErrFinalized) {
		t.Errorf("WriteImage() after Finalize error = %v, want ErrFinalized", err)
	}
}

func TestWriteFrameData(t *testing.T) {
	f := newFixture(t)
	s := f.sys
	cam := geom.Camera{Position: mgl32.Vec3{0, 0, 5}, Aspect: 4.0 / 3}
	transforms := []mgl32.Mat4{mgl32.Translate3D(1, 0, 0), mgl32.Translate3D(0, 2, 0)}

	if err := s.WriteFrameData(1, cam, transforms); err != nil {
		t.Fatalf("WriteFrameData() error = %v", err)
	}

	objects, err := f.dev.BufferContents(s.objectBuffer.Buffer)
	if err != nil {
		t.Fatalf("BufferContents() error = %v", err)
	}
	var want []byte
	for _, m := range transforms {
		od := geom.NewObjectData(m)
		want = od.AppendBytes(want)
	}
	off := int(s.ObjectOffset(1))
	if !bytes.Equal(objects[off:off+len(want)], want) {
		t.Error("object records of slot 1 do not match the transforms")
	}
	if !bytes.Equal(objects[:len(want)], make([]byte, len(want))) {
		t.Error("slot 0 object records were written")
	}

	global, err := f.dev.BufferContents(s.globalBuffer.Buffer)
	if err != nil {
		t.Fatalf("BufferContents() error = %v", err)
	}
	gd := geom.NewGlobalData(cam)
	if !bytes.Equal(global[512:512+geom.GlobalDataSize], gd.Bytes()) {
		t.Error("global data of slot 1 does not match the camera")
	}

	if err := s.WriteFrameData(0, cam, make([]mgl32.Mat4, 101)); !errors.Is(err, ErrTooManyObjects) {
		t.Errorf("WriteFrameData(101 objects) error = %v, want ErrTooManyObjects", err)
	}
	if err := s.WriteFrameData(2, cam, nil); !errors.Is(err, ErrSlot) {
		t.Errorf("WriteFrameData(slot 2) error = %v, want ErrSlot", err)
	}
}
