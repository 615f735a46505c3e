package gfx

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/driver/soft"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/gpuerr"
	"github.com/gogpu/gfx/material"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}

func shaderDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range []string{"basic.vert.spv", "basic.frag.spv"} {
		if err := os.WriteFile(filepath.Join(dir, n), spirv, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// newTestEngine opens an engine on a private soft instance. Cleanup closes
// it and fails the test on leaks or validation errors.
func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return newEngineOn(t, soft.New(nil, soft.WithExtent(320, 240)), opts...)
}

func newEngineOn(t *testing.T, inst *soft.Instance, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithInstance(inst),
		WithShaderDir(shaderDir(t)),
		WithMaxObjects(16),
	}, opts...)
	e, err := New(nil, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sd := e.dev.Driver().(*soft.Device)
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		if v := sd.ValidationErrors(); len(v) != 0 {
			t.Errorf("ValidationErrors() = %v", v)
		}
		inst.Destroy()
	})
	return e
}

func softDevice(e *Engine) *soft.Device { return e.dev.Driver().(*soft.Device) }

func basicMaterial(t *testing.T, e *Engine, name string) *material.Material {
	t.Helper()
	l, ok := e.Materials().Layout("basic")
	if !ok {
		var err error
		if l, err = e.Materials().CreateLayout("basic", "basic.vert.spv", "basic.frag.spv"); err != nil {
			t.Fatalf("CreateLayout() error = %v", err)
		}
		if err := l.Finalize(); err != nil {
			t.Fatalf("Layout.Finalize() error = %v", err)
		}
	}
	m, err := e.Materials().CreateMaterial(name, l)
	if err != nil {
		t.Fatalf("CreateMaterial() error = %v", err)
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("Material.Finalize() error = %v", err)
	}
	return m
}

func testScene(t *testing.T, e *Engine) *Scene {
	t.Helper()
	mesh, err := e.UploadMesh("triangle", geom.Triangle())
	if err != nil {
		t.Fatalf("UploadMesh() error = %v", err)
	}
	return &Scene{
		Camera: Camera{Position: mgl32.Vec3{0, 0, 3}},
		Objects: []RenderObject{{
			Mesh:      mesh,
			Material:  basicMaterial(t, e, "default"),
			Transform: mgl32.Ident4(),
		}},
	}
}

func TestNewSelectsDevice(t *testing.T) {
	e := newTestEngine(t)
	if e.DeviceName() != "gfx soft device" {
		t.Errorf("DeviceName() = %q", e.DeviceName())
	}
	if got := e.Extent(); got != (driver.Extent2D{Width: 320, Height: 240}) {
		t.Errorf("Extent() = %+v, want 320x240", got)
	}
	if e.Materials().FramesInFlight() != 2 {
		t.Errorf("FramesInFlight() = %d, want 2", e.Materials().FramesInFlight())
	}
	if e.ID().String() == "" {
		t.Error("ID() is empty")
	}
}

func TestNewByDriverName(t *testing.T) {
	e, err := New(gpucontext.NullWindowProvider{W: 640, H: 480, SF: 1},
		WithDriver(driver.NameSoft), WithShaderDir(shaderDir(t)), WithMaxObjects(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := e.Extent(); got != (driver.Extent2D{Width: 640, Height: 480}) {
		t.Errorf("Extent() = %+v, want the window size", got)
	}
	sd := softDevice(e)
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if v := sd.ValidationErrors(); len(v) != 0 {
		t.Errorf("ValidationErrors() = %v", v)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New(nil, WithDriver("nope"))
	if !errors.Is(err, gpuerr.ErrDeviceSelection) || !errors.Is(err, driver.ErrNotAvailable) {
		t.Errorf("New() error = %v, want device selection wrapping ErrNotAvailable", err)
	}
}

func TestNewNoSuitableDevice(t *testing.T) {
	weak := soft.DefaultAdapter()
	weak.Features.GeometryShader = false
	inst := soft.New(nil, soft.WithAdapters(weak))
	defer inst.Destroy()

	_, err := New(nil, WithInstance(inst))
	if !errors.Is(err, gpuerr.ErrDeviceSelection) {
		t.Errorf("New() error = %v, want ErrDeviceSelection", err)
	}
	if !gpuerr.IsFatal(err) {
		t.Error("IsFatal() = false for device selection")
	}
}

func TestUploadMesh(t *testing.T) {
	e := newTestEngine(t)
	m, err := e.UploadMesh("cube", geom.Cube())
	if err != nil {
		t.Fatalf("UploadMesh() error = %v", err)
	}
	if m.VertexCount() != 36 {
		t.Errorf("VertexCount() = %d, want 36", m.VertexCount())
	}
	got, err := softDevice(e).BufferContents(m.Buffer())
	if err != nil {
		t.Fatalf("BufferContents() error = %v", err)
	}
	want := geom.EncodeVertices(geom.Cube())
	if string(got[:len(want)]) != string(want) {
		t.Error("vertex buffer contents differ from the encoded vertices")
	}
	if found, ok := e.Mesh("cube"); !ok || found != m {
		t.Error("Mesh(\"cube\") did not return the uploaded mesh")
	}

	if _, err := e.UploadMesh("cube", geom.Quad()); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate UploadMesh() error = %v, want ErrDuplicateName", err)
	}
	if _, err := e.UploadMesh("empty", nil); err == nil {
		t.Error("UploadMesh() of no vertices succeeded")
	}
}

func TestUploadRunsOnGraphicsQueue(t *testing.T) {
	a := soft.DefaultAdapter()
	a.QueueFamilies = []driver.QueueFamily{
		{Flags: driver.QueueGraphics | driver.QueueCompute, Count: 1},
		{Flags: driver.QueueTransfer, Count: 1},
	}
	a.PresentFamilies = []uint32{0}
	e := newEngineOn(t, soft.New(nil, soft.WithExtent(320, 240), soft.WithAdapters(a)))

	idx := e.dev.Indices()
	if *idx.Graphics == *idx.Transfer {
		t.Fatalf("Indices() = graphics %d, transfer %d, want separate families", *idx.Graphics, *idx.Transfer)
	}
	graphics := softDevice(e).SoftQueue(*idx.Graphics, 0)
	transfer := softDevice(e).SoftQueue(*idx.Transfer, 0)

	graphics.Pause()
	done := make(chan error, 1)
	go func() {
		_, err := e.UploadMesh("triangle", geom.Triangle())
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for graphics.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	pending := graphics.Pending()
	select {
	case err := <-done:
		graphics.Resume()
		t.Fatalf("UploadMesh() finished while the graphics queue was paused, error = %v", err)
	default:
	}
	graphics.Resume()
	if err := <-done; err != nil {
		t.Fatalf("UploadMesh() error = %v", err)
	}
	if pending == 0 {
		t.Error("upload was not submitted to the graphics queue")
	}
	if n := transfer.Pending(); n != 0 {
		t.Errorf("transfer queue Pending() = %d", n)
	}
}

func TestUploadTextureSubImage(t *testing.T) {
	e := newTestEngine(t)
	full := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			full.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	sub := full.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)

	tex, err := e.UploadTexture("sub", sub)
	if err != nil {
		t.Fatalf("UploadTexture() error = %v", err)
	}
	if tex.Extent() != (driver.Extent2D{Width: 2, Height: 2}) {
		t.Errorf("Extent() = %+v, want 2x2", tex.Extent())
	}
	sd := softDevice(e)
	got, err := sd.ImageContents(tex.image.Image)
	if err != nil {
		t.Fatalf("ImageContents() error = %v", err)
	}
	want := []byte{1, 1, 0, 255, 2, 1, 0, 255, 1, 2, 0, 255, 2, 2, 0, 255}
	if string(got) != string(want) {
		t.Errorf("ImageContents() = %v, want %v", got, want)
	}
	if l := sd.ImageLayout(tex.image.Image); l != driver.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("ImageLayout() = %v, want shader read only", l)
	}
}

func TestDrawAndStats(t *testing.T) {
	e := newTestEngine(t)
	scene := testScene(t, e)
	for range 3 {
		if err := e.Draw(scene); err != nil {
			t.Fatalf("Draw() error = %v", err)
		}
	}
	s := e.Stats()
	if s.Frames != 3 || s.Draws != 1 {
		t.Errorf("Stats() = %+v, want 3 frames with 1 draw", s)
	}
	sd := softDevice(e)
	if err := sd.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if got := sd.Stats().Presents; got != 3 {
		t.Errorf("Presents = %d, want 3", got)
	}
}

func TestDrawWithCoarseStorageAlignment(t *testing.T) {
	a := soft.DefaultAdapter()
	a.Properties.Limits.MinStorageBufferOffsetAlignment = 256
	e := newEngineOn(t, soft.New(nil, soft.WithExtent(320, 240), soft.WithAdapters(a)), WithMaxObjects(3))
	scene := testScene(t, e)
	for range 2 {
		if err := e.Draw(scene); err != nil {
			t.Fatalf("Draw() error = %v", err)
		}
	}
	if off := e.Materials().ObjectOffset(1); off%256 != 0 {
		t.Errorf("ObjectOffset(1) = %d, not 256-aligned", off)
	}
	if err := softDevice(e).WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if v := softDevice(e).ValidationErrors(); len(v) != 0 {
		t.Errorf("ValidationErrors() = %v", v)
	}
}

func TestDrawNilMesh(t *testing.T) {
	e := newTestEngine(t)
	err := e.Draw(&Scene{Objects: []RenderObject{{Material: basicMaterial(t, e, "m")}}})
	if !errors.Is(err, ErrNoMesh) {
		t.Errorf("Draw() error = %v, want ErrNoMesh", err)
	}
}

func TestRunStopsAfterFrames(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Run(context.Background(), testScene(t, e), 5); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if e.Stats().Frames != 5 {
		t.Errorf("Frames = %d, want 5", e.Stats().Frames)
	}
}

func TestRunCancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx, testScene(t, e), 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunStopsOnTimeout(t *testing.T) {
	e := newTestEngine(t, WithFrameTimeout(20*time.Millisecond))
	scene := testScene(t, e)
	q := softDevice(e).SoftQueue(0, 0)
	q.Pause()

	// Two frames submit, the third times out on the first slot's fence.
	err := e.Run(context.Background(), scene, 4)
	q.Resume()
	if !errors.Is(err, gpuerr.ErrSynchronizationTimeout) {
		t.Fatalf("Run() error = %v, want ErrSynchronizationTimeout", err)
	}
	if e.Stats().Frames != 2 {
		t.Errorf("Frames = %d, want 2", e.Stats().Frames)
	}
	if err := e.Draw(scene); err != nil {
		t.Fatalf("Draw() after Resume error = %v", err)
	}
}

func TestRunStopsOnOutOfDate(t *testing.T) {
	inst := soft.New(nil, soft.WithExtent(320, 240))
	defer inst.Destroy()
	e, err := New(nil, WithInstance(inst), WithShaderDir(shaderDir(t)), WithMaxObjects(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	scene := testScene(t, e)
	inst.Resize(640, 480)
	err = e.Run(context.Background(), scene, 0)
	if !errors.Is(err, driver.ErrOutOfDate) {
		t.Fatalf("Run() error = %v, want ErrOutOfDate", err)
	}
	if len(errors.GetAllHints(err)) == 0 {
		t.Error("out of date error carries no hint")
	}
}

type resizeSource struct {
	gpucontext.NullEventSource
	fn func(w, h int)
}

func (r *resizeSource) OnResize(fn func(w, h int)) { r.fn = fn }

func TestResizeEventMarksStale(t *testing.T) {
	src := &resizeSource{}
	e := newTestEngine(t, WithEventSource(src))
	if src.fn == nil {
		t.Fatal("engine did not subscribe to resize events")
	}
	if e.NeedsResize() {
		t.Error("NeedsResize() = true before any resize")
	}
	src.fn(1024, 768)
	if !e.NeedsResize() {
		t.Error("NeedsResize() = false after a resize event")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	inst := soft.New(nil)
	defer inst.Destroy()
	e, err := New(nil, WithInstance(inst), WithShaderDir(shaderDir(t)), WithMaxObjects(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sd := softDevice(e)
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if live := sd.LiveObjects(); len(live) != 0 {
		t.Errorf("LiveObjects() = %v after Close", live)
	}
	if _, err := e.UploadMesh("late", geom.Triangle()); !errors.Is(err, ErrClosed) {
		t.Errorf("UploadMesh() after Close error = %v, want ErrClosed", err)
	}
}

func TestLoadTextures(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	files := map[string]string{}
	for _, name := range []string{"grass", "stone"} {
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		for i := range img.Pix {
			img.Pix[i] = 255
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatal(err)
		}
		p := filepath.Join(dir, name+".png")
		if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		files[name] = p
	}
	files["grass-alias"] = files["grass"]
	got, err := e.LoadTextures(context.Background(), files)
	if err != nil {
		t.Fatalf("LoadTextures() error = %v", err)
	}
	for name := range files {
		tex, ok := e.Texture(name)
		if !ok || got[name] != tex {
			t.Errorf("texture %q not registered", name)
		}
	}
	if n := e.assets.Len(); n != 2 {
		t.Errorf("asset cache holds %d images, want 2 for 3 names over 2 files", n)
	}

	files["broken"] = filepath.Join(dir, "missing.png")
	if _, err := e.LoadTextures(context.Background(), files); !errors.Is(err, gpuerr.ErrAssetLoad) {
		t.Errorf("LoadTextures() error = %v, want ErrAssetLoad", err)
	}
}
