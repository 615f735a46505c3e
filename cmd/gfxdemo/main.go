// Command gfxdemo renders a grid of rotated cubes for a fixed number of
// frames and prints the frame statistics.
//
// Without -shaders it runs on the soft backend with placeholder shader
// modules; real SPIR-V is needed for -driver vulkan.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gpucontext"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gfx"
	"github.com/gogpu/gfx/driver"
	_ "github.com/gogpu/gfx/driver/soft"
	_ "github.com/gogpu/gfx/driver/vulkan"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/material"
)

// placeholder is the SPIR-V header the soft backend accepts as a module.
var placeholder = []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}

func main() {
	var (
		drv      = flag.String("driver", driver.NameSoft, "backend name (empty picks the best available)")
		frames   = flag.Uint64("frames", 120, "frames to render")
		inFlight = flag.Int("frames-in-flight", 2, "frames the CPU may run ahead of the GPU")
		grid     = flag.Int("objects", 4, "cubes per grid side")
		shaders  = flag.String("shaders", "", "directory holding basic.vert.spv and basic.frag.spv")
		width    = flag.Int("width", 800, "surface width")
		height   = flag.Int("height", 600, "surface height")
		verbose  = flag.Bool("v", false, "log engine diagnostics")
	)
	flag.Parse()

	if *verbose {
		gfx.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	dir := *shaders
	if dir == "" {
		tmp, err := os.MkdirTemp("", "gfxdemo")
		if err != nil {
			log.Fatalf("Failed to create shader dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		for _, n := range []string{"basic.vert.spv", "basic.frag.spv"} {
			if err := os.WriteFile(filepath.Join(tmp, n), placeholder, 0o644); err != nil {
				log.Fatalf("Failed to write %s: %v", n, err)
			}
		}
		dir = tmp
	}

	opts := []gfx.Option{
		gfx.WithAppName("gfxdemo"),
		gfx.WithFramesInFlight(*inFlight),
		gfx.WithMaxObjects(*grid * *grid),
		gfx.WithShaderDir(dir),
	}
	if *drv != "" {
		opts = append(opts, gfx.WithDriver(*drv))
	}
	window := gpucontext.NullWindowProvider{W: *width, H: *height, SF: 1}
	engine, err := gfx.New(window, opts...)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}()

	scene, err := buildScene(engine, *grid)
	if err != nil {
		log.Fatalf("Failed to build scene: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runErr := engine.Run(ctx, scene, *frames)

	s := engine.Stats()
	p := message.NewPrinter(language.English)
	p.Printf("%s: %d frames, %d draws, %d pipeline binds, %d vertex binds\n",
		engine.DeviceName(), s.Frames, s.Draws, s.PipelineBinds, s.VertexBinds)
	p.Printf("last frame: record %v, fence wait %v\n", s.RecordTime, s.FenceWait)
	if runErr != nil {
		log.Printf("Run stopped: %v", runErr)
	}
}

// buildScene lays out n*n cubes on a grid, alternating two materials so
// the pipeline is rebound along the way.
func buildScene(e *gfx.Engine, n int) (*gfx.Scene, error) {
	cube, err := e.UploadMesh("cube", geom.Cube())
	if err != nil {
		return nil, err
	}
	layout, err := e.Materials().CreateLayout("basic", "basic.vert.spv", "basic.frag.spv")
	if err != nil {
		return nil, err
	}
	if err := layout.Finalize(); err != nil {
		return nil, err
	}
	var mats [2]*material.Material
	for i, name := range []string{"matte", "glossy"} {
		m, err := e.Materials().CreateMaterial(name, layout)
		if err != nil {
			return nil, err
		}
		if err := m.Finalize(); err != nil {
			return nil, err
		}
		mats[i] = m
	}

	scene := &gfx.Scene{Camera: gfx.Camera{
		Position:  mgl32.Vec3{0, float32(n), float32(n) * 2},
		Direction: mgl32.Vec3{0, -0.5, -1},
	}}
	offset := float32(n-1) * 1.5 / 2
	for i := range n * n {
		x, z := float32(i%n)*1.5-offset, float32(i/n)*1.5-offset
		model := mgl32.Translate3D(x, 0, -z).Mul4(mgl32.HomogRotate3DY(float32(i) * 0.3))
		scene.Objects = append(scene.Objects, gfx.RenderObject{
			Mesh:      cube,
			Material:  mats[i%2],
			Transform: model,
		})
	}
	return scene, nil
}
