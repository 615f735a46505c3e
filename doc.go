// Package gfx is a real-time 3D renderer that keeps several frames in
// flight on an explicit GPU API.
//
// # Overview
//
// An Engine owns one logical device and everything rendered with it: the
// swapchain, per-frame synchronization, the material registry and the
// uploaded meshes and textures. Every GPU object is registered in a
// deletion queue when created, and Close destroys them in reverse order
// and reports anything left behind.
//
// # Quick Start
//
//	e, err := gfx.New(window, gfx.WithShaderDir("shaders"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	mesh, _ := e.UploadMesh("cube", geom.Cube())
//	layout, _ := e.Materials().CreateLayout("basic", "basic.vert.spv", "basic.frag.spv")
//	_ = layout.Finalize()
//	mat, _ := e.Materials().CreateMaterial("basic", layout)
//	_ = mat.Finalize()
//
//	scene := &gfx.Scene{
//	    Camera:  gfx.Camera{Position: mgl32.Vec3{0, 0, 5}, FovY: 45, Near: 0.1, Far: 100},
//	    Objects: []gfx.RenderObject{{Mesh: mesh, Material: mat, Transform: mgl32.Ident4()}},
//	}
//	err = e.Run(ctx, scene, 0)
//
// # Frames in flight
//
// With N frames in flight, frame f records into slot f mod N. A slot's
// command buffer and its region of the per-frame buffers are reused only
// after the slot's fence shows the GPU finished the frame that last used
// it.
//
// # Backends
//
// Backends register themselves with package driver. Import
// github.com/gogpu/gfx/driver/vulkan for hardware rendering or
// github.com/gogpu/gfx/driver/soft for the in-memory validating backend
// used by tests and headless runs.
//
// # Errors
//
// Errors carry a category from package gpuerr. Descriptor exhaustion and
// asset load failures are recoverable; Run skips a frame on those and
// stops on anything else, including synchronization timeouts.
package gfx
