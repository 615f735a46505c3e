package gfx

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/material"
	"github.com/gogpu/gfx/memory"
)

// Vertex is the vertex layout of every mesh: position, normal and color
// followed by texture coordinates, 44 bytes per vertex.
type Vertex = geom.Vertex

// Camera is the viewer of a scene.
type Camera = geom.Camera

// Mesh is an immutable vertex list uploaded to device-local memory.
type Mesh struct {
	name     string
	vertices []Vertex
	buffer   memory.AllocatedBuffer
}

// Name returns the name the mesh was uploaded under.
func (m *Mesh) Name() string { return m.name }

// Vertices returns the CPU copy of the vertices. It must not be modified.
func (m *Mesh) Vertices() []Vertex { return m.vertices }

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() uint32 { return uint32(len(m.vertices)) }

// Buffer returns the device-local vertex buffer.
func (m *Mesh) Buffer() driver.Buffer { return m.buffer.Buffer }

// Texture is an image uploaded for sampling.
type Texture struct {
	name  string
	image memory.AllocatedImage
}

// Name returns the name the texture was uploaded under.
func (t *Texture) Name() string { return t.name }

// View returns the view materials bind.
func (t *Texture) View() driver.ImageView { return t.image.View }

// Extent returns the texture size.
func (t *Texture) Extent() driver.Extent2D {
	return driver.Extent2D{Width: t.image.Extent.Width, Height: t.image.Extent.Height}
}

// RenderObject is one mesh drawn with a material at a transform.
type RenderObject struct {
	Mesh      *Mesh
	Material  *material.Material
	Transform mgl32.Mat4
}

// Scene is what one frame draws. Objects sharing a mesh or material
// should be adjacent so the engine can skip rebinding.
type Scene struct {
	Camera  Camera
	Objects []RenderObject
}
