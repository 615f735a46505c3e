// Package geom holds the CPU-side layouts the engine uploads to the GPU:
// vertices, per-frame camera data and per-object data.
package geom

import (
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/gfx/driver"
)

// Vertex is one mesh vertex as laid out in a vertex buffer.
type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Color    mgl32.Vec3
	UV       mgl32.Vec2
}

// VertexStride is the size of an encoded Vertex.
const VertexStride = 44

// Attribute offsets inside a Vertex.
const (
	offsetPosition = 0
	offsetNormal   = 12
	offsetColor    = 24
	offsetUV       = 36
)

// VertexInput describes Vertex to a pipeline: one per-vertex binding at 0
// and attributes at locations 0 to 3.
func VertexInput() ([]driver.VertexBinding, []driver.VertexAttribute) {
	bindings := []driver.VertexBinding{{Binding: 0, Stride: VertexStride}}
	attrs := []driver.VertexAttribute{
		{Location: 0, Binding: 0, Format: driver.FormatR32G32B32Sfloat, Offset: offsetPosition},
		{Location: 1, Binding: 0, Format: driver.FormatR32G32B32Sfloat, Offset: offsetNormal},
		{Location: 2, Binding: 0, Format: driver.FormatR32G32B32Sfloat, Offset: offsetColor},
		{Location: 3, Binding: 0, Format: driver.FormatR32G32Sfloat, Offset: offsetUV},
	}
	return bindings, attrs
}

// EncodeVertices returns the little-endian vertex buffer contents.
func EncodeVertices(vs []Vertex) []byte {
	buf := make([]byte, 0, len(vs)*VertexStride)
	for i := range vs {
		buf, _ = binary.Append(buf, binary.LittleEndian, &vs[i])
	}
	return buf
}
