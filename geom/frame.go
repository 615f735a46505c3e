package geom

import (
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"
)

// Encoded sizes of the uniform and storage buffer records.
const (
	GlobalDataSize = 3*16 + 4*64
	ObjectDataSize = 2 * 64
)

// Camera defaults.
const (
	DefaultFovY = 70
	DefaultNear = 0.01
	DefaultFar  = 200
)

// Camera is the viewer of a frame. Zero FovY, Near and Far take the
// defaults above; a zero Direction looks down -Z.
type Camera struct {
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Aspect    float32
	FovY      float32 // degrees
	Near, Far float32
}

func (c Camera) direction() mgl32.Vec3 {
	if c.Direction.Len() == 0 {
		return mgl32.Vec3{0, 0, -1}
	}
	return c.Direction.Normalize()
}

// View returns the world-to-view matrix.
func (c Camera) View() mgl32.Mat4 {
	dir := c.direction()
	up := mgl32.Vec3{0, 1, 0}
	if abs(dir.Dot(up)) > 0.999 {
		up = mgl32.Vec3{0, 0, 1}
	}
	return mgl32.LookAtV(c.Position, c.Position.Add(dir), up)
}

// Projection returns a perspective projection with Y flipped for Vulkan's
// clip space.
func (c Camera) Projection() mgl32.Mat4 {
	fov, near, far, aspect := c.FovY, c.Near, c.Far, c.Aspect
	if fov == 0 {
		fov = DefaultFovY
	}
	if near == 0 {
		near = DefaultNear
	}
	if far == 0 {
		far = DefaultFar
	}
	if aspect == 0 {
		aspect = 1
	}
	proj := mgl32.Perspective(mgl32.DegToRad(fov), aspect, near, far)
	proj.Set(1, 1, -proj.At(1, 1))
	return proj
}

// inverseProjection inverts a perspective matrix from its five non-zero
// terms. A general 4x4 inverse of viewProj loses most of its float32
// precision at small near planes.
func inverseProjection(p mgl32.Mat4) mgl32.Mat4 {
	c, d, w := p.At(2, 2), p.At(2, 3), p.At(3, 2)
	var inv mgl32.Mat4
	inv.Set(0, 0, 1/p.At(0, 0))
	inv.Set(1, 1, 1/p.At(1, 1))
	inv.Set(2, 3, 1/w)
	inv.Set(3, 2, 1/d)
	inv.Set(3, 3, -c/(d*w))
	return inv
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// GlobalData is the per-frame uniform block shared by every draw.
type GlobalData struct {
	CameraPos   mgl32.Vec4
	Aspect      mgl32.Vec4
	CameraDir   mgl32.Vec4
	View        mgl32.Mat4
	Proj        mgl32.Mat4
	ViewProj    mgl32.Mat4
	InvViewProj mgl32.Mat4
}

// NewGlobalData derives the frame uniforms from c.
func NewGlobalData(c Camera) GlobalData {
	view := c.View()
	proj := c.Projection()
	viewProj := proj.Mul4(view)
	dir := c.direction()
	return GlobalData{
		CameraPos:   c.Position.Vec4(0),
		Aspect:      mgl32.Vec4{c.Aspect, 0, 0, 0},
		CameraDir:   dir.Vec4(0),
		View:        view,
		Proj:        proj,
		ViewProj:    viewProj,
		InvViewProj: view.Inv().Mul4(inverseProjection(proj)),
	}
}

// Bytes returns the std140 encoding of g.
func (g *GlobalData) Bytes() []byte {
	buf, _ := binary.Append(make([]byte, 0, GlobalDataSize), binary.LittleEndian, g)
	return buf
}

// ObjectData is the per-object storage buffer record.
type ObjectData struct {
	Model        mgl32.Mat4
	InverseModel mgl32.Mat4
}

// NewObjectData derives the object record from a model matrix.
func NewObjectData(model mgl32.Mat4) ObjectData {
	return ObjectData{Model: model, InverseModel: model.Inv()}
}

// AppendBytes appends the std430 encoding of o to buf.
func (o *ObjectData) AppendBytes(buf []byte) []byte {
	buf, _ = binary.Append(buf, binary.LittleEndian, o)
	return buf
}
