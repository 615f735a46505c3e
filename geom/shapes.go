package geom

import "github.com/go-gl/mathgl/mgl32"

// Triangle returns a single colored triangle in the XY plane.
func Triangle() []Vertex {
	n := mgl32.Vec3{0, 0, 1}
	return []Vertex{
		{Position: mgl32.Vec3{1, 1, 0}, Normal: n, Color: mgl32.Vec3{1, 0, 0}, UV: mgl32.Vec2{1, 1}},
		{Position: mgl32.Vec3{-1, 1, 0}, Normal: n, Color: mgl32.Vec3{0, 1, 0}, UV: mgl32.Vec2{0, 1}},
		{Position: mgl32.Vec3{0, -1, 0}, Normal: n, Color: mgl32.Vec3{0, 0, 1}, UV: mgl32.Vec2{0.5, 0}},
	}
}

// Quad returns a unit quad in the XY plane as two triangles.
func Quad() []Vertex {
	n := mgl32.Vec3{0, 0, 1}
	white := mgl32.Vec3{1, 1, 1}
	v := func(x, y, u, w float32) Vertex {
		return Vertex{Position: mgl32.Vec3{x, y, 0}, Normal: n, Color: white, UV: mgl32.Vec2{u, w}}
	}
	return []Vertex{
		v(-0.5, -0.5, 0, 0), v(0.5, -0.5, 1, 0), v(0.5, 0.5, 1, 1),
		v(-0.5, -0.5, 0, 0), v(0.5, 0.5, 1, 1), v(-0.5, 0.5, 0, 1),
	}
}

// Cube returns a unit cube centered on the origin, 36 vertices with
// per-face normals and colors.
func Cube() []Vertex {
	faces := []struct {
		normal, u, v mgl32.Vec3
	}{
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
	}
	out := make([]Vertex, 0, 36)
	for _, f := range faces {
		center := f.normal.Mul(0.5)
		color := f.normal.Add(mgl32.Vec3{1, 1, 1}).Mul(0.5)
		corner := func(su, sv float32) Vertex {
			p := center.Add(f.u.Mul(su * 0.5)).Add(f.v.Mul(sv * 0.5))
			return Vertex{Position: p, Normal: f.normal, Color: color, UV: mgl32.Vec2{(su + 1) / 2, (sv + 1) / 2}}
		}
		a, b, c, d := corner(-1, -1), corner(1, -1), corner(1, 1), corner(-1, 1)
		out = append(out, a, b, c, a, c, d)
	}
	return out
}
