package geometry

import (
	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"

	"vulkan-lifetime/unsafer"
)

// Mesh is an indexed triangle list.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// IndexType is the index format of every Mesh.
const IndexType = vk.IndexTypeUint32

// IndexCount is the number of indices DrawIndexed needs for m.
func (m Mesh) IndexCount() uint32 {
	return uint32(len(m.Indices))
}

// VertexBytes returns the vertex data as it is uploaded. The slice aliases
// m.Vertices.
func (m Mesh) VertexBytes() []byte {
	return unsafer.SliceToBytes(m.Vertices)
}

// IndexBytes returns the index data as it is uploaded. The slice aliases
// m.Indices.
func (m Mesh) IndexBytes() []byte {
	return unsafer.SliceToBytes(m.Indices)
}

// Empty reports whether there is nothing to draw.
func (m Mesh) Empty() bool {
	return len(m.Vertices) == 0 || len(m.Indices) == 0
}

// Triangle is a single colored triangle in the z = 0 plane.
func Triangle() Mesh {
	return Mesh{
		Vertices: []Vertex{
			{Pos: linmath.Vec3{0.0, -0.5, 0}, Color: linmath.Vec3{1, 0, 0}, TexCoord: linmath.Vec2{0.5, 0}},
			{Pos: linmath.Vec3{0.5, 0.5, 0}, Color: linmath.Vec3{0, 1, 0}, TexCoord: linmath.Vec2{1, 1}},
			{Pos: linmath.Vec3{-0.5, 0.5, 0}, Color: linmath.Vec3{0, 0, 1}, TexCoord: linmath.Vec2{0, 1}},
		},
		Indices: []uint32{0, 1, 2},
	}
}

// Quad is a textured unit square at height z.
func Quad(z float32) Mesh {
	return Mesh{
		Vertices: []Vertex{
			{Pos: linmath.Vec3{-0.5, -0.5, z}, Color: linmath.Vec3{1, 0, 0}, TexCoord: linmath.Vec2{1, 0}},
			{Pos: linmath.Vec3{0.5, -0.5, z}, Color: linmath.Vec3{0, 1, 0}, TexCoord: linmath.Vec2{0, 0}},
			{Pos: linmath.Vec3{0.5, 0.5, z}, Color: linmath.Vec3{0, 0, 1}, TexCoord: linmath.Vec2{0, 1}},
			{Pos: linmath.Vec3{-0.5, 0.5, z}, Color: linmath.Vec3{1, 1, 1}, TexCoord: linmath.Vec2{1, 1}},
		},
		Indices: []uint32{0, 1, 2, 2, 3, 0},
	}
}

// Combine concatenates meshes into one so they share a vertex and an index
// buffer. Indices of every mesh after the first are rebased onto its
// vertices.
func Combine(meshes ...Mesh) Mesh {
	var out Mesh
	for _, m := range meshes {
		base := uint32(len(out.Vertices))
		out.Vertices = append(out.Vertices, m.Vertices...)
		for _, idx := range m.Indices {
			out.Indices = append(out.Indices, base+idx)
		}
	}
	return out
}
