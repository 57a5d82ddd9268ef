package geometry

import (
	"errors"
	"fmt"
	"io"

	"github.com/mokiat/go-data-front/decoder/obj"
	"github.com/xlab/linmath"
)

// ErrEmptyModel is returned for models without a single triangle.
var ErrEmptyModel = errors.New("model has no faces")

// FromOBJ decodes a Wavefront OBJ model into a single mesh. Identical
// vertices are shared, polygons are split into triangle fans and texture
// coordinates are flipped vertically to match Vulkan's image origin.
func FromOBJ(r io.Reader) (Mesh, error) {
	decoder := obj.NewDecoder(obj.DefaultLimits())
	model, err := decoder.Decode(r)
	if err != nil {
		return Mesh{}, fmt.Errorf("decoding obj: %w", err)
	}

	var (
		mesh   Mesh
		unique = make(map[Vertex]uint32)
	)

	vertexFor := func(ref obj.Reference) uint32 {
		pos := model.GetVertexFromReference(ref)

		v := Vertex{
			Pos:   linmath.Vec3{float32(pos.X), float32(pos.Y), float32(pos.Z)},
			Color: linmath.Vec3{1, 1, 1},
		}
		if ref.HasTexCoord() {
			tc := model.GetTexCoordFromReference(ref)
			v.TexCoord = linmath.Vec2{float32(tc.U), 1 - float32(tc.V)}
		}

		if idx, ok := unique[v]; ok {
			return idx
		}
		idx := uint32(len(mesh.Vertices))
		unique[v] = idx
		mesh.Vertices = append(mesh.Vertices, v)
		return idx
	}

	for _, object := range model.Objects {
		for _, m := range object.Meshes {
			for _, face := range m.Faces {
				refs := face.References
				if len(refs) < 3 {
					continue
				}

				first := vertexFor(refs[0])
				prev := vertexFor(refs[1])
				for _, ref := range refs[2:] {
					cur := vertexFor(ref)
					mesh.Indices = append(mesh.Indices, first, prev, cur)
					prev = cur
				}
			}
		}
	}

	if mesh.Empty() {
		return Mesh{}, ErrEmptyModel
	}
	return mesh, nil
}
