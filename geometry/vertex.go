// Package geometry holds the vertex layout the graphics pipeline consumes and
// the meshes drawn with it.
package geometry

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"
)

// Vertex is one point of a mesh as the vertex shader reads it.
type Vertex struct {
	Pos      linmath.Vec3
	Color    linmath.Vec3
	TexCoord linmath.Vec2
}

// VertexSize is the stride between two vertices in a vertex buffer.
func VertexSize() uint32 {
	return uint32(unsafe.Sizeof(Vertex{}))
}

// BindingDescription describes the single interleaved vertex buffer.
func BindingDescription() vk.VertexInputBindingDescription {
	return vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    VertexSize(),
		InputRate: vk.VertexInputRateVertex,
	}
}

// AttributeDescriptions returns the shader locations of position, color and
// texture coordinate in that order.
func AttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Pos)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.TexCoord)),
		},
	}
}
