package render

import (
	"time"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"

	"vulkan-lifetime/unsafer"
)

// UniformBufferObject is the per frame uniform block read by the vertex
// shader at binding 0.
type UniformBufferObject struct {
	Model linmath.Mat4x4
	View  linmath.Mat4x4
	Proj  linmath.Mat4x4
}

// UniformSize is the size of UniformBufferObject in bytes.
const UniformSize = vk.DeviceSize(unsafe.Sizeof(UniformBufferObject{}))

// NewUniformBufferObject returns the transforms for a model spinning around
// the Z axis at one radian per second, seen from (2, 2, 2).
func NewUniformBufferObject(elapsed time.Duration, extent vk.Extent2D) UniformBufferObject {
	ubo := UniformBufferObject{}

	ubo.Model.Identity()
	ubo.Model.RotateZ(&ubo.Model, float32(elapsed.Seconds()))
	ubo.View.LookAt(
		&linmath.Vec3{2, 2, 2},
		&linmath.Vec3{0, 0, 0},
		&linmath.Vec3{0, 0, 1},
	)

	aspectR := float32(1)
	if extent.Height != 0 {
		aspectR = float32(extent.Width) / float32(extent.Height)
	}
	ubo.Proj.Perspective(45, aspectR, 0.1, 10)

	// Clip space Y points down.
	ubo.Proj[1][1] *= -1

	return ubo
}

// WriteUniform copies ubo into the frame's mapped uniform buffer.
func (f *DrawingFrame) WriteUniform(ubo *UniformBufferObject) error {
	return f.uniform.Write(unsafer.StructToBytes(ubo))
}
