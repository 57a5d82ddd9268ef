package queues

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver"
	"vulkan-lifetime/optional"
)

// FamilyIndices holds the indexes of Vulkan queue families needed by the renderer.
type FamilyIndices struct {

	// Graphics is the index of the graphics queue family.
	Graphics optional.Optional[uint32]

	// Present is the index of the queue family used for presenting to the drawing
	// surface.
	Present optional.Optional[uint32]
}

// IsComplete returns true if all families have been set.
func (f *FamilyIndices) IsComplete() bool {
	return f.Graphics.HasValue() && f.Present.HasValue()
}

// Unique returns the distinct family indices, graphics first. Device creation
// needs exactly one queue create info per family.
func (f *FamilyIndices) Unique() []uint32 {
	var out []uint32
	if f.Graphics.HasValue() {
		out = append(out, f.Graphics.Get())
	}
	if f.Present.HasValue() && (len(out) == 0 || out[0] != f.Present.Get()) {
		out = append(out, f.Present.Get())
	}
	return out
}

// Find looks for graphics and present capable queue families on pd. A family
// which can do both is preferred so that the swapchain images need not be
// shared between queues.
func Find(
	drv driver.InstanceDriver,
	pd vk.PhysicalDevice,
	surface vk.Surface,
) (FamilyIndices, error) {
	var indices FamilyIndices

	queueFamilies := drv.QueueFamilyProperties(pd)
	for i, family := range queueFamilies {
		index := uint32(i)

		graphics := family.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		present, err := drv.SurfaceSupport(pd, index, surface)
		if err != nil {
			return indices, fmt.Errorf("surface support of family %d: %w", index, err)
		}

		if graphics && present {
			indices.Graphics.Set(index)
			indices.Present.Set(index)
			break
		}

		if graphics && !indices.Graphics.HasValue() {
			indices.Graphics.Set(index)
		}
		if present && !indices.Present.HasValue() {
			indices.Present.Set(index)
		}
	}

	return indices, nil
}
