package render

import (
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver"
	"vulkan-lifetime/handle"
)

// Device is the logical device together with the driver which created it.
// Every device level handle is owned by a Device.
type Device struct {
	driver.Driver
	Handle vk.Device
}

// Owned device level handles.
type (
	OwnedBuffer         = handle.Owned[vk.Buffer, Device]
	OwnedMemory         = handle.Owned[vk.DeviceMemory, Device]
	OwnedImage          = handle.Owned[vk.Image, Device]
	OwnedImageView      = handle.Owned[vk.ImageView, Device]
	OwnedSampler        = handle.Owned[vk.Sampler, Device]
	OwnedFence          = handle.Owned[vk.Fence, Device]
	OwnedSemaphore      = handle.Owned[vk.Semaphore, Device]
	OwnedCommandPool    = handle.Owned[vk.CommandPool, Device]
	OwnedSwapchain      = handle.Owned[vk.Swapchain, Device]
	OwnedFramebuffer    = handle.Owned[vk.Framebuffer, Device]
	OwnedRenderPass     = handle.Owned[vk.RenderPass, Device]
	OwnedShaderModule   = handle.Owned[vk.ShaderModule, Device]
	OwnedSetLayout      = handle.Owned[vk.DescriptorSetLayout, Device]
	OwnedPipelineLayout = handle.Owned[vk.PipelineLayout, Device]
	OwnedPipeline       = handle.Owned[vk.Pipeline, Device]
	OwnedDescriptorPool = handle.Owned[vk.DescriptorPool, Device]
)

func destroyBuffer(h vk.Buffer, d Device) {
	d.DestroyBuffer(d.Handle, h)
}

func freeMemory(h vk.DeviceMemory, d Device) {
	d.FreeMemory(d.Handle, h)
}

func destroyImage(h vk.Image, d Device) {
	d.DestroyImage(d.Handle, h)
}

func destroyImageView(h vk.ImageView, d Device) {
	d.DestroyImageView(d.Handle, h)
}

func destroySampler(h vk.Sampler, d Device) {
	d.DestroySampler(d.Handle, h)
}

func destroyFence(h vk.Fence, d Device) {
	d.DestroyFence(d.Handle, h)
}

func destroySemaphore(h vk.Semaphore, d Device) {
	d.DestroySemaphore(d.Handle, h)
}

func destroyCommandPool(h vk.CommandPool, d Device) {
	d.DestroyCommandPool(d.Handle, h)
}

func destroySwapchain(h vk.Swapchain, d Device) {
	d.DestroySwapchain(d.Handle, h)
}

func destroyFramebuffer(h vk.Framebuffer, d Device) {
	d.DestroyFramebuffer(d.Handle, h)
}

func destroyRenderPass(h vk.RenderPass, d Device) {
	d.DestroyRenderPass(d.Handle, h)
}

func destroyShaderModule(h vk.ShaderModule, d Device) {
	d.DestroyShaderModule(d.Handle, h)
}

func destroySetLayout(h vk.DescriptorSetLayout, d Device) {
	d.DestroyDescriptorSetLayout(d.Handle, h)
}

func destroyPipelineLayout(h vk.PipelineLayout, d Device) {
	d.DestroyPipelineLayout(d.Handle, h)
}

func destroyPipeline(h vk.Pipeline, d Device) {
	d.DestroyPipeline(d.Handle, h)
}

func destroyDescriptorPool(h vk.DescriptorPool, d Device) {
	d.DestroyDescriptorPool(d.Handle, h)
}
