// Package driver is the native graphics API surface the renderer is written
// against. Every creation call maps one to one to a Vulkan entry point and
// takes the same structured create info. Query results are returned already
// dereferenced so callers can read their fields directly.
//
// Vulkan is the production implementation. Tests use drivertest.Fake.
package driver

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Driver is the set of Vulkan calls used by this module.
type Driver interface {
	InstanceDriver
	DeviceDriver
	MemoryDriver
	CommandDriver
	SyncDriver
	SwapchainDriver
	PipelineDriver
}

// InstanceDriver covers the instance and physical device level.
type InstanceDriver interface {
	CreateInstance(info *vk.InstanceCreateInfo) (vk.Instance, error)
	DestroyInstance(instance vk.Instance)
	DestroySurface(instance vk.Instance, surface vk.Surface)

	EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error)
	PhysicalDeviceProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceProperties
	PhysicalDeviceFeatures(pd vk.PhysicalDevice) vk.PhysicalDeviceFeatures
	QueueFamilyProperties(pd vk.PhysicalDevice) []vk.QueueFamilyProperties
	SurfaceSupport(pd vk.PhysicalDevice, family uint32, surface vk.Surface) (bool, error)
	DeviceExtensions(pd vk.PhysicalDevice) ([]string, error)
	MemoryProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties
	FormatProperties(pd vk.PhysicalDevice, format vk.Format) vk.FormatProperties
}

// DeviceDriver covers logical device lifetime and queue retrieval.
type DeviceDriver interface {
	CreateDevice(pd vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, error)
	DestroyDevice(device vk.Device)
	GetQueue(device vk.Device, family, index uint32) vk.Queue
	DeviceWaitIdle(device vk.Device) error
	QueueWaitIdle(queue vk.Queue) error
}

// MemoryDriver covers buffers, images and the memory backing them.
type MemoryDriver interface {
	CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error)
	DestroyBuffer(device vk.Device, buffer vk.Buffer)
	BufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements

	CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error)
	DestroyImage(device vk.Device, image vk.Image)
	ImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements

	AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error)
	FreeMemory(device vk.Device, memory vk.DeviceMemory)
	BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error
	BindImageMemory(device vk.Device, image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error
	MapMemory(device vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error)
	UnmapMemory(device vk.Device, memory vk.DeviceMemory)

	CreateImageView(device vk.Device, info *vk.ImageViewCreateInfo) (vk.ImageView, error)
	DestroyImageView(device vk.Device, view vk.ImageView)
	CreateSampler(device vk.Device, info *vk.SamplerCreateInfo) (vk.Sampler, error)
	DestroySampler(device vk.Device, sampler vk.Sampler)
}

// CommandDriver covers command pools, buffers and recording.
type CommandDriver interface {
	CreateCommandPool(device vk.Device, info *vk.CommandPoolCreateInfo) (vk.CommandPool, error)
	DestroyCommandPool(device vk.Device, pool vk.CommandPool)
	AllocateCommandBuffers(device vk.Device, info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, error)
	FreeCommandBuffers(device vk.Device, pool vk.CommandPool, buffers []vk.CommandBuffer)

	BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error
	EndCommandBuffer(cb vk.CommandBuffer) error
	ResetCommandBuffer(cb vk.CommandBuffer) error

	CmdPipelineBarrier(cb vk.CommandBuffer, src, dst vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier)
	CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy)
	CmdCopyBufferToImage(cb vk.CommandBuffer, src vk.Buffer, dst vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy)
	CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo)
	CmdEndRenderPass(cb vk.CommandBuffer)
	CmdBindPipeline(cb vk.CommandBuffer, pipeline vk.Pipeline)
	CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport)
	CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D)
	CmdBindDescriptorSets(cb vk.CommandBuffer, layout vk.PipelineLayout, sets []vk.DescriptorSet)
	CmdBindVertexBuffers(cb vk.CommandBuffer, buffers []vk.Buffer, offsets []vk.DeviceSize)
	CmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, indexType vk.IndexType)
	CmdDrawIndexed(cb vk.CommandBuffer, indexCount uint32)
}

// SyncDriver covers fences, semaphores and queue submission.
type SyncDriver interface {
	CreateFence(device vk.Device, info *vk.FenceCreateInfo) (vk.Fence, error)
	DestroyFence(device vk.Device, fence vk.Fence)
	// WaitForFence returns vk.Success, vk.Timeout or an error result.
	WaitForFence(device vk.Device, fence vk.Fence, timeout uint64) vk.Result
	ResetFence(device vk.Device, fence vk.Fence) error

	CreateSemaphore(device vk.Device, info *vk.SemaphoreCreateInfo) (vk.Semaphore, error)
	DestroySemaphore(device vk.Device, semaphore vk.Semaphore)

	QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error
}

// SwapchainDriver covers the surface queries, the swapchain and its
// framebuffers. Acquire and present return the raw result because several
// non-success results are expected control flow.
type SwapchainDriver interface {
	SurfaceCapabilities(pd vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, error)
	SurfaceFormats(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error)
	SurfacePresentModes(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, error)

	CreateSwapchain(device vk.Device, info *vk.SwapchainCreateInfo) (vk.Swapchain, error)
	DestroySwapchain(device vk.Device, swapchain vk.Swapchain)
	SwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error)
	AcquireNextImage(device vk.Device, swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore) (uint32, vk.Result)
	QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result

	CreateFramebuffer(device vk.Device, info *vk.FramebufferCreateInfo) (vk.Framebuffer, error)
	DestroyFramebuffer(device vk.Device, framebuffer vk.Framebuffer)
}

// PipelineDriver covers render passes, layouts, pipelines and descriptors.
type PipelineDriver interface {
	CreateRenderPass(device vk.Device, info *vk.RenderPassCreateInfo) (vk.RenderPass, error)
	DestroyRenderPass(device vk.Device, renderPass vk.RenderPass)
	CreateShaderModule(device vk.Device, info *vk.ShaderModuleCreateInfo) (vk.ShaderModule, error)
	DestroyShaderModule(device vk.Device, module vk.ShaderModule)
	CreateDescriptorSetLayout(device vk.Device, info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(device vk.Device, layout vk.DescriptorSetLayout)
	CreatePipelineLayout(device vk.Device, info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, error)
	DestroyPipelineLayout(device vk.Device, layout vk.PipelineLayout)
	CreateGraphicsPipeline(device vk.Device, info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error)
	DestroyPipeline(device vk.Device, pipeline vk.Pipeline)

	CreateDescriptorPool(device vk.Device, info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error)
	DestroyDescriptorPool(device vk.Device, pool vk.DescriptorPool)
	AllocateDescriptorSets(device vk.Device, info *vk.DescriptorSetAllocateInfo) ([]vk.DescriptorSet, error)
	UpdateDescriptorSets(device vk.Device, writes []vk.WriteDescriptorSet)
}
