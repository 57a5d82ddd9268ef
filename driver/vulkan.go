package driver

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Vulkan implements Driver on top of the vulkan-go bindings.
type Vulkan struct{}

var _ Driver = (*Vulkan)(nil)

// NewVulkan loads the Vulkan loader through getInstanceProcAddr, which is
// usually what glfw.GetVulkanGetInstanceProcAddress returns.
func NewVulkan(getInstanceProcAddr unsafe.Pointer) (*Vulkan, error) {
	vk.SetGetInstanceProcAddr(getInstanceProcAddr)

	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("failed to init Vulkan Go: %w", err)
	}

	return &Vulkan{}, nil
}

func (v *Vulkan) CreateInstance(info *vk.InstanceCreateInfo) (vk.Instance, error) {
	var instance vk.Instance
	if err := NewError(vk.CreateInstance(info, nil, &instance)); err != nil {
		return nil, err
	}

	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, fmt.Errorf("loading instance functions: %w", err)
	}

	return instance, nil
}

func (v *Vulkan) DestroyInstance(instance vk.Instance) {
	vk.DestroyInstance(instance, nil)
}

func (v *Vulkan) DestroySurface(instance vk.Instance, surface vk.Surface) {
	vk.DestroySurface(instance, surface, nil)
}

func (v *Vulkan) EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := NewError(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)); err != nil {
		return nil, err
	}
	if deviceCount == 0 {
		return nil, nil
	}

	devices := make([]vk.PhysicalDevice, deviceCount)
	if err := NewError(vk.EnumeratePhysicalDevices(instance, &deviceCount, devices)); err != nil {
		return nil, err
	}

	return devices[:deviceCount], nil
}

func (v *Vulkan) PhysicalDeviceProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceProperties {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &properties)
	properties.Deref()
	properties.Limits.Deref()
	return properties
}

func (v *Vulkan) PhysicalDeviceFeatures(pd vk.PhysicalDevice) vk.PhysicalDeviceFeatures {
	var supportedFeatures vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(pd, &supportedFeatures)
	supportedFeatures.Deref()
	return supportedFeatures
}

func (v *Vulkan) QueueFamilyProperties(pd vk.PhysicalDevice) []vk.QueueFamilyProperties {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, nil)

	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, queueFamilies)

	for i := range queueFamilies {
		queueFamilies[i].Deref()
	}
	return queueFamilies
}

func (v *Vulkan) SurfaceSupport(
	pd vk.PhysicalDevice,
	family uint32,
	surface vk.Surface,
) (bool, error) {
	var hasPresent vk.Bool32
	err := NewError(vk.GetPhysicalDeviceSurfaceSupport(pd, family, surface, &hasPresent))
	if err != nil {
		return false, err
	}
	return hasPresent.B(), nil
}

func (v *Vulkan) DeviceExtensions(pd vk.PhysicalDevice) ([]string, error) {
	var extensionsCount uint32
	res := vk.EnumerateDeviceExtensionProperties(pd, "", &extensionsCount, nil)
	if err := NewError(res); err != nil {
		return nil, err
	}

	availableExtensions := make([]vk.ExtensionProperties, extensionsCount)
	res = vk.EnumerateDeviceExtensionProperties(pd, "", &extensionsCount, availableExtensions)
	if err := NewError(res); err != nil {
		return nil, err
	}

	names := make([]string, 0, extensionsCount)
	for _, extension := range availableExtensions {
		extension.Deref()
		names = append(names, vk.ToString(extension.ExtensionName[:]))
	}
	return names, nil
}

func (v *Vulkan) MemoryProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memProperties)
	memProperties.Deref()

	for i := uint32(0); i < memProperties.MemoryTypeCount; i++ {
		memProperties.MemoryTypes[i].Deref()
	}
	for i := uint32(0); i < memProperties.MemoryHeapCount; i++ {
		memProperties.MemoryHeaps[i].Deref()
	}
	return memProperties
}

func (v *Vulkan) FormatProperties(pd vk.PhysicalDevice, format vk.Format) vk.FormatProperties {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(pd, format, &props)
	props.Deref()
	return props
}

func (v *Vulkan) CreateDevice(pd vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, error) {
	var device vk.Device
	if err := NewError(vk.CreateDevice(pd, info, nil, &device)); err != nil {
		return nil, err
	}
	return device, nil
}

func (v *Vulkan) DestroyDevice(device vk.Device) {
	vk.DestroyDevice(device, nil)
}

func (v *Vulkan) GetQueue(device vk.Device, family, index uint32) vk.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(device, family, index, &queue)
	return queue
}

func (v *Vulkan) DeviceWaitIdle(device vk.Device) error {
	return NewError(vk.DeviceWaitIdle(device))
}

func (v *Vulkan) QueueWaitIdle(queue vk.Queue) error {
	return NewError(vk.QueueWaitIdle(queue))
}

func (v *Vulkan) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error) {
	var buffer vk.Buffer
	if err := NewError(vk.CreateBuffer(device, info, nil, &buffer)); err != nil {
		return vk.NullBuffer, err
	}
	return buffer, nil
}

func (v *Vulkan) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	vk.DestroyBuffer(device, buffer, nil)
}

func (v *Vulkan) BufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &memRequirements)
	memRequirements.Deref()
	return memRequirements
}

func (v *Vulkan) CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error) {
	var image vk.Image
	if err := NewError(vk.CreateImage(device, info, nil, &image)); err != nil {
		return vk.NullImage, err
	}
	return image, nil
}

func (v *Vulkan) DestroyImage(device vk.Device, image vk.Image) {
	vk.DestroyImage(device, image, nil)
}

func (v *Vulkan) ImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements {
	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image, &memRequirements)
	memRequirements.Deref()
	return memRequirements
}

func (v *Vulkan) AllocateMemory(
	device vk.Device,
	info *vk.MemoryAllocateInfo,
) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	if err := NewError(vk.AllocateMemory(device, info, nil, &memory)); err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}

func (v *Vulkan) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.FreeMemory(device, memory, nil)
}

func (v *Vulkan) BindBufferMemory(
	device vk.Device,
	buffer vk.Buffer,
	memory vk.DeviceMemory,
	offset vk.DeviceSize,
) error {
	return NewError(vk.BindBufferMemory(device, buffer, memory, offset))
}

func (v *Vulkan) BindImageMemory(
	device vk.Device,
	image vk.Image,
	memory vk.DeviceMemory,
	offset vk.DeviceSize,
) error {
	return NewError(vk.BindImageMemory(device, image, memory, offset))
}

func (v *Vulkan) MapMemory(
	device vk.Device,
	memory vk.DeviceMemory,
	offset, size vk.DeviceSize,
) (unsafe.Pointer, error) {
	var pData unsafe.Pointer
	if err := NewError(vk.MapMemory(device, memory, offset, size, 0, &pData)); err != nil {
		return nil, err
	}
	return pData, nil
}

func (v *Vulkan) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.UnmapMemory(device, memory)
}

func (v *Vulkan) CreateImageView(device vk.Device, info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	var imageView vk.ImageView
	if err := NewError(vk.CreateImageView(device, info, nil, &imageView)); err != nil {
		return vk.NullImageView, err
	}
	return imageView, nil
}

func (v *Vulkan) DestroyImageView(device vk.Device, view vk.ImageView) {
	vk.DestroyImageView(device, view, nil)
}

func (v *Vulkan) CreateSampler(device vk.Device, info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	var sampler vk.Sampler
	if err := NewError(vk.CreateSampler(device, info, nil, &sampler)); err != nil {
		return vk.NullSampler, err
	}
	return sampler, nil
}

func (v *Vulkan) DestroySampler(device vk.Device, sampler vk.Sampler) {
	vk.DestroySampler(device, sampler, nil)
}

func (v *Vulkan) CreateCommandPool(
	device vk.Device,
	info *vk.CommandPoolCreateInfo,
) (vk.CommandPool, error) {
	var commandPool vk.CommandPool
	if err := NewError(vk.CreateCommandPool(device, info, nil, &commandPool)); err != nil {
		return vk.CommandPool(vk.NullHandle), err
	}
	return commandPool, nil
}

func (v *Vulkan) DestroyCommandPool(device vk.Device, pool vk.CommandPool) {
	vk.DestroyCommandPool(device, pool, nil)
}

func (v *Vulkan) AllocateCommandBuffers(
	device vk.Device,
	info *vk.CommandBufferAllocateInfo,
) ([]vk.CommandBuffer, error) {
	commandBuffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	if err := NewError(vk.AllocateCommandBuffers(device, info, commandBuffers)); err != nil {
		return nil, err
	}
	return commandBuffers, nil
}

func (v *Vulkan) FreeCommandBuffers(
	device vk.Device,
	pool vk.CommandPool,
	buffers []vk.CommandBuffer,
) {
	if len(buffers) == 0 {
		return
	}
	vk.FreeCommandBuffers(device, pool, uint32(len(buffers)), buffers)
}

func (v *Vulkan) BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	return NewError(vk.BeginCommandBuffer(cb, info))
}

func (v *Vulkan) EndCommandBuffer(cb vk.CommandBuffer) error {
	return NewError(vk.EndCommandBuffer(cb))
}

func (v *Vulkan) ResetCommandBuffer(cb vk.CommandBuffer) error {
	return NewError(vk.ResetCommandBuffer(cb, 0))
}

func (v *Vulkan) CmdPipelineBarrier(
	cb vk.CommandBuffer,
	src, dst vk.PipelineStageFlags,
	barriers []vk.ImageMemoryBarrier,
) {
	vk.CmdPipelineBarrier(
		cb,
		src, dst,
		0,
		0, nil,
		0, nil,
		uint32(len(barriers)), barriers,
	)
}

func (v *Vulkan) CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(cb, src, dst, uint32(len(regions)), regions)
}

func (v *Vulkan) CmdCopyBufferToImage(
	cb vk.CommandBuffer,
	src vk.Buffer,
	dst vk.Image,
	layout vk.ImageLayout,
	regions []vk.BufferImageCopy,
) {
	vk.CmdCopyBufferToImage(cb, src, dst, layout, uint32(len(regions)), regions)
}

func (v *Vulkan) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	vk.CmdBeginRenderPass(cb, info, vk.SubpassContentsInline)
}

func (v *Vulkan) CmdEndRenderPass(cb vk.CommandBuffer) {
	vk.CmdEndRenderPass(cb)
}

func (v *Vulkan) CmdBindPipeline(cb vk.CommandBuffer, pipeline vk.Pipeline) {
	vk.CmdBindPipeline(cb, vk.PipelineBindPointGraphics, pipeline)
}

func (v *Vulkan) CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport) {
	vk.CmdSetViewport(cb, 0, 1, []vk.Viewport{viewport})
}

func (v *Vulkan) CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D) {
	vk.CmdSetScissor(cb, 0, 1, []vk.Rect2D{scissor})
}

func (v *Vulkan) CmdBindDescriptorSets(
	cb vk.CommandBuffer,
	layout vk.PipelineLayout,
	sets []vk.DescriptorSet,
) {
	vk.CmdBindDescriptorSets(
		cb,
		vk.PipelineBindPointGraphics,
		layout,
		0,
		uint32(len(sets)),
		sets,
		0,
		nil,
	)
}

func (v *Vulkan) CmdBindVertexBuffers(
	cb vk.CommandBuffer,
	buffers []vk.Buffer,
	offsets []vk.DeviceSize,
) {
	vk.CmdBindVertexBuffers(cb, 0, uint32(len(buffers)), buffers, offsets)
}

func (v *Vulkan) CmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(cb, buffer, 0, indexType)
}

func (v *Vulkan) CmdDrawIndexed(cb vk.CommandBuffer, indexCount uint32) {
	vk.CmdDrawIndexed(cb, indexCount, 1, 0, 0, 0)
}

func (v *Vulkan) CreateFence(device vk.Device, info *vk.FenceCreateInfo) (vk.Fence, error) {
	var fence vk.Fence
	if err := NewError(vk.CreateFence(device, info, nil, &fence)); err != nil {
		return vk.NullFence, err
	}
	return fence, nil
}

func (v *Vulkan) DestroyFence(device vk.Device, fence vk.Fence) {
	vk.DestroyFence(device, fence, nil)
}

func (v *Vulkan) WaitForFence(device vk.Device, fence vk.Fence, timeout uint64) vk.Result {
	return vk.WaitForFences(device, 1, []vk.Fence{fence}, vk.True, timeout)
}

func (v *Vulkan) ResetFence(device vk.Device, fence vk.Fence) error {
	return NewError(vk.ResetFences(device, 1, []vk.Fence{fence}))
}

func (v *Vulkan) CreateSemaphore(
	device vk.Device,
	info *vk.SemaphoreCreateInfo,
) (vk.Semaphore, error) {
	var semaphore vk.Semaphore
	if err := NewError(vk.CreateSemaphore(device, info, nil, &semaphore)); err != nil {
		return vk.NullSemaphore, err
	}
	return semaphore, nil
}

func (v *Vulkan) DestroySemaphore(device vk.Device, semaphore vk.Semaphore) {
	vk.DestroySemaphore(device, semaphore, nil)
}

func (v *Vulkan) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	return NewError(vk.QueueSubmit(queue, uint32(len(submits)), submits, fence))
}

func (v *Vulkan) SurfaceCapabilities(
	pd vk.PhysicalDevice,
	surface vk.Surface,
) (vk.SurfaceCapabilities, error) {
	var capabilities vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &capabilities)
	if err := NewError(res); err != nil {
		return capabilities, err
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()
	return capabilities, nil
}

func (v *Vulkan) SurfaceFormats(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error) {
	var formatCount uint32
	res := vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil)
	if err := NewError(res); err != nil {
		return nil, err
	}
	if formatCount == 0 {
		return nil, nil
	}

	formats := make([]vk.SurfaceFormat, formatCount)
	res = vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, formats)
	if err := NewError(res); err != nil {
		return nil, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	return formats, nil
}

func (v *Vulkan) SurfacePresentModes(
	pd vk.PhysicalDevice,
	surface vk.Surface,
) ([]vk.PresentMode, error) {
	var presentModeCount uint32
	res := vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &presentModeCount, nil)
	if err := NewError(res); err != nil {
		return nil, err
	}
	if presentModeCount == 0 {
		return nil, nil
	}

	presentModes := make([]vk.PresentMode, presentModeCount)
	res = vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &presentModeCount, presentModes)
	if err := NewError(res); err != nil {
		return nil, err
	}
	return presentModes, nil
}

func (v *Vulkan) CreateSwapchain(
	device vk.Device,
	info *vk.SwapchainCreateInfo,
) (vk.Swapchain, error) {
	var swapChain vk.Swapchain
	if err := NewError(vk.CreateSwapchain(device, info, nil, &swapChain)); err != nil {
		return vk.NullSwapchain, err
	}
	return swapChain, nil
}

func (v *Vulkan) DestroySwapchain(device vk.Device, swapchain vk.Swapchain) {
	vk.DestroySwapchain(device, swapchain, nil)
}

func (v *Vulkan) SwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error) {
	var imagesCount uint32
	if err := NewError(vk.GetSwapchainImages(device, swapchain, &imagesCount, nil)); err != nil {
		return nil, err
	}

	images := make([]vk.Image, imagesCount)
	if err := NewError(vk.GetSwapchainImages(device, swapchain, &imagesCount, images)); err != nil {
		return nil, err
	}
	return images[:imagesCount], nil
}

func (v *Vulkan) AcquireNextImage(
	device vk.Device,
	swapchain vk.Swapchain,
	timeout uint64,
	semaphore vk.Semaphore,
) (uint32, vk.Result) {
	var imageIndex uint32
	res := vk.AcquireNextImage(device, swapchain, timeout, semaphore, vk.NullFence, &imageIndex)
	return imageIndex, res
}

func (v *Vulkan) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	return vk.QueuePresent(queue, info)
}

func (v *Vulkan) CreateFramebuffer(
	device vk.Device,
	info *vk.FramebufferCreateInfo,
) (vk.Framebuffer, error) {
	var frameBuffer vk.Framebuffer
	if err := NewError(vk.CreateFramebuffer(device, info, nil, &frameBuffer)); err != nil {
		return vk.NullFramebuffer, err
	}
	return frameBuffer, nil
}

func (v *Vulkan) DestroyFramebuffer(device vk.Device, framebuffer vk.Framebuffer) {
	vk.DestroyFramebuffer(device, framebuffer, nil)
}

func (v *Vulkan) CreateRenderPass(
	device vk.Device,
	info *vk.RenderPassCreateInfo,
) (vk.RenderPass, error) {
	var renderPass vk.RenderPass
	if err := NewError(vk.CreateRenderPass(device, info, nil, &renderPass)); err != nil {
		return vk.NullRenderPass, err
	}
	return renderPass, nil
}

func (v *Vulkan) DestroyRenderPass(device vk.Device, renderPass vk.RenderPass) {
	vk.DestroyRenderPass(device, renderPass, nil)
}

func (v *Vulkan) CreateShaderModule(
	device vk.Device,
	info *vk.ShaderModuleCreateInfo,
) (vk.ShaderModule, error) {
	var shaderModule vk.ShaderModule
	if err := NewError(vk.CreateShaderModule(device, info, nil, &shaderModule)); err != nil {
		return vk.NullShaderModule, err
	}
	return shaderModule, nil
}

func (v *Vulkan) DestroyShaderModule(device vk.Device, module vk.ShaderModule) {
	vk.DestroyShaderModule(device, module, nil)
}

func (v *Vulkan) CreateDescriptorSetLayout(
	device vk.Device,
	info *vk.DescriptorSetLayoutCreateInfo,
) (vk.DescriptorSetLayout, error) {
	var layout vk.DescriptorSetLayout
	if err := NewError(vk.CreateDescriptorSetLayout(device, info, nil, &layout)); err != nil {
		return vk.NullDescriptorSetLayout, err
	}
	return layout, nil
}

func (v *Vulkan) DestroyDescriptorSetLayout(device vk.Device, layout vk.DescriptorSetLayout) {
	vk.DestroyDescriptorSetLayout(device, layout, nil)
}

func (v *Vulkan) CreatePipelineLayout(
	device vk.Device,
	info *vk.PipelineLayoutCreateInfo,
) (vk.PipelineLayout, error) {
	var pipelineLayout vk.PipelineLayout
	if err := NewError(vk.CreatePipelineLayout(device, info, nil, &pipelineLayout)); err != nil {
		return vk.NullPipelineLayout, err
	}
	return pipelineLayout, nil
}

func (v *Vulkan) DestroyPipelineLayout(device vk.Device, layout vk.PipelineLayout) {
	vk.DestroyPipelineLayout(device, layout, nil)
}

func (v *Vulkan) CreateGraphicsPipeline(
	device vk.Device,
	info *vk.GraphicsPipelineCreateInfo,
) (vk.Pipeline, error) {
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(
		device,
		vk.PipelineCache(vk.NullHandle),
		1,
		[]vk.GraphicsPipelineCreateInfo{*info},
		nil,
		pipelines,
	)
	if err := NewError(res); err != nil {
		return vk.NullPipeline, err
	}
	return pipelines[0], nil
}

func (v *Vulkan) DestroyPipeline(device vk.Device, pipeline vk.Pipeline) {
	vk.DestroyPipeline(device, pipeline, nil)
}

func (v *Vulkan) CreateDescriptorPool(
	device vk.Device,
	info *vk.DescriptorPoolCreateInfo,
) (vk.DescriptorPool, error) {
	var descriptorPool vk.DescriptorPool
	if err := NewError(vk.CreateDescriptorPool(device, info, nil, &descriptorPool)); err != nil {
		return vk.NullDescriptorPool, err
	}
	return descriptorPool, nil
}

func (v *Vulkan) DestroyDescriptorPool(device vk.Device, pool vk.DescriptorPool) {
	vk.DestroyDescriptorPool(device, pool, nil)
}

func (v *Vulkan) AllocateDescriptorSets(
	device vk.Device,
	info *vk.DescriptorSetAllocateInfo,
) ([]vk.DescriptorSet, error) {
	if info.DescriptorSetCount == 0 {
		return nil, nil
	}

	sets := make([]vk.DescriptorSet, info.DescriptorSetCount)
	if err := NewError(vk.AllocateDescriptorSets(device, info, &sets[0])); err != nil {
		return nil, err
	}
	return sets, nil
}

func (v *Vulkan) UpdateDescriptorSets(device vk.Device, writes []vk.WriteDescriptorSet) {
	vk.UpdateDescriptorSets(device, uint32(len(writes)), writes, 0, nil)
}
