package render

import (
	"errors"
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/handle"
)

// DefaultFramesInFlight is how many frames the CPU may record ahead of the GPU.
const DefaultFramesInFlight = 3

// DrawingFrame is everything one frame in flight needs. The fence is created
// signaled so the very first wait on it returns at once.
type DrawingFrame struct {
	fence          *OwnedFence
	imageAvailable *OwnedSemaphore
	renderFinished *OwnedSemaphore

	commandBuffer vk.CommandBuffer
	uniform       *Buffer
	descriptorSet vk.DescriptorSet
}

// Fence returns the fence signaled when the frame's submission finishes.
func (f *DrawingFrame) Fence() vk.Fence {
	return f.fence.Must()
}

// ImageAvailable returns the semaphore signaled by image acquisition.
func (f *DrawingFrame) ImageAvailable() vk.Semaphore {
	return f.imageAvailable.Must()
}

// RenderFinished returns the semaphore presentation waits on.
func (f *DrawingFrame) RenderFinished() vk.Semaphore {
	return f.renderFinished.Must()
}

// CommandBuffer returns the frame's primary command buffer.
func (f *DrawingFrame) CommandBuffer() vk.CommandBuffer {
	return f.commandBuffer
}

// Uniform returns the frame's host mapped uniform buffer.
func (f *DrawingFrame) Uniform() *Buffer {
	return f.uniform
}

// DescriptorSet returns the set binding the frame's uniform buffer and the
// shared texture.
func (f *DrawingFrame) DescriptorSet() vk.DescriptorSet {
	return f.descriptorSet
}

// FramePoolConfig describes the frames of a FramePool.
type FramePoolConfig struct {
	// Frames is the number of frames in flight.
	Frames int

	// UniformSize is the size in bytes of every frame's uniform buffer.
	UniformSize vk.DeviceSize

	// SetLayout is the layout of the per frame descriptor sets. Binding 0
	// is the uniform buffer and binding 1 the texture sampler.
	SetLayout vk.DescriptorSetLayout

	TextureView vk.ImageView
	Sampler     vk.Sampler
}

// FramePool is a fixed ring of drawing frames. Frames are never created or
// destroyed individually.
type FramePool struct {
	ctx *Context

	frames         []*DrawingFrame
	commandBuffers []vk.CommandBuffer
	descriptorPool *OwnedDescriptorPool

	current int
}

// NewFramePool creates cfg.Frames frames at once. On failure everything
// created so far is released.
func NewFramePool(ctx *Context, cfg FramePoolConfig) (*FramePool, error) {
	if cfg.Frames <= 0 {
		return nil, fmt.Errorf("%w: %d frames in flight", ErrOutOfRange, cfg.Frames)
	}

	p := &FramePool{
		ctx:            ctx,
		descriptorPool: &OwnedDescriptorPool{},
	}
	for range cfg.Frames {
		p.frames = append(p.frames, &DrawingFrame{
			fence:          &OwnedFence{},
			imageAvailable: &OwnedSemaphore{},
			renderFinished: &OwnedSemaphore{},
		})
	}

	if err := p.init(cfg); err != nil {
		p.release()
		return nil, err
	}

	return p, nil
}

func (p *FramePool) init(cfg FramePoolConfig) error {
	if err := p.createUniformBuffers(cfg.UniformSize); err != nil {
		return fmt.Errorf("createUniformBuffers: %w", err)
	}
	if err := p.createDescriptorPool(); err != nil {
		return fmt.Errorf("createDescriptorPool: %w", err)
	}
	if err := p.createDescriptorSets(cfg); err != nil {
		return fmt.Errorf("createDescriptorSets: %w", err)
	}
	if err := p.createCommandBuffers(); err != nil {
		return fmt.Errorf("createCommandBuffers: %w", err)
	}
	if err := p.createSyncObjects(); err != nil {
		return fmt.Errorf("createSyncObjects: %w", err)
	}
	return nil
}

func (p *FramePool) createUniformBuffers(size vk.DeviceSize) error {
	for i, frame := range p.frames {
		buffer, err := CreateBufferWithMemory(
			p.ctx,
			vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
			size,
			p.ctx.Families.Graphics.Get(),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|
				vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit),
		)
		if err != nil {
			return fmt.Errorf("uniform buffer %d: %w", i, err)
		}
		frame.uniform = buffer
	}
	return nil
}

func (p *FramePool) createDescriptorPool() error {
	count := uint32(len(p.frames))
	poolSizes := []vk.DescriptorPoolSize{
		{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: count,
		},
		{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: count,
		},
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       count,
	}

	pool, err := handle.Create(
		p.ctx.Device(),
		func(d Device) (vk.DescriptorPool, error) {
			return d.CreateDescriptorPool(d.Handle, &poolInfo)
		},
		destroyDescriptorPool,
	)
	if err != nil {
		return fmt.Errorf("failed to create descriptor pool: %w", err)
	}
	p.descriptorPool.Take(pool)
	return nil
}

func (p *FramePool) createDescriptorSets(cfg FramePoolConfig) error {
	layouts := make([]vk.DescriptorSetLayout, len(p.frames))
	for i := range layouts {
		layouts[i] = cfg.SetLayout
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.descriptorPool.Must(),
		DescriptorSetCount: uint32(len(layouts)),
		PSetLayouts:        layouts,
	}

	dev := p.ctx.Device()
	sets, err := dev.AllocateDescriptorSets(dev.Handle, &allocInfo)
	if err != nil {
		return fmt.Errorf("failed to allocate descriptor sets: %w", err)
	}
	if len(sets) != len(p.frames) {
		return fmt.Errorf("%w: got %d descriptor sets for %d frames",
			ErrResourceExhausted, len(sets), len(p.frames))
	}

	for i, frame := range p.frames {
		frame.descriptorSet = sets[i]

		bufferInfo := vk.DescriptorBufferInfo{
			Buffer: frame.uniform.Handle(),
			Offset: 0,
			Range:  frame.uniform.Size(),
		}

		imageInfo := vk.DescriptorImageInfo{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   cfg.TextureView,
			Sampler:     cfg.Sampler,
		}

		descriptorWrites := []vk.WriteDescriptorSet{
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sets[i],
				DstBinding:      0,
				DstArrayElement: 0,
				DescriptorType:  vk.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
			},
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sets[i],
				DstBinding:      1,
				DstArrayElement: 0,
				DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				PImageInfo:      []vk.DescriptorImageInfo{imageInfo},
			},
		}

		dev.UpdateDescriptorSets(dev.Handle, descriptorWrites)
	}

	return nil
}

func (p *FramePool) createCommandBuffers() error {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.ctx.CommandPool(),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(len(p.frames)),
	}

	dev := p.ctx.Device()
	commandBuffers, err := dev.AllocateCommandBuffers(dev.Handle, &allocInfo)
	if err != nil {
		return fmt.Errorf("failed to allocate command buffers: %w", err)
	}
	p.commandBuffers = commandBuffers

	for i, frame := range p.frames {
		frame.commandBuffer = commandBuffers[i]
	}
	return nil
}

func (p *FramePool) createSyncObjects() error {
	dev := p.ctx.Device()

	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}

	newSemaphore := func(d Device) (vk.Semaphore, error) {
		return d.CreateSemaphore(d.Handle, &semaphoreInfo)
	}

	for i, frame := range p.frames {
		imageAvailable, err := handle.Create(dev, newSemaphore, destroySemaphore)
		if err != nil {
			return fmt.Errorf("image available semaphore %d: %w", i, err)
		}
		frame.imageAvailable.Take(imageAvailable)

		renderFinished, err := handle.Create(dev, newSemaphore, destroySemaphore)
		if err != nil {
			return fmt.Errorf("render finished semaphore %d: %w", i, err)
		}
		frame.renderFinished.Take(renderFinished)

		fence, err := handle.Create(
			dev,
			func(d Device) (vk.Fence, error) {
				return d.CreateFence(d.Handle, &fenceInfo)
			},
			destroyFence,
		)
		if err != nil {
			return fmt.Errorf("in flight fence %d: %w", i, err)
		}
		frame.fence.Take(fence)
	}
	return nil
}

// Len returns the number of frames in flight.
func (p *FramePool) Len() int {
	return len(p.frames)
}

// Current returns the frame to draw next.
func (p *FramePool) Current() *DrawingFrame {
	return p.frames[p.current]
}

// Index returns the position of the current frame in the ring.
func (p *FramePool) Index() int {
	return p.current
}

// Frame returns the frame at index i.
func (p *FramePool) Frame(i int) (*DrawingFrame, error) {
	if i < 0 || i >= len(p.frames) {
		return nil, fmt.Errorf("%w: frame %d of %d", ErrOutOfRange, i, len(p.frames))
	}
	return p.frames[i], nil
}

// Advance moves to the next frame of the ring.
func (p *FramePool) Advance() {
	p.current = (p.current + 1) % len(p.frames)
}

// BindTexture points binding 1 of every frame's descriptor set at view and
// sampler. It waits for the device to go idle first since sets of frames in
// flight must not be updated.
func (p *FramePool) BindTexture(view vk.ImageView, sampler vk.Sampler) error {
	if err := p.ctx.WaitIdle(); err != nil {
		return fmt.Errorf("waiting before texture rebind: %w", err)
	}

	dev := p.ctx.Device()
	imageInfo := vk.DescriptorImageInfo{
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		ImageView:   view,
		Sampler:     sampler,
	}
	for _, frame := range p.frames {
		dev.UpdateDescriptorSets(dev.Handle, []vk.WriteDescriptorSet{{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          frame.descriptorSet,
			DstBinding:      1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			PImageInfo:      []vk.DescriptorImageInfo{imageInfo},
		}})
	}
	return nil
}

// Destroy waits for the device to go idle and releases every frame.
func (p *FramePool) Destroy() error {
	err := p.ctx.WaitIdle()
	if err != nil && !errors.Is(err, ErrShutdown) {
		p.ctx.Logger.Error("waiting for device idle before frame teardown", "err", err)
	}
	p.release()
	return err
}

func (p *FramePool) release() {
	if len(p.commandBuffers) > 0 {
		dev := p.ctx.Device()
		dev.FreeCommandBuffers(dev.Handle, p.ctx.CommandPool(), p.commandBuffers)
		p.commandBuffers = nil
	}

	// Destroying the pool frees every set allocated from it.
	p.descriptorPool.Destroy()

	for _, frame := range p.frames {
		frame.uniform.Destroy()
		frame.uniform = nil
		frame.renderFinished.Destroy()
		frame.imageAvailable.Destroy()
		frame.fence.Destroy()
	}
}
