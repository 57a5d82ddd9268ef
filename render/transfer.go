package render

import (
	"fmt"
	"math"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/handle"
)

// oneTimeCommands is a primary command buffer recorded once, submitted and
// waited upon with its own fence.
type oneTimeCommands struct {
	ctx *Context
	cb  vk.CommandBuffer
}

func beginSingleTimeCommands(ctx *Context) (*oneTimeCommands, error) {
	dev := ctx.Device()

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        ctx.CommandPool(),
		CommandBufferCount: 1,
	}

	commandBuffers, err := dev.AllocateCommandBuffers(dev.Handle, &allocInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate command buffer: %w", err)
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if err := dev.BeginCommandBuffer(commandBuffers[0], &beginInfo); err != nil {
		dev.FreeCommandBuffers(dev.Handle, ctx.CommandPool(), commandBuffers)
		return nil, fmt.Errorf("failed to begin command buffer: %w", err)
	}

	return &oneTimeCommands{ctx: ctx, cb: commandBuffers[0]}, nil
}

// submitAndWait ends recording, submits to the graphics queue and blocks until
// the dedicated fence signals. The command buffer is freed on every path.
func (o *oneTimeCommands) submitAndWait() error {
	dev := o.ctx.Device()
	commandBuffers := []vk.CommandBuffer{o.cb}

	defer dev.FreeCommandBuffers(dev.Handle, o.ctx.CommandPool(), commandBuffers)

	if err := dev.EndCommandBuffer(o.cb); err != nil {
		return fmt.Errorf("failed end command buffer: %w", err)
	}

	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	fence, err := handle.Create(
		dev,
		func(d Device) (vk.Fence, error) {
			return d.CreateFence(d.Handle, &fenceInfo)
		},
		destroyFence,
	)
	if err != nil {
		return fmt.Errorf("creating transfer fence: %w", err)
	}
	defer fence.Destroy()

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}

	err = dev.QueueSubmit(o.ctx.GraphicsQueue, []vk.SubmitInfo{submitInfo}, fence.Must())
	if err != nil {
		return checkLost(fmt.Errorf("failed to submit to graphics queue: %w", err))
	}

	res := dev.WaitForFence(dev.Handle, fence.Must(), math.MaxUint64)
	if err := resultError("WaitForFence", res); err != nil {
		return fmt.Errorf("waiting for transfer: %w", err)
	}

	return nil
}

// abandon frees the command buffer without submitting it.
func (o *oneTimeCommands) abandon() {
	dev := o.ctx.Device()
	dev.FreeCommandBuffers(dev.Handle, o.ctx.CommandPool(), []vk.CommandBuffer{o.cb})
}

// transitionImageLayout records a barrier moving a color image between the
// layouts used by uploads.
func transitionImageLayout(
	dev Device,
	cb vk.CommandBuffer,
	image vk.Image,
	oldLayout vk.ImageLayout,
	newLayout vk.ImageLayout,
) error {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var (
		sourceStage      vk.PipelineStageFlags
		destinationStage vk.PipelineStageFlags
	)

	switch {
	case oldLayout == vk.ImageLayoutUndefined &&
		newLayout == vk.ImageLayoutTransferDstOptimal:

		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)

		sourceStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		destinationStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)

	case oldLayout == vk.ImageLayoutTransferDstOptimal &&
		newLayout == vk.ImageLayoutShaderReadOnlyOptimal:

		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)

		sourceStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		destinationStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)

	default:
		return fmt.Errorf("unsupported layout transition %d -> %d", oldLayout, newLayout)
	}

	dev.CmdPipelineBarrier(cb, sourceStage, destinationStage, []vk.ImageMemoryBarrier{barrier})
	return nil
}

// newStagingBuffer returns a host visible transfer source holding data.
func newStagingBuffer(ctx *Context, data []byte) (*Buffer, error) {
	staging, err := CreateBufferWithMemory(
		ctx,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.DeviceSize(len(data)),
		ctx.Families.Graphics.Get(),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit),
	)
	if err != nil {
		return nil, fmt.Errorf("creating staging buffer: %w", err)
	}

	if err := staging.Write(data); err != nil {
		staging.Destroy()
		return nil, err
	}
	return staging, nil
}

// UploadTexture copies pixels into a new device local image which ends up in
// the shader read-only layout with a color view. pixels must hold exactly
// extent.Width*extent.Height texels of four bytes each. The call blocks until
// the copy has finished on the GPU.
func UploadTexture(
	ctx *Context,
	pixels []byte,
	extent vk.Extent2D,
	format vk.Format,
) (*Image, error) {
	want := int(extent.Width) * int(extent.Height) * 4
	if want == 0 || len(pixels) != want {
		return nil, fmt.Errorf("%w: %d bytes of pixels for a %dx%d texture",
			ErrOutOfRange, len(pixels), extent.Width, extent.Height)
	}

	staging, err := newStagingBuffer(ctx, pixels)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	var cleanup handle.Stack
	defer cleanup.Destroy()

	image, err := CreateImageWithMemory(ctx, ImageSpec{
		Extent: extent,
		Format: format,
		Tiling: vk.ImageTilingOptimal,
		Usage: vk.ImageUsageFlags(vk.ImageUsageTransferDstBit) |
			vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		Properties: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		Aspect:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
	})
	if err != nil {
		return nil, fmt.Errorf("creating texture image: %w", err)
	}
	cleanup.Push(image)

	cmds, err := beginSingleTimeCommands(ctx)
	if err != nil {
		return nil, err
	}

	dev := ctx.Device()
	err = transitionImageLayout(dev, cmds.cb, image.Handle(),
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	if err != nil {
		cmds.abandon()
		return nil, err
	}

	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,

		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},

		ImageOffset: vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
	}
	dev.CmdCopyBufferToImage(
		cmds.cb,
		staging.Handle(),
		image.Handle(),
		vk.ImageLayoutTransferDstOptimal,
		[]vk.BufferImageCopy{region},
	)

	err = transitionImageLayout(dev, cmds.cb, image.Handle(),
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	if err != nil {
		cmds.abandon()
		return nil, err
	}

	if err := cmds.submitAndWait(); err != nil {
		return nil, fmt.Errorf("uploading texture: %w", err)
	}

	if err := image.CreateView(); err != nil {
		return nil, fmt.Errorf("creating texture view: %w", err)
	}

	cleanup.Forget()
	return image, nil
}

// UploadBuffer copies data into a new device local buffer usable as usage,
// such as a vertex or an index buffer. The call blocks until the copy has
// finished on the GPU.
func UploadBuffer(ctx *Context, data []byte, usage vk.BufferUsageFlags) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: nothing to upload", ErrOutOfRange)
	}

	staging, err := newStagingBuffer(ctx, data)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	buffer, err := CreateBufferWithMemory(
		ctx,
		usage|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.DeviceSize(len(data)),
		ctx.Families.Graphics.Get(),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	)
	if err != nil {
		return nil, fmt.Errorf("creating device local buffer: %w", err)
	}

	cmds, err := beginSingleTimeCommands(ctx)
	if err != nil {
		buffer.Destroy()
		return nil, err
	}

	copyRegion := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(len(data)),
	}
	ctx.Driver.CmdCopyBuffer(cmds.cb, staging.Handle(), buffer.Handle(), []vk.BufferCopy{copyRegion})

	if err := cmds.submitAndWait(); err != nil {
		buffer.Destroy()
		return nil, fmt.Errorf("uploading buffer: %w", err)
	}

	return buffer, nil
}
