package render

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/handle"
	"vulkan-lifetime/unsafer"
)

// FindMemoryTypeIndex returns the first memory type which is allowed by
// allowedTypeBits and has at least the required property flags. Requirements
// are never relaxed: if nothing matches ErrResourceExhausted is returned.
func FindMemoryTypeIndex(
	props vk.PhysicalDeviceMemoryProperties,
	allowedTypeBits uint32,
	required vk.MemoryPropertyFlags,
) (uint32, error) {
	count := min(props.MemoryTypeCount, uint32(len(props.MemoryTypes)))
	for i := uint32(0); i < count; i++ {
		if allowedTypeBits&(1<<i) == 0 {
			continue
		}

		if props.MemoryTypes[i].PropertyFlags&required != required {
			continue
		}

		return i, nil
	}

	return 0, fmt.Errorf("%w: no memory type in %#b with properties %#x",
		ErrResourceExhausted, allowedTypeBits, required)
}

func isHostVisible(properties vk.MemoryPropertyFlags) bool {
	return properties&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0
}

// allocate allocates memory which satisfies reqs and has the properties.
func allocate(
	ctx *Context,
	reqs vk.MemoryRequirements,
	properties vk.MemoryPropertyFlags,
) (*OwnedMemory, error) {
	memTypeIndex, err := ctx.FindMemoryType(reqs.MemoryTypeBits, properties)
	if err != nil {
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}

	memory, err := handle.Create(
		ctx.Device(),
		func(d Device) (vk.DeviceMemory, error) {
			return d.AllocateMemory(d.Handle, &allocInfo)
		},
		freeMemory,
	)
	if err != nil {
		return nil, fmt.Errorf("allocating %d bytes: %w", reqs.Size, err)
	}
	return memory, nil
}

// Buffer is a buffer together with the memory bound to it. Host visible
// memory stays mapped until Unmap or Destroy.
type Buffer struct {
	dev Device

	memory *OwnedMemory
	buffer *OwnedBuffer

	size   vk.DeviceSize
	mapped unsafe.Pointer
}

// CreateBufferWithMemory creates a buffer of size bytes used exclusively by
// queueFamily, allocates memory with the given properties for it and binds
// the two. Host visible memory is mapped right away.
func CreateBufferWithMemory(
	ctx *Context,
	usage vk.BufferUsageFlags,
	size vk.DeviceSize,
	queueFamily uint32,
	properties vk.MemoryPropertyFlags,
) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized buffer", ErrOutOfRange)
	}

	var cleanup handle.Stack
	defer cleanup.Destroy()

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:                  size,
		Usage:                 usage,
		SharingMode:           vk.SharingModeExclusive,
		QueueFamilyIndexCount: 1,
		PQueueFamilyIndices:   []uint32{queueFamily},
	}

	dev := ctx.Device()
	buffer, err := handle.Create(
		dev,
		func(d Device) (vk.Buffer, error) {
			return d.CreateBuffer(d.Handle, &bufferInfo)
		},
		destroyBuffer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %w", err)
	}
	cleanup.Push(buffer)

	memRequirements := dev.BufferMemoryRequirements(dev.Handle, buffer.Must())
	memory, err := allocate(ctx, memRequirements, properties)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate buffer memory: %w", err)
	}
	cleanup.Push(memory)

	if err := dev.BindBufferMemory(dev.Handle, buffer.Must(), memory.Must(), 0); err != nil {
		return nil, fmt.Errorf("failed to bind buffer memory: %w", err)
	}

	b := &Buffer{
		dev:    dev,
		size:   size,
		memory: memory.Move(),
		buffer: buffer.Move(),
	}

	if isHostVisible(properties) {
		pData, err := dev.MapMemory(dev.Handle, b.memory.Must(), 0, size)
		if err != nil {
			b.Destroy()
			return nil, fmt.Errorf("failed to map buffer memory: %w", err)
		}
		b.mapped = pData
	}

	return b, nil
}

// Handle returns the buffer handle.
func (b *Buffer) Handle() vk.Buffer {
	return b.buffer.Must()
}

// Memory returns the memory bound to the buffer.
func (b *Buffer) Memory() vk.DeviceMemory {
	return b.memory.Must()
}

// Size returns the requested size of the buffer.
func (b *Buffer) Size() vk.DeviceSize {
	return b.size
}

// Mapped returns the host view of the buffer memory, or nil when it is not
// mapped.
func (b *Buffer) Mapped() []byte {
	return unsafer.PointerToBytes(b.mapped, int(b.size))
}

// Write copies data to the start of the mapped memory.
func (b *Buffer) Write(data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("write to buffer: memory is not mapped")
	}
	if vk.DeviceSize(len(data)) > b.size {
		return fmt.Errorf("%w: writing %d bytes into a %d byte buffer", ErrOutOfRange, len(data), b.size)
	}
	vk.Memcopy(b.mapped, data)
	return nil
}

// Unmap releases the host mapping early. The buffer stays usable by the GPU.
func (b *Buffer) Unmap() {
	if b.mapped == nil || !b.memory.Valid() {
		return
	}
	b.dev.UnmapMemory(b.dev.Handle, b.memory.Must())
	b.mapped = nil
}

// Destroy unmaps, frees the memory and destroys the buffer. It is safe to
// call more than once.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	b.Unmap()
	b.memory.Destroy()
	b.buffer.Destroy()
}

// ImageSpec describes a 2D image with one mip level and one layer.
type ImageSpec struct {
	Extent     vk.Extent2D
	Format     vk.Format
	Tiling     vk.ImageTiling
	Usage      vk.ImageUsageFlags
	Properties vk.MemoryPropertyFlags

	// Aspect is used for the view created by CreateView.
	Aspect vk.ImageAspectFlags
}

// Image is an image, its memory and, once CreateView was called, a view of it.
type Image struct {
	dev  Device
	spec ImageSpec

	view   *OwnedImageView
	memory *OwnedMemory
	image  *OwnedImage
}

// CreateImageWithMemory creates an image as described by spec and binds
// memory with spec.Properties to it.
func CreateImageWithMemory(ctx *Context, spec ImageSpec) (*Image, error) {
	if spec.Extent.Width == 0 || spec.Extent.Height == 0 {
		return nil, fmt.Errorf("%w: image extent %dx%d", ErrOutOfRange,
			spec.Extent.Width, spec.Extent.Height)
	}

	var cleanup handle.Stack
	defer cleanup.Destroy()

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  spec.Extent.Width,
			Height: spec.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        spec.Format,
		Tiling:        spec.Tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         spec.Usage,
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	dev := ctx.Device()
	image, err := handle.Create(
		dev,
		func(d Device) (vk.Image, error) {
			return d.CreateImage(d.Handle, &imageInfo)
		},
		destroyImage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create an image: %w", err)
	}
	cleanup.Push(image)

	memRequirements := dev.ImageMemoryRequirements(dev.Handle, image.Must())
	memory, err := allocate(ctx, memRequirements, spec.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate image memory: %w", err)
	}
	cleanup.Push(memory)

	if err := dev.BindImageMemory(dev.Handle, image.Must(), memory.Must(), 0); err != nil {
		return nil, fmt.Errorf("failed to bind image memory: %w", err)
	}

	return &Image{
		dev:    dev,
		spec:   spec,
		view:   &OwnedImageView{},
		memory: memory.Move(),
		image:  image.Move(),
	}, nil
}

// CreateView creates the view of the image with the aspect from its spec.
// An existing view is replaced.
func (i *Image) CreateView() error {
	view, err := createImageView(i.dev, i.image.Must(), i.spec.Format, i.spec.Aspect)
	if err != nil {
		return err
	}
	i.view.Take(view)
	return nil
}

// Handle returns the image handle.
func (i *Image) Handle() vk.Image {
	return i.image.Must()
}

// Memory returns the memory bound to the image.
func (i *Image) Memory() vk.DeviceMemory {
	return i.memory.Must()
}

// View returns the image view. It panics with a *handle.NullHandleError if
// CreateView has not been called.
func (i *Image) View() vk.ImageView {
	return i.view.Must()
}

// HasView reports whether CreateView has been called.
func (i *Image) HasView() bool {
	return i.view.Valid()
}

// Format returns the image format.
func (i *Image) Format() vk.Format {
	return i.spec.Format
}

// Extent returns the image size.
func (i *Image) Extent() vk.Extent2D {
	return i.spec.Extent
}

// Destroy releases the view, then the memory, then the image.
func (i *Image) Destroy() {
	if i == nil {
		return
	}
	i.view.Destroy()
	i.memory.Destroy()
	i.image.Destroy()
}

func createImageView(
	dev Device,
	image vk.Image,
	format vk.Format,
	aspectFlags vk.ImageAspectFlags,
) (*OwnedImageView, error) {
	createInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	view, err := handle.Create(
		dev,
		func(d Device) (vk.ImageView, error) {
			return d.CreateImageView(d.Handle, &createInfo)
		},
		destroyImageView,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create image view: %w", err)
	}
	return view, nil
}

// CreateSampler creates the linear, repeating sampler used for textures.
// Anisotropic filtering is enabled when the device was created with it.
func CreateSampler(ctx *Context) (*OwnedSampler, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	if ctx.Features.SamplerAnisotropy == vk.True {
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = ctx.Properties.Limits.MaxSamplerAnisotropy
	}

	sampler, err := handle.Create(
		ctx.Device(),
		func(d Device) (vk.Sampler, error) {
			return d.CreateSampler(d.Handle, &samplerInfo)
		},
		destroySampler,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}
	return sampler, nil
}

// findDepthFormat returns the first depth format the device can use as an
// optimally tiled depth attachment.
func findDepthFormat(ctx *Context) (vk.Format, error) {
	return findSupportedFormat(
		ctx,
		[]vk.Format{
			vk.FormatD32Sfloat,
			vk.FormatD32SfloatS8Uint,
			vk.FormatD24UnormS8Uint,
		},
		vk.ImageTilingOptimal,
		vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit),
	)
}

func findSupportedFormat(
	ctx *Context,
	candidates []vk.Format,
	tiling vk.ImageTiling,
	features vk.FormatFeatureFlags,
) (vk.Format, error) {
	for _, format := range candidates {
		props := ctx.Driver.FormatProperties(ctx.PhysicalDevice, format)

		if tiling == vk.ImageTilingLinear &&
			(props.LinearTilingFeatures&features) == features {
			return format, nil
		}

		if tiling == vk.ImageTilingOptimal &&
			(props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return vk.FormatUndefined, fmt.Errorf("%w: could not find suitable format", ErrInitialization)
}
