package render

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/handle"
)

// SwapchainState is where a Swapchain is in its lifecycle.
type SwapchainState int

const (
	// SwapchainUninitialized means nothing is built, either because Recreate
	// was never called or because the surface had a zero extent.
	SwapchainUninitialized SwapchainState = iota

	// SwapchainValid means every part is built and can be drawn to.
	SwapchainValid

	// SwapchainStale means the parts are built but must be rebuilt before
	// the next use.
	SwapchainStale

	// SwapchainDestroyed is final.
	SwapchainDestroyed
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainUninitialized:
		return "uninitialized"
	case SwapchainValid:
		return "valid"
	case SwapchainStale:
		return "stale"
	case SwapchainDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("SwapchainState(%d)", int(s))
	}
}

// FramebufferSizer reports the size of the drawable area in pixels. It is
// asked when the surface leaves the extent up to the application.
type FramebufferSizer interface {
	FramebufferSize() (width, height int)
}

// Swapchain is the swapchain together with one view and one framebuffer per
// image and a depth buffer shared by all framebuffers. It is either fully
// built or fully torn down.
//
// Staleness is only recorded by NotifyStale; the rebuild happens lazily in
// CanDraw so any number of notifications cause a single rebuild.
type Swapchain struct {
	ctx   *Context
	sizer FramebufferSizer

	surfaceFormat vk.SurfaceFormat
	presentMode   vk.PresentMode
	depthFormat   vk.Format
	renderPass    vk.RenderPass

	swapchain    *OwnedSwapchain
	images       []handle.Borrowed[vk.Image]
	views        []*OwnedImageView
	depth        *Image
	framebuffers []*OwnedFramebuffer
	extent       vk.Extent2D

	stale      atomic.Bool
	destroyed  bool
	generation int
}

// NewSwapchain chooses the surface format, the present mode and the depth
// format. Nothing is built until the first Recreate or CanDraw. sizer may be
// nil when the surface always reports its extent.
func NewSwapchain(ctx *Context, sizer FramebufferSizer) (*Swapchain, error) {
	formats, err := ctx.Driver.SurfaceFormats(ctx.PhysicalDevice, ctx.Surface())
	if err != nil {
		return nil, checkLost(fmt.Errorf("querying surface formats: %w", err))
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: surface reports no formats", ErrInitialization)
	}

	presentModes, err := ctx.Driver.SurfacePresentModes(ctx.PhysicalDevice, ctx.Surface())
	if err != nil {
		return nil, checkLost(fmt.Errorf("querying present modes: %w", err))
	}

	depthFormat, err := findDepthFormat(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot find suitable depth image format: %w", err)
	}

	return &Swapchain{
		ctx:           ctx,
		sizer:         sizer,
		surfaceFormat: chooseSwapSurfaceFormat(formats),
		presentMode:   chooseSwapPresentMode(presentModes),
		depthFormat:   depthFormat,
		swapchain:     &OwnedSwapchain{},
	}, nil
}

func chooseSwapSurfaceFormat(availableFormats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == vk.FormatB8g8r8a8Srgb &&
			format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

func chooseSwapPresentMode(available []vk.PresentMode) vk.PresentMode {
	for _, mode := range available {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}

	return vk.PresentModeFifo
}

func (s *Swapchain) chooseSwapExtent(capabilities vk.SurfaceCapabilities) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}

	var width, height int
	if s.sizer != nil {
		width, height = s.sizer.FramebufferSize()
	}
	if width <= 0 || height <= 0 {
		return vk.Extent2D{}
	}

	return vk.Extent2D{
		Width: clamp(
			uint32(width),
			capabilities.MinImageExtent.Width,
			capabilities.MaxImageExtent.Width,
		),
		Height: clamp(
			uint32(height),
			capabilities.MinImageExtent.Height,
			capabilities.MaxImageExtent.Height,
		),
	}
}

func clamp[T cmp.Ordered](val, lo, hi T) T {
	return max(lo, min(val, hi))
}

// SetRenderPass sets the render pass the framebuffers are created for. It
// must be called before the first Recreate.
func (s *Swapchain) SetRenderPass(renderPass vk.RenderPass) {
	s.renderPass = renderPass
}

// RenderPass returns the render pass the framebuffers are created for.
func (s *Swapchain) RenderPass() vk.RenderPass {
	return s.renderPass
}

// NotifyStale marks the swapchain for a rebuild at the next CanDraw. It may be
// called from a window system callback.
func (s *Swapchain) NotifyStale() {
	s.stale.Store(true)
}

// Valid reports whether every part is built.
func (s *Swapchain) Valid() bool {
	return !s.destroyed && s.swapchain.Valid()
}

// State returns the lifecycle state.
func (s *Swapchain) State() SwapchainState {
	switch {
	case s.destroyed:
		return SwapchainDestroyed
	case !s.swapchain.Valid():
		return SwapchainUninitialized
	case s.stale.Load():
		return SwapchainStale
	default:
		return SwapchainValid
	}
}

// CanDraw reports whether a frame can be drawn now. A stale or missing
// swapchain is rebuilt first. A zero sized surface yields false without an
// error.
func (s *Swapchain) CanDraw() (bool, error) {
	if s.destroyed {
		return false, nil
	}
	if s.swapchain.Valid() && !s.stale.Load() {
		return true, nil
	}

	if err := s.Recreate(); err != nil {
		return false, err
	}
	return s.Valid(), nil
}

// Recreate waits for the device to go idle and rebuilds everything for the
// current surface extent. With a zero extent the swapchain is left torn down
// and nil is returned; the caller retries later. On any failure everything
// is torn down and the error returned.
func (s *Swapchain) Recreate() error {
	if s.destroyed {
		return fmt.Errorf("recreate: %w", errSwapchainDestroyed)
	}
	if s.renderPass == vk.NullRenderPass {
		return fmt.Errorf("recreate: render pass not set: %w", handle.ErrNullHandle)
	}

	if err := s.ctx.WaitIdle(); err != nil {
		return fmt.Errorf("recreate: %w", err)
	}

	s.destroyAttachments()
	s.stale.Store(false)

	capabilities, err := s.ctx.Driver.SurfaceCapabilities(s.ctx.PhysicalDevice, s.ctx.Surface())
	if err != nil {
		s.destroyAll()
		return checkLost(fmt.Errorf("querying surface capabilities: %w", err))
	}

	extent := s.chooseSwapExtent(capabilities)
	if extent.Width == 0 || extent.Height == 0 {
		s.ctx.Logger.Debug("surface has zero extent, swapchain not built")
		s.destroyAll()
		return nil
	}

	if err := s.build(capabilities, extent); err != nil {
		s.destroyAll()
		return err
	}

	s.generation++
	s.ctx.Logger.Debug("swapchain built",
		"width", extent.Width,
		"height", extent.Height,
		"images", len(s.images),
		"generation", s.generation,
	)
	return nil
}

func (s *Swapchain) build(capabilities vk.SurfaceCapabilities, extent vk.Extent2D) error {
	if err := s.createSwapchain(capabilities, extent); err != nil {
		return fmt.Errorf("createSwapChain: %w", err)
	}
	if err := s.createImageViews(); err != nil {
		return fmt.Errorf("createImageViews: %w", err)
	}
	if err := s.createDepthResources(); err != nil {
		return fmt.Errorf("createDepthResources: %w", err)
	}
	if err := s.createFramebuffers(); err != nil {
		return fmt.Errorf("createFramebuffers: %w", err)
	}
	return nil
}

// createSwapchain creates the new swapchain with the current one as its old
// swapchain and destroys the old one once the new one exists.
func (s *Swapchain) createSwapchain(capabilities vk.SurfaceCapabilities, extent vk.Extent2D) error {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.ctx.Surface(),
		MinImageCount:    imageCount,
		ImageColorSpace:  s.surfaceFormat.ColorSpace,
		ImageFormat:      s.surfaceFormat.Format,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      s.presentMode,
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	if s.swapchain.Valid() {
		createInfo.OldSwapchain = s.swapchain.Must()
	}

	families := s.ctx.Families
	if families.Graphics.Get() != families.Present.Get() {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			families.Graphics.Get(),
			families.Present.Get(),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	swapchain, err := handle.Create(
		s.ctx.Device(),
		func(d Device) (vk.Swapchain, error) {
			return d.CreateSwapchain(d.Handle, &createInfo)
		},
		destroySwapchain,
	)
	if err != nil {
		return checkLost(fmt.Errorf("failed to create swap chain: %w", err))
	}

	// Take destroys the retired swapchain only now that its successor exists.
	s.swapchain.Take(swapchain)
	s.extent = extent

	dev := s.ctx.Device()
	images, err := dev.SwapchainImages(dev.Handle, s.swapchain.Must())
	if err != nil {
		return checkLost(fmt.Errorf("getting swap chain images: %w", err))
	}

	s.images = make([]handle.Borrowed[vk.Image], len(images))
	for i, image := range images {
		s.images[i] = handle.Borrow(image)
	}
	return nil
}

func (s *Swapchain) createImageViews() error {
	dev := s.ctx.Device()
	for i, image := range s.images {
		view, err := createImageView(
			dev,
			image.Must(),
			s.surfaceFormat.Format,
			vk.ImageAspectFlags(vk.ImageAspectColorBit),
		)
		if err != nil {
			return fmt.Errorf("image view %d: %w", i, err)
		}
		s.views = append(s.views, view)
	}
	return nil
}

func (s *Swapchain) createDepthResources() error {
	depth, err := CreateImageWithMemory(s.ctx, ImageSpec{
		Extent:     s.extent,
		Format:     s.depthFormat,
		Tiling:     vk.ImageTilingOptimal,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		Properties: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		Aspect:     vk.ImageAspectFlags(vk.ImageAspectDepthBit),
	})
	if err != nil {
		return fmt.Errorf("could not create depth image: %w", err)
	}
	s.depth = depth

	if err := depth.CreateView(); err != nil {
		return fmt.Errorf("failed to create depth image view: %w", err)
	}
	return nil
}

func (s *Swapchain) createFramebuffers() error {
	dev := s.ctx.Device()
	for i, view := range s.views {
		attachments := []vk.ImageView{
			view.Must(),
			s.depth.View(),
		}

		frameBufferInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      s.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}

		framebuffer, err := handle.Create(
			dev,
			func(d Device) (vk.Framebuffer, error) {
				return d.CreateFramebuffer(d.Handle, &frameBufferInfo)
			},
			destroyFramebuffer,
		)
		if err != nil {
			return fmt.Errorf("framebuffer %d: %w", i, err)
		}
		s.framebuffers = append(s.framebuffers, framebuffer)
	}
	return nil
}

// destroyAttachments releases the framebuffers, the views and the depth
// buffer, in that order. The swapchain handle is kept so it can be passed as
// the old swapchain.
func (s *Swapchain) destroyAttachments() {
	for _, framebuffer := range s.framebuffers {
		framebuffer.Destroy()
	}
	s.framebuffers = nil

	for _, view := range s.views {
		view.Destroy()
	}
	s.views = nil

	s.depth.Destroy()
	s.depth = nil
}

func (s *Swapchain) destroyAll() {
	s.destroyAttachments()
	s.images = nil
	s.swapchain.Destroy()
	s.extent = vk.Extent2D{}
}

// Destroy waits for the device to go idle and releases the framebuffers, the
// views, the depth buffer and the swapchain, in that order.
func (s *Swapchain) Destroy() error {
	if s.destroyed {
		return nil
	}

	err := s.ctx.WaitIdle()
	if err != nil && !errors.Is(err, ErrShutdown) {
		s.ctx.Logger.Error("waiting for device idle before swapchain teardown", "err", err)
	}

	s.destroyAll()
	s.destroyed = true
	return err
}

// Handle returns the swapchain handle.
func (s *Swapchain) Handle() vk.Swapchain {
	return s.swapchain.Must()
}

// Extent returns the size of the swapchain images.
func (s *Swapchain) Extent() vk.Extent2D {
	return s.extent
}

// Format returns the color format of the swapchain images.
func (s *Swapchain) Format() vk.Format {
	return s.surfaceFormat.Format
}

// DepthFormat returns the format of the depth buffer.
func (s *Swapchain) DepthFormat() vk.Format {
	return s.depthFormat
}

// PresentMode returns the chosen present mode.
func (s *Swapchain) PresentMode() vk.PresentMode {
	return s.presentMode
}

// ImageCount returns the number of swapchain images, zero when not built.
func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

// Framebuffer returns the framebuffer for the swapchain image at index.
func (s *Swapchain) Framebuffer(index uint32) (vk.Framebuffer, error) {
	if int(index) >= len(s.framebuffers) {
		return vk.NullFramebuffer, fmt.Errorf("%w: framebuffer %d of %d",
			ErrOutOfRange, index, len(s.framebuffers))
	}
	return s.framebuffers[index].Get()
}

// Generation returns how many times the swapchain was successfully built.
func (s *Swapchain) Generation() int {
	return s.generation
}
