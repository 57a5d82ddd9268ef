package render

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver"
)

// Outcome is what a DrawFrame call did. Only Drawn submitted work to the GPU.
type Outcome int

const (
	// Drawn means a frame was recorded, submitted and presented.
	Drawn Outcome = iota

	// Throttled means the call came before the target frame interval passed.
	Throttled

	// SkippedNoSwapchain means there is no usable swapchain, typically
	// because the window is minimized.
	SkippedNoSwapchain

	// SkippedNotReady means no swapchain image was available right away.
	SkippedNotReady

	// Failed accompanies every non-nil error. Nothing was presented.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Drawn:
		return "drawn"
	case Throttled:
		return "throttled"
	case SkippedNoSwapchain:
		return "skipped: no swapchain"
	case SkippedNotReady:
		return "skipped: not ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Stats counts frames over the life of a Renderer.
type Stats struct {
	Drawn   uint64
	Dropped uint64
}

// Scene is the geometry drawn every frame: one vertex buffer and one index
// buffer covering all of it.
type Scene struct {
	Vertices   *Buffer
	Indices    *Buffer
	IndexCount uint32
	IndexType  vk.IndexType
}

// RendererConfig tunes a Renderer.
type RendererConfig struct {
	// TargetFPS limits how often a frame is started. Zero disables pacing.
	TargetFPS int

	// Now replaces time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Renderer runs the per frame protocol over a frame pool and a swapchain. It
// owns neither; they are destroyed by whoever created them, after the
// renderer is done.
type Renderer struct {
	ctx       *Context
	swapchain *Swapchain
	frames    *FramePool
	pipeline  *Pipeline
	scene     Scene
	logger    *slog.Logger

	interval  time.Duration
	now       func() time.Time
	start     time.Time
	lastFrame time.Time

	stats Stats
}

// NewRenderer returns a renderer drawing scene with pipeline.
func NewRenderer(
	ctx *Context,
	swapchain *Swapchain,
	frames *FramePool,
	pipeline *Pipeline,
	scene Scene,
	cfg RendererConfig,
) *Renderer {
	r := &Renderer{
		ctx:       ctx,
		swapchain: swapchain,
		frames:    frames,
		pipeline:  pipeline,
		scene:     scene,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if r.logger == nil {
		r.logger = ctx.Logger
	}
	if r.now == nil {
		r.now = time.Now
	}
	if cfg.TargetFPS > 0 {
		r.interval = time.Second / time.Duration(cfg.TargetFPS)
	}
	r.start = r.now()
	return r
}

// SetPipeline swaps the pipeline used by the next recorded frame. Command
// buffers are recorded anew every frame, so nothing recorded still refers to
// the old one once the device is idle. The caller destroys the old pipeline.
func (r *Renderer) SetPipeline(p *Pipeline) {
	r.pipeline = p
}

// SetScene swaps the geometry drawn from the next frame on. The caller keeps
// owning both scenes and destroys the old one once the device is idle.
func (r *Renderer) SetScene(scene Scene) {
	r.scene = scene
}

// Stats returns the frame counters.
func (r *Renderer) Stats() Stats {
	return r.stats
}

// DrawFrame draws at most one frame. Transient conditions are reported as an
// Outcome with a nil error; an error always comes with Failed. An error wrapping ErrShutdown means the surface or
// the device is gone and the frame loop should stop; any other error is
// fatal.
func (r *Renderer) DrawFrame() (Outcome, error) {
	now := r.now()
	if r.interval > 0 && !r.lastFrame.IsZero() && now.Sub(r.lastFrame) < r.interval {
		return Throttled, nil
	}
	r.lastFrame = now

	ok, err := r.swapchain.CanDraw()
	if err != nil {
		return Failed, fmt.Errorf("recreating swapchain: %w", err)
	}
	if !ok {
		r.stats.Dropped++
		return SkippedNoSwapchain, nil
	}

	frame := r.frames.Current()
	dev := r.ctx.Device()

	res := dev.WaitForFence(dev.Handle, frame.Fence(), math.MaxUint64)
	if err := resultError("WaitForFence", res); err != nil {
		return Failed, fmt.Errorf("waiting for in flight fence: %w", err)
	}

	imageIndex, res := dev.AcquireNextImage(
		dev.Handle,
		r.swapchain.Handle(),
		0,
		frame.ImageAvailable(),
	)
	switch driver.Classify(res) {
	case driver.StatusSuccess:
	case driver.StatusSuboptimal:
		r.swapchain.NotifyStale()
	case driver.StatusNotReady:
		r.stats.Dropped++
		return SkippedNotReady, nil
	case driver.StatusOutOfDate:
		r.swapchain.NotifyStale()
		r.stats.Dropped++
		return SkippedNotReady, nil
	default:
		return Failed, fmt.Errorf("failed to acquire swapchain image: %w",
			resultError("AcquireNextImage", res))
	}

	ubo := NewUniformBufferObject(now.Sub(r.start), r.swapchain.Extent())
	if err := frame.WriteUniform(&ubo); err != nil {
		return Failed, fmt.Errorf("updating uniform buffer: %w", err)
	}

	if err := dev.ResetCommandBuffer(frame.CommandBuffer()); err != nil {
		return Failed, fmt.Errorf("resetting command buffer: %w", err)
	}
	if err := r.recordCommandBuffer(frame, imageIndex); err != nil {
		return Failed, fmt.Errorf("recording command buffer: %w", err)
	}

	// The fence is reset only now that a submission is certain to signal it.
	if err := dev.ResetFence(dev.Handle, frame.Fence()); err != nil {
		return Failed, checkLost(fmt.Errorf("resetting in flight fence: %w", err))
	}

	signalSemaphores := []vk.Semaphore{
		frame.RenderFinished(),
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{frame.ImageAvailable()},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{frame.CommandBuffer()},
		PSignalSemaphores:    signalSemaphores,
		SignalSemaphoreCount: uint32(len(signalSemaphores)),
	}

	err = dev.QueueSubmit(r.ctx.GraphicsQueue, []vk.SubmitInfo{submitInfo}, frame.Fence())
	if err != nil {
		return Failed, checkLost(fmt.Errorf("queue submit error: %w", err))
	}

	swapChains := []vk.Swapchain{
		r.swapchain.Handle(),
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(signalSemaphores)),
		PWaitSemaphores:    signalSemaphores,
		SwapchainCount:     uint32(len(swapChains)),
		PSwapchains:        swapChains,
		PImageIndices:      []uint32{imageIndex},
	}

	res = dev.QueuePresent(r.ctx.PresentQueue, &presentInfo)
	r.frames.Advance()

	switch driver.Classify(res) {
	case driver.StatusSuccess:
	case driver.StatusSuboptimal, driver.StatusOutOfDate:
		r.logger.Debug("swapchain stale after present", "result", driver.Classify(res))
		r.swapchain.NotifyStale()
	default:
		return Failed, fmt.Errorf("queue present: %w", resultError("QueuePresent", res))
	}

	r.stats.Drawn++
	return Drawn, nil
}

func (r *Renderer) recordCommandBuffer(frame *DrawingFrame, imageIndex uint32) error {
	dev := r.ctx.Device()
	commandBuffer := frame.CommandBuffer()

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if err := dev.BeginCommandBuffer(commandBuffer, &beginInfo); err != nil {
		return fmt.Errorf("cannot begin command buffer: %w", err)
	}

	framebuffer, err := r.swapchain.Framebuffer(imageIndex)
	if err != nil {
		return err
	}

	extent := r.swapchain.Extent()

	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor([]float32{0, 0, 0, 1})
	clearValues[1].SetDepthStencil(1, 0)

	renderPassInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  r.swapchain.RenderPass(),
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	dev.CmdBeginRenderPass(commandBuffer, &renderPassInfo)
	dev.CmdBindPipeline(commandBuffer, r.pipeline.Handle())

	dev.CmdSetViewport(commandBuffer, vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	dev.CmdSetScissor(commandBuffer, vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: extent,
	})

	dev.CmdBindVertexBuffers(
		commandBuffer,
		[]vk.Buffer{r.scene.Vertices.Handle()},
		[]vk.DeviceSize{0},
	)
	dev.CmdBindIndexBuffer(commandBuffer, r.scene.Indices.Handle(), r.scene.IndexType)
	dev.CmdBindDescriptorSets(
		commandBuffer,
		r.pipeline.Layout(),
		[]vk.DescriptorSet{frame.DescriptorSet()},
	)

	dev.CmdDrawIndexed(commandBuffer, r.scene.IndexCount)
	dev.CmdEndRenderPass(commandBuffer)

	if err := dev.EndCommandBuffer(commandBuffer); err != nil {
		return fmt.Errorf("recording commands to buffer failed: %w", err)
	}
	return nil
}
