package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver/drivertest"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func drawOnce(t *testing.T, r *Renderer, want Outcome) {
	t.Helper()

	outcome, err := r.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, want, outcome)
}

func TestDrawFrame(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	_, err := rig.swapchain.CanDraw()
	require.NoError(t, err)

	fake.ResetCalls()
	submits := fake.SubmitCount()

	drawOnce(t, rig.renderer, Drawn)

	assert.Equal(t, []string{
		"WaitForFence",
		"AcquireNextImage",
		"ResetCommandBuffer",
		"BeginCommandBuffer",
		"EndCommandBuffer",
		"ResetFence",
		"QueueSubmit",
		"QueuePresent",
	}, fake.Calls())

	frame, err := rig.frames.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"BeginRenderPass",
		"BindPipeline",
		"SetViewport",
		"SetScissor",
		"BindVertexBuffers",
		"BindIndexBuffer",
		"BindDescriptorSets",
		"DrawIndexed 3",
		"EndRenderPass",
	}, fake.Recorded(frame.CommandBuffer()))

	assert.Equal(t, submits+1, fake.SubmitCount())
	assert.Equal(t, 1, fake.PresentCount())
	assert.Equal(t, []uint32{0}, fake.PresentedImages())
	assert.True(t, fake.FenceSignaled(frame.Fence()))
	assert.Equal(t, SwapchainValid, rig.swapchain.State())
	assert.Equal(t, 1, rig.frames.Index())
	assert.Equal(t, Stats{Drawn: 1}, rig.renderer.Stats())

	uniform := fake.Mapped(frame.Uniform().Memory())[:UniformSize]
	assert.NotEqual(t, make([]byte, UniformSize), uniform)
}

func TestDrawFrameRoundRobin(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	for range 4 {
		drawOnce(t, rig.renderer, Drawn)
	}

	assert.Equal(t, 1, rig.frames.Index())
	assert.Equal(t, []uint32{0, 1, 2, 0}, fake.PresentedImages())
	assert.Equal(t, Stats{Drawn: 4}, rig.renderer.Stats())
	assert.Empty(t, fake.Violations())
}

func TestDrawFrameBlocksOnBusyFrame(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	_, err := rig.swapchain.CanDraw()
	require.NoError(t, err)

	fake.SetAutoComplete(false)

	for range DefaultFramesInFlight {
		drawOnce(t, rig.renderer, Drawn)
	}
	acquired := fake.Count("AcquireNextImage")
	recorded := fake.Count("BeginCommandBuffer")

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := rig.renderer.DrawFrame()
		done <- result{outcome, err}
	}()

	assert.Eventually(t, func() bool {
		return fake.Waiting() == 1
	}, time.Second, time.Millisecond)

	// The busy frame's command buffer is not touched while it waits.
	assert.Equal(t, acquired, fake.Count("AcquireNextImage"))
	assert.Equal(t, recorded, fake.Count("BeginCommandBuffer"))
	select {
	case <-done:
		t.Fatal("DrawFrame returned while every frame was in flight")
	default:
	}

	fake.CompleteSubmissions()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, Drawn, res.outcome)
	case <-time.After(time.Second):
		t.Fatal("DrawFrame still blocked after the GPU finished")
	}

	fake.SetAutoComplete(true)
	assert.Empty(t, fake.Violations())
}

func TestDrawFramePresentSuboptimal(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.PushPresentResults(vk.Suboptimal)
	drawOnce(t, rig.renderer, Drawn)

	assert.Equal(t, SwapchainStale, rig.swapchain.State())
	assert.Equal(t, 1, fake.Count("CreateSwapchain"))

	drawOnce(t, rig.renderer, Drawn)

	assert.Equal(t, 2, fake.Count("CreateSwapchain"))
	assert.Equal(t, SwapchainValid, rig.swapchain.State())
	assert.Equal(t, Stats{Drawn: 2}, rig.renderer.Stats())
}

func TestDrawFramePresentOutOfDate(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.PushPresentResults(vk.ErrorOutOfDate)
	drawOnce(t, rig.renderer, Drawn)
	assert.Equal(t, SwapchainStale, rig.swapchain.State())

	drawOnce(t, rig.renderer, Drawn)
	assert.Equal(t, 2, rig.swapchain.Generation())
}

func TestDrawFrameAcquireNotReady(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.PushAcquireResults(vk.NotReady, vk.Timeout)
	drawOnce(t, rig.renderer, SkippedNotReady)
	drawOnce(t, rig.renderer, SkippedNotReady)

	frame, err := rig.frames.Frame(0)
	require.NoError(t, err)

	// The slot stays open: its fence was never reset.
	assert.True(t, fake.FenceSignaled(frame.Fence()))
	assert.Zero(t, fake.Count("ResetFence"))
	assert.Equal(t, 0, rig.frames.Index())
	assert.Equal(t, Stats{Dropped: 2}, rig.renderer.Stats())

	drawOnce(t, rig.renderer, Drawn)
	assert.Equal(t, Stats{Drawn: 1, Dropped: 2}, rig.renderer.Stats())
}

func TestDrawFrameAcquireOutOfDate(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.PushAcquireResults(vk.ErrorOutOfDate)
	drawOnce(t, rig.renderer, SkippedNotReady)
	assert.Equal(t, SwapchainStale, rig.swapchain.State())

	drawOnce(t, rig.renderer, Drawn)
	assert.Equal(t, 2, fake.Count("CreateSwapchain"))
}

func TestDrawFrameAcquireSuboptimal(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.PushAcquireResults(vk.Suboptimal)
	drawOnce(t, rig.renderer, Drawn)

	assert.Equal(t, 1, fake.PresentCount())
	assert.Equal(t, SwapchainStale, rig.swapchain.State())
}

func TestDrawFrameZeroExtent(t *testing.T) {
	fake := drivertest.New()
	fake.SetExtent(0, 0)
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	submits := fake.SubmitCount()
	waits := fake.Count("WaitForFence")
	drawOnce(t, rig.renderer, SkippedNoSwapchain)
	drawOnce(t, rig.renderer, SkippedNoSwapchain)

	assert.Equal(t, submits, fake.SubmitCount())
	assert.Equal(t, waits, fake.Count("WaitForFence"))
	assert.Equal(t, Stats{Dropped: 2}, rig.renderer.Stats())

	fake.SetExtent(640, 480)
	drawOnce(t, rig.renderer, Drawn)
}

func TestDrawFrameThrottled(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}

	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{
		TargetFPS: 10,
		Now:       clock.Now,
	})
	defer closeRig(t, rig)

	drawOnce(t, rig.renderer, Drawn)

	clock.Advance(50 * time.Millisecond)
	fake.ResetCalls()
	drawOnce(t, rig.renderer, Throttled)
	assert.Empty(t, fake.Calls())

	clock.Advance(60 * time.Millisecond)
	drawOnce(t, rig.renderer, Drawn)

	assert.Equal(t, Stats{Drawn: 2}, rig.renderer.Stats())
}

func TestDrawFrameDeviceLost(t *testing.T) {
	cases := map[string]func(*drivertest.Fake){
		"acquire surface lost": func(f *drivertest.Fake) {
			f.PushAcquireResults(vk.ErrorSurfaceLost)
		},
		"present device lost": func(f *drivertest.Fake) {
			f.PushPresentResults(vk.ErrorDeviceLost)
		},
		"submit device lost": func(f *drivertest.Fake) {
			f.FailNext("QueueSubmit", vk.ErrorDeviceLost)
		},
		"fence wait device lost": func(f *drivertest.Fake) {
			f.FailNext("WaitForFence", vk.ErrorDeviceLost)
		},
	}

	for name, inject := range cases {
		t.Run(name, func(t *testing.T) {
			fake := drivertest.New()
			rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
			defer closeRig(t, rig)

			_, err := rig.swapchain.CanDraw()
			require.NoError(t, err)

			inject(fake)
			outcome, err := rig.renderer.DrawFrame()
			assert.ErrorIs(t, err, ErrShutdown)
			assert.Equal(t, Failed, outcome)
		})
	}
}

func TestDrawFrameFatalError(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	_, err := rig.swapchain.CanDraw()
	require.NoError(t, err)

	fake.PushPresentResults(vk.ErrorOutOfHostMemory)
	outcome, err := rig.renderer.DrawFrame()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrShutdown)
	assert.Equal(t, Failed, outcome)

	fake.FailNext("QueueSubmit", vk.ErrorOutOfDeviceMemory)
	outcome, err = rig.renderer.DrawFrame()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrShutdown)
	assert.Equal(t, Failed, outcome)
	assert.Zero(t, rig.renderer.Stats().Drawn)
	assert.Equal(t, "failed", Failed.String())
}

func TestRendererSetPipeline(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	drawOnce(t, rig.renderer, Drawn)

	module, err := CreateShaderModule(rig.ctx.Device(), make([]byte, 16))
	require.NoError(t, err)
	defer module.Destroy()

	replacement, err := NewPipeline(rig.ctx, PipelineSpec{
		VertexShader:   module.Must(),
		FragmentShader: module.Must(),
		RenderPass:     rig.renderPass.Must(),
	})
	require.NoError(t, err)

	require.NoError(t, rig.ctx.WaitIdle())
	rig.renderer.SetPipeline(replacement)
	rig.pipeline.Destroy()
	rig.pipeline = replacement

	drawOnce(t, rig.renderer, Drawn)
	assert.Equal(t, Stats{Drawn: 2}, rig.renderer.Stats())
}
