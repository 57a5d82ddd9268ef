package render

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver/drivertest"
	"vulkan-lifetime/handle"
)

type fixedSizer struct {
	width, height int
}

func (s fixedSizer) FramebufferSize() (int, int) {
	return s.width, s.height
}

func closeRig(t *testing.T, rig *testRig) {
	t.Helper()

	rig.Close()
	assert.Zero(t, rig.fake.Live())
	assert.Empty(t, rig.fake.Violations())
}

func TestSwapchainBuildsLazily(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	sc := rig.swapchain
	assert.Equal(t, SwapchainUninitialized, sc.State())
	assert.Zero(t, sc.ImageCount())
	assert.Zero(t, fake.Count("CreateSwapchain"))

	ok, err := sc.CanDraw()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, SwapchainValid, sc.State())
	assert.Equal(t, 1, sc.Generation())
	assert.Equal(t, 3, sc.ImageCount())
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, sc.Extent())
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, sc.Format())
	assert.Equal(t, vk.FormatD32Sfloat, sc.DepthFormat())
	assert.Equal(t, vk.PresentModeMailbox, sc.PresentMode())

	infos := fake.SwapchainInfos()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].OldSwapchain == vk.NullSwapchain)
	assert.Equal(t, vk.SharingModeExclusive, infos[0].ImageSharingMode)
	assert.Equal(t, uint32(3), infos[0].MinImageCount)

	assert.Equal(t, 1, fake.LiveOf("swapchain"))
	assert.Equal(t, 3, fake.LiveOf("framebuffer"))
	// three swapchain views, the depth view and the texture view
	assert.Equal(t, 5, fake.LiveOf("view"))

	for i := range uint32(3) {
		framebuffer, err := sc.Framebuffer(i)
		require.NoError(t, err)
		assert.True(t, framebuffer != vk.NullFramebuffer)
	}
	_, err = sc.Framebuffer(3)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSwapchainStaleRebuildsOnce(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	sc := rig.swapchain
	_, err := sc.CanDraw()
	require.NoError(t, err)
	first := sc.Handle()

	sc.NotifyStale()
	sc.NotifyStale()
	sc.NotifyStale()
	assert.Equal(t, SwapchainStale, sc.State())

	for range 3 {
		ok, err := sc.CanDraw()
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.Equal(t, 2, fake.Count("CreateSwapchain"))
	assert.Equal(t, 2, sc.Generation())
	assert.Equal(t, SwapchainValid, sc.State())

	infos := fake.SwapchainInfos()
	require.Len(t, infos, 2)
	assert.True(t, first == infos[1].OldSwapchain, "old swapchain handed to its successor")

	// The retired swapchain is destroyed once its successor exists.
	calls := fake.Calls()
	created := lastIndex(calls, "CreateSwapchain")
	destroyed := lastIndex(calls, "DestroySwapchain")
	assert.Greater(t, destroyed, created)
	assert.Equal(t, 1, fake.LiveOf("swapchain"))
	assert.Equal(t, 3, fake.LiveOf("framebuffer"))
}

func lastIndex(calls []string, call string) int {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i] == call {
			return i
		}
	}
	return -1
}

func TestSwapchainZeroExtent(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	sc := rig.swapchain
	_, err := sc.CanDraw()
	require.NoError(t, err)

	fake.SetExtent(0, 0)
	sc.NotifyStale()

	ok, err := sc.CanDraw()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, SwapchainUninitialized, sc.State())
	assert.Zero(t, sc.ImageCount())
	assert.Zero(t, fake.LiveOf("swapchain"))
	assert.Zero(t, fake.LiveOf("framebuffer"))

	ok, err = sc.CanDraw()
	require.NoError(t, err)
	assert.False(t, ok)

	fake.SetExtent(1024, 0)
	require.NoError(t, sc.Recreate())
	assert.False(t, sc.Valid())

	fake.SetExtent(1024, 768)
	ok, err = sc.CanDraw()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vk.Extent2D{Width: 1024, Height: 768}, sc.Extent())
	assert.Equal(t, 2, sc.Generation())
}

func TestSwapchainExtentFromSizer(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.SetExtent(math.MaxUint32, math.MaxUint32)

	sizer := &fixedSizer{width: 5000, height: 300}
	sc, err := NewSwapchain(rig.ctx, sizer)
	require.NoError(t, err)
	defer sc.Destroy()
	sc.SetRenderPass(rig.renderPass.Must())

	require.NoError(t, sc.Recreate())
	assert.Equal(t, vk.Extent2D{Width: 4096, Height: 300}, sc.Extent())

	sizer.width, sizer.height = 0, 0
	sc.NotifyStale()
	ok, err := sc.CanDraw()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSwapchainSharedBetweenQueueFamilies(t *testing.T) {
	fake := drivertest.New()
	fake.Devices[0].QueueFamilies = []vk.QueueFamilyProperties{
		{QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit), QueueCount: 1},
		{QueueFlags: vk.QueueFlags(vk.QueueTransferBit), QueueCount: 1},
	}
	fake.Devices[0].PresentFamilies = []uint32{1}

	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	_, err := rig.swapchain.CanDraw()
	require.NoError(t, err)

	infos := fake.SwapchainInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, vk.SharingModeConcurrent, infos[0].ImageSharingMode)
	assert.Equal(t, []uint32{0, 1}, infos[0].PQueueFamilyIndices)
}

func TestSwapchainDestroyOrder(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	sc := rig.swapchain
	_, err := sc.CanDraw()
	require.NoError(t, err)

	fake.ResetCalls()
	require.NoError(t, sc.Destroy())

	assert.Equal(t, []string{
		"DeviceWaitIdle",
		"DestroyFramebuffer",
		"DestroyFramebuffer",
		"DestroyFramebuffer",
		"DestroyImageView",
		"DestroyImageView",
		"DestroyImageView",
		"DestroyImageView",
		"FreeMemory",
		"DestroyImage",
		"DestroySwapchain",
	}, fake.Calls())

	assert.Equal(t, SwapchainDestroyed, sc.State())

	ok, err := sc.CanDraw()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, sc.Recreate())
	assert.NoError(t, sc.Destroy())
}

func TestSwapchainRecreateFailureTearsDown(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.FailNext("CreateFramebuffer", vk.ErrorOutOfDeviceMemory)
	ok, err := rig.swapchain.CanDraw()
	require.Error(t, err)
	assert.ErrorIs(t, err, handle.ErrCreation)
	assert.False(t, ok)

	assert.Equal(t, SwapchainUninitialized, rig.swapchain.State())
	assert.Zero(t, fake.LiveOf("swapchain"))
	assert.Zero(t, fake.LiveOf("framebuffer"))
	// only the texture view and image remain
	assert.Equal(t, 1, fake.LiveOf("view"))
	assert.Equal(t, 1, fake.LiveOf("image"))

	ok, err = rig.swapchain.CanDraw()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSwapchainSurfaceLost(t *testing.T) {
	fake := drivertest.New()
	rig := newTestRig(t, fake, DefaultFramesInFlight, RendererConfig{})
	defer closeRig(t, rig)

	fake.FailNext("SurfaceCapabilities", vk.ErrorSurfaceLost)
	_, err := rig.swapchain.CanDraw()
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestSwapchainNeedsRenderPass(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	sc, err := NewSwapchain(ctx, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, sc.Recreate(), handle.ErrNullHandle)
	assert.NoError(t, sc.Destroy())
}

func TestNewSwapchainFallbacks(t *testing.T) {
	fake := drivertest.New()
	fake.Formats = []vk.SurfaceFormat{{
		Format:     vk.FormatR8g8b8a8Unorm,
		ColorSpace: vk.ColorSpaceSrgbNonlinear,
	}}
	fake.PresentModes = []vk.PresentMode{vk.PresentModeFifo}
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	sc, err := NewSwapchain(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, vk.FormatR8g8b8a8Unorm, sc.Format())
	assert.Equal(t, vk.PresentModeFifo, sc.PresentMode())
}

func TestNewSwapchainNoDepthFormat(t *testing.T) {
	fake := drivertest.New()
	fake.FormatFeatures = nil
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	_, err := NewSwapchain(ctx, nil)
	assert.Error(t, err)
}
