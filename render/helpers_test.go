package render

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver/drivertest"
	"vulkan-lifetime/unsafer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContextConfig(fake *drivertest.Fake) ContextConfig {
	return ContextConfig{
		Instance:    InstanceConfig{AppName: "render test"},
		DeviceIndex: -1,
		CreateSurface: func(vk.Instance) (vk.Surface, error) {
			return fake.NewSurface(), nil
		},
	}
}

func newTestContext(t *testing.T, fake *drivertest.Fake) *Context {
	t.Helper()

	ctx, err := NewContext(fake, testLogger(), testContextConfig(fake))
	require.NoError(t, err)
	return ctx
}

// testRig is a complete drawing session over a fake driver.
type testRig struct {
	fake       *drivertest.Fake
	ctx        *Context
	renderPass *OwnedRenderPass
	pipeline   *Pipeline
	swapchain  *Swapchain
	texture    *Image
	sampler    *OwnedSampler
	frames     *FramePool
	scene      Scene
	renderer   *Renderer
}

func newTestRig(t *testing.T, fake *drivertest.Fake, frames int, cfg RendererConfig) *testRig {
	t.Helper()

	r := &testRig{fake: fake}
	r.ctx = newTestContext(t, fake)

	var err error
	r.swapchain, err = NewSwapchain(r.ctx, nil)
	require.NoError(t, err)

	r.renderPass, err = CreateRenderPass(r.ctx, RenderPassConfig{
		ColorFormat: r.swapchain.Format(),
		DepthFormat: r.swapchain.DepthFormat(),
		Final:       true,
	})
	require.NoError(t, err)
	r.swapchain.SetRenderPass(r.renderPass.Must())

	vert, err := CreateShaderModule(r.ctx.Device(), make([]byte, 16))
	require.NoError(t, err)
	defer vert.Destroy()

	frag, err := CreateShaderModule(r.ctx.Device(), make([]byte, 16))
	require.NoError(t, err)
	defer frag.Destroy()

	r.pipeline, err = NewPipeline(r.ctx, PipelineSpec{
		VertexShader:   vert.Must(),
		FragmentShader: frag.Must(),
		Binding: vk.VertexInputBindingDescription{
			Binding:   0,
			Stride:    32,
			InputRate: vk.VertexInputRateVertex,
		},
		RenderPass: r.renderPass.Must(),
	})
	require.NoError(t, err)

	r.texture, err = UploadTexture(r.ctx, make([]byte, 2*2*4), vk.Extent2D{Width: 2, Height: 2},
		vk.FormatR8g8b8a8Srgb)
	require.NoError(t, err)

	r.sampler, err = CreateSampler(r.ctx)
	require.NoError(t, err)

	r.frames, err = NewFramePool(r.ctx, FramePoolConfig{
		Frames:      frames,
		UniformSize: UniformSize,
		SetLayout:   r.pipeline.SetLayout(),
		TextureView: r.texture.View(),
		Sampler:     r.sampler.Must(),
	})
	require.NoError(t, err)

	vertices, err := UploadBuffer(r.ctx, make([]byte, 3*32),
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	require.NoError(t, err)

	indices, err := UploadBuffer(r.ctx, unsafer.SliceToBytes([]uint16{0, 1, 2}),
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	require.NoError(t, err)

	r.scene = Scene{
		Vertices:   vertices,
		Indices:    indices,
		IndexCount: 3,
		IndexType:  vk.IndexTypeUint16,
	}

	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	r.renderer = NewRenderer(r.ctx, r.swapchain, r.frames, r.pipeline, r.scene, cfg)
	return r
}

// Close tears the session down in reverse creation order.
func (r *testRig) Close() {
	_ = r.frames.Destroy()
	r.scene.Indices.Destroy()
	r.scene.Vertices.Destroy()
	r.sampler.Destroy()
	r.texture.Destroy()
	_ = r.swapchain.Destroy()
	r.pipeline.Destroy()
	r.renderPass.Destroy()
	_ = r.ctx.Close()
}
