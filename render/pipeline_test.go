package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver"
	"vulkan-lifetime/driver/drivertest"
	"vulkan-lifetime/handle"
)

func TestCreateShaderModule(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	for _, size := range []int{0, 3, 6} {
		_, err := CreateShaderModule(ctx.Device(), make([]byte, size))
		assert.ErrorIs(t, err, ErrOutOfRange, "size %d", size)
	}
	assert.Zero(t, fake.Count("CreateShaderModule"))

	module, err := CreateShaderModule(ctx.Device(), make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.LiveOf("shader"))

	module.Destroy()
	assert.Zero(t, fake.LiveOf("shader"))
}

func TestNewPipeline(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	renderPass, err := CreateRenderPass(ctx, RenderPassConfig{
		ColorFormat: vk.FormatB8g8r8a8Srgb,
		DepthFormat: vk.FormatD32Sfloat,
		Final:       true,
	})
	require.NoError(t, err)
	defer renderPass.Destroy()

	pipeline, err := NewPipeline(ctx, PipelineSpec{RenderPass: renderPass.Must()})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateDescriptorSetLayout",
		"CreatePipelineLayout",
		"CreateGraphicsPipeline",
	}, fake.Calls()[len(fake.Calls())-3:])

	fake.ResetCalls()
	pipeline.Destroy()
	assert.Equal(t, []string{
		"DestroyPipeline",
		"DestroyPipelineLayout",
		"DestroyDescriptorSetLayout",
	}, fake.Calls())
}

func TestNewPipelineReleasesOnFailure(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	fake.FailNext("CreateGraphicsPipeline", vk.ErrorOutOfDeviceMemory)
	_, err := NewPipeline(ctx, PipelineSpec{})
	require.ErrorIs(t, err, handle.ErrCreation)

	assert.Zero(t, fake.LiveOf("pipelinelayout"))
	assert.Zero(t, fake.LiveOf("setlayout"))
	assert.Empty(t, fake.Violations())
}

func TestCreateRenderPassFailure(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	fake.FailNext("CreateRenderPass", vk.ErrorOutOfHostMemory)
	_, err := CreateRenderPass(ctx, RenderPassConfig{
		ColorFormat: vk.FormatB8g8r8a8Srgb,
		DepthFormat: vk.FormatD32Sfloat,
	})

	res, ok := driver.ResultOf(err)
	require.True(t, ok)
	assert.Equal(t, vk.ErrorOutOfHostMemory, res)
}
