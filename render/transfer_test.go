package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver/drivertest"
)

// assertBarrier compares image handles by identity since vk handles point
// at incomplete C types which reflection cannot walk.
func assertBarrier(t *testing.T, want, got drivertest.Barrier) {
	t.Helper()

	assert.True(t, want.Image == got.Image, "barrier image")
	want.Image, got.Image = vk.NullImage, vk.NullImage
	assert.Equal(t, want, got)
}

func TestUploadTexture(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	texture, err := UploadTexture(ctx, make([]byte, 4*2*4), vk.Extent2D{Width: 4, Height: 2},
		vk.FormatR8g8b8a8Srgb)
	require.NoError(t, err)

	assert.True(t, texture.HasView())
	assert.Equal(t, vk.Extent2D{Width: 4, Height: 2}, texture.Extent())

	barriers := fake.Barriers()
	require.Len(t, barriers, 2)

	assertBarrier(t, drivertest.Barrier{
		Image:     texture.Handle(),
		OldLayout: vk.ImageLayoutUndefined,
		NewLayout: vk.ImageLayoutTransferDstOptimal,
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		SrcAccess: 0,
		DstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
	}, barriers[0])

	assertBarrier(t, drivertest.Barrier{
		Image:     texture.Handle(),
		OldLayout: vk.ImageLayoutTransferDstOptimal,
		NewLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
	}, barriers[1])

	assert.Equal(t, 1, fake.SubmitCount())
	assert.Equal(t, 1, fake.Count("FreeCommandBuffers"))

	// Only the texture survives: the staging buffer and the fence are gone.
	assert.Zero(t, fake.LiveOf("buffer"))
	assert.Zero(t, fake.LiveOf("fence"))
	assert.Equal(t, 1, fake.LiveOf("memory"))

	texture.Destroy()
	assert.Zero(t, fake.LiveOf("memory"))
	assert.Empty(t, fake.Violations())
}

func TestUploadTextureWrongSize(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	_, err := UploadTexture(ctx, make([]byte, 10), vk.Extent2D{Width: 4, Height: 2},
		vk.FormatR8g8b8a8Srgb)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = UploadTexture(ctx, nil, vk.Extent2D{}, vk.FormatR8g8b8a8Srgb)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.Zero(t, fake.Count("CreateBuffer"))
}

func TestUploadTextureDeviceLost(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	fake.FailNext("QueueSubmit", vk.ErrorDeviceLost)
	_, err := UploadTexture(ctx, make([]byte, 4), vk.Extent2D{Width: 1, Height: 1},
		vk.FormatR8g8b8a8Srgb)
	require.ErrorIs(t, err, ErrShutdown)

	assert.Zero(t, fake.LiveOf("image"))
	assert.Zero(t, fake.LiveOf("memory"))
	assert.Zero(t, fake.LiveOf("buffer"))
	assert.Zero(t, fake.LiveOf("fence"))
	assert.Equal(t, 1, fake.Count("FreeCommandBuffers"))
	assert.Empty(t, fake.Violations())
}

func TestUploadTextureViewFailure(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	fake.FailNext("CreateImageView", vk.ErrorOutOfHostMemory)
	_, err := UploadTexture(ctx, make([]byte, 4), vk.Extent2D{Width: 1, Height: 1},
		vk.FormatR8g8b8a8Srgb)
	require.Error(t, err)

	assert.Zero(t, fake.LiveOf("image"))
	assert.Zero(t, fake.LiveOf("memory"))
}

func TestUploadBuffer(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	buffer, err := UploadBuffer(ctx, []byte{1, 2, 3, 4, 5, 6},
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	require.NoError(t, err)

	assert.Equal(t, vk.DeviceSize(6), buffer.Size())
	info, ok := fake.Allocation(buffer.Memory())
	require.True(t, ok)
	assert.Equal(t, uint32(1), info.MemoryTypeIndex)

	assert.Equal(t, 1, fake.SubmitCount())
	assert.Equal(t, 1, fake.LiveOf("buffer"))

	buffer.Destroy()
	assert.Zero(t, fake.LiveOf("buffer"))
	assert.Empty(t, fake.Violations())
}

func TestUploadBufferEmpty(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	_, err := UploadBuffer(ctx, nil, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestUploadBufferSubmitFailure(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)
	defer ctx.Close()

	fake.FailNext("EndCommandBuffer", vk.ErrorOutOfDeviceMemory)
	_, err := UploadBuffer(ctx, []byte{1, 2, 3, 4},
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	require.Error(t, err)

	assert.Zero(t, fake.LiveOf("buffer"))
	assert.Zero(t, fake.LiveOf("memory"))
	assert.Zero(t, fake.SubmitCount())
}

func TestUploadBufferUsesGraphicsFamily(t *testing.T) {
	fake := drivertest.New()
	fake.Devices[0].QueueFamilies = []vk.QueueFamilyProperties{
		{QueueFlags: vk.QueueFlags(vk.QueueTransferBit), QueueCount: 1},
		{QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit), QueueCount: 1},
	}
	fake.Devices[0].PresentFamilies = []uint32{1}

	ctx := newTestContext(t, fake)
	defer ctx.Close()

	buffer, err := UploadBuffer(ctx, []byte{1, 2, 3, 4},
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	require.NoError(t, err)
	defer buffer.Destroy()

	assert.Equal(t, []uint32{1}, fake.BufferFamilies(buffer.Handle()))
}
