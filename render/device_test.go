package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver/drivertest"
	"vulkan-lifetime/handle"
)

func TestNewContextAndClose(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)

	assert.Equal(t, uint32(0), ctx.Families.Graphics.Get())
	assert.Equal(t, uint32(0), ctx.Families.Present.Get())
	assert.NotNil(t, ctx.GraphicsQueue)
	assert.Equal(t, vk.Bool32(vk.True), ctx.Features.SamplerAnisotropy)
	assert.Equal(t, 1, fake.Count("CreateDevice"))

	fake.ResetCalls()
	require.NoError(t, ctx.Close())

	assert.Equal(t, []string{
		"DeviceWaitIdle",
		"DestroyCommandPool",
		"DestroyDevice",
		"DestroySurface",
		"DestroyInstance",
	}, fake.Calls())
	assert.Zero(t, fake.Live())
	assert.Empty(t, fake.Violations())
}

func TestNewContextPrefersDiscreteDevice(t *testing.T) {
	fake := drivertest.New()
	discrete := fake.Devices[0]

	integrated := discrete
	integrated.Name = "fake integrated"
	integrated.Type = vk.PhysicalDeviceTypeIntegratedGpu

	fake.Devices = []drivertest.PhysicalDevice{integrated, discrete}

	ctx := newTestContext(t, fake)
	defer ctx.Close()

	assert.Equal(t, vk.PhysicalDeviceTypeDiscreteGpu, ctx.Properties.DeviceType)
	assert.Equal(t, "fake discrete", vk.ToString(ctx.Properties.DeviceName[:]))
}

func TestNewContextSkipsUnsuitableDevice(t *testing.T) {
	fake := drivertest.New()
	capable := fake.Devices[0]

	noSwapchain := capable
	noSwapchain.Name = "no swapchain"
	noSwapchain.Extensions = nil

	capable.Type = vk.PhysicalDeviceTypeIntegratedGpu
	fake.Devices = []drivertest.PhysicalDevice{noSwapchain, capable}

	ctx := newTestContext(t, fake)
	defer ctx.Close()

	assert.Equal(t, vk.PhysicalDeviceTypeIntegratedGpu, ctx.Properties.DeviceType)
}

func TestNewContextNoSuitableDevice(t *testing.T) {
	fake := drivertest.New()
	fake.Devices[0].Extensions = nil

	ctx, err := NewContext(fake, testLogger(), testContextConfig(fake))
	require.ErrorIs(t, err, ErrInitialization)
	assert.Nil(t, ctx)

	assert.Zero(t, fake.Live())
	assert.Empty(t, fake.Violations())
}

func TestNewContextSelectsDeviceByIndex(t *testing.T) {
	fake := drivertest.New()
	second := fake.Devices[0]
	second.Name = "second"
	fake.Devices = append(fake.Devices, second)

	cfg := testContextConfig(fake)
	cfg.DeviceIndex = 1

	ctx, err := NewContext(fake, testLogger(), cfg)
	require.NoError(t, err)
	defer ctx.Close()

	assert.Equal(t, "second", vk.ToString(ctx.Properties.DeviceName[:]))
}

func TestNewContextDeviceIndexOutOfRange(t *testing.T) {
	fake := drivertest.New()

	cfg := testContextConfig(fake)
	cfg.DeviceIndex = 5

	_, err := NewContext(fake, testLogger(), cfg)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, fake.Live())
}

func TestNewContextSplitQueueFamilies(t *testing.T) {
	fake := drivertest.New()
	fake.Devices[0].QueueFamilies = []vk.QueueFamilyProperties{
		{QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit), QueueCount: 1},
		{QueueFlags: vk.QueueFlags(vk.QueueTransferBit), QueueCount: 1},
	}
	fake.Devices[0].PresentFamilies = []uint32{1}

	ctx := newTestContext(t, fake)
	defer ctx.Close()

	assert.Equal(t, uint32(0), ctx.Families.Graphics.Get())
	assert.Equal(t, uint32(1), ctx.Families.Present.Get())
	assert.Equal(t, []uint32{0, 1}, ctx.Families.Unique())
}

func TestNewContextReleasesOnDeviceFailure(t *testing.T) {
	fake := drivertest.New()
	fake.FailNext("CreateDevice", vk.ErrorInitializationFailed)

	_, err := NewContext(fake, testLogger(), testContextConfig(fake))
	require.ErrorIs(t, err, handle.ErrCreation)

	assert.Zero(t, fake.Live())
	assert.Empty(t, fake.Violations())
	assert.Equal(t, 1, fake.Count("DestroySurface"))
	assert.Equal(t, 1, fake.Count("DestroyInstance"))
}

func TestNewContextInstanceFailure(t *testing.T) {
	fake := drivertest.New()
	fake.FailNext("CreateInstance", vk.ErrorIncompatibleDriver)

	_, err := NewContext(fake, testLogger(), testContextConfig(fake))
	require.ErrorIs(t, err, ErrInitialization)
	assert.Zero(t, fake.Live())
}

func TestNewContextSurfaceFailure(t *testing.T) {
	fake := drivertest.New()
	cfg := testContextConfig(fake)
	cfg.CreateSurface = func(vk.Instance) (vk.Surface, error) {
		return vk.NullSurface, errors.New("no window")
	}

	_, err := NewContext(fake, testLogger(), cfg)
	require.ErrorIs(t, err, handle.ErrCreation)
	assert.Zero(t, fake.Live())
}

// nullQueueDriver is a driver which never hands out queues.
type nullQueueDriver struct {
	*drivertest.Fake
}

func (nullQueueDriver) GetQueue(vk.Device, uint32, uint32) vk.Queue {
	return nil
}

func TestGetQueueNull(t *testing.T) {
	_, err := GetQueue(nullQueueDriver{drivertest.New()}, nil, 0, 0)

	var nullErr *handle.NullHandleError
	require.ErrorAs(t, err, &nullErr)
	assert.ErrorIs(t, err, handle.ErrNullHandle)
}

func TestNewContextNullQueue(t *testing.T) {
	fake := drivertest.New()
	drv := nullQueueDriver{fake}

	_, err := NewContext(drv, testLogger(), testContextConfig(fake))
	require.ErrorIs(t, err, handle.ErrNullHandle)
	assert.Zero(t, fake.Live())
}

func TestContextWaitIdleDeviceLost(t *testing.T) {
	fake := drivertest.New()
	ctx := newTestContext(t, fake)

	fake.FailNext("DeviceWaitIdle", vk.ErrorDeviceLost)
	assert.ErrorIs(t, ctx.WaitIdle(), ErrShutdown)

	fake.FailNext("DeviceWaitIdle", vk.ErrorDeviceLost)
	assert.ErrorIs(t, ctx.Close(), ErrShutdown)
	assert.Zero(t, fake.Live())
}

func TestCreateInstanceEnablesLayers(t *testing.T) {
	fake := drivertest.New()

	instance, err := CreateInstance(fake, InstanceConfig{
		AppName:    "layers",
		Layers:     []string{"VK_LAYER_KHRONOS_validation"},
		Extensions: []string{"VK_KHR_surface\x00"},
	})
	require.NoError(t, err)
	assert.True(t, instance.Valid())

	instance.Destroy()
	assert.Zero(t, fake.Live())
}

func TestSelectPhysicalDeviceQueriesEveryDevice(t *testing.T) {
	fake := drivertest.New()
	for _, name := range []string{"second", "third"} {
		dev := fake.Devices[0]
		dev.Name = name
		fake.Devices = append(fake.Devices, dev)
	}

	instance, err := CreateInstance(fake, InstanceConfig{AppName: "select"})
	require.NoError(t, err)
	defer instance.Destroy()

	devices, err := fake.EnumeratePhysicalDevices(instance.Must())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	selected, err := SelectPhysicalDevice(fake, instance.Must(), 0)
	require.NoError(t, err)
	assert.True(t, selected == devices[0])

	// Choosing the first device still touches the ones after it.
	for i, device := range devices {
		assert.Equal(t, 1, fake.FamilyQueries(device), "device %d", i)
	}

	_, err = SelectPhysicalDevice(fake, instance.Must(), 3)
	require.ErrorIs(t, err, ErrOutOfRange)
	for i, device := range devices {
		assert.Equal(t, 2, fake.FamilyQueries(device), "device %d", i)
	}
}

func TestPickPhysicalDeviceNeedsSurfaceSupport(t *testing.T) {
	fake := drivertest.New()

	instance, err := CreateInstance(fake, InstanceConfig{AppName: "pick"})
	require.NoError(t, err)
	defer instance.Destroy()
	surface := fake.NewSurface()

	picked, err := PickPhysicalDevice(fake, testLogger(), instance.Must(), surface,
		[]string{vk.KhrSwapchainExtensionName})
	require.NoError(t, err)
	assert.True(t, picked != vk.PhysicalDevice(vk.NullHandle))

	fake.PresentModes = nil
	_, err = PickPhysicalDevice(fake, testLogger(), instance.Must(), surface,
		[]string{vk.KhrSwapchainExtensionName})
	assert.ErrorIs(t, err, ErrInitialization)
}
