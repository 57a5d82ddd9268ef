package render

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver"
	"vulkan-lifetime/handle"
	"vulkan-lifetime/queues"
)

// SwapchainExtension is the device extension every presenting device needs.
const SwapchainExtension = "VK_KHR_swapchain"

type (
	// OwnedInstance is an instance owned by the driver which created it.
	OwnedInstance = handle.Owned[vk.Instance, driver.InstanceDriver]

	// OwnedSurface is a presentation surface owned by its instance.
	OwnedSurface = handle.Owned[vk.Surface, vk.Instance]

	// OwnedDevice is a logical device owned by its physical device.
	OwnedDevice = handle.Owned[vk.Device, vk.PhysicalDevice]
)

// InstanceConfig lists what the instance has to be created with.
type InstanceConfig struct {
	AppName    string
	Layers     []string
	Extensions []string
}

// CreateInstance creates the API session object with the given layers and
// extensions enabled.
func CreateInstance(drv driver.InstanceDriver, cfg InstanceConfig) (*OwnedInstance, error) {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString(cfg.AppName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "No Engine\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion10,
	}

	extensions := safeStrings(cfg.Extensions)
	layers := safeStrings(cfg.Layers)

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	instance, err := handle.Create(
		drv,
		func(drv driver.InstanceDriver) (vk.Instance, error) {
			return drv.CreateInstance(&createInfo)
		},
		func(h vk.Instance, drv driver.InstanceDriver) {
			drv.DestroyInstance(h)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	return instance, nil
}

// SelectPhysicalDevice returns the physical device at index. The queue
// family properties of every enumerated device are queried once on the way,
// which some drivers expect before a device is created on any of them.
func SelectPhysicalDevice(
	drv driver.InstanceDriver,
	instance vk.Instance,
	index int,
) (vk.PhysicalDevice, error) {
	devices, err := enumerateDevices(drv, instance)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("%w: physical device %d of %d", ErrOutOfRange, index, len(devices))
	}

	return devices[index], nil
}

func enumerateDevices(drv driver.InstanceDriver, instance vk.Instance) ([]vk.PhysicalDevice, error) {
	devices, err := drv.EnumeratePhysicalDevices(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate the physical devices: %w", err)
	}

	for _, device := range devices {
		_ = drv.QueueFamilyProperties(device)
	}

	return devices, nil
}

// PickPhysicalDevice scores every device which can render and present to
// surface and returns the best one. Discrete GPUs win over everything else.
func PickPhysicalDevice(
	drv driver.Driver,
	logger *slog.Logger,
	instance vk.Instance,
	surface vk.Surface,
	extensions []string,
) (vk.PhysicalDevice, error) {
	devices, err := enumerateDevices(drv, instance)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: failed to find GPUs with Vulkan support", ErrInitialization)
	}

	var (
		selectedDevice vk.PhysicalDevice
		score          uint32
	)

	for _, device := range devices {
		candidate := deviceScore(drv, device, surface, extensions)

		properties := drv.PhysicalDeviceProperties(device)
		logger.Debug("available device",
			"name", vk.ToString(properties.DeviceName[:]),
			"score", candidate,
		)

		if candidate > score {
			selectedDevice = device
			score = candidate
		}
	}

	if selectedDevice == vk.PhysicalDevice(vk.NullHandle) {
		return nil, fmt.Errorf("%w: failed to find suitable physical devices", ErrInitialization)
	}

	return selectedDevice, nil
}

func deviceScore(
	drv driver.Driver,
	device vk.PhysicalDevice,
	surface vk.Surface,
	extensions []string,
) uint32 {
	if !deviceSuitable(drv, device, surface, extensions) {
		return 0
	}

	var score uint32
	properties := drv.PhysicalDeviceProperties(device)
	if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
		score += 1000
	} else {
		score++
	}

	if drv.PhysicalDeviceFeatures(device).SamplerAnisotropy == vk.True {
		score += 10
	}

	return score
}

func deviceSuitable(
	drv driver.Driver,
	device vk.PhysicalDevice,
	surface vk.Surface,
	extensions []string,
) bool {
	indices, err := queues.Find(drv, device, surface)
	if err != nil || !indices.IsComplete() {
		return false
	}

	if !extensionsSupported(drv, device, extensions) {
		return false
	}

	formats, err := drv.SurfaceFormats(device, surface)
	if err != nil || len(formats) == 0 {
		return false
	}
	presentModes, err := drv.SurfacePresentModes(device, surface)
	if err != nil || len(presentModes) == 0 {
		return false
	}

	return true
}

func extensionsSupported(drv driver.InstanceDriver, device vk.PhysicalDevice, required []string) bool {
	available, err := drv.DeviceExtensions(device)
	if err != nil {
		return false
	}

	for i := range available {
		available[i] = strings.TrimRight(available[i], "\x00")
	}

	for _, name := range required {
		if !slices.Contains(available, strings.TrimRight(name, "\x00")) {
			return false
		}
	}
	return true
}

// QueueRequest asks for queues from one family. One queue is created per
// priority.
type QueueRequest struct {
	Family     uint32
	Priorities []float32
}

// CreateLogicalDevice creates a device on pd with the requested queues,
// extensions and features. Features may be nil.
func CreateLogicalDevice(
	drv driver.DeviceDriver,
	pd vk.PhysicalDevice,
	requests []QueueRequest,
	extensions []string,
	features *vk.PhysicalDeviceFeatures,
) (*OwnedDevice, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: no queues requested", ErrInitialization)
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, 0, len(requests))
	for _, req := range requests {
		priorities := req.Priorities
		if len(priorities) == 0 {
			priorities = []float32{1.0}
		}

		queueCreateInfos = append(queueCreateInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: req.Family,
			QueueCount:       uint32(len(priorities)),
			PQueuePriorities: priorities,
		})
	}

	deviceExtensions := safeStrings(extensions)
	createInfo := vk.DeviceCreateInfo{
		SType: vk.StructureTypeDeviceCreateInfo,

		PQueueCreateInfos:    queueCreateInfos,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),

		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: deviceExtensions,
	}
	if features != nil {
		createInfo.PEnabledFeatures = []vk.PhysicalDeviceFeatures{*features}
	}

	device, err := handle.Create(
		pd,
		func(pd vk.PhysicalDevice) (vk.Device, error) {
			return drv.CreateDevice(pd, &createInfo)
		},
		func(h vk.Device, _ vk.PhysicalDevice) {
			drv.DestroyDevice(h)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logical device: %w", err)
	}

	return device, nil
}

// GetQueue retrieves a queue of the device. A null queue means the device was
// created without it and is reported as ErrNullHandle.
func GetQueue(drv driver.DeviceDriver, device vk.Device, family, index uint32) (vk.Queue, error) {
	queue := drv.GetQueue(device, family, index)
	if queue == vk.Queue(vk.NullHandle) {
		return nil, fmt.Errorf("queue %d of family %d: %w", index, family,
			&handle.NullHandleError{Type: "vk.Queue"})
	}
	return queue, nil
}

// ContextConfig describes how a Context is set up.
type ContextConfig struct {
	Instance InstanceConfig

	// DeviceIndex selects a physical device by enumeration order. A negative
	// value picks the best suitable device instead.
	DeviceIndex int

	// DeviceExtensions are enabled on the logical device. The swapchain
	// extension is always added.
	DeviceExtensions []string

	// CreateSurface makes the presentation surface for the new instance.
	CreateSurface func(instance vk.Instance) (vk.Surface, error)
}

// Context is one rendering session: the instance, the surface, the chosen
// physical device, the logical device with its queues and the command pool
// used for every command buffer. It is created once and shared read-only by
// every other component.
type Context struct {
	Driver driver.Driver
	Logger *slog.Logger

	PhysicalDevice   vk.PhysicalDevice
	Properties       vk.PhysicalDeviceProperties
	Features         vk.PhysicalDeviceFeatures
	MemoryProperties vk.PhysicalDeviceMemoryProperties
	Families         queues.FamilyIndices
	GraphicsQueue    vk.Queue
	PresentQueue     vk.Queue

	instance    *OwnedInstance
	surface     *OwnedSurface
	device      *OwnedDevice
	commandPool *OwnedCommandPool

	teardown handle.Stack
}

// NewContext brings a session up. On failure everything created so far is
// released again.
func NewContext(drv driver.Driver, logger *slog.Logger, cfg ContextConfig) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CreateSurface == nil {
		return nil, fmt.Errorf("%w: no surface factory", ErrInitialization)
	}

	c := &Context{
		Driver: drv,
		Logger: logger,
	}

	if err := c.init(cfg); err != nil {
		c.teardown.Destroy()
		return nil, err
	}

	return c, nil
}

func (c *Context) init(cfg ContextConfig) error {
	instance, err := CreateInstance(c.Driver, cfg.Instance)
	if err != nil {
		return fmt.Errorf("createInstance: %w", err)
	}
	c.instance = instance
	c.teardown.Push(instance)

	surface, err := handle.Create(
		instance.Must(),
		cfg.CreateSurface,
		func(h vk.Surface, instance vk.Instance) {
			c.Driver.DestroySurface(instance, h)
		},
	)
	if err != nil {
		return fmt.Errorf("createSurface: %w", err)
	}
	c.surface = surface
	c.teardown.Push(surface)

	extensions := slices.Clone(cfg.DeviceExtensions)
	if !slices.ContainsFunc(extensions, func(name string) bool {
		return strings.TrimRight(name, "\x00") == SwapchainExtension
	}) {
		extensions = append(extensions, SwapchainExtension)
	}

	if cfg.DeviceIndex >= 0 {
		c.PhysicalDevice, err = SelectPhysicalDevice(c.Driver, instance.Must(), cfg.DeviceIndex)
	} else {
		c.PhysicalDevice, err = PickPhysicalDevice(
			c.Driver, c.Logger, instance.Must(), surface.Must(), extensions,
		)
	}
	if err != nil {
		return fmt.Errorf("pickPhysicalDevice: %w", err)
	}

	c.Properties = c.Driver.PhysicalDeviceProperties(c.PhysicalDevice)
	c.MemoryProperties = c.Driver.MemoryProperties(c.PhysicalDevice)

	c.Families, err = queues.Find(c.Driver, c.PhysicalDevice, surface.Must())
	if err != nil {
		return fmt.Errorf("findQueueFamilies: %w", err)
	}
	if !c.Families.IsComplete() {
		return fmt.Errorf("%w: physical device does not have all the queues required",
			ErrInitialization)
	}

	supported := c.Driver.PhysicalDeviceFeatures(c.PhysicalDevice)
	c.Features = vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: supported.SamplerAnisotropy,
	}

	var requests []QueueRequest
	for _, family := range c.Families.Unique() {
		requests = append(requests, QueueRequest{Family: family})
	}

	device, err := CreateLogicalDevice(c.Driver, c.PhysicalDevice, requests, extensions, &c.Features)
	if err != nil {
		return fmt.Errorf("createLogicalDevice: %w", err)
	}
	c.device = device
	c.teardown.Push(device)

	c.GraphicsQueue, err = GetQueue(c.Driver, device.Must(), c.Families.Graphics.Get(), 0)
	if err != nil {
		return fmt.Errorf("graphics queue: %w", err)
	}
	c.PresentQueue, err = GetQueue(c.Driver, device.Must(), c.Families.Present.Get(), 0)
	if err != nil {
		return fmt.Errorf("present queue: %w", err)
	}

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: c.Families.Graphics.Get(),
	}
	commandPool, err := handle.Create(
		c.Device(),
		func(d Device) (vk.CommandPool, error) {
			return d.CreateCommandPool(d.Handle, &poolInfo)
		},
		destroyCommandPool,
	)
	if err != nil {
		return fmt.Errorf("createCommandPool: %w", err)
	}
	c.commandPool = commandPool
	c.teardown.Push(commandPool)

	name := vk.ToString(c.Properties.DeviceName[:])
	c.Logger.Info("device ready",
		"device", name,
		"graphicsFamily", c.Families.Graphics.Get(),
		"presentFamily", c.Families.Present.Get(),
	)

	return nil
}

// Device returns the logical device as the owner of device level handles.
func (c *Context) Device() Device {
	return Device{Driver: c.Driver, Handle: c.device.Must()}
}

// Instance returns the instance handle.
func (c *Context) Instance() vk.Instance {
	return c.instance.Must()
}

// Surface returns the presentation surface.
func (c *Context) Surface() vk.Surface {
	return c.surface.Must()
}

// CommandPool returns the pool used for all command buffers of the session.
func (c *Context) CommandPool() vk.CommandPool {
	return c.commandPool.Must()
}

// FindMemoryType finds a memory type of this device. See FindMemoryTypeIndex.
func (c *Context) FindMemoryType(allowedTypeBits uint32, required vk.MemoryPropertyFlags) (uint32, error) {
	return FindMemoryTypeIndex(c.MemoryProperties, allowedTypeBits, required)
}

// WaitIdle blocks until the device has finished all submitted work.
func (c *Context) WaitIdle() error {
	if !c.device.Valid() {
		return nil
	}
	return checkLost(c.Driver.DeviceWaitIdle(c.device.Must()))
}

// Close waits for the device to go idle and destroys the session in reverse
// creation order. Objects created from the context must be destroyed first.
func (c *Context) Close() error {
	err := c.WaitIdle()
	if err != nil && !errors.Is(err, ErrShutdown) {
		c.Logger.Error("waiting for device idle before teardown", "err", err)
	}
	c.teardown.Destroy()
	return err
}

func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}
