// Package drivertest provides an in-memory driver.Driver which hands out
// unique handles, records every call and tracks which handles are alive.
package drivertest

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver"
)

// PhysicalDevice describes one adapter reported by the fake.
type PhysicalDevice struct {
	Name          string
	Type          vk.PhysicalDeviceType
	QueueFamilies []vk.QueueFamilyProperties

	// PresentFamilies lists the family indices which can present to any
	// surface.
	PresentFamilies []uint32
	Extensions      []string
	Features        vk.PhysicalDeviceFeatures
}

// Barrier is a recorded image layout transition.
type Barrier struct {
	Image     vk.Image
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
	SrcStage  vk.PipelineStageFlags
	DstStage  vk.PipelineStageFlags
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// Fake is a driver.Driver for tests. Its exported configuration fields must
// be set before the fake is shared between goroutines.
type Fake struct {
	Devices        []PhysicalDevice
	MemoryTypes    []vk.MemoryType
	Capabilities   vk.SurfaceCapabilities
	Formats        []vk.SurfaceFormat
	PresentModes   []vk.PresentMode
	FormatFeatures map[vk.Format]vk.FormatProperties

	mu   sync.Mutex
	cond *sync.Cond

	// keeps minted handle targets reachable
	arena []*uint64

	calls      []string
	live       map[unsafe.Pointer]string
	violations []string
	failures   map[string]vk.Result

	physical      []vk.PhysicalDevice
	familyQueries map[vk.PhysicalDevice]int

	buffers     map[vk.Buffer]vk.DeviceSize
	bufferOwner map[vk.Buffer][]uint32
	images      map[vk.Image]vk.Extent3D
	allocations map[vk.DeviceMemory]vk.MemoryAllocateInfo
	mapped      map[vk.DeviceMemory][]byte

	autoComplete bool
	fences       map[vk.Fence]bool
	pending      []vk.Fence
	waiting      int
	submits      int

	swapchains      map[vk.Swapchain][]vk.Image
	swapchainInfos  []vk.SwapchainCreateInfo
	nextImage       uint32
	acquireResults  []vk.Result
	presentResults  []vk.Result
	presents        int
	presentedImages []uint32

	barriers  []Barrier
	recording map[vk.CommandBuffer][]string
}

var _ driver.Driver = (*Fake)(nil)

// New returns a fake with a single discrete adapter which has one queue
// family for graphics and presentation, a host visible and a device local
// memory type and an 800x600 surface.
func New() *Fake {
	f := &Fake{
		Devices: []PhysicalDevice{{
			Name: "fake discrete",
			Type: vk.PhysicalDeviceTypeDiscreteGpu,
			QueueFamilies: []vk.QueueFamilyProperties{{
				QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueTransferBit),
				QueueCount: 1,
			}},
			PresentFamilies: []uint32{0},
			Extensions:      []string{"VK_KHR_swapchain"},
			Features:        vk.PhysicalDeviceFeatures{SamplerAnisotropy: vk.True},
		}},
		MemoryTypes: []vk.MemoryType{
			{PropertyFlags: vk.MemoryPropertyFlags(
				vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
			)},
			{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)},
		},
		Capabilities: vk.SurfaceCapabilities{
			MinImageCount:  2,
			MaxImageCount:  3,
			CurrentExtent:  vk.Extent2D{Width: 800, Height: 600},
			MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},

			MaxImageArrayLayers: 1,
			CurrentTransform:    vk.SurfaceTransformIdentityBit,
		},
		Formats: []vk.SurfaceFormat{{
			Format:     vk.FormatB8g8r8a8Srgb,
			ColorSpace: vk.ColorSpaceSrgbNonlinear,
		}},
		PresentModes: []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox},
		FormatFeatures: map[vk.Format]vk.FormatProperties{
			vk.FormatD32Sfloat: {
				OptimalTilingFeatures: vk.FormatFeatureFlags(
					vk.FormatFeatureDepthStencilAttachmentBit,
				),
			},
		},

		live:         make(map[unsafe.Pointer]string),
		failures:     make(map[string]vk.Result),
		buffers:      make(map[vk.Buffer]vk.DeviceSize),
		images:       make(map[vk.Image]vk.Extent3D),
		allocations:  make(map[vk.DeviceMemory]vk.MemoryAllocateInfo),
		mapped:       make(map[vk.DeviceMemory][]byte),
		fences:       make(map[vk.Fence]bool),
		swapchains:   make(map[vk.Swapchain][]vk.Image),
		recording:    make(map[vk.CommandBuffer][]string),
		autoComplete: true,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// mint returns a new unique non-nil pointer. Callers hold f.mu.
func (f *Fake) mint() unsafe.Pointer {
	p := new(uint64)
	f.arena = append(f.arena, p)
	return unsafe.Pointer(p)
}

// create mints a handle of the given kind and marks it alive, or returns the
// injected failure for call. Callers hold f.mu.
func (f *Fake) create(call, kind string) (unsafe.Pointer, error) {
	f.calls = append(f.calls, call)
	if res, ok := f.failures[call]; ok {
		delete(f.failures, call)
		return nil, &driver.Error{Result: res, Call: call}
	}

	p := f.mint()
	f.live[p] = kind
	return p, nil
}

// destroy marks a handle dead. Destroying a nil, unknown or already
// destroyed handle is recorded as a violation. Callers hold f.mu.
func (f *Fake) destroy(call, kind string, p unsafe.Pointer) {
	f.calls = append(f.calls, call)
	if p == nil {
		f.violations = append(f.violations, fmt.Sprintf("%s: null %s", call, kind))
		return
	}
	got, ok := f.live[p]
	if !ok {
		f.violations = append(f.violations, fmt.Sprintf("%s: %s %p is not alive", call, kind, p))
		return
	}
	if got != kind {
		f.violations = append(f.violations, fmt.Sprintf("%s: %p is a %s, not a %s", call, p, got, kind))
	}
	delete(f.live, p)
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *Fake) failure(call string) error {
	if res, ok := f.failures[call]; ok {
		delete(f.failures, call)
		return &driver.Error{Result: res, Call: call}
	}
	return nil
}

// FailNext makes the next invocation of the named driver method fail with res.
func (f *Fake) FailNext(call string, res vk.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[call] = res
}

// Calls returns the names of the driver methods invoked so far, in order.
// Pure queries are not recorded.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (f *Fake) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, call := range f.Calls() {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}
	return out
}

// Count returns how many times call was invoked.
func (f *Fake) Count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Live returns the number of handles created and not yet destroyed.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// LiveOf returns the number of alive handles of one kind such as "buffer".
func (f *Fake) LiveOf(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int
	for _, k := range f.live {
		if k == kind {
			n++
		}
	}
	return n
}

// Violations lists destroy calls on handles which were not alive.
func (f *Fake) Violations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.violations)
}

// NewSurface mints a surface the way a windowing library would.
func (f *Fake) NewSurface() vk.Surface {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.mint()
	f.live[p] = "surface"
	return vk.Surface(p)
}

// SetExtent changes the extent the surface reports.
func (f *Fake) SetExtent(width, height uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Capabilities.CurrentExtent = vk.Extent2D{Width: width, Height: height}
}

// SetAutoComplete controls whether submitted work completes immediately.
// When off, fences passed to QueueSubmit stay unsignaled until
// CompleteSubmissions is called.
func (f *Fake) SetAutoComplete(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoComplete = on
}

// CompleteSubmissions signals every fence of pending submissions.
func (f *Fake) CompleteSubmissions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeLocked()
}

func (f *Fake) completeLocked() {
	for _, fence := range f.pending {
		if _, ok := f.fences[fence]; ok {
			f.fences[fence] = true
		}
	}
	f.pending = nil
	f.cond.Broadcast()
}

// Waiting returns the number of goroutines blocked in WaitForFence.
func (f *Fake) Waiting() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting
}

// FenceSignaled reports the state of a fence.
func (f *Fake) FenceSignaled(fence vk.Fence) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fences[fence]
}

// SubmitCount returns how many QueueSubmit calls succeeded.
func (f *Fake) SubmitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

// PresentCount returns how many presents were accepted.
func (f *Fake) PresentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presents
}

// PresentedImages returns the swapchain image indices passed to QueuePresent.
func (f *Fake) PresentedImages() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.presentedImages)
}

// PushAcquireResults queues results returned by the next AcquireNextImage
// calls. Once drained, acquiring succeeds.
func (f *Fake) PushAcquireResults(results ...vk.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquireResults = append(f.acquireResults, results...)
}

// PushPresentResults queues results returned by the next QueuePresent calls.
func (f *Fake) PushPresentResults(results ...vk.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentResults = append(f.presentResults, results...)
}

// SwapchainInfos returns every create info passed to CreateSwapchain.
func (f *Fake) SwapchainInfos() []vk.SwapchainCreateInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.swapchainInfos)
}

// Allocation returns the allocate info a memory object was created with.
func (f *Fake) Allocation(memory vk.DeviceMemory) (vk.MemoryAllocateInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.allocations[memory]
	return info, ok
}

// Mapped returns the host copy of a mapped memory object.
func (f *Fake) Mapped(memory vk.DeviceMemory) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mapped[memory]
}

// Barriers returns the image layout transitions recorded so far.
func (f *Fake) Barriers() []Barrier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.barriers)
}

// Recorded returns the commands recorded into cb since its last begin.
func (f *Fake) Recorded(cb vk.CommandBuffer) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.recording[cb])
}

func (f *Fake) recordCmd(cb vk.CommandBuffer, cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording[cb] = append(f.recording[cb], cmd)
}

// Instance level.

func (f *Fake) CreateInstance(info *vk.InstanceCreateInfo) (vk.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateInstance", "instance")
	if err != nil {
		return nil, err
	}

	f.physical = f.physical[:0]
	for range f.Devices {
		f.physical = append(f.physical, vk.PhysicalDevice(f.mint()))
	}
	return vk.Instance(p), nil
}

func (f *Fake) DestroyInstance(instance vk.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyInstance", "instance", unsafe.Pointer(instance))
}

func (f *Fake) DestroySurface(instance vk.Instance, surface vk.Surface) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroySurface", "surface", unsafe.Pointer(surface))
}

func (f *Fake) EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure("EnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	return slices.Clone(f.physical), nil
}

func (f *Fake) device(pd vk.PhysicalDevice) PhysicalDevice {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := slices.Index(f.physical, pd)
	if i < 0 {
		return PhysicalDevice{}
	}
	return f.Devices[i]
}

func (f *Fake) PhysicalDeviceProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceProperties {
	dev := f.device(pd)

	var props vk.PhysicalDeviceProperties
	props.DeviceType = dev.Type
	copy(props.DeviceName[:], dev.Name)
	return props
}

func (f *Fake) PhysicalDeviceFeatures(pd vk.PhysicalDevice) vk.PhysicalDeviceFeatures {
	return f.device(pd).Features
}

func (f *Fake) QueueFamilyProperties(pd vk.PhysicalDevice) []vk.QueueFamilyProperties {
	f.mu.Lock()
	if f.familyQueries == nil {
		f.familyQueries = make(map[vk.PhysicalDevice]int)
	}
	f.familyQueries[pd]++
	f.mu.Unlock()

	return slices.Clone(f.device(pd).QueueFamilies)
}

// FamilyQueries is how often the queue family properties of pd were queried.
func (f *Fake) FamilyQueries(pd vk.PhysicalDevice) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.familyQueries[pd]
}

func (f *Fake) SurfaceSupport(pd vk.PhysicalDevice, family uint32, surface vk.Surface) (bool, error) {
	return slices.Contains(f.device(pd).PresentFamilies, family), nil
}

func (f *Fake) DeviceExtensions(pd vk.PhysicalDevice) ([]string, error) {
	return slices.Clone(f.device(pd).Extensions), nil
}

func (f *Fake) MemoryProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = uint32(len(f.MemoryTypes))
	copy(props.MemoryTypes[:], f.MemoryTypes)
	props.MemoryHeapCount = 1
	return props
}

func (f *Fake) FormatProperties(pd vk.PhysicalDevice, format vk.Format) vk.FormatProperties {
	return f.FormatFeatures[format]
}

// Device level.

func (f *Fake) CreateDevice(pd vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateDevice", "device")
	if err != nil {
		return nil, err
	}
	return vk.Device(p), nil
}

func (f *Fake) DestroyDevice(device vk.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyDevice", "device", unsafe.Pointer(device))
}

func (f *Fake) GetQueue(device vk.Device, family, index uint32) vk.Queue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vk.Queue(f.mint())
}

func (f *Fake) DeviceWaitIdle(device vk.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "DeviceWaitIdle")
	if err := f.failure("DeviceWaitIdle"); err != nil {
		return err
	}
	f.completeLocked()
	return nil
}

func (f *Fake) QueueWaitIdle(queue vk.Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "QueueWaitIdle")
	if err := f.failure("QueueWaitIdle"); err != nil {
		return err
	}
	f.completeLocked()
	return nil
}

// Memory.

const fakeAlignment = 256

func align(size vk.DeviceSize) vk.DeviceSize {
	return (size + fakeAlignment - 1) / fakeAlignment * fakeAlignment
}

func (f *Fake) allTypeBits() uint32 {
	return uint32(1)<<len(f.MemoryTypes) - 1
}

func (f *Fake) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateBuffer", "buffer")
	if err != nil {
		return vk.NullBuffer, err
	}
	f.buffers[vk.Buffer(p)] = info.Size
	if f.bufferOwner == nil {
		f.bufferOwner = make(map[vk.Buffer][]uint32)
	}
	f.bufferOwner[vk.Buffer(p)] = slices.Clone(info.PQueueFamilyIndices)
	return vk.Buffer(p), nil
}

// BufferFamilies returns the queue families buffer was created for.
func (f *Fake) BufferFamilies(buffer vk.Buffer) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.bufferOwner[buffer])
}

func (f *Fake) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyBuffer", "buffer", unsafe.Pointer(buffer))
	delete(f.buffers, buffer)
	delete(f.bufferOwner, buffer)
}

func (f *Fake) BufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vk.MemoryRequirements{
		Size:           align(f.buffers[buffer]),
		Alignment:      fakeAlignment,
		MemoryTypeBits: f.allTypeBits(),
	}
}

func (f *Fake) CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateImage", "image")
	if err != nil {
		return vk.NullImage, err
	}
	f.images[vk.Image(p)] = info.Extent
	return vk.Image(p), nil
}

func (f *Fake) DestroyImage(device vk.Device, image vk.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyImage", "image", unsafe.Pointer(image))
	delete(f.images, image)
}

func (f *Fake) ImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext := f.images[image]
	size := vk.DeviceSize(ext.Width) * vk.DeviceSize(ext.Height) * vk.DeviceSize(max(ext.Depth, 1)) * 4
	return vk.MemoryRequirements{
		Size:           align(size),
		Alignment:      fakeAlignment,
		MemoryTypeBits: f.allTypeBits(),
	}
}

func (f *Fake) AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("AllocateMemory", "memory")
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	f.allocations[vk.DeviceMemory(p)] = *info
	return vk.DeviceMemory(p), nil
}

func (f *Fake) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("FreeMemory", "memory", unsafe.Pointer(memory))
	if _, ok := f.mapped[memory]; ok {
		f.violations = append(f.violations, "FreeMemory: memory is still mapped")
	}
}

func (f *Fake) BindBufferMemory(
	device vk.Device,
	buffer vk.Buffer,
	memory vk.DeviceMemory,
	offset vk.DeviceSize,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "BindBufferMemory")
	return f.failure("BindBufferMemory")
}

func (f *Fake) BindImageMemory(
	device vk.Device,
	image vk.Image,
	memory vk.DeviceMemory,
	offset vk.DeviceSize,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "BindImageMemory")
	return f.failure("BindImageMemory")
}

func (f *Fake) MapMemory(
	device vk.Device,
	memory vk.DeviceMemory,
	offset, size vk.DeviceSize,
) (unsafe.Pointer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "MapMemory")
	if err := f.failure("MapMemory"); err != nil {
		return nil, err
	}

	info, ok := f.allocations[memory]
	if !ok {
		return nil, &driver.Error{Result: vk.ErrorMemoryMapFailed, Call: "MapMemory"}
	}
	if offset >= info.AllocationSize || (size != vk.DeviceSize(vk.WholeSize) && offset+size > info.AllocationSize) {
		return nil, &driver.Error{Result: vk.ErrorMemoryMapFailed, Call: "MapMemory"}
	}
	buf := make([]byte, info.AllocationSize)
	f.mapped[memory] = buf
	return unsafe.Pointer(&buf[offset]), nil
}

func (f *Fake) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "UnmapMemory")
	if _, ok := f.mapped[memory]; !ok {
		f.violations = append(f.violations, "UnmapMemory: memory is not mapped")
	}
	delete(f.mapped, memory)
}

func (f *Fake) CreateImageView(device vk.Device, info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateImageView", "view")
	if err != nil {
		return vk.NullImageView, err
	}
	return vk.ImageView(p), nil
}

func (f *Fake) DestroyImageView(device vk.Device, view vk.ImageView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyImageView", "view", unsafe.Pointer(view))
}

func (f *Fake) CreateSampler(device vk.Device, info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateSampler", "sampler")
	if err != nil {
		return vk.NullSampler, err
	}
	return vk.Sampler(p), nil
}

func (f *Fake) DestroySampler(device vk.Device, sampler vk.Sampler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroySampler", "sampler", unsafe.Pointer(sampler))
}

// Commands.

func (f *Fake) CreateCommandPool(device vk.Device, info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateCommandPool", "commandpool")
	if err != nil {
		return vk.NullCommandPool, err
	}
	return vk.CommandPool(p), nil
}

func (f *Fake) DestroyCommandPool(device vk.Device, pool vk.CommandPool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyCommandPool", "commandpool", unsafe.Pointer(pool))
}

func (f *Fake) AllocateCommandBuffers(
	device vk.Device,
	info *vk.CommandBufferAllocateInfo,
) ([]vk.CommandBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "AllocateCommandBuffers")
	if err := f.failure("AllocateCommandBuffers"); err != nil {
		return nil, err
	}

	buffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	for i := range buffers {
		buffers[i] = vk.CommandBuffer(f.mint())
	}
	return buffers, nil
}

func (f *Fake) FreeCommandBuffers(device vk.Device, pool vk.CommandPool, buffers []vk.CommandBuffer) {
	f.record("FreeCommandBuffers")
}

func (f *Fake) BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "BeginCommandBuffer")
	f.recording[cb] = nil
	return f.failure("BeginCommandBuffer")
}

func (f *Fake) EndCommandBuffer(cb vk.CommandBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "EndCommandBuffer")
	return f.failure("EndCommandBuffer")
}

func (f *Fake) ResetCommandBuffer(cb vk.CommandBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "ResetCommandBuffer")
	f.recording[cb] = nil
	return f.failure("ResetCommandBuffer")
}

func (f *Fake) CmdPipelineBarrier(
	cb vk.CommandBuffer,
	src, dst vk.PipelineStageFlags,
	barriers []vk.ImageMemoryBarrier,
) {
	f.recordCmd(cb, "PipelineBarrier")

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range barriers {
		f.barriers = append(f.barriers, Barrier{
			Image:     b.Image,
			OldLayout: b.OldLayout,
			NewLayout: b.NewLayout,
			SrcStage:  src,
			DstStage:  dst,
			SrcAccess: b.SrcAccessMask,
			DstAccess: b.DstAccessMask,
		})
	}
}

func (f *Fake) CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	f.recordCmd(cb, "CopyBuffer")
}

func (f *Fake) CmdCopyBufferToImage(
	cb vk.CommandBuffer,
	src vk.Buffer,
	dst vk.Image,
	layout vk.ImageLayout,
	regions []vk.BufferImageCopy,
) {
	f.recordCmd(cb, "CopyBufferToImage")
}

func (f *Fake) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	f.recordCmd(cb, "BeginRenderPass")
}

func (f *Fake) CmdEndRenderPass(cb vk.CommandBuffer) {
	f.recordCmd(cb, "EndRenderPass")
}

func (f *Fake) CmdBindPipeline(cb vk.CommandBuffer, pipeline vk.Pipeline) {
	f.recordCmd(cb, "BindPipeline")
}

func (f *Fake) CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport) {
	f.recordCmd(cb, "SetViewport")
}

func (f *Fake) CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D) {
	f.recordCmd(cb, "SetScissor")
}

func (f *Fake) CmdBindDescriptorSets(cb vk.CommandBuffer, layout vk.PipelineLayout, sets []vk.DescriptorSet) {
	f.recordCmd(cb, "BindDescriptorSets")
}

func (f *Fake) CmdBindVertexBuffers(cb vk.CommandBuffer, buffers []vk.Buffer, offsets []vk.DeviceSize) {
	f.recordCmd(cb, "BindVertexBuffers")
}

func (f *Fake) CmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, indexType vk.IndexType) {
	f.recordCmd(cb, "BindIndexBuffer")
}

func (f *Fake) CmdDrawIndexed(cb vk.CommandBuffer, indexCount uint32) {
	f.recordCmd(cb, fmt.Sprintf("DrawIndexed %d", indexCount))
}

// Synchronization.

func (f *Fake) CreateFence(device vk.Device, info *vk.FenceCreateInfo) (vk.Fence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateFence", "fence")
	if err != nil {
		return vk.NullFence, err
	}
	signaled := info.Flags&vk.FenceCreateFlags(vk.FenceCreateSignaledBit) != 0
	f.fences[vk.Fence(p)] = signaled
	return vk.Fence(p), nil
}

func (f *Fake) DestroyFence(device vk.Device, fence vk.Fence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyFence", "fence", unsafe.Pointer(fence))
	delete(f.fences, fence)
}

// WaitForFence returns vk.Timeout right away for a zero timeout on an
// unsignaled fence. Any other timeout blocks until the fence is signaled.
func (f *Fake) WaitForFence(device vk.Device, fence vk.Fence, timeout uint64) vk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "WaitForFence")
	if res, ok := f.failures["WaitForFence"]; ok {
		delete(f.failures, "WaitForFence")
		return res
	}

	for {
		signaled, ok := f.fences[fence]
		if !ok {
			f.violations = append(f.violations, "WaitForFence: unknown fence")
			return vk.ErrorDeviceLost
		}
		if signaled {
			return vk.Success
		}
		if timeout == 0 {
			return vk.Timeout
		}

		f.waiting++
		f.cond.Wait()
		f.waiting--
	}
}

func (f *Fake) ResetFence(device vk.Device, fence vk.Fence) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "ResetFence")
	if err := f.failure("ResetFence"); err != nil {
		return err
	}
	f.fences[fence] = false
	return nil
}

func (f *Fake) CreateSemaphore(device vk.Device, info *vk.SemaphoreCreateInfo) (vk.Semaphore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateSemaphore", "semaphore")
	if err != nil {
		return vk.NullSemaphore, err
	}
	return vk.Semaphore(p), nil
}

func (f *Fake) DestroySemaphore(device vk.Device, semaphore vk.Semaphore) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroySemaphore", "semaphore", unsafe.Pointer(semaphore))
}

func (f *Fake) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "QueueSubmit")
	if err := f.failure("QueueSubmit"); err != nil {
		return err
	}
	f.submits++

	if fence == vk.NullFence {
		return nil
	}
	if f.fences[fence] {
		f.violations = append(f.violations, "QueueSubmit: fence is already signaled")
	}
	f.pending = append(f.pending, fence)
	if f.autoComplete {
		f.completeLocked()
	}
	return nil
}

// Swapchain.

func (f *Fake) SurfaceCapabilities(pd vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure("SurfaceCapabilities"); err != nil {
		return vk.SurfaceCapabilities{}, err
	}
	return f.Capabilities, nil
}

func (f *Fake) SurfaceFormats(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error) {
	return slices.Clone(f.Formats), nil
}

func (f *Fake) SurfacePresentModes(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, error) {
	return slices.Clone(f.PresentModes), nil
}

func (f *Fake) CreateSwapchain(device vk.Device, info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateSwapchain", "swapchain")
	if err != nil {
		return vk.NullSwapchain, err
	}
	f.swapchainInfos = append(f.swapchainInfos, *info)

	images := make([]vk.Image, info.MinImageCount)
	for i := range images {
		images[i] = vk.Image(f.mint())
	}
	f.swapchains[vk.Swapchain(p)] = images
	f.nextImage = 0
	return vk.Swapchain(p), nil
}

func (f *Fake) DestroySwapchain(device vk.Device, swapchain vk.Swapchain) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroySwapchain", "swapchain", unsafe.Pointer(swapchain))
	delete(f.swapchains, swapchain)
}

func (f *Fake) SwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	images, ok := f.swapchains[swapchain]
	if !ok {
		return nil, &driver.Error{Result: vk.ErrorSurfaceLost, Call: "SwapchainImages"}
	}
	return slices.Clone(images), nil
}

func (f *Fake) AcquireNextImage(
	device vk.Device,
	swapchain vk.Swapchain,
	timeout uint64,
	semaphore vk.Semaphore,
) (uint32, vk.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "AcquireNextImage")
	if len(f.acquireResults) > 0 {
		res := f.acquireResults[0]
		f.acquireResults = f.acquireResults[1:]
		if res != vk.Success && res != vk.Suboptimal {
			return 0, res
		}
		return f.advanceImage(swapchain), res
	}
	return f.advanceImage(swapchain), vk.Success
}

func (f *Fake) advanceImage(swapchain vk.Swapchain) uint32 {
	n := uint32(len(f.swapchains[swapchain]))
	if n == 0 {
		return 0
	}
	idx := f.nextImage % n
	f.nextImage++
	return idx
}

func (f *Fake) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "QueuePresent")
	res := vk.Success
	if len(f.presentResults) > 0 {
		res = f.presentResults[0]
		f.presentResults = f.presentResults[1:]
	}
	if res == vk.Success || res == vk.Suboptimal {
		f.presents++
		f.presentedImages = append(f.presentedImages, info.PImageIndices...)
	}
	return res
}

func (f *Fake) CreateFramebuffer(device vk.Device, info *vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateFramebuffer", "framebuffer")
	if err != nil {
		return vk.NullFramebuffer, err
	}
	return vk.Framebuffer(p), nil
}

func (f *Fake) DestroyFramebuffer(device vk.Device, framebuffer vk.Framebuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyFramebuffer", "framebuffer", unsafe.Pointer(framebuffer))
}

// Pipelines and descriptors.

func (f *Fake) CreateRenderPass(device vk.Device, info *vk.RenderPassCreateInfo) (vk.RenderPass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateRenderPass", "renderpass")
	if err != nil {
		return vk.NullRenderPass, err
	}
	return vk.RenderPass(p), nil
}

func (f *Fake) DestroyRenderPass(device vk.Device, renderPass vk.RenderPass) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyRenderPass", "renderpass", unsafe.Pointer(renderPass))
}

func (f *Fake) CreateShaderModule(device vk.Device, info *vk.ShaderModuleCreateInfo) (vk.ShaderModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateShaderModule", "shader")
	if err != nil {
		return vk.NullShaderModule, err
	}
	return vk.ShaderModule(p), nil
}

func (f *Fake) DestroyShaderModule(device vk.Device, module vk.ShaderModule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyShaderModule", "shader", unsafe.Pointer(module))
}

func (f *Fake) CreateDescriptorSetLayout(
	device vk.Device,
	info *vk.DescriptorSetLayoutCreateInfo,
) (vk.DescriptorSetLayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateDescriptorSetLayout", "setlayout")
	if err != nil {
		return vk.NullDescriptorSetLayout, err
	}
	return vk.DescriptorSetLayout(p), nil
}

func (f *Fake) DestroyDescriptorSetLayout(device vk.Device, layout vk.DescriptorSetLayout) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyDescriptorSetLayout", "setlayout", unsafe.Pointer(layout))
}

func (f *Fake) CreatePipelineLayout(
	device vk.Device,
	info *vk.PipelineLayoutCreateInfo,
) (vk.PipelineLayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreatePipelineLayout", "pipelinelayout")
	if err != nil {
		return vk.NullPipelineLayout, err
	}
	return vk.PipelineLayout(p), nil
}

func (f *Fake) DestroyPipelineLayout(device vk.Device, layout vk.PipelineLayout) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyPipelineLayout", "pipelinelayout", unsafe.Pointer(layout))
}

func (f *Fake) CreateGraphicsPipeline(
	device vk.Device,
	info *vk.GraphicsPipelineCreateInfo,
) (vk.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateGraphicsPipeline", "pipeline")
	if err != nil {
		return vk.NullPipeline, err
	}
	return vk.Pipeline(p), nil
}

func (f *Fake) DestroyPipeline(device vk.Device, pipeline vk.Pipeline) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyPipeline", "pipeline", unsafe.Pointer(pipeline))
}

func (f *Fake) CreateDescriptorPool(
	device vk.Device,
	info *vk.DescriptorPoolCreateInfo,
) (vk.DescriptorPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.create("CreateDescriptorPool", "descriptorpool")
	if err != nil {
		return vk.NullDescriptorPool, err
	}
	return vk.DescriptorPool(p), nil
}

func (f *Fake) DestroyDescriptorPool(device vk.Device, pool vk.DescriptorPool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy("DestroyDescriptorPool", "descriptorpool", unsafe.Pointer(pool))
}

func (f *Fake) AllocateDescriptorSets(
	device vk.Device,
	info *vk.DescriptorSetAllocateInfo,
) ([]vk.DescriptorSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "AllocateDescriptorSets")
	if err := f.failure("AllocateDescriptorSets"); err != nil {
		return nil, err
	}

	sets := make([]vk.DescriptorSet, info.DescriptorSetCount)
	for i := range sets {
		sets[i] = vk.DescriptorSet(f.mint())
	}
	return sets, nil
}

func (f *Fake) UpdateDescriptorSets(device vk.Device, writes []vk.WriteDescriptorSet) {
	f.record("UpdateDescriptorSets")
}
