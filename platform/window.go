// Package platform owns the native window and its presentation surface.
// Every function must be called from the main thread.
package platform

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/config"
)

// Window is a resizable window without a client API, drawn to through a
// Vulkan surface.
type Window struct {
	window   *glfw.Window
	onResize []func()
}

// Open initializes GLFW and creates the window.
func Open(cfg config.Window) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glfw.Init: %w", err)
	}

	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, fmt.Errorf("GLFW found no Vulkan loader")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("creating window: %w", err)
	}

	w := &Window{window: window}
	window.SetFramebufferSizeCallback(w.frameBufferResizeCallback)
	return w, nil
}

func (w *Window) frameBufferResizeCallback(_ *glfw.Window, _ int, _ int) {
	for _, fn := range w.onResize {
		fn()
	}
}

// OnResize registers fn to run whenever the framebuffer size changes. The
// callbacks run from PollEvents or WaitEvents.
func (w *Window) OnResize(fn func()) {
	w.onResize = append(w.onResize, fn)
}

// ProcAddr is vkGetInstanceProcAddr as found by GLFW.
func ProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

// RequiredExtensions lists the instance extensions a surface for this window
// needs.
func (w *Window) RequiredExtensions() []string {
	return w.window.GetRequiredInstanceExtensions()
}

// CreateSurface creates the presentation surface of the window on instance.
func (w *Window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surfacePtr, err := w.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, fmt.Errorf("cannot create surface within GLFW window: %w", err)
	}
	return vk.SurfaceFromPointer(surfacePtr), nil
}

// FramebufferSize is the drawable size in pixels. It is zero while the
// window is minimized.
func (w *Window) FramebufferSize() (int, int) {
	return w.window.GetFramebufferSize()
}

// ShouldClose reports whether the user asked to close the window.
func (w *Window) ShouldClose() bool {
	return w.window.ShouldClose()
}

// PollEvents processes pending events without blocking.
func (w *Window) PollEvents() {
	glfw.PollEvents()
}

// WaitEvents blocks until at least one event arrived, used while there is
// nothing to draw to.
func (w *Window) WaitEvents() {
	glfw.WaitEvents()
}

// Close destroys the window and terminates GLFW. The surface must already be
// destroyed.
func (w *Window) Close() {
	w.window.Destroy()
	glfw.Terminate()
}
