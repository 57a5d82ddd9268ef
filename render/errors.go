package render

import (
	"errors"
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/driver"
)

var (
	// ErrResourceExhausted is returned when no memory type satisfies a
	// request or a fixed size pool has no room left.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrOutOfRange is returned for indices and sizes outside what the device
	// or the object reports.
	ErrOutOfRange = errors.New("out of range")

	// ErrInitialization is returned when the instance, the device or a
	// required capability cannot be set up.
	ErrInitialization = errors.New("initialization failed")

	// ErrShutdown means the surface or the device has been lost. The frame
	// loop stops and the session is torn down normally.
	ErrShutdown = errors.New("shutdown requested")

	errSwapchainDestroyed = errors.New("swapchain already destroyed")
)

// checkLost turns surface and device loss into ErrShutdown and returns every
// other error as it is.
func checkLost(err error) error {
	if err == nil {
		return nil
	}
	if res, ok := driver.ResultOf(err); ok && driver.Classify(res) == driver.StatusLost {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	return err
}

// resultError is checkLost for calls which report a bare result.
func resultError(call string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return checkLost(&driver.Error{Result: res, Call: call})
}
