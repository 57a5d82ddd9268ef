package driver

import (
	vk "github.com/vulkan-go/vulkan"
)

// Status sorts native results into the outcomes the frame loop acts upon.
type Status int

const (
	// StatusSuccess means the call did what was asked.
	StatusSuccess Status = iota

	// StatusNotReady covers vk.NotReady and vk.Timeout: nothing was available
	// within the timeout. Not an error; skip and try again later.
	StatusNotReady

	// StatusSuboptimal means the call succeeded but the swapchain no longer
	// matches the surface exactly and should be rebuilt.
	StatusSuboptimal

	// StatusOutOfDate means the swapchain can no longer be used with the
	// surface. Nothing was done; rebuild before the next attempt.
	StatusOutOfDate

	// StatusLost means the surface or the device is gone. The session has to
	// shut down.
	StatusLost

	// StatusFailed is every other error.
	StatusFailed
)

// Classify maps a native result to its Status.
func Classify(res vk.Result) Status {
	switch res {
	case vk.Success:
		return StatusSuccess
	case vk.NotReady, vk.Timeout:
		return StatusNotReady
	case vk.Suboptimal:
		return StatusSuboptimal
	case vk.ErrorOutOfDate:
		return StatusOutOfDate
	case vk.ErrorSurfaceLost, vk.ErrorDeviceLost:
		return StatusLost
	default:
		return StatusFailed
	}
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotReady:
		return "not ready"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out of date"
	case StatusLost:
		return "lost"
	default:
		return "failed"
	}
}
