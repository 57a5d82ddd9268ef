package driver

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	vk "github.com/vulkan-go/vulkan"
)

// Error is a failed native call: the result it reported and the function which
// made the call.
type Error struct {
	Result vk.Result
	Call   string
}

func (e *Error) Error() string {
	if e.Call == "" {
		return fmt.Sprintf("vulkan error: %s (%d)", resultName(e.Result), e.Result)
	}
	return fmt.Sprintf("vulkan error: %s (%d) on %s", resultName(e.Result), e.Result, e.Call)
}

// Unwrap exposes the error produced by the bindings for the same result.
func (e *Error) Unwrap() error {
	return vk.Error(e.Result)
}

// NewError returns nil for vk.Success and an *Error naming the caller for any
// other result.
func NewError(res vk.Result) error {
	if res == vk.Success {
		return nil
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return &Error{Result: res}
	}
	return &Error{Result: res, Call: shortFuncName(pc)}
}

// ResultOf extracts the native result carried by err.
func ResultOf(err error) (vk.Result, bool) {
	var vkErr *Error
	if errors.As(err, &vkErr) {
		return vkErr.Result, true
	}
	return vk.Success, false
}

func shortFuncName(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func resultName(res vk.Result) string {
	switch res {
	case vk.Success:
		return "success"
	case vk.NotReady:
		return "not ready"
	case vk.Timeout:
		return "timeout"
	case vk.Suboptimal:
		return "suboptimal"
	case vk.ErrorOutOfDate:
		return "out of date"
	case vk.ErrorSurfaceLost:
		return "surface lost"
	case vk.ErrorDeviceLost:
		return "device lost"
	case vk.ErrorOutOfHostMemory:
		return "out of host memory"
	case vk.ErrorOutOfDeviceMemory:
		return "out of device memory"
	case vk.ErrorInitializationFailed:
		return "initialization failed"
	case vk.ErrorExtensionNotPresent:
		return "extension not present"
	case vk.ErrorLayerNotPresent:
		return "layer not present"
	case vk.ErrorFeatureNotPresent:
		return "feature not present"
	default:
		return "unknown result"
	}
}
