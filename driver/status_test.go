package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestClassify(t *testing.T) {
	cases := map[vk.Result]Status{
		vk.Success:                StatusSuccess,
		vk.NotReady:               StatusNotReady,
		vk.Timeout:                StatusNotReady,
		vk.Suboptimal:             StatusSuboptimal,
		vk.ErrorOutOfDate:         StatusOutOfDate,
		vk.ErrorSurfaceLost:       StatusLost,
		vk.ErrorDeviceLost:        StatusLost,
		vk.ErrorOutOfDeviceMemory: StatusFailed,
	}

	for res, want := range cases {
		assert.Equal(t, want, Classify(res), "result %d", res)
	}
}

func TestNewError(t *testing.T) {
	assert.NoError(t, NewError(vk.Success))

	err := NewError(vk.ErrorDeviceLost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device lost")
	assert.Contains(t, err.Error(), "TestNewError")

	wrapped := fmt.Errorf("queue submit: %w", err)
	res, ok := ResultOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, vk.ErrorDeviceLost, res)

	_, ok = ResultOf(errors.New("plain"))
	assert.False(t, ok)
}
