// Package vulkan implements gpu.Device on top of the Vulkan API through
// the vulkan-go bindings.
package vulkan

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

// KhronosValidationLayer is the standard validation layer enabled when
// InstanceConfig.EnableValidation is set.
const KhronosValidationLayer = "VK_LAYER_KHRONOS_validation"

// cstr returns s as a NUL-terminated string, as vulkan-go expects for
// name arrays.
func cstr(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

func cstrs(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = cstr(n)
	}
	return out
}

func vkError(res vk.Result, msg string) error {
	if res == vk.ErrorDeviceLost {
		return errors.Wrap(gpu.ErrDeviceLost, msg)
	}
	return errors.Wrap(vk.Error(res), msg)
}

func timeoutNanos(d time.Duration) uint64 {
	if d == gpu.WaitForever || d < 0 {
		return vk.MaxUint64
	}
	return uint64(d.Nanoseconds())
}

func toExtent(e gpu.Extent2D) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

func fromExtent(e vk.Extent2D) gpu.Extent2D {
	e.Deref()
	return gpu.Extent2D{Width: e.Width, Height: e.Height}
}

func toRect(r gpu.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: toExtent(r.Extent),
	}
}

func toClearValues(values []gpu.ClearValue) []vk.ClearValue {
	out := make([]vk.ClearValue, len(values))
	for i, v := range values {
		if v.DepthStencil {
			out[i] = vk.NewClearDepthStencil(v.Depth, v.Stencil)
		} else {
			out[i] = vk.NewClearValue(v.Color[:])
		}
	}
	return out
}

// enumerate runs a two-call Vulkan query: the first call reports the
// count and the second fills a slice of that size. Either call failing
// aborts the query.
func enumerate[T any](query func(count *uint32, out []T) vk.Result) ([]T, vk.Result) {
	var count uint32
	if res := query(&count, nil); res != vk.Success {
		return nil, res
	}
	if count == 0 {
		return nil, vk.Success
	}
	out := make([]T, count)
	if res := query(&count, out); res != vk.Success {
		return nil, res
	}
	return out[:count], vk.Success
}

func toStatus(res vk.Result) (gpu.Status, bool) {
	switch res {
	case vk.Success:
		return gpu.StatusSuccess, true
	case vk.Suboptimal:
		return gpu.StatusSuboptimal, true
	case vk.ErrorOutOfDate:
		return gpu.StatusOutOfDate, true
	}
	return gpu.StatusSuccess, false
}
