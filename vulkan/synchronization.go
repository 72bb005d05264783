package vulkan

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

type Semaphore struct {
	Handle vk.Semaphore
	device *Device
}

type Fence struct {
	Handle vk.Fence
	device *Device
}

func (d *Device) NewSemaphore() (gpu.Semaphore, error) {
	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.Device, &semaphoreInfo, nil, &semaphore); res != vk.Success {
		return nil, vkError(res, "failed to create semaphore")
	}
	return &Semaphore{Handle: semaphore, device: d}, nil
}

func (s *Semaphore) Destroy() {
	if s.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.device.Device, s.Handle, nil)
		s.Handle = vk.NullSemaphore
	}
}

func (d *Device) NewFence(signaled bool) (gpu.Fence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}

	var fence vk.Fence
	if res := vk.CreateFence(d.Device, &fenceInfo, nil, &fence); res != vk.Success {
		return nil, vkError(res, "failed to create fence")
	}
	return &Fence{Handle: fence, device: d}, nil
}

func (f *Fence) Destroy() {
	if f.Handle != vk.NullFence {
		vk.DestroyFence(f.device.Device, f.Handle, nil)
		f.Handle = vk.NullFence
	}
}

func (f *Fence) Wait(timeout time.Duration) error {
	res := vk.WaitForFences(f.device.Device, 1, []vk.Fence{f.Handle}, vk.True, timeoutNanos(timeout))
	switch res {
	case vk.Success:
		return nil
	case vk.Timeout:
		return errors.Wrapf(gpu.ErrTimeout, "fence wait after %v", timeout)
	}
	return vkError(res, "failed to wait for fence")
}

func (f *Fence) Reset() error {
	if res := vk.ResetFences(f.device.Device, 1, []vk.Fence{f.Handle}); res != vk.Success {
		return vkError(res, "failed to reset fence")
	}
	return nil
}

func (f *Fence) Signaled() (bool, error) {
	switch res := vk.GetFenceStatus(f.device.Device, f.Handle); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, vkError(res, "failed to query fence status")
	}
}
