package vulkan

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

// Swapchain wraps a VkSwapchainKHR and the images it owns.
type Swapchain struct {
	Handle vk.Swapchain

	device *Device
	format gpu.SurfaceFormat
	extent gpu.Extent2D
	images []gpu.Image
}

func (d *Device) NewSwapchain(desc *gpu.SwapchainDesc) (gpu.Swapchain, error) {
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(d.PhysicalDevice, d.surface, &caps); res != vk.Success {
		return nil, vkError(res, "failed to query surface capabilities")
	}
	caps.Deref()

	oldSwapchain := vk.NullSwapchain
	if desc.Old != nil {
		oldSwapchain = desc.Old.(*Swapchain).Handle
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    desc.MinImageCount,
		ImageFormat:      vk.Format(desc.Format.Format),
		ImageColorSpace:  vk.ColorSpace(desc.Format.ColorSpace),
		ImageExtent:      toExtent(desc.Extent),
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentMode(desc.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     oldSwapchain,
	}

	if d.GraphicsFamily != d.PresentFamily {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.GraphicsFamily, d.PresentFamily}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(d.Device, &createInfo, nil, &handle); res != vk.Success {
		return nil, vkError(res, "failed to create swapchain")
	}

	sc := &Swapchain{
		Handle: handle,
		device: d,
		format: desc.Format,
		extent: desc.Extent,
	}

	handles, res := enumerate(func(count *uint32, out []vk.Image) vk.Result {
		return vk.GetSwapchainImages(d.Device, handle, count, out)
	})
	if res != vk.Success {
		vk.DestroySwapchain(d.Device, handle, nil)
		return nil, vkError(res, "failed to query swapchain images")
	}

	sc.images = make([]gpu.Image, len(handles))
	for i, h := range handles {
		sc.images[i] = &Image{
			Handle:    h,
			device:    d,
			format:    desc.Format.Format,
			extent:    desc.Extent,
			swapchain: true,
		}
	}
	return sc, nil
}

func (sc *Swapchain) Images() []gpu.Image       { return sc.images }
func (sc *Swapchain) Format() gpu.SurfaceFormat { return sc.format }
func (sc *Swapchain) Extent() gpu.Extent2D      { return sc.extent }

func (sc *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, gpu.Status, error) {
	var imageIndex uint32
	res := vk.AcquireNextImage(sc.device.Device, sc.Handle, timeoutNanos(timeout),
		signal.(*Semaphore).Handle, vk.NullFence, &imageIndex)

	if status, ok := toStatus(res); ok {
		return imageIndex, status, nil
	}
	if res == vk.Timeout || res == vk.NotReady {
		return 0, gpu.StatusSuccess, errors.Wrap(gpu.ErrTimeout, "acquire next image")
	}
	return 0, gpu.StatusSuccess, vkError(res, "failed to acquire swapchain image")
}

// Destroy releases the swapchain together with its images.
func (sc *Swapchain) Destroy() {
	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(sc.device.Device, sc.Handle, nil)
		sc.Handle = vk.NullSwapchain
		sc.images = nil
	}
}
