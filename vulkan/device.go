package vulkan

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

var deviceExtensions = []string{vk.KhrSwapchainExtensionName}

// Device is a logical device bound to one presentation surface. It owns a
// graphics queue, a present queue and a command pool whose buffers can be
// reset individually.
type Device struct {
	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device
	GraphicsQueue  vk.Queue
	PresentQueue   vk.Queue
	CommandPool    vk.CommandPool

	GraphicsFamily uint32
	PresentFamily  uint32
	Properties     vk.PhysicalDeviceProperties
	MemoryProps    vk.PhysicalDeviceMemoryProperties

	surface vk.Surface
}

var _ gpu.Device = (*Device)(nil)

type queueFamilies struct {
	graphics, present       uint32
	hasGraphics, hasPresent bool
}

func (q queueFamilies) complete() bool {
	return q.hasGraphics && q.hasPresent
}

func findQueueFamilies(device vk.PhysicalDevice, surface vk.Surface) queueFamilies {
	var q queueFamilies

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)

	for i, family := range families {
		family.Deref()
		if family.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 && !q.hasGraphics {
			q.graphics, q.hasGraphics = uint32(i), true
		}

		var presentSupport vk.Bool32
		res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &presentSupport)
		if res == vk.Success && presentSupport.B() && !q.hasPresent {
			q.present, q.hasPresent = uint32(i), true
		}

		if q.complete() {
			break
		}
	}
	return q
}

func checkDeviceExtensionSupport(device vk.PhysicalDevice) bool {
	available, res := enumerate(func(count *uint32, out []vk.ExtensionProperties) vk.Result {
		return vk.EnumerateDeviceExtensionProperties(device, "", count, out)
	})
	if res != vk.Success {
		return false
	}

	names := make(map[string]bool, len(available))
	for _, ext := range available {
		ext.Deref()
		names[vk.ToString(ext.ExtensionName[:])] = true
	}
	for _, required := range deviceExtensions {
		if !names[required] {
			return false
		}
	}
	return true
}

func rateDevice(device vk.PhysicalDevice, surface vk.Surface) uint32 {
	if !findQueueFamilies(device, surface).complete() || !checkDeviceExtensionSupport(device) {
		return 0
	}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(device, &props)
	props.Deref()
	props.Limits.Deref()

	score := uint32(1)
	if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
		score += 1000
	}
	score += props.Limits.MaxImageDimension2D
	return score
}

// NewDevice picks the most capable GPU able to present to surface and
// creates a logical device on it.
func NewDevice(instance *Instance, surface vk.Surface) (*Device, error) {
	devices, res := enumerate(func(count *uint32, out []vk.PhysicalDevice) vk.Result {
		return vk.EnumeratePhysicalDevices(instance.Handle, count, out)
	})
	if res != vk.Success {
		return nil, vkError(res, "failed to enumerate GPUs")
	}
	if len(devices) == 0 {
		return nil, errors.New("failed to find GPUs with Vulkan support")
	}

	var best vk.PhysicalDevice
	var bestScore uint32
	for _, device := range devices {
		if score := rateDevice(device, surface); score > bestScore {
			bestScore = score
			best = device
		}
	}
	if bestScore == 0 {
		return nil, errors.New("failed to find a suitable GPU")
	}

	d := &Device{
		PhysicalDevice: best,
		surface:        surface,
	}
	vk.GetPhysicalDeviceProperties(best, &d.Properties)
	d.Properties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(best, &d.MemoryProps)
	d.MemoryProps.Deref()

	if err := d.createLogicalDevice(); err != nil {
		return nil, err
	}

	gpu.Logger().Info("GPU selected", "name", d.GPUName(), "type", d.DeviceType())
	return d, nil
}

func (d *Device) createLogicalDevice() error {
	families := findQueueFamilies(d.PhysicalDevice, d.surface)
	d.GraphicsFamily = families.graphics
	d.PresentFamily = families.present

	unique := []uint32{d.GraphicsFamily}
	if d.GraphicsFamily != d.PresentFamily {
		unique = append(unique, d.PresentFamily)
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(unique))
	for i, family := range unique {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: cstrs(deviceExtensions),
	}

	var device vk.Device
	if res := vk.CreateDevice(d.PhysicalDevice, &createInfo, nil, &device); res != vk.Success {
		return vkError(res, "failed to create logical device")
	}
	d.Device = device

	var graphics, present vk.Queue
	vk.GetDeviceQueue(d.Device, d.GraphicsFamily, 0, &graphics)
	vk.GetDeviceQueue(d.Device, d.PresentFamily, 0, &present)
	d.GraphicsQueue = graphics
	d.PresentQueue = present

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.GraphicsFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.Device, &poolInfo, nil, &pool); res != vk.Success {
		vk.DestroyDevice(d.Device, nil)
		return vkError(res, "failed to create command pool")
	}
	d.CommandPool = pool

	return nil
}

// Destroy releases the command pool and the logical device. Every object
// created from the device must be destroyed first.
func (d *Device) Destroy() {
	if d.CommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(d.Device, d.CommandPool, nil)
		d.CommandPool = vk.NullCommandPool
	}
	if d.Device != vk.Device(vk.NullHandle) {
		vk.DestroyDevice(d.Device, nil)
		d.Device = vk.Device(vk.NullHandle)
	}
}

func (d *Device) WaitIdle() error {
	if res := vk.DeviceWaitIdle(d.Device); res != vk.Success {
		return vkError(res, "failed to wait for device idle")
	}
	return nil
}

func (d *Device) GPUName() string {
	return vk.ToString(d.Properties.DeviceName[:])
}

func (d *Device) DeviceType() string {
	switch d.Properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "Integrated GPU"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "Discrete GPU"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "Virtual GPU"
	case vk.PhysicalDeviceTypeCpu:
		return "CPU"
	default:
		return "Unknown"
	}
}

func (d *Device) FindMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.MemoryProps.MemoryTypeCount; i++ {
		memType := d.MemoryProps.MemoryTypes[i]
		memType.Deref()
		if typeFilter&(1<<i) != 0 && memType.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, errors.New("failed to find suitable memory type")
}

func (d *Device) SurfaceSupport() (*gpu.SurfaceSupport, error) {
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(d.PhysicalDevice, d.surface, &caps); res != vk.Success {
		return nil, vkError(res, "failed to query surface capabilities")
	}
	caps.Deref()

	support := &gpu.SurfaceSupport{
		Capabilities: gpu.SurfaceCapabilities{
			MinImageCount:  caps.MinImageCount,
			MaxImageCount:  caps.MaxImageCount,
			CurrentExtent:  fromExtent(caps.CurrentExtent),
			MinImageExtent: fromExtent(caps.MinImageExtent),
			MaxImageExtent: fromExtent(caps.MaxImageExtent),
		},
	}

	formats, res := enumerate(func(count *uint32, out []vk.SurfaceFormat) vk.Result {
		return vk.GetPhysicalDeviceSurfaceFormats(d.PhysicalDevice, d.surface, count, out)
	})
	if res != vk.Success {
		return nil, vkError(res, "failed to query surface formats")
	}
	for _, f := range formats {
		f.Deref()
		support.Formats = append(support.Formats, gpu.SurfaceFormat{
			Format:     gpu.Format(f.Format),
			ColorSpace: gpu.ColorSpace(f.ColorSpace),
		})
	}

	modes, res := enumerate(func(count *uint32, out []vk.PresentMode) vk.Result {
		return vk.GetPhysicalDeviceSurfacePresentModes(d.PhysicalDevice, d.surface, count, out)
	})
	if res != vk.Success {
		return nil, vkError(res, "failed to query present modes")
	}
	for _, m := range modes {
		support.PresentModes = append(support.PresentModes, gpu.PresentMode(m))
	}

	return support, nil
}

func (d *Device) FindSupportedFormat(candidates []gpu.Format, tiling gpu.ImageTiling, features gpu.FormatFeatures) (gpu.Format, error) {
	want := vk.FormatFeatureFlags(features)
	for _, format := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.PhysicalDevice, vk.Format(format), &props)
		props.Deref()

		supported := props.LinearTilingFeatures
		if tiling == gpu.ImageTilingOptimal {
			supported = props.OptimalTilingFeatures
		}
		if supported&want == want {
			return format, nil
		}
	}
	return gpu.FormatUndefined, errors.Wrapf(gpu.ErrNoSupportedFormat, "candidates %v", candidates)
}

func (d *Device) Submit(sub *gpu.Submission) error {
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{sub.CommandBuffer.(*CommandBuffer).Handle},
	}
	if sub.Wait != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sub.Wait.(*Semaphore).Handle}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(sub.WaitStage)}
	}
	if sub.Signal != nil {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{sub.Signal.(*Semaphore).Handle}
	}
	fence := vk.NullFence
	if sub.Fence != nil {
		fence = sub.Fence.(*Fence).Handle
	}

	if res := vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{info}, fence); res != vk.Success {
		return vkError(res, "failed to submit draw command buffer")
	}
	return nil
}

func (d *Device) Present(req *gpu.PresentRequest) (gpu.Status, error) {
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{req.Swapchain.(*Swapchain).Handle},
		PImageIndices:  []uint32{req.ImageIndex},
	}
	if req.Wait != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{req.Wait.(*Semaphore).Handle}
	}

	res := vk.QueuePresent(d.PresentQueue, &info)
	if status, ok := toStatus(res); ok {
		return status, nil
	}
	return gpu.StatusSuccess, vkError(res, "failed to present swap chain image")
}

// SingleUse records a one-shot command buffer and waits on the graphics
// queue for it to complete.
func (d *Device) SingleUse(record func(cb gpu.CommandBuffer)) error {
	buffers, err := d.NewCommandBuffers(1)
	if err != nil {
		return err
	}
	defer d.FreeCommandBuffers(buffers)

	cb := buffers[0]
	if err := cb.Begin(true); err != nil {
		return err
	}
	record(cb)
	if err := cb.End(); err != nil {
		return err
	}

	if err := d.Submit(&gpu.Submission{CommandBuffer: cb}); err != nil {
		return err
	}
	if res := vk.QueueWaitIdle(d.GraphicsQueue); res != vk.Success {
		return vkError(res, "failed to wait for graphics queue")
	}
	return nil
}
