package vulkan

import (
	"github.com/docker/go-units"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

// Image is either a device-local image with its own memory or one of a
// swapchain's presentable images.
type Image struct {
	Handle vk.Image
	Memory vk.DeviceMemory

	device    *Device
	format    gpu.Format
	extent    gpu.Extent2D
	size      uint64
	swapchain bool
}

type ImageView struct {
	Handle vk.ImageView
	device *Device
}

func (d *Device) NewImage(desc *gpu.ImageDesc) (gpu.Image, error) {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        vk.Format(desc.Format),
		Tiling:        vk.ImageTiling(desc.Tiling),
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var handle vk.Image
	if res := vk.CreateImage(d.Device, &imageInfo, nil, &handle); res != vk.Success {
		return nil, vkError(res, "failed to create image")
	}

	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.Device, handle, &memRequirements)
	memRequirements.Deref()

	memoryType, err := d.FindMemoryType(memRequirements.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.Device, handle, nil)
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.Device, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyImage(d.Device, handle, nil)
		return nil, vkError(res, "failed to allocate image memory")
	}
	if res := vk.BindImageMemory(d.Device, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(d.Device, memory, nil)
		vk.DestroyImage(d.Device, handle, nil)
		return nil, vkError(res, "failed to bind image memory")
	}

	gpu.Logger().Debug("image allocated",
		"format", desc.Format,
		"extent", desc.Extent,
		"size", units.BytesSize(float64(memRequirements.Size)))

	return &Image{
		Handle: handle,
		Memory: memory,
		device: d,
		format: desc.Format,
		extent: desc.Extent,
		size:   uint64(memRequirements.Size),
	}, nil
}

func (img *Image) Format() gpu.Format     { return img.format }
func (img *Image) Extent() gpu.Extent2D   { return img.extent }
func (img *Image) MemorySize() uint64     { return img.size }
func (img *Image) IsSwapchainImage() bool { return img.swapchain }

// Destroy frees the image and its memory. Swapchain images are released
// with their swapchain and are left alone here.
func (img *Image) Destroy() {
	if img.swapchain || img.Handle == vk.NullImage {
		return
	}
	vk.DestroyImage(img.device.Device, img.Handle, nil)
	vk.FreeMemory(img.device.Device, img.Memory, nil)
	img.Handle = vk.NullImage
	img.Memory = vk.NullDeviceMemory
}

func (d *Device) NewImageView(image gpu.Image, aspect gpu.ImageAspect) (gpu.ImageView, error) {
	img := image.(*Image)
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(img.format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	if res := vk.CreateImageView(d.Device, &viewInfo, nil, &view); res != vk.Success {
		return nil, vkError(res, "failed to create image view")
	}
	return &ImageView{Handle: view, device: d}, nil
}

func (v *ImageView) Destroy() {
	if v.Handle != vk.NullImageView {
		vk.DestroyImageView(v.device.Device, v.Handle, nil)
		v.Handle = vk.NullImageView
	}
}
