package renderer

import (
	"github.com/pkg/errors"

	"vk-render-engine/gpu"
)

// UploadBuffer creates a device-local buffer with the given usage and fills
// it with data through a host-visible staging buffer. It blocks until the
// copy has executed.
func UploadBuffer(device gpu.Device, usage gpu.BufferUsage, data []byte) (gpu.Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("upload of an empty buffer")
	}
	staging, err := newStagingBuffer(device, data)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	size := uint64(len(data))
	buf, err := device.NewBuffer(&gpu.BufferDesc{
		Size:  size,
		Usage: usage | gpu.BufferUsageTransferDst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create buffer")
	}

	err = device.SingleUse(func(cb gpu.CommandBuffer) {
		cb.CopyBuffer(staging, buf, size)
	})
	if err != nil {
		buf.Destroy()
		return nil, errors.Wrap(err, "copy staging buffer")
	}
	return buf, nil
}

// UploadImage creates a sampled image from tightly packed texels and
// leaves it in the shader read-only layout.
func UploadImage(device gpu.Device, extent gpu.Extent2D, format gpu.Format, texels []byte) (gpu.Image, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 || format.IsDepth() {
		return nil, errors.Errorf("upload of unsupported image format %s", format)
	}
	if extent.IsZero() {
		return nil, errors.Errorf("upload of image with zero extent %s", extent)
	}
	if want := int(extent.Width) * int(extent.Height) * bpp; len(texels) != want {
		return nil, errors.Errorf("%s %s image needs %d bytes, got %d", extent, format, want, len(texels))
	}

	staging, err := newStagingBuffer(device, texels)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	img, err := device.NewImage(&gpu.ImageDesc{
		Extent: extent,
		Format: format,
		Tiling: gpu.ImageTilingOptimal,
		Usage:  gpu.ImageUsageTransferDst | gpu.ImageUsageSampled,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}

	err = device.SingleUse(func(cb gpu.CommandBuffer) {
		cb.TransitionImageLayout(img, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst)
		cb.CopyBufferToImage(staging, img)
		cb.TransitionImageLayout(img, gpu.ImageLayoutTransferDst, gpu.ImageLayoutShaderReadOnly)
	})
	if err != nil {
		img.Destroy()
		return nil, errors.Wrap(err, "copy staging buffer to image")
	}
	return img, nil
}

func newStagingBuffer(device gpu.Device, data []byte) (gpu.Buffer, error) {
	staging, err := device.NewBuffer(&gpu.BufferDesc{
		Size:        uint64(len(data)),
		Usage:       gpu.BufferUsageTransferSrc,
		HostVisible: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create staging buffer")
	}
	if err := staging.Map(); err != nil {
		staging.Destroy()
		return nil, errors.Wrap(err, "map staging buffer")
	}
	if err := staging.Write(0, data); err != nil {
		staging.Destroy()
		return nil, errors.Wrap(err, "fill staging buffer")
	}
	if err := staging.Flush(); err != nil {
		staging.Destroy()
		return nil, errors.Wrap(err, "flush staging buffer")
	}
	staging.Unmap()
	return staging, nil
}
