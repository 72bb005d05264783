package gpu

import "time"

// Destroyer is implemented by every object a Device creates.
type Destroyer interface {
	Destroy()
}

// Device is the connection to the GPU: one logical device with a
// graphics-capable queue, a presentation-capable queue (possibly the same
// one) and a command pool whose buffers can be reset individually.
//
// Object creation failures are unrecoverable; callers propagate them and
// abort instead of retrying.
type Device interface {
	// SurfaceSupport queries the presentation surface the device was
	// created for.
	SurfaceSupport() (*SurfaceSupport, error)

	// FindSupportedFormat returns the first candidate supporting features
	// with the given tiling, or ErrNoSupportedFormat.
	FindSupportedFormat(candidates []Format, tiling ImageTiling, features FormatFeatures) (Format, error)

	NewSwapchain(desc *SwapchainDesc) (Swapchain, error)
	NewImage(desc *ImageDesc) (Image, error)
	NewBuffer(desc *BufferDesc) (Buffer, error)
	NewImageView(image Image, aspect ImageAspect) (ImageView, error)
	NewRenderPass(desc *RenderPassDesc) (RenderPass, error)
	NewFramebuffer(desc *FramebufferDesc) (Framebuffer, error)
	NewSemaphore() (Semaphore, error)
	NewFence(signaled bool) (Fence, error)

	// NewCommandBuffers allocates primary command buffers from the
	// device's reset-friendly pool.
	NewCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(buffers []CommandBuffer)

	// Submit queues work on the graphics queue.
	Submit(sub *Submission) error

	// Present queues a present request on the presentation queue.
	Present(req *PresentRequest) (Status, error)

	// SingleUse allocates a one-shot command buffer, lets record fill it,
	// submits it and blocks until the GPU has finished executing it.
	// It is meant for resource transfers, not per-frame work.
	SingleUse(record func(cb CommandBuffer)) error

	// WaitIdle blocks until every queue of the device is idle.
	WaitIdle() error
}

type SwapchainDesc struct {
	Format        SurfaceFormat
	PresentMode   PresentMode
	Extent        Extent2D
	MinImageCount uint32

	// Old is the swapchain being replaced, or nil. Passing it lets the
	// presentation engine finish presenting old images without a glitch.
	Old Swapchain
}

// Swapchain is a set of presentable images owned by the presentation
// engine. Its images must not be destroyed individually.
type Swapchain interface {
	Destroyer

	Images() []Image
	Format() SurfaceFormat
	Extent() Extent2D

	// AcquireNextImage requests the next drawable image; signal is
	// signaled once the image is ready to be written.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, Status, error)
}

type ImageDesc struct {
	Extent Extent2D
	Format Format
	Tiling ImageTiling
	Usage  ImageUsage
}

// Image is a GPU image. Images created with NewImage own their memory and
// free it on Destroy. Swapchain images belong to their swapchain and must
// never be destroyed individually.
type Image interface {
	Destroyer

	Format() Format
	Extent() Extent2D

	// MemorySize is the size of the bound allocation in bytes, or 0 for
	// swapchain images.
	MemorySize() uint64
}

type BufferDesc struct {
	Size  uint64
	Usage BufferUsage

	// HostVisible places the buffer in host-visible, host-coherent memory
	// so it can be mapped. Other buffers are device local and are filled
	// with a transfer.
	HostVisible bool
}

// Buffer is a linear GPU allocation. Host-visible buffers are written
// through Map, Write and Flush; a mapping stays valid until Unmap or
// Destroy, so per-frame buffers can stay mapped for their whole life.
type Buffer interface {
	Destroyer

	Size() uint64
	Usage() BufferUsage

	Map() error
	Unmap()

	// Write copies data into the mapped buffer at offset.
	Write(offset uint64, data []byte) error

	// Flush makes host writes visible to the device.
	Flush() error
}

type ImageView interface {
	Destroyer
}

// RenderPassDesc describes the single-subpass pass used to draw into the
// swapchain: one color attachment presented afterwards and one depth
// attachment cleared at the start of the pass.
type RenderPassDesc struct {
	ColorFormat Format
	DepthFormat Format
}

type RenderPass interface {
	Destroyer
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Extent      Extent2D
}

type Framebuffer interface {
	Destroyer
}

// Semaphore orders work between queue operations on the GPU. The CPU never
// waits on it.
type Semaphore interface {
	Destroyer
}

// Fence is a GPU to CPU completion signal.
type Fence interface {
	Destroyer

	// Wait blocks until the fence is signaled or timeout elapses, in which
	// case ErrTimeout is returned.
	Wait(timeout time.Duration) error
	Reset() error
	Signaled() (bool, error)
}

// CommandBuffer records GPU commands. Begin implicitly resets a buffer
// that was recorded before.
type CommandBuffer interface {
	Begin(oneTime bool) error
	End() error

	BeginRenderPass(info *RenderPassBegin)
	EndRenderPass()
	SetViewport(viewport Viewport)
	SetScissor(scissor Rect2D)

	TransitionImageLayout(image Image, oldLayout, newLayout ImageLayout)

	// CopyBuffer copies the first size bytes of src into dst.
	CopyBuffer(src, dst Buffer, size uint64)

	// CopyBufferToImage copies tightly packed texels from src into the
	// whole of dst, which must be in ImageLayoutTransferDst.
	CopyBufferToImage(src Buffer, dst Image)
}

type RenderPassBegin struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        Rect2D
	ClearValues []ClearValue
}

// Submission is one command buffer submitted to the graphics queue. It
// waits on Wait at WaitStage, signals Signal when done and then Fence.
type Submission struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	WaitStage     PipelineStage
	Signal        Semaphore
	Fence         Fence
}

type PresentRequest struct {
	Swapchain  Swapchain
	ImageIndex uint32
	Wait       Semaphore
}
