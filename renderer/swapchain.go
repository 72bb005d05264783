package renderer

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"vk-render-engine/gpu"
)

// ErrFormatChanged is returned when a chained swapchain would use a
// different color or depth format than its predecessor. Pipelines built
// against the old render pass would be invalid, so this is fatal.
var ErrFormatChanged = errors.New("renderer: swapchain image or depth format has changed")

type SwapChainConfig struct {
	// Extent is the desired drawable size. It is only used when the surface
	// lets the application pick the size.
	Extent gpu.Extent2D

	FramesInFlight int

	SurfaceFormat gpu.SurfaceFormat
	PresentModes  []gpu.PresentMode
	DepthFormats  []gpu.Format

	// Previous is the generation being replaced. On success it is
	// destroyed; the caller must have waited for the device to go idle.
	Previous *SwapChain

	Generation uint64
}

type frameSync struct {
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
	inFlight       gpu.Fence
}

// SwapChain is one generation of presentable images together with every
// resource that depends on their size: image views, a shared depth buffer,
// the render pass, one framebuffer per image and the per-slot
// synchronization objects.
type SwapChain struct {
	device gpu.Device

	swapchain    gpu.Swapchain
	images       []gpu.Image
	imageViews   []gpu.ImageView
	framebuffers []gpu.Framebuffer
	renderPass   gpu.RenderPass

	depthImage  gpu.Image
	depthView   gpu.ImageView
	depthFormat gpu.Format

	surfaceFormat gpu.SurfaceFormat
	presentMode   gpu.PresentMode
	extent        gpu.Extent2D
	generation    uint64

	sync []frameSync

	// imagesInFlight maps a swapchain image to the slot fence of the last
	// submission that wrote it, or nil.
	imagesInFlight []gpu.Fence
	currentFrame   int

	destroyed bool
}

// NewSwapChain builds a new generation. When cfg.Previous is set, the new
// swapchain is created from it and it is destroyed once the new generation
// is complete.
func NewSwapChain(device gpu.Device, cfg SwapChainConfig) (*SwapChain, error) {
	support, err := device.SurfaceSupport()
	if err != nil {
		return nil, errors.Wrap(err, "query surface support")
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return nil, gpu.ErrNoSurfaceFormats
	}

	depthFormat, err := device.FindSupportedFormat(cfg.DepthFormats, gpu.ImageTilingOptimal, gpu.FormatFeatureDepthStencilAttachment)
	if err != nil {
		return nil, errors.Wrap(err, "find depth format")
	}

	sc := &SwapChain{
		device:        device,
		surfaceFormat: chooseSurfaceFormat(support.Formats, cfg.SurfaceFormat),
		presentMode:   choosePresentMode(support.PresentModes, cfg.PresentModes),
		extent:        chooseExtent(&support.Capabilities, cfg.Extent),
		depthFormat:   depthFormat,
		generation:    cfg.Generation,
	}

	prev := cfg.Previous
	if prev != nil && !sc.CompatibleWith(prev) {
		return nil, errors.Wrapf(ErrFormatChanged, "color %s -> %s, depth %s -> %s",
			prev.surfaceFormat.Format, sc.surfaceFormat.Format, prev.depthFormat, sc.depthFormat)
	}

	if err := sc.init(&support.Capabilities, prev, cfg.FramesInFlight); err != nil {
		sc.Destroy()
		return nil, err
	}
	if prev != nil {
		prev.Destroy()
	}

	gpu.Logger().Debug("swapchain created",
		"generation", sc.generation,
		"extent", sc.extent.String(),
		"images", len(sc.images),
		"framesInFlight", len(sc.sync),
		"format", sc.surfaceFormat.Format.String(),
		"depthFormat", sc.depthFormat.String(),
		"depthSize", units.BytesSize(float64(sc.depthImage.MemorySize())),
		"presentMode", sc.presentMode.String(),
	)
	return sc, nil
}

func (sc *SwapChain) init(caps *gpu.SurfaceCapabilities, prev *SwapChain, framesInFlight int) error {
	desc := &gpu.SwapchainDesc{
		Format:        sc.surfaceFormat,
		PresentMode:   sc.presentMode,
		Extent:        sc.extent,
		MinImageCount: chooseImageCount(caps),
	}
	if prev != nil {
		desc.Old = prev.swapchain
	}

	var err error
	if sc.swapchain, err = sc.device.NewSwapchain(desc); err != nil {
		return errors.Wrap(err, "create swapchain")
	}
	sc.images = sc.swapchain.Images()

	if err := sc.createImageViews(); err != nil {
		return err
	}
	if err := sc.createRenderPass(); err != nil {
		return err
	}
	if err := sc.createDepthResources(); err != nil {
		return err
	}
	if err := sc.createFramebuffers(); err != nil {
		return err
	}
	return sc.createSyncObjects(framesInFlight)
}

func (sc *SwapChain) createImageViews() error {
	sc.imageViews = make([]gpu.ImageView, 0, len(sc.images))
	for i, img := range sc.images {
		view, err := sc.device.NewImageView(img, gpu.ImageAspectColor)
		if err != nil {
			return errors.Wrapf(err, "create image view %d", i)
		}
		sc.imageViews = append(sc.imageViews, view)
	}
	return nil
}

func (sc *SwapChain) createRenderPass() error {
	rp, err := sc.device.NewRenderPass(&gpu.RenderPassDesc{
		ColorFormat: sc.surfaceFormat.Format,
		DepthFormat: sc.depthFormat,
	})
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}
	sc.renderPass = rp
	return nil
}

func (sc *SwapChain) createDepthResources() error {
	img, err := sc.device.NewImage(&gpu.ImageDesc{
		Extent: sc.extent,
		Format: sc.depthFormat,
		Tiling: gpu.ImageTilingOptimal,
		Usage:  gpu.ImageUsageDepthStencilAttachment,
	})
	if err != nil {
		return errors.Wrap(err, "create depth image")
	}
	sc.depthImage = img

	view, err := sc.device.NewImageView(img, gpu.DepthAspect(sc.depthFormat))
	if err != nil {
		return errors.Wrap(err, "create depth image view")
	}
	sc.depthView = view

	err = sc.device.SingleUse(func(cb gpu.CommandBuffer) {
		cb.TransitionImageLayout(img, gpu.ImageLayoutUndefined, gpu.ImageLayoutDepthStencilAttachment)
	})
	return errors.Wrap(err, "transition depth image")
}

func (sc *SwapChain) createFramebuffers() error {
	sc.framebuffers = make([]gpu.Framebuffer, 0, len(sc.imageViews))
	for i, view := range sc.imageViews {
		fb, err := sc.device.NewFramebuffer(&gpu.FramebufferDesc{
			RenderPass:  sc.renderPass,
			Attachments: []gpu.ImageView{view, sc.depthView},
			Extent:      sc.extent,
		})
		if err != nil {
			return errors.Wrapf(err, "create framebuffer %d", i)
		}
		sc.framebuffers = append(sc.framebuffers, fb)
	}
	return nil
}

func (sc *SwapChain) createSyncObjects(framesInFlight int) error {
	n := framesInFlight
	if n > len(sc.images) {
		n = len(sc.images)
	}
	if n < 1 {
		n = 1
	}

	sc.sync = make([]frameSync, 0, n)
	for i := 0; i < n; i++ {
		var s frameSync
		var err error
		if s.imageAvailable, err = sc.device.NewSemaphore(); err != nil {
			return errors.Wrapf(err, "create image-available semaphore %d", i)
		}
		if s.renderFinished, err = sc.device.NewSemaphore(); err != nil {
			s.imageAvailable.Destroy()
			return errors.Wrapf(err, "create render-finished semaphore %d", i)
		}
		// Signaled so the first wait on each slot returns immediately.
		if s.inFlight, err = sc.device.NewFence(true); err != nil {
			s.imageAvailable.Destroy()
			s.renderFinished.Destroy()
			return errors.Wrapf(err, "create in-flight fence %d", i)
		}
		sc.sync = append(sc.sync, s)
	}

	sc.imagesInFlight = make([]gpu.Fence, len(sc.images))
	return nil
}

// AcquireNextImage waits for the current slot's previous submission and
// acquires the next drawable image. StatusOutOfDate means the chain must
// be rebuilt before anything can be drawn.
func (sc *SwapChain) AcquireNextImage() (uint32, gpu.Status, error) {
	s := &sc.sync[sc.currentFrame]
	if err := s.inFlight.Wait(gpu.WaitForever); err != nil {
		return 0, gpu.StatusSuccess, errors.Wrap(err, "wait for frame fence")
	}

	index, status, err := sc.swapchain.AcquireNextImage(gpu.WaitForever, s.imageAvailable)
	if err != nil {
		return 0, status, errors.Wrap(err, "acquire swapchain image")
	}
	if status == gpu.StatusSuboptimal {
		gpu.Logger().Warn("suboptimal swapchain image", "generation", sc.generation, "image", index)
	}
	return index, status, nil
}

// SubmitAndPresent submits cb, which renders into the image acquired for
// imageIndex, and queues the image for presentation. The current frame
// slot advances even when presentation reports a stale surface.
func (sc *SwapChain) SubmitAndPresent(cb gpu.CommandBuffer, imageIndex uint32) (gpu.Status, error) {
	if int(imageIndex) >= len(sc.images) {
		panic(fmt.Sprintf("renderer: image index %d out of range [0,%d)", imageIndex, len(sc.images)))
	}
	s := &sc.sync[sc.currentFrame]

	// A different slot may still be rendering into this image.
	if f := sc.imagesInFlight[imageIndex]; f != nil && f != s.inFlight {
		if err := f.Wait(gpu.WaitForever); err != nil {
			return gpu.StatusSuccess, errors.Wrapf(err, "wait for image %d", imageIndex)
		}
	}
	sc.imagesInFlight[imageIndex] = s.inFlight

	if err := s.inFlight.Reset(); err != nil {
		return gpu.StatusSuccess, errors.Wrap(err, "reset frame fence")
	}

	err := sc.device.Submit(&gpu.Submission{
		CommandBuffer: cb,
		Wait:          s.imageAvailable,
		WaitStage:     gpu.PipelineStageColorAttachmentOutput,
		Signal:        s.renderFinished,
		Fence:         s.inFlight,
	})
	if err != nil {
		return gpu.StatusSuccess, errors.Wrap(err, "submit draw command buffer")
	}

	status, err := sc.device.Present(&gpu.PresentRequest{
		Swapchain:  sc.swapchain,
		ImageIndex: imageIndex,
		Wait:       s.renderFinished,
	})
	sc.currentFrame = (sc.currentFrame + 1) % len(sc.sync)
	if err != nil {
		return status, errors.Wrap(err, "present swapchain image")
	}
	return status, nil
}

// Destroy releases every resource of the generation. The caller must
// ensure the GPU no longer uses them. Calling Destroy twice is a no-op.
func (sc *SwapChain) Destroy() {
	if sc.destroyed {
		return
	}
	sc.destroyed = true

	for _, fb := range sc.framebuffers {
		fb.Destroy()
	}
	sc.framebuffers = nil

	if sc.depthView != nil {
		sc.depthView.Destroy()
		sc.depthView = nil
	}
	if sc.depthImage != nil {
		sc.depthImage.Destroy()
		sc.depthImage = nil
	}

	// Swapchain images are owned by the swapchain; only their views go.
	for _, v := range sc.imageViews {
		v.Destroy()
	}
	sc.imageViews = nil

	if sc.swapchain != nil {
		sc.swapchain.Destroy()
		sc.swapchain = nil
	}
	sc.images = nil

	if sc.renderPass != nil {
		sc.renderPass.Destroy()
		sc.renderPass = nil
	}

	for _, s := range sc.sync {
		s.imageAvailable.Destroy()
		s.renderFinished.Destroy()
		s.inFlight.Destroy()
	}
	sc.sync = nil
	sc.imagesInFlight = nil
}

// CompatibleWith reports whether sc renders with the same color and depth
// formats as other.
func (sc *SwapChain) CompatibleWith(other *SwapChain) bool {
	return sc.surfaceFormat.Format == other.surfaceFormat.Format &&
		sc.depthFormat == other.depthFormat
}

func (sc *SwapChain) RenderPass() gpu.RenderPass { return sc.renderPass }

func (sc *SwapChain) Framebuffer(index int) gpu.Framebuffer { return sc.framebuffers[index] }

func (sc *SwapChain) ImageCount() int { return len(sc.images) }

// FramesInFlight is the number of frame slots, which never exceeds the
// number of images.
func (sc *SwapChain) FramesInFlight() int { return len(sc.sync) }

func (sc *SwapChain) CurrentFrame() int { return sc.currentFrame }

func (sc *SwapChain) Extent() gpu.Extent2D { return sc.extent }
func (sc *SwapChain) Width() uint32        { return sc.extent.Width }
func (sc *SwapChain) Height() uint32       { return sc.extent.Height }

func (sc *SwapChain) AspectRatio() float32 {
	return float32(sc.extent.Width) / float32(sc.extent.Height)
}

func (sc *SwapChain) ImageFormat() gpu.Format          { return sc.surfaceFormat.Format }
func (sc *SwapChain) SurfaceFormat() gpu.SurfaceFormat { return sc.surfaceFormat }
func (sc *SwapChain) DepthFormat() gpu.Format          { return sc.depthFormat }
func (sc *SwapChain) PresentMode() gpu.PresentMode     { return sc.presentMode }
func (sc *SwapChain) Generation() uint64               { return sc.generation }

func chooseSurfaceFormat(available []gpu.SurfaceFormat, preferred gpu.SurfaceFormat) gpu.SurfaceFormat {
	for _, f := range available {
		if f == preferred {
			return f
		}
	}
	return available[0]
}

func choosePresentMode(available, preferred []gpu.PresentMode) gpu.PresentMode {
	for _, want := range preferred {
		for _, m := range available {
			if m == want {
				return m
			}
		}
	}
	return gpu.PresentModeFifo
}

// chooseExtent uses the surface's current extent when it defines one. A
// zero current extent can be reported briefly after a window is restored,
// so it is treated like an undefined one.
func chooseExtent(caps *gpu.SurfaceCapabilities, requested gpu.Extent2D) gpu.Extent2D {
	if caps.CurrentExtent.Width != gpu.UndefinedExtent && !caps.CurrentExtent.IsZero() {
		return caps.CurrentExtent
	}
	return gpu.Extent2D{
		Width:  clamp(requested.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(requested.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func chooseImageCount(caps *gpu.SurfaceCapabilities) uint32 {
	n := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && n > caps.MaxImageCount {
		n = caps.MaxImageCount
	}
	return n
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
