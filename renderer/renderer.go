// Package renderer drives frames on top of a gpu.Device: it owns the
// current swapchain generation, hands out one command buffer per frame
// slot and rebuilds everything size-dependent when the surface changes.
package renderer

import (
	"fmt"

	"github.com/pkg/errors"

	"vk-render-engine/gpu"
)

// Renderer is the frame loop driver. It is either idle or has a frame
// open between BeginFrame and EndFrame. All methods must be called from
// the goroutine running the frame loop.
type Renderer struct {
	device  gpu.Device
	surface Surface
	config  Config

	swapChain      *SwapChain
	commandBuffers []gpu.CommandBuffer
	uniforms       []gpu.Buffer
	generation     uint64

	currentImageIndex uint32
	currentFrameIndex int
	isFrameStarted    bool
	needsRebuild      bool
}

// NewRenderer builds the first swapchain generation for surface. It blocks
// while the surface has a zero extent.
func NewRenderer(device gpu.Device, surface Surface, config Config) (*Renderer, error) {
	r := &Renderer{
		device:  device,
		surface: surface,
		config:  config.withDefaults(),
	}
	if err := r.recreateSwapChain(); err != nil {
		r.release()
		return nil, err
	}
	if err := r.createUniformBuffers(); err != nil {
		r.release()
		return nil, err
	}
	gpu.Logger().Info("renderer ready",
		"extent", r.Extent().String(),
		"images", r.swapChain.ImageCount(),
		"framesInFlight", r.FramesInFlight(),
		"presentMode", r.swapChain.PresentMode().String(),
	)
	return r, nil
}

// BeginFrame acquires the next image and starts recording the current
// slot's command buffer. A nil buffer with a nil error means the swapchain
// was rebuilt and the caller must skip this frame.
func (r *Renderer) BeginFrame() (gpu.CommandBuffer, error) {
	if r.isFrameStarted {
		panic("renderer: BeginFrame called while a frame is in progress")
	}

	// A resize that arrived between frames is handled before acquiring so
	// that a minimized surface is never acquired from.
	if r.needsRebuild || r.surface.WasResized() {
		if err := r.recreateSwapChain(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	index, status, err := r.swapChain.AcquireNextImage()
	if err != nil {
		return nil, err
	}
	if status == gpu.StatusOutOfDate {
		if err := r.recreateSwapChain(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	r.currentImageIndex = index
	cb := r.commandBuffers[r.currentFrameIndex]
	if err := cb.Begin(false); err != nil {
		return nil, errors.Wrap(err, "begin recording command buffer")
	}
	r.isFrameStarted = true
	return cb, nil
}

// EndFrame finishes recording, submits and presents the frame. A stale or
// suboptimal surface, or a resize reported by the surface, schedules a
// rebuild that the next BeginFrame performs.
func (r *Renderer) EndFrame() error {
	if !r.isFrameStarted {
		panic("renderer: EndFrame called while no frame is in progress")
	}
	cb := r.commandBuffers[r.currentFrameIndex]
	r.isFrameStarted = false
	r.currentFrameIndex = (r.currentFrameIndex + 1) % len(r.commandBuffers)

	if err := cb.End(); err != nil {
		return errors.Wrap(err, "end recording command buffer")
	}

	status, err := r.swapChain.SubmitAndPresent(cb, r.currentImageIndex)
	if err != nil {
		return err
	}
	if status.NeedsRebuild() || r.surface.WasResized() {
		r.surface.ResetResized()
		r.needsRebuild = true
	}
	return nil
}

// BeginSwapChainRenderPass starts the swapchain render pass on cb, clearing
// color and depth, and sets a viewport and scissor covering the whole
// image.
func (r *Renderer) BeginSwapChainRenderPass(cb gpu.CommandBuffer) {
	r.checkFrameBuffer(cb, "BeginSwapChainRenderPass")

	extent := r.swapChain.Extent()
	cb.BeginRenderPass(&gpu.RenderPassBegin{
		RenderPass:  r.swapChain.RenderPass(),
		Framebuffer: r.swapChain.Framebuffer(int(r.currentImageIndex)),
		Area:        gpu.Rect2D{Extent: extent},
		ClearValues: []gpu.ClearValue{
			gpu.ClearColor(r.config.ClearColor[0], r.config.ClearColor[1], r.config.ClearColor[2], r.config.ClearColor[3]),
			gpu.ClearDepthStencil(r.config.ClearDepth, r.config.ClearStencil),
		},
	})
	cb.SetViewport(gpu.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	cb.SetScissor(gpu.Rect2D{Extent: extent})
}

// SetClearColor changes the color the next render passes clear to.
func (r *Renderer) SetClearColor(c [4]float32) {
	r.config.ClearColor = c
}

func (r *Renderer) EndSwapChainRenderPass(cb gpu.CommandBuffer) {
	r.checkFrameBuffer(cb, "EndSwapChainRenderPass")
	cb.EndRenderPass()
}

func (r *Renderer) checkFrameBuffer(cb gpu.CommandBuffer, op string) {
	if !r.isFrameStarted {
		panic(fmt.Sprintf("renderer: %s called while no frame is in progress", op))
	}
	if cb != r.commandBuffers[r.currentFrameIndex] {
		panic(fmt.Sprintf("renderer: %s called with a command buffer from a different frame", op))
	}
}

// Render runs one complete frame: the swapchain render pass is opened and
// every system records into it in order. It reports false when the frame
// was skipped for a rebuild.
func (r *Renderer) Render(frameTime float32, systems ...System) (bool, error) {
	cb, err := r.BeginFrame()
	if err != nil || cb == nil {
		return false, err
	}

	info := FrameInfo{
		FrameIndex:    r.currentFrameIndex,
		FrameTime:     frameTime,
		CommandBuffer: cb,
	}
	if len(r.uniforms) > 0 {
		info.UniformBuffer = r.uniforms[r.currentFrameIndex]
	}
	r.BeginSwapChainRenderPass(cb)
	for _, s := range systems {
		s.Render(info)
	}
	r.EndSwapChainRenderPass(cb)

	if err := r.EndFrame(); err != nil {
		return false, err
	}
	return true, nil
}

// recreateSwapChain waits for a drawable extent and for the device to go
// idle, then replaces the current generation.
func (r *Renderer) recreateSwapChain() error {
	extent := r.surface.Extent()
	for extent.IsZero() {
		r.surface.WaitEvents()
		extent = r.surface.Extent()
	}
	r.surface.ResetResized()

	// No generation is destroyed before the device is idle.
	if err := r.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device idle")
	}

	r.generation++
	sc, err := NewSwapChain(r.device, SwapChainConfig{
		Extent:         extent,
		FramesInFlight: r.config.FramesInFlight,
		SurfaceFormat:  r.config.SurfaceFormat,
		PresentModes:   r.config.PresentModes,
		DepthFormats:   r.config.DepthFormats,
		Previous:       r.swapChain,
		Generation:     r.generation,
	})
	if err != nil {
		r.generation--
		return errors.Wrapf(err, "rebuild swapchain for %s", extent)
	}
	r.swapChain = sc
	r.needsRebuild = false

	if len(r.commandBuffers) != sc.FramesInFlight() {
		if err := r.allocateCommandBuffers(sc.FramesInFlight()); err != nil {
			return err
		}
	}

	if sc.Generation() > 1 {
		gpu.Logger().Info("swapchain rebuilt", "generation", sc.Generation(), "extent", sc.Extent().String())
	}
	return nil
}

func (r *Renderer) allocateCommandBuffers(n int) error {
	r.freeCommandBuffers()
	cbs, err := r.device.NewCommandBuffers(n)
	if err != nil {
		return errors.Wrap(err, "allocate command buffers")
	}
	r.commandBuffers = cbs
	r.currentFrameIndex %= n
	return nil
}

// createUniformBuffers allocates one mapped uniform buffer per possible
// frame slot. Slot i's buffer is only rewritten after BeginFrame returned
// slot i again, by which point the submission that last read it has
// completed.
func (r *Renderer) createUniformBuffers() error {
	size := r.config.UniformBufferSize
	if size == 0 {
		return nil
	}
	for i := 0; i < r.config.FramesInFlight; i++ {
		buf, err := r.device.NewBuffer(&gpu.BufferDesc{
			Size:        size,
			Usage:       gpu.BufferUsageUniform,
			HostVisible: true,
		})
		if err != nil {
			return errors.Wrapf(err, "create uniform buffer %d", i)
		}
		r.uniforms = append(r.uniforms, buf)
		if err := buf.Map(); err != nil {
			return errors.Wrapf(err, "map uniform buffer %d", i)
		}
	}
	return nil
}

func (r *Renderer) destroyUniformBuffers() {
	for _, buf := range r.uniforms {
		buf.Destroy()
	}
	r.uniforms = nil
}

// release frees everything the renderer holds without waiting for the
// device.
func (r *Renderer) release() {
	r.destroyUniformBuffers()
	r.freeCommandBuffers()
	if r.swapChain != nil {
		r.swapChain.Destroy()
		r.swapChain = nil
	}
}

func (r *Renderer) freeCommandBuffers() {
	if len(r.commandBuffers) > 0 {
		r.device.FreeCommandBuffers(r.commandBuffers)
		r.commandBuffers = nil
	}
}

// Destroy waits for the device to go idle and releases the uniform
// buffers, the command buffers and the current swapchain generation.
func (r *Renderer) Destroy() error {
	if r.isFrameStarted {
		panic("renderer: Destroy called while a frame is in progress")
	}
	err := r.device.WaitIdle()
	r.release()
	return errors.Wrap(err, "wait for device idle")
}

// FrameIndex is the public frame slot index, used to pick per-frame
// resources such as uniform buffers.
func (r *Renderer) FrameIndex() int {
	if !r.isFrameStarted {
		panic("renderer: FrameIndex called while no frame is in progress")
	}
	return r.currentFrameIndex
}

// UniformBuffer returns the current frame slot's uniform buffer. It is
// mapped for the renderer's whole life.
func (r *Renderer) UniformBuffer() gpu.Buffer {
	index := r.FrameIndex()
	if len(r.uniforms) == 0 {
		panic("renderer: UniformBuffer called with uniform buffers disabled")
	}
	return r.uniforms[index]
}

// UpdateUniformBuffer writes data at the start of the current frame slot's
// uniform buffer.
func (r *Renderer) UpdateUniformBuffer(data []byte) error {
	buf := r.UniformBuffer()
	if err := buf.Write(0, data); err != nil {
		return errors.Wrap(err, "write uniform buffer")
	}
	return errors.Wrap(buf.Flush(), "flush uniform buffer")
}

func (r *Renderer) CurrentCommandBuffer() gpu.CommandBuffer {
	if !r.isFrameStarted {
		panic("renderer: CurrentCommandBuffer called while no frame is in progress")
	}
	return r.commandBuffers[r.currentFrameIndex]
}

func (r *Renderer) IsFrameInProgress() bool { return r.isFrameStarted }

func (r *Renderer) SwapChain() *SwapChain      { return r.swapChain }
func (r *Renderer) RenderPass() gpu.RenderPass { return r.swapChain.RenderPass() }
func (r *Renderer) Extent() gpu.Extent2D       { return r.swapChain.Extent() }
func (r *Renderer) AspectRatio() float32       { return r.swapChain.AspectRatio() }
func (r *Renderer) FramesInFlight() int        { return len(r.commandBuffers) }
func (r *Renderer) Generation() uint64         { return r.generation }
func (r *Renderer) Config() Config             { return r.config }
