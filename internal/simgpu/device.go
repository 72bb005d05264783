// Package simgpu is a deterministic in-process implementation of the gpu
// contract. Submitted work sits on a simulated queue until the host waits
// for it (or, in manual mode, until Retire is called from another
// goroutine), which makes fence backpressure observable in tests and in the
// demo's headless mode.
//
// The device also validates usage the way a validation layer would: misuse
// that the contract cannot express as an error (destroying an object that
// the GPU still uses, recording into a pending command buffer) is collected
// as a violation.
package simgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"vk-render-engine/gpu"
)

// ErrDeadlock is returned by a fence wait that can never complete because
// no queued work signals the fence.
var ErrDeadlock = errors.New("simgpu: fence wait can never complete")

// Op names a device entry point for error injection.
type Op string

const (
	OpSwapchain      Op = "swapchain"
	OpImage          Op = "image"
	OpBuffer         Op = "buffer"
	OpImageView      Op = "image-view"
	OpRenderPass     Op = "render-pass"
	OpFramebuffer    Op = "framebuffer"
	OpSemaphore      Op = "semaphore"
	OpFence          Op = "fence"
	OpCommandBuffers Op = "command-buffers"
	OpAcquire        Op = "acquire"
	OpSubmit         Op = "submit"
	OpPresent        Op = "present"
	OpWaitIdle       Op = "wait-idle"
)

type Config struct {
	// Extent is the initial drawable size of the surface.
	Extent gpu.Extent2D

	MinImageCount uint32
	MaxImageCount uint32

	Formats      []gpu.SurfaceFormat
	PresentModes []gpu.PresentMode

	// DepthFormats are the formats usable as optimal-tiling depth-stencil
	// attachments.
	DepthFormats []gpu.Format

	// UndefinedExtent makes the surface report gpu.UndefinedExtent so the
	// swapchain size is chosen by the application.
	UndefinedExtent bool

	// ManualRetire keeps submitted work pending until Retire is called.
	// Fence waits then block instead of completing the work themselves.
	// WaitIdle and SingleUse always drain the queue.
	ManualRetire bool
}

func DefaultConfig() Config {
	return Config{
		Extent:        gpu.Extent2D{Width: 800, Height: 600},
		MinImageCount: 2,
		MaxImageCount: 3,
		Formats: []gpu.SurfaceFormat{
			{Format: gpu.FormatB8G8R8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
			{Format: gpu.FormatB8G8R8A8Unorm, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeMailbox},
		DepthFormats: []gpu.Format{gpu.FormatD32Sfloat, gpu.FormatD24UnormS8Uint},
	}
}

type submission struct {
	id      uint64
	cb      *CommandBuffer
	fence   *Fence
	signal  *Semaphore
	image   *Image
	buffers []*Buffer

	// ops run when the submission retires, which is when the simulated
	// GPU executes transfers.
	ops []func()
}

// Device is a simulated gpu.Device. It is safe for concurrent use.
type Device struct {
	cfg     Config
	surface *Surface

	mu   sync.Mutex
	cond *sync.Cond

	nextID     uint64
	pending    []*submission
	events     []Event
	violations []string
	failures   map[Op]error
	live       map[uint64]string

	suboptimal    bool
	acquireScript []uint32

	acquires, submits, presents int
}

var _ gpu.Device = (*Device)(nil)

func NewDevice(cfg Config) *Device {
	d := &Device{
		cfg:      cfg,
		failures: make(map[Op]error),
		live:     make(map[uint64]string),
	}
	d.cond = sync.NewCond(&d.mu)
	d.surface = &Surface{dev: d, extent: cfg.Extent}
	return d
}

// Surface returns the drawable surface the device presents to.
func (d *Device) Surface() *Surface { return d.surface }

// Fail makes the next call of op return err.
func (d *Device) Fail(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// SetSuboptimal makes acquire and present report gpu.StatusSuboptimal.
func (d *Device) SetSuboptimal(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suboptimal = v
}

// ScriptAcquire queues the image indices returned by the next acquisitions,
// overriding the round-robin order.
func (d *Device) ScriptAcquire(indices ...uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireScript = append(d.acquireScript, indices...)
}

// SetImageCountLimits changes the image counts the surface reports.
func (d *Device) SetImageCountLimits(minCount, maxCount uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.MinImageCount, d.cfg.MaxImageCount = minCount, maxCount
}

func (d *Device) SetSurfaceFormats(formats ...gpu.SurfaceFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Formats = append([]gpu.SurfaceFormat(nil), formats...)
}

func (d *Device) SetDepthFormats(formats ...gpu.Format) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.DepthFormats = append([]gpu.Format(nil), formats...)
}

// Events returns a copy of the timeline.
func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Violations returns the usage errors detected so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

func (d *Device) Acquires() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquires
}

func (d *Device) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

func (d *Device) Presents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

// Pending returns the number of submissions the simulated GPU has not
// finished yet.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Live returns the number of created objects not yet destroyed or freed.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// LiveKinds counts live objects per kind.
func (d *Device) LiveKinds() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int)
	for _, kind := range d.live {
		out[kind]++
	}
	return out
}

// Retire completes up to n of the oldest pending submissions and returns
// how many were completed.
func (d *Device) Retire(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.pending) {
		n = len(d.pending)
	}
	d.retireLocked(n)
	return n
}

func (d *Device) retireLocked(n int) {
	for _, s := range d.pending[:n] {
		for _, op := range s.ops {
			op()
		}
		if s.fence != nil {
			s.fence.signaled = true
		}
		if s.image != nil && s.image.busy == s {
			s.image.busy = nil
		}
		d.eventLocked(Event{Kind: EventRetire, Object: s.id})
	}
	d.pending = d.pending[n:]
	d.cond.Broadcast()
}

func (d *Device) newIDLocked(kind string) uint64 {
	d.nextID++
	d.live[d.nextID] = kind
	return d.nextID
}

func (d *Device) destroyLocked(id uint64, kind string) {
	if _, ok := d.live[id]; !ok {
		d.violationLocked("%s %d destroyed twice", kind, id)
		return
	}
	delete(d.live, id)
}

func (d *Device) eventLocked(e Event) {
	d.events = append(d.events, e)
}

func (d *Device) violationLocked(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) failLocked(op Op) error {
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

func (d *Device) SurfaceSupport() (*gpu.SurfaceSupport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current := d.surface.extent
	if d.cfg.UndefinedExtent {
		current = gpu.Extent2D{Width: gpu.UndefinedExtent, Height: gpu.UndefinedExtent}
	}
	return &gpu.SurfaceSupport{
		Capabilities: gpu.SurfaceCapabilities{
			MinImageCount:  d.cfg.MinImageCount,
			MaxImageCount:  d.cfg.MaxImageCount,
			CurrentExtent:  current,
			MinImageExtent: gpu.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: gpu.Extent2D{Width: 16384, Height: 16384},
		},
		Formats:      append([]gpu.SurfaceFormat(nil), d.cfg.Formats...),
		PresentModes: append([]gpu.PresentMode(nil), d.cfg.PresentModes...),
	}, nil
}

func (d *Device) FindSupportedFormat(candidates []gpu.Format, tiling gpu.ImageTiling, features gpu.FormatFeatures) (gpu.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tiling == gpu.ImageTilingOptimal && features == gpu.FormatFeatureDepthStencilAttachment {
		for _, c := range candidates {
			for _, f := range d.cfg.DepthFormats {
				if c == f {
					return c, nil
				}
			}
		}
	}
	return gpu.FormatUndefined, gpu.ErrNoSupportedFormat
}

func (d *Device) NewSwapchain(desc *gpu.SwapchainDesc) (gpu.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpSwapchain); err != nil {
		return nil, err
	}
	if desc.MinImageCount == 0 {
		d.violationLocked("swapchain requested with zero images")
	}
	if desc.Extent.IsZero() {
		d.violationLocked("swapchain requested with zero extent %s", desc.Extent)
	}
	if desc.Old != nil {
		old, ok := desc.Old.(*Swapchain)
		switch {
		case !ok:
			d.violationLocked("old swapchain of foreign type %T", desc.Old)
		case old.destroyed:
			d.violationLocked("old swapchain %d already destroyed", old.id)
		default:
			old.retired = true
		}
	}
	sc := &Swapchain{
		dev:    d,
		id:     d.newIDLocked("swapchain"),
		format: desc.Format,
		extent: desc.Extent,
		mode:   desc.PresentMode,
	}
	sc.acquired = make(map[uint32]bool)
	for i := uint32(0); i < desc.MinImageCount; i++ {
		d.nextID++
		sc.images = append(sc.images, &Image{
			dev:       d,
			id:        d.nextID,
			format:    desc.Format.Format,
			extent:    desc.Extent,
			swapchain: sc,
			index:     i,
		})
	}
	d.eventLocked(Event{Kind: EventSwapchainCreate, Object: sc.id, Extent: desc.Extent})
	return sc, nil
}

func (d *Device) NewImage(desc *gpu.ImageDesc) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpImage); err != nil {
		return nil, err
	}
	size := uint64(desc.Extent.Width) * uint64(desc.Extent.Height) * uint64(desc.Format.BytesPerPixel())
	return &Image{
		dev:    d,
		id:     d.newIDLocked("image"),
		format: desc.Format,
		extent: desc.Extent,
		usage:  desc.Usage,
		size:   size,
		layout: gpu.ImageLayoutUndefined,
	}, nil
}

func (d *Device) NewBuffer(desc *gpu.BufferDesc) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpBuffer); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		d.violationLocked("buffer requested with zero size")
	}
	return &Buffer{
		dev:         d,
		id:          d.newIDLocked("buffer"),
		usage:       desc.Usage,
		hostVisible: desc.HostVisible,
		data:        make([]byte, desc.Size),
	}, nil
}

func (d *Device) NewImageView(image gpu.Image, aspect gpu.ImageAspect) (gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpImageView); err != nil {
		return nil, err
	}
	img := image.(*Image)
	if img.destroyed {
		d.violationLocked("view of destroyed image %d", img.id)
	}
	if img.format.IsDepth() != (aspect&gpu.ImageAspectDepth != 0) {
		d.violationLocked("view aspect %#x does not match image format %s", uint32(aspect), img.format)
	}
	return &ImageView{dev: d, id: d.newIDLocked("image view"), image: img}, nil
}

func (d *Device) NewRenderPass(desc *gpu.RenderPassDesc) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpRenderPass); err != nil {
		return nil, err
	}
	if !desc.DepthFormat.IsDepth() {
		d.violationLocked("render pass depth attachment has color format %s", desc.DepthFormat)
	}
	return &RenderPass{dev: d, id: d.newIDLocked("render pass"), desc: *desc}, nil
}

func (d *Device) NewFramebuffer(desc *gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpFramebuffer); err != nil {
		return nil, err
	}
	fb := &Framebuffer{dev: d, extent: desc.Extent}
	for _, a := range desc.Attachments {
		v := a.(*ImageView)
		if v.image.extent != desc.Extent {
			d.violationLocked("framebuffer extent %s does not match attachment extent %s", desc.Extent, v.image.extent)
		}
		fb.views = append(fb.views, v)
	}
	fb.id = d.newIDLocked("framebuffer")
	return fb, nil
}

func (d *Device) NewSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpSemaphore); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, id: d.newIDLocked("semaphore")}, nil
}

func (d *Device) NewFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpFence); err != nil {
		return nil, err
	}
	return &Fence{dev: d, id: d.newIDLocked("fence"), signaled: signaled}, nil
}

func (d *Device) NewCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpCommandBuffers); err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, count)
	for i := range out {
		out[i] = &CommandBuffer{dev: d, id: d.newIDLocked("command buffer")}
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range buffers {
		cb := b.(*CommandBuffer)
		if d.isPendingLocked(cb) {
			d.violationLocked("command buffer %d freed while pending", cb.id)
		}
		cb.freed = true
		d.destroyLocked(cb.id, "command buffer")
	}
}

func (d *Device) isPendingLocked(cb *CommandBuffer) bool {
	for _, s := range d.pending {
		if s.cb == cb {
			return true
		}
	}
	return false
}

func (d *Device) Submit(sub *gpu.Submission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpSubmit); err != nil {
		return err
	}
	return d.submitLocked(sub)
}

func (d *Device) submitLocked(sub *gpu.Submission) error {
	cb, ok := sub.CommandBuffer.(*CommandBuffer)
	if !ok || cb.freed {
		return errors.New("simgpu: submit of unknown or freed command buffer")
	}
	if cb.recording || !cb.ended {
		d.violationLocked("command buffer %d submitted while not executable", cb.id)
	}
	if d.isPendingLocked(cb) {
		d.violationLocked("command buffer %d submitted while pending", cb.id)
	}
	if sub.Wait != nil {
		w := sub.Wait.(*Semaphore)
		if !w.armed {
			d.violationLocked("submit waits on semaphore %d that nothing signals", w.id)
		}
		w.armed = false
	}
	var signal *Semaphore
	if sub.Signal != nil {
		signal = sub.Signal.(*Semaphore)
		if signal.armed {
			d.violationLocked("submit signals semaphore %d that is already signaled", signal.id)
		}
		signal.armed = true
	}
	var fence *Fence
	if sub.Fence != nil {
		fence = sub.Fence.(*Fence)
		if fence.signaled {
			d.violationLocked("submit with fence %d still signaled", fence.id)
		}
		for _, s := range d.pending {
			if s.fence == fence {
				d.violationLocked("submit with fence %d already pending", fence.id)
			}
		}
	}
	target := cb.target
	if target != nil && target.busy != nil {
		d.violationLocked("image %d submitted while submission %d is still executing", target.index, target.busy.id)
		return errors.Errorf("simgpu: image %d is still being written", target.index)
	}

	d.nextID++
	s := &submission{
		id:      d.nextID,
		cb:      cb,
		fence:   fence,
		signal:  signal,
		image:   target,
		buffers: append([]*Buffer(nil), cb.buffers...),
		ops:     append([]func(){}, cb.ops...),
	}
	if target != nil {
		target.busy = s
	}
	d.pending = append(d.pending, s)
	d.submits++
	e := Event{Kind: EventSubmit, Object: cb.id}
	if target != nil {
		e.Image = target.index
	}
	d.eventLocked(e)
	return nil
}

func (d *Device) Present(req *gpu.PresentRequest) (gpu.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpPresent); err != nil {
		return gpu.StatusSuccess, err
	}
	sc := req.Swapchain.(*Swapchain)
	d.presents++
	if sc.destroyed {
		d.violationLocked("present to destroyed swapchain %d", sc.id)
	}
	if req.Wait != nil {
		w := req.Wait.(*Semaphore)
		if !w.armed {
			d.violationLocked("present waits on semaphore %d that nothing signals", w.id)
		}
		w.armed = false
	}
	if int(req.ImageIndex) >= len(sc.images) {
		return gpu.StatusSuccess, errors.Errorf("simgpu: present of image %d out of %d", req.ImageIndex, len(sc.images))
	}
	if !sc.acquired[req.ImageIndex] {
		d.violationLocked("present of image %d that was not acquired", req.ImageIndex)
	}
	delete(sc.acquired, req.ImageIndex)

	status := gpu.StatusSuccess
	surface := d.surface.extent
	switch {
	case sc.retired, surface.IsZero():
		status = gpu.StatusOutOfDate
	case surface != sc.extent && !d.cfg.UndefinedExtent, d.suboptimal:
		status = gpu.StatusSuboptimal
	}
	d.eventLocked(Event{Kind: EventPresent, Object: sc.id, Image: req.ImageIndex, Status: status})
	return status, nil
}

// SingleUse records and runs a one-shot command buffer, then drains the
// queue like a queue wait-idle would.
func (d *Device) SingleUse(record func(cb gpu.CommandBuffer)) error {
	d.mu.Lock()
	cb := &CommandBuffer{dev: d, id: d.newIDLocked("command buffer")}
	d.mu.Unlock()

	if err := cb.Begin(true); err != nil {
		return err
	}
	record(cb)
	if err := cb.End(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.submitLocked(&gpu.Submission{CommandBuffer: cb}); err != nil {
		return err
	}
	d.retireLocked(len(d.pending))
	d.eventLocked(Event{Kind: EventSingleUse, Object: cb.id})
	cb.freed = true
	d.destroyLocked(cb.id, "command buffer")
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpWaitIdle); err != nil {
		return err
	}
	d.retireLocked(len(d.pending))
	d.eventLocked(Event{Kind: EventWaitIdle})
	return nil
}

func (d *Device) waitFence(f *Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.destroyed {
		d.violationLocked("wait on destroyed fence %d", f.id)
	}
	d.eventLocked(Event{Kind: EventFenceWait, Object: f.id})
	if f.signaled {
		return nil
	}

	if !d.cfg.ManualRetire {
		for i, s := range d.pending {
			if s.fence == f {
				d.retireLocked(i + 1)
				return nil
			}
		}
		if timeout != gpu.WaitForever {
			return gpu.ErrTimeout
		}
		return errors.Wrapf(ErrDeadlock, "fence %d", f.id)
	}

	var expired bool
	if timeout != gpu.WaitForever {
		t := time.AfterFunc(timeout, func() {
			d.mu.Lock()
			expired = true
			d.cond.Broadcast()
			d.mu.Unlock()
		})
		defer t.Stop()
	}
	for !f.signaled {
		if expired {
			return gpu.ErrTimeout
		}
		if !d.fencePendingLocked(f) {
			return errors.Wrapf(ErrDeadlock, "fence %d", f.id)
		}
		d.cond.Wait()
	}
	return nil
}

// bufferPendingLocked returns the oldest pending submission that reads or
// writes b, or nil.
func (d *Device) bufferPendingLocked(b *Buffer) *submission {
	for _, s := range d.pending {
		for _, used := range s.buffers {
			if used == b {
				return s
			}
		}
	}
	return nil
}

func (d *Device) fencePendingLocked(f *Fence) bool {
	for _, s := range d.pending {
		if s.fence == f {
			return true
		}
	}
	return false
}
