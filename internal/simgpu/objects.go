package simgpu

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"vk-render-engine/gpu"
)

type Swapchain struct {
	dev    *Device
	id     uint64
	format gpu.SurfaceFormat
	extent gpu.Extent2D
	mode   gpu.PresentMode
	images []*Image
	next   uint32

	acquired  map[uint32]bool
	retired   bool
	destroyed bool
}

func (s *Swapchain) ID() uint64                   { return s.id }
func (s *Swapchain) Format() gpu.SurfaceFormat    { return s.format }
func (s *Swapchain) Extent() gpu.Extent2D         { return s.extent }
func (s *Swapchain) PresentMode() gpu.PresentMode { return s.mode }

// Retired reports whether a newer swapchain was created from this one.
func (s *Swapchain) Retired() bool {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.retired
}

func (s *Swapchain) Images() []gpu.Image {
	out := make([]gpu.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, gpu.Status, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpAcquire); err != nil {
		return 0, gpu.StatusSuccess, err
	}
	d.acquires++
	if s.destroyed {
		d.violationLocked("acquire from destroyed swapchain %d", s.id)
	}

	surface := d.surface.extent
	stale := surface.IsZero() || (!d.cfg.UndefinedExtent && surface != s.extent)
	if s.retired || stale {
		d.eventLocked(Event{Kind: EventAcquire, Object: s.id, Status: gpu.StatusOutOfDate})
		return 0, gpu.StatusOutOfDate, nil
	}

	sem := signal.(*Semaphore)
	if sem.armed {
		d.violationLocked("acquire signals semaphore %d that is already signaled", sem.id)
	}
	sem.armed = true

	var index uint32
	if len(d.acquireScript) > 0 {
		index = d.acquireScript[0]
		d.acquireScript = d.acquireScript[1:]
	} else {
		index = s.next
	}
	if int(index) >= len(s.images) {
		return 0, gpu.StatusSuccess, errors.Errorf("simgpu: scripted image %d out of %d", index, len(s.images))
	}
	s.next = (index + 1) % uint32(len(s.images))
	if s.acquired[index] {
		d.violationLocked("image %d acquired twice without present", index)
	}
	s.acquired[index] = true

	status := gpu.StatusSuccess
	if d.suboptimal {
		status = gpu.StatusSuboptimal
	}
	d.eventLocked(Event{Kind: EventAcquire, Object: s.id, Image: index, Status: status})
	return index, status, nil
}

func (s *Swapchain) Destroy() {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pending {
		if p.image != nil && p.image.swapchain == s {
			d.violationLocked("swapchain %d destroyed while image %d is in use", s.id, p.image.index)
		}
	}
	s.destroyed = true
	d.destroyLocked(s.id, "swapchain")
	d.eventLocked(Event{Kind: EventSwapchainDestroy, Object: s.id})
}

type Image struct {
	dev       *Device
	id        uint64
	format    gpu.Format
	extent    gpu.Extent2D
	usage     gpu.ImageUsage
	size      uint64
	layout    gpu.ImageLayout
	texels    []byte
	swapchain *Swapchain
	index     uint32
	busy      *submission
	destroyed bool
}

func (i *Image) Format() gpu.Format   { return i.format }
func (i *Image) Extent() gpu.Extent2D { return i.extent }
func (i *Image) MemorySize() uint64   { return i.size }

// Layout is the layout the image was last transitioned to.
func (i *Image) Layout() gpu.ImageLayout {
	i.dev.mu.Lock()
	defer i.dev.mu.Unlock()
	return i.layout
}

// Contents returns the texels last copied into the image, or nil.
func (i *Image) Contents() []byte {
	i.dev.mu.Lock()
	defer i.dev.mu.Unlock()
	return append([]byte(nil), i.texels...)
}

func (i *Image) Destroy() {
	d := i.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if i.swapchain != nil {
		d.violationLocked("swapchain image %d destroyed individually", i.index)
		return
	}
	i.destroyed = true
	d.destroyLocked(i.id, "image")
}

type Buffer struct {
	dev         *Device
	id          uint64
	usage       gpu.BufferUsage
	hostVisible bool
	mapped      bool
	destroyed   bool
	data        []byte
}

func (b *Buffer) ID() uint64             { return b.id }
func (b *Buffer) Size() uint64           { return uint64(len(b.data)) }
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

// Contents returns a copy of the buffer memory.
func (b *Buffer) Contents() []byte {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) Mapped() bool {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return b.mapped
}

func (b *Buffer) Map() error {
	d := b.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !b.hostVisible {
		return errors.Wrapf(gpu.ErrNotHostVisible, "buffer %d", b.id)
	}
	b.mapped = true
	return nil
}

func (b *Buffer) Unmap() {
	d := b.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !b.mapped {
		d.violationLocked("buffer %d unmapped while not mapped", b.id)
	}
	b.mapped = false
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	d := b.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !b.mapped {
		return errors.Wrapf(gpu.ErrNotMapped, "buffer %d", b.id)
	}
	if err := gpu.CheckRange(uint64(len(b.data)), offset, len(data)); err != nil {
		return err
	}
	if s := d.bufferPendingLocked(b); s != nil {
		d.violationLocked("buffer %d written while submission %d still uses it", b.id, s.id)
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *Buffer) Flush() error {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if !b.mapped {
		return errors.Wrapf(gpu.ErrNotMapped, "buffer %d", b.id)
	}
	return nil
}

func (b *Buffer) Destroy() {
	d := b.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.bufferPendingLocked(b); s != nil {
		d.violationLocked("buffer %d destroyed while submission %d still uses it", b.id, s.id)
	}
	b.mapped = false
	b.destroyed = true
	d.destroyLocked(b.id, "buffer")
}

type ImageView struct {
	dev   *Device
	id    uint64
	image *Image
}

func (v *ImageView) Destroy() {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	if v.image.destroyed {
		v.dev.violationLocked("image view %d outlived its image", v.id)
	}
	v.dev.destroyLocked(v.id, "image view")
}

type RenderPass struct {
	dev  *Device
	id   uint64
	desc gpu.RenderPassDesc
}

func (p *RenderPass) Desc() gpu.RenderPassDesc { return p.desc }

func (p *RenderPass) Destroy() {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	p.dev.destroyLocked(p.id, "render pass")
}

type Framebuffer struct {
	dev    *Device
	id     uint64
	extent gpu.Extent2D
	views  []*ImageView
}

func (f *Framebuffer) Extent() gpu.Extent2D { return f.extent }

func (f *Framebuffer) Destroy() {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	f.dev.destroyLocked(f.id, "framebuffer")
}

type Semaphore struct {
	dev   *Device
	id    uint64
	armed bool
}

func (s *Semaphore) Destroy() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	for _, p := range s.dev.pending {
		if p.signal == s {
			s.dev.violationLocked("semaphore %d destroyed while pending", s.id)
		}
	}
	s.dev.destroyLocked(s.id, "semaphore")
}

type Fence struct {
	dev       *Device
	id        uint64
	signaled  bool
	destroyed bool
}

func (f *Fence) ID() uint64 { return f.id }

func (f *Fence) Wait(timeout time.Duration) error {
	return f.dev.waitFence(f, timeout)
}

func (f *Fence) Reset() error {
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fencePendingLocked(f) {
		d.violationLocked("fence %d reset while pending", f.id)
	}
	f.signaled = false
	d.eventLocked(Event{Kind: EventFenceReset, Object: f.id})
	return nil
}

func (f *Fence) Signaled() (bool, error) {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.signaled, nil
}

func (f *Fence) Destroy() {
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fencePendingLocked(f) {
		d.violationLocked("fence %d destroyed while pending", f.id)
	}
	f.destroyed = true
	d.destroyLocked(f.id, "fence")
}

// CommandBuffer records commands as text so tests can inspect them.
type CommandBuffer struct {
	dev *Device
	id  uint64

	recording bool
	ended     bool
	inPass    bool
	freed     bool
	target    *Image

	commands []string
	buffers  []*Buffer
	ops      []func()
	clears   []gpu.ClearValue
	viewport gpu.Viewport
	scissor  gpu.Rect2D
}

func (c *CommandBuffer) ID() uint64 { return c.id }

// Commands returns the commands recorded since the last Begin.
func (c *CommandBuffer) Commands() []string {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return append([]string(nil), c.commands...)
}

func (c *CommandBuffer) ClearValues() []gpu.ClearValue {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return append([]gpu.ClearValue(nil), c.clears...)
}

func (c *CommandBuffer) Viewport() gpu.Viewport {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.viewport
}

func (c *CommandBuffer) Scissor() gpu.Rect2D {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.scissor
}

func (c *CommandBuffer) Begin(oneTime bool) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.freed {
		return errors.Errorf("simgpu: begin on freed command buffer %d", c.id)
	}
	if d.isPendingLocked(c) {
		d.violationLocked("command buffer %d reset while pending", c.id)
	}
	if c.recording {
		d.violationLocked("command buffer %d begun twice", c.id)
	}
	c.recording, c.ended, c.inPass = true, false, false
	c.target = nil
	c.commands = c.commands[:0]
	c.buffers = nil
	c.ops = nil
	c.clears = nil
	c.commands = append(c.commands, fmt.Sprintf("begin(oneTime=%v)", oneTime))
	return nil
}

func (c *CommandBuffer) End() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !c.recording {
		return errors.Errorf("simgpu: end on command buffer %d that is not recording", c.id)
	}
	if c.inPass {
		d.violationLocked("command buffer %d ended inside a render pass", c.id)
	}
	c.recording, c.ended = false, true
	c.commands = append(c.commands, "end")
	return nil
}

func (c *CommandBuffer) recordLocked(cmd string) {
	if !c.recording {
		c.dev.violationLocked("%s recorded into command buffer %d outside Begin/End", cmd, c.id)
	}
	c.commands = append(c.commands, cmd)
}

func (c *CommandBuffer) BeginRenderPass(info *gpu.RenderPassBegin) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	c.recordLocked("begin-render-pass")
	if c.inPass {
		d.violationLocked("render pass begun twice in command buffer %d", c.id)
	}
	c.inPass = true
	c.clears = append([]gpu.ClearValue(nil), info.ClearValues...)
	fb := info.Framebuffer.(*Framebuffer)
	if len(fb.views) > 0 && fb.views[0].image.swapchain != nil {
		c.target = fb.views[0].image
	}
	if info.Area.Extent != fb.extent {
		d.violationLocked("render area %s does not cover framebuffer %s", info.Area.Extent, fb.extent)
	}
}

func (c *CommandBuffer) EndRenderPass() {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	c.recordLocked("end-render-pass")
	if !c.inPass {
		d.violationLocked("render pass ended without begin in command buffer %d", c.id)
	}
	c.inPass = false
}

func (c *CommandBuffer) SetViewport(viewport gpu.Viewport) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.recordLocked("set-viewport")
	c.viewport = viewport
}

func (c *CommandBuffer) SetScissor(scissor gpu.Rect2D) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.recordLocked("set-scissor")
	c.scissor = scissor
}

// Draw records an opaque draw call. Render systems in tests and in the
// headless demo use it to leave a trace in the buffer.
func (c *CommandBuffer) Draw(label string) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	c.recordLocked("draw " + label)
	if !c.inPass {
		d.violationLocked("draw outside render pass in command buffer %d", c.id)
	}
}

func (c *CommandBuffer) TransitionImageLayout(image gpu.Image, oldLayout, newLayout gpu.ImageLayout) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	c.recordLocked(fmt.Sprintf("transition(%d->%d)", oldLayout, newLayout))
	img := image.(*Image)
	if img.swapchain != nil {
		return
	}
	if img.layout != oldLayout {
		d.violationLocked("image %d transitioned from %d but is in layout %d", img.id, oldLayout, img.layout)
	}
	img.layout = newLayout
}

// Use marks buf as read by the commands in this buffer, the way a bound
// vertex or uniform buffer is. Writing buf from the host before the
// submission retires is reported as a violation.
func (c *CommandBuffer) Use(buf gpu.Buffer) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	b := buf.(*Buffer)
	c.recordLocked(fmt.Sprintf("use buffer %d", b.id))
	if b.destroyed {
		d.violationLocked("destroyed buffer %d used in command buffer %d", b.id, c.id)
	}
	c.buffers = append(c.buffers, b)
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size uint64) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	from, to := src.(*Buffer), dst.(*Buffer)
	c.recordLocked(fmt.Sprintf("copy-buffer(%d->%d, %d)", from.id, to.id, size))
	if c.inPass {
		d.violationLocked("buffer copy inside a render pass in command buffer %d", c.id)
	}
	if !from.usage.Has(gpu.BufferUsageTransferSrc) {
		d.violationLocked("copy source buffer %d lacks transfer-src usage", from.id)
	}
	if !to.usage.Has(gpu.BufferUsageTransferDst) {
		d.violationLocked("copy destination buffer %d lacks transfer-dst usage", to.id)
	}
	if size > uint64(len(from.data)) || size > uint64(len(to.data)) {
		d.violationLocked("copy of %d bytes overflows buffer %d or %d", size, from.id, to.id)
		return
	}
	c.buffers = append(c.buffers, from, to)
	c.ops = append(c.ops, func() { copy(to.data[:size], from.data[:size]) })
}

func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	from, img := src.(*Buffer), dst.(*Image)
	c.recordLocked(fmt.Sprintf("copy-buffer-to-image(%d->%d)", from.id, img.id))
	if c.inPass {
		d.violationLocked("image copy inside a render pass in command buffer %d", c.id)
	}
	if !from.usage.Has(gpu.BufferUsageTransferSrc) {
		d.violationLocked("copy source buffer %d lacks transfer-src usage", from.id)
	}
	if img.swapchain != nil || !img.usage.Has(gpu.ImageUsageTransferDst) {
		d.violationLocked("copy destination image %d lacks transfer-dst usage", img.id)
	}
	if img.layout != gpu.ImageLayoutTransferDst {
		d.violationLocked("image %d copied to in layout %d", img.id, img.layout)
	}
	if uint64(len(from.data)) < img.size {
		d.violationLocked("buffer %d holds %d bytes, image %d needs %d", from.id, len(from.data), img.id, img.size)
		return
	}
	c.buffers = append(c.buffers, from)
	c.ops = append(c.ops, func() { img.texels = append(img.texels[:0], from.data[:img.size]...) })
}
