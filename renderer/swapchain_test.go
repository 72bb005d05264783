package renderer

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"vk-render-engine/gpu"
	"vk-render-engine/internal/simgpu"
)

var errBoom = errors.New("boom")

func newTestDevice(t *testing.T, mutate func(*simgpu.Config)) *simgpu.Device {
	t.Helper()
	cfg := simgpu.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d := simgpu.NewDevice(cfg)
	t.Cleanup(func() {
		for _, v := range d.Violations() {
			t.Errorf("device violation: %s", v)
		}
	})
	return d
}

func newTestSwapChain(t *testing.T, d *simgpu.Device, prev *SwapChain, generation uint64) *SwapChain {
	t.Helper()
	cfg := DefaultConfig()
	sc, err := NewSwapChain(d, SwapChainConfig{
		Extent:         d.Surface().Extent(),
		FramesInFlight: cfg.FramesInFlight,
		SurfaceFormat:  cfg.SurfaceFormat,
		PresentModes:   cfg.PresentModes,
		DepthFormats:   cfg.DepthFormats,
		Previous:       prev,
		Generation:     generation,
	})
	if err != nil {
		t.Fatalf("NewSwapChain: %v", err)
	}
	return sc
}

// recordFrame records an empty render pass into cb targeting image index.
func recordFrame(t *testing.T, sc *SwapChain, cb gpu.CommandBuffer, index uint32) {
	t.Helper()
	if err := cb.Begin(false); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cb.BeginRenderPass(&gpu.RenderPassBegin{
		RenderPass:  sc.RenderPass(),
		Framebuffer: sc.Framebuffer(int(index)),
		Area:        gpu.Rect2D{Extent: sc.Extent()},
	})
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
}

func TestNewSwapChainSelection(t *testing.T) {
	d := newTestDevice(t, nil)
	sc := newTestSwapChain(t, d, nil, 1)
	defer sc.Destroy()

	if sc.ImageFormat() != gpu.FormatB8G8R8A8Srgb {
		t.Errorf("ImageFormat = %v, want B8G8R8A8Srgb", sc.ImageFormat())
	}
	if sc.DepthFormat() != gpu.FormatD32Sfloat {
		t.Errorf("DepthFormat = %v, want D32Sfloat", sc.DepthFormat())
	}
	if sc.PresentMode() != gpu.PresentModeMailbox {
		t.Errorf("PresentMode = %v, want Mailbox", sc.PresentMode())
	}
	if sc.ImageCount() != 3 {
		t.Errorf("ImageCount = %d, want 3", sc.ImageCount())
	}
	if sc.FramesInFlight() != 2 {
		t.Errorf("FramesInFlight = %d, want 2", sc.FramesInFlight())
	}
	if want := (gpu.Extent2D{Width: 800, Height: 600}); sc.Extent() != want {
		t.Errorf("Extent = %v, want %v", sc.Extent(), want)
	}
	if sc.Width() != 800 || sc.Height() != 600 {
		t.Errorf("Width/Height = %d/%d", sc.Width(), sc.Height())
	}
	if got := sc.AspectRatio(); got < 1.333 || got > 1.334 {
		t.Errorf("AspectRatio = %v, want 4/3", got)
	}
	if got := sc.depthImage.(*simgpu.Image).Layout(); got != gpu.ImageLayoutDepthStencilAttachment {
		t.Errorf("depth image layout = %v, want depth-stencil attachment", got)
	}
	if n := len(simgpu.Filter(d.Events(), simgpu.EventSingleUse)); n != 1 {
		t.Errorf("single-use submissions = %d, want 1", n)
	}
	for i, s := range sc.sync {
		ok, _ := s.inFlight.Signaled()
		if !ok {
			t.Errorf("slot %d fence should start signaled", i)
		}
	}
	for i, f := range sc.imagesInFlight {
		if f != nil {
			t.Errorf("image %d should start with no fence", i)
		}
	}
}

func TestChoosePresentMode(t *testing.T) {
	preferred := DefaultConfig().PresentModes
	tests := []struct {
		name      string
		available []gpu.PresentMode
		preferred []gpu.PresentMode
		want      gpu.PresentMode
	}{
		{"mailbox first", []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeImmediate, gpu.PresentModeMailbox}, preferred, gpu.PresentModeMailbox},
		{"immediate fallback", []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeImmediate}, preferred, gpu.PresentModeImmediate},
		{"fifo only", []gpu.PresentMode{gpu.PresentModeFifo}, preferred, gpu.PresentModeFifo},
		{"vsync config", []gpu.PresentMode{gpu.PresentModeMailbox, gpu.PresentModeFifo}, VSyncConfig().PresentModes, gpu.PresentModeFifo},
		{"nothing preferred", []gpu.PresentMode{gpu.PresentModeMailbox}, nil, gpu.PresentModeFifo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := choosePresentMode(tt.available, tt.preferred); got != tt.want {
				t.Errorf("choosePresentMode = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := DefaultConfig().SurfaceFormat
	unorm := gpu.SurfaceFormat{Format: gpu.FormatR8G8B8A8Unorm}

	if got := chooseSurfaceFormat([]gpu.SurfaceFormat{unorm, preferred}, preferred); got != preferred {
		t.Errorf("preferred format not chosen: %v", got)
	}
	if got := chooseSurfaceFormat([]gpu.SurfaceFormat{unorm}, preferred); got != unorm {
		t.Errorf("fallback should be the first available format, got %v", got)
	}
}

func TestChooseExtent(t *testing.T) {
	caps := gpu.SurfaceCapabilities{
		CurrentExtent:  gpu.Extent2D{Width: 1280, Height: 720},
		MinImageExtent: gpu.Extent2D{Width: 64, Height: 64},
		MaxImageExtent: gpu.Extent2D{Width: 4096, Height: 2048},
	}
	if got := chooseExtent(&caps, gpu.Extent2D{Width: 10, Height: 10}); got != caps.CurrentExtent {
		t.Errorf("defined current extent should win, got %v", got)
	}

	caps.CurrentExtent = gpu.Extent2D{}
	if got := chooseExtent(&caps, gpu.Extent2D{Width: 1024, Height: 4096}); got != (gpu.Extent2D{Width: 1024, Height: 2048}) {
		t.Errorf("zero current extent should fall back to the clamped request, got %v", got)
	}

	caps.CurrentExtent = gpu.Extent2D{Width: gpu.UndefinedExtent, Height: gpu.UndefinedExtent}
	tests := []struct {
		requested gpu.Extent2D
		want      gpu.Extent2D
	}{
		{gpu.Extent2D{Width: 800, Height: 600}, gpu.Extent2D{Width: 800, Height: 600}},
		{gpu.Extent2D{Width: 10, Height: 5000}, gpu.Extent2D{Width: 64, Height: 2048}},
		{gpu.Extent2D{Width: 9000, Height: 1}, gpu.Extent2D{Width: 4096, Height: 64}},
	}
	for _, tt := range tests {
		if got := chooseExtent(&caps, tt.requested); got != tt.want {
			t.Errorf("chooseExtent(%v) = %v, want %v", tt.requested, got, tt.want)
		}
	}
}

func TestChooseImageCount(t *testing.T) {
	tests := []struct {
		min, max uint32
		want     uint32
	}{
		{2, 3, 3},
		{2, 8, 3},
		{3, 3, 3},
		{2, 0, 3},
		{1, 1, 1},
	}
	for _, tt := range tests {
		caps := gpu.SurfaceCapabilities{MinImageCount: tt.min, MaxImageCount: tt.max}
		if got := chooseImageCount(&caps); got != tt.want {
			t.Errorf("chooseImageCount(min=%d, max=%d) = %d, want %d", tt.min, tt.max, got, tt.want)
		}
	}
}

func TestFramesInFlightClampedToImageCount(t *testing.T) {
	d := newTestDevice(t, func(c *simgpu.Config) {
		c.MinImageCount, c.MaxImageCount = 1, 1
	})
	sc := newTestSwapChain(t, d, nil, 1)
	defer sc.Destroy()

	if sc.ImageCount() != 1 || sc.FramesInFlight() != 1 {
		t.Errorf("images/slots = %d/%d, want 1/1", sc.ImageCount(), sc.FramesInFlight())
	}
}

func TestUndefinedSurfaceExtentUsesRequested(t *testing.T) {
	d := newTestDevice(t, func(c *simgpu.Config) {
		c.UndefinedExtent = true
		c.Extent = gpu.Extent2D{Width: 1024, Height: 700}
	})
	sc := newTestSwapChain(t, d, nil, 1)
	defer sc.Destroy()

	if want := (gpu.Extent2D{Width: 1024, Height: 700}); sc.Extent() != want {
		t.Errorf("Extent = %v, want %v", sc.Extent(), want)
	}
}

func TestNewSwapChainErrors(t *testing.T) {
	t.Run("no surface formats", func(t *testing.T) {
		d := newTestDevice(t, nil)
		d.SetSurfaceFormats()
		_, err := NewSwapChain(d, SwapChainConfig{FramesInFlight: 2, DepthFormats: DefaultConfig().DepthFormats})
		if !errors.Is(err, gpu.ErrNoSurfaceFormats) {
			t.Errorf("err = %v, want ErrNoSurfaceFormats", err)
		}
	})

	t.Run("no depth format", func(t *testing.T) {
		d := newTestDevice(t, nil)
		d.SetDepthFormats(gpu.FormatD16Unorm)
		_, err := NewSwapChain(d, SwapChainConfig{FramesInFlight: 2, DepthFormats: DefaultConfig().DepthFormats})
		if !errors.Is(err, gpu.ErrNoSupportedFormat) {
			t.Errorf("err = %v, want ErrNoSupportedFormat", err)
		}
	})

	for _, op := range []simgpu.Op{
		simgpu.OpSwapchain,
		simgpu.OpImageView,
		simgpu.OpRenderPass,
		simgpu.OpImage,
		simgpu.OpFramebuffer,
		simgpu.OpSemaphore,
		simgpu.OpFence,
	} {
		t.Run("failed "+string(op), func(t *testing.T) {
			d := newTestDevice(t, nil)
			d.Fail(op, errBoom)
			_, err := NewSwapChain(d, SwapChainConfig{FramesInFlight: 2, DepthFormats: DefaultConfig().DepthFormats})
			if !errors.Is(err, errBoom) {
				t.Fatalf("err = %v, want %v", err, errBoom)
			}
			if n := d.Live(); n != 0 {
				t.Errorf("%d objects leaked after failed construction: %v", n, d.LiveKinds())
			}
		})
	}
}

func TestChainedSwapChainConsumesPrevious(t *testing.T) {
	d := newTestDevice(t, nil)
	first := newTestSwapChain(t, d, nil, 1)
	live := d.Live()
	oldHandle := first.swapchain.(*simgpu.Swapchain)

	d.Surface().Resize(gpu.Extent2D{Width: 1024, Height: 768})
	if err := d.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	second := newTestSwapChain(t, d, first, 2)
	defer second.Destroy()

	if !oldHandle.Retired() {
		t.Error("old swapchain should have been handed to the new one")
	}
	if !first.destroyed {
		t.Error("previous generation should be destroyed")
	}
	if got := d.Live(); got != live {
		t.Errorf("live objects = %d, want %d (one generation)", got, live)
	}
	if second.Generation() != 2 || second.Extent() != (gpu.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("generation/extent = %d/%v", second.Generation(), second.Extent())
	}
	if !second.CompatibleWith(first) {
		t.Error("chains with equal formats should be compatible")
	}
}

func TestChainedSwapChainFormatChange(t *testing.T) {
	tests := []struct {
		name   string
		change func(d *simgpu.Device)
	}{
		{"color", func(d *simgpu.Device) {
			d.SetSurfaceFormats(gpu.SurfaceFormat{Format: gpu.FormatR8G8B8A8Unorm})
		}},
		{"depth", func(d *simgpu.Device) {
			d.SetDepthFormats(gpu.FormatD24UnormS8Uint)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t, nil)
			first := newTestSwapChain(t, d, nil, 1)
			defer first.Destroy()
			live := d.Live()
			creates := len(simgpu.Filter(d.Events(), simgpu.EventSwapchainCreate))

			tt.change(d)
			cfg := DefaultConfig()
			_, err := NewSwapChain(d, SwapChainConfig{
				FramesInFlight: 2,
				SurfaceFormat:  cfg.SurfaceFormat,
				PresentModes:   cfg.PresentModes,
				DepthFormats:   cfg.DepthFormats,
				Previous:       first,
				Generation:     2,
			})
			if !errors.Is(err, ErrFormatChanged) {
				t.Fatalf("err = %v, want ErrFormatChanged", err)
			}
			if got := len(simgpu.Filter(d.Events(), simgpu.EventSwapchainCreate)); got != creates {
				t.Error("no swapchain should be created when formats differ")
			}
			if d.Live() != live || first.destroyed {
				t.Error("previous generation must be left untouched")
			}
			if first.swapchain.(*simgpu.Swapchain).Retired() {
				t.Error("previous swapchain must not be retired")
			}
		})
	}
}

func TestSwapChainDestroyIdempotent(t *testing.T) {
	d := newTestDevice(t, nil)
	sc := newTestSwapChain(t, d, nil, 1)
	sc.Destroy()
	sc.Destroy()
	if n := d.Live(); n != 0 {
		t.Errorf("%d objects left after Destroy: %v", n, d.LiveKinds())
	}
}

func TestSubmitAndPresentAdvancesSlot(t *testing.T) {
	d := newTestDevice(t, nil)
	sc := newTestSwapChain(t, d, nil, 1)
	cbs, err := d.NewCommandBuffers(sc.FramesInFlight())
	if err != nil {
		t.Fatal(err)
	}

	var slots []int
	for frame := 0; frame < 4; frame++ {
		slots = append(slots, sc.CurrentFrame())
		index, status, err := sc.AcquireNextImage()
		if err != nil || status != gpu.StatusSuccess {
			t.Fatalf("frame %d: acquire = %v, %v", frame, status, err)
		}
		cb := cbs[frame%len(cbs)]
		recordFrame(t, sc, cb, index)
		if status, err := sc.SubmitAndPresent(cb, index); err != nil || status != gpu.StatusSuccess {
			t.Fatalf("frame %d: present = %v, %v", frame, status, err)
		}
	}
	want := []int{0, 1, 0, 1}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("slots = %v, want %v", slots, want)
		}
	}

	if err := d.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	d.FreeCommandBuffers(cbs)
	sc.Destroy()
}

func TestImageReuseWaitsForOwningFence(t *testing.T) {
	d := newTestDevice(t, nil)
	sc := newTestSwapChain(t, d, nil, 1)
	cbs, err := d.NewCommandBuffers(sc.FramesInFlight())
	if err != nil {
		t.Fatal(err)
	}
	slot1Fence := sc.sync[1].inFlight.(*simgpu.Fence).ID()
	start := len(d.Events())

	// Frame 2 runs on slot 0 but gets image 1, still owned by slot 1.
	d.ScriptAcquire(0, 1, 1)
	for frame := 0; frame < 3; frame++ {
		index, _, err := sc.AcquireNextImage()
		if err != nil {
			t.Fatal(err)
		}
		cb := cbs[frame%2]
		recordFrame(t, sc, cb, index)
		if _, err := sc.SubmitAndPresent(cb, index); err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
	}

	events := simgpu.Filter(d.Events()[start:], simgpu.EventSubmit, simgpu.EventFenceWait)
	var waitedBeforeThirdSubmit bool
	submits := 0
	for _, e := range events {
		if e.Kind == simgpu.EventSubmit {
			submits++
			continue
		}
		if submits == 2 && e.Object == slot1Fence {
			waitedBeforeThirdSubmit = true
		}
	}
	if !waitedBeforeThirdSubmit {
		t.Errorf("image 1 was resubmitted without waiting for slot 1's fence: %v", events)
	}

	if err := d.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	d.FreeCommandBuffers(cbs)
	sc.Destroy()
}

func TestImageReuseBlocksUntilGPUFinishes(t *testing.T) {
	d := newTestDevice(t, func(c *simgpu.Config) { c.ManualRetire = true })
	sc := newTestSwapChain(t, d, nil, 1)
	cbs, err := d.NewCommandBuffers(sc.FramesInFlight())
	if err != nil {
		t.Fatal(err)
	}
	// The depth image transition already went through SingleUse.
	base := d.Submits()

	d.ScriptAcquire(0, 1, 1)
	for frame := 0; frame < 2; frame++ {
		index, _, err := sc.AcquireNextImage()
		if err != nil {
			t.Fatal(err)
		}
		recordFrame(t, sc, cbs[frame], index)
		if _, err := sc.SubmitAndPresent(cbs[frame], index); err != nil {
			t.Fatal(err)
		}
	}

	acquired := make(chan uint32)
	presented := make(chan error)
	go func() {
		index, _, err := sc.AcquireNextImage()
		if err != nil {
			presented <- err
			return
		}
		acquired <- index
		cb := cbs[0]
		if err := cb.Begin(false); err != nil {
			presented <- err
			return
		}
		cb.BeginRenderPass(&gpu.RenderPassBegin{
			RenderPass:  sc.RenderPass(),
			Framebuffer: sc.Framebuffer(int(index)),
			Area:        gpu.Rect2D{Extent: sc.Extent()},
		})
		cb.EndRenderPass()
		if err := cb.End(); err != nil {
			presented <- err
			return
		}
		_, err = sc.SubmitAndPresent(cb, index)
		presented <- err
	}()

	// Slot 0's fence is still pending.
	select {
	case <-acquired:
		t.Fatal("acquire returned before slot 0's work completed")
	case err := <-presented:
		t.Fatalf("frame finished early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	d.Retire(1)

	var index uint32
	select {
	case index = <-acquired:
	case err := <-presented:
		t.Fatalf("acquire failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("acquire still blocked after slot 0's work completed")
	}
	if index != 1 {
		t.Fatalf("acquired image %d, want 1", index)
	}

	// Image 1 is still being written by slot 1.
	select {
	case err := <-presented:
		t.Fatalf("image 1 resubmitted before its fence signaled (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	if got := d.Submits() - base; got != 2 {
		t.Fatalf("frame submits = %d, want 2 while blocked", got)
	}
	d.Retire(1)

	select {
	case err := <-presented:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit still blocked after image 1's fence signaled")
	}

	if err := d.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	d.FreeCommandBuffers(cbs)
	sc.Destroy()
}

func TestAcquireStaleSurface(t *testing.T) {
	d := newTestDevice(t, nil)
	sc := newTestSwapChain(t, d, nil, 1)
	defer sc.Destroy()

	d.Surface().Resize(gpu.Extent2D{Width: 640, Height: 480})
	_, status, err := sc.AcquireNextImage()
	if err != nil {
		t.Fatal(err)
	}
	if status != gpu.StatusOutOfDate {
		t.Errorf("status = %v, want out of date", status)
	}
}

func TestAcquireError(t *testing.T) {
	d := newTestDevice(t, nil)
	sc := newTestSwapChain(t, d, nil, 1)
	defer sc.Destroy()

	d.Fail(simgpu.OpAcquire, gpu.ErrDeviceLost)
	if _, _, err := sc.AcquireNextImage(); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("err = %v, want ErrDeviceLost", err)
	}
}
