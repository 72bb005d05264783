package simgpu

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"vk-render-engine/gpu"
)

func mustFence(t *testing.T, d *Device, signaled bool) gpu.Fence {
	t.Helper()
	f, err := d.NewFence(signaled)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func submitEmpty(t *testing.T, d *Device, fence gpu.Fence) gpu.CommandBuffer {
	t.Helper()
	cbs, err := d.NewCommandBuffers(1)
	if err != nil {
		t.Fatal(err)
	}
	cb := cbs[0]
	if err := cb.Begin(false); err != nil {
		t.Fatal(err)
	}
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(&gpu.Submission{CommandBuffer: cb, Fence: fence}); err != nil {
		t.Fatal(err)
	}
	return cb
}

func TestFenceWaitRetiresInOrder(t *testing.T) {
	d := NewDevice(DefaultConfig())
	f1 := mustFence(t, d, false)
	f2 := mustFence(t, d, false)
	submitEmpty(t, d, f1)
	submitEmpty(t, d, f2)

	if d.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", d.Pending())
	}
	if err := f2.Wait(gpu.WaitForever); err != nil {
		t.Fatal(err)
	}
	for i, f := range []gpu.Fence{f1, f2} {
		if ok, _ := f.Signaled(); !ok {
			t.Errorf("fence %d not signaled after waiting on the later one", i)
		}
	}
	if d.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", d.Pending())
	}
}

func TestFenceWaitWithoutWork(t *testing.T) {
	d := NewDevice(DefaultConfig())
	f := mustFence(t, d, false)

	if err := f.Wait(time.Millisecond); !errors.Is(err, gpu.ErrTimeout) {
		t.Errorf("finite wait: err = %v, want ErrTimeout", err)
	}
	if err := f.Wait(gpu.WaitForever); !errors.Is(err, ErrDeadlock) {
		t.Errorf("infinite wait: err = %v, want ErrDeadlock", err)
	}
}

func TestManualRetireBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ManualRetire = true
	d := NewDevice(cfg)
	f := mustFence(t, d, false)
	submitEmpty(t, d, f)

	done := make(chan error, 1)
	go func() { done <- f.Wait(gpu.WaitForever) }()

	select {
	case err := <-done:
		t.Fatalf("wait returned before retire: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	if n := d.Retire(5); n != 1 {
		t.Errorf("Retire = %d, want 1", n)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait still blocked after retire")
	}

	f2 := mustFence(t, d, false)
	submitEmpty(t, d, f2)
	if err := f2.Wait(10 * time.Millisecond); !errors.Is(err, gpu.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if err := d.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f2.Signaled(); !ok {
		t.Error("WaitIdle should drain manual-mode work")
	}
}

func TestViolationsDetected(t *testing.T) {
	d := NewDevice(DefaultConfig())
	f := mustFence(t, d, false)
	cb := submitEmpty(t, d, f)

	f.Destroy()
	_ = cb.Begin(false)
	f.Destroy()

	got := strings.Join(d.Violations(), "\n")
	for _, want := range []string{"destroyed while pending", "reset while pending", "destroyed twice"} {
		if !strings.Contains(got, want) {
			t.Errorf("violations %q missing %q", got, want)
		}
	}
}

func TestSwapchainAcquirePresent(t *testing.T) {
	d := NewDevice(DefaultConfig())
	sem, _ := d.NewSemaphore()
	sc, err := d.NewSwapchain(&gpu.SwapchainDesc{
		Format:        d.cfg.Formats[0],
		Extent:        d.Surface().Extent(),
		MinImageCount: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	for want := uint32(0); want < 4; want++ {
		index, status, err := sc.AcquireNextImage(gpu.WaitForever, sem)
		if err != nil || status != gpu.StatusSuccess {
			t.Fatalf("acquire = %v, %v", status, err)
		}
		if index != want%3 {
			t.Errorf("acquired %d, want %d", index, want%3)
		}
		status, err = d.Present(&gpu.PresentRequest{Swapchain: sc, ImageIndex: index, Wait: sem})
		if err != nil || status != gpu.StatusSuccess {
			t.Fatalf("present = %v, %v", status, err)
		}
	}

	d.Surface().Resize(gpu.Extent2D{Width: 10, Height: 10})
	if _, status, _ := sc.AcquireNextImage(gpu.WaitForever, sem); status != gpu.StatusOutOfDate {
		t.Errorf("acquire after resize = %v, want out of date", status)
	}
	if !d.Surface().WasResized() {
		t.Error("Resize should raise the resized flag")
	}

	next, err := d.NewSwapchain(&gpu.SwapchainDesc{
		Format:        d.cfg.Formats[0],
		Extent:        gpu.Extent2D{Width: 10, Height: 10},
		MinImageCount: 3,
		Old:           sc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !sc.(*Swapchain).Retired() {
		t.Error("old swapchain should be retired")
	}
	sc.Destroy()
	next.Destroy()
	sem.Destroy()

	if v := d.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
	if d.Live() != 0 {
		t.Errorf("live objects: %v", d.LiveKinds())
	}
}

func TestSurfaceScript(t *testing.T) {
	d := NewDevice(DefaultConfig())
	s := d.Surface()
	s.Script(gpu.Extent2D{}, gpu.Extent2D{Width: 5, Height: 5})

	s.WaitEvents()
	if !s.Extent().IsZero() {
		t.Error("first scripted extent should be zero")
	}
	s.ResetResized()
	s.WaitEvents()
	if s.Extent() != (gpu.Extent2D{Width: 5, Height: 5}) || !s.WasResized() {
		t.Error("second scripted extent not delivered")
	}
	s.WaitEvents()
	if s.Waits() != 3 || s.Polls() != 2 || s.ZeroPolls() != 1 {
		t.Errorf("waits/polls/zero = %d/%d/%d", s.Waits(), s.Polls(), s.ZeroPolls())
	}
}

func TestFindSupportedFormat(t *testing.T) {
	d := NewDevice(DefaultConfig())
	got, err := d.FindSupportedFormat(
		[]gpu.Format{gpu.FormatD32SfloatS8Uint, gpu.FormatD24UnormS8Uint},
		gpu.ImageTilingOptimal, gpu.FormatFeatureDepthStencilAttachment)
	if err != nil || got != gpu.FormatD24UnormS8Uint {
		t.Errorf("FindSupportedFormat = %v, %v", got, err)
	}
	if _, err := d.FindSupportedFormat([]gpu.Format{gpu.FormatD16Unorm}, gpu.ImageTilingOptimal,
		gpu.FormatFeatureDepthStencilAttachment); !errors.Is(err, gpu.ErrNoSupportedFormat) {
		t.Errorf("err = %v, want ErrNoSupportedFormat", err)
	}
}

func TestFailInjection(t *testing.T) {
	d := NewDevice(DefaultConfig())
	boom := errors.New("boom")
	d.Fail(OpFence, boom)
	if _, err := d.NewFence(true); err != boom {
		t.Errorf("err = %v, want boom", err)
	}
	if _, err := d.NewFence(true); err != nil {
		t.Errorf("failure should be consumed, got %v", err)
	}
}

func mustBuffer(t *testing.T, d *Device, desc gpu.BufferDesc) *Buffer {
	t.Helper()
	b, err := d.NewBuffer(&desc)
	if err != nil {
		t.Fatal(err)
	}
	return b.(*Buffer)
}

func TestBufferMapping(t *testing.T) {
	d := NewDevice(DefaultConfig())
	local := mustBuffer(t, d, gpu.BufferDesc{Size: 16, Usage: gpu.BufferUsageVertex})
	if err := local.Map(); !errors.Is(err, gpu.ErrNotHostVisible) {
		t.Errorf("Map device-local = %v, want ErrNotHostVisible", err)
	}

	host := mustBuffer(t, d, gpu.BufferDesc{Size: 8, Usage: gpu.BufferUsageUniform, HostVisible: true})
	if err := host.Write(0, []byte{1}); !errors.Is(err, gpu.ErrNotMapped) {
		t.Errorf("Write unmapped = %v, want ErrNotMapped", err)
	}
	if err := host.Flush(); !errors.Is(err, gpu.ErrNotMapped) {
		t.Errorf("Flush unmapped = %v, want ErrNotMapped", err)
	}
	if err := host.Map(); err != nil {
		t.Fatal(err)
	}
	if err := host.Write(4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := host.Write(6, []byte{1, 2, 3}); !errors.Is(err, gpu.ErrOutOfRange) {
		t.Errorf("overflowing Write = %v, want ErrOutOfRange", err)
	}
	if got := host.Contents(); got[4] != 1 || got[7] != 4 {
		t.Errorf("contents = %v", got)
	}
	host.Unmap()
	local.Destroy()
	host.Destroy()

	if v := d.Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
	if d.Live() != 0 {
		t.Errorf("live = %v", d.LiveKinds())
	}
}

func TestCopyRunsWhenSubmissionRetires(t *testing.T) {
	d := NewDevice(Config{ManualRetire: true})
	src := mustBuffer(t, d, gpu.BufferDesc{Size: 4, Usage: gpu.BufferUsageTransferSrc, HostVisible: true})
	dst := mustBuffer(t, d, gpu.BufferDesc{Size: 4, Usage: gpu.BufferUsageTransferDst})
	if err := src.Map(); err != nil {
		t.Fatal(err)
	}
	if err := src.Write(0, []byte{9, 8, 7, 6}); err != nil {
		t.Fatal(err)
	}

	cbs, err := d.NewCommandBuffers(1)
	if err != nil {
		t.Fatal(err)
	}
	cb := cbs[0]
	if err := cb.Begin(true); err != nil {
		t.Fatal(err)
	}
	cb.CopyBuffer(src, dst, 4)
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(&gpu.Submission{CommandBuffer: cb}); err != nil {
		t.Fatal(err)
	}
	if got := dst.Contents(); got[0] != 0 {
		t.Errorf("copy executed before the submission retired: %v", got)
	}

	// The source is still being read.
	if err := src.Write(0, []byte{0}); err != nil {
		t.Fatal(err)
	}
	d.Retire(1)
	if got := dst.Contents(); got[1] != 8 || got[3] != 6 {
		t.Errorf("dst = %v after retire", got)
	}

	got := strings.Join(d.Violations(), "\n")
	if !strings.Contains(got, "written while submission") {
		t.Errorf("host write during copy not reported: %q", got)
	}
}

func TestCopyValidation(t *testing.T) {
	d := NewDevice(DefaultConfig())
	vertex := mustBuffer(t, d, gpu.BufferDesc{Size: 16, Usage: gpu.BufferUsageVertex})
	small := mustBuffer(t, d, gpu.BufferDesc{Size: 4, Usage: gpu.BufferUsageTransferSrc})
	img, err := d.NewImage(&gpu.ImageDesc{
		Extent: gpu.Extent2D{Width: 2, Height: 2},
		Format: gpu.FormatR8G8B8A8Unorm,
		Usage:  gpu.ImageUsageSampled,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = d.SingleUse(func(cb gpu.CommandBuffer) {
		cb.CopyBuffer(vertex, vertex, 8)
		cb.CopyBufferToImage(small, img)
	})
	if err != nil {
		t.Fatal(err)
	}

	got := strings.Join(d.Violations(), "\n")
	for _, want := range []string{
		"lacks transfer-src usage",
		"lacks transfer-dst usage",
		"copied to in layout",
		"holds 4 bytes",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing violation %q in:\n%s", want, got)
		}
	}
}
