package renderer

import (
	"testing"
	"time"

	"vk-render-engine/gpu"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.ClearColor != [4]float32{0.01, 0.01, 0.01, 1} {
		t.Errorf("ClearColor = %v", c.ClearColor)
	}
	if c.ClearDepth != 1 || c.ClearStencil != 0 {
		t.Errorf("depth clear = %v/%v, want 1/0", c.ClearDepth, c.ClearStencil)
	}
	if c.FramesInFlight != 2 {
		t.Errorf("FramesInFlight = %d, want 2", c.FramesInFlight)
	}
	wantModes := []gpu.PresentMode{gpu.PresentModeMailbox, gpu.PresentModeImmediate, gpu.PresentModeFifo}
	for i, m := range wantModes {
		if c.PresentModes[i] != m {
			t.Fatalf("PresentModes = %v, want %v", c.PresentModes, wantModes)
		}
	}
	if c.DepthFormats[0] != gpu.FormatD32Sfloat {
		t.Errorf("first depth format = %v, want D32Sfloat", c.DepthFormats[0])
	}
	if c.MaxFrameTime != 500*time.Millisecond {
		t.Errorf("MaxFrameTime = %v", c.MaxFrameTime)
	}
	if c.UniformBufferSize != 256 {
		t.Errorf("UniformBufferSize = %d, want 256", c.UniformBufferSize)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{ClearDepth: 0.5, FramesInFlight: 3}.withDefaults()
	if c.FramesInFlight != 3 || c.ClearDepth != 0.5 {
		t.Errorf("explicit values overwritten: %+v", c)
	}
	def := DefaultConfig()
	if c.SurfaceFormat != def.SurfaceFormat || len(c.PresentModes) != 3 || len(c.DepthFormats) != 3 {
		t.Errorf("zero fields not filled: %+v", c)
	}
	if c.MaxFrameTime != def.MaxFrameTime {
		t.Errorf("MaxFrameTime = %v", c.MaxFrameTime)
	}
}
