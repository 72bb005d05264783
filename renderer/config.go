package renderer

import (
	"time"

	"vk-render-engine/gpu"
)

// DefaultFramesInFlight is the number of frame slots the CPU may record
// ahead of the GPU.
const DefaultFramesInFlight = 2

// DefaultUniformBufferSize holds two 4x4 float matrices.
const DefaultUniformBufferSize = 256

// Config holds construction-time renderer parameters.
type Config struct {
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32

	FramesInFlight int

	// SurfaceFormat is the preferred color format. The first format the
	// surface offers is used when it is unavailable.
	SurfaceFormat gpu.SurfaceFormat

	// PresentModes lists present modes in order of preference. FIFO is
	// always available and is used when none of them is.
	PresentModes []gpu.PresentMode

	// DepthFormats lists depth formats in order of preference.
	DepthFormats []gpu.Format

	// MaxFrameTime clamps the frame delta reported to render systems.
	MaxFrameTime time.Duration

	// UniformBufferSize is the size of the host-visible uniform buffer
	// kept per frame slot. Zero disables per-frame uniform buffers.
	UniformBufferSize uint64
}

func DefaultConfig() Config {
	return Config{
		ClearColor:     [4]float32{0.01, 0.01, 0.01, 1},
		ClearDepth:     1.0,
		ClearStencil:   0,
		FramesInFlight: DefaultFramesInFlight,
		SurfaceFormat: gpu.SurfaceFormat{
			Format:     gpu.FormatB8G8R8A8Srgb,
			ColorSpace: gpu.ColorSpaceSrgbNonlinear,
		},
		PresentModes: []gpu.PresentMode{
			gpu.PresentModeMailbox,
			gpu.PresentModeImmediate,
			gpu.PresentModeFifo,
		},
		DepthFormats: []gpu.Format{
			gpu.FormatD32Sfloat,
			gpu.FormatD32SfloatS8Uint,
			gpu.FormatD24UnormS8Uint,
		},
		MaxFrameTime:      500 * time.Millisecond,
		UniformBufferSize: DefaultUniformBufferSize,
	}
}

// VSyncConfig returns the default configuration restricted to FIFO
// presentation.
func VSyncConfig() Config {
	c := DefaultConfig()
	c.PresentModes = []gpu.PresentMode{gpu.PresentModeFifo}
	return c
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FramesInFlight <= 0 {
		c.FramesInFlight = def.FramesInFlight
	}
	if c.SurfaceFormat.Format == gpu.FormatUndefined {
		c.SurfaceFormat = def.SurfaceFormat
	}
	if len(c.PresentModes) == 0 {
		c.PresentModes = def.PresentModes
	}
	if len(c.DepthFormats) == 0 {
		c.DepthFormats = def.DepthFormats
	}
	if c.MaxFrameTime <= 0 {
		c.MaxFrameTime = def.MaxFrameTime
	}
	return c
}
