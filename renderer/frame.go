package renderer

import "vk-render-engine/gpu"

// Surface is the drawable a Renderer presents to, usually a window.
type Surface interface {
	// Extent is the current drawable size in pixels. A minimized window
	// reports a zero extent.
	Extent() gpu.Extent2D

	// WasResized reports whether the size changed since the last
	// ResetResized.
	WasResized() bool
	ResetResized()

	// WaitEvents blocks until the next platform event arrives.
	WaitEvents()
}

// FrameInfo is handed to render systems while a frame is open.
//
// CommandBuffer is only valid until EndFrame; systems must not retain it.
// UniformBuffer is the frame slot's uniform buffer, or nil when the
// renderer keeps none.
type FrameInfo struct {
	FrameIndex    int
	FrameTime     float32
	CommandBuffer gpu.CommandBuffer
	UniformBuffer gpu.Buffer
}

// System records drawing commands inside the swapchain render pass.
type System interface {
	Render(frame FrameInfo)
}

// SystemFunc adapts a function to System.
type SystemFunc func(frame FrameInfo)

func (f SystemFunc) Render(frame FrameInfo) { f(frame) }
