// Package gpu defines the backend-neutral graphics device contract used by
// the renderer. Enumerations share their numeric values with the Vulkan
// API so that backends can convert them with a plain cast.
package gpu

import (
	"fmt"
	"math"
	"time"
)

// WaitForever is the "effectively infinite" timeout used for fence waits
// and image acquisition. A wait that never returns indicates a device
// fault, not a condition callers are expected to handle.
const WaitForever = time.Duration(math.MaxInt64)

type Extent2D struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero, as reported by a
// minimized window.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

type Offset2D struct {
	X, Y int32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Format int32

const (
	FormatUndefined       Format = 0
	FormatR8G8B8A8Unorm   Format = 37
	FormatR8G8B8A8Srgb    Format = 43
	FormatB8G8R8A8Unorm   Format = 44
	FormatB8G8R8A8Srgb    Format = 50
	FormatD16Unorm        Format = 124
	FormatD32Sfloat       Format = 126
	FormatD24UnormS8Uint  Format = 129
	FormatD32SfloatS8Uint Format = 130
)

var formatNames = map[Format]string{
	FormatUndefined:       "Undefined",
	FormatR8G8B8A8Unorm:   "R8G8B8A8Unorm",
	FormatR8G8B8A8Srgb:    "R8G8B8A8Srgb",
	FormatB8G8R8A8Unorm:   "B8G8R8A8Unorm",
	FormatB8G8R8A8Srgb:    "B8G8R8A8Srgb",
	FormatD16Unorm:        "D16Unorm",
	FormatD32Sfloat:       "D32Sfloat",
	FormatD24UnormS8Uint:  "D24UnormS8Uint",
	FormatD32SfloatS8Uint: "D32SfloatS8Uint",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int32(f))
}

// HasStencil reports whether the format carries a stencil component.
func (f Format) HasStencil() bool {
	return f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// IsDepth reports whether the format is a depth or depth-stencil format.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Sfloat, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// BytesPerPixel returns the texel size of the format, or 0 when unknown.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatD16Unorm:
		return 2
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD32SfloatS8Uint:
		return 8
	}
	return 0
}

type ColorSpace int32

const ColorSpaceSrgbNonlinear ColorSpace = 0

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type PresentMode int32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "Immediate"
	case PresentModeMailbox:
		return "Mailbox"
	case PresentModeFifo:
		return "V-Sync"
	case PresentModeFifoRelaxed:
		return "FifoRelaxed"
	}
	return fmt.Sprintf("PresentMode(%d)", int32(m))
}

type ImageLayout int32

const (
	ImageLayoutUndefined              ImageLayout = 0
	ImageLayoutColorAttachment        ImageLayout = 2
	ImageLayoutDepthStencilAttachment ImageLayout = 3
	ImageLayoutShaderReadOnly         ImageLayout = 5
	ImageLayoutTransferDst            ImageLayout = 7
	ImageLayoutPresentSrc             ImageLayout = 1000001002
)

type ImageTiling int32

const ImageTilingOptimal ImageTiling = 0

type FormatFeatures uint32

const FormatFeatureDepthStencilAttachment FormatFeatures = 0x00000200

type ImageUsage uint32

const (
	ImageUsageTransferDst            ImageUsage = 0x00000002
	ImageUsageSampled                ImageUsage = 0x00000004
	ImageUsageColorAttachment        ImageUsage = 0x00000010
	ImageUsageDepthStencilAttachment ImageUsage = 0x00000020
)

type ImageAspect uint32

const (
	ImageAspectColor   ImageAspect = 0x1
	ImageAspectDepth   ImageAspect = 0x2
	ImageAspectStencil ImageAspect = 0x4
)

// DepthAspect returns the aspect mask for a depth attachment of format f.
func DepthAspect(f Format) ImageAspect {
	if f.HasStencil() {
		return ImageAspectDepth | ImageAspectStencil
	}
	return ImageAspectDepth
}

// Has reports whether every bit of flag is set.
func (u ImageUsage) Has(flag ImageUsage) bool { return u&flag == flag }

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 0x00000001
	BufferUsageTransferDst BufferUsage = 0x00000002
	BufferUsageUniform     BufferUsage = 0x00000010
	BufferUsageIndex       BufferUsage = 0x00000040
	BufferUsageVertex      BufferUsage = 0x00000080
)

// Has reports whether every bit of flag is set.
func (u BufferUsage) Has(flag BufferUsage) bool { return u&flag == flag }

type PipelineStage uint32

const (
	PipelineStageEarlyFragmentTests    PipelineStage = 0x00000100
	PipelineStageColorAttachmentOutput PipelineStage = 0x00000400
)

// Status is the outcome of an acquire or present request. Stale and
// suboptimal surfaces are expected conditions, so they are reported as a
// Status rather than an error.
type Status int

const (
	StatusSuccess Status = iota
	StatusSuboptimal
	StatusOutOfDate
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out of date"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// NeedsRebuild reports whether the presentation chain should be rebuilt
// after a present returning s.
func (s Status) NeedsRebuild() bool {
	return s == StatusOutOfDate || s == StatusSuboptimal
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32

	// DepthStencil selects the Depth/Stencil members instead of Color.
	DepthStencil bool
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepthStencil(depth float32, stencil uint32) ClearValue {
	return ClearValue{Depth: depth, Stencil: stencil, DepthStencil: true}
}

// UndefinedExtent is the sentinel width a surface reports when the
// swapchain extent is chosen by the application.
const UndefinedExtent = math.MaxUint32

type SurfaceCapabilities struct {
	MinImageCount  uint32
	MaxImageCount  uint32 // 0 means unbounded
	CurrentExtent  Extent2D
	MinImageExtent Extent2D
	MaxImageExtent Extent2D
}

// SurfaceSupport describes what the device's presentation surface offers.
type SurfaceSupport struct {
	Capabilities SurfaceCapabilities
	Formats      []SurfaceFormat
	PresentModes []PresentMode
}
