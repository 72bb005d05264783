package core

import (
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

func init() {
	runtime.LockOSThread()
}

// Window is a glfw window without a client API, presented to through a
// Vulkan surface. It implements renderer.Surface.
type Window struct {
	Handle *glfw.Window
	Width  int
	Height int
	Title  string

	resized bool
}

type WindowConfig struct {
	Width      int
	Height     int
	Title      string
	Resizable  bool
	Fullscreen bool
}

func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Width:      1280,
		Height:     720,
		Title:      "Render Engine",
		Resizable:  true,
		Fullscreen: false,
	}
}

func NewWindow(config WindowConfig) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize GLFW")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("GLFW reports no Vulkan support")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, boolToInt(config.Resizable))

	monitor := (*glfw.Monitor)(nil)
	if config.Fullscreen {
		monitor = glfw.GetPrimaryMonitor()
	}

	handle, err := glfw.CreateWindow(config.Width, config.Height, config.Title, monitor, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "failed to create window")
	}

	window := &Window{
		Handle: handle,
		Width:  config.Width,
		Height: config.Height,
		Title:  config.Title,
	}

	handle.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		window.Width = width
		window.Height = height
		window.resized = true
	})

	return window, nil
}

func (w *Window) ShouldClose() bool {
	return w.Handle.ShouldClose()
}

func (w *Window) PollEvents() {
	glfw.PollEvents()
}

// WaitEvents parks the calling goroutine until glfw delivers an event,
// used while the window is minimized.
func (w *Window) WaitEvents() {
	glfw.WaitEvents()
}

// Extent is the framebuffer size in pixels; zero while minimized.
func (w *Window) Extent() gpu.Extent2D {
	width, height := w.Handle.GetFramebufferSize()
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return gpu.Extent2D{Width: uint32(width), Height: uint32(height)}
}

func (w *Window) WasResized() bool { return w.resized }
func (w *Window) ResetResized()    { w.resized = false }

func (w *Window) GetRequiredInstanceExtensions() []string {
	return w.Handle.GetRequiredInstanceExtensions()
}

// VulkanProcAddr returns the loader entry point glfw resolved, for
// vulkan.InstanceConfig.ProcAddr.
func (w *Window) VulkanProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (w *Window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ptr, err := w.Handle.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "failed to create window surface")
	}
	return vk.SurfaceFromPointer(ptr), nil
}

func (w *Window) Destroy() {
	w.Handle.Destroy()
	glfw.Terminate()
}

func (w *Window) IsKeyPressed(key int) bool {
	return w.Handle.GetKey(glfw.Key(key)) == glfw.Press
}

func (w *Window) SetTitle(title string) {
	w.Handle.SetTitle(title)
	w.Title = title
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const (
	KeyEscape = int(glfw.KeyEscape)
	KeyV      = int(glfw.KeyV)
)
