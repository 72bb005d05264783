package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"

	"vk-render-engine/core"
	"vk-render-engine/gpu"
	"vk-render-engine/internal/simgpu"
	"vk-render-engine/renderer"
	"vk-render-engine/vulkan"
)

var args struct {
	width      int
	height     int
	validation bool
	vsync      bool
	headless   bool
	frames     int
	verbose    bool
}

func init() {
	flag.IntVar(&args.width, "width", 1280, "window width in pixels")
	flag.IntVar(&args.height, "height", 720, "window height in pixels")
	flag.BoolVar(&args.validation, "validation", false, "enable Vulkan validation layers")
	flag.BoolVar(&args.vsync, "vsync", false, "prefer FIFO presentation")
	flag.BoolVar(&args.headless, "headless", false, "drive the simulated device instead of a window")
	flag.IntVar(&args.frames, "frames", 0, "stop after this many frames (0 runs until closed; headless defaults to 120)")
	flag.BoolVar(&args.verbose, "v", false, "log debug output")
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if args.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	gpu.SetLogger(logger)

	var err error
	if args.headless {
		err = runHeadless(logger)
	} else {
		err = run(logger)
	}
	if err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func rendererConfig() renderer.Config {
	if args.vsync {
		return renderer.VSyncConfig()
	}
	return renderer.DefaultConfig()
}

func run(logger *slog.Logger) error {
	windowConfig := core.DefaultWindowConfig()
	windowConfig.Title = "Render Engine - Vulkan"
	windowConfig.Width = args.width
	windowConfig.Height = args.height

	window, err := core.NewWindow(windowConfig)
	if err != nil {
		return err
	}
	defer window.Destroy()

	instanceConfig := vulkan.DefaultInstanceConfig()
	instanceConfig.AppName = windowConfig.Title
	instanceConfig.EnableValidation = args.validation
	instanceConfig.RequiredExtensions = window.GetRequiredInstanceExtensions()
	instanceConfig.ProcAddr = window.VulkanProcAddr()

	instance, err := vulkan.NewInstance(instanceConfig)
	if err != nil {
		return err
	}
	defer instance.Destroy()

	surface, err := window.CreateSurface(instance.Handle)
	if err != nil {
		return err
	}
	defer instance.DestroySurface(surface)

	device, err := vulkan.NewDevice(instance, surface)
	if err != nil {
		return err
	}
	defer device.Destroy()

	config := rendererConfig()
	r, err := renderer.NewRenderer(device, window, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Destroy(); err != nil {
			logger.Error("renderer teardown", "error", err)
		}
	}()

	clock := renderer.NewFrameClock(config.MaxFrameTime)
	dayNight := NewDayNight()
	stats := &FrameStats{}
	lastTitle := time.Now()

	var uniformErr error
	sky := renderer.SystemFunc(func(renderer.FrameInfo) {
		if err := r.UpdateUniformBuffer(dayNight.Uniforms()); err != nil && uniformErr == nil {
			uniformErr = err
		}
	})
	vKeyWasDown := false

	for !window.ShouldClose() {
		window.PollEvents()

		if window.IsKeyPressed(core.KeyEscape) {
			break
		}

		// V toggles the day/night animation.
		vDown := window.IsKeyPressed(core.KeyV)
		if vDown && !vKeyWasDown {
			dayNight.Active = !dayNight.Active
		}
		vKeyWasDown = vDown

		dt := clock.Tick()
		dayNight.Update(dt)
		r.SetClearColor(dayNight.SkyColor().Array())

		drawn, err := r.Render(dt, sky)
		if err != nil {
			return err
		}
		if uniformErr != nil {
			return uniformErr
		}
		stats.Record(drawn, dt)

		if time.Since(lastTitle) >= time.Second {
			window.SetTitle(fmt.Sprintf("%s | %s", windowConfig.Title, stats.Summary(r, clock, dayNight.TimeOfDayStr())))
			stats.Reset()
			lastTitle = time.Now()
		}

		if args.frames > 0 && int(clock.Frames()) >= args.frames {
			break
		}
	}

	logger.Info("frame loop finished", "frames", clock.Frames(), "avgFrameTime", clock.Average())
	return nil
}

// runHeadless renders against the simulated device while the surface is
// resized and then minimized, exercising the rebuild paths without a GPU.
func runHeadless(logger *slog.Logger) error {
	frames := args.frames
	if frames <= 0 {
		frames = 120
	}

	simConfig := simgpu.DefaultConfig()
	simConfig.Extent = gpu.Extent2D{Width: uint32(args.width), Height: uint32(args.height)}
	device := simgpu.NewDevice(simConfig)
	surface := device.Surface()

	config := rendererConfig()
	r, err := renderer.NewRenderer(device, surface, config)
	if err != nil {
		return err
	}

	vertices, err := renderer.UploadBuffer(device, gpu.BufferUsageVertex, triangleVertices())
	if err != nil {
		_ = r.Destroy()
		return err
	}
	gradient, err := renderer.UploadImage(device, gpu.Extent2D{Width: 4, Height: 1}, gpu.FormatR8G8B8A8Srgb, skyGradient())
	if err != nil {
		vertices.Destroy()
		_ = r.Destroy()
		return err
	}
	// The renderer waits for the device to go idle, so the uploads are
	// released after it.
	release := func() error {
		err := r.Destroy()
		gradient.Destroy()
		vertices.Destroy()
		return err
	}

	dayNight := NewDayNight()
	dayNight.Speed = 2
	stats := &FrameStats{}
	const dt = float32(1.0 / 60)

	var uniformErr error
	draw := renderer.SystemFunc(func(frame renderer.FrameInfo) {
		if err := r.UpdateUniformBuffer(dayNight.Uniforms()); err != nil && uniformErr == nil {
			uniformErr = err
		}
		cb := frame.CommandBuffer.(*simgpu.CommandBuffer)
		cb.Use(vertices)
		cb.Use(frame.UniformBuffer)
		cb.Draw("triangle")
	})

	for i := 0; i < frames; i++ {
		switch i {
		case frames / 4:
			surface.Resize(gpu.Extent2D{Width: uint32(args.width) / 2, Height: uint32(args.height) / 2})
		case frames / 2:
			// Minimized: the next two event waits still report a zero
			// size before the window comes back.
			surface.Resize(gpu.Extent2D{})
			surface.Script(gpu.Extent2D{}, gpu.Extent2D{Width: uint32(args.width), Height: uint32(args.height)})
		}

		dayNight.Update(dt)
		r.SetClearColor(dayNight.SkyColor().Array())

		drawn, err := r.Render(dt, draw)
		if err == nil {
			err = uniformErr
		}
		if err != nil {
			_ = release()
			return err
		}
		stats.Record(drawn, dt)
	}

	if err := release(); err != nil {
		return err
	}

	logger.Info("headless run finished",
		"frames", frames,
		"presents", device.Presents(),
		"acquires", device.Acquires(),
		"generations", r.Generation(),
		"waits", surface.Waits(),
		"fps", fmt.Sprintf("%.0f", stats.FPS()),
	)

	if v := device.Violations(); len(v) > 0 {
		return errors.Errorf("simulated device reported %d violations, first: %s", len(v), v[0])
	}
	if device.Live() != 0 {
		return errors.Errorf("objects leaked: %v", device.LiveKinds())
	}
	return nil
}

// triangleVertices returns three vertices of interleaved position (xyz)
// and color (rgb).
func triangleVertices() []byte {
	values := []float32{
		0.0, -0.5, 0, 1, 0, 0,
		0.5, 0.5, 0, 0, 1, 0,
		-0.5, 0.5, 0, 0, 0, 1,
	}
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// skyGradient is a 4x1 RGBA ramp sampled from the day/night palette.
func skyGradient() []byte {
	dn := NewDayNight()
	var texels []byte
	for i := 0; i < 4; i++ {
		dn.Time = float32(i) / 4
		c := dn.SkyColor()
		texels = append(texels, toByte(c.R), toByte(c.G), toByte(c.B), toByte(c.A))
	}
	return texels
}

func toByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}
