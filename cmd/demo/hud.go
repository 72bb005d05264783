package main

import (
	"fmt"
	"strings"
	"time"

	"vk-render-engine/renderer"
)

// FrameStats collects per-frame numbers and formats them as a one-line
// overlay for the window title or the log.
type FrameStats struct {
	lines []string

	frames  int
	skipped int
	elapsed time.Duration
}

// Record counts one iteration of the frame loop.
func (fs *FrameStats) Record(drawn bool, dt float32) {
	if drawn {
		fs.frames++
	} else {
		fs.skipped++
	}
	fs.elapsed += time.Duration(float64(dt) * float64(time.Second))
}

func (fs *FrameStats) FPS() float64 {
	if fs.elapsed <= 0 {
		return 0
	}
	return float64(fs.frames) / fs.elapsed.Seconds()
}

// Reset starts a new measurement window.
func (fs *FrameStats) Reset() {
	fs.frames, fs.skipped, fs.elapsed = 0, 0, 0
}

func (fs *FrameStats) AddLine(format string, args ...interface{}) {
	fs.lines = append(fs.lines, fmt.Sprintf(format, args...))
}

func (fs *FrameStats) Clear() {
	fs.lines = fs.lines[:0]
}

func (fs *FrameStats) Text() string {
	return strings.Join(fs.lines, " | ")
}

// Summary builds the overlay text for the renderer's current state.
func (fs *FrameStats) Summary(r *renderer.Renderer, clock *renderer.FrameClock, timeOfDay string) string {
	fs.Clear()
	fs.AddLine("%.0f fps", fs.FPS())
	fs.AddLine("avg %v", clock.Average().Round(time.Microsecond))
	fs.AddLine("%s %s", r.Extent(), r.SwapChain().PresentMode())
	fs.AddLine("gen %d", r.Generation())
	if fs.skipped > 0 {
		fs.AddLine("%d skipped", fs.skipped)
	}
	if timeOfDay != "" {
		fs.AddLine("%s", timeOfDay)
	}
	return fs.Text()
}
