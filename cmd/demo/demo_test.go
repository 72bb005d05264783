package main

import (
	"encoding/binary"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func TestDayNightSkyColor(t *testing.T) {
	dn := NewDayNight()
	if got := dn.SkyColor(); got != skyKeys[0].horizon {
		t.Errorf("noon sky = %v, want %v", got, skyKeys[0].horizon)
	}

	dn.Time = 0.5
	if got := dn.SkyColor(); got != skyKeys[3].horizon {
		t.Errorf("midnight sky = %v, want %v", got, skyKeys[3].horizon)
	}

	// Between sunrise and the wrap back to noon.
	dn.Time = 0.89
	got := dn.SkyColor()
	lo, hi := skyKeys[0].horizon, skyKeys[5].horizon
	if got.B < hi.B || got.B > lo.B {
		t.Errorf("wrapped sky = %v, expected between %v and %v", got, hi, lo)
	}
}

func TestDayNightUpdateWraps(t *testing.T) {
	dn := NewDayNight()
	dn.Speed = 10
	dn.Update(25)
	if dn.Time < 0.49 || dn.Time > 0.51 {
		t.Errorf("Time = %v, want 0.5", dn.Time)
	}

	dn.Active = false
	dn.Update(5)
	if dn.Time < 0.49 || dn.Time > 0.51 {
		t.Errorf("inactive cycle advanced to %v", dn.Time)
	}
}

func TestTimeOfDayStr(t *testing.T) {
	tests := []struct {
		time float32
		want string
	}{
		{0, "12:00 PM"},
		{0.25, "06:00 PM"},
		{0.5, "12:00 AM"},
		{0.75, "06:00 AM"},
	}
	for _, tt := range tests {
		dn := &DayNight{Time: tt.time}
		if got := dn.TimeOfDayStr(); got != tt.want {
			t.Errorf("TimeOfDayStr(%v) = %q, want %q", tt.time, got, tt.want)
		}
	}
}

func TestFrameStats(t *testing.T) {
	fs := &FrameStats{}
	for i := 0; i < 30; i++ {
		fs.Record(true, 1.0/60)
	}
	fs.Record(false, 0)
	if fps := fs.FPS(); fps < 59 || fps > 61 {
		t.Errorf("FPS = %v, want 60", fps)
	}
	fs.AddLine("a")
	fs.AddLine("%d", 2)
	if fs.Text() != "a | 2" {
		t.Errorf("Text = %q", fs.Text())
	}
	fs.Reset()
	if fs.FPS() != 0 {
		t.Error("FPS after Reset should be zero")
	}
}

func TestRunHeadless(t *testing.T) {
	saved := args
	defer func() { args = saved }()
	args.width, args.height, args.frames = 640, 480, 40

	var out strings.Builder
	logger := slog.New(slog.NewTextHandler(&out, nil))
	if err := runHeadless(logger); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "headless run finished") {
		t.Errorf("missing summary log: %s", out.String())
	}
}

func TestDayNightUniforms(t *testing.T) {
	dn := NewDayNight()
	dn.Time = 0.5
	buf := dn.Uniforms()
	if len(buf) != 32 {
		t.Fatalf("len = %d, want 32", len(buf))
	}
	float := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	c := dn.SkyColor()
	if float(0) != c.R || float(3) != c.A {
		t.Errorf("color = %v,%v, want %v,%v", float(0), float(3), c.R, c.A)
	}
	if float(4) != 0.5 {
		t.Errorf("time = %v, want 0.5", float(4))
	}
}

func TestUploadAssets(t *testing.T) {
	if got := len(triangleVertices()); got != 3*6*4 {
		t.Errorf("vertex bytes = %d, want %d", got, 3*6*4)
	}
	texels := skyGradient()
	if len(texels) != 16 {
		t.Fatalf("gradient bytes = %d, want 16", len(texels))
	}
	noon := skyKeys[0].horizon
	if texels[0] != toByte(noon.R) || texels[3] != toByte(noon.A) {
		t.Errorf("first texel = %v, want noon horizon %v", texels[:4], noon)
	}
	if toByte(-1) != 0 || toByte(2) != 255 {
		t.Error("toByte does not clamp")
	}
}
