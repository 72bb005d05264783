package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"vk-render-engine/core"
)

// skyKey is the clear color at one key time of day.
type skyKey struct {
	t       float32 // normalised time 0..1
	horizon core.Color
}

// skyKeys is ordered 0→1 and wraps (0 == 1).
var skyKeys = []skyKey{
	{t: 0.00, horizon: core.Color{R: 0.58, G: 0.75, B: 0.95, A: 1}}, // noon
	{t: 0.22, horizon: core.Color{R: 0.90, G: 0.52, B: 0.18, A: 1}}, // golden hour
	{t: 0.30, horizon: core.Color{R: 0.50, G: 0.22, B: 0.28, A: 1}}, // dusk
	{t: 0.50, horizon: core.Color{R: 0.04, G: 0.04, B: 0.08, A: 1}}, // midnight
	{t: 0.70, horizon: core.Color{R: 0.40, G: 0.18, B: 0.24, A: 1}}, // pre-dawn
	{t: 0.78, horizon: core.Color{R: 0.88, G: 0.45, B: 0.22, A: 1}}, // sunrise
}

// DayNight animates the clear color through a day.
type DayNight struct {
	Time   float32 // 0..1: 0=noon, 0.25=sunset, 0.5=midnight, 0.75=sunrise
	Speed  float32 // full-cycle duration in seconds
	Active bool
}

func NewDayNight() *DayNight {
	return &DayNight{
		Time:   0.0,
		Speed:  120.0,
		Active: true,
	}
}

func (dn *DayNight) Update(dt float32) {
	if !dn.Active || dn.Speed <= 0 {
		return
	}
	dn.Time += dt / dn.Speed
	for dn.Time >= 1.0 {
		dn.Time -= 1.0
	}
}

// SkyColor interpolates between the two key colors surrounding Time.
func (dn *DayNight) SkyColor() core.Color {
	t := dn.Time
	n := len(skyKeys)
	for i := 0; i < n; i++ {
		a := skyKeys[i]
		b := skyKeys[(i+1)%n]
		tb := b.t
		if i == n-1 {
			tb = 1.0
		}
		if t >= a.t && t < tb {
			return a.horizon.Lerp(b.horizon, (t-a.t)/(tb-a.t))
		}
	}
	return skyKeys[0].horizon
}

// TimeOfDayStr returns a human-readable time label.
func (dn *DayNight) TimeOfDayStr() string {
	hours := dn.Time*24.0 + 12.0 // Time 0 is noon
	h := int(hours) % 24
	m := int((hours - float32(int(hours))) * 60)
	period := "AM"
	displayH := h
	if h == 0 {
		displayH = 12
	} else if h == 12 {
		period = "PM"
	} else if h > 12 {
		displayH = h - 12
		period = "PM"
	}
	return fmt.Sprintf("%02d:%02d %s", displayH, m, period)
}

// Uniforms packs the sky color and the time of day as two vec4s, the
// layout the sky shader reads from the frame's uniform buffer.
func (dn *DayNight) Uniforms() []byte {
	c := dn.SkyColor()
	values := [8]float32{c.R, c.G, c.B, c.A, dn.Time}
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
