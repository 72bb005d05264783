package core

import "testing"

func TestColorArray(t *testing.T) {
	if got := ColorRed.Array(); got != [4]float32{1, 0, 0, 1} {
		t.Errorf("Array = %v", got)
	}
}

func TestColorLerp(t *testing.T) {
	tests := []struct {
		t    float32
		want Color
	}{
		{0, ColorBlack},
		{1, ColorWhite},
		{0.5, Color{0.5, 0.5, 0.5, 1}},
	}
	for _, tt := range tests {
		if got := ColorBlack.Lerp(ColorWhite, tt.t); got != tt.want {
			t.Errorf("Lerp(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}
