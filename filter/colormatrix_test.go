package filter

import (
	"image/color"
	"testing"
)

func TestIdentityColorMatrix(t *testing.T) {
	m := IdentityColorMatrix()
	colors := []color.NRGBA{
		{255, 0, 0, 255},
		{0, 255, 0, 255},
		{12, 34, 56, 78},
	}
	for _, c := range colors {
		if got := m.Transform(c); got != c {
			t.Errorf("Transform(%v) = %v, want unchanged", c, got)
		}
	}
}

func TestInvertColorMatrix(t *testing.T) {
	got := Invert().Transform(color.NRGBA{R: 10, G: 200, B: 255, A: 128})
	want := color.NRGBA{R: 245, G: 55, B: 0, A: 128}
	if got != want {
		t.Errorf("Invert = %v, want %v", got, want)
	}
}

func TestGrayscaleColorMatrix(t *testing.T) {
	got := Grayscale().Transform(color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	if got.R != got.G || got.G != got.B {
		t.Errorf("Grayscale = %v, want equal channels", got)
	}
	if got.A != 255 {
		t.Errorf("alpha = %d, want 255", got.A)
	}
}

func TestContrastColorMatrix(t *testing.T) {
	tests := []struct {
		name   string
		factor float32
		in     uint8
		want   uint8
	}{
		{"unchanged", 1, 77, 77},
		{"zero contrast", 0, 0, 128},
		{"zero contrast white", 0, 255, 128},
		{"double", 2, 192, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Contrast(tt.factor).Transform(color.NRGBA{R: tt.in, G: tt.in, B: tt.in, A: 255})
			if got.R != tt.want {
				t.Errorf("R = %d, want %d", got.R, tt.want)
			}
		})
	}
}

func TestColorMatrixMul(t *testing.T) {
	id := IdentityColorMatrix()
	sepia := Sepia()
	if got := sepia.Mul(id); got != sepia {
		t.Errorf("sepia * identity = %v, want sepia", got)
	}
	if got := id.Mul(sepia); got != sepia {
		t.Errorf("identity * sepia = %v, want sepia", got)
	}

	// Inverting twice restores the color.
	c := color.NRGBA{R: 1, G: 2, B: 3, A: 255}
	if got := Invert().Mul(Invert()).Transform(c); got != c {
		t.Errorf("invert twice = %v, want %v", got, c)
	}

	// Mul applies the right operand first.
	b := Brightness(0.5).Mul(Invert()).Transform(color.NRGBA{R: 255, A: 255})
	if b.R != 0 || b.G != 128 {
		t.Errorf("brightness after invert = %v, want R=0 G=128", b)
	}
}
