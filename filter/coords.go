package filter

import (
	"fmt"
	"math"

	"github.com/gogpu/camrec/gpucore"
)

// Rotation is a clockwise rotation in multiples of 90 degrees.
type Rotation int

// Rotations.
const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// RotationFromDegrees normalizes an angle to the nearest lower multiple of 90.
func RotationFromDegrees(deg int) Rotation {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg / 90 * 90)
}

// Transposed reports whether the rotation swaps width and height.
func (r Rotation) Transposed() bool { return r == Rotation90 || r == Rotation270 }

// String returns the rotation in degrees.
func (r Rotation) String() string { return fmt.Sprintf("%d°", int(r)) }

// Cube is the full-screen quad in bottom-left, bottom-right, top-left,
// top-right order.
var Cube = [8]float32{-1, -1, 1, -1, -1, 1, 1, 1}

// Texture coordinate tables, corner order matching Cube.
var (
	NoRotation        = [8]float32{0, 1, 1, 1, 0, 0, 1, 0}
	RotatedClockwise  = [8]float32{1, 1, 1, 0, 0, 1, 0, 0}
	Rotated180        = [8]float32{1, 0, 0, 0, 1, 1, 0, 1}
	RotatedCounterCW  = [8]float32{0, 0, 0, 1, 1, 0, 1, 1}
	identityTexCoords = [8]float32{0, 0, 1, 0, 0, 1, 1, 1}
)

// FullQuad returns the full-screen quad sampling the whole texture with
// row 0 at the bottom.
func FullQuad() gpucore.Quad {
	return gpucore.Quad{Positions: Cube, TexCoords: identityTexCoords}
}

// TextureCoords returns the texture coordinates for a rotation with
// optional flips. Flips map c to 1-c on their axis.
func TextureCoords(rot Rotation, flipH, flipV bool) [8]float32 {
	var c [8]float32
	switch rot {
	case Rotation90:
		c = RotatedClockwise
	case Rotation180:
		c = Rotated180
	case Rotation270:
		c = RotatedCounterCW
	default:
		c = NoRotation
	}
	if flipH {
		for i := 0; i < 8; i += 2 {
			c[i] = flip(c[i])
		}
	}
	if flipV {
		for i := 1; i < 8; i += 2 {
			c[i] = flip(c[i])
		}
	}
	return c
}

func flip(c float32) float32 {
	if c == 0 {
		return 1
	}
	return 0
}

// CropDistances returns the horizontal and vertical texture coordinate
// insets that center-crop an input of size in to fill out after rotation.
func CropDistances(in, out Size, rot Rotation) (h, v float32) {
	if in.Empty() || out.Empty() {
		return 0, 0
	}
	ow, oh := float64(out.Width), float64(out.Height)
	if rot.Transposed() {
		ow, oh = oh, ow
	}
	ratio := math.Max(ow/float64(in.Width), oh/float64(in.Height))
	newW := math.Round(float64(in.Width) * ratio)
	newH := math.Round(float64(in.Height) * ratio)
	h = float32((1 - 1/(newW/ow)) / 2)
	v = float32((1 - 1/(newH/oh)) / 2)
	return h, v
}

// ScaleCoords returns the rotated, flipped and center-cropped texture
// coordinates for drawing an input of size in into an output of size out.
// Each corner moves inward by the crop distance of its axis.
func ScaleCoords(in, out Size, rot Rotation, flipH, flipV bool) [8]float32 {
	c := TextureCoords(rot, flipH, flipV)
	dh, dv := CropDistances(in, out, rot)
	for i := 0; i < 8; i += 2 {
		c[i] = addDistance(c[i], dh)
		c[i+1] = addDistance(c[i+1], dv)
	}
	return c
}

func addDistance(c, d float32) float32 {
	if c == 0 {
		return d
	}
	return 1 - d
}

// Align rounds x up to a multiple of align.
func Align(x, align int) int {
	if align <= 1 {
		return x
	}
	return (x + align - 1) / align * align
}
