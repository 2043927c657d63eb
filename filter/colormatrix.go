package filter

import "image/color"

// ColorMatrix is a 4x5 color transformation in row-major order:
//
//	[R']   [a00 a01 a02 a03 a04]   [R]
//	[G'] = [a10 a11 a12 a13 a14] * [G]
//	[B']   [a20 a21 a22 a23 a24]   [B]
//	[A']   [a30 a31 a32 a33 a34]   [A]
//	                               [1]
//
// Color values are in [0, 255]; the fifth column is the bias.
type ColorMatrix [20]float32

// Rec. 709 luminance weights.
const (
	lumR = 0.2126
	lumG = 0.7152
	lumB = 0.0722
)

// IdentityColorMatrix passes colors through unchanged.
func IdentityColorMatrix() ColorMatrix {
	return ColorMatrix{
		1, 0, 0, 0, 0, // R
		0, 1, 0, 0, 0, // G
		0, 0, 1, 0, 0, // B
		0, 0, 0, 1, 0, // A
	}
}

// Brightness scales RGB.
// factor: 0.0 = black, 1.0 = unchanged, 2.0 = twice as bright
func Brightness(factor float32) ColorMatrix {
	return ColorMatrix{
		factor, 0, 0, 0, 0,
		0, factor, 0, 0, 0,
		0, 0, factor, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// Contrast scales RGB around mid-gray.
// factor: 0.0 = gray, 1.0 = unchanged, 2.0 = high contrast
func Contrast(factor float32) ColorMatrix {
	// (color - 128) * factor + 128
	offset := 128 * (1 - factor)
	return ColorMatrix{
		factor, 0, 0, 0, offset,
		0, factor, 0, 0, offset,
		0, 0, factor, 0, offset,
		0, 0, 0, 1, 0,
	}
}

// Saturation blends between luminance and the original color.
// factor: 0.0 = grayscale, 1.0 = unchanged, 2.0 = oversaturated
func Saturation(factor float32) ColorMatrix {
	inv := 1 - factor
	return ColorMatrix{
		lumR*inv + factor, lumG * inv, lumB * inv, 0, 0,
		lumR * inv, lumG*inv + factor, lumB * inv, 0, 0,
		lumR * inv, lumG * inv, lumB*inv + factor, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// Grayscale converts to Rec. 709 luminance.
func Grayscale() ColorMatrix { return Saturation(0) }

// Sepia applies a sepia tone.
func Sepia() ColorMatrix {
	return ColorMatrix{
		0.393, 0.769, 0.189, 0, 0,
		0.349, 0.686, 0.168, 0, 0,
		0.272, 0.534, 0.131, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// Invert inverts RGB and keeps alpha.
func Invert() ColorMatrix {
	return ColorMatrix{
		-1, 0, 0, 0, 255,
		0, -1, 0, 0, 255,
		0, 0, -1, 0, 255,
		0, 0, 0, 1, 0,
	}
}

// Beauty is a soft brightening preset.
func Beauty() ColorMatrix {
	return Brightness(1.08).Mul(Contrast(0.92)).Mul(Saturation(0.9))
}

// Mul returns the matrix applying n first and then m.
func (m ColorMatrix) Mul(n ColorMatrix) ColorMatrix {
	var out ColorMatrix
	for row := range 4 {
		for col := range 5 {
			var sum float32
			for k := range 4 {
				sum += m[row*5+k] * n[k*5+col]
			}
			if col == 4 {
				sum += m[row*5+4]
			}
			out[row*5+col] = sum
		}
	}
	return out
}

// Transform applies the matrix to a non-premultiplied color.
func (m ColorMatrix) Transform(c color.NRGBA) color.NRGBA {
	in := [4]float32{float32(c.R), float32(c.G), float32(c.B), float32(c.A)}
	var out [4]uint8
	for row := range 4 {
		r := m[row*5 : row*5+5]
		out[row] = clamp8(r[0]*in[0] + r[1]*in[1] + r[2]*in[2] + r[3]*in[3] + r[4])
	}
	return color.NRGBA{R: out[0], G: out[1], B: out[2], A: out[3]}
}

func clamp8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
