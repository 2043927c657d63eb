package software

import (
	"math"

	"github.com/gogpu/camrec/gpucore"
)

// kernel shades one fragment at texture coordinate (u, v).
type kernel func(u, v float32, in, sec *texture, uni *gpucore.Uniforms) [4]byte

func kernelFor(kind gpucore.ProgramKind) kernel {
	switch kind {
	case gpucore.ProgramCopy:
		return copyKernel
	case gpucore.ProgramExternal:
		return externalKernel
	case gpucore.ProgramColorMatrix:
		return colorMatrixKernel
	case gpucore.ProgramMirror:
		return mirrorKernel
	case gpucore.ProgramPIP:
		return pipKernel
	case gpucore.ProgramMix:
		return mixKernel
	default:
		return nil
	}
}

// rasterize shades every target pixel covered by the quad. Texture
// coordinates are interpolated bilinearly between the four corners.
func rasterize(dst *texture, call *gpucore.DrawCall, k kernel, in, sec *texture) {
	vp := call.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = gpucore.Viewport{Width: dst.width, Height: dst.height}
	}
	pos := call.Quad.Positions
	tc := call.Quad.TexCoords

	// Bottom-left and top-right corners in pixels.
	x0 := float32(vp.X) + (pos[0]+1)/2*float32(vp.Width)
	y0 := float32(vp.Y) + (pos[1]+1)/2*float32(vp.Height)
	x1 := float32(vp.X) + (pos[6]+1)/2*float32(vp.Width)
	y1 := float32(vp.Y) + (pos[7]+1)/2*float32(vp.Height)
	if x1 == x0 || y1 == y0 {
		return
	}

	minX := clampInt(int(math.Floor(float64(min(x0, x1)))), 0, dst.width)
	maxX := clampInt(int(math.Ceil(float64(max(x0, x1)))), 0, dst.width)
	minY := clampInt(int(math.Floor(float64(min(y0, y1)))), 0, dst.height)
	maxY := clampInt(int(math.Ceil(float64(max(y0, y1)))), 0, dst.height)

	for py := minY; py < maxY; py++ {
		t := (float32(py) + 0.5 - y0) / (y1 - y0)
		if t < 0 || t > 1 {
			continue
		}
		for px := minX; px < maxX; px++ {
			s := (float32(px) + 0.5 - x0) / (x1 - x0)
			if s < 0 || s > 1 {
				continue
			}
			bu := tc[0] + (tc[2]-tc[0])*s
			bv := tc[1] + (tc[3]-tc[1])*s
			tu := tc[4] + (tc[6]-tc[4])*s
			tv := tc[5] + (tc[7]-tc[5])*s
			u := bu + (tu-bu)*t
			v := bv + (tv-bv)*t

			c := k(u, v, in, sec, &call.Uniforms)
			off := (py*dst.width + px) * 4
			dst.pix[off+0] = c[0]
			dst.pix[off+1] = c[1]
			dst.pix[off+2] = c[2]
			dst.pix[off+3] = c[3]
		}
	}
}

// sample reads the nearest texel with clamp-to-edge addressing.
func sample(tex *texture, u, v float32) [4]byte {
	if tex == nil {
		return [4]byte{}
	}
	x := clampInt(int(u*float32(tex.width)), 0, tex.width-1)
	y := clampInt(int(v*float32(tex.height)), 0, tex.height-1)
	off := (y*tex.width + x) * 4
	return [4]byte{tex.pix[off], tex.pix[off+1], tex.pix[off+2], tex.pix[off+3]}
}

func copyKernel(u, v float32, in, _ *texture, _ *gpucore.Uniforms) [4]byte {
	return sample(in, u, v)
}

// externalKernel applies the column-major sample transform to (u, v, 0, 1).
func externalKernel(u, v float32, in, _ *texture, uni *gpucore.Uniforms) [4]byte {
	m := &uni.Transform
	tu := m[0]*u + m[4]*v + m[12]
	tv := m[1]*u + m[5]*v + m[13]
	return sample(in, tu, tv)
}

func colorMatrixKernel(u, v float32, in, _ *texture, uni *gpucore.Uniforms) [4]byte {
	c := sample(in, u, v)
	m := &uni.ColorMatrix
	r, g, b, a := float32(c[0]), float32(c[1]), float32(c[2]), float32(c[3])
	return [4]byte{
		clampByte(m[0]*r + m[1]*g + m[2]*b + m[3]*a + m[4]),
		clampByte(m[5]*r + m[6]*g + m[7]*b + m[8]*a + m[9]),
		clampByte(m[10]*r + m[11]*g + m[12]*b + m[13]*a + m[14]),
		clampByte(m[15]*r + m[16]*g + m[17]*b + m[18]*a + m[19]),
	}
}

func mirrorKernel(u, v float32, in, _ *texture, _ *gpucore.Uniforms) [4]byte {
	if u > 0.5 {
		u = 1 - u
	}
	if v > 0.5 {
		v = 1 - v
	}
	return sample(in, u, v)
}

var white = [4]byte{255, 255, 255, 255}

// pipKernel draws sec, stored top row first, inside rect with a white frame
// of width Border around it.
func pipKernel(u, v float32, in, sec *texture, uni *gpucore.Uniforms) [4]byte {
	l, b, r, t := uni.Rect[0], uni.Rect[1], uni.Rect[2], uni.Rect[3]
	if r <= l || t <= b {
		return sample(in, u, v)
	}
	if u >= l && u <= r && v >= b && v <= t {
		return sample(sec, (u-l)/(r-l), 1-(v-b)/(t-b))
	}
	bw := uni.Border
	if u >= l-bw && u <= r+bw && v >= b-bw && v <= t+bw {
		return white
	}
	return sample(in, u, v)
}

// mixKernel blends sub over base: out = sub*sub.a + base*(1-sub.a).
func mixKernel(u, v float32, in, sec *texture, _ *gpucore.Uniforms) [4]byte {
	base := sample(in, u, v)
	if sec == nil {
		return base
	}
	sub := sample(sec, u, v)
	a := float32(sub[3]) / 255
	var out [4]byte
	for i := range 4 {
		out[i] = clampByte(float32(sub[i])*a + float32(base[i])*(1-a))
	}
	return out
}

func clampByte(x float32) byte {
	if x <= 0 {
		return 0
	}
	if x >= 255 {
		return 255
	}
	return byte(x + 0.5)
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
