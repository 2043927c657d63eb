//go:build !nogpu

package wgpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/naga"

	"github.com/gogpu/camrec/gpucore"
)

// Embedded WGSL shader sources. Every program is the common prelude
// (uniforms, bindings, vertex stage) followed by one fragment stage.

//go:embed shaders/common.wgsl
var commonShaderSource string

//go:embed shaders/copy.wgsl
var copyShaderSource string

//go:embed shaders/external.wgsl
var externalShaderSource string

//go:embed shaders/color_matrix.wgsl
var colorMatrixShaderSource string

//go:embed shaders/mirror.wgsl
var mirrorShaderSource string

//go:embed shaders/pip.wgsl
var pipShaderSource string

//go:embed shaders/mix.wgsl
var mixShaderSource string

// ShaderSource returns the full WGSL source of a program kind.
func ShaderSource(kind gpucore.ProgramKind) (string, error) {
	var frag string
	switch kind {
	case gpucore.ProgramCopy:
		frag = copyShaderSource
	case gpucore.ProgramExternal:
		frag = externalShaderSource
	case gpucore.ProgramColorMatrix:
		frag = colorMatrixShaderSource
	case gpucore.ProgramMirror:
		frag = mirrorShaderSource
	case gpucore.ProgramPIP:
		frag = pipShaderSource
	case gpucore.ProgramMix:
		frag = mixShaderSource
	default:
		return "", fmt.Errorf("no shader for %s", kind)
	}
	return commonShaderSource + "\n" + frag, nil
}

// validateShader compiles WGSL with naga. A driver would reject the same
// source at link time, so validation errors are reported as link failures.
func validateShader(label, source string) error {
	if _, err := naga.Compile(source); err != nil {
		return fmt.Errorf("%w: %s: %v", gpucore.ErrLinkFailed, label, err)
	}
	return nil
}

// Uniform buffer layout, matching StageUniforms in common.wgsl:
//
//	transform     mat4x4<f32>          64 bytes
//	color_matrix  array<vec4<f32>, 5>  80 bytes
//	rect          vec4<f32>            16 bytes
//	params        vec4<f32>            16 bytes
const stageUniformSize = 176

// Vertex layout: position vec2 + uv vec2, two triangles per quad.
const (
	quadVertexStride = 16
	quadVertexCount  = 6
	quadVertexSize   = quadVertexStride * quadVertexCount
)

// packUniforms serializes Uniforms into the std140-compatible layout.
// Color matrix rows and bias are normalized from the [0, 255] domain.
func packUniforms(u *gpucore.Uniforms) []byte {
	buf := make([]byte, stageUniformSize)
	off := 0
	put := func(v float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	for _, v := range u.Transform {
		put(v)
	}
	m := &u.ColorMatrix
	for row := range 4 {
		for col := range 4 {
			put(m[row*5+col])
		}
	}
	for row := range 4 {
		put(m[row*5+4] / 255)
	}
	for _, v := range u.Rect {
		put(v)
	}
	put(u.Border)
	put(0)
	put(0)
	put(0)
	return buf
}

// packQuad expands the triangle-strip quad into a triangle list and maps
// the positions into the viewport of a target of size (tw, th).
func packQuad(q *gpucore.Quad, vp gpucore.Viewport, tw, th int) []byte {
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = gpucore.Viewport{Width: tw, Height: th}
	}
	sx := float32(vp.Width) / float32(tw)
	sy := float32(vp.Height) / float32(th)
	ox := float32(vp.X)/float32(tw)*2 - 1
	oy := float32(vp.Y)/float32(th)*2 - 1

	// Strip order BL, BR, TL, TR -> triangles (BL, BR, TL), (TL, BR, TR).
	order := [quadVertexCount]int{0, 1, 2, 2, 1, 3}
	buf := make([]byte, quadVertexSize)
	off := 0
	put := func(v float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	for _, i := range order {
		put(ox + (q.Positions[i*2]+1)*sx)
		put(oy + (q.Positions[i*2+1]+1)*sy)
		put(q.TexCoords[i*2])
		put(q.TexCoords[i*2+1])
	}
	return buf
}
