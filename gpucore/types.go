package gpucore

import "fmt"

// Resource IDs
//
// These opaque IDs represent GPU resources. Each backend maintains a
// mapping between IDs and actual backend resources.

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// ProgramID is an opaque handle to a linked vertex/fragment program.
type ProgramID uint64

// BufferID is an opaque handle to a CPU-visible readback buffer.
type BufferID uint64

// InvalidID is the zero value, representing an invalid/null resource.
// As a draw target it selects the display surface.
const InvalidID = 0

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	TextureFormatBGRA8Unorm
)

// BytesPerPixel returns the size of one texel.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatRGBA8Unorm, TextureFormatBGRA8Unorm:
		return 4
	default:
		return 0
	}
}

// String returns the format name.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Unorm:
		return "RGBA8Unorm"
	case TextureFormatBGRA8Unorm:
		return "BGRA8Unorm"
	default:
		return fmt.Sprintf("TextureFormat(%d)", uint32(f))
	}
}

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Width and Height are the texture size in pixels.
	Width, Height int

	// Format is the texel format. Zero selects RGBA8Unorm.
	Format TextureFormat

	// External marks a texture whose content is written by a capture
	// source through WriteTexture rather than rendered to.
	External bool
}

// ProgramKind selects the vertex/fragment shader pair of a program.
type ProgramKind uint8

// Program kinds.
const (
	// ProgramCopy samples the primary input unchanged.
	ProgramCopy ProgramKind = iota + 1

	// ProgramExternal samples an external texture through the
	// per-frame sample-transform matrix.
	ProgramExternal

	// ProgramColorMatrix applies a 4x5 color matrix to the primary input.
	ProgramColorMatrix

	// ProgramMirror mirrors the left and bottom halves onto the rest.
	ProgramMirror

	// ProgramPIP draws the secondary input inside Uniforms.Rect with a
	// white border, and the primary input elsewhere.
	ProgramPIP

	// ProgramMix blends the secondary input over the primary input by
	// the secondary alpha.
	ProgramMix
)

// String returns the program kind name.
func (k ProgramKind) String() string {
	switch k {
	case ProgramCopy:
		return "copy"
	case ProgramExternal:
		return "external"
	case ProgramColorMatrix:
		return "color_matrix"
	case ProgramMirror:
		return "mirror"
	case ProgramPIP:
		return "pip"
	case ProgramMix:
		return "mix"
	default:
		return fmt.Sprintf("ProgramKind(%d)", uint8(k))
	}
}

// ProgramDescriptor describes a program to link.
type ProgramDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Kind selects the shader pair.
	Kind ProgramKind
}

// Quad holds the vertex positions (NDC) and texture coordinates of the
// four corners of a triangle strip, in the order bottom-left,
// bottom-right, top-left, top-right.
type Quad struct {
	Positions [8]float32
	TexCoords [8]float32
}

// Viewport is a pixel rectangle in the draw target.
type Viewport struct {
	X, Y, Width, Height int
}

// Uniforms holds every stage-local parameter a program may read.
// Programs ignore the fields they do not use.
type Uniforms struct {
	// Transform is the column-major sample-transform matrix applied to
	// texture coordinates by ProgramExternal.
	Transform [16]float32

	// ColorMatrix is a row-major 4x5 matrix used by ProgramColorMatrix.
	// The fifth column is a bias in the [0, 255] range.
	ColorMatrix [20]float32

	// Rect is the picture-in-picture region in texture space
	// (left, bottom, right, top) used by ProgramPIP.
	Rect [4]float32

	// Border is the picture-in-picture border width in texture space.
	Border float32
}

// DrawCall is one full-quad draw.
type DrawCall struct {
	// Label is an optional debug name.
	Label string

	Program ProgramID

	// Input is the primary sampled texture.
	Input TextureID

	// Secondary is the second sampled texture of two-input programs.
	Secondary TextureID

	// Target receives the output. InvalidID selects the display surface.
	Target TextureID

	Viewport Viewport
	Quad     Quad
	Uniforms Uniforms

	// Clear clears the target to transparent black before drawing.
	Clear bool
}

// ReadbackLayout describes how a texture is copied into a readback buffer.
type ReadbackLayout struct {
	Width, Height int

	// BytesPerRow is the aligned row stride in the buffer.
	BytesPerRow int
}

// Stats reports the number of live objects owned by a share group.
type Stats struct {
	Textures int
	Programs int
	Buffers  int
	Contexts int
}

// Live reports whether any object is still allocated.
func (s Stats) Live() bool {
	return s.Textures != 0 || s.Programs != 0 || s.Buffers != 0
}

// IdentityMatrix returns the 4x4 identity sample transform.
func IdentityMatrix() [16]float32 {
	return [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// AlignedRowBytes returns the row stride of a width-pixel row aligned to
// align bytes. align must be a power of two.
func AlignedRowBytes(width, bytesPerPixel, align int) int {
	if align <= 1 {
		return width * bytesPerPixel
	}
	return (width*bytesPerPixel + align - 1) &^ (align - 1)
}
