package filter

import (
	"errors"
	"fmt"

	"golang.org/x/text/cases"

	"github.com/gogpu/camrec/gpucore"
)

// NoTexture is returned by Apply when the stage did not run, either because
// its program failed to link or because it has not been configured.
const NoTexture = ^gpucore.TextureID(0)

// PixelBorder is the width in pixels of the white frame around a
// picture-in-picture rectangle.
const PixelBorder = 4

var (
	// ErrInvalidSize is returned when a stage is configured with an empty size.
	ErrInvalidSize = errors.New("filter: invalid size")

	// ErrDestroyed is returned when a destroyed stage is reconfigured.
	ErrDestroyed = errors.New("filter: stage destroyed")

	// ErrReservedSlot is returned when a stage is set into a reserved slot.
	ErrReservedSlot = errors.New("filter: reserved slot")
)

// Size is a width and height in pixels.
type Size struct {
	Width, Height int
}

// Empty reports whether either dimension is not positive.
func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Swap returns the size with width and height exchanged.
func (s Size) Swap() Size { return Size{Width: s.Height, Height: s.Width} }

// String returns "WxH".
func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Input is the per-draw input of a stage.
type Input struct {
	// Texture is the primary input.
	Texture gpucore.TextureID

	// Secondary is the second input of two-input stages. When InvalidID
	// the stage's own secondary texture is used, if any.
	Secondary gpucore.TextureID

	// Quad holds the vertex positions and texture coordinates. The zero
	// value is FullQuad, which samples the input without reorienting it.
	Quad gpucore.Quad
}

// Stage is one GPU image transform of the graph.
type Stage interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Configure sets the input and output sizes and recomputes the
	// size-dependent uniforms. Calling it again with the same sizes
	// does nothing.
	Configure(input, output Size) error

	// Apply draws the stage and returns its output texture, InvalidID
	// when the stage drew into the display surface, or NoTexture when it
	// did not run.
	Apply(in Input) gpucore.TextureID

	// Output returns the configured output size.
	Output() Size

	// Destroy releases the stage's GPU objects.
	Destroy()
}

// Kind tags the stage variants.
type Kind int

// Stage kinds.
const (
	KindIdentity Kind = iota
	KindExternal
	KindRotate
	KindColorMatrix
	KindMirror
	KindPIP
	KindMix
	KindDisplay
	KindDownload
)

var kindNames = [...]string{
	KindIdentity:    "identity",
	KindExternal:    "external",
	KindRotate:      "rotate",
	KindColorMatrix: "color_matrix",
	KindMirror:      "mirror",
	KindPIP:         "pip",
	KindMix:         "mix",
	KindDisplay:     "display",
	KindDownload:    "download",
}

// String returns the kind name.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// program returns the GPU program a kind draws with.
func (k Kind) program() gpucore.ProgramKind {
	switch k {
	case KindExternal:
		return gpucore.ProgramExternal
	case KindColorMatrix:
		return gpucore.ProgramColorMatrix
	case KindMirror:
		return gpucore.ProgramMirror
	case KindPIP:
		return gpucore.ProgramPIP
	case KindMix:
		return gpucore.ProgramMix
	default:
		return gpucore.ProgramCopy
	}
}

// Type selects the user filter. Values match the host filter identifiers.
type Type int

// User filter types.
const (
	TypeNone               Type = -1
	TypeBeauty             Type = 0
	TypeFaceSticker        Type = 1
	TypeSketch             Type = 2
	TypeSepia              Type = 3
	TypeInvert             Type = 4
	TypeVignette           Type = 5
	TypeLaplacian          Type = 6
	TypeGlassSphere        Type = 7
	TypeCrayon             Type = 8
	TypeMirror             Type = 9
	TypeBeautyOptimization Type = 10
	TypeCrosshatch         Type = 11
	TypeFission            Type = 12
	TypeBlinds             Type = 13
	TypeFadeInOut          Type = 14
)

var typeNames = map[Type]string{
	TypeNone:               "none",
	TypeBeauty:             "beauty",
	TypeFaceSticker:        "face_sticker",
	TypeSketch:             "sketch",
	TypeSepia:              "sepia",
	TypeInvert:             "invert",
	TypeVignette:           "vignette",
	TypeLaplacian:          "laplacian",
	TypeGlassSphere:        "glass_sphere",
	TypeCrayon:             "crayon",
	TypeMirror:             "mirror",
	TypeBeautyOptimization: "beauty_optimization",
	TypeCrosshatch:         "crosshatch",
	TypeFission:            "fission",
	TypeBlinds:             "blinds",
	TypeFadeInOut:          "fade_in_out",
}

// String returns the filter type name.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType returns the type with the given name, ignoring case.
func ParseType(name string) (Type, error) {
	folded := cases.Fold().String(name)
	for t, s := range typeNames {
		if s == folded {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("filter: unknown type %q", name)
}
