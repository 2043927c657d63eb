package filter

import (
	"errors"
	"fmt"

	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

// Pass is the single implementation behind every stage kind. The kind
// selects the program, whether the pass owns an offscreen target, and
// which uniforms are recomputed on Configure.
type Pass struct {
	ctx   gpucore.Context
	kind  Kind
	label string

	program gpucore.ProgramID
	linkErr error

	target    gpucore.TextureID
	targetSz  Size
	in, out   Size
	uniforms  gpucore.Uniforms
	secondary gpucore.TextureID
	overlay   *Overlay

	destroyed bool
}

var _ Stage = (*Pass)(nil)

// newPass creates the pass program. A link failure is not an error: the
// pass is kept and Apply reports NoTexture.
func newPass(ctx gpucore.Context, kind Kind) *Pass {
	p := &Pass{
		ctx:   ctx,
		kind:  kind,
		label: kind.String(),
	}
	p.uniforms.Transform = gpucore.IdentityMatrix()
	p.uniforms.ColorMatrix = IdentityColorMatrix()

	id, err := ctx.CreateProgram(&gpucore.ProgramDescriptor{Label: p.label, Kind: kind.program()})
	if err != nil {
		p.linkErr = err
		if errors.Is(err, gpucore.ErrLinkFailed) {
			logging.Logger().Warn("filter: program link failed, stage disabled", "stage", p.label, "err", err)
		} else {
			logging.Logger().Error("filter: create program", "stage", p.label, "err", err)
		}
		return p
	}
	p.program = id
	return p
}

// NewIdentity returns a pass that copies its input.
func NewIdentity(ctx gpucore.Context) *Pass { return newPass(ctx, KindIdentity) }

// NewExternal returns the capture input pass. SetTransform must be called
// with the frame's sample transform before Apply.
func NewExternal(ctx gpucore.Context) *Pass { return newPass(ctx, KindExternal) }

// NewRotate returns a pass that rotates, flips and crops through its
// texture coordinates.
func NewRotate(ctx gpucore.Context) *Pass { return newPass(ctx, KindRotate) }

// NewColorMatrix returns a pass applying m.
func NewColorMatrix(ctx gpucore.Context, m ColorMatrix) *Pass {
	p := newPass(ctx, KindColorMatrix)
	p.uniforms.ColorMatrix = m
	return p
}

// NewMirror returns a pass mirroring the left and bottom halves.
func NewMirror(ctx gpucore.Context) *Pass { return newPass(ctx, KindMirror) }

// NewPIP returns a picture-in-picture pass drawing the secondary input
// into rect, given as left, bottom, right, top in [0, 1].
func NewPIP(ctx gpucore.Context, rect [4]float32) *Pass {
	p := newPass(ctx, KindPIP)
	p.SetRect(rect)
	return p
}

// NewMix returns a pass blending overlay over its input. A nil overlay
// makes the pass a copy.
func NewMix(ctx gpucore.Context, overlay *Overlay) *Pass {
	p := newPass(ctx, KindMix)
	p.overlay = overlay
	return p
}

// NewDisplay returns the terminal pass drawing into the display surface.
func NewDisplay(ctx gpucore.Context) *Pass { return newPass(ctx, KindDisplay) }

// NewDownload returns the pass that renders the composite upright into an
// offscreen target for pixel readback.
func NewDownload(ctx gpucore.Context) *Pass { return newPass(ctx, KindDownload) }

// Kind returns the variant tag.
func (p *Pass) Kind() Kind { return p.kind }

// Linked reports whether the program was built.
func (p *Pass) Linked() bool { return p.program != gpucore.InvalidID }

// LinkError returns the program creation error, if any.
func (p *Pass) LinkError() error { return p.linkErr }

// Output returns the configured output size.
func (p *Pass) Output() Size { return p.out }

// Target returns the owned offscreen target, or InvalidID.
func (p *Pass) Target() gpucore.TextureID { return p.target }

// Uniforms returns the current uniforms.
func (p *Pass) Uniforms() gpucore.Uniforms { return p.uniforms }

// SetTransform sets the sample transform of an external pass.
func (p *Pass) SetTransform(m [16]float32) { p.uniforms.Transform = m }

// SetColorMatrix replaces the matrix of a color matrix pass.
func (p *Pass) SetColorMatrix(m ColorMatrix) { p.uniforms.ColorMatrix = m }

// SetRect sets the picture-in-picture rectangle.
func (p *Pass) SetRect(rect [4]float32) {
	p.uniforms.Rect = rect
}

// SetSecondary sets the default secondary input.
func (p *Pass) SetSecondary(tex gpucore.TextureID) { p.secondary = tex }

func (p *Pass) offscreen() bool { return p.kind != KindDisplay }

// Configure sets the input and output sizes. Offscreen passes reallocate
// their target when the output size changes.
func (p *Pass) Configure(input, output Size) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if input.Empty() || output.Empty() {
		return fmt.Errorf("configure %s %v -> %v: %w", p.label, input, output, ErrInvalidSize)
	}
	if p.in == input && p.out == output && (!p.offscreen() || p.target != gpucore.InvalidID) {
		return nil
	}
	p.in, p.out = input, output

	if p.offscreen() && (p.target == gpucore.InvalidID || p.targetSz != output) {
		p.releaseTarget()
		id, err := p.ctx.CreateTexture(&gpucore.TextureDescriptor{
			Label:  p.label,
			Width:  output.Width,
			Height: output.Height,
			Format: gpucore.TextureFormatRGBA8Unorm,
		})
		if err != nil {
			return fmt.Errorf("configure %s: %w", p.label, err)
		}
		p.target, p.targetSz = id, output
	}

	switch p.kind {
	case KindPIP:
		p.uniforms.Border = float32(PixelBorder) / float32(output.Width)
	case KindMix:
		if p.overlay != nil {
			if err := p.overlay.Render(p.ctx, output); err != nil {
				logging.Logger().Warn("filter: overlay upload failed", "stage", p.label, "err", err)
			}
			p.secondary = p.overlay.Texture()
		}
	}
	logging.Logger().Debug("filter: stage configured", "stage", p.label, "input", input.String(), "output", output.String())
	return nil
}

// Apply draws the pass.
func (p *Pass) Apply(in Input) gpucore.TextureID {
	if p.destroyed || p.program == gpucore.InvalidID {
		return NoTexture
	}
	if p.offscreen() && p.target == gpucore.InvalidID {
		return NoTexture
	}
	quad := in.Quad
	if quad == (gpucore.Quad{}) {
		quad = FullQuad()
	}
	sec := in.Secondary
	if sec == gpucore.InvalidID {
		sec = p.secondary
	}
	call := gpucore.DrawCall{
		Label:     p.label,
		Program:   p.program,
		Input:     in.Texture,
		Secondary: sec,
		Target:    p.target,
		Viewport:  gpucore.Viewport{Width: p.out.Width, Height: p.out.Height},
		Quad:      quad,
		Uniforms:  p.uniforms,
		Clear:     true,
	}
	if err := p.ctx.Draw(&call); err != nil {
		logging.Logger().Warn("filter: draw failed", "stage", p.label, "err", err)
		return NoTexture
	}
	return p.target
}

func (p *Pass) releaseTarget() {
	if p.target != gpucore.InvalidID {
		p.ctx.DestroyTexture(p.target)
		p.target = gpucore.InvalidID
		p.targetSz = Size{}
	}
}

// Destroy releases the program, the target and the overlay texture.
func (p *Pass) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.releaseTarget()
	if p.overlay != nil {
		p.overlay.Release(p.ctx)
		p.secondary = gpucore.InvalidID
	}
	if p.program != gpucore.InvalidID {
		p.ctx.DestroyProgram(p.program)
		p.program = gpucore.InvalidID
	}
}
