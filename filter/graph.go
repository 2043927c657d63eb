package filter

import (
	"fmt"

	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

// Slot indexes the graph's stage table. Indices are stable and never
// reused for a different purpose.
type Slot int

// Graph slots. SlotDecoder and SlotDecoderPIP are reserved for decoded
// video inputs; they keep their indices but cannot hold a stage.
const (
	SlotCapture Slot = iota
	SlotRotate
	SlotDecoder
	SlotPIP
	SlotUser
	SlotDecoderPIP
	SlotMix
	SlotDisplay
	SlotDownload
	NumSlots
)

var slotNames = [NumSlots]string{
	"capture", "rotate", "decoder", "pip", "user", "decoder_pip", "mix", "display", "download",
}

// Reserved reports whether the slot is kept for numbering only.
func (s Slot) Reserved() bool { return s == SlotDecoder || s == SlotDecoderPIP }

// String returns the slot name.
func (s Slot) String() string {
	if s >= 0 && s < NumSlots {
		return slotNames[s]
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

// Geometry describes the capture frame and how it maps to the output.
type Geometry struct {
	Input    Size
	Output   Size
	Rotation Rotation
	FlipH    bool
	FlipV    bool
}

// Frame is a capture frame handed to the graph.
type Frame struct {
	Texture   gpucore.TextureID
	Transform [16]float32
	Width     int
	Height    int
}

// Graph is the fixed slot table of stages. An empty slot is a passthrough.
//
// Run order: capture, rotate, PiP, user, mix, display. SlotDownload is run by the recording bridge on its shared
// context and is skipped by Run.
type Graph struct {
	ctx   gpucore.Context
	slots [NumSlots]Stage
	geo   Geometry
	quad  gpucore.Quad
	user  Type
}

// NewGraph creates a graph with the capture, rotate and display stages.
func NewGraph(ctx gpucore.Context) *Graph {
	g := &Graph{ctx: ctx, user: TypeNone, quad: FullQuad()}
	g.slots[SlotCapture] = NewExternal(ctx)
	g.slots[SlotRotate] = NewRotate(ctx)
	g.slots[SlotDisplay] = NewDisplay(ctx)
	return g
}

// Context returns the context the graph draws with.
func (g *Graph) Context() gpucore.Context { return g.ctx }

// Stage returns the stage in a slot, or nil.
func (g *Graph) Stage(slot Slot) Stage {
	if slot < 0 || slot >= NumSlots {
		return nil
	}
	return g.slots[slot]
}

// Geometry returns the current geometry with the output aligned.
func (g *Graph) Geometry() Geometry { return g.geo }

// TexCoords returns the rotate stage texture coordinates.
func (g *Graph) TexCoords() [8]float32 { return g.quad.TexCoords }

// UserFilter returns the type of the installed user filter.
func (g *Graph) UserFilter() Type { return g.user }

// SetStage installs a stage, destroying the previous one. A nil stage
// empties the slot. The stage is configured to the current geometry.
func (g *Graph) SetStage(slot Slot, st Stage) error {
	if slot < 0 || slot >= NumSlots {
		return fmt.Errorf("filter: slot %d out of range", int(slot))
	}
	if slot.Reserved() {
		return fmt.Errorf("filter: set %s: %w", slot, ErrReservedSlot)
	}
	if old := g.slots[slot]; old != nil && old != st {
		old.Destroy()
	}
	g.slots[slot] = st
	if st == nil || g.geo.Output.Empty() {
		return nil
	}
	in, out := g.slotSizes(slot)
	return st.Configure(in, out)
}

// SetUserFilter returns a task that replaces the user filter. The task
// must run on the goroutine owning the context, between draws.
func (g *Graph) SetUserFilter(t Type) func() {
	return func() {
		var st Stage
		if t != TypeNone {
			st = New(g.ctx, t)
		}
		if err := g.SetStage(SlotUser, st); err != nil {
			logging.Logger().Warn("filter: configure user filter", "type", t.String(), "err", err)
		}
		g.user = t
		logging.Logger().Debug("filter: user filter set", "type", t.String())
	}
}

// SetPIP installs a picture-in-picture stage drawing the secondary input
// into rect, or removes it when rect is empty.
func (g *Graph) SetPIP(rect [4]float32) error {
	if rect[2] <= rect[0] || rect[3] <= rect[1] {
		return g.SetStage(SlotPIP, nil)
	}
	if p, ok := g.slots[SlotPIP].(*Pass); ok {
		p.SetRect(rect)
		return nil
	}
	return g.SetStage(SlotPIP, NewPIP(g.ctx, rect))
}

// SetOverlay installs a mix stage blending o over the frame, or removes
// it when o is nil.
func (g *Graph) SetOverlay(o *Overlay) error {
	if o == nil {
		return g.SetStage(SlotMix, nil)
	}
	return g.SetStage(SlotMix, NewMix(g.ctx, o))
}

// SetGeometry aligns the output to even dimensions, recomputes the rotate
// texture coordinates and reconfigures every stage. For 90 and 270 degree
// rotations the flips are swapped, since they refer to the sensor axes.
func (g *Graph) SetGeometry(geo Geometry) error {
	geo.Output = Size{Width: Align(geo.Output.Width, 2), Height: Align(geo.Output.Height, 2)}
	if geo.Input.Empty() || geo.Output.Empty() {
		return fmt.Errorf("graph geometry %v -> %v: %w", geo.Input, geo.Output, ErrInvalidSize)
	}
	g.geo = geo

	fh, fv := geo.FlipH, geo.FlipV
	if geo.Rotation.Transposed() {
		fh, fv = fv, fh
	}
	g.quad = gpucore.Quad{
		Positions: Cube,
		TexCoords: ScaleCoords(geo.Input, geo.Output, geo.Rotation, fh, fv),
	}

	for slot, st := range g.slots {
		if st == nil {
			continue
		}
		in, out := g.slotSizes(Slot(slot))
		if err := st.Configure(in, out); err != nil {
			return fmt.Errorf("configure %s: %w", Slot(slot), err)
		}
	}
	logging.Logger().Debug("filter: graph geometry",
		"input", geo.Input.String(), "output", geo.Output.String(), "rotation", int(geo.Rotation))
	return nil
}

func (g *Graph) slotSizes(slot Slot) (in, out Size) {
	switch slot {
	case SlotCapture:
		return g.geo.Input, g.geo.Input
	case SlotRotate:
		return g.geo.Input, g.geo.Output
	default:
		return g.geo.Output, g.geo.Output
	}
}

// Run draws one frame through the graph and returns the composite texture
// that was drawn to the display. Stages that do not run are skipped.
// A frame whose size differs from the geometry input reconfigures the
// graph first.
func (g *Graph) Run(f Frame, secondary gpucore.TextureID) gpucore.TextureID {
	if fs := (Size{Width: f.Width, Height: f.Height}); !fs.Empty() && fs != g.geo.Input && !g.geo.Output.Empty() {
		geo := g.geo
		geo.Input = fs
		if err := g.SetGeometry(geo); err != nil {
			logging.Logger().Warn("filter: reconfigure for frame size", "err", err)
		}
	}
	if g.geo.Output.Empty() {
		return NoTexture
	}

	src := g.slots[SlotCapture]
	if ext, ok := src.(interface{ SetTransform([16]float32) }); ok {
		ext.SetTransform(f.Transform)
	}

	tex := f.Texture
	tex = apply(src, Input{Texture: tex}, tex)
	tex = apply(g.slots[SlotRotate], Input{Texture: tex, Quad: g.quad}, tex)

	if secondary != gpucore.InvalidID {
		tex = apply(g.slots[SlotPIP], Input{Texture: tex, Secondary: secondary}, tex)
	}
	tex = apply(g.slots[SlotUser], Input{Texture: tex}, tex)
	tex = apply(g.slots[SlotMix], Input{Texture: tex}, tex)

	if d := g.slots[SlotDisplay]; d != nil {
		d.Apply(Input{Texture: tex})
	}
	return tex
}

func apply(st Stage, in Input, fallback gpucore.TextureID) gpucore.TextureID {
	if st == nil {
		return fallback
	}
	out := st.Apply(in)
	if out == NoTexture || out == gpucore.InvalidID {
		return fallback
	}
	return out
}

// Destroy releases every stage.
func (g *Graph) Destroy() {
	for i, st := range g.slots {
		if st != nil {
			st.Destroy()
			g.slots[i] = nil
		}
	}
}
