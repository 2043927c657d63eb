package filter

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/camrec/backend/software"
	"github.com/gogpu/camrec/gpucore"
)

// rows returns w*h RGBA pixels where every pixel of row y is (y*10, 0, 0, 255).
func rows(w, h int) []byte {
	pix := make([]byte, w*h*4)
	for y := range h {
		for x := range w {
			off := (y*w + x) * 4
			pix[off], pix[off+3] = byte(y*10), 255
		}
	}
	return pix
}

func newFrame(t *testing.T, ctx *software.Context, w, h int) Frame {
	t.Helper()
	id, err := ctx.CreateTexture(&gpucore.TextureDescriptor{Label: "frame", Width: w, Height: h, External: true})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	if err := ctx.WriteTexture(id, rows(w, h), w*4); err != nil {
		t.Fatalf("WriteTexture failed: %v", err)
	}
	return Frame{Texture: id, Transform: gpucore.IdentityMatrix(), Width: w, Height: h}
}

func newTestGraph(t *testing.T, ctx *software.Context, w, h int) *Graph {
	t.Helper()
	if err := ctx.ResizeDisplay(w, h); err != nil {
		t.Fatalf("ResizeDisplay failed: %v", err)
	}
	g := NewGraph(ctx)
	if err := g.SetGeometry(Geometry{Input: Size{w, h}, Output: Size{w, h}}); err != nil {
		t.Fatalf("SetGeometry failed: %v", err)
	}
	return g
}

func texel(t *testing.T, ctx *software.Context, id gpucore.TextureID, x, y int) [4]byte {
	t.Helper()
	pix, w, _, err := ctx.TexturePixels(id)
	if err != nil {
		t.Fatalf("TexturePixels(%d) failed: %v", id, err)
	}
	off := (y*w + x) * 4
	return [4]byte{pix[off], pix[off+1], pix[off+2], pix[off+3]}
}

func TestGraphRunStoresCompositeBottomUp(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	g := newTestGraph(t, ctx, 4, 4)
	defer g.Destroy()
	f := newFrame(t, ctx, 4, 4)

	out := g.Run(f, gpucore.InvalidID)
	if out == NoTexture || out == f.Texture {
		t.Fatalf("Run() = %d, want the rotate target", out)
	}
	// Frame row 0 is the top of the image; rendered textures keep the
	// bottom row first.
	if got := texel(t, ctx, out, 0, 0); got[0] != 30 {
		t.Errorf("composite row 0 = %v, want frame row 3", got)
	}
	if got := texel(t, ctx, out, 0, 3); got[0] != 0 {
		t.Errorf("composite row 3 = %v, want frame row 0", got)
	}
	if n := ctx.Presented(); n != 0 {
		t.Errorf("Presented() = %d, want 0 before Present", n)
	}
}

func TestGraphUserFilterSwitch(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	g := newTestGraph(t, ctx, 2, 2)
	defer g.Destroy()
	f := newFrame(t, ctx, 2, 2)

	task := g.SetUserFilter(TypeInvert)
	if g.UserFilter() != TypeNone {
		t.Fatalf("user filter changed before the task ran")
	}
	before := texel(t, ctx, g.Run(f, gpucore.InvalidID), 0, 1)

	task()
	if g.UserFilter() != TypeInvert {
		t.Fatalf("UserFilter() = %v, want invert", g.UserFilter())
	}
	after := texel(t, ctx, g.Run(f, gpucore.InvalidID), 0, 1)
	if after[0] != 255-before[0] || after[3] != before[3] {
		t.Errorf("inverted = %v, want inverse of %v", after, before)
	}

	g.SetUserFilter(TypeNone)()
	if g.Stage(SlotUser) != nil {
		t.Errorf("user slot not emptied by TypeNone")
	}
}

func TestGraphSkipsUnlinkedStage(t *testing.T) {
	ctx := software.New(software.WithLinkFailure(gpucore.ProgramColorMatrix))
	defer ctx.Destroy()
	g := newTestGraph(t, ctx, 2, 2)
	defer g.Destroy()
	f := newFrame(t, ctx, 2, 2)

	plain := texel(t, ctx, g.Run(f, gpucore.InvalidID), 0, 0)
	g.SetUserFilter(TypeSepia)()
	st, ok := g.Stage(SlotUser).(*Pass)
	if !ok || st.Linked() {
		t.Fatalf("user stage = %v, want an unlinked pass", g.Stage(SlotUser))
	}
	if got := st.Apply(Input{Texture: f.Texture}); got != NoTexture {
		t.Errorf("Apply() = %d, want NoTexture", got)
	}
	if got := texel(t, ctx, g.Run(f, gpucore.InvalidID), 0, 0); got != plain {
		t.Errorf("composite = %v, want passthrough %v", got, plain)
	}
}

func TestGraphPIP(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	g := newTestGraph(t, ctx, 32, 32)
	defer g.Destroy()
	f := newFrame(t, ctx, 32, 32)

	sec, err := ctx.CreateTexture(&gpucore.TextureDescriptor{Width: 1, Height: 1})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	if err := ctx.WriteTexture(sec, []byte{0, 0, 200, 255}, 4); err != nil {
		t.Fatalf("WriteTexture failed: %v", err)
	}
	if err := g.SetPIP([4]float32{0.5, 0.5, 1, 1}); err != nil {
		t.Fatalf("SetPIP failed: %v", err)
	}

	out := g.Run(f, sec)
	if got := texel(t, ctx, out, 28, 28); got != [4]byte{0, 0, 200, 255} {
		t.Errorf("inside pixel = %v, want secondary", got)
	}
	if got := texel(t, ctx, out, 0, 0); got[2] != 0 {
		t.Errorf("outside pixel = %v, want primary", got)
	}

	// Without a secondary the PiP stage does not run.
	out = g.Run(f, gpucore.InvalidID)
	if got := texel(t, ctx, out, 28, 28); got[2] != 0 {
		t.Errorf("pixel without secondary = %v, want primary", got)
	}

	if err := g.SetPIP([4]float32{}); err != nil {
		t.Fatalf("SetPIP(empty) failed: %v", err)
	}
	if g.Stage(SlotPIP) != nil {
		t.Error("PiP slot not emptied")
	}
	ctx.DestroyTexture(sec)
}

func TestGraphOverlay(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	g := newTestGraph(t, ctx, 4, 4)
	defer g.Destroy()
	f := newFrame(t, ctx, 4, 4)

	logo := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := range logo.Pix {
		logo.Pix[i] = 255
	}
	if err := g.SetOverlay(NewOverlay(logo, image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("SetOverlay failed: %v", err)
	}
	out := g.Run(f, gpucore.InvalidID)
	// Top-left of the image is the last texture row.
	if got := texel(t, ctx, out, 0, 3); got[1] < 250 {
		t.Errorf("overlay pixel = %v, want white", got)
	}
	if got := texel(t, ctx, out, 3, 0); got[1] != 0 {
		t.Errorf("uncovered pixel = %v, want frame", got)
	}
}

func TestGraphGeometry(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	g := NewGraph(ctx)
	defer g.Destroy()

	if got := g.Run(Frame{}, gpucore.InvalidID); got != NoTexture {
		t.Errorf("Run before geometry = %d, want NoTexture", got)
	}
	if err := g.SetGeometry(Geometry{Input: Size{0, 480}, Output: Size{640, 480}}); err == nil {
		t.Error("SetGeometry with empty input should fail")
	}

	err := g.SetGeometry(Geometry{
		Input:    Size{960, 540},
		Output:   Size{543, 959},
		Rotation: Rotation90,
		FlipH:    true,
	})
	if err != nil {
		t.Fatalf("SetGeometry failed: %v", err)
	}
	if got := g.Geometry().Output; got != (Size{544, 960}) {
		t.Errorf("output = %v, want 544x960", got)
	}
	// The horizontal flip refers to the sensor and applies vertically
	// after a quarter turn.
	want := ScaleCoords(Size{960, 540}, Size{544, 960}, Rotation90, false, true)
	if got := g.TexCoords(); got != want {
		t.Errorf("TexCoords = %v, want %v", got, want)
	}
	rot := g.Stage(SlotRotate)
	if rot.Output() != (Size{544, 960}) {
		t.Errorf("rotate output = %v", rot.Output())
	}
	if src := g.Stage(SlotCapture); src.Output() != (Size{960, 540}) {
		t.Errorf("capture output = %v", src.Output())
	}
}

func TestGraphDestroyReleasesEverything(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	g := newTestGraph(t, ctx, 4, 4)
	f := newFrame(t, ctx, 4, 4)

	g.SetUserFilter(TypeBeauty)()
	if err := g.SetPIP([4]float32{0, 0, 0.5, 0.5}); err != nil {
		t.Fatal(err)
	}
	logo := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	logo.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	if err := g.SetOverlay(NewOverlay(logo, image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	g.Run(f, f.Texture)
	g.Destroy()
	ctx.DestroyTexture(f.Texture)

	if st := ctx.Stats(); st.Live() {
		t.Errorf("Stats after Destroy = %+v, want no live objects", st)
	}
}

func TestReservedSlotsRejectStages(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	g := newTestGraph(t, ctx, 4, 4)
	defer g.Destroy()

	for _, slot := range []Slot{SlotDecoder, SlotDecoderPIP} {
		if !slot.Reserved() {
			t.Errorf("%s.Reserved() = false", slot)
		}
		st := NewIdentity(ctx)
		if err := g.SetStage(slot, st); !errors.Is(err, ErrReservedSlot) {
			t.Errorf("SetStage(%s) error = %v, want ErrReservedSlot", slot, err)
		}
		if g.Stage(slot) != nil {
			t.Errorf("Stage(%s) = %v, want nil", slot, g.Stage(slot))
		}
		st.Destroy()
	}
	for _, slot := range []Slot{SlotCapture, SlotRotate, SlotPIP, SlotUser, SlotMix, SlotDisplay, SlotDownload} {
		if slot.Reserved() {
			t.Errorf("%s.Reserved() = true", slot)
		}
	}
	if err := g.SetStage(SlotUser, NewIdentity(ctx)); err != nil {
		t.Errorf("SetStage(user) failed: %v", err)
	}
}

func TestApplyZeroQuadKeepsOrientation(t *testing.T) {
	ctx := software.New()
	defer ctx.Destroy()
	src := newFrame(t, ctx, 2, 4)
	p := NewIdentity(ctx)
	defer p.Destroy()
	if err := p.Configure(Size{2, 4}, Size{2, 4}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	out := p.Apply(Input{Texture: src.Texture})
	if out == NoTexture {
		t.Fatal("Apply returned NoTexture")
	}
	for y := range 4 {
		if got := texel(t, ctx, out, 0, y); got != texel(t, ctx, src.Texture, 0, y) {
			t.Errorf("row %d = %v, want the input row", y, got)
		}
	}
}
