package filter

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/camrec/gpucore"
)

// Overlay is a bitmap (logo, watermark) placed over the frame by a mix
// pass. The bitmap is scaled into its rectangle and uploaded as a
// frame-sized texture whenever the output size changes.
type Overlay struct {
	img  image.Image
	rect image.Rectangle
	tex  gpucore.TextureID
	size Size
}

// NewOverlay returns an overlay drawing img into rect, in output pixels
// with the origin at the top-left. An empty rect covers the whole frame.
func NewOverlay(img image.Image, rect image.Rectangle) *Overlay {
	return &Overlay{img: img, rect: rect}
}

// Texture returns the uploaded texture, or InvalidID before Render.
func (o *Overlay) Texture() gpucore.TextureID { return o.tex }

// Rasterize scales the bitmap into a transparent frame of the given size.
func (o *Overlay) Rasterize(frame Size) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	if o.img == nil {
		return dst
	}
	r := o.rect
	if r.Empty() {
		r = dst.Bounds()
	}
	draw.CatmullRom.Scale(dst, r, o.img, o.img.Bounds(), draw.Over, nil)
	return dst
}

// Render rasterizes the overlay at frame size and uploads it. Rows are
// uploaded bottom-up to match rendered textures.
func (o *Overlay) Render(ctx gpucore.Context, frame Size) error {
	if frame.Empty() {
		return fmt.Errorf("overlay %v: %w", frame, ErrInvalidSize)
	}
	if o.tex != gpucore.InvalidID && o.size == frame {
		return nil
	}
	o.Release(ctx)

	tex, err := ctx.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "overlay",
		Width:  frame.Width,
		Height: frame.Height,
		Format: gpucore.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		return fmt.Errorf("overlay texture: %w", err)
	}
	img := o.Rasterize(frame)
	stride := frame.Width * 4
	pix := make([]byte, stride*frame.Height)
	for y := range frame.Height {
		copy(pix[(frame.Height-1-y)*stride:], img.Pix[y*img.Stride:y*img.Stride+stride])
	}
	if err := ctx.WriteTexture(tex, pix, stride); err != nil {
		ctx.DestroyTexture(tex)
		return fmt.Errorf("overlay upload: %w", err)
	}
	o.tex, o.size = tex, frame
	return nil
}

// Release destroys the uploaded texture.
func (o *Overlay) Release(ctx gpucore.Context) {
	if o.tex != gpucore.InvalidID {
		ctx.DestroyTexture(o.tex)
		o.tex = gpucore.InvalidID
		o.size = Size{}
	}
}
