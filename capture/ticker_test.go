package capture

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/ingest"
)

const waitTimeout = 5 * time.Second

func TestSyntheticPublishes(t *testing.T) {
	surf := ingest.NewSurface(nil)
	src := NewSynthetic(WithSize(16, 8), WithFPS(200), WithOrientation(filter.Rotation90), WithFacing(FacingFront))
	assert.Equal(t, filter.Size{Width: 16, Height: 8}, src.Size())
	assert.Equal(t, filter.Rotation90, src.Orientation())
	assert.Equal(t, FacingFront, src.Facing())

	idle := src.ID()
	require.NoError(t, src.Start(context.Background(), surf))
	assert.NotEqual(t, idle, src.ID(), "new session on start")
	assert.ErrorIs(t, src.Start(context.Background(), surf), ErrRunning)

	require.Eventually(t, func() bool { return surf.Stats().Published >= 5 }, waitTimeout, time.Millisecond)
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())

	select {
	case <-src.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.NoError(t, src.Err())
	n := surf.Stats().Published
	assert.Equal(t, n, src.Frames())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, surf.Stats().Published, "no frames after Stop")

	require.NoError(t, src.Start(context.Background(), surf), "restart after Stop")
	require.NoError(t, src.Stop())
}

func TestSyntheticStopsWithContext(t *testing.T) {
	surf := ingest.NewSurface(nil)
	src := NewSynthetic(WithSize(4, 4), WithFPS(100))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Start(ctx, surf))
	cancel()

	select {
	case <-src.Done():
	case <-time.After(waitTimeout):
		t.Fatal("source still running after cancel")
	}
	assert.NoError(t, src.Err())
	assert.False(t, src.Running())
	require.NoError(t, src.Stop())
}

func TestRenderBars(t *testing.T) {
	const w, h = 8, 2
	pix := make([]byte, w*h*4)

	renderBars(0, pix, w, h)
	for x := range w {
		c := bars[x]
		assert.Equal(t, []byte{c.R, c.G, c.B, c.A}, pix[x*4:x*4+4], "column %d", x)
		assert.Equal(t, pix[x*4:x*4+4], pix[(w+x)*4:(w+x)*4+4], "rows are identical")
	}

	renderBars(3, pix, w, h)
	assert.Equal(t, []byte{bars[3].R, bars[3].G, bars[3].B, 255}, pix[:4], "scrolled by the frame number")
}

func TestImageSource(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 200, 255
	}
	src := NewImage(img, WithSize(6, 4), WithFPS(100))

	pix := make([]byte, 6*4*4)
	src.render(7, pix, 6, 4)
	got := pix[len(pix)-4:]
	assert.Equal(t, color.NRGBA{200, 0, 0, 255}, color.NRGBA{got[0], got[1], got[2], got[3]})

	surf := ingest.NewSurface(nil)
	require.NoError(t, src.Start(context.Background(), surf))
	require.Eventually(t, func() bool { return surf.Stats().Published > 0 }, waitTimeout, time.Millisecond)
	require.NoError(t, src.Stop())
}

func TestFacingString(t *testing.T) {
	assert.Equal(t, "front", FacingFront.String())
	assert.Equal(t, "Facing(9)", Facing(9).String())
}
