package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/camrec/backend/software"
	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/gpucore"
)

func fill(t *testing.T, ctx gpucore.Context, tex gpucore.TextureID, w, h int, v byte) {
	t.Helper()
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = v
	}
	require.NoError(t, ctx.WriteTexture(tex, pix, w*4))
}

func TestRingMapsPreviousFrame(t *testing.T) {
	ctx := software.New(software.WithRowAlignment(16))
	defer ctx.Destroy()
	tex, err := ctx.CreateTexture(&gpucore.TextureDescriptor{Width: 3, Height: 2, Format: gpucore.TextureFormatRGBA8Unorm})
	require.NoError(t, err)

	r := newRing(ctx)
	require.NoError(t, r.alloc(filter.Size{Width: 3, Height: 2}))
	assert.Equal(t, 16, r.stride)

	fill(t, ctx, tex, 3, 2, 1)
	_, _, ok, err := r.advance(tex, 10)
	require.NoError(t, err)
	assert.False(t, ok, "first frame has nothing to map")

	// The buffer just filled is still in flight.
	_, err = ctx.MapRead(r.bufs[r.i])
	assert.ErrorIs(t, err, gpucore.ErrReadbackPending)

	for k := range 3 {
		fill(t, ctx, tex, 3, 2, byte(k+2))
		data, ts, ok, err := r.advance(tex, 20)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, byte(k+1), data[0], "mapped buffer holds the previous frame")
		assert.Equal(t, byte(k+1), data[16], "second row starts at the aligned stride")
		if k == 0 {
			assert.EqualValues(t, 10, ts)
		}
		r.unmap()
	}

	r.release()
	assert.False(t, r.allocated())
	assert.Zero(t, ctx.Stats().Buffers)
}

func TestRingAllocationFailure(t *testing.T) {
	calls := 0
	ctx := software.New(software.WithBufferFailure(func(int) error {
		calls++
		if calls == 2 {
			return gpucore.ErrInvalidSize
		}
		return nil
	}))
	defer ctx.Destroy()

	r := newRing(ctx)
	err := r.alloc(filter.Size{Width: 2, Height: 2})
	assert.ErrorIs(t, err, gpucore.ErrInvalidSize)
	assert.False(t, r.allocated())
	assert.Zero(t, ctx.Stats().Buffers, "partial allocation released")
}
