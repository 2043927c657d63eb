package recording

import (
	"fmt"
	"time"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/gpucore"
)

const bytesPerPixel = 4

// ring is the two-buffer readback ring. Buffer i receives the current
// frame while buffer (i+1)%2, filled on the previous frame, is mapped.
type ring struct {
	ctx    gpucore.Context
	bufs   [2]gpucore.BufferID
	filled [2]bool
	stamp  [2]time.Duration
	size   filter.Size
	stride int
	i      int
}

func newRing(ctx gpucore.Context) *ring { return &ring{ctx: ctx} }

func (r *ring) allocated() bool { return r.bufs[0] != gpucore.InvalidID }

// alloc releases the buffers and allocates new ones for size. The stride
// uses the same alignment as the readback.
func (r *ring) alloc(size filter.Size) error {
	r.release()
	stride := gpucore.AlignedRowBytes(size.Width, bytesPerPixel, r.ctx.RowAlignment())
	for i := range r.bufs {
		id, err := r.ctx.CreateReadbackBuffer(stride * size.Height)
		if err != nil {
			r.release()
			return fmt.Errorf("recording: allocate ring buffer %d: %w", i, err)
		}
		r.bufs[i] = id
	}
	r.size, r.stride = size, stride
	return nil
}

// release destroys the buffers. Stale content is discarded with them.
func (r *ring) release() {
	for i, id := range r.bufs {
		if id != gpucore.InvalidID {
			r.ctx.DestroyBuffer(id)
		}
		r.bufs[i] = gpucore.InvalidID
		r.filled[i] = false
	}
	r.size, r.stride, r.i = filter.Size{}, 0, 0
}

// advance starts the readback of tex into the next buffer and maps the
// previous one. It returns ok false when the previous buffer holds no
// frame. The mapping stays valid until unmap.
func (r *ring) advance(tex gpucore.TextureID, ts time.Duration) (data []byte, prevTS time.Duration, ok bool, err error) {
	r.i = (r.i + 1) % 2
	cur, prev := r.i, (r.i+1)%2

	layout := gpucore.ReadbackLayout{Width: r.size.Width, Height: r.size.Height, BytesPerRow: r.stride}
	if err := r.ctx.ReadPixelsAsync(tex, r.bufs[cur], layout); err != nil {
		r.filled[cur] = false
		return nil, 0, false, fmt.Errorf("recording: read pixels: %w", err)
	}
	r.filled[cur], r.stamp[cur] = true, ts

	if !r.filled[prev] {
		return nil, 0, false, nil
	}
	data, err = r.ctx.MapRead(r.bufs[prev])
	if err != nil {
		return nil, 0, false, fmt.Errorf("recording: map: %w", err)
	}
	r.filled[prev] = false
	return data, r.stamp[prev], true, nil
}

// unmap releases the mapping returned by the last advance.
func (r *ring) unmap() {
	r.ctx.Unmap(r.bufs[(r.i+1)%2])
}
