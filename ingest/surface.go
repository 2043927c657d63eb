package ingest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

var (
	// ErrNotBound is returned when the surface has no external texture.
	ErrNotBound = errors.New("ingest: surface not bound")

	// ErrInvalidFrame is returned by Publish for a frame whose pixels do
	// not cover its size.
	ErrInvalidFrame = errors.New("ingest: invalid frame")
)

// FrameBuffer is a frame published by a capture source.
type FrameBuffer struct {
	// Pixels holds RGBA rows, top row first.
	Pixels []byte
	Width  int
	Height int

	// Stride is the byte length of a row. Zero means Width*4.
	Stride int

	// Transform is the sample transform. The zero value is the identity.
	Transform [16]float32

	Timestamp time.Duration
}

// Frame is a frame latched into the surface's external texture. It is
// referenced by handle and stays valid until the next Drain.
type Frame struct {
	filter.Frame

	// Generation increases by one for every latched frame over the life
	// of the surface, across rebinds. Zero means no frame was latched
	// since the last Bind.
	Generation uint64

	Timestamp time.Duration
}

// Stats reports mailbox counters.
type Stats struct {
	Published uint64
	Latched   uint64
	Dropped   uint64
}

type slot struct {
	pix       []byte
	width     int
	height    int
	transform [16]float32
	ts        time.Duration
}

// Surface is the capture-to-render hand-off point.
type Surface struct {
	// Guarded by mu; shared with the capture goroutine.
	mu      sync.Mutex
	pending int
	mailbox *slot
	spare   []byte
	redraw  func()

	// Render goroutine only.
	ctx  gpucore.Context
	tex  gpucore.TextureID
	size filter.Size
	last Frame
	gen  uint64

	published atomic.Uint64
	latched   atomic.Uint64
	dropped   atomic.Uint64
}

// NewSurface returns an unbound surface. redraw, if not nil, is called
// after every Publish from the capture goroutine.
func NewSurface(redraw func()) *Surface {
	return &Surface{redraw: redraw}
}

// SetRedraw replaces the redraw callback.
func (s *Surface) SetRedraw(fn func()) {
	s.mu.Lock()
	s.redraw = fn
	s.mu.Unlock()
}

// Bind creates the external texture on ctx. It must run on the goroutine
// owning ctx. A bound surface is rebound.
func (s *Surface) Bind(ctx gpucore.Context, width, height int) error {
	if s.ctx != nil {
		s.Unbind()
	}
	tex, err := ctx.CreateTexture(&gpucore.TextureDescriptor{
		Label:    "external",
		Width:    width,
		Height:   height,
		Format:   gpucore.TextureFormatRGBA8Unorm,
		External: true,
	})
	if err != nil {
		return fmt.Errorf("bind surface %dx%d: %w", width, height, err)
	}
	s.ctx, s.tex = ctx, tex
	s.size = filter.Size{Width: width, Height: height}
	s.last = Frame{}
	logging.Logger().Debug("ingest: surface bound", "width", width, "height", height)
	return nil
}

// Bound reports whether the surface has an external texture.
func (s *Surface) Bound() bool { return s.ctx != nil }

// Texture returns the external texture handle.
func (s *Surface) Texture() gpucore.TextureID { return s.tex }

// Unbind destroys the external texture. Pending frames are kept and
// latched after the next Bind.
func (s *Surface) Unbind() {
	if s.ctx == nil {
		return
	}
	s.ctx.DestroyTexture(s.tex)
	s.ctx, s.tex = nil, gpucore.InvalidID
	s.size = filter.Size{}
}

// Publish stores a copy of fb as the latest frame, overwriting a frame
// that was not drained yet, and requests a redraw. Safe for use from any
// goroutine.
func (s *Surface) Publish(fb FrameBuffer) error {
	stride := fb.Stride
	if stride == 0 {
		stride = fb.Width * 4
	}
	if fb.Width <= 0 || fb.Height <= 0 || stride < fb.Width*4 || len(fb.Pixels) < stride*(fb.Height-1)+fb.Width*4 {
		return fmt.Errorf("publish %dx%d stride %d with %d bytes: %w",
			fb.Width, fb.Height, stride, len(fb.Pixels), ErrInvalidFrame)
	}

	s.mu.Lock()
	buf := s.spare
	s.spare = nil
	s.mu.Unlock()

	row := fb.Width * 4
	n := row * fb.Height
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if stride == row {
		copy(buf, fb.Pixels[:n])
	} else {
		for y := range fb.Height {
			copy(buf[y*row:(y+1)*row], fb.Pixels[y*stride:])
		}
	}
	m := &slot{pix: buf, width: fb.Width, height: fb.Height, transform: fb.Transform, ts: fb.Timestamp}
	if m.transform == ([16]float32{}) {
		m.transform = gpucore.IdentityMatrix()
	}

	s.mu.Lock()
	if s.mailbox != nil {
		s.dropped.Add(1)
		s.spare = s.mailbox.pix
	}
	s.mailbox = m
	s.pending++
	redraw := s.redraw
	s.mu.Unlock()

	s.published.Add(1)
	if redraw != nil {
		redraw()
	}
	return nil
}

// Pending returns the number of frames published since the last Drain.
func (s *Surface) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Drain resets the pending counter and uploads the newest frame into the
// external texture. It returns the latched frame and true, or the last
// latched frame and false when nothing new was published. It must run on
// the goroutine owning the bound context.
func (s *Surface) Drain() (Frame, bool) {
	if s.ctx == nil {
		return Frame{}, false
	}
	s.mu.Lock()
	s.pending = 0
	m := s.mailbox
	s.mailbox = nil
	s.mu.Unlock()
	if m == nil {
		return s.last, false
	}

	if err := s.latch(m); err != nil {
		logging.Logger().Warn("ingest: latch frame", "err", err)
		s.dropped.Add(1)
		s.recycle(m.pix)
		return s.last, false
	}
	s.recycle(m.pix)
	s.latched.Add(1)
	s.gen++

	s.last = Frame{
		Frame: filter.Frame{
			Texture:   s.tex,
			Transform: m.transform,
			Width:     m.width,
			Height:    m.height,
		},
		Generation: s.gen,
		Timestamp:  m.ts,
	}
	return s.last, true
}

func (s *Surface) latch(m *slot) error {
	if size := (filter.Size{Width: m.width, Height: m.height}); size != s.size {
		if err := s.Bind(s.ctx, m.width, m.height); err != nil {
			return err
		}
	}
	return s.ctx.WriteTexture(s.tex, m.pix, m.width*4)
}

func (s *Surface) recycle(pix []byte) {
	s.mu.Lock()
	if s.spare == nil {
		s.spare = pix
	}
	s.mu.Unlock()
}

// Stats returns the mailbox counters.
func (s *Surface) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Latched:   s.latched.Load(),
		Dropped:   s.dropped.Load(),
	}
}
