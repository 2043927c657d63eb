package recording

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/camrec/encoder"
	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/render"
)

var (
	// ErrNotRunning is returned by Stop when the bridge is not running.
	ErrNotRunning = errors.New("recording: bridge not running")

	// ErrRunning is returned by Start when the bridge is already running.
	ErrRunning = errors.New("recording: bridge already running")
)

// Stats are the bridge counters since NewBridge.
type Stats struct {
	// Ticks is the number of frames picked up.
	Ticks uint64
	// Skipped counts frames that produced no encoder buffer: the first
	// frame of a ring and frames lost to GPU errors.
	Skipped uint64
	// Forwarded counts buffers accepted by the encoder.
	Forwarded uint64
	// Dropped counts frames replaced before pickup and buffers the
	// encoder rejected.
	Dropped uint64
	// Reallocations counts ring reallocations after the first one.
	Reallocations uint64
}

type handoff struct {
	tex     gpucore.TextureID
	size    filter.Size
	ts      time.Duration
	release func()
}

// done hands the snapshot back to the render goroutine.
func (h *handoff) done() {
	if h.release != nil {
		h.release()
	}
}

// Bridge downloads composited frames into an encoder.
type Bridge struct {
	enc  encoder.Service
	opts options

	mu      sync.Mutex
	running bool
	pending *handoff
	session string
	start   time.Time
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}

	ticks, skipped, forwarded, dropped, reallocs atomic.Uint64
}

var _ render.Downloader = (*Bridge)(nil)

// NewBridge returns a bridge feeding enc.
func NewBridge(enc encoder.Service, opts ...Option) *Bridge {
	b := &Bridge{enc: enc}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// Start takes ownership of shared and starts the download goroutine with
// a download stage sized to size. It returns once the stage is ready.
func (b *Bridge) Start(ctx context.Context, shared gpucore.Context, size filter.Size) error {
	if size.Empty() {
		return fmt.Errorf("recording: start %v: %w", size, filter.ErrInvalidSize)
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrRunning
	}
	b.running = true
	b.pending = nil
	b.session = uuid.New().String()
	b.start = time.Now()
	b.wake = make(chan struct{}, 1)
	b.quit = make(chan struct{})
	b.done = make(chan struct{})
	quit, done, wake := b.quit, b.done, b.wake
	b.mu.Unlock()

	ready := make(chan error, 1)
	go b.loop(shared, size, ready, wake, quit, done)

	var err error
	select {
	case err = <-ready:
	case <-ctx.Done():
		err = ctx.Err()
		close(quit)
		<-done
	}
	if err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return err
	}
	b.opts.log().Info("recording: bridge started", "session", b.Session(), "width", size.Width, "height", size.Height)
	return nil
}

// Session returns the ID of the current or last run.
func (b *Bridge) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// FrameAvailable hands over a snapshot of the composite of a drawn frame.
// It never blocks; an earlier frame not yet picked up is dropped. release
// is called once the snapshot is no longer read.
func (b *Bridge) FrameAvailable(tex gpucore.TextureID, size filter.Size, release func()) {
	h := &handoff{tex: tex, size: size, release: release}
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		h.done()
		return
	}
	if b.pending != nil {
		b.pending.done()
		b.dropped.Add(1)
	}
	h.ts = time.Since(b.start)
	b.pending = h
	wake := b.wake
	b.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
}

// Stop disables the download and waits for the goroutine to release its
// stage, its ring and the shared context. Frames not yet picked up are
// discarded.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.running = false
	if b.pending != nil {
		b.pending.done()
		b.pending = nil
	}
	quit, done := b.quit, b.done
	b.mu.Unlock()

	close(quit)
	<-done
	b.opts.log().Info("recording: bridge stopped", "session", b.Session(), "stats", b.Stats())
	return nil
}

// Running reports whether the bridge is started.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Ticks:         b.ticks.Load(),
		Skipped:       b.skipped.Load(),
		Forwarded:     b.forwarded.Load(),
		Dropped:       b.dropped.Load(),
		Reallocations: b.reallocs.Load(),
	}
}

func (b *Bridge) take() *handoff {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.pending
	b.pending = nil
	return h
}

func (b *Bridge) loop(shared gpucore.Context, size filter.Size, ready chan<- error, wake, quit, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)
	defer shared.Destroy()

	pass := filter.NewDownload(shared)
	defer pass.Destroy()
	if err := pass.Configure(size, size); err != nil {
		ready <- fmt.Errorf("recording: configure download: %w", err)
		return
	}
	if !pass.Linked() {
		ready <- fmt.Errorf("recording: download stage: %w", pass.LinkError())
		return
	}
	r := newRing(shared)
	defer r.release()
	ready <- nil

	allocs := 0
	for {
		select {
		case <-quit:
			return
		case <-wake:
		}
		h := b.take()
		if h == nil {
			continue
		}
		b.ticks.Add(1)
		b.process(pass, r, h, &allocs)
		h.done()
	}
}

// process sizes the download stage and the ring for h and downloads it.
func (b *Bridge) process(pass *filter.Pass, r *ring, h *handoff, allocs *int) {
	if h.size != r.size || !r.allocated() {
		if err := pass.Configure(h.size, h.size); err != nil {
			b.opts.log().Warn("recording: configure download", "err", err)
			b.skipped.Add(1)
			return
		}
		if err := r.alloc(h.size); err != nil {
			b.opts.log().Warn("recording: allocate ring", "err", err)
			b.skipped.Add(1)
			return
		}
		if *allocs++; *allocs > 1 {
			b.reallocs.Add(1)
		}
		b.opts.log().Debug("recording: ring allocated",
			"width", h.size.Width, "height", h.size.Height, "stride", r.stride)
	}
	b.download(pass, r, h)
}

// download draws the composite top row first into the download target
// and forwards the frame read back on the previous call.
func (b *Bridge) download(pass *filter.Pass, r *ring, h *handoff) {
	out := pass.Apply(filter.Input{
		Texture: h.tex,
		Quad:    gpucore.Quad{Positions: filter.Cube, TexCoords: filter.NoRotation},
	})
	if out == filter.NoTexture {
		b.skipped.Add(1)
		return
	}
	data, ts, ok, err := r.advance(out, h.ts)
	if err != nil {
		b.opts.log().Warn("recording: readback", "err", err)
		r.release()
		b.skipped.Add(1)
		return
	}
	if !ok {
		b.skipped.Add(1)
		return
	}
	defer r.unmap()

	buf := encoder.Buffer{
		Data:        data,
		Width:       r.size.Width,
		Height:      r.size.Height,
		PixelStride: bytesPerPixel,
		RowPadding:  r.stride - r.size.Width*bytesPerPixel,
		Rotation:    b.opts.rotation,
		FlipH:       b.opts.flipH,
		FlipV:       b.opts.flipV,
		PTS:         ts,
	}
	if err := b.enc.Put(buf); err != nil {
		b.opts.log().Warn("recording: encoder rejected frame", "err", err)
		b.dropped.Add(1)
		return
	}
	b.forwarded.Add(1)
}
