package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/ingest"
)

// Ticker publishes generated frames at a fixed rate from its own
// goroutine.
type Ticker struct {
	*run
	opts   options
	name   string
	render func(n uint64, pix []byte, w, h int)

	mu   sync.Mutex
	id   string
	stop chan struct{}
	wg   sync.WaitGroup

	frames atomic.Uint64
}

var _ Source = (*Ticker)(nil)

func newTicker(name string, render func(n uint64, pix []byte, w, h int), opts []Option) *Ticker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Ticker{run: newRun(), opts: o, name: name, render: render, id: uuid.New().String()}
}

var bars = [...]color.NRGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{0, 0, 0, 255},
}

// NewSynthetic returns a source of color bars scrolling one column per
// frame.
func NewSynthetic(opts ...Option) *Ticker {
	return newTicker("synthetic", renderBars, opts)
}

func renderBars(n uint64, pix []byte, w, h int) {
	row := pix[:w*4]
	for x := range w {
		c := bars[((x+int(n%uint64(w)))*len(bars)/w)%len(bars)]
		row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = c.R, c.G, c.B, c.A
	}
	for y := 1; y < h; y++ {
		copy(pix[y*w*4:(y+1)*w*4], row)
	}
}

// NewImage returns a source publishing img scaled to the source size.
func NewImage(img image.Image, opts ...Option) *Ticker {
	t := newTicker("image", nil, opts)
	size := t.opts.size
	dst := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	t.render = func(_ uint64, pix []byte, _, _ int) { copy(pix, dst.Pix) }
	return t
}

// ID returns the capture session ID. A new one is assigned on Start.
func (t *Ticker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Size returns the frame size.
func (t *Ticker) Size() filter.Size { return t.opts.size }

// Orientation returns the configured orientation.
func (t *Ticker) Orientation() filter.Rotation { return t.opts.orientation }

// Facing returns the configured facing.
func (t *Ticker) Facing() Facing { return t.opts.facing }

// Frames returns the number of frames published.
func (t *Ticker) Frames() uint64 { return t.frames.Load() }

// Start publishes a frame into surf every 1/fps until Stop, ctx is done or
// a publish fails.
func (t *Ticker) Start(ctx context.Context, surf *ingest.Surface) error {
	done, err := t.begin()
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	t.mu.Lock()
	t.id = uuid.New().String()
	t.stop = stop
	t.mu.Unlock()

	log := t.opts.log().With("source", t.name, "session", t.ID())
	log.Info("capture: started", "width", t.opts.size.Width, "height", t.opts.size.Height, "fps", t.opts.fps)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		w, h := t.opts.size.Width, t.opts.size.Height
		pix := make([]byte, w*h*4)
		tick := time.NewTicker(t.opts.interval())
		defer tick.Stop()
		start := time.Now()
		for n := uint64(0); ; n++ {
			t.render(n, pix, w, h)
			err := surf.Publish(ingest.FrameBuffer{Pixels: pix, Width: w, Height: h, Timestamp: time.Since(start)})
			if err != nil {
				log.Warn("capture: publish failed", "err", err)
				t.end(fmt.Errorf("%w: %v", ErrLost, err))
				return
			}
			t.frames.Add(1)
			select {
			case <-stop:
				return
			case <-ctx.Done():
				t.end(nil)
				return
			case <-done:
				return
			case <-tick.C:
			}
		}
	}()
	return nil
}

// Stop stops the goroutine and waits for it.
func (t *Ticker) Stop() error {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	t.wg.Wait()
	if t.end(nil) {
		t.opts.log().Info("capture: stopped", "source", t.name, "frames", t.frames.Load())
	}
	return nil
}
